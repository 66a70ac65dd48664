package recorder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	xlog "go2tv.app/screenrec/internal/log"
	"go2tv.app/screenrec/internal/metrics"
)

var (
	errTrackAlreadyAdded = errors.New("muxer track already established")
	errMuxerNotStarted   = errors.New("sample dropped: muxer not started")
	errSampleBounds      = errors.New("sample range outside buffer")
)

// encoderStage owns a raw encoder, its input surface and the lazily created
// muxer. One goroutine drains encoder output while running is set.
type encoderStage struct {
	encoders    EncoderFactory
	muxers      MuxerFactory
	outputPath  string
	idleWait    time.Duration
	joinTimeout time.Duration
	log         zerolog.Logger

	enc     Encoder
	surface Surface

	running atomic.Bool
	done    chan struct{}

	mu    sync.Mutex
	muxer Muxer
	track int
}

func (s *encoderStage) configure(ctx context.Context, cfg EncoderConfig) (Surface, error) {
	enc, err := s.encoders.NewEncoder(ctx)
	if err != nil {
		return nil, fmt.Errorf("create encoder: %w", err)
	}
	s.enc = enc
	if err := enc.Configure(cfg); err != nil {
		return nil, fmt.Errorf("configure encoder: %w", err)
	}
	surface, err := enc.InputSurface()
	if err != nil {
		return nil, fmt.Errorf("create input surface: %w", err)
	}
	s.surface = surface
	return surface, nil
}

func (s *encoderStage) begin() error {
	if err := s.enc.Start(); err != nil {
		return fmt.Errorf("start encoder: %w", err)
	}
	s.running.Store(true)
	s.done = make(chan struct{})
	go s.drain(s.enc)
	return nil
}

func (s *encoderStage) halt() {
	s.running.Store(false)
}

// drain works on its own copy of the encoder handle so a teardown that
// outlives the join timeout cannot pull it out from under the loop.
func (s *encoderStage) drain(enc Encoder) {
	defer close(s.done)
	for s.running.Load() {
		worked, err := s.drainOnce(enc)
		if err != nil {
			metrics.IncDrainError(drainErrorKind(err))
			s.log.Warn().
				Err(err).
				Str(xlog.FieldEvent, "drain.transient_error").
				Msg("encoder drain iteration failed")
		}
		if !worked && s.idleWait > 0 {
			time.Sleep(s.idleWait)
		}
	}
	s.log.Debug().Str(xlog.FieldEvent, "drain.exited").Msg("drain loop exited")
}

// drainOnce polls the encoder once. It reports whether any output was
// handled.
func (s *encoderStage) drainOnce(enc Encoder) (bool, error) {
	out, err := enc.Dequeue()
	if err != nil {
		return false, fmt.Errorf("dequeue output: %w", err)
	}
	switch out.Kind {
	case OutputFormatChanged:
		return true, s.onFormatChanged(enc)
	case OutputBuffer:
		return true, s.onBuffer(enc, out)
	default:
		return false, nil
	}
}

func (s *encoderStage) onFormatChanged(enc Encoder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.muxer != nil {
		return errTrackAlreadyAdded
	}

	format, err := enc.OutputFormat()
	if err != nil {
		return fmt.Errorf("read output format: %w", err)
	}
	m, err := s.muxers.NewMuxer(s.outputPath)
	if err != nil {
		return fmt.Errorf("create muxer: %w", err)
	}
	track, err := m.AddTrack(format)
	if err != nil {
		return errors.Join(fmt.Errorf("add track: %w", err), m.Release())
	}
	if err := m.Start(); err != nil {
		return errors.Join(fmt.Errorf("start muxer: %w", err), m.Release())
	}
	s.muxer = m
	s.track = track

	s.log.Info().
		Str(xlog.FieldEvent, "drain.format_changed").
		Str(xlog.FieldCodec, format.MIME).
		Str(xlog.FieldResolution, fmt.Sprintf("%dx%d", format.Width, format.Height)).
		Str(xlog.FieldPath, s.outputPath).
		Msg("muxer started")
	return nil
}

func (s *encoderStage) onBuffer(enc Encoder, out Output) (err error) {
	defer func() {
		if rerr := enc.ReleaseOutput(out.Index); rerr != nil {
			err = errors.Join(err, fmt.Errorf("release output buffer %d: %w", out.Index, rerr))
		}
	}()

	if out.Info.Flags&FlagCodecConfig != 0 {
		return nil
	}
	start, end := out.Info.Offset, out.Info.Offset+out.Info.Size
	if start < 0 || out.Info.Size < 0 || end > len(out.Data) {
		return fmt.Errorf("%w: [%d,%d) of %d", errSampleBounds, start, end, len(out.Data))
	}
	if out.Info.Size == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.muxer == nil {
		return errMuxerNotStarted
	}
	if err := s.muxer.WriteSample(s.track, out.Data[start:end], out.Info); err != nil {
		return fmt.Errorf("write sample: %w", err)
	}
	metrics.ObserveSample(out.Info.Size)
	return nil
}

func (s *encoderStage) stopDrain() (bool, error) {
	if s.done == nil {
		return false, nil
	}
	s.running.Store(false)
	timeout := s.joinTimeout
	if timeout <= 0 {
		<-s.done
		return true, nil
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-s.done:
		return true, nil
	case <-timer.C:
		return true, ErrDrainJoinTimeout
	}
}

func (s *encoderStage) stopCodec() (bool, error) {
	if s.enc == nil {
		return false, nil
	}
	return true, s.enc.Stop()
}

func (s *encoderStage) releaseSurface() (bool, error) {
	if s.surface == nil {
		return false, nil
	}
	surface := s.surface
	s.surface = nil
	return true, surface.Close()
}

func (s *encoderStage) releaseCodec() (bool, error) {
	if s.enc == nil {
		return false, nil
	}
	enc := s.enc
	s.enc = nil
	return true, enc.Release()
}

func (s *encoderStage) releaseMuxer() (bool, error) {
	s.mu.Lock()
	m := s.muxer
	s.muxer = nil
	s.mu.Unlock()
	if m == nil {
		return false, nil
	}
	return true, errors.Join(m.Stop(), m.Release())
}

func drainErrorKind(err error) string {
	switch {
	case errors.Is(err, errTrackAlreadyAdded):
		return "duplicate_format"
	case errors.Is(err, errMuxerNotStarted):
		return "muxer_not_started"
	case errors.Is(err, errSampleBounds):
		return "sample_bounds"
	default:
		return "other"
	}
}
