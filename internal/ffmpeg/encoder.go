package ffmpeg

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	xlog "go2tv.app/screenrec/internal/log"
	"go2tv.app/screenrec/recorder"
)

// Encoder runs ffmpeg as a raw H.264 encoder. Mirrored frames are written to
// its stdin; access units read from stdout are handed out through the
// polled Dequeue interface.
type Encoder struct {
	opts Options
	plan Plan
	log  zerolog.Logger

	cfg  recorder.EncoderConfig
	proc *process

	units chan *accessUnit
	quit  chan struct{}
	// readErr is set before units is closed.
	readErr error

	mu        sync.Mutex
	format    *recorder.Format
	reported  bool
	pending   []recorder.Output
	nextIndex int
	inFlight  map[int]struct{}
	samples   int64
	exitSeen  bool
	released  bool
	closeQuit sync.Once
}

var _ recorder.Encoder = (*Encoder)(nil)

var errMissingParameterSets = errors.New("access unit before parameter sets dropped")

func newEncoder(opts Options, plan Plan, log zerolog.Logger) *Encoder {
	return &Encoder{
		opts:     opts,
		plan:     plan,
		log:      log.With().Str(xlog.FieldEncoder, plan.Label).Logger(),
		units:    make(chan *accessUnit, defaultUnitQueue),
		quit:     make(chan struct{}),
		inFlight: make(map[int]struct{}),
	}
}

func (e *Encoder) Configure(cfg recorder.EncoderConfig) error {
	if e.proc != nil {
		return ErrAlreadyStarted
	}
	if err := validateConfig(cfg); err != nil {
		return err
	}
	proc, err := newProcess(e.opts.Path, encodeArgs(e.plan, cfg), e.log)
	if err != nil {
		return err
	}
	e.cfg = cfg
	e.proc = proc
	return nil
}

// InputSurface returns ffmpeg's stdin. Frames must be whole raw frames in the
// source pixel format.
func (e *Encoder) InputSurface() (recorder.Surface, error) {
	if e.proc == nil {
		return nil, ErrNotConfigured
	}
	return e.proc, nil
}

func (e *Encoder) Start() error {
	if e.proc == nil {
		return ErrNotConfigured
	}
	stdout, err := e.proc.cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("ffmpeg stdout: %w", err)
	}
	if err := e.proc.start(e.opts.StartupWindow, func() { e.consume(stdout) }); err != nil {
		return err
	}
	e.log.Info().
		Str(xlog.FieldEvent, "encoder.started").
		Str(xlog.FieldResolution, e.cfg.Spec.Resolution()).
		Int(xlog.FieldBitrate, e.cfg.Spec.BitRate).
		Int(xlog.FieldFPS, e.cfg.Spec.FrameRate).
		Msg("ffmpeg encoder started")
	return nil
}

// consume feeds access units into units until quit, then discards the rest
// of the stream so ffmpeg never blocks on a full pipe.
func (e *Encoder) consume(r io.Reader) {
	err := readAccessUnits(r, func(au *accessUnit) bool {
		select {
		case e.units <- au:
			return true
		case <-e.quit:
			return false
		}
	})
	_, _ = io.Copy(io.Discard, r)
	e.readErr = err
	close(e.units)
}

// Dequeue returns, in order: one format change once parameter sets are
// seen, a codec config buffer, then one buffer per access unit.
func (e *Encoder) Dequeue() (recorder.Output, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.pending) == 0 {
		if err := e.fill(); err != nil {
			return recorder.Output{Kind: recorder.OutputTryAgain}, err
		}
	}
	if len(e.pending) == 0 {
		return recorder.Output{Kind: recorder.OutputTryAgain}, nil
	}
	out := e.pending[0]
	e.pending = e.pending[1:]
	if out.Kind == recorder.OutputBuffer {
		e.inFlight[out.Index] = struct{}{}
	}
	return out, nil
}

func (e *Encoder) fill() error {
	var au *accessUnit
	var ok bool
	select {
	case au, ok = <-e.units:
	default:
		return nil
	}
	if !ok {
		if e.exitSeen {
			return nil
		}
		e.exitSeen = true
		if e.readErr != nil {
			return fmt.Errorf("%w: read output: %v", ErrExited, e.readErr)
		}
		return nil
	}

	if !e.reported {
		if len(au.sps) == 0 || len(au.pps) == 0 {
			return errMissingParameterSets
		}
		e.format = &recorder.Format{
			MIME:      recorder.MIMEVideoAVC,
			Width:     e.cfg.Spec.Width,
			Height:    e.cfg.Spec.Height,
			FrameRate: e.cfg.Spec.FrameRate,
			BitRate:   e.cfg.Spec.BitRate,
			SPS:       au.sps,
			PPS:       au.pps,
		}
		e.reported = true
		e.pending = append(e.pending,
			recorder.Output{Kind: recorder.OutputFormatChanged},
			e.buffer(parameterSets(au), 0, recorder.FlagCodecConfig),
		)
	}

	pts := time.Duration(e.samples) * time.Second / time.Duration(e.cfg.Spec.FrameRate)
	e.samples++
	var flags recorder.BufferFlags
	if au.keyFrame {
		flags |= recorder.FlagKeyFrame
	}
	e.pending = append(e.pending, e.buffer(au.annexB(), pts, flags))
	return nil
}

func (e *Encoder) buffer(data []byte, pts time.Duration, flags recorder.BufferFlags) recorder.Output {
	idx := e.nextIndex
	e.nextIndex++
	return recorder.Output{
		Kind:  recorder.OutputBuffer,
		Index: idx,
		Data:  data,
		Info: recorder.BufferInfo{
			Size:             len(data),
			PresentationTime: pts,
			Flags:            flags,
		},
	}
}

func parameterSets(au *accessUnit) []byte {
	var b bytes.Buffer
	for _, n := range append(append([][]byte(nil), au.sps...), au.pps...) {
		b.Write(startCode)
		b.Write(n)
	}
	return b.Bytes()
}

func (e *Encoder) OutputFormat() (recorder.Format, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.format == nil {
		return recorder.Format{}, ErrFormatUnknown
	}
	return *e.format, nil
}

func (e *Encoder) ReleaseOutput(index int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.inFlight[index]; !ok {
		return fmt.Errorf("%w: %d", ErrUnknownBuffer, index)
	}
	delete(e.inFlight, index)
	return nil
}

// Stop ends the input and waits for ffmpeg to exit. Output produced after
// Stop is discarded.
func (e *Encoder) Stop() error {
	if e.proc == nil {
		return ErrNotConfigured
	}
	e.closeQuit.Do(func() { close(e.quit) })
	return e.proc.stop(e.opts.StopGrace)
}

// Release kills ffmpeg if it is still running.
func (e *Encoder) Release() error {
	e.mu.Lock()
	if e.released {
		e.mu.Unlock()
		return nil
	}
	e.released = true
	e.pending = nil
	e.mu.Unlock()

	e.closeQuit.Do(func() { close(e.quit) })
	if e.proc == nil {
		return nil
	}
	return e.proc.kill()
}
