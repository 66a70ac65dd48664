// Package recorder implements the capture pipeline: it binds a granted screen
// capture authorization to a mirroring surface, feeds the mirrored frames to
// an encode stage and finalizes an MPEG-4 file on stop.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	xlog "go2tv.app/screenrec/internal/log"
	"go2tv.app/screenrec/internal/metrics"
	"go2tv.app/screenrec/quality"
)

const (
	defaultDrainIdleWait    = 2 * time.Millisecond
	defaultDrainJoinTimeout = 5 * time.Second
	defaultIFrameInterval   = time.Second
)

// Config wires a pipeline to its platform collaborators. Encoders and Muxers
// are required for VariantEncoder, Recorders for VariantRecorder.
type Config struct {
	Variant    Variant
	Authorizer Authorizer
	Mirrors    MirrorFactory
	Encoders   EncoderFactory
	Muxers     MuxerFactory
	Recorders  RecorderFactory

	// IncludeAudio adds a microphone track; honoured by VariantRecorder only.
	IncludeAudio   bool
	IFrameInterval time.Duration
	// DrainIdleWait is slept after a poll that returned no output.
	DrainIdleWait time.Duration
	// DrainJoinTimeout bounds how long Stop waits for the drain loop.
	// Negative waits forever.
	DrainJoinTimeout time.Duration

	Logger *zerolog.Logger
}

func normalizeConfig(cfg Config) (Config, error) {
	if cfg.Variant == "" {
		cfg.Variant = DefaultVariant
	}
	if cfg.Authorizer == nil {
		return cfg, errors.New("recorder: authorizer is required")
	}
	if cfg.Mirrors == nil {
		return cfg, errors.New("recorder: mirror factory is required")
	}
	switch cfg.Variant {
	case VariantEncoder:
		if cfg.Encoders == nil || cfg.Muxers == nil {
			return cfg, errors.New("recorder: encoder variant needs encoder and muxer factories")
		}
	case VariantRecorder:
		if cfg.Recorders == nil {
			return cfg, errors.New("recorder: recorder variant needs a recorder factory")
		}
	default:
		return cfg, fmt.Errorf("recorder: unknown variant %q", cfg.Variant)
	}
	if cfg.IFrameInterval <= 0 {
		cfg.IFrameInterval = defaultIFrameInterval
	}
	if cfg.DrainIdleWait == 0 {
		cfg.DrainIdleWait = defaultDrainIdleWait
	}
	if cfg.DrainJoinTimeout == 0 {
		cfg.DrainJoinTimeout = defaultDrainJoinTimeout
	} else if cfg.DrainJoinTimeout < 0 {
		cfg.DrainJoinTimeout = 0
	}
	if cfg.Logger == nil {
		l := xlog.WithComponent("recorder")
		cfg.Logger = &l
	}
	return cfg, nil
}

// Pipeline is one capture session from authorization to finalized file.
// A Pipeline is single use.
type Pipeline struct {
	cfg Config
	log zerolog.Logger

	mu        sync.Mutex
	state     State
	spec      quality.VideoSpec
	startDone chan struct{}
	activeAt  time.Time

	cancelRequested atomic.Bool

	// Handles below are only touched by the goroutine running Start or,
	// once Start has returned, by the single caller that won Stop.
	auth   Authorization
	mirror Mirror
	stage  stage
	torn   bool
	report TeardownReport
}

// New validates cfg and returns an Idle pipeline.
func New(cfg Config) (*Pipeline, error) {
	cfg, err := normalizeConfig(cfg)
	if err != nil {
		return nil, err
	}
	return &Pipeline{
		cfg:   cfg,
		log:   cfg.Logger.With().Str(xlog.FieldVariant, string(cfg.Variant)).Logger(),
		state: StateIdle,
	}, nil
}

// Variant reports the encode stage this pipeline was configured with.
func (p *Pipeline) Variant() Variant {
	return p.cfg.Variant
}

// State returns the current lifecycle state.
func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Spec returns the video spec the pipeline was started with.
func (p *Pipeline) Spec() quality.VideoSpec {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.spec
}

// TeardownReport returns the per-step outcome of the last teardown.
func (p *Pipeline) TeardownReport() TeardownReport {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append(TeardownReport(nil), p.report...)
}

func (p *Pipeline) setStateLocked(next State) {
	prev := p.state
	p.state = next
	p.log.Debug().
		Str(xlog.FieldEvent, "pipeline.state").
		Str(xlog.FieldOldState, string(prev)).
		Str(xlog.FieldNewState, string(next)).
		Msg("pipeline state changed")
}

// RequestAuthorization asks the platform for capture permission. It returns
// immediately; the user's answer is delivered to onResult from another
// goroutine.
func (p *Pipeline) RequestAuthorization(ctx context.Context, onResult func(Result)) error {
	if onResult == nil {
		return errors.New("recorder: result callback is required")
	}
	p.mu.Lock()
	if p.state != StateIdle {
		state := p.state
		p.mu.Unlock()
		return fmt.Errorf("%w: request authorization from %s", ErrInvalidState, state)
	}
	p.setStateLocked(StateAwaitingAuthorization)
	p.mu.Unlock()

	go func() {
		req, err := p.cfg.Authorizer.CreateCaptureRequest(ctx)
		if err != nil {
			onResult(Result{Code: ResultEnded, Err: err})
			return
		}
		res, err := p.cfg.Authorizer.Present(ctx, req)
		if err != nil && res.Err == nil {
			res.Err = err
		}
		onResult(res)
	}()
	return nil
}

// Start brings the pipeline from AwaitingAuthorization to Active. Any
// failure tears down everything acquired so far and leaves the pipeline
// Failed; the caller must then discard it.
func (p *Pipeline) Start(ctx context.Context, spec quality.VideoSpec, res Result) error {
	p.mu.Lock()
	switch p.state {
	case StateStarting, StateActive:
		p.mu.Unlock()
		return ErrAlreadyActive
	case StateAwaitingAuthorization:
	default:
		state := p.state
		p.mu.Unlock()
		return fmt.Errorf("%w: start from %s", ErrInvalidState, state)
	}
	if !res.OK() {
		p.setStateLocked(StateFailed)
		p.mu.Unlock()
		metrics.IncSession(string(p.cfg.Variant), "denied")
		p.log.Info().
			Str(xlog.FieldEvent, "pipeline.authorization_denied").
			Uint32("code", uint32(res.Code)).
			AnErr("cause", res.Err).
			Msg("user cancelled screen capture")
		if res.Err != nil {
			return fmt.Errorf("%w: %w", ErrAuthorizationDenied, res.Err)
		}
		return ErrAuthorizationDenied
	}
	p.spec = spec
	p.startDone = make(chan struct{})
	done := p.startDone
	p.setStateLocked(StateStarting)
	p.mu.Unlock()
	defer close(done)

	err := p.setup(ctx, spec, res)
	if err == nil && p.cancelRequested.Load() {
		err = ErrStartCancelled
	}
	if err != nil {
		report := p.teardown()
		p.mu.Lock()
		p.setStateLocked(StateFailed)
		p.mu.Unlock()
		metrics.IncSession(string(p.cfg.Variant), "failed")
		p.log.Error().
			Err(err).
			Str(xlog.FieldEvent, "pipeline.start_failed").
			Int("teardown_failures", len(report.Failed())).
			Msg("capture pipeline failed to start")
		return err
	}

	p.mu.Lock()
	p.activeAt = time.Now()
	p.setStateLocked(StateActive)
	p.mu.Unlock()
	metrics.IncSession(string(p.cfg.Variant), "started")
	p.log.Info().
		Str(xlog.FieldEvent, "pipeline.started").
		Str(xlog.FieldResolution, spec.Resolution()).
		Int(xlog.FieldBitrate, spec.BitRate).
		Int(xlog.FieldFPS, spec.FrameRate).
		Int("density_dpi", spec.DensityDPI).
		Str(xlog.FieldPath, spec.OutputPath).
		Msg("capture pipeline active")
	return nil
}

func (p *Pipeline) setup(ctx context.Context, spec quality.VideoSpec, res Result) error {
	auth, err := p.cfg.Authorizer.AcquireSession(ctx, res)
	if err != nil {
		if errors.Is(err, ErrAuthorizationDenied) {
			return err
		}
		return fmt.Errorf("%w: acquire capture session: %w", ErrStartFailure, err)
	}
	p.auth = auth
	if p.cancelRequested.Load() {
		return ErrStartCancelled
	}

	st := newStage(p.cfg, spec, p.log)
	p.stage = st
	surface, err := st.configure(ctx, EncoderConfig{
		Spec:           spec,
		Source:         auth.Source(),
		IFrameInterval: p.cfg.IFrameInterval,
		IncludeAudio:   p.cfg.IncludeAudio && p.cfg.Variant == VariantRecorder,
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStartFailure, err)
	}
	if p.cancelRequested.Load() {
		return ErrStartCancelled
	}

	mirror, err := p.cfg.Mirrors.CreateMirror(ctx, auth, spec, surface)
	if err != nil {
		return fmt.Errorf("%w: create mirror: %w", ErrStartFailure, err)
	}
	p.mirror = mirror

	if err := st.begin(); err != nil {
		return fmt.Errorf("%w: %w", ErrStartFailure, err)
	}
	if err := mirror.Start(); err != nil {
		return fmt.Errorf("%w: start mirror: %w", ErrStartFailure, err)
	}
	return nil
}

// Stop ends an Active session, or cancels one that is still Starting, and
// returns the finalized output path. Calling Stop on a pipeline that is
// already stopping or stopped does nothing. Stop may be called from any
// goroutine.
func (p *Pipeline) Stop(ctx context.Context) (string, error) {
	p.mu.Lock()
	if p.state == StateStarting {
		p.cancelRequested.Store(true)
		done := p.startDone
		p.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return "", ctx.Err()
		}
		p.mu.Lock()
	}
	if p.state != StateActive {
		state := p.state
		path := p.spec.OutputPath
		p.mu.Unlock()
		if state == StateFinalized {
			return path, nil
		}
		return "", nil
	}
	p.setStateLocked(StateStopping)
	activeAt := p.activeAt
	p.mu.Unlock()

	p.stage.halt()
	report := p.teardown()
	metrics.SessionDuration.WithLabelValues(string(p.cfg.Variant)).Observe(time.Since(activeAt).Seconds())

	path := p.spec.OutputPath
	outErr := checkOutput(path)

	p.mu.Lock()
	if outErr != nil {
		p.setStateLocked(StateFailed)
	} else {
		p.setStateLocked(StateFinalized)
	}
	p.mu.Unlock()

	evt := p.log.Info()
	if outErr != nil {
		evt = p.log.Error().Err(outErr)
	}
	evt.Str(xlog.FieldEvent, "pipeline.stopped").
		Str(xlog.FieldPath, path).
		Int("teardown_failures", len(report.Failed())).
		Msg("capture pipeline stopped")

	if outErr != nil {
		return "", outErr
	}
	return path, nil
}

func checkOutput(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrNoOutput, err)
	}
	if info.IsDir() || info.Size() == 0 {
		return fmt.Errorf("%w: %s is empty", ErrNoOutput, path)
	}
	return nil
}

// Discard abandons a pipeline that is still awaiting authorization. A granted
// result is acquired and its session stopped straight away so the platform
// grant does not outlive the pipeline.
func (p *Pipeline) Discard(ctx context.Context, res Result) error {
	p.mu.Lock()
	if p.state != StateAwaitingAuthorization {
		p.mu.Unlock()
		return nil
	}
	p.setStateLocked(StateFailed)
	p.mu.Unlock()

	if !res.OK() {
		return nil
	}
	auth, err := p.cfg.Authorizer.AcquireSession(ctx, res)
	if err != nil {
		return fmt.Errorf("release unused authorization: %w", err)
	}
	return auth.Stop()
}
