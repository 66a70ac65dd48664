package recorder

import (
	"errors"

	xlog "go2tv.app/screenrec/internal/log"
	"go2tv.app/screenrec/internal/metrics"
)

// Teardown step names, in execution order.
const (
	StepStopDrain         = "stop_drain"
	StepStopEncoder       = "stop_encoder"
	StepReleaseMirror     = "release_mirror"
	StepReleaseSurface    = "release_input_surface"
	StepReleaseEncoder    = "release_encoder"
	StepReleaseMuxer      = "release_muxer"
	StepStopAuthorization = "stop_authorization"
)

// StepResult records the outcome of one teardown step. Skipped steps had no
// handle to act on.
type StepResult struct {
	Step    string
	Skipped bool
	Err     error
}

// TeardownReport lists every step of a teardown in order.
type TeardownReport []StepResult

// Failed returns the steps that returned an error.
func (r TeardownReport) Failed() []StepResult {
	var out []StepResult
	for _, s := range r {
		if s.Err != nil {
			out = append(out, s)
		}
	}
	return out
}

// Err joins every step failure, or returns nil.
func (r TeardownReport) Err() error {
	var errs []error
	for _, s := range r.Failed() {
		errs = append(errs, errors.New(s.Step+": "+s.Err.Error()))
	}
	return errors.Join(errs...)
}

type teardownStep struct {
	name string
	run  func() (bool, error)
}

// teardown releases every handle in dependency order. A failing step never
// prevents the following ones from running. Only the first call does work.
func (p *Pipeline) teardown() TeardownReport {
	if p.torn {
		return nil
	}
	p.torn = true

	st := p.stage
	if st == nil {
		st = &recorderStage{}
	}
	steps := []teardownStep{
		{StepStopDrain, st.stopDrain},
		{StepStopEncoder, st.stopCodec},
		{StepReleaseMirror, p.releaseMirror},
		{StepReleaseSurface, st.releaseSurface},
		{StepReleaseEncoder, st.releaseCodec},
		{StepReleaseMuxer, st.releaseMuxer},
		{StepStopAuthorization, p.releaseAuthorization},
	}

	report := make(TeardownReport, 0, len(steps))
	for _, step := range steps {
		ran, err := runStep(step.run)
		report = append(report, StepResult{Step: step.name, Skipped: !ran, Err: err})
		if err != nil {
			metrics.IncTeardownFailure(step.name)
			p.log.Warn().
				Err(err).
				Str(xlog.FieldEvent, "teardown.step_failed").
				Str(xlog.FieldStep, step.name).
				Msg("release step failed")
		}
	}
	p.report = report
	return report
}

// runStep converts a panic from a platform handle into a step error.
func runStep(fn func() (bool, error)) (ran bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			ran = true
			err = &panicError{value: r}
		}
	}()
	return fn()
}

type panicError struct{ value any }

func (e *panicError) Error() string {
	if err, ok := e.value.(error); ok {
		return "panic: " + err.Error()
	}
	if s, ok := e.value.(string); ok {
		return "panic: " + s
	}
	return "panic during release"
}

func (p *Pipeline) releaseMirror() (bool, error) {
	if p.mirror == nil {
		return false, nil
	}
	m := p.mirror
	p.mirror = nil
	return true, m.Close()
}

func (p *Pipeline) releaseAuthorization() (bool, error) {
	if p.auth == nil {
		return false, nil
	}
	a := p.auth
	p.auth = nil
	return true, a.Stop()
}
