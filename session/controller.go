// Package session owns the single capture pipeline a host drives: it checks
// that only one recording runs at a time, resolves the video spec and hands
// back the finished file.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	xlog "go2tv.app/screenrec/internal/log"
	"go2tv.app/screenrec/quality"
	"go2tv.app/screenrec/recorder"
)

var (
	// ErrAlreadyRunning rejects a request while a session is pending or live.
	ErrAlreadyRunning = errors.New("a capture session is already running")
	// ErrNoSession is returned by Start when RequestCapture was not called.
	ErrNoSession = errors.New("no capture session has been requested")
)

// Recording describes one finalized capture.
type Recording struct {
	SessionID string
	Path      string
	Variant   recorder.Variant
	Spec      quality.VideoSpec
	StartedAt time.Time
	StoppedAt time.Time
}

// Config configures a Controller.
type Config struct {
	Pipeline recorder.Config
	// OnFinalized is called after Stop produced a file.
	OnFinalized func(Recording)
	Now         func() time.Time
	Logger      *zerolog.Logger
}

// Controller holds at most one pipeline at a time.
type Controller struct {
	cfg Config
	log zerolog.Logger

	mu      sync.Mutex
	current *entry
}

type entry struct {
	id        string
	pipeline  *recorder.Pipeline
	startedAt time.Time
}

// NewController returns a Controller with no session.
func NewController(cfg Config) *Controller {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	log := xlog.WithComponent("session")
	if cfg.Logger != nil {
		log = *cfg.Logger
	}
	return &Controller{cfg: cfg, log: log}
}

// RequestCapture opens a new session and shows the permission dialog. The
// dialog's answer is passed to onResult; feed it to Start. It returns the new
// session id.
func (c *Controller) RequestCapture(ctx context.Context, onResult func(recorder.Result)) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.liveLocked() {
		c.log.Warn().
			Str(xlog.FieldEvent, "session.rejected").
			Str(xlog.FieldSessionID, c.current.id).
			Msg("capture already started")
		return "", ErrAlreadyRunning
	}

	id := uuid.NewString()
	log := c.log.With().Str(xlog.FieldSessionID, id).Logger()
	pcfg := c.cfg.Pipeline
	pcfg.Logger = &log
	p, err := recorder.New(pcfg)
	if err != nil {
		return "", err
	}
	if err := p.RequestAuthorization(ctx, onResult); err != nil {
		return "", err
	}
	c.current = &entry{id: id, pipeline: p}
	log.Info().Str(xlog.FieldEvent, "session.requested").Msg("screen capture requested")
	return id, nil
}

// Start resolves the video spec from sel and display and starts the pending
// session with the authorization result. A session that is already starting,
// recording or stopping is left untouched and ErrAlreadyRunning is returned.
// On any other error the pending session is discarded.
func (c *Controller) Start(ctx context.Context, sel quality.Selection, display quality.DisplayMetrics, res recorder.Result) (quality.VideoSpec, error) {
	c.mu.Lock()
	cur := c.current
	c.mu.Unlock()
	if cur == nil {
		return quality.VideoSpec{}, ErrNoSession
	}
	switch state := cur.pipeline.State(); {
	case state.Live():
		c.rejectStart(cur, state)
		return quality.VideoSpec{}, ErrAlreadyRunning
	case state != recorder.StateAwaitingAuthorization:
		return quality.VideoSpec{}, ErrNoSession
	}

	now := c.cfg.Now()
	spec, err := quality.Resolve(sel, display, now)
	if err != nil {
		if derr := cur.pipeline.Discard(ctx, res); derr != nil {
			c.log.Warn().Err(derr).Str(xlog.FieldSessionID, cur.id).Msg("release unused authorization")
		}
		c.dropUnlessLive(cur)
		return quality.VideoSpec{}, err
	}

	if err := cur.pipeline.Start(ctx, spec, res); err != nil {
		if state := cur.pipeline.State(); state.Live() || errors.Is(err, recorder.ErrAlreadyActive) {
			c.rejectStart(cur, state)
			return quality.VideoSpec{}, ErrAlreadyRunning
		}
		c.dropUnlessLive(cur)
		return quality.VideoSpec{}, fmt.Errorf("start session %s: %w", cur.id, err)
	}

	c.mu.Lock()
	cur.startedAt = now
	c.mu.Unlock()
	return spec, nil
}

func (c *Controller) rejectStart(cur *entry, state recorder.State) {
	c.log.Warn().
		Str(xlog.FieldEvent, "session.start_rejected").
		Str(xlog.FieldSessionID, cur.id).
		Str("state", string(state)).
		Msg("capture already started")
}

// Stop stops the current session and returns the finalized recording. With
// no live session it returns a zero Recording and no error.
func (c *Controller) Stop(ctx context.Context) (Recording, error) {
	c.mu.Lock()
	cur := c.current
	c.mu.Unlock()
	if cur == nil {
		return Recording{}, nil
	}

	path, err := cur.pipeline.Stop(ctx)
	if err != nil {
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			return Recording{}, err
		}
		c.drop(cur)
		return Recording{}, fmt.Errorf("stop session %s: %w", cur.id, err)
	}
	if path == "" {
		c.dropUnlessLive(cur)
		return Recording{}, nil
	}

	c.mu.Lock()
	rec := Recording{
		SessionID: cur.id,
		Path:      path,
		Variant:   cur.pipeline.Variant(),
		Spec:      cur.pipeline.Spec(),
		StartedAt: cur.startedAt,
		StoppedAt: c.cfg.Now(),
	}
	c.mu.Unlock()
	c.drop(cur)

	c.log.Info().
		Str(xlog.FieldEvent, "session.finalized").
		Str(xlog.FieldSessionID, rec.SessionID).
		Str(xlog.FieldPath, rec.Path).
		Msg("recording finalized")
	if c.cfg.OnFinalized != nil {
		c.cfg.OnFinalized(rec)
	}
	return rec, nil
}

// State reports the current session's pipeline state, or Idle.
func (c *Controller) State() recorder.State {
	c.mu.Lock()
	cur := c.current
	c.mu.Unlock()
	if cur == nil {
		return recorder.StateIdle
	}
	return cur.pipeline.State()
}

// Running reports whether a session is starting or recording.
func (c *Controller) Running() bool {
	s := c.State()
	return s == recorder.StateStarting || s == recorder.StateActive
}

// SessionID returns the id of the current session, if any.
func (c *Controller) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return ""
	}
	return c.current.id
}

func (c *Controller) liveLocked() bool {
	if c.current == nil {
		return false
	}
	s := c.current.pipeline.State()
	return s == recorder.StateAwaitingAuthorization || s.Live()
}

// dropUnlessLive forgets cur once its pipeline no longer holds platform
// handles. A concurrent Start or Stop that owns the pipeline keeps it.
func (c *Controller) dropUnlessLive(cur *entry) {
	if cur.pipeline.State().Live() {
		return
	}
	c.drop(cur)
}

// drop forgets cur unless another session already replaced it.
func (c *Controller) drop(cur *entry) {
	c.mu.Lock()
	if c.current == cur {
		c.current = nil
	}
	c.mu.Unlock()
}
