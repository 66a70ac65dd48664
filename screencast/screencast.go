// Package screencast grants screen capture through the xdg-desktop-portal
// ScreenCast interface. It implements recorder.Authorizer.
package screencast

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	xlog "go2tv.app/screenrec/internal/log"
	"go2tv.app/screenrec/internal/xdgportal"
	"go2tv.app/screenrec/recorder"
)

const (
	// PixelFormatBGRA is the layout of frames delivered by the PipeWire stream.
	PixelFormatBGRA = "BGRA"

	defaultFrameRate = 60
	closeTimeout     = 3 * time.Second
)

var (
	ErrNoStreams         = errors.New("screen capture returned no streams")
	ErrInvalidOptions    = errors.New("invalid screen capture options")
	ErrConsumed          = errors.New("screen capture grant was already used")
	ErrUnknownResult     = errors.New("result was not produced by this authorizer")
	ErrUnknownRequest    = errors.New("capture request was not produced by this authorizer")
	ErrInvalidDimensions = errors.New("granted stream has no usable size")
)

// Portal opens screencast sessions. The default implementation talks to
// xdg-desktop-portal over the session bus.
type Portal interface {
	CreateSession(ctx context.Context) (PortalSession, error)
	AvailableCursorModes() (uint32, error)
}

// PortalSession is one portal screencast session.
type PortalSession interface {
	SelectSources(ctx context.Context, options *xdgportal.SelectSourcesOptions) error
	Start(ctx context.Context, parentWindow string) (*xdgportal.StartResult, error)
	OpenPipeWireRemote(ctx context.Context) (int, error)
	Close(ctx context.Context) error
}

type dbusPortal struct{}

func (dbusPortal) CreateSession(ctx context.Context) (PortalSession, error) {
	sess, err := xdgportal.CreateSession(ctx)
	if err != nil {
		return nil, err
	}
	return sess, nil
}

func (dbusPortal) AvailableCursorModes() (uint32, error) {
	return xdgportal.GetAvailableCursorModes()
}

// Options configures an Authorizer.
type Options struct {
	// StreamIndex selects the stream from the chooser result. Default is 0.
	StreamIndex int
	// CursorMode is "embedded", "hidden" or "metadata". Default is embedded.
	CursorMode string
	// AllowWindows lets the user pick single windows as well as monitors.
	AllowWindows bool
	ParentWindow string
	// FrameRate is the rate the PipeWire stream is asked for.
	FrameRate int
	Portal    Portal
	Logger    *zerolog.Logger
}

// Authorizer runs the portal permission flow.
type Authorizer struct {
	opts Options
	log  zerolog.Logger
}

var _ recorder.Authorizer = (*Authorizer)(nil)

// New validates opts and returns an Authorizer.
func New(opts Options) (*Authorizer, error) {
	if opts.StreamIndex < 0 {
		return nil, fmt.Errorf("%w: stream index must be >= 0", ErrInvalidOptions)
	}
	if _, err := ParseCursorMode(opts.CursorMode); err != nil {
		return nil, err
	}
	if opts.FrameRate <= 0 {
		opts.FrameRate = defaultFrameRate
	}
	if opts.Portal == nil {
		opts.Portal = dbusPortal{}
	}
	log := xlog.WithComponent("screencast")
	if opts.Logger != nil {
		log = *opts.Logger
	}
	return &Authorizer{opts: opts, log: log}, nil
}

// ParseCursorMode maps "embedded", "hidden" or "metadata" to a portal cursor
// mode. Empty selects embedded.
func ParseCursorMode(mode string) (uint32, error) {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "", "embedded":
		return xdgportal.CursorModeEmbedded, nil
	case "hidden":
		return xdgportal.CursorModeHidden, nil
	case "metadata":
		return xdgportal.CursorModeMetadata, nil
	default:
		return 0, fmt.Errorf("%w: unknown cursor mode %q", ErrInvalidOptions, mode)
	}
}

// cursorMode picks the requested mode when the portal offers it and falls
// back to hidden otherwise.
func (a *Authorizer) cursorMode() uint32 {
	want, _ := ParseCursorMode(a.opts.CursorMode)
	available, err := a.opts.Portal.AvailableCursorModes()
	if err != nil || available == 0 || available&want != 0 {
		return want
	}
	a.log.Debug().
		Str(xlog.FieldEvent, "screencast.cursor_fallback").
		Uint32("requested", want).
		Uint32("available", available).
		Msg("cursor mode not offered by portal")
	return xdgportal.CursorModeHidden
}

type captureRequest struct {
	sess PortalSession
}

// CreateCaptureRequest opens a portal session and selects the source types
// the chooser will offer.
func (a *Authorizer) CreateCaptureRequest(ctx context.Context) (recorder.CaptureRequest, error) {
	sess, err := a.opts.Portal.CreateSession(ctx)
	if err != nil {
		return nil, fmt.Errorf("create screencast session: %w", err)
	}

	types := xdgportal.SourceTypeMonitor
	if a.opts.AllowWindows {
		types |= xdgportal.SourceTypeWindow
	}
	err = sess.SelectSources(ctx, &xdgportal.SelectSourcesOptions{
		Types:      types,
		CursorMode: a.cursorMode(),
		Multiple:   a.opts.StreamIndex > 0,
	})
	if err != nil {
		closeSession(sess)
		return nil, fmt.Errorf("select screencast sources: %w", err)
	}
	return &captureRequest{sess: sess}, nil
}

// grant is the payload of a successful Result. It can be acquired once.
type grant struct {
	sess    PortalSession
	streams []xdgportal.Stream
	used    atomic.Bool
}

// Present shows the portal's source chooser and waits for the user.
func (a *Authorizer) Present(ctx context.Context, req recorder.CaptureRequest) (recorder.Result, error) {
	r, ok := req.(*captureRequest)
	if !ok || r == nil || r.sess == nil {
		return recorder.Result{Code: recorder.ResultEnded, Err: ErrUnknownRequest}, ErrUnknownRequest
	}

	started, err := r.sess.Start(ctx, a.opts.ParentWindow)
	switch {
	case errors.Is(err, xdgportal.ErrCancelled):
		closeSession(r.sess)
		a.log.Info().Str(xlog.FieldEvent, "screencast.cancelled").Msg("user cancelled screen capture")
		return recorder.Result{Code: recorder.ResultCancelled}, nil
	case errors.Is(err, xdgportal.ErrEnded):
		closeSession(r.sess)
		return recorder.Result{Code: recorder.ResultEnded}, nil
	case err != nil:
		closeSession(r.sess)
		return recorder.Result{Code: recorder.ResultEnded, Err: err}, err
	}

	if len(started.Streams) == 0 {
		closeSession(r.sess)
		return recorder.Result{Code: recorder.ResultEnded, Err: ErrNoStreams}, ErrNoStreams
	}
	a.log.Debug().
		Str(xlog.FieldEvent, "screencast.granted").
		Int("streams", len(started.Streams)).
		Msg("screen capture granted")
	return recorder.Result{
		Code:    recorder.ResultOK,
		Payload: &grant{sess: r.sess, streams: started.Streams},
	}, nil
}

// AcquireSession selects the configured stream and opens its PipeWire remote.
func (a *Authorizer) AcquireSession(ctx context.Context, res recorder.Result) (recorder.Authorization, error) {
	if !res.OK() {
		return nil, recorder.ErrAuthorizationDenied
	}
	g, ok := res.Payload.(*grant)
	if !ok || g == nil {
		return nil, ErrUnknownResult
	}
	if g.used.Swap(true) {
		return nil, ErrConsumed
	}

	if a.opts.StreamIndex >= len(g.streams) {
		closeSession(g.sess)
		return nil, fmt.Errorf("%w: stream index %d out of range (streams=%d)", ErrInvalidOptions, a.opts.StreamIndex, len(g.streams))
	}
	selected := g.streams[a.opts.StreamIndex]
	if selected.Size[0] <= 0 || selected.Size[1] <= 0 {
		closeSession(g.sess)
		return nil, fmt.Errorf("%w: %dx%d", ErrInvalidDimensions, selected.Size[0], selected.Size[1])
	}

	fd, err := g.sess.OpenPipeWireRemote(ctx)
	if err != nil {
		closeSession(g.sess)
		return nil, fmt.Errorf("open pipewire remote: %w", err)
	}

	a.log.Info().
		Str(xlog.FieldEvent, "screencast.acquired").
		Uint32(xlog.FieldNodeID, selected.NodeID).
		Str(xlog.FieldResolution, fmt.Sprintf("%dx%d", selected.Size[0], selected.Size[1])).
		Msg("screen capture session acquired")
	return &Authorization{
		sess:      g.sess,
		stream:    selected,
		fd:        fd,
		frameRate: a.opts.FrameRate,
	}, nil
}

// StreamSize reports the size of the granted stream at index, the same
// stream AcquireSession picks for Options.StreamIndex. Hosts use it when no
// display metrics are available.
func StreamSize(res recorder.Result, index int) (width, height int, ok bool) {
	g, isGrant := res.Payload.(*grant)
	if !isGrant || g == nil || index < 0 || index >= len(g.streams) {
		return 0, 0, false
	}
	s := g.streams[index].Size
	if s[0] <= 0 || s[1] <= 0 {
		return 0, 0, false
	}
	return int(s[0]), int(s[1]), true
}

// Authorization is an acquired portal session with its PipeWire remote.
type Authorization struct {
	sess      PortalSession
	stream    xdgportal.Stream
	fd        int
	frameRate int

	once sync.Once
	err  error
}

var _ recorder.Authorization = (*Authorization)(nil)

func (a *Authorization) Source() recorder.Source {
	return recorder.Source{
		Width:       int(a.stream.Size[0]),
		Height:      int(a.stream.Size[1]),
		FrameRate:   a.frameRate,
		PixelFormat: PixelFormatBGRA,
	}
}

// PipeWireRemote returns the remote descriptor and the node to connect to.
// The descriptor stays owned by the Authorization.
func (a *Authorization) PipeWireRemote() (fd int, nodeID uint32) {
	return a.fd, a.stream.NodeID
}

// Stop closes the PipeWire remote and the portal session.
func (a *Authorization) Stop() error {
	a.once.Do(func() {
		var fdErr error
		if a.fd >= 0 {
			fdErr = os.NewFile(uintptr(a.fd), "pipewire-remote").Close()
		}
		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		a.err = errors.Join(fdErr, a.sess.Close(ctx))
	})
	return a.err
}

func closeSession(sess PortalSession) {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	_ = sess.Close(ctx)
}
