// Package capture mirrors a granted screencast stream into an encoder input
// surface. It implements recorder.MirrorFactory.
package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	xlog "go2tv.app/screenrec/internal/log"
	"go2tv.app/screenrec/quality"
	"go2tv.app/screenrec/recorder"
)

const (
	// BytesPerPixel of the BGRA frames delivered by the stream.
	BytesPerPixel = 4

	defaultVideoQueue = 4
)

var (
	ErrNotImplemented = errors.New("screen capture backend is not implemented on this platform")
	ErrNoRemote       = errors.New("authorization does not expose a pipewire remote")
	ErrInvalidOptions = errors.New("invalid screen capture options")
)

// PipeWireSource is implemented by authorizations that can hand out a
// PipeWire remote.
type PipeWireSource interface {
	PipeWireRemote() (fd int, nodeID uint32)
}

// FrameStream yields raw frames once started.
type FrameStream interface {
	io.Reader
	Start()
	Close() error
}

// StreamRequest describes the stream a Mirror needs.
type StreamRequest struct {
	FD        int
	NodeID    uint32
	Width     int
	Height    int
	FrameRate int
}

// Opener connects to the frame source. The default uses libpipewire.
type Opener interface {
	OpenStream(req StreamRequest) (FrameStream, error)
}

// Options configures a Factory.
type Options struct {
	// QueueSize is the number of frames buffered between the stream and the
	// surface. When full the oldest frame is dropped.
	QueueSize int
	// FirstFrameTimeout bounds how long Start waits for the first frame.
	FirstFrameTimeout time.Duration
	Opener            Opener
	Logger            *zerolog.Logger
}

// Factory creates mirrors bound to screencast authorizations.
type Factory struct {
	opts Options
	log  zerolog.Logger
}

var _ recorder.MirrorFactory = (*Factory)(nil)

// NewFactory returns a Factory using the platform frame source unless
// opts.Opener is set.
func NewFactory(opts Options) *Factory {
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultVideoQueue
	}
	if opts.FirstFrameTimeout <= 0 {
		opts.FirstFrameTimeout = defaultFirstFrameTimeout
	}
	log := xlog.WithComponent("capture")
	if opts.Logger != nil {
		log = *opts.Logger
	}
	if opts.Opener == nil {
		opts.Opener = platformOpener{log: log}
	}
	return &Factory{opts: opts, log: log}
}

// CreateMirror connects a frame stream for auth. Frames flow into surface
// once the returned mirror is started.
func (f *Factory) CreateMirror(_ context.Context, auth recorder.Authorization, spec quality.VideoSpec, surface recorder.Surface) (recorder.Mirror, error) {
	pw, ok := auth.(PipeWireSource)
	if !ok {
		return nil, ErrNoRemote
	}
	if surface == nil {
		return nil, fmt.Errorf("%w: nil surface", ErrInvalidOptions)
	}
	src := auth.Source()
	if src.Width <= 0 || src.Height <= 0 {
		return nil, fmt.Errorf("%w: source size %dx%d", ErrInvalidOptions, src.Width, src.Height)
	}
	fps := src.FrameRate
	if fps <= 0 {
		fps = spec.FrameRate
	}

	fd, node := pw.PipeWireRemote()
	stream, err := f.opts.Opener.OpenStream(StreamRequest{
		FD:        fd,
		NodeID:    node,
		Width:     src.Width,
		Height:    src.Height,
		FrameRate: fps,
	})
	if err != nil {
		return nil, fmt.Errorf("open frame stream: %w", err)
	}

	f.log.Debug().
		Str(xlog.FieldEvent, "capture.mirror_created").
		Uint32(xlog.FieldNodeID, node).
		Str("source", fmt.Sprintf("%dx%d", src.Width, src.Height)).
		Str(xlog.FieldResolution, spec.Resolution()).
		Msg("mirror created")
	return newMirror(stream, surface, src.Width*src.Height*BytesPerPixel, f.opts, f.log.With().Uint32(xlog.FieldNodeID, node).Logger()), nil
}
