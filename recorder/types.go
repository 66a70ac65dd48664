package recorder

import (
	"context"
	"errors"
	"io"

	"go2tv.app/screenrec/quality"
)

var (
	ErrInvalidState        = errors.New("capture pipeline is not in a valid state for this operation")
	ErrAlreadyActive       = errors.New("capture pipeline is already starting or active")
	ErrAuthorizationDenied = errors.New("screen capture authorization was denied or cancelled")
	ErrStartFailure        = errors.New("capture pipeline failed to start")
	ErrStartCancelled      = errors.New("capture pipeline start was cancelled")
	ErrNoOutput            = errors.New("capture pipeline finished without a playable output file")
	ErrDrainJoinTimeout    = errors.New("timed out waiting for the drain loop to exit")
)

// State is a pipeline lifecycle state.
type State string

const (
	StateIdle                  State = "idle"
	StateAwaitingAuthorization State = "awaiting_authorization"
	StateStarting              State = "starting"
	StateActive                State = "active"
	StateStopping              State = "stopping"
	StateFinalized             State = "finalized"
	StateFailed                State = "failed"
)

// Live reports whether the state holds or is acquiring platform handles.
func (s State) Live() bool {
	return s == StateStarting || s == StateActive || s == StateStopping
}

// Variant selects how the encode stage is built.
type Variant string

const (
	// VariantEncoder drives a raw encoder and a container writer from a
	// dedicated drain goroutine. Video only.
	VariantEncoder Variant = "encoder"
	// VariantRecorder hands encoding and muxing to a single platform
	// recording primitive, optionally with microphone audio.
	VariantRecorder Variant = "recorder"
)

// ParseVariant maps a configuration string to a Variant. Empty selects the
// build default.
func ParseVariant(s string) (Variant, error) {
	switch Variant(s) {
	case "":
		return DefaultVariant, nil
	case VariantEncoder, VariantRecorder:
		return Variant(s), nil
	default:
		return "", errors.New("unknown pipeline variant " + s)
	}
}

// ResultCode is the response status of the permission dialog.
type ResultCode uint32

const (
	ResultOK        ResultCode = 0
	ResultCancelled ResultCode = 1
	ResultEnded     ResultCode = 2
)

// Result is the opaque outcome of presenting a capture request.
type Result struct {
	Code    ResultCode
	Payload any
	Err     error
}

// OK reports whether the user granted capture.
func (r Result) OK() bool {
	return r.Err == nil && r.Code == ResultOK && r.Payload != nil
}

// CaptureRequest is the opaque descriptor presented to the user.
type CaptureRequest any

// Source describes the raw frames delivered by the mirroring surface.
type Source struct {
	Width       int
	Height      int
	FrameRate   int
	PixelFormat string
}

// Authorization is a granted capture session. Stop ends the session on the
// platform side.
type Authorization interface {
	Source() Source
	Stop() error
}

// Authorizer runs the platform permission flow.
type Authorizer interface {
	// CreateCaptureRequest prepares the descriptor shown to the user.
	CreateCaptureRequest(ctx context.Context) (CaptureRequest, error)
	// Present shows the permission dialog and waits for the user's answer.
	// When the answer is not a grant, Present releases whatever
	// CreateCaptureRequest acquired.
	Present(ctx context.Context, req CaptureRequest) (Result, error)
	// AcquireSession turns a granted result into an Authorization. Each
	// result can be acquired once.
	AcquireSession(ctx context.Context, res Result) (Authorization, error)
}

// Surface is the input side of an encoder or recorder; mirrored frames are
// written into it.
type Surface interface {
	io.Writer
	Close() error
}

// Mirror is the virtual display copying screen frames into a surface.
type Mirror interface {
	Start() error
	Close() error
}

// MirrorFactory binds a mirror to an authorization and an input surface.
type MirrorFactory interface {
	CreateMirror(ctx context.Context, auth Authorization, spec quality.VideoSpec, surface Surface) (Mirror, error)
}
