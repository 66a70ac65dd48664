// Package xdgportal is a client for the org.freedesktop.portal.ScreenCast
// interface.
package xdgportal

import (
	"context"
	"errors"
	"fmt"

	"github.com/godbus/dbus/v5"

	"go2tv.app/screenrec/internal/apis"
	"go2tv.app/screenrec/internal/convert"
	"go2tv.app/screenrec/internal/request"
	"go2tv.app/screenrec/internal/session"
)

const (
	interfaceName      = apis.CallBaseName + ".ScreenCast"
	createSessionName  = interfaceName + ".CreateSession"
	selectSourcesName  = interfaceName + ".SelectSources"
	startName          = interfaceName + ".Start"
	openPipeWireRemote = interfaceName + ".OpenPipeWireRemote"
)

const (
	SourceTypeMonitor uint32 = 1
	SourceTypeWindow  uint32 = 2
	SourceTypeVirtual uint32 = 4
)

const (
	CursorModeHidden   uint32 = 1
	CursorModeEmbedded uint32 = 2
	CursorModeMetadata uint32 = 4
)

const (
	PersistModeNone       uint32 = 0
	PersistModeRunning    uint32 = 1
	PersistModePersistent uint32 = 2
)

var (
	ErrCancelled = errors.New("portal request was cancelled by the user")
	ErrEnded     = errors.New("portal request ended without a result")
)

// ResponseError carries a non-success Response status.
type ResponseError struct {
	Method string
	Status request.ResponseStatus
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("%s: response status %d", e.Method, e.Status)
}

func (e *ResponseError) Is(target error) bool {
	switch target {
	case ErrCancelled:
		return e.Status == request.Cancelled
	case ErrEnded:
		return e.Status != request.Success && e.Status != request.Cancelled
	}
	return false
}

func getUint32Property(property string) (uint32, error) {
	value, err := apis.GetProperty(interfaceName, property)
	if err != nil {
		return 0, err
	}

	result, ok := value.(uint32)
	if !ok {
		return 0, fmt.Errorf("property %s returned unexpected type %T", property, value)
	}
	return result, nil
}

func GetAvailableSourceTypes() (uint32, error) {
	return getUint32Property("AvailableSourceTypes")
}

func GetAvailableCursorModes() (uint32, error) {
	return getUint32Property("AvailableCursorModes")
}

func GetVersion() (uint32, error) {
	return getUint32Property("version")
}

type Stream struct {
	NodeID     uint32
	Position   [2]int32
	Size       [2]int32
	SourceType uint32
	MappingID  string
	ID         string
}

type Session struct {
	Path dbus.ObjectPath
}

type SelectSourcesOptions struct {
	Types        uint32
	Multiple     bool
	CursorMode   uint32
	RestoreToken string
	PersistMode  uint32
}

// StartResult is the outcome of a granted Start request.
type StartResult struct {
	Streams      []Stream
	RestoreToken string
}

// requestCall issues a method that answers through a Request object and
// waits for its Response.
func requestCall(ctx context.Context, method string, data map[string]dbus.Variant, args ...any) (map[string]dbus.Variant, error) {
	token := session.NewToken()
	data["handle_token"] = convert.FromString(token)

	pending, err := request.Expect(token)
	if err != nil {
		return nil, fmt.Errorf("%s: watch response: %w", method, err)
	}
	defer pending.Close()

	result, err := apis.Call(ctx, method, append(args, data)...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	if err := pending.Retarget(result); err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}

	status, results, err := pending.Wait(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	if status != request.Success {
		return nil, &ResponseError{Method: method, Status: status}
	}
	return results, nil
}

// CreateSession opens a new screencast session.
func CreateSession(ctx context.Context) (*Session, error) {
	data := map[string]dbus.Variant{
		"session_handle_token": convert.FromString(session.NewToken()),
	}
	results, err := requestCall(ctx, createSessionName, data)
	if err != nil {
		return nil, err
	}

	sessionPath, ok := convert.String(results, "session_handle")
	if !ok {
		return nil, fmt.Errorf("%s: response missing session_handle", createSessionName)
	}
	return &Session{Path: dbus.ObjectPath(sessionPath)}, nil
}

// SelectSources configures which sources the user may choose from.
func (s *Session) SelectSources(ctx context.Context, options *SelectSourcesOptions) error {
	data := map[string]dbus.Variant{}
	if options != nil {
		if options.Types != 0 {
			data["types"] = convert.FromUint32(options.Types)
		}
		if options.Multiple {
			data["multiple"] = convert.FromBool(options.Multiple)
		}
		if options.CursorMode != 0 {
			data["cursor_mode"] = convert.FromUint32(options.CursorMode)
		}
		if options.RestoreToken != "" {
			data["restore_token"] = convert.FromString(options.RestoreToken)
		}
		if options.PersistMode != 0 {
			data["persist_mode"] = convert.FromUint32(options.PersistMode)
		}
	}

	_, err := requestCall(ctx, selectSourcesName, data, s.Path)
	return err
}

// Start shows the source chooser and returns the granted streams. A user
// cancellation yields an error matching ErrCancelled.
func (s *Session) Start(ctx context.Context, parentWindow string) (*StartResult, error) {
	results, err := requestCall(ctx, startName, map[string]dbus.Variant{}, s.Path, parentWindow)
	if err != nil {
		return nil, err
	}

	out := &StartResult{}
	out.RestoreToken, _ = convert.String(results, "restore_token")
	if v, ok := results["streams"]; ok {
		out.Streams = ParseStreams(v.Value())
	}
	return out, nil
}

// ParseStreams decodes the a(ua{sv}) streams value of a Start response.
func ParseStreams(value any) []Stream {
	var rawStreams [][]any
	switch rs := value.(type) {
	case [][]any:
		rawStreams = rs
	case []any:
		rawStreams = make([][]any, 0, len(rs))
		for _, r := range rs {
			if s, ok := r.([]any); ok {
				rawStreams = append(rawStreams, s)
			}
		}
	default:
		return nil
	}

	streams := make([]Stream, 0, len(rawStreams))
	for _, streamSlice := range rawStreams {
		if len(streamSlice) < 2 {
			continue
		}

		stream := Stream{}
		if nodeID, ok := streamSlice[0].(uint32); ok {
			stream.NodeID = nodeID
		}
		if props, ok := streamSlice[1].(map[string]dbus.Variant); ok {
			stream.Position, _ = convert.Int32Pair(props, "position")
			stream.Size, _ = convert.Int32Pair(props, "size")
			stream.SourceType, _ = convert.Uint32(props, "source_type")
			stream.MappingID, _ = convert.String(props, "mapping_id")
			stream.ID, _ = convert.String(props, "id")
		}
		streams = append(streams, stream)
	}
	return streams
}

// OpenPipeWireRemote returns a file descriptor connected to the PipeWire
// instance serving the session's streams. The caller owns the descriptor.
func (s *Session) OpenPipeWireRemote(ctx context.Context) (int, error) {
	var fd dbus.UnixFD
	err := apis.CallStore(ctx, openPipeWireRemote, &fd, s.Path, map[string]dbus.Variant{})
	if err != nil {
		return -1, fmt.Errorf("%s: %w", openPipeWireRemote, err)
	}
	return int(fd), nil
}

// Close ends the session.
func (s *Session) Close(ctx context.Context) error {
	return session.Close(ctx, s.Path)
}
