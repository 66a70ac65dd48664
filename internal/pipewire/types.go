// Package pipewire binds the subset of libpipewire needed to receive screen
// and audio frames. The library is loaded at run time.
package pipewire

import (
	"errors"
	"fmt"
)

var ErrStreamFailed = errors.New("pipewire stream entered the error state")

// State mirrors enum pw_stream_state.
type State int

const (
	StateError       State = -1
	StateUnconnected State = 0
	StateConnecting  State = 1
	StatePaused      State = 2
	StateStreaming   State = 3
)

func (s State) String() string {
	switch s {
	case StateError:
		return "error"
	case StateUnconnected:
		return "unconnected"
	case StateConnecting:
		return "connecting"
	case StatePaused:
		return "paused"
	case StateStreaming:
		return "streaming"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// StateFunc observes stream state changes. It runs on the PipeWire loop
// thread and must not block.
type StateFunc func(old, state State, reason string)

// StreamOptions describes the video stream to negotiate.
type StreamOptions struct {
	Name      string
	NodeID    uint32
	Width     uint32
	Height    uint32
	FrameRate uint32
	OnState   StateFunc
}
