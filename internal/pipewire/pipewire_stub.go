//go:build !linux

package pipewire

import (
	"errors"
	"io"
)

var ErrLibraryNotLoaded = errors.New("pipewire capture backend is only available on linux")

type Stream struct{}

func IsAvailable() bool {
	return false
}

func NewStream(int, StreamOptions) (*Stream, error) {
	return nil, ErrLibraryNotLoaded
}

func NewAudioStream(bool, StateFunc) (*Stream, error) {
	return nil, ErrLibraryNotLoaded
}

func (s *Stream) Start() {}

func (s *Stream) Stop() {}

func (s *Stream) State() State { return StateUnconnected }

func (s *Stream) Read([]byte) (int, error) {
	return 0, io.EOF
}

func (s *Stream) Close() error {
	return nil
}
