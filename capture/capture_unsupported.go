//go:build !linux

package capture

import (
	"fmt"

	"github.com/rs/zerolog"
)

type platformOpener struct {
	log zerolog.Logger
}

func (platformOpener) OpenStream(StreamRequest) (FrameStream, error) {
	return nil, fmt.Errorf("%w: no backend for this operating system", ErrNotImplemented)
}
