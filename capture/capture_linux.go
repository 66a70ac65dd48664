//go:build linux

package capture

import (
	"github.com/rs/zerolog"

	xlog "go2tv.app/screenrec/internal/log"
	"go2tv.app/screenrec/internal/pipewire"
)

type platformOpener struct {
	log zerolog.Logger
}

func (o platformOpener) OpenStream(req StreamRequest) (FrameStream, error) {
	if !pipewire.IsAvailable() {
		return nil, pipewire.ErrLibraryNotLoaded
	}
	log := o.log
	stream, err := pipewire.NewStream(req.FD, pipewire.StreamOptions{
		Name:      "screenrec-capture",
		NodeID:    req.NodeID,
		Width:     uint32(req.Width),
		Height:    uint32(req.Height),
		FrameRate: uint32(req.FrameRate),
		OnState: func(old, state pipewire.State, reason string) {
			evt := log.Debug()
			if state == pipewire.StateError {
				evt = log.Error()
			}
			evt.Str(xlog.FieldEvent, "capture.stream_state").
				Str(xlog.FieldOldState, old.String()).
				Str(xlog.FieldNewState, state.String()).
				Str("reason", reason).
				Msg("pipewire stream state changed")
		},
	})
	if err != nil {
		return nil, err
	}
	return stream, nil
}
