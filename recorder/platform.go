package recorder

import (
	"context"
	"fmt"
)

// recorderStage delegates encoding, buffering and muxing to one platform
// recorder. It has no drain goroutine, surface or muxer of its own to release.
type recorderStage struct {
	factory RecorderFactory
	rec     PlatformRecorder
	started bool
}

func (s *recorderStage) configure(ctx context.Context, cfg EncoderConfig) (Surface, error) {
	rec, err := s.factory.NewRecorder(ctx)
	if err != nil {
		return nil, fmt.Errorf("create recorder: %w", err)
	}
	s.rec = rec
	if err := rec.Configure(cfg); err != nil {
		return nil, fmt.Errorf("configure recorder: %w", err)
	}
	surface, err := rec.InputSurface()
	if err != nil {
		return nil, fmt.Errorf("recorder input surface: %w", err)
	}
	return surface, nil
}

func (s *recorderStage) begin() error {
	if err := s.rec.Start(); err != nil {
		return fmt.Errorf("start recorder: %w", err)
	}
	s.started = true
	return nil
}

func (s *recorderStage) halt() {}

func (s *recorderStage) stopDrain() (bool, error) { return false, nil }

func (s *recorderStage) stopCodec() (bool, error) {
	if s.rec == nil || !s.started {
		return false, nil
	}
	s.started = false
	return true, s.rec.Stop()
}

func (s *recorderStage) releaseSurface() (bool, error) { return false, nil }

func (s *recorderStage) releaseCodec() (bool, error) {
	if s.rec == nil {
		return false, nil
	}
	rec := s.rec
	s.rec = nil
	return true, rec.Release()
}

func (s *recorderStage) releaseMuxer() (bool, error) { return false, nil }
