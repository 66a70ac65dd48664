package capture

import (
	"errors"
	"fmt"
	"time"
)

const (
	defaultFirstFrameTimeout = 8 * time.Second
	closeWait                = 1500 * time.Millisecond
)

var ErrNoFrames = errors.New("frame stream ended before delivering a frame")

func waitForFirstFrame(ready, pumpDone <-chan struct{}, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-ready:
		return nil
	case <-pumpDone:
		select {
		case <-ready:
			return nil
		default:
		}
		return ErrNoFrames
	case <-timer.C:
		return fmt.Errorf("capture timed out after %s waiting for first frame", timeout)
	}
}
