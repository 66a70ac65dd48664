package capture

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	xlog "go2tv.app/screenrec/internal/log"
)

// Mirror pumps whole frames from a stream into a surface.
type Mirror struct {
	stream    FrameStream
	queue     *asyncWriter
	frameSize int
	timeout   time.Duration
	log       zerolog.Logger

	ready     chan struct{}
	readyOnce sync.Once
	pumpDone  chan struct{}

	startOnce sync.Once
	started   bool
	closeOnce sync.Once
	closeErr  error
}

func newMirror(stream FrameStream, surface io.Writer, frameSize int, opts Options, log zerolog.Logger) *Mirror {
	return &Mirror{
		stream:    stream,
		queue:     newAsyncWriter(surface, opts.QueueSize, log),
		frameSize: frameSize,
		timeout:   opts.FirstFrameTimeout,
		log:       log,
		ready:     make(chan struct{}),
		pumpDone:  make(chan struct{}),
	}
}

// Start begins streaming and waits until the first frame arrived.
func (m *Mirror) Start() error {
	started := false
	m.startOnce.Do(func() {
		started = true
		m.started = true
		m.queue.start()
		m.stream.Start()
		go m.pump()
	})
	if !started {
		return nil
	}
	return waitForFirstFrame(m.ready, m.pumpDone, m.timeout)
}

func (m *Mirror) pump() {
	defer close(m.pumpDone)
	frames := 0
	for {
		frame := make([]byte, m.frameSize)
		if _, err := io.ReadFull(m.stream, frame); err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrClosedPipe) {
				m.log.Warn().Err(err).Str(xlog.FieldEvent, "capture.read_failed").Int("frames", frames).Msg("frame stream ended")
			}
			return
		}
		frames++
		m.readyOnce.Do(func() { close(m.ready) })
		m.queue.enqueue(frame)
	}
}

// Close stops the stream and the surface writer. Frames still queued are
// discarded.
func (m *Mirror) Close() error {
	m.closeOnce.Do(func() {
		err := m.stream.Close()
		if m.started {
			select {
			case <-m.pumpDone:
			case <-time.After(closeWait):
				err = errors.Join(err, fmt.Errorf("frame pump did not exit within %s", closeWait))
			}
		}
		m.queue.close()
		m.closeErr = err
	})
	return m.closeErr
}

// Dropped reports how many frames were discarded because the surface fell
// behind.
func (m *Mirror) Dropped() uint64 {
	return m.queue.dropped.Load()
}
