package capture

import (
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	xlog "go2tv.app/screenrec/internal/log"
	"go2tv.app/screenrec/internal/metrics"
)

const slowWriteThreshold = 50 * time.Millisecond

// asyncWriter decouples the frame pump from a surface that may stall. The
// queue is bounded; when full the oldest frame is dropped.
type asyncWriter struct {
	dst io.Writer
	log zerolog.Logger

	queue chan []byte
	done  chan struct{}

	startOnce sync.Once
	closeOnce sync.Once
	wg        sync.WaitGroup

	lastSlowLog atomic.Int64
	lastDropLog atomic.Int64
	dropped     atomic.Uint64
}

func newAsyncWriter(dst io.Writer, queueSize int, log zerolog.Logger) *asyncWriter {
	if queueSize <= 0 {
		queueSize = defaultVideoQueue
	}
	return &asyncWriter{
		dst:   dst,
		log:   log,
		queue: make(chan []byte, queueSize),
		done:  make(chan struct{}),
	}
}

func (w *asyncWriter) start() {
	w.startOnce.Do(func() {
		w.wg.Add(1)
		go w.loop()
	})
}

func (w *asyncWriter) enqueue(frame []byte) {
	if len(frame) == 0 {
		return
	}

	select {
	case <-w.done:
		return
	default:
	}

	select {
	case w.queue <- frame:
		return
	default:
	}

	select {
	case <-w.queue:
		w.drop()
	default:
	}

	select {
	case w.queue <- frame:
	default:
		w.drop()
	}
}

func (w *asyncWriter) drop() {
	total := w.dropped.Add(1)
	metrics.MirrorDroppedFrames.Inc()
	if shouldLog(&w.lastDropLog, time.Second) {
		w.log.Debug().
			Str(xlog.FieldEvent, "capture.frame_dropped").
			Uint64("total", total).
			Int("queue", len(w.queue)).
			Msg("surface backlogged, dropped oldest frame")
	}
}

func (w *asyncWriter) close() {
	w.closeOnce.Do(func() {
		close(w.done)
		w.wg.Wait()
	})
}

func (w *asyncWriter) loop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.done:
			return
		case b := <-w.queue:
			start := time.Now()
			if _, err := w.dst.Write(b); err != nil {
				w.log.Debug().Err(err).Str(xlog.FieldEvent, "capture.surface_write_failed").Msg("surface closed")
				w.discard()
				return
			}
			if d := time.Since(start); d > slowWriteThreshold && shouldLog(&w.lastSlowLog, time.Second) {
				w.log.Debug().
					Str(xlog.FieldEvent, "capture.slow_write").
					Dur("duration", d).
					Int("bytes", len(b)).
					Int("queue", len(w.queue)).
					Msg("slow surface write")
			}
		}
	}
}

// discard empties the queue after the surface failed so enqueue keeps
// dropping instead of blocking.
func (w *asyncWriter) discard() {
	for {
		select {
		case <-w.queue:
		default:
			return
		}
	}
}

// shouldLog rate-limits a log site to one entry per period.
func shouldLog(last *atomic.Int64, period time.Duration) bool {
	if last == nil || period <= 0 {
		return true
	}

	now := time.Now().UnixNano()
	for {
		prev := last.Load()
		if prev != 0 && time.Duration(now-prev) < period {
			return false
		}
		if last.CompareAndSwap(prev, now) {
			return true
		}
	}
}
