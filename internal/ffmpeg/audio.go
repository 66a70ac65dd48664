package ffmpeg

import (
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	xlog "go2tv.app/screenrec/internal/log"
	"go2tv.app/screenrec/internal/pipewire"
)

// s16le stereo at 48kHz.
const pcmBytesPerSecond = 48000 * 2 * 2

func openPipeWireAudio(source string) (io.ReadCloser, error) {
	if source == AudioSilence {
		return newSilenceReader(20 * time.Millisecond), nil
	}
	s, err := pipewire.NewAudioStream(source == AudioMonitor, nil)
	if err != nil {
		return nil, fmt.Errorf("pipewire audio: %w", err)
	}
	s.Start()
	return s, nil
}

// silenceReader produces zeroed PCM at real-time pace.
type silenceReader struct {
	chunk     int
	closed    chan struct{}
	closeOnce sync.Once
}

func newSilenceReader(chunkDuration time.Duration) *silenceReader {
	chunk := int(int64(pcmBytesPerSecond) * chunkDuration.Milliseconds() / 1000)
	if chunk <= 0 {
		chunk = 3840
	}
	return &silenceReader{chunk: chunk, closed: make(chan struct{})}
}

func (r *silenceReader) Read(p []byte) (int, error) {
	select {
	case <-r.closed:
		return 0, io.EOF
	default:
	}
	if len(p) == 0 {
		return 0, nil
	}

	n := min(r.chunk, len(p))
	clear(p[:n])

	timer := time.NewTimer(time.Duration(int64(n) * int64(time.Second) / pcmBytesPerSecond))
	defer timer.Stop()
	select {
	case <-r.closed:
		return 0, io.EOF
	case <-timer.C:
		return n, nil
	}
}

func (r *silenceReader) Close() error {
	r.closeOnce.Do(func() { close(r.closed) })
	return nil
}

// relayAudio copies src to dst through a bounded queue, dropping the oldest
// chunk when dst falls behind and padding gaps with silence so the muxer
// never starves.
func relayAudio(dst io.Writer, src io.Reader, chunkSize, queueSize int) {
	ch := make(chan []byte, queueSize)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		silence := make([]byte, 3840)
		lastWrite := time.Now().Add(-time.Second)
		t := time.NewTicker(20 * time.Millisecond)
		defer t.Stop()

		for {
			select {
			case b, ok := <-ch:
				if !ok {
					return
				}
				if _, err := dst.Write(b); err != nil {
					drainChunks(ch)
					return
				}
				lastWrite = time.Now()
			case <-t.C:
				if time.Since(lastWrite) < 40*time.Millisecond {
					continue
				}
				if _, err := dst.Write(silence); err != nil {
					drainChunks(ch)
					return
				}
				lastWrite = time.Now()
			}
		}
	}()

	buf := make([]byte, chunkSize)
	for {
		n, err := src.Read(buf)
		if n > 0 {
			b := append([]byte(nil), buf[:n]...)
			select {
			case ch <- b:
			default:
				select {
				case <-ch:
				default:
				}
				select {
				case ch <- b:
				default:
				}
			}
		}
		if err != nil {
			break
		}
	}
	close(ch)
	wg.Wait()
}

func drainChunks(ch <-chan []byte) {
	for range ch {
	}
}

// audioRelay serves one PCM source to ffmpeg over a loopback TCP socket.
type audioRelay struct {
	src  io.ReadCloser
	l    net.Listener
	done chan struct{}

	mu     sync.Mutex
	conn   net.Conn
	closed bool
}

func startAudioRelay(src io.ReadCloser, log zerolog.Logger) (*audioRelay, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("audio listener: %w", err)
	}
	r := &audioRelay{src: src, l: l, done: make(chan struct{})}
	go func() {
		defer close(r.done)
		defer l.Close()
		conn, err := l.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		if !r.setConn(conn) {
			return
		}
		relayAudio(conn, src, defaultAudioChunk, defaultAudioQueue)
	}()
	log.Debug().Str(xlog.FieldEvent, "audio.relay").Str("url", r.URL()).Msg("audio relay listening")
	return r, nil
}

func (r *audioRelay) URL() string {
	return "tcp://" + r.l.Addr().String()
}

func (r *audioRelay) setConn(c net.Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conn = c
	return !r.closed
}

// Close ends the source and the connection, which gives ffmpeg EOF on its
// audio input.
func (r *audioRelay) Close() error {
	err := r.src.Close()
	_ = r.l.Close()
	r.mu.Lock()
	r.closed = true
	if r.conn != nil {
		_ = r.conn.Close()
	}
	r.mu.Unlock()
	<-r.done
	return err
}
