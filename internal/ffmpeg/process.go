package ffmpeg

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	xlog "go2tv.app/screenrec/internal/log"
	"go2tv.app/screenrec/internal/processutil"
)

// process is one ffmpeg invocation whose stdin is the input surface.
type process struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stderr *lockedBuffer
	log    zerolog.Logger

	started bool
	// readers must finish before Wait closes the stdout pipe.
	readers sync.WaitGroup
	done    chan struct{}
	err     error

	stopOnce sync.Once
	stopErr  error
}

func newProcess(path string, args []string, log zerolog.Logger) (*process, error) {
	cmd := exec.Command(path, args...)
	processutil.HideConsoleWindow(cmd)
	processutil.SetGroup(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg stdin: %w", err)
	}
	p := &process{
		cmd:    cmd,
		stdin:  stdin,
		stderr: &lockedBuffer{},
		log:    log,
		done:   make(chan struct{}),
	}
	cmd.Stderr = p.stderr
	if xlog.DebugEnabled() {
		cmd.Stderr = io.MultiWriter(p.stderr, log)
	}
	return p, nil
}

func (p *process) Write(b []byte) (int, error) { return p.stdin.Write(b) }

// Close ends the input stream.
func (p *process) Close() error {
	err := p.stdin.Close()
	if errors.Is(err, os.ErrClosed) {
		return nil
	}
	return err
}

// start launches ffmpeg, then each reader on its own goroutine, and fails
// if the process exits within window.
func (p *process) start(window time.Duration, readers ...func()) error {
	if p.started {
		return ErrAlreadyStarted
	}
	p.log.Debug().
		Str(xlog.FieldEvent, "ffmpeg.exec").
		Str("args", strings.Join(p.cmd.Args, " ")).
		Msg("starting ffmpeg")
	if err := p.cmd.Start(); err != nil {
		return fmt.Errorf("ffmpeg start: %w", err)
	}
	p.started = true

	for _, r := range readers {
		p.readers.Add(1)
		go func(read func()) {
			defer p.readers.Done()
			read()
		}(r)
	}
	go func() {
		p.readers.Wait()
		p.err = p.cmd.Wait()
		close(p.done)
	}()

	if window <= 0 {
		return nil
	}
	timer := time.NewTimer(window)
	defer timer.Stop()
	select {
	case <-p.done:
		return fmt.Errorf("%w during startup: %v: %s", ErrExited, p.err, p.stderr.Tail(300))
	case <-timer.C:
		return nil
	}
}

func (p *process) exited() bool {
	if !p.started {
		return false
	}
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// waitCh adapts done for processutil.Terminate.
func (p *process) waitCh() <-chan error {
	ch := make(chan error, 1)
	go func() {
		<-p.done
		ch <- p.err
	}()
	return ch
}

// stop closes stdin and gives ffmpeg grace to flush, then interrupts it and
// finally kills it. A kill-free exit caused by the closed input is success.
func (p *process) stop(grace time.Duration) error {
	p.stopOnce.Do(func() {
		closeErr := p.Close()
		if !p.started {
			p.stopErr = closeErr
			return
		}

		timer := time.NewTimer(grace)
		select {
		case <-p.done:
			timer.Stop()
			p.stopErr = p.exitError()
			return
		case <-timer.C:
		}

		p.log.Warn().
			Str(xlog.FieldEvent, "ffmpeg.stop_timeout").
			Dur("grace", grace).
			Msg("ffmpeg did not exit after end of input, interrupting")
		err := processutil.Terminate(p.cmd, p.waitCh(), processutil.Interrupt, grace)
		if err != nil {
			p.stopErr = fmt.Errorf("%w: %v: %s", ErrExited, err, p.stderr.Tail(300))
		}
	})
	return p.stopErr
}

// kill terminates the process without waiting for a flush.
func (p *process) kill() error {
	_ = p.Close()
	if !p.started || p.exited() {
		return nil
	}
	_ = processutil.Terminate(p.cmd, p.waitCh(), nil, 0)
	return nil
}

func (p *process) exitError() error {
	if p.err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v: %s", ErrExited, p.err, p.stderr.Tail(300))
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

// Write keeps only the most recent output.
func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.buf.Len() > 64<<10 {
		tail := append([]byte(nil), b.buf.Bytes()[b.buf.Len()-16<<10:]...)
		b.buf.Reset()
		b.buf.Write(tail)
	}
	return b.buf.Write(p)
}

func (b *lockedBuffer) Tail(n int) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := strings.TrimSpace(b.buf.String())
	if s == "" {
		return "no ffmpeg stderr output"
	}
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
