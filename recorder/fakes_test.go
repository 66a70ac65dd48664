package recorder

import (
	"bytes"
	"context"
	"errors"
	"os"
	"sync"

	"go2tv.app/screenrec/quality"
)

// calls records the order in which fake handles were acted on.
type calls struct {
	mu  sync.Mutex
	log []string
}

func (c *calls) add(s string) {
	c.mu.Lock()
	c.log = append(c.log, s)
	c.mu.Unlock()
}

func (c *calls) list() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.log...)
}

type fakeAuthorization struct {
	calls   *calls
	src     Source
	stopErr error
}

func (a *fakeAuthorization) Source() Source { return a.src }

func (a *fakeAuthorization) Stop() error {
	a.calls.add("auth.stop")
	return a.stopErr
}

type fakeAuthorizer struct {
	calls      *calls
	result     Result
	createErr  error
	presentErr error
	acquireErr error
	stopErr    error
	acquired   int
}

func (f *fakeAuthorizer) CreateCaptureRequest(context.Context) (CaptureRequest, error) {
	f.calls.add("auth.create")
	if f.createErr != nil {
		return nil, f.createErr
	}
	return "request", nil
}

func (f *fakeAuthorizer) Present(context.Context, CaptureRequest) (Result, error) {
	f.calls.add("auth.present")
	return f.result, f.presentErr
}

func (f *fakeAuthorizer) AcquireSession(_ context.Context, res Result) (Authorization, error) {
	f.calls.add("auth.acquire")
	if f.acquireErr != nil {
		return nil, f.acquireErr
	}
	if !res.OK() {
		return nil, ErrAuthorizationDenied
	}
	f.acquired++
	return &fakeAuthorization{calls: f.calls, src: Source{Width: 1920, Height: 1080, FrameRate: 30}, stopErr: f.stopErr}, nil
}

type fakeSurface struct {
	calls    *calls
	name     string
	buf      bytes.Buffer
	closeErr error
}

func (s *fakeSurface) Write(p []byte) (int, error) { return s.buf.Write(p) }

func (s *fakeSurface) Close() error {
	s.calls.add(s.name + ".close")
	return s.closeErr
}

type fakeMirror struct {
	calls    *calls
	startErr error
	closeErr error
	panicMsg string
}

func (m *fakeMirror) Start() error {
	m.calls.add("mirror.start")
	return m.startErr
}

func (m *fakeMirror) Close() error {
	m.calls.add("mirror.close")
	if m.panicMsg != "" {
		panic(m.panicMsg)
	}
	return m.closeErr
}

type fakeMirrorFactory struct {
	calls     *calls
	mirror    *fakeMirror
	createErr error
	// hook runs inside CreateMirror, before it returns.
	hook func()
}

func (f *fakeMirrorFactory) CreateMirror(context.Context, Authorization, quality.VideoSpec, Surface) (Mirror, error) {
	f.calls.add("mirror.create")
	if f.hook != nil {
		f.hook()
	}
	if f.createErr != nil {
		return nil, f.createErr
	}
	if f.mirror == nil {
		f.mirror = &fakeMirror{calls: f.calls}
	}
	return f.mirror, nil
}

// fakeEncoder replays a scripted output queue and reports TryAgain once it
// runs dry.
type fakeEncoder struct {
	calls *calls

	mu       sync.Mutex
	queue    []Output
	format   Format
	released []int
	drained  chan struct{}

	configureErr error
	surfaceErr   error
	startErr     error
	stopErr      error
	releaseErr   error
	surface      *fakeSurface
}

func newFakeEncoder(c *calls, outputs ...Output) *fakeEncoder {
	return &fakeEncoder{
		calls:   c,
		queue:   outputs,
		format:  Format{MIME: MIMEVideoAVC, Width: 1216, Height: 672, SPS: [][]byte{{0x67}}, PPS: [][]byte{{0x68}}},
		drained: make(chan struct{}),
	}
}

func (e *fakeEncoder) Configure(EncoderConfig) error {
	e.calls.add("encoder.configure")
	return e.configureErr
}

func (e *fakeEncoder) InputSurface() (Surface, error) {
	if e.surfaceErr != nil {
		return nil, e.surfaceErr
	}
	e.surface = &fakeSurface{calls: e.calls, name: "surface"}
	return e.surface, nil
}

func (e *fakeEncoder) Start() error {
	e.calls.add("encoder.start")
	return e.startErr
}

func (e *fakeEncoder) Dequeue() (Output, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.queue) == 0 {
		if e.drained != nil {
			close(e.drained)
			e.drained = nil
		}
		return Output{Kind: OutputTryAgain}, nil
	}
	out := e.queue[0]
	e.queue = e.queue[1:]
	return out, nil
}

func (e *fakeEncoder) OutputFormat() (Format, error) { return e.format, nil }

func (e *fakeEncoder) ReleaseOutput(index int) error {
	e.mu.Lock()
	e.released = append(e.released, index)
	e.mu.Unlock()
	return nil
}

func (e *fakeEncoder) releasedIndexes() []int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]int(nil), e.released...)
}

func (e *fakeEncoder) Stop() error {
	e.calls.add("encoder.stop")
	return e.stopErr
}

func (e *fakeEncoder) Release() error {
	e.calls.add("encoder.release")
	return e.releaseErr
}

type fakeEncoderFactory struct {
	enc *fakeEncoder
	err error
}

func (f *fakeEncoderFactory) NewEncoder(context.Context) (Encoder, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.enc, nil
}

// fakeMuxer appends sample bytes to the output file so the finalized path
// exists and is non-empty once anything was written.
type fakeMuxer struct {
	calls *calls
	path  string

	mu      sync.Mutex
	tracks  int
	started bool
	samples [][]byte
	stopErr error
}

func (m *fakeMuxer) AddTrack(Format) (int, error) {
	m.calls.add("muxer.add_track")
	m.tracks++
	return m.tracks - 1, nil
}

func (m *fakeMuxer) Start() error {
	m.calls.add("muxer.start")
	m.started = true
	return nil
}

func (m *fakeMuxer) WriteSample(_ int, data []byte, _ BufferInfo) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.samples = append(m.samples, append([]byte(nil), data...))
	f, err := os.OpenFile(m.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.Write(data)
	return err
}

func (m *fakeMuxer) sampleCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.samples)
}

func (m *fakeMuxer) Stop() error {
	m.calls.add("muxer.stop")
	return m.stopErr
}

func (m *fakeMuxer) Release() error {
	m.calls.add("muxer.release")
	return nil
}

type fakeMuxerFactory struct {
	calls   *calls
	mu      sync.Mutex
	created []*fakeMuxer
	err     error
}

func (f *fakeMuxerFactory) NewMuxer(path string) (Muxer, error) {
	if f.err != nil {
		return nil, f.err
	}
	m := &fakeMuxer{calls: f.calls, path: path}
	f.mu.Lock()
	f.created = append(f.created, m)
	f.mu.Unlock()
	return m, nil
}

func (f *fakeMuxerFactory) muxers() []*fakeMuxer {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakeMuxer(nil), f.created...)
}

// fakeRecorder writes a placeholder file on Stop, like a platform recorder
// finalizing its container.
type fakeRecorder struct {
	calls     *calls
	cfg       EncoderConfig
	startErr  error
	stopErr   error
	writeFile bool
}

func (r *fakeRecorder) Configure(cfg EncoderConfig) error {
	r.calls.add("recorder.configure")
	r.cfg = cfg
	return nil
}

func (r *fakeRecorder) InputSurface() (Surface, error) {
	return &fakeSurface{calls: r.calls, name: "recorder_surface"}, nil
}

func (r *fakeRecorder) Start() error {
	r.calls.add("recorder.start")
	return r.startErr
}

func (r *fakeRecorder) Stop() error {
	r.calls.add("recorder.stop")
	if r.stopErr != nil {
		return r.stopErr
	}
	if r.writeFile {
		return os.WriteFile(r.cfg.Spec.OutputPath, []byte("ftyp"), 0o644)
	}
	return nil
}

func (r *fakeRecorder) Release() error {
	r.calls.add("recorder.release")
	return nil
}

type fakeRecorderFactory struct {
	rec *fakeRecorder
}

func (f *fakeRecorderFactory) NewRecorder(context.Context) (PlatformRecorder, error) {
	if f.rec == nil {
		return nil, errors.New("no recorder")
	}
	return f.rec, nil
}
