//go:build linux

package pipewire

/*
#cgo pkg-config: libpipewire-0.3
#cgo LDFLAGS: -ldl
#include <pipewire/pipewire.h>
#include <spa/param/video/format-utils.h>
#include <spa/param/audio/format-utils.h>
#include <stdlib.h>
#include <string.h>
#include <dlfcn.h>
#include <stdio.h>

// Function pointers for dynamic loading
static void (*d_pw_init)(int *argc, char **argv[]);
static struct pw_main_loop * (*d_pw_main_loop_new)(const struct spa_dict *props);
static struct pw_loop * (*d_pw_main_loop_get_loop)(struct pw_main_loop *loop);
static void (*d_pw_main_loop_quit)(struct pw_main_loop *loop);
static void (*d_pw_main_loop_run)(struct pw_main_loop *loop);
static void (*d_pw_main_loop_destroy)(struct pw_main_loop *loop);
static struct pw_context * (*d_pw_context_new)(struct pw_loop *main_loop, struct pw_properties *props, size_t user_data_size);
static void (*d_pw_context_destroy)(struct pw_context *context);
static struct pw_core * (*d_pw_context_connect_fd)(struct pw_context *context, int fd, struct pw_properties *properties, size_t user_data_size);
static struct pw_core * (*d_pw_context_connect)(struct pw_context *context, struct pw_properties *properties, size_t user_data_size);
static int (*d_pw_core_disconnect)(struct pw_core *core);
static struct pw_properties * (*d_pw_properties_new)(const char *key, ...);
static struct pw_stream * (*d_pw_stream_new)(struct pw_core *core, const char *name, struct pw_properties *props);
static void (*d_pw_stream_add_listener)(struct pw_stream *stream, struct spa_hook *listener, const struct pw_stream_events *events, void *data);
static int (*d_pw_stream_connect)(struct pw_stream *stream, enum pw_direction direction, uint32_t target_id, enum pw_stream_flags flags, const struct spa_pod **params, uint32_t n_params);
static struct pw_buffer * (*d_pw_stream_dequeue_buffer)(struct pw_stream *stream);
static int (*d_pw_stream_queue_buffer)(struct pw_stream *stream, struct pw_buffer *buffer);
static void (*d_pw_stream_destroy)(struct pw_stream *stream);

static void* pw_lib_handle = NULL;

#define PW_LOAD(sym) (d_##sym = dlsym(pw_lib_handle, #sym))

// load_pipewire resolves every symbol or none.
static int load_pipewire() {
    if (pw_lib_handle != NULL) return 1;

    pw_lib_handle = dlopen("libpipewire-0.3.so.0", RTLD_NOW);
    if (!pw_lib_handle) pw_lib_handle = dlopen("libpipewire-0.3.so", RTLD_NOW);
    if (!pw_lib_handle) return 0;

    int ok = PW_LOAD(pw_init) && PW_LOAD(pw_main_loop_new) && PW_LOAD(pw_main_loop_get_loop) &&
        PW_LOAD(pw_main_loop_quit) && PW_LOAD(pw_main_loop_run) && PW_LOAD(pw_main_loop_destroy) &&
        PW_LOAD(pw_context_new) && PW_LOAD(pw_context_destroy) && PW_LOAD(pw_context_connect_fd) &&
        PW_LOAD(pw_context_connect) && PW_LOAD(pw_core_disconnect) && PW_LOAD(pw_properties_new) &&
        PW_LOAD(pw_stream_new) && PW_LOAD(pw_stream_add_listener) && PW_LOAD(pw_stream_connect) &&
        PW_LOAD(pw_stream_dequeue_buffer) && PW_LOAD(pw_stream_queue_buffer) && PW_LOAD(pw_stream_destroy);
    if (!ok) {
        dlclose(pw_lib_handle);
        pw_lib_handle = NULL;
        return 0;
    }
    return 1;
}

extern void on_state_changed_go(int id, enum pw_stream_state old, enum pw_stream_state state, char *error);
extern void on_frame_go(int id, void *data, uint32_t size);

struct go_stream_data {
    int id;
    struct pw_stream *stream;
    struct spa_hook stream_listener;
};

static void on_state_changed_c(void *userdata, enum pw_stream_state old, enum pw_stream_state state, const char *error) {
    struct go_stream_data *data = userdata;
    on_state_changed_go(data->id, old, state, (char*)error);
}

// on_process_c hands the first data plane of each buffer to Go.
static void on_process_c(void *userdata) {
    struct go_stream_data *data = userdata;
    if (!data->stream) return;

    struct pw_buffer *b = d_pw_stream_dequeue_buffer(data->stream);
    if (b == NULL) return;

    struct spa_data *d = &b->buffer->datas[0];
    if (d->data != NULL && d->chunk != NULL && d->chunk->size > 0) {
        on_frame_go(data->id, d->data, d->chunk->size);
    }
    d_pw_stream_queue_buffer(data->stream, b);
}

static const struct pw_stream_events stream_events = {
    PW_VERSION_STREAM_EVENTS,
    .state_changed = on_state_changed_c,
    .process = on_process_c,
};

// open_core connects to the remote behind fd, or to the session daemon when
// fd is negative. A non-negative fd is owned by PipeWire afterwards.
static inline struct pw_core * open_core(struct pw_context *context, int fd) {
    if (fd < 0) return d_pw_context_connect(context, NULL, 0);
    return d_pw_context_connect_fd(context, fd, NULL, 0);
}

static inline struct pw_stream * new_capture_stream(struct pw_core *core, const char *name, struct go_stream_data *data,
        const char *media_type, const char *role, int capture_sink) {
    struct pw_properties *props = d_pw_properties_new(
        PW_KEY_MEDIA_TYPE, media_type,
        PW_KEY_MEDIA_CATEGORY, "Capture",
        PW_KEY_MEDIA_ROLE, role,
        PW_KEY_STREAM_CAPTURE_SINK, capture_sink ? "true" : "false",
        NULL);

    struct pw_stream *stream = d_pw_stream_new(core, name, props);
    if (stream != NULL) {
        data->stream = stream;
        d_pw_stream_add_listener(stream, &data->stream_listener, &stream_events, data);
    }
    return stream;
}

static inline int connect_input(struct pw_stream *stream, uint32_t target_id, const struct spa_pod *format) {
    const struct spa_pod *params[1] = { format };
    return d_pw_stream_connect(stream, PW_DIRECTION_INPUT, target_id,
        PW_STREAM_FLAG_AUTOCONNECT | PW_STREAM_FLAG_MAP_BUFFERS, params, 1);
}

// connect_video offers BGRx first; the mirror expects 4 bytes per pixel.
static inline int connect_video(struct pw_stream *stream, uint32_t node, uint32_t width, uint32_t height, uint32_t fps) {
    uint8_t buffer[1024];
    struct spa_pod_builder b = SPA_POD_BUILDER_INIT(buffer, sizeof(buffer));
    const struct spa_pod *format = spa_pod_builder_add_object(&b,
        SPA_TYPE_OBJECT_Format, SPA_PARAM_EnumFormat,
        SPA_FORMAT_mediaType, SPA_POD_Id(SPA_MEDIA_TYPE_video),
        SPA_FORMAT_mediaSubtype, SPA_POD_Id(SPA_MEDIA_SUBTYPE_raw),
        SPA_FORMAT_VIDEO_format, SPA_POD_CHOICE_ENUM_Id(5,
            SPA_VIDEO_FORMAT_BGRx,
            SPA_VIDEO_FORMAT_BGRx,
            SPA_VIDEO_FORMAT_BGRA,
            SPA_VIDEO_FORMAT_RGBx,
            SPA_VIDEO_FORMAT_RGBA),
        SPA_FORMAT_VIDEO_size, SPA_POD_CHOICE_RANGE_Rectangle(
            &SPA_RECTANGLE(width, height),
            &SPA_RECTANGLE(1, 1),
            &SPA_RECTANGLE(8192, 8192)),
        SPA_FORMAT_VIDEO_framerate, SPA_POD_CHOICE_RANGE_Fraction(
            &SPA_FRACTION(fps, 1),
            &SPA_FRACTION(0, 1),
            &SPA_FRACTION(1000, 1)));
    return connect_input(stream, node, format);
}

// connect_audio asks for 48 kHz stereo S16 from the default source.
static inline int connect_audio(struct pw_stream *stream) {
    uint8_t buffer[512];
    struct spa_pod_builder b = SPA_POD_BUILDER_INIT(buffer, sizeof(buffer));
    const struct spa_pod *format = spa_pod_builder_add_object(&b,
        SPA_TYPE_OBJECT_Format, SPA_PARAM_EnumFormat,
        SPA_FORMAT_mediaType, SPA_POD_Id(SPA_MEDIA_TYPE_audio),
        SPA_FORMAT_mediaSubtype, SPA_POD_Id(SPA_MEDIA_SUBTYPE_raw),
        SPA_FORMAT_AUDIO_format, SPA_POD_Id(SPA_AUDIO_FORMAT_S16),
        SPA_FORMAT_AUDIO_rate, SPA_POD_Int(48000),
        SPA_FORMAT_AUDIO_channels, SPA_POD_Int(2));
    return connect_input(stream, PW_ID_ANY, format);
}

static inline void call_pw_init() { d_pw_init(NULL, NULL); }
static inline struct pw_main_loop * new_main_loop() { return d_pw_main_loop_new(NULL); }
static inline struct pw_context * new_context(struct pw_main_loop *loop) { return d_pw_context_new(d_pw_main_loop_get_loop(loop), NULL, 0); }
static inline void run_main_loop(struct pw_main_loop *loop) { d_pw_main_loop_run(loop); }
static inline void quit_main_loop(struct pw_main_loop *loop) { d_pw_main_loop_quit(loop); }

// release_stream frees everything open_* created, in reverse order. Any
// argument may be NULL.
static inline void release_stream(struct pw_main_loop *loop, struct pw_context *context, struct pw_core *core, struct pw_stream *stream) {
    if (stream) d_pw_stream_destroy(stream);
    if (core) d_pw_core_disconnect(core);
    if (context) d_pw_context_destroy(context);
    if (loop) d_pw_main_loop_destroy(loop);
}

*/
import "C"
import (
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

var ErrLibraryNotLoaded = errors.New("libpipewire-0.3.so.0 could not be loaded")

// Stream is a PipeWire capture stream. Read yields the raw frame bytes
// delivered by the process callback.
type Stream struct {
	loop    *C.struct_pw_main_loop
	context *C.struct_pw_context
	core    *C.struct_pw_core
	cData   *C.struct_go_stream_data

	id      int
	pr      *io.PipeReader
	pw      *io.PipeWriter
	onState StateFunc
	state   atomic.Int32

	wg        sync.WaitGroup
	startOnce sync.Once
	closeOnce sync.Once
	closeErr  error
}

var (
	streamsMu sync.Mutex
	streams   = make(map[int]*Stream)
	nextID    = 1
	libLoaded bool
	libMu     sync.Mutex
)

// IsAvailable checks if the PipeWire C library can be loaded.
func IsAvailable() bool {
	libMu.Lock()
	defer libMu.Unlock()
	if libLoaded {
		return true
	}
	if C.load_pipewire() == 1 {
		libLoaded = true
		C.call_pw_init()
		return true
	}
	return false
}

// NewStream connects to the PipeWire remote behind fd and negotiates a raw
// video stream from the given node. fd stays owned by the caller.
func NewStream(fd int, opts StreamOptions) (*Stream, error) {
	if fd < 0 {
		return nil, fmt.Errorf("pipewire: invalid remote fd %d", fd)
	}
	if opts.Name == "" {
		opts.Name = "screenrec-capture"
	}
	if opts.FrameRate == 0 {
		opts.FrameRate = 60
	}
	return open(fd, opts.Name, "Video", "Screen", false, opts.OnState, func(st *C.struct_pw_stream) C.int {
		return C.connect_video(st, C.uint32_t(opts.NodeID), C.uint32_t(opts.Width), C.uint32_t(opts.Height), C.uint32_t(opts.FrameRate))
	})
}

// NewAudioStream captures 48 kHz stereo S16LE audio from the default
// microphone, or from the default sink's monitor when captureSink is set.
func NewAudioStream(captureSink bool, onState StateFunc) (*Stream, error) {
	role := "Communication"
	if captureSink {
		role = "Screen"
	}
	return open(-1, "screenrec-audio-capture", "Audio", role, captureSink, onState, func(st *C.struct_pw_stream) C.int {
		return C.connect_audio(st)
	})
}

// open builds loop, context, core and stream. A non-negative fd is
// duplicated first because PipeWire takes ownership of the one it gets.
func open(fd int, name, mediaType, role string, captureSink bool, onState StateFunc, connect func(*C.struct_pw_stream) C.int) (*Stream, error) {
	if !IsAvailable() {
		return nil, ErrLibraryNotLoaded
	}

	remote := -1
	if fd >= 0 {
		dup, err := unix.FcntlInt(uintptr(fd), unix.F_DUPFD_CLOEXEC, 0)
		if err != nil {
			return nil, fmt.Errorf("pipewire: dup remote fd: %w", err)
		}
		remote = dup
	}
	defer func() {
		if remote >= 0 {
			_ = unix.Close(remote)
		}
	}()

	pr, pw := io.Pipe()
	s := &Stream{pr: pr, pw: pw, onState: onState}
	streamsMu.Lock()
	s.id = nextID
	nextID++
	streamsMu.Unlock()

	fail := func(format string, args ...any) (*Stream, error) {
		_ = s.Close()
		return nil, fmt.Errorf("pipewire: "+format, args...)
	}

	if s.loop = C.new_main_loop(); s.loop == nil {
		return fail("create main loop")
	}
	if s.context = C.new_context(s.loop); s.context == nil {
		return fail("create context")
	}
	if s.core = C.open_core(s.context, C.int(remote)); s.core == nil {
		return fail("connect %s core", mediaType)
	}
	remote = -1

	cName, cMedia, cRole := C.CString(name), C.CString(mediaType), C.CString(role)
	defer func() {
		C.free(unsafe.Pointer(cName))
		C.free(unsafe.Pointer(cMedia))
		C.free(unsafe.Pointer(cRole))
	}()
	sink := C.int(0)
	if captureSink {
		sink = 1
	}

	s.cData = (*C.struct_go_stream_data)(C.malloc(C.sizeof_struct_go_stream_data))
	s.cData.id = C.int(s.id)
	s.cData.stream = nil
	if C.new_capture_stream(s.core, cName, s.cData, cMedia, cRole, sink) == nil {
		return fail("create %s stream", mediaType)
	}

	streamsMu.Lock()
	streams[s.id] = s
	streamsMu.Unlock()

	if res := connect(s.cData.stream); res < 0 {
		return fail("connect %s stream: %d", mediaType, int(res))
	}
	return s, nil
}

// Start runs the PipeWire loop on its own goroutine.
func (s *Stream) Start() {
	s.startOnce.Do(func() {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			C.run_main_loop(s.loop)
		}()
	})
}

func (s *Stream) Stop() {
	if s.loop != nil {
		C.quit_main_loop(s.loop)
	}
}

func (s *Stream) Read(p []byte) (int, error) {
	return s.pr.Read(p)
}

// Close stops the loop, waits for it and frees every native handle.
// Pending and later reads see io.ErrClosedPipe or the stream error.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		s.Stop()
		// Closing the pipe unblocks a frame callback stuck in Write.
		err := errors.Join(s.pw.Close(), s.pr.Close())
		s.wg.Wait()

		streamsMu.Lock()
		delete(streams, s.id)
		streamsMu.Unlock()

		var stream *C.struct_pw_stream
		if s.cData != nil {
			stream = s.cData.stream
		}
		C.release_stream(s.loop, s.context, s.core, stream)
		if s.cData != nil {
			C.free(unsafe.Pointer(s.cData))
		}
		s.loop, s.context, s.core, s.cData = nil, nil, nil, nil
		s.closeErr = err
	})
	return s.closeErr
}

// State returns the last state reported by PipeWire.
func (s *Stream) State() State {
	return State(s.state.Load())
}

func lookupStream(id C.int) (*Stream, bool) {
	streamsMu.Lock()
	defer streamsMu.Unlock()
	s, ok := streams[int(id)]
	return s, ok
}

//export on_state_changed_go
func on_state_changed_go(id C.int, old C.enum_pw_stream_state, state C.enum_pw_stream_state, reason *C.char) {
	s, ok := lookupStream(id)
	if !ok {
		return
	}
	next := State(int(state))
	s.state.Store(int32(next))

	msg := ""
	if reason != nil {
		msg = C.GoString(reason)
	}
	if s.onState != nil {
		s.onState(State(int(old)), next, msg)
	}
	if next == StateError {
		_ = s.pw.CloseWithError(fmt.Errorf("%w: %s", ErrStreamFailed, msg))
	}
}

//export on_frame_go
func on_frame_go(id C.int, data unsafe.Pointer, size C.uint32_t) {
	s, ok := lookupStream(id)
	if !ok {
		return
	}
	_, _ = s.pw.Write(unsafe.Slice((*byte)(data), int(size)))
}
