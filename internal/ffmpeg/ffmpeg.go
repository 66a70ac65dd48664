// Package ffmpeg runs ffmpeg child processes as the raw H.264 encoder and as
// the all-in-one platform recorder.
package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"

	xlog "go2tv.app/screenrec/internal/log"
	"go2tv.app/screenrec/recorder"
)

const (
	defaultPath          = "ffmpeg"
	defaultStopGrace     = 3 * time.Second
	defaultStartupWindow = 250 * time.Millisecond
	defaultAudioChunk    = 4096
	defaultAudioQueue    = 384
	defaultUnitQueue     = 64
	maxAccessUnitSize    = 32 << 20
)

// Audio sources for the platform recorder.
const (
	AudioMicrophone = "mic"
	AudioMonitor    = "monitor"
	AudioSilence    = "silence"
)

var (
	ErrNotConfigured  = errors.New("ffmpeg process is not configured")
	ErrAlreadyStarted = errors.New("ffmpeg process already started")
	ErrExited         = errors.New("ffmpeg exited")
	ErrFormatUnknown  = errors.New("encoder output format is not known yet")
	ErrUnknownBuffer  = errors.New("unknown output buffer index")
	ErrInvalidConfig  = errors.New("invalid encoder configuration")
)

// AudioOpener opens a PCM s16le 48kHz stereo source.
type AudioOpener func(source string) (io.ReadCloser, error)

// Options configure the ffmpeg based encoder and recorder.
type Options struct {
	Path string
	// Encoder names an ffmpeg video encoder, or "auto" (empty) to probe for
	// hardware support and fall back to libx264.
	Encoder string
	// StopGrace bounds how long a stopping ffmpeg may take to flush.
	StopGrace time.Duration
	// StartupWindow is how long Start watches for an immediate exit.
	StartupWindow time.Duration
	AudioSource   string
	AudioOpener   AudioOpener
	Logger        *zerolog.Logger
}

func normalizeOptions(opts Options) (Options, error) {
	if strings.TrimSpace(opts.Path) == "" {
		opts.Path = defaultPath
	}
	opts.Encoder = strings.TrimSpace(opts.Encoder)
	if opts.Encoder == "" {
		opts.Encoder = EncoderAuto
	}
	if opts.StopGrace <= 0 {
		opts.StopGrace = defaultStopGrace
	}
	if opts.StartupWindow <= 0 {
		opts.StartupWindow = defaultStartupWindow
	}
	switch opts.AudioSource {
	case "":
		opts.AudioSource = AudioMicrophone
	case AudioMicrophone, AudioMonitor, AudioSilence:
	default:
		return opts, fmt.Errorf("%w: unknown audio source %q", ErrInvalidConfig, opts.AudioSource)
	}
	if opts.AudioOpener == nil {
		opts.AudioOpener = openPipeWireAudio
	}
	return opts, nil
}

// Factory creates encoders and platform recorders backed by ffmpeg.
type Factory struct {
	opts Options
	log  zerolog.Logger
}

var (
	_ recorder.EncoderFactory  = (*Factory)(nil)
	_ recorder.RecorderFactory = (*Factory)(nil)
)

// NewFactory validates opts and returns a Factory.
func NewFactory(opts Options) (*Factory, error) {
	o, err := normalizeOptions(opts)
	if err != nil {
		return nil, err
	}
	log := xlog.WithComponent("ffmpeg")
	if o.Logger != nil {
		log = o.Logger.With().Str(xlog.FieldComponent, "ffmpeg").Logger()
	}
	return &Factory{opts: o, log: log}, nil
}

func (f *Factory) plan(ctx context.Context) (Plan, error) {
	if f.opts.Encoder != EncoderAuto {
		return PlanFor(f.opts.Encoder)
	}
	return selectEncoder(ctx, f.opts.Path, f.log), nil
}

// NewEncoder returns an encoder producing a raw H.264 stream.
func (f *Factory) NewEncoder(ctx context.Context) (recorder.Encoder, error) {
	plan, err := f.plan(ctx)
	if err != nil {
		return nil, err
	}
	return newEncoder(f.opts, plan, f.log), nil
}

// NewRecorder returns a recorder writing an MP4 file directly.
func (f *Factory) NewRecorder(ctx context.Context) (recorder.PlatformRecorder, error) {
	plan, err := f.plan(ctx)
	if err != nil {
		return nil, err
	}
	return newPlatformRecorder(f.opts, plan, f.log), nil
}

func validateConfig(cfg recorder.EncoderConfig) error {
	spec := cfg.Spec
	switch {
	case spec.Width <= 0 || spec.Height <= 0:
		return fmt.Errorf("%w: output size %dx%d", ErrInvalidConfig, spec.Width, spec.Height)
	case spec.FrameRate <= 0:
		return fmt.Errorf("%w: frame rate %d", ErrInvalidConfig, spec.FrameRate)
	case spec.BitRate <= 0:
		return fmt.Errorf("%w: bit rate %d", ErrInvalidConfig, spec.BitRate)
	case cfg.Source.Width <= 0 || cfg.Source.Height <= 0:
		return fmt.Errorf("%w: source size %dx%d", ErrInvalidConfig, cfg.Source.Width, cfg.Source.Height)
	}
	return nil
}
