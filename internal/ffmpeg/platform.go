package ffmpeg

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	xlog "go2tv.app/screenrec/internal/log"
	"go2tv.app/screenrec/recorder"
)

// Recorder is a single ffmpeg process that encodes mirrored frames and
// writes the MP4 container itself, optionally mixing in an audio source.
type Recorder struct {
	opts Options
	plan Plan
	log  zerolog.Logger

	cfg   recorder.EncoderConfig
	proc  *process
	audio *audioRelay
}

var _ recorder.PlatformRecorder = (*Recorder)(nil)

func newPlatformRecorder(opts Options, plan Plan, log zerolog.Logger) *Recorder {
	return &Recorder{
		opts: opts,
		plan: plan,
		log:  log.With().Str(xlog.FieldEncoder, plan.Label).Logger(),
	}
}

// Configure prepares the ffmpeg command. With IncludeAudio the configured
// audio source is opened now; if it cannot be opened, silence is recorded
// instead so the file still carries an audio track.
func (r *Recorder) Configure(cfg recorder.EncoderConfig) error {
	if r.proc != nil {
		return ErrAlreadyStarted
	}
	if err := validateConfig(cfg); err != nil {
		return err
	}
	if cfg.Spec.OutputPath == "" {
		return fmt.Errorf("%w: empty output path", ErrInvalidConfig)
	}

	audioURL := ""
	if cfg.IncludeAudio {
		relay, err := startAudioRelay(r.openAudio(), r.log)
		if err != nil {
			return err
		}
		r.audio = relay
		audioURL = relay.URL()
	}

	proc, err := newProcess(r.opts.Path, recordArgs(r.plan, cfg, audioURL), r.log)
	if err != nil {
		return errors.Join(err, r.closeAudio())
	}
	r.cfg = cfg
	r.proc = proc
	return nil
}

func (r *Recorder) openAudio() io.ReadCloser {
	src, err := r.opts.AudioOpener(r.opts.AudioSource)
	if err == nil {
		r.log.Info().Str(xlog.FieldEvent, "audio.source").Str("source", r.opts.AudioSource).Msg("recording audio")
		return src
	}
	r.log.Warn().
		Err(err).
		Str(xlog.FieldEvent, "audio.fallback").
		Str("source", r.opts.AudioSource).
		Msg("audio source unavailable, recording silence")
	return newSilenceReader(20 * time.Millisecond)
}

func (r *Recorder) InputSurface() (recorder.Surface, error) {
	if r.proc == nil {
		return nil, ErrNotConfigured
	}
	return r.proc, nil
}

func (r *Recorder) Start() error {
	if r.proc == nil {
		return ErrNotConfigured
	}
	if err := r.proc.start(r.opts.StartupWindow); err != nil {
		return err
	}
	r.log.Info().
		Str(xlog.FieldEvent, "recorder.started").
		Str(xlog.FieldResolution, r.cfg.Spec.Resolution()).
		Int(xlog.FieldBitrate, r.cfg.Spec.BitRate).
		Int(xlog.FieldFPS, r.cfg.Spec.FrameRate).
		Bool("audio", r.audio != nil).
		Str(xlog.FieldPath, r.cfg.Spec.OutputPath).
		Msg("ffmpeg recorder started")
	return nil
}

// Stop ends video input first so ffmpeg finalises the file, then the audio.
func (r *Recorder) Stop() error {
	if r.proc == nil {
		return ErrNotConfigured
	}
	_ = r.proc.Close()
	audioErr := r.closeAudio()
	return errors.Join(r.proc.stop(r.opts.StopGrace), audioErr)
}

func (r *Recorder) Release() error {
	err := r.closeAudio()
	if r.proc == nil {
		return err
	}
	return errors.Join(r.proc.kill(), err)
}

func (r *Recorder) closeAudio() error {
	if r.audio == nil {
		return nil
	}
	a := r.audio
	r.audio = nil
	return a.Close()
}
