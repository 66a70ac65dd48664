// Package config loads the screenrec YAML configuration, applies
// SCREENREC_* environment overrides and watches the file for changes.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"go2tv.app/screenrec/internal/ffmpeg"
	"go2tv.app/screenrec/quality"
	"go2tv.app/screenrec/recorder"
	"go2tv.app/screenrec/screencast"
)

var ErrInvalid = errors.New("invalid configuration")

type Config struct {
	Quality  quality.Selection `yaml:"quality"`
	Display  Display           `yaml:"display"`
	Pipeline Pipeline          `yaml:"pipeline"`
	Capture  Capture           `yaml:"capture"`
	Log      Log               `yaml:"log"`
	Catalog  Catalog           `yaml:"catalog"`
}

type Display struct {
	Index int     `yaml:"index"`
	DPI   float64 `yaml:"dpi"`
}

type Pipeline struct {
	Variant          string        `yaml:"variant"`
	FFmpegPath       string        `yaml:"ffmpeg_path"`
	Encoder          string        `yaml:"encoder"`
	IncludeAudio     bool          `yaml:"include_audio"`
	AudioSource      string        `yaml:"audio_source"`
	IFrameInterval   time.Duration `yaml:"iframe_interval"`
	DrainIdleWait    time.Duration `yaml:"drain_idle_wait"`
	DrainJoinTimeout time.Duration `yaml:"drain_join_timeout"`
	StopGrace        time.Duration `yaml:"stop_grace"`
}

type Capture struct {
	StreamIndex  int    `yaml:"stream_index"`
	CursorMode   string `yaml:"cursor_mode"`
	AllowWindows bool   `yaml:"allow_windows"`
	QueueSize    int    `yaml:"queue_size"`
}

type Log struct {
	Level string `yaml:"level"`
}

type Catalog struct {
	Path string `yaml:"path"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	cfg := Config{
		Pipeline: Pipeline{
			Variant:          string(recorder.DefaultVariant),
			FFmpegPath:       "ffmpeg",
			Encoder:          ffmpeg.EncoderAuto,
			AudioSource:      ffmpeg.AudioMicrophone,
			IFrameInterval:   time.Second,
			DrainIdleWait:    2 * time.Millisecond,
			DrainJoinTimeout: 5 * time.Second,
			StopGrace:        3 * time.Second,
		},
		Capture: Capture{
			CursorMode: "embedded",
			QueueSize:  4,
		},
		Log: Log{Level: "info"},
	}
	if dir, err := os.UserCacheDir(); err == nil {
		cfg.Quality.CacheDirectory = filepath.Join(dir, "screenrec")
		cfg.Catalog.Path = filepath.Join(dir, "screenrec", "recordings.db")
	}
	return cfg
}

// DefaultPath is $XDG_CONFIG_HOME/screenrec/config.yaml.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "screenrec", "config.yaml")
}

// Load reads path over the defaults and applies environment overrides. An
// empty path uses DefaultPath, which may be absent; an explicit path must
// exist.
func Load(path string) (Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}
	if path != "" {
		err := loadFile(path, &cfg)
		switch {
		case err == nil:
		case !explicit && errors.Is(err, fs.ErrNotExist):
		default:
			return Config{}, err
		}
	}

	applyEnv(&cfg)
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// loadFile decodes strictly: unknown keys are errors.
func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("%w: %s: %v", ErrInvalid, path, err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: %s contains more than one document", ErrInvalid, path)
	}
	return nil
}

func applyEnv(cfg *Config) {
	q := &cfg.Quality
	q.MaxFrameSize = envString("MAX_FRAME_SIZE", q.MaxFrameSize)
	q.Quality = envString("VIDEO_QUALITY", q.Quality)
	q.FrameRate = envString("FRAME_RATE", q.FrameRate)
	q.CacheDirectory = envString("CACHE_DIR", q.CacheDirectory)

	p := &cfg.Pipeline
	p.Variant = envString("VARIANT", p.Variant)
	p.FFmpegPath = envString("FFMPEG", p.FFmpegPath)
	p.Encoder = envString("ENCODER", p.Encoder)
	p.IncludeAudio = BoolEnv("INCLUDE_AUDIO", p.IncludeAudio)
	p.AudioSource = envString("AUDIO_SOURCE", p.AudioSource)
	p.StopGrace = durationEnv("STOP_GRACE", p.StopGrace)
	p.DrainJoinTimeout = durationEnv("DRAIN_JOIN_TIMEOUT", p.DrainJoinTimeout)

	c := &cfg.Capture
	c.StreamIndex = IntEnvClamped("STREAM_INDEX", c.StreamIndex, 0, 16)
	c.CursorMode = envString("CURSOR_MODE", c.CursorMode)
	c.QueueSize = IntEnvClamped("QUEUE_SIZE", c.QueueSize, 1, 64)

	cfg.Display.Index = IntEnvClamped("DISPLAY_INDEX", cfg.Display.Index, 0, 16)
	cfg.Log.Level = envString("LOG_LEVEL", cfg.Log.Level)
	cfg.Catalog.Path = envString("CATALOG", cfg.Catalog.Path)
}

// Validate checks the pipeline and capture sections. Quality strings are
// only checked when a session resolves them.
func Validate(cfg Config) error {
	var errs []error
	if _, err := recorder.ParseVariant(cfg.Pipeline.Variant); err != nil {
		errs = append(errs, err)
	}
	switch cfg.Pipeline.AudioSource {
	case "", ffmpeg.AudioMicrophone, ffmpeg.AudioMonitor, ffmpeg.AudioSilence:
	default:
		errs = append(errs, fmt.Errorf("unknown audio source %q", cfg.Pipeline.AudioSource))
	}
	if _, err := screencast.ParseCursorMode(cfg.Capture.CursorMode); err != nil {
		errs = append(errs, err)
	}
	for name, d := range map[string]time.Duration{
		"iframe_interval": cfg.Pipeline.IFrameInterval,
		"drain_idle_wait": cfg.Pipeline.DrainIdleWait,
		"stop_grace":      cfg.Pipeline.StopGrace,
	} {
		if d < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative", name))
		}
	}
	if cfg.Capture.StreamIndex < 0 || cfg.Display.Index < 0 {
		errs = append(errs, errors.New("indexes must not be negative"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return nil
}
