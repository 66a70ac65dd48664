package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"go2tv.app/screenrec/capture"
	"go2tv.app/screenrec/internal/catalog"
	"go2tv.app/screenrec/internal/config"
	"go2tv.app/screenrec/internal/display"
	"go2tv.app/screenrec/internal/ffmpeg"
	xlog "go2tv.app/screenrec/internal/log"
	"go2tv.app/screenrec/internal/mp4mux"
	"go2tv.app/screenrec/quality"
	"go2tv.app/screenrec/recorder"
	"go2tv.app/screenrec/screencast"
	"go2tv.app/screenrec/session"
)

const (
	stopTimeout    = 15 * time.Second
	catalogTimeout = 5 * time.Second
)

// app holds what outlives a single recording: the catalog and the current
// configuration. Collaborators are rebuilt for every session so config
// reloads apply to the next one.
type app struct {
	log   zerolog.Logger
	store *catalog.Store

	mu  sync.Mutex
	cfg config.Config
}

func newApp(cfg config.Config) (*app, error) {
	a := &app{log: xlog.WithComponent("cli"), cfg: cfg}
	if cfg.Catalog.Path != "" {
		store, err := catalog.Open(cfg.Catalog.Path)
		if err != nil {
			return nil, err
		}
		a.store = store
	}
	return a, nil
}

func (a *app) Close() error {
	if a.store == nil {
		return nil
	}
	return a.store.Close()
}

func (a *app) config() config.Config {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg
}

func (a *app) setConfig(cfg config.Config) {
	a.mu.Lock()
	a.cfg = cfg
	a.mu.Unlock()
}

// controller wires a session controller from cfg.
func (a *app) controller(cfg config.Config) (*session.Controller, error) {
	variant, err := recorder.ParseVariant(cfg.Pipeline.Variant)
	if err != nil {
		return nil, err
	}
	fps, _ := strconv.Atoi(cfg.Quality.WithDefaults().FrameRate)
	auth, err := screencast.New(screencast.Options{
		StreamIndex:  cfg.Capture.StreamIndex,
		CursorMode:   cfg.Capture.CursorMode,
		AllowWindows: cfg.Capture.AllowWindows,
		FrameRate:    fps,
	})
	if err != nil {
		return nil, err
	}
	codecs, err := ffmpeg.NewFactory(ffmpeg.Options{
		Path:        cfg.Pipeline.FFmpegPath,
		Encoder:     cfg.Pipeline.Encoder,
		StopGrace:   cfg.Pipeline.StopGrace,
		AudioSource: cfg.Pipeline.AudioSource,
	})
	if err != nil {
		return nil, err
	}

	return session.NewController(session.Config{
		Pipeline: recorder.Config{
			Variant:          variant,
			Authorizer:       auth,
			Mirrors:          capture.NewFactory(capture.Options{QueueSize: cfg.Capture.QueueSize}),
			Encoders:         codecs,
			Muxers:           mp4mux.NewFactory(nil),
			Recorders:        codecs,
			IncludeAudio:     cfg.Pipeline.IncludeAudio,
			IFrameInterval:   cfg.Pipeline.IFrameInterval,
			DrainIdleWait:    cfg.Pipeline.DrainIdleWait,
			DrainJoinTimeout: cfg.Pipeline.DrainJoinTimeout,
		},
		OnFinalized: a.remember,
	}), nil
}

func (a *app) remember(rec session.Recording) {
	if a.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), catalogTimeout)
	defer cancel()
	err := a.store.Add(ctx, catalog.Entry{
		SessionID: rec.SessionID,
		Path:      rec.Path,
		Variant:   string(rec.Variant),
		Width:     rec.Spec.Width,
		Height:    rec.Spec.Height,
		BitRate:   rec.Spec.BitRate,
		FrameRate: rec.Spec.FrameRate,
		StartedAt: rec.StartedAt,
		StoppedAt: rec.StoppedAt,
	})
	if err != nil {
		a.log.Warn().Err(err).Str(xlog.FieldSessionID, rec.SessionID).Msg("catalog insert failed")
	}
}

// displayMetrics prefers the configured monitor and falls back to the size
// of the granted stream.
func (a *app) displayMetrics(cfg config.Config, res recorder.Result) quality.DisplayMetrics {
	m, err := display.Metrics(display.System, cfg.Display.Index, cfg.Display.DPI)
	if err == nil {
		return m
	}
	if w, h, ok := screencast.StreamSize(res, cfg.Capture.StreamIndex); ok {
		a.log.Debug().Err(err).Int("width", w).Int("height", h).Msg("using portal stream size as display metrics")
		return display.FromSize(w, h, cfg.Display.DPI)
	}
	a.log.Warn().Err(err).Msg("no display metrics available")
	return display.FromSize(0, 0, cfg.Display.DPI)
}

// record runs one session: the permission dialog, start, and stop once
// stop is closed or ctx ends. started is called with the resolved spec.
func (a *app) record(ctx context.Context, stop <-chan struct{}, started func(quality.VideoSpec)) (session.Recording, error) {
	cfg := a.config()
	if dir := cfg.Quality.CacheDirectory; dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return session.Recording{}, fmt.Errorf("create output directory: %w", err)
		}
	}
	ctrl, err := a.controller(cfg)
	if err != nil {
		return session.Recording{}, err
	}

	results := make(chan recorder.Result, 1)
	if _, err := ctrl.RequestCapture(ctx, func(res recorder.Result) { results <- res }); err != nil {
		return session.Recording{}, err
	}
	res := <-results

	spec, err := ctrl.Start(ctx, cfg.Quality, a.displayMetrics(cfg, res), res)
	if err != nil {
		return session.Recording{}, err
	}
	if started != nil {
		started(spec)
	}

	select {
	case <-stop:
	case <-ctx.Done():
	}
	stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	return ctrl.Stop(stopCtx)
}
