package config

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_FileOverDefaults(t *testing.T) {
	path := writeConfig(t, t.TempDir(), `
quality:
  max_frame_size: LEVEL_1920_1080
  video_quality: LEVEL_MEDIUN
  cache_dir: /tmp/recordings
pipeline:
  variant: recorder
  include_audio: true
  drain_join_timeout: 2s
capture:
  cursor_mode: hidden
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "LEVEL_1920_1080", cfg.Quality.MaxFrameSize)
	assert.Equal(t, "LEVEL_MEDIUN", cfg.Quality.Quality)
	assert.Empty(t, cfg.Quality.FrameRate)
	assert.Equal(t, "/tmp/recordings", cfg.Quality.CacheDirectory)
	assert.Equal(t, "recorder", cfg.Pipeline.Variant)
	assert.True(t, cfg.Pipeline.IncludeAudio)
	assert.Equal(t, 2*time.Second, cfg.Pipeline.DrainJoinTimeout)
	assert.Equal(t, 3*time.Second, cfg.Pipeline.StopGrace)
	assert.Equal(t, "hidden", cfg.Capture.CursorMode)
	assert.Equal(t, 4, cfg.Capture.QueueSize)
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "pipeline:\n  variant: recorder\n")
	t.Setenv("SCREENREC_VARIANT", "encoder")
	t.Setenv("SCREENREC_FRAME_RATE", "24")
	t.Setenv("SCREENREC_INCLUDE_AUDIO", "yes")
	t.Setenv("SCREENREC_QUEUE_SIZE", "500")
	t.Setenv("SCREENREC_STOP_GRACE", "750ms")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "encoder", cfg.Pipeline.Variant)
	assert.Equal(t, "24", cfg.Quality.FrameRate)
	assert.True(t, cfg.Pipeline.IncludeAudio)
	assert.Equal(t, 64, cfg.Capture.QueueSize)
	assert.Equal(t, 750*time.Millisecond, cfg.Pipeline.StopGrace)
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, dir, "pipeline:\n  variantt: encoder\n"))
	assert.ErrorIs(t, err, ErrInvalid)

	_, err = Load(writeConfig(t, dir, "pipeline:\n  variant: hybrid\n"))
	assert.ErrorIs(t, err, ErrInvalid)

	_, err = Load(writeConfig(t, dir, "capture:\n  cursor_mode: sparkly\n"))
	assert.ErrorIs(t, err, ErrInvalid)

	_, err = Load(writeConfig(t, dir, "pipeline:\n  stop_grace: -1s\n"))
	assert.ErrorIs(t, err, ErrInvalid)

	_, err = Load(writeConfig(t, dir, "log:\n  level: debug\n---\nlog:\n  level: info\n"))
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestLoad_EmptyFileKeepsDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, t.TempDir(), ""))
	require.NoError(t, err)
	assert.Equal(t, Default().Pipeline, cfg.Pipeline)
}

func TestIntEnvClamped(t *testing.T) {
	t.Setenv("SCREENREC_N", "-4")
	assert.Equal(t, 1, IntEnvClamped("N", 7, 1, 10))
	t.Setenv("SCREENREC_N", "x")
	assert.Equal(t, 7, IntEnvClamped("N", 7, 1, 10))
	t.Setenv("SCREENREC_N", "")
	assert.Equal(t, 7, IntEnvClamped("N", 7, 1, 10))
}

func TestWatch_ReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "quality:\n  frame_rate: \"15\"\n")

	var mu sync.Mutex
	var got []Config
	w, err := watch(path, func(c Config) {
		mu.Lock()
		got = append(got, c)
		mu.Unlock()
	}, zerolog.Nop(), 20*time.Millisecond)
	require.NoError(t, err)
	defer w.Close()

	writeConfig(t, dir, "quality:\n  frame_rate: \"bogus-but-unchecked\"\npipeline:\n  variant: nope\n")
	time.Sleep(100 * time.Millisecond)
	writeConfig(t, dir, "quality:\n  frame_rate: \"24\"\n")

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) > 0 && got[len(got)-1].Quality.FrameRate == "24"
	}, 3*time.Second, 10*time.Millisecond)

	mu.Lock()
	for _, c := range got {
		assert.NotEqual(t, "nope", c.Pipeline.Variant)
	}
	mu.Unlock()

	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
}

func TestWatch_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "")

	calls := make(chan Config, 4)
	w, err := watch(path, func(c Config) { calls <- c }, zerolog.Nop(), 10*time.Millisecond)
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("x: 1"), 0o600))
	select {
	case <-calls:
		t.Fatal("unrelated file triggered a reload")
	case <-time.After(150 * time.Millisecond):
	}
}
