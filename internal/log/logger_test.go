package log

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveLevel(t *testing.T) {
	t.Setenv("SCREENREC_LOG_LEVEL", "")
	t.Setenv("SCREENCAST_DEBUG", "")

	assert.Equal(t, zerolog.WarnLevel, resolveLevel("warn"))
	assert.Equal(t, zerolog.InfoLevel, resolveLevel(""))
	assert.Equal(t, zerolog.InfoLevel, resolveLevel("not-a-level"))

	t.Setenv("SCREENCAST_DEBUG", "1")
	assert.Equal(t, zerolog.DebugLevel, resolveLevel(""))

	t.Setenv("SCREENREC_LOG_LEVEL", "error")
	assert.Equal(t, zerolog.ErrorLevel, resolveLevel(""))
}

func TestDeriveAddsFields(t *testing.T) {
	var buf bytes.Buffer
	l := zerolog.New(&buf).With().Str(FieldComponent, "test").Logger()
	l.Info().Str(FieldEvent, "pipeline.started").Msg("hello")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "test", entry[FieldComponent])
	assert.Equal(t, "pipeline.started", entry[FieldEvent])

	derived := Derive(func(c *zerolog.Context) { *c = c.Str(FieldSessionID, "abc") })
	assert.NotNil(t, derived)
}
