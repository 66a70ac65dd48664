package xdgportal

import (
	"errors"
	"fmt"
	"testing"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go2tv.app/screenrec/internal/request"
)

func TestParseStreams(t *testing.T) {
	props := map[string]dbus.Variant{
		"position":    dbus.MakeVariant([]any{int32(0), int32(0)}),
		"size":        dbus.MakeVariant([]any{int32(2560), int32(1440)}),
		"source_type": dbus.MakeVariant(SourceTypeMonitor),
		"id":          dbus.MakeVariant("DP-1"),
	}

	streams := ParseStreams([]any{
		[]any{uint32(42), props},
		[]any{uint32(7)},
		"garbage",
	})
	require.Len(t, streams, 1)
	assert.Equal(t, Stream{
		NodeID:     42,
		Size:       [2]int32{2560, 1440},
		SourceType: SourceTypeMonitor,
		ID:         "DP-1",
	}, streams[0])

	streams = ParseStreams([][]any{{uint32(3), map[string]dbus.Variant{}}})
	require.Len(t, streams, 1)
	assert.Equal(t, uint32(3), streams[0].NodeID)

	assert.Nil(t, ParseStreams(uint32(1)))
}

func TestResponseErrorMatching(t *testing.T) {
	cancelled := fmt.Errorf("wrap: %w", &ResponseError{Method: startName, Status: request.Cancelled})
	assert.True(t, errors.Is(cancelled, ErrCancelled))
	assert.False(t, errors.Is(cancelled, ErrEnded))

	ended := &ResponseError{Method: startName, Status: request.Ended}
	assert.True(t, errors.Is(ended, ErrEnded))
	assert.False(t, errors.Is(ended, ErrCancelled))
	assert.Contains(t, ended.Error(), "response status 2")
}
