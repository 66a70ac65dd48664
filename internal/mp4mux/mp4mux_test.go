package mp4mux

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go2tv.app/screenrec/recorder"
)

// Baseline 320x240 parameter sets.
var (
	sps = []byte{0x67, 0x42, 0xc0, 0x1e, 0xda, 0x05, 0x07, 0xe4}
	pps = []byte{0x68, 0xce, 0x3c, 0x80}
	aud = []byte{0x09, 0xf0}
	idr = []byte{0x65, 0x88, 0x84, 0x21, 0xa0}
	p   = []byte{0x41, 0x9a, 0x02, 0x10}
)

func annexB(nalus ...[]byte) []byte {
	var b bytes.Buffer
	for _, n := range nalus {
		b.Write([]byte{0, 0, 0, 1})
		b.Write(n)
	}
	return b.Bytes()
}

func format() recorder.Format {
	return recorder.Format{
		MIME:      recorder.MIMEVideoAVC,
		Width:     320,
		Height:    240,
		FrameRate: 30,
		SPS:       [][]byte{sps},
		PPS:       [][]byte{pps},
	}
}

func newMuxer(t *testing.T) (*Muxer, string) {
	t.Helper()
	log := zerolog.Nop()
	path := filepath.Join(t.TempDir(), "out.mp4")
	m, err := NewFactory(&log).NewMuxer(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Release() })
	return m.(*Muxer), path
}

func frame(i int, key bool) recorder.BufferInfo {
	info := recorder.BufferInfo{PresentationTime: time.Duration(i) * time.Second / 30}
	if key {
		info.Flags = recorder.FlagKeyFrame
	}
	return info
}

func TestMuxer_WritesFragmentPerKeyFrame(t *testing.T) {
	m, path := newMuxer(t)

	track, err := m.AddTrack(format())
	require.NoError(t, err)
	require.NoError(t, m.Start())

	units := []struct {
		data []byte
		key  bool
	}{
		{annexB(aud, sps, pps, idr), true},
		{annexB(aud, p), false},
		{annexB(aud, p), false},
		{annexB(aud, sps, pps, idr), true},
		{annexB(aud, p), false},
	}
	for i, u := range units {
		require.NoError(t, m.WriteSample(track, u.data, frame(i, u.key)))
	}

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err), "file must not appear before Stop")

	require.NoError(t, m.Stop())
	require.NoError(t, m.Release())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "ftyp", string(data[4:8]))
	assert.Equal(t, 2, bytes.Count(data, []byte("moof")))
	assert.True(t, bytes.Contains(data, []byte("avcC")))
	assert.Equal(t, 5, m.samples)
}

func TestMuxer_NoSamplesLeavesNoFile(t *testing.T) {
	m, path := newMuxer(t)
	_, err := m.AddTrack(format())
	require.NoError(t, err)
	require.NoError(t, m.Start())

	assert.ErrorIs(t, m.Stop(), ErrNoSamples)
	require.NoError(t, m.Release())
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestMuxer_ReleaseWithoutStopDiscards(t *testing.T) {
	m, path := newMuxer(t)
	_, err := m.AddTrack(format())
	require.NoError(t, err)
	require.NoError(t, m.Start())
	require.NoError(t, m.WriteSample(0, annexB(aud, idr), frame(0, true)))

	require.NoError(t, m.Release())
	require.NoError(t, m.Release())
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
	assert.ErrorIs(t, m.WriteSample(0, annexB(p), frame(1, false)), ErrFinished)
}

func TestMuxer_Guards(t *testing.T) {
	m, _ := newMuxer(t)

	assert.ErrorIs(t, m.Start(), ErrNotStarted)
	assert.ErrorIs(t, m.WriteSample(0, annexB(idr), frame(0, true)), ErrNotStarted)

	bad := format()
	bad.MIME = "video/hevc"
	_, err := m.AddTrack(bad)
	assert.ErrorIs(t, err, ErrUnsupportedMIME)

	_, err = m.AddTrack(format())
	require.NoError(t, err)
	_, err = m.AddTrack(format())
	assert.ErrorIs(t, err, ErrTrackExists)

	require.NoError(t, m.Start())
	assert.ErrorIs(t, m.WriteSample(1, annexB(idr), frame(0, true)), ErrUnknownTrack)
}

func TestLengthPrefixed(t *testing.T) {
	got := lengthPrefixed(annexB(aud, sps, pps, idr))
	want := append([]byte{0, 0, 0, byte(len(idr))}, idr...)
	assert.Equal(t, want, got)

	assert.Empty(t, lengthPrefixed(annexB(aud, sps)))
}
