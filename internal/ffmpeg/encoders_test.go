package ffmpeg

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const encodersOutput = `Encoders:
 V..... = Video
 A..... = Audio
 ------
 V....D libx264              libx264 H.264 / AVC / MPEG-4 AVC / MPEG-4 part 10 (codec h264)
 V....D h264_nvenc           NVIDIA NVENC H.264 encoder (codec h264)
 V....D h264_vaapi           H.264/AVC (VAAPI) (codec h264)
 A....D aac                  AAC (Advanced Audio Coding)
`

func TestParseEncoderList(t *testing.T) {
	got := parseEncoderList(encodersOutput)

	assert.Contains(t, got, "libx264")
	assert.Contains(t, got, "h264_nvenc")
	assert.Contains(t, got, "h264_vaapi")
	assert.NotContains(t, got, "aac")
	assert.NotContains(t, got, "=")
}

func TestPlanFor(t *testing.T) {
	p, err := PlanFor("libx264")
	require.NoError(t, err)
	assert.False(t, p.Hardware)
	assert.Contains(t, p.codecArgs(1_000_000, 30), "ultrafast")

	_, err = PlanFor("mpeg2video")
	assert.True(t, errors.Is(err, ErrInvalidConfig))
}

func TestNormalizeOptions(t *testing.T) {
	o, err := normalizeOptions(Options{})
	require.NoError(t, err)
	assert.Equal(t, "ffmpeg", o.Path)
	assert.Equal(t, EncoderAuto, o.Encoder)
	assert.Equal(t, AudioMicrophone, o.AudioSource)
	assert.Equal(t, defaultStopGrace, o.StopGrace)

	_, err = normalizeOptions(Options{AudioSource: "line-in"})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
