package quality

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveGeometry_Scenarios(t *testing.T) {
	tests := []struct {
		name    string
		preset  string
		display DisplayMetrics
		want    Geometry
	}{
		{
			name:    "full hd landscape into 720p box",
			preset:  FramePresetMedium,
			display: DisplayMetrics{Width: 1920, Height: 1080, DensityDPI: 160, Orientation: Landscape},
			want:    Geometry{Width: 1216, Height: 672, DensityDPI: 253},
		},
		{
			name:    "full hd portrait into 720p box",
			preset:  FramePresetMedium,
			display: DisplayMetrics{Width: 1080, Height: 1920, DensityDPI: 160, Orientation: Portrait},
			want:    Geometry{Width: 704, Height: 1248, DensityDPI: 245},
		},
		{
			name:    "display already inside box",
			preset:  FramePresetMedium,
			display: DisplayMetrics{Width: 800, Height: 600, DensityDPI: 96, Orientation: Landscape},
			want:    Geometry{Width: 736, Height: 544, DensityDPI: 104},
		},
		{
			name:    "tiny display is clamped positive",
			preset:  FramePresetSmall,
			display: DisplayMetrics{Width: 10, Height: 10, DensityDPI: 96, Orientation: Landscape},
			want:    Geometry{Width: 32, Height: 32, DensityDPI: 30},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolveGeometry(tt.preset, tt.display)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolveGeometry_AlwaysPositiveAnd16Aligned(t *testing.T) {
	sizes := []int{1, 7, 16, 31, 100, 333, 480, 720, 1080, 1366, 1920, 2560, 3840, 8000}
	for _, preset := range FramePresets {
		for _, w := range sizes {
			for _, h := range sizes {
				for _, o := range []Orientation{Portrait, Landscape} {
					g, err := ResolveGeometry(preset, DisplayMetrics{Width: w, Height: h, DensityDPI: 160, Orientation: o})
					require.NoError(t, err)
					assert.Positive(t, g.Width, "%s %dx%d %s", preset, w, h, o)
					assert.Positive(t, g.Height, "%s %dx%d %s", preset, w, h, o)
					assert.Zero(t, g.Height%16, "%s %dx%d %s", preset, w, h, o)
				}
			}
		}
	}
}

func TestResolveGeometry_KeepsAspectWhenInsideBox(t *testing.T) {
	displays := [][2]int{{800, 600}, {1024, 576}, {640, 480}, {1280, 720}}
	for _, d := range displays {
		g, err := ResolveGeometry(FramePresetMedium, DisplayMetrics{
			Width: d[0], Height: d[1], DensityDPI: 96, Orientation: OrientationOf(d[0], d[1]),
		})
		require.NoError(t, err)
		exact := g.Width * d[1] / d[0]
		assert.Less(t, exact-g.Height, 16, "display %v", d)
		assert.GreaterOrEqual(t, exact-g.Height, 0, "display %v", d)
	}
}

func TestResolveGeometry_RejectsMalformedPreset(t *testing.T) {
	for _, preset := range []string{"", "other", "LEVEL_x_720", "LEVEL_1280", "LEVEL_0_720"} {
		_, err := ResolveGeometry(preset, DisplayMetrics{Width: 1920, Height: 1080, Orientation: Landscape})
		assert.ErrorIs(t, err, ErrConfiguration, preset)
	}
	_, err := ResolveGeometry(FramePresetMedium, DisplayMetrics{Width: 0, Height: 1080})
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestFitWithin(t *testing.T) {
	w, h := fitWithin(1000, 1000, 480, 360)
	assert.Equal(t, 360, w)
	assert.Equal(t, 360, h)

	w, h = fitWithin(2560, 1080, 1280, 720)
	assert.Equal(t, 1280, w)
	assert.Equal(t, 540, h)
}

func TestDisplayWidthReference(t *testing.T) {
	assert.Equal(t, 1280, displayWidthReference(1280))
	assert.Equal(t, 704, displayWidthReference(720))
	assert.Equal(t, 736, displayWidthReference(725))
	assert.Equal(t, 704, displayWidthReference(717))
	assert.Equal(t, 0, displayWidthReference(10))
}

func TestBitrate(t *testing.T) {
	assert.Equal(t, 3145728, Bitrate(FramePresetMedium, LevelHigh))
	assert.Equal(t, 196608, Bitrate(FramePresetMedium, LevelSuperLow))
	assert.Equal(t, 12582912, Bitrate(FramePresetMedium, LevelSuperHigh))

	prev := 0
	for _, level := range Levels() {
		medium := Bitrate(FramePresetMedium, level)
		assert.Equal(t, medium/3, Bitrate(FramePresetSmall, level), level.String())
		assert.Equal(t, medium*2, Bitrate("other", level), level.String())
		assert.Equal(t, medium*2, Bitrate(FramePresetLarge, level), level.String())
		assert.Greater(t, medium, prev)
		prev = medium
	}
}

func TestParseLevel(t *testing.T) {
	for _, level := range Levels() {
		got, err := ParseLevel(level.String())
		require.NoError(t, err)
		assert.Equal(t, level, got)
	}
	got, err := ParseLevel("level_medium")
	require.NoError(t, err)
	assert.Equal(t, LevelMedium, got)

	_, err = ParseLevel("LEVEL_ULTRA")
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestSelectionDefaults(t *testing.T) {
	sel := Selection{}.WithDefaults()
	assert.Equal(t, Selection{
		MaxFrameSize:   "LEVEL_1280_720",
		Quality:        "LEVEL_HIGH",
		FrameRate:      "30",
		CacheDirectory: "/sdcard",
	}, sel)

	sel = Selection{FrameRate: "15", CacheDirectory: "/tmp/rec"}.WithDefaults()
	assert.Equal(t, "15", sel.FrameRate)
	assert.Equal(t, "/tmp/rec", sel.CacheDirectory)

	sel = Selection{MaxFrameSize: "  ", Quality: " LEVEL_LOW "}.WithDefaults()
	assert.Equal(t, DefaultFramePreset, sel.MaxFrameSize)
	assert.Equal(t, "LEVEL_LOW", sel.Quality)
}

func TestResolve(t *testing.T) {
	dir := t.TempDir()
	now := time.UnixMilli(1700000000123)

	spec, err := Resolve(Selection{
		MaxFrameSize:   FramePresetMedium,
		Quality:        "LEVEL_HIGH",
		CacheDirectory: dir,
	}, DisplayMetrics{Width: 1920, Height: 1080, DensityDPI: 160, Orientation: Landscape}, now)
	require.NoError(t, err)

	assert.LessOrEqual(t, spec.Width, 1280)
	assert.LessOrEqual(t, spec.Height, 720)
	assert.Zero(t, spec.Width%2)
	assert.Zero(t, spec.Height%2)
	assert.Equal(t, 3145728, spec.BitRate)
	assert.Equal(t, 30, spec.FrameRate)
	assert.Equal(t, filepath.Join(dir, "1700000000123.mp4"), spec.OutputPath)
	assert.Equal(t, "1216x672", spec.Resolution())
}

func TestResolve_PaddedSelection(t *testing.T) {
	dir := t.TempDir()
	now := time.UnixMilli(1700000000123)

	spec, err := Resolve(Selection{
		MaxFrameSize:   " LEVEL_480_360 ",
		Quality:        "LEVEL_HIGH\t",
		FrameRate:      " 24",
		CacheDirectory: " " + dir + " ",
	}, DisplayMetrics{Width: 1920, Height: 1080, DensityDPI: 160, Orientation: Landscape}, now)
	require.NoError(t, err)

	assert.LessOrEqual(t, spec.Width, 480)
	assert.LessOrEqual(t, spec.Height, 360)
	assert.Equal(t, Bitrate(FramePresetSmall, LevelHigh), spec.BitRate, "bitrate follows the preset the geometry used")
	assert.Equal(t, 1048576, spec.BitRate)
	assert.Equal(t, FramePresetSmall, spec.FramePreset)
	assert.Equal(t, 24, spec.FrameRate)
	assert.Equal(t, filepath.Join(dir, "1700000000123.mp4"), spec.OutputPath)
}

func TestResolve_ConfigurationErrors(t *testing.T) {
	display := DisplayMetrics{Width: 1920, Height: 1080, DensityDPI: 160, Orientation: Landscape}
	cases := []Selection{
		{MaxFrameSize: "LEVEL_BIG"},
		{Quality: "LEVEL_NONE"},
		{FrameRate: "fast"},
		{FrameRate: "-5"},
	}
	for _, sel := range cases {
		_, err := Resolve(sel, display, time.Now())
		assert.ErrorIs(t, err, ErrConfiguration, "%+v", sel)
	}
}
