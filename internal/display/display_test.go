package display

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go2tv.app/screenrec/quality"
)

type fakeSource []image.Rectangle

func (f fakeSource) NumActiveDisplays() int                 { return len(f) }
func (f fakeSource) GetDisplayBounds(i int) image.Rectangle { return f[i] }

type panicSource struct{}

func (panicSource) NumActiveDisplays() int               { panic("no X server") }
func (panicSource) GetDisplayBounds(int) image.Rectangle { return image.Rectangle{} }

func TestMetrics(t *testing.T) {
	src := fakeSource{
		image.Rect(0, 0, 2560, 1440),
		image.Rect(2560, 0, 3640, 1920),
	}

	m, err := Metrics(src, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, 1080, m.Width)
	assert.Equal(t, 1920, m.Height)
	assert.Equal(t, float64(DefaultDPI), m.DensityDPI)
	assert.Equal(t, quality.Portrait, m.Orientation)

	_, err = Metrics(src, 2, 0)
	assert.Error(t, err)
}

func TestMetrics_NoDisplays(t *testing.T) {
	_, err := Metrics(fakeSource{}, 0, 120)
	assert.ErrorIs(t, err, ErrNoDisplay)

	_, err = Metrics(panicSource{}, 0, 120)
	assert.ErrorIs(t, err, ErrNoDisplay)

	_, err = Metrics(fakeSource{image.Rectangle{}}, 0, 120)
	assert.ErrorIs(t, err, ErrNoDisplay)
}

func TestList(t *testing.T) {
	got := List(fakeSource{image.Rect(0, 0, 1920, 1080)})
	assert.Equal(t, []Info{{Index: 0, Width: 1920, Height: 1080, Primary: true}}, got)
}
