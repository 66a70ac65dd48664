// Package display reads the geometry of the attached monitors.
package display

import (
	"errors"
	"fmt"
	"image"

	"github.com/kbinani/screenshot"

	"go2tv.app/screenrec/quality"
)

// DefaultDPI is used when the host does not report a density.
const DefaultDPI = 96

var ErrNoDisplay = errors.New("no active display")

// Source enumerates monitors.
type Source interface {
	NumActiveDisplays() int
	GetDisplayBounds(index int) image.Rectangle
}

type screenshotSource struct{}

func (screenshotSource) NumActiveDisplays() int { return screenshot.NumActiveDisplays() }

func (screenshotSource) GetDisplayBounds(i int) image.Rectangle {
	return screenshot.GetDisplayBounds(i)
}

// System is the Source backed by the windowing system.
var System Source = screenshotSource{}

// Info is one row of List.
type Info struct {
	Index   int
	Width   int
	Height  int
	Primary bool
}

// List enumerates src. A failing backend yields an empty list.
func List(src Source) (out []Info) {
	defer func() {
		if recover() != nil {
			out = nil
		}
	}()
	total := src.NumActiveDisplays()
	for i := 0; i < total; i++ {
		b := src.GetDisplayBounds(i)
		out = append(out, Info{Index: i, Width: b.Dx(), Height: b.Dy(), Primary: i == 0})
	}
	return out
}

// Metrics returns the metrics of display index. dpi <= 0 selects DefaultDPI.
func Metrics(src Source, index int, dpi float64) (quality.DisplayMetrics, error) {
	displays := List(src)
	if len(displays) == 0 {
		return quality.DisplayMetrics{}, ErrNoDisplay
	}
	if index < 0 || index >= len(displays) {
		return quality.DisplayMetrics{}, fmt.Errorf("display index %d out of range [0,%d)", index, len(displays))
	}
	d := displays[index]
	if d.Width <= 0 || d.Height <= 0 {
		return quality.DisplayMetrics{}, fmt.Errorf("%w: display %d has zero bounds", ErrNoDisplay, index)
	}
	return FromSize(d.Width, d.Height, dpi), nil
}

// FromSize builds metrics from raw dimensions, e.g. a portal stream size.
func FromSize(width, height int, dpi float64) quality.DisplayMetrics {
	if dpi <= 0 {
		dpi = DefaultDPI
	}
	return quality.DisplayMetrics{
		Width:       width,
		Height:      height,
		DensityDPI:  dpi,
		Orientation: quality.OrientationOf(width, height),
	}
}
