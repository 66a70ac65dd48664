package quality

import "fmt"

// Orientation is the display orientation reported by the host.
type Orientation int

const (
	Portrait Orientation = iota
	Landscape
)

func (o Orientation) String() string {
	if o == Portrait {
		return "portrait"
	}
	return "landscape"
}

// OrientationOf derives the orientation from raw display dimensions.
func OrientationOf(width, height int) Orientation {
	if width < height {
		return Portrait
	}
	return Landscape
}

// DisplayMetrics describes the physical display. It is read once when a
// session starts.
type DisplayMetrics struct {
	Width       int
	Height      int
	DensityDPI  float64
	Orientation Orientation
}

// Geometry is the encoder-legal output size and the density handed to the
// mirroring surface.
type Geometry struct {
	Width      int
	Height     int
	DensityDPI int
}

const (
	displayAlign = 32
	gpuAlign     = 128
	heightAlign  = 16
)

// ResolveGeometry maps a frame size preset and display metrics to an output
// resolution. Height is always a positive multiple of 16. The width is snapped
// relative to a 32-aligned reference in steps of 128 because several GPU
// encoders produce tiling artifacts on other widths.
func ResolveGeometry(preset string, d DisplayMetrics) (Geometry, error) {
	maxW, maxH, err := ParseFramePreset(preset)
	if err != nil {
		return Geometry{}, err
	}
	if d.Width <= 0 || d.Height <= 0 {
		return Geometry{}, fmt.Errorf("%w: invalid display size %dx%d", ErrConfiguration, d.Width, d.Height)
	}

	w, h := d.Width, d.Height
	swapped := false
	if w < h {
		w, h = h, w
		swapped = true
	}
	if w > maxW || h > maxH {
		w, h = fitWithin(w, h, maxW, maxH)
	}
	if swapped {
		w, h = h, w
	}

	reference := displayWidthReference(w)

	axis := d.Height
	if d.Orientation == Portrait {
		axis = d.Width
	}
	width := alignForGPU(reference, axis)
	if width <= 0 {
		width = displayAlign
	}

	height := width * d.Height / d.Width
	height -= height % heightAlign
	if height <= 0 {
		height = heightAlign
	}

	density := int(d.DensityDPI*float64(d.Width)/float64(width) + 0.5)

	return Geometry{Width: width, Height: height, DensityDPI: density}, nil
}

// fitWithin returns the largest size inside the box that keeps the source
// aspect ratio. Ratios are compared in single precision.
func fitWithin(srcW, srcH, boxW, boxH int) (int, int) {
	rs := float32(srcW) / float32(srcH)
	rt := float32(boxW) / float32(boxH)
	if rs > rt {
		return boxW, int(float32(srcH)*float32(boxW)/float32(srcW) + 0.5)
	}
	return int(float32(srcW)*float32(boxH)/float32(srcH) + 0.5), boxH
}

// displayWidthReference rounds to the nearest multiple of 32, with a
// remainder of exactly 16 rounding down.
func displayWidthReference(w int) int {
	delta := w % displayAlign
	if delta == 0 {
		return w
	}
	if delta > displayAlign/2 {
		return w - delta + displayAlign
	}
	return w - delta
}

// alignForGPU aligns the screen axis up to 32 and then moves towards the
// reference in whole steps of 128.
func alignForGPU(reference, axis int) int {
	aligned := axis
	if aligned%displayAlign != 0 {
		aligned = aligned - aligned%displayAlign + displayAlign
	}
	offset := reference - aligned
	if offset > 0 {
		return aligned + offset - offset%gpuAlign
	}
	return aligned + offset + offset%gpuAlign
}
