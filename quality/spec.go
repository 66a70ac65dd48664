package quality

import (
	"fmt"
	"path/filepath"
	"strconv"
	"time"
)

// VideoSpec is the resolved, immutable description of one recording.
type VideoSpec struct {
	Width       int
	Height      int
	DensityDPI  int
	BitRate     int
	FrameRate   int
	FramePreset string
	Level       Level
	OutputPath  string
}

// Resolution formats the output size as WxH.
func (v VideoSpec) Resolution() string {
	return fmt.Sprintf("%dx%d", v.Width, v.Height)
}

// Resolve derives the VideoSpec for a session started at now.
func Resolve(sel Selection, display DisplayMetrics, now time.Time) (VideoSpec, error) {
	sel = sel.WithDefaults()

	level, err := ParseLevel(sel.Quality)
	if err != nil {
		return VideoSpec{}, err
	}
	fps, err := parseFrameRate(sel.FrameRate)
	if err != nil {
		return VideoSpec{}, err
	}
	geo, err := ResolveGeometry(sel.MaxFrameSize, display)
	if err != nil {
		return VideoSpec{}, err
	}

	return VideoSpec{
		Width:       geo.Width,
		Height:      geo.Height,
		DensityDPI:  geo.DensityDPI,
		BitRate:     Bitrate(sel.MaxFrameSize, level),
		FrameRate:   fps,
		FramePreset: sel.MaxFrameSize,
		Level:       level,
		OutputPath:  OutputPath(sel.CacheDirectory, now),
	}, nil
}

// OutputPath names the container file for a recording started at now.
func OutputPath(dir string, now time.Time) string {
	p := filepath.Join(dir, strconv.FormatInt(now.UnixMilli(), 10)+".mp4")
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return p
}
