package quality

import (
	"fmt"
	"strconv"
	"strings"
)

// Defaults applied to empty selection fields.
const (
	DefaultFramePreset    = FramePresetMedium
	DefaultLevel          = LevelHigh
	DefaultFrameRate      = 30
	DefaultCacheDirectory = "/sdcard"
)

// FrameRates lists the frame rates offered to the user.
var FrameRates = []int{15, 24, 30}

// Selection holds the free-form preset strings supplied by the settings
// surface. Fields are validated by presence only; empty means default.
type Selection struct {
	MaxFrameSize   string `yaml:"max_frame_size" json:"maxFrameSize"`
	Quality        string `yaml:"video_quality" json:"videoQuality"`
	FrameRate      string `yaml:"frame_rate" json:"frameRate"`
	CacheDirectory string `yaml:"cache_dir" json:"cacheDir"`
}

// WithDefaults returns a copy with surrounding whitespace trimmed from every
// field and each empty field replaced by its default.
func (s Selection) WithDefaults() Selection {
	s.MaxFrameSize = strings.TrimSpace(s.MaxFrameSize)
	s.Quality = strings.TrimSpace(s.Quality)
	s.FrameRate = strings.TrimSpace(s.FrameRate)
	s.CacheDirectory = strings.TrimSpace(s.CacheDirectory)
	if s.MaxFrameSize == "" {
		s.MaxFrameSize = DefaultFramePreset
	}
	if s.Quality == "" {
		s.Quality = DefaultLevel.String()
	}
	if s.FrameRate == "" {
		s.FrameRate = strconv.Itoa(DefaultFrameRate)
	}
	if s.CacheDirectory == "" {
		s.CacheDirectory = DefaultCacheDirectory
	}
	return s
}

func parseFrameRate(s string) (int, error) {
	fps, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || fps <= 0 {
		return 0, fmt.Errorf("%w: invalid frame rate %q", ErrConfiguration, s)
	}
	return fps, nil
}
