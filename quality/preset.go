// Package quality turns user-facing quality presets and the physical
// display's geometry into an encoder-legal VideoSpec.
package quality

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrConfiguration reports a malformed preset, frame rate or geometry.
var ErrConfiguration = errors.New("invalid capture configuration")

// Frame size presets understood by the settings surface.
const (
	FramePresetSmall  = "LEVEL_480_360"
	FramePresetMedium = "LEVEL_1280_720"
	FramePresetLarge  = "LEVEL_1920_1080"
)

// FramePresets lists the presets offered to the user, smallest first.
var FramePresets = []string{FramePresetSmall, FramePresetMedium, FramePresetLarge}

// Level is one of the seven ordered video quality levels.
type Level int

const (
	LevelSuperLow Level = iota
	LevelVeryLow
	LevelLow
	LevelMedium
	LevelHigh
	LevelVeryHigh
	LevelSuperHigh
)

var levelNames = [...]string{
	"LEVEL_SUPER_LOW",
	"LEVEL_VERY_LOW",
	"LEVEL_LOW",
	"LEVEL_MEDIUN",
	"LEVEL_HIGH",
	"LEVEL_VERY_HIGH",
	"LEVEL_SUPER_HIGH",
}

// Levels returns every quality level in ascending order.
func Levels() []Level {
	return []Level{LevelSuperLow, LevelVeryLow, LevelLow, LevelMedium, LevelHigh, LevelVeryHigh, LevelSuperHigh}
}

func (l Level) String() string {
	if l < LevelSuperLow || l > LevelSuperHigh {
		return "Level(" + strconv.Itoa(int(l)) + ")"
	}
	return levelNames[l]
}

// ParseLevel maps a preset string to its Level. The historical
// "LEVEL_MEDIUN" spelling is canonical; "LEVEL_MEDIUM" is accepted too.
func ParseLevel(s string) (Level, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "LEVEL_MEDIUM" {
		return LevelMedium, nil
	}
	for i, name := range levelNames {
		if s == name {
			return Level(i), nil
		}
	}
	return 0, fmt.Errorf("%w: unknown video quality %q", ErrConfiguration, s)
}

// ParseFramePreset extracts the bounding box from a "LEVEL_<W>_<H>" preset.
func ParseFramePreset(preset string) (maxW, maxH int, err error) {
	parts := strings.Split(strings.TrimSpace(preset), "_")
	if len(parts) != 3 {
		return 0, 0, fmt.Errorf("%w: malformed frame size preset %q", ErrConfiguration, preset)
	}
	maxW, errW := strconv.Atoi(parts[1])
	maxH, errH := strconv.Atoi(parts[2])
	if errW != nil || errH != nil || maxW <= 0 || maxH <= 0 {
		return 0, 0, fmt.Errorf("%w: malformed frame size preset %q", ErrConfiguration, preset)
	}
	return maxW, maxH, nil
}
