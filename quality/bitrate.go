package quality

// ladder is the reference bitrate ladder of the medium (1280x720) preset, in
// bits per second, indexed by Level.
var ladder = [...]int{
	196608,
	393216,
	786432,
	1572864,
	3145728,
	6291456,
	12582912,
}

// Bitrate returns the target bitrate for a frame size preset and quality
// level. The small preset runs at a third of the ladder; every preset other
// than small and medium runs at twice the ladder.
func Bitrate(framePreset string, level Level) int {
	if level < LevelSuperLow || level > LevelSuperHigh {
		level = LevelSuperHigh
	}
	base := ladder[level]
	switch framePreset {
	case FramePresetSmall:
		return base / 3
	case FramePresetMedium:
		return base
	default:
		return base * 2
	}
}
