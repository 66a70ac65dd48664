package ffmpeg

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	xlog "go2tv.app/screenrec/internal/log"
	"go2tv.app/screenrec/recorder"
)

func gopFrames(frameRate int, interval time.Duration) int {
	if interval <= 0 {
		interval = time.Second
	}
	gop := int(math.Round(float64(frameRate) * interval.Seconds()))
	if gop < 1 {
		gop = 1
	}
	return gop
}

func loglevel() string {
	if xlog.DebugEnabled() {
		return "info"
	}
	return "error"
}

// videoInput reads raw mirrored frames from stdin.
func videoInput(plan Plan, cfg recorder.EncoderConfig) []string {
	pixFmt := strings.ToLower(cfg.Source.PixelFormat)
	if pixFmt == "" {
		pixFmt = "bgra"
	}
	args := []string{"-hide_banner", "-loglevel", loglevel()}
	args = append(args, plan.GlobalArgs...)
	return append(args,
		"-fflags", "nobuffer",
		"-probesize", "32",
		"-analyzeduration", "0",
		"-f", "rawvideo",
		"-pix_fmt", pixFmt,
		"-s", fmt.Sprintf("%dx%d", cfg.Source.Width, cfg.Source.Height),
		"-r", strconv.Itoa(cfg.Spec.FrameRate),
		"-i", "pipe:0",
	)
}

func videoOutput(plan Plan, cfg recorder.EncoderConfig) []string {
	args := []string{
		"-vf", fmt.Sprintf("scale=%d:%d", cfg.Spec.Width, cfg.Spec.Height) + plan.FilterSuffix,
		"-r", strconv.Itoa(cfg.Spec.FrameRate),
	}
	return append(args, plan.codecArgs(cfg.Spec.BitRate, gopFrames(cfg.Spec.FrameRate, cfg.IFrameInterval))...)
}

// encodeArgs produces an Annex-B H.264 stream on stdout with an access unit
// delimiter in front of every picture.
func encodeArgs(plan Plan, cfg recorder.EncoderConfig) []string {
	args := videoInput(plan, cfg)
	args = append(args, "-an")
	args = append(args, videoOutput(plan, cfg)...)
	return append(args,
		"-bsf:v", "h264_metadata=aud=insert",
		"-flush_packets", "1",
		"-f", "h264",
		"pipe:1",
	)
}

// recordArgs writes an MP4 file, with AAC audio from audioURL when set.
func recordArgs(plan Plan, cfg recorder.EncoderConfig, audioURL string) []string {
	args := videoInput(plan, cfg)
	if audioURL != "" {
		args = append(args,
			"-thread_queue_size", "8192",
			"-f", "s16le",
			"-ar", "48000",
			"-ac", "2",
			"-i", audioURL,
			"-map", "0:v:0",
			"-map", "1:a:0",
		)
	} else {
		args = append(args, "-map", "0:v:0", "-an")
	}
	args = append(args, videoOutput(plan, cfg)...)
	if audioURL != "" {
		args = append(args,
			"-af", "aresample=async=1:first_pts=0",
			"-c:a", "aac",
			"-b:a", "128k",
			"-ar", "48000",
			"-ac", "2",
			"-shortest",
		)
	}
	return append(args,
		"-movflags", "+faststart",
		"-f", "mp4",
		"-y",
		cfg.Spec.OutputPath,
	)
}
