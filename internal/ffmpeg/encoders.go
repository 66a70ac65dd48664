package ffmpeg

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	xlog "go2tv.app/screenrec/internal/log"
	"go2tv.app/screenrec/internal/processutil"
)

// EncoderAuto selects the first working hardware encoder, else libx264.
const EncoderAuto = "auto"

const encoderProbeTimeout = 5 * time.Second

// Plan is one way of encoding H.264 with ffmpeg.
type Plan struct {
	Label    string
	Codec    string
	Hardware bool
	// GlobalArgs precede the inputs, e.g. a VAAPI device.
	GlobalArgs []string
	// FilterSuffix is appended to the scale filter to reach the pixel format
	// the encoder consumes.
	FilterSuffix string
	Extra        []string
}

// codecArgs renders the rate control and GOP arguments for bitRate and gop
// frames. B-frames are disabled so presentation order equals decode order.
func (p Plan) codecArgs(bitRate, gop int) []string {
	g := strconv.Itoa(gop)
	args := []string{
		"-c:v", p.Codec,
		"-b:v", strconv.Itoa(bitRate),
		"-maxrate", strconv.Itoa(bitRate),
		"-bufsize", strconv.Itoa(2 * bitRate),
		"-g", g,
		"-bf", "0",
	}
	return append(args, p.Extra...)
}

func softwarePlan() Plan {
	return Plan{
		Label: "libx264",
		Codec: "libx264",
		Extra: []string{
			"-preset", "ultrafast",
			"-tune", "zerolatency",
			"-pix_fmt", "yuv420p",
			"-sc_threshold", "0",
		},
	}
}

func hardwarePlan(codec, label string, globalArgs []string, suffix string) Plan {
	return Plan{
		Label:        label,
		Codec:        codec,
		Hardware:     true,
		GlobalArgs:   append([]string(nil), globalArgs...),
		FilterSuffix: suffix,
	}
}

func hardwareCandidates() []Plan {
	switch runtime.GOOS {
	case "darwin":
		return []Plan{hardwarePlan("h264_videotoolbox", "h264_videotoolbox", nil, ",format=yuv420p")}
	case "windows":
		return []Plan{
			hardwarePlan("h264_nvenc", "h264_nvenc", nil, ",format=yuv420p"),
			hardwarePlan("h264_amf", "h264_amf", nil, ",format=yuv420p"),
			hardwarePlan("h264_qsv", "h264_qsv", nil, ",format=nv12"),
		}
	default:
		candidates := []Plan{hardwarePlan("h264_nvenc", "h264_nvenc", nil, ",format=yuv420p")}
		if dev, ok := firstRenderNode(); ok {
			candidates = append(candidates, vaapiPlan(dev))
		}
		return append(candidates, hardwarePlan("h264_qsv", "h264_qsv", nil, ",format=nv12"))
	}
}

func vaapiPlan(dev string) Plan {
	return hardwarePlan("h264_vaapi", fmt.Sprintf("h264_vaapi (%s)", dev), []string{"-vaapi_device", dev}, ",format=nv12,hwupload")
}

func firstRenderNode() (string, bool) {
	devices, err := filepath.Glob("/dev/dri/renderD*")
	if err != nil || len(devices) == 0 {
		return "", false
	}
	return devices[0], true
}

// PlanFor returns the plan for an explicitly configured encoder name.
func PlanFor(codec string) (Plan, error) {
	if codec == "libx264" {
		return softwarePlan(), nil
	}
	if codec == "h264_vaapi" {
		dev, ok := firstRenderNode()
		if !ok {
			return Plan{}, fmt.Errorf("%w: h264_vaapi needs a /dev/dri render node", ErrInvalidConfig)
		}
		return vaapiPlan(dev), nil
	}
	for _, p := range hardwareCandidates() {
		if p.Codec == codec {
			return p, nil
		}
	}
	return Plan{}, fmt.Errorf("%w: unsupported encoder %q", ErrInvalidConfig, codec)
}

var selected sync.Map // ffmpeg path -> Plan

// selectEncoder probes once per ffmpeg binary.
func selectEncoder(ctx context.Context, ffmpegPath string, log zerolog.Logger) Plan {
	if v, ok := selected.Load(ffmpegPath); ok {
		return v.(Plan)
	}
	plan, reason := probeEncoders(ctx, ffmpegPath, log)
	reportSelection(log, plan, reason)
	selected.Store(ffmpegPath, plan)
	return plan
}

func probeEncoders(ctx context.Context, ffmpegPath string, log zerolog.Logger) (Plan, string) {
	software := softwarePlan()
	candidates := hardwareCandidates()
	if len(candidates) == 0 {
		return software, "no_hardware_candidates"
	}
	if _, err := exec.LookPath(ffmpegPath); err != nil {
		log.Debug().Err(err).Str(xlog.FieldEvent, "encoder_probe.lookup_failed").Msg("ffmpeg not found")
		return software, "ffmpeg_not_found"
	}

	available, err := encoderSet(ctx, ffmpegPath)
	if err != nil {
		log.Debug().Err(err).Str(xlog.FieldEvent, "encoder_probe.list_failed").Msg("ffmpeg -encoders failed")
	}
	for _, candidate := range candidates {
		if len(available) > 0 {
			if _, ok := available[candidate.Codec]; !ok {
				continue
			}
		}
		if err := probe(ctx, ffmpegPath, candidate); err != nil {
			log.Debug().Err(err).
				Str(xlog.FieldEvent, "encoder_probe.failed").
				Str(xlog.FieldEncoder, candidate.Label).
				Msg("hardware encoder probe failed")
			continue
		}
		return candidate, ""
	}
	return software, "all_hardware_probes_failed"
}

func reportSelection(log zerolog.Logger, plan Plan, reason string) {
	mode := "software"
	if plan.Hardware {
		mode = "hardware"
	}
	ev := log.Info().
		Str(xlog.FieldEvent, "encoder.selected").
		Str(xlog.FieldEncoder, plan.Label).
		Str("mode", mode)
	if reason != "" {
		ev = ev.Str("reason", reason)
	}
	ev.Msg("video encoder selected")
}

func encoderSet(ctx context.Context, ffmpegPath string) (map[string]struct{}, error) {
	ctx, cancel := context.WithTimeout(ctx, encoderProbeTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, ffmpegPath, "-hide_banner", "-encoders")
	processutil.HideConsoleWindow(cmd)
	out, err := cmd.Output()
	if ctx.Err() != nil {
		return nil, fmt.Errorf("ffmpeg -encoders: %w", ctx.Err())
	}
	if err != nil {
		return nil, fmt.Errorf("ffmpeg -encoders: %w", err)
	}
	return parseEncoderList(string(out)), nil
}

// parseEncoderList reads the video encoders from `ffmpeg -encoders` output.
// Lines look like " V....D libx264   libx264 H.264 ...".
func parseEncoderList(out string) map[string]struct{} {
	encoders := make(map[string]struct{})
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 || len(fields[0]) != 6 {
			continue
		}
		if fields[0][0] == 'V' {
			encoders[fields[1]] = struct{}{}
		}
	}
	return encoders
}

func probe(ctx context.Context, ffmpegPath string, plan Plan) error {
	ctx, cancel := context.WithTimeout(ctx, encoderProbeTimeout)
	defer cancel()

	args := []string{"-v", "error", "-nostdin"}
	args = append(args, plan.GlobalArgs...)
	args = append(args,
		"-f", "lavfi",
		"-i", "color=c=black:s=1280x720:r=30:d=0.5",
		"-an",
		"-frames:v", "8",
		"-vf", "scale=1280:720"+plan.FilterSuffix,
	)
	args = append(args, plan.codecArgs(4_000_000, 30)...)
	args = append(args, "-f", "null", "-")

	cmd := exec.CommandContext(ctx, ffmpegPath, args...)
	processutil.HideConsoleWindow(cmd)
	stderr := &lockedBuffer{}
	cmd.Stderr = stderr
	cmd.Stdout = stderr

	err := cmd.Run()
	if ctx.Err() != nil {
		return fmt.Errorf("probe %s: %w", plan.Label, ctx.Err())
	}
	if err != nil {
		return fmt.Errorf("probe %s: %w: %s", plan.Label, err, stderr.Tail(240))
	}
	return nil
}

// Availability is one row of ListEncoders.
type Availability struct {
	Plan   Plan
	Listed bool
	Probed bool
	Err    error
}

// ListEncoders reports every candidate encoder with its probe result. The
// software encoder is listed last.
func ListEncoders(ctx context.Context, ffmpegPath string) ([]Availability, error) {
	if strings.TrimSpace(ffmpegPath) == "" {
		ffmpegPath = defaultPath
	}
	available, err := encoderSet(ctx, ffmpegPath)
	if err != nil {
		return nil, err
	}

	plans := append(hardwareCandidates(), softwarePlan())
	rows := make([]Availability, 0, len(plans))
	for _, p := range plans {
		row := Availability{Plan: p}
		_, row.Listed = available[p.Codec]
		if row.Listed {
			row.Err = probe(ctx, ffmpegPath, p)
			row.Probed = row.Err == nil
		}
		rows = append(rows, row)
	}
	return rows, nil
}
