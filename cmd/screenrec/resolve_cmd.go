package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"go2tv.app/screenrec/internal/display"
	"go2tv.app/screenrec/quality"
)

func newResolveCmd(opts *rootOptions) *cobra.Command {
	var (
		size string
		dpi  float64
		sel  quality.Selection
	)
	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Print the video settings a recording would use",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			base := opts.cfg.Quality
			flags := cmd.Flags()
			if flags.Changed("max-frame-size") {
				base.MaxFrameSize = sel.MaxFrameSize
			}
			if flags.Changed("quality") {
				base.Quality = sel.Quality
			}
			if flags.Changed("frame-rate") {
				base.FrameRate = sel.FrameRate
			}
			if flags.Changed("cache-dir") {
				base.CacheDirectory = sel.CacheDirectory
			}
			if !flags.Changed("dpi") {
				dpi = opts.cfg.Display.DPI
			}

			var metrics quality.DisplayMetrics
			if size != "" {
				w, h, err := parseSize(size)
				if err != nil {
					return err
				}
				metrics = display.FromSize(w, h, dpi)
			} else {
				m, err := display.Metrics(display.System, opts.cfg.Display.Index, dpi)
				if err != nil {
					return fmt.Errorf("%w (pass --size)", err)
				}
				metrics = m
			}

			spec, err := quality.Resolve(base, metrics, time.Now())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "display:     %dx%d %s @ %.0f dpi\n", metrics.Width, metrics.Height, metrics.Orientation, metrics.DensityDPI)
			fmt.Fprintf(out, "resolution:  %s\n", spec.Resolution())
			fmt.Fprintf(out, "density:     %d\n", spec.DensityDPI)
			fmt.Fprintf(out, "bitrate:     %d\n", spec.BitRate)
			fmt.Fprintf(out, "frame rate:  %d\n", spec.FrameRate)
			fmt.Fprintf(out, "preset:      %s %s\n", spec.FramePreset, spec.Level)
			fmt.Fprintf(out, "output:      %s\n", spec.OutputPath)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&size, "size", "", "display size as WIDTHxHEIGHT instead of querying the monitor")
	f.Float64Var(&dpi, "dpi", 0, "display density")
	f.StringVar(&sel.MaxFrameSize, "max-frame-size", "", "frame size preset, e.g. LEVEL_1280_720")
	f.StringVar(&sel.Quality, "quality", "", "quality level, e.g. LEVEL_HIGH")
	f.StringVar(&sel.FrameRate, "frame-rate", "", "frames per second")
	f.StringVar(&sel.CacheDirectory, "cache-dir", "", "output directory")
	return cmd
}

func parseSize(s string) (int, int, error) {
	ws, hs, ok := strings.Cut(strings.ToLower(strings.TrimSpace(s)), "x")
	if !ok {
		return 0, 0, fmt.Errorf("invalid size %q: want WIDTHxHEIGHT", s)
	}
	w, err := strconv.Atoi(ws)
	if err != nil || w <= 0 {
		return 0, 0, fmt.Errorf("invalid width in %q", s)
	}
	h, err := strconv.Atoi(hs)
	if err != nil || h <= 0 {
		return 0, 0, fmt.Errorf("invalid height in %q", s)
	}
	return w, h, nil
}
