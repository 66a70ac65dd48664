package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"go2tv.app/screenrec/quality"
)

func newRecordCmd(opts *rootOptions) *cobra.Command {
	var duration time.Duration
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record the screen until interrupted",
		Long: `Shows the screen capture chooser, records the selected monitor or window
and writes an MP4 file into the cache directory. Recording stops on Ctrl+C,
SIGTERM or after --duration.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stopSignals := withSignals(cmd.Context())
			defer stopSignals()

			a, err := newApp(opts.cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			stop := make(chan struct{})
			if duration > 0 {
				timer := time.AfterFunc(duration, func() { close(stop) })
				defer timer.Stop()
			}

			out := cmd.OutOrStdout()
			rec, err := a.record(ctx, stop, func(spec quality.VideoSpec) {
				fmt.Fprintf(out, "Recording %s at %d fps, %d bps. Press Ctrl+C to stop.\n", spec.Resolution(), spec.FrameRate, spec.BitRate)
			})
			if err != nil {
				return err
			}
			if rec.Path == "" {
				return nil
			}
			fmt.Fprintf(out, "Saved %s (%s)\n", rec.Path, rec.StoppedAt.Sub(rec.StartedAt).Round(time.Second))
			return nil
		},
	}
	cmd.Flags().DurationVar(&duration, "duration", 0, "stop automatically after this long (0 records until interrupted)")
	return cmd
}

// withSignals is the context used by commands that only do short work.
func withSignals(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
