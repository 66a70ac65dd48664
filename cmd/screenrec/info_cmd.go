package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"go2tv.app/screenrec/internal/display"
	"go2tv.app/screenrec/internal/ffmpeg"
)

func newEncodersCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "encoders",
		Short: "Probe the H.264 encoders ffmpeg offers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := withSignals(cmd.Context())
			defer cancel()

			list, err := ffmpeg.ListEncoders(ctx, opts.cfg.Pipeline.FFmpegPath)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ENCODER\tHARDWARE\tLISTED\tUSABLE\tNOTE")
			for _, a := range list {
				note := ""
				if a.Err != nil {
					note = a.Err.Error()
				}
				fmt.Fprintf(tw, "%s\t%t\t%t\t%t\t%s\n", a.Plan.Codec, a.Plan.Hardware, a.Listed, a.Probed, note)
			}
			return tw.Flush()
		},
	}
}

func newDisplaysCmd(_ *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "displays",
		Short: "List the attached monitors",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			list := display.List(display.System)
			if len(list) == 0 {
				return display.ErrNoDisplay
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "INDEX\tSIZE\tPRIMARY")
			for _, d := range list {
				fmt.Fprintf(tw, "%d\t%dx%d\t%t\n", d.Index, d.Width, d.Height, d.Primary)
			}
			return tw.Flush()
		},
	}
}
