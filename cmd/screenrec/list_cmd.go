package main

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"go2tv.app/screenrec/internal/catalog"
)

func newListCmd(opts *rootOptions) *cobra.Command {
	var (
		limit int
		prune bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List finished recordings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.cfg.Catalog.Path == "" {
				return errors.New("catalog path is not configured")
			}
			store, err := catalog.Open(opts.cfg.Catalog.Path)
			if err != nil {
				return err
			}
			defer store.Close()

			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			if prune {
				n, err := store.Prune(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Pruned %d missing recording(s)\n", n)
			}

			entries, err := store.List(ctx, limit)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "STARTED\tDURATION\tSIZE\tRESOLUTION\tVARIANT\tPATH")
			for _, e := range entries {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%dx%d\t%s\t%s\n",
					e.StartedAt.Local().Format(time.DateTime),
					e.Duration().Round(time.Second),
					humanSize(e.SizeBytes),
					e.Width, e.Height,
					e.Variant,
					e.Path)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of recordings to show (0 for all)")
	cmd.Flags().BoolVar(&prune, "prune", false, "drop entries whose file no longer exists")
	return cmd
}

func humanSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
