// Command screenrec records the screen to an MP4 file.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"go2tv.app/screenrec/internal/config"
	xlog "go2tv.app/screenrec/internal/log"
)

type rootOptions struct {
	configPath string
	logLevel   string

	cfg config.Config
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "screenrec",
		Short:         "Record the screen to MP4",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			if opts.logLevel != "" {
				cfg.Log.Level = opts.logLevel
			}
			xlog.Configure(xlog.Config{Level: cfg.Log.Level})
			opts.cfg = cfg
			return nil
		},
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (default $XDG_CONFIG_HOME/screenrec/config.yaml)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level (debug, info, warn, error)")

	root.AddCommand(
		newRecordCmd(opts),
		newResolveCmd(opts),
		newEncodersCmd(opts),
		newDisplaysCmd(opts),
		newListCmd(opts),
	)
	addPlatformCommands(root, opts)
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "screenrec:", err)
		os.Exit(1)
	}
}
