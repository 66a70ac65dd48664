//go:build unix

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"go2tv.app/screenrec/internal/config"
	xlog "go2tv.app/screenrec/internal/log"
	"go2tv.app/screenrec/quality"
)

const shutdownTimeout = 5 * time.Second

func addPlatformCommands(root *cobra.Command, opts *rootOptions) {
	root.AddCommand(newDaemonCmd(opts))
}

func newDaemonCmd(opts *rootOptions) *cobra.Command {
	var metricsAddr string
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Wait in the background and toggle recording on SIGUSR1",
		Long: `Runs until SIGINT or SIGTERM. Each SIGUSR1 starts a recording, the next one
stops it. Edits to the config file apply to the next recording.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := withSignals(cmd.Context())
			defer cancel()

			a, err := newApp(opts.cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			path := opts.configPath
			if path == "" {
				path = config.DefaultPath()
			}
			if _, err := os.Stat(path); err == nil {
				w, err := config.Watch(path, a.setConfig, a.log)
				if err != nil {
					return err
				}
				defer w.Close()
			}

			if metricsAddr != "" {
				srv := &http.Server{Addr: metricsAddr, Handler: metricsMux(), ReadHeaderTimeout: 5 * time.Second}
				go func() {
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						a.log.Error().Err(err).Str(xlog.FieldEvent, "daemon.metrics_failed").Msg("metrics server failed")
					}
				}()
				defer func() {
					sctx, scancel := context.WithTimeout(context.Background(), shutdownTimeout)
					defer scancel()
					_ = srv.Shutdown(sctx)
				}()
			}

			toggle := make(chan os.Signal, 1)
			signal.Notify(toggle, syscall.SIGUSR1)
			defer signal.Stop(toggle)

			fmt.Fprintf(cmd.OutOrStdout(), "Waiting for SIGUSR1 (pid %d)\n", os.Getpid())
			runDaemon(ctx, a, toggle, cmd.OutOrStdout())
			return nil
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address, e.g. 127.0.0.1:9464")
	return cmd
}

func metricsMux() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// runDaemon starts a recording on the first toggle and stops it on the next.
// Toggles that arrive while a recording is stopping are ignored.
func runDaemon(ctx context.Context, a *app, toggle <-chan os.Signal, out io.Writer) {
	var (
		stop chan struct{}
		done chan struct{}
	)
	for {
		select {
		case <-ctx.Done():
			if done != nil {
				<-done
			}
			return

		case <-toggle:
			switch {
			case done == nil:
				stop = make(chan struct{})
				done = make(chan struct{})
				go func(stop <-chan struct{}, done chan<- struct{}) {
					defer close(done)
					rec, err := a.record(ctx, stop, func(spec quality.VideoSpec) {
						fmt.Fprintf(out, "Recording %s\n", spec.Resolution())
					})
					switch {
					case err != nil:
						a.log.Error().Err(err).Str(xlog.FieldEvent, "daemon.record_failed").Msg("recording failed")
					case rec.Path != "":
						fmt.Fprintf(out, "Saved %s\n", rec.Path)
					}
				}(stop, done)
			case stop != nil:
				close(stop)
				stop = nil
			default:
				a.log.Debug().Str(xlog.FieldEvent, "daemon.toggle_ignored").Msg("recording is still stopping")
			}

		case <-done:
			stop, done = nil, nil
		}
	}
}
