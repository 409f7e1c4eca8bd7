package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dshills/modhost/internal/app"
	"github.com/dshills/modhost/internal/console"
)

func newRunCmd(flags *globalFlags) *cobra.Command {
	var (
		watch     bool
		metrics   string
		noConsole bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Load all modules and serve until interrupted",
		Long: `Load every module found in the module paths in dependency order, then
open an interactive console (or wait for a signal with --no-console).
On exit every module is unloaded, dependants first.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts := flags.appOptions(cmd.ErrOrStderr())
			opts.Watch = watch
			opts.MetricsListen = metrics

			application, err := app.New(opts)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()
				application.Shutdown(shutdownCtx)
			}()

			loaded, err := application.Start(ctx)
			if err != nil {
				// The modules that did load stay usable.
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d module(s) loaded\n", len(loaded))

			if noConsole {
				<-ctx.Done()
				return nil
			}
			return console.New(application.Manager(), cmd.InOrStdin(), cmd.OutOrStdout()).Run(ctx)
		},
	}

	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "reload modules when their files change")
	cmd.Flags().StringVar(&metrics, "metrics", "", "serve Prometheus metrics on this address (e.g. :9090)")
	cmd.Flags().BoolVar(&noConsole, "no-console", false, "do not read commands from stdin")
	return cmd
}
