package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dshills/modhost/internal/app"
)

func newOrderCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "order",
		Short: "Print the order modules would be loaded in",
		Long: `Discover the modules in the module paths and print the order they would
be loaded in, without loading them. Cycles, duplicate ids and unknown
dependencies are reported as errors.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			application, err := app.New(flags.appOptions(io.Discard))
			if err != nil {
				return err
			}
			defer application.Shutdown(context.Background())

			plan, err := application.Bootstrap().Plan(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for i, l := range plan {
				m := l.Manifest()
				line := fmt.Sprintf("%d. %s@%s", i+1, m.ID, m.Version)
				if len(m.DependsOn) > 0 {
					line += " (after " + strings.Join(m.DependsOn, ", ") + ")"
				}
				fmt.Fprintln(out, line)
			}
			return nil
		},
	}
}
