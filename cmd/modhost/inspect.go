package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/dshills/modhost/internal/app"
	"github.com/dshills/modhost/internal/plugin"
)

func newInspectCmd(flags *globalFlags) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "inspect <path>",
		Short: "Show the manifest of a module",
		Long: `Show the manifest of the module at path, which may be a module directory,
a manifest file or a single .lua file. Defaults are filled in.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := app.New(flags.appOptions(io.Discard))
			if err != nil {
				return err
			}
			defer application.Shutdown(context.Background())

			loadable, ok, err := application.Discovery().DiscoverFrom(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%w: %s", plugin.ErrModuleNotFound, args[0])
			}
			return writeManifest(cmd.OutOrStdout(), loadable.Manifest(), format)
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "yaml", "output format (yaml or json)")
	return cmd
}

func writeManifest(w io.Writer, m *plugin.Manifest, format string) error {
	switch format {
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(m); err != nil {
			return err
		}
		return enc.Close()
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(m)
	default:
		return fmt.Errorf("unknown format %q (must be yaml or json)", format)
	}
}
