package main

import (
	"io"

	"github.com/spf13/cobra"

	"github.com/dshills/modhost/internal/app"
	"github.com/dshills/modhost/internal/config"
)

// globalFlags are shared by every command.
type globalFlags struct {
	configPath string
	paths      []string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:   "modhost",
		Short: "Load, link and hot reload Lua modules",
		Long: `modhost hosts Lua modules that declare their dependencies in a manifest.

Modules are discovered in the configured module paths, loaded in dependency
order and linked to each other through their exports. Unloading a module
unloads everything that depends on it first.

Examples:
  modhost run                   Load ./modules and open the console
  modhost run --watch           Also reload modules when their files change
  modhost order -p ./modules    Print the load order without loading
  modhost inspect ./modules/db  Show a module's manifest`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "config file (default is ./"+config.DefaultFileName+" if present)")
	root.PersistentFlags().StringSliceVarP(&flags.paths, "path", "p", nil, "module directory (repeatable; overrides the config)")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "log level (debug, info, warn, error)")

	root.AddCommand(
		newRunCmd(flags),
		newOrderCmd(flags),
		newInspectCmd(flags),
		newVersionCmd(),
	)
	return root
}

// appOptions builds application options from the global flags.
func (f *globalFlags) appOptions(logOutput io.Writer) app.Options {
	path := f.configPath
	if path == "" {
		if found, ok := config.FindFile("."); ok {
			path = found
		}
	}
	return app.Options{
		ConfigPath:  path,
		ModulePaths: f.paths,
		LogLevel:    f.logLevel,
		LogOutput:   logOutput,
	}
}
