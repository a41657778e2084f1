package main

import (
	"github.com/danmuck/decompctl/internal/config"
	"github.com/danmuck/decompctl/internal/logging"
	"github.com/spf13/cobra"
)

// newRootCmd creates the root decompctl command with all subcommands attached.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "decompctl",
		Short:         "Decompiler query protocol engine and tooling",
		Long:          "decompctl runs the decompiler side of the query/response protocol\nand drives it against a recorded fact store.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().String("config", "", "path to a decompctl TOML config")

	cmd.AddCommand(
		newServeCmd(),
		newProbeCmd(),
		newFactsCmd(),
		newConfigCmd(),
	)
	return cmd
}

// loadConfig resolves --config, falling back to defaults when unset, and
// applies the configured log level.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg := config.Default()
	if path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return config.Config{}, err
		}
		cfg = loaded
	}
	logging.ConfigureRuntime()
	logging.SetLevel(cfg.LogLevel)
	return cfg, nil
}
