package main

import (
	"fmt"
	"os"

	"github.com/danmuck/decompctl/internal/factstore"
	"github.com/danmuck/decompctl/internal/observability"
	"github.com/spf13/cobra"
)

func newFactsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "facts",
		Short: "Manage the fact store",
	}
	cmd.AddCommand(newFactsImportCmd())
	return cmd
}

func newFactsImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <fixture.yaml> [fixture.yaml...]",
		Short: "Load YAML fixtures into facts_db",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			store, err := factstore.Open(cfg.FactsDB, observability.InitLogger("decompctl"))
			if err != nil {
				return fmt.Errorf("facts import: %w", err)
			}
			defer store.Close()

			for _, path := range args {
				f, err := os.Open(path)
				if err != nil {
					return fmt.Errorf("facts import: %w", err)
				}
				stats, err := store.Import(cmd.Context(), f)
				f.Close()
				if err != nil {
					return fmt.Errorf("facts import %s: %w", path, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %d answers, %d failures, %d regions\n",
					path, stats.Answers, stats.Failures, stats.Regions)
			}
			return nil
		},
	}
}
