package main

import (
	"fmt"

	"github.com/BTreeMap/PayPipe/internal/scheduler"
	"github.com/BTreeMap/PayPipe/internal/store"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func newPurgeCmd(configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "purge",
		Short: "Delete expired conversation state and dedup records once",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(*configFile)
			if err != nil {
				return err
			}
			initializeLogger(cfg.LogLevel)
			backend, err := store.Open(cfg.DatabaseURL, buildStoreOptions(cfg)...)
			if err != nil {
				return fmt.Errorf("failed to open store: %w", err)
			}
			defer backend.Close()

			n, err := scheduler.RunPurge(cmd.Context(), backend, scheduler.DefaultPurgeTimeout)
			if err != nil {
				return err
			}
			color.New(color.FgGreen).Fprintf(cmd.OutOrStdout(), "removed %d expired entries\n", n)
			return nil
		},
	}
}
