package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Robinemad1/EEETrading/internal/config"
)

// version is set at build time via ldflags.
var version = "dev"

var flagJSON bool

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "eeetrading",
		Short:         "Inventory synchronization service for QuickBooks Online",
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	cmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output in JSON format")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newSyncCmd())
	cmd.AddCommand(newTokenCmd())
	cmd.AddCommand(newMigrateCmd())

	return cmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads the environment configuration.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if version != "dev" {
		cfg.App.Version = version
	}
	return cfg, nil
}
