/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/folio-press/apiserver/config"
	"github.com/folio-press/apiserver/internal/auth"
	"github.com/folio-press/apiserver/internal/logging"
	"github.com/folio-press/apiserver/internal/server"
	"github.com/spf13/cobra"
)

// sweepCmd runs a single pass of the registry sweeper.
var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Remove expired refresh sessions once",
	Long: `Removes expired refresh sessions from the shared registry and exits.
Intended for cron driven deployments. Only the redis registry can be swept
from outside the server process.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.LoadConfig()
		if cfg.Registry.Backend != "redis" {
			return errors.New("sweep needs REGISTRY_BACKEND=redis; the memory registry is swept by the server itself")
		}
		logger := logging.New(cfg.Log, os.Stderr)

		registry, closer, err := server.OpenRegistry(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer closer.Close()

		removed, err := auth.NewSweeper(registry, cfg.Auth.SweepInterval, logger).SweepOnce(cmd.Context())
		if err != nil {
			return fmt.Errorf("sweep failed: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "removed %d expired sessions\n", removed)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sweepCmd)
}
