// Package cli implements orcctl, the thin operator-facing front end for
// orcd. It never talks to the daemon over a network API: since the
// HTTP/WebSocket CRUD surface is explicitly out of scope, orcctl opens the
// same on-disk Registry Store the daemon's scheduler loop uses and relies
// on the registry's own file locks for safe concurrent access, exactly
// like two orc processes sharing a project directory in the teacher.
// Grounded on the teacher's internal/cli/root.go command-tree shape,
// scoped from orc's full phase/gate/review surface down to orcd's
// project/task/plan/cancel/retry operations.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/orcd/internal/config"
	"github.com/randalmurphal/orcd/internal/registry"
)

var dataDirFlag string

var rootCmd = &cobra.Command{
	Use:   "orcctl",
	Short: "Operator CLI for the orcd task orchestrator",
	Long: `orcctl manages projects and tasks tracked by an orcd daemon.

It reads and writes the same on-disk registry the daemon's scheduler loop
polls, so changes are picked up on the daemon's next loop tick without any
direct connection between the two processes.`,
	SilenceUsage: true,
}

// Execute runs the orcctl command tree.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dataDirFlag, "data-dir", "", "registry data directory (default: from config)")

	rootCmd.AddCommand(
		newProjectCmd(),
		newTaskCmd(),
		newLogsCmd(),
	)
}

// openStore loads config (honoring --data-dir) and returns a registry
// Store over it.
func openStore() (*registry.Store, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("getwd: %w", err)
	}
	cfg, err := config.Load(wd)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	dir := cfg.DataDir
	if dataDirFlag != "" {
		dir = dataDirFlag
	}
	return registry.New(dir), nil
}
