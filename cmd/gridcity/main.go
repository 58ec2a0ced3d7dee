// Command gridcity runs the grid city-builder simulation.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/talgya/gridcity/internal/config"
	"github.com/talgya/gridcity/internal/engine"
	"github.com/talgya/gridcity/internal/persistence"
)

var (
	configPath string
	logLevel   string
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "gridcity",
		Short:         "Grid city-builder simulation",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setupLogging(logLevel)
		},
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to gridcity.yaml (stock settings when empty)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "debug, info, warn or error")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(simulateCmd())
	rootCmd.AddCommand(buildingsCmd())

	if err := rootCmd.Execute(); err != nil {
		slog.Error("gridcity failed", "error", err)
		os.Exit(1)
	}
}

// setupLogging installs a text handler on terminals and JSON everywhere else.
func setupLogging(level string) error {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return fmt.Errorf("--log-level: %w", err)
	}
	opts := &slog.HandlerOptions{Level: lvl}

	var handler slog.Handler
	fd := os.Stdout.Fd()
	if isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd) {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
	return nil
}

// loadSimulation reads the configuration and builds a fresh session from it.
func loadSimulation() (*config.Config, *engine.Simulation, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	opts, err := cfg.Options()
	if err != nil {
		return nil, nil, err
	}
	sim, err := engine.NewSimulation(opts)
	if err != nil {
		return nil, nil, fmt.Errorf("creating simulation: %w", err)
	}
	return cfg, sim, nil
}

// openLedger opens the ledger at path and attaches a recorder to sim. The
// queue holds backlog entries plus one change per grid cell so a starter
// town laid down in one go is not dropped. Attach happens inside sim.Do.
func openLedger(path string, sim *engine.Simulation, backlog int) (*persistence.DB, *persistence.Recorder, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, nil, fmt.Errorf("creating ledger directory: %w", err)
		}
	}
	db, err := persistence.Open(path)
	if err != nil {
		return nil, nil, err
	}
	rec := persistence.NewRecorder(db, backlog+sim.Grid.Width()*sim.Grid.Height())
	sim.Do(func() { rec.Attach(sim) })
	return db, rec, nil
}
