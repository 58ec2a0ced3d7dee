package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/talgya/gridcity/internal/api"
	"github.com/talgya/gridcity/internal/engine"
	"github.com/talgya/gridcity/internal/persistence"
	"github.com/talgya/gridcity/internal/planner"
)

func serveCmd() *cobra.Command {
	var (
		port int
		plan bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the simulation in real time behind the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(port, plan)
		},
	}
	cmd.Flags().IntVarP(&port, "port", "p", 0, "HTTP port (overrides server.port)")
	cmd.Flags().BoolVar(&plan, "plan", false, "lay down a starter town before the clock starts")
	return cmd
}

func runServe(port int, plan bool) error {
	cfg, sim, err := loadSimulation()
	if err != nil {
		return err
	}
	if port > 0 {
		cfg.Server.Port = port
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Ledger ────────────────────────────────────────────────────────
	var (
		db       *persistence.DB
		recorder *persistence.Recorder
		recDone  = make(chan struct{})
	)
	if cfg.Ledger.Path != "" {
		db, recorder, err = openLedger(cfg.Ledger.Path, sim, 1024)
		if err != nil {
			return err
		}
		go func() {
			recorder.Run(ctx)
			close(recDone)
		}()
	} else {
		close(recDone)
		slog.Info("ledger disabled, history endpoint will answer 503")
	}

	// ── Starter Layout ────────────────────────────────────────────────
	// Built after Attach so the ledger sees every placement.
	if plan || cfg.Planner.Enabled {
		layout := cfg.Layout()
		sim.Do(func() { planner.Build(sim, layout) })
	}

	// ── Simulation ────────────────────────────────────────────────────
	eng := engine.NewEngine(sim)
	eng.Interval = cfg.Engine.FrameInterval
	eng.Speed = cfg.Engine.Speed

	// ── HTTP API ──────────────────────────────────────────────────────
	hub := api.NewHub()
	go hub.Run(ctx)

	if cfg.Server.AdminKey == "" {
		slog.Warn("no admin key set, control endpoints are open to anyone")
	}
	srv := &api.Server{
		Sim:      sim,
		Eng:      eng,
		DB:       db,
		Hub:      hub,
		Port:     cfg.Server.Port,
		AdminKey: cfg.Server.AdminKey,
	}
	var unbridge func()
	sim.Do(func() { unbridge = srv.BridgeEvents() })
	srv.Start()

	// ── Start ─────────────────────────────────────────────────────────
	fmt.Printf("\ngridcity is running on a %dx%d grid with $%s in the bank.\n",
		sim.Grid.Width(), sim.Grid.Height(), humanize.Comma(int64(cfg.Economy.StartingMoney)))
	fmt.Printf("API: http://localhost:%d/api/v1/status\n", cfg.Server.Port)
	fmt.Println("Starting simulation... (Ctrl+C to stop)")

	eng.Run(ctx)

	// ── Shutdown ──────────────────────────────────────────────────────
	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown failed", "error", err)
	}
	sim.Do(func() {
		unbridge()
		if recorder != nil {
			recorder.Detach()
		}
	})
	<-recDone

	var status engine.Status
	sim.Do(func() { status = sim.Status() })
	if db != nil {
		if err := db.Close(); err != nil {
			slog.Error("closing ledger failed", "error", err)
		}
	}

	fmt.Printf("Simulation stopped after %.1f time units: %s residents, $%s.\n",
		status.Elapsed, humanize.Comma(int64(status.Population)), humanize.Comma(int64(status.Money)))
	return nil
}
