package main

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/talgya/gridcity/internal/catalog"
	"github.com/talgya/gridcity/internal/economy"
	"github.com/talgya/gridcity/internal/engine"
	"github.com/talgya/gridcity/internal/planner"
)

func simulateCmd() *cobra.Command {
	var (
		duration float64
		step     float64
		planSeed int64
		ledger   bool
	)
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run the simulation headless as fast as possible and print a report",
		RunE: func(cmd *cobra.Command, args []string) error {
			if duration <= 0 || step <= 0 {
				return fmt.Errorf("--duration and --step must be positive")
			}
			return runSimulate(duration, step, planSeed, ledger)
		},
	}
	cmd.Flags().Float64VarP(&duration, "duration", "d", 60, "simulated time units to run")
	cmd.Flags().Float64Var(&step, "step", 0.1, "time units per frame")
	cmd.Flags().Int64Var(&planSeed, "plan-seed", 0, "lay down a starter town with this seed first (0 = empty grid)")
	cmd.Flags().BoolVar(&ledger, "ledger", false, "record ticks to ledger.path")
	return cmd
}

func runSimulate(duration, step float64, planSeed int64, ledger bool) error {
	cfg, sim, err := loadSimulation()
	if err != nil {
		return err
	}

	if ledger {
		if cfg.Ledger.Path == "" {
			return fmt.Errorf("--ledger needs ledger.path in the config")
		}
		frames := int(math.Ceil(duration / step))
		db, rec, err := openLedger(cfg.Ledger.Path, sim, frames+1024)
		if err != nil {
			return err
		}
		defer db.Close()
		defer sim.Do(rec.Detach)

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			rec.Run(ctx)
			close(done)
		}()
		defer func() {
			cancel()
			<-done
			slog.Info("ledger written", "path", cfg.Ledger.Path, "session", db.Session())
		}()
	}

	if planSeed != 0 {
		layout := cfg.Layout()
		layout.Seed = planSeed
		var res planner.Result
		sim.Do(func() { res = planner.Build(sim, layout) })
		fmt.Printf("Starter town: %d buildings for $%s\n", res.Total(), humanize.Comma(int64(res.Spent)))
		for _, t := range catalog.Types() {
			if n := res.Placed[t]; n > 0 {
				fmt.Printf("  %-12s %4d\n", t, n)
			}
		}
		fmt.Println()
	}

	fmt.Printf("%6s %12s %8s %8s %8s %10s\n", "tick", "money", "income", "upkeep", "pop", "happiness")
	sim.Economy.Ticked().Subscribe(func(r economy.Report) {
		fmt.Printf("%6d %12s %8d %8d %8d %10.2f\n",
			r.Tick, "$"+humanize.Comma(int64(r.Balance)), r.Income, r.Expenses,
			sim.Population.Population(), sim.Population.Happiness())
	})

	eng := engine.NewEngine(sim)
	for t := 0.0; t < duration; t += step {
		eng.Step(step)
	}

	st := sim.Status()
	fmt.Printf("\nAfter %.1f time units (%s frames): %s residents of %s capacity, happiness %.2f, $%s.\n",
		st.Elapsed, humanize.Comma(int64(st.Frames)),
		humanize.Comma(int64(st.Population)), humanize.Comma(int64(st.Capacity)),
		st.Happiness, humanize.Comma(int64(st.Money)))
	return nil
}
