package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/talgya/gridcity/internal/config"
)

func buildingsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "buildings",
		Short: "Print the building catalog in effect",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			cat, err := cfg.Catalog()
			if err != nil {
				return err
			}

			fmt.Printf("%-12s %8s %8s %8s %8s %10s\n", "BUILDING", "COST", "UPKEEP", "INCOME", "HOUSES", "HAPPINESS")
			for _, s := range cat.All() {
				fmt.Printf("%-12s %8s %8d %8d %8d %+10.2f\n",
					s.Name, "$"+humanize.Comma(int64(s.Cost)), s.Maintenance, s.Income, s.Capacity, s.Happiness)
			}
			return nil
		},
	}
}
