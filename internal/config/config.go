// Package config loads the gridcity YAML configuration and turns it into
// simulation options.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/talgya/gridcity/internal/catalog"
	"github.com/talgya/gridcity/internal/economy"
	"github.com/talgya/gridcity/internal/engine"
	"github.com/talgya/gridcity/internal/grid"
	"github.com/talgya/gridcity/internal/planner"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid config")

// AdminKeyEnv overrides server.admin_key when set.
const AdminKeyEnv = "GRIDCITY_ADMIN_KEY"

// Config is the root of gridcity.yaml.
type Config struct {
	Grid       GridConfig       `yaml:"grid"`
	Economy    EconomyConfig    `yaml:"economy"`
	Population PopulationConfig `yaml:"population"`
	Placement  PlacementConfig  `yaml:"placement"`
	Engine     EngineConfig     `yaml:"engine"`
	Server     ServerConfig     `yaml:"server"`
	Ledger     LedgerConfig     `yaml:"ledger"`
	Planner    PlannerConfig    `yaml:"planner"`
	Buildings  []BuildingConfig `yaml:"buildings"`
}

type GridConfig struct {
	Width    int     `yaml:"width"`
	Height   int     `yaml:"height"`
	CellSize float64 `yaml:"cell_size"`
	OriginX  float64 `yaml:"origin_x"`
	OriginY  float64 `yaml:"origin_y"`
}

type EconomyConfig struct {
	StartingMoney int     `yaml:"starting_money"`
	TickInterval  float64 `yaml:"tick_interval"`
}

type PopulationConfig struct {
	TickInterval       float64 `yaml:"tick_interval"`
	GrowthRate         float64 `yaml:"growth_rate"`
	HappinessThreshold float64 `yaml:"happiness_threshold"`
	ShrinkRate         float64 `yaml:"shrink_rate"`
}

type PlacementConfig struct {
	RefundRatio float64 `yaml:"refund_ratio"`
}

type EngineConfig struct {
	FrameInterval time.Duration `yaml:"frame_interval"`
	Speed         float64       `yaml:"speed"`
}

type ServerConfig struct {
	Port     int    `yaml:"port"`
	AdminKey string `yaml:"admin_key"`
}

// LedgerConfig points at the SQLite tick ledger. An empty path disables it.
type LedgerConfig struct {
	Path string `yaml:"path"`
}

// PlannerConfig controls the optional starter layout laid down at startup.
type PlannerConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Seed        int64   `yaml:"seed"`
	RoadSpacing int     `yaml:"road_spacing"`
	BudgetShare float64 `yaml:"budget_share"`
}

// BuildingConfig overrides one catalog entry. Omitted types keep their
// stock values, and so do omitted keys within a listed type.
type BuildingConfig struct {
	Type        string   `yaml:"type"`
	Name        string   `yaml:"name"`
	Cost        *int     `yaml:"cost"`
	Maintenance *int     `yaml:"maintenance"`
	Income      *int     `yaml:"income"`
	Capacity    *int     `yaml:"capacity"`
	Happiness   *float64 `yaml:"happiness"`
}

// apply overlays the keys present in b onto s.
func (b BuildingConfig) apply(s catalog.Spec) catalog.Spec {
	if b.Name != "" {
		s.Name = b.Name
	}
	if b.Cost != nil {
		s.Cost = *b.Cost
	}
	if b.Maintenance != nil {
		s.Maintenance = *b.Maintenance
	}
	if b.Income != nil {
		s.Income = *b.Income
	}
	if b.Capacity != nil {
		s.Capacity = *b.Capacity
	}
	if b.Happiness != nil {
		s.Happiness = *b.Happiness
	}
	return s
}

// Default returns the stock configuration.
func Default() *Config {
	g := grid.DefaultConfig()
	e := economy.DefaultConfig()
	p := engine.DefaultPopulationConfig()
	return &Config{
		Grid: GridConfig{
			Width:    g.Width,
			Height:   g.Height,
			CellSize: g.CellSize,
			OriginX:  g.Origin.X,
			OriginY:  g.Origin.Y,
		},
		Economy: EconomyConfig{
			StartingMoney: e.StartingMoney,
			TickInterval:  e.TickInterval,
		},
		Population: PopulationConfig{
			TickInterval:       p.TickInterval,
			GrowthRate:         p.GrowthRate,
			HappinessThreshold: p.HappinessThreshold,
			ShrinkRate:         p.ShrinkRate,
		},
		Placement: PlacementConfig{RefundRatio: 0.5},
		Engine: EngineConfig{
			FrameInterval: 100 * time.Millisecond,
			Speed:         1.0,
		},
		Server: ServerConfig{Port: 8080},
		Planner: PlannerConfig{
			Seed:        1,
			RoadSpacing: 4,
			BudgetShare: 0.5,
		},
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
// The admin key environment variable wins over the file in both cases.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config YAML: %w", err)
		}
	}
	if key := os.Getenv(AdminKeyEnv); key != "" {
		cfg.Server.AdminKey = key
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks ranges. Every error wraps ErrInvalid.
func (c *Config) Validate() error {
	var problems []string
	check := func(ok bool, msg string) {
		if !ok {
			problems = append(problems, msg)
		}
	}

	check(c.Grid.Width > 0 && c.Grid.Height > 0, "grid dimensions must be positive")
	check(c.Grid.CellSize > 0, "grid.cell_size must be positive")
	check(c.Economy.TickInterval > 0, "economy.tick_interval must be positive")
	check(c.Population.TickInterval > 0, "population.tick_interval must be positive")
	check(inUnit(c.Population.GrowthRate), "population.growth_rate must be in [0,1]")
	check(inUnit(c.Population.HappinessThreshold), "population.happiness_threshold must be in [0,1]")
	check(inUnit(c.Population.ShrinkRate), "population.shrink_rate must be in [0,1]")
	check(inUnit(c.Placement.RefundRatio), "placement.refund_ratio must be in [0,1]")
	check(c.Engine.FrameInterval > 0, "engine.frame_interval must be positive")
	check(c.Engine.Speed >= 0, "engine.speed must not be negative")
	check(c.Server.Port > 0 && c.Server.Port < 65536, "server.port out of range")
	check(c.Planner.RoadSpacing >= 2, "planner.road_spacing must be at least 2")
	check(inUnit(c.Planner.BudgetShare), "planner.budget_share must be in [0,1]")

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, problems[0])
	}
	if _, err := c.Catalog(); err != nil {
		return err
	}
	return nil
}

// Catalog builds the building catalog with the configured overrides.
func (c *Config) Catalog() (*catalog.Catalog, error) {
	stock := catalog.Default()
	specs := make([]catalog.Spec, 0, len(c.Buildings))
	seen := make(map[catalog.Type]bool)
	for _, b := range c.Buildings {
		t, err := catalog.ParseType(b.Type)
		if err != nil {
			return nil, fmt.Errorf("%w: buildings: %v", ErrInvalid, err)
		}
		if t == catalog.None {
			return nil, fmt.Errorf("%w: buildings: none cannot be overridden", ErrInvalid)
		}
		if seen[t] {
			return nil, fmt.Errorf("%w: buildings: %s listed twice", ErrInvalid, t)
		}
		seen[t] = true
		specs = append(specs, b.apply(stock.Get(t)))
	}
	cat, err := catalog.New(specs)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return cat, nil
}

// Options converts the configuration into simulation options.
func (c *Config) Options() (engine.Options, error) {
	cat, err := c.Catalog()
	if err != nil {
		return engine.Options{}, err
	}
	return engine.Options{
		Grid: grid.Config{
			Width:    c.Grid.Width,
			Height:   c.Grid.Height,
			CellSize: c.Grid.CellSize,
			Origin:   grid.Point{X: c.Grid.OriginX, Y: c.Grid.OriginY},
		},
		Economy: economy.Config{
			StartingMoney: c.Economy.StartingMoney,
			TickInterval:  c.Economy.TickInterval,
		},
		Population: engine.PopulationConfig{
			TickInterval:       c.Population.TickInterval,
			GrowthRate:         c.Population.GrowthRate,
			HappinessThreshold: c.Population.HappinessThreshold,
			ShrinkRate:         c.Population.ShrinkRate,
		},
		RefundRatio: c.Placement.RefundRatio,
		Catalog:     cat,
	}, nil
}

// Layout returns the starter-layout parameters.
func (c *Config) Layout() planner.Config {
	return planner.Config{
		Seed:        c.Planner.Seed,
		RoadSpacing: c.Planner.RoadSpacing,
		BudgetShare: c.Planner.BudgetShare,
	}
}

func inUnit(v float64) bool {
	return v >= 0 && v <= 1
}
