// Package economy runs the money side of the city: a balance adjusted by
// player spending and refunds, and a periodic tick that settles income
// against maintenance for every building on the grid.
package economy

import (
	"log/slog"

	"github.com/dustin/go-humanize"

	"github.com/talgya/gridcity/internal/catalog"
	"github.com/talgya/gridcity/internal/clock"
	"github.com/talgya/gridcity/internal/event"
)

// Counter is the read-only grid view the economy needs.
type Counter interface {
	CountBuildings(t catalog.Type) int
}

// Config holds economy tuning.
type Config struct {
	StartingMoney int     // Balance at session start
	TickInterval  float64 // Time units between settlements
}

// DefaultConfig returns the stock tuning: 10,000 starting money, settle every 5 units.
func DefaultConfig() Config {
	return Config{
		StartingMoney: 10000,
		TickInterval:  5.0,
	}
}

// Report summarizes one settlement tick.
type Report struct {
	Tick     uint64 `json:"tick"`
	Income   int    `json:"income"`
	Expenses int    `json:"expenses"`
	Net      int    `json:"net"`
	Balance  int    `json:"balance"` // Balance after the net was applied
}

// Economy owns the money balance. The balance may go negative through tick
// losses; that signals insolvency and is never blocked.
type Economy struct {
	grid    Counter
	catalog *catalog.Catalog
	timer   *clock.Timer

	balance      int
	lastIncome   int
	lastExpenses int
	ticks        uint64

	moneyChanged event.Feed[int]
	ticked       event.Feed[Report]
}

// New creates an economy reading counts from grid and rates from cat.
// pause may be nil.
func New(cfg Config, grid Counter, cat *catalog.Catalog, pause clock.Pauser) *Economy {
	return &Economy{
		grid:    grid,
		catalog: cat,
		timer:   clock.NewTimer(cfg.TickInterval, pause),
		balance: cfg.StartingMoney,
	}
}

// Balance returns the current money.
func (e *Economy) Balance() int { return e.balance }

// LastIncome returns the gross income of the most recent tick.
func (e *Economy) LastIncome() int { return e.lastIncome }

// LastExpenses returns the maintenance total of the most recent tick.
func (e *Economy) LastExpenses() int { return e.lastExpenses }

// Ticks returns how many settlement ticks have run.
func (e *Economy) Ticks() uint64 { return e.ticks }

// Timer exposes the settlement timer for inspection.
func (e *Economy) Timer() *clock.Timer { return e.timer }

// MoneyChanged fires with the new balance after every balance change.
func (e *Economy) MoneyChanged() *event.Feed[int] { return &e.moneyChanged }

// Ticked fires after every completed settlement.
func (e *Economy) Ticked() *event.Feed[Report] { return &e.ticked }

// Advance feeds elapsed time to the settlement timer and runs at most one
// tick. Returns true if a tick ran.
func (e *Economy) Advance(dt float64) bool {
	if !e.timer.Advance(dt) {
		return false
	}
	_, ok := e.Tick()
	return ok
}

// Tick settles one interval immediately. A paused session skips the whole
// tick before anything is computed or applied.
func (e *Economy) Tick() (Report, bool) {
	if e.timer.Paused() {
		return Report{}, false
	}

	income, expenses := 0, 0
	for _, t := range catalog.Types() {
		count := e.grid.CountBuildings(t)
		if count == 0 {
			continue
		}
		spec := e.catalog.Get(t)
		income += count * spec.Income
		expenses += count * spec.Maintenance
	}

	e.ticks++
	e.lastIncome = income
	e.lastExpenses = expenses
	net := income - expenses
	e.AddMoney(net)

	r := Report{
		Tick:     e.ticks,
		Income:   income,
		Expenses: expenses,
		Net:      net,
		Balance:  e.balance,
	}
	slog.Debug("economy tick",
		"tick", r.Tick,
		"income", r.Income,
		"expenses", r.Expenses,
		"balance", humanize.Comma(int64(r.Balance)),
	)
	e.ticked.Emit(r)
	return r, true
}

// CanAfford reports whether the balance covers amount.
func (e *Economy) CanAfford(amount int) bool {
	return e.balance >= amount
}

// SpendMoney deducts amount if affordable. Spending never drives the balance
// negative; only tick losses can. Negative amounts are refused.
func (e *Economy) SpendMoney(amount int) bool {
	if amount < 0 || !e.CanAfford(amount) {
		return false
	}
	e.balance -= amount
	e.moneyChanged.Emit(e.balance)
	return true
}

// AddMoney credits amount, which may be negative. Used for refunds and tick
// settlement alike.
func (e *Economy) AddMoney(amount int) {
	e.balance += amount
	e.moneyChanged.Emit(e.balance)
}
