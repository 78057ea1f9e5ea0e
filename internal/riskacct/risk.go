// Package riskacct tracks per-day realized P&L, open position counts, and
// the bankroll snapshot, exposing the can-bet gate the decision engine
// consults before sizing. Day accounting resets at midnight UTC; the gate
// refuses bets while today's net realized loss is at or above the configured
// daily loss limit, so later profitable settlements the same day can bring
// the loss back under the limit and reopen it.
package riskacct

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// Gate tracks daily realized P&L against a starting bankroll and exposes
// CanBet. Safe for concurrent use.
type Gate struct {
	mu sync.Mutex

	startingBankroll  decimal.Decimal
	dailyLossLimitPct float64
	maxBetsPerWindow  int

	dayStart       time.Time
	realizedPnLDay decimal.Decimal
	betsThisWindow map[time.Time]int
	openPositions  int
}

// NewGate constructs a Gate with the given bankroll and risk limits.
func NewGate(startingBankroll decimal.Decimal, dailyLossLimitPct float64, maxBetsPerWindow int) *Gate {
	return &Gate{
		startingBankroll:  startingBankroll,
		dailyLossLimitPct: dailyLossLimitPct,
		maxBetsPerWindow:  maxBetsPerWindow,
		dayStart:          todayUTC(),
		betsThisWindow:    make(map[time.Time]int),
	}
}

func todayUTC() time.Time {
	now := time.Now().UTC()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}

// checkDayReset rolls the accounting window forward at midnight UTC.
func (g *Gate) checkDayReset() {
	today := todayUTC()
	if today.After(g.dayStart) {
		log.Info().
			Str("previous_day_pnl", g.realizedPnLDay.String()).
			Msg("risk gate: rolling over to new accounting day")
		g.dayStart = today
		g.realizedPnLDay = decimal.Zero
		g.betsThisWindow = make(map[time.Time]int)
	}
}

// CanBet reports whether a bet of the given size is allowed under the
// daily loss limit, independent of per-window caps (checked separately via
// CanBetInWindow).
func (g *Gate) CanBet(size decimal.Decimal) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.checkDayReset()

	if size.IsZero() || size.IsNegative() {
		return false
	}
	limit := g.startingBankroll.Mul(decimal.NewFromFloat(g.dailyLossLimitPct / 100))
	realizedLoss := g.realizedPnLDay.Neg()
	return realizedLoss.LessThan(limit)
}

// RealizedLossToday returns today's cumulative loss as a non-negative
// decimal (zero if the day is net profitable).
func (g *Gate) RealizedLossToday() decimal.Decimal {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.checkDayReset()
	if g.realizedPnLDay.IsNegative() {
		return g.realizedPnLDay.Neg()
	}
	return decimal.Zero
}

// CanBetInWindow reports whether another bet is allowed in windowStart,
// per the max_bets_per_window cap.
func (g *Gate) CanBetInWindow(windowStart time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.betsThisWindow[windowStart] < g.maxBetsPerWindow
}

// RecordBet increments the per-window bet counter.
func (g *Gate) RecordBet(windowStart time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.betsThisWindow[windowStart]++
	g.openPositions++
}

// RecordSettlement applies a realized P&L delta (positive profit, negative
// loss) to today's accounting and decrements the open position count.
func (g *Gate) RecordSettlement(pnl decimal.Decimal) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.checkDayReset()
	g.realizedPnLDay = g.realizedPnLDay.Add(pnl)
	if g.openPositions > 0 {
		g.openPositions--
	}
	log.Info().
		Str("pnl", pnl.String()).
		Str("realized_today", g.realizedPnLDay.String()).
		Msg("risk gate: settlement recorded")
}

// OpenPositions returns the current count of positions not yet settled.
func (g *Gate) OpenPositions() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.openPositions
}
