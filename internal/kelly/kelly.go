// Package kelly sizes bets via fractional Kelly, bounded by per-confidence
// scaling, a bankroll-relative cap, an absolute cap, and the daily loss
// cutoff.
package kelly

import (
	"github.com/shopspring/decimal"

	"github.com/web3guy0/btc15m/internal/stats"
)

// KConfidence is the default per-confidence Kelly fraction scale. Size
// falls back to this package default when cfg.Scale is nil; callers wiring
// the configurable sizing.kelly_fraction_{strong,moderate,weak} options
// build one with Scale instead.
var KConfidence = map[stats.Confidence]float64{
	stats.Weak:     0.10,
	stats.Moderate: 0.25,
	stats.Strong:   0.50,
}

// Scale builds a per-confidence Kelly fraction-scale map from the
// configured sizing.kelly_fraction_{strong,moderate,weak} values, for
// assigning to Config.Scale.
func Scale(strong, moderate, weak float64) map[stats.Confidence]float64 {
	return map[stats.Confidence]float64{
		stats.Strong:   strong,
		stats.Moderate: moderate,
		stats.Weak:     weak,
	}
}

// Config bounds the sizer's output.
type Config struct {
	FractionCap       float64                      // f_cap, fraction of bankroll, default 0.10
	MaxBetUSDC        decimal.Decimal               // absolute cap, default 100
	MinBetUSDC        decimal.Decimal               // below this, treat as no bet
	DailyLossLimitPct float64                       // e.g. 10 for 10%
	Scale             map[stats.Confidence]float64  // k_confidence; nil uses package default KConfidence
}

// DefaultConfig returns the baseline fraction cap and bet-size bounds.
func DefaultConfig() Config {
	return Config{
		FractionCap:       0.10,
		MaxBetUSDC:        decimal.NewFromInt(100),
		MinBetUSDC:        decimal.NewFromInt(1),
		DailyLossLimitPct: 10,
	}
}

// Size computes the USDC bet size for a bet at probability p and market
// price marketPrice, scaled by confidence, bounded by caps, and zeroed if
// today's realized loss has breached the daily loss limit.
//
// realizedLossToday is the magnitude of today's realized loss (>= 0, zero
// on a profitable day); a zero or negative bankroll always sizes to zero.
func Size(p, marketPrice float64, confidence stats.Confidence, bankroll decimal.Decimal, cfg Config, realizedLossToday decimal.Decimal) decimal.Decimal {
	if marketPrice <= 0 || marketPrice >= 1 {
		return decimal.Zero
	}

	if dailyLossBreached(realizedLossToday, bankroll, cfg.DailyLossLimitPct) {
		return decimal.Zero
	}

	scale := cfg.Scale
	if scale == nil {
		scale = KConfidence
	}
	k, ok := scale[confidence]
	if !ok {
		return decimal.Zero
	}

	b := (1 - marketPrice) / marketPrice
	fStar := (p*b - (1 - p)) / b
	if fStar <= 0 {
		return decimal.Zero
	}

	fUsed := fStar * k
	if fUsed > cfg.FractionCap {
		fUsed = cfg.FractionCap
	}
	if fUsed <= 0 {
		return decimal.Zero
	}

	size := bankroll.Mul(decimal.NewFromFloat(fUsed))
	if size.GreaterThan(cfg.MaxBetUSDC) {
		size = cfg.MaxBetUSDC
	}
	if size.LessThan(cfg.MinBetUSDC) {
		return decimal.Zero
	}
	return size
}

func dailyLossBreached(realizedLossToday, bankroll decimal.Decimal, limitPct float64) bool {
	if bankroll.IsZero() || bankroll.IsNegative() {
		return true
	}
	limit := bankroll.Mul(decimal.NewFromFloat(limitPct / 100))
	return realizedLossToday.GreaterThanOrEqual(limit)
}
