package decision

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/btc15m/internal/config"
	"github.com/web3guy0/btc15m/internal/edge"
	"github.com/web3guy0/btc15m/internal/riskacct"
	"github.com/web3guy0/btc15m/internal/stats"
)

// tickContext bundles the per-direction inputs the filter chain needs.
type tickContext struct {
	rec            edge.Recommendation
	delta          decimal.Decimal
	askSize        decimal.Decimal
	intendedShares decimal.Decimal
	windowStart    time.Time
	size           decimal.Decimal
}

// applyFilters runs the ordered filter chain: confidence, momentum
// alignment, liquidity, per-window cap, risk cutoff. The first non-empty
// reason aborts the tick for this direction.
func applyFilters(cfg *config.Config, risk *riskacct.Gate, tc tickContext) string {
	if reason := filterConfidence(cfg, tc.rec.Confidence); reason != "" {
		return reason
	}
	if reason := filterMomentum(cfg, tc.rec.Direction, tc.delta); reason != "" {
		return reason
	}
	if reason := filterLiquidity(cfg, tc.askSize, tc.intendedShares); reason != "" {
		return reason
	}
	if reason := filterWindowCap(risk, tc.windowStart); reason != "" {
		return reason
	}
	if reason := filterRiskCutoff(risk, tc.size); reason != "" {
		return reason
	}
	return ""
}

func filterConfidence(cfg *config.Config, confidence stats.Confidence) string {
	min, ok := stats.ParseConfidence(cfg.MinConfidence)
	if !ok {
		min = stats.Moderate
	}
	if confidence < min {
		return fmt.Sprintf("confidence %s below floor %s", confidence, min)
	}
	return ""
}

func filterMomentum(cfg *config.Config, direction edge.Direction, delta decimal.Decimal) string {
	if !cfg.RequireMomentumAlignment {
		return ""
	}
	s := sign(delta)
	if s == 0 {
		return ""
	}
	wantUp := s > 0
	isUp := direction == edge.Up
	if wantUp != isUp {
		return "contrarian bet rejected: direction does not match momentum sign"
	}
	return ""
}

func filterLiquidity(cfg *config.Config, askSize, intendedShares decimal.Decimal) string {
	margin := cfg.LiquidityMargin
	if margin <= 0 {
		margin = 1.0
	}
	required := intendedShares.Mul(decimal.NewFromFloat(margin))
	if askSize.LessThan(required) {
		return fmt.Sprintf("ask size %s below required %s (margin %.2f)", askSize, required, margin)
	}
	return ""
}

func filterWindowCap(risk *riskacct.Gate, windowStart time.Time) string {
	if !risk.CanBetInWindow(windowStart) {
		return "per-window bet cap reached"
	}
	return ""
}

func filterRiskCutoff(risk *riskacct.Gate, size decimal.Decimal) string {
	if !risk.CanBet(size) {
		return "daily loss budget exhausted"
	}
	return ""
}
