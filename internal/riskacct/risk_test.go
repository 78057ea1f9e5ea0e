package riskacct

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestCanBetAllowsWhenWithinLimit(t *testing.T) {
	g := NewGate(decimal.NewFromInt(1000), 10, 1)
	if !g.CanBet(decimal.NewFromInt(50)) {
		t.Fatal("expected bet allowed with no prior loss")
	}
}

func TestDailyLossCutoffBlocksFurtherBets(t *testing.T) {
	g := NewGate(decimal.NewFromInt(1000), 10, 1)
	g.RecordSettlement(decimal.NewFromInt(-100)) // exactly 10% of bankroll

	if g.CanBet(decimal.NewFromInt(10)) {
		t.Fatal("expected daily loss cutoff to block further bets")
	}
}

func TestCanBetInWindowRespectsCap(t *testing.T) {
	g := NewGate(decimal.NewFromInt(1000), 10, 1)
	window := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	if !g.CanBetInWindow(window) {
		t.Fatal("expected first bet in window allowed")
	}
	g.RecordBet(window)
	if g.CanBetInWindow(window) {
		t.Fatal("expected second bet in same window blocked by cap")
	}
}

func TestRealizedLossTodayNonNegative(t *testing.T) {
	g := NewGate(decimal.NewFromInt(1000), 10, 1)
	g.RecordSettlement(decimal.NewFromInt(50)) // profit
	if !g.RealizedLossToday().IsZero() {
		t.Fatalf("profitable day should report zero loss, got %v", g.RealizedLossToday())
	}
	g.RecordSettlement(decimal.NewFromInt(-80))
	if got := g.RealizedLossToday(); got.Cmp(decimal.NewFromInt(30)) != 0 {
		t.Fatalf("expected net loss 30, got %v", got)
	}
}
