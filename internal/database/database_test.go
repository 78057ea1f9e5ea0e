package database

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/btc15m/types"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	dir := t.TempDir()
	db, err := New(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	return db
}

func TestUpsertAndGetPosition(t *testing.T) {
	db := newTestDB(t)

	p := &types.Position{
		ID:           "pos-1",
		WindowID:     time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).Format(time.RFC3339),
		MarketID:     "market-1",
		Side:         types.SideUp,
		State:        types.PositionOpen,
		RequestedQty: decimal.NewFromInt(100),
		FilledQty:    decimal.NewFromInt(100),
		EntryPrice:   decimal.NewFromFloat(0.55),
		OpenedAt:     time.Now().UTC(),
	}

	if err := db.UpsertPosition(p); err != nil {
		t.Fatal(err)
	}

	got, err := db.GetPosition("pos-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.State != string(types.PositionOpen) {
		t.Fatalf("got state %q, want OPEN", got.State)
	}
}

func TestUpsertPositionIsIdempotentPerID(t *testing.T) {
	db := newTestDB(t)
	p := &types.Position{
		ID: "pos-2", State: types.PositionPendingBuy,
		RequestedQty: decimal.Zero, FilledQty: decimal.Zero,
		EntryPrice: decimal.Zero, SettledValue: decimal.Zero, RealizedPnL: decimal.Zero,
	}
	if err := db.UpsertPosition(p); err != nil {
		t.Fatal(err)
	}
	p.State = types.PositionOpen
	if err := db.UpsertPosition(p); err != nil {
		t.Fatal(err)
	}

	var count int64
	db.conn.Model(&PositionRecord{}).Where("id = ?", "pos-2").Count(&count)
	if count != 1 {
		t.Fatalf("expected exactly one row for pos-2, got %d", count)
	}

	got, err := db.GetPosition("pos-2")
	if err != nil {
		t.Fatal(err)
	}
	if got.State != string(types.PositionOpen) {
		t.Fatalf("expected updated state OPEN, got %q", got.State)
	}
}

func TestOpenPositionsExcludesTerminalStates(t *testing.T) {
	db := newTestDB(t)
	for _, p := range []*types.Position{
		{ID: "open-1", State: types.PositionOpen, RequestedQty: decimal.Zero, FilledQty: decimal.Zero, EntryPrice: decimal.Zero, SettledValue: decimal.Zero, RealizedPnL: decimal.Zero},
		{ID: "closed-1", State: types.PositionClosed, RequestedQty: decimal.Zero, FilledQty: decimal.Zero, EntryPrice: decimal.Zero, SettledValue: decimal.Zero, RealizedPnL: decimal.Zero},
	} {
		if err := db.UpsertPosition(p); err != nil {
			t.Fatal(err)
		}
	}

	open, err := db.OpenPositions()
	if err != nil {
		t.Fatal(err)
	}
	if len(open) != 1 || open[0].ID != "open-1" {
		t.Fatalf("expected only open-1, got %+v", open)
	}
}
