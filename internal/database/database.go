// Package database provides gorm-backed persistence for windows,
// positions, and executions, selecting sqlite or postgres by DSN prefix
// exactly as this codebase's lineage always has.
package database

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/web3guy0/btc15m/types"
)

// WindowRecord is the gorm row for a single 15-minute market window.
type WindowRecord struct {
	ID          uint      `gorm:"primaryKey"`
	WindowStart time.Time `gorm:"uniqueIndex"`
	OpenPrice   string
	ClosePrice  string
	Outcome     string
	SettledAt   *time.Time
	CreatedAt   time.Time
}

func (WindowRecord) TableName() string { return "windows" }

// PositionRecord is the gorm row summarizing one position; UpsertPosition
// keeps a single row per position id and overwrites it as the state changes.
type PositionRecord struct {
	ID           string    `gorm:"primaryKey"`
	WindowStart  time.Time `gorm:"index"`
	MarketID     string
	TokenID      string
	Side         string
	State        string
	RequestedQty string
	FilledQty    string
	EntryPrice   string
	SettledValue string
	RealizedPnL  string
	BuyOrderID   string
	SellOrderID  string
	OpenedAt     time.Time
	ClosedAt     *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (PositionRecord) TableName() string { return "positions" }

// ExecutionRecord is one submitted BUY or SELL leg (all of its retry
// attempts together, Attempt holding how many were made) with its
// decision-time context, append-only.
type ExecutionRecord struct {
	ID          string `gorm:"primaryKey"`
	PositionID  string `gorm:"index"`
	Action      string
	OrderType   string
	Price       string
	Qty         string
	FilledQty   string
	FilledPrice string
	OrderID     string
	Attempt     int
	Error       string
	BTCPrice    string
	Delta       string
	Edge        float64
	OurProb     float64
	MarketProb  float64
	BestBid     string
	BestAsk     string
	SubmittedAt time.Time
	AckedAt     *time.Time
	CreatedAt   time.Time
}

func (ExecutionRecord) TableName() string { return "executions" }

// DB wraps a gorm connection dedicated to position/execution/window
// persistence.
type DB struct {
	conn *gorm.DB
}

// New connects to dsn, dispatching on its prefix, and auto-migrates the
// owned schema.
func New(dsn string) (*DB, error) {
	var dialector gorm.Dialector
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		dialector = postgres.Open(dsn)
	} else {
		dialector = sqlite.Open(dsn)
	}

	conn, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := conn.AutoMigrate(&WindowRecord{}, &PositionRecord{}, &ExecutionRecord{}); err != nil {
		return nil, fmt.Errorf("migrating schema: %w", err)
	}

	return &DB{conn: conn}, nil
}

// UpsertPosition writes a position's current summary state. Each write is
// scoped to a single position_id and run inside a transaction, so no two
// workers can race on the same row.
func (d *DB) UpsertPosition(p *types.Position) error {
	rec := PositionRecord{
		ID:           p.ID,
		WindowStart:  windowStartFromID(p.WindowID),
		MarketID:     p.MarketID,
		TokenID:      p.TokenID,
		Side:         string(p.Side),
		State:        string(p.State),
		RequestedQty: p.RequestedQty.String(),
		FilledQty:    p.FilledQty.String(),
		EntryPrice:   p.EntryPrice.String(),
		SettledValue: p.SettledValue.String(),
		RealizedPnL:  p.RealizedPnL.String(),
		BuyOrderID:   p.BuyOrderID,
		SellOrderID:  p.SellOrderID,
		OpenedAt:     p.OpenedAt,
	}
	if !p.ClosedAt.IsZero() {
		rec.ClosedAt = &p.ClosedAt
	}

	return d.conn.Transaction(func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).Create(&rec).Error
	})
}

// InsertExecution appends one execution record. Executions are append-only:
// each submitted leg gets its own row, keyed by its client id (position_id
// for the BUY leg, position_id+"-sell" for the SELL leg).
func (d *DB) InsertExecution(e *types.Execution, btcPrice, delta decimal.Decimal, edgeVal, ourProb, marketProb float64, bestBid, bestAsk decimal.Decimal) error {
	rec := ExecutionRecord{
		ID:          e.ID,
		PositionID:  e.PositionID,
		Action:      e.Action,
		OrderType:   string(e.OrderType),
		Price:       e.Price.String(),
		Qty:         e.Qty.String(),
		FilledQty:   e.FilledQty.String(),
		FilledPrice: e.FilledPrice.String(),
		OrderID:     e.OrderID,
		Attempt:     e.Attempt,
		Error:       e.Error,
		BTCPrice:    btcPrice.String(),
		Delta:       delta.String(),
		Edge:        edgeVal,
		OurProb:     ourProb,
		MarketProb:  marketProb,
		BestBid:     bestBid.String(),
		BestAsk:     bestAsk.String(),
		SubmittedAt: e.SubmittedAt,
	}
	if !e.AckedAt.IsZero() {
		rec.AckedAt = &e.AckedAt
	}
	return d.conn.Create(&rec).Error
}

// GetPosition loads a position summary by id.
func (d *DB) GetPosition(id string) (*PositionRecord, error) {
	var rec PositionRecord
	if err := d.conn.First(&rec, "id = ?", id).Error; err != nil {
		return nil, fmt.Errorf("loading position %s: %w", id, err)
	}
	return &rec, nil
}

// OpenPositions returns all positions not yet in a terminal state, for
// restart reconciliation.
func (d *DB) OpenPositions() ([]PositionRecord, error) {
	var recs []PositionRecord
	terminal := []string{
		string(types.PositionClosed), string(types.PositionFailedBuy), string(types.PositionSettled),
	}
	if err := d.conn.Where("state NOT IN ?", terminal).Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("loading open positions: %w", err)
	}
	return recs, nil
}

// UpsertWindow records a window's open/close price and outcome.
func (d *DB) UpsertWindow(w *WindowRecord) error {
	return d.conn.Transaction(func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "window_start"}},
			UpdateAll: true,
		}).Create(w).Error
	})
}

func windowStartFromID(windowID string) time.Time {
	t, err := time.Parse(time.RFC3339, windowID)
	if err != nil {
		return time.Time{}
	}
	return t
}
