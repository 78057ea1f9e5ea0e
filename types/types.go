// Package types holds cross-cutting structs shared by multiple internal
// packages, kept separate to avoid import cycles between them.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is which outcome share a position holds.
type Side string

const (
	SideUp   Side = "UP"
	SideDown Side = "DOWN"
)

// PositionState is the lifecycle state of a position, per the execution
// state machine.
type PositionState string

const (
	PositionPendingBuy      PositionState = "PENDING_BUY"
	PositionOpen            PositionState = "OPEN"
	PositionPendingSell     PositionState = "PENDING_SELL"
	PositionClosed          PositionState = "CLOSED"
	PositionPartiallyOpen   PositionState = "PARTIALLY_OPEN"
	PositionPartiallyClosed PositionState = "PARTIALLY_CLOSED"
	PositionFailedBuy       PositionState = "FAILED_BUY"
	PositionSettled         PositionState = "SETTLED"
)

// OrderType mirrors the four CLOB order types the prediction-market
// collaborator accepts.
type OrderType string

const (
	OrderFOK OrderType = "FOK"
	OrderFAK OrderType = "FAK"
	OrderGTC OrderType = "GTC"
	OrderGTD OrderType = "GTD"
)

// Position is a single market-making position in a 15-minute window.
type Position struct {
	ID           string
	WindowID     string
	MarketID     string
	TokenID      string
	Side         Side
	State        PositionState
	RequestedQty decimal.Decimal
	FilledQty    decimal.Decimal
	EntryPrice   decimal.Decimal
	SettledValue decimal.Decimal
	RealizedPnL  decimal.Decimal
	OpenedAt     time.Time
	ClosedAt     time.Time
	Metadata     map[string]string

	// BuyOrderID and SellOrderID are the exchange-assigned order ids for
	// each leg, set once PlaceOrder acknowledges the order. Restart
	// reconciliation looks orders up by these, not by the client-generated
	// position id, since get_order is keyed on the exchange's own id.
	BuyOrderID  string
	SellOrderID string
}

// Execution is one submitted leg (buy or sell) against a position, covering
// all of its retry attempts; Attempt holds how many were made.
type Execution struct {
	ID          string
	PositionID  string
	Action      string // "BUY" or "SELL"
	OrderType   OrderType
	Price       decimal.Decimal
	Qty         decimal.Decimal
	FilledQty   decimal.Decimal
	FilledPrice decimal.Decimal
	OrderID     string
	Attempt     int
	Error       string
	SubmittedAt time.Time
	AckedAt     time.Time
}
