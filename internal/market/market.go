// Package market defines the abstract collaborators the decision engine
// and execution state machine depend on: a spot price feed and a
// prediction-market exchange. The order-signing PolymarketAdapter lives in
// this package; the spot and book adapters live in internal/feeds.
package market

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/btc15m/types"
)

// SpotQuote is the latest observed spot price.
type SpotQuote struct {
	Price     decimal.Decimal
	Timestamp time.Time
}

// SpotFeed returns the latest BTC/USD price, with freshness the caller is
// responsible for checking against its own staleness threshold.
type SpotFeed interface {
	GetLatestPrice(ctx context.Context) (SpotQuote, error)
}

// MarketRef identifies the tradable instrument for one 15-minute window.
type MarketRef struct {
	MarketID    string
	ConditionID string
	UpTokenID   string
	DownTokenID string
}

// BookQuote is the best bid/ask and resting size for one token.
type BookQuote struct {
	BestBid     decimal.Decimal
	BestBidSize decimal.Decimal
	BestAsk     decimal.Decimal
	BestAskSize decimal.Decimal
}

// OrderRequest is a single order submission.
type OrderRequest struct {
	TokenID   string
	Side      string // "BUY" or "SELL"
	Price     decimal.Decimal
	Size      decimal.Decimal
	OrderType types.OrderType
	ClientID  string
}

// OrderResult is the exchange's response to an order submission or a
// reconciliation lookup.
type OrderResult struct {
	OrderID     string
	Status      string
	FilledPrice decimal.Decimal
	FilledSize  decimal.Decimal
}

// PredictionMarket is the abstract CLOB collaborator: window discovery,
// book queries, and order placement/cancellation/lookup.
type PredictionMarket interface {
	GetMarketByWindow(ctx context.Context, windowStart time.Time) (MarketRef, error)
	GetBook(ctx context.Context, tokenID string) (BookQuote, error)
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
	CancelOrder(ctx context.Context, orderID string) error
	GetOrder(ctx context.Context, orderID string) (OrderResult, error)
}
