package feeds

import (
	"context"
	"time"

	"github.com/web3guy0/btc15m/internal/market"
)

// orderAdapter is the subset of market.PolymarketAdapter's methods the
// composite needs; declared locally to avoid an import cycle (market does
// not import feeds).
type orderAdapter interface {
	GetMarketByWindow(ctx context.Context, windowStart time.Time) (market.MarketRef, error)
	PlaceOrder(ctx context.Context, req market.OrderRequest) (market.OrderResult, error)
	CancelOrder(ctx context.Context, orderID string) error
	GetOrder(ctx context.Context, orderID string) (market.OrderResult, error)
}

// PolymarketPredictionMarket composes the order-signing adapter with the
// websocket/REST book feed to satisfy market.PredictionMarket in full: the
// CLOB's order endpoints and its top-of-book stream are separate concerns
// in this codebase, wired together here rather than in one struct.
type PolymarketPredictionMarket struct {
	orders orderAdapter
	book   *PolymarketBookFeed
}

// NewPolymarketPredictionMarket wires an order adapter and a book feed
// together into the full market.PredictionMarket surface.
func NewPolymarketPredictionMarket(orders orderAdapter, book *PolymarketBookFeed) *PolymarketPredictionMarket {
	return &PolymarketPredictionMarket{orders: orders, book: book}
}

func (p *PolymarketPredictionMarket) GetMarketByWindow(ctx context.Context, windowStart time.Time) (market.MarketRef, error) {
	return p.orders.GetMarketByWindow(ctx, windowStart)
}

func (p *PolymarketPredictionMarket) GetBook(ctx context.Context, tokenID string) (market.BookQuote, error) {
	return p.book.GetBook(ctx, tokenID)
}

func (p *PolymarketPredictionMarket) PlaceOrder(ctx context.Context, req market.OrderRequest) (market.OrderResult, error) {
	return p.orders.PlaceOrder(ctx, req)
}

func (p *PolymarketPredictionMarket) CancelOrder(ctx context.Context, orderID string) error {
	return p.orders.CancelOrder(ctx, orderID)
}

func (p *PolymarketPredictionMarket) GetOrder(ctx context.Context, orderID string) (market.OrderResult, error) {
	return p.orders.GetOrder(ctx, orderID)
}
