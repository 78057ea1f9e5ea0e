package execution

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/btc15m/internal/market"
	"github.com/web3guy0/btc15m/types"
)

// fakeMarket is a scriptable market.PredictionMarket test double: each
// PlaceOrder call consumes the next queued response/error pair.
type fakeMarket struct {
	placeCalls int
	responses  []market.OrderResult
	errs       []error

	// getOrderResults/getOrderErrs script GetOrder by order id, for
	// reconciliation tests.
	getOrderResults map[string]market.OrderResult
	getOrderErrs    map[string]error
}

func (f *fakeMarket) GetMarketByWindow(ctx context.Context, windowStart time.Time) (market.MarketRef, error) {
	return market.MarketRef{}, nil
}

func (f *fakeMarket) GetBook(ctx context.Context, tokenID string) (market.BookQuote, error) {
	return market.BookQuote{}, nil
}

func (f *fakeMarket) PlaceOrder(ctx context.Context, req market.OrderRequest) (market.OrderResult, error) {
	idx := f.placeCalls
	f.placeCalls++
	if idx >= len(f.responses) {
		idx = len(f.responses) - 1
	}
	var err error
	if idx < len(f.errs) {
		err = f.errs[idx]
	}
	return f.responses[idx], err
}

func (f *fakeMarket) CancelOrder(ctx context.Context, orderID string) error { return nil }

func (f *fakeMarket) GetOrder(ctx context.Context, orderID string) (market.OrderResult, error) {
	if err, ok := f.getOrderErrs[orderID]; ok {
		return market.OrderResult{}, err
	}
	return f.getOrderResults[orderID], nil
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.RetryBaseDelay = time.Millisecond
	cfg.RetryCapDelay = 5 * time.Millisecond
	return cfg
}

func newPosition() *types.Position {
	return &types.Position{ID: "pos-1", Side: types.SideUp}
}

func TestSubmitBuyFullFillOpensPosition(t *testing.T) {
	fm := &fakeMarket{responses: []market.OrderResult{
		{OrderID: "o1", FilledSize: decimal.NewFromInt(100), FilledPrice: decimal.NewFromFloat(0.55)},
	}}
	m := New(fm, testConfig())
	pos := newPosition()

	exec, err := m.SubmitBuy(context.Background(), pos, "tok-up", decimal.NewFromFloat(0.55), decimal.NewFromInt(55))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pos.State != types.PositionOpen {
		t.Fatalf("expected OPEN, got %s", pos.State)
	}
	if exec.FilledQty.IsZero() {
		t.Fatal("expected non-zero filled qty")
	}
	if pos.BuyOrderID != "o1" {
		t.Fatalf("expected position to carry the exchange order id, got %q", pos.BuyOrderID)
	}
}

func TestSubmitBuyPartialFillIsPartiallyOpen(t *testing.T) {
	fm := &fakeMarket{responses: []market.OrderResult{
		{OrderID: "o1", FilledSize: decimal.NewFromInt(60), FilledPrice: decimal.NewFromFloat(0.55)},
	}}
	m := New(fm, testConfig())
	pos := newPosition()

	_, err := m.SubmitBuy(context.Background(), pos, "tok-up", decimal.NewFromFloat(0.55), decimal.NewFromInt(55))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pos.State != types.PositionPartiallyOpen {
		t.Fatalf("expected PARTIALLY_OPEN, got %s", pos.State)
	}
	if !pos.FilledQty.Equal(decimal.NewFromInt(60)) {
		t.Fatalf("expected filled qty 60, got %v", pos.FilledQty)
	}
}

func TestSubmitBuyZeroFillIsFailedBuy(t *testing.T) {
	fm := &fakeMarket{responses: []market.OrderResult{
		{OrderID: "o1", FilledSize: decimal.Zero},
	}}
	m := New(fm, testConfig())
	pos := newPosition()

	_, err := m.SubmitBuy(context.Background(), pos, "tok-up", decimal.NewFromFloat(0.55), decimal.NewFromInt(55))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pos.State != types.PositionFailedBuy {
		t.Fatalf("expected FAILED_BUY, got %s", pos.State)
	}
}

func TestSubmitBuyFatalErrorDoesNotRetry(t *testing.T) {
	fm := &fakeMarket{
		responses: []market.OrderResult{{}, {}},
		errs: []error{
			fmt.Errorf("clob request failed with status 401: unauthorized"),
		},
	}
	m := New(fm, testConfig())
	pos := newPosition()

	_, err := m.SubmitBuy(context.Background(), pos, "tok-up", decimal.NewFromFloat(0.55), decimal.NewFromInt(55))
	if err == nil {
		t.Fatal("expected fatal error to propagate")
	}
	if pos.State != types.PositionFailedBuy {
		t.Fatalf("expected FAILED_BUY, got %s", pos.State)
	}
	if fm.placeCalls != 1 {
		t.Fatalf("expected exactly one attempt for a fatal error, got %d", fm.placeCalls)
	}
}

func TestSubmitBuyTransientErrorRetriesThenSucceeds(t *testing.T) {
	fm := &fakeMarket{
		responses: []market.OrderResult{
			{},
			{OrderID: "o2", FilledSize: decimal.NewFromInt(100), FilledPrice: decimal.NewFromFloat(0.55)},
		},
		errs: []error{
			fmt.Errorf("clob request failed with status 503: unavailable"),
		},
	}
	m := New(fm, testConfig())
	pos := newPosition()

	_, err := m.SubmitBuy(context.Background(), pos, "tok-up", decimal.NewFromFloat(0.55), decimal.NewFromInt(55))
	if err != nil {
		t.Fatalf("unexpected error after retry: %v", err)
	}
	if fm.placeCalls != 2 {
		t.Fatalf("expected 2 attempts, got %d", fm.placeCalls)
	}
	if pos.State != types.PositionOpen {
		t.Fatalf("expected OPEN after retried success, got %s", pos.State)
	}
}

func TestSubmitBuyIdempotentOnDuplicateClientID(t *testing.T) {
	fm := &fakeMarket{responses: []market.OrderResult{
		{OrderID: "o1", FilledSize: decimal.NewFromInt(100), FilledPrice: decimal.NewFromFloat(0.55)},
	}}
	m := New(fm, testConfig())
	pos := newPosition()

	if _, err := m.SubmitBuy(context.Background(), pos, "tok-up", decimal.NewFromFloat(0.55), decimal.NewFromInt(55)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := m.SubmitBuy(context.Background(), pos, "tok-up", decimal.NewFromFloat(0.55), decimal.NewFromInt(55)); err != nil {
		t.Fatalf("unexpected error on duplicate submit: %v", err)
	}

	if fm.placeCalls != 1 {
		t.Fatalf("expected exactly one order placed across duplicate submissions, got %d", fm.placeCalls)
	}
}

func TestSubmitSellFullFillClosesPosition(t *testing.T) {
	fm := &fakeMarket{responses: []market.OrderResult{
		{OrderID: "o2", FilledSize: decimal.NewFromInt(100), FilledPrice: decimal.NewFromFloat(0.90)},
	}}
	m := New(fm, testConfig())
	pos := newPosition()
	pos.FilledQty = decimal.NewFromInt(100)
	pos.EntryPrice = decimal.NewFromFloat(0.55)
	pos.State = types.PositionOpen

	_, err := m.SubmitSell(context.Background(), pos, "tok-up", decimal.NewFromFloat(0.90))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pos.State != types.PositionClosed {
		t.Fatalf("expected CLOSED, got %s", pos.State)
	}
	if !pos.RealizedPnL.Equal(decimal.NewFromInt(35)) {
		t.Fatalf("expected realized pnl 35, got %v", pos.RealizedPnL)
	}
}

func TestSettleExpiredWinningPosition(t *testing.T) {
	pos := newPosition()
	pos.FilledQty = decimal.NewFromInt(120)
	pos.EntryPrice = decimal.NewFromFloat(0.55)
	pos.State = types.PositionOpen

	SettleExpired(pos, types.SideUp)

	if pos.State != types.PositionSettled {
		t.Fatalf("expected SETTLED, got %s", pos.State)
	}
	want := decimal.NewFromInt(120).Mul(decimal.NewFromFloat(0.45))
	if !pos.RealizedPnL.Equal(want) {
		t.Fatalf("expected realized pnl %v, got %v", want, pos.RealizedPnL)
	}
}

func TestSettleExpiredLosingPosition(t *testing.T) {
	pos := newPosition()
	pos.FilledQty = decimal.NewFromInt(100)
	pos.EntryPrice = decimal.NewFromFloat(0.55)
	pos.State = types.PositionOpen

	SettleExpired(pos, types.SideDown)

	want := decimal.NewFromInt(100).Mul(decimal.NewFromFloat(0.55)).Neg()
	if !pos.RealizedPnL.Equal(want) {
		t.Fatalf("expected realized pnl %v, got %v", want, pos.RealizedPnL)
	}
}
