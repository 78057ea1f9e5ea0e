package decision

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/btc15m/internal/bucket"
	"github.com/web3guy0/btc15m/internal/config"
	"github.com/web3guy0/btc15m/internal/execution"
	"github.com/web3guy0/btc15m/internal/market"
	"github.com/web3guy0/btc15m/internal/matrixbuilder"
	"github.com/web3guy0/btc15m/internal/riskacct"
	"github.com/web3guy0/btc15m/internal/stats"
	"github.com/web3guy0/btc15m/types"
)

// fakeSpot is a scriptable market.SpotFeed.
type fakeSpot struct {
	price decimal.Decimal
	err   error
}

func (f *fakeSpot) GetLatestPrice(ctx context.Context) (market.SpotQuote, error) {
	if f.err != nil {
		return market.SpotQuote{}, f.err
	}
	return market.SpotQuote{Price: f.price, Timestamp: time.Now()}, nil
}

// fakeMarket is a scriptable market.PredictionMarket test double, local to
// this package so it can be reused across tick/decision tests without
// crossing package boundaries.
type fakeMarket struct {
	ref        market.MarketRef
	upBook     market.BookQuote
	downBook   market.BookQuote
	refErr     error
	bookErr    error
	orderFn    func(req market.OrderRequest) (market.OrderResult, error)
	placeCalls int
}

func (f *fakeMarket) GetMarketByWindow(ctx context.Context, windowStart time.Time) (market.MarketRef, error) {
	if f.refErr != nil {
		return market.MarketRef{}, f.refErr
	}
	return f.ref, nil
}

func (f *fakeMarket) GetBook(ctx context.Context, tokenID string) (market.BookQuote, error) {
	if f.bookErr != nil {
		return market.BookQuote{}, f.bookErr
	}
	if tokenID == f.ref.UpTokenID {
		return f.upBook, nil
	}
	return f.downBook, nil
}

func (f *fakeMarket) PlaceOrder(ctx context.Context, req market.OrderRequest) (market.OrderResult, error) {
	f.placeCalls++
	if f.orderFn != nil {
		return f.orderFn(req)
	}
	return market.OrderResult{OrderID: "o-1", Status: "FILLED", FilledPrice: req.Price, FilledSize: req.Size}, nil
}

func (f *fakeMarket) CancelOrder(ctx context.Context, orderID string) error { return nil }

func (f *fakeMarket) GetOrder(ctx context.Context, orderID string) (market.OrderResult, error) {
	return market.OrderResult{}, errors.New("not implemented")
}

func testConfig() *config.Config {
	return &config.Config{
		PollingIntervalMS:          500,
		EdgeMinStrong:              0.05,
		EdgeMinModerate:            0.07,
		EdgeMinWeak:                0.15,
		KellyFractionStrong:        0.50,
		KellyFractionModerate:      0.25,
		KellyFractionWeak:          0.10,
		MaxBetPct:                  0.10,
		MaxBetUSDC:                 decimal.NewFromInt(100),
		MinBetUSDC:                 decimal.NewFromInt(1),
		MinSecondsElapsed:          60,
		MinSecondsRemaining:        15,
		RequireMomentumAlignment:   true,
		MinConfidence:              "Moderate",
		LiquidityMargin:            1.0,
		SlippageBps:                50,
		MaxRetries:                 3,
		ExternalCallDeadline:       800 * time.Millisecond,
		ShutdownGrace:              5 * time.Second,
		SellProfitThresholdEnabled: false,
		MaxBetsPerWindow:           5,
		DailyLossLimitPct:          10,
		Bankroll:                   decimal.NewFromInt(1000),
	}
}

// strongUpMatrix builds a matrix with a single cell, at the coordinate for
// (secondsIntoWindow, delta), populated with a strongly UP-biased sample
// large enough to classify Strong.
func strongUpMatrix(secondsIntoWindow, delta float64) *matrixbuilder.Matrix {
	m := &matrixbuilder.Matrix{}
	coord := bucket.Locate(secondsIntoWindow, delta)
	cell := m.Cell(coord.TimeBucket, coord.DeltaBucket)
	cell.CountUp = 180
	cell.CountDown = 20
	cell.Recompute()
	return m
}

func newTestEngine(cfg *config.Config, m *matrixbuilder.Matrix, spot market.SpotFeed, mkt market.PredictionMarket) *Engine {
	exec := execution.New(mkt, execution.DefaultConfig())
	risk := riskacct.NewGate(cfg.Bankroll, cfg.DailyLossLimitPct, cfg.MaxBetsPerWindow)
	return New(cfg, m, spot, mkt, exec, risk, nil)
}

func TestTickSkipsWhenTooEarlyInWindow(t *testing.T) {
	cfg := testConfig()
	windowStart := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := windowStart.Add(10 * time.Second) // below MinSecondsElapsed

	mkt := &fakeMarket{
		ref: market.MarketRef{MarketID: "m1", UpTokenID: "up", DownTokenID: "down"},
	}
	spot := &fakeSpot{price: decimal.NewFromInt(100)}
	e := newTestEngine(cfg, strongUpMatrix(10, 0), spot, mkt)

	if err := e.Tick(context.Background(), now); err != nil {
		t.Fatalf("Tick returned error: %v", err)
	}
	if mkt.placeCalls != 0 {
		t.Fatalf("expected no orders placed this early in window, got %d", mkt.placeCalls)
	}
	if e.State() != StateIdle {
		t.Fatalf("expected engine to settle back to Idle, got %s", e.State())
	}
}

func TestTickSkipsWhenTooCloseToExpiry(t *testing.T) {
	cfg := testConfig()
	windowStart := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := windowStart.Add(895 * time.Second) // inside 15s-remaining guard

	mkt := &fakeMarket{ref: market.MarketRef{MarketID: "m1", UpTokenID: "up", DownTokenID: "down"}}
	spot := &fakeSpot{price: decimal.NewFromInt(100)}
	e := newTestEngine(cfg, strongUpMatrix(895, 0), spot, mkt)

	if err := e.Tick(context.Background(), now); err != nil {
		t.Fatalf("Tick returned error: %v", err)
	}
	if mkt.placeCalls != 0 {
		t.Fatalf("expected no orders this close to expiry, got %d", mkt.placeCalls)
	}
}

func TestTickSubmitsBuyOnStrongEdge(t *testing.T) {
	cfg := testConfig()
	windowStart := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	secondsIntoWindow := 600.0
	now := windowStart.Add(time.Duration(secondsIntoWindow) * time.Second)

	// Matrix cell strongly favors UP at this (time, delta) coordinate.
	delta := 30.0
	m := strongUpMatrix(secondsIntoWindow, delta)

	mkt := &fakeMarket{
		ref: market.MarketRef{MarketID: "m1", UpTokenID: "up", DownTokenID: "down"},
		// Cheap UP side so the Wilson-lower-bound edge clears its floor.
		upBook:   market.BookQuote{BestBid: decimal.NewFromFloat(0.40), BestAsk: decimal.NewFromFloat(0.45), BestAskSize: decimal.NewFromInt(10000)},
		downBook: market.BookQuote{BestBid: decimal.NewFromFloat(0.50), BestAsk: decimal.NewFromFloat(0.55), BestAskSize: decimal.NewFromInt(10000)},
	}
	spot := &fakeSpot{price: decimal.NewFromInt(100).Add(decimal.NewFromFloat(delta))}
	e := newTestEngine(cfg, m, spot, mkt)

	// Seed window-open price directly so delta == 30 exactly, mirroring
	// what windowOpenPrice would have cached from an earlier tick.
	e.windowOpens[windowStart] = decimal.NewFromInt(100)

	if err := e.Tick(context.Background(), now); err != nil {
		t.Fatalf("Tick returned error: %v", err)
	}
	if mkt.placeCalls != 1 {
		t.Fatalf("expected exactly one order placed, got %d", mkt.placeCalls)
	}

	pos := e.getPosition(windowStart, types.SideUp)
	if pos == nil {
		t.Fatal("expected an UP position to be recorded")
	}
	if pos.State != types.PositionOpen {
		t.Fatalf("expected position OPEN after full fill, got %s", pos.State)
	}
}

func TestTickHonorsConfiguredEdgeThreshold(t *testing.T) {
	cfg := testConfig()
	cfg.EdgeMinStrong = 0.90 // just above the ~0.89 edge this scenario produces

	windowStart := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	secondsIntoWindow := 600.0
	now := windowStart.Add(time.Duration(secondsIntoWindow) * time.Second)

	delta := 30.0
	m := strongUpMatrix(secondsIntoWindow, delta)

	mkt := &fakeMarket{
		ref:      market.MarketRef{MarketID: "m1", UpTokenID: "up", DownTokenID: "down"},
		upBook:   market.BookQuote{BestBid: decimal.NewFromFloat(0.40), BestAsk: decimal.NewFromFloat(0.45), BestAskSize: decimal.NewFromInt(10000)},
		downBook: market.BookQuote{BestBid: decimal.NewFromFloat(0.50), BestAsk: decimal.NewFromFloat(0.55), BestAskSize: decimal.NewFromInt(10000)},
	}
	spot := &fakeSpot{price: decimal.NewFromInt(100).Add(decimal.NewFromFloat(delta))}
	e := newTestEngine(cfg, m, spot, mkt)
	e.windowOpens[windowStart] = decimal.NewFromInt(100)

	if err := e.Tick(context.Background(), now); err != nil {
		t.Fatalf("Tick returned error: %v", err)
	}
	if mkt.placeCalls != 0 {
		t.Fatalf("expected a raised edge.min_strong to block the bet, got %d orders", mkt.placeCalls)
	}
}

func TestTickHonorsConfiguredKellyScale(t *testing.T) {
	cfg := testConfig()
	cfg.KellyFractionStrong = 0 // zero out the Strong k-scale entirely

	windowStart := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	secondsIntoWindow := 600.0
	now := windowStart.Add(time.Duration(secondsIntoWindow) * time.Second)

	delta := 30.0
	m := strongUpMatrix(secondsIntoWindow, delta)

	mkt := &fakeMarket{
		ref:      market.MarketRef{MarketID: "m1", UpTokenID: "up", DownTokenID: "down"},
		upBook:   market.BookQuote{BestBid: decimal.NewFromFloat(0.40), BestAsk: decimal.NewFromFloat(0.45), BestAskSize: decimal.NewFromInt(10000)},
		downBook: market.BookQuote{BestBid: decimal.NewFromFloat(0.50), BestAsk: decimal.NewFromFloat(0.55), BestAskSize: decimal.NewFromInt(10000)},
	}
	spot := &fakeSpot{price: decimal.NewFromInt(100).Add(decimal.NewFromFloat(delta))}
	e := newTestEngine(cfg, m, spot, mkt)
	e.windowOpens[windowStart] = decimal.NewFromInt(100)

	if err := e.Tick(context.Background(), now); err != nil {
		t.Fatalf("Tick returned error: %v", err)
	}
	if mkt.placeCalls != 0 {
		t.Fatalf("expected a zeroed kelly_fraction_strong to size the bet to zero and skip it, got %d orders", mkt.placeCalls)
	}
}

func TestTickRejectsContrarianBetAgainstMomentum(t *testing.T) {
	cfg := testConfig()
	windowStart := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	secondsIntoWindow := 600.0
	now := windowStart.Add(time.Duration(secondsIntoWindow) * time.Second)

	// Momentum is positive (price above open) but the matrix cell at this
	// coordinate favors DOWN strongly - that DOWN bet must be rejected.
	delta := 30.0
	coord := bucket.Locate(secondsIntoWindow, delta)
	m := &matrixbuilder.Matrix{}
	cell := m.Cell(coord.TimeBucket, coord.DeltaBucket)
	cell.CountUp = 20
	cell.CountDown = 180
	cell.Recompute()

	mkt := &fakeMarket{
		ref:      market.MarketRef{MarketID: "m1", UpTokenID: "up", DownTokenID: "down"},
		upBook:   market.BookQuote{BestBid: decimal.NewFromFloat(0.50), BestAsk: decimal.NewFromFloat(0.55), BestAskSize: decimal.NewFromInt(10000)},
		downBook: market.BookQuote{BestBid: decimal.NewFromFloat(0.40), BestAsk: decimal.NewFromFloat(0.45), BestAskSize: decimal.NewFromInt(10000)},
	}
	spot := &fakeSpot{price: decimal.NewFromInt(100).Add(decimal.NewFromFloat(delta))}
	e := newTestEngine(cfg, m, spot, mkt)
	e.windowOpens[windowStart] = decimal.NewFromInt(100)

	if err := e.Tick(context.Background(), now); err != nil {
		t.Fatalf("Tick returned error: %v", err)
	}
	if mkt.placeCalls != 0 {
		t.Fatalf("expected contrarian DOWN bet to be filtered out, got %d orders placed", mkt.placeCalls)
	}
}

func TestTickRejectsOnThinLiquidity(t *testing.T) {
	cfg := testConfig()
	windowStart := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	secondsIntoWindow := 600.0
	now := windowStart.Add(time.Duration(secondsIntoWindow) * time.Second)
	delta := 30.0

	m := strongUpMatrix(secondsIntoWindow, delta)
	mkt := &fakeMarket{
		ref: market.MarketRef{MarketID: "m1", UpTokenID: "up", DownTokenID: "down"},
		// Ask size far too small to cover the sized bet.
		upBook:   market.BookQuote{BestBid: decimal.NewFromFloat(0.40), BestAsk: decimal.NewFromFloat(0.45), BestAskSize: decimal.NewFromFloat(0.01)},
		downBook: market.BookQuote{BestBid: decimal.NewFromFloat(0.50), BestAsk: decimal.NewFromFloat(0.55), BestAskSize: decimal.NewFromInt(10000)},
	}
	spot := &fakeSpot{price: decimal.NewFromInt(100).Add(decimal.NewFromFloat(delta))}
	e := newTestEngine(cfg, m, spot, mkt)
	e.windowOpens[windowStart] = decimal.NewFromInt(100)

	if err := e.Tick(context.Background(), now); err != nil {
		t.Fatalf("Tick returned error: %v", err)
	}
	if mkt.placeCalls != 0 {
		t.Fatalf("expected thin-liquidity bet to be filtered, got %d orders placed", mkt.placeCalls)
	}
}

func TestTickRejectsWhenWindowBetCapReached(t *testing.T) {
	cfg := testConfig()
	cfg.MaxBetsPerWindow = 1
	windowStart := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	secondsIntoWindow := 600.0
	now := windowStart.Add(time.Duration(secondsIntoWindow) * time.Second)
	delta := 30.0

	m := strongUpMatrix(secondsIntoWindow, delta)
	mkt := &fakeMarket{
		ref:      market.MarketRef{MarketID: "m1", UpTokenID: "up", DownTokenID: "down"},
		upBook:   market.BookQuote{BestBid: decimal.NewFromFloat(0.40), BestAsk: decimal.NewFromFloat(0.45), BestAskSize: decimal.NewFromInt(10000)},
		downBook: market.BookQuote{BestBid: decimal.NewFromFloat(0.50), BestAsk: decimal.NewFromFloat(0.55), BestAskSize: decimal.NewFromInt(10000)},
	}
	spot := &fakeSpot{price: decimal.NewFromInt(100).Add(decimal.NewFromFloat(delta))}
	e := newTestEngine(cfg, m, spot, mkt)
	e.windowOpens[windowStart] = decimal.NewFromInt(100)
	e.risk.RecordBet(windowStart) // cap already used up

	if err := e.Tick(context.Background(), now); err != nil {
		t.Fatalf("Tick returned error: %v", err)
	}
	if mkt.placeCalls != 0 {
		t.Fatalf("expected per-window cap to block the bet, got %d orders placed", mkt.placeCalls)
	}
}

func TestTickRejectsWhenDailyLossLimitBreached(t *testing.T) {
	cfg := testConfig()
	windowStart := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	secondsIntoWindow := 600.0
	now := windowStart.Add(time.Duration(secondsIntoWindow) * time.Second)
	delta := 30.0

	m := strongUpMatrix(secondsIntoWindow, delta)
	mkt := &fakeMarket{
		ref:      market.MarketRef{MarketID: "m1", UpTokenID: "up", DownTokenID: "down"},
		upBook:   market.BookQuote{BestBid: decimal.NewFromFloat(0.40), BestAsk: decimal.NewFromFloat(0.45), BestAskSize: decimal.NewFromInt(10000)},
		downBook: market.BookQuote{BestBid: decimal.NewFromFloat(0.50), BestAsk: decimal.NewFromFloat(0.55), BestAskSize: decimal.NewFromInt(10000)},
	}
	spot := &fakeSpot{price: decimal.NewFromInt(100).Add(decimal.NewFromFloat(delta))}
	e := newTestEngine(cfg, m, spot, mkt)
	e.windowOpens[windowStart] = decimal.NewFromInt(100)
	e.risk.RecordSettlement(decimal.NewFromInt(-200)) // 20% of 1000 bankroll, over the 10% cutoff

	if err := e.Tick(context.Background(), now); err != nil {
		t.Fatalf("Tick returned error: %v", err)
	}
	if mkt.placeCalls != 0 {
		t.Fatalf("expected daily loss cutoff to block the bet, got %d orders placed", mkt.placeCalls)
	}
}

func TestSettleExpiredWindowClosesOpenPosition(t *testing.T) {
	cfg := testConfig()
	windowStart := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	mkt := &fakeMarket{ref: market.MarketRef{MarketID: "m1", UpTokenID: "up", DownTokenID: "down"}}
	spot := &fakeSpot{price: decimal.NewFromInt(100)}
	e := newTestEngine(cfg, strongUpMatrix(0, 0), spot, mkt)

	e.windowOpens[windowStart] = decimal.NewFromInt(100)
	e.windowLast[windowStart] = decimal.NewFromInt(110) // closed UP

	pos := &types.Position{
		ID:        "pos-1",
		Side:      types.SideUp,
		State:     types.PositionOpen,
		FilledQty: decimal.NewFromInt(50),
	}
	e.setPosition(windowStart, types.SideUp, pos)

	now := windowStart.Add(windowSeconds*time.Second + time.Second)
	e.settleExpiredWindows(context.Background(), now)

	if pos.State != types.PositionSettled {
		t.Fatalf("expected position SETTLED after window expiry, got %s", pos.State)
	}
	if !pos.RealizedPnL.Equal(decimal.NewFromInt(50)) {
		t.Fatalf("expected full payout of 50 for a winning zero-cost-basis position, got %s", pos.RealizedPnL)
	}
	if _, stillTracked := e.windowOpens[windowStart]; stillTracked {
		t.Fatal("expected window bookkeeping to be cleared after settlement")
	}
}

func TestSettleExpiredWindowLosingPositionZeroPayout(t *testing.T) {
	cfg := testConfig()
	windowStart := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	mkt := &fakeMarket{ref: market.MarketRef{MarketID: "m1", UpTokenID: "up", DownTokenID: "down"}}
	spot := &fakeSpot{price: decimal.NewFromInt(100)}
	e := newTestEngine(cfg, strongUpMatrix(0, 0), spot, mkt)

	e.windowOpens[windowStart] = decimal.NewFromInt(100)
	e.windowLast[windowStart] = decimal.NewFromInt(90) // closed DOWN

	pos := &types.Position{
		ID:         "pos-2",
		Side:       types.SideUp,
		State:      types.PositionOpen,
		FilledQty:  decimal.NewFromInt(50),
		EntryPrice: decimal.NewFromFloat(0.45),
	}
	e.setPosition(windowStart, types.SideUp, pos)

	now := windowStart.Add(windowSeconds*time.Second + time.Second)
	e.settleExpiredWindows(context.Background(), now)

	if pos.State != types.PositionSettled {
		t.Fatalf("expected position SETTLED after window expiry, got %s", pos.State)
	}
	if !pos.RealizedPnL.Equal(decimal.Zero.Sub(pos.FilledQty.Mul(pos.EntryPrice))) {
		t.Fatalf("expected realized pnl to equal -cost basis for losing position, got %s", pos.RealizedPnL)
	}
}

func TestFilterConfidenceRejectsBelowFloor(t *testing.T) {
	cfg := testConfig()
	cfg.MinConfidence = "Strong"
	reason := filterConfidence(cfg, stats.Moderate)
	if reason == "" {
		t.Fatal("expected Moderate confidence to be rejected when floor is Strong")
	}
}

func TestFilterLiquidityRejectsThinBook(t *testing.T) {
	cfg := testConfig()
	reason := filterLiquidity(cfg, decimal.NewFromInt(5), decimal.NewFromInt(10))
	if reason == "" {
		t.Fatal("expected thin book to be rejected")
	}
}
