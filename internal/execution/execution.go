// Package execution drives a Position through its BUY -> OPEN -> SELL
// lifecycle against the abstract market.PredictionMarket collaborator: a
// retry loop with fatal/transient error classification feeding position
// bookkeeping through PENDING_BUY/OPEN/PARTIALLY_OPEN/PENDING_SELL/
// CLOSED/PARTIALLY_CLOSED/FAILED_BUY/SETTLED, plus restart reconciliation
// against the exchange's own order records in Reconcile.
package execution

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/btc15m/internal/market"
	"github.com/web3guy0/btc15m/types"
)

// Config bounds order-type selection and retry behavior.
type Config struct {
	SlippageBps    int           // widen FAK limit price over best_ask/best_bid
	MaxRetries     int           // default 3
	RetryBaseDelay time.Duration // default 200ms
	RetryCapDelay  time.Duration // default 2s
	GTDWindow      time.Duration // resting-exit expiry horizon; not read by SubmitBuy/SubmitSell, which place FAK orders only
}

// DefaultConfig returns the baseline slippage, retry, and backoff settings.
func DefaultConfig() Config {
	return Config{
		SlippageBps:    50,
		MaxRetries:     3,
		RetryBaseDelay: 200 * time.Millisecond,
		RetryCapDelay:  2 * time.Second,
	}
}

// Machine drives individual positions through their lifecycle. Safe for
// concurrent use; the positions table is the only concurrently-written
// resource and each write here is scoped to a single position_id.
type Machine struct {
	mu  sync.Mutex
	mkt market.PredictionMarket
	cfg Config

	// submitted is the idempotency guard: a client id (position_id or
	// position_id+"-sell") that has already produced a terminal or
	// in-flight Execution never places a second order for the same key.
	submitted map[string]*types.Execution
}

// New constructs a Machine against the given prediction-market collaborator.
func New(mkt market.PredictionMarket, cfg Config) *Machine {
	return &Machine{
		mkt:       mkt,
		cfg:       cfg,
		submitted: make(map[string]*types.Execution),
	}
}

// SubmitBuy places the BUY leg of a position: a FAK order at
// best_ask*(1+slippage_bps), sized by requestedUSDC/limit_price shares.
// Mutates pos in place to reflect the resulting lifecycle state.
func (m *Machine) SubmitBuy(ctx context.Context, pos *types.Position, tokenID string, bestAsk, requestedUSDC decimal.Decimal) (*types.Execution, error) {
	clientID := pos.ID

	if prior, ok := m.priorSubmission(clientID); ok {
		log.Info().Str("position_id", pos.ID).Msg("buy already submitted, idempotency guard returning prior execution")
		return prior, nil
	}

	limitPrice := slippageAdjusted(bestAsk, m.cfg.SlippageBps)
	if limitPrice.LessThanOrEqual(decimal.Zero) || limitPrice.GreaterThan(decimal.NewFromInt(1)) {
		return nil, fmt.Errorf("invalid limit price %s derived from best_ask %s", limitPrice, bestAsk)
	}
	shares := requestedUSDC.Div(limitPrice)

	exec := &types.Execution{
		ID:          clientID,
		PositionID:  pos.ID,
		Action:      "BUY",
		OrderType:   types.OrderFAK,
		Price:       limitPrice,
		Qty:         shares,
		SubmittedAt: time.Now().UTC(),
	}

	pos.State = types.PositionPendingBuy
	req := market.OrderRequest{
		TokenID:   tokenID,
		Side:      "BUY",
		Price:     limitPrice,
		Size:      shares,
		OrderType: types.OrderFAK,
		ClientID:  clientID,
	}

	result, err := m.submitWithRetry(ctx, req, exec)
	m.recordSubmission(clientID, exec)
	if err != nil {
		pos.State = types.PositionFailedBuy
		return exec, err
	}

	exec.FilledQty = result.FilledSize
	exec.FilledPrice = result.FilledPrice
	exec.OrderID = result.OrderID
	exec.AckedAt = time.Now().UTC()
	pos.BuyOrderID = result.OrderID

	applyBuyFill(pos, exec, shares)
	return exec, nil
}

// SubmitSell places the SELL leg for the shares filled on the BUY leg. The
// exit is always a FAK taker order at best_bid*(1-slippage_bps); no GTD
// resting exit is placed.
func (m *Machine) SubmitSell(ctx context.Context, pos *types.Position, tokenID string, bestBid decimal.Decimal) (*types.Execution, error) {
	clientID := pos.ID + "-sell"

	if prior, ok := m.priorSubmission(clientID); ok {
		log.Info().Str("position_id", pos.ID).Msg("sell already submitted, idempotency guard returning prior execution")
		return prior, nil
	}

	if pos.FilledQty.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("position %s has no filled shares to sell", pos.ID)
	}

	limitPrice := inverseSlippageAdjusted(bestBid, m.cfg.SlippageBps)
	shares := pos.FilledQty

	exec := &types.Execution{
		ID:          clientID,
		PositionID:  pos.ID,
		Action:      "SELL",
		OrderType:   types.OrderFAK,
		Price:       limitPrice,
		Qty:         shares,
		SubmittedAt: time.Now().UTC(),
	}

	pos.State = types.PositionPendingSell
	req := market.OrderRequest{
		TokenID:   tokenID,
		Side:      "SELL",
		Price:     limitPrice,
		Size:      shares,
		OrderType: types.OrderFAK,
		ClientID:  clientID,
	}

	result, err := m.submitWithRetry(ctx, req, exec)
	m.recordSubmission(clientID, exec)
	if err != nil {
		// A failed exit leaves the position OPEN on its filled shares;
		// it is not a terminal failure the way a failed BUY is.
		pos.State = types.PositionOpen
		return exec, err
	}

	exec.FilledQty = result.FilledSize
	exec.FilledPrice = result.FilledPrice
	exec.OrderID = result.OrderID
	exec.AckedAt = time.Now().UTC()
	pos.SellOrderID = result.OrderID

	applySellFill(pos, exec, shares)
	return exec, nil
}

// SettleExpired closes a still-OPEN (or PARTIALLY_OPEN) position at window
// expiry: payout is 1.00 per share if direction == outcome else 0.00.
func SettleExpired(pos *types.Position, outcome types.Side) {
	payoutPerShare := decimal.Zero
	if pos.Side == outcome {
		payoutPerShare = decimal.NewFromInt(1)
	}
	settled := pos.FilledQty.Mul(payoutPerShare)
	cost := pos.FilledQty.Mul(pos.EntryPrice)

	pos.SettledValue = settled
	pos.RealizedPnL = settled.Sub(cost)
	pos.State = types.PositionSettled
	pos.ClosedAt = time.Now().UTC()

	log.Info().
		Str("position_id", pos.ID).
		Str("outcome", string(outcome)).
		Str("realized_pnl", pos.RealizedPnL.String()).
		Msg("position settled at window expiry")
}

func applyBuyFill(pos *types.Position, exec *types.Execution, requestedShares decimal.Decimal) {
	pos.RequestedQty = requestedShares
	pos.FilledQty = exec.FilledQty
	if exec.FilledQty.GreaterThan(decimal.Zero) {
		pos.EntryPrice = exec.FilledPrice
	}

	switch {
	case exec.FilledQty.LessThanOrEqual(decimal.Zero):
		exec.Error = "fill-and-kill order did not fill"
		pos.State = types.PositionFailedBuy
	case exec.FilledQty.GreaterThanOrEqual(requestedShares):
		pos.State = types.PositionOpen
	default:
		pos.State = types.PositionPartiallyOpen
	}
}

func applySellFill(pos *types.Position, exec *types.Execution, requestedShares decimal.Decimal) {
	residual := requestedShares.Sub(exec.FilledQty)
	pos.FilledQty = residual
	if exec.FilledQty.GreaterThan(decimal.Zero) {
		cost := exec.FilledQty.Mul(pos.EntryPrice)
		proceeds := exec.FilledQty.Mul(exec.FilledPrice)
		pos.RealizedPnL = pos.RealizedPnL.Add(proceeds.Sub(cost))
	}

	switch {
	case exec.FilledQty.GreaterThanOrEqual(requestedShares):
		pos.State = types.PositionClosed
		pos.ClosedAt = time.Now().UTC()
	case exec.FilledQty.GreaterThan(decimal.Zero):
		pos.State = types.PositionPartiallyClosed
		pos.ClosedAt = time.Now().UTC()
	default:
		// FAK cancellation on the sell leg: hold remains OPEN, no retry
		// within this tick per the order-type contract.
		pos.State = types.PositionOpen
	}
}

// submitWithRetry places req, retrying transient failures with exponential
// backoff (base 200ms, cap 2s) up to cfg.MaxRetries. FAK cancellations
// (zero fill, no error) are not retried within the same tick.
func (m *Machine) submitWithRetry(ctx context.Context, req market.OrderRequest, exec *types.Execution) (market.OrderResult, error) {
	var lastErr error
	for attempt := 0; attempt <= m.cfg.MaxRetries; attempt++ {
		exec.Attempt = attempt + 1
		result, err := m.mkt.PlaceOrder(ctx, req)
		if err == nil {
			return result, nil
		}

		lastErr = err
		if classify(err) == classFatal {
			exec.Error = err.Error()
			log.Error().Err(err).Str("client_id", req.ClientID).Msg("order submission failed fatally")
			return market.OrderResult{}, err
		}

		log.Warn().Err(err).Int("attempt", attempt+1).Str("client_id", req.ClientID).
			Msg("order submission transient failure, retrying")

		if attempt < m.cfg.MaxRetries {
			select {
			case <-ctx.Done():
				exec.Error = ctx.Err().Error()
				return market.OrderResult{}, ctx.Err()
			case <-time.After(backoff(attempt, m.cfg.RetryBaseDelay, m.cfg.RetryCapDelay)):
			}
		}
	}
	exec.Error = lastErr.Error()
	return market.OrderResult{}, fmt.Errorf("order failed after %d attempts: %w", m.cfg.MaxRetries+1, lastErr)
}

// backoff computes the delay before retry attempt, doubling from base and
// capped, with up to 20% jitter to avoid synchronized retry storms.
func backoff(attempt int, base, cap time.Duration) time.Duration {
	d := base << attempt
	if d > cap || d <= 0 {
		d = cap
	}
	jitter := time.Duration(rand.Int63n(int64(d) / 5 + 1))
	return d + jitter
}

func (m *Machine) priorSubmission(clientID string) (*types.Execution, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.submitted[clientID]
	return e, ok
}

func (m *Machine) recordSubmission(clientID string, exec *types.Execution) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.submitted[clientID] = exec
}

func slippageAdjusted(price decimal.Decimal, slippageBps int) decimal.Decimal {
	factor := decimal.NewFromInt(10000 + int64(slippageBps)).Div(decimal.NewFromInt(10000))
	adjusted := price.Mul(factor)
	if adjusted.GreaterThan(decimal.NewFromInt(1)) {
		return decimal.NewFromInt(1)
	}
	return adjusted
}

func inverseSlippageAdjusted(price decimal.Decimal, slippageBps int) decimal.Decimal {
	factor := decimal.NewFromInt(10000 - int64(slippageBps)).Div(decimal.NewFromInt(10000))
	adjusted := price.Mul(factor)
	if adjusted.LessThan(decimal.Zero) {
		return decimal.Zero
	}
	return adjusted
}
