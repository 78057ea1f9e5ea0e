package decision

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/btc15m/internal/bucket"
	"github.com/web3guy0/btc15m/internal/edge"
	"github.com/web3guy0/btc15m/internal/kelly"
	"github.com/web3guy0/btc15m/internal/market"
	"github.com/web3guy0/btc15m/internal/matrixbuilder"
	"github.com/web3guy0/btc15m/types"
)

// Tick runs one iteration of the decision loop for wall-clock time now.
// Spot is fetched before the book, the bucketing uses the spot sampled
// this tick, and any intent formed here is submitted before the tick ends
// or dropped entirely - no carry-over to the next tick.
func (e *Engine) Tick(ctx context.Context, now time.Time) error {
	now = now.UTC()
	e.settleExpiredWindows(ctx, now)

	windowStart := windowStartFor(now)
	secondsIntoWindow := now.Sub(windowStart).Seconds()
	secondsRemaining := float64(windowSeconds) - secondsIntoWindow

	e.setState(StateObserving)

	if secondsIntoWindow < float64(e.cfg.MinSecondsElapsed) {
		log.Debug().Float64("seconds_into_window", secondsIntoWindow).Msg("tick skipped: too early in window")
		e.setState(StateIdle)
		return nil
	}
	if secondsRemaining < float64(e.cfg.MinSecondsRemaining) {
		log.Debug().Float64("seconds_remaining", secondsRemaining).Msg("tick skipped: too close to window expiry")
		e.setState(StateIdle)
		return nil
	}

	spot, err := e.getSpot(ctx, now)
	if err != nil {
		log.Warn().Err(err).Msg("tick aborted: spot price unavailable")
		e.setState(StateIdle)
		return nil
	}

	ref, err := e.mkt.GetMarketByWindow(ctx, windowStart)
	if err != nil {
		log.Warn().Err(err).Msg("tick aborted: market lookup failed")
		e.setState(StateIdle)
		return nil
	}

	openPrice := e.windowOpenPrice(windowStart, spot.Price)
	e.recordLastPrice(windowStart, spot.Price)
	delta := spot.Price.Sub(openPrice)

	coord := bucket.Locate(secondsIntoWindow, delta.InexactFloat64())
	cell := e.currentMatrix().Cell(coord.TimeBucket, coord.DeltaBucket)

	e.evaluateBuySide(ctx, windowStart, ref, cell, delta, now)
	e.evaluateSellSide(ctx, windowStart, ref, now)

	e.setState(StateCoolingDown)
	return nil
}

// evaluateBuySide computes edge for each direction with no open position
// this window, picks the best recommendation that clears its threshold,
// runs it through the filter chain, sizes it, and submits a BUY.
func (e *Engine) evaluateBuySide(ctx context.Context, windowStart time.Time, ref market.MarketRef, cell *matrixbuilder.Cell, delta decimal.Decimal, now time.Time) {
	momentumSign := sign(delta)

	recUp, upBook, haveUp := e.candidate(ctx, windowStart, types.SideUp, ref.UpTokenID, cell, edge.Up, now)
	recDown, downBook, haveDown := e.candidate(ctx, windowStart, types.SideDown, ref.DownTokenID, cell, edge.Down, now)

	if !haveUp && !haveDown {
		return
	}
	if !haveUp {
		recUp.ShouldBet = false
	}
	if !haveDown {
		recDown.ShouldBet = false
	}

	best := edge.PickBest(recUp, recDown, momentumSign)
	if !best.ShouldBet {
		return
	}

	var book market.BookQuote
	var tokenID string
	var side types.Side
	if best.Direction == edge.Up {
		book, tokenID, side = upBook, ref.UpTokenID, types.SideUp
	} else {
		book, tokenID, side = downBook, ref.DownTokenID, types.SideDown
	}

	e.setState(StateIntending)
	e.submitBuyIfEligible(ctx, windowStart, side, tokenID, best, book, delta, now)
}

// candidate evaluates one direction's edge, but only if there is no open
// position for that side in this window already.
func (e *Engine) candidate(ctx context.Context, windowStart time.Time, side types.Side, tokenID string, cell *matrixbuilder.Cell, direction edge.Direction, now time.Time) (edge.Recommendation, market.BookQuote, bool) {
	if e.hasOpenPosition(windowStart, side) {
		return edge.Recommendation{}, market.BookQuote{}, false
	}
	book, err := e.getBook(ctx, tokenID, now)
	if err != nil {
		log.Warn().Err(err).Str("token_id", tokenID).Msg("book fetch failed, skipping direction this tick")
		return edge.Recommendation{}, market.BookQuote{}, false
	}
	thresholds := edge.Thresholds(e.cfg.EdgeMinStrong, e.cfg.EdgeMinModerate, e.cfg.EdgeMinWeak)
	rec := edge.Evaluate(cell, direction, book.BestAsk.InexactFloat64(), thresholds)
	return rec, book, true
}

func (e *Engine) submitBuyIfEligible(ctx context.Context, windowStart time.Time, side types.Side, tokenID string, rec edge.Recommendation, book market.BookQuote, delta decimal.Decimal, now time.Time) {
	kellyCfg := kelly.Config{
		FractionCap:       e.cfg.MaxBetPct,
		MaxBetUSDC:        e.cfg.MaxBetUSDC,
		MinBetUSDC:        e.cfg.MinBetUSDC,
		DailyLossLimitPct: e.cfg.DailyLossLimitPct,
		Scale:             kelly.Scale(e.cfg.KellyFractionStrong, e.cfg.KellyFractionModerate, e.cfg.KellyFractionWeak),
	}
	size := kelly.Size(rec.OurProbability, rec.MarketProbability, rec.Confidence, e.cfg.Bankroll, kellyCfg, e.risk.RealizedLossToday())

	intendedShares := decimal.Zero
	if book.BestAsk.GreaterThan(decimal.Zero) {
		intendedShares = size.Div(book.BestAsk)
	}

	reason := applyFilters(e.cfg, e.risk, tickContext{
		rec:            rec,
		delta:          delta,
		askSize:        book.BestAskSize,
		intendedShares: intendedShares,
		windowStart:    windowStart,
		size:           size,
	})
	if reason != "" {
		log.Info().Str("direction", string(rec.Direction)).Str("reason", reason).Msg("buy filtered")
		return
	}
	if size.LessThan(e.cfg.MinBetUSDC) {
		log.Info().Str("size", size.String()).Msg("buy skipped: below minimum bet size")
		return
	}

	pos := &types.Position{
		ID:       positionID(windowStart, side, now),
		WindowID: windowStart.Format(time.RFC3339),
		MarketID: tokenID,
		TokenID:  tokenID,
		Side:     side,
		State:    types.PositionPendingBuy,
		OpenedAt: now,
	}

	exec, err := e.exec.SubmitBuy(ctx, pos, tokenID, book.BestAsk, size)
	if err != nil {
		log.Error().Err(err).Str("position_id", pos.ID).Msg("buy submission failed")
	}
	if exec != nil && exec.FilledQty.IsPositive() && e.notifier != nil {
		e.notifier.NotifyFill(pos.ID, string(side), exec.FilledQty, exec.FilledPrice)
	}
	if exec != nil && e.db != nil {
		if dbErr := e.db.InsertExecution(exec, decimal.Zero, delta, rec.Edge, rec.OurProbability, rec.MarketProbability, book.BestBid, book.BestAsk); dbErr != nil {
			log.Error().Err(dbErr).Msg("failed to persist execution record")
		}
	}
	if e.db != nil {
		if dbErr := e.db.UpsertPosition(pos); dbErr != nil {
			log.Error().Err(dbErr).Msg("failed to persist position")
		}
	}

	e.setPosition(windowStart, side, pos)
	if pos.State == types.PositionOpen || pos.State == types.PositionPartiallyOpen {
		e.risk.RecordBet(windowStart)
	}
}

// evaluateSellSide checks every OPEN position in a still-live window
// against the (disabled-by-default) sell_profit_threshold exit.
func (e *Engine) evaluateSellSide(ctx context.Context, windowStart time.Time, ref market.MarketRef, now time.Time) {
	if !e.cfg.SellProfitThresholdEnabled {
		return
	}

	for _, side := range []types.Side{types.SideUp, types.SideDown} {
		pos := e.getPosition(windowStart, side)
		if pos == nil || pos.State != types.PositionOpen {
			continue
		}

		tokenID := ref.UpTokenID
		if side == types.SideDown {
			tokenID = ref.DownTokenID
		}
		book, err := e.getBook(ctx, tokenID, now)
		if err != nil || pos.EntryPrice.IsZero() {
			continue
		}

		profitPct, _ := book.BestBid.Sub(pos.EntryPrice).Div(pos.EntryPrice).Float64()
		if profitPct < e.cfg.SellProfitThresholdPct {
			continue
		}

		exec, err := e.exec.SubmitSell(ctx, pos, tokenID, book.BestBid)
		if err != nil {
			log.Error().Err(err).Str("position_id", pos.ID).Msg("sell submission failed")
		}
		if exec != nil && e.db != nil {
			if dbErr := e.db.InsertExecution(exec, decimal.Zero, decimal.Zero, 0, 0, 0, book.BestBid, book.BestAsk); dbErr != nil {
				log.Error().Err(dbErr).Msg("failed to persist sell execution record")
			}
		}
		if e.db != nil {
			if dbErr := e.db.UpsertPosition(pos); dbErr != nil {
				log.Error().Err(dbErr).Msg("failed to persist position after sell")
			}
		}
	}
}

func positionID(windowStart time.Time, side types.Side, now time.Time) string {
	return windowStart.UTC().Format("20060102T150405Z") + "-" + string(side) + "-" + now.UTC().Format("150405.000")
}

func (e *Engine) hasOpenPosition(windowStart time.Time, side types.Side) bool {
	pos := e.getPosition(windowStart, side)
	if pos == nil {
		return false
	}
	switch pos.State {
	case types.PositionClosed, types.PositionFailedBuy, types.PositionSettled, types.PositionPartiallyClosed:
		return false
	default:
		return true
	}
}

func (e *Engine) getPosition(windowStart time.Time, side types.Side) *types.Position {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.positions[positionKey(windowStart, side)]
}

func (e *Engine) setPosition(windowStart time.Time, side types.Side, pos *types.Position) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.positions[positionKey(windowStart, side)] = pos
}

func (e *Engine) windowOpenPrice(windowStart time.Time, fallback decimal.Decimal) decimal.Decimal {
	e.mu.Lock()
	defer e.mu.Unlock()
	if p, ok := e.windowOpens[windowStart]; ok {
		return p
	}
	e.windowOpens[windowStart] = fallback
	return fallback
}

func (e *Engine) recordLastPrice(windowStart time.Time, price decimal.Decimal) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.windowLast[windowStart] = price
}
