package execution

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/btc15m/internal/database"
	"github.com/web3guy0/btc15m/internal/market"
	"github.com/web3guy0/btc15m/types"
)

// Reconcile queries the exchange for every PENDING_* position's order_id
// and transitions it before the first new tick. The exchange is the
// source of truth on restart, not whatever the local position table
// recorded before the process died mid-submission.
func Reconcile(ctx context.Context, db *database.DB, mkt market.PredictionMarket) (int, error) {
	recs, err := db.OpenPositions()
	if err != nil {
		return 0, fmt.Errorf("loading open positions for reconciliation: %w", err)
	}
	if len(recs) == 0 {
		log.Info().Msg("no persisted open positions to reconcile")
		return 0, nil
	}

	log.Warn().Int("count", len(recs)).Msg("found open positions from a previous run, reconciling")

	reconciled := 0
	for _, rec := range recs {
		pos := positionFromRecord(rec)
		if err := reconcileOne(ctx, pos, mkt); err != nil {
			log.Error().Err(err).Str("position_id", pos.ID).Msg("failed to reconcile position")
			continue
		}
		if err := db.UpsertPosition(pos); err != nil {
			log.Error().Err(err).Str("position_id", pos.ID).Msg("failed to persist reconciled position")
			continue
		}
		reconciled++
	}

	log.Info().Int("reconciled", reconciled).Msg("position reconciliation complete")
	return reconciled, nil
}

func reconcileOne(ctx context.Context, pos *types.Position, mkt market.PredictionMarket) error {
	orderID := pos.BuyOrderID
	if pos.State == types.PositionPendingSell {
		orderID = pos.SellOrderID
	}

	if orderID == "" {
		// The process died before the exchange ever acknowledged this leg
		// with an order id: there is nothing to look up by, so treat a
		// pending buy as failed and a pending sell as simply not having
		// gone through, leaving the position OPEN on its filled shares.
		if pos.State == types.PositionPendingBuy {
			pos.State = types.PositionFailedBuy
		} else if pos.State == types.PositionPendingSell {
			pos.State = types.PositionOpen
		}
		return fmt.Errorf("position %s has no order_id to reconcile for state %s", pos.ID, pos.State)
	}

	result, err := mkt.GetOrder(ctx, orderID)
	if err != nil {
		// The lookup failed (whether the exchange has no record of the
		// order or the request itself failed): treat the buy leg as failed,
		// a pending sell leg as simply not having gone through.
		if pos.State == types.PositionPendingBuy {
			pos.State = types.PositionFailedBuy
		} else if pos.State == types.PositionPendingSell {
			pos.State = types.PositionOpen
		}
		return fmt.Errorf("looking up order %s: %w", orderID, err)
	}

	switch pos.State {
	case types.PositionPendingBuy:
		reconcileBuy(pos, result)
	case types.PositionPendingSell:
		reconcileSell(pos, result)
	}
	return nil
}

func reconcileBuy(pos *types.Position, result market.OrderResult) {
	pos.FilledQty = result.FilledSize
	if result.FilledSize.GreaterThan(decimal.Zero) {
		pos.EntryPrice = result.FilledPrice
	}
	switch {
	case result.FilledSize.LessThanOrEqual(decimal.Zero):
		pos.State = types.PositionFailedBuy
	case result.FilledSize.GreaterThanOrEqual(pos.RequestedQty):
		pos.State = types.PositionOpen
	default:
		pos.State = types.PositionPartiallyOpen
	}
}

func reconcileSell(pos *types.Position, result market.OrderResult) {
	switch {
	case result.FilledSize.GreaterThanOrEqual(pos.FilledQty):
		pos.State = types.PositionClosed
	case result.FilledSize.GreaterThan(decimal.Zero):
		pos.State = types.PositionPartiallyClosed
		pos.FilledQty = pos.FilledQty.Sub(result.FilledSize)
	default:
		pos.State = types.PositionOpen
	}
}

func positionFromRecord(rec database.PositionRecord) *types.Position {
	return &types.Position{
		ID:           rec.ID,
		WindowID:     rec.WindowStart.Format(time.RFC3339),
		MarketID:     rec.MarketID,
		TokenID:      rec.TokenID,
		Side:         types.Side(rec.Side),
		State:        types.PositionState(rec.State),
		RequestedQty: parseDecimalOrZero(rec.RequestedQty),
		FilledQty:    parseDecimalOrZero(rec.FilledQty),
		EntryPrice:   parseDecimalOrZero(rec.EntryPrice),
		SettledValue: parseDecimalOrZero(rec.SettledValue),
		RealizedPnL:  parseDecimalOrZero(rec.RealizedPnL),
		BuyOrderID:   rec.BuyOrderID,
		SellOrderID:  rec.SellOrderID,
		OpenedAt:     rec.OpenedAt,
	}
}

func parseDecimalOrZero(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
