package decision

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/web3guy0/btc15m/internal/database"
	"github.com/web3guy0/btc15m/internal/execution"
	"github.com/web3guy0/btc15m/types"
)

// settleExpiredWindows closes any remaining OPEN/PARTIALLY_OPEN positions
// in windows whose 900 seconds have elapsed, marking them SETTLED with a
// payout of 1.00 per share on the winning side and 0.00 on the losing side.
// The tie-break convention (close == open -> DOWN) matches the matrix
// builder's offline convention exactly.
func (e *Engine) settleExpiredWindows(ctx context.Context, now time.Time) {
	e.mu.Lock()
	var expired []time.Time
	for windowStart := range e.windowOpens {
		if now.Sub(windowStart) >= windowSeconds*time.Second {
			expired = append(expired, windowStart)
		}
	}
	e.mu.Unlock()

	for _, windowStart := range expired {
		e.settleWindow(windowStart)
	}
}

func (e *Engine) settleWindow(windowStart time.Time) {
	e.mu.Lock()
	openPrice, haveOpen := e.windowOpens[windowStart]
	closePrice, haveClose := e.windowLast[windowStart]
	if !haveClose {
		closePrice = openPrice
	}
	delete(e.windowOpens, windowStart)
	delete(e.windowLast, windowStart)
	e.mu.Unlock()

	if !haveOpen {
		return
	}

	outcome := types.SideUp
	switch {
	case closePrice.LessThan(openPrice):
		outcome = types.SideDown
	case closePrice.Equal(openPrice):
		outcome = types.SideDown // tie-break matches matrixbuilder.TieBreakDirection
	}

	for _, side := range []types.Side{types.SideUp, types.SideDown} {
		pos := e.getPosition(windowStart, side)
		if pos == nil {
			continue
		}
		if pos.State != types.PositionOpen && pos.State != types.PositionPartiallyOpen {
			continue
		}

		execution.SettleExpired(pos, outcome)
		e.risk.RecordSettlement(pos.RealizedPnL)
		if e.notifier != nil {
			e.notifier.NotifySettlement(pos.ID, string(side), pos.RealizedPnL)
		}

		if e.db != nil {
			if err := e.db.UpsertPosition(pos); err != nil {
				log.Error().Err(err).Str("position_id", pos.ID).Msg("failed to persist settled position")
			}
			rec := &database.WindowRecord{
				WindowStart: windowStart,
				OpenPrice:   openPrice.String(),
				ClosePrice:  closePrice.String(),
				Outcome:     string(outcome),
			}
			if err := e.db.UpsertWindow(rec); err != nil {
				log.Error().Err(err).Time("window_start", windowStart).Msg("failed to persist window record")
			}
		}

		log.Info().
			Str("position_id", pos.ID).
			Str("side", string(side)).
			Str("outcome", string(outcome)).
			Str("realized_pnl", pos.RealizedPnL.String()).
			Msg("window expired, position settled")
	}
}

