// Package decision implements the periodic tick loop that turns the latest
// BTC spot price and order-book quotes into BUY/HOLD/SELL intents: a fixed
// ticker touching several independent per-direction concerns each tick,
// without a heavier FSM framework driving the loop itself.
package decision

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/btc15m/internal/config"
	"github.com/web3guy0/btc15m/internal/database"
	"github.com/web3guy0/btc15m/internal/execution"
	"github.com/web3guy0/btc15m/internal/market"
	"github.com/web3guy0/btc15m/internal/matrixbuilder"
	"github.com/web3guy0/btc15m/internal/notify"
	"github.com/web3guy0/btc15m/internal/riskacct"
	"github.com/web3guy0/btc15m/types"
)

// State is the decision engine's own coarse state, independent of any
// single position's lifecycle state.
type State string

const (
	StateIdle        State = "Idle"
	StateObserving   State = "Observing"
	StateIntending   State = "Intending"
	StateCoolingDown State = "CoolingDown"
)

const windowSeconds = 15 * 60

// Engine polls spot + book every tick, consults the probability matrix, and
// drives the execution state machine. No shared mutable Matrix: it is held
// behind an atomic.Pointer and swapped wholesale on hot-reload, read
// without locking from the tick path.
type Engine struct {
	cfg *config.Config

	matrix atomic.Pointer[matrixbuilder.Matrix]

	spot     market.SpotFeed
	mkt      market.PredictionMarket
	exec     *execution.Machine
	risk     *riskacct.Gate
	db       *database.DB
	notifier notify.Notifier

	mu          sync.Mutex
	state       State
	windowOpens map[time.Time]decimal.Decimal
	windowLast  map[time.Time]decimal.Decimal
	positions   map[string]*types.Position // key: windowStart RFC3339 + "/" + side

	spotCache spotCacheEntry
	bookCache map[string]bookCacheEntry

	nowFn func() time.Time // overridden in tests for deterministic ticks
}

type spotCacheEntry struct {
	quote market.SpotQuote
	at    time.Time
}

type bookCacheEntry struct {
	quote market.BookQuote
	at    time.Time
}

const spotCacheTTL = 500 * time.Millisecond
const bookCacheTTL = 200 * time.Millisecond

// New constructs an Engine. m is the initially-active matrix, loaded by the
// caller per its matrix-startup policy (prefer a fresh persisted snapshot,
// fall back to a local file, else fail fast).
func New(cfg *config.Config, m *matrixbuilder.Matrix, spot market.SpotFeed, mkt market.PredictionMarket, exec *execution.Machine, risk *riskacct.Gate, db *database.DB) *Engine {
	e := &Engine{
		cfg:         cfg,
		spot:        spot,
		mkt:         mkt,
		exec:        exec,
		risk:        risk,
		db:          db,
		state:       StateIdle,
		windowOpens: make(map[time.Time]decimal.Decimal),
		windowLast:  make(map[time.Time]decimal.Decimal),
		positions:   make(map[string]*types.Position),
		bookCache:   make(map[string]bookCacheEntry),
		nowFn:       time.Now,
	}
	e.matrix.Store(m)
	return e
}

// SetMatrix hot-swaps the active matrix. Safe to call concurrently with
// Tick: an in-flight tick finishes against whichever matrix it already
// loaded, never a partial read of the new one.
func (e *Engine) SetMatrix(m *matrixbuilder.Matrix) {
	e.matrix.Store(m)
}

// SetNotifier wires an alerting sink for fills, settlements, and fatal
// errors. Optional: nil is safe and simply suppresses alerts.
func (e *Engine) SetNotifier(n notify.Notifier) {
	e.notifier = n
}

func (e *Engine) currentMatrix() *matrixbuilder.Matrix {
	return e.matrix.Load()
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

// State reports the engine's current coarse state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Run drives the tick loop at cfg.PollingIntervalMS until ctx is cancelled.
// Ticks run synchronously in this loop under their own context, so a tick
// (and any BUY it submits) that is in progress when ctx is cancelled runs to
// completion; Run then returns without starting another tick. The caller
// bounds that wait by cfg.ShutdownGrace.
func (e *Engine) Run(ctx context.Context) error {
	interval := time.Duration(e.cfg.PollingIntervalMS) * time.Millisecond
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Dur("shutdown_grace", e.cfg.ShutdownGrace).Msg("decision engine shutting down, draining in-flight work")
			return nil
		case now := <-ticker.C:
			tickCtx, cancel := context.WithTimeout(context.Background(), interval)
			if err := e.Tick(tickCtx, now); err != nil {
				log.Error().Err(err).Msg("tick aborted with error")
			}
			cancel()
		}
	}
}

func windowStartFor(t time.Time) time.Time {
	t = t.UTC()
	return t.Truncate(windowSeconds * time.Second)
}

func sign(d decimal.Decimal) int {
	switch {
	case d.IsPositive():
		return 1
	case d.IsNegative():
		return -1
	default:
		return 0
	}
}

func positionKey(windowStart time.Time, side types.Side) string {
	return windowStart.Format(time.RFC3339) + "/" + string(side)
}
