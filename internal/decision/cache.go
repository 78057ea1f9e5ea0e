package decision

import (
	"context"
	"fmt"
	"time"

	"github.com/web3guy0/btc15m/internal/market"
)

// getSpot returns the cached spot quote if fresh (<= spotCacheTTL), else
// fetches a new one under the external-call deadline.
func (e *Engine) getSpot(ctx context.Context, now time.Time) (market.SpotQuote, error) {
	e.mu.Lock()
	cached := e.spotCache
	e.mu.Unlock()

	if !cached.at.IsZero() && now.Sub(cached.at) <= spotCacheTTL {
		return cached.quote, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, e.cfg.ExternalCallDeadline)
	defer cancel()

	quote, err := e.spot.GetLatestPrice(callCtx)
	if err != nil {
		return market.SpotQuote{}, fmt.Errorf("fetching spot price: %w", err)
	}

	e.mu.Lock()
	e.spotCache = spotCacheEntry{quote: quote, at: now}
	e.mu.Unlock()
	return quote, nil
}

// getBook returns the cached book quote for tokenID if fresh (<=
// bookCacheTTL), else polls under the external-call deadline.
func (e *Engine) getBook(ctx context.Context, tokenID string, now time.Time) (market.BookQuote, error) {
	e.mu.Lock()
	cached, ok := e.bookCache[tokenID]
	e.mu.Unlock()

	if ok && now.Sub(cached.at) <= bookCacheTTL {
		return cached.quote, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, e.cfg.ExternalCallDeadline)
	defer cancel()

	quote, err := e.mkt.GetBook(callCtx, tokenID)
	if err != nil {
		return market.BookQuote{}, fmt.Errorf("fetching book for %s: %w", tokenID, err)
	}

	e.mu.Lock()
	e.bookCache[tokenID] = bookCacheEntry{quote: quote, at: now}
	e.mu.Unlock()
	return quote, nil
}
