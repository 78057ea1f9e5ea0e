// Package feeds provides concrete adapters for the abstract market.SpotFeed
// and market.PredictionMarket collaborators.
package feeds

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/btc15m/internal/market"
)

// BinanceSpotFeed polls Binance's REST ticker endpoint for the latest
// BTC/USD price.
type BinanceSpotFeed struct {
	restURL    string
	symbol     string
	httpClient *http.Client
}

// NewBinanceSpotFeed constructs a feed for the given symbol (e.g. "BTCUSDT").
func NewBinanceSpotFeed(symbol string) *BinanceSpotFeed {
	return &BinanceSpotFeed{
		restURL:    "https://api.binance.com",
		symbol:     symbol,
		httpClient: &http.Client{Timeout: 5 * time.Second},
	}
}

type binanceTickerResponse struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

// GetLatestPrice implements market.SpotFeed via GET /api/v3/ticker/price.
func (b *BinanceSpotFeed) GetLatestPrice(ctx context.Context) (market.SpotQuote, error) {
	url := fmt.Sprintf("%s/api/v3/ticker/price?symbol=%s", b.restURL, b.symbol)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return market.SpotQuote{}, fmt.Errorf("building binance ticker request: %w", err)
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return market.SpotQuote{}, fmt.Errorf("fetching binance ticker: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return market.SpotQuote{}, fmt.Errorf("binance ticker returned status %d", resp.StatusCode)
	}

	var parsed binanceTickerResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return market.SpotQuote{}, fmt.Errorf("decoding binance ticker response: %w", err)
	}

	price, err := decimal.NewFromString(parsed.Price)
	if err != nil {
		return market.SpotQuote{}, fmt.Errorf("parsing binance ticker price %q: %w", parsed.Price, err)
	}

	return market.SpotQuote{Price: price, Timestamp: time.Now().UTC()}, nil
}

// StaticSpotFeed is a deterministic test double returning a fixed price.
type StaticSpotFeed struct {
	Price decimal.Decimal
}

// GetLatestPrice always returns the configured static price, timestamped now.
func (s *StaticSpotFeed) GetLatestPrice(ctx context.Context) (market.SpotQuote, error) {
	return market.SpotQuote{Price: s.Price, Timestamp: time.Now().UTC()}, nil
}
