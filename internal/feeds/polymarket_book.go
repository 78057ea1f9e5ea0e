package feeds

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/btc15m/internal/market"
)

const polymarketWSURL = "wss://ws-subscriptions-clob.polymarket.com/ws/market"
const polymarketBookRESTURL = "https://clob.polymarket.com/book"

// tokenBook is the latest known best bid/ask and sizes for one token.
type tokenBook struct {
	bestBid, bestBidSize, bestAsk, bestAskSize decimal.Decimal
	updatedAt                                  time.Time
}

// wsBookMessage covers both the initial snapshot array entries and
// incremental price_change events; fields absent in one shape are simply
// left zero.
type wsBookMessage struct {
	EventType string `json:"event_type"`
	AssetID   string `json:"asset_id"`
	Bids      []wsLevel `json:"bids"`
	Asks      []wsLevel `json:"asks"`
}

type wsLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// PolymarketBookFeed maintains best-bid/ask and resting size for subscribed
// tokens over a websocket, falling back to REST polling if the socket
// disconnects and cannot be re-established.
type PolymarketBookFeed struct {
	mu     sync.RWMutex
	books  map[string]tokenBook
	conn   *websocket.Conn
	stopCh chan struct{}

	httpClient *http.Client
}

// NewPolymarketBookFeed constructs an unconnected feed; call Connect to
// start streaming.
func NewPolymarketBookFeed() *PolymarketBookFeed {
	return &PolymarketBookFeed{
		books:      make(map[string]tokenBook),
		stopCh:     make(chan struct{}),
		httpClient: &http.Client{Timeout: 5 * time.Second},
	}
}

// Connect dials the websocket and starts the read loop in the background.
// On failure, callers still get correct behavior from GetBook via the REST
// fallback.
func (f *PolymarketBookFeed) Connect() error {
	conn, _, err := websocket.DefaultDialer.Dial(polymarketWSURL, nil)
	if err != nil {
		return fmt.Errorf("dialing polymarket book websocket: %w", err)
	}
	f.mu.Lock()
	f.conn = conn
	f.mu.Unlock()

	go f.readLoop()
	return nil
}

// Subscribe requests top-of-book updates for the given token ids.
func (f *PolymarketBookFeed) Subscribe(tokenIDs ...string) error {
	f.mu.RLock()
	conn := f.conn
	f.mu.RUnlock()
	if conn == nil {
		return fmt.Errorf("book feed not connected")
	}
	msg := map[string]interface{}{"type": "market", "assets_ids": tokenIDs}
	return conn.WriteJSON(msg)
}

func (f *PolymarketBookFeed) readLoop() {
	for {
		select {
		case <-f.stopCh:
			return
		default:
		}

		f.mu.RLock()
		conn := f.conn
		f.mu.RUnlock()
		if conn == nil {
			return
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			log.Warn().Err(err).Msg("polymarket book websocket read failed, reconnecting")
			f.reconnect()
			continue
		}
		f.handleMessage(data)
	}
}

func (f *PolymarketBookFeed) reconnect() {
	time.Sleep(5 * time.Second)
	conn, _, err := websocket.DefaultDialer.Dial(polymarketWSURL, nil)
	if err != nil {
		log.Warn().Err(err).Msg("polymarket book websocket reconnect failed")
		f.mu.Lock()
		f.conn = nil
		f.mu.Unlock()
		return
	}
	f.mu.Lock()
	f.conn = conn
	f.mu.Unlock()
}

func (f *PolymarketBookFeed) handleMessage(data []byte) {
	var single wsBookMessage
	if err := json.Unmarshal(data, &single); err == nil && single.AssetID != "" {
		f.applyLevels(single)
		return
	}

	var batch []wsBookMessage
	if err := json.Unmarshal(data, &batch); err == nil {
		for _, m := range batch {
			f.applyLevels(m)
		}
	}
}

func (f *PolymarketBookFeed) applyLevels(m wsBookMessage) {
	book := tokenBook{updatedAt: time.Now().UTC()}
	if len(m.Bids) > 0 {
		book.bestBid = parseDecimalOrZero(m.Bids[0].Price)
		book.bestBidSize = parseDecimalOrZero(m.Bids[0].Size)
	}
	if len(m.Asks) > 0 {
		book.bestAsk = parseDecimalOrZero(m.Asks[0].Price)
		book.bestAskSize = parseDecimalOrZero(m.Asks[0].Size)
	}

	f.mu.Lock()
	f.books[m.AssetID] = book
	f.mu.Unlock()
}

// GetBook implements market.PredictionMarket's book query: prefer the
// websocket-maintained cache if recently updated, else fall back to a
// direct REST poll.
func (f *PolymarketBookFeed) GetBook(ctx context.Context, tokenID string) (market.BookQuote, error) {
	f.mu.RLock()
	book, ok := f.books[tokenID]
	f.mu.RUnlock()

	if ok && time.Since(book.updatedAt) < 2*time.Second {
		return market.BookQuote{
			BestBid: book.bestBid, BestBidSize: book.bestBidSize,
			BestAsk: book.bestAsk, BestAskSize: book.bestAskSize,
		}, nil
	}

	return f.pollREST(ctx, tokenID)
}

func (f *PolymarketBookFeed) pollREST(ctx context.Context, tokenID string) (market.BookQuote, error) {
	url := fmt.Sprintf("%s?token_id=%s", polymarketBookRESTURL, tokenID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return market.BookQuote{}, fmt.Errorf("building book REST request: %w", err)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return market.BookQuote{}, fmt.Errorf("fetching book via REST: %w", err)
	}
	defer resp.Body.Close()

	var parsed struct {
		Bids []wsLevel `json:"bids"`
		Asks []wsLevel `json:"asks"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return market.BookQuote{}, fmt.Errorf("decoding book REST response: %w", err)
	}

	var q market.BookQuote
	if len(parsed.Bids) > 0 {
		q.BestBid = parseDecimalOrZero(parsed.Bids[0].Price)
		q.BestBidSize = parseDecimalOrZero(parsed.Bids[0].Size)
	}
	if len(parsed.Asks) > 0 {
		q.BestAsk = parseDecimalOrZero(parsed.Asks[0].Price)
		q.BestAskSize = parseDecimalOrZero(parsed.Asks[0].Size)
	}
	return q, nil
}

// Close stops the read loop and closes the underlying connection.
func (f *PolymarketBookFeed) Close() {
	close(f.stopCh)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conn != nil {
		f.conn.Close()
	}
}

func parseDecimalOrZero(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
