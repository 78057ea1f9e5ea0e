package market

import (
	"context"
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/btc15m/types"
)

// Polygon mainnet CTF exchange constants.
const (
	ctfExchangeAddress = "0x4bFb41d5B3570DeFd03C39a9A4D8dE6Bd8B8982E"
	polymarketChainID  = 137
	clobBaseURL        = "https://clob.polymarket.com"
	gammaAPIURL        = "https://gamma-api.polymarket.com"
)

// PolymarketAdapter implements market.PredictionMarket against the
// Polymarket CLOB: EIP-712 order signing plus HMAC request authentication,
// supporting the FOK, FAK, GTC, and GTD order types.
type PolymarketAdapter struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address

	apiKey     string
	apiSecret  string
	passphrase string

	httpClient *http.Client
}

// NewPolymarketAdapter builds an adapter from a hex-encoded private key
// (with or without a 0x prefix) and CLOB API credentials.
func NewPolymarketAdapter(privateKeyHex, apiKey, apiSecret, passphrase string) (*PolymarketAdapter, error) {
	hexKey := strings.TrimPrefix(privateKeyHex, "0x")
	pk, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("parsing wallet private key: %w", err)
	}

	return &PolymarketAdapter{
		privateKey: pk,
		address:    crypto.PubkeyToAddress(pk.PublicKey),
		apiKey:     apiKey,
		apiSecret:  apiSecret,
		passphrase: passphrase,
		httpClient: &http.Client{Timeout: 5 * time.Second},
	}, nil
}

type gammaMarket struct {
	ConditionID string   `json:"conditionId"`
	Slug        string   `json:"slug"`
	ClobTokenIds []string `json:"clobTokenIds"`
}

// GetMarketByWindow discovers the market for a 15-minute window by its
// gamma-api slug.
func (a *PolymarketAdapter) GetMarketByWindow(ctx context.Context, windowStart time.Time) (MarketRef, error) {
	slug := fmt.Sprintf("btc-up-or-down-%s", windowStart.UTC().Format("2006-01-02-15-04"))
	url := fmt.Sprintf("%s/markets?slug=%s", gammaAPIURL, slug)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return MarketRef{}, fmt.Errorf("building market lookup request: %w", err)
	}
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return MarketRef{}, fmt.Errorf("looking up market for window %s: %w", slug, err)
	}
	defer resp.Body.Close()

	var markets []gammaMarket
	if err := json.NewDecoder(resp.Body).Decode(&markets); err != nil {
		return MarketRef{}, fmt.Errorf("decoding market lookup response: %w", err)
	}
	if len(markets) == 0 {
		return MarketRef{}, fmt.Errorf("no market found for window %s", slug)
	}
	m := markets[0]
	if len(m.ClobTokenIds) < 2 {
		return MarketRef{}, fmt.Errorf("market %s missing token ids", slug)
	}

	return MarketRef{
		MarketID:    m.Slug,
		ConditionID: m.ConditionID,
		UpTokenID:   m.ClobTokenIds[0],
		DownTokenID: m.ClobTokenIds[1],
	}, nil
}

const usdcDecimals = 1_000_000

// PlaceOrder builds the order fields, signs them via signOrderEIP712, and
// submits the signed order.
func (a *PolymarketAdapter) PlaceOrder(ctx context.Context, req OrderRequest) (OrderResult, error) {
	salt, err := randomSalt()
	if err != nil {
		return OrderResult{}, fmt.Errorf("generating order salt: %w", err)
	}

	expiration := "0"
	if req.OrderType == types.OrderGTD {
		expiration = strconv.FormatInt(time.Now().Add(24*time.Hour).Unix(), 10)
	}

	makerAmount, takerAmount := computeAmounts(req)

	order := signedOrderFields{
		Salt:          salt,
		Maker:         a.address.Hex(),
		Signer:        a.address.Hex(),
		Taker:         "0x0000000000000000000000000000000000000000",
		TokenID:       req.TokenID,
		MakerAmount:   makerAmount,
		TakerAmount:   takerAmount,
		Expiration:    expiration,
		Nonce:         "0",
		FeeRateBps:    "0",
		Side:          sideCode(req.Side),
		SignatureType: "0",
	}

	sig, err := a.signOrderEIP712(order)
	if err != nil {
		return OrderResult{}, fmt.Errorf("signing order: %w", err)
	}

	payload := orderSubmission{
		Order:     order,
		Signature: sig,
		OrderType: string(req.OrderType),
		ClientID:  req.ClientID,
	}

	var result OrderResult
	err = a.postSigned(ctx, "/order", payload, &result)
	if err != nil {
		return OrderResult{}, fmt.Errorf("submitting order: %w", err)
	}
	return result, nil
}

// CancelOrder cancels a resting order.
func (a *PolymarketAdapter) CancelOrder(ctx context.Context, orderID string) error {
	var result struct{}
	return a.deleteSigned(ctx, fmt.Sprintf("/order/%s", orderID), &result)
}

// GetOrder looks up an order's current state, used for restart
// reconciliation.
func (a *PolymarketAdapter) GetOrder(ctx context.Context, orderID string) (OrderResult, error) {
	var result OrderResult
	if err := a.getSigned(ctx, fmt.Sprintf("/order/%s", orderID), &result); err != nil {
		return OrderResult{}, fmt.Errorf("fetching order %s: %w", orderID, err)
	}
	return result, nil
}

func sideCode(side string) string {
	if side == "SELL" {
		return "1"
	}
	return "0"
}

func computeAmounts(req OrderRequest) (maker, taker string) {
	shares := req.Size.Mul(decimal.NewFromInt(usdcDecimals))
	usdc := req.Size.Mul(req.Price).Mul(decimal.NewFromInt(usdcDecimals))
	if req.Side == "BUY" {
		return usdc.StringFixed(0), shares.StringFixed(0)
	}
	return shares.StringFixed(0), usdc.StringFixed(0)
}

func randomSalt() (string, error) {
	max := new(big.Int).Lsh(big.NewInt(1), 256)
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", err
	}
	return n.String(), nil
}
