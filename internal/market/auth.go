package market

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// addAuthHeaders signs the request per the CLOB's HMAC-SHA256 convention:
// message = timestamp + method + path (+ body), signed with the
// base64url-decoded API secret, set as POLY_SIGNATURE alongside the other
// POLY_* headers.
func (a *PolymarketAdapter) addAuthHeaders(req *http.Request, method, path string, body []byte) error {
	timestamp := strconv.FormatInt(time.Now().Unix(), 10)

	message := timestamp + method + path
	if len(body) > 0 {
		message += string(body)
	}

	secretBytes, err := base64.URLEncoding.DecodeString(a.apiSecret)
	if err != nil {
		return fmt.Errorf("decoding api secret: %w", err)
	}

	mac := hmac.New(sha256.New, secretBytes)
	mac.Write([]byte(message))
	signature := base64.URLEncoding.EncodeToString(mac.Sum(nil))

	req.Header.Set("POLY_ADDRESS", a.address.Hex())
	req.Header.Set("POLY_API_KEY", a.apiKey)
	req.Header.Set("POLY_TIMESTAMP", timestamp)
	req.Header.Set("POLY_PASSPHRASE", a.passphrase)
	req.Header.Set("POLY_SIGNATURE", signature)
	req.Header.Set("Content-Type", "application/json")
	return nil
}

func (a *PolymarketAdapter) postSigned(ctx context.Context, path string, payload interface{}, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, clobBaseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	if err := a.addAuthHeaders(req, http.MethodPost, path, body); err != nil {
		return err
	}

	return a.do(req, out)
}

func (a *PolymarketAdapter) getSigned(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, clobBaseURL+path, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	if err := a.addAuthHeaders(req, http.MethodGet, path, nil); err != nil {
		return err
	}
	return a.do(req, out)
}

func (a *PolymarketAdapter) deleteSigned(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, clobBaseURL+path, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	if err := a.addAuthHeaders(req, http.MethodDelete, path, nil); err != nil {
		return err
	}
	return a.do(req, out)
}

func (a *PolymarketAdapter) do(req *http.Request, out interface{}) error {
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("performing request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("clob request failed with status %d: %s", resp.StatusCode, string(data))
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
