package test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
)

const (
	// Live server used by the devnet tests; override with GOLDX_BASE_URL
	BaseURL = "http://localhost:8080"

	// Ledger used by the devnet tests; override with SOLANA_RPC_URL
	DevnetRPCURL = "https://api.devnet.solana.com"

	// Small devnet buy that still prices within the rounding cap
	DevnetBuyAmount = "0.1"

	// Spot prices served by the fake price feed
	TestGoldPrice       = "2000"
	TestSettlementPrice = "20"

	// Buy parameters: 1.25 SOL at $20 buys $25 of tokens at $12.50 each
	TestBuyAmount         = "1.25"
	TestExpectedBuyTokens = "2"

	// Sell parameters: 1 SOL at $20 redeems $20 of tokens at $10 each
	TestSellAmount         = "1"
	TestExpectedSellTokens = "2"

	TestAdminToken = "integration-admin-token"

	// Lamports every system wallet gains in a simulated first leg, comfortably
	// above any fee share in these tests
	simulatedCredit = 10_000_000_000
)

// ErrorResponse represents the API error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// APIError is returned by the request helpers for any non-2xx response.
type APIError struct {
	StatusCode int
	Body       ErrorResponse
}

func (e *APIError) Error() string {
	return fmt.Sprintf("status %d: %s - %s", e.StatusCode, e.Body.Error, e.Body.Message)
}

// postJSON sends body to url and decodes a successful response into out.
func postJSON(url string, body any, out any) error {
	reqBody, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	resp, err := http.Post(url, "application/json", bytes.NewBuffer(reqBody))
	if err != nil {
		return fmt.Errorf("failed to make POST request: %w", err)
	}
	defer resp.Body.Close()

	return decodeResponse(resp, out)
}

// getJSON fetches url and decodes a successful response into out.
func getJSON(url string, out any) error {
	resp, err := http.Get(url)
	if err != nil {
		return fmt.Errorf("failed to make GET request: %w", err)
	}
	defer resp.Body.Close()

	return decodeResponse(resp, out)
}

func decodeResponse(resp *http.Response, out any) error {
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr.Body)
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
