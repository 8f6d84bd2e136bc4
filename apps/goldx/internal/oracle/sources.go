package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/shopspring/decimal"
)

var (
	ErrUnexpectedStatus = errors.New("unexpected status from price source")
	ErrMalformedPayload = errors.New("malformed price payload")
	ErrNonPositivePrice = errors.New("price source returned a non-positive price")
)

// HTTPDoer is the subset of *http.Client the sources need.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Source fetches one spot price in the common fiat unit.
type Source interface {
	Name() string
	Fetch(ctx context.Context) (decimal.Decimal, error)
}

// CoinGeckoSource reads /simple/price for a single coin id.
type CoinGeckoSource struct {
	name       string
	endpoint   string
	coinID     string
	vsCurrency string
	client     HTTPDoer
}

func NewCoinGeckoSource(name, endpoint, coinID string, client HTTPDoer) *CoinGeckoSource {
	return &CoinGeckoSource{
		name:       name,
		endpoint:   endpoint,
		coinID:     coinID,
		vsCurrency: "usd",
		client:     client,
	}
}

func (s *CoinGeckoSource) Name() string {
	return s.name
}

func (s *CoinGeckoSource) Fetch(ctx context.Context) (decimal.Decimal, error) {
	endpoint, err := url.Parse(s.endpoint)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid endpoint: %w", err)
	}
	q := endpoint.Query()
	q.Set("ids", s.coinID)
	q.Set("vs_currencies", s.vsCurrency)
	endpoint.RawQuery = q.Encode()

	var payload map[string]map[string]json.Number
	if err := getJSON(ctx, s.client, endpoint.String(), &payload); err != nil {
		return decimal.Zero, err
	}

	raw, ok := payload[s.coinID][s.vsCurrency]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: missing %s.%s", ErrMalformedPayload, s.coinID, s.vsCurrency)
	}
	return parsePositive(raw)
}

// MetalsLiveSource reads a spot endpoint that reports price, bid or ask.
type MetalsLiveSource struct {
	name     string
	endpoint string
	client   HTTPDoer
}

func NewMetalsLiveSource(name, endpoint string, client HTTPDoer) *MetalsLiveSource {
	return &MetalsLiveSource{name: name, endpoint: endpoint, client: client}
}

func (s *MetalsLiveSource) Name() string {
	return s.name
}

func (s *MetalsLiveSource) Fetch(ctx context.Context) (decimal.Decimal, error) {
	var payload struct {
		Price json.Number `json:"price"`
		Bid   json.Number `json:"bid"`
		Ask   json.Number `json:"ask"`
	}
	if err := getJSON(ctx, s.client, s.endpoint, &payload); err != nil {
		return decimal.Zero, err
	}

	for _, raw := range []json.Number{payload.Price, payload.Bid, payload.Ask} {
		if raw == "" {
			continue
		}
		if price, err := parsePositive(raw); err == nil {
			return price, nil
		}
	}
	return decimal.Zero, fmt.Errorf("%w: no positive price, bid or ask", ErrMalformedPayload)
}

func getJSON(ctx context.Context, client HTTPDoer, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%w: %d %s", ErrUnexpectedStatus, resp.StatusCode, string(body))
	}

	decoder := json.NewDecoder(resp.Body)
	decoder.UseNumber()
	if err := decoder.Decode(out); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return nil
}

func parsePositive(raw json.Number) (decimal.Decimal, error) {
	price, err := decimal.NewFromString(raw.String())
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if !price.IsPositive() {
		return decimal.Zero, ErrNonPositivePrice
	}
	return price, nil
}
