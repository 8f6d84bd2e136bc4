// Package oracle serves cached spot prices for gold and the settlement asset.
// It never fails to produce a price: when every source is down it degrades to
// a configured fallback constant, and callers cannot tell the two apart.
package oracle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"goldexchange/apps/goldx/internal/config"
	"goldexchange/apps/goldx/internal/model"
)

type Asset string

const (
	AssetGold       Asset = "gold"
	AssetSettlement Asset = "settlement"
)

var (
	// MaxNumOfFailingRequests is the request count a source must exceed
	// before its breaker may open.
	MaxNumOfFailingRequests = 5
	// FailingRatio opens the breaker once this share of requests failed.
	FailingRatio = 0.6
	// BreakerOpenTimeout is how long an open breaker skips its source.
	BreakerOpenTimeout = 30 * time.Second
)

// Metrics receives oracle observations. A nil Metrics is allowed.
type Metrics interface {
	OracleSourceError(source string)
	OracleFallback(asset string)
}

type cacheEntry struct {
	price     decimal.Decimal
	fetchedAt time.Time
	expiresAt time.Time
}

type guardedSource struct {
	source  Source
	breaker *gobreaker.CircuitBreaker
}

type Oracle struct {
	sources   map[Asset][]guardedSource
	fallbacks map[Asset]decimal.Decimal
	ttl       time.Duration
	timeout   time.Duration
	logger    *zap.Logger
	metrics   Metrics
	now       func() time.Time

	mu    sync.RWMutex
	cache map[Asset]cacheEntry
	group singleflight.Group
}

type Option func(*Oracle)

// WithClock replaces time.Now, used by tests to move past the TTL.
func WithClock(now func() time.Time) Option {
	return func(o *Oracle) { o.now = now }
}

func WithMetrics(m Metrics) Option {
	return func(o *Oracle) { o.metrics = m }
}

// WithRequestTimeout bounds each individual source call.
func WithRequestTimeout(d time.Duration) Option {
	return func(o *Oracle) { o.timeout = d }
}

// New creates an oracle over ordered per-asset sources. Every asset that has
// sources must also have a fallback price.
func New(sources map[Asset][]Source, fallbacks map[Asset]decimal.Decimal, ttl time.Duration, logger *zap.Logger, opts ...Option) (*Oracle, error) {
	o := &Oracle{
		sources:   make(map[Asset][]guardedSource),
		fallbacks: fallbacks,
		ttl:       ttl,
		timeout:   5 * time.Second,
		logger:    logger,
		now:       time.Now,
		cache:     make(map[Asset]cacheEntry),
	}
	for _, opt := range opts {
		opt(o)
	}

	for _, asset := range []Asset{AssetGold, AssetSettlement} {
		fallback, ok := fallbacks[asset]
		if !ok || !fallback.IsPositive() {
			return nil, fmt.Errorf("missing positive fallback price for %s", asset)
		}
		for _, src := range sources[asset] {
			o.sources[asset] = append(o.sources[asset], guardedSource{
				source:  src,
				breaker: newBreaker(fmt.Sprintf("oracle-%s-%s", asset, src.Name())),
			})
		}
	}

	return o, nil
}

// NewFromConfig builds the HTTP sources named in cfg.
func NewFromConfig(cfg config.OracleConfig, client HTTPDoer, logger *zap.Logger, opts ...Option) (*Oracle, error) {
	gold, err := buildSources(cfg.GoldSources, client)
	if err != nil {
		return nil, err
	}
	settlement, err := buildSources(cfg.SettlementSources, client)
	if err != nil {
		return nil, err
	}

	opts = append([]Option{WithRequestTimeout(cfg.RequestTimeout)}, opts...)
	return New(
		map[Asset][]Source{AssetGold: gold, AssetSettlement: settlement},
		map[Asset]decimal.Decimal{AssetGold: cfg.GoldFallback, AssetSettlement: cfg.SettlementFallback},
		cfg.CacheTTL,
		logger,
		opts...,
	)
}

func buildSources(cfgs []config.SourceConfig, client HTTPDoer) ([]Source, error) {
	sources := make([]Source, 0, len(cfgs))
	for _, c := range cfgs {
		switch c.Kind {
		case "coingecko":
			sources = append(sources, NewCoinGeckoSource(c.Name, c.URL, c.CoinID, client))
		case "metals_live":
			sources = append(sources, NewMetalsLiveSource(c.Name, c.URL, client))
		default:
			return nil, fmt.Errorf("unknown price source kind %q for %s", c.Kind, c.Name)
		}
	}
	return sources, nil
}

func newBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    name,
		Timeout: BreakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return int(counts.Requests) > MaxNumOfFailingRequests && ratio >= FailingRatio
		},
	})
}

// GetPrices returns the gold and settlement prices. Each is resolved and
// cached independently.
func (o *Oracle) GetPrices(ctx context.Context) model.PriceSnapshot {
	return model.PriceSnapshot{
		Gold:       o.Price(ctx, AssetGold),
		Settlement: o.Price(ctx, AssetSettlement),
	}
}

// LastUpdated is when the cached price for asset was obtained, zero if none.
func (o *Oracle) LastUpdated(asset Asset) time.Time {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.cache[asset].fetchedAt
}

// Price returns the cached price for asset, refilling it on a miss.
// Concurrent misses for the same asset share one refill.
func (o *Oracle) Price(ctx context.Context, asset Asset) decimal.Decimal {
	if price, ok := o.cached(asset); ok {
		return price
	}

	// The refill outlives any single caller's cancellation.
	flightCtx := context.WithoutCancel(ctx)
	v, _, _ := o.group.Do(string(asset), func() (interface{}, error) {
		if price, ok := o.cached(asset); ok {
			return price, nil
		}
		price := o.fetch(flightCtx, asset)
		now := o.now()
		o.mu.Lock()
		o.cache[asset] = cacheEntry{price: price, fetchedAt: now, expiresAt: now.Add(o.ttl)}
		o.mu.Unlock()
		return price, nil
	})
	return v.(decimal.Decimal)
}

func (o *Oracle) cached(asset Asset) (decimal.Decimal, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	entry, ok := o.cache[asset]
	if !ok || !o.now().Before(entry.expiresAt) {
		return decimal.Zero, false
	}
	return entry.price, true
}

// fetch walks the sources in order. A failing or open-breaker source falls
// through to the next one.
func (o *Oracle) fetch(ctx context.Context, asset Asset) decimal.Decimal {
	for _, gs := range o.sources[asset] {
		result, err := gs.breaker.Execute(func() (interface{}, error) {
			callCtx, cancel := context.WithTimeout(ctx, o.timeout)
			defer cancel()
			return gs.source.Fetch(callCtx)
		})
		if err != nil {
			o.logger.Warn("Price source failed",
				zap.String("asset", string(asset)),
				zap.String("source", gs.source.Name()),
				zap.Error(err))
			if o.metrics != nil {
				o.metrics.OracleSourceError(gs.source.Name())
			}
			continue
		}

		price := result.(decimal.Decimal)
		o.logger.Info("Fetched price",
			zap.String("asset", string(asset)),
			zap.String("source", gs.source.Name()),
			zap.String("price", price.String()))
		return price
	}

	fallback := o.fallbacks[asset]
	o.logger.Warn("Using fallback price",
		zap.String("asset", string(asset)),
		zap.String("price", fallback.String()))
	if o.metrics != nil {
		o.metrics.OracleFallback(string(asset))
	}
	return fallback
}
