// Package quotes issues and gates short-lived, single-use price quotes.
//
// A quote is bound to a wallet when a transaction is initiated against it and
// marked used only when that transaction settles. This package owns the first
// step; the orchestrator owns the second.
package quotes

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"goldexchange/apps/goldx/internal/model"
	"goldexchange/apps/goldx/internal/pricing"
	"goldexchange/apps/goldx/internal/repository"
)

var (
	ErrQuoteNotFound    = errors.New("quote not found")
	ErrQuoteExpired     = errors.New("quote expired")
	ErrQuoteAlreadyUsed = errors.New("quote already used")
	ErrInvalidAction    = errors.New("action must be buy or sell")
	ErrInvalidAmount    = errors.New("invalid amount")
	ErrInvalidPrices    = errors.New("prices must be positive")
	ErrActionMismatch   = errors.New("quote was issued for a different action")
)

// Metrics receives quote observations. A nil Metrics is allowed.
type Metrics interface {
	QuoteIssued(action string)
}

type Ledger struct {
	store   repository.QuoteStore
	policy  pricing.Policy
	logger  *zap.Logger
	metrics Metrics
	now     func() time.Time
	newID   func() string
}

type Option func(*Ledger)

func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

func WithMetrics(m Metrics) Option {
	return func(l *Ledger) { l.metrics = m }
}

func NewLedger(store repository.QuoteStore, policy pricing.Policy, logger *zap.Logger, opts ...Option) *Ledger {
	l := &Ledger{
		store:  store,
		policy: policy,
		logger: logger,
		now:    time.Now,
		newID:  func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Policy returns the pricing policy quotes are computed with.
func (l *Ledger) Policy() pricing.Policy {
	return l.policy
}

// CreateQuote prices a settlement-denominated buy or sell using the prices
// the caller captured from the oracle, and persists it unbound and unused.
func (l *Ledger) CreateQuote(ctx context.Context, action model.Action, settlementAmount decimal.Decimal, prices model.PriceSnapshot) (*model.Quote, error) {
	if !action.Valid() {
		return nil, ErrInvalidAction
	}
	if err := l.validateSettlementAmount(settlementAmount); err != nil {
		return nil, err
	}
	if err := validatePrices(prices); err != nil {
		return nil, err
	}

	var tokens, residual decimal.Decimal
	if action == model.ActionBuy {
		tokens = l.policy.TokenAmountForBuy(settlementAmount, prices.Settlement)
		residual = l.policy.BuyRoundingError(settlementAmount, prices.Settlement, tokens)
	} else {
		tokens = l.policy.TokenAmountForSell(settlementAmount, prices.Settlement)
		residual = l.policy.SellRoundingError(settlementAmount, prices.Settlement, tokens)
	}
	if !tokens.IsPositive() {
		return nil, fmt.Errorf("%w: amount is worth less than one token unit", ErrInvalidAmount)
	}
	if residual.GreaterThan(l.policy.MaxRoundingError) {
		return nil, fmt.Errorf("%w: amount is too small to price in whole token units (rounding error %s exceeds %s)",
			ErrInvalidAmount, residual.StringFixed(4), l.policy.MaxRoundingError)
	}

	return l.persist(ctx, action, model.DenominationSettlement, settlementAmount, tokens, prices)
}

// CreateTokenQuote prices a sell of a fixed token amount.
func (l *Ledger) CreateTokenQuote(ctx context.Context, tokenAmount decimal.Decimal, prices model.PriceSnapshot) (*model.Quote, error) {
	if !tokenAmount.IsPositive() || !tokenAmount.Equal(tokenAmount.Round(pricing.TokenDecimals)) {
		return nil, fmt.Errorf("%w: token amount must be positive with at most %d decimals", ErrInvalidAmount, pricing.TokenDecimals)
	}
	if err := validatePrices(prices); err != nil {
		return nil, err
	}

	settlement := l.policy.SettlementAmountForTokens(tokenAmount, prices.Settlement)
	if err := l.validateSettlementAmount(settlement); err != nil {
		return nil, err
	}

	return l.persist(ctx, model.ActionSell, model.DenominationToken, settlement, tokenAmount, prices)
}

func (l *Ledger) persist(ctx context.Context, action model.Action, denom model.Denomination, settlement, tokens decimal.Decimal, prices model.PriceSnapshot) (*model.Quote, error) {
	now := l.now()
	quote := model.Quote{
		QuoteID:          l.newID(),
		Action:           action,
		Denomination:     denom,
		SettlementAmount: settlement,
		TokenAmount:      tokens,
		Prices:           prices,
		Fees:             l.policy.FeeSplit(settlement, action),
		CreatedAt:        now,
		ExpiresAt:        now.Add(l.policy.QuoteTTL),
	}

	if err := l.store.CreateQuote(ctx, quote); err != nil {
		return nil, fmt.Errorf("failed to persist quote: %w", err)
	}
	if l.metrics != nil {
		l.metrics.QuoteIssued(string(action))
	}

	l.logger.Info("Issued quote",
		zap.String("quote_id", quote.QuoteID),
		zap.String("action", string(action)),
		zap.String("settlement_amount", settlement.String()),
		zap.String("token_amount", tokens.String()),
		zap.Time("expires_at", quote.ExpiresAt))
	return &quote, nil
}

// ConsumeQuote gates initiation: the quote must exist, be unused, be
// unexpired and, when expected is set, be for that action. It then binds
// walletAddress to the quote and returns it. A quote already bound to another
// wallet counts as used.
func (l *Ledger) ConsumeQuote(ctx context.Context, quoteID, walletAddress string, expected model.Action) (*model.Quote, error) {
	quote, err := l.store.GetQuote(ctx, quoteID)
	if err != nil {
		return nil, fmt.Errorf("failed to load quote: %w", err)
	}
	if quote == nil {
		return nil, ErrQuoteNotFound
	}
	if quote.Used {
		return nil, ErrQuoteAlreadyUsed
	}
	if quote.Expired(l.now()) {
		return nil, ErrQuoteExpired
	}
	if expected != "" && quote.Action != expected {
		return nil, fmt.Errorf("%w: quote is for %s", ErrActionMismatch, quote.Action)
	}

	if err := l.store.BindWallet(ctx, quoteID, walletAddress); err != nil {
		switch {
		case errors.Is(err, repository.ErrQuoteMissing):
			return nil, ErrQuoteNotFound
		case errors.Is(err, repository.ErrQuoteBound):
			return nil, fmt.Errorf("%w: bound to another wallet", ErrQuoteAlreadyUsed)
		}
		return nil, fmt.Errorf("failed to bind quote: %w", err)
	}
	quote.WalletAddress = walletAddress

	l.logger.Info("Bound quote to wallet",
		zap.String("quote_id", quoteID),
		zap.String("wallet_address", walletAddress))
	return quote, nil
}

// GetQuote returns the stored quote or ErrQuoteNotFound.
func (l *Ledger) GetQuote(ctx context.Context, quoteID string) (*model.Quote, error) {
	quote, err := l.store.GetQuote(ctx, quoteID)
	if err != nil {
		return nil, fmt.Errorf("failed to load quote: %w", err)
	}
	if quote == nil {
		return nil, ErrQuoteNotFound
	}
	return quote, nil
}

func (l *Ledger) validateSettlementAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidAmount)
	}
	if !amount.Equal(amount.Round(pricing.SettlementDecimals)) {
		return fmt.Errorf("%w: amount has more than %d decimals", ErrInvalidAmount, pricing.SettlementDecimals)
	}
	if amount.LessThan(l.policy.MinSettlementAmount) {
		return fmt.Errorf("%w: minimum is %s", ErrInvalidAmount, l.policy.MinSettlementAmount)
	}
	return nil
}

func validatePrices(prices model.PriceSnapshot) error {
	if !prices.Gold.IsPositive() || !prices.Settlement.IsPositive() {
		return ErrInvalidPrices
	}
	return nil
}
