package pricing

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

const (
	// TokenDecimals is the minor-unit precision of the gold token.
	TokenDecimals int32 = 2
	// SettlementDecimals is the minor-unit precision of the settlement asset (lamports).
	SettlementDecimals int32 = 9
)

var (
	ErrRatesDoNotSum      = errors.New("fee rates must sum to exactly 1")
	ErrNegativeRate       = errors.New("fee rates must not be negative")
	ErrInvalidTokenValues = errors.New("token cost must exceed redemption value and both must be positive")
	ErrInvalidQuoteTTL    = errors.New("quote ttl must be positive")
	ErrInvalidRoundingCap = errors.New("max rounding error must be positive and below 1")
)

// FeeRates are the fractions of a buy routed to each destination.
type FeeRates struct {
	Liquidity   decimal.Decimal
	Treasury    decimal.Decimal
	Profit      decimal.Decimal
	Transaction decimal.Decimal
}

func (r FeeRates) Sum() decimal.Decimal {
	return r.Liquidity.Add(r.Treasury).Add(r.Profit).Add(r.Transaction)
}

// Policy carries the named pricing constants. It is a value type and is never
// mutated after configuration is loaded.
type Policy struct {
	TokenCost           decimal.Decimal // fiat paid per token on buy
	RedemptionValue     decimal.Decimal // fiat paid out per token on sell
	Rates               FeeRates
	QuoteTTL            time.Duration
	MinSettlementAmount decimal.Decimal
	// MaxRoundingError caps |tokens*unit value - fiat| / fiat for quotes
	// priced from a settlement amount.
	MaxRoundingError decimal.Decimal
}

func DefaultPolicy() Policy {
	return Policy{
		TokenCost:       decimal.RequireFromString("12.5"),
		RedemptionValue: decimal.RequireFromString("10"),
		Rates: FeeRates{
			Liquidity:   decimal.RequireFromString("0.8376"),
			Treasury:    decimal.RequireFromString("0.08"),
			Profit:      decimal.RequireFromString("0.08"),
			Transaction: decimal.RequireFromString("0.0024"),
		},
		QuoteTTL:            30 * time.Second,
		MinSettlementAmount: decimal.RequireFromString("0.001"),
		MaxRoundingError:    decimal.RequireFromString("0.01"),
	}
}

func (p Policy) Validate() error {
	for _, r := range []decimal.Decimal{p.Rates.Liquidity, p.Rates.Treasury, p.Rates.Profit, p.Rates.Transaction} {
		if r.IsNegative() {
			return ErrNegativeRate
		}
	}
	if !p.Rates.Sum().Equal(decimal.NewFromInt(1)) {
		return fmt.Errorf("%w: got %s", ErrRatesDoNotSum, p.Rates.Sum())
	}
	if !p.RedemptionValue.IsPositive() || p.TokenCost.LessThanOrEqual(p.RedemptionValue) {
		return ErrInvalidTokenValues
	}
	if p.QuoteTTL <= 0 {
		return ErrInvalidQuoteTTL
	}
	if !p.MaxRoundingError.IsPositive() || p.MaxRoundingError.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return ErrInvalidRoundingCap
	}
	return nil
}
