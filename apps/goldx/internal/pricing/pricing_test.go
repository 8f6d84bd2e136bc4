package pricing

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goldexchange/apps/goldx/internal/model"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.Truef(t, d(want).Equal(got), "want %s, got %s", want, got)
}

func TestTokenAmountForBuy(t *testing.T) {
	p := DefaultPolicy()

	tests := []struct {
		name   string
		amount string
		price  string
		want   string
	}{
		{name: "example", amount: "1.25", price: "20.00", want: "2.00"},
		{name: "rounds half away from zero", amount: "0.003125", price: "20", want: "0.01"},
		{name: "rounds down below half", amount: "0.003", price: "20", want: "0.00"},
		{name: "fractional price", amount: "2", price: "143.37", want: "22.94"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assertDecimal(t, tt.want, p.TokenAmountForBuy(d(tt.amount), d(tt.price)))
		})
	}
}

func TestTokenAmountForSell(t *testing.T) {
	p := DefaultPolicy()

	assertDecimal(t, "2.00", p.TokenAmountForSell(d("1"), d("20")))
	assertDecimal(t, "0.06", p.TokenAmountForSell(d("0.0025"), d("250")))
}

func TestSettlementAmountForTokens(t *testing.T) {
	p := DefaultPolicy()

	t.Run("sell example", func(t *testing.T) {
		assertDecimal(t, "1.00", p.SettlementAmountForTokens(d("2.00"), d("20.00")))
	})

	t.Run("rounds to nine places", func(t *testing.T) {
		// 10 / 3 = 3.3333333333...
		assertDecimal(t, "3.333333333", p.SettlementAmountForTokens(d("1"), d("3")))
		// 20 / 3 = 6.6666666666...
		assertDecimal(t, "6.666666667", p.SettlementAmountForTokens(d("2"), d("3")))
	})

	t.Run("token value", func(t *testing.T) {
		assertDecimal(t, "0.5", p.TokenValueInSettlement(d("20")))
	})
}

func TestFeeSplitExample(t *testing.T) {
	fees := DefaultPolicy().FeeSplit(d("1.25"), model.ActionBuy)

	assertDecimal(t, "1.047", fees.Liquidity)
	assertDecimal(t, "0.10", fees.Treasury)
	assertDecimal(t, "0.10", fees.Profit)
	assertDecimal(t, "0.003", fees.Transaction)
	assertDecimal(t, "1.25", fees.Total())
}

func TestFeeSplitSumsExactly(t *testing.T) {
	p := DefaultPolicy()
	amounts := []string{
		"0.000000001", "0.000000007", "0.000000013", "0.001", "0.0123456",
		"0.123456789", "0.333333333", "1", "1.25", "3.141592653",
		"7.777777777", "19.999999999", "123.456789012", "999.999999999",
	}

	for _, a := range amounts {
		t.Run(a, func(t *testing.T) {
			fees := p.FeeSplit(d(a), model.ActionBuy)
			assertDecimal(t, a, fees.Total())

			for _, part := range []decimal.Decimal{fees.Liquidity, fees.Treasury, fees.Profit, fees.Transaction} {
				assert.False(t, part.IsNegative())
				assert.LessOrEqual(t, -part.Exponent(), SettlementDecimals)
			}
		})
	}
}

func TestFeeSplitSellIsZero(t *testing.T) {
	for _, a := range []string{"0.5", "1.000000001", "42"} {
		fees := DefaultPolicy().FeeSplit(d(a), model.ActionSell)
		assert.True(t, fees.Liquidity.IsZero())
		assert.True(t, fees.Treasury.IsZero())
		assert.True(t, fees.Profit.IsZero())
		assert.True(t, fees.Transaction.IsZero())
	}
}

func TestBuyThenRedeemStaysWithinSpread(t *testing.T) {
	p := DefaultPolicy()
	ratio := p.RedemptionValue.Div(p.TokenCost)
	halfTokenStep := d("0.005")

	for _, price := range []string{"20", "143.37", "7.5", "250.01"} {
		for _, amount := range []string{"0.001", "0.25", "1.25", "3.333333333", "17"} {
			t.Run(amount+"@"+price, func(t *testing.T) {
				tokens := p.TokenAmountForBuy(d(amount), d(price))
				recovered := p.SettlementAmountForTokens(tokens, d(price))

				expected := d(amount).Mul(ratio)
				bound := halfTokenStep.Mul(p.RedemptionValue).Div(d(price)).Add(d("0.000000001"))
				assert.Truef(t, recovered.Sub(expected).Abs().LessThanOrEqual(bound),
					"recovered %s, expected about %s (bound %s)", recovered, expected, bound)
				assert.True(t, recovered.LessThanOrEqual(d(amount)))
			})
		}
	}
}

func TestPolicyValidate(t *testing.T) {
	require.NoError(t, DefaultPolicy().Validate())

	p := DefaultPolicy()
	p.Rates.Profit = d("0.081")
	assert.ErrorIs(t, p.Validate(), ErrRatesDoNotSum)

	p = DefaultPolicy()
	p.Rates.Treasury = d("-0.01")
	p.Rates.Liquidity = d("0.9276")
	assert.ErrorIs(t, p.Validate(), ErrNegativeRate)

	p = DefaultPolicy()
	p.TokenCost = d("9")
	assert.ErrorIs(t, p.Validate(), ErrInvalidTokenValues)

	p = DefaultPolicy()
	p.TokenCost = p.RedemptionValue
	assert.ErrorIs(t, p.Validate(), ErrInvalidTokenValues, "cost must strictly exceed redemption value")

	p = DefaultPolicy()
	p.QuoteTTL = 0
	assert.ErrorIs(t, p.Validate(), ErrInvalidQuoteTTL)

	for _, limit := range []string{"0", "-0.01", "1"} {
		p = DefaultPolicy()
		p.MaxRoundingError = d(limit)
		assert.ErrorIs(t, p.Validate(), ErrInvalidRoundingCap, limit)
	}
}

func TestRoundingError(t *testing.T) {
	p := DefaultPolicy()

	t.Run("exact", func(t *testing.T) {
		assertDecimal(t, "0", p.BuyRoundingError(d("1.25"), d("20"), d("2")))
		assertDecimal(t, "0", p.SellRoundingError(d("1"), d("20"), d("2")))
	})

	t.Run("small buy rounded up", func(t *testing.T) {
		// $0.188 buys 0.01504 tokens, rounded to 0.02
		tokens := p.TokenAmountForBuy(d("0.0094"), d("20"))
		assertDecimal(t, "0.02", tokens)
		got := p.BuyRoundingError(d("0.0094"), d("20"), tokens)
		assert.True(t, got.GreaterThan(d("0.3")), got.String())
	})

	t.Run("small sell rounded down", func(t *testing.T) {
		tokens := p.TokenAmountForSell(d("0.0124"), d("20"))
		assertDecimal(t, "0.02", tokens)
		got := p.SellRoundingError(d("0.0124"), d("20"), tokens)
		assert.True(t, got.GreaterThan(d("0.19")), got.String())
	})

	t.Run("zero fiat", func(t *testing.T) {
		assertDecimal(t, "0", p.BuyRoundingError(d("0"), d("20"), d("0")))
	})
}
