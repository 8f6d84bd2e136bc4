// Package pricing converts between settlement-asset and token amounts and
// splits buy payments across the fee destinations. Every function is pure.
//
// All rounding is half away from zero, applied once at the output precision.
// Prices passed in must be strictly positive.
package pricing

import (
	"github.com/shopspring/decimal"

	"goldexchange/apps/goldx/internal/model"
)

// TokenAmountForBuy returns the tokens bought for settlementAmount at the
// buy-side token cost.
func (p Policy) TokenAmountForBuy(settlementAmount, settlementPrice decimal.Decimal) decimal.Decimal {
	fiat := settlementAmount.Mul(settlementPrice)
	return fiat.DivRound(p.TokenCost, TokenDecimals)
}

// TokenAmountForSell returns the tokens that must be redeemed to receive
// settlementAmount at the redemption value.
func (p Policy) TokenAmountForSell(settlementAmount, settlementPrice decimal.Decimal) decimal.Decimal {
	fiat := settlementAmount.Mul(settlementPrice)
	return fiat.DivRound(p.RedemptionValue, TokenDecimals)
}

// BuyRoundingError is the relative error tokens carries against the exact
// buy-side value of settlementAmount.
func (p Policy) BuyRoundingError(settlementAmount, settlementPrice, tokens decimal.Decimal) decimal.Decimal {
	return roundingError(settlementAmount.Mul(settlementPrice), p.TokenCost, tokens)
}

// SellRoundingError is the relative error tokens carries against the exact
// redemption-side value of settlementAmount.
func (p Policy) SellRoundingError(settlementAmount, settlementPrice, tokens decimal.Decimal) decimal.Decimal {
	return roundingError(settlementAmount.Mul(settlementPrice), p.RedemptionValue, tokens)
}

func roundingError(fiat, unitValue, tokens decimal.Decimal) decimal.Decimal {
	if !fiat.IsPositive() {
		return decimal.Zero
	}
	return tokens.Mul(unitValue).Sub(fiat).Abs().Div(fiat)
}

// SettlementAmountForTokens returns the settlement asset paid out for
// tokenAmount at the redemption value.
func (p Policy) SettlementAmountForTokens(tokenAmount, settlementPrice decimal.Decimal) decimal.Decimal {
	fiat := tokenAmount.Mul(p.RedemptionValue)
	return fiat.DivRound(settlementPrice, SettlementDecimals)
}

// TokenValueInSettlement is the settlement amount one token redeems for.
func (p Policy) TokenValueInSettlement(settlementPrice decimal.Decimal) decimal.Decimal {
	return p.SettlementAmountForTokens(decimal.NewFromInt(1), settlementPrice)
}

// FeeSplit divides settlementAmount across the four destinations. The
// treasury, profit and transaction components are rounded independently and
// the liquidity component absorbs the remainder, so the parts always sum to
// the input. Sells carry no fee and every component is zero.
func (p Policy) FeeSplit(settlementAmount decimal.Decimal, action model.Action) model.Fees {
	if action != model.ActionBuy {
		return model.Fees{
			Liquidity:   decimal.Zero,
			Treasury:    decimal.Zero,
			Profit:      decimal.Zero,
			Transaction: decimal.Zero,
		}
	}

	treasury := settlementAmount.Mul(p.Rates.Treasury).Round(SettlementDecimals)
	profit := settlementAmount.Mul(p.Rates.Profit).Round(SettlementDecimals)
	transaction := settlementAmount.Mul(p.Rates.Transaction).Round(SettlementDecimals)

	return model.Fees{
		Liquidity:   settlementAmount.Sub(treasury).Sub(profit).Sub(transaction),
		Treasury:    treasury,
		Profit:      profit,
		Transaction: transaction,
	}
}
