package assets

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
)

const (
	SettlementSymbol = "SOL"
	TokenSymbol      = "sGOLD"
)

var (
	ErrNegativeAmount = errors.New("amount must not be negative")
	ErrTooPrecise     = errors.New("amount exceeds asset precision")
	ErrOverflow       = errors.New("amount does not fit in base units")
)

// Asset represents a ledger asset with its properties
type Asset struct {
	Symbol   string           `json:"symbol"`
	Name     string           `json:"name"`
	Mint     solana.PublicKey `json:"mint"` // zero for the native settlement asset
	Decimals int32            `json:"decimals"`
}

// Native reports whether the asset is the ledger's native coin.
func (a *Asset) Native() bool {
	return a.Mint.IsZero()
}

// ToBaseUnits converts a decimal amount into the integer units the ledger
// instructions carry (lamports, token base units).
func (a *Asset) ToBaseUnits(amount decimal.Decimal) (uint64, error) {
	if amount.IsNegative() {
		return 0, ErrNegativeAmount
	}
	shifted := amount.Shift(a.Decimals)
	if !shifted.Equal(shifted.Truncate(0)) {
		return 0, fmt.Errorf("%w: %s has more than %d decimals", ErrTooPrecise, amount, a.Decimals)
	}
	bi := shifted.BigInt()
	if !bi.IsUint64() {
		return 0, ErrOverflow
	}
	return bi.Uint64(), nil
}

// FromBaseUnits converts integer ledger units back to a decimal amount.
func (a *Asset) FromBaseUnits(units uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(units), -a.Decimals)
}

// Registry holds the two assets the exchange trades
type Registry struct {
	settlement *Asset
	token      *Asset
	bySymbol   map[string]*Asset
}

// NewRegistry creates the registry. The token mint may be zero when the
// token has not been deployed yet.
func NewRegistry(tokenMint solana.PublicKey) *Registry {
	settlement := &Asset{
		Symbol:   SettlementSymbol,
		Name:     "Solana",
		Decimals: 9,
	}
	token := &Asset{
		Symbol:   TokenSymbol,
		Name:     "Solana Gold",
		Mint:     tokenMint,
		Decimals: 2,
	}

	return &Registry{
		settlement: settlement,
		token:      token,
		bySymbol: map[string]*Asset{
			settlement.Symbol: settlement,
			token.Symbol:      token,
		},
	}
}

func (r *Registry) Settlement() *Asset {
	return r.settlement
}

func (r *Registry) Token() *Asset {
	return r.token
}

// TokenDeployed reports whether a token mint is configured.
func (r *Registry) TokenDeployed() bool {
	return !r.token.Mint.IsZero()
}

// GetBySymbol returns an asset by its symbol
func (r *Registry) GetBySymbol(symbol string) (*Asset, bool) {
	asset, exists := r.bySymbol[symbol]
	return asset, exists
}
