package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type Action string

const (
	ActionBuy  Action = "buy"
	ActionSell Action = "sell"
)

func (a Action) Valid() bool {
	return a == ActionBuy || a == ActionSell
}

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether no further transition is allowed out of s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Denomination is the unit a quote amount was requested in.
type Denomination string

const (
	DenominationSettlement Denomination = "settlement"
	DenominationToken      Denomination = "token"
)

// PriceSnapshot holds both spot prices captured together at quote time.
type PriceSnapshot struct {
	Gold       decimal.Decimal `json:"gold"`
	Settlement decimal.Decimal `json:"settlement"`
}

// Fees is the four-way split of a settlement amount.
type Fees struct {
	Liquidity   decimal.Decimal `json:"liquidity"`
	Treasury    decimal.Decimal `json:"treasury"`
	Profit      decimal.Decimal `json:"profit"`
	Transaction decimal.Decimal `json:"transaction"`
}

func (f Fees) Total() decimal.Decimal {
	return f.Liquidity.Add(f.Treasury).Add(f.Profit).Add(f.Transaction)
}

type Quote struct {
	QuoteID          string          `db:"quote_id"`
	Action           Action          `db:"action"`
	Denomination     Denomination    `db:"denomination"`
	SettlementAmount decimal.Decimal `db:"settlement_amount"`
	TokenAmount      decimal.Decimal `db:"token_amount"`
	Prices           PriceSnapshot
	Fees             Fees
	WalletAddress    string    `db:"user_wallet"` // empty until bound
	CreatedAt        time.Time `db:"created_at"`
	ExpiresAt        time.Time `db:"expires_at"`
	Used             bool      `db:"used"`
}

func (q Quote) Expired(now time.Time) bool {
	return now.After(q.ExpiresAt)
}

type ExchangeTransaction struct {
	ID                  int64           `db:"id"`
	WalletAddress       string          `db:"wallet_address"`
	Type                Action          `db:"transaction_type"`
	SettlementAmount    decimal.Decimal `db:"settlement_amount"`
	TokenAmount         decimal.Decimal `db:"token_amount"`
	Prices              PriceSnapshot
	Fees                Fees
	Status              Status     `db:"status"`
	TxSignature         *string    `db:"tx_signature"`         // nullable until confirm
	SecondLegSignature  *string    `db:"second_leg_signature"` // mint or payout
	CounterpartyAccount string     `db:"counterparty_account"`
	StatusMessage       string     `db:"status_message"`
	NeedsReconciliation bool       `db:"needs_reconciliation"`
	QuoteID             string     `db:"quote_id"`
	QuoteExpiresAt      time.Time  `db:"quote_expires_at"`
	CreatedAt           time.Time  `db:"created_at"`
	UpdatedAt           time.Time  `db:"updated_at"`
	CompletedAt         *time.Time `db:"completed_at"`
}

func (t ExchangeTransaction) TotalFees() decimal.Decimal {
	return t.Fees.Total()
}

// Stats aggregates the transaction table for the operator dashboard.
type Stats struct {
	CountsByStatus map[Status]int64
	SettlementIn   decimal.Decimal // completed buys
	SettlementOut  decimal.Decimal // completed sells
	TokensMinted   decimal.Decimal
	TokensBurned   decimal.Decimal
	FeesCollected  decimal.Decimal // treasury + profit + transaction on completed buys
	Flagged        int64           // transactions needing manual reconciliation
}
