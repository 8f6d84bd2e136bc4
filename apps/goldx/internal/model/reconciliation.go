package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	CaseOpen     = "open"
	CaseResolved = "resolved"
)

// ReconciliationCase tracks a settlement whose first leg landed but whose
// second leg did not complete.
type ReconciliationCase struct {
	TransactionID     int64           `db:"transaction_id"`
	WalletAddress     string          `db:"wallet_address"`
	TransactionType   Action          `db:"transaction_type"`
	Reason            string          `db:"reason"`
	FirstLegSignature string          `db:"first_leg_signature"`
	SettlementAmount  decimal.Decimal `db:"settlement_amount"`
	TokenAmount       decimal.Decimal `db:"token_amount"`
	Status            string          `db:"status"`
	ResolutionNote    string          `db:"resolution_note"`
	CreatedAt         time.Time       `db:"created_at"`
	ResolvedAt        *time.Time      `db:"resolved_at"`
}
