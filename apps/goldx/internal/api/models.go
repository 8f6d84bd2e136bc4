package api

import (
	"time"

	"github.com/shopspring/decimal"

	"goldexchange/apps/goldx/internal/model"
)

// QuoteRequest is the body of POST /quote. Denomination defaults to
// settlement; token is only valid for sells.
type QuoteRequest struct {
	Amount       decimal.Decimal `json:"amount"`
	Action       string          `json:"action"`
	Denomination string          `json:"denomination,omitempty"`
}

type PriceSnapshotResponse struct {
	Gold       decimal.Decimal `json:"gold"`
	Settlement decimal.Decimal `json:"settlement"`
}

type FeesResponse struct {
	Liquidity   decimal.Decimal `json:"liquidity"`
	Treasury    decimal.Decimal `json:"treasury"`
	Profit      decimal.Decimal `json:"profit"`
	Transaction decimal.Decimal `json:"transaction"`
	Total       decimal.Decimal `json:"total"`
}

type QuoteResponse struct {
	QuoteID          string                `json:"quote_id"`
	Action           string                `json:"action"`
	Denomination     string                `json:"denomination"`
	SettlementAmount decimal.Decimal       `json:"settlement_amount"`
	TokenAmount      decimal.Decimal       `json:"token_amount"`
	PriceSnapshot    PriceSnapshotResponse `json:"price_snapshot"`
	Fees             FeesResponse          `json:"fees"`
	ExpiresInSeconds int                   `json:"expires_in_seconds"`
	ExpiresAt        time.Time             `json:"expires_at"`
}

type InitiateRequest struct {
	WalletAddress string `json:"wallet_address"`
	QuoteID       string `json:"quote_id"`
}

type InitiateResponse struct {
	TransactionID       int64           `json:"transaction_id"`
	Action              string          `json:"action"`
	UnsignedTransaction string          `json:"unsigned_transaction"`
	SettlementAmount    decimal.Decimal `json:"settlement_amount"`
	TokenAmount         decimal.Decimal `json:"token_amount"`
	Fees                FeesResponse    `json:"fees"`
	ExpiresAt           time.Time       `json:"expires_at"`
}

type ConfirmRequest struct {
	TransactionID int64  `json:"transaction_id"`
	Signature     string `json:"signature"`
}

type ConfirmResponse struct {
	TransactionID       int64           `json:"transaction_id"`
	Status              string          `json:"status"`
	Signature           string          `json:"signature"`
	SecondLegSignature  string          `json:"second_leg_signature"`
	CounterpartyAccount string          `json:"counterparty_account"`
	SettlementAmount    decimal.Decimal `json:"settlement_amount"`
	TokenAmount         decimal.Decimal `json:"token_amount"`
	Message             string          `json:"message"`
}

// TransactionResponse represents the API response for an exchange transaction
type TransactionResponse struct {
	ID                  int64                 `json:"id"`
	WalletAddress       string                `json:"wallet_address"`
	Type                string                `json:"type"`
	Status              string                `json:"status"`
	SettlementAmount    decimal.Decimal       `json:"settlement_amount"`
	TokenAmount         decimal.Decimal       `json:"token_amount"`
	PriceSnapshot       PriceSnapshotResponse `json:"price_snapshot"`
	Fees                FeesResponse          `json:"fees"`
	TxSignature         *string               `json:"tx_signature"`
	SecondLegSignature  *string               `json:"second_leg_signature"`
	CounterpartyAccount string                `json:"counterparty_account,omitempty"`
	StatusMessage       string                `json:"status_message,omitempty"`
	NeedsReconciliation bool                  `json:"needs_reconciliation"`
	QuoteID             string                `json:"quote_id"`
	QuoteExpiresAt      time.Time             `json:"quote_expires_at"`
	CreatedAt           time.Time             `json:"created_at"`
	UpdatedAt           time.Time             `json:"updated_at"`
	CompletedAt         *time.Time            `json:"completed_at,omitempty"`
}

// BalanceResponse represents the API response for wallet balance information
type BalanceResponse struct {
	WalletAddress      string                `json:"wallet_address"`
	TokenBalance       decimal.Decimal       `json:"token_balance"`
	SettlementBalance  decimal.Decimal       `json:"settlement_balance"`
	EstimatedFiatValue decimal.Decimal       `json:"estimated_fiat_value"`
	RecentTransactions []TransactionResponse `json:"recent_transactions"`
	SystemInitialized  bool                  `json:"system_initialized"`
}

type PriceResponse struct {
	GoldPrice            decimal.Decimal `json:"gold_price"`
	SettlementPrice      decimal.Decimal `json:"settlement_price"`
	TokenRedemptionValue decimal.Decimal `json:"token_redemption_value"`
	TokenBuyCost         decimal.Decimal `json:"token_buy_cost"`
	TokenValueSettlement decimal.Decimal `json:"token_value_settlement"`
	LastUpdated          time.Time       `json:"last_updated"`
	SystemInitialized    bool            `json:"system_initialized"`
}

type SystemInfo struct {
	TokenMint         string `json:"token_mint,omitempty"`
	Commitment        string `json:"commitment"`
	SystemInitialized bool   `json:"system_initialized"`
}

// WalletBalance is one system wallet on the dashboard. Error is set instead
// of the balances when the ledger lookup failed.
type WalletBalance struct {
	Role              string           `json:"role"`
	Address           string           `json:"address"`
	SettlementBalance *decimal.Decimal `json:"settlement_balance,omitempty"`
	FiatValue         *decimal.Decimal `json:"fiat_value,omitempty"`
	Error             string           `json:"error,omitempty"`
}

type StatisticsResponse struct {
	TotalTransactions int64            `json:"total_transactions"`
	CountsByStatus    map[string]int64 `json:"counts_by_status"`
	SettlementIn      decimal.Decimal  `json:"settlement_in"`
	SettlementOut     decimal.Decimal  `json:"settlement_out"`
	TokensMinted      decimal.Decimal  `json:"tokens_minted"`
	TokensBurned      decimal.Decimal  `json:"tokens_burned"`
	FeesCollected     decimal.Decimal  `json:"fees_collected"`
	FeesCollectedFiat decimal.Decimal  `json:"fees_collected_fiat"`
	Flagged           int64            `json:"flagged"`
}

type DashboardResponse struct {
	System             SystemInfo            `json:"system"`
	Wallets            []WalletBalance       `json:"wallets"`
	Prices             PriceSnapshotResponse `json:"prices"`
	Statistics         StatisticsResponse    `json:"statistics"`
	RecentTransactions []TransactionResponse `json:"recent_transactions"`
}

type ReconciliationCaseResponse struct {
	TransactionID     int64           `json:"transaction_id"`
	WalletAddress     string          `json:"wallet_address"`
	TransactionType   string          `json:"transaction_type"`
	Reason            string          `json:"reason"`
	FirstLegSignature string          `json:"first_leg_signature"`
	SettlementAmount  decimal.Decimal `json:"settlement_amount"`
	TokenAmount       decimal.Decimal `json:"token_amount"`
	Status            string          `json:"status"`
	ResolutionNote    string          `json:"resolution_note,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	ResolvedAt        *time.Time      `json:"resolved_at,omitempty"`
}

// ErrorResponse represents the API error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func newFeesResponse(f model.Fees) FeesResponse {
	return FeesResponse{
		Liquidity:   f.Liquidity,
		Treasury:    f.Treasury,
		Profit:      f.Profit,
		Transaction: f.Transaction,
		Total:       f.Total(),
	}
}

func newPriceSnapshotResponse(p model.PriceSnapshot) PriceSnapshotResponse {
	return PriceSnapshotResponse{Gold: p.Gold, Settlement: p.Settlement}
}

func newTransactionResponse(tx model.ExchangeTransaction) TransactionResponse {
	return TransactionResponse{
		ID:                  tx.ID,
		WalletAddress:       tx.WalletAddress,
		Type:                string(tx.Type),
		Status:              string(tx.Status),
		SettlementAmount:    tx.SettlementAmount,
		TokenAmount:         tx.TokenAmount,
		PriceSnapshot:       newPriceSnapshotResponse(tx.Prices),
		Fees:                newFeesResponse(tx.Fees),
		TxSignature:         tx.TxSignature,
		SecondLegSignature:  tx.SecondLegSignature,
		CounterpartyAccount: tx.CounterpartyAccount,
		StatusMessage:       tx.StatusMessage,
		NeedsReconciliation: tx.NeedsReconciliation,
		QuoteID:             tx.QuoteID,
		QuoteExpiresAt:      tx.QuoteExpiresAt,
		CreatedAt:           tx.CreatedAt,
		UpdatedAt:           tx.UpdatedAt,
		CompletedAt:         tx.CompletedAt,
	}
}

func newTransactionResponses(txs []model.ExchangeTransaction) []TransactionResponse {
	out := make([]TransactionResponse, 0, len(txs))
	for _, tx := range txs {
		out = append(out, newTransactionResponse(tx))
	}
	return out
}

func newReconciliationCaseResponse(c model.ReconciliationCase) ReconciliationCaseResponse {
	return ReconciliationCaseResponse{
		TransactionID:     c.TransactionID,
		WalletAddress:     c.WalletAddress,
		TransactionType:   string(c.TransactionType),
		Reason:            c.Reason,
		FirstLegSignature: c.FirstLegSignature,
		SettlementAmount:  c.SettlementAmount,
		TokenAmount:       c.TokenAmount,
		Status:            c.Status,
		ResolutionNote:    c.ResolutionNote,
		CreatedAt:         c.CreatedAt,
		ResolvedAt:        c.ResolvedAt,
	}
}
