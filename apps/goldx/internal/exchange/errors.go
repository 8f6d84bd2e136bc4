package exchange

import (
	"errors"

	"goldexchange/apps/goldx/internal/quotes"
)

// Quote lifecycle errors are shared with the quote ledger so errors.Is
// matches at either layer.
var (
	ErrQuoteNotFound    = quotes.ErrQuoteNotFound
	ErrQuoteExpired     = quotes.ErrQuoteExpired
	ErrQuoteAlreadyUsed = quotes.ErrQuoteAlreadyUsed
	ErrActionMismatch   = quotes.ErrActionMismatch
)

var (
	ErrInvalidWalletAddress  = errors.New("invalid wallet address")
	ErrInvalidSignature      = errors.New("invalid transaction signature")
	ErrTransactionNotFound   = errors.New("transaction not found")
	ErrTransactionNotPending = errors.New("transaction is not pending")
	ErrSignatureReused       = errors.New("signature already used for another transaction")
	ErrVerificationFailed    = errors.New("ledger verification failed")
	// ErrSecondLegFailed means the user's first leg landed but the mint or
	// payout did not complete. Every occurrence needs manual reconciliation.
	ErrSecondLegFailed      = errors.New("second leg failed after verification")
	ErrSettlementAborted    = errors.New("settlement aborted unexpectedly")
	ErrLedgerUnavailable    = errors.New("ledger unavailable")
	ErrSystemNotInitialized = errors.New("token mint is not configured")
)
