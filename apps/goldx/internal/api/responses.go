package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"goldexchange/apps/goldx/internal/exchange"
	"goldexchange/apps/goldx/internal/quotes"
)

// errorMapping translates domain errors into stable error codes. Entries are
// checked in order, so more specific errors come first.
var errorMapping = []struct {
	err    error
	status int
	code   string
}{
	{exchange.ErrSystemNotInitialized, http.StatusServiceUnavailable, "system_not_initialized"},
	{quotes.ErrInvalidAmount, http.StatusBadRequest, "invalid_amount"},
	{quotes.ErrInvalidAction, http.StatusBadRequest, "invalid_action"},
	{quotes.ErrInvalidPrices, http.StatusServiceUnavailable, "price_unavailable"},
	{exchange.ErrQuoteNotFound, http.StatusNotFound, "quote_not_found"},
	{exchange.ErrQuoteExpired, http.StatusBadRequest, "quote_expired"},
	{exchange.ErrQuoteAlreadyUsed, http.StatusBadRequest, "quote_already_used"},
	{exchange.ErrInvalidWalletAddress, http.StatusBadRequest, "invalid_wallet_address"},
	{exchange.ErrActionMismatch, http.StatusBadRequest, "action_mismatch"},
	{exchange.ErrInvalidSignature, http.StatusBadRequest, "invalid_signature"},
	{exchange.ErrTransactionNotFound, http.StatusNotFound, "transaction_not_found"},
	{exchange.ErrTransactionNotPending, http.StatusBadRequest, "transaction_not_pending"},
	{exchange.ErrSignatureReused, http.StatusConflict, "signature_reused"},
	{exchange.ErrSecondLegFailed, http.StatusInternalServerError, "second_leg_failed"},
	{exchange.ErrVerificationFailed, http.StatusBadRequest, "verification_failed"},
	{exchange.ErrSettlementAborted, http.StatusInternalServerError, "settlement_aborted"},
	{exchange.ErrLedgerUnavailable, http.StatusInternalServerError, "ledger_unavailable"},
}

// classify returns the HTTP status and error code for err. Unknown errors are
// internal errors.
func classify(err error) (int, string) {
	for _, m := range errorMapping {
		if errors.Is(err, m.err) {
			return m.status, m.code
		}
	}
	return http.StatusInternalServerError, "internal_error"
}

// responder holds the JSON writers shared by every handler.
type responder struct {
	logger *zap.Logger
}

// writeJSONResponse writes a JSON response with the specified status code
func (h responder) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to encode JSON response", zap.Error(err))
	}
}

// writeErrorResponse writes an error response
func (h responder) writeErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string) {
	errorResponse := ErrorResponse{
		Error:   errorCode,
		Message: message,
	}
	h.writeJSONResponse(w, statusCode, errorResponse)
}

// writeDomainError maps err to its status and code. Internal errors are
// logged and their detail is not exposed.
func (h responder) writeDomainError(w http.ResponseWriter, err error, msg string, fields ...zap.Field) {
	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error(msg, append(fields, zap.Error(err))...)
	}
	message := err.Error()
	if code == "internal_error" {
		message = msg
	}
	h.writeErrorResponse(w, status, code, message)
}
