package api

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"goldexchange/apps/goldx/internal/assets"
	"goldexchange/apps/goldx/internal/exchange"
	"goldexchange/apps/goldx/internal/model"
	"goldexchange/apps/goldx/internal/pricing"
)

// QuoteIssuer is the quote ledger as seen by the API.
type QuoteIssuer interface {
	CreateQuote(ctx context.Context, action model.Action, settlementAmount decimal.Decimal, prices model.PriceSnapshot) (*model.Quote, error)
	CreateTokenQuote(ctx context.Context, tokenAmount decimal.Decimal, prices model.PriceSnapshot) (*model.Quote, error)
	Policy() pricing.Policy
}

// Exchange is the settlement orchestrator as seen by the API.
type Exchange interface {
	Initiate(ctx context.Context, quoteID, walletAddress string, expected model.Action) (*exchange.Initiation, error)
	Confirm(ctx context.Context, transactionID int64, signature string) (*model.ExchangeTransaction, error)
	GetTransaction(ctx context.Context, id int64) (*model.ExchangeTransaction, error)
}

// ExchangeHandler handles the quote, initiate and confirm endpoints
type ExchangeHandler struct {
	responder
	prices   PriceOracle
	quotes   QuoteIssuer
	exchange Exchange
	registry *assets.Registry
}

func NewExchangeHandler(prices PriceOracle, quotes QuoteIssuer, ex Exchange, registry *assets.Registry, logger *zap.Logger) *ExchangeHandler {
	return &ExchangeHandler{
		responder: responder{logger: logger},
		prices:    prices,
		quotes:    quotes,
		exchange:  ex,
		registry:  registry,
	}
}

// CreateQuote handles POST /api/v1/gold/quote
func (h *ExchangeHandler) CreateQuote(w http.ResponseWriter, r *http.Request) {
	if !h.registry.TokenDeployed() {
		h.writeDomainError(w, exchange.ErrSystemNotInitialized, "Quote requested before token deployment")
		return
	}

	var req QuoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, "invalid_request_body", "Invalid JSON in request body")
		return
	}

	action := model.Action(strings.ToLower(req.Action))
	if !action.Valid() {
		h.writeErrorResponse(w, http.StatusBadRequest, "invalid_action", "Action must be buy or sell")
		return
	}

	prices := h.prices.GetPrices(r.Context())

	var (
		quote *model.Quote
		err   error
	)
	switch model.Denomination(strings.ToLower(req.Denomination)) {
	case "", model.DenominationSettlement:
		quote, err = h.quotes.CreateQuote(r.Context(), action, req.Amount, prices)
	case model.DenominationToken:
		if action != model.ActionSell {
			h.writeErrorResponse(w, http.StatusBadRequest, "invalid_denomination", "Token-denominated quotes are only available for sells")
			return
		}
		quote, err = h.quotes.CreateTokenQuote(r.Context(), req.Amount, prices)
	default:
		h.writeErrorResponse(w, http.StatusBadRequest, "invalid_denomination", "Denomination must be settlement or token")
		return
	}
	if err != nil {
		h.writeDomainError(w, err, "Failed to create quote", zap.String("action", string(action)))
		return
	}

	response := QuoteResponse{
		QuoteID:          quote.QuoteID,
		Action:           string(quote.Action),
		Denomination:     string(quote.Denomination),
		SettlementAmount: quote.SettlementAmount,
		TokenAmount:      quote.TokenAmount,
		PriceSnapshot:    newPriceSnapshotResponse(quote.Prices),
		Fees:             newFeesResponse(quote.Fees),
		ExpiresInSeconds: int(math.Round(quote.ExpiresAt.Sub(quote.CreatedAt).Seconds())),
		ExpiresAt:        quote.ExpiresAt,
	}

	h.writeJSONResponse(w, http.StatusOK, response)
}

// Initiate handles POST /api/v1/gold/initiate and /api/v1/gold/{action}/initiate
func (h *ExchangeHandler) Initiate(w http.ResponseWriter, r *http.Request) {
	var req InitiateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, "invalid_request_body", "Invalid JSON in request body")
		return
	}

	if req.WalletAddress == "" {
		h.writeErrorResponse(w, http.StatusBadRequest, "missing_wallet_address", "Wallet address is required")
		return
	}

	if req.QuoteID == "" {
		h.writeErrorResponse(w, http.StatusBadRequest, "missing_quote_id", "Quote ID is required")
		return
	}

	expected := model.Action(mux.Vars(r)["action"])

	initiation, err := h.exchange.Initiate(r.Context(), req.QuoteID, req.WalletAddress, expected)
	if err != nil {
		h.writeDomainError(w, err, "Failed to initiate exchange",
			zap.String("quote_id", req.QuoteID),
			zap.String("wallet_address", req.WalletAddress))
		return
	}

	tx := initiation.Transaction
	response := InitiateResponse{
		TransactionID:       tx.ID,
		Action:              string(tx.Type),
		UnsignedTransaction: initiation.UnsignedTransaction,
		SettlementAmount:    tx.SettlementAmount,
		TokenAmount:         tx.TokenAmount,
		Fees:                newFeesResponse(tx.Fees),
		ExpiresAt:           initiation.ExpiresAt,
	}

	h.logger.Info("Initiated exchange",
		zap.Int64("transaction_id", tx.ID),
		zap.String("action", string(tx.Type)),
		zap.String("wallet_address", tx.WalletAddress),
		zap.String("quote_id", tx.QuoteID))

	h.writeJSONResponse(w, http.StatusCreated, response)
}

// Confirm handles POST /api/v1/gold/confirm and /api/v1/gold/{action}/confirm
func (h *ExchangeHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	if !h.registry.TokenDeployed() {
		h.writeDomainError(w, exchange.ErrSystemNotInitialized, "Confirm requested before token deployment")
		return
	}

	var req ConfirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, "invalid_request_body", "Invalid JSON in request body")
		return
	}

	if req.TransactionID <= 0 {
		h.writeErrorResponse(w, http.StatusBadRequest, "missing_transaction_id", "Transaction ID is required")
		return
	}

	if req.Signature == "" {
		h.writeErrorResponse(w, http.StatusBadRequest, "missing_signature", "Signature is required")
		return
	}

	if expected := model.Action(mux.Vars(r)["action"]); expected != "" {
		tx, err := h.exchange.GetTransaction(r.Context(), req.TransactionID)
		if err != nil {
			h.writeDomainError(w, err, "Failed to load transaction", zap.Int64("transaction_id", req.TransactionID))
			return
		}
		if tx.Type != expected {
			h.writeDomainError(w, fmt.Errorf("%w: transaction is a %s", exchange.ErrActionMismatch, tx.Type), "")
			return
		}
	}

	tx, err := h.exchange.Confirm(r.Context(), req.TransactionID, req.Signature)
	if err != nil {
		h.writeDomainError(w, err, "Failed to confirm exchange",
			zap.Int64("transaction_id", req.TransactionID),
			zap.String("signature", req.Signature))
		return
	}

	response := ConfirmResponse{
		TransactionID:       tx.ID,
		Status:              string(tx.Status),
		Signature:           deref(tx.TxSignature),
		SecondLegSignature:  deref(tx.SecondLegSignature),
		CounterpartyAccount: tx.CounterpartyAccount,
		SettlementAmount:    tx.SettlementAmount,
		TokenAmount:         tx.TokenAmount,
		Message:             tx.StatusMessage,
	}

	h.writeJSONResponse(w, http.StatusOK, response)
}

// GetTransaction handles GET /api/v1/gold/transactions/{id}
func (h *ExchangeHandler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		h.writeErrorResponse(w, http.StatusBadRequest, "invalid_transaction_id", "Transaction ID must be a positive integer")
		return
	}

	tx, err := h.exchange.GetTransaction(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, err, "Failed to get transaction", zap.Int64("transaction_id", id))
		return
	}

	h.writeJSONResponse(w, http.StatusOK, newTransactionResponse(*tx))
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
