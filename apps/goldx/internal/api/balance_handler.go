package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"goldexchange/apps/goldx/internal/assets"
	"goldexchange/apps/goldx/internal/exchange"
	"goldexchange/apps/goldx/internal/ledger"
	"goldexchange/apps/goldx/internal/model"
	"goldexchange/apps/goldx/internal/oracle"
	"goldexchange/apps/goldx/internal/pricing"
	"goldexchange/apps/goldx/internal/repository"
)

const recentTransactionLimit = 10

type PriceOracle interface {
	GetPrices(ctx context.Context) model.PriceSnapshot
	LastUpdated(asset oracle.Asset) time.Time
}

// BalanceReader reads ledger balances in base units.
type BalanceReader interface {
	GetBalance(ctx context.Context, account solana.PublicKey) (uint64, error)
	GetTokenBalance(ctx context.Context, tokenAccount solana.PublicKey) (uint64, error)
}

// BalanceHandler handles the read-only balance and price endpoints
type BalanceHandler struct {
	responder
	prices       PriceOracle
	balances     BalanceReader
	transactions repository.TransactionStore
	registry     *assets.Registry
	policy       pricing.Policy
}

func NewBalanceHandler(prices PriceOracle, balances BalanceReader, transactions repository.TransactionStore, registry *assets.Registry, policy pricing.Policy, logger *zap.Logger) *BalanceHandler {
	return &BalanceHandler{
		responder:    responder{logger: logger},
		prices:       prices,
		balances:     balances,
		transactions: transactions,
		registry:     registry,
		policy:       policy,
	}
}

// GetBalance handles GET /api/v1/gold/balance/{wallet}
func (h *BalanceHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	walletAddress := mux.Vars(r)["wallet"]

	wallet, err := ledger.ParseAddress(walletAddress)
	if err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, "invalid_wallet_address", "Invalid wallet address")
		return
	}

	ctx := r.Context()
	lamports, err := h.balances.GetBalance(ctx, wallet)
	if err != nil {
		h.writeDomainError(w, fmt.Errorf("%w: %v", exchange.ErrLedgerUnavailable, err), "Failed to get settlement balance", zap.String("wallet_address", walletAddress))
		return
	}

	response := BalanceResponse{
		WalletAddress:      wallet.String(),
		SettlementBalance:  h.registry.Settlement().FromBaseUnits(lamports),
		RecentTransactions: []TransactionResponse{},
		SystemInitialized:  h.registry.TokenDeployed(),
	}

	if !response.SystemInitialized {
		h.writeJSONResponse(w, http.StatusOK, response)
		return
	}

	token := h.registry.Token()
	tokenAccount, err := ledger.TokenAccount(wallet, token.Mint)
	if err != nil {
		h.writeDomainError(w, err, "Failed to derive token account", zap.String("wallet_address", walletAddress))
		return
	}

	units, err := h.balances.GetTokenBalance(ctx, tokenAccount)
	if err != nil {
		h.writeDomainError(w, fmt.Errorf("%w: %v", exchange.ErrLedgerUnavailable, err), "Failed to get token balance", zap.String("wallet_address", walletAddress))
		return
	}
	response.TokenBalance = token.FromBaseUnits(units)
	response.EstimatedFiatValue = response.TokenBalance.Mul(h.policy.RedemptionValue)

	recent, err := h.transactions.ListByWallet(ctx, wallet.String(), recentTransactionLimit)
	if err != nil {
		h.writeDomainError(w, err, "Failed to list transactions", zap.String("wallet_address", walletAddress))
		return
	}
	response.RecentTransactions = newTransactionResponses(recent)

	h.writeJSONResponse(w, http.StatusOK, response)
}

// GetPrice handles GET /api/v1/gold/price
func (h *BalanceHandler) GetPrice(w http.ResponseWriter, r *http.Request) {
	prices := h.prices.GetPrices(r.Context())

	// Report the staler of the two cache entries.
	lastUpdated := h.prices.LastUpdated(oracle.AssetGold)
	if settlement := h.prices.LastUpdated(oracle.AssetSettlement); settlement.Before(lastUpdated) {
		lastUpdated = settlement
	}

	response := PriceResponse{
		GoldPrice:            prices.Gold,
		SettlementPrice:      prices.Settlement,
		TokenRedemptionValue: h.policy.RedemptionValue,
		TokenBuyCost:         h.policy.TokenCost,
		TokenValueSettlement: h.policy.TokenValueInSettlement(prices.Settlement),
		LastUpdated:          lastUpdated,
		SystemInitialized:    h.registry.TokenDeployed(),
	}

	h.writeJSONResponse(w, http.StatusOK, response)
}
