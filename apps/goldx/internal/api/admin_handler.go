package api

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"goldexchange/apps/goldx/internal/assets"
	"goldexchange/apps/goldx/internal/model"
	"goldexchange/apps/goldx/internal/repository"
)

const reconciliationCaseLimit = 100

// SystemWallet is a system-owned ledger account shown on the dashboard.
type SystemWallet struct {
	Role    string
	Address solana.PublicKey
}

// AdminHandler serves the operator endpoints
type AdminHandler struct {
	responder
	prices       PriceOracle
	balances     BalanceReader
	transactions repository.TransactionStore
	cases        repository.ReconciliationStore
	registry     *assets.Registry
	wallets      []SystemWallet
	commitment   string
}

func NewAdminHandler(
	prices PriceOracle,
	balances BalanceReader,
	transactions repository.TransactionStore,
	cases repository.ReconciliationStore,
	registry *assets.Registry,
	wallets []SystemWallet,
	commitment string,
	logger *zap.Logger,
) *AdminHandler {
	return &AdminHandler{
		responder:    responder{logger: logger},
		prices:       prices,
		balances:     balances,
		transactions: transactions,
		cases:        cases,
		registry:     registry,
		wallets:      wallets,
		commitment:   commitment,
	}
}

// Dashboard handles GET /api/v1/gold/admin/dashboard
func (h *AdminHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	prices := h.prices.GetPrices(ctx)

	stats, err := h.transactions.Stats(ctx)
	if err != nil {
		h.logger.Error("Failed to load transaction statistics", zap.Error(err))
		h.writeErrorResponse(w, http.StatusInternalServerError, "database_error", "Failed to load statistics")
		return
	}

	recent, err := h.transactions.ListRecent(ctx, recentTransactionLimit)
	if err != nil {
		h.logger.Error("Failed to list recent transactions", zap.Error(err))
		h.writeErrorResponse(w, http.StatusInternalServerError, "database_error", "Failed to list transactions")
		return
	}

	system := SystemInfo{
		Commitment:        h.commitment,
		SystemInitialized: h.registry.TokenDeployed(),
	}
	if system.SystemInitialized {
		system.TokenMint = h.registry.Token().Mint.String()
	}

	response := DashboardResponse{
		System:             system,
		Wallets:            make([]WalletBalance, 0, len(h.wallets)),
		Prices:             newPriceSnapshotResponse(prices),
		Statistics:         newStatisticsResponse(stats, prices.Settlement),
		RecentTransactions: newTransactionResponses(recent),
	}

	// A failed balance lookup is reported per wallet rather than failing the
	// whole dashboard.
	settlement := h.registry.Settlement()
	for _, wallet := range h.wallets {
		entry := WalletBalance{Role: wallet.Role, Address: wallet.Address.String()}
		lamports, err := h.balances.GetBalance(ctx, wallet.Address)
		if err != nil {
			h.logger.Warn("Failed to get system wallet balance",
				zap.String("role", wallet.Role),
				zap.String("wallet_address", entry.Address),
				zap.Error(err))
			entry.Error = "balance unavailable"
		} else {
			balance := settlement.FromBaseUnits(lamports)
			fiat := balance.Mul(prices.Settlement).Round(2)
			entry.SettlementBalance = &balance
			entry.FiatValue = &fiat
		}
		response.Wallets = append(response.Wallets, entry)
	}

	h.writeJSONResponse(w, http.StatusOK, response)
}

// ReconciliationCases handles GET /api/v1/gold/admin/reconciliation
func (h *AdminHandler) ReconciliationCases(w http.ResponseWriter, r *http.Request) {
	status := strings.ToLower(r.URL.Query().Get("status"))
	switch status {
	case "":
		status = model.CaseOpen
	case model.CaseOpen, model.CaseResolved:
	default:
		h.writeErrorResponse(w, http.StatusBadRequest, "invalid_status", "Status must be open or resolved")
		return
	}

	cases, err := h.cases.ListCases(r.Context(), status, reconciliationCaseLimit)
	if err != nil {
		h.logger.Error("Failed to list reconciliation cases", zap.Error(err))
		h.writeErrorResponse(w, http.StatusInternalServerError, "database_error", "Failed to list reconciliation cases")
		return
	}

	response := make([]ReconciliationCaseResponse, 0, len(cases))
	for _, c := range cases {
		response = append(response, newReconciliationCaseResponse(c))
	}

	h.writeJSONResponse(w, http.StatusOK, response)
}

// requireAdmin checks the static bearer token.
func (h *AdminHandler) requireAdmin(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			presented, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(strings.TrimSpace(presented)), []byte(token)) != 1 {
				h.writeErrorResponse(w, http.StatusUnauthorized, "unauthorized", "A valid admin bearer token is required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func newStatisticsResponse(stats *model.Stats, settlementPrice decimal.Decimal) StatisticsResponse {
	response := StatisticsResponse{
		CountsByStatus:    make(map[string]int64, len(stats.CountsByStatus)),
		SettlementIn:      stats.SettlementIn,
		SettlementOut:     stats.SettlementOut,
		TokensMinted:      stats.TokensMinted,
		TokensBurned:      stats.TokensBurned,
		FeesCollected:     stats.FeesCollected,
		FeesCollectedFiat: stats.FeesCollected.Mul(settlementPrice).Round(2),
		Flagged:           stats.Flagged,
	}
	for status, count := range stats.CountsByStatus {
		response.CountsByStatus[string(status)] = count
		response.TotalTransactions += count
	}
	return response
}
