package test

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"goldexchange/apps/goldx/internal/api"
	"goldexchange/apps/goldx/internal/app"
	"goldexchange/apps/goldx/internal/config"
	"goldexchange/apps/goldx/internal/ledger"
	"goldexchange/apps/goldx/internal/metrics"
	"goldexchange/apps/goldx/internal/pricing"
	"goldexchange/apps/goldx/internal/sweeper"
)

// stack is a complete goldx server running against a fake cluster and price
// feed, with in-memory storage.
type stack struct {
	baseURL   string
	cfg       *config.Config
	cluster   *fakeCluster
	stores    *app.Stores
	core      *app.Core
	logger    *zap.Logger
	authority solana.PrivateKey
	mint      solana.PublicKey
}

func newStack(t *testing.T, configure ...func(*config.Config)) *stack {
	t.Helper()

	cluster := newFakeCluster()
	clusterSrv := httptest.NewServer(cluster)
	t.Cleanup(clusterSrv.Close)

	feed := httptest.NewServer(priceFeed(map[string]string{
		"pax-gold": TestGoldPrice,
		"solana":   TestSettlementPrice,
	}))
	t.Cleanup(feed.Close)

	authority := newWallet(t)
	mint := newWallet(t).PublicKey()

	cfg := &config.Config{
		Storage:    config.StorageMemory,
		AdminToken: TestAdminToken,
		LogLevel:   "info",
		LogFormat:  "json",
		Ledger: config.LedgerConfig{
			RPCURL:             clusterSrv.URL,
			Commitment:         "finalized",
			TokenMint:          mint.String(),
			MintAuthorityKey:   authority.String(),
			VerifyInitialDelay: time.Millisecond,
			VerifyPollInterval: time.Millisecond,
			VerifyMaxInterval:  5 * time.Millisecond,
			VerifyTimeout:      500 * time.Millisecond,
		},
		Wallets: config.WalletConfig{
			Treasury:       newWallet(t).PublicKey().String(),
			Profit:         newWallet(t).PublicKey().String(),
			TransactionFee: newWallet(t).PublicKey().String(),
			DevFund:        newWallet(t).PublicKey().String(),
		},
		Oracle: config.OracleConfig{
			CacheTTL:       time.Minute,
			RequestTimeout: time.Second,
			GoldSources: []config.SourceConfig{
				{Name: "coingecko", Kind: "coingecko", URL: feed.URL + "/simple/price", CoinID: "pax-gold"},
			},
			SettlementSources: []config.SourceConfig{
				{Name: "coingecko", Kind: "coingecko", URL: feed.URL + "/simple/price", CoinID: "solana"},
			},
			GoldFallback:       decimal.RequireFromString("1"),
			SettlementFallback: decimal.RequireFromString("1"),
		},
		Policy: pricing.DefaultPolicy(),
		Sweeper: config.SweeperConfig{
			Interval:          time.Hour,
			ProcessingTimeout: 10 * time.Minute,
		},
		RateLimit: config.RateLimitConfig{
			RequestsPerMinute: 6000,
			Burst:             100,
		},
	}
	for _, fn := range configure {
		fn(cfg)
	}
	require.NoError(t, cfg.Validate())

	ctx := context.Background()
	logger := zap.NewNop()

	stores, err := app.OpenStores(ctx, cfg, logger)
	require.NoError(t, err)
	t.Cleanup(func() { stores.Close() })

	m := metrics.New()
	core, err := app.NewCore(ctx, cfg, stores, m, logger)
	require.NoError(t, err)
	t.Cleanup(core.Close)

	server := api.NewServer(
		api.Options{
			AdminToken:     cfg.AdminToken,
			WriteTimeout:   cfg.APIWriteTimeout(),
			RateLimit:      cfg.RateLimit,
			Metrics:        m,
			MetricsHandler: m.Handler(),
		},
		api.NewExchangeHandler(core.Oracle, core.Quotes, core.Exchange, core.Registry, logger),
		api.NewBalanceHandler(core.Oracle, core.Ledger, stores.Transactions, core.Registry, cfg.Policy, logger),
		api.NewAdminHandler(core.Oracle, core.Ledger, stores.Transactions, stores.Cases, core.Registry,
			core.SystemWallets(cfg.Wallets, logger), cfg.Ledger.Commitment, logger),
		logger,
	)
	apiSrv := httptest.NewServer(server.Handler())
	t.Cleanup(apiSrv.Close)

	return &stack{
		baseURL:   apiSrv.URL,
		cfg:       cfg,
		cluster:   cluster,
		stores:    stores,
		core:      core,
		logger:    logger,
		authority: authority,
		mint:      mint,
	}
}

func newWallet(t *testing.T) solana.PrivateKey {
	t.Helper()
	key, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	return key
}

func (s *stack) url(path string) string {
	return s.baseURL + "/api/v1/gold" + path
}

func (s *stack) quote(t *testing.T, action, amount string) api.QuoteResponse {
	t.Helper()
	var quote api.QuoteResponse
	req := api.QuoteRequest{Amount: decimal.RequireFromString(amount), Action: action}
	require.NoError(t, postJSON(s.url("/quote"), req, &quote))
	return quote
}

func (s *stack) initiate(t *testing.T, action, quoteID string, wallet solana.PublicKey) api.InitiateResponse {
	t.Helper()
	var initiated api.InitiateResponse
	req := api.InitiateRequest{QuoteID: quoteID, WalletAddress: wallet.String()}
	require.NoError(t, postJSON(s.url("/"+action+"/initiate"), req, &initiated))
	return initiated
}

func (s *stack) confirm(action string, transactionID int64, sig solana.Signature) (api.ConfirmResponse, error) {
	var confirmed api.ConfirmResponse
	req := api.ConfirmRequest{TransactionID: transactionID, Signature: sig.String()}
	err := postJSON(s.url("/"+action+"/confirm"), req, &confirmed)
	return confirmed, err
}

func (s *stack) transaction(t *testing.T, id int64) api.TransactionResponse {
	t.Helper()
	var tx api.TransactionResponse
	require.NoError(t, getJSON(s.url(fmt.Sprintf("/transactions/%d", id)), &tx))
	return tx
}

// signUnsigned decodes the first leg returned by initiate and signs it the
// way a client wallet would.
func signUnsigned(t *testing.T, encoded string, wallet solana.PrivateKey) *solana.Transaction {
	t.Helper()
	raw, err := base64.StdEncoding.DecodeString(encoded)
	require.NoError(t, err)
	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(raw))
	require.NoError(t, err, "unsigned transaction should decode")
	require.Equal(t, wallet.PublicKey(), tx.Message.AccountKeys[0], "user wallet should pay for the first leg")
	require.NoError(t, ledger.Sign(tx, wallet))
	return tx
}

func requireAPIError(t *testing.T, err error, status int, code string) {
	t.Helper()
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr), "expected an API error, got %v", err)
	assert.Equal(t, status, apiErr.StatusCode)
	assert.Equal(t, code, apiErr.Body.Error)
}

func requireDecimal(t *testing.T, expected string, actual decimal.Decimal) {
	t.Helper()
	require.True(t, decimal.RequireFromString(expected).Equal(actual), "expected %s, got %s", expected, actual)
}

func TestHealthAndPrice(t *testing.T) {
	s := newStack(t)

	t.Run("Health", func(t *testing.T) {
		var health map[string]any
		require.NoError(t, getJSON(s.baseURL+"/api/health", &health))
		assert.Equal(t, "healthy", health["status"])
	})

	t.Run("Price", func(t *testing.T) {
		var price api.PriceResponse
		require.NoError(t, getJSON(s.url("/price"), &price))
		requireDecimal(t, TestGoldPrice, price.GoldPrice)
		requireDecimal(t, TestSettlementPrice, price.SettlementPrice)
		requireDecimal(t, "0.5", price.TokenValueSettlement)
		assert.True(t, price.SystemInitialized)
		t.Logf("✅ Gold %s, settlement %s", price.GoldPrice, price.SettlementPrice)
	})
}

func TestBuyFlow(t *testing.T) {
	s := newStack(t)
	user := newWallet(t)

	quote := s.quote(t, "buy", TestBuyAmount)
	requireDecimal(t, TestExpectedBuyTokens, quote.TokenAmount)
	requireDecimal(t, TestBuyAmount, quote.Fees.Total)
	assert.InDelta(t, 30, quote.ExpiresInSeconds, 1)

	initiated := s.initiate(t, "buy", quote.QuoteID, user.PublicKey())
	assert.Equal(t, "buy", initiated.Action)
	assert.NotEmpty(t, initiated.UnsignedTransaction)

	pending := s.transaction(t, initiated.TransactionID)
	assert.Equal(t, "pending", pending.Status)
	assert.Equal(t, quote.QuoteID, pending.QuoteID)

	signed := signUnsigned(t, initiated.UnsignedTransaction, user)
	sig := s.cluster.land(t, signed, firstLeg{})

	confirmed, err := s.confirm("buy", initiated.TransactionID, sig)
	require.NoError(t, err)
	assert.Equal(t, "completed", confirmed.Status)
	assert.Equal(t, sig.String(), confirmed.Signature)
	require.NotEmpty(t, confirmed.SecondLegSignature)

	expectedAccount, err := ledger.TokenAccount(user.PublicKey(), s.mint)
	require.NoError(t, err)
	assert.Equal(t, expectedAccount.String(), confirmed.CounterpartyAccount)
	assert.Contains(t, confirmed.Message, "Minted 2.00 sGOLD")

	sent := s.cluster.sentTransactions()
	require.Len(t, sent, 1, "exactly one mint should be submitted")
	assert.Equal(t, s.authority.PublicKey(), sent[0].Message.AccountKeys[0])
	assert.Equal(t, confirmed.SecondLegSignature, sent[0].Signatures[0].String())

	completed := s.transaction(t, initiated.TransactionID)
	assert.Equal(t, "completed", completed.Status)
	require.NotNil(t, completed.TxSignature)
	assert.Equal(t, sig.String(), *completed.TxSignature)
	assert.NotNil(t, completed.CompletedAt)
	assert.False(t, completed.NeedsReconciliation)

	t.Run("ConfirmTwice", func(t *testing.T) {
		_, err := s.confirm("buy", initiated.TransactionID, sig)
		requireAPIError(t, err, http.StatusBadRequest, "transaction_not_pending")
	})

	t.Run("QuoteReuse", func(t *testing.T) {
		req := api.InitiateRequest{QuoteID: quote.QuoteID, WalletAddress: user.PublicKey().String()}
		err := postJSON(s.url("/buy/initiate"), req, nil)
		requireAPIError(t, err, http.StatusBadRequest, "quote_already_used")
	})

	t.Run("SignatureReuse", func(t *testing.T) {
		other := s.quote(t, "buy", TestBuyAmount)
		again := s.initiate(t, "buy", other.QuoteID, user.PublicKey())
		_, err := s.confirm("buy", again.TransactionID, sig)
		requireAPIError(t, err, http.StatusConflict, "signature_reused")
	})

	t.Run("Metrics", func(t *testing.T) {
		resp, err := http.Get(s.baseURL + "/metrics")
		require.NoError(t, err)
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.Contains(t, string(body), `outcome="completed"`)
	})

	t.Logf("✅ Bought %s tokens in transaction %d", confirmed.TokenAmount, confirmed.TransactionID)
}

func TestSellFlow(t *testing.T) {
	s := newStack(t)
	user := newWallet(t)

	tokenAccount, err := ledger.TokenAccount(user.PublicKey(), s.mint)
	require.NoError(t, err)
	s.cluster.setTokenAccount(tokenAccount, 500)

	quote := s.quote(t, "sell", TestSellAmount)
	requireDecimal(t, TestExpectedSellTokens, quote.TokenAmount)

	initiated := s.initiate(t, "sell", quote.QuoteID, user.PublicKey())
	signed := signUnsigned(t, initiated.UnsignedTransaction, user)
	sig := s.cluster.land(t, signed, firstLeg{tokenAccount: tokenAccount, mint: s.mint, burnedUnits: 200})

	confirmed, err := s.confirm("sell", initiated.TransactionID, sig)
	require.NoError(t, err)
	assert.Equal(t, "completed", confirmed.Status)
	assert.Equal(t, user.PublicKey().String(), confirmed.CounterpartyAccount)

	sent := s.cluster.sentTransactions()
	require.Len(t, sent, 1, "exactly one payout should be submitted")
	assert.Equal(t, s.authority.PublicKey(), sent[0].Message.AccountKeys[0], "liquidity defaults to the mint authority")
}

func TestTokenDenominatedSell(t *testing.T) {
	s := newStack(t)

	var quote api.QuoteResponse
	req := api.QuoteRequest{Amount: decimal.RequireFromString("2"), Action: "sell", Denomination: "token"}
	require.NoError(t, postJSON(s.url("/quote"), req, &quote))
	requireDecimal(t, "2", quote.TokenAmount)
	requireDecimal(t, "1", quote.SettlementAmount)

	req.Action = "buy"
	err := postJSON(s.url("/quote"), req, nil)
	requireAPIError(t, err, http.StatusBadRequest, "invalid_denomination")
}

func TestConfirmActionMismatch(t *testing.T) {
	s := newStack(t)
	user := newWallet(t)

	quote := s.quote(t, "buy", TestBuyAmount)
	initiated := s.initiate(t, "buy", quote.QuoteID, user.PublicKey())
	signed := signUnsigned(t, initiated.UnsignedTransaction, user)
	sig := s.cluster.land(t, signed, firstLeg{})

	_, err := s.confirm("sell", initiated.TransactionID, sig)
	requireAPIError(t, err, http.StatusBadRequest, "action_mismatch")
	assert.Equal(t, "pending", s.transaction(t, initiated.TransactionID).Status)
}

func TestFirstLegFailedOnLedger(t *testing.T) {
	s := newStack(t)
	user := newWallet(t)

	quote := s.quote(t, "buy", TestBuyAmount)
	initiated := s.initiate(t, "buy", quote.QuoteID, user.PublicKey())
	signed := signUnsigned(t, initiated.UnsignedTransaction, user)
	sig := s.cluster.land(t, signed, firstLeg{failed: true})

	_, err := s.confirm("buy", initiated.TransactionID, sig)
	requireAPIError(t, err, http.StatusBadRequest, "verification_failed")

	failed := s.transaction(t, initiated.TransactionID)
	assert.Equal(t, "failed", failed.Status)
	assert.False(t, failed.NeedsReconciliation, "nothing moved, so nothing to reconcile")
	assert.Empty(t, s.cluster.sentTransactions())
}

func TestFirstLegNeverLands(t *testing.T) {
	s := newStack(t, func(cfg *config.Config) {
		cfg.Ledger.VerifyTimeout = 50 * time.Millisecond
	})
	user := newWallet(t)

	quote := s.quote(t, "buy", TestBuyAmount)
	initiated := s.initiate(t, "buy", quote.QuoteID, user.PublicKey())
	signed := signUnsigned(t, initiated.UnsignedTransaction, user)

	_, err := s.confirm("buy", initiated.TransactionID, signed.Signatures[0])
	requireAPIError(t, err, http.StatusBadRequest, "verification_failed")
	assert.Equal(t, "failed", s.transaction(t, initiated.TransactionID).Status)
}

func TestSecondLegFailureNeedsReconciliation(t *testing.T) {
	s := newStack(t)
	user := newWallet(t)
	s.cluster.failSends("Blockhash not found")

	quote := s.quote(t, "buy", TestBuyAmount)
	initiated := s.initiate(t, "buy", quote.QuoteID, user.PublicKey())
	signed := signUnsigned(t, initiated.UnsignedTransaction, user)
	sig := s.cluster.land(t, signed, firstLeg{})

	_, err := s.confirm("buy", initiated.TransactionID, sig)
	requireAPIError(t, err, http.StatusInternalServerError, "second_leg_failed")

	failed := s.transaction(t, initiated.TransactionID)
	assert.Equal(t, "failed", failed.Status)
	assert.True(t, failed.NeedsReconciliation)

	t.Run("Dashboard", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodGet, s.url("/admin/dashboard"), nil)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+TestAdminToken)

		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()

		var dashboard api.DashboardResponse
		require.NoError(t, decodeResponse(resp, &dashboard))
		assert.Equal(t, int64(1), dashboard.Statistics.TotalTransactions)
		assert.Equal(t, int64(1), dashboard.Statistics.Flagged)
		assert.Equal(t, int64(1), dashboard.Statistics.CountsByStatus["failed"])
		assert.Equal(t, s.cfg.Ledger.TokenMint, dashboard.System.TokenMint)
	})
}

func TestExpiredQuote(t *testing.T) {
	s := newStack(t, func(cfg *config.Config) {
		cfg.Policy.QuoteTTL = 200 * time.Millisecond
	})
	user := newWallet(t)

	t.Run("ConfirmAfterExpiry", func(t *testing.T) {
		quote := s.quote(t, "buy", TestBuyAmount)
		initiated := s.initiate(t, "buy", quote.QuoteID, user.PublicKey())
		signed := signUnsigned(t, initiated.UnsignedTransaction, user)
		sig := s.cluster.land(t, signed, firstLeg{})
		time.Sleep(300 * time.Millisecond)

		_, err := s.confirm("buy", initiated.TransactionID, sig)
		requireAPIError(t, err, http.StatusBadRequest, "quote_expired")
		assert.Equal(t, "failed", s.transaction(t, initiated.TransactionID).Status)
		assert.Empty(t, s.cluster.sentTransactions())
	})

	t.Run("SweeperCancelsAbandoned", func(t *testing.T) {
		quote := s.quote(t, "buy", TestBuyAmount)
		initiated := s.initiate(t, "buy", quote.QuoteID, user.PublicKey())
		time.Sleep(300 * time.Millisecond)

		result, err := sweeper.New(s.cfg.Sweeper, s.stores.Transactions, s.core.Exchange, s.logger).Sweep(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, result.Cancelled)
		assert.Equal(t, "cancelled", s.transaction(t, initiated.TransactionID).Status)
	})

	t.Run("InitiateAfterExpiry", func(t *testing.T) {
		quote := s.quote(t, "buy", TestBuyAmount)
		time.Sleep(300 * time.Millisecond)

		req := api.InitiateRequest{QuoteID: quote.QuoteID, WalletAddress: user.PublicKey().String()}
		err := postJSON(s.url("/initiate"), req, nil)
		requireAPIError(t, err, http.StatusBadRequest, "quote_expired")
	})
}

func TestBalance(t *testing.T) {
	s := newStack(t)
	user := newWallet(t)

	tokenAccount, err := ledger.TokenAccount(user.PublicKey(), s.mint)
	require.NoError(t, err)
	s.cluster.setLamports(user.PublicKey(), 3_500_000_000)
	s.cluster.setTokenAccount(tokenAccount, 1234)

	var balance api.BalanceResponse
	require.NoError(t, getJSON(s.url("/balance/"+user.PublicKey().String()), &balance))
	requireDecimal(t, "3.5", balance.SettlementBalance)
	requireDecimal(t, "12.34", balance.TokenBalance)
	requireDecimal(t, "123.4", balance.EstimatedFiatValue)
	assert.True(t, balance.SystemInitialized)
	assert.Empty(t, balance.RecentTransactions)

	t.Run("InvalidWallet", func(t *testing.T) {
		err := getJSON(s.url("/balance/not-a-wallet"), nil)
		requireAPIError(t, err, http.StatusBadRequest, "invalid_wallet_address")
	})
}

func TestSystemNotInitialized(t *testing.T) {
	s := newStack(t, func(cfg *config.Config) {
		cfg.Ledger.TokenMint = ""
	})

	err := postJSON(s.url("/quote"), api.QuoteRequest{Amount: decimal.RequireFromString("1"), Action: "buy"}, nil)
	requireAPIError(t, err, http.StatusServiceUnavailable, "system_not_initialized")

	var price api.PriceResponse
	require.NoError(t, getJSON(s.url("/price"), &price))
	assert.False(t, price.SystemInitialized)
}
