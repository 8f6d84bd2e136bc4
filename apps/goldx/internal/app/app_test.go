package app

import (
	"context"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"goldexchange/apps/goldx/internal/config"
	"goldexchange/apps/goldx/internal/metrics"
	"goldexchange/apps/goldx/internal/pricing"
)

func newKey(t *testing.T) solana.PrivateKey {
	t.Helper()
	key, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	return key
}

func testConfig() *config.Config {
	return &config.Config{
		Storage:   config.StorageMemory,
		LogLevel:  "info",
		LogFormat: "json",
		Ledger: config.LedgerConfig{
			RPCURL:        "http://127.0.0.1:8899",
			Commitment:    "confirmed",
			VerifyTimeout: time.Second,
		},
		Oracle: config.OracleConfig{
			CacheTTL:           time.Minute,
			RequestTimeout:     time.Second,
			GoldSources:        config.DefaultGoldSources(),
			SettlementSources:  config.DefaultSettlementSources(),
			GoldFallback:       decimal.RequireFromString("2023.45"),
			SettlementFallback: decimal.RequireFromString("20"),
		},
		Policy: pricing.DefaultPolicy(),
	}
}

func TestNewLogger(t *testing.T) {
	cfg := testConfig()
	cfg.LogLevel = "warn"

	logger, err := NewLogger(cfg)
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, logger.Core().Enabled(zapcore.WarnLevel))

	cfg.LogLevel = "loud"
	_, err = NewLogger(cfg)
	assert.Error(t, err)
}

func TestNewCore_WithoutTokenMint(t *testing.T) {
	cfg := testConfig()
	ctx := context.Background()

	stores, err := OpenStores(ctx, cfg, zap.NewNop())
	require.NoError(t, err)
	defer stores.Close()

	core, err := NewCore(ctx, cfg, stores, nil, zap.NewNop())
	require.NoError(t, err)
	defer core.Close()

	assert.False(t, core.Registry.TokenDeployed())
	assert.Equal(t, "confirmed", core.Ledger.Commitment())
	assert.Empty(t, core.SystemWallets(cfg.Wallets, zap.NewNop()))
}

func TestNewCore_Initialized(t *testing.T) {
	authority := newKey(t)
	treasury := newKey(t).PublicKey()
	profit := newKey(t).PublicKey()
	fee := newKey(t).PublicKey()
	mint := newKey(t).PublicKey()

	cfg := testConfig()
	cfg.Ledger.TokenMint = mint.String()
	cfg.Ledger.MintAuthorityKey = authority.String()
	cfg.Wallets = config.WalletConfig{
		Treasury:       treasury.String(),
		Profit:         profit.String(),
		TransactionFee: fee.String(),
		DevFund:        "not-an-address",
	}
	ctx := context.Background()

	stores, err := OpenStores(ctx, cfg, zap.NewNop())
	require.NoError(t, err)

	core, err := NewCore(ctx, cfg, stores, metrics.New(), zap.NewNop())
	require.NoError(t, err)
	defer core.Close()

	assert.True(t, core.Registry.TokenDeployed())
	assert.Equal(t, mint, core.Registry.Token().Mint)

	wallets := core.SystemWallets(cfg.Wallets, zap.NewNop())
	roles := make(map[string]solana.PublicKey)
	for _, w := range wallets {
		roles[w.Role] = w.Address
	}
	assert.Equal(t, authority.PublicKey(), roles["mint_authority"])
	assert.Equal(t, authority.PublicKey(), roles["liquidity"])
	assert.Equal(t, treasury, roles["treasury"])
	assert.Equal(t, profit, roles["profit"])
	assert.Equal(t, fee, roles["transaction_fee"])
	assert.NotContains(t, roles, "dev_fund")
}

func TestNewCore_RejectsBadWallets(t *testing.T) {
	cfg := testConfig()
	cfg.Ledger.TokenMint = newKey(t).PublicKey().String()
	cfg.Ledger.MintAuthorityKey = newKey(t).String()
	cfg.Wallets = config.WalletConfig{Treasury: "bogus"}
	ctx := context.Background()

	stores, err := OpenStores(ctx, cfg, zap.NewNop())
	require.NoError(t, err)

	_, err = NewCore(ctx, cfg, stores, nil, zap.NewNop())
	assert.ErrorContains(t, err, "treasury wallet")
}
