// Package app wires configuration into the stores and services shared by the
// goldx server and the goldctl operator tool.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"

	"github.com/gagliardetto/solana-go"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"goldexchange/apps/goldx/internal/api"
	"goldexchange/apps/goldx/internal/assets"
	"goldexchange/apps/goldx/internal/config"
	"goldexchange/apps/goldx/internal/exchange"
	"goldexchange/apps/goldx/internal/ledger"
	"goldexchange/apps/goldx/internal/metrics"
	"goldexchange/apps/goldx/internal/oracle"
	"goldexchange/apps/goldx/internal/quotes"
	"goldexchange/apps/goldx/internal/repository"
	"goldexchange/apps/goldx/internal/repository/inmemory"
)

// NewLogger builds a production JSON logger, or a development console logger
// when LOG_FORMAT=console.
func NewLogger(cfg *config.Config) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if cfg.LogFormat == "console" {
		zcfg = zap.NewDevelopmentConfig()
	}

	level, err := zap.ParseAtomicLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL %q: %w", cfg.LogLevel, err)
	}
	zcfg.Level = level

	return zcfg.Build()
}

// Stores groups the persistence backends. All four are the same in-memory
// store when STORAGE=memory.
type Stores struct {
	Quotes       repository.QuoteStore
	Transactions repository.TransactionStore
	Outbox       repository.OutboxStore
	Cases        repository.ReconciliationStore

	db *sql.DB
}

func OpenStores(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Stores, error) {
	if cfg.Storage == config.StorageMemory {
		logger.Warn("Using in-memory storage; all state is lost on restart")
		store := inmemory.NewStore()
		return &Stores{Quotes: store, Transactions: store, Outbox: store, Cases: store}, nil
	}

	db, err := sql.Open("postgres", cfg.DbURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}

	if err := repository.InitMigration(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	return &Stores{
		Quotes:       repository.NewQuoteRepository(db, logger),
		Transactions: repository.NewTransactionRepository(db, logger),
		Outbox:       repository.NewOutboxRepository(db, logger),
		Cases:        repository.NewReconciliationRepository(db, logger),
		db:           db,
	}, nil
}

func (s *Stores) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Core holds the exchange services built from configuration.
type Core struct {
	Registry *assets.Registry
	Oracle   *oracle.Oracle
	Quotes   *quotes.Ledger
	Ledger   *ledger.Client
	Keyring  *ledger.Keyring
	Exchange *exchange.Service
}

// NewCore builds the oracle, quote ledger, ledger client and orchestrator. A
// nil m disables metrics.
func NewCore(ctx context.Context, cfg *config.Config, stores *Stores, m *metrics.Metrics, logger *zap.Logger) (*Core, error) {
	var mint solana.PublicKey
	if cfg.SystemInitialized() {
		var err error
		if mint, err = ledger.ParseAddress(cfg.Ledger.TokenMint); err != nil {
			return nil, fmt.Errorf("invalid TOKEN_MINT_ADDRESS: %w", err)
		}
	} else {
		logger.Warn("TOKEN_MINT_ADDRESS is not set; quotes and settlement are disabled")
	}
	registry := assets.NewRegistry(mint)

	var (
		oracleOpts   []oracle.Option
		quoteOpts    []quotes.Option
		exchangeOpts []exchange.Option
	)
	if m != nil {
		oracleOpts = append(oracleOpts, oracle.WithMetrics(m))
		quoteOpts = append(quoteOpts, quotes.WithMetrics(m))
		exchangeOpts = append(exchangeOpts, exchange.WithMetrics(m))
	}

	priceOracle, err := oracle.NewFromConfig(cfg.Oracle, &http.Client{Timeout: cfg.Oracle.RequestTimeout}, logger, oracleOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create price oracle: %w", err)
	}

	quoteLedger := quotes.NewLedger(stores.Quotes, cfg.Policy, logger, quoteOpts...)

	keyring, err := ledger.NewKeyring(cfg.Ledger.MintAuthorityKey, cfg.Ledger.LiquidityKey)
	if err != nil {
		return nil, err
	}

	var wallets exchange.Wallets
	if cfg.SystemInitialized() {
		if wallets, err = exchange.WalletsFromConfig(cfg.Wallets, keyring.Address(ledger.RoleLiquidity)); err != nil {
			return nil, fmt.Errorf("invalid wallet configuration: %w", err)
		}
	}

	client, err := ledger.Dial(ctx, cfg.Ledger.RPCURL, cfg.Ledger.Commitment, logger)
	if err != nil {
		return nil, err
	}

	verify := exchange.PollPolicy{
		InitialDelay: cfg.Ledger.VerifyInitialDelay,
		Interval:     cfg.Ledger.VerifyPollInterval,
		MaxInterval:  cfg.Ledger.VerifyMaxInterval,
		Timeout:      cfg.Ledger.VerifyTimeout,
	}
	service := exchange.NewService(quoteLedger, stores.Transactions, client, keyring, registry, wallets, verify, logger, exchangeOpts...)

	return &Core{
		Registry: registry,
		Oracle:   priceOracle,
		Quotes:   quoteLedger,
		Ledger:   client,
		Keyring:  keyring,
		Exchange: service,
	}, nil
}

func (c *Core) Close() {
	c.Ledger.Close()
}

// SystemWallets lists the system accounts shown on the operator dashboard.
// Unset or malformed addresses are skipped.
func (c *Core) SystemWallets(cfg config.WalletConfig, logger *zap.Logger) []api.SystemWallet {
	var wallets []api.SystemWallet
	add := func(role string, key solana.PublicKey) {
		if !key.IsZero() {
			wallets = append(wallets, api.SystemWallet{Role: role, Address: key})
		}
	}

	add(string(ledger.RoleMintAuthority), c.Keyring.Address(ledger.RoleMintAuthority))
	for _, w := range []struct{ role, address string }{
		{"liquidity", cfg.Liquidity},
		{"treasury", cfg.Treasury},
		{"profit", cfg.Profit},
		{"transaction_fee", cfg.TransactionFee},
		{"dev_fund", cfg.DevFund},
	} {
		if w.address == "" {
			continue
		}
		key, err := ledger.ParseAddress(w.address)
		if err != nil {
			logger.Warn("Skipping malformed system wallet", zap.String("role", w.role), zap.Error(err))
			continue
		}
		add(w.role, key)
	}
	if cfg.Liquidity == "" {
		add("liquidity", c.Keyring.Address(ledger.RoleLiquidity))
	}
	return wallets
}
