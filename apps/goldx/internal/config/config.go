package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"goldexchange/apps/goldx/internal/pricing"
)

const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"

	// Ledger calls a settlement makes outside its two confirmation waits
	settleSlack = 30 * time.Second
	// Time to write the confirm response once settlement returns
	responseSlack = 10 * time.Second

	defaultPolicyFile = "exchange.yaml"
	defaultRPCURL     = "https://api.devnet.solana.com"
)

type Config struct {
	Storage    string
	DbURL      string
	APIPort    int
	AdminToken string
	LogLevel   string
	LogFormat  string

	Kafka     KafkaConfig
	Ledger    LedgerConfig
	Wallets   WalletConfig
	Oracle    OracleConfig
	Policy    pricing.Policy
	Sweeper   SweeperConfig
	RateLimit RateLimitConfig
}

type KafkaConfig struct {
	Enabled bool
	Broker  string
	Topic   string
	GroupID string
	// ClaimLease bounds how long an outbox event stays claimed by a
	// publisher that never reported back.
	ClaimLease time.Duration
}

type LedgerConfig struct {
	RPCURL     string
	Commitment string
	TokenMint  string
	// Base58-encoded 64-byte keypairs. The liquidity keypair defaults to the
	// mint authority when unset.
	MintAuthorityKey   string
	LiquidityKey       string
	VerifyInitialDelay time.Duration
	VerifyPollInterval time.Duration
	VerifyMaxInterval  time.Duration
	VerifyTimeout      time.Duration
}

// WalletConfig maps system wallet roles to ledger addresses.
type WalletConfig struct {
	Liquidity      string
	Treasury       string
	Profit         string
	TransactionFee string
	DevFund        string
}

type OracleConfig struct {
	CacheTTL           time.Duration
	RequestTimeout     time.Duration
	GoldSources        []SourceConfig
	SettlementSources  []SourceConfig
	GoldFallback       decimal.Decimal
	SettlementFallback decimal.Decimal
}

// SourceConfig describes one external price endpoint.
type SourceConfig struct {
	Name   string `yaml:"name"`
	Kind   string `yaml:"kind"` // coingecko or metals_live
	URL    string `yaml:"url"`
	CoinID string `yaml:"coin_id"`
}

type SweeperConfig struct {
	Interval          time.Duration
	ProcessingTimeout time.Duration
	PendingGrace      time.Duration
}

type RateLimitConfig struct {
	RequestsPerMinute float64
	Burst             int
	// Addresses or CIDRs of reverse proxies whose X-Real-IP and
	// X-Forwarded-For headers are believed. Empty means none.
	TrustedProxies []string
}

// Load reads configuration from the environment, a .env file when present,
// and the optional YAML policy file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	cfg := &Config{
		Storage:    strings.ToLower(getEnv("STORAGE", StoragePostgres)),
		DbURL:      os.Getenv("DB_URL"),
		APIPort:    getEnvInt("API_PORT", 8080),
		AdminToken: os.Getenv("ADMIN_TOKEN"),
		LogLevel:   getEnv("LOG_LEVEL", "info"),
		LogFormat:  getEnv("LOG_FORMAT", "json"),
		Kafka: KafkaConfig{
			Enabled:    getEnvBool("EVENTS_ENABLED", true),
			Broker:     os.Getenv("KAFKA_BROKER"),
			Topic:      getEnv("KAFKA_TOPIC", "gold-exchange-events"),
			GroupID:    getEnv("KAFKA_GROUP_ID", "reconciliation-materializer"),
			ClaimLease: getEnvDuration("OUTBOX_CLAIM_LEASE", 5*time.Minute),
		},
		Ledger: LedgerConfig{
			RPCURL:             getEnv("SOLANA_RPC_URL", defaultRPCURL),
			Commitment:         getEnv("LEDGER_COMMITMENT", "finalized"),
			TokenMint:          os.Getenv("TOKEN_MINT_ADDRESS"),
			MintAuthorityKey:   os.Getenv("MINT_AUTHORITY_KEYPAIR"),
			LiquidityKey:       os.Getenv("LIQUIDITY_KEYPAIR"),
			VerifyInitialDelay: getEnvDuration("VERIFY_INITIAL_DELAY", 2*time.Second),
			VerifyPollInterval: getEnvDuration("VERIFY_POLL_INTERVAL", time.Second),
			VerifyMaxInterval:  getEnvDuration("VERIFY_MAX_INTERVAL", 8*time.Second),
			VerifyTimeout:      getEnvDuration("VERIFY_TIMEOUT", 60*time.Second),
		},
		Wallets: WalletConfig{
			Liquidity:      os.Getenv("LIQUIDITY_WALLET"),
			Treasury:       os.Getenv("TREASURY_WALLET"),
			Profit:         os.Getenv("PROFIT_WALLET"),
			TransactionFee: os.Getenv("TRANSACTION_FEE_WALLET"),
			DevFund:        os.Getenv("DEV_FUND_WALLET"),
		},
		Oracle: OracleConfig{
			CacheTTL:           getEnvDuration("ORACLE_CACHE_TTL", 60*time.Second),
			RequestTimeout:     getEnvDuration("ORACLE_REQUEST_TIMEOUT", 5*time.Second),
			GoldSources:        DefaultGoldSources(),
			SettlementSources:  DefaultSettlementSources(),
			GoldFallback:       decimal.RequireFromString("2023.45"),
			SettlementFallback: decimal.RequireFromString("20.00"),
		},
		Policy: pricing.DefaultPolicy(),
		Sweeper: SweeperConfig{
			Interval:          getEnvDuration("SWEEP_INTERVAL", 30*time.Second),
			ProcessingTimeout: getEnvDuration("SWEEP_PROCESSING_TIMEOUT", 10*time.Minute),
			PendingGrace:      getEnvDuration("SWEEP_PENDING_GRACE", 5*time.Minute),
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: getEnvFloat("QUOTE_RATE_PER_MINUTE", 60),
			Burst:             getEnvInt("QUOTE_RATE_BURST", 10),
			TrustedProxies:    getEnvList("TRUSTED_PROXIES"),
		},
	}

	policyFile := getEnv("POLICY_FILE", defaultPolicyFile)
	if err := applyPolicyFile(cfg, policyFile); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that every setting the chosen mode depends on is present.
func (c *Config) Validate() error {
	var missing []string

	switch c.Storage {
	case StoragePostgres:
		if c.DbURL == "" {
			missing = append(missing, "DB_URL")
		}
	case StorageMemory:
	default:
		return fmt.Errorf("unknown STORAGE %q", c.Storage)
	}

	if c.Kafka.Enabled && c.Kafka.Broker == "" {
		missing = append(missing, "KAFKA_BROKER")
	}
	if c.Kafka.Enabled && c.Kafka.ClaimLease <= 0 {
		return errors.New("OUTBOX_CLAIM_LEASE must be positive")
	}

	if c.SystemInitialized() {
		if c.Ledger.MintAuthorityKey == "" {
			missing = append(missing, "MINT_AUTHORITY_KEYPAIR")
		}
		if c.Wallets.Treasury == "" {
			missing = append(missing, "TREASURY_WALLET")
		}
		if c.Wallets.Profit == "" {
			missing = append(missing, "PROFIT_WALLET")
		}
		if c.Wallets.TransactionFee == "" {
			missing = append(missing, "TRANSACTION_FEE_WALLET")
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}

	if err := c.Policy.Validate(); err != nil {
		return fmt.Errorf("invalid exchange policy: %w", err)
	}
	if !c.Oracle.GoldFallback.IsPositive() || !c.Oracle.SettlementFallback.IsPositive() {
		return errors.New("oracle fallback prices must be positive")
	}
	if c.Ledger.VerifyTimeout <= 0 {
		return errors.New("VERIFY_TIMEOUT must be positive")
	}
	if _, err := ParseTrustedProxies(c.RateLimit.TrustedProxies); err != nil {
		return err
	}
	if c.Sweeper.ProcessingTimeout <= c.SettleDeadline() {
		return fmt.Errorf("SWEEP_PROCESSING_TIMEOUT %s must exceed the longest settlement %s (VERIFY_INITIAL_DELAY + 2*VERIFY_TIMEOUT + %s)",
			c.Sweeper.ProcessingTimeout, c.SettleDeadline(), settleSlack)
	}

	return nil
}

// SettleDeadline is the longest a confirm can keep a transaction processing:
// one wait for each leg plus the ledger calls around them.
func (c *Config) SettleDeadline() time.Duration {
	return c.Ledger.VerifyInitialDelay + 2*c.Ledger.VerifyTimeout + settleSlack
}

// APIWriteTimeout lets the confirm handler answer after the slowest settlement.
func (c *Config) APIWriteTimeout() time.Duration {
	return c.SettleDeadline() + responseSlack
}

// SystemInitialized reports whether a token mint is configured. Without one
// the service still answers price and balance queries.
func (c *Config) SystemInitialized() bool {
	return c.Ledger.TokenMint != ""
}

// ParseTrustedProxies accepts bare addresses and CIDR prefixes.
func ParseTrustedProxies(entries []string) ([]netip.Prefix, error) {
	prefixes := make([]netip.Prefix, 0, len(entries))
	for _, entry := range entries {
		if strings.Contains(entry, "/") {
			prefix, err := netip.ParsePrefix(entry)
			if err != nil {
				return nil, fmt.Errorf("invalid TRUSTED_PROXIES entry %q: %w", entry, err)
			}
			prefixes = append(prefixes, prefix.Masked())
			continue
		}
		addr, err := netip.ParseAddr(entry)
		if err != nil {
			return nil, fmt.Errorf("invalid TRUSTED_PROXIES entry %q: %w", entry, err)
		}
		addr = addr.Unmap()
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return prefixes, nil
}

func DefaultGoldSources() []SourceConfig {
	return []SourceConfig{
		{Name: "coingecko", Kind: "coingecko", URL: "https://api.coingecko.com/api/v3/simple/price", CoinID: "pax-gold"},
		{Name: "metals-live", Kind: "metals_live", URL: "https://api.metals.live/v1/spot/gold"},
	}
}

func DefaultSettlementSources() []SourceConfig {
	return []SourceConfig{
		{Name: "coingecko", Kind: "coingecko", URL: "https://api.coingecko.com/api/v3/simple/price", CoinID: "solana"},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
