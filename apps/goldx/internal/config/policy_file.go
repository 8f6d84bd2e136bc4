package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// policyFile is the on-disk shape of exchange.yaml. Every field is optional;
// absent values keep their defaults.
type policyFile struct {
	Policy struct {
		TokenCost           string        `yaml:"token_cost"`
		RedemptionValue     string        `yaml:"redemption_value"`
		QuoteTTL            time.Duration `yaml:"quote_ttl"`
		MinSettlementAmount string        `yaml:"min_settlement_amount"`
		MaxRoundingError    string        `yaml:"max_rounding_error"`
		FeeRates            struct {
			Liquidity   string `yaml:"liquidity"`
			Treasury    string `yaml:"treasury"`
			Profit      string `yaml:"profit"`
			Transaction string `yaml:"transaction"`
		} `yaml:"fee_rates"`
	} `yaml:"policy"`
	Oracle struct {
		GoldFallback       string `yaml:"gold_fallback"`
		SettlementFallback string `yaml:"settlement_fallback"`
		Sources            struct {
			Gold       []SourceConfig `yaml:"gold"`
			Settlement []SourceConfig `yaml:"settlement"`
		} `yaml:"sources"`
	} `yaml:"oracle"`
}

func applyPolicyFile(cfg *Config, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read policy file %s: %w", path, err)
	}

	var file policyFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return fmt.Errorf("failed to parse policy file %s: %w", path, err)
	}

	p := &cfg.Policy
	fields := []struct {
		name  string
		value string
		dest  *decimal.Decimal
	}{
		{"policy.token_cost", file.Policy.TokenCost, &p.TokenCost},
		{"policy.redemption_value", file.Policy.RedemptionValue, &p.RedemptionValue},
		{"policy.min_settlement_amount", file.Policy.MinSettlementAmount, &p.MinSettlementAmount},
		{"policy.max_rounding_error", file.Policy.MaxRoundingError, &p.MaxRoundingError},
		{"policy.fee_rates.liquidity", file.Policy.FeeRates.Liquidity, &p.Rates.Liquidity},
		{"policy.fee_rates.treasury", file.Policy.FeeRates.Treasury, &p.Rates.Treasury},
		{"policy.fee_rates.profit", file.Policy.FeeRates.Profit, &p.Rates.Profit},
		{"policy.fee_rates.transaction", file.Policy.FeeRates.Transaction, &p.Rates.Transaction},
		{"oracle.gold_fallback", file.Oracle.GoldFallback, &cfg.Oracle.GoldFallback},
		{"oracle.settlement_fallback", file.Oracle.SettlementFallback, &cfg.Oracle.SettlementFallback},
	}
	for _, f := range fields {
		if f.value == "" {
			continue
		}
		parsed, err := decimal.NewFromString(f.value)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", f.name, f.value, err)
		}
		*f.dest = parsed
	}

	if file.Policy.QuoteTTL != 0 {
		p.QuoteTTL = file.Policy.QuoteTTL
	}
	if len(file.Oracle.Sources.Gold) > 0 {
		cfg.Oracle.GoldSources = file.Oracle.Sources.Gold
	}
	if len(file.Oracle.Sources.Settlement) > 0 {
		cfg.Oracle.SettlementSources = file.Oracle.Sources.Settlement
	}

	return nil
}
