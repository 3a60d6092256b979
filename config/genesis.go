package config

import (
	"fmt"
	"math/big"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Genesis seeds the markets, risk parameters and oracle prices of a fresh
// deployment.
type Genesis struct {
	Globals GenesisGlobals  `yaml:"globals"`
	Markets []GenesisMarket `yaml:"markets"`
}

// GenesisGlobals carries the protocol-wide tunables.
type GenesisGlobals struct {
	CloseFactor        string `yaml:"close_factor"`
	TargetHealthFactor string `yaml:"target_health_factor"`
}

// GenesisMarket describes one listed asset.
type GenesisMarket struct {
	Denom                string  `yaml:"denom"`
	MaxLoanToValue       string  `yaml:"max_loan_to_value"`
	LiquidationThreshold string  `yaml:"liquidation_threshold"`
	LiquidationBonus     string  `yaml:"liquidation_bonus"`
	DepositCap           string  `yaml:"deposit_cap"`
	DepositEnabled       bool    `yaml:"deposit_enabled"`
	BorrowEnabled        bool    `yaml:"borrow_enabled"`
	Whitelisted          bool    `yaml:"whitelisted"`
	ReserveFactor        string  `yaml:"reserve_factor"`
	InterestModel        IRModel `yaml:"interest_model"`
	// Price seeds a fixed oracle source, typically for local networks.
	Price string `yaml:"price"`
}

// IRModel carries the two-slope interest rate curve parameters.
type IRModel struct {
	Base               float64 `yaml:"base"`
	Slope1             float64 `yaml:"slope_1"`
	Slope2             float64 `yaml:"slope_2"`
	OptimalUtilization float64 `yaml:"optimal_utilization"`
}

// LoadGenesis reads and validates the genesis seed at path.
func LoadGenesis(path string) (*Genesis, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read genesis %s: %w", path, err)
	}
	genesis := &Genesis{}
	if err := yaml.Unmarshal(raw, genesis); err != nil {
		return nil, fmt.Errorf("config: decode genesis %s: %w", path, err)
	}
	if err := genesis.Validate(); err != nil {
		return nil, err
	}
	return genesis, nil
}

// Validate checks the seed for malformed numbers before any of it is applied.
func (g *Genesis) Validate() error {
	if g == nil {
		return fmt.Errorf("config: genesis must not be nil")
	}
	if _, err := ParseRat(g.Globals.CloseFactor); err != nil {
		return fmt.Errorf("config: globals close_factor: %w", err)
	}
	seen := make(map[string]struct{}, len(g.Markets))
	for _, market := range g.Markets {
		denom := strings.TrimSpace(market.Denom)
		if denom == "" {
			return fmt.Errorf("config: market denom must not be empty")
		}
		if _, ok := seen[denom]; ok {
			return fmt.Errorf("config: duplicate market %s", denom)
		}
		seen[denom] = struct{}{}
		for field, value := range map[string]string{
			"max_loan_to_value":     market.MaxLoanToValue,
			"liquidation_threshold": market.LiquidationThreshold,
			"reserve_factor":        market.ReserveFactor,
		} {
			if _, err := ParseRat(value); err != nil {
				return fmt.Errorf("config: market %s %s: %w", denom, field, err)
			}
		}
	}
	return nil
}

// ParseRat parses a decimal or fraction string into a rational.
func ParseRat(s string) (*big.Rat, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return nil, fmt.Errorf("value must not be empty")
	}
	r, ok := new(big.Rat).SetString(trimmed)
	if !ok {
		return nil, fmt.Errorf("invalid ratio %q", s)
	}
	return r, nil
}

// ParseOptionalRat parses like ParseRat but maps empty to nil.
func ParseOptionalRat(s string) (*big.Rat, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	return ParseRat(s)
}

// ParseOptionalBig parses a base-10 integer, mapping empty to nil.
func ParseOptionalBig(s string) (*big.Int, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return nil, nil
	}
	v, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	return v, nil
}
