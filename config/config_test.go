package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddress != ":8545" {
		t.Fatalf("listen address %q want :8545", cfg.ListenAddress)
	}
	if cfg.OwnerAddress == "" || cfg.RewardsCollector == "" {
		t.Fatalf("default config must generate addresses, got %+v", cfg)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("default config not persisted: %v", err)
	}

	// Loading the file it just wrote round-trips.
	again, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if again.OwnerAddress != cfg.OwnerAddress {
		t.Fatalf("owner address changed across reload")
	}
}

func TestLoadRejectsNegativeRateLimit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	raw := []byte("ListenAddress = \":1\"\nOwnerAddress = \"mars1x\"\nRewardsCollector = \"mars1y\"\nRateLimitPerMinute = -1.0\n")
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected rejection of negative rate limit")
	}
}

const genesisFixture = `
globals:
  close_factor: "0.5"
  target_health_factor: "1.2"
markets:
  - denom: uusd
    max_loan_to_value: "0.8"
    liquidation_threshold: "0.85"
    liquidation_bonus: "0.1"
    deposit_enabled: true
    borrow_enabled: true
    whitelisted: true
    reserve_factor: "0.2"
    interest_model:
      base: 0.02
      slope_1: 0.07
      slope_2: 0.45
      optimal_utilization: 0.8
    price: "1"
`

func TestLoadGenesis(t *testing.T) {
	path := filepath.Join(t.TempDir(), "genesis.yaml")
	if err := os.WriteFile(path, []byte(genesisFixture), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	genesis, err := LoadGenesis(path)
	if err != nil {
		t.Fatalf("load genesis: %v", err)
	}
	if len(genesis.Markets) != 1 {
		t.Fatalf("markets %d want 1", len(genesis.Markets))
	}
	market := genesis.Markets[0]
	if market.Denom != "uusd" || !market.DepositEnabled || market.InterestModel.Slope2 != 0.45 {
		t.Fatalf("unexpected market decode: %+v", market)
	}
	closeFactor, err := ParseRat(genesis.Globals.CloseFactor)
	if err != nil {
		t.Fatalf("parse close factor: %v", err)
	}
	if closeFactor.RatString() != "1/2" {
		t.Fatalf("close factor %s want 1/2", closeFactor.RatString())
	}
}

func TestGenesisValidateRejectsDuplicates(t *testing.T) {
	genesis := &Genesis{
		Globals: GenesisGlobals{CloseFactor: "0.5"},
		Markets: []GenesisMarket{
			{Denom: "uusd", MaxLoanToValue: "0.8", LiquidationThreshold: "0.85", ReserveFactor: "0.2"},
			{Denom: "uusd", MaxLoanToValue: "0.8", LiquidationThreshold: "0.85", ReserveFactor: "0.2"},
		},
	}
	if err := genesis.Validate(); err == nil {
		t.Fatal("expected duplicate market rejection")
	}
}

func TestParseRat(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want string
	}{
		{"0.5", "1/2"},
		{"1/2", "1/2"},
		{"1.25", "5/4"},
	} {
		got, err := ParseRat(tc.in)
		if err != nil {
			t.Fatalf("parse %q: %v", tc.in, err)
		}
		if got.RatString() != tc.want {
			t.Fatalf("parse %q = %s want %s", tc.in, got.RatString(), tc.want)
		}
	}
	if _, err := ParseRat(""); err == nil {
		t.Fatal("expected empty rejection")
	}
	if _, err := ParseRat("abc"); err == nil {
		t.Fatal("expected invalid rejection")
	}
}
