// Package config loads the daemon configuration and the market genesis seed.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"marsbank/crypto"
)

// Config carries the daemon settings.
type Config struct {
	ListenAddress    string `toml:"ListenAddress"`
	DataDir          string `toml:"DataDir"`
	GenesisFile      string `toml:"GenesisFile"`
	Environment      string `toml:"Environment"`
	LogFile          string `toml:"LogFile"`
	OwnerAddress     string `toml:"OwnerAddress"`
	RewardsCollector string `toml:"RewardsCollector"`

	// RateLimitPerMinute bounds mutating requests per client address. Zero
	// disables limiting.
	RateLimitPerMinute float64 `toml:"RateLimitPerMinute"`
	RateLimitBurst     int     `toml:"RateLimitBurst"`
}

// Load reads the configuration from path, creating a default file when none
// exists yet.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	applyDefaults(cfg)
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.ListenAddress) == "" {
		cfg.ListenAddress = ":8545"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./mars-data"
	}
	if strings.TrimSpace(cfg.Environment) == "" {
		cfg.Environment = "local"
	}
	if cfg.RateLimitPerMinute > 0 && cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 10
	}
}

func validate(cfg *Config) error {
	if cfg.RateLimitPerMinute < 0 {
		return fmt.Errorf("config: RateLimitPerMinute must not be negative")
	}
	if strings.TrimSpace(cfg.OwnerAddress) == "" {
		return fmt.Errorf("config: OwnerAddress is required")
	}
	if strings.TrimSpace(cfg.RewardsCollector) == "" {
		return fmt.Errorf("config: RewardsCollector is required")
	}
	return nil
}

// createDefault writes a fresh configuration with generated owner and rewards
// addresses so a local node starts without manual setup.
func createDefault(path string) (*Config, error) {
	ownerKey, err := crypto.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}
	rewardsKey, err := crypto.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}
	cfg := &Config{
		ListenAddress:      ":8545",
		DataDir:            "./mars-data",
		GenesisFile:        "",
		Environment:        "local",
		OwnerAddress:       ownerKey.PubKey().Address().String(),
		RewardsCollector:   rewardsKey.PubKey().Address().String(),
		RateLimitPerMinute: 600,
		RateLimitBurst:     10,
	}
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()
	return toml.NewEncoder(file).Encode(cfg)
}
