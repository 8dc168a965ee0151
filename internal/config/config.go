// Package config loads and validates creditdesk configuration.
//
// Configuration comes from an optional YAML file plus environment overrides
// (a .env file is honored in development). The loaded Config is immutable by
// convention: it is built once in main and passed into constructors, never
// consulted through globals.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ContractAddresses holds the deployed credit-protocol contract hashes.
type ContractAddresses struct {
	Staking         string `yaml:"staking" env:"CONTRACT_STAKING_HASH"`
	InvoiceRegistry string `yaml:"invoice_registry" env:"CONTRACT_INVOICE_REGISTRY_HASH"`
	LendingPool     string `yaml:"lending_pool" env:"CONTRACT_LENDING_POOL_HASH"`
	Token           string `yaml:"token" env:"CONTRACT_TOKEN_HASH"`
}

// TierThreshold maps a minimum total staked amount (token base units) to a
// collateral tier name. Thresholds must be listed in ascending order.
type TierThreshold struct {
	Tier      string `yaml:"tier"`
	MinStaked int64  `yaml:"min_staked"`
}

// StakeRate defines the APY and loyalty point multiplier earned by a stake of
// a given duration.
type StakeRate struct {
	DurationDays  int `yaml:"duration_days"`
	APYBps        int `yaml:"apy_bps"`
	MultiplierBps int `yaml:"multiplier_bps"` // 10000 = 1.0x
}

// Config is the full creditdesk configuration.
type Config struct {
	RPCURL     string `yaml:"rpc_url" env:"CREDITDESK_RPC_URL"`
	NetworkID  uint32 `yaml:"network_id" env:"CREDITDESK_NETWORK_ID"`
	ListenAddr string `yaml:"listen_addr" env:"CREDITDESK_LISTEN_ADDR"`
	Debug      bool   `yaml:"debug" env:"CREDITDESK_DEBUG"`

	// SignerKeyHex is the hex-encoded private key used to sign submissions.
	// Environment only; never read from the YAML file.
	SignerKeyHex string `yaml:"-" env:"CREDITDESK_SIGNER_KEY"`

	// AuditDSN enables the postgres submission audit trail when non-empty.
	AuditDSN string `yaml:"audit_dsn" env:"CREDITDESK_AUDIT_DSN"`

	Contracts ContractAddresses `yaml:"contracts"`

	// ConfirmTimeout bounds the wait for one step's on-chain confirmation.
	ConfirmTimeout time.Duration `yaml:"confirm_timeout" env:"CREDITDESK_CONFIRM_TIMEOUT"`
	// PollInterval is the application-log polling cadence while waiting.
	PollInterval time.Duration `yaml:"poll_interval" env:"CREDITDESK_POLL_INTERVAL"`
	// ReadTimeout bounds a single RPC read.
	ReadTimeout time.Duration `yaml:"read_timeout" env:"CREDITDESK_READ_TIMEOUT"`

	// ScanWindow bounds the degraded-mode invoice id probe when the
	// registry's owner index is unavailable.
	ScanWindow int `yaml:"scan_window" env:"CREDITDESK_SCAN_WINDOW"`

	// WriteRate / WriteBurst rate-limit submissions per account.
	WriteRate  float64 `yaml:"write_rate" env:"CREDITDESK_WRITE_RATE"`
	WriteBurst int     `yaml:"write_burst" env:"CREDITDESK_WRITE_BURST"`

	Tiers  []TierThreshold `yaml:"tiers"`
	LTVBps map[string]int  `yaml:"ltv_bps"`
	Rates  []StakeRate     `yaml:"stake_rates"`
}

// Default returns the built-in configuration. Contract addresses are empty
// and must come from the file or the environment.
func Default() *Config {
	return &Config{
		RPCURL:         "http://localhost:20332",
		ListenAddr:     ":8090",
		ConfirmTimeout: 45 * time.Second,
		PollInterval:   2 * time.Second,
		ReadTimeout:    15 * time.Second,
		ScanWindow:     50,
		WriteRate:      1,
		WriteBurst:     3,
		Tiers: []TierThreshold{
			{Tier: "bronze", MinStaked: 1_000},
			{Tier: "silver", MinStaked: 5_000},
			{Tier: "gold", MinStaked: 20_000},
			{Tier: "diamond", MinStaked: 100_000},
		},
		LTVBps: map[string]int{
			"bronze":  6000,
			"silver":  7000,
			"gold":    8000,
			"diamond": 9000,
		},
		Rates: []StakeRate{
			{DurationDays: 90, APYBps: 800, MultiplierBps: 10000},
			{DurationDays: 180, APYBps: 1200, MultiplierBps: 15000},
			{DurationDays: 365, APYBps: 1800, MultiplierBps: 20000},
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file at path,
// and environment overrides, in that order.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	// Absent variables leave the file/default values in place; envdecode
	// reports a sentinel when nothing in the environment matched at all.
	if err := envdecode.Decode(cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks internal consistency of the configuration.
func (c *Config) Validate() error {
	if c.RPCURL == "" {
		return fmt.Errorf("rpc_url is required")
	}
	if c.ConfirmTimeout <= 0 {
		return fmt.Errorf("confirm_timeout must be positive")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive")
	}
	if c.ScanWindow <= 0 {
		return fmt.Errorf("scan_window must be positive")
	}
	prev := int64(-1)
	for _, t := range c.Tiers {
		if t.MinStaked <= prev {
			return fmt.Errorf("tier thresholds must be strictly ascending, got %d after %d", t.MinStaked, prev)
		}
		prev = t.MinStaked
		if _, ok := c.LTVBps[t.Tier]; !ok {
			return fmt.Errorf("tier %q has no ltv_bps entry", t.Tier)
		}
	}
	for tier, bps := range c.LTVBps {
		if bps < 0 || bps > 10000 {
			return fmt.Errorf("ltv_bps for %q out of range: %d", tier, bps)
		}
	}
	for _, r := range c.Rates {
		if r.DurationDays <= 0 {
			return fmt.Errorf("stake rate duration must be positive, got %d", r.DurationDays)
		}
	}
	return nil
}
