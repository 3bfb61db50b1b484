package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"

	"gigescrow/native/orders"
)

// JWTSecretEnv names the environment variable that overrides auth.hmac_secret.
const JWTSecretEnv = "ESCROWD_JWT_SECRET"

// Duration wraps time.Duration to support YAML and TOML unmarshalling.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	return d.UnmarshalText([]byte(value.Value))
}

// UnmarshalText parses human readable duration strings for TOML documents.
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// Config captures runtime configuration for escrowd.
type Config struct {
	ListenAddress string        `yaml:"listen" toml:"listen"`
	Environment   string        `yaml:"env" toml:"env"`
	Storage       StorageConfig `yaml:"storage" toml:"storage"`
	Journal       JournalConfig `yaml:"journal" toml:"journal"`
	Custody       CustodyConfig `yaml:"custody" toml:"custody"`
	Orders        OrdersConfig  `yaml:"orders" toml:"orders"`
	Access        AccessConfig  `yaml:"access" toml:"access"`
	Auth          AuthConfig    `yaml:"auth" toml:"auth"`
	RateLimit     RateLimit     `yaml:"rate_limit" toml:"rate_limit"`
	Recon         ReconConfig   `yaml:"recon" toml:"recon"`
	Logging       LoggingConfig `yaml:"logging" toml:"logging"`
}

// StorageConfig selects the key-value engine backing the ledger and order records.
type StorageConfig struct {
	Engine string `yaml:"engine" toml:"engine"`
	Path   string `yaml:"path" toml:"path"`
}

// JournalConfig points at the relational event journal. DSNs starting with
// postgres:// select the Postgres driver, anything else is a sqlite path.
type JournalConfig struct {
	DSN string `yaml:"dsn" toml:"dsn"`
}

// CustodyConfig identifies the vault account that holds escrowed funds.
type CustodyConfig struct {
	Vault string `yaml:"vault" toml:"vault"`
}

// OrdersConfig seeds the order engine on first start.
type OrdersConfig struct {
	FeePercent             uint64   `yaml:"fee_percent" toml:"fee_percent"`
	FeeReceiver            string   `yaml:"fee_receiver" toml:"fee_receiver"`
	PaymentTokens          []string `yaml:"payment_tokens" toml:"payment_tokens"`
	MigrateContractorIndex bool     `yaml:"migrate_contractor_index" toml:"migrate_contractor_index"`
}

// AccessConfig lists identities granted roles at boot.
type AccessConfig struct {
	Admins       []string `yaml:"admins" toml:"admins"`
	Adjudicators []string `yaml:"adjudicators" toml:"adjudicators"`
}

// AuthConfig tunes bearer token validation.
type AuthConfig struct {
	HMACSecret string   `yaml:"hmac_secret" toml:"hmac_secret"`
	Issuer     string   `yaml:"issuer" toml:"issuer"`
	Audience   string   `yaml:"audience" toml:"audience"`
	ClockSkew  Duration `yaml:"clock_skew" toml:"clock_skew"`
}

// RateLimit bounds requests per client.
type RateLimit struct {
	RequestsPerMinute float64 `yaml:"requests_per_minute" toml:"requests_per_minute"`
	Burst             int     `yaml:"burst" toml:"burst"`
}

// ReconConfig schedules the custody reconciliation report.
type ReconConfig struct {
	OutputDir string `yaml:"output_dir" toml:"output_dir"`
	RunHour   int    `yaml:"run_hour" toml:"run_hour"`
	RunMinute int    `yaml:"run_minute" toml:"run_minute"`
	Disabled  bool   `yaml:"disabled" toml:"disabled"`
}

// LoggingConfig mirrors logging.Options.
type LoggingConfig struct {
	Level      string `yaml:"level" toml:"level"`
	File       string `yaml:"file" toml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" toml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" toml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days" toml:"max_age_days"`
}

// Load reads configuration from the supplied path. Files ending in .toml are
// decoded as TOML, everything else as YAML.
func Load(path string) (Config, error) {
	cfg := Config{}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.NewDecoder(file).Decode(&cfg); err != nil {
			return cfg, fmt.Errorf("decode config: %w", err)
		}
	} else {
		if err := yaml.NewDecoder(file).Decode(&cfg); err != nil {
			return cfg, fmt.Errorf("decode config: %w", err)
		}
	}
	if secret := strings.TrimSpace(os.Getenv(JWTSecretEnv)); secret != "" {
		cfg.Auth.HMACSecret = secret
	}
	applyDefaults(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":7081"
	}
	if cfg.Environment == "" {
		cfg.Environment = "dev"
	}
	if cfg.Storage.Engine == "" {
		cfg.Storage.Engine = "leveldb"
	}
	if cfg.Storage.Path == "" && cfg.Storage.Engine != "memory" {
		cfg.Storage.Path = "/var/data/escrowd/state"
	}
	if cfg.Journal.DSN == "" {
		cfg.Journal.DSN = "/var/data/escrowd/journal.sqlite"
	}
	if cfg.Auth.ClockSkew.Duration == 0 {
		cfg.Auth.ClockSkew.Duration = 2 * time.Minute
	}
	if cfg.RateLimit.RequestsPerMinute == 0 {
		cfg.RateLimit.RequestsPerMinute = 600
	}
	if cfg.RateLimit.Burst == 0 {
		cfg.RateLimit.Burst = 50
	}
	if cfg.Recon.OutputDir == "" {
		cfg.Recon.OutputDir = "/var/data/escrowd/recon"
	}
	if cfg.Logging.MaxSizeMB == 0 {
		cfg.Logging.MaxSizeMB = 100
	}
}

func validate(cfg Config) error {
	if strings.TrimSpace(cfg.Auth.HMACSecret) == "" {
		return fmt.Errorf("auth secret must be configured (set %s)", JWTSecretEnv)
	}
	if _, err := ParseAddress(cfg.Custody.Vault); err != nil {
		return fmt.Errorf("custody.vault: %w", err)
	}
	if cfg.Orders.FeePercent > orders.Precision {
		return fmt.Errorf("orders.fee_percent must not exceed %d", orders.Precision)
	}
	if cfg.Orders.FeePercent > 0 {
		if _, err := ParseAddress(cfg.Orders.FeeReceiver); err != nil {
			return fmt.Errorf("orders.fee_receiver: %w", err)
		}
	}
	for _, token := range cfg.Orders.PaymentTokens {
		if _, err := ParseAddress(token); err != nil {
			return fmt.Errorf("orders.payment_tokens: %w", err)
		}
	}
	if len(cfg.Access.Admins) == 0 {
		return fmt.Errorf("at least one admin must be configured")
	}
	for _, list := range [][]string{cfg.Access.Admins, cfg.Access.Adjudicators} {
		for _, member := range list {
			if _, err := ParseAddress(member); err != nil {
				return fmt.Errorf("access: %w", err)
			}
		}
	}
	switch cfg.Storage.Engine {
	case "leveldb", "bolt", "memory":
	default:
		return fmt.Errorf("unknown storage engine %q", cfg.Storage.Engine)
	}
	if cfg.Recon.RunHour < 0 || cfg.Recon.RunHour > 23 || cfg.Recon.RunMinute < 0 || cfg.Recon.RunMinute > 59 {
		return fmt.Errorf("recon run time %02d:%02d out of range", cfg.Recon.RunHour, cfg.Recon.RunMinute)
	}
	return nil
}

// ParseAddress decodes a non-zero hex identity.
func ParseAddress(raw string) (common.Address, error) {
	trimmed := strings.TrimSpace(raw)
	if !common.IsHexAddress(trimmed) {
		return common.Address{}, fmt.Errorf("invalid address %q", raw)
	}
	addr := common.HexToAddress(trimmed)
	if addr == (common.Address{}) {
		return common.Address{}, fmt.Errorf("zero address not allowed")
	}
	return addr, nil
}

// FeeConfig converts the configured fee into the engine representation.
func (c Config) FeeConfig() orders.FeeConfig {
	cfg := orders.FeeConfig{Percent: c.Orders.FeePercent}
	if addr, err := ParseAddress(c.Orders.FeeReceiver); err == nil {
		cfg.Receiver = addr
	}
	return cfg
}

// PaymentTokens returns the configured token allowlist seed.
func (c Config) PaymentTokens() []common.Address {
	return mustAddresses(c.Orders.PaymentTokens)
}

// Admins returns the identities granted the admin role at boot.
func (c Config) Admins() []common.Address { return mustAddresses(c.Access.Admins) }

// Adjudicators returns the identities granted the adjudicator role at boot.
func (c Config) Adjudicators() []common.Address { return mustAddresses(c.Access.Adjudicators) }

// Vault returns the custody vault account.
func (c Config) Vault() common.Address {
	addr, _ := ParseAddress(c.Custody.Vault)
	return addr
}

func mustAddresses(raw []string) []common.Address {
	out := make([]common.Address, 0, len(raw))
	for _, entry := range raw {
		if addr, err := ParseAddress(entry); err == nil {
			out = append(out, addr)
		}
	}
	return out
}
