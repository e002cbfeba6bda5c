// Package config loads and validates the keeper's runtime settings.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures the runtime settings for the cage keeper daemon.
type Config struct {
	RPC        RPCConfig        `yaml:"rpc"`
	Signer     SignerConfig     `yaml:"signer"`
	ChainID    int64            `yaml:"chain_id"`
	Deployment DeploymentConfig `yaml:"deployment"`

	// PreviousCage marks that a prior run already performed the facilitation
	// phase, skipping straight to thaw-timing checks.
	PreviousCage bool `yaml:"previous_cage"`

	PSM        PSMConfig        `yaml:"psm"`
	UrnHistory UrnHistoryConfig `yaml:"urn_history"`
	Gas        GasConfig        `yaml:"gas"`

	// MaxErrors is the error-budget ceiling; reaching it terminates the
	// keeper in an orderly fashion.
	MaxErrors int `yaml:"max_errors"`

	PollIntervalSeconds int    `yaml:"poll_interval_seconds"`
	MetricsListen       string `yaml:"metrics_listen"`
}

// RPCConfig describes the node connection.
type RPCConfig struct {
	URL            string `yaml:"url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// SignerConfig describes the transaction-signing credentials: either a raw
// hex key or a keystore file with its passphrase file.
type SignerConfig struct {
	KeyHex         string `yaml:"key_hex"`
	KeystoreFile   string `yaml:"keystore_file"`
	PassphraseFile string `yaml:"passphrase_file"`
}

// DeploymentConfig points at the protocol address book.
type DeploymentConfig struct {
	File string `yaml:"file"`
}

// PSMConfig optionally includes a stablecoin-peg module in the thaw
// sequence.
type PSMConfig struct {
	Ilk     string `yaml:"ilk"`
	Address string `yaml:"address"`
}

// UrnHistoryConfig selects the position-history source. When Endpoint is set
// the remote indexed service is used; otherwise history is replayed from
// chain logs, checkpointed at CachePath when provided.
type UrnHistoryConfig struct {
	Endpoint          string  `yaml:"endpoint"`
	APIKey            string  `yaml:"api_key"`
	CachePath         string  `yaml:"cache_path"`
	ChunkSize         uint64  `yaml:"chunk_size"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

// GasConfig tunes the gas price strategy.
type GasConfig struct {
	InitialMultiplier  float64 `yaml:"initial_multiplier"`
	ReactiveMultiplier float64 `yaml:"reactive_multiplier"`
	MaximumGwei        int64   `yaml:"maximum_gwei"`
}

// Load reads the YAML configuration from disk and validates the result.
func Load(path string) (Config, error) {
	cfg := defaults()
	if path == "" {
		return cfg, fmt.Errorf("config path required")
	}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	if err := decoder.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func defaults() Config {
	return Config{
		RPC: RPCConfig{
			URL:            "http://localhost:8545",
			TimeoutSeconds: 60,
		},
		Gas: GasConfig{
			InitialMultiplier:  1.0,
			ReactiveMultiplier: 2.25,
			MaximumGwei:        5000,
		},
		UrnHistory: UrnHistoryConfig{
			ChunkSize:         20_000,
			RequestsPerSecond: 4,
		},
		MaxErrors:           100,
		PollIntervalSeconds: 13,
		MetricsListen:       ":9090",
	}
}

// RPCTimeout returns the node request timeout as a duration.
func (cfg Config) RPCTimeout() time.Duration {
	return time.Duration(cfg.RPC.TimeoutSeconds) * time.Second
}

// PollInterval returns the block polling cadence as a duration.
func (cfg Config) PollInterval() time.Duration {
	return time.Duration(cfg.PollIntervalSeconds) * time.Second
}

func (cfg *Config) normalize() {
	if cfg == nil {
		return
	}
	cfg.RPC.URL = strings.TrimSpace(cfg.RPC.URL)
	cfg.Signer.KeyHex = strings.TrimSpace(cfg.Signer.KeyHex)
	cfg.Signer.KeystoreFile = strings.TrimSpace(cfg.Signer.KeystoreFile)
	cfg.Signer.PassphraseFile = strings.TrimSpace(cfg.Signer.PassphraseFile)
	cfg.Deployment.File = strings.TrimSpace(cfg.Deployment.File)
	cfg.PSM.Ilk = strings.TrimSpace(cfg.PSM.Ilk)
	cfg.PSM.Address = strings.TrimSpace(cfg.PSM.Address)
	cfg.UrnHistory.Endpoint = strings.TrimSpace(cfg.UrnHistory.Endpoint)
	cfg.UrnHistory.APIKey = strings.TrimSpace(cfg.UrnHistory.APIKey)
	cfg.UrnHistory.CachePath = strings.TrimSpace(cfg.UrnHistory.CachePath)
	cfg.MetricsListen = strings.TrimSpace(cfg.MetricsListen)
	if cfg.MetricsListen == "" {
		cfg.MetricsListen = ":9090"
	}
	if cfg.RPC.TimeoutSeconds <= 0 {
		cfg.RPC.TimeoutSeconds = 60
	}
	if cfg.PollIntervalSeconds <= 0 {
		cfg.PollIntervalSeconds = 13
	}
	if cfg.UrnHistory.ChunkSize == 0 {
		cfg.UrnHistory.ChunkSize = 20_000
	}
	if cfg.UrnHistory.RequestsPerSecond <= 0 {
		cfg.UrnHistory.RequestsPerSecond = 4
	}
	if cfg.Gas.InitialMultiplier <= 0 {
		cfg.Gas.InitialMultiplier = 1.0
	}
	if cfg.Gas.ReactiveMultiplier <= 0 {
		cfg.Gas.ReactiveMultiplier = 2.25
	}
}

func (cfg *Config) validate() error {
	if cfg == nil {
		return fmt.Errorf("configuration is missing")
	}
	if cfg.RPC.URL == "" {
		return fmt.Errorf("rpc: url is required")
	}
	if cfg.Deployment.File == "" {
		return fmt.Errorf("deployment: file is required")
	}
	if err := cfg.Signer.validate(); err != nil {
		return fmt.Errorf("signer: %w", err)
	}
	if err := cfg.PSM.validate(); err != nil {
		return fmt.Errorf("psm: %w", err)
	}
	if cfg.MaxErrors <= 0 {
		return fmt.Errorf("max_errors must be positive")
	}
	return nil
}

func (cfg SignerConfig) validate() error {
	hasKey := cfg.KeyHex != ""
	hasKeystore := cfg.KeystoreFile != ""
	if hasKey == hasKeystore {
		return fmt.Errorf("exactly one of key_hex or keystore_file must be set")
	}
	if hasKeystore && cfg.PassphraseFile == "" {
		return fmt.Errorf("keystore_file requires passphrase_file")
	}
	return nil
}

// Enabled reports whether a peg module is configured.
func (cfg PSMConfig) Enabled() bool {
	return cfg.Ilk != "" || cfg.Address != ""
}

func (cfg PSMConfig) validate() error {
	if cfg.Enabled() && (cfg.Ilk == "" || cfg.Address == "") {
		return fmt.Errorf("both ilk and address must be set")
	}
	return nil
}
