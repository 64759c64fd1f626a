package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v6"
)

// EnvPrefix is prepended to every environment override.
const EnvPrefix = "PAYGATE_"

type Config struct {
	ListenAddress   string `toml:"ListenAddress" env:"LISTEN_ADDRESS" validate:"required,hostname_port"`
	DataDir         string `toml:"DataDir" env:"DATA_DIR" validate:"required"`
	NetworkName     string `toml:"NetworkName" env:"NETWORK_NAME"`
	Environment     string `toml:"Environment" env:"ENVIRONMENT"`
	LogLevel        string `toml:"LogLevel" env:"LOG_LEVEL" validate:"omitempty,oneof=debug info warn error"`
	LogFile         string `toml:"LogFile" env:"LOG_FILE"`
	PlatformAccount string `toml:"PlatformAccount" env:"PLATFORM_ACCOUNT" validate:"required"`
	GenesisFile     string `toml:"GenesisFile" env:"GENESIS_FILE"`

	Indexer   Indexer   `toml:"indexer" envPrefix:"INDEXER_"`
	RateLimit RateLimit `toml:"rate_limit" envPrefix:"RATE_LIMIT_"`
	Telemetry Telemetry `toml:"telemetry" envPrefix:"TELEMETRY_"`
}

// Indexer selects the database backing the read model.
type Indexer struct {
	Driver string `toml:"Driver" env:"DRIVER" validate:"oneof=sqlite postgres"`
	DSN    string `toml:"DSN" env:"DSN" validate:"required"`
}

// RateLimit bounds transaction submissions per client address. Forwarding
// headers count only from TrustedProxies.
type RateLimit struct {
	RequestsPerMinute int      `toml:"RequestsPerMinute" env:"REQUESTS_PER_MINUTE" validate:"gte=0"`
	Burst             int      `toml:"Burst" env:"BURST" validate:"gte=0"`
	TrustedProxies    []string `toml:"TrustedProxies" env:"TRUSTED_PROXIES" envSeparator:"," validate:"dive,ip|cidr"`
}

// Telemetry configures the OpenTelemetry exporters.
type Telemetry struct {
	Endpoint    string  `toml:"Endpoint" env:"ENDPOINT"`
	Headers     string  `toml:"Headers" env:"HEADERS"`
	Insecure    bool    `toml:"Insecure" env:"INSECURE"`
	Traces      bool    `toml:"Traces" env:"TRACES"`
	Metrics     bool    `toml:"Metrics" env:"METRICS"`
	SampleRatio float64 `toml:"SampleRatio" env:"SAMPLE_RATIO" validate:"gte=0,lte=1"`
}

// Load loads the configuration from the given path, creating a default file
// when none exists, then applies PAYGATE_* environment overrides and
// validates the result.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg, err = createDefault(path)
		if err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	} else {
		meta, err := toml.DecodeFile(path, cfg)
		if err != nil {
			return nil, err
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("config file %s has unknown key %q", path, undecoded[0].String())
		}
	}

	if err := env.Parse(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("apply environment overrides: %w", err)
	}
	cfg.applyDefaults()
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.NetworkName) == "" {
		c.NetworkName = "paygate-local"
	}
	if strings.TrimSpace(c.Indexer.Driver) == "" {
		c.Indexer.Driver = "sqlite"
	}
	if strings.TrimSpace(c.Indexer.DSN) == "" && c.Indexer.Driver == "sqlite" {
		c.Indexer.DSN = filepath.Join(c.DataDir, "indexer.db")
	}
}

func defaultConfig() *Config {
	return &Config{
		ListenAddress: "127.0.0.1:8080",
		DataDir:       "./paygate-data",
		NetworkName:   "paygate-local",
		Environment:   "dev",
		LogLevel:      "info",
		Indexer: Indexer{
			Driver: "sqlite",
			DSN:    "./paygate-data/indexer.db",
		},
		RateLimit: RateLimit{
			RequestsPerMinute: 120,
			Burst:             20,
		},
	}
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := defaultConfig()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
