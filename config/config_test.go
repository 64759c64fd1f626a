package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"paygate/crypto"
)

func validConfig() *Config {
	cfg := defaultConfig()
	cfg.PlatformAccount = crypto.FormatAddress([20]byte{0xF0, 0x0D})
	return cfg
}

func TestLoadCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	t.Setenv("PAYGATE_PLATFORM_ACCOUNT", crypto.FormatAddress([20]byte{0xF0, 0x0D}))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:8080", cfg.ListenAddress)
	require.Equal(t, "sqlite", cfg.Indexer.Driver)
	require.FileExists(t, path)

	reloaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg, reloaded)
}

func TestLoadParsesFileAndEnvOverrides(t *testing.T) {
	platform := [20]byte{0x01, 0x02}
	path := filepath.Join(t.TempDir(), "config.toml")
	contents := `ListenAddress = "0.0.0.0:9000"
DataDir = "/var/lib/paygate"
PlatformAccount = "` + crypto.FormatAddress(platform) + `"
LogLevel = "debug"

[indexer]
Driver = "postgres"
DSN = "host=localhost user=paygate dbname=paygate"

[rate_limit]
RequestsPerMinute = 60
Burst = 5

[telemetry]
Endpoint = "otel:4318"
Traces = true
SampleRatio = 0.5
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	t.Setenv("PAYGATE_LISTEN_ADDRESS", "0.0.0.0:9100")
	t.Setenv("PAYGATE_RATE_LIMIT_BURST", "9")
	t.Setenv("PAYGATE_RATE_LIMIT_TRUSTED_PROXIES", "10.0.0.1,172.16.0.0/12")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "0.0.0.0:9100", cfg.ListenAddress)
	require.Equal(t, "/var/lib/paygate", cfg.DataDir)
	require.Equal(t, "paygate-local", cfg.NetworkName)
	require.Equal(t, "postgres", cfg.Indexer.Driver)
	require.Equal(t, 60, cfg.RateLimit.RequestsPerMinute)
	require.Equal(t, 9, cfg.RateLimit.Burst)
	require.Equal(t, []string{"10.0.0.1", "172.16.0.0/12"}, cfg.RateLimit.TrustedProxies)
	require.True(t, cfg.Telemetry.Traces)
	require.Equal(t, 0.5, cfg.Telemetry.SampleRatio)

	got, ok, err := cfg.Platform()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, platform, got)
}

func TestLoadRequiresPlatformAccount(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	_, err := Load(path)
	require.ErrorContains(t, err, "PlatformAccount")
	require.FileExists(t, path)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("ListenAddress = \"127.0.0.1:1\"\nDataDir = \"d\"\nBootnodes = []\n"), 0o600))
	_, err := Load(path)
	require.Error(t, err)
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "missing listen address", mutate: func(c *Config) { c.ListenAddress = "" }},
		{name: "bad listen address", mutate: func(c *Config) { c.ListenAddress = "nope" }},
		{name: "unknown driver", mutate: func(c *Config) { c.Indexer.Driver = "mysql" }},
		{name: "bad log level", mutate: func(c *Config) { c.LogLevel = "loud" }},
		{name: "missing platform", mutate: func(c *Config) { c.PlatformAccount = "" }},
		{name: "blank platform", mutate: func(c *Config) { c.PlatformAccount = "   " }},
		{name: "bad platform", mutate: func(c *Config) { c.PlatformAccount = "pay1invalid" }},
		{name: "bad trusted proxy", mutate: func(c *Config) { c.RateLimit.TrustedProxies = []string{"proxy.local"} }},
		{name: "burst missing", mutate: func(c *Config) { c.RateLimit.Burst = 0 }},
		{name: "sample ratio", mutate: func(c *Config) { c.Telemetry.SampleRatio = 1.5 }},
	}
	require.NoError(t, ValidateConfig(validConfig()))
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(cfg)
			require.Error(t, ValidateConfig(cfg))
		})
	}
}
