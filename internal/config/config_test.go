package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, "memdb", cfg.Chain.Backend)
	require.False(t, cfg.Database.Enabled())
	require.Equal(t, 5*time.Second, cfg.Worker.RetryBackoff)
	require.Equal(t, []string{"keeper"}, cfg.Genesis.Admins)
	require.Equal(t, uint32(10_000), cfg.Genesis.LockPercentage+cfg.Genesis.FeesPercentage+cfg.Genesis.BurnPercentage)
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("WORKER_MAX_RETRIES", "7")
	t.Setenv("DB_HOST", "localhost")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, 7, cfg.Worker.MaxRetries)
	require.True(t, cfg.Database.Enabled())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"bad port", func(c *Config) { c.Server.Port = 0 }, "invalid server port"},
		{"leveldb without dir", func(c *Config) { c.Chain.Backend = "goleveldb" }, "data dir"},
		{"unknown backend", func(c *Config) { c.Chain.Backend = "rocks" }, "unknown chain backend"},
		{"bad epoch schedule", func(c *Config) { c.Chain.EpochSchedule = "never" }, "invalid epoch schedule"},
		{"bad worker schedule", func(c *Config) { c.Worker.Schedule = "sometimes" }, "invalid worker schedule"},
		{"disabled worker skips schedule", func(c *Config) {
			c.Worker.Enabled = false
			c.Worker.Schedule = "sometimes"
		}, ""},
		{"no owner", func(c *Config) { c.Genesis.Owner = "" }, "owner is required"},
		{"premium below normal", func(c *Config) { c.Genesis.PremiumFee = 5 }, "premium fee"},
		{"no premium tier", func(c *Config) { c.Genesis.PremiumFee = 0 }, ""},
		{"percentages", func(c *Config) { c.Genesis.BurnPercentage = 0 }, "add up to 9800"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := LoadConfig()
			require.NoError(t, err)

			tt.mutate(cfg)
			err = cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorContains(t, err, tt.wantErr)
		})
	}
}
