package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

// Config holds all configuration for the service
type Config struct {
	Env       string          `mapstructure:"env"`
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"db"`
	Chain     ChainConfig     `mapstructure:"chain"`
	Worker    WorkerConfig    `mapstructure:"worker"`
	Messaging MessagingConfig `mapstructure:"amqp"`
	Genesis   GenesisConfig   `mapstructure:"genesis"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// DatabaseConfig holds PostgreSQL configuration. The run journal is
// disabled when Host is empty.
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"name"`
	SSLMode  string `mapstructure:"ssl_mode"`
}

// Enabled reports whether a database is configured
func (d DatabaseConfig) Enabled() bool {
	return d.Host != ""
}

// ChainConfig holds the execution host configuration
type ChainConfig struct {
	Backend  string `mapstructure:"backend"` // "memdb" or "goleveldb"
	DataDir  string `mapstructure:"data_dir"`
	GasLimit uint64 `mapstructure:"gas_limit"` // per transaction
	// EpochSchedule advances the epoch by one on every tick. Empty leaves
	// epochs to the API.
	EpochSchedule string `mapstructure:"epoch_schedule"`
}

// WorkerConfig holds the batch worker configuration
type WorkerConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Schedule       string        `mapstructure:"schedule"` // cron spec
	Jobs           []string      `mapstructure:"jobs"`     // "<subscriber>:<index>[:mex]"
	MaxCallsPerRun int           `mapstructure:"max_calls_per_run"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryBackoff   time.Duration `mapstructure:"retry_backoff"`
	QueueSize      int           `mapstructure:"queue_size"`
}

// MessagingConfig holds the event publisher configuration. Events are only
// logged when URL is empty.
type MessagingConfig struct {
	URL      string `mapstructure:"url"`
	Exchange string `mapstructure:"exchange"`
}

// GenesisConfig describes the devnet the node deploys on first start
type GenesisConfig struct {
	Owner  string   `mapstructure:"owner"`  // account seed
	Admins []string `mapstructure:"admins"` // account seeds

	StableToken    string `mapstructure:"stable_token"`
	WrappedToken   string `mapstructure:"wrapped_token"`
	MexToken       string `mapstructure:"mex_token"`
	LockedMexToken string `mapstructure:"locked_mex_token"`
	RewardToken    string `mapstructure:"reward_token"`

	MinUserDepositValue int64  `mapstructure:"min_user_deposit_value"`
	MaxUserDeposits     uint64 `mapstructure:"max_user_deposits"`
	MaxPendingServices  uint64 `mapstructure:"max_pending_services"`
	MaxServiceInfoNo    uint64 `mapstructure:"max_service_info_no"`
	EnergyThreshold     int64  `mapstructure:"energy_threshold"`

	// Pool reserves, in token units
	WrappedStableReserve int64 `mapstructure:"wrapped_stable_reserve"`
	StableReserve        int64 `mapstructure:"stable_reserve"`
	WrappedMexReserve    int64 `mapstructure:"wrapped_mex_reserve"`
	MexReserve           int64 `mapstructure:"mex_reserve"`

	LockEpochs         uint64 `mapstructure:"lock_epochs"`
	LockPercentage     uint32 `mapstructure:"lock_percentage"`
	FeesPercentage     uint32 `mapstructure:"fees_percentage"`
	BurnPercentage     uint32 `mapstructure:"burn_percentage"`
	NormalFee          int64  `mapstructure:"normal_fee"`
	PremiumFee         int64  `mapstructure:"premium_fee"`
	MetabondingKey     string `mapstructure:"metabonding_key"`     // hex secp256k1 key
	SubscriptionEpochs uint64 `mapstructure:"subscription_epochs"`
}

var defaults = map[string]any{
	"env":                            "development",
	"server.port":                    8080,
	"db.host":                        "",
	"db.port":                        5432,
	"db.user":                        "postgres",
	"db.password":                    "postgres",
	"db.name":                        "subfee",
	"db.ssl_mode":                    "disable",
	"chain.backend":                  "memdb",
	"chain.data_dir":                 "",
	"chain.gas_limit":                uint64(600_000_000),
	"chain.epoch_schedule":           "",
	"worker.enabled":                 true,
	"worker.schedule":                "@every 1m",
	"worker.jobs":                    []string{},
	"worker.max_calls_per_run":       20,
	"worker.max_retries":             3,
	"worker.retry_backoff":           5 * time.Second,
	"worker.queue_size":              100,
	"amqp.url":                       "",
	"amqp.exchange":                  "subfee.events",
	"genesis.owner":                  "owner",
	"genesis.admins":                 []string{"keeper"},
	"genesis.stable_token":           "USDC-c76f1f",
	"genesis.wrapped_token":          "WEGLD-bd4d79",
	"genesis.mex_token":              "MEX-455c57",
	"genesis.locked_mex_token":       "XMEX-fda355",
	"genesis.reward_token":           "RWD-a1b2c3",
	"genesis.min_user_deposit_value": int64(0),
	"genesis.max_user_deposits":      uint64(10),
	"genesis.max_pending_services":   uint64(10),
	"genesis.max_service_info_no":    uint64(10),
	"genesis.energy_threshold":       int64(1_000_000),
	"genesis.wrapped_stable_reserve": int64(1_000_000),
	"genesis.stable_reserve":         int64(40_000_000),
	"genesis.wrapped_mex_reserve":    int64(1_000_000),
	"genesis.mex_reserve":            int64(1_000_000_000),
	"genesis.lock_epochs":            uint64(1_440),
	"genesis.lock_percentage":        uint32(9_000),
	"genesis.fees_percentage":        uint32(800),
	"genesis.burn_percentage":        uint32(200),
	"genesis.normal_fee":             int64(10),
	"genesis.premium_fee":            int64(15),
	"genesis.metabonding_key":        "",
	"genesis.subscription_epochs":    uint64(1),
}

// LoadConfig loads configuration from environment variables. A key such as
// worker.max_retries is read from WORKER_MAX_RETRIES.
func LoadConfig() (*Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	switch c.Chain.Backend {
	case "memdb":
	case "goleveldb":
		if c.Chain.DataDir == "" {
			return fmt.Errorf("chain data dir is required for the goleveldb backend")
		}
	default:
		return fmt.Errorf("unknown chain backend %q", c.Chain.Backend)
	}

	if c.Chain.EpochSchedule != "" {
		if _, err := cron.ParseStandard(c.Chain.EpochSchedule); err != nil {
			return fmt.Errorf("invalid epoch schedule: %w", err)
		}
	}

	if c.Worker.Enabled {
		if _, err := cron.ParseStandard(c.Worker.Schedule); err != nil {
			return fmt.Errorf("invalid worker schedule: %w", err)
		}
		if c.Worker.MaxCallsPerRun <= 0 {
			return fmt.Errorf("worker max calls per run must be positive")
		}
		if c.Worker.QueueSize <= 0 {
			return fmt.Errorf("worker queue size must be positive")
		}
	}

	if c.Genesis.Owner == "" {
		return fmt.Errorf("genesis owner is required")
	}
	if c.Genesis.MaxUserDeposits == 0 || c.Genesis.MaxPendingServices == 0 || c.Genesis.MaxServiceInfoNo == 0 {
		return fmt.Errorf("genesis limits must be positive")
	}
	if c.Genesis.NormalFee <= 0 {
		return fmt.Errorf("genesis normal fee must be positive")
	}
	if c.Genesis.PremiumFee != 0 && c.Genesis.PremiumFee < c.Genesis.NormalFee {
		return fmt.Errorf("genesis premium fee cannot be below the normal fee")
	}
	if c.Genesis.SubscriptionEpochs == 0 {
		return fmt.Errorf("genesis subscription epochs must be positive")
	}
	if sum := c.Genesis.LockPercentage + c.Genesis.FeesPercentage + c.Genesis.BurnPercentage; sum != 10_000 {
		return fmt.Errorf("genesis percentages add up to %d, expected 10000", sum)
	}

	return nil
}
