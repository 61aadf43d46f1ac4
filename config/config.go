package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Mixer    MixerConfig    `mapstructure:"mixer"`
	Ledger   LedgerConfig   `mapstructure:"ledger"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Log      LogConfig      `mapstructure:"log"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // debug, release, test
}

// MixerConfig tunes the mixing engine. Decimal values are kept as strings
// so they never pass through float64.
type MixerConfig struct {
	FeeRate       string        `mapstructure:"fee_rate"`
	MintAmount    string        `mapstructure:"mint_amount"`     // Coins created by a two-token send; with the remote ledger, what /create credits
	MaxShareDelay time.Duration `mapstructure:"max_share_delay"` // Upper bound of the delay before each deferred share
	SplitMin      int           `mapstructure:"split_min"`       // Remote ledger only
	SplitMax      int           `mapstructure:"split_max"`       // Remote ledger only
	SettleTimeout time.Duration `mapstructure:"settle_timeout"`  // How long shutdown waits for deferred shares
}

// FeeRateDecimal parses the fee rate and checks it lies in [0, 1).
func (m MixerConfig) FeeRateDecimal() (decimal.Decimal, error) {
	rate, err := decimal.NewFromString(m.FeeRate)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parsing fee rate %q: %w", m.FeeRate, err)
	}
	if rate.IsNegative() || rate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return decimal.Zero, fmt.Errorf("fee rate %s outside [0, 1)", rate)
	}
	return rate, nil
}

// MintAmountDecimal parses the amount minted by a sender-less send.
func (m MixerConfig) MintAmountDecimal() (decimal.Decimal, error) {
	amount, err := decimal.NewFromString(m.MintAmount)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parsing mint amount %q: %w", m.MintAmount, err)
	}
	if amount.IsNegative() {
		return decimal.Zero, fmt.Errorf("mint amount %s is negative", amount)
	}
	return amount, nil
}

// LedgerConfig points the delegated mixer at a remote ledger API.
type LedgerConfig struct {
	Enabled bool          `mapstructure:"enabled"` // Mix through the remote ledger instead of in memory
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// DatabaseConfig configures the optional PostgreSQL transaction journal.
type DatabaseConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

// RedisConfig configures the optional Redis used for rate limiting and idempotency.
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Addr returns the Redis address string.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Pretty bool   `mapstructure:"pretty"` // human-readable output (dev only)
}

// Load reads configuration from file and environment variables.
// Environment variables override file values. Prefix: MIX_.
// Nested keys use underscore: MIX_MIXER_FEE_RATE, MIX_REDIS_ENABLED, etc.
func Load(path string) (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("mixer.fee_rate", "0.02")
	v.SetDefault("mixer.mint_amount", "50")
	v.SetDefault("mixer.max_share_delay", "2500ms")
	v.SetDefault("mixer.split_min", 2)
	v.SetDefault("mixer.split_max", 6)
	v.SetDefault("mixer.settle_timeout", "5s")
	v.SetDefault("ledger.enabled", false)
	v.SetDefault("ledger.base_url", "http://bitcoinz.gemini.com/iodine-defrost")
	v.SetDefault("ledger.timeout", "10s")
	v.SetDefault("database.enabled", false)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "coin_mixer")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	// File config
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	// Environment variables: MIX_MIXER_FEE_RATE -> mixer.fee_rate
	v.SetEnvPrefix("MIX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (optional, env vars can suffice)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects settings the mixer cannot run with.
func (c *Config) Validate() error {
	if _, err := c.Mixer.FeeRateDecimal(); err != nil {
		return fmt.Errorf("mixer config: %w", err)
	}
	if _, err := c.Mixer.MintAmountDecimal(); err != nil {
		return fmt.Errorf("mixer config: %w", err)
	}
	if c.Mixer.MaxShareDelay < 0 {
		return fmt.Errorf("mixer config: max_share_delay must not be negative")
	}
	if c.Mixer.SplitMin < 1 || c.Mixer.SplitMax < c.Mixer.SplitMin {
		return fmt.Errorf("mixer config: split range [%d, %d] is invalid", c.Mixer.SplitMin, c.Mixer.SplitMax)
	}
	if c.Ledger.Enabled && c.Ledger.BaseURL == "" {
		return fmt.Errorf("ledger config: base_url is required when the remote ledger is enabled")
	}
	return nil
}
