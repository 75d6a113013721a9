package config

import (
	"errors"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port             string        `mapstructure:"PORT"`
	DBPath           string        `mapstructure:"DB_PATH"`
	JWTSecret        string        `mapstructure:"JWT_SECRET"`
	OrderExpiry      time.Duration `mapstructure:"ORDER_EXPIRY"`
	SweepInterval    time.Duration `mapstructure:"SWEEP_INTERVAL"`
	SnapshotPeriod   time.Duration `mapstructure:"SNAPSHOT_PERIOD"`
	DefaultTickSize  float64       `mapstructure:"DEFAULT_TICK_SIZE"`
	MaxBookLevels    int           `mapstructure:"MAX_BOOK_LEVELS"`
	AcceptRetries    int           `mapstructure:"ACCEPT_RETRIES"`
	AcceptRetryDelay time.Duration `mapstructure:"ACCEPT_RETRY_DELAY"`
}

// Load reads configuration from config.yaml if present, with environment
// variables taking precedence. Every key has a working default so the
// server can start with no config at all.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8080")
	v.SetDefault("DB_PATH", "exchange.db")
	v.SetDefault("JWT_SECRET", "fallen-empire-secret")
	v.SetDefault("ORDER_EXPIRY", 30*24*time.Hour)
	v.SetDefault("SWEEP_INTERVAL", 5*time.Minute)
	v.SetDefault("SNAPSHOT_PERIOD", time.Hour)
	v.SetDefault("DEFAULT_TICK_SIZE", 0.05)
	v.SetDefault("MAX_BOOK_LEVELS", 25)
	v.SetDefault("ACCEPT_RETRIES", 3)
	v.SetDefault("ACCEPT_RETRY_DELAY", 25*time.Millisecond)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}
