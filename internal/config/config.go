// Package config loads application configuration and initializes logging.
package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store         StoreConfig         `yaml:"store" mapstructure:"store"`
	Server        ServerConfig        `yaml:"server" mapstructure:"server"`
	Signing       SigningConfig       `yaml:"signing" mapstructure:"signing"`
	S2S           S2SConfig           `yaml:"s2s" mapstructure:"s2s"`
	ReceiptSearch ReceiptSearchConfig `yaml:"receipt_search" mapstructure:"receipt_search"`
	Ladder        LadderConfig        `yaml:"ladder" mapstructure:"ladder"`
	Log           LogConfig           `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the persistence backend.
type StoreConfig struct {
	// Driver is one of "memory", "sqlite", "postgres".
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Port        int     `yaml:"port" mapstructure:"port"`
	PostbackRPS float64 `yaml:"postback_rps" mapstructure:"postback_rps"`
}

// SigningConfig holds the shared secret for tracking-link and postback
// signatures.
type SigningConfig struct {
	Secret string `yaml:"secret" mapstructure:"secret"`
}

// S2SConfig configures the outbound merchant confirmation client.
type S2SConfig struct {
	BaseURL     string `yaml:"base_url" mapstructure:"base_url"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// ReceiptSearchConfig configures the email-receipt search client.
type ReceiptSearchConfig struct {
	BaseURL     string `yaml:"base_url" mapstructure:"base_url"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// LadderConfig configures ladder policy and postback cache maintenance.
type LadderConfig struct {
	PolicyPath        string `yaml:"policy_path" mapstructure:"policy_path"`
	PostbackTTLHours  int    `yaml:"postback_ttl_hours" mapstructure:"postback_ttl_hours"`
	SweepIntervalMins int    `yaml:"sweep_interval_mins" mapstructure:"sweep_interval_mins"`
}

// PostbackTTL returns the configured postback lifetime.
func (c LadderConfig) PostbackTTL() time.Duration {
	return time.Duration(c.PostbackTTLHours) * time.Hour
}

// SweepInterval returns the configured sweep cadence.
func (c LadderConfig) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalMins) * time.Minute
}

// LogConfig configures logging output.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from config.yaml and the environment.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("ATTR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("store.driver", "memory")
	v.SetDefault("store.database_url", "")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.postback_rps", 50)
	v.SetDefault("signing.secret", "")
	v.SetDefault("s2s.base_url", "")
	v.SetDefault("s2s.timeout_secs", 15)
	v.SetDefault("receipt_search.base_url", "")
	v.SetDefault("receipt_search.timeout_secs", 15)
	v.SetDefault("ladder.policy_path", "")
	v.SetDefault("ladder.postback_ttl_hours", 168)
	v.SetDefault("ladder.sweep_interval_mins", 30)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine; env and defaults carry the rest.
		var notFound viper.ConfigFileNotFoundError
		if !eris.As(err, &notFound) {
			return nil, eris.Wrap(err, "config: read config file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	if cfg.Signing.Secret == "" {
		return nil, eris.New("config: signing.secret is required")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
