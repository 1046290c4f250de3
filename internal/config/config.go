package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Environment selects base URLs and whether the executor short-circuits.
const (
	EnvDryRun  = "dry-run"
	EnvTestnet = "testnet"
	EnvMainnet = "mainnet"
)

// Config holds all application configuration
type Config struct {
	App        AppConfig       `mapstructure:"app"`
	Database   DatabaseConfig  `mapstructure:"database"`
	Redis      RedisConfig     `mapstructure:"redis"`
	Exchange   ExchangeConfig  `mapstructure:"exchange"`
	LLM        LLMConfig       `mapstructure:"llm"`
	Trading    TradingConfig   `mapstructure:"trading"`
	Risk       RiskConfig      `mapstructure:"risk"`
	Scheduler  SchedulerConfig `mapstructure:"scheduler"`
	Service    ServiceConfig   `mapstructure:"service"`
	API        APIConfig       `mapstructure:"api"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
}

// AppConfig contains application-level settings
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"` // dry-run, testnet, mainnet
	LogLevel    string `mapstructure:"log_level"`
	LogFormat   string `mapstructure:"log_format"` // "json" or "console"
}

// DatabaseConfig contains PostgreSQL settings
type DatabaseConfig struct {
	Host             string `mapstructure:"host"`
	Port             int    `mapstructure:"port"`
	User             string `mapstructure:"user"`
	Password         string `mapstructure:"password"`
	Database         string `mapstructure:"database"`
	SSLMode          string `mapstructure:"ssl_mode"`
	PoolSize         int    `mapstructure:"pool_size"`
	StatementTimeout int    `mapstructure:"statement_timeout_ms"`
}

// RedisConfig contains the optional market-data cache settings
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// ExchangeConfig contains HyperLiquid connection settings.
// Private keys are referenced through environment handles, never inline.
type ExchangeConfig struct {
	BaseURL       string `mapstructure:"base_url"`        // overrides the environment default when set
	TimeoutMS     int    `mapstructure:"timeout_ms"`      // per-request timeout
	RateLimitPS   int    `mapstructure:"rate_limit_ps"`   // info requests per second
	PrivateKeyEnv string `mapstructure:"private_key_env"` // env var holding the signing key
}

// LLMConfig contains the model pool and generation defaults
type LLMConfig struct {
	Models             map[string]ModelConfig `mapstructure:"models"`
	DefaultMaxTokens   int                    `mapstructure:"default_max_tokens"`
	DefaultTemperature float64                `mapstructure:"default_temperature"`
}

// ModelConfig describes one entry in the model pool
type ModelConfig struct {
	Provider       string `mapstructure:"provider"` // "official" or "openrouter"
	BaseURL        string `mapstructure:"base_url"`
	APIKeyEnv      string `mapstructure:"api_key_env"` // env var holding the key
	ModelName      string `mapstructure:"model_name"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// TradingConfig contains the coin whitelist and kline configuration
type TradingConfig struct {
	Coins       []string       `mapstructure:"coins"`        // ["BTC", "ETH", ...]
	Timeframes  []string       `mapstructure:"timeframes"`   // ordered, first is primary
	KlineLimits map[string]int `mapstructure:"kline_limits"` // per timeframe
}

// RiskConfig contains default risk limits applied when an agent omits its own
type RiskConfig struct {
	MaxLeverage           int     `mapstructure:"max_leverage"`
	MaxPositionSizePct    float64 `mapstructure:"max_position_size_pct"`
	StopLossPct           float64 `mapstructure:"stop_loss_pct"`
	TakeProfitPct         float64 `mapstructure:"take_profit_pct"`
	TotalExposureCapPct   float64 `mapstructure:"total_exposure_cap_pct"`
	LiquidationWarningPct float64 `mapstructure:"liquidation_warning_pct"`
}

// SchedulerConfig contains cycle trigger settings
type SchedulerConfig struct {
	IntervalSeconds     int     `mapstructure:"interval_seconds"`
	DeadlineFactor      float64 `mapstructure:"deadline_factor"`
	MisfireGraceSeconds int     `mapstructure:"misfire_grace_seconds"`
}

// ServiceConfig contains lifecycle settings
type ServiceConfig struct {
	GraceShutdownSeconds            int `mapstructure:"grace_shutdown_seconds"`
	ConsecutiveFatalCyclesThreshold int `mapstructure:"consecutive_fatal_cycles_threshold"`
}

// APIConfig contains the status server settings
type APIConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// MonitoringConfig contains metrics settings
type MonitoringConfig struct {
	EnableMetrics bool `mapstructure:"enable_metrics"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvPrefix("PERPFUNK")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found; using defaults and environment variables
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// App defaults
	v.SetDefault("app.name", "PerpFunk")
	v.SetDefault("app.version", "0.1.0")
	v.SetDefault("app.environment", EnvDryRun)
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.log_format", "console")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.database", "perpfunk")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.pool_size", 10)
	v.SetDefault("database.statement_timeout_ms", 5000)

	// Redis defaults (cache disabled unless configured)
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)

	// Exchange defaults
	v.SetDefault("exchange.timeout_ms", 10000)
	v.SetDefault("exchange.rate_limit_ps", 10)
	v.SetDefault("exchange.private_key_env", "PERPFUNK_PRIVATE_KEY")

	// LLM defaults
	v.SetDefault("llm.default_max_tokens", 4000)
	v.SetDefault("llm.default_temperature", 0.7)

	// Trading defaults
	v.SetDefault("trading.coins", []string{"BTC", "ETH", "SOL"})
	v.SetDefault("trading.timeframes", []string{"3m", "4h"})
	v.SetDefault("trading.kline_limits", map[string]int{"3m": 120, "4h": 60})

	// Risk defaults
	v.SetDefault("risk.max_leverage", 10)
	v.SetDefault("risk.max_position_size_pct", 20.0)
	v.SetDefault("risk.stop_loss_pct", 2.0)
	v.SetDefault("risk.take_profit_pct", 5.0)
	v.SetDefault("risk.total_exposure_cap_pct", 80.0)
	v.SetDefault("risk.liquidation_warning_pct", 20.0)

	// Scheduler defaults
	v.SetDefault("scheduler.interval_seconds", 180)
	v.SetDefault("scheduler.deadline_factor", 0.9)
	v.SetDefault("scheduler.misfire_grace_seconds", 60)

	// Service defaults
	v.SetDefault("service.grace_shutdown_seconds", 180)
	v.SetDefault("service.consecutive_fatal_cycles_threshold", 3)

	// API defaults
	v.SetDefault("api.host", "0.0.0.0")
	v.SetDefault("api.port", 8081)

	// Monitoring defaults
	v.SetDefault("monitoring.enable_metrics", true)
}

// GetDSN returns the PostgreSQL connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// GetRedisAddr returns the Redis address
func (c *RedisConfig) GetRedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// GetAPIAddr returns the status server address
func (c *APIConfig) GetAPIAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Interval returns the scheduler interval as a duration
func (c *SchedulerConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

// MisfireGrace returns the misfire grace period as a duration
func (c *SchedulerConfig) MisfireGrace() time.Duration {
	return time.Duration(c.MisfireGraceSeconds) * time.Second
}

// CycleDeadline returns the per-cycle deadline derived from the interval
func (c *SchedulerConfig) CycleDeadline() time.Duration {
	return time.Duration(float64(c.Interval()) * c.DeadlineFactor)
}

// GraceShutdown returns the shutdown grace period as a duration
func (c *ServiceConfig) GraceShutdown() time.Duration {
	return time.Duration(c.GraceShutdownSeconds) * time.Second
}

// Timeout returns the per-model request timeout as a duration
func (c *ModelConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 120 * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// ExchangeTimeout returns the exchange request timeout as a duration
func (c *ExchangeConfig) ExchangeTimeout() time.Duration {
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

// ResolveBaseURL returns the exchange base URL for the configured environment
func (c *Config) ResolveBaseURL() string {
	if c.Exchange.BaseURL != "" {
		return c.Exchange.BaseURL
	}
	switch c.App.Environment {
	case EnvMainnet:
		return "https://api.hyperliquid.xyz"
	default:
		// dry-run signs nothing but still reads testnet market data
		return "https://api.hyperliquid-testnet.xyz"
	}
}

// IsDryRun reports whether the executor must short-circuit before signing
func (c *Config) IsDryRun() bool {
	return c.App.Environment == EnvDryRun
}
