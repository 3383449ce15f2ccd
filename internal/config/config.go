package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	NATS       NATSConfig       `mapstructure:"nats"`
	LLM        LLMConfig        `mapstructure:"llm"`
	Trading    TradingConfig    `mapstructure:"trading"`
	Risk       RiskConfig       `mapstructure:"risk"`
	Exchange   ExchangeConfig   `mapstructure:"exchange"`
	Timeouts   TimeoutConfig    `mapstructure:"timeouts"`
	Store      StoreConfig      `mapstructure:"store"`
	Alerts     AlertsConfig     `mapstructure:"alerts"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
	Vault      VaultConfig      `mapstructure:"vault"`
}

// AppConfig contains application-level settings
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"` // development, staging, production
	LogLevel    string `mapstructure:"log_level"`
	LogFormat   string `mapstructure:"log_format"` // "json" or "console"
}

// DatabaseConfig contains PostgreSQL settings
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"ssl_mode"`
	PoolSize int    `mapstructure:"pool_size"`
	Enabled  bool   `mapstructure:"enabled"`
}

// RedisConfig contains Redis settings for the kline cache
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Enabled  bool   `mapstructure:"enabled"`
}

// NATSConfig contains NATS event publishing settings
type NATSConfig struct {
	URL     string `mapstructure:"url"`
	Prefix  string `mapstructure:"prefix"`
	Enabled bool   `mapstructure:"enabled"`
}

// LLMConfig contains settings for the optional LLM advisor. The advisor only
// modulates confidence; it is disabled by default and never overrides the
// quantitative veto.
type LLMConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	Endpoint    string  `mapstructure:"endpoint"` // OpenAI-compatible chat completions URL
	Model       string  `mapstructure:"model"`
	APIKey      string  `mapstructure:"api_key"`
	Temperature float64 `mapstructure:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens"`
	TimeoutMS   int     `mapstructure:"timeout_ms"`
}

// TradingConfig contains trading settings
type TradingConfig struct {
	Mode            string   `mapstructure:"mode"`    // "paper" or "live"
	Symbols         []string `mapstructure:"symbols"` // ["BTCUSDT", "ETHUSDT"]
	CycleIntervalMS int      `mapstructure:"cycle_interval_ms"`
	KlineLimit      int      `mapstructure:"kline_limit"` // candles fetched per timeframe
	Leverage        int      `mapstructure:"leverage"`    // requested leverage per order
	InitialCapital  float64  `mapstructure:"initial_capital"`
}

// RiskConfig contains the guardian's hard limits
type RiskConfig struct {
	MaxLeverage            int     `mapstructure:"max_leverage"`              // 10
	MaxPositionPct         float64 `mapstructure:"max_position_pct"`          // 0.30 of balance
	MaxTotalRiskPct        float64 `mapstructure:"max_total_risk_pct"`        // 0.02 of balance
	MarginBufferPct        float64 `mapstructure:"margin_buffer_pct"`         // 0.95 of balance
	StopLossMinPct         float64 `mapstructure:"stop_loss_min_pct"`         // 0.005
	StopLossMaxPct         float64 `mapstructure:"stop_loss_max_pct"`         // 0.05
	StopTradingDrawdownPct float64 `mapstructure:"stop_trading_drawdown_pct"` // 0.10
	MaxConsecutiveLosses   int     `mapstructure:"max_consecutive_losses"`    // 3
	RiskPerTradePct        float64 `mapstructure:"risk_per_trade_pct"`        // 0.01, sizes qty from stop distance
	ATRStopMultiple        float64 `mapstructure:"atr_stop_multiple"`         // 1.5
	ATRTakeProfitMultiple  float64 `mapstructure:"atr_take_profit_multiple"`  // 3.0
}

// ExchangeConfig contains Binance futures settings
type ExchangeConfig struct {
	APIKey            string    `mapstructure:"api_key"`
	SecretKey         string    `mapstructure:"secret_key"`
	Testnet           bool      `mapstructure:"testnet"`
	RequestsPerSecond float64   `mapstructure:"requests_per_second"`
	Burst             int       `mapstructure:"burst"`
	Fees              FeeConfig `mapstructure:"fees"`
}

// FeeConfig contains exchange fee structure
type FeeConfig struct {
	Maker float64 `mapstructure:"maker"` // e.g. 0.0002 = 0.02%
	Taker float64 `mapstructure:"taker"` // e.g. 0.0004 = 0.04%
}

// TimeoutConfig holds per-call deadlines for external inputs. A timed-out
// input is treated as missing, its vote weight goes to zero.
type TimeoutConfig struct {
	KlineMS     int `mapstructure:"kline_ms"`     // 5000
	AuxMS       int `mapstructure:"aux_ms"`       // 3000
	PredictorMS int `mapstructure:"predictor_ms"` // 2000
	LLMMS       int `mapstructure:"llm_ms"`       // 6000
	OrderMS     int `mapstructure:"order_ms"`     // 5000
}

// StoreConfig contains artifact persistence settings
type StoreConfig struct {
	DataDir string `mapstructure:"data_dir"` // root of the append-only artifact tree
}

// AlertsConfig contains alerting settings
type AlertsConfig struct {
	TelegramEnabled bool    `mapstructure:"telegram_enabled"`
	TelegramToken   string  `mapstructure:"telegram_token"`
	TelegramChatIDs []int64 `mapstructure:"telegram_chat_ids"`
}

// MonitoringConfig contains monitoring settings
type MonitoringConfig struct {
	PrometheusPort int  `mapstructure:"prometheus_port"`
	EnableMetrics  bool `mapstructure:"enable_metrics"`
}

// VaultConfig contains optional Vault secret-source settings
type VaultConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Address string `mapstructure:"address"`
	Token   string `mapstructure:"token"`
	Path    string `mapstructure:"path"` // KV v2 path holding exchange credentials
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	// Enable environment variable overrides
	v.AutomaticEnv()
	v.SetEnvPrefix("TRADEPILOT")

	// Set defaults
	setDefaults(v)

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found; using defaults and environment variables
	}

	// Unmarshal into struct
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// App defaults
	v.SetDefault("app.name", "TradePilot")
	v.SetDefault("app.version", "0.1.0")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.log_format", "console")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.database", "tradepilot")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.pool_size", 10)
	v.SetDefault("database.enabled", false)

	// Redis defaults
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.enabled", false)

	// NATS defaults
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.prefix", "tradepilot.")
	v.SetDefault("nats.enabled", false)

	// LLM advisor defaults (off by default; advisory only)
	v.SetDefault("llm.enabled", false)
	v.SetDefault("llm.endpoint", "http://localhost:8080/v1/chat/completions")
	v.SetDefault("llm.model", "deepseek-chat")
	v.SetDefault("llm.temperature", 0.3)
	v.SetDefault("llm.max_tokens", 1500)
	v.SetDefault("llm.timeout_ms", 6000)

	// Trading defaults
	v.SetDefault("trading.mode", "paper")
	v.SetDefault("trading.symbols", []string{"BTCUSDT", "ETHUSDT"})
	v.SetDefault("trading.cycle_interval_ms", 300000) // one 5m period
	v.SetDefault("trading.kline_limit", 500)
	v.SetDefault("trading.leverage", 3)
	v.SetDefault("trading.initial_capital", 10000.0)

	// Risk defaults
	v.SetDefault("risk.max_leverage", 10)
	v.SetDefault("risk.max_position_pct", 0.30)
	v.SetDefault("risk.max_total_risk_pct", 0.02)
	v.SetDefault("risk.margin_buffer_pct", 0.95)
	v.SetDefault("risk.stop_loss_min_pct", 0.005)
	v.SetDefault("risk.stop_loss_max_pct", 0.05)
	v.SetDefault("risk.stop_trading_drawdown_pct", 0.10)
	v.SetDefault("risk.max_consecutive_losses", 3)
	v.SetDefault("risk.risk_per_trade_pct", 0.01)
	v.SetDefault("risk.atr_stop_multiple", 1.5)
	v.SetDefault("risk.atr_take_profit_multiple", 3.0)

	// Exchange defaults
	v.SetDefault("exchange.testnet", true)
	v.SetDefault("exchange.requests_per_second", 10.0)
	v.SetDefault("exchange.burst", 20)
	v.SetDefault("exchange.fees.maker", 0.0002)
	v.SetDefault("exchange.fees.taker", 0.0004)

	// Timeout defaults
	v.SetDefault("timeouts.kline_ms", 5000)
	v.SetDefault("timeouts.aux_ms", 3000)
	v.SetDefault("timeouts.predictor_ms", 2000)
	v.SetDefault("timeouts.llm_ms", 6000)
	v.SetDefault("timeouts.order_ms", 5000)

	// Store defaults
	v.SetDefault("store.data_dir", "./data")

	// Alerts defaults
	v.SetDefault("alerts.telegram_enabled", false)

	// Monitoring defaults
	v.SetDefault("monitoring.prometheus_port", 9100)
	v.SetDefault("monitoring.enable_metrics", true)

	// Vault defaults
	v.SetDefault("vault.enabled", false)
	v.SetDefault("vault.path", "secret/data/tradepilot/exchange")
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

// CycleInterval returns the decision-cycle cadence
func (c *TradingConfig) CycleInterval() time.Duration {
	return time.Duration(c.CycleIntervalMS) * time.Millisecond
}

// Kline returns the kline fetch deadline
func (c *TimeoutConfig) Kline() time.Duration { return time.Duration(c.KlineMS) * time.Millisecond }

// Aux returns the auxiliary metrics deadline
func (c *TimeoutConfig) Aux() time.Duration { return time.Duration(c.AuxMS) * time.Millisecond }

// Predictor returns the predictor call deadline
func (c *TimeoutConfig) Predictor() time.Duration {
	return time.Duration(c.PredictorMS) * time.Millisecond
}

// LLM returns the advisor call deadline
func (c *TimeoutConfig) LLM() time.Duration { return time.Duration(c.LLMMS) * time.Millisecond }

// Order returns the order submit deadline
func (c *TimeoutConfig) Order() time.Duration { return time.Duration(c.OrderMS) * time.Millisecond }

// GetTimeout returns the LLM timeout as time.Duration
func (c *LLMConfig) GetTimeout() time.Duration {
	return time.Duration(c.TimeoutMS) * time.Millisecond
}
