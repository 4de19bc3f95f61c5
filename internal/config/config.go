package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"gaswatch/internal/logging"
	"gaswatch/internal/version"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	History   HistoryConfig   `mapstructure:"history"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Networks  NetworksConfig  `mapstructure:"networks"`
	Pricing   PricingConfig   `mapstructure:"pricing"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	Bot       BotConfig       `mapstructure:"bot"`
	Daily     DailyConfig     `mapstructure:"daily"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
	Timezone    string `mapstructure:"timezone"`
}

// HistoryConfig locates the rolling sample file and its windows.
type HistoryConfig struct {
	Path        string        `mapstructure:"path"`
	Retention   time.Duration `mapstructure:"retention"`
	DailyWindow time.Duration `mapstructure:"daily_window"`
}

// SchedulerConfig governs sampling cadence.
type SchedulerConfig struct {
	Interval      time.Duration `mapstructure:"interval"`
	DailyInterval time.Duration `mapstructure:"daily_interval"`
	TickTimeout   time.Duration `mapstructure:"tick_timeout"`
	StartupDelay  time.Duration `mapstructure:"startup_delay"`
	AlignToBucket bool          `mapstructure:"align_to_bucket"`
}

// NetworkConfig describes one queryable chain.
type NetworkConfig struct {
	Label    string `mapstructure:"label"`
	RPCURL   string `mapstructure:"rpc_url"`
	ImageURL string `mapstructure:"image_url"`
	Emoji    string `mapstructure:"emoji"`
}

// NetworksConfig lists the chains the bot knows. Mainnet is the tracked one.
type NetworksConfig struct {
	Mainnet  NetworkConfig `mapstructure:"mainnet"`
	Arbitrum NetworkConfig `mapstructure:"arbitrum"`
	Optimism NetworkConfig `mapstructure:"optimism"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// PricingConfig covers the fiat-rate lookup.
type PricingConfig struct {
	BaseURL    string        `mapstructure:"base_url"`
	Asset      string        `mapstructure:"asset"`
	VsCurrency string        `mapstructure:"vs_currency"`
	Timeout    time.Duration `mapstructure:"timeout"`
	GasUnits   int64         `mapstructure:"gas_units"`
	UserAgent  string        `mapstructure:"user_agent"`
}

// CacheConfig enables the optional Redis fiat-rate cache.
type CacheConfig struct {
	RedisURL string        `mapstructure:"redis_url"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// TelegramConfig 描述 Telegram 推送与轮询参数。
type TelegramConfig struct {
	BotToken    string        `mapstructure:"bot_token"`
	ChatID      string        `mapstructure:"chat_id"`
	APIBase     string        `mapstructure:"api_base"`
	Timeout     time.Duration `mapstructure:"timeout"`
	PollTimeout time.Duration `mapstructure:"poll_timeout"`
}

// BotConfig toggles the command listener.
type BotConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	HandlerTimeout time.Duration `mapstructure:"handler_timeout"`
}

// DailyConfig shapes the daily report.
type DailyConfig struct {
	Chart bool `mapstructure:"chart"`
}

// MetricsConfig exposes prometheus metrics when Listen is set.
type MetricsConfig struct {
	Listen string `mapstructure:"listen"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// legacyEnv maps config keys to the variable names used by older deployments.
var legacyEnv = map[string]string{
	"telegram.bot_token":       "BOT_TOKEN",
	"telegram.chat_id":         "CHAT_ID",
	"networks.mainnet.rpc_url": "ALCHEMY_RPC",
}

// Load builds configuration from .env, file, environment, and defaults.
func Load(path string) (*Config, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetEnvPrefix("GASWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	if err := bindLegacyEnv(v); err != nil {
		return nil, err
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func loadDotEnv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

func bindLegacyEnv(v *viper.Viper) error {
	for key, legacy := range legacyEnv {
		prefixed := "GASWATCH_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, legacy); err != nil {
			return fmt.Errorf("bind env %s: %w", key, err)
		}
	}
	return nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "gaswatch")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.timezone", "UTC")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	v.SetDefault("history.path", "gas-history.json")
	v.SetDefault("history.retention", "168h")
	v.SetDefault("history.daily_window", "24h")

	v.SetDefault("scheduler.interval", "20m")
	v.SetDefault("scheduler.daily_interval", "24h")
	v.SetDefault("scheduler.tick_timeout", "60s")
	v.SetDefault("scheduler.startup_delay", "0s")
	v.SetDefault("scheduler.align_to_bucket", false)

	v.SetDefault("networks.timeout", "10s")
	v.SetDefault("networks.mainnet.label", "Ethereum")
	v.SetDefault("networks.mainnet.emoji", "⛽")
	v.SetDefault("networks.arbitrum.label", "Arbitrum")
	v.SetDefault("networks.arbitrum.rpc_url", "https://arb1.arbitrum.io/rpc")
	v.SetDefault("networks.arbitrum.image_url", "https://cryptologos.cc/logos/arbitrum-arb-logo.png")
	v.SetDefault("networks.arbitrum.emoji", "🔵")
	v.SetDefault("networks.optimism.label", "Optimism")
	v.SetDefault("networks.optimism.rpc_url", "https://mainnet.optimism.io")
	v.SetDefault("networks.optimism.image_url", "https://cryptologos.cc/logos/optimism-ethereum-op-logo.png")
	v.SetDefault("networks.optimism.emoji", "🔴")

	v.SetDefault("pricing.base_url", "https://api.coingecko.com/api/v3")
	v.SetDefault("pricing.asset", "ethereum")
	v.SetDefault("pricing.vs_currency", "usd")
	v.SetDefault("pricing.timeout", "10s")
	v.SetDefault("pricing.gas_units", int64(21000))
	v.SetDefault("pricing.user_agent", version.UserAgent())

	v.SetDefault("cache.ttl", "60s")

	v.SetDefault("telegram.api_base", "https://api.telegram.org")
	v.SetDefault("telegram.timeout", "10s")
	v.SetDefault("telegram.poll_timeout", "30s")

	v.SetDefault("bot.enabled", true)
	v.SetDefault("bot.handler_timeout", "20s")

	v.SetDefault("daily.chart", false)

	v.SetDefault("export.max_data_points", 5000)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.History.Path == "" {
		return fmt.Errorf("history.path must be set")
	}
	if c.History.Retention <= 0 {
		return fmt.Errorf("history.retention must be greater than zero")
	}
	if c.History.DailyWindow <= 0 {
		return fmt.Errorf("history.daily_window must be greater than zero")
	}
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Scheduler.DailyInterval <= 0 {
		return fmt.Errorf("scheduler.daily_interval must be greater than zero")
	}
	if c.Scheduler.TickTimeout <= 0 {
		return fmt.Errorf("scheduler.tick_timeout must be greater than zero")
	}
	if c.Pricing.GasUnits <= 0 {
		return fmt.Errorf("pricing.gas_units must be greater than zero")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("app.timezone: %w", err)
	}
	return nil
}

// RequireRuntime checks the settings the long-running service cannot start without.
func (c *Config) RequireRuntime() error {
	if c.Telegram.BotToken == "" {
		return fmt.Errorf("telegram.bot_token 必须配置 (BOT_TOKEN)")
	}
	if c.Telegram.ChatID == "" {
		return fmt.Errorf("telegram.chat_id 必须配置 (CHAT_ID)")
	}
	if c.Networks.Mainnet.RPCURL == "" {
		return fmt.Errorf("networks.mainnet.rpc_url 必须配置 (ALCHEMY_RPC)")
	}
	return nil
}

// Location resolves app.timezone, defaulting to UTC.
func (c *Config) Location() (*time.Location, error) {
	if c.App.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(c.App.Timezone)
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
