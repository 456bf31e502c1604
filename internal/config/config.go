package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"

	"price-advisor/internal/engine"
	"price-advisor/internal/logging"
)

// Database drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config materialises application configuration.
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Logging    logging.Config   `mapstructure:"logging"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Engine     engine.Config    `mapstructure:"engine"`
	Classifier ClassifierConfig `mapstructure:"classifier"`
	Server     ServerConfig     `mapstructure:"server"`
	Watch      WatchConfig      `mapstructure:"watch"`
	Alerting   AlertingConfig   `mapstructure:"alerting"`
	Export     ExportConfig     `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig selects the price history backend.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
}

// ClassifierConfig points at the external discount classifier.
type ClassifierConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	BaseURL        string        `mapstructure:"base_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	Threshold      float64       `mapstructure:"threshold"`
	UserAgent      string        `mapstructure:"user_agent"`
}

// ServerConfig governs the HTTP API.
type ServerConfig struct {
	ListenAddr     string        `mapstructure:"listen_addr"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	RateLimitRPS   float64       `mapstructure:"rate_limit_rps"`
	RateLimitBurst int           `mapstructure:"rate_limit_burst"`
	CORSOrigins    []string      `mapstructure:"cors_origins"`
	ListLimit      int           `mapstructure:"list_limit"`
}

// WatchConfig governs the re-evaluation loop. Cron takes precedence over
// Interval when set.
type WatchConfig struct {
	Items         []string      `mapstructure:"items"`
	Interval      time.Duration `mapstructure:"interval"`
	Cron          string        `mapstructure:"cron"`
	AlignToBucket bool          `mapstructure:"align_to_bucket"`
	StartupDelay  time.Duration `mapstructure:"startup_delay"`
	NotifyTiers   []string      `mapstructure:"notify_tiers"`
}

// AlertingConfig defines alert routing.
type AlertingConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Cooldown time.Duration  `mapstructure:"cooldown"`
	Channels []string       `mapstructure:"channels"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig 描述 Telegram 告警参数。
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PRICEADVISOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

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
	if len(cfg.Engine.Penalties) == 0 {
		cfg.Engine.Penalties = engine.DefaultPenalties()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
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
	v.SetDefault("app.name", "priceadvisor")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stderr")

	v.SetDefault("database.driver", DriverSQLite)
	v.SetDefault("database.dsn", "data/priceadvisor.db")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.migrations_path", "migrations")
	v.SetDefault("database.advisory_lock_key", int64(0x70726963))

	weights := engine.DefaultWeights()
	v.SetDefault("engine.weights.price_position", weights.PricePosition)
	v.SetDefault("engine.weights.trend", weights.Trend)
	v.SetDefault("engine.weights.discount_context", weights.DiscountContext)
	v.SetDefault("engine.batch_concurrency", engine.DefaultBatchConcurrency)

	v.SetDefault("classifier.enabled", false)
	v.SetDefault("classifier.base_url", "http://localhost:8000")
	v.SetDefault("classifier.request_timeout", "5s")
	v.SetDefault("classifier.threshold", 0.5)
	v.SetDefault("classifier.user_agent", "priceadvisor/1.0")

	v.SetDefault("server.listen_addr", ":8080")
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.request_timeout", "20s")
	v.SetDefault("server.rate_limit_rps", 20.0)
	v.SetDefault("server.rate_limit_burst", 40)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.list_limit", 500)

	v.SetDefault("watch.items", []string{})
	v.SetDefault("watch.interval", "6h")
	v.SetDefault("watch.cron", "")
	v.SetDefault("watch.align_to_bucket", true)
	v.SetDefault("watch.startup_delay", "0s")
	v.SetDefault("watch.notify_tiers", []string{string(engine.TierStrongBuy), string(engine.TierBuy)})

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.cooldown", "24h")
	v.SetDefault("alerting.channels", []string{"telegram"})
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

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
	switch c.Database.Driver {
	case DriverPostgres, DriverSQLite:
	default:
		return fmt.Errorf("database.driver must be %q or %q, got %q", DriverPostgres, DriverSQLite, c.Database.Driver)
	}
	if err := c.Engine.Validate(); err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Watch.Cron != "" {
		if _, err := cron.ParseStandard(c.Watch.Cron); err != nil {
			return fmt.Errorf("watch.cron: %w", err)
		}
	} else if c.Watch.Interval <= 0 {
		return fmt.Errorf("watch.interval must be greater than zero")
	}
	if _, err := c.NotifyTiers(); err != nil {
		return err
	}
	if c.Classifier.Enabled {
		if c.Classifier.BaseURL == "" {
			return fmt.Errorf("classifier.base_url is required when the classifier is enabled")
		}
		if c.Classifier.Threshold < 0 || c.Classifier.Threshold > 1 {
			return fmt.Errorf("classifier.threshold must be within [0,1]")
		}
	}
	if c.Server.RateLimitRPS < 0 || c.Server.RateLimitBurst < 0 {
		return fmt.Errorf("server rate limit cannot be negative")
	}
	if c.Server.RateLimitRPS > 0 && c.Server.RateLimitBurst < 1 {
		return fmt.Errorf("server.rate_limit_burst must be at least 1 when server.rate_limit_rps is set")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token 必须配置")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id 必须配置")
		}
	}
	return nil
}

// NotifyTiers parses watch.notify_tiers.
func (c *Config) NotifyTiers() ([]engine.Tier, error) {
	tiers := make([]engine.Tier, 0, len(c.Watch.NotifyTiers))
	for _, name := range c.Watch.NotifyTiers {
		tier, ok := engine.ParseTier(strings.TrimSpace(name))
		if !ok {
			return nil, fmt.Errorf("watch.notify_tiers: unknown tier %q", name)
		}
		tiers = append(tiers, tier)
	}
	return tiers, nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
