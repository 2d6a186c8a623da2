package config

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"liqwatcher/internal/logging"
	"liqwatcher/internal/risk"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Network   NetworkConfig   `mapstructure:"network"`
	Provider  ProviderConfig  `mapstructure:"provider"`
	Contracts ContractsConfig `mapstructure:"contracts"`
	Tiers     TiersConfig     `mapstructure:"tiers"`
	Monitor   MonitorConfig   `mapstructure:"monitor"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Discovery DiscoveryConfig `mapstructure:"discovery"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// NetworkConfig identifies the chain and its RPC endpoints.
type NetworkConfig struct {
	ChainID        int64         `mapstructure:"chain_id"`
	RPCURLs        []string      `mapstructure:"rpc_urls"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// ProviderConfig governs endpoint throttling and rotation.
type ProviderConfig struct {
	ThrottleInterval time.Duration `mapstructure:"throttle_interval"`
	RotationHop      int           `mapstructure:"rotation_hop"`
}

// ContractsConfig pins the on-chain entry points.
type ContractsConfig struct {
	Pool       string `mapstructure:"pool"`
	Oracle     string `mapstructure:"oracle"`
	Multicall3 string `mapstructure:"multicall3"`
}

// TierConfig sets one tier's cadence and claim batch size.
type TierConfig struct {
	Interval  time.Duration `mapstructure:"interval"`
	BatchSize int           `mapstructure:"batch_size"`
}

// TiersConfig holds per-tier scheduling settings.
type TiersConfig struct {
	Liquidatable  TierConfig `mapstructure:"liquidatable"`
	HighFreqWatch TierConfig `mapstructure:"high_freq_watch"`
	NormalWatch   TierConfig `mapstructure:"normal_watch"`
	Healthy       TierConfig `mapstructure:"healthy"`
}

// ForTier returns the settings for one tier.
func (t TiersConfig) ForTier(tier risk.Tier) (TierConfig, error) {
	switch tier {
	case risk.TierLiquidatable:
		return t.Liquidatable, nil
	case risk.TierHighFreqWatch:
		return t.HighFreqWatch, nil
	case risk.TierNormalWatch:
		return t.NormalWatch, nil
	case risk.TierHealthy:
		return t.Healthy, nil
	}
	return TierConfig{}, fmt.Errorf("unknown tier %q", tier)
}

// ThresholdsConfig carries tier boundaries as decimal health values, e.g.
// "1.0". They are scaled to the on-chain 1e18 fixed-point representation.
type ThresholdsConfig struct {
	Liquidation string `mapstructure:"liquidation"`
	HighFreq    string `mapstructure:"high_freq"`
	Normal      string `mapstructure:"normal"`
}

// MonitorConfig drives evaluation behaviour.
type MonitorConfig struct {
	RetryInterval  time.Duration    `mapstructure:"retry_interval"`
	CloseFactorBps int64            `mapstructure:"close_factor_bps"`
	DexFeeBps      int64            `mapstructure:"dex_fee_bps"`
	ExtraCostBase  int64            `mapstructure:"extra_cost_base"`
	MinProfitUSD   float64          `mapstructure:"min_profit_usd"`
	Thresholds     ThresholdsConfig `mapstructure:"thresholds"`
}

// RiskThresholds converts the configured decimal boundaries to the scaled
// integer form the classifier works in.
func (m MonitorConfig) RiskThresholds() (risk.Thresholds, error) {
	parse := func(key, val string) (*big.Int, error) {
		d, err := decimal.NewFromString(val)
		if err != nil {
			return nil, fmt.Errorf("monitor.thresholds.%s: %w", key, err)
		}
		return d.Shift(18).BigInt(), nil
	}

	liq, err := parse("liquidation", m.Thresholds.Liquidation)
	if err != nil {
		return risk.Thresholds{}, err
	}
	high, err := parse("high_freq", m.Thresholds.HighFreq)
	if err != nil {
		return risk.Thresholds{}, err
	}
	normal, err := parse("normal", m.Thresholds.Normal)
	if err != nil {
		return risk.Thresholds{}, err
	}

	t := risk.Thresholds{Liquidation: liq, HighFreq: high, Normal: normal}
	if err := t.Validate(); err != nil {
		return risk.Thresholds{}, fmt.Errorf("monitor.thresholds: %w", err)
	}
	return t, nil
}

// SchedulerConfig governs cross-process coordination.
type SchedulerConfig struct {
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
}

// DiscoveryConfig captures indexer connectivity for account seeding.
type DiscoveryConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	PageSize       int           `mapstructure:"page_size"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
}

// AlertingConfig defines opportunity notification routing.
type AlertingConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Cooldown time.Duration  `mapstructure:"cooldown"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig describes the Telegram delivery channel.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// MetricsConfig enables the Prometheus endpoint when an address is set.
type MetricsConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("LIQWATCHER")
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
	v.SetDefault("app.name", "liqwatcher")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("network.chain_id", int64(1))
	v.SetDefault("network.request_timeout", "10s")

	v.SetDefault("provider.throttle_interval", "200ms")
	v.SetDefault("provider.rotation_hop", 1)

	v.SetDefault("contracts.multicall3", "0xcA11bde05977b3631167028862bE2a173976CA11")

	v.SetDefault("tiers.liquidatable.interval", "10s")
	v.SetDefault("tiers.liquidatable.batch_size", 50)
	v.SetDefault("tiers.high_freq_watch.interval", "30s")
	v.SetDefault("tiers.high_freq_watch.batch_size", 100)
	v.SetDefault("tiers.normal_watch.interval", "5m")
	v.SetDefault("tiers.normal_watch.batch_size", 200)
	v.SetDefault("tiers.healthy.interval", "30m")
	v.SetDefault("tiers.healthy.batch_size", 500)

	v.SetDefault("monitor.retry_interval", "30s")
	v.SetDefault("monitor.close_factor_bps", int64(5000))
	v.SetDefault("monitor.dex_fee_bps", int64(30))
	v.SetDefault("monitor.extra_cost_base", int64(0))
	v.SetDefault("monitor.min_profit_usd", 10.0)
	v.SetDefault("monitor.thresholds.liquidation", "1.0")
	v.SetDefault("monitor.thresholds.high_freq", "1.1")
	v.SetDefault("monitor.thresholds.normal", "1.5")

	v.SetDefault("scheduler.advisory_lock_key", int64(0x6c697177))
	v.SetDefault("scheduler.startup_delay", "0s")

	v.SetDefault("discovery.page_size", 500)
	v.SetDefault("discovery.request_timeout", "10s")
	v.SetDefault("discovery.user_agent", "liqwatcher/1.0")

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.cooldown", "10m")
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("metrics.listen_addr", "")

	v.SetDefault("export.max_data_points", 100000)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.migrations_path", "migrations")
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
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Provider.RotationHop < 1 {
		return fmt.Errorf("provider.rotation_hop must be at least 1")
	}
	if c.Provider.ThrottleInterval < 0 {
		return fmt.Errorf("provider.throttle_interval cannot be negative")
	}
	for _, tier := range risk.Tiers {
		tc, err := c.Tiers.ForTier(tier)
		if err != nil {
			return err
		}
		if tc.Interval <= 0 {
			return fmt.Errorf("tiers.%s.interval must be greater than zero", tier)
		}
		if tc.BatchSize <= 0 {
			return fmt.Errorf("tiers.%s.batch_size must be greater than zero", tier)
		}
	}
	if c.Monitor.RetryInterval <= 0 {
		return fmt.Errorf("monitor.retry_interval must be greater than zero")
	}
	if c.Monitor.CloseFactorBps <= 0 || c.Monitor.CloseFactorBps > 10000 {
		return fmt.Errorf("monitor.close_factor_bps must be in (0, 10000]")
	}
	if c.Monitor.DexFeeBps < 0 {
		return fmt.Errorf("monitor.dex_fee_bps cannot be negative")
	}
	if _, err := c.Monitor.RiskThresholds(); err != nil {
		return err
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token is required")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id is required")
		}
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
