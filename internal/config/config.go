package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-viper/mapstructure/v2"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"disputable-values-monitor/internal/alerting"
	"disputable-values-monitor/internal/catalog"
	"disputable-values-monitor/internal/feed"
	"disputable-values-monitor/internal/logging"
)

// Config is the root runtime configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Chains    []ChainConfig   `mapstructure:"chains"`
	Poller    PollerConfig    `mapstructure:"poller"`
	Monitor   MonitorConfig   `mapstructure:"monitor"`
	Catalog   catalog.Config  `mapstructure:"catalog"`
	Balances  BalancesConfig  `mapstructure:"balances"`
	Dispute   DisputeConfig   `mapstructure:"dispute"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Ledger    LedgerConfig    `mapstructure:"ledger"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
	// MonitorName heads every alert when set.
	MonitorName string `mapstructure:"monitor_name"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// SchedulerConfig governs the polling cadence.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	AlignToBucket   bool          `mapstructure:"align_to_bucket"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
}

// ChainConfig describes one monitored network.
type ChainConfig struct {
	ChainID        uint64        `mapstructure:"chain_id"`
	Name           string        `mapstructure:"name"`
	RPCURL         string        `mapstructure:"rpc_url"`
	Explorer       string        `mapstructure:"explorer"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	RateLimit      float64       `mapstructure:"rate_limit"`
	Burst          int           `mapstructure:"burst"`
	// Oracles emit NewReport.
	Oracles []string `mapstructure:"oracles"`
	// Governance emits NewDispute and receives beginDispute.
	Governance string `mapstructure:"governance"`
	// Token emits oracle address events and is the balance token.
	Token         string `mapstructure:"token"`
	TokenSymbol   string `mapstructure:"token_symbol"`
	TokenDecimals int32  `mapstructure:"token_decimals"`
	NativeSymbol  string `mapstructure:"native_symbol"`
	Dashboard     string `mapstructure:"dashboard"`
}

// PollerConfig bounds the log scan window.
type PollerConfig struct {
	InitialOffset uint64 `mapstructure:"initial_offset"`
	ReorgMargin   uint64 `mapstructure:"reorg_margin"`
}

// MonitorConfig drives report evaluation.
type MonitorConfig struct {
	SeeAllValues bool `mapstructure:"see_all_values"`
	// ConfidenceThreshold is the default Percentage amount, e.g. "0.1" for 10%.
	ConfidenceThreshold string                `mapstructure:"confidence_threshold"`
	Feeds               []MonitoredFeedConfig `mapstructure:"feeds"`
	ManagedFeeds        []string              `mapstructure:"managed_feeds"`
	AutoTypes           []string              `mapstructure:"auto_types"`
	AlwaysAlertTypes    []string              `mapstructure:"always_alert_types"`
	DisputeRNG          bool                  `mapstructure:"dispute_rng"`
	RetryAttempts       int                   `mapstructure:"retry_attempts"`
	RetryDelay          time.Duration         `mapstructure:"retry_delay"`
	DisplayCapacity     int                   `mapstructure:"display_capacity"`
	// TableCSV appends every displayed row to this file when set.
	TableCSV string `mapstructure:"table_csv"`
}

// MonitoredFeedConfig binds a query to a threshold. Without QueryID the
// feed id comes from the catalog tag; without either it is generic and
// applies to every query of QueryType.
type MonitoredFeedConfig struct {
	Tag       string `mapstructure:"tag"`
	QueryID   string `mapstructure:"query_id"`
	QueryType string `mapstructure:"query_type"`
	Metric    string `mapstructure:"metric"`
	Amount    string `mapstructure:"amount"`
}

// Threshold parses the configured policy.
func (f MonitoredFeedConfig) Threshold() (feed.Threshold, error) {
	metric, err := feed.ParseMetric(f.Metric)
	if err != nil {
		return feed.Threshold{}, err
	}
	amount, err := parseOptionalDecimal(f.Amount)
	if err != nil {
		return feed.Threshold{}, err
	}
	return feed.NewThreshold(metric, amount)
}

// BalancesConfig lists the addresses whose balances are sampled.
type BalancesConfig struct {
	ChainID   uint64           `mapstructure:"chain_id"`
	Reporters []ReporterConfig `mapstructure:"reporters"`
	Disputer  DisputerConfig   `mapstructure:"disputer"`
	Excluded  []string         `mapstructure:"excluded"`
}

// ReporterConfig is one watched reporter. Empty thresholds disable the alert.
type ReporterConfig struct {
	Address         string        `mapstructure:"address"`
	NativeThreshold string        `mapstructure:"native_threshold"`
	TokenThreshold  string        `mapstructure:"token_threshold"`
	ReportInterval  time.Duration `mapstructure:"report_interval"`
}

// DisputerConfig is the account disputes are sent from.
type DisputerConfig struct {
	Address         string `mapstructure:"address"`
	NativeThreshold string `mapstructure:"native_threshold"`
	TokenThreshold  string `mapstructure:"token_threshold"`
}

// DisputeConfig toggles automatic disputes.
type DisputeConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// AlertingConfig defines alert routing.
type AlertingConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Kinds    []string       `mapstructure:"kinds"`
	Timeout  time.Duration  `mapstructure:"timeout"`
	Liveness bool           `mapstructure:"liveness"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Discord  DiscordConfig  `mapstructure:"discord"`
}

// TelegramConfig 描述 Telegram 告警参数。
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// DiscordConfig lists webhooks. The first is required when enabled.
type DiscordConfig struct {
	Enabled  bool     `mapstructure:"enabled"`
	Webhooks []string `mapstructure:"webhooks"`
}

// LedgerConfig selects the dispute ledger backend.
type LedgerConfig struct {
	RedisURL string        `mapstructure:"redis_url"`
	Prefix   string        `mapstructure:"prefix"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// MetricsConfig exposes the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("DVMONITOR")
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
	v.SetDefault("app.name", "dvmonitor")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.monitor_name", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stderr")

	v.SetDefault("scheduler.interval", "7s")
	v.SetDefault("scheduler.align_to_bucket", false)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x64766d6f))
	v.SetDefault("scheduler.startup_delay", "0s")

	v.SetDefault("poller.initial_offset", 0)
	v.SetDefault("poller.reorg_margin", 0)

	v.SetDefault("monitor.see_all_values", false)
	v.SetDefault("monitor.confidence_threshold", "0.1")
	v.SetDefault("monitor.dispute_rng", false)
	v.SetDefault("monitor.retry_attempts", 3)
	v.SetDefault("monitor.retry_delay", "20s")
	v.SetDefault("monitor.display_capacity", 10)

	v.SetDefault("catalog.http_timeout", "10s")
	v.SetDefault("catalog.user_agent", "dvmonitor/1.0")

	v.SetDefault("dispute.enabled", false)

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.timeout", "10s")
	v.SetDefault("alerting.liveness", true)
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")
	v.SetDefault("alerting.discord.enabled", false)

	v.SetDefault("ledger.prefix", "dvmonitor:dispute:")
	v.SetDefault("ledger.ttl", "168h")

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.addr", ":9102")

	v.SetDefault("export.max_data_points", 100000)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.auto_migrate", true)
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
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Monitor.RetryAttempts <= 0 {
		return fmt.Errorf("monitor.retry_attempts must be greater than zero")
	}
	if _, err := c.DefaultThreshold(); err != nil {
		return fmt.Errorf("monitor.confidence_threshold: %w", err)
	}

	seen := make(map[uint64]struct{}, len(c.Chains))
	for i, ch := range c.Chains {
		if ch.ChainID == 0 {
			return fmt.Errorf("chains[%d].chain_id is required", i)
		}
		if _, dup := seen[ch.ChainID]; dup {
			return fmt.Errorf("chains[%d]: duplicate chain_id %d", i, ch.ChainID)
		}
		seen[ch.ChainID] = struct{}{}
		if ch.RPCURL == "" {
			return fmt.Errorf("chains[%d].rpc_url is required", i)
		}
		for _, addr := range append(append([]string{}, ch.Oracles...), ch.Governance, ch.Token) {
			if addr != "" && !common.IsHexAddress(addr) {
				return fmt.Errorf("chains[%d]: invalid address %q", i, addr)
			}
		}
	}

	for i, f := range c.Monitor.Feeds {
		if f.Tag == "" && f.QueryID == "" && f.QueryType == "" {
			return fmt.Errorf("monitor.feeds[%d]: one of tag, query_id or query_type is required", i)
		}
		if f.QueryID != "" && !isHash(f.QueryID) {
			return fmt.Errorf("monitor.feeds[%d].query_id is not a 32-byte hex string", i)
		}
		if _, err := f.Threshold(); err != nil {
			return fmt.Errorf("monitor.feeds[%d]: %w", i, err)
		}
	}
	for i, id := range c.Monitor.ManagedFeeds {
		if !isHash(id) {
			return fmt.Errorf("monitor.managed_feeds[%d] is not a 32-byte hex string", i)
		}
	}

	if err := c.Balances.validate(); err != nil {
		return err
	}

	if _, err := alerting.ParseKinds(c.Alerting.Kinds); err != nil {
		return fmt.Errorf("alerting.kinds: %w", err)
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token 必须配置")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id 必须配置")
		}
	}
	if c.Alerting.Discord.Enabled && (len(c.Alerting.Discord.Webhooks) == 0 || c.Alerting.Discord.Webhooks[0] == "") {
		return fmt.Errorf("alerting.discord.webhooks: the first webhook is required")
	}
	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return fmt.Errorf("metrics.addr is required when metrics are enabled")
	}
	return nil
}

func (b BalancesConfig) validate() error {
	for i, r := range b.Reporters {
		if !common.IsHexAddress(r.Address) {
			return fmt.Errorf("balances.reporters[%d].address is invalid", i)
		}
		for _, thr := range []string{r.NativeThreshold, r.TokenThreshold} {
			if _, err := parseOptionalDecimal(thr); err != nil {
				return fmt.Errorf("balances.reporters[%d]: %w", i, err)
			}
		}
	}
	if b.Disputer.Address != "" && !common.IsHexAddress(b.Disputer.Address) {
		return fmt.Errorf("balances.disputer.address is invalid")
	}
	for _, thr := range []string{b.Disputer.NativeThreshold, b.Disputer.TokenThreshold} {
		if _, err := parseOptionalDecimal(thr); err != nil {
			return fmt.Errorf("balances.disputer: %w", err)
		}
	}
	for i, addr := range b.Excluded {
		if !common.IsHexAddress(addr) {
			return fmt.Errorf("balances.excluded[%d] is invalid", i)
		}
	}
	return nil
}

// DefaultThreshold is the Percentage policy applied to auto-built feeds.
func (c *Config) DefaultThreshold() (feed.Threshold, error) {
	amount, err := decimal.NewFromString(strings.TrimSpace(c.Monitor.ConfidenceThreshold))
	if err != nil {
		return feed.Threshold{}, fmt.Errorf("parse %q: %w", c.Monitor.ConfidenceThreshold, err)
	}
	return feed.Percentage(amount)
}

// Chain returns the configuration of chainID.
func (c *Config) Chain(chainID uint64) (ChainConfig, bool) {
	for _, ch := range c.Chains {
		if ch.ChainID == chainID {
			return ch, true
		}
	}
	return ChainConfig{}, false
}

// ParseThreshold parses an optional decimal threshold.
func ParseThreshold(s string) (decimal.NullDecimal, error) {
	return parseOptionalDecimal(s)
}

func parseOptionalDecimal(s string) (decimal.NullDecimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.NullDecimal{}, fmt.Errorf("invalid decimal %q: %w", s, err)
	}
	return decimal.NewNullDecimal(d), nil
}

func isHash(s string) bool {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if len(s) != 64 {
		return false
	}
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'f', r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}
