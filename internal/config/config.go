package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"price-feed-oracle/internal/aggregator"
	"price-feed-oracle/internal/feed"
	"price-feed-oracle/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Publisher PublisherConfig `mapstructure:"publisher"`
	Providers ProvidersConfig `mapstructure:"providers"`
	Sentiment SentimentConfig `mapstructure:"sentiment"`
	FearGreed FearGreedConfig `mapstructure:"feargreed"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Ledger    LedgerConfig    `mapstructure:"ledger"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Server    ServerConfig    `mapstructure:"server"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates the optional PostgreSQL mirror.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// PublisherConfig governs aggregation priority and publishing cadence. It is
// read once at startup and injected; nothing mutates it at runtime.
type PublisherConfig struct {
	Priority         string        `mapstructure:"priority"`
	EnabledProviders []string      `mapstructure:"enabled_providers"`
	Symbols          []string      `mapstructure:"symbols"`
	PublishInterval  time.Duration `mapstructure:"publish_interval"`
	SymbolDelay      time.Duration `mapstructure:"symbol_delay"`
	Decimals         int32         `mapstructure:"decimals"`
	AdvisoryLockKey  int64         `mapstructure:"advisory_lock_key"`
}

// EnabledSources converts the configured provider names into sources.
func (p PublisherConfig) EnabledSources() []feed.Source {
	out := make([]feed.Source, 0, len(p.EnabledProviders))
	for _, name := range p.EnabledProviders {
		out = append(out, feed.Source(name))
	}
	return out
}

// ProviderConfig is shared by the HTTP price providers.
type ProviderConfig struct {
	BaseURL          string            `mapstructure:"base_url"`
	APIKeys          []string          `mapstructure:"api_keys"`
	CoinIDs          map[string]string `mapstructure:"coin_ids"`
	CacheTTL         time.Duration     `mapstructure:"cache_ttl"`
	RotationInterval time.Duration     `mapstructure:"rotation_interval"`
	RetryBackoff     time.Duration     `mapstructure:"retry_backoff"`
	RequestTimeout   time.Duration     `mapstructure:"request_timeout"`
}

// ChainlinkConfig covers the on-chain oracle adapter.
type ChainlinkConfig struct {
	RPCURL         string            `mapstructure:"rpc_url"`
	Feeds          map[string]string `mapstructure:"feeds"`
	CacheTTL       time.Duration     `mapstructure:"cache_ttl"`
	RequestTimeout time.Duration     `mapstructure:"request_timeout"`
}

// ProvidersConfig groups the price provider adapters.
type ProvidersConfig struct {
	CoinGecko     ProviderConfig  `mapstructure:"coingecko"`
	CryptoCompare ProviderConfig  `mapstructure:"cryptocompare"`
	Chainlink     ChainlinkConfig `mapstructure:"chainlink"`
}

// SentimentConfig covers the vote-sentiment client.
type SentimentConfig struct {
	BaseURL          string        `mapstructure:"base_url"`
	APIKeys          []string      `mapstructure:"api_keys"`
	CacheTTL         time.Duration `mapstructure:"cache_ttl"`
	RotationInterval time.Duration `mapstructure:"rotation_interval"`
	RequestTimeout   time.Duration `mapstructure:"request_timeout"`
}

// FearGreedConfig covers the fear/greed index client.
type FearGreedConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	CacheTTL       time.Duration `mapstructure:"cache_ttl"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// CacheConfig selects the source-client cache backend.
type CacheConfig struct {
	Backend string        `mapstructure:"backend"`
	Redis   string        `mapstructure:"redis"`
	Prefix  string        `mapstructure:"prefix"`
	Expiry  time.Duration `mapstructure:"expiry"`
}

// LedgerConfig covers the on-chain registry contract.
type LedgerConfig struct {
	RPCURL          string        `mapstructure:"rpc_url"`
	ContractAddress string        `mapstructure:"contract_address"`
	PrivateKey      string        `mapstructure:"private_key"`
	ChainID         int64         `mapstructure:"chain_id"`
	GasLimit        uint64        `mapstructure:"gas_limit"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
}

// TelegramConfig 描述 Telegram 告警参数。
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// AlertingConfig defines trigger notification routing.
type AlertingConfig struct {
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// ServerConfig covers the thin HTTP surface.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	HealthTimeout   time.Duration `mapstructure:"health_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PRICEFEEDER")
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
	v.SetDefault("app.name", "pricefeeder")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("publisher.priority", "offchain_first")
	v.SetDefault("publisher.enabled_providers", []string{"coingecko", "cryptocompare", "chainlink"})
	v.SetDefault("publisher.symbols", []string{"BTC", "ETH"})
	v.SetDefault("publisher.publish_interval", "60s")
	v.SetDefault("publisher.symbol_delay", "500ms")
	v.SetDefault("publisher.decimals", 8)
	v.SetDefault("publisher.advisory_lock_key", int64(0x70666f31))

	v.SetDefault("providers.coingecko.base_url", "https://api.coingecko.com/api/v3")
	v.SetDefault("providers.coingecko.coin_ids", map[string]string{
		"BTC": "bitcoin",
		"ETH": "ethereum",
	})
	v.SetDefault("providers.coingecko.cache_ttl", "30s")
	v.SetDefault("providers.coingecko.rotation_interval", "5m")
	v.SetDefault("providers.coingecko.retry_backoff", "300ms")
	v.SetDefault("providers.coingecko.request_timeout", "10s")

	v.SetDefault("providers.cryptocompare.base_url", "https://min-api.cryptocompare.com")
	v.SetDefault("providers.cryptocompare.cache_ttl", "30s")
	v.SetDefault("providers.cryptocompare.rotation_interval", "5m")
	v.SetDefault("providers.cryptocompare.retry_backoff", "300ms")
	v.SetDefault("providers.cryptocompare.request_timeout", "10s")

	v.SetDefault("providers.chainlink.cache_ttl", "30s")
	v.SetDefault("providers.chainlink.request_timeout", "5s")

	v.SetDefault("sentiment.base_url", "https://api.coingecko.com/api/v3")
	v.SetDefault("sentiment.cache_ttl", "5m")
	v.SetDefault("sentiment.rotation_interval", "5m")
	v.SetDefault("sentiment.request_timeout", "10s")

	v.SetDefault("feargreed.base_url", "https://api.alternative.me")
	v.SetDefault("feargreed.cache_ttl", "10m")
	v.SetDefault("feargreed.request_timeout", "10s")

	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.prefix", "pricefeeder")
	v.SetDefault("cache.expiry", "24h")

	v.SetDefault("ledger.gas_limit", 300000)
	v.SetDefault("ledger.request_timeout", "15s")

	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.health_timeout", "5s")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("export.max_data_points", 100000)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
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
	if _, err := aggregator.ParsePriority(c.Publisher.Priority); err != nil {
		return fmt.Errorf("publisher.priority: %w", err)
	}
	if c.Publisher.PublishInterval <= 0 {
		return fmt.Errorf("publisher.publish_interval must be greater than zero")
	}
	if c.Publisher.SymbolDelay < 0 {
		return fmt.Errorf("publisher.symbol_delay cannot be negative")
	}
	if c.Publisher.Decimals <= 0 || c.Publisher.Decimals > 18 {
		return fmt.Errorf("publisher.decimals must be between 1 and 18")
	}
	if len(c.Publisher.Symbols) == 0 {
		return fmt.Errorf("publisher.symbols cannot be empty")
	}
	known := map[string]bool{"coingecko": true, "cryptocompare": true, "chainlink": true}
	for _, name := range c.Publisher.EnabledProviders {
		if !known[name] {
			return fmt.Errorf("publisher.enabled_providers: unknown provider %q", name)
		}
	}
	switch c.Cache.Backend {
	case "memory":
	case "redis":
		if c.Cache.Redis == "" {
			return fmt.Errorf("cache.redis address required for the redis backend")
		}
	default:
		return fmt.Errorf("cache.backend must be memory or redis")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
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

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
