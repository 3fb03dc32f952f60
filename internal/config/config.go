package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Crawler   CrawlerConfig   `yaml:"crawler" mapstructure:"crawler"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Pricing   PricingConfig   `yaml:"pricing" mapstructure:"pricing"`
	Batch     BatchConfig     `yaml:"batch" mapstructure:"batch"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend. The pool limits apply to the
// postgres driver only.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// CrawlerConfig holds the crawler service connection and callback settings.
// An empty BaseURL disables dispatch entirely.
type CrawlerConfig struct {
	BaseURL             string `yaml:"base_url" mapstructure:"base_url"`
	Token               string `yaml:"token" mapstructure:"token"`
	CallbackURL         string `yaml:"callback_url" mapstructure:"callback_url"`
	CallbackSecret      string `yaml:"callback_secret" mapstructure:"callback_secret"`
	SkipVerifySignature bool   `yaml:"skip_verify_signature" mapstructure:"skip_verify_signature"`
	PollIntervalSecs    int    `yaml:"poll_interval_secs" mapstructure:"poll_interval_secs"`
	CallbackTimeoutSecs int    `yaml:"callback_timeout_secs" mapstructure:"callback_timeout_secs"`
	FreshnessDays       int    `yaml:"freshness_days" mapstructure:"freshness_days"`
}

// AnthropicConfig holds Anthropic API settings for evidence analysis.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int    `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// PricingConfig holds per-provider pricing rates.
type PricingConfig struct {
	APICallUSD   float64                 `yaml:"api_call_usd" mapstructure:"api_call_usd"`
	ProxyCallUSD float64                 `yaml:"proxy_call_usd" mapstructure:"proxy_call_usd"`
	Anthropic    map[string]ModelPricing `yaml:"anthropic" mapstructure:"anthropic"`
}

// ModelPricing holds per-model token pricing (USD per million tokens).
type ModelPricing struct {
	Input  float64 `yaml:"input" mapstructure:"input"`
	Output float64 `yaml:"output" mapstructure:"output"`
}

// BatchConfig configures batch dispatch.
type BatchConfig struct {
	MaxConcurrentJobs int `yaml:"max_concurrent_jobs" mapstructure:"max_concurrent_jobs"`
}

// ServerConfig configures the callback server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("EVIDENCE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("batch.max_concurrent_jobs", 5)
	v.SetDefault("crawler.poll_interval_secs", 15)
	v.SetDefault("crawler.callback_timeout_secs", 300)
	v.SetDefault("crawler.freshness_days", 30)
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 4096)
	v.SetDefault("pricing.api_call_usd", 0.003)
	v.SetDefault("pricing.proxy_call_usd", 0.0008)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
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
