// Package config loads cardcheck settings from an optional YAML file and
// CARDCHECK_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/dshills/cardcheck/internal/retry"
	"github.com/dshills/cardcheck/internal/schema"
	"github.com/dshills/cardcheck/internal/sink"
)

// EnvPrefix is prepended to every environment override, e.g.
// CARDCHECK_RETRY_MAX_ATTEMPTS.
const EnvPrefix = "CARDCHECK"

// Config holds all cardcheck settings.
type Config struct {
	Log       LogConfig       `mapstructure:"log"`
	Retry     RetryConfig     `mapstructure:"retry"`
	Validator ValidatorConfig `mapstructure:"validator"`
	Translate TranslateConfig `mapstructure:"translate"`
	Kafka     sink.Config     `mapstructure:"kafka"`
	Report    ReportConfig    `mapstructure:"report"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// RetryConfig is the provider-call backoff policy.
type RetryConfig struct {
	MaxAttempts       int           `mapstructure:"max_attempts"`
	BackoffMultiplier float64       `mapstructure:"backoff_multiplier"`
	BaseDelay         time.Duration `mapstructure:"base_delay"`
}

// ValidatorConfig configures batch validation.
type ValidatorConfig struct {
	Workers int `mapstructure:"workers"`
}

// TranslateConfig selects the LLM used by the translate command.
type TranslateConfig struct {
	Provider    string  `mapstructure:"provider"`
	Model       string  `mapstructure:"model"`
	MaxTokens   int     `mapstructure:"max_tokens"`
	Temperature float64 `mapstructure:"temperature"`
}

// ReportConfig configures compliance reporting.
type ReportConfig struct {
	// FailOn is a compliance status; a report at or beyond it fails the run.
	FailOn string `mapstructure:"fail_on"`
}

// knownProviders lists the accepted translate.provider values.
var knownProviders = map[string]bool{"anthropic": true, "openai": true, "google": true}

// Load reads configuration. path may be empty, in which case only defaults
// and environment variables apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &cfg, nil
}

// Default returns the configuration produced by Load with no file and no
// environment overrides.
func Default() *Config {
	d := retry.DefaultConfig()
	return &Config{
		Log:       LogConfig{Level: "info"},
		Retry:     RetryConfig{MaxAttempts: d.MaxAttempts, BackoffMultiplier: d.BackoffMultiplier, BaseDelay: d.BaseDelay},
		Validator: ValidatorConfig{Workers: 4},
		Translate: TranslateConfig{Provider: "anthropic", Model: "claude-sonnet-4-5", MaxTokens: 4096},
		Kafka:     sink.Config{Brokers: []string{}, Topic: "canonical-cards", DLQTopic: "canonical-cards-dlq"},
	}
}

func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.development", d.Log.Development)

	v.SetDefault("retry.max_attempts", d.Retry.MaxAttempts)
	v.SetDefault("retry.backoff_multiplier", d.Retry.BackoffMultiplier)
	v.SetDefault("retry.base_delay", d.Retry.BaseDelay)

	v.SetDefault("validator.workers", d.Validator.Workers)

	v.SetDefault("translate.provider", d.Translate.Provider)
	v.SetDefault("translate.model", d.Translate.Model)
	v.SetDefault("translate.max_tokens", d.Translate.MaxTokens)
	v.SetDefault("translate.temperature", d.Translate.Temperature)

	v.SetDefault("kafka.brokers", d.Kafka.Brokers)
	v.SetDefault("kafka.topic", d.Kafka.Topic)
	v.SetDefault("kafka.dlq_topic", d.Kafka.DLQTopic)

	v.SetDefault("report.fail_on", d.Report.FailOn)
}

// Validate checks the configuration for values no component can run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("retry.max_attempts must be >= 1, got %d", c.Retry.MaxAttempts))
	}
	if c.Retry.BackoffMultiplier < 1 {
		errs = append(errs, fmt.Errorf("retry.backoff_multiplier must be >= 1, got %g", c.Retry.BackoffMultiplier))
	}
	if c.Retry.BaseDelay < 0 {
		errs = append(errs, fmt.Errorf("retry.base_delay must not be negative, got %s", c.Retry.BaseDelay))
	}
	if c.Validator.Workers < 1 {
		errs = append(errs, fmt.Errorf("validator.workers must be >= 1, got %d", c.Validator.Workers))
	}
	if !knownProviders[strings.ToLower(c.Translate.Provider)] {
		errs = append(errs, fmt.Errorf("translate.provider %q is not one of anthropic, openai, google", c.Translate.Provider))
	}
	if c.Translate.MaxTokens < 1 {
		errs = append(errs, fmt.Errorf("translate.max_tokens must be >= 1, got %d", c.Translate.MaxTokens))
	}
	if c.Report.FailOn != "" {
		if _, err := schema.ParseStatus(c.Report.FailOn); err != nil {
			errs = append(errs, fmt.Errorf("report.fail_on: %w", err))
		}
	}
	return errors.Join(errs...)
}

// RetryPolicy converts the retry settings to a retry.Config.
func (c *Config) RetryPolicy() retry.Config {
	return retry.Config{
		MaxAttempts:       c.Retry.MaxAttempts,
		BackoffMultiplier: c.Retry.BackoffMultiplier,
		BaseDelay:         c.Retry.BaseDelay,
	}
}
