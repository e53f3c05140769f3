package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/cardcheck/internal/retry"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	d := Default()
	assert.Equal(t, d.Log, cfg.Log)
	assert.Equal(t, d.Translate, cfg.Translate)
	assert.Equal(t, d.Report, cfg.Report)
	assert.Empty(t, cfg.Kafka.Brokers)
	assert.Equal(t, retry.DefaultConfig(), cfg.RetryPolicy())
	assert.Equal(t, "canonical-cards-dlq", cfg.Kafka.DLQTopic)
	assert.Equal(t, 4, cfg.Validator.Workers)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cardcheck.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log:
  level: debug
retry:
  max_attempts: 5
  base_delay: 250ms
translate:
  provider: openai
  model: gpt-4o
kafka:
  brokers: ["kafka-1:9092", "kafka-2:9092"]
report:
  fail_on: NON_COMPLIANT_CRITICAL
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 5, cfg.Retry.MaxAttempts)
	assert.Equal(t, 250*time.Millisecond, cfg.Retry.BaseDelay)
	assert.Equal(t, 2.0, cfg.Retry.BackoffMultiplier, "unset keys keep their defaults")
	assert.Equal(t, "openai", cfg.Translate.Provider)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "NON_COMPLIANT_CRITICAL", cfg.Report.FailOn)
}

func TestLoad_Env(t *testing.T) {
	t.Setenv("CARDCHECK_RETRY_MAX_ATTEMPTS", "7")
	t.Setenv("CARDCHECK_VALIDATOR_WORKERS", "2")
	t.Setenv("CARDCHECK_KAFKA_TOPIC", "cards-v2")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Retry.MaxAttempts)
	assert.Equal(t, 2, cfg.Validator.Workers)
	assert.Equal(t, "cards-v2", cfg.Kafka.Topic)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoad_InvalidValues(t *testing.T) {
	t.Setenv("CARDCHECK_RETRY_MAX_ATTEMPTS", "0")
	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "retry.max_attempts")
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"multiplier", func(c *Config) { c.Retry.BackoffMultiplier = 0.5 }, "backoff_multiplier"},
		{"delay", func(c *Config) { c.Retry.BaseDelay = -time.Second }, "base_delay"},
		{"workers", func(c *Config) { c.Validator.Workers = 0 }, "validator.workers"},
		{"provider", func(c *Config) { c.Translate.Provider = "mistral" }, "translate.provider"},
		{"max tokens", func(c *Config) { c.Translate.MaxTokens = 0 }, "max_tokens"},
		{"fail on", func(c *Config) { c.Report.FailOn = "MOSTLY" }, "report.fail_on"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			cfg := Default()
			c.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), c.want)
		})
	}

	assert.NoError(t, Default().Validate())
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	cfg := Default()
	cfg.Retry.MaxAttempts = 0
	cfg.Validator.Workers = 0
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_attempts")
	assert.Contains(t, err.Error(), "workers")
}
