package core

import (
	"fmt"
	"strings"
	"time"
)

const (
	defaultWebhookBatchSize       = 10
	defaultWebhookTimeout         = 30 * time.Second
	defaultWebhookBackoffBase     = time.Minute
	defaultWebhookMaxBackoff      = 6 * time.Hour
	defaultWebhookClaimLease      = 5 * time.Minute
	defaultWebhookResponseBodyMax = 64 << 10
	defaultWebhookUserAgent       = "mantis-webhooks/1.0"
)

type ReconciliationConfig struct {
	// Timezone names the location used to resolve a reconciliation day.
	Timezone string `koanf:"timezone" mapstructure:"timezone"`
}

type WebhookConfig struct {
	BatchSize             int    `koanf:"batch_size" mapstructure:"batch_size"`
	Concurrency           int    `koanf:"concurrency" mapstructure:"concurrency"`
	DefaultTimeoutSeconds int    `koanf:"default_timeout_seconds" mapstructure:"default_timeout_seconds"`
	BackoffBaseSeconds    int    `koanf:"backoff_base_seconds" mapstructure:"backoff_base_seconds"`
	MaxBackoffSeconds     int    `koanf:"max_backoff_seconds" mapstructure:"max_backoff_seconds"`
	ClaimLeaseSeconds     int    `koanf:"claim_lease_seconds" mapstructure:"claim_lease_seconds"`
	MaxResponseBodyBytes  int64  `koanf:"max_response_body_bytes" mapstructure:"max_response_body_bytes"`
	UserAgent             string `koanf:"user_agent" mapstructure:"user_agent"`
}

type Config struct {
	ServiceName    string               `koanf:"service_name" mapstructure:"service_name"`
	Reconciliation ReconciliationConfig `koanf:"reconciliation" mapstructure:"reconciliation"`
	Webhooks       WebhookConfig        `koanf:"webhooks" mapstructure:"webhooks"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName: "mantis",
		Reconciliation: ReconciliationConfig{
			Timezone: "UTC",
		},
		Webhooks: DefaultWebhookConfig(),
	}
}

func DefaultWebhookConfig() WebhookConfig {
	return WebhookConfig{
		BatchSize:             defaultWebhookBatchSize,
		Concurrency:           1,
		DefaultTimeoutSeconds: int(defaultWebhookTimeout / time.Second),
		BackoffBaseSeconds:    int(defaultWebhookBackoffBase / time.Second),
		MaxBackoffSeconds:     int(defaultWebhookMaxBackoff / time.Second),
		ClaimLeaseSeconds:     int(defaultWebhookClaimLease / time.Second),
		MaxResponseBodyBytes:  defaultWebhookResponseBodyMax,
		UserAgent:             defaultWebhookUserAgent,
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	if _, err := c.Reconciliation.Location(); err != nil {
		return err
	}
	return c.Webhooks.Validate()
}

// Location resolves the configured timezone, UTC when unset.
func (c ReconciliationConfig) Location() (*time.Location, error) {
	name := strings.TrimSpace(c.Timezone)
	if name == "" || strings.EqualFold(name, "utc") {
		return time.UTC, nil
	}
	location, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("core: invalid reconciliation.timezone %q: %w", name, err)
	}
	return location, nil
}

func (c WebhookConfig) Validate() error {
	if c.BatchSize < 0 {
		return fmt.Errorf("core: webhooks.batch_size must be >= 0")
	}
	if c.Concurrency < 0 {
		return fmt.Errorf("core: webhooks.concurrency must be >= 0")
	}
	if c.BackoffBaseSeconds < 0 || c.MaxBackoffSeconds < 0 {
		return fmt.Errorf("core: webhooks backoff seconds must be >= 0")
	}
	if c.BackoffBaseSeconds > 0 && c.MaxBackoffSeconds > 0 && c.MaxBackoffSeconds < c.BackoffBaseSeconds {
		return fmt.Errorf("core: webhooks.max_backoff_seconds must be >= backoff_base_seconds")
	}
	return nil
}

// Normalized fills zero values with defaults.
func (c WebhookConfig) Normalized() WebhookConfig {
	defaults := DefaultWebhookConfig()
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.Concurrency <= 0 {
		c.Concurrency = defaults.Concurrency
	}
	if c.DefaultTimeoutSeconds <= 0 {
		c.DefaultTimeoutSeconds = defaults.DefaultTimeoutSeconds
	}
	if c.BackoffBaseSeconds <= 0 {
		c.BackoffBaseSeconds = defaults.BackoffBaseSeconds
	}
	if c.MaxBackoffSeconds <= 0 {
		c.MaxBackoffSeconds = defaults.MaxBackoffSeconds
	}
	if c.ClaimLeaseSeconds <= 0 {
		c.ClaimLeaseSeconds = defaults.ClaimLeaseSeconds
	}
	if c.MaxResponseBodyBytes <= 0 {
		c.MaxResponseBodyBytes = defaults.MaxResponseBodyBytes
	}
	if strings.TrimSpace(c.UserAgent) == "" {
		c.UserAgent = defaults.UserAgent
	}
	return c
}

func (c WebhookConfig) DefaultTimeout() time.Duration {
	return time.Duration(c.Normalized().DefaultTimeoutSeconds) * time.Second
}

func (c WebhookConfig) BackoffBase() time.Duration {
	return time.Duration(c.Normalized().BackoffBaseSeconds) * time.Second
}

func (c WebhookConfig) MaxBackoff() time.Duration {
	return time.Duration(c.Normalized().MaxBackoffSeconds) * time.Second
}

func (c WebhookConfig) ClaimLease() time.Duration {
	return time.Duration(c.Normalized().ClaimLeaseSeconds) * time.Second
}
