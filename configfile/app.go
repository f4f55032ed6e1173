package configfile

import (
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-mantis/core"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type HTTPConfig struct {
	Addr                   string `yaml:"addr"`
	ReadTimeoutSeconds     int    `yaml:"read_timeout_seconds"`
	WriteTimeoutSeconds    int    `yaml:"write_timeout_seconds"`
	ShutdownTimeoutSeconds int    `yaml:"shutdown_timeout_seconds"`
}

type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
	Debug  bool   `yaml:"debug"`
}

type CacheConfig struct {
	SubscriptionTTLSeconds int `yaml:"subscription_ttl_seconds"`
}

// WorkerConfig drives the in-process job runner used by serve. The schedule
// itself still comes from outside: the runner only drains queued jobs.
type WorkerConfig struct {
	Enabled             bool `yaml:"enabled"`
	PollIntervalSeconds int  `yaml:"poll_interval_seconds"`
	RetryDelaySeconds   int  `yaml:"retry_delay_seconds"`
}

// SecurityConfig enables at-rest sealing of webhook signing secrets when
// AppKey is set.
type SecurityConfig struct {
	AppKey     string `yaml:"app_key"`
	KeyID      string `yaml:"key_id"`
	KeyVersion int    `yaml:"key_version"`
}

// AppConfig holds the keys owned by the command line shell.
type AppConfig struct {
	HTTP     HTTPConfig     `yaml:"http"`
	Database DatabaseConfig `yaml:"database"`
	Cache    CacheConfig    `yaml:"cache"`
	Worker   WorkerConfig   `yaml:"worker"`
	Security SecurityConfig `yaml:"security"`
}

// syncDispatchWriteTimeout covers a synchronous POST /webhooks/process run
// with the default batch, where every send may hit its timeout. Larger batches
// or slower receivers should use ?async=true or raise write_timeout_seconds.
func syncDispatchWriteTimeout() int {
	webhooks := core.DefaultWebhookConfig()
	return webhooks.BatchSize*webhooks.DefaultTimeoutSeconds + 30
}

func DefaultAppConfig() AppConfig {
	return AppConfig{
		HTTP: HTTPConfig{
			Addr:                   ":8080",
			ReadTimeoutSeconds:     15,
			WriteTimeoutSeconds:    syncDispatchWriteTimeout(),
			ShutdownTimeoutSeconds: 10,
		},
		Database: DatabaseConfig{
			Driver: DriverSQLite,
			DSN:    "file:mantis.db?cache=shared&_pragma=busy_timeout(5000)",
		},
		Cache: CacheConfig{
			SubscriptionTTLSeconds: 30,
		},
		Worker: WorkerConfig{
			PollIntervalSeconds: 1,
			RetryDelaySeconds:   30,
		},
	}
}

func (c AppConfig) Normalized() AppConfig {
	defaults := DefaultAppConfig()
	c.HTTP.Addr = strings.TrimSpace(c.HTTP.Addr)
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = defaults.HTTP.Addr
	}
	if c.HTTP.ReadTimeoutSeconds <= 0 {
		c.HTTP.ReadTimeoutSeconds = defaults.HTTP.ReadTimeoutSeconds
	}
	if c.HTTP.WriteTimeoutSeconds <= 0 {
		c.HTTP.WriteTimeoutSeconds = defaults.HTTP.WriteTimeoutSeconds
	}
	if c.HTTP.ShutdownTimeoutSeconds <= 0 {
		c.HTTP.ShutdownTimeoutSeconds = defaults.HTTP.ShutdownTimeoutSeconds
	}
	c.Database.Driver = strings.ToLower(strings.TrimSpace(c.Database.Driver))
	if c.Database.Driver == "" {
		c.Database.Driver = defaults.Database.Driver
	}
	if c.Database.Driver == "postgresql" || c.Database.Driver == "pg" {
		c.Database.Driver = DriverPostgres
	}
	if c.Database.Driver == "sqlite3" {
		c.Database.Driver = DriverSQLite
	}
	if strings.TrimSpace(c.Database.DSN) == "" && c.Database.Driver == DriverSQLite {
		c.Database.DSN = defaults.Database.DSN
	}
	if c.Cache.SubscriptionTTLSeconds < 0 {
		c.Cache.SubscriptionTTLSeconds = 0
	}
	if c.Worker.PollIntervalSeconds <= 0 {
		c.Worker.PollIntervalSeconds = defaults.Worker.PollIntervalSeconds
	}
	if c.Worker.RetryDelaySeconds <= 0 {
		c.Worker.RetryDelaySeconds = defaults.Worker.RetryDelaySeconds
	}
	return c
}

func (c AppConfig) Validate() error {
	switch c.Database.Driver {
	case DriverPostgres, DriverSQLite:
	default:
		return fmt.Errorf("configfile: unsupported database.driver %q", c.Database.Driver)
	}
	if strings.TrimSpace(c.Database.DSN) == "" {
		return fmt.Errorf("configfile: database.dsn is required for %s", c.Database.Driver)
	}
	return nil
}

func (c HTTPConfig) ReadTimeout() time.Duration {
	return time.Duration(c.ReadTimeoutSeconds) * time.Second
}

func (c HTTPConfig) WriteTimeout() time.Duration {
	return time.Duration(c.WriteTimeoutSeconds) * time.Second
}

func (c HTTPConfig) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutSeconds) * time.Second
}

// SubscriptionTTL is zero when the subscription cache is disabled.
func (c CacheConfig) SubscriptionTTL() time.Duration {
	return time.Duration(c.SubscriptionTTLSeconds) * time.Second
}

func (c WorkerConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

func (c WorkerConfig) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelaySeconds) * time.Second
}

type WebhookConfigApplier interface {
	ApplyWebhookConfig(cfg core.WebhookConfig) error
}

// BindWebhookReload re-applies dispatcher settings every time the file
// changes. Other service keys need a restart.
func BindWebhookReload(loader *Loader, target WebhookConfigApplier, logger core.Logger) {
	if loader == nil || target == nil {
		return
	}
	if logger == nil {
		logger = loader.logger
	}
	loader.OnChange(func(snapshot Snapshot) {
		cfg, err := snapshot.ServiceConfig(core.DefaultConfig())
		if err != nil {
			logger.Warn("webhook config reload skipped", "error", err.Error())
			return
		}
		if err := target.ApplyWebhookConfig(cfg.Webhooks); err != nil {
			logger.Warn("webhook config reload rejected", "error", err.Error())
			return
		}
		logger.Info("webhook config applied",
			"batch_size", cfg.Webhooks.BatchSize,
			"concurrency", cfg.Webhooks.Concurrency,
		)
	})
}
