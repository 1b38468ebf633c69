// File: internal/config/config.go
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger      LoggerConfig      `mapstructure:"logger" yaml:"logger"`
	Browser     BrowserConfig     `mapstructure:"browser" yaml:"browser"`
	Mailbox     MailboxConfig     `mapstructure:"mailbox" yaml:"mailbox"`
	Provisioner ProvisionerConfig `mapstructure:"provisioner" yaml:"provisioner"`
	Lifecycle   LifecycleConfig   `mapstructure:"lifecycle" yaml:"lifecycle"`
	Store       StoreConfig       `mapstructure:"store" yaml:"store"`
	Metrics     MetricsConfig     `mapstructure:"metrics" yaml:"metrics"`
}

// LoggerConfig defines the configuration for the logging system.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// BrowserConfig configures the headless Chrome instances launched per run.
type BrowserConfig struct {
	Headless   bool     `mapstructure:"headless" yaml:"headless"`
	DisableGPU bool     `mapstructure:"disable_gpu" yaml:"disable_gpu"`
	Args       []string `mapstructure:"args" yaml:"args"`
	UserAgent  string   `mapstructure:"user_agent" yaml:"user_agent"`
	// ExecPath overrides Chrome discovery. A bare name is looked up on PATH.
	ExecPath string `mapstructure:"exec_path" yaml:"exec_path"`
	// ActionTimeout bounds a single click or fill.
	ActionTimeout     time.Duration `mapstructure:"action_timeout" yaml:"action_timeout"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
}

// MailboxConfig configures the disposable mailbox API client.
type MailboxConfig struct {
	BaseURL      string        `mapstructure:"base_url" yaml:"base_url"`
	HTTPTimeout  time.Duration `mapstructure:"http_timeout" yaml:"http_timeout"`
	PollTimeout  time.Duration `mapstructure:"poll_timeout" yaml:"poll_timeout"`
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	DomainLimit  int           `mapstructure:"domain_limit" yaml:"domain_limit"`
	// RequestsPerSecond throttles calls against the mailbox provider.
	RequestsPerSecond float64 `mapstructure:"requests_per_second" yaml:"requests_per_second"`
	// ProxyURL routes mailbox API traffic through an http, https or socks5 proxy.
	ProxyURL string `mapstructure:"proxy_url" yaml:"proxy_url"`
}

// RetryConfig controls the outer retry loop around a whole provisioning run.
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	Delay       time.Duration `mapstructure:"delay" yaml:"delay"`
}

// ProvisionerConfig holds the target site and the timing of the sign-up flow.
type ProvisionerConfig struct {
	SignUpURL        string `mapstructure:"signup_url" yaml:"signup_url"`
	LoginURL         string `mapstructure:"login_url" yaml:"login_url"`
	SubscriptionsURL string `mapstructure:"subscriptions_url" yaml:"subscriptions_url"`
	// SenderKeyword filters verification mails by sender.
	SenderKeyword string `mapstructure:"sender_keyword" yaml:"sender_keyword"`
	FirstName     string `mapstructure:"first_name" yaml:"first_name"`
	LastName      string `mapstructure:"last_name" yaml:"last_name"`

	FormTimeout     time.Duration `mapstructure:"form_timeout" yaml:"form_timeout"`
	NavigationWait  time.Duration `mapstructure:"navigation_wait" yaml:"navigation_wait"`
	ValidationPause time.Duration `mapstructure:"validation_pause" yaml:"validation_pause"`
	VerifyPause     time.Duration `mapstructure:"verify_pause" yaml:"verify_pause"`
	TrialPause      time.Duration `mapstructure:"trial_pause" yaml:"trial_pause"`
	SettleDelay     time.Duration `mapstructure:"settle_delay" yaml:"settle_delay"`
	// EnablePollInterval is the base unit of the enabled-state polls on submit controls.
	EnablePollInterval time.Duration `mapstructure:"enable_poll_interval" yaml:"enable_poll_interval"`

	Retry RetryConfig `mapstructure:"retry" yaml:"retry"`
}

// LifecycleConfig holds the quota and expiry policy.
type LifecycleConfig struct {
	MaxActive     int           `mapstructure:"max_active" yaml:"max_active"`
	Cooldown      time.Duration `mapstructure:"cooldown" yaml:"cooldown"`
	Lifetime      time.Duration `mapstructure:"lifetime" yaml:"lifetime"`
	NotifyWindow  time.Duration `mapstructure:"notify_window" yaml:"notify_window"`
	SweepInterval time.Duration `mapstructure:"sweep_interval" yaml:"sweep_interval"`
}

// Store drivers.
const (
	StoreDriverFile     = "file"
	StoreDriverSQLite   = "sqlite"
	StoreDriverPostgres = "postgres"
)

// StoreConfig selects and configures the account repository.
type StoreConfig struct {
	Driver string `mapstructure:"driver" yaml:"driver"`
	// Path is used by the file and sqlite drivers.
	Path string `mapstructure:"path" yaml:"path"`
	// URL is the postgres connection string.
	URL string `mapstructure:"url" yaml:"url"`
}

// MetricsConfig configures the Prometheus endpoint served by `serve`.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Addr    string `mapstructure:"addr" yaml:"addr"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "trialctl")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.disable_gpu", true)
	v.SetDefault("browser.args", []string{})
	v.SetDefault("browser.user_agent", "")
	v.SetDefault("browser.exec_path", "")
	v.SetDefault("browser.action_timeout", "30s")
	v.SetDefault("browser.navigation_timeout", "60s")

	// -- Mailbox --
	v.SetDefault("mailbox.base_url", "https://tinyhost.shop")
	v.SetDefault("mailbox.http_timeout", "15s")
	v.SetDefault("mailbox.poll_timeout", "5m")
	v.SetDefault("mailbox.poll_interval", "3s")
	v.SetDefault("mailbox.domain_limit", 10)
	v.SetDefault("mailbox.requests_per_second", 2.0)
	v.SetDefault("mailbox.proxy_url", "")

	// -- Provisioner --
	v.SetDefault("provisioner.signup_url", "")
	v.SetDefault("provisioner.login_url", "")
	v.SetDefault("provisioner.subscriptions_url", "")
	v.SetDefault("provisioner.sender_keyword", "")
	v.SetDefault("provisioner.first_name", "John")
	v.SetDefault("provisioner.last_name", "Doe")
	v.SetDefault("provisioner.form_timeout", "30s")
	v.SetDefault("provisioner.navigation_wait", "30s")
	v.SetDefault("provisioner.validation_pause", "2s")
	v.SetDefault("provisioner.verify_pause", "2s")
	v.SetDefault("provisioner.trial_pause", "2s")
	v.SetDefault("provisioner.settle_delay", "5s")
	v.SetDefault("provisioner.enable_poll_interval", "500ms")
	v.SetDefault("provisioner.retry.max_attempts", 3)
	v.SetDefault("provisioner.retry.delay", "2500ms")

	// -- Lifecycle --
	v.SetDefault("lifecycle.max_active", 3)
	v.SetDefault("lifecycle.cooldown", "5m")
	v.SetDefault("lifecycle.lifetime", "72h")
	v.SetDefault("lifecycle.notify_window", "24h")
	v.SetDefault("lifecycle.sweep_interval", "1h")

	// -- Store --
	v.SetDefault("store.driver", StoreDriverFile)
	v.SetDefault("store.path", "~/.trialctl/accounts.toml")
	v.SetDefault("store.url", "")

	// -- Metrics --
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.addr", ":9464")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// The connection string usually carries a password; keep it out of config files.
	_ = v.BindEnv("store.url", "TRIALCTL_DATABASE_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
// Provisioner targets are checked separately by ProvisionerConfig.Validate,
// since commands that only read the store never need them.
func (c *Config) Validate() error {
	if c.Mailbox.PollInterval <= 0 {
		return fmt.Errorf("mailbox.poll_interval must be positive")
	}
	if c.Mailbox.PollTimeout <= 0 {
		return fmt.Errorf("mailbox.poll_timeout must be positive")
	}
	if c.Provisioner.Retry.MaxAttempts < 1 {
		return fmt.Errorf("provisioner.retry.max_attempts must be at least 1")
	}
	if c.Provisioner.Retry.Delay < 0 {
		return fmt.Errorf("provisioner.retry.delay must not be negative")
	}
	if err := c.Lifecycle.Validate(); err != nil {
		return err
	}
	return c.Store.Validate()
}

// Validate checks the quota and expiry policy.
func (l LifecycleConfig) Validate() error {
	if l.MaxActive <= 0 {
		return fmt.Errorf("lifecycle.max_active must be a positive integer")
	}
	if l.Cooldown < 0 {
		return fmt.Errorf("lifecycle.cooldown must not be negative")
	}
	if l.Lifetime <= 0 {
		return fmt.Errorf("lifecycle.lifetime must be positive")
	}
	if l.NotifyWindow <= 0 || l.NotifyWindow > l.Lifetime {
		return fmt.Errorf("lifecycle.notify_window must be positive and not exceed lifecycle.lifetime")
	}
	if l.SweepInterval <= 0 {
		return fmt.Errorf("lifecycle.sweep_interval must be positive")
	}
	return nil
}

// Validate checks that the selected driver has what it needs.
func (s StoreConfig) Validate() error {
	switch strings.ToLower(s.Driver) {
	case StoreDriverFile, StoreDriverSQLite:
		if s.Path == "" {
			return fmt.Errorf("store.path is required for the %q driver", s.Driver)
		}
	case StoreDriverPostgres:
		if s.URL == "" {
			return fmt.Errorf("store.url is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unsupported store.driver %q (supported: file, sqlite, postgres)", s.Driver)
	}
	return nil
}

// Validate checks that the target site is fully described.
func (p ProvisionerConfig) Validate() error {
	for key, raw := range map[string]string{
		"provisioner.signup_url":        p.SignUpURL,
		"provisioner.login_url":         p.LoginURL,
		"provisioner.subscriptions_url": p.SubscriptionsURL,
	} {
		if raw == "" {
			return fmt.Errorf("%s is a required configuration field", key)
		}
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("%s must be an absolute URL, got %q", key, raw)
		}
	}
	if p.SenderKeyword == "" {
		return fmt.Errorf("provisioner.sender_keyword is a required configuration field")
	}
	if p.FormTimeout <= 0 {
		return fmt.Errorf("provisioner.form_timeout must be positive")
	}
	return nil
}
