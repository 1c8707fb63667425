package config

import (
	"fmt"

	"github.com/spf13/viper"
)

type Config struct {
	Port           int      `mapstructure:"port"`
	DatabasePath   string   `mapstructure:"database_path"`
	LogLevel       string   `mapstructure:"log_level"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`

	// Ingestion buffer
	FlushIntervalSec int `mapstructure:"flush_interval_sec"` // Periodic flush cadence
	FlushBatchSize   int `mapstructure:"flush_batch_size"`   // Per-entity queue size that triggers an immediate flush
	RetryQueueMax    int `mapstructure:"retry_queue_max"`    // Per-entity cap on retained unflushed snapshots; drop-oldest beyond

	// Alerting
	AlertEvalIntervalSec int `mapstructure:"alert_eval_interval_sec"`
	EntityBlockMinutes   int `mapstructure:"entity_block_minutes"` // Duration of security blocks

	// Dashboard / permissions
	DashboardCacheTTLSec  int `mapstructure:"dashboard_cache_ttl_sec"`
	PermissionCacheTTLSec int `mapstructure:"permission_cache_ttl_sec"`

	// Outbound call timeouts; a slow dependency must never stall a loop
	StoreTimeoutSec  int `mapstructure:"store_timeout_sec"`
	NotifyTimeoutSec int `mapstructure:"notify_timeout_sec"`

	RequestTimeoutSec  int `mapstructure:"request_timeout_sec"`
	ShutdownTimeoutSec int `mapstructure:"shutdown_timeout_sec"`

	// Per-IP rate limiting; 0 disables
	RateLimitPerMin int `mapstructure:"rate_limit_per_min"`
	RateLimitBurst  int `mapstructure:"rate_limit_burst"`

	// Optional alert webhook; empty disables the webhook notifier
	AlertWebhookURL string `mapstructure:"alert_webhook_url"`

	// Role mapping for the static permission resolver
	AdminRoles       map[string]string `mapstructure:"admin_roles"`
	DefaultAdminRole string            `mapstructure:"default_admin_role"`
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("/etc/opsdeck/")
	viper.AddConfigPath("$HOME/.opsdeck")
	viper.AddConfigPath(".")

	// Defaults
	viper.SetDefault("port", 8080)
	viper.SetDefault("database_path", "./opsdeck.db")
	viper.SetDefault("log_level", "info")
	viper.SetDefault("allowed_origins", []string{"*"})
	viper.SetDefault("flush_interval_sec", 30)
	viper.SetDefault("flush_batch_size", 100)
	viper.SetDefault("retry_queue_max", 1000)
	viper.SetDefault("alert_eval_interval_sec", 300)
	viper.SetDefault("entity_block_minutes", 30)
	viper.SetDefault("dashboard_cache_ttl_sec", 300)
	viper.SetDefault("permission_cache_ttl_sec", 600)
	viper.SetDefault("store_timeout_sec", 10)
	viper.SetDefault("notify_timeout_sec", 5)
	viper.SetDefault("request_timeout_sec", 30)
	viper.SetDefault("shutdown_timeout_sec", 15)
	viper.SetDefault("rate_limit_per_min", 120)
	viper.SetDefault("rate_limit_burst", 120)
	viper.SetDefault("alert_webhook_url", "")
	viper.SetDefault("default_admin_role", "viewer")

	// Environment variables
	viper.SetEnvPrefix("OPSDECK")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Config file not found; using defaults and env vars
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}
