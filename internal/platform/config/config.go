package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the sync service and CLI.
type Config struct {
	Server    Server          `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	FEC       FECConfig       `mapstructure:"fec"`
	Crosswalk CrosswalkConfig `mapstructure:"crosswalk"`
	Sync      SyncConfig      `mapstructure:"sync"`
	Identity  IdentityConfig  `mapstructure:"identity"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string        `mapstructure:"addr"`
	AdminToken      string        `mapstructure:"admin_token"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	URL             string        `mapstructure:"url"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// RedisConfig is optional; an empty URL keeps rate budgets and run progress
// in process memory.
type RedisConfig struct {
	URL          string        `mapstructure:"url"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// FECConfig configures the upstream campaign-finance API.
type FECConfig struct {
	APIKey             string        `mapstructure:"api_key"`
	BaseURL            string        `mapstructure:"base_url"`
	Timeout            time.Duration `mapstructure:"timeout"`
	PageSize           int           `mapstructure:"page_size"`
	RateLimitPerMinute int           `mapstructure:"rate_limit_per_minute"`
	MaxAttempts        int           `mapstructure:"max_attempts"`
	BackoffInitial     time.Duration `mapstructure:"backoff_initial"`
	BackoffMax         time.Duration `mapstructure:"backoff_max"`
}

type CrosswalkConfig struct {
	URL          string        `mapstructure:"url"`
	TTL          time.Duration `mapstructure:"ttl"`
	SnapshotPath string        `mapstructure:"snapshot_path"`
}

// SyncConfig holds pipeline limits and pacing.
type SyncConfig struct {
	DefaultCycle         int           `mapstructure:"default_cycle"`
	MaxPagesPerCommittee int           `mapstructure:"max_pages_per_committee"`
	MaxRuntime           time.Duration `mapstructure:"max_runtime"`
	MaxIterations        int           `mapstructure:"max_iterations"`
	PageDelay            time.Duration `mapstructure:"page_delay"`
	IterationDelay       time.Duration `mapstructure:"iteration_delay"`
	CandidateDelay       time.Duration `mapstructure:"candidate_delay"`
	IncludeOtherReceipts bool          `mapstructure:"include_other_receipts"`
	ProgressTTL          time.Duration `mapstructure:"progress_ttl"`
}

type IdentityConfig struct {
	MinScore       int `mapstructure:"min_score"`
	AutoApplyScore int `mapstructure:"auto_apply_score"`
}

// KafkaConfig enables sync events when Brokers is non-empty.
type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Server: Server{
			Addr:            ":8080",
			WriteTimeout:    5 * time.Minute,
			ShutdownTimeout: 10 * time.Second,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Redis: RedisConfig{
			PoolSize:     10,
			MinIdleConns: 2,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		FEC: FECConfig{
			BaseURL:            "https://api.open.fec.gov/v1",
			Timeout:            30 * time.Second,
			PageSize:           100,
			RateLimitPerMinute: 60,
			MaxAttempts:        5,
			BackoffInitial:     2 * time.Second,
			BackoffMax:         20 * time.Second,
		},
		Crosswalk: CrosswalkConfig{
			URL: "https://unitedstates.github.io/congress-legislators/legislators-current.yaml",
			TTL: 24 * time.Hour,
		},
		Sync: SyncConfig{
			DefaultCycle:         CurrentCycle(time.Now()),
			MaxPagesPerCommittee: 20,
			MaxRuntime:           50 * time.Second,
			MaxIterations:        25,
			PageDelay:            250 * time.Millisecond,
			IterationDelay:       time.Second,
			CandidateDelay:       2 * time.Second,
			ProgressTTL:          24 * time.Hour,
		},
		Identity: IdentityConfig{
			MinScore:       50,
			AutoApplyScore: 80,
		},
		Kafka: KafkaConfig{
			Topic: "fecsync.sync-events",
		},
		Logging: LoggingConfig{
			Level:  "INFO",
			Format: "json",
		},
	}
}

// CurrentCycle returns the two-year election cycle containing t. Cycles are
// named after their even year.
func CurrentCycle(t time.Time) int {
	year := t.Year()
	if year%2 == 1 {
		return year + 1
	}
	return year
}

// Load reads configuration from an optional fecsync.yaml and FECSYNC_*
// environment variables on top of Default. path may be empty.
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("fecsync")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/fecsync")
	}

	v.SetEnvPrefix("FECSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnv(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || path != "" {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error parsing config: %w", err)
	}
	return cfg, nil
}

// bindEnv registers every key so AutomaticEnv can see values that have no
// config-file entry.
func bindEnv(v *viper.Viper) {
	for _, key := range []string{
		"server.addr", "server.admin_token", "server.write_timeout", "server.shutdown_timeout",
		"database.url", "database.max_open_conns", "database.max_idle_conns", "database.conn_max_lifetime",
		"redis.url", "redis.pool_size", "redis.min_idle_conns",
		"fec.api_key", "fec.base_url", "fec.timeout", "fec.page_size", "fec.rate_limit_per_minute",
		"fec.max_attempts", "fec.backoff_initial", "fec.backoff_max",
		"crosswalk.url", "crosswalk.ttl", "crosswalk.snapshot_path",
		"sync.default_cycle", "sync.max_pages_per_committee", "sync.max_runtime", "sync.max_iterations",
		"sync.page_delay", "sync.iteration_delay", "sync.candidate_delay", "sync.include_other_receipts",
		"sync.progress_ttl",
		"identity.min_score", "identity.auto_apply_score",
		"kafka.brokers", "kafka.topic",
		"logging.level", "logging.format",
	} {
		_ = v.BindEnv(key)
	}
}

// Validate reports configuration errors that make syncing impossible.
func (c *Config) Validate() error {
	if c.FEC.APIKey == "" {
		return errors.New("fec.api_key is required")
	}
	if c.FEC.PageSize <= 0 || c.FEC.PageSize > 100 {
		return fmt.Errorf("fec.page_size must be between 1 and 100, got %d", c.FEC.PageSize)
	}
	if c.FEC.RateLimitPerMinute <= 0 {
		return fmt.Errorf("fec.rate_limit_per_minute must be positive, got %d", c.FEC.RateLimitPerMinute)
	}
	if c.Identity.AutoApplyScore <= c.Identity.MinScore {
		return fmt.Errorf("identity.auto_apply_score (%d) must exceed identity.min_score (%d)",
			c.Identity.AutoApplyScore, c.Identity.MinScore)
	}
	return nil
}
