package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"

	"pocketplan/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App          AppConfig          `yaml:"app"`
	Database     DatabaseConfig     `yaml:"database"`
	Remote       RemoteConfig       `yaml:"remote"`
	Sync         SyncConfig         `yaml:"sync"`
	Connectivity ConnectivityConfig `yaml:"connectivity"`
	Redis        RedisConfig        `yaml:"redis"`
	Monitoring   MonitoringConfig   `yaml:"monitoring"`
	Logging      LoggingConfig      `yaml:"logging"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type RemoteConfig struct {
	BaseURL        string  `yaml:"base_url"`
	Token          string  `yaml:"token"`
	TimeoutSeconds int     `yaml:"timeout_seconds"`
	RateLimitRPS   float64 `yaml:"rate_limit_rps"`
	RateLimitBurst int     `yaml:"rate_limit_burst"`
}

type SyncConfig struct {
	IntervalSeconds     int     `yaml:"interval_seconds"`
	FlushFanOut         int     `yaml:"flush_fan_out"`
	FlushBatchSize      int     `yaml:"flush_batch_size"`
	MaxRetries          int     `yaml:"max_retries"`
	InitialDelaySeconds int     `yaml:"initial_delay_seconds"`
	MaxDelaySeconds     int     `yaml:"max_delay_seconds"`
	BackoffFactor       float64 `yaml:"backoff_factor"`
}

type ConnectivityConfig struct {
	ProbeAddress    string `yaml:"probe_address"`
	IntervalSeconds int    `yaml:"interval_seconds"`
	StableSeconds   int    `yaml:"stable_seconds"`
}

type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

func Load(configPath string) (*Config, error) {
	// Загружаем .env файл если существует
	if err := godotenv.Load(".env"); err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	// Предварительная замена переменных окружения в YAML
	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return errors.New("database path is required")
	}

	if c.Remote.BaseURL == "" {
		return errors.New("remote base_url is required")
	}
	if _, err := url.ParseRequestURI(c.Remote.BaseURL); err != nil {
		return fmt.Errorf("remote base_url is invalid: %w", err)
	}

	if c.Redis.Enabled && c.Redis.Address == "" {
		return errors.New("redis address is required when redis is enabled")
	}

	if c.Sync.BackoffFactor < 0 {
		return errors.New("sync backoff_factor must not be negative")
	}

	return nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "pocketplan-syncd"
	}

	if c.Remote.TimeoutSeconds == 0 {
		c.Remote.TimeoutSeconds = models.DefaultRequestTimeoutSeconds
	}
	if c.Remote.RateLimitRPS == 0 {
		c.Remote.RateLimitRPS = 10
	}
	if c.Remote.RateLimitBurst == 0 {
		c.Remote.RateLimitBurst = 20
	}

	if c.Sync.IntervalSeconds == 0 {
		c.Sync.IntervalSeconds = models.DefaultSyncIntervalSeconds
	}
	if c.Sync.FlushFanOut == 0 {
		c.Sync.FlushFanOut = models.DefaultFlushFanOut
	}
	if c.Sync.FlushBatchSize == 0 {
		c.Sync.FlushBatchSize = models.DefaultFlushBatchSize
	}
	if c.Sync.MaxRetries == 0 {
		c.Sync.MaxRetries = models.DefaultMaxRetries
	}
	if c.Sync.InitialDelaySeconds == 0 {
		c.Sync.InitialDelaySeconds = 2
	}
	if c.Sync.MaxDelaySeconds == 0 {
		c.Sync.MaxDelaySeconds = 60
	}
	if c.Sync.BackoffFactor == 0 {
		c.Sync.BackoffFactor = 2
	}

	if c.Connectivity.IntervalSeconds == 0 {
		c.Connectivity.IntervalSeconds = models.DefaultProbeIntervalSeconds
	}
	if c.Connectivity.StableSeconds == 0 {
		c.Connectivity.StableSeconds = models.DefaultStableSeconds
	}

	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
}
