package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	JWT      JWTConfig      `mapstructure:"jwt"`
	Webhook  WebhookConfig  `mapstructure:"webhook"`
	Queue    QueueConfig    `mapstructure:"queue"`
	Worker   WorkerConfig   `mapstructure:"worker"`
	Approval ApprovalConfig `mapstructure:"approval"`
	Dispatch DispatchConfig `mapstructure:"dispatch"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

type DatabaseConfig struct {
	Path           string        `mapstructure:"path"`
	MaxConnections int           `mapstructure:"max_connections"`
	BusyTimeout    time.Duration `mapstructure:"busy_timeout"`
}

type JWTConfig struct {
	Secret         string        `mapstructure:"secret"`
	AccessTokenTTL time.Duration `mapstructure:"access_token_ttl"`
}

type WebhookConfig struct {
	// SignatureWindow bounds how far a signed timestamp may drift from
	// server time, in either direction.
	SignatureWindow   time.Duration     `mapstructure:"signature_window"`
	DedupWindow       time.Duration     `mapstructure:"dedup_window"`
	MaxBodyBytes      int64             `mapstructure:"max_body_bytes"`
	SourceSecrets     map[string]string `mapstructure:"source_secrets"`
	UnverifiedSources []string          `mapstructure:"unverified_sources"`
	RatePerSecond     float64           `mapstructure:"rate_per_second"`
	RateBurst         int               `mapstructure:"rate_burst"`
}

type QueueConfig struct {
	Backoff           []time.Duration `mapstructure:"backoff"`
	MaxRetries        int             `mapstructure:"max_retries"`
	VisibilityTimeout time.Duration   `mapstructure:"visibility_timeout"`
}

type WorkerConfig struct {
	Concurrency  int           `mapstructure:"concurrency"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

type ApprovalConfig struct {
	DefaultTimeout      time.Duration `mapstructure:"default_timeout"`
	MaxEscalations      int           `mapstructure:"max_escalations"`
	ConfidenceThreshold float64       `mapstructure:"confidence_threshold"`
	MinConfidence       float64       `mapstructure:"min_confidence"`
}

type DispatchConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

type CacheConfig struct {
	WorkflowTTL time.Duration `mapstructure:"workflow_ttl"`
	MaxEntries  int           `mapstructure:"max_entries"`
}

type LoggingConfig struct {
	Level    string `mapstructure:"level"`
	Format   string `mapstructure:"format"`
	Output   string `mapstructure:"output"`
	FilePath string `mapstructure:"file_path"`
}

func Load(path string) (*Config, error) {
	viper.SetConfigFile(path)
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		return nil, err
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("database.max_connections", 10)
	viper.SetDefault("database.busy_timeout", "5s")
	viper.SetDefault("webhook.signature_window", "300s")
	viper.SetDefault("webhook.dedup_window", "600s")
	viper.SetDefault("webhook.max_body_bytes", 1048576)
	viper.SetDefault("webhook.rate_per_second", 50)
	viper.SetDefault("webhook.rate_burst", 100)
	viper.SetDefault("queue.backoff", []string{"5s", "30s", "300s"})
	viper.SetDefault("queue.max_retries", 3)
	viper.SetDefault("queue.visibility_timeout", "120s")
	viper.SetDefault("worker.concurrency", 4)
	viper.SetDefault("worker.poll_interval", "1s")
	viper.SetDefault("approval.default_timeout", "24h")
	viper.SetDefault("approval.max_escalations", 2)
	viper.SetDefault("approval.confidence_threshold", 0.9)
	viper.SetDefault("approval.min_confidence", 0.3)
	viper.SetDefault("dispatch.timeout", "10s")
	viper.SetDefault("cache.workflow_ttl", "30s")
	viper.SetDefault("cache.max_entries", 1000)
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
}
