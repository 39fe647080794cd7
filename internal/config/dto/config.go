// Package dto holds the configuration structures decoded by viper.
package dto

import (
	"fmt"
)

// ApplicationConfig is the root configuration structure
type ApplicationConfig struct {
	Application   ApplicationInfo     `mapstructure:"application"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
	CSV           CSVConfig           `mapstructure:"csv"`
	Storage       StorageConfig       `mapstructure:"storage"`
	FileRotation  FileRotationConfig  `mapstructure:"file_rotation"`
	Processing    ProcessingConfig    `mapstructure:"processing"`
	Retry         RetryConfig         `mapstructure:"retry"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Shutdown      ShutdownConfig      `mapstructure:"shutdown"`
}

// ApplicationInfo contains application metadata
type ApplicationInfo struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

// KafkaConfig contains Kafka-related configuration
type KafkaConfig struct {
	BootstrapServers      []string       `mapstructure:"bootstrap_servers"`
	SecurityProtocol      string         `mapstructure:"security_protocol"`
	SASLMechanism         string         `mapstructure:"sasl_mechanism"`
	SASLUsername          string         `mapstructure:"sasl_username"`
	SASLPassword          string         `mapstructure:"sasl_password"`
	MSKRegion             string         `mapstructure:"msk_region"`
	TLSCAFile             string         `mapstructure:"tls_ca_file"`
	TLSInsecureSkipVerify bool           `mapstructure:"tls_insecure_skip_verify"`
	Consumer              ConsumerConfig `mapstructure:"consumer"`
	DLQ                   DLQConfig      `mapstructure:"dlq"`
}

// ConsumerConfig contains Kafka consumer configuration
type ConsumerConfig struct {
	GroupID             string   `mapstructure:"group_id"`
	Topics              []string `mapstructure:"topics"`
	AutoOffsetReset     string   `mapstructure:"auto_offset_reset"`
	EnableAutoCommit    bool     `mapstructure:"enable_auto_commit"`
	ChannelBufferSize   int      `mapstructure:"channel_buffer_size"`
	MaxPollIntervalMS   int      `mapstructure:"max_poll_interval_ms"`
	SessionTimeoutMS    int      `mapstructure:"session_timeout_ms"`
	HeartbeatIntervalMS int      `mapstructure:"heartbeat_interval_ms"`
}

// DLQConfig contains dead letter queue configuration
type DLQConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	TopicSuffix string `mapstructure:"topic_suffix"`
	MaxRetries  int    `mapstructure:"max_retries"`
}

// CSVConfig describes the line layout and the projected fields.
type CSVConfig struct {
	// Delimiter is a single ASCII character, or "tab".
	Delimiter   string   `mapstructure:"delimiter"`
	Escape      string   `mapstructure:"escape"`
	DoubleQuote bool     `mapstructure:"double_quote"`
	QuoteStyle  string   `mapstructure:"quote_style"`
	Fields      []string `mapstructure:"fields"`
	Header      bool     `mapstructure:"header"`
	// Terminator is "lf" or "crlf".
	Terminator string `mapstructure:"terminator"`
}

// StorageConfig contains storage backend configuration
type StorageConfig struct {
	Backend     string      `mapstructure:"backend"`
	Format      string      `mapstructure:"format"`
	Compression string      `mapstructure:"compression"`
	BasePath    string      `mapstructure:"base_path"`
	TempDir     string      `mapstructure:"temp_dir"`
	S3          S3Config    `mapstructure:"s3"`
	Azure       AzureConfig `mapstructure:"azure"`
	GCS         GCSConfig   `mapstructure:"gcs"`
	File        FileConfig  `mapstructure:"file"`
}

// S3Config contains AWS S3 configuration
type S3Config struct {
	Bucket       string `mapstructure:"bucket"`
	Region       string `mapstructure:"region"`
	Endpoint     string `mapstructure:"endpoint"`
	UsePathStyle bool   `mapstructure:"use_path_style"`
	SSEEnabled   bool   `mapstructure:"sse_enabled"`
	SSEKMSKeyID  string `mapstructure:"sse_kms_key_id"`
}

// AzureConfig contains Azure Blob Storage configuration
type AzureConfig struct {
	AccountName string `mapstructure:"account_name"`
	AccountKey  string `mapstructure:"account_key"`
	Container   string `mapstructure:"container"`
	Endpoint    string `mapstructure:"endpoint"`
}

// GCSConfig contains Google Cloud Storage configuration
type GCSConfig struct {
	Bucket               string `mapstructure:"bucket"`
	ProjectID            string `mapstructure:"project_id"`
	Endpoint             string `mapstructure:"endpoint"`
	CredentialsFile      string `mapstructure:"credentials_file"`
	CredentialsJSON      string `mapstructure:"credentials_json"`
	UseDefaultCredential bool   `mapstructure:"use_default_credential"`
}

// FileConfig contains local filesystem configuration
type FileConfig struct {
	BasePath string `mapstructure:"base_path"`
}

// FileRotationConfig contains file rotation settings
type FileRotationConfig struct {
	MaxFileSizeMB      int64  `mapstructure:"max_file_size_mb"`
	MaxRecordsPerFile  int    `mapstructure:"max_records_per_file"`
	MaxDurationSeconds int    `mapstructure:"max_duration_seconds"`
	Strategy           string `mapstructure:"strategy"`
}

// ProcessingConfig contains processing settings
type ProcessingConfig struct {
	BufferSizeMB           int `mapstructure:"buffer_size_mb"`
	BufferMaxRecords       int `mapstructure:"buffer_max_records"`
	BufferFlushIntervalSec int `mapstructure:"buffer_flush_interval_seconds"`
}

// RetryConfig contains retry settings for storage writes
type RetryConfig struct {
	MaxAttempts       int     `mapstructure:"max_attempts"`
	InitialBackoffMS  int     `mapstructure:"initial_backoff_ms"`
	MaxBackoffMS      int     `mapstructure:"max_backoff_ms"`
	BackoffMultiplier float64 `mapstructure:"backoff_multiplier"`
	Jitter            bool    `mapstructure:"jitter"`
}

// ObservabilityConfig contains observability settings
type ObservabilityConfig struct {
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Health  HealthConfig  `mapstructure:"health"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// MetricsConfig contains metrics settings
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// HealthConfig contains health check settings
type HealthConfig struct {
	Port int `mapstructure:"port"`
}

// ShutdownConfig contains shutdown settings
type ShutdownConfig struct {
	GracePeriodSeconds int `mapstructure:"grace_period_seconds"`
}

// Validate checks the fields every deployment needs.
func (c *ApplicationConfig) Validate() error {
	if c.Application.Name == "" {
		return fmt.Errorf("application name is required")
	}
	if len(c.Kafka.BootstrapServers) == 0 {
		return fmt.Errorf("kafka bootstrap servers are required")
	}
	if c.Kafka.Consumer.GroupID == "" {
		return fmt.Errorf("kafka consumer group ID is required")
	}
	if c.Storage.Backend == "" {
		return fmt.Errorf("storage backend is required")
	}
	return nil
}

// Validate validates S3 configuration.
func (c *S3Config) Validate() error {
	if c.Bucket == "" {
		return fmt.Errorf("s3 bucket is required")
	}
	if c.Region == "" {
		return fmt.Errorf("s3 region is required")
	}
	return nil
}

// Validate validates Azure configuration.
func (c *AzureConfig) Validate() error {
	if c.AccountName == "" {
		return fmt.Errorf("azure account name is required")
	}
	if c.Container == "" {
		return fmt.Errorf("azure container is required")
	}
	return nil
}

// Validate validates GCS configuration.
func (c *GCSConfig) Validate() error {
	if c.Bucket == "" {
		return fmt.Errorf("gcs bucket is required")
	}
	return nil
}

// Validate validates file configuration.
func (c *FileConfig) Validate() error {
	if c.BasePath == "" {
		return fmt.Errorf("file base path is required")
	}
	return nil
}

// Validate checks the retry bounds.
func (c *RetryConfig) Validate() error {
	if c.MaxAttempts < 1 {
		return fmt.Errorf("retry max attempts must be at least 1, got %d", c.MaxAttempts)
	}
	if c.InitialBackoffMS < 0 || c.MaxBackoffMS < c.InitialBackoffMS {
		return fmt.Errorf("retry backoff must satisfy 0 <= initial (%d) <= max (%d)", c.InitialBackoffMS, c.MaxBackoffMS)
	}
	if c.BackoffMultiplier < 1 {
		return fmt.Errorf("retry backoff multiplier must be at least 1, got %g", c.BackoffMultiplier)
	}
	return nil
}
