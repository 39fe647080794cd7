// Package config loads the application configuration from YAML, APP_
// environment variables and command-line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/jittakal/kafcsvstore/internal/codec"
	"github.com/jittakal/kafcsvstore/internal/config/dto"
	"github.com/jittakal/kafcsvstore/internal/encoder"
	"github.com/jittakal/kafcsvstore/internal/storage"
	"github.com/jittakal/kafcsvstore/pkg/event"
	"github.com/jittakal/kafcsvstore/pkg/lookup"
)

// Loader handles configuration loading and validation
type Loader struct {
	v *viper.Viper
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("APP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return &Loader{v: v}
}

// Load reads and fully validates the service configuration.
func (l *Loader) Load(path string) (*dto.ApplicationConfig, error) {
	config, err := l.Read(path)
	if err != nil {
		return nil, err
	}

	if err := l.Validate(config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return config, nil
}

// Read merges defaults, the optional file at path, the environment and
// bound flags without validating the result. A missing file is not an error.
func (l *Loader) Read(path string) (*dto.ApplicationConfig, error) {
	l.setDefaults()

	if path != "" {
		l.v.SetConfigFile(path)
		if err := l.v.ReadInConfig(); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	// Expand ${VAR} references in string values
	for _, key := range l.v.AllKeys() {
		value, ok := l.v.Get(key).(string)
		if ok && strings.Contains(value, "${") {
			l.v.Set(key, os.ExpandEnv(value))
		}
	}

	var config dto.ApplicationConfig
	if err := l.v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if config.Storage.Compression == "" {
		if format, err := event.ParseFileFormat(config.Storage.Format); err == nil {
			config.Storage.Compression = encoder.DefaultCompression(format)
		}
	}

	return &config, nil
}

// setDefaults sets default configuration values
func (l *Loader) setDefaults() {
	// Application defaults
	l.v.SetDefault("application.name", "kafcsvstore")
	l.v.SetDefault("application.version", "1.0.0")
	l.v.SetDefault("application.environment", "development")

	// Kafka defaults
	l.v.SetDefault("kafka.security_protocol", "SASL_SSL")
	l.v.SetDefault("kafka.sasl_mechanism", "PLAIN")
	l.v.SetDefault("kafka.tls_insecure_skip_verify", false)
	l.v.SetDefault("kafka.consumer.auto_offset_reset", "earliest")
	l.v.SetDefault("kafka.consumer.enable_auto_commit", false)
	l.v.SetDefault("kafka.consumer.channel_buffer_size", 256)
	l.v.SetDefault("kafka.consumer.max_poll_interval_ms", 300000)
	l.v.SetDefault("kafka.consumer.session_timeout_ms", 30000)
	l.v.SetDefault("kafka.consumer.heartbeat_interval_ms", 10000)
	l.v.SetDefault("kafka.dlq.enabled", true)
	l.v.SetDefault("kafka.dlq.topic_suffix", "-dlq")
	l.v.SetDefault("kafka.dlq.max_retries", 3)

	// CSV defaults
	l.v.SetDefault("csv.delimiter", ",")
	l.v.SetDefault("csv.escape", `"`)
	l.v.SetDefault("csv.double_quote", true)
	l.v.SetDefault("csv.quote_style", "necessary")
	l.v.SetDefault("csv.header", false)
	l.v.SetDefault("csv.terminator", "lf")

	// Storage defaults
	l.v.SetDefault("storage.backend", "file")
	l.v.SetDefault("storage.format", string(event.FormatCSV))
	l.v.SetDefault("storage.s3.use_path_style", false)
	l.v.SetDefault("storage.s3.sse_enabled", true)
	l.v.SetDefault("storage.gcs.use_default_credential", true)

	// File rotation defaults
	l.v.SetDefault("file_rotation.max_file_size_mb", 128)
	l.v.SetDefault("file_rotation.max_records_per_file", 100000)
	l.v.SetDefault("file_rotation.max_duration_seconds", 300)
	l.v.SetDefault("file_rotation.strategy", string(storage.StrategyComposite))

	// Processing defaults
	l.v.SetDefault("processing.buffer_size_mb", 64)
	l.v.SetDefault("processing.buffer_max_records", 0)
	l.v.SetDefault("processing.buffer_flush_interval_seconds", 60)

	// Retry defaults
	l.v.SetDefault("retry.max_attempts", 5)
	l.v.SetDefault("retry.initial_backoff_ms", 100)
	l.v.SetDefault("retry.max_backoff_ms", 30000)
	l.v.SetDefault("retry.backoff_multiplier", 2.0)
	l.v.SetDefault("retry.jitter", true)

	// Observability defaults
	l.v.SetDefault("observability.logging.level", "info")
	l.v.SetDefault("observability.logging.format", "json")
	l.v.SetDefault("observability.logging.output", "stdout")
	l.v.SetDefault("observability.metrics.enabled", true)
	l.v.SetDefault("observability.metrics.port", 9090)
	l.v.SetDefault("observability.health.port", 8080)

	// Shutdown defaults
	l.v.SetDefault("shutdown.grace_period_seconds", 30)
}

// Validate validates the configuration
func (l *Loader) Validate(config *dto.ApplicationConfig) error {
	if err := config.Validate(); err != nil {
		return err
	}

	// Kafka validation
	if len(config.Kafka.Consumer.Topics) == 0 {
		return errors.New("kafka.consumer.topics is required")
	}
	if strings.EqualFold(config.Kafka.SASLMechanism, "AWS_MSK_IAM") &&
		strings.HasPrefix(strings.ToUpper(config.Kafka.SecurityProtocol), "SASL") &&
		config.Kafka.MSKRegion == "" {
		return errors.New("kafka.msk_region is required for AWS_MSK_IAM")
	}
	switch config.Kafka.Consumer.AutoOffsetReset {
	case "earliest", "latest":
	default:
		return fmt.Errorf("invalid kafka.consumer.auto_offset_reset: %s", config.Kafka.Consumer.AutoOffsetReset)
	}

	if err := ValidateCSV(config.CSV); err != nil {
		return err
	}

	// Storage validation
	switch config.Storage.Backend {
	case "s3":
		if err := config.Storage.S3.Validate(); err != nil {
			return err
		}
	case "azure":
		if err := config.Storage.Azure.Validate(); err != nil {
			return err
		}
	case "gcs":
		if err := config.Storage.GCS.Validate(); err != nil {
			return err
		}
	case "file":
		if err := config.Storage.File.Validate(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unsupported storage backend: %s", config.Storage.Backend)
	}

	// Format validation
	format, err := event.ParseFileFormat(config.Storage.Format)
	if err != nil {
		return err
	}
	if !encoder.IsSupportedCompression(format, config.Storage.Compression) {
		return fmt.Errorf("unsupported compression %q for format %s (supported: %s)",
			config.Storage.Compression, format, strings.Join(encoder.SupportedCompressions(format), ", "))
	}

	// File rotation validation
	if _, err := storage.ParseRotationStrategy(config.FileRotation.Strategy); err != nil {
		return err
	}

	if err := config.Retry.Validate(); err != nil {
		return err
	}

	// Port validation
	if config.Observability.Metrics.Port < 1 || config.Observability.Metrics.Port > 65535 {
		return fmt.Errorf("invalid metrics port: %d", config.Observability.Metrics.Port)
	}
	if config.Observability.Health.Port < 1 || config.Observability.Health.Port > 65535 {
		return fmt.Errorf("invalid health port: %d", config.Observability.Health.Port)
	}
	if config.Observability.Health.Port == config.Observability.Metrics.Port {
		return fmt.Errorf("health and metrics ports must differ: %d", config.Observability.Health.Port)
	}

	return nil
}

// ValidateCSV checks the csv section, including every field path.
func ValidateCSV(c dto.CSVConfig) error {
	if _, err := SerializerConfig(c); err != nil {
		return err
	}
	if _, err := EncoderOptions(c); err != nil {
		return err
	}
	return nil
}

// SerializerConfig converts the csv section into a serializer configuration.
// An empty field list is rejected with the serializer's own ConfigError.
func SerializerConfig(c dto.CSVConfig) (codec.CSVSerializerConfig, error) {
	opts := codec.DefaultCSVSerializerOptions()

	delimiter, err := parseByte("csv.delimiter", c.Delimiter, ',')
	if err != nil {
		return codec.CSVSerializerConfig{}, err
	}
	escape, err := parseByte("csv.escape", c.Escape, '"')
	if err != nil {
		return codec.CSVSerializerConfig{}, err
	}
	style, err := codec.ParseQuoteStyle(c.QuoteStyle)
	if err != nil {
		return codec.CSVSerializerConfig{}, fmt.Errorf("csv.quote_style: %w", err)
	}
	fields, err := lookup.ParseAll(c.Fields)
	if err != nil {
		return codec.CSVSerializerConfig{}, fmt.Errorf("csv.fields: %w", err)
	}

	opts.Delimiter = delimiter
	opts.Escape = escape
	opts.DoubleQuote = c.DoubleQuote
	opts.QuoteStyle = style
	opts.Fields = fields

	config := codec.CSVSerializerConfig{CSV: opts}
	if _, err := config.Build(); err != nil {
		return codec.CSVSerializerConfig{}, err
	}
	return config, nil
}

// EncoderOptions returns the file layout options of the csv section.
func EncoderOptions(c dto.CSVConfig) (encoder.CSVOptions, error) {
	terminator, err := encoder.ParseTerminator(c.Terminator)
	if err != nil {
		return encoder.CSVOptions{}, fmt.Errorf("csv.terminator: %w", err)
	}
	return encoder.CSVOptions{Header: c.Header, Terminator: terminator}, nil
}

// parseByte accepts a single ASCII character or the names "tab" and "\t".
func parseByte(key, s string, def byte) (byte, error) {
	switch s {
	case "":
		return def, nil
	case "tab", `\t`, "\t":
		return '\t', nil
	}
	if len(s) != 1 || s[0] >= 0x80 {
		return 0, fmt.Errorf("%s must be a single ASCII character, got %q", key, s)
	}
	if s[0] == '\n' || s[0] == '\r' {
		return 0, fmt.Errorf("%s cannot be a line break", key)
	}
	return s[0], nil
}
