// Command kafcsvstore archives CloudEvents from Kafka topics as CSV, Avro or
// Parquet files on local disk, S3, GCS or Azure Blob Storage.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/jittakal/kafcsvstore/internal/buffer"
	"github.com/jittakal/kafcsvstore/internal/config"
	"github.com/jittakal/kafcsvstore/internal/config/dto"
	"github.com/jittakal/kafcsvstore/internal/encoder"
	"github.com/jittakal/kafcsvstore/internal/kafka"
	"github.com/jittakal/kafcsvstore/internal/observability"
	"github.com/jittakal/kafcsvstore/internal/pipeline"
	"github.com/jittakal/kafcsvstore/internal/server"
	"github.com/jittakal/kafcsvstore/internal/storage"
	"github.com/jittakal/kafcsvstore/internal/validator"
	"github.com/jittakal/kafcsvstore/pkg/event"
	pkgstorage "github.com/jittakal/kafcsvstore/pkg/storage"
)

const defaultConfigPath = "config/application.yaml"

func main() {
	if err := run(); err != nil {
		log.Fatalf("application error: %v", err)
	}
}

func run() error {
	fs := pflag.NewFlagSet("kafcsvstore", pflag.ExitOnError)
	configPath := fs.String("config", "", "path to configuration file")
	config.AddServiceFlags(fs)
	if err := fs.Parse(os.Args[1:]); err != nil {
		return err
	}

	// Priority: --config flag > CONFIG_PATH env var > default path
	cfgPath := *configPath
	if cfgPath == "" {
		cfgPath = os.Getenv("CONFIG_PATH")
	}
	if cfgPath == "" {
		cfgPath = defaultConfigPath
	}

	loader := config.NewLoader()
	if err := loader.BindFlags(fs); err != nil {
		return err
	}
	cfg, err := loader.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := observability.NewLogger(observability.LoggingConfig{
		Level:  cfg.Observability.Logging.Level,
		Format: cfg.Observability.Logging.Format,
		Output: cfg.Observability.Logging.Output,
	})
	logger.Info("starting kafcsvstore",
		"version", cfg.Application.Version,
		"environment", cfg.Application.Environment,
		"format", cfg.Storage.Format,
		"backend", cfg.Storage.Backend,
	)

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Track cleanup functions, run in reverse order
	var cleanupFuncs []func() error
	addCleanup := func(name string, fn func() error) {
		cleanupFuncs = append(cleanupFuncs, func() error {
			if err := fn(); err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			return nil
		})
		logger.Debug("registered cleanup", "component", name)
	}
	defer func() {
		for i := len(cleanupFuncs) - 1; i >= 0; i-- {
			if err := cleanupFuncs[i](); err != nil {
				logger.Error("cleanup failed", "error", err)
			}
		}
	}()

	factory, err := newEncoderFactory(cfg)
	if err != nil {
		return err
	}

	writer, err := newStorageWriter(ctx, cfg, factory, logger, metrics)
	if err != nil {
		return err
	}
	addCleanup("storage-writer", writer.Close)

	security := kafka.SecurityConfig{
		Protocol:              cfg.Kafka.SecurityProtocol,
		Mechanism:             cfg.Kafka.SASLMechanism,
		Username:              cfg.Kafka.SASLUsername,
		Password:              cfg.Kafka.SASLPassword,
		MSKRegion:             cfg.Kafka.MSKRegion,
		TLSCAFile:             cfg.Kafka.TLSCAFile,
		TLSInsecureSkipVerify: cfg.Kafka.TLSInsecureSkipVerify,
	}

	consumer, err := kafka.NewSaramaConsumer(kafka.ConsumerConfig{
		BootstrapServers:    cfg.Kafka.BootstrapServers,
		GroupID:             cfg.Kafka.Consumer.GroupID,
		Security:            security,
		AutoOffsetReset:     cfg.Kafka.Consumer.AutoOffsetReset,
		EnableAutoCommit:    cfg.Kafka.Consumer.EnableAutoCommit,
		MaxPollIntervalMS:   cfg.Kafka.Consumer.MaxPollIntervalMS,
		SessionTimeoutMS:    cfg.Kafka.Consumer.SessionTimeoutMS,
		HeartbeatIntervalMS: cfg.Kafka.Consumer.HeartbeatIntervalMS,
		ChannelBufferSize:   cfg.Kafka.Consumer.ChannelBufferSize,
	}, logger, metrics)
	if err != nil {
		return fmt.Errorf("failed to create consumer: %w", err)
	}
	addCleanup("kafka-consumer", consumer.Close)

	dlq, err := kafka.NewDLQPublisher(cfg.Kafka.BootstrapServers, security, kafka.DLQConfig{
		Enabled:     cfg.Kafka.DLQ.Enabled,
		TopicSuffix: cfg.Kafka.DLQ.TopicSuffix,
		MaxRetries:  cfg.Kafka.DLQ.MaxRetries,
	}, logger, metrics, cfg.Application.Name)
	if err != nil {
		return fmt.Errorf("failed to create DLQ publisher: %w", err)
	}
	addCleanup("dlq-publisher", dlq.Close)

	processor, err := pipeline.New(pipeline.Config{
		FlushInterval:   time.Duration(cfg.Processing.BufferFlushIntervalSec) * time.Second,
		ShutdownTimeout: time.Duration(cfg.Shutdown.GracePeriodSeconds) * time.Second,
		Retry: pipeline.RetryPolicy{
			MaxAttempts:    cfg.Retry.MaxAttempts,
			InitialBackoff: time.Duration(cfg.Retry.InitialBackoffMS) * time.Millisecond,
			MaxBackoff:     time.Duration(cfg.Retry.MaxBackoffMS) * time.Millisecond,
			Multiplier:     cfg.Retry.BackoffMultiplier,
			Jitter:         cfg.Retry.Jitter,
		},
	}, pipeline.Components{
		Validator: validator.NewCloudEventsValidator(),
		Buffers:   buffer.NewManager(int64(cfg.Processing.BufferSizeMB)*1024*1024, cfg.Processing.BufferMaxRecords),
		Policy: storage.NewPolicy(storage.PolicyConfig{
			MaxFileSizeMB:      cfg.FileRotation.MaxFileSizeMB,
			MaxRecordsPerFile:  cfg.FileRotation.MaxRecordsPerFile,
			MaxDurationSeconds: cfg.FileRotation.MaxDurationSeconds,
			Strategy:           cfg.FileRotation.Strategy,
		}),
		Router:    storage.NewRouter(storageProtocol(cfg.Storage.Backend), storageBucket(cfg), cfg.Storage.BasePath, "v1"),
		Writer:    writer,
		Committer: consumer,
		DLQ:       dlq,
	}, logger, metrics)
	if err != nil {
		return fmt.Errorf("failed to create pipeline: %w", err)
	}

	checker := server.NewChecker()
	checker.Register("kafka-consumer", consumer.Check)
	checker.Register("pipeline", processor.Check)

	var gatherer prometheus.Gatherer = registry
	if !cfg.Observability.Metrics.Enabled {
		gatherer = prometheus.NewRegistry()
	}
	httpServer, err := server.NewServer(
		cfg.Observability.Health.Port,
		cfg.Observability.Metrics.Port,
		checker,
		gatherer,
		logger,
	)
	if err != nil {
		return fmt.Errorf("failed to create HTTP server: %w", err)
	}

	if err := consumer.Subscribe(ctx, cfg.Kafka.Consumer.Topics); err != nil {
		return fmt.Errorf("failed to subscribe to topics: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return httpServer.Run(gctx, 10*time.Second)
	})
	g.Go(func() error {
		events, errs, err := consumer.Consume(gctx)
		if err != nil {
			return fmt.Errorf("failed to start consuming: %w", err)
		}
		logger.Info("application started successfully", "topics", cfg.Kafka.Consumer.Topics)

		if err := processor.Run(gctx, events, errs); err != nil {
			return err
		}
		if gctx.Err() == nil {
			return errors.New("event stream ended unexpectedly")
		}
		return nil
	})

	err = g.Wait()
	if err != nil {
		checker.MarkDead()
		logger.Error("application stopped with error", "error", err)
		return err
	}

	logger.Info("application stopped successfully")
	return nil
}

// newEncoderFactory builds the serializer from the csv section and wraps it
// in a factory for the configured file format.
func newEncoderFactory(cfg *dto.ApplicationConfig) (*encoder.Factory, error) {
	serializerConfig, err := config.SerializerConfig(cfg.CSV)
	if err != nil {
		return nil, err
	}
	serializer, err := serializerConfig.Build()
	if err != nil {
		return nil, err
	}
	csvOptions, err := config.EncoderOptions(cfg.CSV)
	if err != nil {
		return nil, err
	}

	format, err := event.ParseFileFormat(cfg.Storage.Format)
	if err != nil {
		return nil, err
	}
	return encoder.NewFactory(format, cfg.Storage.Compression, serializer, csvOptions), nil
}

func newStorageWriter(
	ctx context.Context,
	cfg *dto.ApplicationConfig,
	factory *encoder.Factory,
	logger *slog.Logger,
	metrics *observability.Metrics,
) (pkgstorage.Writer, error) {
	switch cfg.Storage.Backend {
	case "file":
		writer, err := storage.NewFileWriter(storage.FileConfig{BasePath: cfg.Storage.File.BasePath}, factory, logger, metrics)
		if err != nil {
			return nil, fmt.Errorf("failed to create filesystem writer: %w", err)
		}
		return writer, nil
	case "s3":
		writer, err := storage.NewS3Writer(ctx, storage.S3Config{
			Bucket:       cfg.Storage.S3.Bucket,
			Region:       cfg.Storage.S3.Region,
			Endpoint:     cfg.Storage.S3.Endpoint,
			UsePathStyle: cfg.Storage.S3.UsePathStyle,
			SSEEnabled:   cfg.Storage.S3.SSEEnabled,
			SSEKMSKeyID:  cfg.Storage.S3.SSEKMSKeyID,
			TempDir:      cfg.Storage.TempDir,
		}, factory, logger, metrics)
		if err != nil {
			return nil, fmt.Errorf("failed to create S3 writer: %w", err)
		}
		return writer, nil
	case "azure":
		accountKey := cfg.Storage.Azure.AccountKey
		if accountKey == "" {
			accountKey = os.Getenv("AZURE_STORAGE_ACCOUNT_KEY")
		}
		writer, err := storage.NewAzureWriter(storage.AzureConfig{
			AccountName:   cfg.Storage.Azure.AccountName,
			AccountKey:    accountKey,
			ContainerName: cfg.Storage.Azure.Container,
			Endpoint:      cfg.Storage.Azure.Endpoint,
			TempDir:       cfg.Storage.TempDir,
		}, factory, logger, metrics)
		if err != nil {
			return nil, fmt.Errorf("failed to create Azure Blob writer: %w", err)
		}
		return writer, nil
	case "gcs":
		credentialsJSON := cfg.Storage.GCS.CredentialsJSON
		if credentialsJSON == "" {
			credentialsJSON = os.Getenv("GCP_CREDENTIALS_JSON")
		}
		writer, err := storage.NewGCSWriter(ctx, storage.GCSConfig{
			Bucket:               cfg.Storage.GCS.Bucket,
			ProjectID:            cfg.Storage.GCS.ProjectID,
			CredentialsFile:      cfg.Storage.GCS.CredentialsFile,
			CredentialsJSON:      credentialsJSON,
			Endpoint:             cfg.Storage.GCS.Endpoint,
			UseDefaultCredential: cfg.Storage.GCS.UseDefaultCredential,
			TempDir:              cfg.Storage.TempDir,
		}, factory, logger, metrics)
		if err != nil {
			return nil, fmt.Errorf("failed to create GCS writer: %w", err)
		}
		return writer, nil
	default:
		return nil, fmt.Errorf("unsupported storage backend: %s (supported: file, s3, azure, gcs)", cfg.Storage.Backend)
	}
}

func storageProtocol(backend string) string {
	switch backend {
	case "s3":
		return "s3"
	case "azure":
		return "wasbs"
	case "gcs":
		return "gs"
	default:
		return "file"
	}
}

// storageBucket is empty for the file backend, whose root is its base path.
func storageBucket(cfg *dto.ApplicationConfig) string {
	switch cfg.Storage.Backend {
	case "s3":
		return cfg.Storage.S3.Bucket
	case "azure":
		return cfg.Storage.Azure.Container
	case "gcs":
		return cfg.Storage.GCS.Bucket
	default:
		return ""
	}
}
