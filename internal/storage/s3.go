package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/jittakal/kafcsvstore/internal/encoder"
	apperrors "github.com/jittakal/kafcsvstore/internal/errors"
	"github.com/jittakal/kafcsvstore/pkg/event"
	"github.com/jittakal/kafcsvstore/pkg/storage"
)

// Ensure implementation satisfies interface at compile time.
var _ storage.Writer = (*S3Writer)(nil)

// S3Config contains AWS S3 configuration.
type S3Config struct {
	Bucket       string
	Region       string
	Endpoint     string
	UsePathStyle bool
	SSEEnabled   bool
	SSEKMSKeyID  string
	TempDir      string
}

// S3Writer implements storage.Writer for AWS S3 storage.
// Batches are staged in a temp file and sent with the multipart uploader,
// optionally with server-side encryption.
type S3Writer struct {
	writerBase
	uploader    *manager.Uploader
	bucket      string
	sseEnabled  bool
	sseKMSKeyID string
}

// NewS3Writer creates a new S3 storage writer.
func NewS3Writer(
	ctx context.Context,
	cfg S3Config,
	factory *encoder.Factory,
	logger *slog.Logger,
	metrics MetricsCollector,
) (*S3Writer, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 storage requires a bucket")
	}

	base, err := newWriterBase("s3", factory, cfg.TempDir, logger, metrics)
	if err != nil {
		return nil, err
	}

	awsConfig, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	uploader := manager.NewUploader(client, func(u *manager.Uploader) {
		u.PartSize = 10 * 1024 * 1024
		u.Concurrency = 5
	})

	base.logger.Info("S3 writer created",
		"bucket", cfg.Bucket,
		"region", cfg.Region,
		"format", factory.Format(),
		"sse_enabled", cfg.SSEEnabled,
	)

	return &S3Writer{
		writerBase:  base,
		uploader:    uploader,
		bucket:      cfg.Bucket,
		sseEnabled:  cfg.SSEEnabled,
		sseKMSKeyID: cfg.SSEKMSKeyID,
	}, nil
}

// Write encodes records and uploads them below path.
func (w *S3Writer) Write(ctx context.Context, records []event.Record, path string) (*storage.WriteResult, error) {
	started := time.Now()

	staged, err := w.stage(records)
	if err != nil {
		return nil, err
	}
	defer staged.remove()

	file, err := staged.open()
	if err != nil {
		w.fail(records, "file_open")
		return nil, fmt.Errorf("failed to open encoded file: %w", err)
	}
	defer file.Close()

	key := joinKey(objectKey(path, "s3"), staged.name)
	input := w.putObjectInput(key, staged)
	input.Body = file

	if _, err := w.uploader.Upload(ctx, input); err != nil {
		w.fail(records, "upload")
		return nil, &apperrors.StorageError{Operation: "upload", Path: key, Err: err}
	}

	return w.finish(records, staged, fmt.Sprintf("s3://%s/%s", w.bucket, key), started), nil
}

// putObjectInput builds the upload request without a body.
func (w *S3Writer) putObjectInput(key string, staged *stagedFile) *s3.PutObjectInput {
	input := &s3.PutObjectInput{
		Bucket:      aws.String(w.bucket),
		Key:         aws.String(key),
		ContentType: aws.String(staged.contentType),
		Metadata:    objectMetadata(staged.format, staged.stats),
	}

	if w.sseEnabled {
		if w.sseKMSKeyID != "" {
			input.ServerSideEncryption = types.ServerSideEncryptionAwsKms
			input.SSEKMSKeyId = aws.String(w.sseKMSKeyID)
		} else {
			input.ServerSideEncryption = types.ServerSideEncryptionAes256
		}
	}
	return input
}

// Close closes the S3 writer.
func (w *S3Writer) Close() error {
	w.logger.Info("closing S3 writer")
	return nil
}
