package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/jittakal/kafcsvstore/internal/encoder"
	apperrors "github.com/jittakal/kafcsvstore/internal/errors"
	"github.com/jittakal/kafcsvstore/pkg/event"
	"github.com/jittakal/kafcsvstore/pkg/storage"
)

// Ensure implementation satisfies interface at compile time.
var _ storage.Writer = (*GCSWriter)(nil)

// GCSConfig contains Google Cloud Storage configuration.
type GCSConfig struct {
	Bucket               string
	ProjectID            string
	CredentialsFile      string
	CredentialsJSON      string
	Endpoint             string
	UseDefaultCredential bool
	TempDir              string
}

// clientOptions selects the GCS authentication method. Explicit JSON wins
// over a credentials file; with neither, application default credentials
// are used.
func (c GCSConfig) clientOptions() ([]option.ClientOption, string) {
	var opts []option.ClientOption
	if c.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(c.Endpoint))
	}

	switch {
	case c.UseDefaultCredential:
		return opts, "default"
	case c.CredentialsJSON != "":
		return append(opts, option.WithCredentialsJSON([]byte(c.CredentialsJSON))), "json"
	case c.CredentialsFile != "":
		return append(opts, option.WithCredentialsFile(c.CredentialsFile)), "file"
	default:
		return opts, "default"
	}
}

// GCSWriter implements storage.Writer for Google Cloud Storage.
type GCSWriter struct {
	writerBase
	client *gcs.Client
	bucket string
}

// NewGCSWriter creates a new Google Cloud Storage writer.
func NewGCSWriter(
	ctx context.Context,
	cfg GCSConfig,
	factory *encoder.Factory,
	logger *slog.Logger,
	metrics MetricsCollector,
) (*GCSWriter, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("gcs storage requires a bucket")
	}

	base, err := newWriterBase("gcs", factory, cfg.TempDir, logger, metrics)
	if err != nil {
		return nil, err
	}

	opts, auth := cfg.clientOptions()
	client, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}

	base.logger.Info("GCS writer created",
		"bucket", cfg.Bucket,
		"project_id", cfg.ProjectID,
		"auth", auth,
		"format", factory.Format(),
	)

	return &GCSWriter{writerBase: base, client: client, bucket: cfg.Bucket}, nil
}

// Write encodes records and uploads them below path.
func (w *GCSWriter) Write(ctx context.Context, records []event.Record, path string) (*storage.WriteResult, error) {
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

	object := joinKey(objectKey(path, "gs"), staged.name)
	ow := w.client.Bucket(w.bucket).Object(object).NewWriter(ctx)
	ow.ContentType = staged.contentType
	ow.Metadata = objectMetadata(staged.format, staged.stats)

	if _, err := io.Copy(ow, file); err != nil {
		ow.Close()
		w.fail(records, "upload")
		return nil, &apperrors.StorageError{Operation: "upload", Path: object, Err: err}
	}

	// Close finalizes the upload.
	if err := ow.Close(); err != nil {
		w.fail(records, "close")
		return nil, &apperrors.StorageError{Operation: "upload", Path: object, Err: err}
	}

	return w.finish(records, staged, fmt.Sprintf("gs://%s/%s", w.bucket, object), started), nil
}

// Close closes the GCS writer.
func (w *GCSWriter) Close() error {
	w.logger.Info("closing GCS writer")
	if w.client != nil {
		return w.client.Close()
	}
	return nil
}
