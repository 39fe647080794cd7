package storage

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"

	"github.com/jittakal/kafcsvstore/internal/encoder"
	apperrors "github.com/jittakal/kafcsvstore/internal/errors"
	"github.com/jittakal/kafcsvstore/pkg/event"
	"github.com/jittakal/kafcsvstore/pkg/storage"
)

// Ensure implementation satisfies interface at compile time.
var _ storage.Writer = (*AzureWriter)(nil)

// AzureConfig contains Azure Blob Storage configuration.
type AzureConfig struct {
	AccountName   string
	AccountKey    string
	ContainerName string
	Endpoint      string
	TempDir       string
}

// connectionString builds a shared key connection string. Endpoint points
// at a custom blob endpoint such as Azurite.
func (c AzureConfig) connectionString() string {
	if c.Endpoint != "" {
		return fmt.Sprintf("DefaultEndpointsProtocol=https;AccountName=%s;AccountKey=%s;BlobEndpoint=%s",
			c.AccountName, c.AccountKey, c.Endpoint)
	}
	return fmt.Sprintf("DefaultEndpointsProtocol=https;AccountName=%s;AccountKey=%s;EndpointSuffix=core.windows.net",
		c.AccountName, c.AccountKey)
}

// AzureWriter implements storage.Writer for Azure Blob Storage.
type AzureWriter struct {
	writerBase
	client        *azblob.Client
	accountName   string
	containerName string
}

// NewAzureWriter creates a new Azure Blob storage writer.
func NewAzureWriter(
	cfg AzureConfig,
	factory *encoder.Factory,
	logger *slog.Logger,
	metrics MetricsCollector,
) (*AzureWriter, error) {
	if cfg.AccountName == "" || cfg.ContainerName == "" {
		return nil, fmt.Errorf("azure storage requires an account name and container")
	}

	base, err := newWriterBase("azure", factory, cfg.TempDir, logger, metrics)
	if err != nil {
		return nil, err
	}

	client, err := azblob.NewClientFromConnectionString(cfg.connectionString(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure client: %w", err)
	}

	base.logger.Info("Azure writer created",
		"container", cfg.ContainerName,
		"account", cfg.AccountName,
		"format", factory.Format(),
	)

	return &AzureWriter{
		writerBase:    base,
		client:        client,
		accountName:   cfg.AccountName,
		containerName: cfg.ContainerName,
	}, nil
}

// azureMetadata rewrites metadata keys into valid identifiers; Azure
// rejects hyphens in metadata names.
func azureMetadata(md map[string]string) map[string]*string {
	out := make(map[string]*string, len(md))
	for k, v := range md {
		value := v
		out[strings.ReplaceAll(k, "-", "_")] = &value
	}
	return out
}

// Write encodes records and uploads them below path.
func (w *AzureWriter) Write(ctx context.Context, records []event.Record, path string) (*storage.WriteResult, error) {
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

	blobPath := joinKey(objectKey(path, "wasbs"), staged.name)
	contentType := staged.contentType
	_, err = w.client.UploadFile(ctx, w.containerName, blobPath, file, &azblob.UploadFileOptions{
		HTTPHeaders: &blob.HTTPHeaders{BlobContentType: &contentType},
		Metadata:    azureMetadata(objectMetadata(staged.format, staged.stats)),
	})
	if err != nil {
		w.fail(records, "upload")
		return nil, &apperrors.StorageError{Operation: "upload", Path: blobPath, Err: err}
	}

	location := fmt.Sprintf("wasbs://%s@%s.blob.core.windows.net/%s", w.containerName, w.accountName, blobPath)
	return w.finish(records, staged, location, started), nil
}

// Close closes the Azure writer.
func (w *AzureWriter) Close() error {
	w.logger.Info("Azure writer closed")
	return nil
}
