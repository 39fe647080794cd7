// Package storage implements storage writers, path routing and rotation.
package storage

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jittakal/kafcsvstore/internal/encoder"
	apperrors "github.com/jittakal/kafcsvstore/internal/errors"
	"github.com/jittakal/kafcsvstore/pkg/event"
	"github.com/jittakal/kafcsvstore/pkg/storage"
)

// Ensure implementation satisfies interface at compile time.
var _ storage.Writer = (*FileWriter)(nil)

// FileConfig contains local filesystem configuration.
type FileConfig struct {
	BasePath string
}

// FileWriter implements storage.Writer for local filesystem storage.
// Files are encoded under a hidden name in the target directory and renamed
// into place, so readers never observe a partial file.
type FileWriter struct {
	writerBase
	basePath string
}

// NewFileWriter creates a new filesystem storage writer.
func NewFileWriter(
	config FileConfig,
	factory *encoder.Factory,
	logger *slog.Logger,
	metrics MetricsCollector,
) (*FileWriter, error) {
	if config.BasePath == "" {
		return nil, fmt.Errorf("file storage requires a base path")
	}
	if err := os.MkdirAll(config.BasePath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create base path: %w", err)
	}

	base, err := newWriterBase("file", factory, "", logger, metrics)
	if err != nil {
		return nil, err
	}

	base.logger.Info("filesystem writer created",
		"base_path", config.BasePath,
		"format", factory.Format(),
	)

	return &FileWriter{writerBase: base, basePath: config.BasePath}, nil
}

// Write encodes records into a new file below basePath/path.
func (w *FileWriter) Write(ctx context.Context, records []event.Record, path string) (*storage.WriteResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("no records to write")
	}
	started := time.Now()

	dir := filepath.Join(w.basePath, filepath.FromSlash(strings.TrimPrefix(path, "file://")))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		w.fail(records, "mkdir")
		return nil, &apperrors.StorageError{Operation: "create", Path: dir, Err: err}
	}

	staged, err := w.encodeTo(dir, records, true)
	if err != nil {
		return nil, err
	}

	final := filepath.Join(dir, staged.name)
	if err := os.Rename(staged.path, final); err != nil {
		staged.remove()
		w.fail(records, "rename")
		return nil, &apperrors.StorageError{Operation: "write", Path: final, Err: err}
	}

	return w.finish(records, staged, final, started), nil
}

// Close closes the writer.
func (w *FileWriter) Close() error {
	w.logger.Info("closing filesystem writer")
	return nil
}
