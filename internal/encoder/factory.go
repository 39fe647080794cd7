package encoder

import (
	"fmt"

	"github.com/jittakal/kafcsvstore/internal/codec"
	"github.com/jittakal/kafcsvstore/pkg/encoder"
	"github.com/jittakal/kafcsvstore/pkg/event"
)

// Factory creates encoders based on format and configuration. All encoders
// share the same serializer so every format carries the same projection.
type Factory struct {
	format      event.FileFormat
	compression string
	serializer  *codec.CSVSerializer
	csv         CSVOptions
}

// NewFactory creates a new encoder factory.
func NewFactory(format event.FileFormat, compression string, serializer *codec.CSVSerializer, csv CSVOptions) *Factory {
	return &Factory{
		format:      format,
		compression: compression,
		serializer:  serializer,
		csv:         csv,
	}
}

// CreateEncoder creates an encoder based on the configured format.
func (f *Factory) CreateEncoder() (encoder.Encoder, error) {
	if f.serializer == nil {
		return nil, fmt.Errorf("encoder factory requires a serializer")
	}

	switch f.format {
	case event.FormatCSV:
		return NewCSVEncoder(f.serializer, f.compression, f.csv)
	case event.FormatParquet:
		return NewParquetEncoder(f.serializer, f.compression), nil
	case event.FormatAvro:
		return NewAvroEncoder(f.serializer, f.compression)
	default:
		return nil, fmt.Errorf("unsupported file format: %s", f.format)
	}
}

// Format returns the format of the encoders the factory creates.
func (f *Factory) Format() event.FileFormat {
	return f.format
}

// SupportedFormats returns a list of supported file formats.
func SupportedFormats() []event.FileFormat {
	return []event.FileFormat{
		event.FormatCSV,
		event.FormatParquet,
		event.FormatAvro,
	}
}

// SupportedCompressions returns supported compression codecs for a given format.
func SupportedCompressions(format event.FileFormat) []string {
	switch format {
	case event.FormatCSV:
		return []string{CompressionNone, CompressionGzip, CompressionZstd, CompressionLZ4}
	case event.FormatParquet:
		return []string{"uncompressed", CompressionSnappy, CompressionGzip, CompressionLZ4, CompressionZstd}
	case event.FormatAvro:
		return []string{"uncompressed", CompressionGzip, CompressionDeflate, CompressionSnappy}
	default:
		return []string{}
	}
}

// DefaultCompression returns the default compression for a format.
func DefaultCompression(format event.FileFormat) string {
	switch format {
	case event.FormatParquet:
		return CompressionSnappy
	case event.FormatAvro:
		return CompressionGzip
	default:
		return CompressionNone
	}
}

// IsSupportedCompression reports whether compression is valid for format.
func IsSupportedCompression(format event.FileFormat, compression string) bool {
	name := normalizeCompression(compression)
	for _, c := range SupportedCompressions(format) {
		if normalizeCompression(c) == name {
			return true
		}
	}
	return false
}
