package encoder

import (
	"fmt"

	"github.com/parquet-go/parquet-go"

	"github.com/jittakal/kafcsvstore/internal/codec"
	"github.com/jittakal/kafcsvstore/pkg/encoder"
	"github.com/jittakal/kafcsvstore/pkg/event"
)

// Ensure implementation satisfies interface at compile time.
var _ encoder.Encoder = (*ParquetEncoder)(nil)

// ParquetEncoder implements encoder.Encoder for Apache Parquet columnar format.
// The schema is generated from the projection: one optional UTF8 column per
// path, so Athena and Spark see the same texts as the CSV output.
// Supports multiple compression codecs: SNAPPY (default), GZIP, LZ4, ZSTD.
type ParquetEncoder struct {
	serializer      *codec.CSVSerializer
	schema          *parquet.Schema
	columnIndex     []int
	compressionName string
}

// NewParquetEncoder creates a new Parquet encoder with specified compression.
func NewParquetEncoder(serializer *codec.CSVSerializer, compression string) *ParquetEncoder {
	columns := ColumnNames(serializer.Fields())

	group := make(parquet.Group, len(columns))
	for _, name := range columns {
		group[name] = parquet.Optional(parquet.String())
	}
	schema := parquet.NewSchema("csv_record", group)

	// Group columns are ordered by name; remember where each path landed.
	index := make([]int, len(columns))
	for i, name := range columns {
		leaf, _ := schema.Lookup(name)
		index[i] = leaf.ColumnIndex
	}

	return &ParquetEncoder{
		serializer:      serializer,
		schema:          schema,
		columnIndex:     index,
		compressionName: compression,
	}
}

// compressionCodec converts string compression name to parquet WriterOption.
func compressionCodec(compression string) parquet.WriterOption {
	switch normalizeCompression(compression) {
	case CompressionSnappy:
		return parquet.Compression(&parquet.Snappy)
	case CompressionGzip:
		return parquet.Compression(&parquet.Gzip)
	case CompressionLZ4:
		return parquet.Compression(&parquet.Lz4Raw)
	case CompressionZstd:
		return parquet.Compression(&parquet.Zstd)
	case CompressionNone:
		return parquet.Compression(&parquet.Uncompressed)
	default:
		return parquet.Compression(&parquet.Snappy)
	}
}

// Schema returns the generated Parquet schema.
func (e *ParquetEncoder) Schema() *parquet.Schema {
	return e.schema
}

// Encode writes records to a Parquet file.
func (e *ParquetEncoder) Encode(filePath string, records []event.Record) (*event.FileStats, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("no records to encode")
	}

	rows := make([]parquet.Row, len(records))
	empty := 0
	for i, record := range records {
		row, n, err := e.convertToParquetRow(record)
		if err != nil {
			return nil, fmt.Errorf("failed to convert record %d: %w", i, err)
		}
		rows[i] = row
		empty += n
	}

	sink, err := createFileSink(filePath)
	if err != nil {
		return nil, err
	}

	writer := parquet.NewWriter(
		sink,
		e.schema,
		compressionCodec(e.compressionName),
		parquet.CreatedBy("kafcsvstore", "1.0", "0"),
	)

	if _, err := writer.WriteRows(rows); err != nil {
		writer.Close()
		sink.abort()
		return nil, fmt.Errorf("failed to write records: %w", err)
	}

	if err := writer.Close(); err != nil {
		sink.abort()
		return nil, fmt.Errorf("failed to close writer: %w", err)
	}

	size, checksum, err := sink.finish()
	if err != nil {
		return nil, err
	}

	first, last := writeWindow(records)
	return &event.FileStats{
		RecordCount:    len(records),
		SizeBytes:      size,
		FirstWriteTime: first,
		LastWriteTime:  last,
		Checksum:       checksum,
		EmptyFields:    empty,
	}, nil
}

// convertToParquetRow builds a row in schema column order. Null columns get
// definition level 0.
func (e *ParquetEncoder) convertToParquetRow(record event.Record) (parquet.Row, int, error) {
	log, err := logOf(record)
	if err != nil {
		return nil, 0, err
	}

	row := make(parquet.Row, len(e.columnIndex))
	empty := 0
	for i, text := range e.serializer.Project(log) {
		col := e.columnIndex[i]
		if text == nil {
			row[col] = parquet.NullValue().Level(0, 0, col)
			empty++
			continue
		}
		row[col] = parquet.ByteArrayValue([]byte(*text)).Level(0, 1, col)
	}
	return row, empty, nil
}

// Format returns the file format.
func (e *ParquetEncoder) Format() event.FileFormat {
	return event.FormatParquet
}

// FileExtension returns the file extension.
func (e *ParquetEncoder) FileExtension() string {
	return ".parquet"
}
