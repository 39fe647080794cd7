package encoder

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/linkedin/goavro/v2"

	"github.com/jittakal/kafcsvstore/internal/codec"
	"github.com/jittakal/kafcsvstore/pkg/encoder"
	"github.com/jittakal/kafcsvstore/pkg/event"
)

// Ensure implementation satisfies interface at compile time.
var _ encoder.Encoder = (*AvroEncoder)(nil)

// AvroEncoder implements encoder.Encoder for Apache Avro OCF files.
// Every projected path becomes a nullable string column holding the same
// text the CSV line would carry. gzip wraps the whole container, deflate
// and snappy compress OCF blocks.
type AvroEncoder struct {
	serializer  *codec.CSVSerializer
	columns     []string
	codec       *goavro.Codec
	compression string
}

// NewAvroEncoder creates a new Avro encoder with specified compression.
func NewAvroEncoder(serializer *codec.CSVSerializer, compression string) (*AvroEncoder, error) {
	if serializer == nil {
		return nil, fmt.Errorf("avro encoder requires a serializer")
	}

	compression = normalizeCompression(compression)
	switch compression {
	case CompressionNone, CompressionGzip, CompressionDeflate, CompressionSnappy:
	default:
		return nil, fmt.Errorf("unsupported compression for avro: %s", compression)
	}

	columns := ColumnNames(serializer.Fields())
	schema, err := avroSchema(columns)
	if err != nil {
		return nil, err
	}

	avroCodec, err := goavro.NewCodec(schema)
	if err != nil {
		return nil, fmt.Errorf("failed to create avro codec: %w", err)
	}

	return &AvroEncoder{
		serializer:  serializer,
		columns:     columns,
		codec:       avroCodec,
		compression: compression,
	}, nil
}

type avroField struct {
	Name    string   `json:"name"`
	Type    []string `json:"type"`
	Default any      `json:"default"`
}

// avroSchema builds a record schema with one nullable string per column.
func avroSchema(columns []string) (string, error) {
	fields := make([]avroField, len(columns))
	for i, name := range columns {
		fields[i] = avroField{Name: name, Type: []string{"null", "string"}}
	}

	schema, err := json.Marshal(map[string]any{
		"type":      "record",
		"name":      "CSVRecord",
		"namespace": "io.kafcsvstore",
		"fields":    fields,
	})
	if err != nil {
		return "", fmt.Errorf("failed to build avro schema: %w", err)
	}
	return string(schema), nil
}

// Schema returns the generated Avro schema.
func (e *AvroEncoder) Schema() string {
	return e.codec.Schema()
}

// Encode writes records to an Avro file.
func (e *AvroEncoder) Encode(filePath string, records []event.Record) (*event.FileStats, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("no records to encode")
	}

	sink, err := createFileSink(filePath)
	if err != nil {
		return nil, err
	}

	empty, err := e.writeContainer(sink, records)
	if err != nil {
		sink.abort()
		return nil, err
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

// EncodeToBytes encodes records to bytes (useful for testing).
func (e *AvroEncoder) EncodeToBytes(records []event.Record) ([]byte, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("no records to encode")
	}

	var buf bytes.Buffer
	if _, err := e.writeContainer(&buf, records); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (e *AvroEncoder) writeContainer(w io.Writer, records []event.Record) (int, error) {
	blockCompression := goavro.CompressionNullLabel
	outer := CompressionNone
	switch e.compression {
	case CompressionGzip:
		outer = CompressionGzip
	case CompressionDeflate:
		blockCompression = goavro.CompressionDeflateLabel
	case CompressionSnappy:
		blockCompression = goavro.CompressionSnappyLabel
	}

	cw, err := newCompressor(w, outer)
	if err != nil {
		return 0, err
	}

	ocfWriter, err := goavro.NewOCFWriter(goavro.OCFConfig{
		W:               cw,
		Codec:           e.codec,
		CompressionName: blockCompression,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to create OCF writer: %w", err)
	}

	empty := 0
	for i, record := range records {
		datum, n, err := e.convertToAvroMap(record)
		if err != nil {
			return 0, fmt.Errorf("failed to convert record %d: %w", i, err)
		}
		empty += n

		if err := ocfWriter.Append([]interface{}{datum}); err != nil {
			return 0, fmt.Errorf("failed to write record: %w", err)
		}
	}

	if err := cw.Close(); err != nil {
		return 0, fmt.Errorf("failed to close gzip writer: %w", err)
	}
	return empty, nil
}

// convertToAvroMap projects a record into its Avro datum and reports how
// many columns are null.
func (e *AvroEncoder) convertToAvroMap(record event.Record) (map[string]interface{}, int, error) {
	log, err := logOf(record)
	if err != nil {
		return nil, 0, err
	}

	datum := make(map[string]interface{}, len(e.columns))
	empty := 0
	for i, text := range e.serializer.Project(log) {
		if text == nil {
			datum[e.columns[i]] = nil
			empty++
			continue
		}
		datum[e.columns[i]] = goavro.Union("string", *text)
	}
	return datum, empty, nil
}

// Format returns the file format.
func (e *AvroEncoder) Format() event.FileFormat {
	return event.FormatAvro
}

// FileExtension returns the file extension.
func (e *AvroEncoder) FileExtension() string {
	if e.compression == CompressionGzip {
		return ".avro.gz"
	}
	return ".avro"
}
