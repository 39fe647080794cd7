package encoder

import (
	"bufio"
	"fmt"

	"github.com/jittakal/kafcsvstore/internal/codec"
	apperrors "github.com/jittakal/kafcsvstore/internal/errors"
	"github.com/jittakal/kafcsvstore/pkg/encoder"
	"github.com/jittakal/kafcsvstore/pkg/event"
)

// Ensure implementation satisfies interface at compile time.
var _ encoder.Encoder = (*CSVEncoder)(nil)

// Line terminators accepted by CSVOptions.
const (
	TerminatorLF   = "\n"
	TerminatorCRLF = "\r\n"
)

// ParseTerminator accepts "lf", "crlf" or the literal sequences.
// An empty string selects TerminatorLF.
func ParseTerminator(s string) (string, error) {
	switch s {
	case "", "lf", "LF", TerminatorLF:
		return TerminatorLF, nil
	case "crlf", "CRLF", TerminatorCRLF:
		return TerminatorCRLF, nil
	default:
		return "", fmt.Errorf("invalid line terminator: %q (must be lf or crlf)", s)
	}
}

// CSVOptions controls the file layout around the serialized lines.
type CSVOptions struct {
	// Header writes a first line naming the projected paths.
	Header bool
	// Terminator ends every line, including the last. Default "\n".
	Terminator string
}

// CSVEncoder writes one serialized line per record, optionally stream
// compressed with gzip, zstd or lz4.
type CSVEncoder struct {
	serializer  *codec.CSVSerializer
	compression string
	header      bool
	terminator  string
}

// NewCSVEncoder creates a CSV encoder around a built serializer.
func NewCSVEncoder(serializer *codec.CSVSerializer, compression string, opts CSVOptions) (*CSVEncoder, error) {
	if serializer == nil {
		return nil, fmt.Errorf("csv encoder requires a serializer")
	}

	compression = normalizeCompression(compression)
	switch compression {
	case CompressionNone, CompressionGzip, CompressionZstd, CompressionLZ4:
	default:
		return nil, fmt.Errorf("unsupported compression for csv: %s", compression)
	}

	terminator, err := ParseTerminator(opts.Terminator)
	if err != nil {
		return nil, err
	}

	return &CSVEncoder{
		serializer:  serializer,
		compression: compression,
		header:      opts.Header,
		terminator:  terminator,
	}, nil
}

// Encode writes records to filePath. A partially written file is removed
// when encoding fails.
func (e *CSVEncoder) Encode(filePath string, records []event.Record) (*event.FileStats, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("no records to encode")
	}

	sink, err := createFileSink(filePath)
	if err != nil {
		return nil, err
	}

	empty, err := e.writeLines(sink, records)
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

func (e *CSVEncoder) writeLines(sink *fileSink, records []event.Record) (int, error) {
	cw, err := newCompressor(sink, e.compression)
	if err != nil {
		return 0, err
	}
	bw := bufio.NewWriterSize(cw, 64*1024)

	line := make([]byte, 0, 512)
	if e.header {
		line = e.serializer.AppendHeader(line)
		line = append(line, e.terminator...)
		if _, err := bw.Write(line); err != nil {
			return 0, &apperrors.EncodeError{Err: err}
		}
	}

	empty := 0
	for i, record := range records {
		log, err := logOf(record)
		if err != nil {
			return 0, fmt.Errorf("failed to convert record %d: %w", i, err)
		}

		var n int
		line, n = e.serializer.AppendLine(line[:0], log)
		line = append(line, e.terminator...)
		empty += n

		if _, err := bw.Write(line); err != nil {
			return 0, &apperrors.EncodeError{Err: err}
		}
	}

	if err := bw.Flush(); err != nil {
		return 0, &apperrors.EncodeError{Err: err}
	}
	if err := cw.Close(); err != nil {
		return 0, fmt.Errorf("failed to close %s writer: %w", e.compression, err)
	}
	return empty, nil
}

// Format returns the file format.
func (e *CSVEncoder) Format() event.FileFormat {
	return event.FormatCSV
}

// FileExtension returns ".csv", or ".tsv" for tab-delimited output, followed
// by the compression suffix.
func (e *CSVEncoder) FileExtension() string {
	ext := ".csv"
	if e.serializer.Options().Delimiter == '\t' {
		ext = ".tsv"
	}
	return ext + compressionSuffix(e.compression)
}
