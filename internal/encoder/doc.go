// Package encoder writes batches of records to files.
//
// Every encoder projects the same ordered field paths through a shared
// codec.CSVSerializer, so a column holds the same text whatever the format.
//
// # Supported Formats
//
//   - CSV: one serialized line per record, optional header, "\n" or "\r\n"
//     terminators, stream compression none, gzip, zstd or lz4
//   - Parquet: one optional UTF8 column per path, compression snappy
//     (default), gzip, lz4, zstd or uncompressed
//   - Avro: OCF with one nullable string field per path, gzip around the
//     container (default) or deflate / snappy blocks
//
// Column names for Parquet and Avro come from ColumnNames.
//
// # Encoder Factory
//
//	factory := encoder.NewFactory(event.FormatCSV, "gzip", serializer, encoder.CSVOptions{Header: true})
//	enc, err := factory.CreateEncoder()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// # Encoding Records
//
// All encoders implement the pkg/encoder.Encoder interface:
//
//	stats, err := enc.Encode(filePath, records)
//	fmt.Printf("Encoded %d records, %d bytes, blake3 %s\n",
//	    stats.RecordCount, stats.SizeBytes, stats.Checksum)
//
// Records carrying a LogEvent are projected from it directly; others are
// converted with event.FromRecord.
//
// # File Extensions
//
//	".csv", ".csv.gz", ".csv.zst", ".csv.lz4"   (".tsv" for tab delimiters)
//	".parquet"
//	".avro", ".avro.gz"
//
// # Thread Safety
//
// Encoder instances hold no per-call state and are safe for concurrent use
// on distinct file paths.
package encoder
