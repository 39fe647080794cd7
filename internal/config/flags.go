package config

import (
	"fmt"

	"github.com/spf13/pflag"
)

// Flag names and the configuration keys they override.
var flagKeys = map[string]string{
	"fields":            "csv.fields",
	"delimiter":         "csv.delimiter",
	"escape":            "csv.escape",
	"double-quote":      "csv.double_quote",
	"quote-style":       "csv.quote_style",
	"header":            "csv.header",
	"terminator":        "csv.terminator",
	"bootstrap-servers": "kafka.bootstrap_servers",
	"group-id":          "kafka.consumer.group_id",
	"topics":            "kafka.consumer.topics",
	"storage-backend":   "storage.backend",
	"format":            "storage.format",
	"compression":       "storage.compression",
	"base-path":         "storage.base_path",
	"log-level":         "observability.logging.level",
	"log-format":        "observability.logging.format",
}

// AddCSVFlags registers the line layout flags.
func AddCSVFlags(fs *pflag.FlagSet) {
	fs.StringSlice("fields", nil, "field paths to project, in column order (e.g. id,data.user,%kafka.offset)")
	fs.String("delimiter", ",", `field delimiter, a single character or "tab"`)
	fs.String("escape", `"`, "escape character used when double-quote is false")
	fs.Bool("double-quote", true, "escape quotes by doubling them")
	fs.String("quote-style", "necessary", "quoting policy: necessary, always, non_numeric or never")
	fs.Bool("header", false, "write a header line with the field paths")
	fs.String("terminator", "lf", "line terminator: lf or crlf")
	fs.String("log-level", "info", "log level: debug, info, warn or error")
	fs.String("log-format", "json", "log format: json or text")
}

// AddServiceFlags registers the archiver flags on top of the CSV flags.
func AddServiceFlags(fs *pflag.FlagSet) {
	AddCSVFlags(fs)
	fs.StringSlice("bootstrap-servers", nil, "kafka bootstrap servers")
	fs.String("group-id", "", "kafka consumer group id")
	fs.StringSlice("topics", nil, "topics to archive")
	fs.String("storage-backend", "file", "storage backend: file, s3, gcs or azure")
	fs.String("format", "csv", "file format: csv, parquet or avro")
	fs.String("compression", "", "compression codec for the selected format")
	fs.String("base-path", "", "object key prefix inside the bucket")
}

// BindFlags binds every known flag present in fs. Flags only override the
// file and environment when set on the command line.
func (l *Loader) BindFlags(fs *pflag.FlagSet) error {
	for name, key := range flagKeys {
		flag := fs.Lookup(name)
		if flag == nil {
			continue
		}
		if err := l.v.BindPFlag(key, flag); err != nil {
			return fmt.Errorf("failed to bind flag --%s: %w", name, err)
		}
	}
	return nil
}
