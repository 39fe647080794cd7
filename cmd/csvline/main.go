// Command csvline converts JSON objects, one per input line, into CSV lines
// using the same csv configuration as the kafcsvstore service.
//
//	csvline --fields id,user.name,%line --quote-style always < events.jsonl
//
// Input lines that are not JSON objects are reported on stderr and skipped.
// The metadata path %line holds the 1-based input line number.
package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"

	"github.com/jittakal/kafcsvstore/internal/config"
	"github.com/jittakal/kafcsvstore/internal/observability"
	"github.com/jittakal/kafcsvstore/pkg/event"
)

const maxLineBytes = 16 * 1024 * 1024

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "csvline: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	fs := pflag.NewFlagSet("csvline", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "optional configuration file providing the csv section")
	config.AddCSVFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	loader := config.NewLoader()
	if err := loader.BindFlags(fs); err != nil {
		return err
	}
	cfg, err := loader.Read(*configPath)
	if err != nil {
		return err
	}

	logger := observability.NewLoggerTo(observability.LoggingConfig{
		Level:  cfg.Observability.Logging.Level,
		Format: cfg.Observability.Logging.Format,
	}, stderr)

	serializerConfig, err := config.SerializerConfig(cfg.CSV)
	if err != nil {
		return err
	}
	serializer, err := serializerConfig.Build()
	if err != nil {
		return err
	}
	layout, err := config.EncoderOptions(cfg.CSV)
	if err != nil {
		return err
	}

	out := bufio.NewWriter(stdout)
	line := make([]byte, 0, 512)
	if layout.Header {
		line = append(serializer.AppendHeader(line), layout.Terminator...)
		if _, err := out.Write(line); err != nil {
			return err
		}
	}

	scanner := bufio.NewScanner(stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	var lineNo, written, skipped int64
	for scanner.Scan() {
		lineNo++
		input := scanner.Bytes()
		if len(input) == 0 {
			continue
		}

		log, err := decodeLine(input, lineNo)
		if err != nil {
			skipped++
			logger.Warn("skipping input line", "line", lineNo, "error", err)
			continue
		}

		line, _ = serializer.AppendLine(line[:0], log)
		line = append(line, layout.Terminator...)
		if _, err := out.Write(line); err != nil {
			return err
		}
		written++
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read input: %w", err)
	}
	if err := out.Flush(); err != nil {
		return err
	}

	logger.Debug("conversion finished", "lines_written", written, "lines_skipped", skipped)
	return nil
}

// decodeLine turns one JSON object into a log event.
func decodeLine(input []byte, lineNo int64) (*event.LogEvent, error) {
	value, err := event.DecodeData(input)
	if err != nil {
		return nil, err
	}
	fields, ok := value.(map[string]any)
	if !ok {
		return nil, errors.New("input is not a JSON object")
	}
	return event.NewLogEvent(fields).WithMetadata(map[string]any{"line": lineNo}), nil
}
