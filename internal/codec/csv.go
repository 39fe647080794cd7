// Package codec implements the CSV line serializer.
//
// A CSVSerializer projects a fixed, ordered list of field paths out of each
// event and renders them as one delimiter-separated line:
//
//	opts := codec.DefaultCSVSerializerOptions()
//	opts.Fields, err = lookup.ParseAll([]string{"id", "data.user", "%kafka.offset"})
//	s, err := codec.CSVSerializerConfig{CSV: opts}.Build()
//	err = s.Encode(log, w) // evt-1,"Doe, Jane",42
//
// Lines carry no terminator. Writers that store several lines add their own.
package codec

import (
	"fmt"
	"io"
	"strings"

	apperrors "github.com/jittakal/kafcsvstore/internal/errors"
	pkgcodec "github.com/jittakal/kafcsvstore/pkg/codec"
	"github.com/jittakal/kafcsvstore/pkg/event"
	"github.com/jittakal/kafcsvstore/pkg/lookup"
)

var _ pkgcodec.Serializer = (*CSVSerializer)(nil)

// QuoteStyle controls when a field is wrapped in quotes.
type QuoteStyle int

const (
	// QuoteNecessary quotes fields containing the delimiter, a quote or a
	// line break, and the lone field of an otherwise empty record.
	QuoteNecessary QuoteStyle = iota
	// QuoteAlways quotes every field.
	QuoteAlways
	// QuoteNonNumeric quotes every field that is not an integer or float.
	QuoteNonNumeric
	// QuoteNever never quotes, even when the output becomes ambiguous.
	QuoteNever
)

var quoteStyleNames = map[QuoteStyle]string{
	QuoteNecessary:  "necessary",
	QuoteAlways:     "always",
	QuoteNonNumeric: "non_numeric",
	QuoteNever:      "never",
}

func (q QuoteStyle) String() string {
	if name, ok := quoteStyleNames[q]; ok {
		return name
	}
	return fmt.Sprintf("QuoteStyle(%d)", int(q))
}

// ParseQuoteStyle parses the snake_case name of a quote style.
// An empty string selects QuoteNecessary.
func ParseQuoteStyle(s string) (QuoteStyle, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "necessary":
		return QuoteNecessary, nil
	case "always":
		return QuoteAlways, nil
	case "non_numeric", "nonnumeric":
		return QuoteNonNumeric, nil
	case "never":
		return QuoteNever, nil
	default:
		return QuoteNecessary, fmt.Errorf("invalid quote style: %q (must be always, necessary, non_numeric or never)", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (q QuoteStyle) MarshalText() ([]byte, error) {
	return []byte(q.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (q *QuoteStyle) UnmarshalText(text []byte) error {
	parsed, err := ParseQuoteStyle(string(text))
	if err != nil {
		return err
	}
	*q = parsed
	return nil
}

// CSVSerializerOptions holds the line layout.
type CSVSerializerOptions struct {
	// Delimiter separates fields. Default ','.
	Delimiter byte
	// Escape prefixes embedded quotes when DoubleQuote is false. Default '"'.
	Escape byte
	// DoubleQuote escapes embedded quotes by doubling them. Default true.
	DoubleQuote bool
	// QuoteStyle selects the quoting policy. Default QuoteNecessary.
	QuoteStyle QuoteStyle
	// Fields is the ordered projection. Duplicates are allowed.
	Fields []lookup.Path
}

// DefaultCSVSerializerOptions returns options with the default layout and no fields.
func DefaultCSVSerializerOptions() CSVSerializerOptions {
	return CSVSerializerOptions{
		Delimiter:   ',',
		Escape:      '"',
		DoubleQuote: true,
		QuoteStyle:  QuoteNecessary,
	}
}

// CSVSerializerConfig is the configuration a CSVSerializer is built from.
type CSVSerializerConfig struct {
	CSV CSVSerializerOptions
}

// Build validates the configuration and returns an immutable serializer.
// The only rejected configuration is an empty field list.
func (c CSVSerializerConfig) Build() (*CSVSerializer, error) {
	if len(c.CSV.Fields) == 0 {
		return nil, &apperrors.ConfigError{Message: apperrors.MsgNoFields}
	}

	opts := c.CSV
	opts.Fields = append([]lookup.Path(nil), c.CSV.Fields...)
	return &CSVSerializer{opts: opts}, nil
}

// CSVSerializer renders events as CSV lines. It is safe for concurrent use.
type CSVSerializer struct {
	opts CSVSerializerOptions
}

// Options returns a copy of the options the serializer was built with.
func (s *CSVSerializer) Options() CSVSerializerOptions {
	opts := s.opts
	opts.Fields = s.Fields()
	return opts
}

// Fields returns a copy of the projected paths.
func (s *CSVSerializer) Fields() []lookup.Path {
	return append([]lookup.Path(nil), s.opts.Fields...)
}

// Encode renders log as one line and writes it to w in a single call.
func (s *CSVSerializer) Encode(log *event.LogEvent, w io.Writer) error {
	line, _ := s.AppendLine(nil, log)
	if _, err := w.Write(line); err != nil {
		return &apperrors.EncodeError{Err: err}
	}
	return nil
}

// AppendLine appends the line for log to dst and returns the extended slice
// together with the number of fields that rendered as empty text.
func (s *CSVSerializer) AppendLine(dst []byte, log *event.LogEvent) ([]byte, int) {
	empty := 0
	for i, path := range s.opts.Fields {
		if i > 0 {
			dst = append(dst, s.opts.Delimiter)
		}
		text, _ := FieldText(log.Get(path))
		if text == "" {
			empty++
		}
		dst = s.appendField(dst, text)
	}
	return dst, empty
}

// AppendHeader appends a header line naming each projected path.
func (s *CSVSerializer) AppendHeader(dst []byte) []byte {
	for i, path := range s.opts.Fields {
		if i > 0 {
			dst = append(dst, s.opts.Delimiter)
		}
		dst = s.appendField(dst, path.String())
	}
	return dst
}

// Project resolves every projected path and returns its text, or nil when
// the value is absent, null or not representable as text.
func (s *CSVSerializer) Project(log *event.LogEvent) []*string {
	out := make([]*string, len(s.opts.Fields))
	for i, path := range s.opts.Fields {
		if text, ok := FieldText(log.Get(path)); ok {
			out[i] = &text
		}
	}
	return out
}

func (s *CSVSerializer) appendField(dst []byte, text string) []byte {
	if !s.shouldQuote(text) {
		return append(dst, text...)
	}

	dst = append(dst, '"')
	start := 0
	for i := 0; i < len(text); i++ {
		if text[i] != '"' {
			continue
		}
		dst = append(dst, text[start:i]...)
		if s.opts.DoubleQuote {
			dst = append(dst, '"', '"')
		} else {
			dst = append(dst, s.opts.Escape, '"')
		}
		start = i + 1
	}
	dst = append(dst, text[start:]...)
	return append(dst, '"')
}

func (s *CSVSerializer) shouldQuote(text string) bool {
	switch s.opts.QuoteStyle {
	case QuoteAlways:
		return true
	case QuoteNever:
		return false
	case QuoteNonNumeric:
		if !isNumeric(text) {
			return true
		}
	}

	// A lone empty field would otherwise produce a blank line.
	if text == "" {
		return len(s.opts.Fields) == 1
	}
	return s.needsQuote(text)
}

func (s *CSVSerializer) needsQuote(text string) bool {
	for i := 0; i < len(text); i++ {
		switch c := text[i]; {
		case c == s.opts.Delimiter, c == '"', c == '\n', c == '\r':
			return true
		case !s.opts.DoubleQuote && c == s.opts.Escape:
			return true
		}
	}
	return false
}
