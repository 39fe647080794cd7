// Package lookup parses field paths that address values inside a log event.
//
// A path is a sequence of segments. Field segments select a key of an object,
// index segments select an element of an array:
//
//	message
//	.user.name
//	items[0].sku
//	items[-1]
//	headers."x-request.id"
//	%kafka.topic
//
// A leading "%" selects the event metadata instead of the event fields.
package lookup

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Target selects which part of an event a path resolves against.
type Target uint8

const (
	// TargetEvent resolves against the event fields.
	TargetEvent Target = iota
	// TargetMetadata resolves against the event metadata.
	TargetMetadata
)

// Segment is one step of a path. Exactly one of Field or Index is meaningful,
// depending on IsIndex.
type Segment struct {
	Field   string
	Index   int
	IsIndex bool
}

// Path is a parsed field path. The zero value addresses the event root.
type Path struct {
	Target   Target
	Segments []Segment
}

// ParseError describes why a path string could not be parsed.
type ParseError struct {
	Input  string
	Pos    int
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid field path %q at offset %d: %s", e.Input, e.Pos, e.Reason)
}

// Parse parses a path string.
func Parse(s string) (Path, error) {
	p := parser{input: s}
	return p.parse()
}

// MustParse is like Parse but panics on error. Intended for tests and
// package-level variables.
func MustParse(s string) Path {
	path, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return path
}

// ParseAll parses a projection list, keeping the order and duplicates.
func ParseAll(paths []string) ([]Path, error) {
	out := make([]Path, 0, len(paths))
	for i, s := range paths {
		path, err := Parse(s)
		if err != nil {
			return nil, fmt.Errorf("field %d: %w", i, err)
		}
		out = append(out, path)
	}
	return out, nil
}

// IsRoot reports whether the path addresses the whole target.
func (p Path) IsRoot() bool {
	return len(p.Segments) == 0
}

// String renders the canonical form of the path.
func (p Path) String() string {
	var b strings.Builder
	if p.Target == TargetMetadata {
		b.WriteByte('%')
	}
	if len(p.Segments) == 0 {
		if p.Target == TargetEvent {
			b.WriteByte('.')
		}
		return b.String()
	}
	for i, seg := range p.Segments {
		if seg.IsIndex {
			b.WriteByte('[')
			b.WriteString(strconv.Itoa(seg.Index))
			b.WriteByte(']')
			continue
		}
		if i > 0 {
			b.WriteByte('.')
		}
		if isPlainField(seg.Field) {
			b.WriteString(seg.Field)
		} else {
			b.WriteString(quoteField(seg.Field))
		}
	}
	return b.String()
}

// Equal reports whether two paths address the same value.
func (p Path) Equal(other Path) bool {
	if p.Target != other.Target || len(p.Segments) != len(other.Segments) {
		return false
	}
	for i := range p.Segments {
		if p.Segments[i] != other.Segments[i] {
			return false
		}
	}
	return true
}

// MarshalText implements encoding.TextMarshaler.
func (p Path) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Path) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

type parser struct {
	input string
	pos   int
}

func (p *parser) fail(reason string) error {
	return &ParseError{Input: p.input, Pos: p.pos, Reason: reason}
}

func (p *parser) parse() (Path, error) {
	var path Path
	if p.input == "" {
		return path, p.fail("empty path")
	}

	if p.input[0] == '%' {
		path.Target = TargetMetadata
		p.pos++
	}
	if p.pos < len(p.input) && p.input[p.pos] == '.' {
		p.pos++
		if p.pos == len(p.input) {
			return path, nil
		}
	} else if p.pos == len(p.input) {
		// "%" alone is the metadata root.
		return path, nil
	}

	expectField := true
	for p.pos < len(p.input) {
		c := p.input[p.pos]
		switch {
		case c == '[':
			seg, err := p.parseIndex()
			if err != nil {
				return Path{}, err
			}
			path.Segments = append(path.Segments, seg)
			expectField = false
		case c == '.':
			if expectField {
				return Path{}, p.fail("unexpected '.'")
			}
			p.pos++
			expectField = true
			if p.pos == len(p.input) {
				return Path{}, p.fail("trailing '.'")
			}
		case expectField:
			seg, err := p.parseField()
			if err != nil {
				return Path{}, err
			}
			path.Segments = append(path.Segments, seg)
			expectField = false
		default:
			return Path{}, p.fail(fmt.Sprintf("unexpected %q", c))
		}
	}
	return path, nil
}

func (p *parser) parseField() (Segment, error) {
	if p.input[p.pos] == '"' {
		return p.parseQuotedField()
	}
	start := p.pos
	for p.pos < len(p.input) {
		r, size := utf8.DecodeRuneInString(p.input[p.pos:])
		if !isFieldRune(r) {
			break
		}
		p.pos += size
	}
	if p.pos == start {
		return Segment{}, p.fail(fmt.Sprintf("unexpected %q", p.input[p.pos]))
	}
	return Segment{Field: p.input[start:p.pos]}, nil
}

func (p *parser) parseQuotedField() (Segment, error) {
	p.pos++ // opening quote
	var b strings.Builder
	for p.pos < len(p.input) {
		c := p.input[p.pos]
		switch c {
		case '\\':
			if p.pos+1 >= len(p.input) {
				return Segment{}, p.fail("unterminated escape")
			}
			next := p.input[p.pos+1]
			if next != '"' && next != '\\' {
				return Segment{}, p.fail(fmt.Sprintf("invalid escape \\%c", next))
			}
			b.WriteByte(next)
			p.pos += 2
		case '"':
			p.pos++
			return Segment{Field: b.String()}, nil
		default:
			b.WriteByte(c)
			p.pos++
		}
	}
	return Segment{}, p.fail("unterminated quoted field")
}

func (p *parser) parseIndex() (Segment, error) {
	p.pos++ // '['
	end := strings.IndexByte(p.input[p.pos:], ']')
	if end < 0 {
		return Segment{}, p.fail("unterminated index")
	}
	raw := p.input[p.pos : p.pos+end]
	idx, err := strconv.Atoi(raw)
	if err != nil || raw == "" || raw[0] == '+' {
		return Segment{}, p.fail(fmt.Sprintf("invalid index %q", raw))
	}
	p.pos += end + 1
	return Segment{Index: idx, IsIndex: true}, nil
}

func isFieldRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == '_' || r == '@' || r == '$' || r == '-':
		return true
	case r >= utf8.RuneSelf:
		return r != utf8.RuneError
	}
	return false
}

func isPlainField(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !isFieldRune(r) {
			return false
		}
	}
	return true
}

func quoteField(s string) string {
	var b strings.Builder
	b.WriteByte('"')
	for i := 0; i < len(s); i++ {
		if s[i] == '"' || s[i] == '\\' {
			b.WriteByte('\\')
		}
		b.WriteByte(s[i])
	}
	b.WriteByte('"')
	return b.String()
}
