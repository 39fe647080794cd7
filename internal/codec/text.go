package codec

import (
	"errors"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// FieldText converts a resolved value to its field text. The boolean is
// false when the value renders as empty because it is absent, null or of a
// type without a text form (arrays, objects, patterns).
func FieldText(value any, found bool) (string, bool) {
	if !found {
		return "", false
	}

	switch v := value.(type) {
	case string:
		return validUTF8(v), true
	case []byte:
		return validUTF8(string(v)), true
	case int:
		return strconv.FormatInt(int64(v), 10), true
	case int8:
		return strconv.FormatInt(int64(v), 10), true
	case int16:
		return strconv.FormatInt(int64(v), 10), true
	case int32:
		return strconv.FormatInt(int64(v), 10), true
	case int64:
		return strconv.FormatInt(v, 10), true
	case uint:
		return strconv.FormatUint(uint64(v), 10), true
	case uint8:
		return strconv.FormatUint(uint64(v), 10), true
	case uint16:
		return strconv.FormatUint(uint64(v), 10), true
	case uint32:
		return strconv.FormatUint(uint64(v), 10), true
	case uint64:
		return strconv.FormatUint(v, 10), true
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32), true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(v), true
	case time.Time:
		return FormatTimestamp(v), true
	default:
		// nil, []any, map[string]any, *regexp.Regexp
		return "", false
	}
}

// FormatTimestamp renders t in UTC as RFC 3339 with a "Z" suffix and the
// shortest of 0, 3, 6 or 9 fractional digits that loses no precision.
func FormatTimestamp(t time.Time) string {
	t = t.UTC()
	layout := "2006-01-02T15:04:05Z"
	switch ns := t.Nanosecond(); {
	case ns == 0:
	case ns%int(time.Millisecond) == 0:
		layout = "2006-01-02T15:04:05.000Z"
	case ns%int(time.Microsecond) == 0:
		layout = "2006-01-02T15:04:05.000000Z"
	default:
		layout = "2006-01-02T15:04:05.000000000Z"
	}
	return t.Format(layout)
}

func isNumeric(text string) bool {
	if text == "" || hasHexPrefix(text) {
		return false
	}
	if _, err := strconv.ParseInt(text, 10, 64); err == nil {
		return true
	}
	_, err := strconv.ParseFloat(text, 64)
	return err == nil || errors.Is(err, strconv.ErrRange)
}

// hasHexPrefix reports a "0x" prefix after an optional sign. ParseFloat
// accepts hex floats, but they are not plain numbers in a CSV field.
func hasHexPrefix(text string) bool {
	if text[0] == '+' || text[0] == '-' {
		text = text[1:]
	}
	return len(text) >= 2 && text[0] == '0' && (text[1] == 'x' || text[1] == 'X')
}

// validUTF8 replaces every maximal invalid subpart of s with one U+FFFD, so
// "a\xff\xfeb" becomes "a\uFFFD\uFFFDb" and a truncated sequence such as
// "\xe2\x82" becomes a single U+FFFD.
func validUTF8(s string) string {
	if utf8.ValidString(s) {
		return s
	}

	var b strings.Builder
	b.Grow(len(s) + 2*utf8.UTFMax)
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		if r == utf8.RuneError && size == 1 {
			b.WriteRune(utf8.RuneError)
			i += invalidSubpartLen(s[i:])
			continue
		}
		b.WriteString(s[i : i+size])
		i += size
	}
	return b.String()
}

// invalidSubpartLen returns the length of the longest prefix of s that
// starts a well-formed sequence. s does not begin with a valid rune.
func invalidSubpartLen(s string) int {
	n, lo, hi := 0, byte(0x80), byte(0xBF)
	switch c := s[0]; {
	case c >= 0xC2 && c <= 0xDF:
		n = 2
	case c == 0xE0:
		n, lo = 3, 0xA0
	case c == 0xED:
		n, hi = 3, 0x9F
	case c >= 0xE1 && c <= 0xEF:
		n = 3
	case c == 0xF0:
		n, lo = 4, 0x90
	case c >= 0xF1 && c <= 0xF3:
		n = 4
	case c == 0xF4:
		n, hi = 4, 0x8F
	default:
		return 1
	}

	if len(s) < 2 || s[1] < lo || s[1] > hi {
		return 1
	}
	i := 2
	for i < n && i < len(s) && s[i] >= 0x80 && s[i] <= 0xBF {
		i++
	}
	return i
}
