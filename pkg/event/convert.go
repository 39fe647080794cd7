package event

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Envelope attribute names used as top-level LogEvent fields.
const (
	FieldID              = "id"
	FieldSource          = "source"
	FieldSpecVersion     = "specversion"
	FieldType            = "type"
	FieldSubject         = "subject"
	FieldDataContentType = "datacontenttype"
	FieldDataSchema      = "dataschema"
	FieldTime            = "time"
	FieldData            = "data"
)

// FromRecord builds the keyed view of a record. CloudEvent attributes and
// extensions become top-level fields, the decoded payload is stored under
// "data" and Kafka metadata under the "kafka" metadata key.
func FromRecord(record Record) (*LogEvent, error) {
	fields := make(map[string]any, 10)
	if ce := record.Event; ce != nil {
		for name, value := range ce.Extensions {
			fields[name] = normalizeExtension(value)
		}

		fields[FieldID] = ce.ID
		fields[FieldSource] = ce.Source
		fields[FieldSpecVersion] = ce.SpecVersion
		fields[FieldType] = ce.Type
		if ce.Subject != nil {
			fields[FieldSubject] = *ce.Subject
		}
		if ce.DataContentType != nil {
			fields[FieldDataContentType] = *ce.DataContentType
		}
		if ce.DataSchema != nil {
			fields[FieldDataSchema] = *ce.DataSchema
		}
		if ce.Time != nil {
			fields[FieldTime] = *ce.Time
		}

		if len(ce.Data) > 0 {
			data, err := DecodeData(ce.Data)
			if err != nil {
				return nil, fmt.Errorf("event %s: %w", ce.ID, err)
			}
			fields[FieldData] = data
		}
	}

	kafka := map[string]any{
		"topic":     record.Kafka.Topic,
		"partition": int64(record.Kafka.Partition),
		"offset":    record.Kafka.Offset,
		"timestamp": record.Kafka.Timestamp,
	}
	if record.Kafka.Key != nil {
		kafka["key"] = record.Kafka.Key
	}
	if len(record.Kafka.Headers) > 0 {
		headers := make(map[string]any, len(record.Kafka.Headers))
		for k, v := range record.Kafka.Headers {
			headers[k] = v
		}
		kafka["headers"] = headers
	}

	metadata := map[string]any{
		"kafka":       kafka,
		"ingested_at": record.ProcessedAt,
	}

	return NewLogEvent(fields).WithMetadata(metadata), nil
}

// DecodeData decodes an event payload. Valid JSON is decoded into
// map[string]any / []any / scalars with integral numbers as int64 and the
// rest as float64. Anything else is returned as raw bytes.
func DecodeData(data []byte) (any, error) {
	if !json.Valid(data) {
		return append([]byte(nil), data...), nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("failed to decode data: %w", err)
	}
	return normalizeJSON(v), nil
}

func normalizeJSON(v any) any {
	switch t := v.(type) {
	case json.Number:
		if i, err := strconv.ParseInt(string(t), 10, 64); err == nil {
			return i
		}
		if f, err := strconv.ParseFloat(string(t), 64); err == nil {
			return f
		}
		return string(t)
	case map[string]any:
		for k, child := range t {
			t[k] = normalizeJSON(child)
		}
		return t
	case []any:
		for i, child := range t {
			t[i] = normalizeJSON(child)
		}
		return t
	default:
		return v
	}
}

func normalizeExtension(v any) any {
	switch t := v.(type) {
	case int32:
		return int64(t)
	case time.Time:
		return t
	case *time.Time:
		if t == nil {
			return nil
		}
		return *t
	case fmt.Stringer:
		return t.String()
	default:
		return v
	}
}
