package kafka

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/IBM/sarama"
	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/cloudevents/sdk-go/v2/types"

	"github.com/jittakal/kafcsvstore/pkg/event"
)

// Kafka protocol binding header names.
const (
	headerPrefix      = "ce_"
	headerSpecVersion = "ce_specversion"
	headerContentType = "content-type"
)

const legacySpecVersion = "0.1"

// decodeMessage decodes a Kafka message into a CloudEvent. Messages carrying
// a ce_specversion header are read in binary content mode, everything else
// as a structured JSON event. CloudEvents 0.1 payloads are normalized to 1.0.
func decodeMessage(msg *sarama.ConsumerMessage) (*event.CloudEvent, error) {
	if headerValue(msg.Headers, headerSpecVersion) != "" {
		return decodeBinary(msg)
	}
	return decodeStructured(msg.Value)
}

func decodeStructured(value []byte) (*event.CloudEvent, error) {
	var probe struct {
		SpecVersion string `json:"specversion"`
	}
	if err := json.Unmarshal(value, &probe); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cloud event: %w", err)
	}

	if probe.SpecVersion == legacySpecVersion {
		var legacy event.CloudEvent
		if err := json.Unmarshal(value, &legacy); err != nil {
			return nil, fmt.Errorf("failed to unmarshal cloud event: %w", err)
		}
		legacy.SpecVersion = cloudevents.VersionV1
		return &legacy, nil
	}

	var ce cloudevents.Event
	if err := json.Unmarshal(value, &ce); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cloud event: %w", err)
	}
	return fromSDKEvent(ce), nil
}

func decodeBinary(msg *sarama.ConsumerMessage) (*event.CloudEvent, error) {
	specVersion := headerValue(msg.Headers, headerSpecVersion)
	switch specVersion {
	case legacySpecVersion:
		specVersion = cloudevents.VersionV1
	case cloudevents.VersionV03, cloudevents.VersionV1:
	default:
		return nil, fmt.Errorf("unsupported ce_specversion header: %q", specVersion)
	}

	ce := cloudevents.NewEvent(specVersion)
	for _, h := range msg.Headers {
		if h == nil {
			continue
		}
		name := strings.ToLower(string(h.Key))
		value := string(h.Value)

		if name == headerContentType {
			ce.SetDataContentType(value)
			continue
		}
		if !strings.HasPrefix(name, headerPrefix) {
			continue
		}

		switch attr := strings.TrimPrefix(name, headerPrefix); attr {
		case "specversion":
		case "id":
			ce.SetID(value)
		case "source":
			ce.SetSource(value)
		case "type":
			ce.SetType(value)
		case "subject":
			ce.SetSubject(value)
		case "dataschema":
			ce.SetDataSchema(value)
		case "time":
			t, err := types.ParseTime(value)
			if err != nil {
				return nil, fmt.Errorf("invalid ce_time header: %w", err)
			}
			ce.SetTime(t)
		default:
			ce.SetExtension(attr, value)
		}
	}
	ce.DataEncoded = msg.Value

	return fromSDKEvent(ce), nil
}

// fromSDKEvent copies an SDK event into the archive's CloudEvent model.
// Empty optional attributes stay nil.
func fromSDKEvent(ce cloudevents.Event) *event.CloudEvent {
	out := &event.CloudEvent{
		ID:          ce.ID(),
		Source:      ce.Source(),
		SpecVersion: ce.SpecVersion(),
		Type:        ce.Type(),
		Data:        ce.Data(),
	}
	if v := ce.Subject(); v != "" {
		out.Subject = &v
	}
	if v := ce.DataContentType(); v != "" {
		out.DataContentType = &v
	}
	if v := ce.DataSchema(); v != "" {
		out.DataSchema = &v
	}
	if t := ce.Time(); !t.IsZero() {
		out.Time = &t
	}
	if ext := ce.Extensions(); len(ext) > 0 {
		out.Extensions = make(map[string]interface{}, len(ext))
		for k, v := range ext {
			out.Extensions[k] = v
		}
	}
	return out
}

// toSDKEvent converts back to an SDK event for re-publishing. Payloads that
// are not valid JSON are carried as data_base64.
func toSDKEvent(ce *event.CloudEvent) cloudevents.Event {
	out := cloudevents.NewEvent(cloudevents.VersionV1)
	out.SetID(ce.ID)
	out.SetSource(ce.Source)
	out.SetType(ce.Type)
	if ce.Subject != nil {
		out.SetSubject(*ce.Subject)
	}
	if ce.DataContentType != nil {
		out.SetDataContentType(*ce.DataContentType)
	}
	if ce.DataSchema != nil {
		out.SetDataSchema(*ce.DataSchema)
	}
	if ce.Time != nil {
		out.SetTime(*ce.Time)
	}
	for k, v := range ce.Extensions {
		out.SetExtension(k, extensionValue(v))
	}
	if len(ce.Data) > 0 {
		out.DataEncoded = ce.Data
		out.DataBase64 = !json.Valid(ce.Data)
	}
	return out
}

// marshalEvent renders ce as structured JSON, falling back to the plain
// struct encoding when the SDK rejects the event.
func marshalEvent(ce *event.CloudEvent) ([]byte, error) {
	sdk := toSDKEvent(ce)
	if data, err := json.Marshal(&sdk); err == nil {
		return data, nil
	}
	return json.Marshal(ce)
}

// extensionValue maps a value onto the attribute types the SDK accepts.
func extensionValue(v interface{}) interface{} {
	switch t := v.(type) {
	case string, bool, int32, []byte, time.Time:
		return t
	case int:
		if t >= math.MinInt32 && t <= math.MaxInt32 {
			return int32(t)
		}
	case int64:
		if t >= math.MinInt32 && t <= math.MaxInt32 {
			return int32(t)
		}
	}
	return fmt.Sprint(v)
}

func headerValue(headers []*sarama.RecordHeader, key string) string {
	for _, h := range headers {
		if h != nil && strings.EqualFold(string(h.Key), key) {
			return string(h.Value)
		}
	}
	return ""
}

// extractHeaders extracts headers from Kafka message.
func extractHeaders(headers []*sarama.RecordHeader) map[string]string {
	if len(headers) == 0 {
		return nil
	}
	result := make(map[string]string, len(headers))
	for _, h := range headers {
		if h == nil {
			continue
		}
		result[string(h.Key)] = string(h.Value)
	}
	return result
}
