// Package validator checks CloudEvents before they are projected into CSV.
package validator

import (
	"encoding/json"
	"fmt"
	"mime"
	"strings"

	"github.com/jittakal/kafcsvstore/internal/errors"
	"github.com/jittakal/kafcsvstore/pkg/event"
)

// CloudEventsValidator checks required attributes, the spec version and,
// for JSON content types, that the payload is well-formed.
type CloudEventsValidator struct{}

// NewCloudEventsValidator creates a new CloudEvents validator.
func NewCloudEventsValidator() *CloudEventsValidator {
	return &CloudEventsValidator{}
}

// Validate validates a CloudEvent. A "0.1" spec version is rewritten to
// "1.0" in place.
func (v *CloudEventsValidator) Validate(e *event.CloudEvent) error {
	if e == nil {
		return &errors.ValidationError{Field: "event", Reason: "event is nil"}
	}

	required := []struct {
		name  string
		value string
	}{
		{event.FieldID, e.ID},
		{event.FieldSource, e.Source},
		{event.FieldSpecVersion, e.SpecVersion},
		{event.FieldType, e.Type},
	}
	for _, attr := range required {
		if strings.TrimSpace(attr.value) == "" {
			return &errors.ValidationError{
				EventID: e.ID,
				Field:   attr.name,
				Reason:  "required field is missing",
			}
		}
	}

	if e.SpecVersion == "0.1" {
		e.SpecVersion = "1.0"
	}
	if e.SpecVersion != "1.0" {
		return &errors.ValidationError{
			EventID: e.ID,
			Field:   event.FieldSpecVersion,
			Reason:  fmt.Sprintf("unsupported version: %s (supported: 1.0)", e.SpecVersion),
		}
	}

	if e.DataContentType != nil && isJSONContentType(*e.DataContentType) &&
		len(e.Data) > 0 && !json.Valid(e.Data) {
		return &errors.ValidationError{
			EventID: e.ID,
			Field:   event.FieldData,
			Reason:  fmt.Sprintf("malformed payload for content type %s", *e.DataContentType),
		}
	}

	return nil
}

// isJSONContentType matches application/json and any +json suffix type.
func isJSONContentType(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == "application/json" || mediaType == "text/json" ||
		strings.HasSuffix(mediaType, "+json")
}
