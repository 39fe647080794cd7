package event

import (
	"fmt"

	"github.com/jittakal/kafcsvstore/pkg/lookup"
)

// LogEvent is a keyed container of typed values addressed by lookup paths.
//
// Values stored in a LogEvent are expected to be one of:
//
//	[]byte, string              byte strings
//	int, int8..int64, uint..    integers
//	float32, float64            floating point
//	bool                        booleans
//	time.Time                   timestamps
//	nil                         null
//	[]any, map[string]any       arrays and objects
//	*regexp.Regexp              patterns
//
// A LogEvent is not safe for concurrent mutation. Readers may share it once
// it is fully built.
type LogEvent struct {
	fields   map[string]any
	metadata map[string]any
}

// NewLogEvent wraps fields without copying them.
func NewLogEvent(fields map[string]any) *LogEvent {
	if fields == nil {
		fields = make(map[string]any)
	}
	return &LogEvent{
		fields:   fields,
		metadata: make(map[string]any),
	}
}

// WithMetadata replaces the metadata map and returns the event.
func (e *LogEvent) WithMetadata(metadata map[string]any) *LogEvent {
	if metadata == nil {
		metadata = make(map[string]any)
	}
	e.metadata = metadata
	return e
}

// Fields returns the underlying event fields.
func (e *LogEvent) Fields() map[string]any {
	return e.fields
}

// Metadata returns the underlying metadata.
func (e *LogEvent) Metadata() map[string]any {
	return e.metadata
}

// Get resolves path against the event. The boolean is false when any
// segment of the path is absent.
func (e *LogEvent) Get(path lookup.Path) (any, bool) {
	if e == nil {
		return nil, false
	}

	var current any = e.root(path.Target)
	for _, seg := range path.Segments {
		if seg.IsIndex {
			arr, ok := current.([]any)
			if !ok {
				return nil, false
			}
			i := seg.Index
			if i < 0 {
				i += len(arr)
			}
			if i < 0 || i >= len(arr) {
				return nil, false
			}
			current = arr[i]
			continue
		}

		obj, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = obj[seg.Field]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// Insert stores value at path, creating intermediate objects for field
// segments. Index segments must address an existing array element.
func (e *LogEvent) Insert(path lookup.Path, value any) error {
	if path.IsRoot() {
		return fmt.Errorf("cannot insert at root path %s", path)
	}

	var current any = e.root(path.Target)
	last := len(path.Segments) - 1
	for i, seg := range path.Segments {
		if seg.IsIndex {
			arr, ok := current.([]any)
			if !ok {
				return fmt.Errorf("path %s: segment %d is not an array", path, i)
			}
			idx := seg.Index
			if idx < 0 {
				idx += len(arr)
			}
			if idx < 0 || idx >= len(arr) {
				return fmt.Errorf("path %s: index %d out of range", path, seg.Index)
			}
			if i == last {
				arr[idx] = value
				return nil
			}
			current = arr[idx]
			continue
		}

		obj, ok := current.(map[string]any)
		if !ok {
			return fmt.Errorf("path %s: segment %d is not an object", path, i)
		}
		if i == last {
			obj[seg.Field] = value
			return nil
		}
		next, exists := obj[seg.Field]
		if !exists {
			child := make(map[string]any)
			obj[seg.Field] = child
			next = child
		}
		current = next
	}
	return nil
}

func (e *LogEvent) root(target lookup.Target) map[string]any {
	if target == lookup.TargetMetadata {
		return e.metadata
	}
	return e.fields
}
