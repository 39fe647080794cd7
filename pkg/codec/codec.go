// Package codec defines the interface for turning a single log event into
// one encoded line.
package codec

import (
	"io"

	"github.com/jittakal/kafcsvstore/pkg/event"
)

// Serializer encodes one event per call.
type Serializer interface {
	// Encode writes the encoded form of log to w. Implementations issue a
	// single Write per call, and bytes written by a failed call must be
	// discarded by the caller.
	Encode(log *event.LogEvent, w io.Writer) error
}
