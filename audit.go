package authbroker

import (
	"io"

	"github.com/polyfactor/authbroker/internal/audit"
)

// AuditEvent defines a public type used by authbroker APIs.
type AuditEvent = audit.Event

// AuditSink defines a public type used by authbroker APIs.
type AuditSink = audit.Sink

// NoOpSink defines a public type used by authbroker APIs.
type NoOpSink = audit.NoOpSink

// ChannelSink defines a public type used by authbroker APIs.
type ChannelSink = audit.ChannelSink

// NewChannelSink describes the newchannelsink operation and its observable behavior.
func NewChannelSink(buffer int) *ChannelSink {
	return audit.NewChannelSink(buffer)
}

// JSONWriterSink defines a public type used by authbroker APIs.
type JSONWriterSink = audit.JSONWriterSink

// NewJSONWriterSink describes the newjsonwritersink operation and its observable behavior.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return audit.NewJSONWriterSink(w)
}
