package audit

import (
	"context"
	"time"
)

// Event is one entry of the authentication audit trail. It maps onto a row
// of auth_audit_log. SessionRef holds a short token prefix, never a full
// session token, and Error holds a stable error code rather than a message.
type Event struct {
	Timestamp  time.Time         `json:"occurred_at"`
	EventType  string            `json:"event_type"`
	IdentityID string            `json:"identity_id,omitempty"`
	TenantID   string            `json:"tenant_id,omitempty"`
	SessionRef string            `json:"session_ref,omitempty"`
	IP         string            `json:"ip,omitempty"`
	Success    bool              `json:"success"`
	Error      string            `json:"error,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Sink receives audit events from the Dispatcher worker.
type Sink interface {
	Emit(ctx context.Context, event Event)
}

// NoOpSink discards events.
type NoOpSink struct{}

func (NoOpSink) Emit(context.Context, Event) {}

// ChannelSink hands events to a reader, typically a test or an embedding
// service that ships them elsewhere. Emit waits for buffer room until ctx
// ends.
type ChannelSink struct {
	ch chan Event
}

// NewChannelSink returns a ChannelSink with room for buffer events.
func NewChannelSink(buffer int) *ChannelSink {
	if buffer < 1 {
		buffer = 1
	}
	return &ChannelSink{ch: make(chan Event, buffer)}
}

func (s *ChannelSink) Emit(ctx context.Context, event Event) {
	select {
	case s.ch <- event:
	case <-ctx.Done():
	}
}

// Events is the receive side of the sink.
func (s *ChannelSink) Events() <-chan Event {
	return s.ch
}
