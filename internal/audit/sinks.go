package audit

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Recorder persists one audit event. The Postgres store satisfies it.
type Recorder interface {
	InsertAuditEvent(ctx context.Context, event Event) error
}

// PostgresSink appends events to the durable audit log. Write failures are
// logged and dropped.
type PostgresSink struct {
	recorder Recorder
	timeout  time.Duration
	log      zerolog.Logger
}

// NewPostgresSink returns a sink bounded by timeout per insert (default 5s).
func NewPostgresSink(recorder Recorder, timeout time.Duration, logger zerolog.Logger) *PostgresSink {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &PostgresSink{recorder: recorder, timeout: timeout, log: logger}
}

func (s *PostgresSink) Emit(ctx context.Context, event Event) {
	if s == nil || s.recorder == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()

	if err := s.recorder.InsertAuditEvent(ctx, event); err != nil {
		s.log.Warn().Err(err).
			Str("event_type", event.EventType).
			Str("identity_id", event.IdentityID).
			Msg("audit insert failed")
	}
}

// LogSink writes events as structured log lines.
type LogSink struct {
	log zerolog.Logger
}

func NewLogSink(logger zerolog.Logger) *LogSink {
	return &LogSink{log: logger}
}

func (s *LogSink) Emit(_ context.Context, event Event) {
	if s == nil {
		return
	}
	ev := s.log.Info()
	if !event.Success {
		ev = s.log.Warn()
	}
	ev = ev.Time("at", event.Timestamp).
		Str("event_type", event.EventType).
		Bool("success", event.Success)
	if event.IdentityID != "" {
		ev = ev.Str("identity_id", event.IdentityID)
	}
	if event.TenantID != "" {
		ev = ev.Str("tenant_id", event.TenantID)
	}
	if event.SessionRef != "" {
		ev = ev.Str("session_ref", event.SessionRef)
	}
	if event.IP != "" {
		ev = ev.Str("ip", event.IP)
	}
	if event.Error != "" {
		ev = ev.Str("error", event.Error)
	}
	if len(event.Metadata) > 0 {
		d := zerolog.Dict()
		for k, v := range event.Metadata {
			d = d.Str(k, v)
		}
		ev = ev.Dict("metadata", d)
	}
	ev.Msg("audit")
}

// MultiSink fans an event out to every sink in order.
type MultiSink []Sink

func (m MultiSink) Emit(ctx context.Context, event Event) {
	for _, s := range m {
		if s != nil {
			s.Emit(ctx, event)
		}
	}
}
