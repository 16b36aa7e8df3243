package hrauth

import (
	"time"

	internalaudit "github.com/MrEthical07/hrauth/internal/audit"
	"github.com/rs/zerolog"
)

// NewChannelSink returns a sink that buffers events on a channel.
func NewChannelSink(buffer int) *ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

// AuditRecorder persists audit events. The Postgres store implements it.
type AuditRecorder = internalaudit.Recorder

// NewPostgresAuditSink appends events to the durable audit log.
func NewPostgresAuditSink(r AuditRecorder, timeout time.Duration, logger zerolog.Logger) AuditSink {
	return internalaudit.NewPostgresSink(r, timeout, logger)
}

// NewLogAuditSink writes events as structured log lines.
func NewLogAuditSink(logger zerolog.Logger) AuditSink {
	return internalaudit.NewLogSink(logger)
}

// MultiAuditSink fans events out to every sink.
func MultiAuditSink(sinks ...AuditSink) AuditSink {
	return internalaudit.MultiSink(sinks)
}
