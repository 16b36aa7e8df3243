// Package audit buffers authentication audit events and delivers them to
// sinks.
//
// [Dispatcher] relays events on one worker, either dropping or blocking
// when its buffer is full. Drops are counted and logged. Sinks:
//   - [PostgresSink] appends to auth_audit_log through a [Recorder]
//   - [LogSink] writes zerolog lines
//   - [ChannelSink] and [NoOpSink] for tests and embedding services
//   - [MultiSink] fans out
//
// Which events to emit is decided by the engine, not here.
package audit
