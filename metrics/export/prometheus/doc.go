// Package prometheus exports hrauth engine metrics through
// prometheus/client_golang.
//
// [NewCollector] wraps anything exposing MetricsSnapshot, normally an
// [hrauth.Engine]. Counters are named hrauth_<metric>_total and the
// validation histogram is hrauth_validate_latency_seconds. [Handler]
// mounts the collector on its own registry; it never touches the global
// one.
package prometheus
