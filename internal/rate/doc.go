// Package rate throttles failed logins with Redis fixed-window counters.
//
// Keys:
//   - al:<digest>  per login identifier (email or username, case-folded)
//   - ali:<ip>     per client IP, when enabled
//
// Callers decide what to do with ErrRedisUnavailable; the engine fails open.
package rate
