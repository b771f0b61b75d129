// Package streamref lets one node hand a remote node a handle to a local
// stream endpoint. A source ref exposes a local producer, a sink ref
// exposes a local consumer. The handle travels as a value inside any
// application message; the node that materializes it opens a private
// control/data session back to the origin with credit-based flow control,
// single-shot materialization, a subscription timeout on the origin, and
// fail-fast termination on peer loss.
//
// Logging convention:
// Info:
//     essential events for abnormal behavior. This level should be silent
//     on normal operation. This includes protocol violations, expired
//     sessions, and link failures.
// V(1):
//     session lifecycle events with ids that can be used to filter.
// V(2):
//     frequent events - send, receive, demand, data - for trace debugging.
package streamref
