package metrics

import "time"

// Reasons reported by RecordConnectionRejected.
const (
	RejectBusy        = "busy"
	RejectRateLimited = "rate_limited"
	RejectQueueFull   = "queue_full"
)

// HTTPMetrics provides observability for the HTTP adapter.
//
// Implementations collect request outcomes, connection lifecycle events and
// worker queue pressure. The interface is optional: if not provided to the
// adapter, a no-op implementation is used.
//
// Example usage:
//
//	// With metrics enabled
//	m := prometheus.NewHTTPMetrics()
//	adapter := http.New(config, m)
//
//	// Without metrics (no-op)
//	adapter := http.New(config, nil)
//
// Thread safety:
// Implementations must be safe for concurrent use. Workers record requests
// while the reactor records connection events.
type HTTPMetrics interface {
	// RecordRequest records a completed request.
	//
	// Parameters:
	//   - method: GET, HEAD or POST ("UNKNOWN" for unparsable requests)
	//   - status: HTTP status code of the response
	//   - duration: time spent parsing, resolving and assembling the response
	RecordRequest(method string, status int, duration time.Duration)

	// RecordBytesSent adds bytes written to clients, headers included.
	RecordBytesSent(bytes int64)

	// SetActiveConnections updates the current connection count.
	SetActiveConnections(count int32)

	// RecordConnectionAccepted increments the accepted connections counter.
	RecordConnectionAccepted()

	// RecordConnectionRejected counts a connection turned away.
	// reason is one of RejectBusy, RejectRateLimited or RejectQueueFull.
	RecordConnectionRejected(reason string)

	// RecordConnectionClosed increments the closed connections counter.
	RecordConnectionClosed()

	// SetQueueDepth reports the number of connections waiting for a worker.
	SetQueueDepth(depth int)
}

// NewNoopHTTPMetrics returns an HTTPMetrics that discards everything.
func NewNoopHTTPMetrics() HTTPMetrics {
	return noopHTTPMetrics{}
}

type noopHTTPMetrics struct{}

func (noopHTTPMetrics) RecordRequest(method string, status int, duration time.Duration) {}
func (noopHTTPMetrics) RecordBytesSent(bytes int64)                                     {}
func (noopHTTPMetrics) SetActiveConnections(count int32)                                {}
func (noopHTTPMetrics) RecordConnectionAccepted()                                       {}
func (noopHTTPMetrics) RecordConnectionRejected(reason string)                          {}
func (noopHTTPMetrics) RecordConnectionClosed()                                         {}
func (noopHTTPMetrics) SetQueueDepth(depth int)                                         {}
