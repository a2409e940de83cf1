package observability

import "time"

// EventEnvelope wraps realtime events published to the broker.
type EventEnvelope struct {
	EventType  string    `json:"event_type"`
	EventName  string    `json:"event_name"`
	OccurredAt time.Time `json:"occurred_at"`
	Payload    any       `json:"payload"`
}

// BuildHeaders returns AMQP headers for correlation; empty values are omitted.
func BuildHeaders(requestID, traceID string) map[string]string {
	headers := map[string]string{}
	if requestID != "" {
		headers["x-request-id"] = requestID
	}
	if traceID != "" && traceID != zeroTraceID {
		headers["trace_id"] = traceID
	}
	return headers
}

// zeroTraceID is what a noop tracer reports.
const zeroTraceID = "00000000000000000000000000000000"
