package observability

// EventEnvelope is the shape written to the ws events exchange. Payload
// stays loosely typed; consumers route on event_type and event_name.
type EventEnvelope struct {
	EventType string `json:"event_type"`
	EventName string `json:"event_name"`
	Service   string `json:"service,omitempty"`
	Payload   any    `json:"payload"`
}

// BuildHeaders assembles the correlation headers attached to published
// events, skipping whatever is absent.
func BuildHeaders(requestID, traceID string) map[string]string {
	headers := make(map[string]string, 2)
	if requestID != "" {
		headers["x-request-id"] = requestID
	}
	if traceID != "" {
		headers["x-trace-id"] = traceID
	}
	return headers
}
