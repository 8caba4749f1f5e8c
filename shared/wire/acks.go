package wire

// ResultError describes a failed relay call.
type ResultError struct {
	// Kind classifies the failure ("validation", "session_not_found",
	// "duplicate_request", "too_many_pending", "agent_failure", "timeout",
	// "connection_closed").
	Kind string `json:"kind"`
	// Message is a human-readable annotation.
	Message string `json:"message"`
}

// RelayResult is the single result shape returned to relay callers regardless
// of outcome.
type RelayResult struct {
	// OK indicates whether the agent completed the fetch.
	OK bool `json:"ok"`
	// RequestID is the id of the relay request (server-generated when the
	// caller did not supply one).
	RequestID string `json:"requestId,omitempty"`
	// Response is present when OK is true.
	Response *FetchComplete `json:"response,omitempty"`
	// Error is present when OK is false.
	Error *ResultError `json:"error,omitempty"`
}

// FetchAck is the optional acknowledgement returned to an agent for its
// "fetch-complete" / "fetch-error" events.
type FetchAck struct {
	// OK is false when the result did not match a pending request.
	OK bool `json:"ok"`
	// Error describes why the result was not accepted.
	Error string `json:"error,omitempty"`
}
