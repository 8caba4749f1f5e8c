package wire

// ExecuteRequest is the HTTP POST /v1/relay/execute request body.
type ExecuteRequest struct {
	// SessionID selects the connected agent (from its "relay-ready" event).
	SessionID string `json:"sessionId"`
	// Request describes the fetch to perform.
	Request RelayRequest `json:"request"`
}

// SessionInfo is a snapshot of a connected agent session.
type SessionInfo struct {
	ID             string `json:"id"`
	PrincipalID    string `json:"principalId"`
	Transport      string `json:"transport"`
	ConnectedAt    int64  `json:"connectedAt"`
	LastActivityAt int64  `json:"lastActivityAt"`
	RequestCount   int64  `json:"requestCount"`
}

// ListSessionsResponse is the HTTP GET /v1/relay/sessions response body.
type ListSessionsResponse struct {
	// Sessions lists every live session.
	Sessions []SessionInfo `json:"sessions"`
}
