package wire

import "encoding/json"

// Relay event names shared by the Socket.IO and plain WebSocket transports.
const (
	// EventReady is emitted by the server once the session is registered.
	EventReady = "relay-ready"
	// EventPerformFetch carries a RelayRequest to the agent.
	EventPerformFetch = "perform-fetch"
	// EventFetchComplete carries a FetchComplete back to the server.
	EventFetchComplete = "fetch-complete"
	// EventFetchError carries a FetchError back to the server.
	EventFetchError = "fetch-error"
	// EventError reports a connection-level problem (e.g. rejected handshake).
	EventError = "error"
)

// SocketAuthPayload is the Socket.IO handshake auth object sent by agents.
//
// Both fields are optional; the relay falls back to "anonymous".
type SocketAuthPayload struct {
	// PrincipalID is an opaque caller identity used for bookkeeping.
	PrincipalID string `json:"principalId,omitempty"`
	// Token is an optional signed principal token. When present and the
	// server has a verifier configured, its subject overrides PrincipalID.
	Token string `json:"token,omitempty"`
}

// ReadyPayload is the server -> agent "relay-ready" payload.
type ReadyPayload struct {
	// SessionID is the id callers use to address this agent.
	SessionID string `json:"sessionId"`
	// PrincipalID is the resolved principal.
	PrincipalID string `json:"principalId"`
	// ConnectedAt is a wall-clock timestamp in milliseconds since epoch.
	ConnectedAt int64 `json:"connectedAt"`
}

// ErrorPayload is the payload of the "error" event.
type ErrorPayload struct {
	// Message contains an error message.
	Message string `json:"message"`
}

// Envelope frames events on the plain WebSocket transport.
type Envelope struct {
	// Type is the event name.
	Type string `json:"type"`
	// Data is the event payload.
	Data json.RawMessage `json:"data,omitempty"`
}
