package handlers

// AuthContext carries the resolved connection identity into handler
// functions. It intentionally excludes transport-specific types.
type AuthContext struct {
	principalID string
	transport   string
	sessionID   string
}

// NewAuthContext constructs an AuthContext for a single connection event.
func NewAuthContext(principalID, transport, sessionID string) AuthContext {
	return AuthContext{
		principalID: principalID,
		transport:   transport,
		sessionID:   sessionID,
	}
}

// PrincipalID returns the resolved principal.
func (a AuthContext) PrincipalID() string {
	return a.principalID
}

// Transport returns the transport name ("socketio" or "websocket").
func (a AuthContext) Transport() string {
	return a.transport
}

// SessionID returns the relay session id, which is the connection id.
func (a AuthContext) SessionID() string {
	return a.sessionID
}
