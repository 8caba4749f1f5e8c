package relay

import (
	"errors"
	"fmt"
)

// Kind classifies a relay failure. Every failure surfaces to the Execute
// caller as an *Error carrying one of these kinds.
type Kind string

const (
	// KindValidation means the target is not loopback/private. The request
	// was never dispatched and no session activity was charged.
	KindValidation Kind = "validation"
	// KindSessionNotFound means no agent is connected under the session id.
	KindSessionNotFound Kind = "session_not_found"
	// KindDuplicateRequest means the request id already has a pending entry.
	KindDuplicateRequest Kind = "duplicate_request"
	// KindTooManyPending means the session reached its pending request bound.
	KindTooManyPending Kind = "too_many_pending"
	// KindAgentFailure means the agent attempted the call and it failed, or
	// the command could not be delivered to the agent.
	KindAgentFailure Kind = "agent_failure"
	// KindTimeout means the agent did not answer within the request timeout.
	KindTimeout Kind = "timeout"
	// KindConnectionClosed means the owning session went away while the
	// request was pending.
	KindConnectionClosed Kind = "connection_closed"

	// KindCanceled is reported to observers when the caller's context ended
	// before the outcome. It never appears on an *Error.
	KindCanceled Kind = "canceled"
)

// Error is the typed failure returned by Execute.
type Error struct {
	Kind      Kind
	RequestID string
	Message   string
}

// Sentinels for errors.Is matching on Kind.
var (
	ErrValidation       = &Error{Kind: KindValidation}
	ErrSessionNotFound  = &Error{Kind: KindSessionNotFound}
	ErrDuplicateRequest = &Error{Kind: KindDuplicateRequest}
	ErrTooManyPending   = &Error{Kind: KindTooManyPending}
	ErrAgentFailure     = &Error{Kind: KindAgentFailure}
	ErrTimeout          = &Error{Kind: KindTimeout}
	ErrConnectionClosed = &Error{Kind: KindConnectionClosed}
)

// ErrSessionExists is returned when a transport reuses a live connection id.
var ErrSessionExists = errors.New("session already exists")

func newError(kind Kind, requestID, format string, args ...any) *Error {
	return &Error{Kind: kind, RequestID: requestID, Message: fmt.Sprintf(format, args...)}
}

// Error implements error.
func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.RequestID == "" {
		return fmt.Sprintf("relay %s: %s", e.Kind, msg)
	}
	return fmt.Sprintf("relay %s (request %s): %s", e.Kind, e.RequestID, msg)
}

// Is matches any *Error with the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// KindOf extracts the Kind of err, or "" when err is not a relay error.
func KindOf(err error) Kind {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}
	return ""
}
