package relay

import "time"

// CloseReason explains why a session ended.
type CloseReason string

const (
	CloseDisconnect CloseReason = "disconnect"
	CloseIdle       CloseReason = "idle"
	CloseShutdown   CloseReason = "shutdown"
)

// Observer receives lifecycle notifications from the relay. Callbacks run
// after the relay's tables are updated and outside of its locks; they must not
// block for long.
type Observer interface {
	SessionOpened(s Session)
	SessionClosed(s Session, reason CloseReason, cancelled int)
	ExecuteFinished(sessionID string, kind Kind, elapsed time.Duration)
}

// NopObserver implements Observer with no-ops. Embed it to implement a subset.
type NopObserver struct{}

func (NopObserver) SessionOpened(Session)                       {}
func (NopObserver) SessionClosed(Session, CloseReason, int)     {}
func (NopObserver) ExecuteFinished(string, Kind, time.Duration) {}
