package relay

import (
	"context"
	"sync"
	"time"

	"github.com/bhandras/delight/relay/shared/wire"
)

type outcome struct {
	result wire.FetchComplete
	err    error
}

// Pending is the caller-side handle of a registered request. Exactly one
// outcome is ever delivered to it.
type Pending struct {
	requestID string
	sessionID string
	done      chan outcome
	timer     *time.Timer
}

// RequestID returns the correlated request id.
func (p *Pending) RequestID() string { return p.requestID }

// SessionID returns the id of the owning session.
func (p *Pending) SessionID() string { return p.sessionID }

// Wait blocks until the request resolves, is rejected, times out, or ctx ends.
// Returning on ctx does not remove the entry; it is still settled later by the
// agent's answer, the timeout or a disconnect.
func (p *Pending) Wait(ctx context.Context) (wire.FetchComplete, error) {
	select {
	case o := <-p.done:
		return o.result, o.err
	case <-ctx.Done():
		return wire.FetchComplete{}, ctx.Err()
	}
}

// Correlator maps request ids to pending outcomes. The table, the per-session
// counts and every timer transition are guarded by one mutex; an entry is
// removed under the lock before its outcome is delivered, so only one of
// resolve/reject/timeout/cancel can ever win.
type Correlator struct {
	maxPerSession int

	mu        sync.Mutex
	pending   map[string]*Pending
	bySession map[string]int
}

// NewCorrelator creates an empty correlator. maxPerSession <= 0 disables the
// per-session bound.
func NewCorrelator(maxPerSession int) *Correlator {
	return &Correlator{
		maxPerSession: maxPerSession,
		pending:       make(map[string]*Pending),
		bySession:     make(map[string]int),
	}
}

// Register creates a pending entry for requestID owned by sessionID. If no
// outcome arrives within timeout the entry is rejected with a timeout error.
func (c *Correlator) Register(requestID, sessionID string, timeout time.Duration) (*Pending, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.pending[requestID]; ok {
		return nil, newError(KindDuplicateRequest, requestID, "request id is already pending")
	}
	if c.maxPerSession > 0 && c.bySession[sessionID] >= c.maxPerSession {
		return nil, newError(KindTooManyPending, requestID,
			"session already has %d pending requests", c.bySession[sessionID])
	}

	p := &Pending{
		requestID: requestID,
		sessionID: sessionID,
		done:      make(chan outcome, 1),
	}
	p.timer = time.AfterFunc(timeout, func() {
		c.expire(p, timeout)
	})
	c.pending[requestID] = p
	c.bySession[sessionID]++
	return p, nil
}

// Resolve delivers a successful result for requestID. Results for unknown
// ids, already settled ids or ids owned by another session are ignored and
// reported as false.
func (c *Correlator) Resolve(requestID, sessionID string, result wire.FetchComplete) bool {
	p := c.take(requestID, sessionID)
	if p == nil {
		return false
	}
	p.done <- outcome{result: result}
	return true
}

// Reject delivers a failure for requestID with the same no-op rules as
// Resolve.
func (c *Correlator) Reject(requestID, sessionID string, err error) bool {
	p := c.take(requestID, sessionID)
	if p == nil {
		return false
	}
	p.done <- outcome{err: err}
	return true
}

// CancelSession rejects every entry owned by sessionID with a
// connection-closed error and returns how many were cancelled.
func (c *Correlator) CancelSession(sessionID string) int {
	c.mu.Lock()
	var victims []*Pending
	for id, p := range c.pending {
		if p.sessionID != sessionID {
			continue
		}
		p.timer.Stop()
		delete(c.pending, id)
		victims = append(victims, p)
	}
	delete(c.bySession, sessionID)
	c.mu.Unlock()

	for _, p := range victims {
		p.done <- outcome{err: newError(KindConnectionClosed, p.requestID, "agent disconnected")}
	}
	return len(victims)
}

// Len returns the number of pending entries.
func (c *Correlator) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// take removes and returns the entry for requestID if it belongs to
// sessionID.
func (c *Correlator) take(requestID, sessionID string) *Pending {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.pending[requestID]
	if !ok || p.sessionID != sessionID {
		return nil
	}
	p.timer.Stop()
	c.removeLocked(p)
	return p
}

// expire runs on the timer goroutine. The identity check guards against a
// stale timer firing after the id was settled and registered again.
func (c *Correlator) expire(p *Pending, timeout time.Duration) {
	c.mu.Lock()
	if cur, ok := c.pending[p.requestID]; !ok || cur != p {
		c.mu.Unlock()
		return
	}
	c.removeLocked(p)
	c.mu.Unlock()

	p.done <- outcome{err: newError(KindTimeout, p.requestID, "no agent response within %s", timeout)}
}

func (c *Correlator) removeLocked(p *Pending) {
	delete(c.pending, p.requestID)
	if n := c.bySession[p.sessionID] - 1; n > 0 {
		c.bySession[p.sessionID] = n
	} else {
		delete(c.bySession, p.sessionID)
	}
}
