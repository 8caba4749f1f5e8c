// Package relay implements the server side of the localhost relay: the
// session registry, the request correlator and the Relay that dispatches
// fetch commands to connected agents and awaits their results.
package relay

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/bhandras/delight/relay/internal/clock"
	"github.com/bhandras/delight/relay/internal/target"
	"github.com/bhandras/delight/relay/shared/logger"
	"github.com/bhandras/delight/relay/shared/wire"
	"github.com/google/uuid"
)

const (
	// DefaultRequestTimeout bounds how long Execute waits for an agent.
	DefaultRequestTimeout = 30 * time.Second
	// DefaultIdleTimeout is how long a session may go without requests
	// before the sweeper closes it.
	DefaultIdleTimeout = 10 * time.Minute
	// DefaultSweepInterval is the idle sweeper period.
	DefaultSweepInterval = 5 * time.Minute
	// DefaultMaxPendingPerSession bounds concurrent in-flight requests per
	// session.
	DefaultMaxPendingPerSession = 64
)

// Conn is the transport-side handle of an agent connection.
type Conn interface {
	// Send delivers a single event to the agent.
	Send(event string, payload any) error
	// Close terminates the connection. The transport is expected to call
	// Relay.Disconnect once the close is observed; doing so more than once is
	// harmless.
	Close() error
}

// Config holds the relay timing and bound settings.
type Config struct {
	RequestTimeout       time.Duration
	IdleTimeout          time.Duration
	SweepInterval        time.Duration
	MaxPendingPerSession int
}

// DefaultConfig returns the reference timing constants.
func DefaultConfig() Config {
	return Config{
		RequestTimeout:       DefaultRequestTimeout,
		IdleTimeout:          DefaultIdleTimeout,
		SweepInterval:        DefaultSweepInterval,
		MaxPendingPerSession: DefaultMaxPendingPerSession,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = d.RequestTimeout
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = d.IdleTimeout
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = d.SweepInterval
	}
	return c
}

// Relay owns the session registry and the correlator.
//
// mu orders session lifecycle changes against the lookup/register step of
// Execute: once Disconnect returns, no new request can be registered for the
// closed session and every request registered before it has been rejected.
type Relay struct {
	cfg        Config
	clock      clock.Clock
	registry   *Registry
	correlator *Correlator
	observers  []Observer
	newID      func() string

	mu    sync.RWMutex
	conns map[string]Conn
}

// New creates a relay. A nil clock uses wall time.
func New(cfg Config, clk clock.Clock, observers ...Observer) *Relay {
	if clk == nil {
		clk = clock.RealClock{}
	}
	cfg = cfg.withDefaults()
	return &Relay{
		cfg:        cfg,
		clock:      clk,
		registry:   NewRegistry(clk),
		correlator: NewCorrelator(cfg.MaxPendingPerSession),
		observers:  observers,
		newID:      uuid.NewString,
		conns:      make(map[string]Conn),
	}
}

// Config returns the effective configuration.
func (r *Relay) Config() Config { return r.cfg }

// Connect registers a new agent session for a transport connection.
func (r *Relay) Connect(sessionID, principalID, transport string, conn Conn) (Session, error) {
	r.mu.Lock()
	s, err := r.registry.Open(sessionID, principalID, transport)
	if err == nil {
		r.conns[sessionID] = conn
	}
	r.mu.Unlock()
	if err != nil {
		return Session{}, err
	}

	logger.Infof("Relay session opened (session: %s, principal: %s, transport: %s)",
		s.ID, s.PrincipalID, s.Transport)
	for _, o := range r.observers {
		o.SessionOpened(s)
	}
	return s, nil
}

// Disconnect tears down a session: pending requests are rejected with a
// connection-closed error before the registry entry is discarded. It reports
// false if the session was already gone.
func (r *Relay) Disconnect(sessionID string) bool {
	_, ok := r.closeSession(sessionID, CloseDisconnect)
	return ok
}

func (r *Relay) closeSession(sessionID string, reason CloseReason) (Conn, bool) {
	r.mu.Lock()
	cancelled := r.correlator.CancelSession(sessionID)
	s, err := r.registry.Close(sessionID)
	conn := r.conns[sessionID]
	delete(r.conns, sessionID)
	r.mu.Unlock()

	if err != nil {
		return nil, false
	}
	r.sessionClosed(s, reason, cancelled)
	return conn, true
}

func (r *Relay) sessionClosed(s Session, reason CloseReason, cancelled int) {
	logger.Infof("Relay session closed (session: %s, principal: %s, reason: %s, requests: %d, cancelled: %d)",
		s.ID, s.PrincipalID, reason, s.RequestCount, cancelled)
	for _, o := range r.observers {
		o.SessionClosed(s, reason, cancelled)
	}
}

// Execute validates req, dispatches it to the agent behind sessionID and
// waits for the terminal outcome. Failures are returned as *Error, except a
// cancelled ctx which returns ctx.Err().
//
// A request id is generated when req.RequestID is empty; it is echoed in the
// returned FetchComplete and in every *Error.
func (r *Relay) Execute(ctx context.Context, req wire.RelayRequest, sessionID string) (wire.FetchComplete, error) {
	if req.RequestID == "" {
		req.RequestID = r.newID()
	}
	start := time.Now()
	res, err := r.execute(ctx, req, sessionID)
	kind := KindOf(err)
	if err != nil && kind == "" {
		kind = KindCanceled
	}
	for _, o := range r.observers {
		o.ExecuteFinished(sessionID, kind, time.Since(start))
	}
	return res, err
}

func (r *Relay) execute(ctx context.Context, req wire.RelayRequest, sessionID string) (wire.FetchComplete, error) {
	if !target.IsAllowed(req.URL) {
		return wire.FetchComplete{}, newError(KindValidation, req.RequestID,
			"target %q is not a localhost or private network address", req.URL)
	}
	req.Method = strings.ToUpper(strings.TrimSpace(req.Method))
	if req.Method == "" {
		req.Method = "GET"
	}

	r.mu.RLock()
	conn, ok := r.conns[sessionID]
	if !ok || !r.registry.Touch(sessionID) {
		r.mu.RUnlock()
		return wire.FetchComplete{}, newError(KindSessionNotFound, req.RequestID,
			"no agent connected for session %q", sessionID)
	}
	pending, err := r.correlator.Register(req.RequestID, sessionID, r.cfg.RequestTimeout)
	r.mu.RUnlock()
	if err != nil {
		return wire.FetchComplete{}, err
	}

	logger.Debugf("Relay dispatch: session=%s request=%s method=%s", sessionID, req.RequestID, req.Method)
	if err := conn.Send(wire.EventPerformFetch, req); err != nil {
		r.correlator.Reject(req.RequestID, sessionID,
			newError(KindAgentFailure, req.RequestID, "failed to deliver command: %v", err))
	}
	return pending.Wait(ctx)
}

// Complete feeds an agent's "fetch-complete" into the correlator. Late,
// unknown or foreign request ids are ignored.
func (r *Relay) Complete(sessionID string, res wire.FetchComplete) bool {
	ok := r.correlator.Resolve(res.RequestID, sessionID, res)
	if !ok {
		logger.Debugf("Relay ignoring fetch-complete for unknown request %s (session %s)", res.RequestID, sessionID)
	}
	return ok
}

// Fail feeds an agent's "fetch-error" into the correlator with the same rules
// as Complete.
func (r *Relay) Fail(sessionID string, fe wire.FetchError) bool {
	msg := fe.Message
	if msg == "" {
		msg = "agent reported an unspecified failure"
	}
	ok := r.correlator.Reject(fe.RequestID, sessionID, newError(KindAgentFailure, fe.RequestID, "%s", msg))
	if !ok {
		logger.Debugf("Relay ignoring fetch-error for unknown request %s (session %s)", fe.RequestID, sessionID)
	}
	return ok
}

// Session returns a snapshot of one session.
func (r *Relay) Session(sessionID string) (Session, bool) {
	return r.registry.Get(sessionID)
}

// Sessions returns snapshots of all live sessions.
func (r *Relay) Sessions() []Session {
	return r.registry.List()
}

// SessionCount returns the number of live sessions.
func (r *Relay) SessionCount() int { return r.registry.Len() }

// PendingCount returns the number of in-flight requests.
func (r *Relay) PendingCount() int { return r.correlator.Len() }

// Sweep closes every session idle for longer than the configured idle timeout
// and returns them. Swept connections are closed after the tables are
// updated.
func (r *Relay) Sweep() []Session {
	r.mu.Lock()
	swept := r.registry.SweepIdle(r.cfg.IdleTimeout)
	cancelled := make([]int, len(swept))
	conns := make([]Conn, len(swept))
	for i, s := range swept {
		cancelled[i] = r.correlator.CancelSession(s.ID)
		conns[i] = r.conns[s.ID]
		delete(r.conns, s.ID)
	}
	r.mu.Unlock()

	for i, s := range swept {
		r.sessionClosed(s, CloseIdle, cancelled[i])
		if conns[i] != nil {
			if err := conns[i].Close(); err != nil {
				logger.Warnf("Failed to close idle connection %s: %v", s.ID, err)
			}
		}
	}
	return swept
}

// Run drives the idle sweeper until ctx is done.
func (r *Relay) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if swept := r.Sweep(); len(swept) > 0 {
				logger.Infof("Idle sweep closed %d session(s)", len(swept))
			}
		}
	}
}

// Shutdown closes every session, rejecting all pending requests.
func (r *Relay) Shutdown() {
	for _, s := range r.registry.List() {
		if conn, ok := r.closeSession(s.ID, CloseShutdown); ok && conn != nil {
			_ = conn.Close()
		}
	}
}
