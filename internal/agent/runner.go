package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/bhandras/delight/relay/shared/logger"
	"github.com/bhandras/delight/relay/shared/wire"
	"github.com/jpillora/backoff"
)

const (
	defaultReadyTimeout = 15 * time.Second
	defaultMinRetry     = 500 * time.Millisecond
	defaultMaxRetry     = 30 * time.Second
)

// Runner keeps the agent connected: it dials, waits for relay-ready, serves
// commands until the connection ends and reconnects with exponential
// backoff.
type Runner struct {
	dialer       Dialer
	agent        *Agent
	backoff      *backoff.Backoff
	readyTimeout time.Duration

	// OnReady, when set, is called each time a session becomes ready.
	OnReady func(wire.ReadyPayload)
}

// NewRunner creates a runner. maxRetry caps the reconnect delay.
func NewRunner(dialer Dialer, agent *Agent, maxRetry time.Duration) *Runner {
	if maxRetry <= 0 {
		maxRetry = defaultMaxRetry
	}
	return &Runner{
		dialer: dialer,
		agent:  agent,
		backoff: &backoff.Backoff{
			Min:    defaultMinRetry,
			Max:    maxRetry,
			Factor: 2,
			Jitter: true,
		},
		readyTimeout: defaultReadyTimeout,
	}
}

// Run serves until ctx is cancelled, then waits for in-flight commands.
func (r *Runner) Run(ctx context.Context) error {
	defer r.agent.Wait()

	for {
		wasReady, err := r.serve(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if wasReady {
			r.backoff.Reset()
		}

		delay := r.backoff.Duration()
		if err != nil {
			logger.Warnf("Relay connection failed: %v (retrying in %s)", err, delay)
		} else {
			logger.Infof("Relay connection closed (reconnecting in %s)", delay)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
	}
}

// serve runs one connection. It reports whether the session reached ready.
func (r *Runner) serve(ctx context.Context) (bool, error) {
	sessCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	readyCh := make(chan wire.ReadyPayload, 1)
	errCh := make(chan string, 1)

	link, err := r.dialer.Dial(sessCtx, Handlers{
		OnReady: func(p wire.ReadyPayload) {
			select {
			case readyCh <- p:
			default:
			}
		},
		OnPerformFetch: func(e Emitter, req wire.RelayRequest) {
			r.agent.HandlePerformFetch(sessCtx, e, req)
		},
		OnError: func(msg string) {
			logger.Warnf("Relay server error: %s", msg)
			select {
			case errCh <- msg:
			default:
			}
		},
	})
	if err != nil {
		return false, err
	}
	defer link.Close()

	timer := time.NewTimer(r.readyTimeout)
	defer timer.Stop()

	select {
	case p := <-readyCh:
		logger.Infof("Relay session ready (session: %s, principal: %s)", p.SessionID, p.PrincipalID)
		if r.OnReady != nil {
			r.OnReady(p)
		}
	case msg := <-errCh:
		return false, fmt.Errorf("handshake rejected: %s", msg)
	case <-link.Done():
		return false, fmt.Errorf("connection closed before ready")
	case <-timer.C:
		return false, fmt.Errorf("no relay-ready within %s", r.readyTimeout)
	case <-ctx.Done():
		return false, nil
	}

	select {
	case <-link.Done():
	case <-ctx.Done():
	}
	return true, nil
}
