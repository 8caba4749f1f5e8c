// Package agent implements the execution agent: it holds a persistent
// connection to the relay server, performs the fetch commands it receives
// against local targets and reports every outcome back tagged with the
// originating request id.
package agent

import (
	"context"
	"sync"

	"github.com/bhandras/delight/relay/shared/logger"
	"github.com/bhandras/delight/relay/shared/wire"
)

// Fetcher performs a single relay fetch.
type Fetcher interface {
	Execute(ctx context.Context, req wire.RelayRequest) (wire.FetchComplete, error)
}

// Emitter sends an event back to the relay server.
type Emitter interface {
	Emit(event string, payload any) error
}

// Agent runs fetch commands concurrently, one goroutine per command, and
// refuses to start a request id that is already executing.
type Agent struct {
	fetcher Fetcher

	mu       sync.Mutex
	inflight map[string]struct{}
	wg       sync.WaitGroup
}

// New creates an agent around fetcher.
func New(fetcher Fetcher) *Agent {
	return &Agent{
		fetcher:  fetcher,
		inflight: make(map[string]struct{}),
	}
}

// HandlePerformFetch starts executing req and reports the outcome through
// emit. It returns false without doing anything if req has no id or the id
// is already executing.
func (a *Agent) HandlePerformFetch(ctx context.Context, emit Emitter, req wire.RelayRequest) bool {
	if req.RequestID == "" {
		logger.Warnf("Dropping perform-fetch without requestId")
		return false
	}

	a.mu.Lock()
	if _, busy := a.inflight[req.RequestID]; busy {
		a.mu.Unlock()
		logger.Warnf("Dropping duplicate perform-fetch for request %s", req.RequestID)
		return false
	}
	a.inflight[req.RequestID] = struct{}{}
	a.wg.Add(1)
	a.mu.Unlock()

	go func() {
		defer a.wg.Done()
		defer a.release(req.RequestID)
		a.perform(ctx, emit, req)
	}()
	return true
}

func (a *Agent) perform(ctx context.Context, emit Emitter, req wire.RelayRequest) {
	logger.Debugf("Fetch start: request=%s method=%s url=%s", req.RequestID, req.Method, req.URL)

	res, err := a.fetcher.Execute(ctx, req)
	if err != nil {
		logger.Debugf("Fetch failed: request=%s err=%v", req.RequestID, err)
		fe := wire.FetchError{RequestID: req.RequestID, Message: err.Error()}
		if emitErr := emit.Emit(wire.EventFetchError, fe); emitErr != nil {
			logger.Warnf("Failed to report fetch-error for %s: %v", req.RequestID, emitErr)
		}
		return
	}

	res.RequestID = req.RequestID
	logger.Debugf("Fetch done: request=%s status=%d elapsed=%dms", req.RequestID, res.Status, res.ElapsedMs)
	if emitErr := emit.Emit(wire.EventFetchComplete, res); emitErr != nil {
		logger.Warnf("Failed to report fetch-complete for %s: %v", req.RequestID, emitErr)
	}
}

func (a *Agent) release(requestID string) {
	a.mu.Lock()
	delete(a.inflight, requestID)
	a.mu.Unlock()
}

// InFlight returns the number of commands currently executing.
func (a *Agent) InFlight() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.inflight)
}

// Wait blocks until every started command has reported.
func (a *Agent) Wait() {
	a.wg.Wait()
}
