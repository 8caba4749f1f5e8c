package agent

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bhandras/delight/relay/shared/wire"
	"github.com/stretchr/testify/require"
)

type emitted struct {
	event   string
	payload any
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []emitted
}

func (e *recordingEmitter) Emit(event string, payload any) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, emitted{event: event, payload: payload})
	return nil
}

func (e *recordingEmitter) snapshot() []emitted {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]emitted(nil), e.events...)
}

// gatedFetcher blocks each fetch until its request id is released.
type gatedFetcher struct {
	mu      sync.Mutex
	gates   map[string]chan error
	started chan string
}

func newGatedFetcher() *gatedFetcher {
	return &gatedFetcher{gates: make(map[string]chan error), started: make(chan string, 16)}
}

func (f *gatedFetcher) gate(id string) chan error {
	f.mu.Lock()
	defer f.mu.Unlock()
	g, ok := f.gates[id]
	if !ok {
		g = make(chan error, 1)
		f.gates[id] = g
	}
	return g
}

func (f *gatedFetcher) Execute(ctx context.Context, req wire.RelayRequest) (wire.FetchComplete, error) {
	f.started <- req.RequestID
	select {
	case err := <-f.gate(req.RequestID):
		if err != nil {
			return wire.FetchComplete{}, err
		}
		return wire.FetchComplete{Status: 200, BodyType: wire.ResponseBodyText}, nil
	case <-ctx.Done():
		return wire.FetchComplete{}, ctx.Err()
	}
}

func waitStarted(t *testing.T, f *gatedFetcher) string {
	t.Helper()
	select {
	case id := <-f.started:
		return id
	case <-time.After(5 * time.Second):
		t.Fatal("fetch did not start")
		return ""
	}
}

func TestAgent_DuplicateDroppedWhileInFlight(t *testing.T) {
	f := newGatedFetcher()
	a := New(f)
	emit := &recordingEmitter{}
	req := wire.RelayRequest{RequestID: "r1", URL: "http://localhost/"}

	require.True(t, a.HandlePerformFetch(context.Background(), emit, req))
	require.Equal(t, "r1", waitStarted(t, f))
	require.False(t, a.HandlePerformFetch(context.Background(), emit, req))
	require.Equal(t, 1, a.InFlight())

	f.gate("r1") <- nil
	a.Wait()
	require.Zero(t, a.InFlight())

	events := emit.snapshot()
	require.Len(t, events, 1)
	require.Equal(t, wire.EventFetchComplete, events[0].event)
	res := events[0].payload.(wire.FetchComplete)
	require.Equal(t, "r1", res.RequestID)

	// Once released the id may run again.
	require.True(t, a.HandlePerformFetch(context.Background(), emit, req))
	waitStarted(t, f)
	f.gate("r1") <- nil
	a.Wait()
}

func TestAgent_FailureReportedAndReleased(t *testing.T) {
	f := newGatedFetcher()
	a := New(f)
	emit := &recordingEmitter{}

	require.True(t, a.HandlePerformFetch(context.Background(), emit, wire.RelayRequest{RequestID: "r1"}))
	waitStarted(t, f)
	f.gate("r1") <- errors.New("connection refused")
	a.Wait()

	events := emit.snapshot()
	require.Len(t, events, 1)
	require.Equal(t, wire.EventFetchError, events[0].event)
	require.Equal(t, wire.FetchError{RequestID: "r1", Message: "connection refused"}, events[0].payload)
	require.Zero(t, a.InFlight())
}

func TestAgent_CommandsRunConcurrently(t *testing.T) {
	f := newGatedFetcher()
	a := New(f)
	emit := &recordingEmitter{}

	require.True(t, a.HandlePerformFetch(context.Background(), emit, wire.RelayRequest{RequestID: "slow"}))
	require.True(t, a.HandlePerformFetch(context.Background(), emit, wire.RelayRequest{RequestID: "fast"}))
	waitStarted(t, f)
	waitStarted(t, f)
	require.Equal(t, 2, a.InFlight())

	// The second command finishes while the first is still blocked.
	f.gate("fast") <- nil
	require.Eventually(t, func() bool { return len(emit.snapshot()) == 1 }, 5*time.Second, 10*time.Millisecond)
	require.Equal(t, "fast", emit.snapshot()[0].payload.(wire.FetchComplete).RequestID)

	f.gate("slow") <- nil
	a.Wait()
	require.Len(t, emit.snapshot(), 2)
}

func TestAgent_MissingRequestIDDropped(t *testing.T) {
	a := New(newGatedFetcher())
	require.False(t, a.HandlePerformFetch(context.Background(), &recordingEmitter{}, wire.RelayRequest{URL: "http://localhost/"}))
	require.Zero(t, a.InFlight())
}
