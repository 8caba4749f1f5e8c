package agent

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bhandras/delight/relay/internal/config"
	"github.com/bhandras/delight/relay/internal/crypto"
	"github.com/bhandras/delight/relay/internal/relay"
	relayws "github.com/bhandras/delight/relay/internal/websocket"
	"github.com/bhandras/delight/relay/shared/wire"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func TestWebSocketURL(t *testing.T) {
	u, err := webSocketURL("http://localhost:3010", "user 1")
	require.NoError(t, err)
	require.Equal(t, "ws://localhost:3010/v1/relay/ws?principalId=user+1", u)

	u, err = webSocketURL("https://relay.example.com/base/", "")
	require.NoError(t, err)
	require.Equal(t, "wss://relay.example.com/base/v1/relay/ws", u)

	_, err = webSocketURL("ftp://relay", "")
	require.Error(t, err)
}

func TestNewDialer(t *testing.T) {
	d, err := NewDialer(&config.AgentConfig{ServerURL: "http://x", Transport: config.AgentTransportWebSocket})
	require.NoError(t, err)
	require.IsType(t, &WebSocketDialer{}, d)

	d, err = NewDialer(&config.AgentConfig{ServerURL: "http://x", Transport: config.AgentTransportSocketIO})
	require.NoError(t, err)
	require.IsType(t, &SocketIODialer{}, d)

	_, err = NewDialer(&config.AgentConfig{Transport: "carrier-pigeon"})
	require.Error(t, err)
}

// TestRunner_EndToEndOverWebSocket drives a relay execution through the plain
// WebSocket transport into a local target and back.
func TestRunner_EndToEndOverWebSocket(t *testing.T) {
	gin.SetMode(gin.TestMode)

	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"hello":"` + r.URL.Query().Get("name") + `"}`))
	}))
	defer target.Close()

	rl := relay.New(relay.DefaultConfig(), nil)
	server := relayws.NewSimpleServer(rl, nil, nil)
	router := gin.New()
	router.GET(relayws.SimplePath, server.HandleWebSocket)
	srv := httptest.NewServer(router)
	defer srv.Close()
	defer server.Close()

	runner := NewRunner(&WebSocketDialer{ServerURL: srv.URL, PrincipalID: "user-7"}, New(NewExecutor(5*time.Second)), time.Second)
	readyCh := make(chan wire.ReadyPayload, 1)
	runner.OnReady = func(p wire.ReadyPayload) {
		select {
		case readyCh <- p:
		default:
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runner.Run(ctx) }()

	var ready wire.ReadyPayload
	select {
	case ready = <-readyCh:
	case <-time.After(5 * time.Second):
		t.Fatal("agent never became ready")
	}
	require.Equal(t, "user-7", ready.PrincipalID)

	res, err := rl.Execute(context.Background(), wire.RelayRequest{
		URL:    target.URL + "/greet",
		Params: []wire.KeyValue{{Key: "name", Value: "relay"}},
	}, ready.SessionID)
	require.NoError(t, err)
	require.Equal(t, 200, res.Status)
	require.Equal(t, wire.ResponseBodyJSON, res.BodyType)
	require.Equal(t, map[string]any{"hello": "relay"}, res.Body)

	// A target the agent cannot reach surfaces as an agent failure.
	closed := httptest.NewServer(http.NotFoundHandler())
	closedURL := closed.URL
	closed.Close()
	_, err = rl.Execute(context.Background(), wire.RelayRequest{URL: closedURL}, ready.SessionID)
	require.ErrorIs(t, err, relay.ErrAgentFailure)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("runner did not stop")
	}
	require.Eventually(t, func() bool { return rl.SessionCount() == 0 }, 5*time.Second, 10*time.Millisecond)
}

func newSocketIOTestServer(t *testing.T, rl *relay.Relay, tokens *crypto.JWTManager) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	var server *relayws.SocketIOServer
	if tokens != nil {
		server = relayws.NewSocketIOServer(rl, tokens)
	} else {
		server = relayws.NewSocketIOServer(rl, nil)
	}
	router := gin.New()
	router.Any(relayws.SocketIOPath, server.HandleSocketIO())
	router.Any(relayws.SocketIOPath+"/", server.HandleSocketIO())

	srv := httptest.NewServer(router)
	t.Cleanup(func() {
		_ = server.Close()
		srv.Close()
	})
	return srv
}

// TestRunner_EndToEndOverSocketIO is the default transport's counterpart of
// TestRunner_EndToEndOverWebSocket.
func TestRunner_EndToEndOverSocketIO(t *testing.T) {
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"method":"` + r.Method + `","name":"` + r.URL.Query().Get("name") + `"}`))
	}))
	defer target.Close()

	rl := relay.New(relay.DefaultConfig(), nil)
	srv := newSocketIOTestServer(t, rl, nil)

	runner := NewRunner(&SocketIODialer{ServerURL: srv.URL, PrincipalID: "p1"}, New(NewExecutor(5*time.Second)), time.Second)
	readyCh := make(chan wire.ReadyPayload, 1)
	runner.OnReady = func(p wire.ReadyPayload) {
		select {
		case readyCh <- p:
		default:
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runner.Run(ctx) }()

	var ready wire.ReadyPayload
	select {
	case ready = <-readyCh:
	case <-time.After(10 * time.Second):
		t.Fatal("agent never became ready")
	}
	require.Equal(t, "p1", ready.PrincipalID)
	require.NotEmpty(t, ready.SessionID)
	require.Equal(t, 1, rl.SessionCount())

	res, err := rl.Execute(context.Background(), wire.RelayRequest{
		Method: "POST",
		URL:    target.URL + "/echo",
		Params: []wire.KeyValue{{Key: "name", Value: "relay"}},
	}, ready.SessionID)
	require.NoError(t, err)
	require.Equal(t, 200, res.Status)
	require.Equal(t, wire.ResponseBodyJSON, res.BodyType)
	require.Equal(t, map[string]any{"method": "POST", "name": "relay"}, res.Body)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("runner did not stop")
	}
	require.Eventually(t, func() bool { return rl.SessionCount() == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestSocketIODialer_RejectedToken(t *testing.T) {
	tokens, err := crypto.NewJWTManager("secret")
	require.NoError(t, err)

	rl := relay.New(relay.DefaultConfig(), nil)
	srv := newSocketIOTestServer(t, rl, tokens)

	var (
		mu       sync.Mutex
		messages []string
	)
	d := &SocketIODialer{ServerURL: srv.URL, Token: "garbage"}
	link, err := d.Dial(context.Background(), Handlers{
		OnReady: func(wire.ReadyPayload) { t.Error("rejected agent must not become ready") },
		OnError: func(msg string) {
			mu.Lock()
			messages = append(messages, msg)
			mu.Unlock()
		},
	})
	require.NoError(t, err)
	defer link.Close()

	select {
	case <-link.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("server did not close the rejected connection")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Contains(t, messages, "Invalid authentication token")
	require.Equal(t, 0, rl.SessionCount())
}

type fakeLink struct {
	done     chan struct{}
	doneOnce sync.Once
}

func (l *fakeLink) Emit(string, any) error { return nil }
func (l *fakeLink) Done() <-chan struct{}  { return l.done }
func (l *fakeLink) Close() error {
	l.doneOnce.Do(func() { close(l.done) })
	return nil
}

// flakyDialer fails the first attempts, then connects and drops each link
// right after it becomes ready.
type flakyDialer struct {
	failures int32
	dials    atomic.Int32
}

func (d *flakyDialer) Dial(_ context.Context, h Handlers) (Link, error) {
	n := d.dials.Add(1)
	if n <= d.failures {
		return nil, errors.New("connection refused")
	}
	l := &fakeLink{done: make(chan struct{})}
	go func() {
		h.OnReady(wire.ReadyPayload{SessionID: "s", PrincipalID: "p"})
		time.Sleep(5 * time.Millisecond)
		_ = l.Close()
	}()
	return l, nil
}

func TestRunner_ReconnectsWithBackoff(t *testing.T) {
	d := &flakyDialer{failures: 2}
	runner := NewRunner(d, New(newGatedFetcher()), 10*time.Millisecond)
	runner.backoff.Min = time.Millisecond

	var readies atomic.Int32
	runner.OnReady = func(wire.ReadyPayload) { readies.Add(1) }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runner.Run(ctx) }()

	require.Eventually(t, func() bool { return readies.Load() >= 2 }, 5*time.Second, 5*time.Millisecond)
	require.GreaterOrEqual(t, d.dials.Load(), int32(4))

	cancel()
	require.NoError(t, <-done)
}

// silentDialer connects but never sends relay-ready.
type silentDialer struct{ dials atomic.Int32 }

func (d *silentDialer) Dial(context.Context, Handlers) (Link, error) {
	d.dials.Add(1)
	return &fakeLink{done: make(chan struct{})}, nil
}

func TestRunner_ReadyTimeoutRedials(t *testing.T) {
	d := &silentDialer{}
	runner := NewRunner(d, New(newGatedFetcher()), 5*time.Millisecond)
	runner.backoff.Min = time.Millisecond
	runner.readyTimeout = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runner.Run(ctx) }()

	require.Eventually(t, func() bool { return d.dials.Load() >= 2 }, 5*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}
