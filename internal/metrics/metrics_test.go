package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bhandras/delight/relay/internal/relay"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMetrics_SessionLifecycle(t *testing.T) {
	m := New(nil)

	s := relay.Session{ID: "sock1", Transport: "socketio"}
	m.SessionOpened(s)
	m.SessionOpened(relay.Session{ID: "sock2", Transport: "websocket"})
	require.Equal(t, 2.0, testutil.ToFloat64(m.SessionsActive))

	m.SessionClosed(s, relay.CloseIdle, 3)
	require.Equal(t, 1.0, testutil.ToFloat64(m.SessionsActive))
	require.Equal(t, 1.0, testutil.ToFloat64(m.SessionsOpened.WithLabelValues("socketio")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.SessionsClosed.WithLabelValues("idle")))
	require.Equal(t, 3.0, testutil.ToFloat64(m.RequestsCanceled))
}

func TestMetrics_ExecuteOutcomes(t *testing.T) {
	m := New(nil)

	m.ExecuteFinished("s1", "", 10*time.Millisecond)
	m.ExecuteFinished("s1", relay.KindTimeout, time.Second)
	m.ExecuteFinished("s1", relay.KindTimeout, time.Second)

	require.Equal(t, 1.0, testutil.ToFloat64(m.Executions.WithLabelValues("ok")))
	require.Equal(t, 2.0, testutil.ToFloat64(m.Executions.WithLabelValues("timeout")))
	require.Equal(t, 2, testutil.CollectAndCount(m.ExecuteDuration))
}

func TestMetrics_HandlerExposesPending(t *testing.T) {
	pending := 7
	m := New(func() int { return pending })

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), "relay_requests_pending 7")
	require.Contains(t, string(body), "relay_uptime_seconds")
}

func TestMetrics_AsRelayObserver(t *testing.T) {
	var r *relay.Relay
	m := New(func() int { return r.PendingCount() })
	r = relay.New(relay.DefaultConfig(), nil, m)

	_, err := r.Connect("sock1", "", "websocket", nopConn{})
	require.NoError(t, err)
	require.Equal(t, 1.0, testutil.ToFloat64(m.SessionsActive))

	r.Shutdown()
	require.Equal(t, 0.0, testutil.ToFloat64(m.SessionsActive))
	require.Equal(t, 1.0, testutil.ToFloat64(m.SessionsClosed.WithLabelValues("shutdown")))
}

type nopConn struct{}

func (nopConn) Send(string, any) error { return nil }
func (nopConn) Close() error           { return nil }
