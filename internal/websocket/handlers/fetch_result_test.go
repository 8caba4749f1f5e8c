package handlers

import (
	"context"
	"testing"
	"time"

	"github.com/bhandras/delight/relay/shared/wire"
	"github.com/stretchr/testify/require"
)

func TestFetchComplete_ForwardsWithDefaults(t *testing.T) {
	var (
		gotSession string
		got        wire.FetchComplete
	)
	results := fakeResults{
		complete: func(sessionID string, res wire.FetchComplete) bool {
			gotSession, got = sessionID, res
			return true
		},
	}
	now := time.UnixMilli(42000)
	deps := NewDeps(nil, results, func() time.Time { return now })

	res := FetchComplete(context.Background(), deps, NewAuthContext("u1", "socketio", "sock1"), wire.FetchComplete{
		RequestID: "r1",
		Status:    200,
		Body:      "hi",
	})

	require.Equal(t, wire.FetchAck{OK: true}, res.Ack())
	require.Empty(t, res.Emits())
	require.Equal(t, "sock1", gotSession)
	require.Equal(t, "r1", got.RequestID)
	require.Equal(t, wire.ResponseBodyText, got.BodyType)
	require.Equal(t, int64(42000), got.CompletedAt)
}

func TestFetchComplete_MissingRequestID(t *testing.T) {
	results := fakeResults{
		complete: func(string, wire.FetchComplete) bool {
			t.Fatal("must not forward")
			return false
		},
	}
	deps := NewDeps(nil, results, nil)

	res := FetchComplete(context.Background(), deps, NewAuthContext("u1", "socketio", "sock1"), wire.FetchComplete{Status: 200})

	ack, ok := res.Ack().(wire.FetchAck)
	require.True(t, ok)
	require.False(t, ack.OK)
	require.Len(t, res.Emits(), 1)
	require.Equal(t, wire.EventError, res.Emits()[0].Event())
}

func TestFetchComplete_UnknownRequest(t *testing.T) {
	results := fakeResults{
		complete: func(string, wire.FetchComplete) bool { return false },
	}
	deps := NewDeps(nil, results, nil)

	res := FetchComplete(context.Background(), deps, NewAuthContext("u1", "socketio", "sock1"), wire.FetchComplete{RequestID: "late"})
	require.Equal(t, wire.FetchAck{OK: false, Error: "unknown request"}, res.Ack())
	require.Empty(t, res.Emits())
}

func TestFetchError_Forwards(t *testing.T) {
	var got wire.FetchError
	results := fakeResults{
		fail: func(sessionID string, fe wire.FetchError) bool {
			require.Equal(t, "sock1", sessionID)
			got = fe
			return true
		},
	}
	deps := NewDeps(nil, results, nil)

	res := FetchError(context.Background(), deps, NewAuthContext("u1", "websocket", "sock1"), wire.FetchError{
		RequestID: "r1",
		Message:   "connection refused",
	})
	require.Equal(t, wire.FetchAck{OK: true}, res.Ack())
	require.Equal(t, "connection refused", got.Message)

	res = FetchError(context.Background(), deps, NewAuthContext("u1", "websocket", "sock1"), wire.FetchError{})
	require.Len(t, res.Emits(), 1)
}

func TestReady_Payload(t *testing.T) {
	p := Ready(NewAuthContext("u1", "socketio", "sock1"), time.UnixMilli(1234))
	require.Equal(t, wire.ReadyPayload{SessionID: "sock1", PrincipalID: "u1", ConnectedAt: 1234}, p)
}
