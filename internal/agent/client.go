package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/bhandras/delight/relay/internal/config"
	"github.com/bhandras/delight/relay/shared/logger"
	"github.com/bhandras/delight/relay/shared/wire"
	socket "github.com/zishang520/socket.io/clients/socket/v3"
	"github.com/zishang520/socket.io/v3/pkg/types"
)

const (
	socketIOPath  = "/v1/relay"
	webSocketPath = "/v1/relay/ws"
)

var errNotConnected = errors.New("not connected")

// Handlers receive the server events of one connection. Callbacks may run on
// transport goroutines and must not block.
type Handlers struct {
	OnReady        func(wire.ReadyPayload)
	OnPerformFetch func(Emitter, wire.RelayRequest)
	OnError        func(message string)
}

func (h Handlers) ready(p wire.ReadyPayload) {
	if h.OnReady != nil {
		h.OnReady(p)
	}
}

func (h Handlers) performFetch(e Emitter, req wire.RelayRequest) {
	if h.OnPerformFetch != nil {
		h.OnPerformFetch(e, req)
	}
}

func (h Handlers) reportError(msg string) {
	if h.OnError != nil {
		h.OnError(msg)
	}
}

// Link is one live connection to the relay server.
type Link interface {
	Emitter
	// Done is closed once the connection has ended.
	Done() <-chan struct{}
	Close() error
}

// Dialer opens connections to the relay server.
type Dialer interface {
	Dial(ctx context.Context, h Handlers) (Link, error)
}

// NewDialer returns the dialer for the configured transport.
func NewDialer(cfg *config.AgentConfig) (Dialer, error) {
	switch cfg.Transport {
	case config.AgentTransportSocketIO, "":
		return &SocketIODialer{
			ServerURL:   cfg.ServerURL,
			PrincipalID: cfg.PrincipalID,
			Token:       cfg.Token,
		}, nil
	case config.AgentTransportWebSocket:
		return &WebSocketDialer{
			ServerURL:   cfg.ServerURL,
			PrincipalID: cfg.PrincipalID,
			Token:       cfg.Token,
		}, nil
	default:
		return nil, fmt.Errorf("unknown transport %q", cfg.Transport)
	}
}

// SocketIODialer connects over Socket.IO. Reconnection is left to the
// caller.
type SocketIODialer struct {
	ServerURL   string
	PrincipalID string
	Token       string
}

// Dial starts a Socket.IO connection. It returns once the connection is
// initiated; readiness is reported through h.OnReady.
func (d *SocketIODialer) Dial(_ context.Context, h Handlers) (Link, error) {
	logger.Debugf("Connecting to Socket.IO: %s (path: %s)", d.ServerURL, socketIOPath)

	opts := socket.DefaultOptions()
	opts.SetPath(socketIOPath)
	opts.SetTransports(types.NewSet(socket.Polling, socket.WebSocket))
	opts.SetReconnection(false)

	auth := map[string]any{}
	if d.PrincipalID != "" {
		auth["principalId"] = d.PrincipalID
	}
	if d.Token != "" {
		auth["token"] = d.Token
	}
	opts.SetAuth(auth)

	sock, err := socket.Connect(d.ServerURL, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	l := &socketLink{sock: sock, done: make(chan struct{})}

	sock.On(types.EventName("connect"), func(args ...any) {
		logger.Debugf("Socket.IO connected! ID: %s", sock.Id())
	})
	sock.On(types.EventName("disconnect"), func(args ...any) {
		reason := ""
		if len(args) > 0 {
			if r, ok := args[0].(string); ok {
				reason = r
			}
		}
		logger.Debugf("Socket.IO disconnected: %s", reason)
		l.markDone()
	})
	sock.On(types.EventName("connect_error"), func(args ...any) {
		msg := "connection error"
		if len(args) > 0 {
			msg = fmt.Sprintf("%v", args[0])
		}
		h.reportError(msg)
		l.markDone()
	})

	sock.On(types.EventName(wire.EventReady), func(args ...any) {
		var p wire.ReadyPayload
		if err := decodeArg(args, &p); err != nil {
			logger.Warnf("Invalid %s payload: %v", wire.EventReady, err)
			return
		}
		h.ready(p)
	})
	sock.On(types.EventName(wire.EventPerformFetch), func(args ...any) {
		var req wire.RelayRequest
		if err := decodeArg(args, &req); err != nil {
			logger.Warnf("Invalid %s payload: %v", wire.EventPerformFetch, err)
			return
		}
		h.performFetch(l, req)
	})
	sock.On(types.EventName(wire.EventError), func(args ...any) {
		var p wire.ErrorPayload
		if err := decodeArg(args, &p); err != nil {
			p.Message = fmt.Sprintf("%v", args)
		}
		h.reportError(p.Message)
	})

	return l, nil
}

type socketLink struct {
	sock     *socket.Socket
	done     chan struct{}
	doneOnce sync.Once
}

func (l *socketLink) markDone() {
	l.doneOnce.Do(func() { close(l.done) })
}

func (l *socketLink) Emit(event string, payload any) error {
	if !l.sock.Connected() {
		return errNotConnected
	}
	data, err := toMap(payload)
	if err != nil {
		return err
	}
	l.sock.Emit(event, data)
	return nil
}

func (l *socketLink) Done() <-chan struct{} { return l.done }

func (l *socketLink) Close() error {
	l.sock.Disconnect()
	l.markDone()
	return nil
}

// decodeArg decodes the first event argument into out.
func decodeArg(args []any, out any) error {
	if len(args) == 0 {
		return errors.New("missing payload")
	}
	raw, err := json.Marshal(args[0])
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

func toMap(payload any) (map[string]any, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}
	return m, nil
}
