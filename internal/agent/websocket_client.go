package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/bhandras/delight/relay/shared/logger"
	"github.com/bhandras/delight/relay/shared/wire"
	"github.com/gorilla/websocket"
)

const (
	wsWriteWait = 10 * time.Second
	wsPongWait  = 60 * time.Second
)

// WebSocketDialer connects over the plain WebSocket transport.
type WebSocketDialer struct {
	ServerURL   string
	PrincipalID string
	Token       string
}

// Dial opens the WebSocket and starts reading server events.
func (d *WebSocketDialer) Dial(ctx context.Context, h Handlers) (Link, error) {
	endpoint, err := webSocketURL(d.ServerURL, d.PrincipalID)
	if err != nil {
		return nil, err
	}
	header := http.Header{}
	if d.Token != "" {
		header.Set("Authorization", "Bearer "+d.Token)
	}

	logger.Debugf("Connecting to WebSocket: %s", endpoint)
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, endpoint, header)
	if err != nil {
		if resp != nil {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
			resp.Body.Close()
			return nil, fmt.Errorf("failed to connect: %s: %s", resp.Status, strings.TrimSpace(string(body)))
		}
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	l := &wsLink{conn: conn, done: make(chan struct{})}
	go l.readLoop(h)
	return l, nil
}

// webSocketURL maps an http(s) server URL onto the ws(s) relay endpoint.
func webSocketURL(serverURL, principalID string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("invalid server URL: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported server URL scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + webSocketPath
	q := url.Values{}
	if principalID != "" {
		q.Set("principalId", principalID)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

type wsLink struct {
	conn *websocket.Conn

	writeMu  sync.Mutex
	done     chan struct{}
	doneOnce sync.Once
}

func (l *wsLink) readLoop(h Handlers) {
	defer l.markDone()
	defer l.conn.Close()

	_ = l.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	l.conn.SetPingHandler(func(data string) error {
		_ = l.conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return l.conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(wsWriteWait))
	})

	for {
		var env wire.Envelope
		if err := l.conn.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debugf("WebSocket read error: %v", err)
			}
			return
		}
		_ = l.conn.SetReadDeadline(time.Now().Add(wsPongWait))

		switch env.Type {
		case wire.EventReady:
			var p wire.ReadyPayload
			if err := json.Unmarshal(env.Data, &p); err != nil {
				logger.Warnf("Invalid %s payload: %v", env.Type, err)
				continue
			}
			h.ready(p)
		case wire.EventPerformFetch:
			var req wire.RelayRequest
			if err := json.Unmarshal(env.Data, &req); err != nil {
				logger.Warnf("Invalid %s payload: %v", env.Type, err)
				continue
			}
			h.performFetch(l, req)
		case wire.EventError:
			var p wire.ErrorPayload
			_ = json.Unmarshal(env.Data, &p)
			h.reportError(p.Message)
		default:
			logger.Debugf("Ignoring WebSocket event %q", env.Type)
		}
	}
}

func (l *wsLink) markDone() {
	l.doneOnce.Do(func() { close(l.done) })
}

func (l *wsLink) Emit(event string, payload any) error {
	select {
	case <-l.done:
		return errNotConnected
	default:
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode payload: %w", err)
	}

	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	_ = l.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return l.conn.WriteJSON(wire.Envelope{Type: event, Data: data})
}

func (l *wsLink) Done() <-chan struct{} { return l.done }

func (l *wsLink) Close() error {
	l.writeMu.Lock()
	_ = l.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(wsWriteWait))
	l.writeMu.Unlock()
	return l.conn.Close()
}
