package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/bhandras/delight/relay/internal/websocket/handlers"
	"github.com/bhandras/delight/relay/shared/logger"
	"github.com/bhandras/delight/relay/shared/wire"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// SimplePath is the plain WebSocket endpoint.
const SimplePath = "/v1/relay/ws"

const (
	wsWriteWait      = 10 * time.Second
	wsPongWait       = 60 * time.Second
	wsPingPeriod     = (wsPongWait * 9) / 10
	wsMaxMessageSize = 16 << 20
	wsSendBuffer     = 64
)

var (
	errConnClosed = errors.New("websocket connection closed")
	errSendFull   = errors.New("websocket send buffer full")
)

// SimpleServer is a plain WebSocket transport (not Socket.IO). Events are
// framed as wire.Envelope JSON messages.
type SimpleServer struct {
	host     SessionHost
	deps     handlers.Deps
	upgrader websocket.Upgrader
	newID    func() string

	mu      sync.RWMutex
	clients map[string]*ClientInfo
}

// ClientInfo stores information about a connected agent.
type ClientInfo struct {
	SessionID   string
	PrincipalID string
	conn        *simpleConn
}

// NewSimpleServer creates a plain WebSocket server. allowedOrigins restricts
// the Origin header on upgrade; empty or "*" allows any origin.
func NewSimpleServer(host SessionHost, tokens handlers.TokenVerifier, allowedOrigins []string) *SimpleServer {
	return &SimpleServer{
		host: host,
		deps: handlers.NewDeps(tokens, host, time.Now),
		upgrader: websocket.Upgrader{
			CheckOrigin: originChecker(allowedOrigins),
		},
		newID:   uuid.NewString,
		clients: make(map[string]*ClientInfo),
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	for _, o := range allowed {
		if o == "*" {
			allowed = nil
			break
		}
	}
	return func(r *http.Request) bool {
		if len(allowed) == 0 {
			return true
		}
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, o := range allowed {
			if strings.EqualFold(o, origin) {
				return true
			}
		}
		return false
	}
}

// handshakeFromRequest reads the principal from the "principalId" query
// parameter and the token from a bearer Authorization header or the "token"
// query parameter.
func handshakeFromRequest(r *http.Request) wire.SocketAuthPayload {
	auth := wire.SocketAuthPayload{
		PrincipalID: r.URL.Query().Get("principalId"),
		Token:       r.URL.Query().Get("token"),
	}
	if h := r.Header.Get("Authorization"); h != "" {
		parts := strings.SplitN(h, " ", 2)
		if len(parts) == 2 && parts[0] == "Bearer" {
			auth.Token = parts[1]
		}
	}
	return auth
}

// HandleWebSocket upgrades the request and serves one agent connection until
// it closes.
func (s *SimpleServer) HandleWebSocket(c *gin.Context) {
	hs, err := handlers.ResolvePrincipal(s.deps, handshakeFromRequest(c.Request))
	if err != nil {
		c.JSON(http.StatusUnauthorized, wire.ErrorPayload{Message: err.Error()})
		return
	}

	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warnf("WebSocket upgrade error: %v", err)
		return
	}

	sessionID := s.newID()
	conn := newSimpleConn(ws)
	go conn.writePump()

	session, err := s.host.Connect(sessionID, hs.PrincipalID, TransportWebSocket, conn)
	if err != nil {
		logger.Warnf("WebSocket session registration failed: %v", err)
		_ = conn.Send(wire.EventError, wire.ErrorPayload{Message: "Session registration failed"})
		_ = conn.Close()
		return
	}

	info := &ClientInfo{SessionID: sessionID, PrincipalID: session.PrincipalID, conn: conn}
	s.mu.Lock()
	s.clients[sessionID] = info
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.clients, sessionID)
		s.mu.Unlock()
		s.host.Disconnect(sessionID)
		_ = conn.Close()
		logger.Infof("WebSocket agent disconnected: %s (session %s)", info.PrincipalID, sessionID)
	}()

	auth := handlers.NewAuthContext(session.PrincipalID, TransportWebSocket, sessionID)
	if err := conn.Send(wire.EventReady, handlers.Ready(auth, session.ConnectedAt)); err != nil {
		return
	}
	logger.Infof("WebSocket agent ready (principal: %s, session: %s)", session.PrincipalID, sessionID)

	s.readPump(conn, auth)
}

func (s *SimpleServer) readPump(conn *simpleConn, auth handlers.AuthContext) {
	ws := conn.ws
	ws.SetReadLimit(wsMaxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(wsPongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		var env wire.Envelope
		if err := ws.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				logger.Warnf("WebSocket read error (session %s): %v", auth.SessionID(), err)
			}
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(wsPongWait))
		s.handleEnvelope(conn, auth, env)
	}
}

func (s *SimpleServer) handleEnvelope(conn *simpleConn, auth handlers.AuthContext, env wire.Envelope) {
	logger.Tracef("WebSocket event %s from session %s", env.Type, auth.SessionID())

	var result handlers.EventResult
	switch env.Type {
	case wire.EventFetchComplete:
		var payload wire.FetchComplete
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			logger.Warnf("Dropping malformed %s (session %s): %v", env.Type, auth.SessionID(), err)
			return
		}
		result = handlers.FetchComplete(context.Background(), s.deps, auth, payload)
	case wire.EventFetchError:
		var payload wire.FetchError
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			logger.Warnf("Dropping malformed %s (session %s): %v", env.Type, auth.SessionID(), err)
			return
		}
		result = handlers.FetchError(context.Background(), s.deps, auth, payload)
	default:
		logger.Warnf("Unknown WebSocket event type %q (session %s)", env.Type, auth.SessionID())
		return
	}

	for _, e := range result.Emits() {
		_ = conn.Send(e.Event(), e.Payload())
	}
}

// ClientCount returns the number of connected plain WebSocket agents.
func (s *SimpleServer) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// Close closes every plain WebSocket connection.
func (s *SimpleServer) Close() error {
	s.mu.RLock()
	conns := make([]*simpleConn, 0, len(s.clients))
	for _, c := range s.clients {
		conns = append(conns, c.conn)
	}
	s.mu.RUnlock()

	for _, c := range conns {
		_ = c.Close()
	}
	return nil
}

// simpleConn adapts a gorilla connection to relay.Conn. Writes go through a
// single writer goroutine.
type simpleConn struct {
	ws        *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newSimpleConn(ws *websocket.Conn) *simpleConn {
	return &simpleConn{
		ws:   ws,
		send: make(chan []byte, wsSendBuffer),
		done: make(chan struct{}),
	}
}

func (c *simpleConn) Send(event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	msg, err := json.Marshal(wire.Envelope{Type: event, Data: data})
	if err != nil {
		return err
	}

	select {
	case <-c.done:
		return errConnClosed
	default:
	}
	select {
	case c.send <- msg:
		return nil
	case <-c.done:
		return errConnClosed
	default:
		return errSendFull
	}
}

func (c *simpleConn) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
	})
	return nil
}

func (c *simpleConn) writePump() {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				_ = c.Close()
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = c.Close()
				return
			}
		case <-c.done:
			c.flush()
			_ = c.ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
			_ = c.ws.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// flush writes messages queued before Close.
func (c *simpleConn) flush() {
	for {
		select {
		case msg := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		default:
			return
		}
	}
}
