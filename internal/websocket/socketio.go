// Package websocket hosts the agent-facing transports of the relay: the
// Socket.IO server agents normally use and a plain WebSocket fallback with
// JSON envelopes.
package websocket

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/bhandras/delight/relay/internal/relay"
	"github.com/bhandras/delight/relay/internal/websocket/handlers"
	"github.com/bhandras/delight/relay/shared/logger"
	"github.com/bhandras/delight/relay/shared/wire"
	"github.com/gin-gonic/gin"
	socket "github.com/zishang520/socket.io/servers/socket/v3"
	sockettypes "github.com/zishang520/socket.io/v3/pkg/types"
)

// SocketIOPath is the Socket.IO endpoint agents connect to.
const SocketIOPath = "/v1/relay"

// Transport names recorded on sessions.
const (
	TransportSocketIO  = "socketio"
	TransportWebSocket = "websocket"
)

// SessionHost is the subset of the relay core the transports drive.
type SessionHost interface {
	Connect(sessionID, principalID, transport string, conn relay.Conn) (relay.Session, error)
	Disconnect(sessionID string) bool
	Complete(sessionID string, res wire.FetchComplete) bool
	Fail(sessionID string, fe wire.FetchError) bool
}

// SocketIOServer wraps the Socket.IO server agents connect to.
type SocketIOServer struct {
	host       SessionHost
	deps       handlers.Deps
	server     *socket.Server
	socketData sync.Map // socket ID -> *SocketData
}

// NewSocketIOServer creates a new Socket.IO v4 server. tokens may be nil, in
// which case principal ids are taken from the handshake as-is.
func NewSocketIOServer(host SessionHost, tokens handlers.TokenVerifier) *SocketIOServer {
	opts := socket.DefaultServerOptions()

	// Agents are browser tabs served from arbitrary origins.
	opts.SetCors(&sockettypes.Cors{
		Origin:      "*",
		Credentials: false,
	})

	// SocketIOPingInterval defines how frequently the server pings agents.
	// A dead agent is noticed within interval+timeout, after which its pending
	// requests are rejected.
	const SocketIOPingInterval = 5 * time.Second

	// SocketIOPingTimeout defines how long the server waits before considering
	// a socket dead (no pong received).
	const SocketIOPingTimeout = 15 * time.Second

	opts.SetPingTimeout(SocketIOPingTimeout)
	opts.SetPingInterval(SocketIOPingInterval)
	opts.SetPath(SocketIOPath)

	s := &SocketIOServer{
		host:   host,
		deps:   handlers.NewDeps(tokens, host, time.Now),
		server: socket.NewServer(nil, opts),
	}
	s.setupHandlers()
	return s
}

// SocketData stores connection metadata for each socket.
type SocketData struct {
	PrincipalID string
	Socket      *socket.Socket
}

func (s *SocketIOServer) setupHandlers() {
	s.server.On("connection", func(clients ...any) {
		client := clients[0].(*socket.Socket)
		s.handleConnection(client)
	})
}

func decodeAny(input any, out any) error {
	raw, err := json.Marshal(input)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

func getFirstAnyWithAck(data []any) (any, func(...any)) {
	var ack func(...any)
	if len(data) == 0 {
		return nil, nil
	}
	if cb, ok := data[len(data)-1].(func(...any)); ok {
		ack = cb
		data = data[:len(data)-1]
	} else if cb, ok := data[len(data)-1].(socket.Ack); ok {
		ack = func(args ...any) {
			cb(args, nil)
		}
		data = data[:len(data)-1]
	}
	if len(data) == 0 {
		return nil, ack
	}
	return data[0], ack
}

// getSocketData retrieves socket metadata by socket ID.
func (s *SocketIOServer) getSocketData(socketID string) *SocketData {
	if data, ok := s.socketData.Load(socketID); ok {
		if sd, ok := data.(*SocketData); ok {
			return sd
		}
	}
	return &SocketData{}
}

// HandleSocketIO creates a Gin handler for Socket.IO.
func (s *SocketIOServer) HandleSocketIO() gin.HandlerFunc {
	httpHandler := s.server.ServeHandler(nil)

	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "false")

		if c.Request.Method == http.MethodOptions {
			c.Status(http.StatusOK)
			return
		}

		logger.Tracef("Socket.IO request: %s %s", c.Request.Method, c.Request.URL.Path)
		httpHandler.ServeHTTP(c.Writer, c.Request)
	}
}

// Close shuts down the Socket.IO server.
func (s *SocketIOServer) Close() error {
	s.server.Close(nil)
	return nil
}
