package websocket

import (
	"errors"

	"github.com/bhandras/delight/relay/internal/relay"
	"github.com/bhandras/delight/relay/internal/websocket/handlers"
	"github.com/bhandras/delight/relay/shared/logger"
	"github.com/bhandras/delight/relay/shared/wire"
	socket "github.com/zishang520/socket.io/servers/socket/v3"
)

var (
	errSocketClosed           = errors.New("socket is not connected")
	errGoneDuringRegistration = errors.New("socket disconnected during registration")
)

// socketConn adapts a Socket.IO socket to relay.Conn.
type socketConn struct {
	client *socket.Socket
}

func (c socketConn) Send(event string, payload any) error {
	if !c.client.Connected() {
		return errSocketClosed
	}
	c.client.Emit(event, payload)
	return nil
}

func (c socketConn) Close() error {
	c.client.Disconnect(true)
	return nil
}

func rejectSocket(client *socket.Socket, message string) {
	client.Emit(wire.EventError, wire.ErrorPayload{Message: message})
	client.Disconnect(true)
}

// registerSession connects the session and then re-checks the socket. A
// disconnect that lands before Connect returns finds no session to remove, so
// the session is dropped here instead of waiting for the idle sweep.
func registerSession(host SessionHost, socketID, principalID string, conn relay.Conn,
	connected func() bool) (relay.Session, error) {

	session, err := host.Connect(socketID, principalID, TransportSocketIO, conn)
	if err != nil {
		return relay.Session{}, err
	}
	if !connected() {
		host.Disconnect(socketID)
		return relay.Session{}, errGoneDuringRegistration
	}
	return session, nil
}

func (s *SocketIOServer) handleConnection(client *socket.Socket) {
	socketID := string(client.Id())

	logger.Infof("Socket.IO connection attempt (socket ID: %s)", socketID)

	var authPayload wire.SocketAuthPayload
	if authMap := client.Handshake().Auth; len(authMap) > 0 {
		if err := decodeAny(authMap, &authPayload); err != nil {
			logger.Warnf("Socket.IO invalid auth data (socket %s): %v", socketID, err)
			rejectSocket(client, "Invalid authentication data")
			return
		}
	}

	// Do not log the handshake auth payload; it may contain a bearer token.
	hs, err := handlers.ResolvePrincipal(s.deps, authPayload)
	if err != nil {
		logger.Warnf("Socket.IO handshake rejected (socket %s): %v", socketID, err)
		rejectSocket(client, err.Error())
		return
	}

	s.socketData.Store(socketID, &SocketData{
		PrincipalID: hs.PrincipalID,
		Socket:      client,
	})
	s.registerClientHandlers(client, socketID)

	session, err := registerSession(s.host, socketID, hs.PrincipalID, socketConn{client: client}, client.Connected)
	if errors.Is(err, errGoneDuringRegistration) {
		logger.Debugf("Socket.IO socket %s left before its session was ready", socketID)
		s.socketData.Delete(socketID)
		return
	}
	if err != nil {
		logger.Warnf("Socket.IO session registration failed (socket %s): %v", socketID, err)
		s.socketData.Delete(socketID)
		rejectSocket(client, "Session registration failed")
		return
	}

	auth := handlers.NewAuthContext(session.PrincipalID, TransportSocketIO, socketID)
	client.Emit(wire.EventReady, handlers.Ready(auth, session.ConnectedAt))
	logger.Infof("Socket.IO agent ready (principal: %s, verified: %t)", hs.PrincipalID, hs.Verified)
}
