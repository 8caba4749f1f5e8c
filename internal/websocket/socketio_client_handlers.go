package websocket

import (
	"github.com/bhandras/delight/relay/internal/websocket/handlers"
	"github.com/bhandras/delight/relay/shared/logger"
	"github.com/bhandras/delight/relay/shared/wire"
	socket "github.com/zishang520/socket.io/servers/socket/v3"
)

func (s *SocketIOServer) registerClientHandlers(client *socket.Socket, socketID string) {
	onTypedAck[wire.FetchComplete](s, client, wire.EventFetchComplete, handlers.FetchComplete)
	onTypedAck[wire.FetchError](s, client, wire.EventFetchError, handlers.FetchError)

	client.On("disconnect", func(data ...any) {
		sd := s.getSocketData(socketID)
		reason := ""
		if len(data) > 0 {
			if r, ok := data[0].(string); ok {
				reason = r
			}
		}
		logger.Infof("Agent disconnected: %s (socket %s, reason: %s)", sd.PrincipalID, socketID, reason)

		s.host.Disconnect(socketID)
		s.socketData.Delete(socketID)
	})
}
