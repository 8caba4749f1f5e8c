package websocket

import (
	"context"

	"github.com/bhandras/delight/relay/internal/websocket/handlers"
	"github.com/bhandras/delight/relay/shared/logger"
	socket "github.com/zishang520/socket.io/servers/socket/v3"
)

func emitHandlerResult(client *socket.Socket, result handlers.EventResult) {
	for _, e := range result.Emits() {
		client.Emit(e.Event(), e.Payload())
	}
}

// onTypedAck decodes the first event argument into Req, runs handler and acks
// the caller when it asked for one. Undecodable payloads are logged and
// dropped.
func onTypedAck[Req any](
	s *SocketIOServer,
	client *socket.Socket,
	event string,
	handler func(context.Context, handlers.Deps, handlers.AuthContext, Req) handlers.EventResult,
) {
	socketID := string(client.Id())
	client.On(event, func(data ...any) {
		sd := s.getSocketData(socketID)
		raw, ack := getFirstAnyWithAck(data)

		var req Req
		if err := decodeAny(raw, &req); err != nil {
			logger.Warnf("Dropping malformed %s from socket %s: %v", event, socketID, err)
			return
		}

		auth := handlers.NewAuthContext(sd.PrincipalID, TransportSocketIO, socketID)
		result := handler(context.Background(), s.deps, auth, req)

		if ack != nil {
			ack(result.Ack())
		}
		emitHandlerResult(client, result)
	})
}
