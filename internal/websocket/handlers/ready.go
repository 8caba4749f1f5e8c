package handlers

import (
	"time"

	"github.com/bhandras/delight/relay/shared/wire"
)

// Ready builds the "relay-ready" payload announced once the session is
// registered.
func Ready(auth AuthContext, connectedAt time.Time) wire.ReadyPayload {
	return wire.ReadyPayload{
		SessionID:   auth.SessionID(),
		PrincipalID: auth.PrincipalID(),
		ConnectedAt: connectedAt.UnixMilli(),
	}
}
