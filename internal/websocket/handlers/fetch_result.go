package handlers

import (
	"context"

	"github.com/bhandras/delight/relay/shared/logger"
	"github.com/bhandras/delight/relay/shared/wire"
)

// FetchComplete feeds a "fetch-complete" event into the relay. Results for
// unknown, settled or foreign request ids are dropped; the agent still gets a
// negative ack so it can log the mismatch.
func FetchComplete(ctx context.Context, deps Deps, auth AuthContext, payload wire.FetchComplete) EventResult {
	if payload.RequestID == "" {
		logger.Warnf("fetch-complete without requestId (session %s)", auth.SessionID())
		return NewEventResult(
			wire.FetchAck{OK: false, Error: "missing requestId"},
			[]Emission{newErrorEmission("fetch-complete requires requestId")},
		)
	}
	if payload.BodyType == "" {
		payload.BodyType = wire.ResponseBodyText
	}
	if payload.CompletedAt == 0 {
		payload.CompletedAt = deps.Now().UnixMilli()
	}

	if !deps.Results().Complete(auth.SessionID(), payload) {
		return NewEventResult(wire.FetchAck{OK: false, Error: "unknown request"}, nil)
	}
	return NewEventResult(wire.FetchAck{OK: true}, nil)
}

// FetchError feeds a "fetch-error" event into the relay with the same rules
// as FetchComplete.
func FetchError(ctx context.Context, deps Deps, auth AuthContext, payload wire.FetchError) EventResult {
	if payload.RequestID == "" {
		logger.Warnf("fetch-error without requestId (session %s)", auth.SessionID())
		return NewEventResult(
			wire.FetchAck{OK: false, Error: "missing requestId"},
			[]Emission{newErrorEmission("fetch-error requires requestId")},
		)
	}

	if !deps.Results().Fail(auth.SessionID(), payload) {
		return NewEventResult(wire.FetchAck{OK: false, Error: "unknown request"}, nil)
	}
	return NewEventResult(wire.FetchAck{OK: true}, nil)
}
