// Package handlers implements the caller-facing HTTP endpoints of the relay.
package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/bhandras/delight/relay/internal/api/middleware"
	"github.com/bhandras/delight/relay/internal/relay"
	"github.com/bhandras/delight/relay/internal/target"
	"github.com/bhandras/delight/relay/shared/logger"
	"github.com/bhandras/delight/relay/shared/wire"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Relay is the subset of the relay core used by the HTTP surface.
type Relay interface {
	Execute(ctx context.Context, req wire.RelayRequest, sessionID string) (wire.FetchComplete, error)
	Session(sessionID string) (relay.Session, bool)
	Sessions() []relay.Session
}

type RelayHandler struct {
	relay Relay
	newID func() string
}

func NewRelayHandler(r Relay) *RelayHandler {
	return &RelayHandler{
		relay: r,
		newID: uuid.NewString,
	}
}

// StatusForKind maps a relay failure kind to its HTTP status.
func StatusForKind(kind relay.Kind) int {
	switch kind {
	case relay.KindValidation:
		return http.StatusBadRequest
	case relay.KindSessionNotFound:
		return http.StatusNotFound
	case relay.KindDuplicateRequest:
		return http.StatusConflict
	case relay.KindTooManyPending:
		return http.StatusTooManyRequests
	case relay.KindAgentFailure:
		return http.StatusBadGateway
	case relay.KindConnectionClosed:
		return http.StatusServiceUnavailable
	case relay.KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func failure(c *gin.Context, status int, requestID, kind, message string) {
	c.JSON(status, wire.RelayResult{
		OK:        false,
		RequestID: requestID,
		Error:     &wire.ResultError{Kind: kind, Message: message},
	})
}

// Execute handles POST /v1/relay/execute
func (h *RelayHandler) Execute(c *gin.Context) {
	var body wire.ExecuteRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		failure(c, http.StatusBadRequest, "", string(relay.KindValidation), "invalid request body")
		return
	}
	if body.SessionID == "" {
		failure(c, http.StatusBadRequest, body.Request.RequestID, string(relay.KindValidation), "sessionId is required")
		return
	}
	if body.Request.RequestID == "" {
		body.Request.RequestID = h.newID()
	}
	requestID := body.Request.RequestID

	// Target validation precedes the session lookup, as in Relay.Execute.
	if !target.IsAllowed(body.Request.URL) {
		failure(c, http.StatusBadRequest, requestID, string(relay.KindValidation),
			"target is not a localhost or private network address")
		return
	}

	// Authenticated callers may only address their own agents.
	if principal, ok := middleware.GetPrincipalID(c); ok {
		s, found := h.relay.Session(body.SessionID)
		if !found || s.PrincipalID != principal {
			failure(c, http.StatusNotFound, requestID, string(relay.KindSessionNotFound), "no agent connected for this session")
			return
		}
	}

	res, err := h.relay.Execute(c.Request.Context(), body.Request, body.SessionID)
	if err != nil {
		var relayErr *relay.Error
		if errors.As(err, &relayErr) {
			logger.Debugf("Relay execute failed (session %s, request %s): %v", body.SessionID, requestID, err)
			failure(c, StatusForKind(relayErr.Kind), requestID, string(relayErr.Kind), relayErr.Message)
			return
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			failure(c, http.StatusRequestTimeout, requestID, string(relay.KindCanceled), "request cancelled by caller")
			return
		}
		logger.Errorf("Relay execute failed (session %s, request %s): %v", body.SessionID, requestID, err)
		failure(c, http.StatusInternalServerError, requestID, "internal", "internal error")
		return
	}

	c.JSON(http.StatusOK, wire.RelayResult{
		OK:        true,
		RequestID: requestID,
		Response:  &res,
	})
}

// ListSessions handles GET /v1/relay/sessions
func (h *RelayHandler) ListSessions(c *gin.Context) {
	principal, authed := middleware.GetPrincipalID(c)

	out := []wire.SessionInfo{}
	for _, s := range h.relay.Sessions() {
		if authed && s.PrincipalID != principal {
			continue
		}
		out = append(out, wire.SessionInfo{
			ID:             s.ID,
			PrincipalID:    s.PrincipalID,
			Transport:      s.Transport,
			ConnectedAt:    s.ConnectedAt.UnixMilli(),
			LastActivityAt: s.LastActivityAt.UnixMilli(),
			RequestCount:   s.RequestCount,
		})
	}
	c.JSON(http.StatusOK, wire.ListSessionsResponse{Sessions: out})
}
