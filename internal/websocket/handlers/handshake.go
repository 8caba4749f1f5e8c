package handlers

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/bhandras/delight/relay/internal/relay"
	"github.com/bhandras/delight/relay/shared/wire"
)

// maxPrincipalLen bounds the opaque principal id accepted from clients.
const maxPrincipalLen = 256

// Handshake is the validated connection identity.
type Handshake struct {
	PrincipalID string
	// Verified reports whether the principal came from a verified token.
	Verified bool
}

// ResolvePrincipal validates the handshake auth payload and picks the
// principal for the session.
//
// With a verifier configured, a presented token must verify and its subject
// wins over any claimed principalId. Without a token the claimed principalId
// is used as an opaque label, falling back to "anonymous".
func ResolvePrincipal(deps Deps, auth wire.SocketAuthPayload) (Handshake, error) {
	token := strings.TrimSpace(auth.Token)
	if token != "" && deps.Tokens() != nil {
		claims, err := deps.Tokens().VerifyToken(token)
		if err != nil {
			return Handshake{}, errors.New("Invalid authentication token")
		}
		return Handshake{PrincipalID: claims.Subject, Verified: true}, nil
	}

	principal := strings.TrimSpace(auth.PrincipalID)
	if principal == "" {
		return Handshake{PrincipalID: relay.AnonymousPrincipal}, nil
	}
	if utf8.RuneCountInString(principal) > maxPrincipalLen {
		return Handshake{}, fmt.Errorf("Principal id longer than %d characters", maxPrincipalLen)
	}
	return Handshake{PrincipalID: principal}, nil
}
