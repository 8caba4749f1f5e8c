package handlers

import (
	"time"

	"github.com/bhandras/delight/relay/internal/crypto"
	"github.com/bhandras/delight/relay/shared/wire"
)

// TokenVerifier validates principal tokens presented at handshake time.
type TokenVerifier interface {
	VerifyToken(token string) (*crypto.TokenClaims, error)
}

// ResultSink receives agent results. It is implemented by the relay core.
type ResultSink interface {
	Complete(sessionID string, res wire.FetchComplete) bool
	Fail(sessionID string, fe wire.FetchError) bool
}

// Deps holds the narrow dependencies required by the transport handlers.
type Deps struct {
	tokens  TokenVerifier
	results ResultSink
	now     func() time.Time
}

// NewDeps builds a dependency bundle for handler calls. tokens may be nil, in
// which case handshake tokens are not checked.
func NewDeps(tokens TokenVerifier, results ResultSink, now func() time.Time) Deps {
	return Deps{
		tokens:  tokens,
		results: results,
		now:     now,
	}
}

func (d Deps) Tokens() TokenVerifier { return d.tokens }
func (d Deps) Results() ResultSink   { return d.results }
func (d Deps) Now() time.Time {
	if d.now != nil {
		return d.now()
	}
	return time.Now()
}
