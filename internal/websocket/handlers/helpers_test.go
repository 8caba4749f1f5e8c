package handlers

import (
	"errors"

	"github.com/bhandras/delight/relay/internal/crypto"
	"github.com/bhandras/delight/relay/shared/wire"
	"github.com/golang-jwt/jwt/v5"
)

type fakeTokens struct {
	subjects map[string]string
}

func (f fakeTokens) VerifyToken(token string) (*crypto.TokenClaims, error) {
	sub, ok := f.subjects[token]
	if !ok {
		return nil, errors.New("bad token")
	}
	return &crypto.TokenClaims{RegisteredClaims: jwt.RegisteredClaims{Subject: sub}}, nil
}

type fakeResults struct {
	complete func(sessionID string, res wire.FetchComplete) bool
	fail     func(sessionID string, fe wire.FetchError) bool
}

func (f fakeResults) Complete(sessionID string, res wire.FetchComplete) bool {
	return f.complete(sessionID, res)
}

func (f fakeResults) Fail(sessionID string, fe wire.FetchError) bool {
	return f.fail(sessionID, fe)
}
