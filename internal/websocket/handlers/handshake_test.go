package handlers

import (
	"strings"
	"testing"

	"github.com/bhandras/delight/relay/shared/wire"
	"github.com/stretchr/testify/require"
)

func TestResolvePrincipal_DefaultsToAnonymous(t *testing.T) {
	hs, err := ResolvePrincipal(NewDeps(nil, nil, nil), wire.SocketAuthPayload{})
	require.NoError(t, err)
	require.Equal(t, "anonymous", hs.PrincipalID)
	require.False(t, hs.Verified)
}

func TestResolvePrincipal_ClaimedPrincipal(t *testing.T) {
	hs, err := ResolvePrincipal(NewDeps(nil, nil, nil), wire.SocketAuthPayload{PrincipalID: "  user-7 "})
	require.NoError(t, err)
	require.Equal(t, "user-7", hs.PrincipalID)
}

func TestResolvePrincipal_TokenIgnoredWithoutVerifier(t *testing.T) {
	hs, err := ResolvePrincipal(NewDeps(nil, nil, nil), wire.SocketAuthPayload{
		PrincipalID: "user-7",
		Token:       "whatever",
	})
	require.NoError(t, err)
	require.Equal(t, "user-7", hs.PrincipalID)
	require.False(t, hs.Verified)
}

func TestResolvePrincipal_VerifiedSubjectWins(t *testing.T) {
	deps := NewDeps(fakeTokens{subjects: map[string]string{"good": "user-1"}}, nil, nil)

	hs, err := ResolvePrincipal(deps, wire.SocketAuthPayload{PrincipalID: "spoofed", Token: "good"})
	require.NoError(t, err)
	require.Equal(t, "user-1", hs.PrincipalID)
	require.True(t, hs.Verified)

	_, err = ResolvePrincipal(deps, wire.SocketAuthPayload{Token: "bad"})
	require.Error(t, err)
}

func TestResolvePrincipal_RejectsOversizedPrincipal(t *testing.T) {
	_, err := ResolvePrincipal(NewDeps(nil, nil, nil), wire.SocketAuthPayload{
		PrincipalID: strings.Repeat("x", maxPrincipalLen+1),
	})
	require.Error(t, err)
}
