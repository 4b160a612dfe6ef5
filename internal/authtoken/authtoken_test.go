package authtoken

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDisabledGateAcceptsAnything(t *testing.T) {
	g := NewGate("")
	assert.False(t, g.Enabled())
	assert.NoError(t, g.Verify(""))
	assert.NoError(t, g.Verify("garbage"))
}

func TestIssueThenVerifyRoundTrips(t *testing.T) {
	g := NewGate("super-secret")
	token, err := g.Issue("operator", time.Hour)
	require.NoError(t, err)
	assert.NoError(t, g.Verify(token))
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	g := NewGate("super-secret")
	token, err := g.Issue("operator", -time.Minute)
	require.NoError(t, err)
	assert.ErrorIs(t, g.Verify(token), ErrInvalidToken)
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	issuer := NewGate("secret-a")
	verifier := NewGate("secret-b")
	token, err := issuer.Issue("operator", time.Hour)
	require.NoError(t, err)
	assert.ErrorIs(t, verifier.Verify(token), ErrInvalidToken)
}

func TestVerifyMissingToken(t *testing.T) {
	g := NewGate("super-secret")
	assert.ErrorIs(t, g.Verify(""), ErrMissingToken)
}

func TestBearerToken(t *testing.T) {
	assert.Equal(t, "abc.def.ghi", BearerToken("Bearer abc.def.ghi"))
	assert.Equal(t, "", BearerToken("abc.def.ghi"))
	assert.Equal(t, "", BearerToken(""))
}
