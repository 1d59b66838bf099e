package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WRAN-OEVSV/IEEE802.22/errors"
)

func TestNewVerifierRequiresSecret(t *testing.T) {
	_, err := NewVerifier("")
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))

	_, err = NewVerifier("   ")
	require.Error(t, err)
}

func TestMintAndVerifyRoundTrip(t *testing.T) {
	v, err := NewVerifier("test-secret")
	require.NoError(t, err)

	token, err := v.MintToken("oe1abc", []string{"logs"}, time.Minute)
	require.NoError(t, err)

	claims, err := v.VerifyToken(token)
	require.NoError(t, err)
	assert.Equal(t, "oe1abc", claims.User)
	assert.True(t, claims.HasPermission("logs"))
	assert.False(t, claims.HasPermission("admin"))
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	v, err := NewVerifier("test-secret")
	require.NoError(t, err)

	token, err := v.MintToken("oe1abc", nil, -time.Minute)
	require.NoError(t, err)

	_, err = v.VerifyToken(token)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	minter, err := NewVerifier("secret-a")
	require.NoError(t, err)
	verifier, err := NewVerifier("secret-b")
	require.NoError(t, err)

	token, err := minter.MintToken("oe1abc", []string{"logs"}, time.Minute)
	require.NoError(t, err)

	_, err = verifier.VerifyToken(token)
	require.Error(t, err)
}

func TestVerifyRejectsEmptyAndGarbage(t *testing.T) {
	v, err := NewVerifier("test-secret")
	require.NoError(t, err)

	_, err = v.VerifyToken("")
	require.Error(t, err)

	_, err = v.VerifyToken("not.a.jwt")
	require.Error(t, err)
}
