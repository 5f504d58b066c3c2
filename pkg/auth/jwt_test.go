package auth

import (
	"testing"
	"time"

	"github.com/codeready-toolchain/rustyops/pkg/apierrors"
	"github.com/stretchr/testify/require"
)

func TestMintVerifyToken_RoundTrip(t *testing.T) {
	token, err := MintToken("alice", "hash-of-alice", time.Hour)
	require.NoError(t, err)

	sub, err := VerifyToken(token, "hash-of-alice")
	require.NoError(t, err)
	require.Equal(t, "alice", sub)
}

func TestVerifyToken_WrongKeyRejected(t *testing.T) {
	token, err := MintToken("alice", "hash-of-alice", time.Hour)
	require.NoError(t, err)

	_, err = VerifyToken(token, "hash-after-password-change")
	require.Error(t, err)
}

func TestVerifyToken_ExpiredTokenReportsExpiredKind(t *testing.T) {
	token, err := MintToken("alice", "hash-of-alice", -time.Minute)
	require.NoError(t, err)

	_, err = VerifyToken(token, "hash-of-alice")
	require.ErrorIs(t, err, apierrors.ErrJwtTokenExpired)
}

func TestExtractSubject_ReadsClaimWithoutVerifying(t *testing.T) {
	token, err := MintToken("bob", "hash-of-bob", time.Hour)
	require.NoError(t, err)

	sub, err := ExtractSubject(token)
	require.NoError(t, err)
	require.Equal(t, "bob", sub)
}

func TestExtractSubject_MalformedTokenErrors(t *testing.T) {
	_, err := ExtractSubject("not-a-jwt")
	require.Error(t, err)
}
