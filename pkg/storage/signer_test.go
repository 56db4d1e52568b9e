package storage

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSignerGenerateAndParse(t *testing.T) {
	signer := NewSigner("secret", time.Hour)
	token, expiresAt, err := signer.Generate("boletim-2026-08-29.csv")
	require.NoError(t, err)
	require.NotEmpty(t, token)
	require.False(t, expiresAt.IsZero())

	name, err := signer.Parse(token)
	require.NoError(t, err)
	require.Equal(t, "boletim-2026-08-29.csv", name)
}

func TestSignerRejectsTamperedToken(t *testing.T) {
	signer := NewSigner("secret", time.Hour)
	token, _, err := signer.Generate("boletim.csv")
	require.NoError(t, err)

	parts := strings.Split(token, ".")
	parts[2] = strings.Repeat("0", len(parts[2]))
	_, err = signer.Parse(strings.Join(parts, "."))
	require.ErrorIs(t, err, ErrTokenInvalid)

	_, err = signer.Parse("not-a-token")
	require.ErrorIs(t, err, ErrTokenInvalid)
}

func TestSignerRejectsExpiredToken(t *testing.T) {
	signer := NewSigner("secret", time.Millisecond*10)
	token, _, err := signer.Generate("boletim.csv")
	require.NoError(t, err)
	time.Sleep(time.Millisecond * 20)

	_, err = signer.Parse(token)
	require.ErrorIs(t, err, ErrTokenExpired)
}

func TestSignerRejectsForeignSecret(t *testing.T) {
	token, _, err := NewSigner("secret-a", time.Hour).Generate("boletim.csv")
	require.NoError(t, err)

	_, err = NewSigner("secret-b", time.Hour).Parse(token)
	require.ErrorIs(t, err, ErrTokenInvalid)
}
