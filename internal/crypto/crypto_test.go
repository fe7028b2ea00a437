package crypto

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestJWTIssueAndVerify(t *testing.T) {
	t.Parallel()

	m, err := NewJWTManager("test-secret", time.Hour)
	require.NoError(t, err)

	token, err := m.IssueToken("acct-1", "Alice")
	require.NoError(t, err)

	claims, err := m.VerifyToken(token)
	require.NoError(t, err)
	require.Equal(t, "acct-1", claims.Subject)
	require.Equal(t, "Alice", claims.DisplayName)
}

func TestJWTRejectsWrongSecret(t *testing.T) {
	t.Parallel()

	issuer, err := NewJWTManager("secret-a", time.Hour)
	require.NoError(t, err)
	verifier, err := NewJWTManager("secret-b", time.Hour)
	require.NoError(t, err)

	token, err := issuer.IssueToken("acct-1", "Alice")
	require.NoError(t, err)

	_, err = verifier.VerifyToken(token)
	require.Error(t, err)
}

func TestJWTRejectsExpired(t *testing.T) {
	t.Parallel()

	m, err := NewJWTManager("test-secret", time.Millisecond)
	require.NoError(t, err)

	token, err := m.IssueToken("acct-1", "Alice")
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)
	_, err = m.VerifyToken(token)
	require.Error(t, err)
}

func TestNewJoinCode(t *testing.T) {
	t.Parallel()

	const alphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		code, err := NewJoinCode(6)
		require.NoError(t, err)
		require.Len(t, code, 6)
		for _, r := range code {
			require.True(t, strings.ContainsRune(alphabet, r), "unexpected rune %q", r)
		}
		seen[code] = true
	}
	// Not a uniqueness guarantee, but 100 collisions would mean a broken
	// generator.
	require.Greater(t, len(seen), 90)
}
