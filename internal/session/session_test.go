package session

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signedToken(t *testing.T, sub string, exp time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   sub,
		ExpiresAt: jwt.NewNumericDate(exp),
	})
	signed, err := token.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return signed
}

func TestSessionValid(t *testing.T) {
	now := time.Now()

	assert.ErrorIs(t, Session{}.Valid(now), ErrNoSession)
	assert.NoError(t, Session{UserID: 1, Token: "opaque"}.Valid(now))
	assert.NoError(t, Session{UserID: 7, Token: signedToken(t, "7", now.Add(time.Hour))}.Valid(now))
	assert.ErrorIs(t, Session{UserID: 7, Token: signedToken(t, "7", now.Add(-time.Minute))}.Valid(now), ErrSessionExpired)
	assert.ErrorIs(t, Session{UserID: 7, Token: signedToken(t, "8", now.Add(time.Hour))}.Valid(now), ErrSubjectMismatch)
}

func TestStoreRoundTrip(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "nested", "session.json"))

	_, err := store.Load()
	require.ErrorIs(t, err, ErrNoSession)

	require.NoError(t, store.Save(Session{UserID: 3, Token: "tok", Username: "ann"}))
	sess, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, Session{UserID: 3, Token: "tok", Username: "ann"}, sess)

	require.NoError(t, store.Clear())
	require.NoError(t, store.Clear())
	_, err = store.Load()
	require.ErrorIs(t, err, ErrNoSession)
}
