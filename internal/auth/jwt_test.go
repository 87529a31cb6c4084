package auth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"im-chat/internal/apperr"
	"im-chat/internal/config"
)

type memoryBlacklist struct {
	mu   sync.Mutex
	jtis map[string]time.Time
	err  error
}

func newMemoryBlacklist() *memoryBlacklist {
	return &memoryBlacklist{jtis: make(map[string]time.Time)}
}

func (b *memoryBlacklist) Add(_ context.Context, jti string, exp time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.jtis[jti] = exp
	return nil
}

func (b *memoryBlacklist) IsBlacklisted(_ context.Context, jti string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return false, b.err
	}
	_, ok := b.jtis[jti]
	return ok, nil
}

func testAuthConfig() config.AuthConfig {
	return config.AuthConfig{
		JWTSecretKey:  "test-secret",
		JWTExpiry:     time.Hour,
		RefreshExpiry: 24 * time.Hour,
		TokenIssuer:   "im-chat-test",
	}
}

func TestIssueAndVerify(t *testing.T) {
	v := NewJWTVerifier(testAuthConfig(), newMemoryBlacklist())
	pair, err := v.IssuePair(42, "alice")
	require.NoError(t, err)

	claims, err := v.Verify(context.Background(), pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, uint(42), claims.UserID)
	assert.Equal(t, "alice", claims.Username)
	assert.Equal(t, AccessToken, claims.TokenType)
	assert.NotEmpty(t, claims.ID)

	refresh, err := v.VerifyRefresh(context.Background(), pair.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, RefreshToken, refresh.TokenType)
	assert.True(t, pair.RefreshExpiresAt.After(pair.AccessExpiresAt))
}

func TestVerifyRejectsWrongTokenType(t *testing.T) {
	v := NewJWTVerifier(testAuthConfig(), nil)
	pair, err := v.IssuePair(1, "bob")
	require.NoError(t, err)

	_, err = v.Verify(context.Background(), pair.RefreshToken)
	assert.ErrorIs(t, err, apperr.ErrAuth)
	_, err = v.VerifyRefresh(context.Background(), pair.AccessToken)
	assert.ErrorIs(t, err, apperr.ErrAuth)
}

func TestVerifyRejectsBadTokens(t *testing.T) {
	v := NewJWTVerifier(testAuthConfig(), nil)

	_, err := v.Verify(context.Background(), "")
	assert.ErrorIs(t, err, apperr.ErrInvalidToken)

	_, err = v.Verify(context.Background(), "not-a-jwt")
	assert.Equal(t, apperr.KindAuth, apperr.KindOf(err))

	other := testAuthConfig()
	other.JWTSecretKey = "other-secret"
	pair, err := NewJWTVerifier(other, nil).IssuePair(1, "bob")
	require.NoError(t, err)
	_, err = v.Verify(context.Background(), pair.AccessToken)
	assert.Equal(t, apperr.KindAuth, apperr.KindOf(err))
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	v := NewJWTVerifier(testAuthConfig(), nil)
	v.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	pair, err := v.IssuePair(1, "bob")
	require.NoError(t, err)

	v.now = time.Now
	_, err = v.Verify(context.Background(), pair.AccessToken)
	assert.Equal(t, apperr.KindAuth, apperr.KindOf(err))
}

func TestRevoke(t *testing.T) {
	bl := newMemoryBlacklist()
	v := NewJWTVerifier(testAuthConfig(), bl)
	pair, err := v.IssuePair(7, "carol")
	require.NoError(t, err)

	claims, err := v.Verify(context.Background(), pair.AccessToken)
	require.NoError(t, err)
	require.NoError(t, v.Revoke(context.Background(), claims))

	_, err = v.Verify(context.Background(), pair.AccessToken)
	assert.Equal(t, apperr.KindAuth, apperr.KindOf(err))

	bl.err = errors.New("redis down")
	_, err = v.VerifyRefresh(context.Background(), pair.RefreshToken)
	assert.Equal(t, apperr.KindStorage, apperr.KindOf(err))
}

func TestPasswordHash(t *testing.T) {
	hash, err := HashPassword("s3cret")
	require.NoError(t, err)
	assert.True(t, CheckPasswordHash("s3cret", hash))
	assert.False(t, CheckPasswordHash("wrong", hash))
	assert.False(t, CheckPasswordHash("s3cret", "not-a-bcrypt-hash"))

	_, err = HashPassword(strings.Repeat("x", MaxPasswordBytes+1))
	assert.ErrorIs(t, err, ErrPasswordTooLong)
	assert.Equal(t, apperr.KindInvalidArgument, apperr.KindOf(err))
}
