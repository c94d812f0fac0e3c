package auth

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devicehub-server/devicehub-server/internal/config"
	"github.com/devicehub-server/devicehub-server/internal/models"
	"github.com/devicehub-server/devicehub-server/pkg/crypto"
)

func testManager(ttl time.Duration) *JWTManager {
	return NewJWTManager(&config.JWTConfig{
		Secret:          "test-secret",
		AccessTokenTTL:  ttl,
		RefreshTokenTTL: time.Hour,
	})
}

func testUser() *models.User {
	return &models.User{
		ID:      uuid.New(),
		Email:   "operator@example.com",
		IsAdmin: true,
	}
}

func TestGenerateAndVerifyTokenPair(t *testing.T) {
	m := testManager(time.Minute)
	user := testUser()

	access, refresh, err := m.GenerateTokenPair(user)
	require.NoError(t, err)
	require.NotEmpty(t, access)
	require.NotEmpty(t, refresh)

	claims, err := m.VerifyToken(access)
	require.NoError(t, err)
	assert.Equal(t, user.ID, claims.UserID)
	assert.Equal(t, user.Email, claims.Email)
	assert.True(t, claims.IsAdmin)

	id, err := m.VerifyRefreshToken(refresh)
	require.NoError(t, err)
	assert.Equal(t, user.ID, id)
}

func TestVerifyTokenWrongSecret(t *testing.T) {
	access, _, err := testManager(time.Minute).GenerateTokenPair(testUser())
	require.NoError(t, err)

	other := NewJWTManager(&config.JWTConfig{
		Secret:          "different-secret",
		AccessTokenTTL:  time.Minute,
		RefreshTokenTTL: time.Hour,
	})
	_, err = other.VerifyToken(access)
	require.Error(t, err)
}

func TestVerifyExpiredToken(t *testing.T) {
	m := testManager(-time.Minute)

	access, _, err := m.GenerateTokenPair(testUser())
	require.NoError(t, err)

	_, err = m.VerifyToken(access)
	require.Error(t, err)
}

func TestVerifyGarbageToken(t *testing.T) {
	m := testManager(time.Minute)

	_, err := m.VerifyToken("not-a-token")
	require.Error(t, err)

	_, err = m.VerifyRefreshToken("not-a-token")
	require.Error(t, err)
}

func TestVerifyPassword(t *testing.T) {
	m := testManager(time.Minute)

	hash, err := crypto.HashPassword("hunter2")
	require.NoError(t, err)

	assert.True(t, m.VerifyPassword("hunter2", hash))
	assert.False(t, m.VerifyPassword("wrong", hash))
}
