package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestJWTRoundTrip(t *testing.T) {
	m := NewJWTManager("secret", time.Hour)

	token, err := m.GenerateJWT("user-1")
	require.NoError(t, err)

	sub, err := m.ValidateJWT(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", sub)
}

func TestJWTRejectsOtherSecret(t *testing.T) {
	token, err := NewJWTManager("secret", time.Hour).GenerateJWT("user-1")
	require.NoError(t, err)

	_, err = NewJWTManager("another", time.Hour).ValidateJWT(token)
	assert.Error(t, err)
}

func TestJWTRejectsExpired(t *testing.T) {
	m := NewJWTManager("secret", time.Minute)
	issued := time.Now().Add(-time.Hour)
	m.now = func() time.Time { return issued }
	token, err := m.GenerateJWT("user-1")
	require.NoError(t, err)

	m.now = time.Now
	_, err = m.ValidateJWT(token)
	assert.Error(t, err)
}

func TestPasswordHash(t *testing.T) {
	hash, err := HashPassword("hunter2", bcrypt.MinCost)
	require.NoError(t, err)

	assert.True(t, CheckPasswordHash("hunter2", hash))
	assert.False(t, CheckPasswordHash("hunter3", hash))
}
