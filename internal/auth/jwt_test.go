package auth_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tishiu/summa/internal/auth"
)

func TestGenerateAndValidateJWTRoundTrips(t *testing.T) {
	secret := []byte("test-secret")
	token, err := auth.GenerateJWT("user-1", "org-1", time.Hour, secret)
	require.NoError(t, err)

	claims, err := auth.ValidateJWT(token, secret)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, "org-1", claims.OrgID)
}

func TestValidateJWTRejectsWrongSecret(t *testing.T) {
	token, err := auth.GenerateJWT("user-1", "org-1", time.Hour, []byte("secret-a"))
	require.NoError(t, err)

	_, err = auth.ValidateJWT(token, []byte("secret-b"))
	assert.Error(t, err)
}

func TestValidateJWTRejectsExpiredToken(t *testing.T) {
	token, err := auth.GenerateJWT("user-1", "org-1", -time.Hour, []byte("secret"))
	require.NoError(t, err)

	_, err = auth.ValidateJWT(token, []byte("secret"))
	assert.Error(t, err)
}

func TestValidateJWTRejectsGarbage(t *testing.T) {
	_, err := auth.ValidateJWT("not-a-jwt", []byte("secret"))
	assert.Error(t, err)
}

func TestComputeKeyHashIsDeterministicAndSecretDependent(t *testing.T) {
	a, err := auth.ComputeKeyHash([]byte("secret-a"), "api-key-1")
	require.NoError(t, err)
	b, err := auth.ComputeKeyHash([]byte("secret-a"), "api-key-1")
	require.NoError(t, err)
	c, err := auth.ComputeKeyHash([]byte("secret-b"), "api-key-1")
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestFromContextFailsWithoutPrincipal(t *testing.T) {
	_, err := auth.FromContext(context.Background())
	assert.Error(t, err)
}
