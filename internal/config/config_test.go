package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tishiu/summa/internal/config"
)

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "USD", cfg.Currency)
	assert.Equal(t, "summa", cfg.Schema)
	assert.Equal(t, config.LockModeWait, cfg.Advanced.LockMode)
	assert.Equal(t, 10*time.Second, cfg.Advanced.TransactionTimeout)
	assert.Equal(t, "8080", cfg.ServerPort)
	assert.Equal(t, "@world", cfg.SystemAccounts.World)
}

func TestLoadOverridesFromEnv(t *testing.T) {
	t.Setenv("SUMMA_SCHEMA", "custom_schema")
	t.Setenv("SUMMA_CURRENCY", "EUR")
	t.Setenv("SUMMA_ADVANCED_LOCK_MODE", "nowait")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "custom_schema", cfg.Schema)
	assert.Equal(t, "EUR", cfg.Currency)
	assert.Equal(t, config.LockModeNoWait, cfg.Advanced.LockMode)
}

func TestLoadDerivesSecretsAsBytes(t *testing.T) {
	t.Setenv("SUMMA_JWT_SECRET", "jwt-test-secret")
	t.Setenv("SUMMA_API_KEY_SECRET", "api-test-secret")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, []byte("jwt-test-secret"), cfg.JWTSecret)
	assert.Equal(t, []byte("api-test-secret"), cfg.APIKeySecret)
}
