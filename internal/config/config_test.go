package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearConfigEnv unsets all config env vars so tests start clean.
func clearConfigEnv(t *testing.T) {
	t.Helper()

	for _, key := range []string{
		"SERVER_WS_URL",
		"NOTIFICATION_API_URL",
		"USER_ID",
		"AUTH_TOKEN",
		"ENVIRONMENT",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

// setValidEnv sets the minimum env vars for a valid config.
func setValidEnv(t *testing.T) {
	t.Helper()
	t.Setenv("SERVER_WS_URL", "wss://sync.example.com/ws")
	t.Setenv("NOTIFICATION_API_URL", "https://api.example.com")
	t.Setenv("USER_ID", "user-42")
}

func TestLoad_Valid(t *testing.T) {
	clearConfigEnv(t)
	setValidEnv(t)
	t.Setenv("AUTH_TOKEN", "tok-abc")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "wss://sync.example.com/ws", cfg.ServerWSURL)
	assert.Equal(t, "https://api.example.com", cfg.NotificationAPIURL)
	assert.Equal(t, "user-42", cfg.UserID)
	assert.Equal(t, "tok-abc", cfg.AuthToken)
	assert.Equal(t, "development", cfg.Environment) // default
}

func TestLoad_MissingServerURL(t *testing.T) {
	clearConfigEnv(t)
	setValidEnv(t)
	os.Unsetenv("SERVER_WS_URL")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SERVER_WS_URL")
}

func TestLoad_NonWebsocketScheme(t *testing.T) {
	clearConfigEnv(t)
	setValidEnv(t)
	t.Setenv("SERVER_WS_URL", "https://sync.example.com/ws")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ws or wss")
}

func TestLoad_MissingNotificationAPIURL(t *testing.T) {
	clearConfigEnv(t)
	setValidEnv(t)
	os.Unsetenv("NOTIFICATION_API_URL")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "NOTIFICATION_API_URL")
}

func TestLoad_MissingUserID(t *testing.T) {
	clearConfigEnv(t)
	setValidEnv(t)
	os.Unsetenv("USER_ID")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "USER_ID")
}

func TestLoad_AuthTokenOptional(t *testing.T) {
	clearConfigEnv(t)
	setValidEnv(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Empty(t, cfg.AuthToken)
}

func TestIsProduction(t *testing.T) {
	clearConfigEnv(t)
	setValidEnv(t)
	t.Setenv("ENVIRONMENT", "production")

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.IsProduction())
}

func TestIsProduction_Development(t *testing.T) {
	clearConfigEnv(t)
	setValidEnv(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.False(t, cfg.IsProduction())
}
