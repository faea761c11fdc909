package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"AUTH_JWT_SECRET", "SERVER_PORT", "KV_ENABLED", "KV_ADDR",
		"GO_ENV", "LOG_LEVEL", "AUTH_SKIP_AUTH",
	} {
		orig, had := os.LookupEnv(key)
		os.Unsetenv(key)
		t.Cleanup(func() {
			if had {
				os.Setenv(key, orig)
			}
		})
	}
}

func TestLoadValidConfiguration(t *testing.T) {
	clearEnv(t)
	os.Setenv("AUTH_JWT_SECRET", "this-is-a-very-long-secret-key-for-testing-purposes")
	os.Setenv("SERVER_PORT", "8080")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "production", cfg.GoEnv)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "1000-M", cfg.Server.RateLimits.Global)
}

func TestLoadMissingJWTSecret(t *testing.T) {
	clearEnv(t)
	os.Setenv("SERVER_PORT", "8080")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "auth.jwt_secret is required")
}

func TestLoadShortJWTSecret(t *testing.T) {
	clearEnv(t)
	os.Setenv("AUTH_JWT_SECRET", "short")
	os.Setenv("SERVER_PORT", "8080")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be at least 32 characters")
}

func TestLoadSkipAuthAllowsEmptySecret(t *testing.T) {
	clearEnv(t)
	os.Setenv("SERVER_PORT", "8080")
	os.Setenv("AUTH_SKIP_AUTH", "true")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.True(t, cfg.Auth.SkipAuth)
}

func TestLoadInvalidPort(t *testing.T) {
	clearEnv(t)
	os.Setenv("AUTH_JWT_SECRET", "this-is-a-very-long-secret-key-for-testing-purposes")
	os.Setenv("SERVER_PORT", "99999")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.port must be a valid port number")
}

func TestLoadInvalidKVAddr(t *testing.T) {
	clearEnv(t)
	os.Setenv("AUTH_JWT_SECRET", "this-is-a-very-long-secret-key-for-testing-purposes")
	os.Setenv("SERVER_PORT", "8080")
	os.Setenv("KV_ENABLED", "true")
	os.Setenv("KV_ADDR", "invalid-format")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kv.addr must be in format 'host:port'")
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	os.Setenv("AUTH_JWT_SECRET", "this-is-a-very-long-secret-key-for-testing-purposes")
	os.Setenv("SERVER_PORT", "8080")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, int64(64<<20), cfg.Cache.Tier1MaxBytes)
	assert.Equal(t, 4, cfg.Pipeline.WorkersHigh)
	assert.Equal(t, "localhost:6379", cfg.KV.Addr)
}

func TestRedactSecret(t *testing.T) {
	tests := []struct {
		name     string
		secret   string
		expected string
	}{
		{"Long secret", "this-is-a-very-long-secret-key", "this-is-***"},
		{"Short secret", "short", "***"},
		{"Exactly 8 chars", "12345678", "***"},
		{"9 chars", "123456789", "12345678***"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, RedactSecret(tt.secret))
		})
	}
}

func TestIsValidHostPort(t *testing.T) {
	tests := []struct {
		name     string
		addr     string
		expected bool
	}{
		{"Valid localhost", "localhost:8080", true},
		{"Valid IP", "127.0.0.1:3000", true},
		{"Missing port", "localhost", false},
		{"Missing host", ":8080", false},
		{"Invalid port", "localhost:99999", false},
		{"Non-numeric port", "localhost:abc", false},
		{"Empty string", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, isValidHostPort(tt.addr))
		})
	}
}
