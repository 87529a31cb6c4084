package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "IM-Chat", cfg.AppName)
	assert.Equal(t, "postgres", cfg.Database.Type)
	assert.Equal(t, 5*time.Second, cfg.Database.OpTimeout)
	assert.Equal(t, 24*time.Hour, cfg.Auth.JWTExpiry)
	assert.Equal(t, 30*24*time.Hour, cfg.Auth.RefreshExpiry)
	assert.Equal(t, 5, cfg.Auth.MaxFailedLogins)
	assert.Equal(t, 15*time.Minute, cfg.Auth.LockoutDuration)
	assert.Equal(t, 20, cfg.Pagination.ConversationPageSize)
	assert.Equal(t, 50, cfg.Pagination.MessagePageSize)
	assert.Equal(t, "/ws/chat", cfg.Server.WebSocketPath)
	assert.Equal(t, 3, cfg.Kafka.HandlerRetries)
	assert.Equal(t, 200*time.Millisecond, cfg.Kafka.HandlerBackoff)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("DATABASE_TYPE", "sqlite")
	t.Setenv("SECURITY_MESSAGE_ENCRYPTION_KEY", "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef")
	t.Setenv("AUTH_MAX_FAILED_LOGINS", "3")

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Database.Type)
	assert.Equal(t, 3, cfg.Auth.MaxFailedLogins)
	require.NoError(t, cfg.Validate())
}

func TestLoadConfig_YAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := []byte("API_SERVER:\n  PORT: \"9999\"\nPAGINATION:\n  MAX_PAGE_SIZE: 10\n")
	require.NoError(t, os.WriteFile(path, content, 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "9999", cfg.APIServer.Port)
	assert.Equal(t, 10, cfg.Pagination.MaxPageSize)
}

func TestConfig_Validate(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)

	cfg.Security.MessageEncryptionKey = ""
	assert.Error(t, cfg.Validate())

	cfg.Security.MessageEncryptionKey = "passphrase"
	cfg.Database.Type = "mongo"
	assert.Error(t, cfg.Validate())

	cfg.Database.Type = "sqlite"
	assert.NoError(t, cfg.Validate())
}

func TestPaginationConfig_PageSize(t *testing.T) {
	p := PaginationConfig{MaxPageSize: 100}
	assert.Equal(t, 20, p.PageSize(0, 20))
	assert.Equal(t, 20, p.PageSize(-3, 20))
	assert.Equal(t, 35, p.PageSize(35, 20))
	assert.Equal(t, 100, p.PageSize(500, 20))
}
