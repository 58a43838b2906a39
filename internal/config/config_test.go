package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("APP_ENV", "test")
	t.Setenv("APP_PORT", "8080")
	t.Setenv("DB_USER", "clinic")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", "3306")
	t.Setenv("DB_NAME", "clinic")
	t.Setenv("JWT_SECRET", "0123456789abcdef0123456789abcdef")
	t.Setenv("ACCESS_TOKEN_TTL_MIN", "15")
	t.Setenv("REFRESH_TOKEN_TTL_DAYS", "7")
	t.Setenv("BCRYPT_COST", "10")
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, 15, cfg.AccessTTLMin)
	assert.Equal(t, 5, cfg.Chat.HistoryLimit)
	assert.Equal(t, 20*time.Millisecond, cfg.Chat.ChunkDelay)
	assert.Equal(t, 60*time.Second, cfg.Chat.SyncTimeout)
	assert.Equal(t, 500, cfg.Chat.MaxNotesLength)
	assert.Equal(t, 3*time.Second, cfg.Chat.PublishTimeout)
	assert.Equal(t, "http", cfg.Generator.Backend)
	assert.Equal(t, []string{"http://localhost:5173"}, cfg.CORSOrigins)
	assert.False(t, cfg.IsDev())
}

func TestLoad_ReportsEveryMissingKey(t *testing.T) {
	setRequired(t)
	t.Setenv("DB_HOST", "")
	t.Setenv("BCRYPT_COST", "ten")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DB_HOST")
	assert.Contains(t, err.Error(), "BCRYPT_COST")
}

func TestLoad_ShortJWTSecret(t *testing.T) {
	setRequired(t)
	t.Setenv("JWT_SECRET", "short")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_SECRET")
}

func TestLoadRateLimitProfiles(t *testing.T) {
	t.Setenv("CHAT_RATE_LIMIT_BURST", "3")
	t.Setenv("AUTH_RATE_LIMIT_REFILL_EVERY", "12s")
	t.Setenv("AUTH_RATE_LIMIT_TTL", "1s")

	chat := LoadChatRateLimitConfig()
	assert.Equal(t, 3, chat.Capacity)
	assert.Equal(t, "rl:chat", chat.Prefix)
	assert.Equal(t, "user", chat.KeyStrategy)

	auth := LoadAuthRateLimitConfig()
	assert.Equal(t, 12*time.Second, auth.RefillInterval)
	assert.Equal(t, 60*time.Second, auth.TTL, "ttl is raised to five refill intervals")
}
