package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoad_Defaults(t *testing.T) {
	for _, k := range []string{"PORT", "ENVIRONMENT", "ALLOWED_ORIGINS", "PRESENCE_UNIQUE_NAMES", "REDIS_ENABLED", "REDIS_DB", "REDIS_ROSTER_KEY"} {
		t.Setenv(k, "")
	}

	cfg := Load()

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, []string{"http://localhost:3000", "http://localhost:5173"}, cfg.AllowedOrigins)
	assert.False(t, cfg.UniqueNames)
	assert.False(t, cfg.Redis.Enabled)
	assert.Equal(t, 0, cfg.Redis.DB)
	assert.Equal(t, "presence:roster", cfg.Redis.RosterKey)
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("ALLOWED_ORIGINS", " https://a.example , ,https://b.example")
	t.Setenv("PRESENCE_UNIQUE_NAMES", "true")
	t.Setenv("REDIS_ENABLED", "1")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("REDIS_ROSTER_KEY", "lobby")

	cfg := Load()

	assert.Equal(t, "9000", cfg.Port)
	assert.Equal(t, "production", cfg.Environment)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
	assert.True(t, cfg.UniqueNames)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, 3, cfg.Redis.DB)
	assert.Equal(t, "lobby", cfg.Redis.RosterKey)
}

func TestLoad_InvalidValuesFallBack(t *testing.T) {
	t.Setenv("PRESENCE_UNIQUE_NAMES", "maybe")
	t.Setenv("REDIS_DB", "three")

	cfg := Load()

	assert.False(t, cfg.UniqueNames)
	assert.Equal(t, 0, cfg.Redis.DB)
}

func TestLoadPeer(t *testing.T) {
	t.Setenv("SIGNALING_URL", "")
	t.Setenv("STUN_URLS", "stun:one.example:3478,stun:two.example:3478")
	t.Setenv("TURN_URL", "turn:turn.example:3478")
	t.Setenv("TURN_USERNAME", "user")
	t.Setenv("TURN_CREDENTIAL", "secret")
	t.Setenv("NEGOTIATION_TIMEOUT", "30s")

	cfg := LoadPeer()

	assert.Equal(t, "ws://localhost:8080/ws", cfg.SignalingURL)
	assert.Equal(t, []string{"stun:one.example:3478", "stun:two.example:3478"}, cfg.STUNURLs)
	assert.Equal(t, TURNConfig{URL: "turn:turn.example:3478", Username: "user", Credential: "secret"}, cfg.TURN)
	assert.Equal(t, 30*time.Second, cfg.NegotiationTimeout)
}

func TestLoadPeer_Defaults(t *testing.T) {
	t.Setenv("STUN_URLS", "")
	t.Setenv("TURN_URL", "")
	t.Setenv("NEGOTIATION_TIMEOUT", "soon")

	cfg := LoadPeer()

	assert.Equal(t, []string{"stun:stun.l.google.com:19302"}, cfg.STUNURLs)
	assert.Empty(t, cfg.TURN.URL)
	assert.Zero(t, cfg.NegotiationTimeout)
}
