package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the relay server settings.
type Config struct {
	Port           string
	Environment    string
	AllowedOrigins []string
	// UniqueNames rejects logins whose display name is already registered
	// by another connection.
	UniqueNames bool
	Redis       RedisConfig
}

type RedisConfig struct {
	Enabled   bool
	Host      string
	Port      string
	Password  string
	DB        int
	RosterKey string
}

// PeerConfig holds the client settings. Command-line flags override it.
type PeerConfig struct {
	SignalingURL       string
	STUNURLs           []string
	TURN               TURNConfig
	NegotiationTimeout time.Duration
}

type TURNConfig struct {
	URL        string
	Username   string
	Credential string
}

func Load() *Config {
	// Parse allowed origins (comma-separated)
	origins := splitList(getEnv("ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:5173"))

	return &Config{
		Port:           getEnv("PORT", "8080"),
		Environment:    getEnv("ENVIRONMENT", "development"),
		AllowedOrigins: origins,
		UniqueNames:    getEnvBool("PRESENCE_UNIQUE_NAMES", false),
		Redis: RedisConfig{
			Enabled:   getEnvBool("REDIS_ENABLED", false),
			Host:      getEnv("REDIS_HOST", "localhost"),
			Port:      getEnv("REDIS_PORT", "6379"),
			Password:  getEnv("REDIS_PASSWORD", ""),
			DB:        getEnvInt("REDIS_DB", 0),
			RosterKey: getEnv("REDIS_ROSTER_KEY", "presence:roster"),
		},
	}
}

func LoadPeer() *PeerConfig {
	return &PeerConfig{
		SignalingURL: getEnv("SIGNALING_URL", "ws://localhost:8080/ws"),
		STUNURLs:     splitList(getEnv("STUN_URLS", "stun:stun.l.google.com:19302")),
		TURN: TURNConfig{
			URL:        getEnv("TURN_URL", ""),
			Username:   getEnv("TURN_USERNAME", ""),
			Credential: getEnv("TURN_CREDENTIAL", ""),
		},
		NegotiationTimeout: getEnvDuration("NEGOTIATION_TIMEOUT", 0),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	v, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return v
}

func getEnvInt(key string, defaultValue int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return v
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	v, err := time.ParseDuration(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return v
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
