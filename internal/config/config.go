package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port          string `env:"PORT"`
	LogLevel      string `env:"LOG_LEVEL"`
	DatabaseURL   string `env:"DATABASE_URL,secret"`
	RedisURL      string `env:"REDIS_URL,secret"`
	JWTPrivateKey string `env:"JWT_PRIVATE_KEY,secret"`
	JWTPublicKey  string `env:"JWT_PUBLIC_KEY,secret"`

	// Room pipeline timing.
	BroadcastDebounce    time.Duration `env:"BROADCAST_DEBOUNCE"`
	SyncDebounce         time.Duration `env:"SYNC_DEBOUNCE"`
	JoinTimeout          time.Duration `env:"JOIN_TIMEOUT"`
	FinalizationDeadline time.Duration `env:"FINALIZATION_DEADLINE"`
	SyncRetryInitial     time.Duration `env:"SYNC_RETRY_INITIAL"`
	SyncRetryMax         time.Duration `env:"SYNC_RETRY_MAX"`
	SyncRetryJitter      float64       `env:"SYNC_RETRY_JITTER"`

	// Connection keepalive and cache lifetimes.
	PingInterval time.Duration `env:"PING_INTERVAL"`
	PingTimeout  time.Duration `env:"PING_TIMEOUT"`
	CursorTTL    time.Duration `env:"CURSOR_TTL"`
	RoomCacheTTL time.Duration `env:"ROOM_CACHE_TTL"`
}

// Load loads configuration from environment variables
func Load() *Config {
	cfg := &Config{
		Port:          getEnv("PORT", "8080"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		DatabaseURL:   getEnv("DATABASE_URL", ""),
		RedisURL:      getEnv("REDIS_URL", ""),
		JWTPrivateKey: getEnv("JWT_PRIVATE_KEY", ""),
		JWTPublicKey:  getEnv("JWT_PUBLIC_KEY", ""),

		BroadcastDebounce:    getDuration("BROADCAST_DEBOUNCE", 500*time.Millisecond),
		SyncDebounce:         getDuration("SYNC_DEBOUNCE", 30*time.Second),
		JoinTimeout:          getDuration("JOIN_TIMEOUT", 10*time.Second),
		FinalizationDeadline: getDuration("FINALIZATION_DEADLINE", 60*time.Second),
		SyncRetryInitial:     getDuration("SYNC_RETRY_INITIAL", time.Second),
		SyncRetryMax:         getDuration("SYNC_RETRY_MAX", 30*time.Second),
		SyncRetryJitter:      getFloat("SYNC_RETRY_JITTER", 0.2),

		PingInterval: getDuration("PING_INTERVAL", 25*time.Second),
		PingTimeout:  getDuration("PING_TIMEOUT", 60*time.Second),
		CursorTTL:    getDuration("CURSOR_TTL", 30*time.Second),
		RoomCacheTTL: getDuration("ROOM_CACHE_TTL", 24*time.Hour),
	}

	return cfg
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getFloat(key string, defaultValue float64) float64 {
	if value, exists := os.LookupEnv(key); exists {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}
