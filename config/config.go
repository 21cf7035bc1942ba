package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port           string
	Environment    string
	AllowedOrigins []string
	JWTSecret      string
	JWTTTL         time.Duration

	// TokenSecret keys the room-scoped capability token signatures.
	TokenSecret string
	TokenTTL    time.Duration

	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	SweepInterval     time.Duration
	RoomIdleGrace     time.Duration
	RoomInactivityMax time.Duration

	MemoryCheckInterval time.Duration
	MemoryWarningMB     int
	MemoryCriticalMB    int

	Redis RedisConfig
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

func Load() *Config {
	// Parse allowed origins (comma-separated)
	originsStr := getEnv("ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:5173")
	origins := strings.Split(originsStr, ",")

	return &Config{
		Port:           getEnv("PORT", "8080"),
		Environment:    getEnv("ENVIRONMENT", "development"),
		AllowedOrigins: origins,
		JWTSecret:      getEnv("JWT_SECRET", "change-me-in-production"),
		JWTTTL:         getDuration("JWT_TTL", 24*time.Hour),

		TokenSecret: getEnv("TOKEN_SECRET", "change-me-in-production"),
		TokenTTL:    getDuration("TOKEN_TTL", time.Hour),

		HeartbeatInterval: getDuration("HEARTBEAT_INTERVAL", 30*time.Second),
		HeartbeatTimeout:  getDuration("HEARTBEAT_TIMEOUT", 5*time.Minute),
		SweepInterval:     getDuration("SWEEP_INTERVAL", time.Minute),
		RoomIdleGrace:     getDuration("ROOM_IDLE_GRACE", 5*time.Minute),
		RoomInactivityMax: getDuration("ROOM_INACTIVITY_MAX", 3*time.Hour),

		MemoryCheckInterval: getDuration("MEMORY_CHECK_INTERVAL", 30*time.Second),
		MemoryWarningMB:     getInt("MEMORY_WARNING_MB", 200),
		MemoryCriticalMB:    getInt("MEMORY_CRITICAL_MB", 300),

		Redis: RedisConfig{
			// Presence mirroring is disabled when no address is set.
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getInt("REDIS_DB", 0),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}
