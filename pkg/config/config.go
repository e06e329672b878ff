package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	ServerPort      string
	FirebaseProject string
	Environment     string

	FirebaseCredentialsJSON string
	FirebaseCredentialsPath string

	// StoreDriver selects the document store backend: "firestore" or "memory".
	StoreDriver string
	RedisURL    string

	MessagePageSize   int
	PresenceHeartbeat time.Duration
	TypingDebounce    time.Duration
	TypingExpiry      time.Duration

	RateLimitPerMinute int
	BreakerMaxFailures uint32
	BreakerTimeout     time.Duration
}

func Load() (*Config, error) {
	godotenv.Load()

	config := &Config{
		ServerPort:      getEnv("SERVER_PORT", "8080"),
		FirebaseProject: getEnv("FIREBASE_PROJECT_ID", ""),
		Environment:     getEnv("ENVIRONMENT", "development"),

		FirebaseCredentialsJSON: getEnv("FIREBASE_SERVICE_ACCOUNT_JSON", ""),
		FirebaseCredentialsPath: getEnv("FIREBASE_SERVICE_ACCOUNT_PATH", ""),

		StoreDriver: getEnv("STORE_DRIVER", "firestore"),
		RedisURL:    getEnv("REDIS_URL", ""),

		MessagePageSize:   int(getEnvAsInt64("MESSAGE_PAGE_SIZE", 30)),
		PresenceHeartbeat: time.Duration(getEnvAsInt64("PRESENCE_HEARTBEAT_SECONDS", 30)) * time.Second,
		TypingDebounce:    time.Duration(getEnvAsInt64("TYPING_DEBOUNCE_MS", 300)) * time.Millisecond,
		TypingExpiry:      time.Duration(getEnvAsInt64("TYPING_EXPIRY_MS", 5000)) * time.Millisecond,

		RateLimitPerMinute: int(getEnvAsInt64("RATE_LIMIT_PER_MINUTE", 120)),
		BreakerMaxFailures: uint32(getEnvAsInt64("BREAKER_MAX_FAILURES", 5)),
		BreakerTimeout:     time.Duration(getEnvAsInt64("BREAKER_TIMEOUT_SECONDS", 30)) * time.Second,
	}

	return config, nil
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value, exists := os.LookupEnv(key); exists {
		intValue, err := strconv.ParseInt(value, 10, 64)
		if err == nil {
			return intValue
		}
	}
	return defaultValue
}
