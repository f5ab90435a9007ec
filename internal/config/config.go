package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the application.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	NewRelic  NewRelicConfig
	Auth      AuthConfig
	Wallet    WalletConfig
	Geo       GeoConfig
	Matching  MatchingConfig
	Hub       HubConfig
	RateLimit RateLimitConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port           string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	AllowedOrigins []string
}

// DatabaseConfig holds PostgreSQL configuration for the transition
// audit archive.
type DatabaseConfig struct {
	Enabled  bool
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// RedisConfig holds Redis configuration.
type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

// NewRelicConfig holds New Relic configuration.
type NewRelicConfig struct {
	AppName    string
	LicenseKey string
	Enabled    bool
}

// AuthConfig holds token verification configuration.
type AuthConfig struct {
	JWTSecret string
}

// WalletConfig holds wallet service client configuration.
type WalletConfig struct {
	BaseURL        string
	Timeout        time.Duration
	UseMock        bool
	DefaultBalance int64
}

// GeoConfig holds driver location index configuration.
type GeoConfig struct {
	Precision  int
	StaleAfter time.Duration
}

// MatchingConfig holds candidate search and retry configuration.
type MatchingConfig struct {
	InitialRadiusMeters float64
	MaxRadiusMeters     float64
	RadiusMultiplier    float64
	CandidateLimit      int
	MaxSearchAttempts   int
	RematchInterval     time.Duration
	OfferLockTTL        time.Duration
}

// HubConfig holds trip event stream configuration.
type HubConfig struct {
	QueueSize int
	Grace     time.Duration
}

// RateLimitConfig holds per-rider trip admission configuration.
type RateLimitConfig struct {
	Capacity        int
	RefillPerSecond float64
	IdleTTL         time.Duration
}

// Load loads configuration from environment variables.
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           getEnv("SERVER_PORT", "8080"),
			ReadTimeout:    getDurationEnv("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout:   getDurationEnv("SERVER_WRITE_TIMEOUT", 10*time.Second),
			AllowedOrigins: getSliceEnv("SERVER_ALLOWED_ORIGINS", []string{"http://localhost", "http://127.0.0.1"}),
		},
		Database: DatabaseConfig{
			Enabled:  getBoolEnv("DB_ENABLED", false),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "dispatch"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Enabled:  getBoolEnv("REDIS_ENABLED", false),
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getIntEnv("REDIS_DB", 0),
		},
		NewRelic: NewRelicConfig{
			AppName:    getEnv("NEW_RELIC_APP_NAME", "dispatch-service"),
			LicenseKey: getEnv("NEW_RELIC_LICENSE_KEY", ""),
			Enabled:    getBoolEnv("NEW_RELIC_ENABLED", false),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("JWT_SECRET", ""),
		},
		Wallet: WalletConfig{
			BaseURL:        getEnv("WALLET_BASE_URL", ""),
			Timeout:        getDurationEnv("WALLET_TIMEOUT", 5*time.Second),
			UseMock:        getBoolEnv("WALLET_USE_MOCK", true),
			DefaultBalance: int64(getIntEnv("WALLET_MOCK_DEFAULT_BALANCE", 100000)),
		},
		Geo: GeoConfig{
			Precision:  getIntEnv("GEO_PRECISION", 5),
			StaleAfter: getDurationEnv("GEO_STALE_AFTER", 30*time.Second),
		},
		Matching: MatchingConfig{
			InitialRadiusMeters: getFloatEnv("MATCHING_INITIAL_RADIUS_METERS", 3000),
			MaxRadiusMeters:     getFloatEnv("MATCHING_MAX_RADIUS_METERS", 12000),
			RadiusMultiplier:    getFloatEnv("MATCHING_RADIUS_MULTIPLIER", 2),
			CandidateLimit:      getIntEnv("MATCHING_CANDIDATE_LIMIT", 10),
			MaxSearchAttempts:   getIntEnv("MATCHING_MAX_SEARCH_ATTEMPTS", 5),
			RematchInterval:     getDurationEnv("MATCHING_REMATCH_INTERVAL", 2*time.Second),
			OfferLockTTL:        getDurationEnv("MATCHING_OFFER_LOCK_TTL", 10*time.Second),
		},
		Hub: HubConfig{
			QueueSize: getIntEnv("HUB_QUEUE_SIZE", 16),
			Grace:     getDurationEnv("HUB_TERMINAL_GRACE", 5*time.Second),
		},
		RateLimit: RateLimitConfig{
			Capacity:        getIntEnv("RATE_LIMIT_CAPACITY", 5),
			RefillPerSecond: getFloatEnv("RATE_LIMIT_REFILL_PER_SECOND", 0.5),
			IdleTTL:         getDurationEnv("RATE_LIMIT_IDLE_TTL", 10*time.Minute),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getSliceEnv(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return defaultValue
}
