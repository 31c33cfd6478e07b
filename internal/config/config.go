// Package config loads service configuration from the environment,
// optionally seeded from a .env file.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

type ServerConfig struct {
	Port            string
	ShutdownTimeout time.Duration
}

type DatabaseConfig struct {
	URL string
}

type AuthConfig struct {
	JWTSecret string
	TokenTTL  time.Duration
}

type MediaConfig struct {
	ProviderURL    string
	ProviderAPIKey string
	VerifierURL    string
	RequestTimeout time.Duration
}

type SessionConfig struct {
	MaxParticipants        int
	MonitorInterval        time.Duration
	CollectionTimeout      time.Duration
	MaxConsecutiveFailures int
	RoomCreateRetries      int
	RoomCreateBackoff      time.Duration
	MaxWindowSamples       int
	MaxPacketLossPct       float64
	MinBitrateKbps         float64
	EscalateAfterCount     int
}

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Auth     AuthConfig
	Media    MediaConfig
	Session  SessionConfig
}

// Load reads configuration from the environment. A missing .env file is
// not an error; missing required variables are.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnv("PORT", "8080"),
			ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 15*time.Second),
		},
		Database: DatabaseConfig{
			URL: os.Getenv("DATABASE_URL"),
		},
		Auth: AuthConfig{
			JWTSecret: os.Getenv("JWT_SECRET"),
			TokenTTL:  getEnvDuration("TOKEN_TTL", time.Hour),
		},
		Media: MediaConfig{
			ProviderURL:    os.Getenv("MEDIA_PROVIDER_URL"),
			ProviderAPIKey: os.Getenv("MEDIA_PROVIDER_API_KEY"),
			VerifierURL:    os.Getenv("ENCRYPTION_VERIFIER_URL"),
			RequestTimeout: getEnvDuration("MEDIA_REQUEST_TIMEOUT", 10*time.Second),
		},
		Session: SessionConfig{
			MaxParticipants:        getEnvInt("SESSION_MAX_PARTICIPANTS", 2),
			MonitorInterval:        getEnvDuration("MONITOR_INTERVAL", 5*time.Second),
			CollectionTimeout:      getEnvDuration("COLLECTION_TIMEOUT", 4*time.Second),
			MaxConsecutiveFailures: getEnvInt("MONITOR_MAX_FAILURES", 3),
			RoomCreateRetries:      getEnvInt("ROOM_CREATE_RETRIES", 3),
			RoomCreateBackoff:      getEnvDuration("ROOM_CREATE_BACKOFF", 500*time.Millisecond),
			MaxWindowSamples:       getEnvInt("METRICS_WINDOW_SAMPLES", 60),
			MaxPacketLossPct:       getEnvFloat("ALERT_MAX_PACKET_LOSS_PCT", 3.0),
			MinBitrateKbps:         getEnvFloat("ALERT_MIN_BITRATE_KBPS", 250),
			EscalateAfterCount:     getEnvInt("ALERT_ESCALATE_AFTER", 3),
		},
	}

	if cfg.Auth.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}
	if cfg.Media.ProviderURL == "" {
		return nil, errors.New("MEDIA_PROVIDER_URL is required")
	}
	if cfg.Media.VerifierURL == "" {
		return nil, errors.New("ENCRYPTION_VERIFIER_URL is required")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
