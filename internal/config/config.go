package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	App    AppConfig
	Collab CollabConfig
	Relay  RelayConfig
	SMTP   SMTPConfig
}

type AppConfig struct {
	Environment string
	LogFilePath string
}

type CollabConfig struct {
	// Transport selects the peer backend: "channel" (in-process, no
	// broker), "redis" or "nats".
	Transport string
	RedisURL  string
	NatsURL   string
	// CachePath is the SQLite file backing the durable local cache.
	CachePath string

	IdleThreshold    time.Duration
	OfflineThreshold time.Duration
}

type RelayConfig struct {
	Port               string
	CorsAllowedOrigins string
	// JWTSecret enables token checks on the websocket handshake when set.
	JWTSecret string
}

type SMTPConfig struct {
	Host       string
	Port       int
	Email      string
	Password   string
	SenderName string
}

func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("Note: .env file not found, using system environment")
	}

	return &Config{
		App: AppConfig{
			Environment: getEnv("GO_ENV", "development"),
			LogFilePath: getEnv("LOG_FILE_PATH", "collab.log"),
		},
		Collab: CollabConfig{
			Transport:        getEnv("COLLAB_TRANSPORT", "channel"),
			RedisURL:         getEnv("REDIS_URL", "redis://localhost:6379"),
			NatsURL:          getEnv("NATS_URL", "nats://localhost:4222"),
			CachePath:        getEnv("COLLAB_CACHE_PATH", "collab-cache.db"),
			IdleThreshold:    getEnvAsDuration("PRESENCE_IDLE_THRESHOLD", 2*time.Minute),
			OfflineThreshold: getEnvAsDuration("PRESENCE_OFFLINE_THRESHOLD", 10*time.Minute),
		},
		Relay: RelayConfig{
			Port:               getEnv("RELAY_PORT", "8081"),
			CorsAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:5173"),
			JWTSecret:          getEnv("RELAY_JWT_SECRET", ""),
		},
		SMTP: SMTPConfig{
			Host:       getEnv("SMTP_HOST", ""),
			Port:       getEnvAsInt("SMTP_PORT", 587),
			Email:      getEnv("SMTP_EMAIL", ""),
			Password:   getEnv("SMTP_PASSWORD", ""),
			SenderName: getEnv("SMTP_SENDER_NAME", "Collab"),
		},
	}
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	strValue := getEnv(key, "")
	if value, err := strconv.Atoi(strValue); err == nil {
		return value
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	strValue := getEnv(key, "")
	if value, err := time.ParseDuration(strValue); err == nil {
		return value
	}
	return fallback
}
