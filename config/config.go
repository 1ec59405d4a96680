package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server configuration
	Port        string
	Environment string

	// Redis configuration
	RedisURL      string
	RedisPassword string
	RedisDB       int

	// PubNub configuration
	PubNubPublishKey   string
	PubNubSubscribeKey string
	PubNubSecretKey    string

	// Voice provider configuration
	RetellAPIKey  string
	RetellBaseURL string
	RetellAgentID string

	// Admission configuration
	MaxConcurrency      int
	ReservationWindow   time.Duration
	WaitingTTL          time.Duration // 0 disables the stale-waiting sweep
	WaitingListLimit    int
	SweepInterval       time.Duration
	QueuePositionUpdate time.Duration

	// Storage
	SQLitePath string

	// Monitoring
	EnableMetrics bool
	MetricsPort   string
}

func LoadConfig() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment")
	}

	return &Config{
		// Server
		Port:        getEnv("PORT", "8090"),
		Environment: getEnv("ENVIRONMENT", "development"),

		// Redis
		RedisURL:      getEnv("REDIS_URL", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),

		// PubNub
		PubNubPublishKey:   getEnv("PUBNUB_PUBLISH_KEY", ""),
		PubNubSubscribeKey: getEnv("PUBNUB_SUBSCRIBE_KEY", ""),
		PubNubSecretKey:    getEnv("PUBNUB_SECRET_KEY", ""),

		// Voice provider
		RetellAPIKey:  getEnv("RETELL_API_KEY", ""),
		RetellBaseURL: getEnv("RETELL_BASE_URL", ""),
		RetellAgentID: getEnv("RETELL_AGENT_ID", ""),

		// Admission
		MaxConcurrency:      getEnvAsInt("MAX_CONCURRENCY", 10),
		ReservationWindow:   getEnvAsDuration("RESERVATION_WINDOW", "5m"),
		WaitingTTL:          getEnvAsDuration("WAITING_TTL", "30m"),
		WaitingListLimit:    getEnvAsInt("WAITING_LIST_LIMIT", 50),
		SweepInterval:       getEnvAsDuration("SWEEP_INTERVAL", "60s"),
		QueuePositionUpdate: getEnvAsDuration("QUEUE_POSITION_UPDATE", "2s"),

		// Storage
		SQLitePath: getEnv("SQLITE_PATH", "data/interviews.db"),

		// Monitoring
		EnableMetrics: getEnvAsBool("ENABLE_METRICS", true),
		MetricsPort:   getEnv("METRICS_PORT", "9090"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue string) time.Duration {
	valueStr := getEnv(key, defaultValue)
	if duration, err := time.ParseDuration(valueStr); err == nil {
		return duration
	}
	// If parsing fails, try to parse default value
	duration, _ := time.ParseDuration(defaultValue)
	return duration
}
