package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

const (
	ModeSingle      = "single"
	ModeDistributed = "distributed"
)

type Config struct {
	App      AppConfig
	Database DatabaseConfig
	Chat     ChatConfig
	Tracing  TracingConfig
}

type TracingConfig struct {
	Enabled  bool
	Endpoint string
}

type AppConfig struct {
	Port               string
	Environment        string
	LogFilePath        string
	ChatLogFilePath    string
	CorsAllowedOrigins string
	NatsURL            string
	RedisURL           string
	JWTSecret          string
	// InstanceID tags cross-instance broadcasts so an instance can skip its own.
	InstanceID string
}

type DatabaseConfig struct {
	Connection string
}

type ChatConfig struct {
	Mode string // "single" or "distributed"

	MinParticipants  int
	SessionTTL       time.Duration
	PresenceEntryTTL time.Duration
	OfflineGrace     time.Duration
	StaleAfter       time.Duration
	TypingTTL        time.Duration
	HistoryLimit     int
	HistoryRetention time.Duration
	DeliveryDelay    time.Duration
	MaxMessageLength int
	InboundQueueSize int
}

func (c ChatConfig) Distributed() bool {
	return c.Mode == ModeDistributed
}

func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("Note: .env file not found, usage system environment")
	}

	mode := strings.ToLower(getEnv("CHAT_MODE", ModeSingle))
	if mode != ModeDistributed {
		mode = ModeSingle
	}

	return &Config{
		App: AppConfig{
			Port:               getEnv("APP_PORT", "3000"),
			Environment:        getEnv("GO_ENV", "development"),
			LogFilePath:        getEnv("LOG_FILE_PATH", "logs/app.log"),
			ChatLogFilePath:    getEnv("CHAT_LOG_FILE_PATH", "logs/chat.log"),
			CorsAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:5173"),
			NatsURL:            getEnv("NATS_URL", ""),
			RedisURL:           getEnv("REDIS_URL", "redis://localhost:6379"),
			JWTSecret:          getEnv("JWT_SECRET", ""),
			InstanceID:         getEnv("INSTANCE_ID", uuid.NewString()),
		},
		Database: DatabaseConfig{
			Connection: getEnv("DB_CONNECTION_STRING", ""),
		},
		Chat: ChatConfig{
			Mode:             mode,
			MinParticipants:  getEnvAsInt("CHAT_MIN_PARTICIPANTS", 1),
			SessionTTL:       getEnvAsDuration("CHAT_SESSION_TTL", 24*time.Hour),
			PresenceEntryTTL: getEnvAsDuration("CHAT_PRESENCE_TTL", 2*time.Minute),
			OfflineGrace:     getEnvAsDuration("CHAT_OFFLINE_GRACE", 30*time.Second),
			StaleAfter:       getEnvAsDuration("CHAT_STALE_AFTER", 90*time.Second),
			TypingTTL:        getEnvAsDuration("CHAT_TYPING_TTL", 5*time.Second),
			HistoryLimit:     getEnvAsInt("CHAT_HISTORY_LIMIT", 50),
			HistoryRetention: getEnvAsDuration("CHAT_HISTORY_RETENTION", 24*time.Hour),
			DeliveryDelay:    getEnvAsDuration("CHAT_DELIVERY_DELAY", 500*time.Millisecond),
			MaxMessageLength: getEnvAsInt("CHAT_MAX_MESSAGE_LENGTH", 2000),
			InboundQueueSize: getEnvAsInt("CHAT_INBOUND_QUEUE_SIZE", 64),
		},
		Tracing: TracingConfig{
			Enabled:  getEnvAsBool("OTEL_ENABLED", false),
			Endpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4318"),
		},
	}
}

func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
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

// getEnvAsDuration accepts Go durations ("90s", "24h").
func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	strValue := getEnv(key, "")
	if value, err := time.ParseDuration(strValue); err == nil && value > 0 {
		return value
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	strValue := getEnv(key, "")
	if value, err := strconv.ParseBool(strValue); err == nil {
		return value
	}
	return fallback
}
