package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	Port             string
	Env              string
	PublicBaseURL    string
	LogLevel         string
	UseMemoryStores  bool
	UseMemoryQueue   bool
	WorkerCount      int
	DatabaseURL      string
	HistoryDBURL     string
	AdminJWTSecret   string
	WebhookRateLimit float64
	WebhookBurst     int

	// Business calendar
	BusinessName        string
	BusinessTimezone    string
	BusinessHoursStart  int
	BusinessHoursEnd    int
	AppointmentDuration time.Duration
	AssumePMBelowHour   int

	// Twilio WhatsApp
	TwilioAccountSID    string
	TwilioAuthToken     string
	TwilioWebhookSecret string
	TwilioFromNumber    string
	TwilioSendRPS       float64

	// Google Calendar
	GoogleCalendarCredentialsFile string
	GoogleCalendarDefaultID       string

	// Gemini responder
	GeminiAPIKey string
	GeminiModel  string

	// Email failover
	EmailProvider     string
	SendGridAPIKey    string
	SendGridFromEmail string
	SendGridFromName  string
	SESFromEmail      string
	SESConfigSet      string

	// AWS
	AWSRegion            string
	AWSAccessKeyID       string
	AWSSecretAccessKey   string
	AWSEndpointOverride  string
	ConversationQueueURL string

	// Redis
	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	// Event fan-out
	AMQPURL              string
	AMQPExchange         string
	OutboxPollInterval   time.Duration
	OutboxBatchSize      int
	LeadLockTTL          time.Duration
	RetryBackoff         time.Duration
	TeamMembersJSON      string
	PropertiesJSON       string
	DefaultPhoneRegion   string
	PersistHistory       bool
	HistoryReplayMessage int
}

// Load reads configuration from environment variables. A .env file in the
// working directory is loaded first when present; real env vars win.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Port:             getEnv("PORT", "8080"),
		Env:              getEnv("ENV", "development"),
		PublicBaseURL:    getEnv("PUBLIC_BASE_URL", ""),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		UseMemoryStores:  getEnvAsBool("USE_MEMORY_STORES", false),
		UseMemoryQueue:   getEnvAsBool("USE_MEMORY_QUEUE", false),
		WorkerCount:      getEnvAsInt("WORKER_COUNT", 4),
		DatabaseURL:      getEnv("DATABASE_URL", ""),
		HistoryDBURL:     getEnv("HISTORY_DATABASE_URL", ""),
		AdminJWTSecret:   getEnv("ADMIN_JWT_SECRET", ""),
		WebhookRateLimit: getEnvAsFloat("WEBHOOK_RATE_LIMIT", 20),
		WebhookBurst:     getEnvAsInt("WEBHOOK_RATE_BURST", 40),

		BusinessName:        getEnv("BUSINESS_NAME", "SARA Inmobiliaria"),
		BusinessTimezone:    getEnv("BUSINESS_TIMEZONE", "America/Mexico_City"),
		BusinessHoursStart:  getEnvAsInt("BUSINESS_HOURS_START", 9),
		BusinessHoursEnd:    getEnvAsInt("BUSINESS_HOURS_END", 18),
		AppointmentDuration: getEnvAsDuration("APPOINTMENT_DURATION", time.Hour),
		AssumePMBelowHour:   getEnvAsInt("ASSUME_PM_BELOW_HOUR", 8),

		TwilioAccountSID:    getEnv("TWILIO_ACCOUNT_SID", ""),
		TwilioAuthToken:     getEnv("TWILIO_AUTH_TOKEN", ""),
		TwilioWebhookSecret: getEnv("TWILIO_WEBHOOK_SECRET", ""),
		TwilioFromNumber:    getEnv("TWILIO_FROM_NUMBER", ""),
		TwilioSendRPS:       getEnvAsFloat("TWILIO_SEND_RPS", 5),

		GoogleCalendarCredentialsFile: getEnv("GOOGLE_CALENDAR_CREDENTIALS_FILE", ""),
		GoogleCalendarDefaultID:       getEnv("GOOGLE_CALENDAR_DEFAULT_ID", ""),

		GeminiAPIKey: getEnv("GEMINI_API_KEY", ""),
		GeminiModel:  getEnv("GEMINI_MODEL", "gemini-2.5-flash"),

		EmailProvider:     strings.ToLower(strings.TrimSpace(getEnv("EMAIL_PROVIDER", "auto"))),
		SendGridAPIKey:    getEnv("SENDGRID_API_KEY", ""),
		SendGridFromEmail: getEnv("SENDGRID_FROM_EMAIL", ""),
		SendGridFromName:  getEnv("SENDGRID_FROM_NAME", "SARA Inmobiliaria"),
		SESFromEmail:      getEnv("SES_FROM_EMAIL", ""),
		SESConfigSet:      getEnv("SES_CONFIGURATION_SET", ""),

		AWSRegion:            getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:       getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:   getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride:  getEnv("AWS_ENDPOINT_OVERRIDE", ""),
		ConversationQueueURL: getEnv("CONVERSATION_QUEUE_URL", ""),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		AMQPURL:              getEnv("AMQP_URL", ""),
		AMQPExchange:         getEnv("AMQP_EXCHANGE", "sara.leads"),
		OutboxPollInterval:   getEnvAsDuration("OUTBOX_POLL_INTERVAL", 2*time.Second),
		OutboxBatchSize:      getEnvAsInt("OUTBOX_BATCH_SIZE", 25),
		LeadLockTTL:          getEnvAsDuration("LEAD_LOCK_TTL", 30*time.Second),
		RetryBackoff:         getEnvAsDuration("RETRY_BACKOFF", 300*time.Millisecond),
		TeamMembersJSON:      getEnv("TEAM_MEMBERS_JSON", ""),
		PropertiesJSON:       getEnv("PROPERTIES_JSON", ""),
		DefaultPhoneRegion:   strings.ToUpper(getEnv("DEFAULT_PHONE_REGION", "MX")),
		PersistHistory:       getEnvAsBool("PERSIST_HISTORY", true),
		HistoryReplayMessage: getEnvAsInt("HISTORY_REPLAY_MESSAGES", 10),
	}
}

// Location resolves the configured business timezone, falling back to UTC
// only when the zone database does not know the name.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.BusinessTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// getEnv retrieves an environment variable or returns a default value
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

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
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

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
