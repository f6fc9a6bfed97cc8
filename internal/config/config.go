package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port           string
	Env            string
	LogLevel       string
	UseMemoryQueue bool
	WorkerCount    int

	// Storage
	DatabaseURL     string
	RedisAddr       string
	RedisPassword   string
	RedisTLS        bool
	UseMemoryStores bool
	SessionTTL      time.Duration

	// Clinic schedule
	ClinicID         string
	ClinicName       string
	DefaultDentistID string
	ClinicTimezone   string
	ClosedWeekday    time.Weekday
	DateOptions      int
	LookaheadDays    int
	SlotMinutes      int
	DepositRequired  bool
	PaymentWindow    time.Duration

	// Delivery pipeline
	RateLimitMax      int
	RateLimitWindow   time.Duration
	RetryMax          int
	RetryDelay        time.Duration
	RetrySweepBatch   int
	BlockThreshold    int
	BlockDuration     time.Duration
	RepositoryTimeout time.Duration
	TransportTimeout  time.Duration

	// SMS providers
	SMSProvider              string
	SMSFromNumber            string
	TwilioAccountSID         string
	TwilioAuthToken          string
	TwilioFromNumber         string
	TwilioWhatsApp           bool
	TelnyxAPIKey             string
	TelnyxMessagingProfileID string

	// Optional intent model
	IntentModelProvider string
	GeminiAPIKey        string
	GeminiModelID       string
	BedrockModelID      string
	IntentThreshold     float64

	// Operator e-mail alerts
	EmailProvider      string
	SendGridAPIKey     string
	SendGridFromEmail  string
	SendGridFromName   string
	SESFromEmail       string
	OperatorAlertEmail string

	// Admin API and inbound throttling
	AdminJWTSecret    string
	APIRateLimitRPS   float64
	APIRateLimitBurst int

	// AWS
	AWSRegion             string
	AWSAccessKeyID        string
	AWSSecretAccessKey    string
	AWSEndpointOverride   string
	ConversationQueueURL  string
	ConversationJobsTable string
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:           getEnv("PORT", "8080"),
		Env:            getEnv("ENV", "development"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		UseMemoryQueue: getEnvAsBool("USE_MEMORY_QUEUE", false),
		WorkerCount:    getEnvAsInt("WORKER_COUNT", 2),

		DatabaseURL:     getEnv("DATABASE_URL", ""),
		RedisAddr:       getEnv("REDIS_ADDR", ""),
		RedisPassword:   getEnv("REDIS_PASSWORD", ""),
		RedisTLS:        getEnvAsBool("REDIS_TLS", false),
		UseMemoryStores: getEnvAsBool("USE_MEMORY_STORES", false),
		SessionTTL:      getEnvAsDuration("SESSION_TTL", 24*time.Hour),

		ClinicID:         getEnv("CLINIC_ID", "main-clinic"),
		ClinicName:       getEnv("CLINIC_NAME", "Bright Smile Dental"),
		DefaultDentistID: getEnv("DEFAULT_DENTIST_ID", "dentist-1"),
		ClinicTimezone:   getEnv("CLINIC_TIMEZONE", "UTC"),
		ClosedWeekday:    getEnvAsWeekday("CLOSED_WEEKDAY", time.Sunday),
		DateOptions:      getEnvAsInt("DATE_OPTIONS", 5),
		LookaheadDays:    getEnvAsInt("LOOKAHEAD_DAYS", 30),
		SlotMinutes:      getEnvAsInt("SLOT_MINUTES", 30),
		DepositRequired:  getEnvAsBool("DEPOSIT_REQUIRED", false),
		PaymentWindow:    getEnvAsDuration("PAYMENT_WINDOW", 48*time.Hour),

		RateLimitMax:      getEnvAsInt("RATE_LIMIT_MAX", 3),
		RateLimitWindow:   getEnvAsDuration("RATE_LIMIT_WINDOW", time.Hour),
		RetryMax:          getEnvAsInt("RETRY_MAX", 2),
		RetryDelay:        getEnvAsDuration("RETRY_DELAY", 30*time.Minute),
		RetrySweepBatch:   getEnvAsInt("RETRY_SWEEP_BATCH", 50),
		BlockThreshold:    getEnvAsInt("BLOCK_THRESHOLD", 3),
		BlockDuration:     getEnvAsDuration("BLOCK_DURATION", 30*24*time.Hour),
		RepositoryTimeout: getEnvAsDuration("REPOSITORY_TIMEOUT", 5*time.Second),
		TransportTimeout:  getEnvAsDuration("TRANSPORT_TIMEOUT", 10*time.Second),

		SMSProvider:              strings.ToLower(strings.TrimSpace(getEnv("SMS_PROVIDER", "auto"))),
		SMSFromNumber:            getEnv("SMS_FROM_NUMBER", ""),
		TwilioAccountSID:         getEnv("TWILIO_ACCOUNT_SID", ""),
		TwilioAuthToken:          getEnv("TWILIO_AUTH_TOKEN", ""),
		TwilioFromNumber:         getEnv("TWILIO_FROM_NUMBER", ""),
		TwilioWhatsApp:           getEnvAsBool("TWILIO_WHATSAPP", false),
		TelnyxAPIKey:             getEnv("TELNYX_API_KEY", ""),
		TelnyxMessagingProfileID: getEnv("TELNYX_MESSAGING_PROFILE_ID", ""),

		IntentModelProvider: strings.ToLower(strings.TrimSpace(getEnv("INTENT_MODEL_PROVIDER", ""))),
		GeminiAPIKey:        getEnv("GEMINI_API_KEY", ""),
		GeminiModelID:       getEnv("GEMINI_MODEL_ID", "gemini-2.5-flash"),
		BedrockModelID:      getEnv("BEDROCK_MODEL_ID", ""),
		IntentThreshold:     getEnvAsFloat("INTENT_CONFIDENCE_THRESHOLD", 0.6),

		EmailProvider:      strings.ToLower(strings.TrimSpace(getEnv("EMAIL_PROVIDER", ""))),
		SendGridAPIKey:     getEnv("SENDGRID_API_KEY", ""),
		SendGridFromEmail:  getEnv("SENDGRID_FROM_EMAIL", ""),
		SendGridFromName:   getEnv("SENDGRID_FROM_NAME", "Dental Booking"),
		SESFromEmail:       getEnv("SES_FROM_EMAIL", ""),
		OperatorAlertEmail: getEnv("OPERATOR_ALERT_EMAIL", ""),

		AdminJWTSecret:    getEnv("ADMIN_JWT_SECRET", ""),
		APIRateLimitRPS:   getEnvAsFloat("API_RATE_LIMIT_RPS", 5),
		APIRateLimitBurst: getEnvAsInt("API_RATE_LIMIT_BURST", 10),

		AWSRegion:             getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:        getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:    getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride:   getEnv("AWS_ENDPOINT_OVERRIDE", ""),
		ConversationQueueURL:  getEnv("CONVERSATION_QUEUE_URL", ""),
		ConversationJobsTable: getEnv("CONVERSATION_JOBS_TABLE", "conversation_jobs"),
	}
}

// Location resolves ClinicTimezone, falling back to UTC when it is unknown.
func (c *Config) Location() *time.Location {
	if c == nil {
		return time.UTC
	}
	loc, err := time.LoadLocation(strings.TrimSpace(c.ClinicTimezone))
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

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value, err := strconv.ParseFloat(getEnv(key, ""), 64); err == nil {
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

// getEnvAsWeekday accepts a weekday name ("sunday", "Mon") or its number (0-6).
func getEnvAsWeekday(key string, defaultValue time.Weekday) time.Weekday {
	valueStr := strings.ToLower(strings.TrimSpace(getEnv(key, "")))
	if valueStr == "" {
		return defaultValue
	}
	if n, err := strconv.Atoi(valueStr); err == nil && n >= 0 && n <= 6 {
		return time.Weekday(n)
	}
	for d := time.Sunday; d <= time.Saturday; d++ {
		name := strings.ToLower(d.String())
		if valueStr == name || valueStr == name[:3] {
			return d
		}
	}
	return defaultValue
}
