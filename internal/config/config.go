package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	Port  string
	GoEnv string

	// Database
	DatabaseURL string
	RedisURL    string

	// Security
	JWTSecret        string
	TokenTTL         time.Duration
	FIRHashSecret    string
	SMSHMACSecret    string
	PoliceInviteCode string

	// Twilio
	TwilioAccountSID  string
	TwilioAuthToken   string
	TwilioPhoneNumber string

	// Firebase
	FCMCredentialsPath string

	// Kafka dispatch
	KafkaBrokers  []string
	KafkaSOSTopic string

	// MinIO evidence storage
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool

	// Logging
	LogDir string

	// Location is the zone used for time-of-day scoring and unusual-hours detection.
	Location *time.Location

	// Thresholds
	SOSRateLimitPerHour   int
	LocationRatePerSecond float64
	LocationBurst         int
	EscalationInterval    time.Duration
	EscalationSchedule    string
	AnomalySweepSchedule  string
	ZoneCacheTTL          time.Duration
}

func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := &Config{
		Port:                  getEnv("PORT", "8080"),
		GoEnv:                 getEnv("GO_ENV", "development"),
		DatabaseURL:           getEnv("DATABASE_URL", ""),
		RedisURL:              getEnv("REDIS_URL", "redis://localhost:6379"),
		JWTSecret:             getEnv("JWT_SECRET", ""),
		TokenTTL:              getEnvDuration("TOKEN_TTL", 24*time.Hour),
		FIRHashSecret:         getEnv("FIR_HASH_SECRET", ""),
		SMSHMACSecret:         getEnv("SMS_HMAC_SECRET", ""),
		PoliceInviteCode:      getEnv("POLICE_INVITE_CODE", ""),
		TwilioAccountSID:      getEnv("TWILIO_ACCOUNT_SID", ""),
		TwilioAuthToken:       getEnv("TWILIO_AUTH_TOKEN", ""),
		TwilioPhoneNumber:     getEnv("TWILIO_PHONE_NUMBER", ""),
		FCMCredentialsPath:    getEnv("FCM_CREDENTIALS_PATH", ""),
		KafkaBrokers:          getEnvList("KAFKA_BROKERS"),
		KafkaSOSTopic:         getEnv("KAFKA_SOS_TOPIC", "sos.dispatch"),
		MinioEndpoint:         getEnv("MINIO_ENDPOINT", ""),
		MinioAccessKey:        getEnv("MINIO_ACCESS_KEY", ""),
		MinioSecretKey:        getEnv("MINIO_SECRET_KEY", ""),
		MinioBucket:           getEnv("MINIO_BUCKET", "fir-evidence"),
		MinioUseSSL:           getEnvBool("MINIO_USE_SSL", false),
		LogDir:                getEnv("LOG_DIR", "logs"),
		SOSRateLimitPerHour:   getEnvInt("SOS_RATE_LIMIT_PER_HOUR", 3),
		LocationRatePerSecond: getEnvFloat("LOCATION_RATE_PER_SEC", 0.2), // one ping per 5s
		LocationBurst:         getEnvInt("LOCATION_BURST", 3),
		EscalationInterval:    getEnvDuration("ESCALATION_INTERVAL", 5*time.Minute),
		EscalationSchedule:    getEnv("ESCALATION_SCHEDULE", "@every 1m"),
		AnomalySweepSchedule:  getEnv("ANOMALY_SWEEP_SCHEDULE", "@every 5m"),
		ZoneCacheTTL:          getEnvDuration("ZONE_CACHE_TTL", 2*time.Minute),
	}

	tz := getEnv("TIMEZONE", "Asia/Kolkata")
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE %q: %w", tz, err)
	}
	cfg.Location = loc

	if cfg.SMSHMACSecret == "" {
		cfg.SMSHMACSecret = cfg.JWTSecret
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.FIRHashSecret == "" {
		return fmt.Errorf("FIR_HASH_SECRET is required")
	}
	if c.SOSRateLimitPerHour < 0 {
		return fmt.Errorf("SOS_RATE_LIMIT_PER_HOUR must be >= 0")
	}
	if c.EscalationInterval <= 0 {
		return fmt.Errorf("ESCALATION_INTERVAL must be positive")
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.GoEnv == "production"
}

// TwilioEnabled reports whether outbound SMS can be sent.
func (c *Config) TwilioEnabled() bool {
	return c.TwilioAccountSID != "" && c.TwilioAuthToken != "" && c.TwilioPhoneNumber != ""
}

func (c *Config) MinioEnabled() bool {
	return c.MinioEndpoint != "" && c.MinioAccessKey != "" && c.MinioSecretKey != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
