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
	Database DatabaseConfig
	Server   ServerConfig
	Auth     AuthConfig
	Guard    GuardConfig
	OTP      OTPConfig
	Email    EmailConfig
	Chatbot  ChatbotConfig
}

type DatabaseConfig struct {
	Host              string
	Port              int
	User              string
	Password          string
	Name              string
	SSLMode           string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

type ServerConfig struct {
	Port           string
	Env            string
	LogLevel       string
	AllowedOrigins []string
	TrustedProxies []string
}

type AuthConfig struct {
	JWTSecret          string
	AccessTokenExpiry  time.Duration
	PendingTokenExpiry time.Duration
	TOTPEncryptionKey  string // 32 bytes, AES-256
	TOTPIssuer         string
	CleanupInterval    time.Duration
}

// GuardConfig tunes the brute-force guard.
type GuardConfig struct {
	LockoutThreshold   int           // failed attempts before the account locks
	LockoutDuration    time.Duration // how long a lock holds
	IPFailureThreshold int           // failed attempts before an IP is blocked
	IPWindow           time.Duration // rolling window for IP counting
	DelayBase          time.Duration // progressive delay base
	DelayMax           time.Duration // progressive delay cap
	AttemptRetention   time.Duration // ledger retention horizon
}

type OTPConfig struct {
	CodeLength int
	DefaultTTL time.Duration
}

type EmailConfig struct {
	AWSRegion   string
	FromAddress string
}

type ChatbotConfig struct {
	APIBaseURL string
	BotToken   string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	jwtSecret := getEnv("JWT_SECRET", "")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	env := getEnv("ENV", "development")

	cfg := &Config{
		Database: DatabaseConfig{
			Host:              getEnv("DB_HOST", "localhost"),
			Port:              getEnvAsInt("DB_PORT", 5432),
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", ""),
			Name:              getEnv("DB_NAME", "bastion"),
			SSLMode:           getEnv("DB_SSLMODE", "disable"),
			MaxConns:          int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns:          int32(getEnvAsInt("DB_MIN_CONNS", 5)),
			MaxConnLifetime:   getEnvAsDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
			MaxConnIdleTime:   getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 1*time.Minute),
			HealthCheckPeriod: getEnvAsDuration("DB_HEALTH_CHECK_PERIOD", 1*time.Minute),
		},
		Server: ServerConfig{
			Port:           getEnv("PORT", "8080"),
			Env:            env,
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			AllowedOrigins: getEnvAsSlice("ALLOWED_ORIGINS"),
			TrustedProxies: getEnvAsSlice("TRUSTED_PROXIES"),
		},
		Auth: AuthConfig{
			JWTSecret:          jwtSecret,
			AccessTokenExpiry:  getEnvAsDuration("ACCESS_TOKEN_EXPIRY", 15*time.Minute),
			PendingTokenExpiry: getEnvAsDuration("PENDING_TOKEN_EXPIRY", 10*time.Minute),
			TOTPEncryptionKey:  getEnv("TOTP_ENCRYPTION_KEY", ""),
			TOTPIssuer:         getEnv("TOTP_ISSUER", "Bastion"),
			CleanupInterval:    getEnvAsDuration("CLEANUP_INTERVAL", 1*time.Hour),
		},
		Guard: GuardConfig{
			LockoutThreshold:   getEnvAsInt("LOCKOUT_THRESHOLD", 5),
			LockoutDuration:    getEnvAsDuration("LOCKOUT_DURATION", 30*time.Minute),
			IPFailureThreshold: getEnvAsInt("IP_FAILURE_THRESHOLD", 20),
			IPWindow:           getEnvAsDuration("IP_WINDOW", 15*time.Minute),
			DelayBase:          getEnvAsDuration("DELAY_BASE", 500*time.Millisecond),
			DelayMax:           getEnvAsDuration("DELAY_MAX", 30*time.Second),
			AttemptRetention:   getEnvAsDuration("ATTEMPT_RETENTION", 30*24*time.Hour),
		},
		OTP: OTPConfig{
			CodeLength: getEnvAsInt("OTP_CODE_LENGTH", 6),
			DefaultTTL: getEnvAsDuration("OTP_DEFAULT_TTL", 10*time.Minute),
		},
		Email: EmailConfig{
			AWSRegion:   getEnv("AWS_REGION", "us-east-1"),
			FromAddress: getEnv("EMAIL_FROM_ADDRESS", ""),
		},
		Chatbot: ChatbotConfig{
			APIBaseURL: getEnv("CHATBOT_API_BASE_URL", ""),
			BotToken:   getEnv("CHATBOT_BOT_TOKEN", ""),
		},
	}

	if cfg.Database.Password == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required")
	}

	if err := validateJWTSecret(jwtSecret, env); err != nil {
		return nil, err
	}

	// The TOTP manager is wired unconditionally at startup, so the key is
	// required and must be a full AES-256 key.
	if len(cfg.Auth.TOTPEncryptionKey) != 32 {
		return nil, fmt.Errorf("TOTP_ENCRYPTION_KEY must be exactly 32 bytes (got %d)", len(cfg.Auth.TOTPEncryptionKey))
	}

	if err := validateGuard(&cfg.Guard); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validateJWTSecret enforces minimum security standards for JWT secret
func validateJWTSecret(secret, env string) error {
	minLength := 16
	if env == "production" {
		minLength = 32
	}

	if len(secret) < minLength {
		return fmt.Errorf("JWT_SECRET must be at least %d characters in %s environment (got %d)",
			minLength, env, len(secret))
	}

	weakSecrets := []string{
		"secret", "test", "password", "12345", "changeme",
		"admin", "root", "default", "example",
	}

	secretLower := strings.ToLower(secret)
	for _, weak := range weakSecrets {
		if secretLower == weak {
			return fmt.Errorf("JWT_SECRET cannot be a common weak value")
		}
	}

	return nil
}

// validateGuard rejects configurations that would neuter the guard entirely
func validateGuard(g *GuardConfig) error {
	if g.LockoutThreshold < 1 {
		return fmt.Errorf("LOCKOUT_THRESHOLD must be at least 1")
	}
	if g.IPFailureThreshold < 1 {
		return fmt.Errorf("IP_FAILURE_THRESHOLD must be at least 1")
	}
	if g.LockoutDuration <= 0 || g.IPWindow <= 0 {
		return fmt.Errorf("LOCKOUT_DURATION and IP_WINDOW must be positive")
	}
	if g.DelayMax < g.DelayBase {
		return fmt.Errorf("DELAY_MAX must not be smaller than DELAY_BASE")
	}
	return nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultVal
}

func getEnvAsSlice(key string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return []string{}
	}
	parts := strings.Split(raw, ",")
	for i, part := range parts {
		parts[i] = strings.TrimSpace(part)
	}
	return parts
}
