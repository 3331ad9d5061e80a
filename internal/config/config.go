package config

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	StorageDriverPostgres = "postgres"
	StorageDriverMemory   = "memory"

	mfaEncryptionKeyLength = 32
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Storage   StorageConfig
	Auth      AuthConfig
	MFA       MFAConfig
	RateLimit RateLimitConfig
	Redis     RedisConfig
	Bootstrap BootstrapConfig
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
	ConnectTimeout    time.Duration
}

type StorageConfig struct {
	Driver string // postgres | memory
}

type ServerConfig struct {
	Port           string
	Env            string
	LogLevel       string
	AllowedOrigins []string
	TrustedProxies []string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	RequestTimeout time.Duration
}

type AuthConfig struct {
	SessionSecret        string
	SessionExpiry        time.Duration
	ChangeTokenExpiry    time.Duration
	ObfuscationKey       string
	BcryptCost           int
	CookieSecure         bool
	CookieDomain         string
	CleanupInterval      time.Duration
	TimingBaseDelayMs    int
	TimingRandomDelayMs  int
	RevocationFailClosed bool
}

type MFAConfig struct {
	Issuer          string
	EncryptionKey   []byte
	EphemeralKey    bool // true when no key was configured and one was generated
	BackupCodeCount int
	MaxAttempts     int
	AttemptWindow   time.Duration
}

type RateLimitConfig struct {
	MaxFailedAttemptsPerEmail    int
	EmailLockoutDuration         time.Duration
	MaxAttemptsPerIP             int
	MaxAttemptsPerDevice         int
	LookbackWindow               time.Duration
	ProgressiveLockoutMultiplier float64
	MaxLockoutDuration           time.Duration
	LoginRequestsPerMinute       int
}

type RedisConfig struct {
	Addr     string // empty disables redis
	Password string
	DB       int
}

type BootstrapConfig struct {
	SuperAdminEmail    string
	SuperAdminPassword string
	SuperAdminUsername string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	sessionSecret := getEnv("SESSION_SECRET", "")
	if sessionSecret == "" {
		return nil, fmt.Errorf("SESSION_SECRET is required")
	}

	env := getEnv("ENV", "development")

	cfg := &Config{
		Server: ServerConfig{
			Port:           getEnv("PORT", "8080"),
			Env:            env,
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			AllowedOrigins: parseAllowedOrigins(env),
			TrustedProxies: parseList(getEnv("TRUSTED_PROXIES", "")),
			ReadTimeout:    getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:   getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:    getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			RequestTimeout: getEnvAsDuration("SERVER_REQUEST_TIMEOUT", 10*time.Second),
		},
		Database: DatabaseConfig{
			Host:              getEnv("DB_HOST", "localhost"),
			Port:              getEnvAsInt("DB_PORT", 5432),
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", ""),
			Name:              getEnv("DB_NAME", "warden"),
			SSLMode:           getEnv("DB_SSLMODE", "disable"),
			MaxConns:          int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns:          int32(getEnvAsInt("DB_MIN_CONNS", 5)),
			MaxConnLifetime:   getEnvAsDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
			MaxConnIdleTime:   getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 1*time.Minute),
			HealthCheckPeriod: getEnvAsDuration("DB_HEALTH_CHECK_PERIOD", 1*time.Minute),
			ConnectTimeout:    getEnvAsDuration("DB_CONNECT_TIMEOUT", 10*time.Second),
		},
		Storage: StorageConfig{
			Driver: strings.ToLower(getEnv("STORAGE_DRIVER", StorageDriverPostgres)),
		},
		Auth: AuthConfig{
			SessionSecret:        sessionSecret,
			SessionExpiry:        getEnvAsDuration("SESSION_EXPIRY", 8*time.Hour),
			ChangeTokenExpiry:    getEnvAsDuration("CHANGE_TOKEN_EXPIRY", 10*time.Minute),
			ObfuscationKey:       getEnv("OBFUSCATION_KEY", "SecureOnlyThingsAreDone"),
			BcryptCost:           getEnvAsInt("BCRYPT_COST", 12),
			CookieSecure:         getEnvAsBool("COOKIE_SECURE", env == "production"),
			CookieDomain:         getEnv("COOKIE_DOMAIN", ""),
			CleanupInterval:      getEnvAsDuration("CLEANUP_INTERVAL", 1*time.Hour),
			TimingBaseDelayMs:    getEnvAsInt("TIMING_BASE_DELAY_MS", 100),
			TimingRandomDelayMs:  getEnvAsInt("TIMING_RANDOM_DELAY_MS", 50),
			RevocationFailClosed: getEnvAsBool("REVOCATION_FAIL_CLOSED", true),
		},
		MFA: MFAConfig{
			Issuer:          getEnv("MFA_ISSUER", "Warden"),
			BackupCodeCount: getEnvAsInt("BACKUP_CODE_COUNT", 10),
			MaxAttempts:     getEnvAsInt("MFA_MAX_ATTEMPTS", 5),
			AttemptWindow:   getEnvAsDuration("MFA_ATTEMPT_WINDOW", 15*time.Minute),
		},
		RateLimit: RateLimitConfig{
			MaxFailedAttemptsPerEmail:    getEnvAsInt("LOGIN_MAX_FAILED_PER_EMAIL", 5),
			EmailLockoutDuration:         getEnvAsDuration("LOGIN_EMAIL_LOCKOUT", 15*time.Minute),
			MaxAttemptsPerIP:             getEnvAsInt("LOGIN_MAX_FAILED_PER_IP", 20),
			MaxAttemptsPerDevice:         getEnvAsInt("LOGIN_MAX_FAILED_PER_DEVICE", 10),
			LookbackWindow:               getEnvAsDuration("LOGIN_LOOKBACK_WINDOW", 15*time.Minute),
			ProgressiveLockoutMultiplier: getEnvAsFloat("LOGIN_LOCKOUT_MULTIPLIER", 2.0),
			MaxLockoutDuration:           getEnvAsDuration("LOGIN_MAX_LOCKOUT", 24*time.Hour),
			LoginRequestsPerMinute:       getEnvAsInt("LOGIN_REQUESTS_PER_MINUTE", 10),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Bootstrap: BootstrapConfig{
			SuperAdminEmail:    getEnv("BOOTSTRAP_SUPER_ADMIN_EMAIL", ""),
			SuperAdminPassword: getEnv("BOOTSTRAP_SUPER_ADMIN_PASSWORD", ""),
			SuperAdminUsername: getEnv("BOOTSTRAP_SUPER_ADMIN_USERNAME", "superadmin"),
		},
	}

	switch cfg.Storage.Driver {
	case StorageDriverPostgres:
		if cfg.Database.Password == "" {
			return nil, fmt.Errorf("DB_PASSWORD is required")
		}
	case StorageDriverMemory:
		if env == "production" {
			return nil, fmt.Errorf("STORAGE_DRIVER=memory is not allowed in production")
		}
	default:
		return nil, fmt.Errorf("unknown STORAGE_DRIVER %q", cfg.Storage.Driver)
	}

	if err := validateSessionSecret(sessionSecret, env); err != nil {
		return nil, err
	}

	if err := validateObfuscationKey(cfg.Auth.ObfuscationKey); err != nil {
		return nil, err
	}

	key, ephemeral, err := loadEncryptionKey(getEnv("MFA_ENCRYPTION_KEY", ""), env)
	if err != nil {
		return nil, err
	}
	cfg.MFA.EncryptionKey = key
	cfg.MFA.EphemeralKey = ephemeral

	if cfg.MFA.BackupCodeCount < 1 {
		return nil, fmt.Errorf("BACKUP_CODE_COUNT must be positive")
	}
	if cfg.MFA.MaxAttempts < 1 {
		return nil, fmt.Errorf("MFA_MAX_ATTEMPTS must be positive")
	}
	if cfg.Auth.BcryptCost < 4 || cfg.Auth.BcryptCost > 31 {
		return nil, fmt.Errorf("BCRYPT_COST must be between 4 and 31")
	}

	return cfg, nil
}

// validateSessionSecret enforces minimum strength for the session signing key
func validateSessionSecret(secret, env string) error {
	minLength := 16
	if env == "production" {
		minLength = 32
	}

	if len(secret) < minLength {
		return fmt.Errorf("SESSION_SECRET must be at least %d characters in %s environment (got %d)",
			minLength, env, len(secret))
	}

	weakSecrets := []string{
		"secret", "test", "password", "12345", "changeme",
		"admin", "root", "default", "example",
	}

	secretLower := strings.ToLower(secret)
	for _, weak := range weakSecrets {
		if secretLower == weak {
			return fmt.Errorf("SESSION_SECRET cannot be a common weak value")
		}
	}

	return nil
}

func validateObfuscationKey(key string) error {
	if key == "" {
		return fmt.Errorf("OBFUSCATION_KEY cannot be empty")
	}
	for i := 0; i < len(key); i++ {
		if key[i] > 0x7f {
			return fmt.Errorf("OBFUSCATION_KEY must be ASCII")
		}
	}
	return nil
}

// loadEncryptionKey decodes MFA_ENCRYPTION_KEY. Outside production a missing
// key is replaced by a random one, which makes enrolled secrets unreadable
// after a restart.
func loadEncryptionKey(encoded, env string) ([]byte, bool, error) {
	if encoded == "" {
		if env == "production" {
			return nil, false, fmt.Errorf("MFA_ENCRYPTION_KEY is required in production")
		}
		key := make([]byte, mfaEncryptionKeyLength)
		if _, err := rand.Read(key); err != nil {
			return nil, false, fmt.Errorf("failed to generate MFA encryption key: %w", err)
		}
		return key, true, nil
	}

	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, false, fmt.Errorf("MFA_ENCRYPTION_KEY must be base64: %w", err)
	}
	if len(key) != mfaEncryptionKeyLength {
		return nil, false, fmt.Errorf("MFA_ENCRYPTION_KEY must decode to %d bytes (got %d)", mfaEncryptionKeyLength, len(key))
	}
	return key, false, nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

func (c *ServerConfig) IsProduction() bool {
	return c.Env == "production"
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

func getEnvAsFloat(key string, defaultVal float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
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

func parseList(raw string) []string {
	if raw == "" {
		return []string{}
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseAllowedOrigins(env string) []string {
	if env == "production" {
		return parseList(getEnv("ALLOWED_ORIGINS", ""))
	}

	return []string{
		"http://localhost:3000",
		"http://localhost:5173", // Vite default
		"http://127.0.0.1:3000",
		"http://127.0.0.1:5173",
	}
}
