package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// DefaultSessionSecret is only acceptable outside production.
const DefaultSessionSecret = "dev-session-secret-change-in-prod"

type Config struct {
	Server    ServerConfig
	Log       LogConfig
	Storage   StorageConfig
	Database  DatabaseConfig
	KurrentDB KurrentDBConfig
	Auth      AuthConfig
	CORS      CORSConfig
	RateLimit RateLimitConfig
	Pricing   PricingConfig
}

type ServerConfig struct {
	Port            int
	Env             string
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
}

// IsProduction reports whether the server runs with production safeguards.
func (s ServerConfig) IsProduction() bool {
	return s.Env == "production"
}

type LogConfig struct {
	Level  string
	Pretty bool
}

// StorageConfig selects the record store. "postgres" is the production
// driver; "sqlite" runs the same schema in a single file or in memory.
type StorageConfig struct {
	Driver    string
	SQLiteDSN string
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int32
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Database, d.SSLMode,
	)
}

// KurrentDBConfig holds configuration for the case activity stream.
type KurrentDBConfig struct {
	Enabled bool
	// Host is the KurrentDB server hostname
	Host string
	// Port is the gRPC/HTTP port (default 2113)
	Port int
	// Insecure disables TLS (for development)
	Insecure bool
	Username string
	Password string
}

type AuthConfig struct {
	SessionSecret string
	Issuer        string
	CookieName    string
	CookieSecure  bool
	BcryptCost    int
}

type CORSConfig struct {
	AllowedOrigins []string
}

type RateLimitConfig struct {
	// AuthRPS and AuthBurst bound sign-up/sign-in attempts per client IP.
	AuthRPS   int
	AuthBurst int
}

type PricingConfig struct {
	// AttorneyConsultationFee is charged in JPY before an application is prepared.
	AttorneyConsultationFee int
}

// Load reads configuration from the environment. A .env file in the working
// directory is loaded first when present; real environment variables win.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnvInt("SERVER_PORT", 8080),
			Env:             getEnv("ENV", "development"),
			RequestTimeout:  getEnvDuration("SERVER_REQUEST_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Pretty: getEnvBool("LOG_PRETTY", false),
		},
		Storage: StorageConfig{
			Driver:    getEnv("STORAGE_DRIVER", "postgres"),
			SQLiteDSN: getEnv("SQLITE_DSN", "file:portal.db"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "portal"),
			Password: getEnv("DB_PASSWORD", "portal"),
			Database: getEnv("DB_NAME", "portal"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
			MaxConns: int32(getEnvInt("DB_MAX_CONNS", 25)),
		},
		KurrentDB: KurrentDBConfig{
			Enabled:  getEnvBool("KURRENTDB_ENABLED", false),
			Host:     getEnv("KURRENTDB_HOST", "localhost"),
			Port:     getEnvInt("KURRENTDB_PORT", 2113),
			Insecure: getEnvBool("KURRENTDB_INSECURE", true),
			Username: getEnv("KURRENTDB_USERNAME", ""),
			Password: getEnv("KURRENTDB_PASSWORD", ""),
		},
		Auth: AuthConfig{
			SessionSecret: getEnv("SESSION_SECRET", DefaultSessionSecret),
			Issuer:        getEnv("SESSION_ISSUER", "mj-trademark-portal"),
			CookieName:    getEnv("SESSION_COOKIE_NAME", "mj_session"),
			CookieSecure:  getEnvBool("SESSION_COOKIE_SECURE", false),
			BcryptCost:    getEnvInt("BCRYPT_COST", 12),
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnvSlice("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
		},
		RateLimit: RateLimitConfig{
			AuthRPS:   getEnvInt("RATE_LIMIT_AUTH_RPS", 5),
			AuthBurst: getEnvInt("RATE_LIMIT_AUTH_BURST", 10),
		},
		Pricing: PricingConfig{
			AttorneyConsultationFee: getEnvInt("PRICING_ATTORNEY_CONSULTATION_FEE", 33000),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects combinations that must never reach a running server.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported STORAGE_DRIVER %q", c.Storage.Driver)
	}
	if c.Server.IsProduction() {
		if c.Auth.SessionSecret == DefaultSessionSecret {
			return errors.New("SESSION_SECRET must be set in production")
		}
		if !c.Auth.CookieSecure {
			return errors.New("SESSION_COOKIE_SECURE must be enabled in production")
		}
	}
	if len(c.Auth.SessionSecret) < 16 {
		return errors.New("SESSION_SECRET must be at least 16 bytes")
	}
	if c.Pricing.AttorneyConsultationFee < 0 {
		return errors.New("PRICING_ATTORNEY_CONSULTATION_FEE must not be negative")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
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

func getEnvSlice(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var result []string
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	if len(result) == 0 {
		return defaultValue
	}
	return result
}
