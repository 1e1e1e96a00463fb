package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // APP_TIMEZONE must resolve in slim containers

	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	Cron     CronConfig
	Solapi   SolapiConfig
	Ledger   LedgerConfig
	Worker   WorkerConfig
	App      AppConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        int
	WriteTimeout       int
	CORSAllowedOrigins string // comma-separated, or "*" for all
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL      string // if set, used as-is
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// JWTConfig holds the secret used to validate identity tokens issued by the auth provider.
type JWTConfig struct {
	Secret string
}

// CronConfig holds the shared secret for scheduled triggers (Authorization: Bearer <secret>).
type CronConfig struct {
	Secret string
}

// SolapiConfig holds credentials for the Kakao alimtalk provider.
type SolapiConfig struct {
	BaseURL      string
	APIKey       string
	APISecret    string
	SenderNumber string
	PFID         string // Kakao channel (plus friend) id
	TimeoutSec   int
}

// Ledger modes. LedgerModeUnguarded skips the meeting row lock and must never run against
// a database that receives concurrent registrations.
const (
	LedgerModeLocked    = "locked"
	LedgerModeUnguarded = "unguarded"
)

// LedgerConfig controls registration ledger behaviour.
type LedgerConfig struct {
	Mode          string
	DepositWindow time.Duration
}

// WorkerConfig controls the background worker. A zero TickInterval leaves scheduler ticks to
// the external cron.
type WorkerConfig struct {
	TickInterval time.Duration
}

// AppConfig holds calendar settings used by reminders and segments.
type AppConfig struct {
	Timezone string
}

// DSN returns the PostgreSQL connection string.
// If DatabaseConfig.URL is set (e.g. DATABASE_URL env), it is used as-is; otherwise built from components.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

// Location resolves the configured timezone, falling back to UTC.
func (c AppConfig) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()      // .env
	_ = godotenv.Load("env") // env (no leading dot)

	readTimeout, _ := strconv.Atoi(getEnv("READ_TIMEOUT_SEC", "30"))
	writeTimeout, _ := strconv.Atoi(getEnv("WRITE_TIMEOUT_SEC", "30"))
	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			ReadTimeout:        readTimeout,
			WriteTimeout:       writeTimeout,
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000"),
		},
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", ""),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "jidokhae"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
			MaxConns: getEnvInt("DB_MAX_CONNS", 10),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       redisDB,
		},
		JWT: JWTConfig{
			Secret: getEnv("JWT_SECRET", "change-me-in-production"),
		},
		Cron: CronConfig{
			Secret: getEnv("CRON_SECRET", ""),
		},
		Solapi: SolapiConfig{
			BaseURL:      getEnv("SOLAPI_BASE_URL", "https://api.solapi.com"),
			APIKey:       getEnv("SOLAPI_API_KEY", ""),
			APISecret:    getEnv("SOLAPI_API_SECRET", ""),
			SenderNumber: getEnv("SOLAPI_SENDER_NUMBER", ""),
			PFID:         getEnv("SOLAPI_PFID", ""),
			TimeoutSec:   getEnvInt("SOLAPI_TIMEOUT_SEC", 10),
		},
		Ledger: LedgerConfig{
			Mode:          getEnv("LEDGER_MODE", LedgerModeLocked),
			DepositWindow: time.Duration(getEnvInt("DEPOSIT_WINDOW_HOURS", 48)) * time.Hour,
		},
		Worker: WorkerConfig{
			TickInterval: time.Duration(getEnvInt("WORKER_TICK_INTERVAL_SEC", 0)) * time.Second,
		},
		App: AppConfig{
			Timezone: getEnv("APP_TIMEZONE", "Asia/Seoul"),
		},
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Ledger.Mode {
	case LedgerModeLocked, LedgerModeUnguarded:
	default:
		return fmt.Errorf("invalid LEDGER_MODE %q", c.Ledger.Mode)
	}
	if c.Ledger.DepositWindow <= 0 {
		return fmt.Errorf("DEPOSIT_WINDOW_HOURS must be positive")
	}
	if c.Worker.TickInterval < 0 {
		return fmt.Errorf("WORKER_TICK_INTERVAL_SEC must not be negative")
	}
	if _, err := time.LoadLocation(c.App.Timezone); err != nil {
		return fmt.Errorf("invalid APP_TIMEZONE %q: %w", c.App.Timezone, err)
	}
	return nil
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

// SplitTrim splits a comma-separated value and drops empty parts.
func SplitTrim(s, sep string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, v := range strings.Split(s, sep) {
		if t := strings.TrimSpace(v); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
