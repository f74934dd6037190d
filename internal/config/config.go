package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Store backend names accepted by USER_STORE, TASK_STORE and AVATAR_STORE.
const (
	BackendMongo    = "mongo"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
	BackendRecord   = "record"
	BackendMinio    = "minio"
)

// Config holds all service configuration loaded from environment variables.
type Config struct {
	Port        string
	CORSOrigins []string
	LogLevel    string
	SentryDSN   string

	UserStore   string
	TaskStore   string
	AvatarStore string

	MongoURI    string
	MongoDB     string
	PostgresDSN string

	RedisAddr        string
	RedisPassword    string
	LoginMaxAttempts int
	LoginWindow      time.Duration

	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool
	AvatarMaxBytes int64

	JWTSecret string
	JWTExpiry time.Duration

	MailAPIURL string
	MailAPIKey string
	MailFrom   string
}

func Load() *Config {
	return &Config{
		Port:        getenv("PORT", "3000"),
		CORSOrigins: splitList(getenv("CORS_ORIGINS", "http://localhost:5173,http://localhost:3000")),
		LogLevel:    getenv("LOG_LEVEL", "info"),
		SentryDSN:   getenv("SENTRY_DSN", ""),

		UserStore:   getenv("USER_STORE", BackendMongo),
		TaskStore:   getenv("TASK_STORE", BackendMongo),
		AvatarStore: getenv("AVATAR_STORE", BackendRecord),

		MongoURI:    getenv("MONGO_URI", "mongodb://127.0.0.1:27017"),
		MongoDB:     getenv("MONGO_DB", "task-manager-api"),
		PostgresDSN: getenv("POSTGRES_DSN", ""),

		RedisAddr:        getenv("REDIS_ADDR", ""),
		RedisPassword:    getenv("REDIS_PASSWORD", ""),
		LoginMaxAttempts: getint("LOGIN_MAX_ATTEMPTS", 5),
		LoginWindow:      getduration("LOGIN_WINDOW", 15*time.Minute),

		MinioEndpoint:  getenv("MINIO_ENDPOINT", "minio:9000"),
		MinioAccessKey: getenv("MINIO_ACCESS_KEY", ""),
		MinioSecretKey: getenv("MINIO_SECRET_KEY", ""),
		MinioBucket:    getenv("MINIO_BUCKET", "avatars"),
		MinioUseSSL:    getenv("MINIO_USE_SSL", "false") == "true",
		AvatarMaxBytes: int64(getint("AVATAR_MAX_BYTES", 1_000_000)),

		JWTSecret: getenv("JWT_SECRET", ""),
		JWTExpiry: getduration("JWT_EXPIRY", 7*24*time.Hour),

		MailAPIURL: getenv("MAIL_API_URL", "https://api.sendgrid.com"),
		MailAPIKey: getenv("MAIL_API_KEY", ""),
		MailFrom:   getenv("MAIL_FROM", ""),
	}
}

// Validate reports settings the server cannot start with.
func (c *Config) Validate() error {
	var errs []error
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if !oneOf(c.UserStore, BackendMongo, BackendPostgres, BackendMemory) {
		errs = append(errs, fmt.Errorf("USER_STORE: unknown backend %q", c.UserStore))
	}
	if c.UserStore == BackendPostgres && c.PostgresDSN == "" {
		errs = append(errs, errors.New("POSTGRES_DSN is required when USER_STORE=postgres"))
	}
	if !oneOf(c.TaskStore, BackendMongo, BackendMemory) {
		errs = append(errs, fmt.Errorf("TASK_STORE: unknown backend %q", c.TaskStore))
	}
	if !oneOf(c.AvatarStore, BackendRecord, BackendMinio) {
		errs = append(errs, fmt.Errorf("AVATAR_STORE: unknown backend %q", c.AvatarStore))
	}
	if c.MailAPIKey != "" && c.MailFrom == "" {
		errs = append(errs, errors.New("MAIL_FROM is required when MAIL_API_KEY is set"))
	}
	if c.AvatarMaxBytes <= 0 {
		errs = append(errs, errors.New("AVATAR_MAX_BYTES must be positive"))
	}
	return errors.Join(errs...)
}

// NeedsMongo reports whether any store is backed by MongoDB.
func (c *Config) NeedsMongo() bool {
	return c.UserStore == BackendMongo || c.TaskStore == BackendMongo
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getint(key string, fallback int) int {
	n, err := strconv.Atoi(getenv(key, ""))
	if err != nil {
		return fallback
	}
	return n
}

func getduration(key string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(getenv(key, ""))
	if err != nil {
		return fallback
	}
	return d
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func oneOf(v string, options ...string) bool {
	for _, o := range options {
		if v == o {
			return true
		}
	}
	return false
}
