package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Document store backends.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// Change broker kinds.
const (
	BrokerLocal = "local"
	BrokerRedis = "redis"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string
	AppID     string

	Database      DatabaseConfig
	Redis         RedisConfig
	DocStore      DocStoreConfig
	Identity      IdentityConfig
	Mail          MailConfig
	Notifications NotificationConfig
	School        SchoolConfig
	Reports       ReportsConfig
	Sessions      SessionConfig
	RateLimit     RateLimitConfig
	CORS          CORSConfig
	Log           LogConfig
	Metrics       MetricsConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// Addr returns the host:port pair for the redis client.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// DocStoreConfig selects where observation and profile documents live and how
// change notifications travel between instances.
type DocStoreConfig struct {
	Backend string
	Broker  string
	Channel string
}

// IdentityConfig configures the built-in identity authority.
type IdentityConfig struct {
	Users               string
	JWTSecret           string
	JWTIssuer           string
	CustomTokenTTL      time.Duration
	BootstrapToken      string
	AnonymousSignIn     bool
	PasswordMinLength   int
	VerificationTTL     time.Duration
	VerificationBaseURL string
}

type MailConfig struct {
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	From         string
}

// NotificationConfig tunes the mail worker queue.
type NotificationConfig struct {
	ApproverEmails []string
	Workers        int
	BufferSize     int
	MaxRetries     int
	RetryDelay     time.Duration
}

// SchoolConfig carries the constants used by observation metrics.
type SchoolConfig struct {
	TotalStudents         int
	AbsenceThreshold      float64
	BehavioralWeeklyLimit int
}

type ReportsConfig struct {
	CacheTTL time.Duration
}

type SessionConfig struct {
	TTL           time.Duration
	SweepInterval time.Duration
}

type RateLimitConfig struct {
	AuthPerMinute int
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

type MetricsConfig struct {
	Enabled bool
}

// IsProduction reports whether the service runs in production mode.
func (c *Config) IsProduction() bool {
	return c != nil && c.Env == EnvProduction
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")
	cfg.AppID = strings.TrimSpace(v.GetString("APP_ID"))

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.DocStore = DocStoreConfig{
		Backend: strings.ToLower(v.GetString("DOCSTORE_BACKEND")),
		Broker:  strings.ToLower(v.GetString("DOCSTORE_BROKER")),
		Channel: v.GetString("DOCSTORE_CHANNEL"),
	}

	cfg.Identity = IdentityConfig{
		Users:               strings.ToLower(v.GetString("IDENTITY_USERS")),
		JWTSecret:           v.GetString("JWT_SECRET"),
		JWTIssuer:           v.GetString("JWT_ISSUER"),
		CustomTokenTTL:      parseDuration(v.GetString("CUSTOM_TOKEN_TTL"), time.Hour),
		BootstrapToken:      v.GetString("BOOTSTRAP_TOKEN"),
		AnonymousSignIn:     v.GetBool("ANONYMOUS_SIGNIN"),
		PasswordMinLength:   v.GetInt("PASSWORD_MIN_LENGTH"),
		VerificationTTL:     parseDuration(v.GetString("VERIFICATION_TTL"), 24*time.Hour),
		VerificationBaseURL: strings.TrimRight(v.GetString("VERIFICATION_BASE_URL"), "/"),
	}

	cfg.Mail = MailConfig{
		SMTPHost:     v.GetString("SMTP_HOST"),
		SMTPPort:     v.GetInt("SMTP_PORT"),
		SMTPUsername: v.GetString("SMTP_USERNAME"),
		SMTPPassword: v.GetString("SMTP_PASSWORD"),
		From:         v.GetString("MAIL_FROM"),
	}

	cfg.Notifications = NotificationConfig{
		ApproverEmails: splitAndTrim(v.GetString("NOTIFY_APPROVER_EMAILS")),
		Workers:        v.GetInt("NOTIFY_WORKERS"),
		BufferSize:     v.GetInt("NOTIFY_BUFFER"),
		MaxRetries:     v.GetInt("NOTIFY_MAX_RETRIES"),
		RetryDelay:     parseDuration(v.GetString("NOTIFY_RETRY_DELAY"), 5*time.Second),
	}

	cfg.School = SchoolConfig{
		TotalStudents:         v.GetInt("SCHOOL_TOTAL_STUDENTS"),
		AbsenceThreshold:      v.GetFloat64("ABSENCE_THRESHOLD"),
		BehavioralWeeklyLimit: v.GetInt("BEHAVIORAL_WEEKLY_LIMIT"),
	}

	cfg.Reports = ReportsConfig{
		CacheTTL: parseDuration(v.GetString("REPORTS_CACHE_TTL"), 2*time.Minute),
	}

	cfg.Sessions = SessionConfig{
		TTL:           parseDuration(v.GetString("CLIENT_SESSION_TTL"), 30*time.Minute),
		SweepInterval: parseDuration(v.GetString("CLIENT_SESSION_SWEEP"), time.Minute),
	}

	cfg.RateLimit = RateLimitConfig{AuthPerMinute: v.GetInt("RATE_LIMIT_AUTH")}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Metrics = MetricsConfig{Enabled: v.GetBool("METRICS_ENABLED")}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.AppID == "" {
		return errors.New("APP_ID must not be empty")
	}
	switch c.DocStore.Backend {
	case BackendMemory, BackendRedis, BackendPostgres:
	default:
		return fmt.Errorf("unsupported DOCSTORE_BACKEND %q", c.DocStore.Backend)
	}
	switch c.DocStore.Broker {
	case BrokerLocal, BrokerRedis:
	default:
		return fmt.Errorf("unsupported DOCSTORE_BROKER %q", c.DocStore.Broker)
	}
	switch c.Identity.Users {
	case BackendMemory, BackendPostgres:
	default:
		return fmt.Errorf("unsupported IDENTITY_USERS %q", c.Identity.Users)
	}
	if c.Env == EnvProduction && c.Identity.JWTSecret == "dev_secret" {
		return errors.New("JWT_SECRET must be set in production")
	}
	if c.School.AbsenceThreshold < 0 || c.School.AbsenceThreshold > 1 {
		return fmt.Errorf("ABSENCE_THRESHOLD must be within [0,1], got %v", c.School.AbsenceThreshold)
	}
	return nil
}

// NeedsRedis reports whether any configured component talks to redis.
func (c *Config) NeedsRedis() bool {
	return c.DocStore.Backend == BackendRedis || c.DocStore.Broker == BrokerRedis
}

// NeedsPostgres reports whether any configured component talks to postgres.
func (c *Config) NeedsPostgres() bool {
	return c.DocStore.Backend == BackendPostgres || c.Identity.Users == BackendPostgres
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")
	v.SetDefault("APP_ID", "jaber-school")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "sma_observations")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("DOCSTORE_BACKEND", BackendMemory)
	v.SetDefault("DOCSTORE_BROKER", BrokerLocal)
	v.SetDefault("DOCSTORE_CHANNEL", "docstore:changes")

	v.SetDefault("IDENTITY_USERS", BackendMemory)
	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_ISSUER", "sma-observation-api")
	v.SetDefault("CUSTOM_TOKEN_TTL", "1h")
	v.SetDefault("BOOTSTRAP_TOKEN", "")
	v.SetDefault("ANONYMOUS_SIGNIN", true)
	v.SetDefault("PASSWORD_MIN_LENGTH", 6)
	v.SetDefault("VERIFICATION_TTL", "24h")
	v.SetDefault("VERIFICATION_BASE_URL", "http://localhost:8080/api/v1")

	v.SetDefault("SMTP_HOST", "")
	v.SetDefault("SMTP_PORT", 587)
	v.SetDefault("SMTP_USERNAME", "")
	v.SetDefault("SMTP_PASSWORD", "")
	v.SetDefault("MAIL_FROM", "no-reply@jaber-school.local")

	v.SetDefault("NOTIFY_APPROVER_EMAILS", "")
	v.SetDefault("NOTIFY_WORKERS", 2)
	v.SetDefault("NOTIFY_BUFFER", 64)
	v.SetDefault("NOTIFY_MAX_RETRIES", 3)
	v.SetDefault("NOTIFY_RETRY_DELAY", "5s")

	v.SetDefault("SCHOOL_TOTAL_STUDENTS", 555)
	v.SetDefault("ABSENCE_THRESHOLD", 0.05)
	v.SetDefault("BEHAVIORAL_WEEKLY_LIMIT", 5)

	v.SetDefault("REPORTS_CACHE_TTL", "2m")
	v.SetDefault("CLIENT_SESSION_TTL", "30m")
	v.SetDefault("CLIENT_SESSION_SWEEP", "1m")
	v.SetDefault("RATE_LIMIT_AUTH", 20)

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("METRICS_ENABLED", true)
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
