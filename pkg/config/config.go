package config

import (
	"errors"
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

// Mail provider identifiers accepted by MAIL_PROVIDER.
const (
	MailProviderSMTP     = "smtp"
	MailProviderGraph    = "graph"
	MailProviderSendGrid = "sendgrid"
	MailProviderLog      = "log"
)

type Config struct {
	Env         string
	Port        int
	APIPrefix   string
	FrontendURL string
	PublicURL   string

	Database      DatabaseConfig
	Redis         RedisConfig
	JWT           JWTConfig
	CORS          CORSConfig
	Log           LogConfig
	Mail          MailConfig
	Directory     DirectoryConfig
	Notifications NotificationsConfig
	Certificates  CertificatesConfig
	Scheduler     SchedulerConfig
	Dashboard     DashboardConfig
	RateLimit     RateLimitConfig
}

// DatabaseConfig locates PostgreSQL. URL, when set, wins over the discrete fields.
type DatabaseConfig struct {
	URL          string
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

// RedisConfig locates Redis. URL, when set, wins over the discrete fields.
type RedisConfig struct {
	URL      string
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret            string
	Expiration        time.Duration
	RefreshExpiration time.Duration
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// MailConfig selects and configures the outbound email transport.
type MailConfig struct {
	Provider       string
	From           string
	FromName       string
	SMTPHost       string
	SMTPPort       int
	SMTPUser       string
	SMTPPassword   string
	SendGridAPIKey string
	Timeout        time.Duration
}

// DirectoryConfig configures the Graph-style directory service client.
type DirectoryConfig struct {
	TenantID        string
	ClientID        string
	ClientSecret    string
	BaseURL         string
	TokenURL        string
	Sender          string
	CalendarEnabled bool
	Timeout         time.Duration
}

// NotificationsConfig tunes the enrollment fan-out worker pool and outbox relay.
type NotificationsConfig struct {
	Workers                     int
	BufferSize                  int
	MaxAttempts                 int
	RetryDelay                  time.Duration
	RelaySpec                   string
	RelayBatchSize              int
	FanoutBatchSize             int
	FanoutMaxRecipients         int
	BulkEnrollNotifySubscribers bool
	UnreadCacheTTL              time.Duration
}

// CertificatesConfig controls certificate storage and eligibility.
type CertificatesConfig struct {
	StorageDir          string
	SignedURLSecret     string
	SignedURLTTL        time.Duration
	AttendanceThreshold float64
}

// SchedulerConfig holds cron specs for periodic maintenance jobs.
type SchedulerConfig struct {
	Enabled          bool
	ReconcileSeats   string
	ReminderSpec     string
	ReminderLeadTime time.Duration
}

// DashboardConfig governs dashboard exposure and cache tuning.
type DashboardConfig struct {
	Enabled  bool
	CacheTTL time.Duration
}

// RateLimitConfig caps requests per client IP in a fixed window. MaxRequests <= 0 disables it.
type RateLimitConfig struct {
	Window      time.Duration
	MaxRequests int
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

	return fromViper(v), nil
}

func fromViper(v *viper.Viper) *Config {
	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")
	cfg.FrontendURL = strings.TrimRight(v.GetString("FRONTEND_URL"), "/")
	cfg.PublicURL = strings.TrimRight(v.GetString("PUBLIC_URL"), "/")

	cfg.Database = DatabaseConfig{
		URL:          v.GetString("DATABASE_URL"),
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
		URL:      v.GetString("REDIS_URL"),
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret:            v.GetString("JWT_SECRET"),
		Expiration:        parseDuration(v.GetString("JWT_EXPIRATION"), 24*time.Hour),
		RefreshExpiration: parseDuration(v.GetString("REFRESH_TOKEN_EXPIRATION"), 7*24*time.Hour),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Mail = MailConfig{
		Provider:       strings.ToLower(v.GetString("MAIL_PROVIDER")),
		From:           v.GetString("MAIL_FROM"),
		FromName:       v.GetString("MAIL_FROM_NAME"),
		SMTPHost:       v.GetString("SMTP_HOST"),
		SMTPPort:       v.GetInt("SMTP_PORT"),
		SMTPUser:       v.GetString("SMTP_USER"),
		SMTPPassword:   v.GetString("SMTP_PASSWORD"),
		SendGridAPIKey: v.GetString("SENDGRID_API_KEY"),
		Timeout:        parseDuration(v.GetString("MAIL_TIMEOUT"), 10*time.Second),
	}

	cfg.Directory = DirectoryConfig{
		TenantID:        v.GetString("DIRECTORY_TENANT_ID"),
		ClientID:        v.GetString("DIRECTORY_CLIENT_ID"),
		ClientSecret:    v.GetString("DIRECTORY_CLIENT_SECRET"),
		BaseURL:         v.GetString("DIRECTORY_BASE_URL"),
		TokenURL:        v.GetString("DIRECTORY_TOKEN_URL"),
		Sender:          v.GetString("DIRECTORY_SENDER"),
		CalendarEnabled: v.GetBool("DIRECTORY_CALENDAR_ENABLED"),
		Timeout:         parseDuration(v.GetString("DIRECTORY_TIMEOUT"), 10*time.Second),
	}

	cfg.Notifications = NotificationsConfig{
		Workers:                     v.GetInt("NOTIFY_WORKERS"),
		BufferSize:                  v.GetInt("NOTIFY_BUFFER"),
		MaxAttempts:                 v.GetInt("NOTIFY_MAX_ATTEMPTS"),
		RetryDelay:                  parseDuration(v.GetString("NOTIFY_RETRY_DELAY"), 30*time.Second),
		RelaySpec:                   v.GetString("NOTIFY_RELAY_SPEC"),
		RelayBatchSize:              v.GetInt("NOTIFY_RELAY_BATCH_SIZE"),
		FanoutBatchSize:             v.GetInt("NOTIFY_FANOUT_BATCH_SIZE"),
		FanoutMaxRecipients:         v.GetInt("NOTIFY_FANOUT_MAX_RECIPIENTS"),
		BulkEnrollNotifySubscribers: v.GetBool("BULK_ENROLL_NOTIFY_SUBSCRIBERS"),
		UnreadCacheTTL:              parseDuration(v.GetString("NOTIFY_UNREAD_CACHE_TTL"), 5*time.Minute),
	}

	cfg.Certificates = CertificatesConfig{
		StorageDir:          v.GetString("CERTIFICATES_STORAGE_DIR"),
		SignedURLSecret:     v.GetString("CERTIFICATES_SIGNED_URL_SECRET"),
		SignedURLTTL:        parseDuration(v.GetString("CERTIFICATES_SIGNED_URL_TTL"), 24*time.Hour),
		AttendanceThreshold: v.GetFloat64("ATTENDANCE_THRESHOLD"),
	}

	cfg.Scheduler = SchedulerConfig{
		Enabled:          v.GetBool("ENABLE_SCHEDULER"),
		ReconcileSeats:   v.GetString("RECONCILE_SEATS_SPEC"),
		ReminderSpec:     v.GetString("REMINDER_SPEC"),
		ReminderLeadTime: parseDuration(v.GetString("REMINDER_LEAD_TIME"), 24*time.Hour),
	}

	cfg.Dashboard = DashboardConfig{
		Enabled:  v.GetBool("ENABLE_DASHBOARD"),
		CacheTTL: parseDuration(v.GetString("DASHBOARD_CACHE_TTL"), 5*time.Minute),
	}

	cfg.RateLimit = RateLimitConfig{
		Window:      parseDuration(v.GetString("RATE_LIMIT_WINDOW"), 15*time.Minute),
		MaxRequests: v.GetInt("RATE_LIMIT_MAX_REQUESTS"),
	}

	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")
	v.SetDefault("FRONTEND_URL", "http://localhost:5173")
	v.SetDefault("PUBLIC_URL", "http://localhost:8080")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "lms")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_EXPIRATION", "24h")
	v.SetDefault("REFRESH_TOKEN_EXPIRATION", "168h")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("MAIL_PROVIDER", MailProviderLog)
	v.SetDefault("MAIL_FROM", "noreply@lms.local")
	v.SetDefault("MAIL_FROM_NAME", "Training Portal")
	v.SetDefault("SMTP_HOST", "localhost")
	v.SetDefault("SMTP_PORT", 587)
	v.SetDefault("MAIL_TIMEOUT", "10s")

	v.SetDefault("DIRECTORY_BASE_URL", "https://graph.microsoft.com/v1.0")
	v.SetDefault("DIRECTORY_TOKEN_URL", "")
	v.SetDefault("DIRECTORY_CALENDAR_ENABLED", false)
	v.SetDefault("DIRECTORY_TIMEOUT", "10s")

	v.SetDefault("NOTIFY_WORKERS", 4)
	v.SetDefault("NOTIFY_BUFFER", 256)
	v.SetDefault("NOTIFY_MAX_ATTEMPTS", 5)
	v.SetDefault("NOTIFY_RETRY_DELAY", "30s")
	v.SetDefault("NOTIFY_RELAY_SPEC", "@every 1m")
	v.SetDefault("NOTIFY_RELAY_BATCH_SIZE", 100)
	v.SetDefault("NOTIFY_FANOUT_BATCH_SIZE", 500)
	v.SetDefault("NOTIFY_FANOUT_MAX_RECIPIENTS", 0)
	v.SetDefault("BULK_ENROLL_NOTIFY_SUBSCRIBERS", false)
	v.SetDefault("NOTIFY_UNREAD_CACHE_TTL", "5m")

	v.SetDefault("CERTIFICATES_STORAGE_DIR", "./certificates")
	v.SetDefault("CERTIFICATES_SIGNED_URL_SECRET", "dev_certificates_secret")
	v.SetDefault("CERTIFICATES_SIGNED_URL_TTL", "24h")
	v.SetDefault("ATTENDANCE_THRESHOLD", 70)

	v.SetDefault("ENABLE_SCHEDULER", true)
	v.SetDefault("RECONCILE_SEATS_SPEC", "0 2 * * *")
	v.SetDefault("REMINDER_SPEC", "0 8 * * *")
	v.SetDefault("REMINDER_LEAD_TIME", "24h")

	v.SetDefault("ENABLE_DASHBOARD", true)
	v.SetDefault("DASHBOARD_CACHE_TTL", "5m")

	v.SetDefault("RATE_LIMIT_WINDOW", "15m")
	v.SetDefault("RATE_LIMIT_MAX_REQUESTS", 100)
}

// TokenEndpoint returns the OAuth token endpoint, deriving it from the tenant when unset.
func (c DirectoryConfig) TokenEndpoint() string {
	if c.TokenURL != "" {
		return c.TokenURL
	}
	if c.TenantID == "" {
		return ""
	}
	return "https://login.microsoftonline.com/" + c.TenantID + "/oauth2/v2.0/token"
}

// Configured reports whether client credentials are present.
func (c DirectoryConfig) Configured() bool {
	return c.ClientID != "" && c.ClientSecret != "" && c.TokenEndpoint() != ""
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
