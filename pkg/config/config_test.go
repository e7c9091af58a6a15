package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
)

func TestFromViperDefaults(t *testing.T) {
	v := viper.New()
	setDefaults(v)

	cfg := fromViper(v)

	assert.Equal(t, EnvDevelopment, cfg.Env)
	assert.Equal(t, "/api/v1", cfg.APIPrefix)
	assert.Equal(t, "http://localhost:8080", cfg.PublicURL)
	assert.Equal(t, MailProviderLog, cfg.Mail.Provider)
	assert.Equal(t, 5, cfg.Notifications.MaxAttempts)
	assert.Equal(t, 500, cfg.Notifications.FanoutBatchSize)
	assert.False(t, cfg.Notifications.BulkEnrollNotifySubscribers)
	assert.Equal(t, 70.0, cfg.Certificates.AttendanceThreshold)
	assert.Equal(t, 24*time.Hour, cfg.Scheduler.ReminderLeadTime)
	assert.Equal(t, 15*time.Minute, cfg.RateLimit.Window)
	assert.Equal(t, 100, cfg.RateLimit.MaxRequests)
	assert.Empty(t, cfg.Database.URL)
}

func TestFromViperOverrides(t *testing.T) {
	v := viper.New()
	setDefaults(v)
	v.Set("MAIL_PROVIDER", "SendGrid")
	v.Set("NOTIFY_RETRY_DELAY", "not-a-duration")
	v.Set("ALLOWED_ORIGINS", " https://a.example , ,https://b.example")
	v.Set("FRONTEND_URL", "https://lms.example/")
	v.Set("DATABASE_URL", "postgres://u:p@db/lms")
	v.Set("REDIS_URL", "redis://cache:6379/1")
	v.Set("RATE_LIMIT_MAX_REQUESTS", 0)

	cfg := fromViper(v)

	assert.Equal(t, MailProviderSendGrid, cfg.Mail.Provider)
	assert.Equal(t, 30*time.Second, cfg.Notifications.RetryDelay)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORS.AllowedOrigins)
	assert.Equal(t, "https://lms.example", cfg.FrontendURL)
	assert.Equal(t, "postgres://u:p@db/lms", cfg.Database.URL)
	assert.Equal(t, "redis://cache:6379/1", cfg.Redis.URL)
	assert.Zero(t, cfg.RateLimit.MaxRequests)
}

func TestDirectoryTokenEndpoint(t *testing.T) {
	assert.Equal(t, "", DirectoryConfig{}.TokenEndpoint())
	assert.Equal(t, "https://login.microsoftonline.com/tenant/oauth2/v2.0/token", DirectoryConfig{TenantID: "tenant"}.TokenEndpoint())
	assert.Equal(t, "https://token.local", DirectoryConfig{TenantID: "tenant", TokenURL: "https://token.local"}.TokenEndpoint())

	assert.False(t, DirectoryConfig{ClientID: "id"}.Configured())
	assert.True(t, DirectoryConfig{ClientID: "id", ClientSecret: "secret", TenantID: "t"}.Configured())
}
