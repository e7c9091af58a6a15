package logger

import (
	"fmt"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/noah-isme/lms-api/pkg/config"
	"github.com/noah-isme/lms-api/pkg/middleware/requestid"
)

const redacted = "[redacted]"

// New builds the process logger. Production defaults to JSON at info; LOG_LEVEL and LOG_FORMAT
// override either environment.
func New(cfg *config.Config) (*zap.Logger, error) {
	zapCfg := zap.NewDevelopmentConfig()
	if cfg.Env == config.EnvProduction {
		zapCfg = zap.NewProductionConfig()
	}

	zapCfg.Encoding = "json"
	if strings.EqualFold(cfg.Log.Format, "console") {
		zapCfg.Encoding = "console"
	}
	if cfg.Log.Level != "" {
		level, err := zapcore.ParseLevel(cfg.Log.Level)
		if err != nil {
			return nil, fmt.Errorf("log level %q: %w", cfg.Log.Level, err)
		}
		zapCfg.Level = zap.NewAtomicLevelAt(level)
	}
	zapCfg.EncoderConfig.TimeKey = "timestamp"
	zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return zapCfg.Build(zap.Fields(
		zap.String("service", "lms-api"),
		zap.String("env", cfg.Env),
	))
}

// RequestOptions tunes GinMiddleware.
type RequestOptions struct {
	// QuietRoutes are route templates logged only when they fail.
	QuietRoutes []string
	// RedactParams are path parameters whose values are masked in the logged path.
	RedactParams []string
}

// GinMiddleware logs one line per request: 4xx at warn, 5xx at error.
func GinMiddleware(l *zap.Logger, opts RequestOptions) gin.HandlerFunc {
	quiet := make(map[string]struct{}, len(opts.QuietRoutes))
	for _, route := range opts.QuietRoutes {
		quiet[route] = struct{}{}
	}

	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		route := c.FullPath()
		if _, ok := quiet[route]; ok && status < 400 {
			return
		}

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("route", route),
			zap.String("path", maskPath(c, opts.RedactParams)),
			zap.Int("status", status),
			zap.Int("bytes", c.Writer.Size()),
			zap.Duration("latency", time.Since(start)),
			zap.String("ip", c.ClientIP()),
		}
		if reqID := requestid.Value(c); reqID != "" {
			fields = append(fields, zap.String("request_id", reqID))
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}

		switch {
		case status >= 500:
			l.Error("http_request", fields...)
		case status >= 400:
			l.Warn("http_request", fields...)
		default:
			l.Info("http_request", fields...)
		}
	}
}

func maskPath(c *gin.Context, params []string) string {
	path := c.Request.URL.Path
	for _, name := range params {
		if value := c.Param(name); value != "" {
			path = strings.ReplaceAll(path, value, redacted)
		}
	}
	return path
}
