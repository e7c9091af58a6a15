package handler

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/noah-isme/lms-api/internal/service"
)

func TestMetricsHandlerReady(t *testing.T) {
	ok := func(context.Context) error { return nil }
	down := func(context.Context) error { return errors.New("connection refused") }

	h := NewMetricsHandler(nil, map[string]ReadinessCheck{"postgres": ok, "redis": ok})
	rec := serveRoute(http.MethodGet, "/ready", "/ready", nil, nil, h.Ready)
	assert.Equal(t, http.StatusOK, rec.Code)

	h = NewMetricsHandler(nil, map[string]ReadinessCheck{"postgres": ok, "redis": down})
	rec = serveRoute(http.MethodGet, "/ready", "/ready", nil, nil, h.Ready)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "connection refused")
}

func TestMetricsHandlerPrometheus(t *testing.T) {
	h := NewMetricsHandler(nil, nil)
	rec := serveRoute(http.MethodGet, "/metrics", "/metrics", nil, nil, h.Prometheus)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	metrics := service.NewMetricsService()
	metrics.RecordEnrollment("created", 1)
	h = NewMetricsHandler(metrics, nil)
	rec = serveRoute(http.MethodGet, "/metrics", "/metrics", nil, nil, h.Prometheus)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "enrollments_total")

	rec = serveRoute(http.MethodGet, "/health", "/health", nil, nil, h.Health)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "requests_total")
}
