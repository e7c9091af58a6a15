package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/lms-api/internal/models"
	"github.com/noah-isme/lms-api/internal/service"
	appErrors "github.com/noah-isme/lms-api/pkg/errors"
	"github.com/noah-isme/lms-api/pkg/middleware/requestid"
)

type stubValidator struct {
	claims *models.JWTClaims
}

func (s stubValidator) ValidateToken(token string) (*models.JWTClaims, error) {
	if token != "good" {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token")
	}
	return s.claims, nil
}

type recordingAudit struct {
	logs []models.AuditLog
}

func (r *recordingAudit) CreateAuditLog(_ context.Context, log *models.AuditLog) error {
	r.logs = append(r.logs, *log)
	return nil
}

func newRouter(claims *models.JWTClaims, guards ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	handlers := append([]gin.HandlerFunc{JWT(stubValidator{claims: claims})}, guards...)
	handlers = append(handlers, func(c *gin.Context) { c.Status(http.StatusNoContent) })
	router.GET("/users/:id", handlers...)
	return router
}

func serve(router *gin.Engine, path, token string) int {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec.Code
}

func TestJWTRejectsMissingAndInvalidTokens(t *testing.T) {
	router := newRouter(&models.JWTClaims{UserID: "u1", Role: models.RoleEmployee})

	assert.Equal(t, http.StatusUnauthorized, serve(router, "/users/u1", ""))
	assert.Equal(t, http.StatusUnauthorized, serve(router, "/users/u1", "bad"))
	assert.Equal(t, http.StatusNoContent, serve(router, "/users/u1", "good"))

	for _, header := range []string{"Basic good", "Bearer ", "Bearer"} {
		req := httptest.NewRequest(http.MethodGet, "/users/u1", nil)
		req.Header.Set("Authorization", header)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, header)
		assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "Bearer")
	}
}

func TestRBACAllowsRolesAndSelf(t *testing.T) {
	employee := newRouter(&models.JWTClaims{UserID: "u1", Role: models.RoleEmployee}, RBAC(string(models.RoleAdministrator), RoleSelf))
	assert.Equal(t, http.StatusNoContent, serve(employee, "/users/u1", "good"))
	assert.Equal(t, http.StatusForbidden, serve(employee, "/users/u2", "good"))

	admin := newRouter(&models.JWTClaims{UserID: "a1", Role: models.RoleAdministrator}, RequireAdmin())
	assert.Equal(t, http.StatusNoContent, serve(admin, "/users/u2", "good"))

	trainer := newRouter(&models.JWTClaims{UserID: "t1", Role: models.RoleTrainer}, RequireManager())
	assert.Equal(t, http.StatusForbidden, serve(trainer, "/users/u2", "good"))
	trainer = newRouter(&models.JWTClaims{UserID: "t1", Role: models.RoleTrainer}, RequireTrainer())
	assert.Equal(t, http.StatusNoContent, serve(trainer, "/users/u2", "good"))
}

func TestAuditRecordsSuccessfulRequestsOnly(t *testing.T) {
	gin.SetMode(gin.TestMode)
	audit := &recordingAudit{}
	router := gin.New()
	router.Use(JWT(stubValidator{claims: &models.JWTClaims{UserID: "a1", Role: models.RoleAdministrator}}))
	router.DELETE("/enrollments/:id", Audit(audit, nil, models.AuditActionEnrollDelete, "enrollment"), func(c *gin.Context) {
		if c.Param("id") == "missing" {
			c.Status(http.StatusNotFound)
			return
		}
		c.Status(http.StatusNoContent)
	})

	for _, id := range []string{"e1", "missing"} {
		req := httptest.NewRequest(http.MethodDelete, "/enrollments/"+id, nil)
		req.Header.Set("Authorization", "Bearer good")
		router.ServeHTTP(httptest.NewRecorder(), req)
	}

	require.Len(t, audit.logs, 1)
	assert.Equal(t, models.AuditActionEnrollDelete, audit.logs[0].Action)
	assert.Equal(t, "e1", *audit.logs[0].ResourceID)
	assert.Equal(t, "a1", *audit.logs[0].UserID)
}

func TestResponseMetaRecordsCacheHitAndRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var meta map[string]interface{}
	router := gin.New()
	router.Use(requestid.Middleware(), WithResponseMeta())
	router.GET("/", func(c *gin.Context) {
		SetCacheHit(c, false)
		meta = ExtractMeta(c)
		c.Status(http.StatusNoContent)
	})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, false, meta["cache_hit"])
	assert.Equal(t, "req-42", meta["request_id"])
	assert.Contains(t, meta, "processing_time_ms")
	assert.Equal(t, "MISS", rec.Header().Get("X-Cache"))
}

func TestExtractMetaWithoutMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	assert.Nil(t, ExtractMeta(c))
}

func TestMetricsLabelsByRouteTemplate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	metrics := service.NewMetricsService()
	router := gin.New()
	router.Use(Metrics(metrics))
	router.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })
	router.GET("/rounds/:id", func(c *gin.Context) { c.Status(http.StatusOK) })

	for _, path := range []string{"/health", "/rounds/r1", "/rounds/r2", "/wp-login.php"} {
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	assert.Equal(t, uint64(3), metrics.Snapshot().RequestsTotal)
	scrape := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(scrape, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := scrape.Body.String()
	assert.Contains(t, body, `http_requests_total{method="GET",path="/rounds/:id",status="200"} 2`)
	assert.Contains(t, body, `path="unmatched"`)
	assert.NotContains(t, body, "wp-login")
	assert.NotContains(t, body, `path="/health"`)
}
