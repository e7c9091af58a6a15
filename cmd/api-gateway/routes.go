package main

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"github.com/noah-isme/lms-api/internal/handler"
	"github.com/noah-isme/lms-api/internal/middleware"
	"github.com/noah-isme/lms-api/internal/models"
	"github.com/noah-isme/lms-api/internal/service"
	"github.com/noah-isme/lms-api/pkg/config"
	"github.com/noah-isme/lms-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/lms-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/lms-api/pkg/middleware/requestid"
	"github.com/noah-isme/lms-api/pkg/response"
)

type handlers struct {
	auth          *handler.AuthHandler
	users         *handler.UserHandler
	catalog       *handler.CatalogHandler
	enrollments   *handler.EnrollmentHandler
	attendance    *handler.AttendanceHandler
	certificates  *handler.CertificateHandler
	notifications *handler.NotificationHandler
	dashboard     *handler.DashboardHandler
	metrics       *handler.MetricsHandler
}

func newRouter(cfg *config.Config, logr *zap.Logger, metrics *service.MetricsService, limiter middleware.HitCounter, tokens middleware.TokenValidator, audit middleware.AuditWriter, h handlers) *gin.Engine {
	r := gin.New()
	r.Use(response.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr, logger.RequestOptions{
		QuietRoutes:  []string{"/health", "/ready", "/metrics"},
		RedactParams: []string{"token"},
	}))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metrics))
	if cfg.RateLimit.MaxRequests > 0 {
		r.Use(middleware.RateLimit(limiter, cfg.RateLimit, logr))
	}
	r.Use(middleware.WithResponseMeta())

	r.GET("/health", h.metrics.Health)
	r.GET("/ready", h.metrics.Ready)
	r.GET("/metrics", h.metrics.Prometheus)
	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	trace := func(action, resource string) gin.HandlerFunc {
		return middleware.Audit(audit, logr, action, resource)
	}
	staff := middleware.RequireRoles(models.RoleAdministrator, models.RoleManager, models.RoleTrainer)

	api := r.Group(cfg.APIPrefix)

	auth := api.Group("/auth")
	auth.POST("/login", h.auth.Login)
	auth.POST("/refresh", h.auth.Refresh)

	// Signed links carry their own authorisation.
	api.GET("/certificates/download/:token", h.certificates.Download)

	secured := api.Group("")
	secured.Use(middleware.JWT(tokens), middleware.UUIDParams("id", "userId", "planId", "sessionId"))

	secured.POST("/auth/logout", h.auth.Logout)
	secured.POST("/auth/change-password", h.auth.ChangePassword)
	secured.GET("/auth/me", h.auth.Me)

	users := secured.Group("/users")
	users.GET("", middleware.RequireAdmin(), h.users.List)
	users.GET("/directory", middleware.RequireAdmin(), h.users.Directory)
	users.GET("/:id", middleware.RBAC(string(models.RoleAdministrator), middleware.RoleSelf), h.users.Get)
	users.POST("", middleware.RequireAdmin(), h.users.Create)
	users.PUT("/:id", middleware.RequireAdmin(), h.users.Update)
	users.DELETE("/:id", middleware.RequireAdmin(), h.users.Delete)

	plans := secured.Group("/plans")
	plans.GET("", h.catalog.ListPlans)
	plans.GET("/:id", h.catalog.GetPlan)
	plans.POST("", middleware.RequireManager(), trace(models.AuditActionCatalogWrite, "plan"), h.catalog.CreatePlan)
	plans.PUT("/:id", middleware.RequireManager(), trace(models.AuditActionCatalogWrite, "plan"), h.catalog.UpdatePlan)

	courses := secured.Group("/courses")
	courses.GET("", h.catalog.ListCourses)
	courses.GET("/plan/:planId", h.catalog.ListCoursesByPlan)
	courses.GET("/:id", h.catalog.GetCourse)
	courses.POST("", middleware.RequireManager(), trace(models.AuditActionCatalogWrite, "course"), h.catalog.CreateCourse)

	rounds := secured.Group("/rounds")
	rounds.GET("", h.catalog.ListRounds)
	rounds.GET("/:id", h.catalog.GetRound)
	rounds.POST("", middleware.RequireManager(), trace(models.AuditActionCatalogWrite, "round"), h.catalog.CreateRound)
	rounds.PATCH("/:id/status", middleware.RequireManager(), trace(models.AuditActionCatalogWrite, "round"), h.catalog.UpdateRoundStatus)
	rounds.POST("/:id/recount", middleware.RequireAdmin(), h.catalog.RecountSeats)
	rounds.GET("/:id/sessions", h.catalog.ListSessions)
	rounds.POST("/:id/sessions", staff, trace(models.AuditActionCatalogWrite, "session"), h.catalog.CreateSession)

	secured.GET("/providers", h.catalog.ListProviders)
	secured.POST("/providers", middleware.RequireManager(), trace(models.AuditActionCatalogWrite, "provider"), h.catalog.CreateProvider)
	secured.GET("/trainers", h.catalog.ListTrainers)
	secured.POST("/trainers", middleware.RequireManager(), trace(models.AuditActionCatalogWrite, "trainer"), h.catalog.CreateTrainer)

	enrollments := secured.Group("/enrollments")
	enrollments.POST("", trace(models.AuditActionEnroll, "enrollment"), h.enrollments.Enroll)
	enrollments.POST("/bulk", middleware.RequireManager(), trace(models.AuditActionBulkEnroll, "enrollment"), h.enrollments.EnrollBulk)
	enrollments.GET("", staff, h.enrollments.List)
	enrollments.GET("/export", staff, h.enrollments.Export)
	enrollments.GET("/user/:userId", middleware.RBAC(string(models.RoleAdministrator), string(models.RoleManager), middleware.RoleSelf), h.enrollments.ListByUser)
	enrollments.GET("/:id", h.enrollments.Get)
	enrollments.PATCH("/:id", staff, trace(models.AuditActionEnrollUpdate, "enrollment"), h.enrollments.Update)
	enrollments.DELETE("/:id", middleware.RequireAdmin(), trace(models.AuditActionEnrollDelete, "enrollment"), h.enrollments.Delete)

	attendance := secured.Group("/attendance", middleware.RequireTrainer())
	attendance.POST("", trace(models.AuditActionAttendance, "attendance"), h.attendance.Mark)
	attendance.POST("/bulk", trace(models.AuditActionAttendance, "attendance"), h.attendance.MarkBulk)
	attendance.GET("/session/:sessionId", h.attendance.ListBySession)

	certificates := secured.Group("/certificates")
	certificates.GET("/me", h.certificates.ListMine)
	certificates.POST("/enrollments/:id", middleware.RequireManager(), trace(models.AuditActionCertificate, "certificate"), h.certificates.Issue)

	notifications := secured.Group("/notifications")
	notifications.GET("", h.notifications.List)
	notifications.GET("/admin", middleware.RequireAdmin(), h.notifications.AdminFeed)
	notifications.PATCH("/mark-all-read", h.notifications.MarkAllRead)
	notifications.GET("/subscriptions", h.notifications.Subscriptions)
	notifications.PUT("/subscriptions/:topic", h.notifications.UpdateSubscription)
	notifications.PATCH("/:id/read", h.notifications.MarkRead)
	notifications.DELETE("/:id", h.notifications.Delete)

	if cfg.Dashboard.Enabled {
		secured.GET("/dashboard/stats", middleware.RequireManager(), h.dashboard.Stats)
	}

	return r
}
