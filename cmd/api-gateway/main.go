package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	_ "github.com/noah-isme/lms-api/api/swagger"
	"github.com/noah-isme/lms-api/internal/handler"
	"github.com/noah-isme/lms-api/internal/repository"
	"github.com/noah-isme/lms-api/internal/service"
	"github.com/noah-isme/lms-api/pkg/cache"
	"github.com/noah-isme/lms-api/pkg/config"
	"github.com/noah-isme/lms-api/pkg/database"
	"github.com/noah-isme/lms-api/pkg/directory"
	"github.com/noah-isme/lms-api/pkg/export"
	"github.com/noah-isme/lms-api/pkg/jobs"
	"github.com/noah-isme/lms-api/pkg/logger"
	"github.com/noah-isme/lms-api/pkg/mailer"
	"github.com/noah-isme/lms-api/pkg/response"
	"github.com/noah-isme/lms-api/pkg/storage"
)

// @title Training LMS API
// @version 1.0.0
// @description Corporate training catalog, enrollment, attendance and certificate service
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if err := run(cfg, logr); err != nil {
		logr.Fatal("server failed", zap.Error(err))
	}
}

func run(cfg *config.Config, logr *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}
	response.SetExposeErrorDetail(cfg.Env != config.EnvProduction)

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(ctx, cfg.Redis)
	if err != nil {
		logr.Warn("redis unavailable, running without cache", zap.Error(err))
		redisClient = nil
	}
	cacheRepo := repository.NewCacheRepository(redisClient, logr)
	defer cacheRepo.Close() //nolint:errcheck
	if cfg.RateLimit.MaxRequests > 0 && !cacheRepo.Enabled() {
		logr.Warn("rate limiting needs redis and is disabled")
	}

	validate := validator.New()
	metrics := service.NewMetricsService()
	cacheSvc := service.NewCacheService(cacheRepo, metrics, 5*time.Minute, logr, cacheRepo.Enabled())

	userRepo := repository.NewUserRepository(db)
	planRepo := repository.NewPlanRepository(db)
	courseRepo := repository.NewCourseRepository(db)
	roundRepo := repository.NewRoundRepository(db)
	providerRepo := repository.NewProviderRepository(db)
	enrollmentRepo := repository.NewEnrollmentRepository(db)
	attendanceRepo := repository.NewAttendanceRepository(db)
	certificateRepo := repository.NewCertificateRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)
	deliveryRepo := repository.NewDeliveryRepository(db)
	outboxRepo := repository.NewOutboxRepository(db)
	dashboardRepo := repository.NewDashboardRepository(db)

	dir := directory.NewClient(cfg.Directory, logr)
	mail, err := mailer.New(cfg.Mail, dir, logr)
	if err != nil {
		return fmt.Errorf("init mailer: %w", err)
	}
	logr.Info("mail transport selected", zap.String("provider", mail.Name()))

	files, err := storage.NewLocalStorage(cfg.Certificates.StorageDir)
	if err != nil {
		return fmt.Errorf("init certificate storage: %w", err)
	}
	signer := storage.NewSignedURLSigner(cfg.Certificates.SignedURLSecret, cfg.Certificates.SignedURLTTL)

	authSvc := service.NewAuthService(userRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             "lms-api",
	})
	notificationSvc := service.NewNotificationService(notificationRepo, cacheSvc, cfg.Notifications.UnreadCacheTTL, logr)
	catalogSvc := service.NewCatalogService(planRepo, courseRepo, roundRepo, providerRepo, cacheSvc, validate, logr)
	attendanceSvc := service.NewAttendanceService(attendanceRepo, roundRepo, enrollmentRepo, validate, logr)
	dashboardSvc := service.NewDashboardService(dashboardRepo, cacheSvc, service.DashboardServiceConfig{CacheTTL: cfg.Dashboard.CacheTTL}, logr)
	exportSvc := service.NewExportService(export.NewCSVExporter(), export.NewPDFExporter(), logr)

	certificateSvc := service.NewCertificateService(service.CertificateDeps{
		Certificates:  certificateRepo,
		Enrollments:   enrollmentRepo,
		Files:         files,
		Signer:        signer,
		Renderer:      export.NewCertificateRenderer(cfg.Mail.FromName),
		Notifications: notificationRepo,
		Deliveries:    deliveryRepo,
		Mailer:        mail,
		Inbox:         notificationSvc,
		Metrics:       metrics,
	}, service.CertificateServiceConfig{
		AttendanceThreshold: cfg.Certificates.AttendanceThreshold,
		DownloadBaseURL:     cfg.PublicURL + cfg.APIPrefix + "/certificates/download/",
		PortalURL:           cfg.FrontendURL,
	}, logr)

	dispatcherDeps := service.DispatcherDeps{
		Enrollments:   enrollmentRepo,
		Rounds:        roundRepo,
		Users:         userRepo,
		Notifications: notificationRepo,
		Deliveries:    deliveryRepo,
		Mailer:        mail,
		Certificates:  certificateSvc,
		Inbox:         notificationSvc,
		Metrics:       metrics,
	}
	if cfg.Directory.CalendarEnabled && dir.Configured() {
		dispatcherDeps.Calendar = dir
	}
	dispatcher := service.NewNotificationDispatcher(dispatcherDeps, service.DispatcherConfig{
		FanoutBatchSize:     cfg.Notifications.FanoutBatchSize,
		FanoutMaxRecipients: cfg.Notifications.FanoutMaxRecipients,
		PortalURL:           cfg.FrontendURL,
	}, logr)

	relay := service.NewOutboxRelay(outboxRepo, dispatcher, metrics, service.OutboxRelayConfig{
		MaxAttempts: cfg.Notifications.MaxAttempts,
		RetryDelay:  cfg.Notifications.RetryDelay,
		BatchSize:   cfg.Notifications.RelayBatchSize,
	}, logr)
	// Retry policy lives in the outbox; the queue only covers transient bookkeeping errors.
	queue := jobs.NewQueue("notifications", relay.Process, jobs.QueueConfig{
		Workers:     cfg.Notifications.Workers,
		BufferSize:  cfg.Notifications.BufferSize,
		MaxRetries:  1,
		RetryDelay:  time.Second,
		OnExhausted: relay.OnExhausted,
		Logger:      logr,
	})
	relay.SetQueue(queue)
	metrics.WatchQueue("notifications", queue.Len)

	userSvc := service.NewUserService(userRepo, relay, validate, logr)
	userSvc.UseDirectory(dir)
	enrollmentSvc := service.NewEnrollmentService(enrollmentRepo, userRepo, roundRepo, relay, exportSvc, metrics,
		service.EnrollmentServiceConfig{BulkNotifySubscribers: cfg.Notifications.BulkEnrollNotifySubscribers}, validate, logr)
	reminderSvc := service.NewReminderService(roundRepo, enrollmentRepo, notificationRepo, notificationSvc, deliveryRepo, mail, metrics,
		service.ReminderServiceConfig{LeadTime: cfg.Scheduler.ReminderLeadTime, PortalURL: cfg.FrontendURL}, logr)

	queue.Start(ctx)
	defer queue.Stop()

	scheduler := jobs.NewScheduler(logr, 5*time.Minute)
	scheduler.UseLocker(cacheRepo)
	metrics.WatchScheduler(scheduler.Len)
	if cfg.Scheduler.Enabled {
		tasks := []struct {
			name string
			spec string
			task jobs.Task
		}{
			{"outbox-relay", cfg.Notifications.RelaySpec, relay.Tick},
			{"reconcile-seats", cfg.Scheduler.ReconcileSeats, enrollmentSvc.ReconcileSeats},
			{"session-reminders", cfg.Scheduler.ReminderSpec, reminderSvc.SendDue},
		}
		for _, t := range tasks {
			if err := scheduler.Register(t.name, t.spec, t.task); err != nil {
				return err
			}
		}
		scheduler.Start()
		defer scheduler.Stop()
	}

	h := handlers{
		auth:          handler.NewAuthHandler(authSvc),
		users:         handler.NewUserHandler(userSvc),
		catalog:       handler.NewCatalogHandler(catalogSvc, enrollmentSvc),
		enrollments:   handler.NewEnrollmentHandler(enrollmentSvc),
		attendance:    handler.NewAttendanceHandler(attendanceSvc),
		certificates:  handler.NewCertificateHandler(certificateSvc),
		notifications: handler.NewNotificationHandler(notificationSvc),
		dashboard:     handler.NewDashboardHandler(dashboardSvc),
		metrics: handler.NewMetricsHandler(metrics, map[string]handler.ReadinessCheck{
			"postgres": db.PingContext,
			"redis":    cacheRepo.Ping,
		}),
	}
	router := newRouter(cfg, logr, metrics, cacheRepo, authSvc, userRepo, h)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logr.Info("server starting", zap.String("addr", srv.Addr), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logr.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
