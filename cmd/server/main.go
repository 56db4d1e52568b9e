package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/sgescolar/sge-api/api/swagger"
	"github.com/sgescolar/sge-api/internal/handler"
	"github.com/sgescolar/sge-api/internal/middleware"
	"github.com/sgescolar/sge-api/internal/models"
	"github.com/sgescolar/sge-api/internal/repository"
	"github.com/sgescolar/sge-api/internal/service"
	"github.com/sgescolar/sge-api/pkg/cache"
	"github.com/sgescolar/sge-api/pkg/config"
	"github.com/sgescolar/sge-api/pkg/database"
	"github.com/sgescolar/sge-api/pkg/logger"
	"github.com/sgescolar/sge-api/pkg/mailer"
	corsmiddleware "github.com/sgescolar/sge-api/pkg/middleware/cors"
	reqidmiddleware "github.com/sgescolar/sge-api/pkg/middleware/requestid"
	"github.com/sgescolar/sge-api/pkg/storage"
)

// @title SGE API
// @version 1.0.0
// @description Portal de gestão escolar: matrículas, alunos, notas, frequência e avisos
// @BasePath /api/v1
// @schemes http
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

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Warnw("redis unavailable, caching disabled", "error", err)
		redisClient = nil
	}

	validate := validator.New()

	// Repositories.
	userRepo := repository.NewUserRepository(db)
	enrollmentRepo := repository.NewEnrollmentRepository(db)
	studentRepo := repository.NewStudentRepository(db)
	teacherRepo := repository.NewTeacherRepository(db)
	gradeRepo := repository.NewGradeRepository(db)
	attendanceRepo := repository.NewAttendanceRepository(db)
	calendarRepo := repository.NewCalendarRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)

	// Services.
	metricsSvc := service.NewMetricsService()

	notifierSvc := service.NewNotifierService(mailer.FromConfig(cfg.SMTP, logr), cfg.Notifier, metricsSvc, logr)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	notifierSvc.Start(ctx)
	defer notifierSvc.Stop()

	credentialSvc := service.NewCredentialService(userRepo)
	provisionSvc := service.NewProvisionService(credentialSvc, logr)

	authSvc := service.NewAuthService(userRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret: cfg.JWT.Secret,
		AccessTokenExpiry: cfg.JWT.Expiration,
		Issuer:            cfg.JWT.Issuer,
	})
	enrollmentSvc := service.NewEnrollmentService(enrollmentRepo, studentRepo, provisionSvc, notifierSvc, notificationRepo, userRepo, metricsSvc, validate, logr)
	studentSvc := service.NewStudentService(studentRepo, provisionSvc, notifierSvc, userRepo, validate, logr)
	teacherSvc := service.NewTeacherService(teacherRepo, provisionSvc, notifierSvc, validate, logr)
	gradeSvc := service.NewGradeService(gradeRepo, studentRepo, validate, logr)
	attendanceSvc := service.NewAttendanceService(attendanceRepo, studentRepo, validate, logr)
	calendarSvc := service.NewCalendarService(calendarRepo, cacheRepo, cfg.Calendar.CacheTTL, metricsSvc, validate, logr)
	notificationSvc := service.NewNotificationService(notificationRepo, cacheRepo, cfg.Notifications.UnreadCountTTL, metricsSvc, logr)

	exportStore, err := storage.NewLocalStorage(cfg.Export.Dir)
	if err != nil {
		logr.Sugar().Fatalw("failed to init export storage", "error", err)
	}
	exportSecret := cfg.Export.SignSecret
	if exportSecret == "" {
		exportSecret = cfg.JWT.Secret
	}
	exportSigner := storage.NewSigner(exportSecret, cfg.Export.LinkTTL)
	exportSvc := service.NewExportService(studentRepo, gradeRepo, exportStore, exportSigner, logr)

	metricsSvc.RegisterEnrollmentBacklog(func() float64 {
		countCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		total, err := enrollmentRepo.CountByStatus(countCtx, models.EnrollmentStatusPending)
		if err != nil {
			logr.Sugar().Warnw("failed to count pending enrollment requests", "error", err)
			return 0
		}
		return float64(total)
	})

	// Handlers.
	authHandler := handler.NewAuthHandler(authSvc)
	enrollmentHandler := handler.NewEnrollmentHandler(enrollmentSvc)
	studentHandler := handler.NewStudentHandler(studentSvc)
	teacherHandler := handler.NewTeacherHandler(teacherSvc)
	gradeHandler := handler.NewGradeHandler(gradeSvc)
	attendanceHandler := handler.NewAttendanceHandler(attendanceSvc)
	calendarHandler := handler.NewCalendarHandler(calendarSvc)
	notificationHandler := handler.NewNotificationHandler(notificationSvc)
	exportHandler := handler.NewExportHandler(exportSvc)
	metricsHandler := handler.NewMetricsHandler(metricsSvc)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)

	auth := api.Group("/auth")
	{
		auth.POST("/login", authHandler.Login)
		auth.POST("/change-password", middleware.JWT(authSvc), authHandler.ChangePassword)
		auth.GET("/me", middleware.JWT(authSvc), authHandler.Me)
	}

	enrollments := api.Group("/enrollment-requests")
	{
		enrollments.POST("", enrollmentHandler.Submit)
		enrollments.GET("", middleware.JWT(authSvc), middleware.RequireRoles(models.RoleAdmin), enrollmentHandler.List)
		enrollments.GET("/:id", middleware.JWT(authSvc), middleware.RequireRoles(models.RoleAdmin), enrollmentHandler.Get)
		enrollments.POST("/:id/resolve", middleware.JWT(authSvc), middleware.RequireRoles(models.RoleAdmin), enrollmentHandler.Resolve)
	}

	students := api.Group("/students", middleware.JWT(authSvc))
	{
		students.GET("", middleware.RequireRoles(models.RoleAdmin, models.RoleTeacher), studentHandler.List)
		students.GET("/:id", studentHandler.Get)
		students.POST("", middleware.RequireRoles(models.RoleAdmin), studentHandler.Create)
		students.PUT("/:id", middleware.RequireRoles(models.RoleAdmin), studentHandler.Update)
		students.DELETE("/:id", middleware.RequireRoles(models.RoleAdmin), studentHandler.Deactivate)
	}

	teachers := api.Group("/teachers", middleware.JWT(authSvc))
	{
		teachers.GET("", middleware.RequireRoles(models.RoleAdmin), teacherHandler.List)
		teachers.GET("/:id", teacherHandler.Get)
		teachers.POST("", middleware.RequireRoles(models.RoleAdmin), teacherHandler.Create)
		teachers.PUT("/:id", middleware.RequireRoles(models.RoleAdmin), teacherHandler.Update)
		teachers.DELETE("/:id", middleware.RequireRoles(models.RoleAdmin), teacherHandler.Deactivate)
	}

	grades := api.Group("/grades", middleware.JWT(authSvc))
	{
		grades.GET("", gradeHandler.List)
		grades.PUT("", middleware.RequireRoles(models.RoleAdmin, models.RoleTeacher), gradeHandler.Upsert)
		grades.DELETE("/:id", middleware.RequireRoles(models.RoleAdmin, models.RoleTeacher), gradeHandler.Delete)
	}
	api.GET("/subjects", middleware.JWT(authSvc), gradeHandler.ListSubjects)

	attendance := api.Group("/attendance", middleware.JWT(authSvc))
	{
		attendance.GET("", attendanceHandler.List)
		attendance.PUT("", middleware.RequireRoles(models.RoleAdmin, models.RoleTeacher), attendanceHandler.Record)
	}

	calendar := api.Group("/calendar", middleware.JWT(authSvc))
	{
		calendar.GET("", calendarHandler.List)
		calendar.GET("/:id", calendarHandler.Get)
		calendar.POST("", middleware.RequireRoles(models.RoleAdmin), calendarHandler.Create)
		calendar.PUT("/:id", middleware.RequireRoles(models.RoleAdmin), calendarHandler.Update)
		calendar.DELETE("/:id", middleware.RequireRoles(models.RoleAdmin), calendarHandler.Delete)
	}

	notifications := api.Group("/notifications", middleware.JWT(authSvc))
	{
		notifications.GET("", notificationHandler.List)
		notifications.GET("/unread", notificationHandler.Unread)
		notifications.POST("/:id/read", notificationHandler.MarkRead)
		notifications.POST("/read-all", notificationHandler.MarkAllRead)
	}

	exports := api.Group("/exports", middleware.JWT(authSvc), middleware.RequireRoles(models.RoleAdmin, models.RoleTeacher))
	{
		exports.GET("/roster", exportHandler.Roster)
		exports.GET("/grades", exportHandler.GradeReport)
	}
	// The signed token carries the download authorization.
	api.GET("/exports/download/:token", exportHandler.Download)

	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if removed, err := exportStore.CleanupOlderThan(cfg.Export.LinkTTL); err != nil {
					logr.Sugar().Warnw("export cleanup failed", "error", err)
				} else if removed > 0 {
					logr.Sugar().Infow("removed expired export files", "count", removed)
				}
			}
		}
	}()

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("graceful shutdown failed", "error", err)
	}
}
