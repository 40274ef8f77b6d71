package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"gorm.io/gorm"

	"github.com/Shamiri-Institute/digitalhub-backend/config"
	"github.com/Shamiri-Institute/digitalhub-backend/middlewares"
	"github.com/Shamiri-Institute/digitalhub-backend/models"
	"github.com/Shamiri-Institute/digitalhub-backend/models/reports"
	"github.com/Shamiri-Institute/digitalhub-backend/utils"
	"github.com/Shamiri-Institute/digitalhub-backend/workflow"
)

const defaultPort = "8080"

var tracer = otel.Tracer("digitalhub-backend")

// Define a struct to represent the rate limiter.
type RateLimiter struct {
	client *redis.Client
	limit  int64
	window time.Duration
}

func getRedisClient(redisAddress string) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr: redisAddress,
	})
	return client
}

// respondDomainError maps workflow error kinds onto HTTP statuses. The
// message is safe to render directly to end users.
func respondDomainError(c *gin.Context, err error) {
	if domainErr, ok := workflow.AsDomainError(err); ok {
		status := http.StatusBadRequest
		switch domainErr.Kind {
		case workflow.ErrorKindNotFound:
			status = http.StatusNotFound
		case workflow.ErrorKindInvalidState:
			status = http.StatusUnprocessableEntity
		case workflow.ErrorKindLocked:
			status = http.StatusLocked
		case workflow.ErrorKindConflict:
			status = http.StatusConflict
		case workflow.ErrorKindConfig:
			status = http.StatusInternalServerError
		}
		c.JSON(status, gin.H{"success": false, "message": domainErr.Message})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "something went wrong, please try again"})
}

func respondBindError(c *gin.Context, err error) {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "errors": utils.ProcessValidationErrors(err)})
		return
	}
	c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "invalid request"})
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func loginHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req loginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondBindError(c, err)
			return
		}
		info, err := models.Login(c.Request.Context(), req.Username, req.Password)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"success": false, "message": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "data": info})
	}
}

type markAttendanceRequest struct {
	FellowId      string  `json:"fellow_id" binding:"required"`
	SessionId     string  `json:"session_id" binding:"required"`
	Status        string  `json:"status"`
	AbsenceReason *string `json:"absence_reason"`
	Comments      *string `json:"comments"`
}

func markAttendanceHandler(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req markAttendanceRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondBindError(c, err)
			return
		}
		status, err := models.ParseAttendanceStatus(req.Status)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": err.Error()})
			return
		}

		ctx, span := tracer.Start(c.Request.Context(), "MarkAttendance")
		defer span.End()

		result, err := workflow.MarkAttendance(ctx, config.GetDB(), logger, workflow.AttendanceInput{
			FellowId:      req.FellowId,
			SessionId:     req.SessionId,
			Status:        status,
			AbsenceReason: req.AbsenceReason,
			Comments:      req.Comments,
		})
		if err != nil {
			respondDomainError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "message": result.Message})
	}
}

type markManyAttendanceRequest struct {
	SessionId string `json:"session_id" binding:"required"`
	Entries   []struct {
		FellowId      string  `json:"fellow_id" binding:"required"`
		Status        string  `json:"status"`
		AbsenceReason *string `json:"absence_reason"`
		Comments      *string `json:"comments"`
	} `json:"entries" binding:"required,min=1,dive"`
}

func markManyAttendanceHandler(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req markManyAttendanceRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondBindError(c, err)
			return
		}

		input := workflow.BatchAttendanceInput{SessionId: req.SessionId}
		for _, entry := range req.Entries {
			status, err := models.ParseAttendanceStatus(entry.Status)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"success": false,
					"message": fmt.Sprintf("invalid attendance status for fellow %s", entry.FellowId)})
				return
			}
			input.Entries = append(input.Entries, workflow.BatchAttendanceEntry{
				FellowId:      entry.FellowId,
				Status:        status,
				AbsenceReason: entry.AbsenceReason,
				Comments:      entry.Comments,
			})
		}

		ctx, span := tracer.Start(c.Request.Context(), "MarkManyAttendance")
		defer span.End()

		// Redis lock is a best-effort optimization. Reliability must not
		// depend on Redis: posting is also serialized via MySQL advisory
		// locks inside the workflow.
		lock, err := utils.SessionSubmissionLock(ctx, req.SessionId, "server.go", "markManyAttendanceHandler")
		if err != nil {
			c.JSON(http.StatusConflict, gin.H{"success": false, "message": err.Error()})
			return
		}
		if lock != nil {
			defer func() {
				if releaseErr := lock.Release(ctx); releaseErr != nil {
					logger.WithFields(logrus.Fields{
						"field":      "markManyAttendanceHandler",
						"session_id": req.SessionId,
					}).Warn("failed to release redis lock: " + releaseErr.Error())
				}
			}()
		}

		result, err := workflow.MarkManyAttendance(ctx, config.GetDB(), logger, input)
		if err != nil {
			respondDomainError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "message": result.Message, "saved": result.Saved})
	}
}

type sessionOccurrenceRequest struct {
	Occurred *bool `json:"occurred" binding:"required"`
}

func sessionOccurrenceHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req sessionOccurrenceRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondBindError(c, err)
			return
		}
		err := models.MarkSessionOccurred(config.GetDB().WithContext(c.Request.Context()), c.Param("id"), *req.Occurred)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "session not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "something went wrong, please try again"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}

func payoutSummaryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		summary, err := models.GetFellowPayoutSummary(c.Request.Context(), config.GetDB(), c.Param("id"))
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "fellow not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "something went wrong, please try again"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "data": summary})
	}
}

func payoutStatementExportHandler(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		fellowId := c.Param("id")
		lines, err := reports.GetPayoutStatementReport(c.Request.Context(), config.GetDB(), fellowId)
		if err != nil {
			config.LogError(logger, "server.go", "payoutStatementExportHandler", "GetPayoutStatementReport", fellowId, err)
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "something went wrong, please try again"})
			return
		}
		if err := reports.ExportPayoutStatementExcel(c.Writer, lines, fellowId); err != nil {
			config.LogError(logger, "server.go", "payoutStatementExportHandler", "ExportPayoutStatementExcel", fellowId, err)
		}
	}
}

func ledgerAuditHandler(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		report, err := workflow.RunLedgerAudit(c.Request.Context(), config.GetDB(), logger)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "something went wrong, please try again"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "data": report})
	}
}

func customNotFoundHandler(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "route not found"})
}

func main() {
	port := os.Getenv("API_PORT")
	if port == "" {
		// Cloud Run standard env var.
		port = os.Getenv("PORT")
	}
	if port == "" {
		port = defaultPort
	}

	logger := config.GetLogger()

	// Shutdown coordination.
	// Cloud Run sends SIGTERM on revision shutdown; handle it for graceful drain.
	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	// Start the HTTP server ASAP so Cloud Run considers the revision healthy.
	// Until DB/Redis are ready, we return 503 for app endpoints.
	r := gin.New()
	r.Use(middlewares.CorrelationMiddleware())
	r.Use(func(c *gin.Context) {
		// Always allow Cloud Run startup probe.
		if c.Request.URL.Path == "/healthz" {
			c.Status(http.StatusNoContent)
			c.Abort()
			return
		}
		// Gate critical endpoints on dependency readiness. Redis is optional.
		if config.GetDB() == nil {
			c.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}
		c.Next()
	})

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	corsConfig := cors.DefaultConfig()
	// Production-safe CORS:
	// - In production, require explicit allowlist via CORS_ALLOWED_ORIGINS (comma-separated).
	// - In non-production, allow all (developer convenience).
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		if allowedOrigins == "" {
			// Safer default: deny all if not configured in production.
			corsConfig.AllowOrigins = []string{}
		} else {
			corsConfig.AllowOrigins = splitAndTrim(allowedOrigins)
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "PUT", "DELETE", "OPTIONS")
	corsConfig.AddAllowHeaders("Origin", "Content-Type", "Authorization", "X-Correlation-Id")
	corsConfig.AddExposeHeaders("Content-Length", "Content-Disposition")
	corsConfig.AllowCredentials = true

	r.Use(cors.New(corsConfig))

	// Optional rate limiting (recommended for production).
	// Env:
	// - RATE_LIMIT_ENABLED=true
	// - RATE_LIMIT_WINDOW_SECONDS=60
	// - RATE_LIMIT_MAX_REQUESTS=600
	if strings.EqualFold(strings.TrimSpace(os.Getenv("RATE_LIMIT_ENABLED")), "true") {
		client := getRedisClient(os.Getenv("REDIS_ADDRESS"))
		limit := int64(600)
		if v := strings.TrimSpace(os.Getenv("RATE_LIMIT_MAX_REQUESTS")); v != "" {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
				limit = n
			}
		}
		windowSec := int64(60)
		if v := strings.TrimSpace(os.Getenv("RATE_LIMIT_WINDOW_SECONDS")); v != "" {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
				windowSec = n
			}
		}
		rateLimiter := NewRateLimiter(client, limit, time.Duration(windowSec)*time.Second)
		r.Use(rateLimiter.RateLimitMiddleware)
	}

	r.Use(middlewares.AuthMiddleware())
	r.Use(customErrorLogger(logger))
	r.Use(gin.Recovery())

	r.POST("/auth/login", loginHandler())

	recorder := r.Group("/", middlewares.RequireRole(func(role string) bool {
		return models.UserRole(role).CanRecordAttendance()
	}))
	recorder.POST("/attendance/mark", markAttendanceHandler(logger))
	recorder.POST("/attendance/mark-many", markManyAttendanceHandler(logger))
	recorder.POST("/sessions/:id/occurrence", sessionOccurrenceHandler())
	recorder.GET("/fellows/:id/payout-summary", payoutSummaryHandler())
	recorder.GET("/fellows/:id/payout-statements/export", payoutStatementExportHandler(logger))

	// Ops tooling (admin only): cross-check the payout ledger.
	admin := r.Group("/internal/ops", middlewares.RequireRole(func(role string) bool {
		return models.UserRole(role) == models.UserRoleAdmin
	}))
	admin.GET("/ledger-audit", ledgerAuditHandler(logger))

	r.NoRoute(customNotFoundHandler)

	// Start listening immediately (Cloud Run startup probe is TCP based).
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		// ListenAndServe returns http.ErrServerClosed on graceful shutdown.
		serverErrCh <- srv.ListenAndServe()
	}()

	// Connect dependencies after the port is open.
	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()

	// Now DB is ready; run migrations.
	db := config.GetDB()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()
	// IMPORTANT: AutoMigrate can run DDL that blocks tables and causes 504/502 timeouts.
	// Allow disabling migrations on startup (run them as a separate job instead).
	if !strings.EqualFold(strings.TrimSpace(os.Getenv("SKIP_MIGRATIONS")), "true") {
		models.MigrateTable()
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	// Set the session isolation level to READ COMMITTED
	for attempt := 1; ; attempt++ {
		err := db.Exec("SET SESSION TRANSACTION ISOLATION LEVEL READ COMMITTED").Error
		if err == nil {
			break
		}
		sleep := time.Second * time.Duration(1<<min(attempt, 5))
		if sleep > 30*time.Second {
			sleep = 30 * time.Second
		}
		logger.WithFields(logrus.Fields{
			"field":   "database",
			"attempt": attempt,
		}).Warn("failed to set isolation level; retrying in " + sleep.String() + ": " + err.Error())
		time.Sleep(sleep)
	}

	logger.WithFields(logrus.Fields{
		"info": "Connection Established",
	}).Info("listening on http://localhost:", port, "/")
	log.Println("Server started successfully")

	// Block until shutdown or server error.
	select {
	case <-sigCtx.Done():
		// graceful shutdown below
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	// Drain HTTP requests.
	shutdownTimeout := 30 * time.Second
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}

	// Close Redis (best-effort).
	if rdb := config.GetRedisDB(); rdb != nil {
		_ = rdb.Close()
	}
}

// customErrorLogger is a custom Gin middleware that logs only errors
func customErrorLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		// Only log when there are errors
		if len(c.Errors) > 0 {
			logger.Error(c.Errors.String())
		}
	}
}

// Initialize a new RateLimiter instance.
func NewRateLimiter(client *redis.Client, limit int64, window time.Duration) *RateLimiter {
	return &RateLimiter{
		client: client,
		limit:  limit,
		window: window,
	}
}

// Middleware function to check rate limits.
func (rl *RateLimiter) RateLimitMiddleware(c *gin.Context) {
	// Get the IP address or user identifier from the request.
	key := c.ClientIP()

	// Check if the key exists in Redis.
	exists, err := rl.client.Exists(c.Request.Context(), key).Result()
	if err != nil {
		c.AbortWithError(http.StatusInternalServerError, err)
		return
	}

	// If the key doesn't exist, create it and set expiry.
	if exists == 0 {
		err := rl.client.Set(c.Request.Context(), key, 1, rl.window).Err()
		if err != nil {
			c.AbortWithError(http.StatusInternalServerError, err)
			return
		}
		c.Next()
		return
	}

	// If the key exists, get the current count.
	count, err := rl.client.Incr(c.Request.Context(), key).Result()
	if err != nil {
		c.AbortWithError(http.StatusInternalServerError, err)
		return
	}

	// If the count exceeds the limit, return an error response.
	if count > rl.limit {
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error": fmt.Sprintf("Rate limit exceeded. Try again in %d seconds", int(rl.window.Seconds())),
		})
		return
	}

	c.Next()
}

func splitAndTrim(csv string) []string {
	if strings.TrimSpace(csv) == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
