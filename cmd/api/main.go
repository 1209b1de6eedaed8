package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"cfprogress/internal/cfclient"
	"cfprogress/internal/config"
	"cfprogress/internal/httpmiddleware"
	"cfprogress/internal/notify"
	"cfprogress/internal/sched"
	"cfprogress/internal/store"
	"cfprogress/internal/student"
	syncsvc "cfprogress/internal/sync"
)

const profileCacheTTL = 10 * time.Minute

func main() {
	cfg := config.Load()

	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := run(cfg); err != nil {
		log.Fatalf("api server failed: %v", err)
	}
}

func run(cfg config.App) error {
	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx := context.Background()
	repo := student.NewRepository(db.Client)
	if err := repo.EnsureSchema(ctx); err != nil {
		return err
	}

	redisClient := store.NewRedis(cfg.RedisAddr)
	cache := store.NewCache(redisClient.Client)

	cf := cfclient.New(cfg.CFBaseURL, cfg.CFTimeout)
	mailer := notify.NewMailer(cfg.SendgridAPIKey, cfg.EmailFrom, cfg.EmailFromName)
	dispatcher := notify.NewDispatcher(repo, mailer, cfg.ReminderCooldown, cfg.NotifyDelay)
	orchestrator := syncsvc.New(repo, cf, dispatcher, cache, cfg.SyncDelay)

	controller := sched.NewController(orchestrator, cfg.DefaultSchedule)
	defer controller.Shutdown()
	if cfg.CronAutostart {
		if err := controller.Start(cfg.DefaultSchedule); err != nil {
			log.Printf("warning: cron autostart failed: %v", err)
		}
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(corsMiddleware())
	r.Use(httpmiddleware.NewPerIPLimiter(cfg.RateLimitPerMin).GinMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/healthz", func(c *gin.Context) {
		redisHealthy := redisClient.Healthy(c.Request.Context())
		dbHealthy := db.Client.PingContext(c.Request.Context()) == nil
		status := http.StatusOK
		if !redisHealthy || !dbHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": "ok", "redis": redisHealthy, "db": dbHealthy})
	})

	api := r.Group("/api")

	// ── Student CRUD ──────────────────────────────────────────────

	api.GET("/students", func(c *gin.Context) {
		students, err := repo.List(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if students == nil {
			students = []student.Student{}
		}
		c.JSON(http.StatusOK, students)
	})

	api.POST("/students", func(c *gin.Context) {
		var req struct {
			Name   string `json:"name" binding:"required"`
			Email  string `json:"email" binding:"required"`
			Phone  string `json:"phone"`
			Handle string `json:"codeforcesHandle" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		created, err := repo.Create(c.Request.Context(), student.Student{
			Name:   req.Name,
			Email:  req.Email,
			Phone:  req.Phone,
			Handle: req.Handle,
		})
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, created)
	})

	api.GET("/students/:id", func(c *gin.Context) {
		s, err := repo.Get(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondStudentErr(c, err)
			return
		}
		c.JSON(http.StatusOK, s)
	})

	api.PUT("/students/:id", func(c *gin.Context) {
		var req struct {
			Name   string `json:"name" binding:"required"`
			Email  string `json:"email" binding:"required"`
			Phone  string `json:"phone"`
			Handle string `json:"codeforcesHandle" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		updated, err := repo.Update(c.Request.Context(), c.Param("id"), student.Student{
			Name:   req.Name,
			Email:  req.Email,
			Phone:  req.Phone,
			Handle: req.Handle,
		})
		if err != nil {
			respondStudentErr(c, err)
			return
		}
		c.JSON(http.StatusOK, updated)
	})

	api.DELETE("/students/:id", func(c *gin.Context) {
		if err := repo.Delete(c.Request.Context(), c.Param("id")); err != nil {
			respondStudentErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "student deleted"})
	})

	// ── Codeforces data endpoints ─────────────────────────────────

	api.PUT("/students/:id/rating", func(c *gin.Context) {
		s, err := repo.Get(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondStudentErr(c, err)
			return
		}
		info, err := cf.FetchRating(c.Request.Context(), s.Handle)
		if err != nil {
			if errors.Is(err, cfclient.ErrNotFound) {
				c.JSON(http.StatusBadRequest, gin.H{"error": "codeforces handle not found, please check it"})
				return
			}
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		if err := repo.SetRating(c.Request.Context(), s.ID, info.CurrentRating, info.MaxRating); err != nil {
			respondStudentErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"message":       "rating updated",
			"currentRating": info.CurrentRating,
			"maxRating":     info.MaxRating,
		})
	})

	api.GET("/students/:id/profile", func(c *gin.Context) {
		s, err := repo.Get(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondStudentErr(c, err)
			return
		}
		contestDays := intQuery(c, "contestDays", 90)
		problemDays := intQuery(c, "problemDays", 30)

		if cached, err := cache.Profile(c.Request.Context(), s.Handle, contestDays, problemDays); err == nil {
			c.Data(http.StatusOK, "application/json", cached)
			return
		}

		data, err := cf.FetchComprehensive(c.Request.Context(), s.Handle, contestDays, problemDays)
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		payload, err := json.Marshal(gin.H{"student": s, "data": data})
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if err := cache.SetProfile(c.Request.Context(), s.Handle, contestDays, problemDays, payload, profileCacheTTL); err != nil {
			log.Printf("profile cache write failed: %v", err)
		}
		c.Data(http.StatusOK, "application/json", payload)
	})

	// ── Reminder endpoints ────────────────────────────────────────

	api.PUT("/students/:id/reminders", func(c *gin.Context) {
		var req struct {
			Enabled *bool `json:"enabled" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "provide {\"enabled\": true|false}"})
			return
		}
		if err := repo.SetRemindersEnabled(c.Request.Context(), c.Param("id"), *req.Enabled); err != nil {
			respondStudentErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "reminder preference updated", "enabled": *req.Enabled})
	})

	api.POST("/students/:id/remind", func(c *gin.Context) {
		err := dispatcher.SendOne(c.Request.Context(), c.Param("id"))
		switch {
		case err == nil:
			c.JSON(http.StatusOK, gin.H{"message": "reminder sent", "delivered": dispatcher.Delivers()})
		case errors.Is(err, notify.ErrDisabled), errors.Is(err, notify.ErrCooldown):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		case errors.Is(err, student.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "student not found"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
	})

	api.GET("/email/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"configured": dispatcher.Delivers(),
			"transport":  dispatcher.MailerName(),
		})
	})

	// ── Scheduler control ─────────────────────────────────────────

	api.GET("/cron/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, controller.Status())
	})

	api.POST("/cron/start", func(c *gin.Context) {
		var req struct {
			Schedule string `json:"schedule"`
		}
		_ = c.ShouldBindJSON(&req) // empty body means default schedule
		if err := controller.Start(req.Schedule); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "status": controller.Status()})
	})

	api.POST("/cron/stop", func(c *gin.Context) {
		controller.Stop()
		c.JSON(http.StatusOK, gin.H{"success": true, "status": controller.Status()})
	})

	api.POST("/cron/sync", func(c *gin.Context) {
		report := controller.RunNow(c.Request.Context())
		status := http.StatusOK
		if !report.Success {
			// Includes the "already in progress" skip; the report says which.
			status = http.StatusConflict
		}
		c.JSON(status, report)
	})

	api.PUT("/cron/schedule", func(c *gin.Context) {
		var req struct {
			Schedule string `json:"schedule" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
			return
		}
		if err := controller.Update(req.Schedule); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "status": controller.Status()})
	})

	api.GET("/cron/schedules", func(c *gin.Context) {
		c.JSON(http.StatusOK, sched.Presets())
	})

	api.GET("/cron/report", func(c *gin.Context) {
		if report := orchestrator.LastReport(); report != nil {
			c.JSON(http.StatusOK, report)
			return
		}
		// Fall back to the redis mirror from a previous process.
		if cached, err := cache.LastRun(c.Request.Context()); err == nil {
			c.Data(http.StatusOK, "application/json", cached)
			return
		}
		c.JSON(http.StatusNotFound, gin.H{"error": "no sync has run yet"})
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Starting server on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced shutdown: %v", err)
	}

	log.Println("Server exited")
	return nil
}

func respondStudentErr(c *gin.Context, err error) {
	if errors.Is(err, student.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "student not found"})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}

func intQuery(c *gin.Context, key string, fallback int) int {
	if v := c.Query(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			return parsed
		}
	}
	return fallback
}

// CORS middleware for the dashboard frontend.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
