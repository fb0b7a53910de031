// Package api exposes the applicant-facing and back-office HTTP endpoints.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"application-tracker/internal/backoffice"
	"application-tracker/internal/common/logger"
	"application-tracker/internal/common/validation"
	"application-tracker/internal/crosschannel"
	"application-tracker/internal/ratelimit"
	"application-tracker/internal/refcode"
	"application-tracker/internal/store"
)

// RateLimiter guards the reference-code lookups.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (ratelimit.Decision, error)
}

// ReadinessCheck reports whether a dependency can serve traffic.
type ReadinessCheck func(ctx context.Context) error

// Deps holds what the handlers need. Limiter, Validator and Checks are optional.
type Deps struct {
	Store        store.Store
	Codes        *refcode.Service
	CrossChannel *crosschannel.Service
	Backoffice   *backoffice.Service
	Limiter      RateLimiter
	Validator    *validation.Validator
	Logger       logger.Logger
	AdminKey     string
	Checks       map[string]ReadinessCheck
}

type handlers struct {
	Deps
	now func() time.Time
}

// NewRouter builds the gin engine with every route registered.
func NewRouter(deps Deps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	if deps.Logger == nil {
		deps.Logger = logger.NewNoOpLogger()
	}
	deps.Logger = deps.Logger.WithFields(map[string]interface{}{"component": "api"})

	h := &handlers{Deps: deps, now: time.Now}
	router.Use(requestMetrics(), requestLogger(deps.Logger))
	registerRoutes(router, h)
	return router
}

func registerRoutes(router *gin.Engine, h *handlers) {
	router.GET("/health", h.health)
	router.GET("/ready", h.ready)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	pub := router.Group("/api")
	pub.POST("/sessions", h.createSession)
	pub.GET("/sessions/:id", h.getSession)
	pub.PATCH("/sessions/:id", h.updateSession)

	pub.POST("/reference-codes", h.generateCode)

	lookups := pub.Group("", rateLimit(h.Limiter, h.Logger))
	lookups.GET("/reference-codes/:code/validate", h.validateCode)
	lookups.GET("/resume/:code", h.resume)
	lookups.GET("/status/:code", h.status)
	lookups.POST("/status/:code/notifications/read", h.markRead)

	pub.POST("/cross-channel/switch", h.switchChannel)
	pub.GET("/cross-channel/sync-status", h.syncStatus)
	pub.POST("/cross-channel/synchronize", h.synchronize)

	admin := router.Group("/admin", adminAuth(h.AdminKey, h.Logger))
	admin.GET("/applications", h.listApplications)
	admin.POST("/applications/bulk-status", h.bulkStatus)
	admin.POST("/applications/:sessionId/status", h.updateStatus)
	admin.POST("/applications/:sessionId/milestones", h.recordMilestone)
	admin.GET("/sessions", h.retrieveState)
	admin.GET("/reference-codes/:code", h.lookupCode)
	admin.POST("/reference-codes/:code/extend", h.extendCode)
}

func (h *handlers) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   h.now().UTC().Format(time.RFC3339),
	})
}

func (h *handlers) ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	failed := gin.H{}
	for name, check := range h.Checks {
		if err := check(ctx); err != nil {
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		h.Logger.Warn("readiness check failed", map[string]interface{}{"failed": failed})
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "failed": failed})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   h.now().UTC().Format(time.RFC3339),
	})
}

// Serve runs srv until ctx is cancelled, then drains it.
func Serve(ctx context.Context, srv *http.Server, log logger.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info("HTTP server listening", map[string]interface{}{"address": srv.Addr})
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	log.Info("HTTP server stopped", nil)
	return nil
}
