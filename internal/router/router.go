package router

import (
	"net/http"

	"gigsync/internal/common"
	"gigsync/internal/config"
	"gigsync/internal/logger"
	"gigsync/internal/metrics"
	"gigsync/internal/middleware"
	"gigsync/internal/notification"

	"github.com/gin-gonic/gin"
)

// New creates the UI bridge router: health and metrics in the open, the sync
// surface under /api/v1 behind the API key.
func New(
	cfg *config.Config,
	log *logger.Logger,
	notificationHandler *notification.Handler,
) *gin.Engine {
	gin.SetMode(cfg.Server.Mode)

	r := gin.New()

	// Global middleware stack (order matters)
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(log))
	r.Use(middleware.CORS(
		cfg.CORS.AllowedOrigins,
		cfg.CORS.AllowedMethods,
		cfg.CORS.AllowedHeaders,
	))

	// Public routes
	r.GET("/health", healthCheck)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	rateLimiter := middleware.NewRateLimiter(
		cfg.RateLimit.RequestsPerSecond,
		cfg.RateLimit.Burst,
	)

	// Rate limiting runs after auth so it can key on the API key.
	protectedAPI := r.Group("/api/v1")
	protectedAPI.Use(middleware.Auth(cfg.Auth.APIKeys))
	protectedAPI.Use(rateLimiter.Middleware())
	{
		notificationHandler.RegisterRoutes(protectedAPI)
	}

	return r
}

// healthCheck handles GET /health
func healthCheck(c *gin.Context) {
	common.Success(c, http.StatusOK, gin.H{
		"status":  "ok",
		"service": "gigsync",
	})
}
