package router

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/handler"
	"github.com/stemsi/exstem-proctor/internal/metrics"
	"github.com/stemsi/exstem-proctor/internal/middleware"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	WS      *handler.WSHandler
	Session *handler.SessionHandler
	Monitor *handler.MonitorHandler
	Review  *handler.ReviewHandler
	System  *handler.SystemHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(
	authService *service.AuthService,
	handlers *Handlers,
	cfg *config.Config,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.Default()

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Request ID on every response, then per-route metrics.
	router.Use(response.RequestIDMiddleware())
	router.Use(metrics.MetricsMiddleware())

	router.GET("/health", handlers.System.Health)
	router.GET("/metrics", metrics.PrometheusHandler())

	// Rate limiter for snapshot polling (120 requests per minute per IP).
	pollLimiter := middleware.NewRateLimiter(120, time.Minute)

	// ─── 1. Participant Group (JWT) ────────────────────────────────────
	participantAPI := router.Group("/api/v1/sessions")
	participantAPI.Use(
		pollLimiter.Middleware(),
		middleware.RequireParticipantJWT(authService),
		middleware.NoStore(),
	)
	{
		participantAPI.GET("/:cert_transaction_id", handlers.Session.GetSnapshot)
	}

	// ─── 2. WebSocket Group (Participant WS Auth) ──────────────────────
	ws := router.Group("/ws/v1")
	ws.Use(middleware.RequireParticipantWSAuth(authService))
	{
		ws.GET("/sessions/:cert_transaction_id/stream", handlers.WS.SessionStream)
	}

	// ─── 3. Proctor Group (JWT + RBAC) ─────────────────────────────────
	proctorAPI := router.Group("/api/v1/proctor")
	proctorAPI.Use(middleware.RequireProctorJWT(authService), middleware.NoStore())
	{
		proctorAPI.GET("/monitor",
			middleware.RequirePermission(service.PermissionMonitor),
			handlers.Monitor.MonitorSSE,
		)
		proctorAPI.GET("/summary",
			middleware.RequirePermission(service.PermissionMonitor),
			handlers.Monitor.Summary,
		)
		proctorAPI.GET("/review",
			middleware.RequirePermission(service.PermissionReview),
			handlers.Review.GetReview,
		)
		proctorAPI.GET("/system", handlers.System.Status) // Open to all proctors
	}

	return router
}
