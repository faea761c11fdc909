package httpapi

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/artifactor-hq/collab-core/internal/v1/middleware"
)

// RateLimiter is the subset of ratelimit.RateLimiter the router needs.
type RateLimiter interface {
	GlobalMiddleware() gin.HandlerFunc
	MiddlewareForEndpoint(endpointType string) gin.HandlerFunc
}

// RouterConfig bundles everything Router needs to wire the full HTTP
// surface. Any handler may be left nil, in which case its routes are not
// registered — lets callers stand up a partial server (e.g. for tests).
type RouterConfig struct {
	Validator      TokenValidator
	RateLimiter    RateLimiter
	AllowedOrigins []string

	Comments      *CommentsHandler
	Activity      *ActivityHandler
	Presence      *PresenceHandler
	Notifications *NotificationsHandler
	Inference     *InferenceHandler

	WebSocket gin.HandlerFunc
}

// Router builds the gin engine for spec.md §6's HTTP API, following the
// teacher's cmd/v1/session/main.go composition: gin.New + Recovery +
// correlation id + otel tracing + CORS + route groups + Prometheus
// /metrics + /health.
func Router(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.CorrelationID())
	r.Use(otelgin.Middleware("collab-core"))

	corsConfig := cors.DefaultConfig()
	allowedOrigins := cfg.AllowedOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"http://localhost:3000"}
	}
	corsConfig.AllowOrigins = allowedOrigins
	r.Use(cors.New(corsConfig))

	if cfg.RateLimiter != nil {
		r.Use(cfg.RateLimiter.GlobalMiddleware())
	}

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "healthy"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	if cfg.WebSocket != nil {
		r.GET("/ws/hub/:artifactId", cfg.WebSocket)
	}

	api := r.Group("/")
	if cfg.Validator != nil {
		api.Use(RequireAuth(cfg.Validator))
	}

	if cfg.Comments != nil {
		artifacts := api.Group("/artifacts/:id")
		if cfg.RateLimiter != nil {
			artifacts.Use(cfg.RateLimiter.MiddlewareForEndpoint("artifacts"))
		}
		artifacts.POST("/comments", cfg.Comments.Create)
		artifacts.GET("/comments", cfg.Comments.List)
		artifacts.PUT("/comments/:cid", cfg.Comments.Update)
		artifacts.DELETE("/comments/:cid", cfg.Comments.Delete)
	}
	if cfg.Activity != nil {
		api.GET("/artifacts/:id/activity", cfg.Activity.List)
	}
	if cfg.Presence != nil {
		api.GET("/artifacts/:id/presence", cfg.Presence.List)
	}

	if cfg.Notifications != nil {
		notifications := api.Group("/notifications")
		notifications.GET("", cfg.Notifications.List)
		notifications.GET("/counts", cfg.Notifications.Counts)
		notifications.POST("/mark-read", cfg.Notifications.MarkRead)
		notifications.POST("/mark-all-read", cfg.Notifications.MarkAllRead)
	}

	if cfg.Inference != nil {
		ml := api.Group("/ml")
		ml.POST("/classify", cfg.Inference.Classify)
		ml.POST("/classify/batch", cfg.Inference.ClassifyBatch)
		ml.POST("/tags/generate", cfg.Inference.TagsGenerate)
		ml.POST("/projects/analyze", cfg.Inference.ProjectsAnalyze)
		ml.POST("/search", cfg.Inference.Search)
		ml.POST("/related", cfg.Inference.Related)
	}

	return r
}
