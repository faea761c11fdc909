// Package ratelimit implements HTTP and WebSocket rate limiting using Redis
// or local memory via ulule/limiter.
package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/artifactor-hq/collab-core/internal/v1/auth"
	"github.com/artifactor-hq/collab-core/internal/v1/config"
	"github.com/artifactor-hq/collab-core/internal/v1/logging"
	"github.com/artifactor-hq/collab-core/internal/v1/metrics"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	mgin "github.com/ulule/limiter/v3/drivers/middleware/gin"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"
	"go.uber.org/zap"
)

// TokenValidator validates a bearer token string into its claims. Rate
// limiting must verify the token itself rather than trust claims another
// middleware may or may not have already placed in the gin context, since
// middleware ordering is not guaranteed (see the "AuthBypass" regression
// test, which asserts this).
type TokenValidator interface {
	ValidateToken(tokenString string) (*auth.CustomClaims, error)
}

// RateLimiter holds the rate limiter instances for each route group.
type RateLimiter struct {
	apiGlobal    *limiter.Limiter
	apiPublic    *limiter.Limiter
	apiArtifacts *limiter.Limiter
	apiComments  *limiter.Limiter
	wsIP         *limiter.Limiter
	wsUser       *limiter.Limiter
	store        limiter.Store
	redisClient  *redis.Client
	validator    TokenValidator
}

// NewRateLimiter builds the per-route-group limiters described by cfg. A nil
// redisClient falls back to an in-process memory store (single-instance
// dev mode).
func NewRateLimiter(cfg config.RateLimitConfig, redisClient *redis.Client, validator TokenValidator) (*RateLimiter, error) {
	globalRate, err := limiter.NewRateFromFormatted(cfg.Global)
	if err != nil {
		return nil, fmt.Errorf("invalid global rate: %w", err)
	}
	publicRate, err := limiter.NewRateFromFormatted(cfg.Public)
	if err != nil {
		return nil, fmt.Errorf("invalid public rate: %w", err)
	}
	artifactsRate, err := limiter.NewRateFromFormatted(cfg.Artifacts)
	if err != nil {
		return nil, fmt.Errorf("invalid artifacts rate: %w", err)
	}
	commentsRate, err := limiter.NewRateFromFormatted(cfg.Comments)
	if err != nil {
		return nil, fmt.Errorf("invalid comments rate: %w", err)
	}
	wsIPRate, err := limiter.NewRateFromFormatted(cfg.WsIP)
	if err != nil {
		return nil, fmt.Errorf("invalid WS IP rate: %w", err)
	}
	wsUserRate, err := limiter.NewRateFromFormatted(cfg.WsUser)
	if err != nil {
		return nil, fmt.Errorf("invalid WS user rate: %w", err)
	}

	var store limiter.Store
	if redisClient != nil {
		s, err := sredis.NewStoreWithOptions(redisClient, limiter.StoreOptions{
			Prefix: "limiter:v1:",
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create redis store: %w", err)
		}
		store = s
		logging.Info(context.Background(), "rate limiter using redis store")
	} else {
		store = memory.NewStore()
		logging.Warn(context.Background(), "rate limiter using in-process memory store")
	}

	return &RateLimiter{
		apiGlobal:    limiter.New(store, globalRate),
		apiPublic:    limiter.New(store, publicRate),
		apiArtifacts: limiter.New(store, artifactsRate),
		apiComments:  limiter.New(store, commentsRate),
		wsIP:         limiter.New(store, wsIPRate),
		wsUser:       limiter.New(store, wsUserRate),
		store:        store,
		redisClient:  redisClient,
		validator:    validator,
	}, nil
}

// identify resolves the rate-limit key and instance for a request: the
// authenticated subject under the global (user) limit if the bearer token
// validates, otherwise the client IP under the public limit.
func (rl *RateLimiter) identify(c *gin.Context) (key string, limiterInstance *limiter.Limiter, limitType string) {
	authHeader := c.GetHeader("Authorization")
	if len(authHeader) > 7 && authHeader[:7] == "Bearer " && rl.validator != nil {
		if claims, err := rl.validator.ValidateToken(authHeader[7:]); err == nil {
			return claims.Subject, rl.apiGlobal, "user"
		}
	}
	return c.ClientIP(), rl.apiPublic, "ip"
}

// GlobalMiddleware enforces the global per-user or per-IP limit on every request.
func (rl *RateLimiter) GlobalMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key, limiterInstance, limitType := rl.identify(c)

		ctx := c.Request.Context()
		lctx, err := limiterInstance.Get(ctx, key)
		if err != nil {
			logging.Error(ctx, "rate limiter store failed", zap.Error(err))
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.FormatInt(lctx.Limit, 10))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(lctx.Remaining, 10))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(lctx.Reset, 10))

		if lctx.Reached {
			metrics.RateLimitExceeded.WithLabelValues(c.FullPath(), limitType).Inc()
			c.Header("Retry-After", strconv.FormatInt(lctx.Reset-time.Now().Unix(), 10))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "too many requests",
				"retry_after": lctx.Reset,
			})
			return
		}

		metrics.RateLimitRequests.WithLabelValues(c.FullPath()).Inc()
		c.Next()
	}
}

// MiddlewareForEndpoint enforces the route-group limit for "artifacts" or
// "comments"; unknown groups fall back to the global limit.
func (rl *RateLimiter) MiddlewareForEndpoint(endpointType string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var limiterInstance *limiter.Limiter
		switch endpointType {
		case "artifacts":
			limiterInstance = rl.apiArtifacts
		case "comments":
			limiterInstance = rl.apiComments
		default:
			limiterInstance = rl.apiGlobal
		}

		key, _, _ := rl.identify(c)

		ctx := c.Request.Context()
		lctx, err := limiterInstance.Get(ctx, key)
		if err != nil {
			logging.Error(ctx, "rate limiter store failed", zap.Error(err))
			c.Next()
			return
		}

		if lctx.Reached {
			metrics.RateLimitExceeded.WithLabelValues(c.FullPath(), endpointType).Inc()
			c.Header("X-RateLimit-Retry-After", strconv.FormatInt(lctx.Reset, 10))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "too many requests",
				"retry_after": lctx.Reset,
			})
			return
		}

		metrics.RateLimitRequests.WithLabelValues(c.FullPath()).Inc()
		c.Next()
	}
}

// CheckWebSocket enforces the per-IP WebSocket connection limit. Returns
// false (and writes the error response) if the limit is exceeded.
func (rl *RateLimiter) CheckWebSocket(c *gin.Context) bool {
	ctx := c.Request.Context()

	ip := c.ClientIP()
	ipContext, err := rl.wsIP.Get(ctx, ip)
	if err != nil {
		logging.Error(ctx, "ws rate limiter store failed (ip)", zap.Error(err))
		return true
	}

	if ipContext.Reached {
		metrics.RateLimitExceeded.WithLabelValues("websocket_connect", "ip").Inc()
		c.Header("X-RateLimit-Retry-After", strconv.FormatInt(ipContext.Reset, 10))
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many connections from this IP"})
		return false
	}

	return true
}

// CheckWebSocketUser enforces the per-user WebSocket connection limit. Call
// after successfully authenticating the connecting user.
func (rl *RateLimiter) CheckWebSocketUser(ctx context.Context, userID string) error {
	userContext, err := rl.wsUser.Get(ctx, userID)
	if err != nil {
		logging.Error(ctx, "ws rate limiter store failed (user)", zap.Error(err))
		return nil
	}

	if userContext.Reached {
		metrics.RateLimitExceeded.WithLabelValues("websocket_connect", "user").Inc()
		return fmt.Errorf("rate limit exceeded for user")
	}

	return nil
}

// StandardMiddleware exposes the off-the-shelf ulule/limiter/v3 gin
// middleware against the public limiter, for routes that don't need the
// authenticated/public split.
func (rl *RateLimiter) StandardMiddleware() gin.HandlerFunc {
	return mgin.NewMiddleware(rl.apiPublic)
}
