// Package app is the composition root: it builds every service from
// internal/v1/config's Config, wires the narrow adapter interfaces
// (PresenceAdapter/NotificationAdapter/UserLookupAdapter, this package's
// adapters.go) between them, and exposes the assembled gin.Engine plus a
// lifecycle (Initialize/Shutdown) for cmd/collabd's entrypoint. Grounded
// on the teacher's cmd/v1/session/main.go, generalized from "one Hub" to
// the full service set SPEC_FULL.md names.
package app

import (
	"context"
	"fmt"
	"os"

	"github.com/artifactor-hq/collab-core/internal/v1/agentbridge"
	"github.com/artifactor-hq/collab-core/internal/v1/auth"
	"github.com/artifactor-hq/collab-core/internal/v1/cache"
	"github.com/artifactor-hq/collab-core/internal/v1/collab"
	"github.com/artifactor-hq/collab-core/internal/v1/config"
	"github.com/artifactor-hq/collab-core/internal/v1/httpapi"
	"github.com/artifactor-hq/collab-core/internal/v1/inference"
	"github.com/artifactor-hq/collab-core/internal/v1/kv"
	"github.com/artifactor-hq/collab-core/internal/v1/logging"
	"github.com/artifactor-hq/collab-core/internal/v1/metrics"
	"github.com/artifactor-hq/collab-core/internal/v1/notify"
	"github.com/artifactor-hq/collab-core/internal/v1/presence"
	"github.com/artifactor-hq/collab-core/internal/v1/ratelimit"
	"github.com/artifactor-hq/collab-core/internal/v1/search"
	"github.com/artifactor-hq/collab-core/internal/v1/store"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Application owns every long-lived service and the assembled HTTP engine.
// One Application per process, built once by Initialize.
type Application struct {
	Config *config.Config

	DB        *store.DB
	KV        *kv.Store
	Cache     *cache.Cache
	Collector *metrics.Collector
	Presence  *presence.Service
	Notify    *notify.Service
	Pipeline  *inference.Pipeline
	Search    *search.Service
	Bridge    *agentbridge.Bridge
	RateLimit *ratelimit.RateLimiter
	Hub       *collab.Hub
	Engine    *gin.Engine

	cancel context.CancelFunc
}

// Initialize builds and starts every service described by cfg, returning
// the assembled Application. Callers must call Shutdown when done.
func Initialize(cfg *config.Config) (*Application, error) {
	if err := logging.Initialize(cfg.Server.DevelopmentMode); err != nil {
		return nil, fmt.Errorf("app: init logging: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	a := &Application{Config: cfg, cancel: cancel}

	db, err := store.Open(cfg.Database.DSN)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("app: open store: %w", err)
	}
	a.DB = db

	if cfg.KV.Enabled {
		kvStore, err := kv.NewStore(cfg.KV.Addr, cfg.KV.Password)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("app: connect kv: %w", err)
		}
		a.KV = kvStore
	}

	a.Cache = cache.New(cfg.Cache.Tier1MaxBytes, cfg.Cache.Tier1TTL, cfg.Cache.Tier2TTL, a.KV)

	collector, err := metrics.NewCollector(cfg.Metrics.SampleInterval, cfg.Metrics.Retention)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("app: init metrics collector: %w", err)
	}
	a.Collector = collector
	if err := a.Collector.Start(ctx); err != nil {
		cancel()
		return nil, fmt.Errorf("app: start metrics collector: %w", err)
	}

	a.Presence = presence.New(a.KV, db.Presence())
	if err := a.Presence.StartSweep(ctx); err != nil {
		cancel()
		return nil, fmt.Errorf("app: start presence sweep: %w", err)
	}

	a.Notify = notify.New(db.Notifications(), db.Users())
	a.Notify.Start(ctx)

	a.Pipeline = inference.New(inference.Config{
		Classifier:     buildClassifier(cfg),
		Cache:          a.Cache,
		Collector:      a.Collector,
		WorkersPerLane: cfg.Pipeline.WorkersHigh,
		RateLimit:      rate.Limit(cfg.Pipeline.ThroughputPerSec),
	})
	a.Pipeline.Start(ctx)

	a.Search = search.New(db.Embeddings(), a.Pipeline)
	a.Bridge = agentbridge.New(a.Collector)

	validator, err := buildValidator(ctx, cfg)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("app: build token validator: %w", err)
	}

	var redisClient *redis.Client
	if a.KV != nil {
		redisClient = a.KV.Client()
	}
	rl, err := ratelimit.NewRateLimiter(cfg.Server.RateLimits, redisClient, validator)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("app: build rate limiter: %w", err)
	}
	a.RateLimit = rl

	a.Hub = collab.NewHub(collab.HubConfig{
		Validator:  validator,
		Users:      &UserLookupAdapter{Users: db.Users()},
		Comments:   db.Comments(),
		Activities: db.Activities(),
		Presence:   &PresenceAdapter{Service: a.Presence},
		Notifications: &NotificationAdapter{
			Notify:   a.Notify,
			Comments: db.Comments(),
		},
		AllowedOrigins:     splitOrigins(cfg.Server.AllowedOrigins),
		CleanupGracePeriod: cfg.Collaboration.RoomGracePeriod,
	})

	a.Engine = httpapi.Router(httpapi.RouterConfig{
		Validator:      validator,
		RateLimiter:    a.RateLimit,
		AllowedOrigins: splitOrigins(cfg.Server.AllowedOrigins),
		Comments: &httpapi.CommentsHandler{
			Comments:   db.Comments(),
			Activities: db.Activities(),
			Notify: &NotificationAdapter{
				Notify:   a.Notify,
				Comments: db.Comments(),
			},
		},
		Activity:      &httpapi.ActivityHandler{Activities: db.Activities()},
		Presence:      &httpapi.PresenceHandler{Presence: a.Presence},
		Notifications: &httpapi.NotificationsHandler{Notify: a.Notify},
		Inference:     &httpapi.InferenceHandler{Pipeline: a.Pipeline, Search: a.Search},
		WebSocket:     a.Hub.ServeWs,
	})

	return a, nil
}

// Shutdown stops every background goroutine and closes the store.
func (a *Application) Shutdown(ctx context.Context) error {
	a.cancel()
	a.Notify.Stop()
	a.Pipeline.Stop()
	if a.KV != nil {
		_ = a.KV.Close()
	}
	return a.DB.Close()
}

// buildClassifier wires the Anthropic-backed classifier when an API key is
// available, falling back to NullClassifier per spec.md §7's graceful-
// degradation requirement. The key is read directly from the environment,
// the same way the teacher's main.go reads AUTH0_DOMAIN/AUTH0_AUDIENCE
// outside the structured config.
func buildClassifier(cfg *config.Config) inference.Classifier {
	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	if apiKey == "" {
		return inference.NullClassifier{}
	}
	model := os.Getenv("ANTHROPIC_MODEL")
	if model == "" {
		model = "claude-3-5-sonnet-latest"
	}
	classifier, err := inference.NewAnthropicClassifier(apiKey, model)
	if err != nil {
		logging.Warn(context.Background(), "app: anthropic classifier unavailable, degrading", zap.Error(err))
		return inference.NullClassifier{}
	}
	return classifier
}

// buildValidator picks the production Auth0-backed validator or, in
// development/skip-auth mode, the MockValidator that decodes JWT claims
// without verifying a signature. Mirrors the teacher's main.go selection
// between auth.NewValidator and a development bypass.
func buildValidator(ctx context.Context, cfg *config.Config) (httpapi.TokenValidator, error) {
	if cfg.Auth.SkipAuth || cfg.Server.DevelopmentMode {
		return &auth.MockValidator{}, nil
	}
	return auth.NewValidator(ctx, cfg.Auth.Auth0Domain, cfg.Auth.Auth0Audience)
}

func splitOrigins(csv string) []string {
	if csv == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i <= len(csv); i++ {
		if i == len(csv) || csv[i] == ',' {
			if i > start {
				out = append(out, csv[start:i])
			}
			start = i + 1
		}
	}
	return out
}
