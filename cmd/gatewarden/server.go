package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/gatewarden/gatewarden/pkg/audit"
	"github.com/gatewarden/gatewarden/pkg/auth"
	"github.com/gatewarden/gatewarden/pkg/config"
	"github.com/gatewarden/gatewarden/pkg/gateway"
	"github.com/gatewarden/gatewarden/pkg/limiter"
	"github.com/gatewarden/gatewarden/pkg/observability"
	"github.com/gatewarden/gatewarden/pkg/policy"
)

// server bundles the HTTP server with the resources it owns.
type server struct {
	httpServer *http.Server

	redisClient *redis.Client
	auditSink   audit.Sink
}

// Close releases owned resources after the HTTP server has stopped.
func (s *server) Close() {
	if s.auditSink != nil {
		if err := s.auditSink.Close(); err != nil {
			slog.Error("Failed to close audit sink", "error", err)
		}
	}
	if s.redisClient != nil {
		if err := s.redisClient.Close(); err != nil {
			slog.Error("Failed to close redis client", "error", err)
		}
	}
}

func buildServer(ctx context.Context, cli *CLI, cfg *config.Config, watch bool) (*server, error) {
	decoder, err := auth.NewDecoder([]byte(cfg.Auth.Secret))
	if err != nil {
		return nil, fmt.Errorf("failed to build claim decoder: %w", err)
	}

	registry, err := policy.NewRegistry(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build policy registry: %w", err)
	}
	if watch {
		if err := registry.Watch(ctx, cli.Config); err != nil {
			return nil, fmt.Errorf("failed to watch config: %w", err)
		}
	}

	srv := &server{}

	var lim limiter.Limiter
	switch cfg.Limits.Backend {
	case config.BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:        cfg.Redis.Addr,
			Password:    cfg.Redis.Password,
			DB:          cfg.Redis.DB,
			DialTimeout: cfg.Redis.DialTimeout.Duration(),
		})
		pingCtx, pingCancel := context.WithTimeout(ctx, 2*time.Second)
		if err := client.Ping(pingCtx).Err(); err != nil {
			// Fail open from the start: the gateway serves degraded until
			// the store comes back.
			slog.Warn("Redis unreachable at startup", "addr", cfg.Redis.Addr, "error", err)
		}
		pingCancel()
		srv.redisClient = client
		lim = limiter.NewRedisLimiter(client,
			limiter.WithTimeout(cfg.Limits.StoreTimeout.Duration()))
	case config.BackendMemory:
		mem := limiter.NewMemoryLimiter()
		mem.StartJanitor(ctx, time.Minute)
		lim = mem
	default:
		return nil, fmt.Errorf("unsupported limits backend %q", cfg.Limits.Backend)
	}

	switch cfg.Audit.Sink {
	case config.AuditSinkPostgres:
		sink, err := audit.NewPostgresSink(cfg.Audit.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to build audit sink: %w", err)
		}
		srv.auditSink = sink
	default:
		srv.auditSink = audit.NewLogSink(slog.Default())
	}

	metrics, err := observability.InitMetrics(ctx, cfg.Metrics.Enabled)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	g := gateway.New(decoder, registry, lim,
		gateway.WithAuditSink(srv.auditSink),
		gateway.WithMetrics(metrics),
		gateway.WithLogger(slog.Default()),
		gateway.WithScope(cfg.Limits.Scope),
		gateway.WithKeyPrefix(cfg.Limits.KeyPrefix),
	)

	srv.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      buildRouter(cfg, g),
		ReadTimeout:  timeoutOrDefault(cfg.Server.ReadTimeout.Duration(), 30*time.Second),
		WriteTimeout: timeoutOrDefault(cfg.Server.WriteTimeout.Duration(), 30*time.Second),
	}
	return srv, nil
}

func buildRouter(cfg *config.Config, g *gateway.Gateway) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if cfg.Metrics.Enabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	admission := gateway.Middleware(gateway.MiddlewareConfig{
		Gateway:        g,
		CookieName:     cfg.Auth.CookieName,
		OverrideHeader: cfg.Auth.OverrideHeader,
		ExcludedPaths:  []string{"/healthz", "/metrics"},
	})

	r.Group(func(r chi.Router) {
		r.Use(admission)
		r.HandleFunc("/*", echoAdmission)
	})
	return r
}

// echoAdmission is the built-in downstream handler: it reports the identity
// and quota state the gateway attached to the request, which is also what a
// reverse-proxy deployment forwards upstream.
func echoAdmission(w http.ResponseWriter, r *http.Request) {
	claims := auth.ClaimsFromContext(r.Context())
	decision := gateway.DecisionFromContext(r.Context())
	if claims == nil || decision == nil {
		http.Error(w, `{"error":{"code":"internal","message":"admission context missing"}}`,
			http.StatusInternalServerError)
		return
	}

	response := map[string]any{
		"subject":  claims.Subject,
		"tenant":   claims.TenantID,
		"role":     claims.Role,
		"tier":     claims.Tier,
		"degraded": decision.Degraded,
	}
	if decision.Usage != nil {
		response["remaining"] = decision.Usage.Remaining
		response["reset_at"] = decision.Usage.ResetAt.UTC().Format(time.RFC3339)
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(response)
}
