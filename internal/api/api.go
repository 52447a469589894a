// Package api implements the HTTP gateway: the chi router, the middleware
// stack (panic recovery, request id, CORS, security headers, rate limiting,
// in-flight counting), auth, and the HTTP handlers for the library,
// matcher, HLS, and job-queue surfaces.
package api

import (
	"net/http"
	"path/filepath"
	"sync/atomic"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"

	"github.com/recelilious/Anicargo/internal/auth"
	"github.com/recelilious/Anicargo/internal/catalog"
	"github.com/recelilious/Anicargo/internal/config"
	"github.com/recelilious/Anicargo/internal/hls"
	"github.com/recelilious/Anicargo/internal/matcher"
	"github.com/recelilious/Anicargo/internal/ratelimit"
	"github.com/recelilious/Anicargo/internal/store"
)

// API bundles the HTTP gateway's dependencies in a single struct, one
// instance per running server.
type API struct {
	cfg              config.Settings
	store            *store.Store
	matcher          *matcher.Matcher
	hlsOrch          *hls.Orchestrator
	catalog          catalog.Client
	tokens           *auth.TokenManager
	limiter          *ratelimit.Limiter
	hlsRoot          string
	idempotencyStore store.IdempotencyStore

	inFlight    int64
	maxInFlight int64
}

// New builds the Request Gateway over its collaborators. idempotency may be
// nil, in which case the Idempotency-Key header is ignored.
func New(cfg config.Settings, s *store.Store, m *matcher.Matcher, h *hls.Orchestrator, c catalog.Client, tokens *auth.TokenManager, idempotency store.IdempotencyStore) *API {
	lists := ratelimit.NewLists(cfg.RateLimitAllowUsers, cfg.RateLimitBlockUsers, cfg.RateLimitAllowIPs, cfg.RateLimitBlockIPs)
	return &API{
		cfg:              cfg,
		store:            s,
		matcher:          m,
		hlsOrch:          h,
		catalog:          c,
		tokens:           tokens,
		limiter:          ratelimit.New(lists, cfg.RateLimitUserPerMinute, cfg.RateLimitIPPerMinute),
		hlsRoot:          filepath.Join(cfg.CacheDir, "hls"),
		idempotencyStore: idempotency,
		maxInFlight:      int64(cfg.MaxInFlight),
	}
}

// Handler builds the full chi router with the middleware chain applied, then
// wraps it with OpenTelemetry HTTP instrumentation so every request gets a
// span (and the request-scoped logger in internal/log can pull its trace_id
// back out of the context).
func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(a.panicRecovery, a.requestID, a.securityHeaders, a.cors, a.metricsMiddleware, a.inFlightCap, a.rateLimit, a.idempotency)

	r.Route("/api", func(r chi.Router) {
		r.Get("/library", a.handleLibrary)
		r.Get("/stream/{id}", a.handleStream)

		r.Post("/matches/auto", a.handleAutoMatch)
		r.Get("/matches/{id}", a.handleGetMatch)
		r.Post("/matches/{id}", a.handleSetMatch)
		r.Delete("/matches/{id}", a.handleClearMatch)
		r.Get("/matches/{id}/candidates", a.handleListCandidates)

		r.Post("/jobs/index", a.handleEnqueueIndex)
		r.Post("/jobs/auto-match", a.handleEnqueueAutoMatch)
		r.Post("/jobs/hls/{id}", a.handleEnqueueHLS)
		r.Get("/jobs/{id}", a.handleGetJob)
		r.Get("/jobs/{id}/stream", a.handleStreamJob)

		r.Post("/auth/register", a.handleRegister)
		r.Post("/auth/login", a.handleLogin)
		r.Patch("/users/{id}/role", a.handleUpdateRole)
	})

	r.Get("/hls/{token}/{id}/{file}", a.handleHLSFileTokened)
	r.Get("/hls/{id}/{file}", a.handleHLSFile)

	return otelhttp.NewHandler(r, "anicargo", otelhttp.WithTracerProvider(otel.GetTracerProvider()))
}

func (a *API) incInFlight() { atomic.AddInt64(&a.inFlight, 1) }
func (a *API) decInFlight() { atomic.AddInt64(&a.inFlight, -1) }
