package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"runtime"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/recelilious/Anicargo/internal/auth"
	"github.com/recelilious/Anicargo/internal/log"
	"github.com/recelilious/Anicargo/internal/ratelimit"
)

// idempotencyTTL bounds how long a replayed response stays available for a
// given Idempotency-Key.
const idempotencyTTL = 24 * time.Hour

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "animeshelf", Name: "http_requests_total", Help: "HTTP requests by path and status."},
		[]string{"path", "status"},
	)
	httpPanicsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "animeshelf", Name: "http_panics_total", Help: "HTTP handler panics recovered."},
		[]string{"path"},
	)
	inFlightGauge = promauto.NewGauge(
		prometheus.GaugeOpts{Namespace: "animeshelf", Name: "http_in_flight_requests", Help: "In-flight HTTP requests."},
	)
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func validUTF8(s string) string {
	if utf8.ValidString(s) {
		return s
	}
	return strings.ToValidUTF8(s, "�")
}

// panicRecovery ensures a panic in any downstream handler is caught, logged
// with a stack trace, and rendered as a 500 rather than crashing the
// process.
func (a *API) panicRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				buf := make([]byte, 8192)
				n := runtime.Stack(buf, false)
				path := validUTF8(r.URL.Path)

				logger := log.WithComponentFromContext(r.Context(), "panic-recovery")
				logger.Error().
					Str("method", r.Method).
					Str("path", path).
					Interface("panic_value", rec).
					Str("stack_trace", string(buf[:n])).
					Msg("panic recovered in HTTP handler")

				httpPanicsTotal.WithLabelValues(path).Inc()

				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": "internal error"})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// requestID assigns (or propagates) a correlation id used by the logger and
// echoed back on the response.
func (a *API) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.New().String()
		}
		ctx := log.ContextWithRequestID(r.Context(), reqID)
		w.Header().Set("X-Request-ID", reqID)

		start := time.Now()
		next.ServeHTTP(w, r.WithContext(ctx))

		log.WithComponentFromContext(ctx, "api").Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int64("duration_ms", time.Since(start).Milliseconds()).
			Msg("request completed")
	})
}

// securityHeaders sets the common hardening headers used across the gateway.
func (a *API) securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "no-referrer")
		w.Header().Set("Cross-Origin-Resource-Policy", "same-site")
		next.ServeHTTP(w, r)
	})
}

// cors allows same-origin/no-origin requests (CLI, tests) through and
// otherwise reflects the request's Origin back; there is no origin
// allowlist.
func (a *API) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// metricsMiddleware records one counter increment per request, labeled by
// path and status, and skips the always-on /metrics scrape endpoint.
func (a *API) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		httpRequestsTotal.WithLabelValues(validUTF8(r.URL.Path), strconv.Itoa(rec.status)).Inc()
	})
}

// inFlightCap is a top-level concurrency cap: requests beyond capacity are
// rejected, and the gauge is decremented on every exit path via defer, so
// it survives panics and early returns alike. The admit check is a single
// atomic add-and-check (with rollback on overflow) rather than a
// load-then-increment, so two requests racing in at the cap can't both slip
// through.
func (a *API) inFlightCap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.maxInFlight > 0 {
			if atomic.AddInt64(&a.inFlight, 1) > a.maxInFlight {
				a.decInFlight()
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "server at capacity"})
				return
			}
		} else {
			a.incInFlight()
		}
		inFlightGauge.Inc()
		defer func() {
			a.decInFlight()
			inFlightGauge.Dec()
		}()
		next.ServeHTTP(w, r)
	})
}

// rateLimit decodes the bearer token best-effort (no auth failure here,
// that's requireAuth's job inside the handler), then evaluates the
// fixed-window limiter keyed by user id or IP.
func (a *API) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := ""
		if tok := auth.ExtractToken(r, ""); tok != "" {
			if claims, err := a.tokens.Verify(tok); err == nil {
				userID = claims.Sub
			}
		}
		ip := ratelimit.ClientIP(r)

		switch a.limiter.Check(userID, ip, time.Now()) {
		case ratelimit.Blocked:
			writeJSON(w, http.StatusForbidden, map[string]string{"error": "blocked"})
			return
		case ratelimit.Limited:
			writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "rate limit exceeded"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// bodyRecorder buffers a handler's response so idempotency can persist it
// after the fact, without holding up the write to the real client.
type bodyRecorder struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (br *bodyRecorder) WriteHeader(code int) {
	br.status = code
	br.ResponseWriter.WriteHeader(code)
}

func (br *bodyRecorder) Write(b []byte) (int, error) {
	br.body.Write(b)
	return br.ResponseWriter.Write(b)
}

// idempotency replays the stored response for a request carrying an
// Idempotency-Key header that this gateway has already handled, instead of
// re-running the handler. Requests without the header, or when no store is
// configured, pass straight through. Only successful responses (status <
// 500) are cached, so a transient failure doesn't get permanently replayed.
func (a *API) idempotency(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("Idempotency-Key")
		if a.idempotencyStore == nil || key == "" {
			next.ServeHTTP(w, r)
			return
		}
		storeKey := r.Method + " " + r.URL.Path + ":" + key

		if status, body, found, err := a.idempotencyStore.Load(r.Context(), storeKey); err == nil && found {
			w.Header().Set("Idempotency-Replayed", "true")
			w.WriteHeader(status)
			_, _ = w.Write(body)
			return
		}

		rec := &bodyRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		if rec.status < 500 {
			if err := a.idempotencyStore.Save(r.Context(), storeKey, rec.status, rec.body.Bytes(), idempotencyTTL); err != nil {
				log.WithComponentFromContext(r.Context(), "idempotency").Warn().Err(err).Msg("save idempotent response failed")
			}
		}
	})
}
