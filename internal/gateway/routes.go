package gateway

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/jqwei/codex-relay/internal/account"
)

const serviceName = "codex-relay"

// Router assembles the gateway's HTTP surface: health and status endpoints
// plus the authenticated proxy paths.
type Router struct {
	pool    *account.Pool
	proxy   *ProxyHandler
	apiKey  string
	enabled *atomic.Bool
	logger  zerolog.Logger
}

func NewRouter(pool *account.Pool, proxy *ProxyHandler, apiKey string, enabled *atomic.Bool, logger zerolog.Logger) *Router {
	return &Router{pool: pool, proxy: proxy, apiKey: apiKey, enabled: enabled, logger: logger}
}

// Handler builds the full route tree.
func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", rt.handleHealth)
	mux.HandleFunc("GET /v1/models", handleModels)
	mux.Handle("GET /pool/status",
		EnabledMiddleware(rt.enabled)(http.HandlerFunc(rt.handlePoolStatus)))

	proxyChain := chain(rt.proxy,
		AuthMiddleware(rt.apiKey),
		EnabledMiddleware(rt.enabled),
		LoggingMiddleware(),
		RequestIDMiddleware(),
	)
	mux.Handle("/v1/", proxyChain)
	mux.Handle("/backend-api/codex/", proxyChain)

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		WriteError(w, http.StatusNotFound, ErrTypeNotFound, "not found")
	})

	return rt.withBaseLogger(mux)
}

// withBaseLogger seeds every request context with the service logger so the
// request-ID middleware can derive a scoped child from it.
func (rt *Router) withBaseLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := rt.logger.WithContext(r.Context())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (rt *Router) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"enabled": rt.enabled.Load(),
	})
}

func (rt *Router) handlePoolStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, rt.pool.Status(time.Now()))
}

// chain wraps handler with middlewares so the first listed runs innermost.
func chain(handler http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	for _, mw := range middlewares {
		handler = mw(handler)
	}
	return handler
}
