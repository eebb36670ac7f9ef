package gateway

import (
	"crypto/sha256"
	"crypto/subtle"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// RequestIDMiddleware adds an X-Request-ID header and a request-scoped logger
// to the context.
func RequestIDMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			requestID := request.Header.Get("X-Request-ID")
			ctx := AddRequestID(request.Context(), requestID)

			if requestID == "" {
				requestID = GetRequestID(ctx)
			}
			writer.Header().Set("X-Request-ID", requestID)

			next.ServeHTTP(writer, request.WithContext(ctx))
		})
	}
}

// LoggingMiddleware logs each request with method, path, status, and duration.
func LoggingMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			start := time.Now()
			wrapped := &statusWriter{ResponseWriter: writer, statusCode: http.StatusOK}

			next.ServeHTTP(wrapped, request)

			logger := zerolog.Ctx(request.Context())
			event := logger.Info()
			switch {
			case wrapped.statusCode >= 500:
				event = logger.Error()
			case wrapped.statusCode >= 400:
				event = logger.Warn()
			}
			event.
				Str("method", request.Method).
				Str("path", request.URL.Path).
				Int("status", wrapped.statusCode).
				Dur("duration", time.Since(start)).
				Msgf("%s %s", request.Method, request.URL.Path)
		})
	}
}

// AuthMiddleware validates the caller's gateway key, accepted as either
// "Authorization: Bearer <key>" or an x-api-key header. Comparison is
// constant time over SHA-256 hashes. With no key configured the gateway
// fails closed and rejects every request.
func AuthMiddleware(expectedAPIKey string) func(http.Handler) http.Handler {
	expectedHash := sha256.Sum256([]byte(expectedAPIKey))
	configured := expectedAPIKey != ""

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			if !configured {
				failAuth(writer, request, "gateway api key not configured")
				return
			}

			providedKey := callerKey(request)
			if providedKey == "" {
				failAuth(writer, request, "missing api key")
				return
			}

			providedHash := sha256.Sum256([]byte(providedKey))
			if subtle.ConstantTimeCompare(providedHash[:], expectedHash[:]) != 1 {
				failAuth(writer, request, "invalid api key")
				return
			}

			zerolog.Ctx(request.Context()).Debug().Msg("authentication succeeded")
			next.ServeHTTP(writer, request)
		})
	}
}

func callerKey(request *http.Request) string {
	if auth := request.Header.Get("Authorization"); auth != "" {
		if key, ok := strings.CutPrefix(auth, "Bearer "); ok {
			return key
		}
	}
	return request.Header.Get("x-api-key")
}

func failAuth(writer http.ResponseWriter, request *http.Request, reason string) {
	zerolog.Ctx(request.Context()).Warn().Msg("authentication failed: " + reason)
	WriteError(writer, http.StatusUnauthorized, ErrTypeUnauthorized, reason)
}

// EnabledMiddleware gates routes behind an atomic enabled flag. Disabled
// gateways answer 503 without touching the pool.
func EnabledMiddleware(enabled *atomic.Bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			if !enabled.Load() {
				WriteError(writer, http.StatusServiceUnavailable, ErrTypeServiceUnavailable,
					"gateway is disabled")
				return
			}
			next.ServeHTTP(writer, request)
		})
	}
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}

// Flush passes through so SSE relaying keeps working behind the wrapper.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
