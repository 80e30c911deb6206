package web

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	appLog "untiscal/internal/log"
)

// statusRecorder wraps http.ResponseWriter to capture the status code.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// requestLogger logs each request with method, route, status, duration and
// remote address. The route pattern is logged instead of the raw path so
// feed IDs never reach the log.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		kv := []any{
			"method", r.Method,
			"route", route,
			"status", rec.status,
			"duration", time.Since(start).String(),
			"remote", r.RemoteAddr,
		}

		switch {
		case rec.status >= 500:
			appLog.Error("request", nil, kv...)
		case rec.status >= 400:
			appLog.Warn("request", kv...)
		default:
			appLog.Info("request", kv...)
		}
	})
}
