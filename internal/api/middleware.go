package api

import (
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hackgods/appointment-replication/internal/logger"
	"github.com/hackgods/appointment-replication/internal/peer"
)

// LoggingMiddleware logs method, path, status and duration of each request
// together with its correlation id.
func LoggingMiddleware(log logrus.FieldLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(wrapped, r)

			entry := logger.FromContext(r.Context(), log).WithFields(logrus.Fields{
				"method":      r.Method,
				"path":        r.URL.Path,
				"status":      wrapped.statusCode,
				"duration_ms": time.Since(start).Milliseconds(),
			})
			if peer.IsHop(r.Context()) {
				entry = entry.WithField("peer_hop", true)
			}
			if wrapped.statusCode >= http.StatusInternalServerError {
				entry.Warn("request served")
				return
			}
			entry.Info("request served")
		})
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
