package httpapi

import (
	"net/http"
	"time"

	"github.com/neodalsi/dalsi/internal/logging"
)

// statusRecorder captures the status code written by the downstream handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(status int) {
	sr.status = status
	sr.ResponseWriter.WriteHeader(status)
}

// requestLogger logs one line per request and feeds the metrics collector.
// A nil metrics collector disables observation, not logging.
func requestLogger(log logging.Logger, metrics *Metrics) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sr := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(sr, r)

			elapsed := time.Since(start)
			log.Info(r.Context(), "request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", sr.status,
				"duration", elapsed,
			)
			if metrics != nil {
				metrics.observe(r.URL.Path, sr.status, elapsed)
			}
		})
	}
}
