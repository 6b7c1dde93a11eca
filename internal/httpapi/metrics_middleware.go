package httpapi

import (
	"net/http"
	"strconv"
	"time"
)

// responseWriter wraps http.ResponseWriter to capture the status code written
// by the wrapped handler, since net/http gives no way to read it back.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(statusCode int) {
	rw.statusCode = statusCode
	rw.ResponseWriter.WriteHeader(statusCode)
}

// Flush lets SSE handlers (approvals/stream) keep using http.Flusher through
// the wrapper.
func (rw *responseWriter) Flush() {
	if flusher, ok := rw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// metricsMiddleware records request duration and count against s.Metrics and
// wraps the request in an s.Tracer span, keyed by the mux pattern rather
// than the raw path so that path parameters don't blow up cardinality.
func (s *Server) metricsMiddleware(pattern string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.Tracer != nil {
			ctx, span := s.Tracer.TraceHTTPRequest(r.Context(), r.Method, pattern)
			defer span.End()
			r = r.WithContext(ctx)
		}

		if s.Metrics == nil {
			next(w, r)
			return
		}

		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next(wrapped, r)

		s.Metrics.RecordHTTPRequest(r.Method, pattern, strconv.Itoa(wrapped.statusCode), time.Since(start).Seconds())
	}
}
