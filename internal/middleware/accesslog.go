package middleware

import (
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/levkk/rwf/internal/logging"
)

var accessRWPool = sync.Pool{
	New: func() any { return &accessResponseWriter{} },
}

// AccessLogConfig configures the access log middleware.
type AccessLogConfig struct {
	// SkipPaths are paths that should not be logged.
	SkipPaths []string
}

// AccessLog creates an access log middleware that writes one structured
// entry per request.
func AccessLog() Middleware {
	return AccessLogWithConfig(AccessLogConfig{})
}

// AccessLogWithConfig creates an access log middleware with custom
// config.
func AccessLogWithConfig(cfg AccessLogConfig) Middleware {
	skipPaths := make(map[string]bool, len(cfg.SkipPaths))
	for _, p := range cfg.SkipPaths {
		skipPaths[p] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if skipPaths[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()

			arw := accessRWPool.Get().(*accessResponseWriter)
			arw.ResponseWriter = w
			arw.status = http.StatusOK
			arw.bytes = 0

			next.ServeHTTP(arw, r)

			duration := time.Since(start)

			// Stack-allocated array avoids slice growth allocations.
			var fields [9]zap.Field
			n := 0
			fields[n] = zap.String("remote_addr", r.RemoteAddr)
			n++
			fields[n] = zap.String("method", r.Method)
			n++
			fields[n] = zap.String("path", r.URL.Path)
			n++
			fields[n] = zap.Int("status", arw.status)
			n++
			fields[n] = zap.Int64("body_bytes", arw.bytes)
			n++
			fields[n] = zap.Duration("response_time", duration)
			n++
			if id := GetRequestID(r); id != "" {
				fields[n] = zap.String("request_id", id)
				n++
			}
			if r.URL.RawQuery != "" {
				fields[n] = zap.String("query", r.URL.RawQuery)
				n++
			}
			if ua := r.UserAgent(); ua != "" {
				fields[n] = zap.String("user_agent", ua)
				n++
			}
			logging.Info("HTTP request", fields[:n]...)

			arw.ResponseWriter = nil
			accessRWPool.Put(arw)
		})
	}
}

// accessResponseWriter wraps http.ResponseWriter to capture status and
// bytes written.
type accessResponseWriter struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (w *accessResponseWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *accessResponseWriter) Write(b []byte) (int, error) {
	n, err := w.ResponseWriter.Write(b)
	w.bytes += int64(n)
	return n, err
}

// Flush implements http.Flusher.
func (w *accessResponseWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
