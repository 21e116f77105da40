package httputil

import (
	"bufio"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/pitabwire/frame/security"
	securityhttp "github.com/pitabwire/frame/security/interceptors/httptor"
)

// AuthMiddleware wraps an http.Handler with frame's authentication
// middleware, validating bearer tokens on REST endpoints.
func AuthMiddleware(handler http.Handler, authenticator security.Authenticator) http.Handler {
	return securityhttp.AuthenticationMiddleware(handler, authenticator)
}

// LoggingMiddleware logs method, path, status, and duration for each request.
// Server errors log at warn, everything else at debug.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)
		duration := time.Since(start)

		attrs := []any{
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", rec.status),
			slog.Duration("duration", duration),
		}

		if rec.status >= http.StatusInternalServerError {
			slog.WarnContext(r.Context(), "http error", attrs...)
		} else {
			slog.DebugContext(r.Context(), "http ok", attrs...)
		}
	})
}

// statusRecorder captures the response status while passing Flush and Hijack
// through; SSE needs the former and WebSocket upgrades the latter.
type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(status int) {
	if !r.wroteHeader {
		r.status = status
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	r.wroteHeader = true
	return r.ResponseWriter.Write(b)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := r.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, http.ErrNotSupported
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}
