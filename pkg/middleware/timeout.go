package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// Timeout bounds handler execution for the daemon's small HTTP surface
// (trigger endpoint and health probes). If the deadline passes before the
// handler writes anything, the client gets a 504; a handler that already
// started writing keeps the connection.
func Timeout(limit time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), limit)
			defer cancel()

			tw := &timeoutWriter{ResponseWriter: w}
			done := make(chan struct{})
			go func() {
				next.ServeHTTP(tw, r.WithContext(ctx))
				close(done)
			}()

			select {
			case <-done:
			case <-ctx.Done():
				if tw.written {
					return
				}
				slog.Warn("request exceeded handler deadline",
					"method", r.Method,
					"path", r.URL.Path,
					"limit", limit,
				)
				http.Error(w, `{"error":"request timed out"}`, http.StatusGatewayTimeout)
			}
		})
	}
}

// timeoutWriter records whether the handler produced any output, which
// decides who owns the response when the deadline fires.
type timeoutWriter struct {
	http.ResponseWriter
	written bool
}

func (tw *timeoutWriter) WriteHeader(code int) {
	tw.written = true
	tw.ResponseWriter.WriteHeader(code)
}

func (tw *timeoutWriter) Write(b []byte) (int, error) {
	tw.written = true
	return tw.ResponseWriter.Write(b)
}
