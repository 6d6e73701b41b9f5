package core

import (
	"fmt"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"

	"pushpipe/internal/types"
)

// responseCapture wraps an http.ResponseWriter to record the status code
// written by downstream handlers, for use by logging middleware.
type responseCapture struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (rc *responseCapture) WriteHeader(code int) {
	if !rc.written {
		rc.statusCode = code
		rc.written = true
	}
	rc.ResponseWriter.WriteHeader(code)
}

func (rc *responseCapture) Write(b []byte) (int, error) {
	if !rc.written {
		rc.statusCode = http.StatusOK
		rc.written = true
	}
	return rc.ResponseWriter.Write(b)
}

// Unwrap exposes the underlying writer for http.ResponseController.
func (rc *responseCapture) Unwrap() http.ResponseWriter {
	return rc.ResponseWriter
}

// RequestID assigns each request a UUID (or adopts the caller's X-Request-Id)
// and stores it in the context for logging and error envelopes.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-Id")
		if requestID == "" {
			requestID = uuid.New().String()
		}

		ctx := types.WithRequestID(r.Context(), requestID)
		w.Header().Set("X-Request-Id", requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Recoverer catches panics in the handler chain, logs the stack trace, and
// writes a standardized 500 error envelope. Mount outermost.
func (s *Server) Recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rvr := recover(); rvr != nil {
				s.Logger.Error("panic recovered",
					"method", r.Method,
					"path", r.URL.Path,
					"panic", fmt.Sprintf("%v", rvr),
					"stack", string(debug.Stack()),
				)

				Error(w, r, types.NewAppError(types.ErrCodeInternalUnexpected, "an unexpected error occurred", nil))
			}
		}()

		next.ServeHTTP(w, r)
	})
}

// RequestLogger logs request metadata after the handler chain completes.
// Authorization values are never logged.
func RequestLogger(logger types.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rc := &responseCapture{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(rc, r)

			fields := []any{
				"method", r.Method,
				"path", r.URL.Path,
				"status", rc.statusCode,
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", types.GetRequestID(r.Context()),
			}
			if auth := r.Header.Get("Authorization"); auth != "" {
				fields = append(fields, "authorization", redactAuth(auth))
			}

			if rc.statusCode >= http.StatusInternalServerError {
				logger.Error("request completed", fields...)
			} else {
				logger.Info("request completed", fields...)
			}
		})
	}
}

// redactAuth keeps the scheme of an Authorization header and masks the
// credential itself.
func redactAuth(value string) string {
	scheme, _, found := strings.Cut(value, " ")
	if !found {
		return "[REDACTED]"
	}
	return scheme + " [REDACTED]"
}
