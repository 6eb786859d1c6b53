package apiserver

import (
	"net/http"
	"runtime/debug"
	"time"

	"go.uber.org/zap"
)

// middlewareCORS allows cross-origin calls from any browser client: every
// response carries Access-Control-Allow-Origin: *, and an OPTIONS preflight
// short-circuits with 204 and the three standard Allow-* headers.
func (s *Server) middlewareCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}

func (s *Server) middlewareLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		if s.logger == nil {
			return
		}
		duration := time.Since(start)
		fields := []zap.Field{
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", wrapped.statusCode),
			zap.Int64("durationMs", duration.Milliseconds()),
		}
		switch {
		case wrapped.statusCode >= 500:
			s.logger.Error("api request", fields...)
		case wrapped.statusCode >= 400:
			s.logger.Warn("api request", fields...)
		default:
			s.logger.Info("api request", fields...)
		}
	})
}

func (s *Server) middlewarePanicRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				if s.logger != nil {
					s.logger.Error("api handler panicked",
						zap.Any("panic", err),
						zap.String("path", r.URL.Path),
						zap.String("stack", string(debug.Stack())))
				}
				writeError(w, http.StatusInternalServerError, "internal_error", "internal server error", nil)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
