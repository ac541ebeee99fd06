// pkg/middleware/accesslog.go
package middleware

import (
	"net/http"
	"time"

	"go.uber.org/zap"
)

// AccessLog writes one structured line per request with status and latency.
func AccessLog(log *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w}
			next.ServeHTTP(sw, r)
			if sw.code == 0 {
				sw.code = http.StatusOK
			}
			switch r.URL.Path {
			case "/healthz", "/metrics":
				return
			}
			log.Infow("http",
				"method", r.Method,
				"path", r.URL.Path,
				"status", sw.code,
				"dur_ms", time.Since(start).Milliseconds(),
				"reqid", RequestIDFrom(r.Context()),
				"account", r.Header.Get(HeaderAccountID),
			)
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (s *statusWriter) WriteHeader(code int) {
	if s.code == 0 {
		s.code = code
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusWriter) Write(b []byte) (int, error) {
	if s.code == 0 {
		s.code = http.StatusOK
	}
	return s.ResponseWriter.Write(b)
}
