package api

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"netopt/internal/metrics"
)

// statusRecorder captures the response code. It passes Flush and Hijack
// through so SSE and websocket handlers keep working behind it.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("hijack not supported")
	}
	if r.status == 0 {
		r.status = http.StatusSwitchingProtocols
	}
	return h.Hijack()
}

func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)
		if rec.status == 0 {
			rec.status = http.StatusOK
		}
		dur := time.Since(start)
		path := routeLabel(r.URL.Path)
		code := strconv.Itoa(rec.status)
		metrics.HTTPRequests.WithLabelValues(r.Method, path, code).Inc()
		metrics.HTTPDuration.WithLabelValues(r.Method, path, code).Observe(dur.Seconds())
		s.Logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", dur),
			zap.String("remote", r.RemoteAddr))
	})
}

// routeLabel collapses ids so metric label cardinality stays bounded.
func routeLabel(p string) string {
	for _, prefix := range []string{"/v1/runs/", "/v1/admin/webhook-deliveries/"} {
		rest, ok := strings.CutPrefix(p, prefix)
		if !ok || rest == "" {
			continue
		}
		parts := strings.SplitN(rest, "/", 2)
		if len(parts) == 2 {
			return prefix + "{id}/" + parts[1]
		}
		return prefix + "{id}"
	}
	return p
}

// allow applies the submission rate limit, writing 429 when exhausted.
func (s *Server) allow(w http.ResponseWriter, r *http.Request) bool {
	if s.Limiter == nil || s.Limiter.Allow() {
		return true
	}
	w.Header().Set("Retry-After", "1")
	writeProblem(w, http.StatusTooManyRequests, "Too Many Requests", "run submission rate exceeded", r.URL.Path)
	return false
}
