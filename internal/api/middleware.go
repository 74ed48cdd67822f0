package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/asnwatch/trust-engine/internal/events"
	"github.com/asnwatch/trust-engine/internal/metrics"
)

// statusRecorder captures the status code for logging and metrics.
type statusRecorder struct {
	http.ResponseWriter
	status   int
	cacheHit bool
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-API-Key") != s.secret {
			writeError(w, http.StatusForbidden, "invalid or missing API key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// observeMiddleware stamps X-Response-Time, counts the request and, for
// scored-lookup paths, appends a request-log row in the background. Logging
// failures never touch the response.
func (s *Server) observeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		elapsed := time.Since(start)
		ms := float64(elapsed.Microseconds()) / 1000

		metrics.APIRequestsTotal.WithLabelValues(r.URL.Path, strconv.Itoa(rec.status)).Inc()

		if strings.HasPrefix(r.URL.Path, "/asn") {
			entry := events.APIRequest{
				Timestamp:      start.UTC(),
				Endpoint:       r.URL.Path,
				Method:         r.Method,
				StatusCode:     rec.status,
				ResponseTimeMs: ms,
				CacheHit:       rec.cacheHit,
				ClientIP:       clientIP(r),
			}
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := s.events.LogAPIRequest(ctx, entry); err != nil {
					s.logger.Debug("request log append failed", zap.Error(err))
				}
			}()
		}
	})
}

func setResponseTime(w http.ResponseWriter, start time.Time) {
	w.Header().Set("X-Response-Time", fmt.Sprintf("%.2fms", float64(time.Since(start).Microseconds())/1000))
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return strings.TrimSpace(strings.SplitN(fwd, ",", 2)[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
