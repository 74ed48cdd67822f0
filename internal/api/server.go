package api

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/klauspost/compress/gzhttp"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/asnwatch/trust-engine/internal/events"
	"github.com/asnwatch/trust-engine/internal/registry"
)

// RegistryReader is the registry-store surface the API reads and mutates.
type RegistryReader interface {
	GetScoreCard(ctx context.Context, asn int64) (*registry.ScoreCard, error)
	GetRecords(ctx context.Context, asns []int64) (map[int64]*registry.Record, error)
	PercentileRank(ctx context.Context, score int) (float64, error)
	UpsertWhitelist(ctx context.Context, asn int64, reason string) error
	Ping(ctx context.Context) error
}

// EventReader is the event-store surface the API reads.
type EventReader interface {
	ScoreHistory(ctx context.Context, asn int64, days int) ([]events.ScorePoint, error)
	TopUpstreams(ctx context.Context, asn int64, days, limit int) ([]events.UpstreamCount, error)
	LogAPIRequest(ctx context.Context, req events.APIRequest) error
	Ping(ctx context.Context) error
}

// PayloadCache fronts hot score-card reads.
type PayloadCache interface {
	Get(ctx context.Context, asn int64) ([]byte, bool)
	Set(ctx context.Context, asn int64, payload []byte)
}

// ConsumerStatus reports whether the scoring-job consumer holds partitions.
type ConsumerStatus interface {
	IsJoined() bool
}

type Server struct {
	srv      *http.Server
	reg      RegistryReader
	events   EventReader
	cache    PayloadCache
	consumer ConsumerStatus
	secret   string
	ttl      time.Duration
	logger   *zap.Logger
}

func NewServer(addr string, reg RegistryReader, ev EventReader, cache PayloadCache, consumer ConsumerStatus, secret string, ttl time.Duration, logger *zap.Logger) *Server {
	s := &Server{
		reg:      reg,
		events:   ev,
		cache:    cache,
		consumer: consumer,
		secret:   secret,
		ttl:      ttl,
		logger:   logger,
	}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	r.HandleFunc("/readyz", s.handleReadyz).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	r.HandleFunc("/", s.handleRoot).Methods(http.MethodGet)
	r.HandleFunc("/health", s.handleHealthz).Methods(http.MethodGet)

	scored := r.NewRoute().Subrouter()
	scored.Use(s.authMiddleware, s.observeMiddleware)
	scored.HandleFunc("/asn/{asn}", s.handleScoreCard).Methods(http.MethodGet)
	scored.HandleFunc("/asn/{asn}/history", s.handleHistory).Methods(http.MethodGet)
	scored.HandleFunc("/asn/{asn}/upstreams", s.handleUpstreams).Methods(http.MethodGet)
	scored.HandleFunc("/whitelist", s.handleWhitelist).Methods(http.MethodPost)
	scored.HandleFunc("/tools/bulk-risk-check", s.handleBulkCheck).Methods(http.MethodPost)

	s.srv = &http.Server{
		Addr:    addr,
		Handler: gzhttp.GzipHandler(r),
	}
	return s
}

// Handler exposes the configured routes for tests.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return err
	}
	s.logger.Info("API server listening", zap.String("addr", s.srv.Addr))
	go func() {
		if err := s.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("API server error", zap.Error(err))
		}
	}()
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"service": "trust-engine",
		"status":  "ok",
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{}
	allOK := true

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.reg.Ping(ctx); err != nil {
		checks["registry"] = "error: " + err.Error()
		allOK = false
	} else {
		checks["registry"] = "ok"
	}

	if err := s.events.Ping(ctx); err != nil {
		checks["events"] = "error: " + err.Error()
		allOK = false
	} else {
		checks["events"] = "ok"
	}

	if s.consumer != nil {
		if s.consumer.IsJoined() {
			checks["job_consumer"] = "ok"
		} else {
			checks["job_consumer"] = "not joined"
			allOK = false
		}
	}

	status := http.StatusOK
	if !allOK {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, checks)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
