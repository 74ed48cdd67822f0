package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/asnwatch/trust-engine/internal/registry"
)

type breakdownPayload struct {
	Hygiene   int `json:"hygiene"`
	Threat    int `json:"threat"`
	Stability int `json:"stability"`
}

type scoreCardPayload struct {
	ASN         int64            `json:"asn"`
	Name        string           `json:"name"`
	CountryCode string           `json:"country_code"`
	Registry    string           `json:"registry,omitempty"`
	RiskScore   int              `json:"risk_score"`
	RiskLevel   string           `json:"risk_level"`
	Percentile  float64          `json:"percentile"`
	Breakdown   breakdownPayload `json:"breakdown"`
	Details     []Detail         `json:"details"`
	LastUpdated string           `json:"last_updated"`
}

func parseASN(r *http.Request) (int64, error) {
	raw := mux.Vars(r)["asn"]
	asn, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || asn < 0 {
		return 0, fmt.Errorf("invalid asn %q", raw)
	}
	return asn, nil
}

// etagFor derives a weak validator from the last-update timestamp. Stable
// for an unchanged timestamp, cheap to recompute on every read.
func etagFor(lastUpdated string) string {
	h := fnv.New64a()
	h.Write([]byte(lastUpdated))
	return fmt.Sprintf(`W/"%x"`, h.Sum64())
}

func markCacheHit(w http.ResponseWriter) {
	if rec, ok := w.(*statusRecorder); ok {
		rec.cacheHit = true
	}
}

func (s *Server) handleScoreCard(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	asn, err := parseASN(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if payload, ok := s.cache.Get(r.Context(), asn); ok {
		markCacheHit(w)
		s.respondScoreCard(w, r, payload, start)
		return
	}

	card, err := s.reg.GetScoreCard(r.Context(), asn)
	if errors.Is(err, registry.ErrNotFound) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("asn %d not found", asn))
		return
	}
	if err != nil {
		s.logger.Error("score card lookup failed", zap.Int64("asn", asn), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "registry lookup failed")
		return
	}

	percentile, err := s.reg.PercentileRank(r.Context(), card.TotalScore)
	if err != nil {
		s.logger.Error("percentile lookup failed", zap.Int64("asn", asn), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "registry lookup failed")
		return
	}

	level := card.RiskLevel
	if level == registry.LevelUnknown {
		level = registry.LevelForScore(card.TotalScore)
	}

	lastUpdated := ""
	if card.LastScoredAt != nil {
		lastUpdated = card.LastScoredAt.UTC().Format(time.RFC3339)
	}

	resp := scoreCardPayload{
		ASN:         card.ASN,
		Name:        card.Name,
		CountryCode: card.CountryCode,
		Registry:    card.Registry,
		RiskScore:   card.TotalScore,
		RiskLevel:   string(level),
		Percentile:  percentile,
		Breakdown: breakdownPayload{
			Hygiene:   card.HygieneScore - 100,
			Threat:    card.ThreatScore - 100,
			Stability: card.StabilityScore - 100,
		},
		Details:     []Detail{},
		LastUpdated: lastUpdated,
	}
	if card.HasSignals {
		resp.Details = synthesizeDetails(card.Signals)
	}

	payload, err := json.Marshal(resp)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "encoding failed")
		return
	}
	s.cache.Set(r.Context(), asn, payload)
	s.respondScoreCard(w, r, payload, start)
}

// respondScoreCard handles the conditional-request dance shared by the
// cached and uncached paths.
func (s *Server) respondScoreCard(w http.ResponseWriter, r *http.Request, payload []byte, start time.Time) {
	var probe struct {
		LastUpdated string `json:"last_updated"`
	}
	_ = json.Unmarshal(payload, &probe)
	etag := etagFor(probe.LastUpdated)

	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", fmt.Sprintf("public, max-age=%d", int(s.ttl.Seconds())))
	setResponseTime(w, start)

	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(payload)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	asn, err := parseASN(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	days := 30
	if raw := r.URL.Query().Get("days"); raw != "" {
		if d, err := strconv.Atoi(raw); err == nil && d > 0 {
			days = d
		}
	}
	if days > 365 {
		days = 365
	}

	type point struct {
		Timestamp time.Time `json:"timestamp"`
		Score     int       `json:"score"`
	}
	points := []point{}

	history, err := s.events.ScoreHistory(r.Context(), asn, days)
	if err != nil {
		// Degrade to an empty series rather than failing the read.
		s.logger.Warn("history lookup failed", zap.Int64("asn", asn), zap.Error(err))
	} else {
		for _, p := range history {
			points = append(points, point{Timestamp: p.Timestamp, Score: p.Score})
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"asn":     asn,
		"days":    days,
		"history": points,
	})
}

type upstreamPayload struct {
	ASN           int64  `json:"asn"`
	Name          string `json:"name"`
	Score         int    `json:"score"`
	RiskLevel     string `json:"risk_level"`
	Announcements uint64 `json:"announcements"`
}

func (s *Server) handleUpstreams(w http.ResponseWriter, r *http.Request) {
	asn, err := parseASN(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	tops, err := s.events.TopUpstreams(r.Context(), asn, 30, 5)
	if err != nil {
		s.logger.Error("upstream lookup failed", zap.Int64("asn", asn), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "event store lookup failed")
		return
	}

	asns := []int64{asn}
	for _, u := range tops {
		asns = append(asns, u.ASN)
	}
	records, err := s.reg.GetRecords(r.Context(), asns)
	if err != nil {
		s.logger.Error("upstream registry lookup failed", zap.Int64("asn", asn), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "registry lookup failed")
		return
	}

	var riskScore *int
	if rec, ok := records[asn]; ok {
		riskScore = &rec.TotalScore
	}

	upstreams := []upstreamPayload{}
	sum, n := 0, 0
	for _, u := range tops {
		entry := upstreamPayload{ASN: u.ASN, Score: 50, RiskLevel: string(registry.LevelUnknown), Announcements: u.Count}
		if rec, ok := records[u.ASN]; ok {
			entry.Name = rec.Name
			entry.Score = rec.TotalScore
			entry.RiskLevel = string(rec.RiskLevel)
		}
		upstreams = append(upstreams, entry)
		sum += entry.Score
		n++
	}

	avg := 0
	if n > 0 {
		avg = sum / n
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"asn":                asn,
		"risk_score":         riskScore,
		"avg_upstream_score": avg,
		"upstreams":          upstreams,
	})
}

func (s *Server) handleWhitelist(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ASN    int64  `json:"asn"`
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ASN <= 0 {
		writeError(w, http.StatusBadRequest, "body must be {asn, reason} with a positive asn")
		return
	}

	if err := s.reg.UpsertWhitelist(r.Context(), req.ASN, req.Reason); err != nil {
		s.logger.Error("whitelist upsert failed", zap.Int64("asn", req.ASN), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "whitelist update failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status": "whitelisted",
		"asn":    req.ASN,
	})
}

const bulkCheckLimit = 1000

func (s *Server) handleBulkCheck(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ASNs []int64 `json:"asns"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "body must be {asns: [...]}")
		return
	}
	if len(req.ASNs) > bulkCheckLimit {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("at most %d asns per request", bulkCheckLimit))
		return
	}

	records, err := s.reg.GetRecords(r.Context(), req.ASNs)
	if err != nil {
		s.logger.Error("bulk lookup failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "registry lookup failed")
		return
	}

	type entry struct {
		ASN       int64  `json:"asn"`
		Score     *int   `json:"score"`
		RiskLevel string `json:"risk_level"`
	}
	results := make([]entry, 0, len(req.ASNs))
	for _, asn := range req.ASNs {
		e := entry{ASN: asn, RiskLevel: string(registry.LevelUnknown)}
		if rec, ok := records[asn]; ok {
			score := rec.TotalScore
			e.Score = &score
			e.RiskLevel = string(rec.RiskLevel)
		}
		results = append(results, e)
	}

	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}
