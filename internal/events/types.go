package events

import "time"

// BGPEvent is one append-only row of bgp_events.
type BGPEvent struct {
	Timestamp  time.Time
	ASN        int64
	Prefix     string
	EventType  string // "announce" or "withdraw"
	UpstreamAS int64
	Path       []int64
	Community  []int64
}

// ThreatEvent is one append-only row of threat_events.
type ThreatEvent struct {
	Timestamp   time.Time
	ASN         int64
	Source      string
	Category    string
	TargetIP    string
	Description string
}

// ScorePoint is one append-only row of asn_score_history.
type ScorePoint struct {
	Timestamp time.Time
	ASN       int64
	Score     int
}

// APIRequest is one observability row of api_requests.
type APIRequest struct {
	Timestamp      time.Time
	Endpoint       string
	Method         string
	StatusCode     int
	ResponseTimeMs float64
	CacheHit       bool
	ClientIP       string
	ErrorMessage   string
}

// ActiveRoute is the latest origin ASN observed for a prefix.
type ActiveRoute struct {
	Prefix string
	ASN    int64
}

// Announcement is a distinct (asn, prefix) pair from a recent window.
type Announcement struct {
	ASN    int64
	Prefix string
}

// UpstreamCount ranks an upstream provider by announcement volume.
type UpstreamCount struct {
	ASN   int64
	Count uint64
}
