package ris

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/asnwatch/trust-engine/internal/events"
)

// envelope is the outer RIS Live frame. Only "ris_message" frames carry
// routing data; everything else (pong, ris_error, subscribe acks) is skipped.
type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type risUpdate struct {
	Timestamp     float64           `json:"timestamp"`
	PeerASN       string            `json:"peer_asn"`
	Path          []json.RawMessage `json:"path"`
	Announcements []struct {
		NextHop  string   `json:"next_hop"`
		Prefixes []string `json:"prefixes"`
	} `json:"announcements"`
	Withdrawals []string          `json:"withdrawals"`
	Community   []json.RawMessage `json:"community"`
}

// ParseMessage turns one raw RIS Live frame into zero or more BGP events.
// Non-update frames and frames without a usable origin yield (nil, nil).
func ParseMessage(raw []byte) ([]events.BGPEvent, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	if env.Type != "ris_message" {
		return nil, nil
	}

	var upd risUpdate
	if err := json.Unmarshal(env.Data, &upd); err != nil {
		return nil, fmt.Errorf("decode update: %w", err)
	}

	path := flattenPath(upd.Path)
	ts := time.Unix(int64(upd.Timestamp), int64((upd.Timestamp-float64(int64(upd.Timestamp)))*1e9)).UTC()
	communities := parseCommunities(upd.Community)

	var out []events.BGPEvent

	if len(path) > 0 {
		origin := path[len(path)-1]
		var upstream int64
		if len(path) >= 2 {
			upstream = path[len(path)-2]
		}
		for _, ann := range upd.Announcements {
			if len(ann.Prefixes) == 0 {
				continue
			}
			out = append(out, events.BGPEvent{
				Timestamp:  ts,
				ASN:        origin,
				Prefix:     ann.Prefixes[0],
				EventType:  "announce",
				UpstreamAS: upstream,
				Path:       path,
				Community:  communities,
			})
		}
	}

	// Withdrawals carry no path; attribute them to the announcing peer's
	// origin when known, otherwise record the prefix with ASN 0 so the
	// daily withdraw aggregate still counts it.
	for _, prefix := range upd.Withdrawals {
		var origin int64
		if len(path) > 0 {
			origin = path[len(path)-1]
		}
		out = append(out, events.BGPEvent{
			Timestamp: ts,
			ASN:       origin,
			Prefix:    prefix,
			EventType: "withdraw",
			Path:      path,
			Community: communities,
		})
	}

	return out, nil
}

// flattenPath decodes AS-path elements. Plain numbers pass through; AS-set
// segments (JSON arrays) are expanded in order.
func flattenPath(raw []json.RawMessage) []int64 {
	var path []int64
	for _, el := range raw {
		var asn int64
		if err := json.Unmarshal(el, &asn); err == nil {
			path = append(path, asn)
			continue
		}
		var set []int64
		if err := json.Unmarshal(el, &set); err == nil {
			path = append(path, set...)
		}
	}
	return path
}

// parseCommunities encodes each community as a single int64. Pair form
// [a, b] becomes a*65536+b; scalar form passes through unchanged.
func parseCommunities(raw []json.RawMessage) []int64 {
	var out []int64
	for _, el := range raw {
		var pair []int64
		if err := json.Unmarshal(el, &pair); err == nil && len(pair) == 2 {
			out = append(out, pair[0]*65536+pair[1])
			continue
		}
		var scalar int64
		if err := json.Unmarshal(el, &scalar); err == nil {
			out = append(out, scalar)
		}
	}
	return out
}
