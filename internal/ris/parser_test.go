package ris

import (
	"testing"
)

func TestParseMessageAnnouncement(t *testing.T) {
	raw := []byte(`{
		"type": "ris_message",
		"data": {
			"timestamp": 1700000000.5,
			"peer_asn": "64512",
			"path": [64512, 3356, 65001],
			"announcements": [
				{"next_hop": "192.0.2.1", "prefixes": ["203.0.113.0/24", "203.0.113.0/25"]}
			],
			"community": [[3356, 100], [65001, 666]]
		}
	}`)

	evs, err := ParseMessage(raw)
	if err != nil {
		t.Fatalf("ParseMessage: %v", err)
	}
	if len(evs) != 1 {
		t.Fatalf("expected 1 event, got %d", len(evs))
	}

	ev := evs[0]
	if ev.ASN != 65001 {
		t.Errorf("origin = %d, want 65001", ev.ASN)
	}
	if ev.UpstreamAS != 3356 {
		t.Errorf("upstream = %d, want 3356", ev.UpstreamAS)
	}
	if ev.Prefix != "203.0.113.0/24" {
		t.Errorf("prefix = %q, want first announced prefix", ev.Prefix)
	}
	if ev.EventType != "announce" {
		t.Errorf("event_type = %q, want announce", ev.EventType)
	}
	wantComm := []int64{3356*65536 + 100, 65001*65536 + 666}
	if len(ev.Community) != 2 || ev.Community[0] != wantComm[0] || ev.Community[1] != wantComm[1] {
		t.Errorf("community = %v, want %v", ev.Community, wantComm)
	}
}

func TestParseMessageWithdrawal(t *testing.T) {
	raw := []byte(`{
		"type": "ris_message",
		"data": {
			"timestamp": 1700000000,
			"path": [64512, 65001],
			"withdrawals": ["198.51.100.0/24"]
		}
	}`)

	evs, err := ParseMessage(raw)
	if err != nil {
		t.Fatalf("ParseMessage: %v", err)
	}
	if len(evs) != 1 {
		t.Fatalf("expected 1 event, got %d", len(evs))
	}
	if evs[0].EventType != "withdraw" {
		t.Errorf("event_type = %q, want withdraw", evs[0].EventType)
	}
	if evs[0].ASN != 65001 {
		t.Errorf("asn = %d, want path origin 65001", evs[0].ASN)
	}
}

func TestParseMessageSingleHopPath(t *testing.T) {
	raw := []byte(`{
		"type": "ris_message",
		"data": {
			"timestamp": 1700000000,
			"path": [65001],
			"announcements": [{"prefixes": ["203.0.113.0/24"]}]
		}
	}`)

	evs, err := ParseMessage(raw)
	if err != nil {
		t.Fatalf("ParseMessage: %v", err)
	}
	if evs[0].UpstreamAS != 0 {
		t.Errorf("upstream = %d, want 0 for single-hop path", evs[0].UpstreamAS)
	}
}

func TestParseMessageASSetFlattened(t *testing.T) {
	raw := []byte(`{
		"type": "ris_message",
		"data": {
			"timestamp": 1700000000,
			"path": [64512, [3356, 3257], 65001],
			"announcements": [{"prefixes": ["203.0.113.0/24"]}]
		}
	}`)

	evs, err := ParseMessage(raw)
	if err != nil {
		t.Fatalf("ParseMessage: %v", err)
	}
	ev := evs[0]
	if ev.ASN != 65001 || ev.UpstreamAS != 3257 {
		t.Errorf("origin/upstream = %d/%d, want 65001/3257", ev.ASN, ev.UpstreamAS)
	}
	if len(ev.Path) != 4 {
		t.Errorf("path = %v, want AS set expanded in order", ev.Path)
	}
}

func TestParseMessageNonUpdateFramesSkipped(t *testing.T) {
	for _, raw := range []string{
		`{"type": "pong"}`,
		`{"type": "ris_error", "data": {"message": "bad subscription"}}`,
	} {
		evs, err := ParseMessage([]byte(raw))
		if err != nil {
			t.Errorf("ParseMessage(%s): %v", raw, err)
		}
		if evs != nil {
			t.Errorf("ParseMessage(%s) = %v, want nil", raw, evs)
		}
	}
}

func TestParseMessageMalformed(t *testing.T) {
	if _, err := ParseMessage([]byte(`{"type": "ris_message", "data": "nope"}`)); err == nil {
		t.Error("expected error for malformed data payload")
	}
	if _, err := ParseMessage([]byte(`not json`)); err == nil {
		t.Error("expected error for non-JSON frame")
	}
}
