package monitor

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/asnwatch/trust-engine/internal/events"
)

type fakeAnnouncements struct {
	anns []events.Announcement
}

func (f *fakeAnnouncements) RecentAnnouncements(_ context.Context, _ time.Duration) ([]events.Announcement, error) {
	return f.anns, nil
}

type fakeSink struct {
	events []events.ThreatEvent
}

func (f *fakeSink) InsertThreatEvent(_ context.Context, ev events.ThreatEvent) error {
	f.events = append(f.events, ev)
	return nil
}

type fakeJobs struct {
	enqueued []int64
}

func (f *fakeJobs) Enqueue(_ context.Context, asn int64, _ string) {
	f.enqueued = append(f.enqueued, asn)
}

func TestLeakGuardFlagsShortPrefixFromNonBackbone(t *testing.T) {
	source := &fakeAnnouncements{anns: []events.Announcement{
		{ASN: 65001, Prefix: "10.0.0.0/8"},    // short, not Tier-1: flag
		{ASN: 3356, Prefix: "12.0.0.0/8"},     // short, but Tier-1: skip
		{ASN: 65002, Prefix: "203.0.113.0/24"}, // normal length: skip
		{ASN: 65003, Prefix: "not-a-prefix"},  // unparsable: skip
	}}
	sink := &fakeSink{}
	jobs := &fakeJobs{}

	g := NewLeakGuard(source, sink, jobs, 5*time.Minute, 10, zap.NewNop())
	if err := g.Cycle(context.Background()); err != nil {
		t.Fatalf("Cycle: %v", err)
	}

	if len(sink.events) != 1 {
		t.Fatalf("expected 1 threat event, got %d", len(sink.events))
	}
	ev := sink.events[0]
	if ev.ASN != 65001 {
		t.Errorf("asn = %d, want 65001", ev.ASN)
	}
	if ev.Source != "Route Leak Guard" || ev.Category != "route_leak" {
		t.Errorf("source/category = %q/%q", ev.Source, ev.Category)
	}
	if len(jobs.enqueued) != 1 || jobs.enqueued[0] != 65001 {
		t.Errorf("enqueued = %v, want [65001]", jobs.enqueued)
	}
}

func TestLeakGuardBoundaryLength(t *testing.T) {
	source := &fakeAnnouncements{anns: []events.Announcement{
		{ASN: 65001, Prefix: "10.0.0.0/10"}, // exactly at the limit: flag
		{ASN: 65002, Prefix: "10.64.0.0/11"}, // one past: skip
	}}
	sink := &fakeSink{}
	g := NewLeakGuard(source, sink, &fakeJobs{}, 5*time.Minute, 10, zap.NewNop())
	if err := g.Cycle(context.Background()); err != nil {
		t.Fatalf("Cycle: %v", err)
	}
	if len(sink.events) != 1 || sink.events[0].ASN != 65001 {
		t.Errorf("events = %+v, want only the /10 flagged", sink.events)
	}
}

func TestIsTier1(t *testing.T) {
	if !IsTier1(3356) {
		t.Error("3356 should be Tier-1")
	}
	if IsTier1(65001) {
		t.Error("65001 should not be Tier-1")
	}
}

type fakeActivity struct {
	asns []int64
}

func (f *fakeActivity) ActiveASNs(_ context.Context, _ time.Duration, _, _ int) ([]int64, error) {
	return f.asns, nil
}

func TestScannerEnqueuesActiveASNs(t *testing.T) {
	jobs := &fakeJobs{}
	s := NewScanner(&fakeActivity{asns: []int64{65001, 65002}}, jobs, 10*time.Second, 5, 50, zap.NewNop())
	if err := s.Cycle(context.Background()); err != nil {
		t.Fatalf("Cycle: %v", err)
	}
	if len(jobs.enqueued) != 2 {
		t.Errorf("enqueued = %v, want two jobs", jobs.enqueued)
	}
}
