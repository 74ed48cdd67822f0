package enrich

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, srv.URL, time.Second, zap.NewNop())
}

func TestHolder(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("resource") != "AS65001" {
			t.Errorf("resource = %q", r.URL.Query().Get("resource"))
		}
		w.Write([]byte(`{"data": {"holder": "EXAMPLE-NET Example Networks"}}`))
	}))

	holder, ok := c.Holder(context.Background(), 65001)
	if !ok || holder != "EXAMPLE-NET Example Networks" {
		t.Errorf("Holder = %q, %v", holder, ok)
	}
}

func TestCountryStripsRegionSuffix(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"data": {"locations": [{"country": "US-CA"}, {"country": "DE"}]}}`))
	}))

	country, ok := c.Country(context.Background(), 65001)
	if !ok || country != "US" {
		t.Errorf("Country = %q, %v, want US", country, ok)
	}
}

func TestHasPeeringDBProfile(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("asn") == "65001" {
			w.Write([]byte(`{"data": [{"id": 1, "name": "Example"}]}`))
			return
		}
		w.Write([]byte(`{"data": []}`))
	}))

	has, ok := c.HasPeeringDBProfile(context.Background(), 65001)
	if !ok || !has {
		t.Errorf("HasPeeringDBProfile(65001) = %v, %v, want true", has, ok)
	}
	has, ok = c.HasPeeringDBProfile(context.Background(), 65002)
	if !ok || has {
		t.Errorf("HasPeeringDBProfile(65002) = %v, %v, want false with ok", has, ok)
	}
}

func TestLookupsFailSilent(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "upstream broken", http.StatusBadGateway)
	}))

	if _, ok := c.Holder(context.Background(), 65001); ok {
		t.Error("Holder should fail on bad status")
	}
	if _, ok := c.Country(context.Background(), 65001); ok {
		t.Error("Country should fail on bad status")
	}
	if _, ok := c.HasPeeringDBProfile(context.Background(), 65001); ok {
		t.Error("HasPeeringDBProfile should fail on bad status")
	}
}

func TestDeadServerFailsSilent(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", "http://127.0.0.1:1", 100*time.Millisecond, zap.NewNop())
	if _, ok := c.Holder(context.Background(), 65001); ok {
		t.Error("Holder should fail on connection error")
	}
}
