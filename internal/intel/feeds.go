package intel

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"net/netip"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/asnwatch/trust-engine/internal/metrics"
)

// Indicators is the merged result of one feed-refresh cycle.
type Indicators struct {
	Prefixes []netip.Prefix      // listed networks, matched against routes
	Exact    map[string]struct{} // raw CIDR strings for the exact-match path
	IPs      map[string]struct{} // listed addresses, kept for reporting
}

// Fetcher downloads and parses the three public block lists. Each feed is
// parsed line by line; a bad line is skipped, a failed download leaves that
// feed's contribution empty for the cycle.
type Fetcher struct {
	networkListURL string
	ipListURL      string
	urlListURL     string
	client         *http.Client
	logger         *zap.Logger
}

func NewFetcher(networkListURL, ipListURL, urlListURL string, timeout time.Duration, logger *zap.Logger) *Fetcher {
	return &Fetcher{
		networkListURL: networkListURL,
		ipListURL:      ipListURL,
		urlListURL:     urlListURL,
		client:         &http.Client{Timeout: timeout},
		logger:         logger,
	}
}

var urlHostRe = regexp.MustCompile(`http://(\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3})`)

// FetchAll refreshes all three feeds. Never returns an error; a cycle with
// zero indicators is a valid (if useless) cycle.
func (f *Fetcher) FetchAll(ctx context.Context) *Indicators {
	ind := &Indicators{
		Exact: make(map[string]struct{}),
		IPs:   make(map[string]struct{}),
	}

	f.fetch(ctx, "network_list", f.networkListURL, func(line string) {
		// DROP format: "203.0.113.0/24 ; SBL123456"
		field := strings.TrimSpace(strings.SplitN(line, ";", 2)[0])
		if field == "" {
			return
		}
		p, err := netip.ParsePrefix(field)
		if err != nil {
			return
		}
		ind.Prefixes = append(ind.Prefixes, p)
		ind.Exact[field] = struct{}{}
	})

	f.fetch(ctx, "ip_list", f.ipListURL, func(line string) {
		field := strings.TrimSpace(line)
		if _, err := netip.ParseAddr(field); err != nil {
			return
		}
		ind.IPs[field] = struct{}{}
	})

	f.fetch(ctx, "url_list", f.urlListURL, func(line string) {
		m := urlHostRe.FindStringSubmatch(line)
		if m == nil {
			return
		}
		if _, err := netip.ParseAddr(m[1]); err != nil {
			return
		}
		ind.IPs[m[1]] = struct{}{}
	})

	f.logger.Info("threat feeds refreshed",
		zap.Int("prefixes", len(ind.Prefixes)),
		zap.Int("ips", len(ind.IPs)),
	)
	return ind
}

func (f *Fetcher) fetch(ctx context.Context, name, url string, parseLine func(string)) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		f.logger.Warn("feed request build failed", zap.String("feed", name), zap.Error(err))
		metrics.FeedFetchesTotal.WithLabelValues(name, "error").Inc()
		return
	}
	resp, err := f.client.Do(req)
	if err != nil {
		f.logger.Warn("feed fetch failed", zap.String("feed", name), zap.Error(err))
		metrics.FeedFetchesTotal.WithLabelValues(name, "error").Inc()
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		f.logger.Warn("feed fetch bad status", zap.String("feed", name), zap.Int("status", resp.StatusCode))
		metrics.FeedFetchesTotal.WithLabelValues(name, "error").Inc()
		return
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" || strings.HasPrefix(line, ";") || strings.HasPrefix(line, "#") {
			continue
		}
		parseLine(line)
	}
	if err := scanner.Err(); err != nil {
		f.logger.Warn("feed read truncated", zap.String("feed", name), zap.Error(err))
	}
	metrics.FeedFetchesTotal.WithLabelValues(name, "ok").Inc()
}

// BuildTrie indexes the fetched networks for overlap queries.
func (ind *Indicators) BuildTrie() *PrefixTrie {
	t := NewPrefixTrie()
	for _, p := range ind.Prefixes {
		t.Insert(p)
	}
	return t
}

func (ind *Indicators) String() string {
	return fmt.Sprintf("indicators{prefixes=%d ips=%d}", len(ind.Prefixes), len(ind.IPs))
}
