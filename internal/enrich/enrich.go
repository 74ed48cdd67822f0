package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Client looks up public metadata for an ASN. Every lookup is best effort:
// a timeout, a bad status or a malformed body yields ok=false and the
// caller keeps whatever it already had.
type Client struct {
	ripestatBase  string
	peeringdbBase string
	http          *http.Client
	logger        *zap.Logger
}

func NewClient(ripestatBase, peeringdbBase string, timeout time.Duration, logger *zap.Logger) *Client {
	return &Client{
		ripestatBase:  strings.TrimRight(ripestatBase, "/"),
		peeringdbBase: strings.TrimRight(peeringdbBase, "/"),
		http:          &http.Client{Timeout: timeout},
		logger:        logger,
	}
}

// Holder returns the registered holder name from the as-overview endpoint.
func (c *Client) Holder(ctx context.Context, asn int64) (string, bool) {
	var body struct {
		Data struct {
			Holder string `json:"holder"`
		} `json:"data"`
	}
	url := fmt.Sprintf("%s/as-overview/data.json?resource=AS%d", c.ripestatBase, asn)
	if !c.getJSON(ctx, url, &body) || body.Data.Holder == "" {
		return "", false
	}
	return body.Data.Holder, true
}

// Country returns the first geolocated country code for the ASN.
func (c *Client) Country(ctx context.Context, asn int64) (string, bool) {
	var body struct {
		Data struct {
			Locations []struct {
				Country string `json:"country"`
			} `json:"locations"`
		} `json:"data"`
	}
	url := fmt.Sprintf("%s/geoloc/data.json?resource=AS%d", c.ripestatBase, asn)
	if !c.getJSON(ctx, url, &body) || len(body.Data.Locations) == 0 || body.Data.Locations[0].Country == "" {
		return "", false
	}
	// Geoloc may return "US-CA" style codes; keep the country part.
	code := body.Data.Locations[0].Country
	if i := strings.IndexByte(code, '-'); i > 0 {
		code = code[:i]
	}
	return code, true
}

// HasPeeringDBProfile reports whether the network is registered in
// PeeringDB. The second return is false when the lookup itself failed.
func (c *Client) HasPeeringDBProfile(ctx context.Context, asn int64) (bool, bool) {
	var body struct {
		Data []json.RawMessage `json:"data"`
	}
	url := fmt.Sprintf("%s/net?asn=%d", c.peeringdbBase, asn)
	if !c.getJSON(ctx, url, &body) {
		return false, false
	}
	return len(body.Data) > 0, true
}

func (c *Client) getJSON(ctx context.Context, url string, out any) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Debug("enrichment lookup failed", zap.String("url", url), zap.Error(err))
		return false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		c.logger.Debug("enrichment lookup bad status", zap.String("url", url), zap.Int("status", resp.StatusCode))
		return false
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		c.logger.Debug("enrichment decode failed", zap.String("url", url), zap.Error(err))
		return false
	}
	return true
}
