// Package peerclient is the grid's single outbound HTTP call (spec §4.3,
// C1): probe, obituary, and silence-gossip, all sharing one timeout, one
// User-Agent scheme and one (deliberately relaxed) TLS policy for
// closed-grid self-signed peer certificates.
//
// Grounded on the teacher's per-notifier HTTP client construction
// (commoncfg.NewClientFromConfig, see notify/telegram/telegram.go) adapted
// from "one client per notifier" to "one client shared across every peer
// call", since spec §5 calls for exactly that: "The HTTP client is shared
// (connection pooling) and is safe for concurrent use."
package peerclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	commoncfg "github.com/prometheus/common/config"

	"github.com/dewyer/freecaster-grid/internal/gridstate"
	"github.com/dewyer/freecaster-grid/internal/wire"
)

// Timeout is the fixed per-call timeout for every outbound request (spec
// §4.3, §5).
const Timeout = 5 * time.Second

// Client performs the grid's outbound HTTP calls.
type Client struct {
	http      *http.Client
	self      string
	userAgent string
}

// TLSOptions configures the outbound TLS policy (spec §4.3, §9). RootCAFile
// is optional; when empty, peer certificate validation is skipped
// entirely, which is the spec's explicit closed-grid default and MUST be
// documented wherever it is wired up (it is, here and in SPEC_FULL.md
// §10.3).
type TLSOptions struct {
	RootCAFile string
}

// New builds a Client. version is embedded in the User-Agent header per
// spec §6 ("freecaster-grid/{version}/{self-name}"). The underlying
// *http.Client is built through prometheus/common/config the same way
// every teacher notify/* integration builds its outbound client, so the
// grid's one shared connection-pooled client (spec §5) gets the same
// proxy/TLS-option plumbing instead of a hand-rolled http.Transport.
func New(self, version string, tlsOpts TLSOptions) (*Client, error) {
	cfg := commoncfg.HTTPClientConfig{
		TLSConfig: commoncfg.TLSConfig{
			CAFile:             tlsOpts.RootCAFile,
			InsecureSkipVerify: tlsOpts.RootCAFile == "", //nolint:gosec // spec §4.3/§9: explicit closed-grid design choice.
		},
	}
	httpClient, err := commoncfg.NewClientFromConfig(cfg, "grid-peer")
	if err != nil {
		return nil, fmt.Errorf("peerclient: %w", err)
	}
	httpClient.Timeout = Timeout

	return &Client{
		http:      httpClient,
		self:      self,
		userAgent: fmt.Sprintf("freecaster-grid/%s/%s", version, self),
	}, nil
}

// Probe calls GET / on node and classifies the result per spec §4.3/§6: up
// iff 2xx with a JSON body containing name+version. A schema violation on
// an otherwise-2xx response is "up but weird" (spec §7) — up=true, resp=nil.
func (c *Client) Probe(ctx context.Context, node gridstate.Node) (up bool, resp *wire.StatusResponse, err error) {
	body, statusErr := c.getJSON(ctx, node.Address+"/")
	if statusErr != nil {
		return false, nil, statusErr
	}

	var sr wire.StatusResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return true, nil, nil // reachable but misbehaving is not proof of death.
	}
	return true, &sr, nil
}

// Obituary calls GET /obituary/{secret} on node.
func (c *Client) Obituary(ctx context.Context, node gridstate.Node, secret string) (*wire.ObituaryResponse, error) {
	body, err := c.getJSON(ctx, node.Address+"/obituary/"+secret)
	if err != nil {
		return nil, err
	}
	var or wire.ObituaryResponse
	if err := json.Unmarshal(body, &or); err != nil {
		return nil, fmt.Errorf("peerclient: decode obituary from %s: %w", node.Name, err)
	}
	return &or, nil
}

// BroadcastSilence POSTs one silence record to node. It returns true iff
// the peer accepted it (2xx).
func (c *Client) BroadcastSilence(ctx context.Context, node gridstate.Node, secret string, rec wire.SilenceBroadcast) (accepted bool, err error) {
	payload, err := json.Marshal(rec)
	if err != nil {
		return false, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, node.Address+"/silence-broadcast/"+secret, bytes.NewReader(payload))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	return resp.StatusCode >= 200 && resp.StatusCode < 300, nil
}

// ProbeGate checks the internet-reachability captive-portal sentinel (spec
// §4.5 step 1): success iff the endpoint returns exactly HTTP 204.
func (c *Client) ProbeGate(ctx context.Context, url string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusNoContent
}

func (c *Client) getJSON(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("peerclient: %s returned status %d", url, resp.StatusCode)
	}

	buf := new(bytes.Buffer)
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
