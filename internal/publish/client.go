package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/blizztrack/scanner/internal/buildversion"
	"github.com/blizztrack/scanner/internal/composition"
	"github.com/blizztrack/scanner/internal/ribbit"
)

// Client is the worker-side HTTP client for spec.md §4.L's publish
// protocol, a thin net/http wrapper that makes each request once, with
// no retry (unlike internal/locator, which retries with backoff; the
// publish protocol has no CDN failover to model, and transient failures
// here are the caller's to retry per scan-tick semantics, spec.md §5).
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewClient builds a Client against the catalog's base URL (spec.md §6
// Environment: BackendUrl).
func NewClient(baseURL string) *Client {
	return &Client{BaseURL: strings.TrimRight(baseURL, "/"), HTTPClient: &http.Client{Timeout: 30 * time.Second}}
}

var _ ribbit.Publisher = (*Client)(nil)

// FilterUndiscovered implements ribbit.Publisher via POST
// /publish/discovered.
func (c *Client) FilterUndiscovered(ctx context.Context, builds []ribbit.DiscoveredBuild) ([]ribbit.DiscoveredBuild, error) {
	req := discoveredRequest{Builds: make([]discoveredBuildWire, 0, len(builds))}
	for _, b := range builds {
		req.Builds = append(req.Builds, toWire(b))
	}

	var resp discoveredResponse
	if err := c.postJSON(ctx, "/publish/discovered", req, &resp); err != nil {
		return nil, err
	}

	out := make([]ribbit.DiscoveredBuild, 0, len(resp.Pending))
	for _, w := range resp.Pending {
		out = append(out, w.fromWire())
	}
	return out, nil
}

// MissingTiles implements scan.CatalogClient via POST /publish/tiles.
func (c *Client) MissingTiles(ctx context.Context, hashes []string) ([]string, error) {
	var resp tilesResponse
	if err := c.postJSON(ctx, "/publish/tiles", tilesRequest{Hashes: hashes}, &resp); err != nil {
		return nil, err
	}
	return resp.Missing, nil
}

// PutTile implements scan.CatalogClient via PUT /publish/tile/{hash}.
func (c *Client) PutTile(ctx context.Context, hash, contentType string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.BaseURL+"/publish/tile/"+hash, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("publish: building tile PUT request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-Expected-Hash", hash)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("publish: PUT %s: %w", hash, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("publish: PUT %s: unexpected status %d: %s", hash, resp.StatusCode, readErrorBody(resp))
	}
	return nil
}

// ScanClient binds a Client to one (product, build) scan so it can
// satisfy scan.CatalogClient's UpsertComposition, which has no
// buildID parameter of its own — the build context the catalog needs
// to record BuildMap alongside Composition (spec.md §4.I step 6) is
// carried on ScanClient instead.
type ScanClient struct {
	*Client
	BuildID buildversion.BuildVersion
}

// ForBuild returns a ScanClient scoped to one build, for use as the
// scan.Scanner's CatalogClient for that build's scan.
func (c *Client) ForBuild(buildID buildversion.BuildVersion) *ScanClient {
	return &ScanClient{Client: c, BuildID: buildID}
}

// UpsertComposition implements scan.CatalogClient via POST
// /publish/composition.
func (c *ScanClient) UpsertComposition(ctx context.Context, mapID uint32, comp composition.Composition) error {
	wire := compositionToWire(c.BuildID, mapID, comp)
	var discard struct{}
	return c.postJSON(ctx, "/publish/composition", wire, &discard)
}

// ReportScanState implements spec.md §4.I's "persist scan state" step
// via POST /publish/scan-state, called by the worker's orchestration
// loop around scan.Scanner.Run rather than by Scanner itself — Scanner
// only ever sees a CatalogClient scoped to tile/composition concerns
// (internal/scan.CatalogClient), never scan-state bookkeeping.
func (c *ScanClient) ReportScanState(ctx context.Context, product string, state string, exception, encryptedKey *string, encryptedMaps map[string][]uint32) error {
	wire := scanStateWire{
		BuildID:       wireBuildVersion(c.BuildID),
		Product:       product,
		State:         state,
		Exception:     exception,
		EncryptedKey:  encryptedKey,
		EncryptedMaps: encryptedMaps,
	}
	var discard struct{}
	return c.postJSON(ctx, "/publish/scan-state", wire, &discard)
}

func (c *Client) postJSON(ctx context.Context, path string, body, out interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("publish: marshaling request for %s: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("publish: building request for %s: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("publish: %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("publish: %s: unexpected status %d: %s", path, resp.StatusCode, readErrorBody(resp))
	}
	if resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
		return fmt.Errorf("publish: %s: decoding response: %w", path, err)
	}
	return nil
}

func readErrorBody(resp *http.Response) string {
	var e errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&e); err != nil {
		return ""
	}
	return e.Error
}
