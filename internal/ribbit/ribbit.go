// Package ribbit implements the version poller (spec.md §4.A): a
// periodic client for the upstream Ribbit-style version service that
// fetches the product summary plus per-product versions, groups rows by
// (product, version), and emits one DiscoveredBuild per group.
//
// Grounded on the retry/backoff-wrapped net/http client idiom shared by
// google-skia-buildbot and AKJUS-bsc-erigon (github.com/cenkalti/backoff/v4);
// the teacher itself has no network poller to ground this against.
package ribbit

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/blizztrack/scanner/internal/buildversion"
)

// ErrProductNotFound is returned when the versions endpoint 404s for a
// product (spec.md §6: "A 404 on a product endpoint is translated to a
// typed ProductNotFoundException").
var ErrProductNotFound = errors.New("ribbit: product not found")

// ErrSchemaMismatch is returned when a response's schema header line
// doesn't match what the reader expects (spec.md §6: "Reader MUST
// verify the schema line exactly; any mismatch is a hard error").
var ErrSchemaMismatch = errors.New("ribbit: schema header mismatch")

// SummaryRow is one row of the /v2/summary response.
type SummaryRow struct {
	Name  string
	Seqn  uint64
	Flags string
}

// VersionRow is one row of the /v2/products/{product}/versions response.
type VersionRow struct {
	Region        string
	BuildConfig   string
	CDNConfig     string
	KeyRing       string // present in the schema; unused here (spec.md §9 Open Question 4)
	BuildID       uint64
	VersionsName  string
	ProductConfig string
}

// DiscoveredBuild is one (product, version) group surfaced by a poll
// tick (spec.md §4.A), ready to hand off to the catalog's Discovered
// endpoint through internal/publish.
type DiscoveredBuild struct {
	Product       string
	Version       buildversion.BuildVersion
	BuildConfig   string
	CDNConfig     string
	ProductConfig string
	Regions       []string
}

// Client fetches Ribbit-style summary/versions tables over HTTP.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	MaxRetries uint64
}

// NewClient builds a Client against baseURL (e.g.
// "https://us.version.battle.net").
func NewClient(baseURL string) *Client {
	return &Client{BaseURL: strings.TrimRight(baseURL, "/"), HTTPClient: &http.Client{Timeout: 30 * time.Second}, MaxRetries: 3}
}

// summarySchema is the exact schema header of /v2/summary (spec.md §6).
const summarySchema = "Product!STRING:0|Seqn!DEC:4|Flags!STRING:0"

// versionsSchema is the exact schema header of /v2/products/{p}/versions.
const versionsSchema = "Region!STRING:0|BuildConfig!HEX:16|CDNConfig!HEX:16|KeyRing!HEX:16|BuildId!DEC:4|VersionsName!String:0|ProductConfig!HEX:16"

// FetchSummary fetches /v2/summary and returns its sequence id and rows.
func (c *Client) FetchSummary(ctx context.Context) (uint64, []SummaryRow, error) {
	body, err := c.get(ctx, "/v2/summary")
	if err != nil {
		return 0, nil, err
	}
	seqn, fields, err := parseTable(body, summarySchema)
	if err != nil {
		return 0, nil, err
	}
	rows := make([]SummaryRow, 0, len(fields))
	for _, f := range fields {
		if len(f) < 3 {
			continue
		}
		n, _ := strconv.ParseUint(f[1], 10, 64)
		rows = append(rows, SummaryRow{Name: f[0], Seqn: n, Flags: f[2]})
	}
	return seqn, rows, nil
}

// FetchVersions fetches /v2/products/{product}/versions.
func (c *Client) FetchVersions(ctx context.Context, product string) (uint64, []VersionRow, error) {
	body, err := c.get(ctx, "/v2/products/"+product+"/versions")
	if err != nil {
		return 0, nil, err
	}
	seqn, fields, err := parseTable(body, versionsSchema)
	if err != nil {
		return 0, nil, err
	}
	rows := make([]VersionRow, 0, len(fields))
	for _, f := range fields {
		if len(f) < 7 {
			continue
		}
		buildID, _ := strconv.ParseUint(f[4], 10, 64)
		rows = append(rows, VersionRow{
			Region:        f[0],
			BuildConfig:   strings.ToLower(f[1]),
			CDNConfig:     strings.ToLower(f[2]),
			KeyRing:       f[3],
			BuildID:       buildID,
			VersionsName:  f[5],
			ProductConfig: strings.ToLower(f[6]),
		})
	}
	return seqn, rows, nil
}

func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	var body []byte
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := c.HTTPClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusNotFound {
			return backoff.Permanent(ErrProductNotFound)
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("ribbit: unexpected status %d from %s", resp.StatusCode, path)
		}
		b, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		body = b
		return nil
	}

	b := backoff.WithMaxRetries(backoff.NewConstantBackOff(500*time.Millisecond), c.maxRetries())
	if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil {
		if errors.Is(err, ErrProductNotFound) {
			return nil, ErrProductNotFound
		}
		return nil, fmt.Errorf("ribbit: fetching %s: %w", path, err)
	}
	return body, nil
}

func (c *Client) maxRetries() uint64 {
	if c.MaxRetries > 0 {
		return c.MaxRetries
	}
	return 3
}

// parseTable parses a pipe-delimited Ribbit table: line 1 schema header,
// line 2 "## seqn = <uint>", remaining lines are pipe-delimited field
// rows (spec.md §6).
func parseTable(body []byte, wantSchema string) (seqn uint64, rows [][]string, err error) {
	sc := bufio.NewScanner(bytes.NewReader(body))
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)

	if !sc.Scan() {
		return 0, nil, fmt.Errorf("%w: empty response", ErrSchemaMismatch)
	}
	if sc.Text() != wantSchema {
		return 0, nil, fmt.Errorf("%w: got %q, want %q", ErrSchemaMismatch, sc.Text(), wantSchema)
	}

	if !sc.Scan() {
		return 0, nil, fmt.Errorf("ribbit: missing seqn line")
	}
	seqnLine := sc.Text()
	const prefix = "## seqn = "
	if !strings.HasPrefix(seqnLine, prefix) {
		return 0, nil, fmt.Errorf("ribbit: malformed seqn line %q", seqnLine)
	}
	seqn, err = strconv.ParseUint(strings.TrimSpace(seqnLine[len(prefix):]), 10, 64)
	if err != nil {
		return 0, nil, fmt.Errorf("ribbit: parsing seqn: %w", err)
	}

	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		rows = append(rows, strings.Split(line, "|"))
	}
	if err := sc.Err(); err != nil {
		return 0, nil, fmt.Errorf("ribbit: scanning table body: %w", err)
	}
	return seqn, rows, nil
}

// Group collects one product's versions rows into DiscoveredBuilds,
// unioning regions and failing hard when config hashes disagree across
// regions within a (product, version) group (spec.md §4.A).
func Group(product string, rows []VersionRow) ([]DiscoveredBuild, error) {
	type key struct {
		version buildversion.BuildVersion
	}
	groups := make(map[key]*DiscoveredBuild)
	var order []key

	for _, r := range rows {
		v, err := buildversion.Parse(r.VersionsName)
		if err != nil {
			return nil, fmt.Errorf("ribbit: parsing version %q for %s: %w", r.VersionsName, product, err)
		}
		k := key{version: v}
		g, ok := groups[k]
		if !ok {
			g = &DiscoveredBuild{
				Product:       product,
				Version:       v,
				BuildConfig:   r.BuildConfig,
				CDNConfig:     r.CDNConfig,
				ProductConfig: r.ProductConfig,
			}
			groups[k] = g
			order = append(order, k)
		} else {
			// spec.md §4.A: "If the three config hashes differ across
			// regions within a group, fail hard: the downstream dedup
			// assumption is broken."
			if g.BuildConfig != r.BuildConfig || g.CDNConfig != r.CDNConfig || g.ProductConfig != r.ProductConfig {
				return nil, fmt.Errorf("ribbit: %s %s: config hashes disagree across regions (region %s)", product, r.VersionsName, r.Region)
			}
		}
		g.Regions = unionRegion(g.Regions, r.Region)
	}

	out := make([]DiscoveredBuild, 0, len(order))
	for _, k := range order {
		out = append(out, *groups[k])
	}
	return out, nil
}

func unionRegion(regions []string, r string) []string {
	for _, existing := range regions {
		if existing == r {
			return regions
		}
	}
	return append(regions, r)
}
