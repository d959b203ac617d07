package tactkeys

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

// Source fetches the upstream plain-text decryption-key list with
// ETag-conditional GETs (spec.md §4.I preconditions: "refresh from the
// upstream keys list (ETag-cached)"; §6: "Plain-text file fetched via
// HTTP with ETag caching"). The ETag is persisted alongside the key
// list itself ("TACTKeys.txt.etag", spec.md §6 Persisted state layout).
type Source struct {
	URL        string
	HTTPClient *http.Client
	EtagPath   string
}

// NewSource builds a Source reading/writing its ETag at etagPath.
func NewSource(url, etagPath string) *Source {
	return &Source{URL: url, HTTPClient: &http.Client{Timeout: 30 * time.Second}, EtagPath: etagPath}
}

// Refresh conditionally GETs Source.URL, loads any new keys into
// registry, and returns the count of newly discovered keys. A 304 Not
// Modified response (because the persisted ETag still matches) is not
// an error and returns 0.
func (s *Source) Refresh(registry *Registry) (int, error) {
	req, err := http.NewRequest(http.MethodGet, s.URL, nil)
	if err != nil {
		return 0, fmt.Errorf("tactkeys: building request: %w", err)
	}
	if etag, ok := s.loadEtag(); ok {
		req.Header.Set("If-None-Match", etag)
	}

	resp, err := s.client().Do(req)
	if err != nil {
		return 0, fmt.Errorf("tactkeys: fetching %s: %w", s.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		return 0, nil
	}
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("tactkeys: unexpected status %d from %s", resp.StatusCode, s.URL)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("tactkeys: reading response body: %w", err)
	}

	n, err := registry.LoadText(bytes.NewReader(body), time.Now())
	if err != nil {
		return 0, err
	}

	if etag := resp.Header.Get("ETag"); etag != "" {
		s.saveEtag(etag)
	}
	return n, nil
}

func (s *Source) client() *http.Client {
	if s.HTTPClient != nil {
		return s.HTTPClient
	}
	return http.DefaultClient
}

func (s *Source) loadEtag() (string, bool) {
	if s.EtagPath == "" {
		return "", false
	}
	b, err := os.ReadFile(s.EtagPath)
	if err != nil {
		return "", false
	}
	return string(b), true
}

func (s *Source) saveEtag(etag string) {
	if s.EtagPath == "" {
		return
	}
	_ = os.WriteFile(s.EtagPath, []byte(etag), 0o644)
}
