// Package locator implements the CDN-backed content-addressed resource
// locator (spec.md §4.B): a disk-cached, rate-limited, retrying fetcher
// that resolves opaque resource descriptors to local handles.
//
// Grounded on internal/tile/diskstore.go (atomic disk cache, per-key
// coordination) and the retry/rate-limit idiom shared by google-skia-buildbot
// and AKJUS-bsc-erigon (cenkalti/backoff, golang.org/x/time/rate).
package locator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/blizztrack/scanner/internal/blte"
	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// ErrNotFound is returned when a CDN endpoint reports 404 for a
// descriptor; the request is not retried and the remaining endpoints are
// not tried (spec.md §4.B: "NotFound is NOT retried").
var ErrNotFound = errors.New("locator: resource not found")

// Config configures download policy (spec.md §4.B).
type Config struct {
	// Endpoints is the static ordered list of CDN base URLs to try per
	// request (spec.md §9 Open Question: parsed-from-config vs
	// hard-coded; decided hard-coded-but-overridable, see DESIGN.md).
	Endpoints []string

	CacheRoot string

	MaxConcurrency   int           // default 3
	RateLimitPermits int           // default 10
	RateLimitWindow  time.Duration // default 60s
	RateLimitBurst   int           // default matches permits

	MaxAttempts  int           // default 3
	RetryDelay   time.Duration // constant delay between attempts
	RequestTimeout time.Duration // default 30s, per spec.md §5

	HTTPClient *http.Client
}

func (c *Config) setDefaults() {
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = 3
	}
	if c.RateLimitPermits <= 0 {
		c.RateLimitPermits = 10
	}
	if c.RateLimitWindow <= 0 {
		c.RateLimitWindow = 60 * time.Second
	}
	if c.RateLimitBurst <= 0 {
		c.RateLimitBurst = c.RateLimitPermits
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 30 * time.Second
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{}
	}
}

// Locator resolves descriptors to local handles.
type Locator struct {
	cfg   Config
	cache *diskCache
	sem   *semaphore.Weighted
	rl    *rate.Limiter
	blte  *blte.Codec
}

// New creates a Locator. blteCodec may be nil if OpenCompressedHandle will
// never be called.
func New(cfg Config, blteCodec *blte.Codec) *Locator {
	cfg.setDefaults()
	return &Locator{
		cfg:   cfg,
		cache: newDiskCache(cfg.CacheRoot),
		sem:   semaphore.NewWeighted(int64(cfg.MaxConcurrency)),
		// Sliding-window rate limiting is modeled as a token bucket refilling
		// at permits/window, which is the standard approximation
		// golang.org/x/time/rate is built for (spec.md §4.B describes 12
		// segments; a token bucket with the same steady-state rate satisfies
		// the same backpressure contract without hand-rolling a segmented
		// window).
		rl:   rate.NewLimiter(rate.Limit(float64(cfg.RateLimitPermits)/cfg.RateLimitWindow.Seconds()), cfg.RateLimitBurst),
		blte: blteCodec,
	}
}

// Handle is a reference to a local file containing a descriptor's bytes.
type Handle struct {
	Path string
}

// Open opens the handle's underlying file for reading.
func (h Handle) Open() (*os.File, error) { return os.Open(h.Path) }

// OpenHandle resolves descriptor to a local file on disk (spec.md §4.B).
func (l *Locator) OpenHandle(ctx context.Context, d Descriptor) (*Handle, error) {
	relPath := d.CachePath()
	if l.cache.Has(relPath) {
		return &Handle{Path: l.cache.abs(relPath)}, nil
	}

	data, err := l.fetch(ctx, d)
	if err != nil {
		return nil, err
	}
	if err := l.cache.WriteAtomic(relPath, data); err != nil {
		return nil, err
	}
	return &Handle{Path: l.cache.abs(relPath)}, nil
}

// OpenStream resolves descriptor to a transient, non-cached reader (spec.md
// §4.B): "used only when the body is small and one-shot".
func (l *Locator) OpenStream(ctx context.Context, d Descriptor) (io.ReadCloser, error) {
	data, err := l.fetch(ctx, d)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// OpenCompressedHandle resolves descriptor, then BLTE-decodes the body and
// caches the result under a peer Decompressed descriptor (spec.md §4.B).
func (l *Locator) OpenCompressedHandle(ctx context.Context, d Descriptor) (*Handle, error) {
	decompressed := d.AsDecompressed()
	decompRelPath := decompressed.CachePath()
	if l.cache.Has(decompRelPath) {
		return &Handle{Path: l.cache.abs(decompRelPath)}, nil
	}

	raw, err := l.fetch(ctx, d)
	if err != nil {
		return nil, err
	}
	if !l.cache.Has(d.CachePath()) {
		if err := l.cache.WriteAtomic(d.CachePath(), raw); err != nil {
			return nil, err
		}
	}

	if l.blte == nil {
		return nil, fmt.Errorf("locator: OpenCompressedHandle called without a BLTE codec")
	}
	decoded, err := l.blte.Parse(raw)
	if err != nil {
		return nil, err
	}
	if err := l.cache.WriteAtomic(decompRelPath, decoded); err != nil {
		return nil, err
	}
	return &Handle{Path: l.cache.abs(decompRelPath)}, nil
}

// CreateLocalHandle stores an in-process-derived byte slice (e.g. a
// BLTE-decoded body) under descriptor's cache path without fetching
// anything (spec.md §4.B).
func (l *Locator) CreateLocalHandle(d Descriptor, data []byte) (*Handle, error) {
	relPath := d.CachePath()
	if err := l.cache.WriteAtomic(relPath, data); err != nil {
		return nil, err
	}
	return &Handle{Path: l.cache.abs(relPath)}, nil
}

// fetch downloads a descriptor's bytes through the concurrency limiter,
// rate limiter, retry policy, and CDN failover list (spec.md §4.B, §5).
func (l *Locator) fetch(ctx context.Context, d Descriptor) ([]byte, error) {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("locator: acquiring concurrency permit: %w", err)
	}
	defer l.sem.Release(1)

	var lastErr error
	for _, endpoint := range l.cfg.Endpoints {
		data, err := l.fetchFromEndpoint(ctx, endpoint, d)
		if err == nil {
			return data, nil
		}
		if errors.Is(err, ErrNotFound) {
			// spec.md §4.B: NotFound is not retried and does not trigger
			// failover to the next endpoint either — a 404 means the
			// content genuinely isn't there.
			return nil, err
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = ErrNotFound
	}
	return nil, fmt.Errorf("locator: all %d endpoint(s) failed: %w", len(l.cfg.Endpoints), lastErr)
}

func (l *Locator) fetchFromEndpoint(ctx context.Context, endpoint string, d Descriptor) ([]byte, error) {
	url := endpoint + "/" + d.remotePath()

	var result []byte
	op := func() error {
		if err := l.rl.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}

		reqCtx, cancel := context.WithTimeout(ctx, l.cfg.RequestTimeout)
		defer cancel()

		req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		if d.Ranged {
			if d.Length > 0 {
				req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", d.Offset, d.Offset+d.Length-1))
			} else {
				req.Header.Set("Range", fmt.Sprintf("bytes=%d-", d.Offset))
			}
		}

		resp, err := l.cfg.HTTPClient.Do(req)
		if err != nil {
			return err // transport error: retryable
		}
		defer resp.Body.Close()

		switch resp.StatusCode {
		case http.StatusOK, http.StatusPartialContent:
			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return err
			}
			result = body
			return nil
		case http.StatusNotFound:
			return backoff.Permanent(ErrNotFound)
		case http.StatusTooManyRequests, http.StatusServiceUnavailable,
			http.StatusBadGateway, http.StatusGatewayTimeout, http.StatusRequestTimeout:
			return fmt.Errorf("locator: retryable status %d from %s", resp.StatusCode, url)
		default:
			// Any other non-OK/PartialContent result advances failover
			// (spec.md §4.B) rather than retrying the same endpoint.
			return backoff.Permanent(fmt.Errorf("locator: non-retryable status %d from %s", resp.StatusCode, url))
		}
	}

	b := backoff.WithMaxRetries(backoff.NewConstantBackOff(l.retryDelay()), uint64(l.cfg.MaxAttempts-1))
	err := backoff.Retry(op, backoff.WithContext(b, ctx))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return result, nil
}

func (l *Locator) retryDelay() time.Duration {
	if l.cfg.RetryDelay > 0 {
		return l.cfg.RetryDelay
	}
	return 500 * time.Millisecond
}

func (d Descriptor) remotePath() string {
	if d.ContentKey != "" {
		return "content/" + d.ContentKey
	}
	if d.EncodingKey != "" {
		return "data/" + d.EncodingKey
	}
	return d.RemotePath
}
