// Package webhook implements the best-effort terminal-state event
// notifier named by spec.md §6 Environment (Services:EventWebhook) but
// never wired to behavior in the spec's body (SPEC_FULL.md supplemented
// feature 4): the scan orchestrator posts a small JSON event to this
// URL when a scan ends in EncryptedBuild, FullDecrypt or Exception;
// EncryptedMapDatabase and PartialDecrypt are not posted. Failure is logged, never
// fatal, matching spec.md §7's "Unknown… logged" posture for
// non-critical paths.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Event is the JSON body posted on a terminal-state transition.
type Event struct {
	Product string `json:"product"`
	Version string `json:"version"`
	State   string `json:"state"`
}

// Notifier posts Events to a configured URL, fire-and-forget.
type Notifier struct {
	URL        string
	HTTPClient *http.Client
	Logger     *zap.SugaredLogger
}

// New builds a Notifier. A zero-value URL makes Notify a no-op, so
// callers can construct one unconditionally and let configuration
// decide whether it ever fires.
func New(url string, logger *zap.SugaredLogger) *Notifier {
	return &Notifier{URL: url, HTTPClient: &http.Client{Timeout: 5 * time.Second}, Logger: logger}
}

// Notify posts ev to n.URL, best-effort. It never returns an error to
// the caller; failures are logged only.
func (n *Notifier) Notify(ctx context.Context, ev Event) {
	if n == nil || n.URL == "" {
		return
	}
	body, err := json.Marshal(ev)
	if err != nil {
		n.log().Warnw("webhook: marshaling event failed", "error", err)
		return
	}

	reqCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, n.URL, bytes.NewReader(body))
	if err != nil {
		n.log().Warnw("webhook: building request failed", "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.HTTPClient.Do(req)
	if err != nil {
		n.log().Warnw("webhook: delivery failed", "url", n.URL, "error", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		n.log().Warnw("webhook: non-2xx response", "url", n.URL, "status", resp.StatusCode)
	}
}

// NotifyState is a convenience wrapper around Notify for the scan
// orchestrator's terminal-state transitions; it satisfies
// internal/scan.Notifier without that package importing this one.
func (n *Notifier) NotifyState(ctx context.Context, product, version, state string) {
	n.Notify(ctx, Event{Product: product, Version: version, State: state})
}

func (n *Notifier) log() *zap.SugaredLogger {
	if n.Logger != nil {
		return n.Logger
	}
	return zap.NewNop().Sugar()
}

func (n *Notifier) String() string { return fmt.Sprintf("webhook.Notifier{%s}", n.URL) }
