package scan

import (
	"context"

	"github.com/blizztrack/scanner/internal/tactkeys"
)

// RescanTrigger watches a tactkeys.Registry for newly discovered keys
// and invokes onKey for each (spec.md §4.I: "whenever a new TACTKey is
// discovered, find all ProductScans in PartialDecrypt or Encrypted*
// referencing that key and re-queue them as Pending").
//
// The actual "find ProductScans referencing this key" query is the
// catalog's (internal/catalog); this type only owns the channel-drain
// loop, matching the teacher's internal/tile/progress.go pattern of a
// small dedicated goroutine relaying channel events to a callback.
type RescanTrigger struct {
	registry *tactkeys.Registry
	onKey    func(ctx context.Context, key tactkeys.KeyName)
}

// NewRescanTrigger builds a trigger bound to registry; onKey is invoked
// once per discovered key until ctx is cancelled.
func NewRescanTrigger(registry *tactkeys.Registry, onKey func(ctx context.Context, key tactkeys.KeyName)) *RescanTrigger {
	return &RescanTrigger{registry: registry, onKey: onKey}
}

// Run blocks, draining registry.NewKeys until ctx is cancelled.
func (t *RescanTrigger) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case key, ok := <-t.registry.NewKeys:
			if !ok {
				return
			}
			t.onKey(ctx, key)
		}
	}
}
