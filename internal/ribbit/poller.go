package ribbit

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Publisher is the narrow surface the poller needs from the catalog side
// of the publish protocol (spec.md §4.L POST /publish/discovered):
// "pass all discovered builds through the catalog's Discovered endpoint;
// only those the catalog returns are processed this tick." The poller
// hands each build in the returned list to OnPending.
type Publisher interface {
	FilterUndiscovered(ctx context.Context, builds []DiscoveredBuild) ([]DiscoveredBuild, error)
}

// Poller periodically polls the version service for every configured
// product and hands discovered builds off to a Publisher (spec.md
// §4.A).
type Poller struct {
	Client    *Client
	Products  []string
	Interval  time.Duration
	Publisher Publisher
	Logger    *zap.SugaredLogger

	// OnPending is invoked once per build FilterUndiscovered reports as
	// not yet terminally processed (spec.md §4.A: "only those the
	// catalog returns are processed this tick") — the scan orchestrator
	// hangs off this hook rather than the poller owning scan dispatch
	// itself. A nil OnPending makes the poller discovery-only.
	OnPending func(ctx context.Context, build DiscoveredBuild)
}

// Run ticks until ctx is cancelled. Ticks never overlap; if a tick takes
// longer than Interval, the next tick starts immediately with no
// queuing (spec.md §5).
func (p *Poller) Run(ctx context.Context) {
	for {
		start := time.Now()
		p.tick(ctx)
		if ctx.Err() != nil {
			return
		}
		elapsed := time.Since(start)
		wait := p.Interval - elapsed
		if wait < 0 {
			wait = 0
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

func (p *Poller) tick(ctx context.Context) {
	log := p.logger()

	var all []DiscoveredBuild
	for _, product := range p.Products {
		_, rows, err := p.Client.FetchVersions(ctx, product)
		if err != nil {
			// spec.md §4.A: "Failure to reach the service backing a
			// single product is logged and continues; unrecognized
			// product -> log and continue."
			log.Warnw("ribbit: fetching versions failed, skipping product this tick", "product", product, "error", err)
			continue
		}
		builds, err := Group(product, rows)
		if err != nil {
			log.Errorw("ribbit: grouping versions failed", "product", product, "error", err)
			continue
		}
		all = append(all, builds...)
	}

	if len(all) == 0 {
		return
	}
	pending, err := p.Publisher.FilterUndiscovered(ctx, all)
	if err != nil {
		log.Errorw("ribbit: publishing discovered builds failed", "error", err)
		return
	}
	if p.OnPending == nil {
		return
	}
	for _, build := range pending {
		p.OnPending(ctx, build)
	}
}

func (p *Poller) logger() *zap.SugaredLogger {
	if p.Logger != nil {
		return p.Logger
	}
	return zap.NewNop().Sugar()
}
