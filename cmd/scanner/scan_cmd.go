package main

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sync"

	"github.com/spf13/cobra"

	"github.com/blizztrack/scanner/internal/blte"
	"github.com/blizztrack/scanner/internal/mapdb"
	"github.com/blizztrack/scanner/internal/publish"
	"github.com/blizztrack/scanner/internal/ribbit"
	"github.com/blizztrack/scanner/internal/scan"
	"github.com/blizztrack/scanner/internal/tactfs"
	"github.com/blizztrack/scanner/internal/tactkeys"
	"github.com/blizztrack/scanner/internal/texture"
	"github.com/blizztrack/scanner/internal/tileencode"
	"github.com/blizztrack/scanner/internal/webhook"
)

// noopMapDecoder stands in for the columnar-table schema DSL spec.md
// §1 explicitly puts out of scope ("only their interfaces are
// specified"). Wiring a real one is a configuration seam left for
// whatever decoder a deployment plugs in; until then every scan that
// reaches the Map table fails clearly instead of silently.
type noopMapDecoder struct{}

func (noopMapDecoder) Decode(data []byte, layout string) (mapdb.ColumnarTable, error) {
	return nil, fmt.Errorf("scanner: no columnar map-table decoder configured (spec.md §1: schema DSL is an external collaborator)")
}

// scanJob is a single (build, product) scan the rescan tracker retries
// when one of its blocking keys is discovered.
type scanJob struct {
	product string
	build   ribbit.DiscoveredBuild
}

// rescanTracker keeps, per-process, the set of scans currently blocked
// on a decryption key, fed by each Scanner.Run outcome. It replaces a
// catalog-side rescan query (internal/catalog.ScansReferencingKey, kept
// for a multi-worker deployment, see DESIGN.md) with in-memory
// bookkeeping: this worker already knows exactly which scans it ran
// and what blocked them, without asking the catalog to tell it back.
type rescanTracker struct {
	mu      sync.Mutex
	blocked map[tactkeys.KeyName][]scanJob
}

func newRescanTracker() *rescanTracker {
	return &rescanTracker{blocked: make(map[tactkeys.KeyName][]scanJob)}
}

func (t *rescanTracker) record(job scanJob, ps *scan.ProductScan) {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch ps.State {
	case scan.StateEncryptedBuild, scan.StateEncryptedMapDatabase:
		t.blocked[tactkeys.KeyName(ps.EncryptedKey)] = append(t.blocked[tactkeys.KeyName(ps.EncryptedKey)], job)
	case scan.StatePartialDecrypt:
		for _, keyName := range ps.EncryptedMaps {
			t.blocked[tactkeys.KeyName(keyName)] = append(t.blocked[tactkeys.KeyName(keyName)], job)
		}
	}
}

func (t *rescanTracker) take(key tactkeys.KeyName) []scanJob {
	t.mu.Lock()
	defer t.mu.Unlock()
	jobs := t.blocked[key]
	delete(t.blocked, key)
	return jobs
}

// mapAllowlist builds the §4.I step 2 "dev aid" allowlist from
// --filter-id's glob over map ids; an empty pattern means "all maps".
func mapAllowlist(pattern string, rows []mapdb.MapRow) map[uint32]struct{} {
	if pattern == "" {
		return nil
	}
	allowed := make(map[uint32]struct{})
	for _, r := range rows {
		if ok, _ := path.Match(pattern, fmt.Sprintf("%d", r.ID)); ok {
			allowed[r.ID] = struct{}{}
		}
	}
	return allowed
}

// resolveLatestBuild fetches and groups versions for product, returning
// the highest BuildVersion group (spec.md §4.A grouping; "latest" is
// this command's own dev-convenience framing, not a spec requirement).
func resolveLatestBuild(ctx context.Context, client *ribbit.Client, product string) (ribbit.DiscoveredBuild, error) {
	_, rows, err := client.FetchVersions(ctx, product)
	if err != nil {
		return ribbit.DiscoveredBuild{}, fmt.Errorf("scanner: fetching versions for %s: %w", product, err)
	}
	builds, err := ribbit.Group(product, rows)
	if err != nil {
		return ribbit.DiscoveredBuild{}, err
	}
	if len(builds) == 0 {
		return ribbit.DiscoveredBuild{}, fmt.Errorf("scanner: no versions reported for %s", product)
	}
	best := builds[0]
	for _, b := range builds[1:] {
		if best.Version.Less(b.Version) {
			best = b
		}
	}
	return best, nil
}

// runScan resolves product/build's filesystem and runs one full scan
// (spec.md §4.I), reporting the resulting state back to the catalog.
// progress may be nil (the service daemon's background scans run with no
// terminal to draw a bar on).
func runScan(ctx context.Context, deps *workerDeps, filterID string, job scanJob, progress scan.Progress) (*scan.ProductScan, error) {
	fs, err := tactfs.Open(ctx, job.product, job.build.BuildConfig, job.build.CDNConfig, deps.loc, deps.codec)
	ps := scan.NewProductScan(job.build.Version.String(), job.product)
	scanClient := deps.publish.ForBuild(job.build.Version)
	notifier := webhook.New(deps.webhookURL, deps.logger)
	if err != nil {
		var keyErr *blte.DecryptionKeyMissingError
		if errors.As(err, &keyErr) {
			ps.State = scan.StateEncryptedBuild
			ps.EncryptedKey = string(keyErr.KeyName)
			notifier.NotifyState(ctx, ps.Product, ps.BuildID, ps.State.String())
			reportScanState(ctx, deps, scanClient, job.product, ps)
			return ps, nil
		}
		ps.State = scan.StateException
		ps.Exception = err.Error()
		notifier.NotifyState(ctx, ps.Product, ps.BuildID, ps.State.String())
		reportScanState(ctx, deps, scanClient, job.product, ps)
		return ps, fmt.Errorf("scanner: resolving filesystem for %s: %w", job.product, err)
	}

	scanCfg := scan.Config{
		TextureOptions: texture.Options{},
		EncodeOptions:  tileencode.DefaultOptions,
	}
	if filterID != "" {
		db, err := mapdb.Open(ctx, fs, noopMapDecoder{}, scanCfg.MapTableLayout)
		if err == nil {
			scanCfg.AllowedMapIDs = mapAllowlist(filterID, db.All())
		}
	}

	scanner := scan.New(scanCfg, noopMapDecoder{}, scanClient).WithNotifier(notifier).WithLogger(deps.logger)
	if progress != nil {
		scanner = scanner.WithProgress(progress)
	}
	ps, runErr := scanner.Run(ctx, ps, fs)

	reportScanState(ctx, deps, scanClient, job.product, ps)
	return ps, runErr
}

func reportScanState(ctx context.Context, deps *workerDeps, scanClient *publish.ScanClient, product string, ps *scan.ProductScan) {
	var exception, encryptedKey *string
	if ps.Exception != "" {
		exception = &ps.Exception
	}
	if ps.EncryptedKey != "" {
		encryptedKey = &ps.EncryptedKey
	}
	var encryptedMaps map[string][]uint32
	if len(ps.EncryptedMaps) > 0 {
		encryptedMaps = make(map[string][]uint32)
		for mapID, keyName := range ps.EncryptedMaps {
			encryptedMaps[keyName] = append(encryptedMaps[keyName], mapID)
		}
	}
	if err := scanClient.ReportScanState(ctx, product, ps.State.String(), exception, encryptedKey, encryptedMaps); err != nil {
		deps.logger.Warnw("scanner: reporting scan state failed", "product", product, "error", err)
	}
}

func generateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "run one scan for --product against its latest discovered build",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			product, _ := cmd.Flags().GetString("product")
			if product == "" {
				return fmt.Errorf("scanner: --product is required")
			}
			filterID, _ := cmd.Flags().GetString("filter-id")

			deps, err := buildWorkerDeps(cmd, cfg)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			build, err := resolveLatestBuild(ctx, deps.ribbit, product)
			if err != nil {
				return err
			}

			ps, err := runScan(ctx, deps, filterID, scanJob{product: product, build: build}, &scanProgress{})
			if err != nil {
				return err
			}
			fmt.Printf("scanner: %s %s -> %s\n", product, build.Version, ps.State)
			if ps.State == scan.StateException {
				return fmt.Errorf("scanner: scan ended in Exception: %s", ps.Exception)
			}
			return nil
		},
	}
	return cmd
}

func serviceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "service",
		Short: "run the version poller and scan orchestrator continuously",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			products := splitProducts(cfg.Products)
			if flagProduct, _ := cmd.Flags().GetString("product"); flagProduct != "" {
				products = append(products, flagProduct)
			}
			if len(products) == 0 {
				return fmt.Errorf("scanner: no products configured (Products config key or --product)")
			}
			filterID, _ := cmd.Flags().GetString("filter-id")

			deps, err := buildWorkerDeps(cmd, cfg)
			if err != nil {
				return err
			}

			tracker := newRescanTracker()
			ctx := cmd.Context()

			dispatch := func(ctx context.Context, build ribbit.DiscoveredBuild) {
				job := scanJob{product: build.Product, build: build}
				ps, err := runScan(ctx, deps, filterID, job, nil)
				if err != nil {
					deps.logger.Warnw("scanner: scan failed", "product", job.product, "build", build.Version.String(), "error", err)
					return
				}
				tracker.record(job, ps)
			}

			poller := &ribbit.Poller{
				Client:    deps.ribbit,
				Products:  products,
				Interval:  defaultInterval(cfg),
				Publisher: deps.publish,
				Logger:    deps.logger,
				OnPending: dispatch,
			}

			rescan := scan.NewRescanTrigger(deps.registry, func(ctx context.Context, key tactkeys.KeyName) {
				for _, job := range tracker.take(key) {
					dispatch(ctx, job.build)
				}
			})

			var wg sync.WaitGroup
			wg.Add(2)
			go func() { defer wg.Done(); poller.Run(ctx) }()
			go func() { defer wg.Done(); rescan.Run(ctx) }()
			wg.Wait()
			return nil
		},
	}
	return cmd
}

