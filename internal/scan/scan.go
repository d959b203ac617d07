package scan

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/blizztrack/scanner/internal/blte"
	"github.com/blizztrack/scanner/internal/composition"
	"github.com/blizztrack/scanner/internal/contenthash"
	"github.com/blizztrack/scanner/internal/mapdb"
	"github.com/blizztrack/scanner/internal/tactfs"
	"github.com/blizztrack/scanner/internal/texture"
	"github.com/blizztrack/scanner/internal/tileencode"
	"github.com/blizztrack/scanner/internal/tilecoord"
	"github.com/blizztrack/scanner/internal/wdt"
)

// CatalogClient is the narrow surface the scan orchestrator needs from
// the catalog side of the publish protocol (spec.md §4.L, step 4/5 of
// §4.I). internal/publish's worker-side client implements this.
type CatalogClient interface {
	// MissingTiles returns the subset of hashes the catalog does not yet
	// have (POST /publish/tiles).
	MissingTiles(ctx context.Context, hashes []string) ([]string, error)
	// PutTile uploads one encoded tile body (PUT /publish/tile/{hash}).
	PutTile(ctx context.Context, hash, contentType string, body []byte) error
	// UpsertComposition records a map's tile layout (spec.md §4.I step 6).
	UpsertComposition(ctx context.Context, mapID uint32, comp composition.Composition) error
}

// MapDecoder supplies the external columnar-table decoder mapdb.Open
// needs (spec.md §1: out of scope here).
type MapDecoder = mapdb.Decoder

// Notifier receives best-effort terminal-state transition events
// (SPEC_FULL.md supplemented feature 4: Services:EventWebhook). A nil
// Notifier is a valid, inert default.
type Notifier interface {
	NotifyState(ctx context.Context, product, version, state string)
}

// Progress receives per-phase progress updates during Run, adapted from
// the teacher's internal/tile/progress.go terminal bar (there, one bar
// per zoom level's tile count; here, one bar per map phase then one per
// tile-encode phase). A nil Progress is a valid, inert default — callers
// that don't attach one (tests, the service daemon's background scans)
// pay nothing for it.
type Progress interface {
	StartPhase(label string, total int)
	Increment()
	FinishPhase()
}

type nopProgress struct{}

func (nopProgress) StartPhase(string, int) {}
func (nopProgress) Increment()             {}
func (nopProgress) FinishPhase()           {}

// Config configures one Scanner.
type Config struct {
	// Workers bounds per-map and per-tile fan-out; 0 means runtime.NumCPU().
	Workers int
	// AllowedMapIDs, if non-empty, restricts the per-map phase to this set
	// (spec.md §4.I step 2: "dev aid, not production behavior").
	AllowedMapIDs map[uint32]struct{}
	// MapTableLayout is forwarded to the columnar decoder untouched.
	MapTableLayout string
	// TextureOptions configures G.
	TextureOptions texture.Options
	// EncodeOptions configures H.
	EncodeOptions tileencode.Options
	// LocaleMask selects which Root entries are visible; 0 means all.
	LocaleMask uint32
}

func (c Config) workers() int {
	if c.Workers > 0 {
		return c.Workers
	}
	return runtime.NumCPU()
}

// Scanner runs the per-build scan algorithm (spec.md §4.I) against a
// resolved Filesystem.
type Scanner struct {
	cfg      Config
	decoder  MapDecoder
	catalog  CatalogClient
	notifier Notifier
	logger   *zap.SugaredLogger
	progress Progress
}

// New builds a Scanner.
func New(cfg Config, decoder MapDecoder, catalog CatalogClient) *Scanner {
	return &Scanner{cfg: cfg, decoder: decoder, catalog: catalog}
}

// WithNotifier attaches a terminal-state event notifier and returns s
// for chaining.
func (s *Scanner) WithNotifier(n Notifier) *Scanner {
	s.notifier = n
	return s
}

// WithLogger attaches a structured logger and returns s for chaining
// (spec.md §7: every DataError/Unknown error path is logged).
func (s *Scanner) WithLogger(l *zap.SugaredLogger) *Scanner {
	s.logger = l
	return s
}

func (s *Scanner) log() *zap.SugaredLogger {
	if s.logger != nil {
		return s.logger
	}
	return zap.NewNop().Sugar()
}

// WithProgress attaches a per-phase progress reporter and returns s for
// chaining.
func (s *Scanner) WithProgress(p Progress) *Scanner {
	s.progress = p
	return s
}

func (s *Scanner) progressOrNop() Progress {
	if s.progress != nil {
		return s.progress
	}
	return nopProgress{}
}

func (s *Scanner) notify(ctx context.Context, ps *ProductScan, state string) {
	if s.notifier == nil {
		return
	}
	s.notifier.NotifyState(ctx, ps.Product, ps.BuildID, state)
}

// tileGroup is the per-content-hash dedup record built during the
// per-map phase (spec.md §4.I step 3/4).
type tileGroup struct {
	contentKey string
	fileID     uint32
	refs       []tileRef
}

type tileRef struct {
	mapID uint32
	coord tilecoord.Coord
}

// Run executes one full scan (spec.md §4.I algorithm) and returns the
// resulting ProductScan; whenever Run returns an error, its State is
// Exception.
func (s *Scanner) Run(ctx context.Context, ps *ProductScan, fs *tactfs.Filesystem) (*ProductScan, error) {
	db, err := mapdb.Open(ctx, fs, s.decoder, s.cfg.MapTableLayout)
	if err != nil {
		var keyErr *blte.DecryptionKeyMissingError
		if errors.As(err, &keyErr) {
			ps.State = StateEncryptedMapDatabase
			ps.EncryptedKey = string(keyErr.KeyName)
			return ps, nil
		}
		ps.State = StateException
		ps.Exception = err.Error()
		s.notify(ctx, ps, ps.State.String())
		return ps, fmt.Errorf("scan: opening map table: %w", err)
	}

	rows := db.All()
	if len(s.cfg.AllowedMapIDs) > 0 {
		filtered := rows[:0]
		for _, r := range rows {
			if _, ok := s.cfg.AllowedMapIDs[r.ID]; ok {
				filtered = append(filtered, r)
			}
		}
		rows = filtered
	}

	var mu sync.Mutex
	groups := make(map[string]*tileGroup)
	mapTiles := make(map[uint32]map[tilecoord.Coord]string) // mapID -> coord -> contentKey
	encryptedMaps := make(map[uint32]string)

	sem := semaphore.NewWeighted(int64(s.cfg.workers()))
	g, gctx := errgroup.WithContext(ctx)

	s.progressOrNop().StartPhase("maps", len(rows))
	for _, row := range rows {
		row := row
		if row.WdtFileDataID == 0 {
			// spec.md §8 scenario 1: still upserted, with zero tiles and a
			// null composition_hash, not skipped.
			s.log().Infow("scan: map has no WDT", "map", row.ID)
			mu.Lock()
			mapTiles[row.ID] = make(map[tilecoord.Coord]string)
			mu.Unlock()
			s.progressOrNop().Increment()
			continue
		}
		if err := sem.Acquire(gctx, 1); err != nil {
			break
		}
		g.Go(func() error {
			defer sem.Release(1)
			defer s.progressOrNop().Increment()
			return s.scanMap(gctx, fs, row.ID, row.WdtFileDataID, &mu, groups, mapTiles, encryptedMaps)
		})
	}
	if err := g.Wait(); err != nil {
		s.progressOrNop().FinishPhase()
		ps.State = StateException
		ps.Exception = err.Error()
		s.notify(ctx, ps, ps.State.String())
		return ps, fmt.Errorf("scan: per-map phase: %w", err)
	}
	s.progressOrNop().FinishPhase()

	hashes := make([]string, 0, len(groups))
	for ck := range groups {
		hashes = append(hashes, ck)
	}
	sort.Strings(hashes)

	missing, err := s.catalog.MissingTiles(ctx, hashes)
	if err != nil {
		ps.State = StateException
		ps.Exception = err.Error()
		s.notify(ctx, ps, ps.State.String())
		return ps, fmt.Errorf("scan: querying missing tiles: %w", err)
	}

	var encMu sync.Mutex
	failed := make(map[string]struct{})

	encodeSem := semaphore.NewWeighted(int64(s.cfg.workers()))
	eg, egctx := errgroup.WithContext(ctx)
	s.progressOrNop().StartPhase("tiles", len(missing))
	for _, hash := range missing {
		hash := hash
		group := groups[hash]
		if group == nil {
			s.progressOrNop().Increment()
			continue
		}
		if err := encodeSem.Acquire(egctx, 1); err != nil {
			break
		}
		eg.Go(func() error {
			defer encodeSem.Release(1)
			defer s.progressOrNop().Increment()
			return s.encodeAndPublish(egctx, fs, group, &encMu, failed)
		})
	}
	if err := eg.Wait(); err != nil {
		s.progressOrNop().FinishPhase()
		ps.State = StateException
		ps.Exception = err.Error()
		s.notify(ctx, ps, ps.State.String())
		return ps, fmt.Errorf("scan: tile encode phase: %w", err)
	}
	s.progressOrNop().FinishPhase()

	for mapID, tiles := range mapTiles {
		comp := buildComposition(tiles, failed)
		if err := s.catalog.UpsertComposition(ctx, mapID, comp); err != nil {
			ps.State = StateException
			ps.Exception = err.Error()
			s.notify(ctx, ps, ps.State.String())
			return ps, fmt.Errorf("scan: upserting composition for map %d: %w", mapID, err)
		}
	}

	ps.EncryptedMaps = encryptedMaps
	if len(encryptedMaps) == 0 {
		ps.State = StateFullDecrypt
		s.notify(ctx, ps, ps.State.String())
	} else {
		ps.State = StatePartialDecrypt
	}
	return ps, nil
}

// scanMap implements the per-map phase body (spec.md §4.I step 3).
func (s *Scanner) scanMap(
	ctx context.Context,
	fs *tactfs.Filesystem,
	mapID uint32,
	wdtFileID uint32,
	mu *sync.Mutex,
	groups map[string]*tileGroup,
	mapTiles map[uint32]map[tilecoord.Coord]string,
	encryptedMaps map[uint32]string,
) error {
	data, err := fs.FetchAndDecode(ctx, wdtFileID, s.cfg.LocaleMask, false)
	if err != nil {
		var keyErr *blte.DecryptionKeyMissingError
		if errors.As(err, &keyErr) {
			mu.Lock()
			encryptedMaps[mapID] = string(keyErr.KeyName)
			mu.Unlock()
			return nil
		}
		// Not one of the recognized WDT-shaped DataErrors below: Unknown
		// class (spec.md §7), fatal for the whole build.
		s.log().Errorw("scan: fetching WDT failed, aborting build", "map", mapID, "error", err)
		return fmt.Errorf("scan: fetching WDT for map %d: %w", mapID, err)
	}

	tiles, err := wdt.Parse(data)
	if err != nil {
		// DataError: malformed WDT / missing MAID / BLTE-in-place-of-raw.
		// Fatal for this map only; other maps in the build proceed.
		s.log().Warnw("scan: malformed WDT, map skipped", "map", mapID, "error", err)
		return nil
	}

	mu.Lock()
	defer mu.Unlock()
	coords := mapTiles[mapID]
	if coords == nil {
		coords = make(map[tilecoord.Coord]string)
		mapTiles[mapID] = coords
	}
	for _, t := range tiles {
		contentKey, ok := fs.ContentKeyFor(t.FileID, s.cfg.LocaleMask)
		if !ok {
			continue
		}
		coord := tilecoord.New(t.Col, t.Row)
		coords[coord] = contentKey

		group := groups[contentKey]
		if group == nil {
			group = &tileGroup{contentKey: contentKey, fileID: t.FileID}
			groups[contentKey] = group
		}
		group.refs = append(group.refs, tileRef{mapID: mapID, coord: coord})
	}
	return nil
}

// encodeAndPublish implements the tile encode phase body (spec.md §4.I
// step 5): fetch+validate, decode, encode, publish with the output
// hash distinct from the input content hash.
//
// A failure here is scoped to this one content hash (spec.md §7:
// IntegrityError is "fatal for the containing operation" only) — it
// never aborts the build. Instead group.contentKey is recorded into
// failed so buildComposition lists every (map, coord) referencing it
// under Missing rather than silently dropping it.
func (s *Scanner) encodeAndPublish(ctx context.Context, fs *tactfs.Filesystem, group *tileGroup, mu *sync.Mutex, failed map[string]struct{}) error {
	markFailed := func(err error, stage string) {
		s.log().Warnw("scan: tile failed, recorded as missing", "fileID", group.fileID, "contentHash", group.contentKey, "stage", stage, "error", err)
		mu.Lock()
		failed[group.contentKey] = struct{}{}
		mu.Unlock()
	}

	raw, err := fs.FetchAndDecode(ctx, group.fileID, s.cfg.LocaleMask, true)
	if err != nil {
		markFailed(err, "fetch")
		return nil
	}

	tex, err := texture.Decode(raw, s.cfg.TextureOptions)
	if err != nil {
		markFailed(err, "decode")
		return nil
	}

	tile, err := tileencode.Encode(tex.BGRA, tex.Width, tex.Height, s.cfg.EncodeOptions)
	if err != nil {
		markFailed(err, "encode")
		return nil
	}

	return s.catalog.PutTile(ctx, tile.Hash, "image/webp", tile.Bytes)
}

// buildComposition assembles a Composition from one map's resolved tile
// coordinates (spec.md §4.I step 6: "using the input content hashes").
// Coordinates whose content hash is in failed never made it into
// minimap_tiles this scan, so they are listed under Missing instead of
// Tiles (spec.md:279's invariant: every composition coordinate resolves
// to one or the other).
func buildComposition(coords map[tilecoord.Coord]string, failed map[string]struct{}) composition.Composition {
	tiles := make(map[tilecoord.Coord]contenthash.ContentHash, len(coords))
	var missing map[tilecoord.Coord]struct{}
	for c, hex := range coords {
		if _, bad := failed[hex]; bad {
			if missing == nil {
				missing = make(map[tilecoord.Coord]struct{})
			}
			missing[c] = struct{}{}
			continue
		}
		ch, err := contenthash.Parse(hex)
		if err != nil {
			if missing == nil {
				missing = make(map[tilecoord.Coord]struct{})
			}
			missing[c] = struct{}{}
			continue
		}
		tiles[c] = ch
	}
	return composition.New(tiles, missing)
}
