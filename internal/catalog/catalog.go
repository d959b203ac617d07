package catalog

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"github.com/blizztrack/scanner/internal/composition"
	"github.com/blizztrack/scanner/internal/contenthash"
)

// db is the narrow slice of *pgxpool.Pool's surface this package needs,
// kept as an interface so Store can be exercised against a fake in
// tests without a live Postgres instance.
type db interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
}

// Store is the relational catalog (spec.md §4.J).
type Store struct {
	db db
}

// Open connects to Postgres at dsn and returns a ready Store.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.Connect(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("catalog: connecting: %w", err)
	}
	return &Store{db: pool}, nil
}

// newWithDB is used by tests to inject a fake db.
func newWithDB(d db) *Store { return &Store{db: d} }

// FilterUndiscovered upserts Build/Product/ProductSource/ProductScan for
// every DiscoveredBuild and returns the subset whose ProductScan is not
// yet terminal (spec.md §4.L: "response: sublist the catalog has not
// yet terminally processed").
func (s *Store) FilterUndiscovered(ctx context.Context, builds []DiscoveredBuild) ([]DiscoveredBuild, error) {
	var pending []DiscoveredBuild
	for _, b := range builds {
		productID, terminal, err := s.upsertDiscovered(ctx, b)
		if err != nil {
			return nil, err
		}
		_ = productID
		if !terminal {
			pending = append(pending, b)
		}
	}
	return pending, nil
}

func (s *Store) upsertDiscovered(ctx context.Context, b DiscoveredBuild) (productID int64, terminal bool, err error) {
	if _, err = s.db.Exec(ctx, `
		INSERT INTO builds (id, version_string, discovered)
		VALUES ($1, $2, now())
		ON CONFLICT (id) DO NOTHING
	`, b.Version.Int64(), b.Version.Format()); err != nil {
		return 0, false, fmt.Errorf("catalog: upserting build: %w", err)
	}

	row := s.db.QueryRow(ctx, `
		INSERT INTO products (build_id, product_name, regions, first_seen)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (build_id, product_name) DO UPDATE SET
			regions = (SELECT array_agg(DISTINCT r) FROM unnest(products.regions || EXCLUDED.regions) AS r)
		RETURNING id
	`, b.Version.Int64(), b.Product, b.Regions)
	if err = row.Scan(&productID); err != nil {
		return 0, false, fmt.Errorf("catalog: upserting product: %w", err)
	}

	if _, err = s.db.Exec(ctx, `
		INSERT INTO product_sources (product_id, config_build, config_cdn, config_product, regions, first_seen)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (product_id, config_build, config_cdn, config_product) DO NOTHING
	`, productID, b.BuildConfig, b.CDNConfig, b.ProductConfig, b.Regions); err != nil {
		return 0, false, fmt.Errorf("catalog: upserting product source: %w", err)
	}

	if _, err = s.db.Exec(ctx, `
		INSERT INTO product_scans (product_id, state)
		VALUES ($1, $2)
		ON CONFLICT (product_id) DO NOTHING
	`, productID, ScanStatePending); err != nil {
		return 0, false, fmt.Errorf("catalog: seeding product scan: %w", err)
	}

	var state ScanState
	if err = s.db.QueryRow(ctx, `SELECT state FROM product_scans WHERE product_id = $1`, productID).Scan(&state); err != nil {
		return 0, false, fmt.Errorf("catalog: reading product scan state: %w", err)
	}

	return productID, state.Terminal(), nil
}

// UpdateScanState persists a ProductScan's new state (spec.md §4.I: the
// orchestrator's terminal transitions, and the rescan trigger's
// re-queue-as-Pending write).
func (s *Store) UpdateScanState(ctx context.Context, productID int64, state ScanState, exception, encryptedKey *string, encryptedMaps map[string][]uint32) error {
	var encryptedMapsJSON []byte
	if encryptedMaps != nil {
		var err error
		encryptedMapsJSON, err = json.Marshal(encryptedMaps)
		if err != nil {
			return fmt.Errorf("catalog: marshaling encrypted maps: %w", err)
		}
	}
	_, err := s.db.Exec(ctx, `
		UPDATE product_scans SET
			state = $2,
			last_scanned = now(),
			scan_time = now(),
			exception = $3,
			encrypted_key = $4,
			encrypted_maps = $5
		WHERE product_id = $1
	`, productID, state, exception, encryptedKey, encryptedMapsJSON)
	if err != nil {
		return fmt.Errorf("catalog: updating product scan: %w", err)
	}
	return nil
}

// UpdateScanStateByBuild persists a ProductScan's new state keyed by
// (buildID, productName) rather than the internal product_id, since
// the worker side of spec.md §4.L's protocol never learns product_id
// (spec.md §4.I: "persist scan state" is the orchestrator's job, but
// the only handle it holds after the Discovered handoff is the
// (build, product) pair it was given).
func (s *Store) UpdateScanStateByBuild(ctx context.Context, buildID int64, productName string, state ScanState, exception, encryptedKey *string, encryptedMaps map[string][]uint32) error {
	var encryptedMapsJSON []byte
	if encryptedMaps != nil {
		var err error
		encryptedMapsJSON, err = json.Marshal(encryptedMaps)
		if err != nil {
			return fmt.Errorf("catalog: marshaling encrypted maps: %w", err)
		}
	}
	_, err := s.db.Exec(ctx, `
		UPDATE product_scans SET
			state = $3,
			last_scanned = now(),
			scan_time = now(),
			exception = $4,
			encrypted_key = $5,
			encrypted_maps = $6
		WHERE product_id = (
			SELECT id FROM products WHERE build_id = $1 AND product_name = $2
		)
	`, buildID, productName, state, exception, encryptedKey, encryptedMapsJSON)
	if err != nil {
		return fmt.Errorf("catalog: updating product scan by build: %w", err)
	}
	return nil
}

// ScansReferencingKey returns every product_id whose ProductScan is
// non-terminal-recoverable (PartialDecrypt or either Encrypted* state)
// and references keyName, for the rescan trigger (spec.md §4.I).
func (s *Store) ScansReferencingKey(ctx context.Context, keyName string) ([]int64, error) {
	rows, err := s.db.Query(ctx, `
		SELECT product_id FROM product_scans
		WHERE state IN ($1, $2, $3)
		  AND (encrypted_key = $4 OR encrypted_maps ? $4 OR encrypted_maps::jsonb -> $4 IS NOT NULL)
	`, ScanStateEncryptedBuild, ScanStateEncryptedMapDatabase, ScanStatePartialDecrypt, keyName)
	if err != nil {
		return nil, fmt.Errorf("catalog: querying scans referencing key: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// UpsertMap inserts or updates a Map row with its raw columnar fields,
// letting Postgres compute `parent` (spec.md §3: "derived parent").
func (s *Store) UpsertMap(ctx context.Context, row MapRow) error {
	rawJSON, err := json.Marshal(row.Raw)
	if err != nil {
		return fmt.Errorf("catalog: marshaling map raw row: %w", err)
	}
	historyJSON, err := json.Marshal(row.NameHistory)
	if err != nil {
		return fmt.Errorf("catalog: marshaling map name history: %w", err)
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO maps (id, directory, name, name_history, raw_row)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			directory = EXCLUDED.directory,
			name = EXCLUDED.name,
			name_history = maps.name_history || EXCLUDED.name_history,
			raw_row = EXCLUDED.raw_row
	`, row.ID, row.Directory, row.Name, historyJSON, rawJSON)
	if err != nil {
		return fmt.Errorf("catalog: upserting map: %w", err)
	}
	return nil
}

// UpsertBuildMap records one (build, map) observation, moving
// first_minimap/last_minimap monotonically as more builds are scanned
// (spec.md §3).
func (s *Store) UpsertBuildMap(ctx context.Context, bm BuildMap) error {
	var compHash []byte
	if bm.CompositionHash != nil {
		compHash = bm.CompositionHash.Bytes()
	}

	_, err := s.db.Exec(ctx, `
		INSERT INTO build_maps (build_id, map_id, tiles, composition_hash)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (build_id, map_id) DO UPDATE SET
			tiles = EXCLUDED.tiles,
			composition_hash = EXCLUDED.composition_hash
	`, bm.BuildID.Int64(), bm.MapID, bm.Tiles, compHash)
	if err != nil {
		return fmt.Errorf("catalog: upserting build map: %w", err)
	}

	_, err = s.db.Exec(ctx, `
		UPDATE maps SET
			first_minimap = LEAST(COALESCE(first_minimap, $2), $2),
			last_minimap  = GREATEST(COALESCE(last_minimap, $2), $2)
		WHERE id = $1
	`, bm.MapID, bm.BuildID.Int64())
	if err != nil {
		return fmt.Errorf("catalog: updating map minimap bounds: %w", err)
	}
	return nil
}

// UpsertComposition records a map's tile layout (spec.md §4.I step 6,
// §3 "never updated (content-addressed immutability)").
func (s *Store) UpsertComposition(ctx context.Context, comp composition.Composition) error {
	missing := make([]string, 0, len(comp.Missing))
	for c := range comp.Missing {
		missing = append(missing, c.String())
	}
	missingJSON, err := json.Marshal(missing)
	if err != nil {
		return err
	}

	var extentsJSON []byte
	if comp.HasExtents {
		extentsJSON, err = json.Marshal(comp.Extents)
		if err != nil {
			return err
		}
	}

	var lodJSON []byte
	if len(comp.LOD) > 0 {
		lodJSON, err = marshalLOD(comp.LOD)
		if err != nil {
			return err
		}
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO compositions (hash, tiles, missing, lod, extents)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (hash) DO NOTHING
	`, comp.Hash.Bytes(), comp.TileCount, missingJSON, lodJSON, extentsJSON)
	if err != nil {
		return fmt.Errorf("catalog: upserting composition: %w", err)
	}
	return nil
}

func marshalLOD(lod map[int]composition.LOD) ([]byte, error) {
	out := make(map[string]map[string]string, len(lod))
	for level, layout := range lod {
		layer := make(map[string]string, len(layout))
		for c, h := range layout {
			layer[c.String()] = h.Hex()
		}
		out[fmt.Sprintf("%d", level)] = layer
	}
	return json.Marshal(out)
}

// MissingTiles returns the subset of hashes not present in
// minimap_tiles (spec.md §4.L POST /publish/tiles).
func (s *Store) MissingTiles(ctx context.Context, hashes []string) ([]string, error) {
	if len(hashes) == 0 {
		return nil, nil
	}
	want, byBytes := parseHashes(hashes)

	rows, err := s.db.Query(ctx, `SELECT hash FROM minimap_tiles WHERE hash = ANY($1)`, want)
	if err != nil {
		return nil, fmt.Errorf("catalog: querying existing tiles: %w", err)
	}
	defer rows.Close()

	present := make(map[string]struct{}, len(hashes))
	for rows.Next() {
		var b []byte
		if err := rows.Scan(&b); err != nil {
			return nil, err
		}
		present[string(b)] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var missing []string
	for raw, hex := range byBytes {
		if _, ok := present[raw]; !ok {
			missing = append(missing, hex)
		}
	}
	return missing, nil
}

// parseHashes parses hex content hashes into their raw byte form for a
// SQL ANY($1) lookup, discarding any that don't parse, and keeps a
// raw-bytes -> original-hex map to translate results back.
func parseHashes(hashes []string) (want [][]byte, byBytes map[string]string) {
	want = make([][]byte, 0, len(hashes))
	byBytes = make(map[string]string, len(hashes))
	for _, h := range hashes {
		ch, err := contenthash.Parse(h)
		if err != nil {
			continue
		}
		want = append(want, ch.Bytes())
		byBytes[string(ch.Bytes())] = h
	}
	return want, byBytes
}

// PutTile records that hash's blob is now stored (spec.md §4.L PUT
// /publish/tile/{hash}; the actual bytes go through internal/blobstore,
// not this package).
func (s *Store) PutTile(ctx context.Context, hash string) error {
	ch, err := contenthash.Parse(hash)
	if err != nil {
		return fmt.Errorf("catalog: parsing tile hash: %w", err)
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO minimap_tiles (hash) VALUES ($1)
		ON CONFLICT (hash) DO NOTHING
	`, ch.Bytes())
	if err != nil {
		return fmt.Errorf("catalog: upserting minimap tile: %w", err)
	}
	return nil
}

// UpsertTACTKey records a newly discovered TACT key (spec.md §3).
func (s *Store) UpsertTACTKey(ctx context.Context, row TACTKeyRow) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO tact_keys (key_name, key, discovered)
		VALUES ($1, $2, $3)
		ON CONFLICT (key_name) DO NOTHING
	`, row.KeyName, row.Key[:], row.Discovered)
	if err != nil {
		return fmt.Errorf("catalog: upserting tact key: %w", err)
	}
	return nil
}

// Setting reads one (key, value) row, for misc state (spec.md §3).
func (s *Store) Setting(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRow(ctx, `SELECT value FROM settings WHERE key = $1`, key).Scan(&value)
	if err != nil {
		if err == pgx.ErrNoRows {
			return "", false, nil
		}
		return "", false, err
	}
	return value, true, nil
}

// SetSetting upserts one (key, value) row.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO settings (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value
	`, key, value)
	return err
}
