package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/blizztrack/scanner/internal/blobstore"
	"github.com/blizztrack/scanner/internal/catalog"
	"github.com/blizztrack/scanner/internal/config"
	"github.com/blizztrack/scanner/internal/mapdb"
	"github.com/blizztrack/scanner/internal/publish"
	"github.com/blizztrack/scanner/internal/ribbit"
	"github.com/blizztrack/scanner/internal/tactfs"
	"github.com/blizztrack/scanner/internal/texture"
	"github.com/blizztrack/scanner/internal/tileencode"
	"github.com/blizztrack/scanner/internal/wdt"
)

// syncTilesCmd reconciles the tile blob store against the catalog's
// minimap_tiles table (SPEC_FULL.md supplemented feature 2): a blob
// saved by one worker's scan can outlive a catalog row lost to an
// aborted publish, and this is the offline repair for that drift.
// Unlike generate/service it talks to the catalog directly rather than
// through the publish protocol, since it operates on (store, catalog)
// pairs the HTTP surface has no endpoint for.
func syncTilesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync-tiles",
		Short: "record any blob-store tiles missing from the catalog's minimap_tiles table",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.ConnectionString == "" {
				return fmt.Errorf("scanner: --connection-string or ConnectionString config key is required")
			}

			ctx := cmd.Context()
			store, err := catalog.Open(ctx, cfg.ConnectionString)
			if err != nil {
				return fmt.Errorf("scanner: connecting to catalog: %w", err)
			}
			blobs, err := buildBlobStore(cfg)
			if err != nil {
				return err
			}

			present, err := blobs.GetAllHashes(ctx)
			if err != nil {
				return fmt.Errorf("scanner: listing blob store hashes: %w", err)
			}
			hexes := make([]string, 0, len(present))
			for h := range present {
				hexes = append(hexes, h.Hex())
			}

			missing, err := store.MissingTiles(ctx, hexes)
			if err != nil {
				return fmt.Errorf("scanner: querying catalog for missing rows: %w", err)
			}
			bar := newProgressBar("sync-tiles", len(missing))
			for _, hash := range missing {
				if err := store.PutTile(ctx, hash); err != nil {
					bar.Finish()
					return fmt.Errorf("scanner: recording tile %s: %w", hash, err)
				}
				bar.Increment()
			}
			bar.Finish()
			fmt.Printf("scanner: sync-tiles recorded %d of %d blob(s) missing from the catalog\n", len(missing), len(hexes))
			return nil
		},
	}
	return cmd
}

// buildBlobStore selects the Local or R2 tile blob store per
// cfg.TileStoreProvider, mirroring cmd/catalogd's buildBlobStore: the
// worker's maintenance subcommands read and write the same blob store
// the catalog-side publish server does, rather than going through HTTP.
func buildBlobStore(cfg *config.Config) (blobstore.Store, error) {
	switch cfg.TileStoreProvider {
	case config.TileStoreR2:
		return blobstore.NewS3Store(blobstore.S3Config{
			ServiceURL: cfg.R2TileStore.ServiceUrl,
			AccessKey:  cfg.R2TileStore.AccessKey,
			SecretKey:  cfg.R2TileStore.SecretKey,
			BucketName: cfg.R2TileStore.BucketName,
		})
	default:
		return blobstore.NewLocalStore(cfg.LocalTileStore.Path)
	}
}

// generateHeightmapsCmd produces a second, terrarium-encoded tile per
// minimap texture (SPEC_FULL.md supplemented feature 1). It re-resolves
// the filesystem live rather than reading compositions back out of the
// catalog: the catalog's compositions table only records a tile count,
// not the coordinate layout (DESIGN.md), so there is nothing to read
// back from there. No schema or protocol change is needed to tell the
// two encodings apart: the terrarium tile gets its own content hash and
// is PUT with a distinct Content-Type, exactly like any other tile.
func generateHeightmapsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate-heightmaps",
		Short: "publish a terrarium-encoded elevation tile alongside each map's minimap tiles",
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

			return generateHeightmaps(ctx, deps, product, filterID, build)
		},
	}
	return cmd
}

func generateHeightmaps(ctx context.Context, deps *workerDeps, product, filterID string, build ribbit.DiscoveredBuild) error {
	fs, err := tactfs.Open(ctx, product, build.BuildConfig, build.CDNConfig, deps.loc, deps.codec)
	if err != nil {
		return fmt.Errorf("scanner: resolving filesystem for %s: %w", product, err)
	}

	db, err := mapdb.Open(ctx, fs, noopMapDecoder{}, "")
	if err != nil {
		return fmt.Errorf("scanner: generate-heightmaps needs a configured mapdb.Decoder, none is wired in this build: %w", err)
	}

	rows := db.All()
	if allowed := mapAllowlist(filterID, rows); allowed != nil {
		filtered := rows[:0]
		for _, r := range rows {
			if _, ok := allowed[r.ID]; ok {
				filtered = append(filtered, r)
			}
		}
		rows = filtered
	}

	scanClient := deps.publish.ForBuild(build.Version)
	count := 0
	bar := newProgressBar("generate-heightmaps", len(rows))
	for _, row := range rows {
		if row.WdtFileDataID == 0 {
			bar.Increment()
			continue
		}
		n, err := generateMapHeightmaps(ctx, fs, scanClient, row.WdtFileDataID)
		if err != nil {
			deps.logger.Warnw("scanner: generate-heightmaps: map failed", "map", row.ID, "error", err)
			bar.Increment()
			continue
		}
		count += n
		bar.Increment()
	}
	bar.Finish()
	fmt.Printf("scanner: generate-heightmaps published %d terrarium tile(s) for %s %s\n", count, product, build.Version)
	return nil
}

func generateMapHeightmaps(ctx context.Context, fs *tactfs.Filesystem, scanClient *publish.ScanClient, wdtFileID uint32) (int, error) {
	data, err := fs.FetchAndDecode(ctx, wdtFileID, 0, false)
	if err != nil {
		return 0, fmt.Errorf("fetching WDT: %w", err)
	}
	tiles, err := wdt.Parse(data)
	if err != nil {
		return 0, fmt.Errorf("parsing WDT: %w", err)
	}

	published := 0
	for _, t := range tiles {
		raw, err := fs.FetchAndDecode(ctx, t.FileID, 0, true)
		if err != nil {
			continue
		}
		tex, err := texture.Decode(raw, texture.Options{})
		if err != nil {
			continue
		}

		elevations := luminanceElevationProxy(tex.BGRA, tex.Width, tex.Height)
		tile, err := tileencode.EncodeTerrarium(elevations, tex.Width, tex.Height)
		if err != nil {
			continue
		}
		if err := scanClient.PutTile(ctx, tile.Hash, "image/terrarium+png", tile.Bytes); err != nil {
			return published, fmt.Errorf("publishing terrarium tile for fileID %d: %w", t.FileID, err)
		}
		published++
	}
	return published, nil
}

// luminanceElevationProxy derives a placeholder elevation surface from
// a minimap texture's BGRA luminance. This is NOT real terrain height:
// WoW minimap textures carry no elevation channel, so this is a visible
// stand-in until a real heightmap source (ADT MCVT, or a DEM import) is
// wired in.
func luminanceElevationProxy(bgra []byte, width, height int) []float64 {
	out := make([]float64, width*height)
	for i := 0; i < width*height; i++ {
		px := bgra[i*4 : i*4+4]
		b, g, r := float64(px[0]), float64(px[1]), float64(px[2])
		out[i] = 0.114*b + 0.587*g + 0.299*r
	}
	return out
}
