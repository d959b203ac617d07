package publish

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/blizztrack/scanner/internal/blobstore"
	"github.com/blizztrack/scanner/internal/buildversion"
	"github.com/blizztrack/scanner/internal/catalog"
	"github.com/blizztrack/scanner/internal/composition"
	"github.com/blizztrack/scanner/internal/contenthash"
)

// maxTileBodyBytes bounds PUT /publish/tile/{hash} bodies (spec.md
// §4.L: "body ≤ 1 MiB").
const maxTileBodyBytes = 1 << 20

// CatalogStore is the narrow catalog surface the server's handlers
// need, kept as an interface (matched by *catalog.Store) so Server can
// be exercised against a fake in tests without a live Postgres
// instance.
type CatalogStore interface {
	FilterUndiscovered(ctx context.Context, builds []catalog.DiscoveredBuild) ([]catalog.DiscoveredBuild, error)
	MissingTiles(ctx context.Context, hashes []string) ([]string, error)
	PutTile(ctx context.Context, hash string) error
	UpsertComposition(ctx context.Context, comp composition.Composition) error
	UpsertBuildMap(ctx context.Context, bm catalog.BuildMap) error
	UpdateScanStateByBuild(ctx context.Context, buildID int64, productName string, state catalog.ScanState, exception, encryptedKey *string, encryptedMaps map[string][]uint32) error
}

// Server implements the catalog-side handlers of spec.md §4.L, routed
// through go-chi/chi (grounded on google-skia-buildbot / AKJUS-bsc-erigon
// / orbas1-Synnergy's shared go-chi/chi dependency).
type Server struct {
	Catalog CatalogStore
	Blobs   blobstore.Store
	Logger  *zap.SugaredLogger
}

// Routes mounts the publish protocol onto r.
func (s *Server) Routes(r chi.Router) {
	r.Post("/publish/discovered", s.handleDiscovered)
	r.Post("/publish/tiles", s.handleTiles)
	r.Put("/publish/tile/{hash}", s.handleTilePut)
	r.Post("/publish/composition", s.handleComposition)
	r.Post("/publish/scan-state", s.handleScanState)
}

func (s *Server) handleDiscovered(w http.ResponseWriter, r *http.Request) {
	var req discoveredRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	builds := make([]catalog.DiscoveredBuild, 0, len(req.Builds))
	for _, b := range req.Builds {
		wb := b.fromWire()
		builds = append(builds, catalog.DiscoveredBuild{
			Product:       wb.Product,
			Version:       wb.Version,
			BuildConfig:   wb.BuildConfig,
			CDNConfig:     wb.CDNConfig,
			ProductConfig: wb.ProductConfig,
			Regions:       wb.Regions,
		})
	}

	pending, err := s.Catalog.FilterUndiscovered(r.Context(), builds)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}

	resp := discoveredResponse{}
	for _, b := range pending {
		resp.Pending = append(resp.Pending, discoveredBuildWire{
			Product:       b.Product,
			Version:       wireBuildVersion(b.Version),
			BuildConfig:   b.BuildConfig,
			CDNConfig:     b.CDNConfig,
			ProductConfig: b.ProductConfig,
			Regions:       b.Regions,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleTiles(w http.ResponseWriter, r *http.Request) {
	var req tilesRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	missing, err := s.Catalog.MissingTiles(r.Context(), req.Hashes)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, tilesResponse{Missing: missing})
}

func (s *Server) handleTilePut(w http.ResponseWriter, r *http.Request) {
	hashHex := chi.URLParam(r, "hash")
	expected := r.Header.Get("X-Expected-Hash")
	contentType := r.Header.Get("Content-Type")

	if expected == "" {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("publish: missing X-Expected-Hash header"))
		return
	}
	if contentType == "" {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("publish: missing Content-Type header"))
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxTileBodyBytes+1))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if len(body) > maxTileBodyBytes {
		s.writeError(w, http.StatusRequestEntityTooLarge, fmt.Errorf("publish: body exceeds %d bytes", maxTileBodyBytes))
		return
	}

	sum := md5.Sum(body)
	actual := hex.EncodeToString(sum[:])
	if actual != expected {
		// spec.md §4.L / end-to-end scenario 6: "400 response, no
		// MinimapTile row inserted, no blob written."
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("publish: body MD5 %s does not match X-Expected-Hash %s", actual, expected))
		return
	}

	ch, err := contenthash.Parse(hashHex)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if ch.Hex() != expected {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("publish: URL hash %s does not match X-Expected-Hash %s", hashHex, expected))
		return
	}

	if err := s.Blobs.Save(r.Context(), ch, contentType, bytes.NewReader(body)); err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if err := s.Catalog.PutTile(r.Context(), hashHex); err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleComposition(w http.ResponseWriter, r *http.Request) {
	var wire compositionWire
	if !decodeJSON(w, r, &wire) {
		return
	}
	buildID, mapID, comp, err := wire.fromWire()
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	var compositionHash *contenthash.ContentHash
	if !comp.Hash.IsZero() {
		if err := s.Catalog.UpsertComposition(r.Context(), comp); err != nil {
			s.writeError(w, http.StatusInternalServerError, err)
			return
		}
		hash := comp.Hash
		compositionHash = &hash
	}

	tiles := int16(comp.TileCount)
	if err := s.Catalog.UpsertBuildMap(r.Context(), catalog.BuildMap{
		BuildID:         buildID,
		MapID:           mapID,
		Tiles:           &tiles,
		CompositionHash: compositionHash,
	}); err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleScanState(w http.ResponseWriter, r *http.Request) {
	var wire scanStateWire
	if !decodeJSON(w, r, &wire) {
		return
	}
	buildID := buildversion.BuildVersion(wire.BuildID).Int64()
	if err := s.Catalog.UpdateScanStateByBuild(
		r.Context(), buildID, wire.Product, catalog.ScanState(wire.State),
		wire.Exception, wire.EncryptedKey, wire.EncryptedMaps,
	); err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	if s.Logger != nil {
		s.Logger.Errorw("publish: request failed", "status", status, "error", err)
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("publish: decoding request body: %v", err)})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
