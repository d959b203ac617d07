// Package publish implements the worker↔catalog publish protocol
// (spec.md §4.L): chi-routed HTTP endpoints a worker uses to ask the
// catalog which builds/tiles are missing and to upload missing ones.
//
// Grounded on the go-chi/chi usage shared by google-skia-buildbot,
// AKJUS-bsc-erigon, and orbas1-Synnergy for the catalog-side router; the
// worker-side Client is a thin net/http wrapper with no retry of its
// own.
package publish

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/blizztrack/scanner/internal/buildversion"
	"github.com/blizztrack/scanner/internal/composition"
	"github.com/blizztrack/scanner/internal/contenthash"
	"github.com/blizztrack/scanner/internal/ribbit"
	"github.com/blizztrack/scanner/internal/tilecoord"
)

// wireBuildVersion renders/parses a BuildVersion as a JSON string (spec.md
// §6: "wire-transported as its encoded int64 rendered in a JSON string
// to survive 53-bit client limits").
type wireBuildVersion buildversion.BuildVersion

func (v wireBuildVersion) MarshalJSON() ([]byte, error) {
	return json.Marshal(strconv.FormatInt(buildversion.BuildVersion(v).Int64(), 10))
}

func (v *wireBuildVersion) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("publish: parsing BuildVersion %q: %w", s, err)
	}
	*v = wireBuildVersion(buildversion.FromInt64(n))
	return nil
}

// discoveredBuildWire is the JSON wire shape of ribbit.DiscoveredBuild
// (spec.md §4.L, camelCase key policy per §6).
type discoveredBuildWire struct {
	Product       string           `json:"product"`
	Version       wireBuildVersion `json:"version"`
	BuildConfig   string           `json:"buildConfig"`
	CDNConfig     string           `json:"cdnConfig"`
	ProductConfig string           `json:"productConfig"`
	Regions       []string         `json:"regions"`
}

func toWire(b ribbit.DiscoveredBuild) discoveredBuildWire {
	return discoveredBuildWire{
		Product:       b.Product,
		Version:       wireBuildVersion(b.Version),
		BuildConfig:   b.BuildConfig,
		CDNConfig:     b.CDNConfig,
		ProductConfig: b.ProductConfig,
		Regions:       b.Regions,
	}
}

func (w discoveredBuildWire) fromWire() ribbit.DiscoveredBuild {
	return ribbit.DiscoveredBuild{
		Product:       w.Product,
		Version:       buildversion.BuildVersion(w.Version),
		BuildConfig:   w.BuildConfig,
		CDNConfig:     w.CDNConfig,
		ProductConfig: w.ProductConfig,
		Regions:       w.Regions,
	}
}

// discoveredRequest/Response are POST /publish/discovered's body/reply.
type discoveredRequest struct {
	Builds []discoveredBuildWire `json:"builds"`
}

type discoveredResponse struct {
	Pending []discoveredBuildWire `json:"pending"`
}

// tilesRequest/Response are POST /publish/tiles's body/reply.
type tilesRequest struct {
	Hashes []string `json:"hashes"`
}

type tilesResponse struct {
	Missing []string `json:"missing"`
}

// compositionWire is the JSON wire shape of a composition.Composition
// for POST /publish/composition. This endpoint is a natural extension
// of spec.md §4.L's three named endpoints: the scan orchestrator's step
// 6 (§4.I) upserts Composition and BuildMap rows, which requires a
// worker→catalog hop whenever the two run as separate processes
// (§2: "L is the boundary across which the worker... and the catalog...
// interact"), exactly as the named endpoints already do for discovery
// and tiles.
type compositionWire struct {
	BuildID wireBuildVersion  `json:"buildId"`
	MapID   uint32            `json:"mapId"`
	Tiles   map[string]string `json:"tiles"`   // "x,y" -> hex content hash
	Missing []string          `json:"missing"` // "x,y"
}

func compositionToWire(buildID buildversion.BuildVersion, mapID uint32, comp composition.Composition) compositionWire {
	w := compositionWire{BuildID: wireBuildVersion(buildID), MapID: mapID, Tiles: make(map[string]string, len(comp.Tiles))}
	for c, h := range comp.Tiles {
		w.Tiles[c.String()] = h.Hex()
	}
	for c := range comp.Missing {
		w.Missing = append(w.Missing, c.String())
	}
	return w
}

func (w compositionWire) fromWire() (buildversion.BuildVersion, uint32, composition.Composition, error) {
	tiles := make(map[tilecoord.Coord]contenthash.ContentHash, len(w.Tiles))
	for coordStr, hashHex := range w.Tiles {
		c, err := tilecoord.Parse(coordStr)
		if err != nil {
			return 0, 0, composition.Composition{}, fmt.Errorf("publish: parsing tile coord %q: %w", coordStr, err)
		}
		h, err := contenthash.Parse(hashHex)
		if err != nil {
			return 0, 0, composition.Composition{}, fmt.Errorf("publish: parsing tile hash %q: %w", hashHex, err)
		}
		tiles[c] = h
	}
	missing := make(map[tilecoord.Coord]struct{}, len(w.Missing))
	for _, coordStr := range w.Missing {
		c, err := tilecoord.Parse(coordStr)
		if err != nil {
			return 0, 0, composition.Composition{}, fmt.Errorf("publish: parsing missing tile coord %q: %w", coordStr, err)
		}
		missing[c] = struct{}{}
	}
	return buildversion.BuildVersion(w.BuildID), w.MapID, composition.New(tiles, missing), nil
}

// scanStateWire is the JSON wire shape of POST /publish/scan-state.
// Like /publish/composition, this is a natural extension of spec.md
// §4.L's three named endpoints: §4.I's orchestrator must "persist scan
// state" after every run, but the worker only ever learns a build's
// (buildId, product) pair, never the catalog's internal product_id —
// so the request is keyed the same way Discovered requests are.
type scanStateWire struct {
	BuildID       wireBuildVersion    `json:"buildId"`
	Product       string              `json:"product"`
	State         string              `json:"state"`
	Exception     *string             `json:"exception,omitempty"`
	EncryptedKey  *string             `json:"encryptedKey,omitempty"`
	EncryptedMaps map[string][]uint32 `json:"encryptedMaps,omitempty"`
}

// errorResponse is the JSON body of any non-2xx response.
type errorResponse struct {
	Error string `json:"error"`
}
