// Package composition implements the Composition entity and its
// deterministic hash (spec.md §3): the tile-coordinate → content-hash
// layout for one map, plus the content-addressed hash identifying it.
package composition

import (
	"crypto/md5"
	"encoding/binary"
	"sort"

	"github.com/blizztrack/scanner/internal/contenthash"
	"github.com/blizztrack/scanner/internal/tilecoord"
)

// Extents is the inclusive tile-coordinate bounding box of a composition.
type Extents struct {
	X0, Y0, X1, Y1 int
}

// LOD is a tile-coordinate → content-hash layout for one level-of-detail
// below 0 (spec.md §3: "optional lod: map<level(0..6), ...>").
type LOD map[tilecoord.Coord]contenthash.ContentHash

// Composition is the full record for one map's tile layout.
type Composition struct {
	Hash       contenthash.ContentHash
	Tiles      map[tilecoord.Coord]contenthash.ContentHash
	Missing    map[tilecoord.Coord]struct{}
	LOD        map[int]LOD
	TileCount  int
	HasExtents bool
	Extents    Extents
}

// New assembles a Composition from its tile map and missing set, computing
// the deterministic hash and extents.
func New(tiles map[tilecoord.Coord]contenthash.ContentHash, missing map[tilecoord.Coord]struct{}) Composition {
	c := Composition{
		Tiles:     tiles,
		Missing:   missing,
		TileCount: len(tiles),
	}
	// A map with nothing resolved and nothing missing (spec.md §8 scenario
	// 1, "no WDT") has no layout to hash: Hash stays the zero ContentHash,
	// which the publish server persists as a null composition_hash rather
	// than the MD5 of an empty byte stream.
	if len(tiles) > 0 || len(missing) > 0 {
		c.Hash = Hash(tiles)
	}
	c.Extents, c.HasExtents = computeExtents(tiles, missing)
	return c
}

// Hash computes the composition hash per spec.md §3's determinism rule:
// entries sorted ascending by (x, y); for each entry write little-endian
// int32 x, little-endian int32 y, then the 32-char ASCII lowercase hex of
// the tile hash; the composition hash is MD5 of that byte stream.
//
// This exact byte layout, ordering, and casing must never change — any
// deviation breaks equality with previously published compositions.
func Hash(tiles map[tilecoord.Coord]contenthash.ContentHash) contenthash.ContentHash {
	coords := make([]tilecoord.Coord, 0, len(tiles))
	for c := range tiles {
		coords = append(coords, c)
	}
	sort.Sort(tilecoord.ByXY(coords))

	h := md5.New()
	var buf [8]byte
	for _, c := range coords {
		binary.LittleEndian.PutUint32(buf[0:4], uint32(int32(c.X)))
		binary.LittleEndian.PutUint32(buf[4:8], uint32(int32(c.Y)))
		h.Write(buf[:])
		h.Write([]byte(tiles[c].Hex()))
	}
	sum := h.Sum(nil)
	ch, _ := contenthash.FromBytes(sum)
	return ch
}

func computeExtents(tiles map[tilecoord.Coord]contenthash.ContentHash, missing map[tilecoord.Coord]struct{}) (Extents, bool) {
	first := true
	var e Extents
	consider := func(c tilecoord.Coord) {
		if first {
			e = Extents{X0: c.X, Y0: c.Y, X1: c.X, Y1: c.Y}
			first = false
			return
		}
		if c.X < e.X0 {
			e.X0 = c.X
		}
		if c.X > e.X1 {
			e.X1 = c.X
		}
		if c.Y < e.Y0 {
			e.Y0 = c.Y
		}
		if c.Y > e.Y1 {
			e.Y1 = c.Y
		}
	}
	for c := range tiles {
		consider(c)
	}
	for c := range missing {
		consider(c)
	}
	return e, !first
}
