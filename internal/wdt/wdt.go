// Package wdt parses a world-descriptor-table blob and extracts the
// 64x64 minimap tile grid from its MAID chunk (spec.md §4.F).
//
// Grounded on internal/cog/ifd.go's chunked tag/length/value reader — TIFF
// IFDs are the closest structural analog in the pack to WDT's
// ident|size|body chunks — generalized from 2-byte numeric tags to WDT's
// 4-byte ASCII chunk labels.
package wdt

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrNoMAID is returned when the blob never contains a MAID chunk
// (spec.md §4.F: "If MAID is never seen, fail with NoMAID").
var ErrNoMAID = errors.New("wdt: no MAID chunk present")

// ErrBLTEInPlaceOfRaw is returned when the body begins with BLTE magic,
// meaning the caller forgot to decompress it first (spec.md §4.F: "a
// distinct error").
var ErrBLTEInPlaceOfRaw = errors.New("wdt: body begins with BLTE magic, expected decompressed WDT")

const gridSize = 64

// MinimapTile is one nonzero MAID cell: a map grid cell and the
// minimap texture's file-id.
type MinimapTile struct {
	Col, Row int
	FileID   uint32
}

// Parse reads a chunked WDT blob and returns every nonzero MAID cell.
func Parse(data []byte) ([]MinimapTile, error) {
	if len(data) >= 4 && string(data[0:4]) == "BLTE" {
		return nil, ErrBLTEInPlaceOfRaw
	}

	off := 0
	for off+8 <= len(data) {
		ident := string(data[off : off+4])
		size := binary.LittleEndian.Uint32(data[off+4 : off+8])
		bodyStart := off + 8
		bodyEnd := bodyStart + int(size)
		if bodyEnd > len(data) {
			return nil, fmt.Errorf("wdt: chunk %q size %d exceeds remaining data", ident, size)
		}
		body := data[bodyStart:bodyEnd]

		if ident == "MAID" {
			return parseMAID(body)
		}

		off = bodyEnd
	}

	return nil, ErrNoMAID
}

// parseMAID reads the 64x64 array of 7xuint32 entries; the 7th
// (last) field of each entry is the minimap texture file-id, 0 meaning
// absent (spec.md §4.F).
func parseMAID(body []byte) ([]MinimapTile, error) {
	const fieldsPerCell = 7
	const cellSize = fieldsPerCell * 4
	const expected = gridSize * gridSize * cellSize
	if len(body) < expected {
		return nil, fmt.Errorf("wdt: MAID chunk too short: got %d bytes, want %d", len(body), expected)
	}

	var tiles []MinimapTile
	for row := 0; row < gridSize; row++ {
		for col := 0; col < gridSize; col++ {
			base := (row*gridSize + col) * cellSize
			fileID := binary.LittleEndian.Uint32(body[base+6*4 : base+7*4])
			if fileID == 0 {
				continue
			}
			tiles = append(tiles, MinimapTile{Col: col, Row: row, FileID: fileID})
		}
	}
	return tiles, nil
}
