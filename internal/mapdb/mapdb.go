// Package mapdb reads the map catalog table — a fixed file-id resolved
// through internal/tactfs and handed to an external columnar decoder
// (spec.md §1: "the schema DSL for the upstream columnar tables" is
// explicitly out of scope; only the row-access interface is specified
// here).
//
// Grounded on internal/cog/ifd.go's typed-field-by-tag access pattern,
// generalized from numeric TIFF tags to named DB2/WDC-style columns.
package mapdb

import (
	"context"
	"fmt"

	"github.com/blizztrack/scanner/internal/tactfs"
)

// FileID is the known, fixed file-id for the map catalog table (spec.md
// §4.E: "the table lives at a known fixed file-id (e.g. 1349477)").
const FileID uint32 = 1349477

// ColumnarTable is the external collaborator: a decoded row/column table
// keyed by numeric file-id-assigned row ids, with fielded access by
// column name. Nothing in this package knows the on-disk schema DSL —
// that decoder lives outside this module (spec.md §1).
type ColumnarTable interface {
	// RowCount reports how many rows the table holds.
	RowCount() int
	// Uint32 returns the named column's value for row i.
	Uint32(row int, column string) (uint32, bool)
	// String returns the named column's value for row i.
	String(row int, column string) (string, bool)
}

// Decoder turns BLTE-decompressed table bytes plus a layout descriptor
// into a ColumnarTable. The layout descriptor's shape is owned by the
// external decoder; mapdb only forwards it.
type Decoder interface {
	Decode(data []byte, layout string) (ColumnarTable, error)
}

// MapRow is one row of the map catalog table, fielded per spec.md §4.E.
type MapRow struct {
	ID                  uint32
	MapNameLang         string
	Directory           string
	WdtFileDataID       uint32
	ParentMapID         int32
	CosmeticParentMapID int32
}

// MapDB is the resolved, row-keyed-by-map-id view of the map catalog
// table for one build.
type MapDB struct {
	rows map[uint32]MapRow
}

// Open resolves FileID through fs, BLTE-decompresses it, and decodes it
// with dec using layout (spec.md §4.E, §5 step "MapDB").
//
// A *blte.DecryptionKeyMissingError surfacing from fs.FetchAndDecode is
// returned unwrapped so callers (internal/scan) can type-switch on it to
// drive the EncryptedMapDatabase state transition (spec.md §5 step 1).
func Open(ctx context.Context, fs *tactfs.Filesystem, dec Decoder, layout string) (*MapDB, error) {
	data, err := fs.FetchAndDecode(ctx, FileID, 0, false)
	if err != nil {
		return nil, err
	}

	table, err := dec.Decode(data, layout)
	if err != nil {
		return nil, fmt.Errorf("mapdb: decoding map table: %w", err)
	}

	db := &MapDB{rows: make(map[uint32]MapRow, table.RowCount())}
	for i := 0; i < table.RowCount(); i++ {
		id, ok := table.Uint32(i, "ID")
		if !ok {
			continue
		}
		row := MapRow{ID: id}
		if v, ok := table.String(i, "MapName_lang"); ok {
			row.MapNameLang = v
		}
		if v, ok := table.String(i, "Directory"); ok {
			row.Directory = v
		}
		if v, ok := table.Uint32(i, "WdtFileDataID"); ok {
			row.WdtFileDataID = v
		}
		if v, ok := table.Uint32(i, "ParentMapID"); ok {
			row.ParentMapID = int32(v)
		}
		if v, ok := table.Uint32(i, "CosmeticParentMapID"); ok {
			row.CosmeticParentMapID = int32(v)
		}
		db.rows[row.ID] = row
	}
	return db, nil
}

// Row returns the map row for mapID.
func (d *MapDB) Row(mapID uint32) (MapRow, bool) {
	row, ok := d.rows[mapID]
	return row, ok
}

// All returns every map row, unordered.
func (d *MapDB) All() []MapRow {
	out := make([]MapRow, 0, len(d.rows))
	for _, r := range d.rows {
		out = append(out, r)
	}
	return out
}

// Len reports how many map rows were decoded.
func (d *MapDB) Len() int {
	return len(d.rows)
}
