// Package catalog is the Postgres-backed relational store of builds,
// products, maps, build-map associations, compositions, and tile
// existence (spec.md §3, §4.J).
//
// Grounded on google-skia-buildbot's jackc/pgx v4 + pgxpool usage for the
// driver choice; the ON CONFLICT upsert idiom throughout matches spec.md
// §3's "idempotently" / "upserted" lifecycle language.
package catalog

import (
	"time"

	"github.com/blizztrack/scanner/internal/buildversion"
	"github.com/blizztrack/scanner/internal/contenthash"
)

// DiscoveredBuild is the unit the version poller (A) hands to the
// catalog's Discovered endpoint (spec.md §4.A, §4.L).
type DiscoveredBuild struct {
	Product       string
	Version       buildversion.BuildVersion
	BuildConfig   string
	CDNConfig     string
	ProductConfig string
	Regions       []string
}

// Product is the catalog's Product entity (spec.md §3).
type Product struct {
	ID          int64
	BuildID     buildversion.BuildVersion
	ProductName string
	Regions     []string
	FirstSeen   time.Time
}

// ProductSource is the catalog's ProductSource entity (spec.md §3).
type ProductSource struct {
	ID            int64
	ProductID     int64
	ConfigBuild   string
	ConfigCDN     string
	ConfigProduct string
	Regions       []string
	FirstSeen     time.Time
}

// ScanState mirrors internal/scan.State as a catalog-persisted string
// (kept as a distinct type so catalog has no import-time dependency on
// internal/scan; the two are kept in lockstep by name, see
// internal/scan.State's String).
type ScanState string

const (
	ScanStatePending              ScanState = "Pending"
	ScanStateException            ScanState = "Exception"
	ScanStateEncryptedBuild       ScanState = "EncryptedBuild"
	ScanStateEncryptedMapDatabase ScanState = "EncryptedMapDatabase"
	ScanStatePartialDecrypt       ScanState = "PartialDecrypt"
	ScanStateFullDecrypt          ScanState = "FullDecrypt"
)

// Terminal reports whether s is a resting state (spec.md §7: "no partial
// terminal states").
func (s ScanState) Terminal() bool {
	switch s {
	case ScanStateEncryptedBuild, ScanStateEncryptedMapDatabase, ScanStatePartialDecrypt, ScanStateFullDecrypt, ScanStateException:
		return true
	default:
		return false
	}
}

// ProductScan is the catalog's 1:1-with-Product scan state row
// (spec.md §3).
type ProductScan struct {
	ProductID     int64
	State         ScanState
	LastScanned   *time.Time
	ScanTime      *time.Time
	Exception     *string
	EncryptedKey  *string
	EncryptedMaps map[string][]uint32 // key_name -> set<map_id>
}

// Build is the catalog's Build entity (spec.md §3).
type Build struct {
	ID            buildversion.BuildVersion
	VersionString string
	Discovered    time.Time
}

// MapRow is the catalog's Map entity (spec.md §3). Raw carries the
// decoded mapdb row as a generic field map so Postgres's generated
// `parent` column can derive CosmeticParentMapID/ParentMapID without
// this package hard-coding the map table's full schema.
type MapRow struct {
	ID           uint32
	Directory    string
	Name         string
	FirstMinimap *buildversion.BuildVersion
	LastMinimap  *buildversion.BuildVersion
	NameHistory  map[string]string // BuildVersion.Format() -> name, ordered by caller
	Raw          map[string]any
	Parent       *int32 // read-only, computed by the DB
}

// DerivedParent applies the catalog's generated `maps.parent` column
// preference in Go (spec.md §3: "derived parent: int? from the raw row's
// CosmeticParentMapID ?? ParentMapID") for callers that need the value
// before a row round-trips through Postgres. It treats 0 as unset; the
// generated column treats only an absent key as unset, so a raw row that
// carries CosmeticParentMapID 0 yields parent 0 there.
func DerivedParent(cosmeticParentMapID, parentMapID int32) (int32, bool) {
	if cosmeticParentMapID != 0 {
		return cosmeticParentMapID, true
	}
	if parentMapID != 0 {
		return parentMapID, true
	}
	return 0, false
}

// BuildMap is the catalog's BuildMap entity (spec.md §3).
type BuildMap struct {
	BuildID         buildversion.BuildVersion
	MapID           uint32
	Tiles           *int16
	CompositionHash *contenthash.ContentHash
}

// TACTKeyRow is the catalog's TACTKey entity (spec.md §3).
type TACTKeyRow struct {
	KeyName    string
	Key        [16]byte
	Discovered time.Time
}
