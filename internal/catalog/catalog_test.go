package catalog

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"

	"github.com/blizztrack/scanner/internal/composition"
	"github.com/blizztrack/scanner/internal/contenthash"
	"github.com/blizztrack/scanner/internal/tilecoord"
)

// fakeDB records the args of the last Exec call so tests can assert on
// the query the Store issued without a live Postgres instance.
type fakeDB struct {
	lastSQL  string
	lastArgs []interface{}
}

func (f *fakeDB) Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error) {
	f.lastSQL = sql
	f.lastArgs = args
	return pgconn.CommandTag("UPDATE 1"), nil
}
func (f *fakeDB) QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row {
	panic("fakeDB: QueryRow not used by this test")
}
func (f *fakeDB) Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
	panic("fakeDB: Query not used by this test")
}

func TestScanStateTerminal(t *testing.T) {
	cases := map[ScanState]bool{
		ScanStatePending:              false,
		ScanStateException:            true,
		ScanStateEncryptedBuild:       true,
		ScanStateEncryptedMapDatabase: true,
		ScanStatePartialDecrypt:       true,
		ScanStateFullDecrypt:          true,
	}
	for state, want := range cases {
		if got := state.Terminal(); got != want {
			t.Errorf("%s.Terminal() = %v, want %v", state, got, want)
		}
	}
}

func TestDerivedParentPrefersCosmetic(t *testing.T) {
	parent, ok := DerivedParent(42, 7)
	if !ok || parent != 42 {
		t.Fatalf("expected cosmetic parent 42, got %d ok=%v", parent, ok)
	}
}

func TestDerivedParentFallsBackToParent(t *testing.T) {
	parent, ok := DerivedParent(0, 7)
	if !ok || parent != 7 {
		t.Fatalf("expected fallback parent 7, got %d ok=%v", parent, ok)
	}
}

func TestDerivedParentNoneSet(t *testing.T) {
	_, ok := DerivedParent(0, 0)
	if ok {
		t.Fatalf("expected no derived parent when both are zero")
	}
}

func TestParseHashesSkipsInvalid(t *testing.T) {
	valid := contenthash.Sum([]byte("tile")).Hex()
	want, byBytes := parseHashes([]string{valid, "not-valid-hex"})
	if len(want) != 1 {
		t.Fatalf("expected 1 valid hash, got %d", len(want))
	}
	if len(byBytes) != 1 {
		t.Fatalf("expected 1 entry in byBytes map, got %d", len(byBytes))
	}
}

func TestUpdateScanStateByBuildKeysOnBuildAndProduct(t *testing.T) {
	fdb := &fakeDB{}
	store := newWithDB(fdb)

	exception := "decryption key missing"
	err := store.UpdateScanStateByBuild(context.Background(), 53622, "wow_classic", ScanStateEncryptedBuild, &exception, nil, nil)
	if err != nil {
		t.Fatalf("UpdateScanStateByBuild: %v", err)
	}
	if len(fdb.lastArgs) < 4 {
		t.Fatalf("expected at least 4 args, got %+v", fdb.lastArgs)
	}
	if fdb.lastArgs[0] != int64(53622) || fdb.lastArgs[1] != "wow_classic" {
		t.Fatalf("expected query keyed on (buildID, product), got %+v", fdb.lastArgs[:2])
	}
	if fdb.lastArgs[2] != ScanStateEncryptedBuild {
		t.Fatalf("expected state arg %v, got %v", ScanStateEncryptedBuild, fdb.lastArgs[2])
	}
}

func TestMarshalLODRoundTripsThroughJSON(t *testing.T) {
	h := contenthash.Sum([]byte("lod-tile"))
	lod := map[int]composition.LOD{
		1: {tilecoord.New(2, 3): h},
	}
	data, err := marshalLOD(lod)
	if err != nil {
		t.Fatalf("marshalLOD: %v", err)
	}
	if len(data) == 0 {
		t.Fatalf("expected non-empty JSON")
	}
	var decoded map[string]map[string]string
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshaling LOD JSON: %v", err)
	}
	if got := decoded["1"][tilecoord.New(2, 3).String()]; got != h.Hex() {
		t.Fatalf("level 1 tile (2,3) = %q, want %q", got, h.Hex())
	}
}
