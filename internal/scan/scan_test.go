package scan

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/blizztrack/scanner/internal/blte"
	"github.com/blizztrack/scanner/internal/composition"
	"github.com/blizztrack/scanner/internal/contenthash"
	"github.com/blizztrack/scanner/internal/tactkeys"
	"github.com/blizztrack/scanner/internal/tilecoord"
)

func TestStateStringAndTerminal(t *testing.T) {
	cases := []struct {
		s        State
		want     string
		terminal bool
	}{
		{StatePending, "Pending", false},
		{StateException, "Exception", true},
		{StateEncryptedBuild, "EncryptedBuild", true},
		{StateEncryptedMapDatabase, "EncryptedMapDatabase", true},
		{StatePartialDecrypt, "PartialDecrypt", true},
		{StateFullDecrypt, "FullDecrypt", true},
	}
	for _, c := range cases {
		if c.s.String() != c.want {
			t.Errorf("State(%d).String() = %q, want %q", c.s, c.s.String(), c.want)
		}
		if c.s.Terminal() != c.terminal {
			t.Errorf("State(%d).Terminal() = %v, want %v", c.s, c.s.Terminal(), c.terminal)
		}
	}
}

func TestConfigWorkersDefaultsToNumCPU(t *testing.T) {
	cfg := Config{}
	if cfg.workers() <= 0 {
		t.Fatalf("expected positive default worker count, got %d", cfg.workers())
	}
	cfg.Workers = 4
	if cfg.workers() != 4 {
		t.Fatalf("expected configured worker count to win, got %d", cfg.workers())
	}
}

func TestBuildCompositionFromResolvedCoords(t *testing.T) {
	h1 := contenthash.Sum([]byte("tile-a"))
	h2 := contenthash.Sum([]byte("tile-b"))
	coords := map[tilecoord.Coord]string{
		tilecoord.New(10, 5): h1.Hex(),
		tilecoord.New(0, 0):  h2.Hex(),
	}
	comp := buildComposition(coords, nil)
	if comp.TileCount != 2 {
		t.Fatalf("expected 2 tiles, got %d", comp.TileCount)
	}
	if !comp.HasExtents || comp.Extents.X1 != 10 {
		t.Fatalf("unexpected extents: %+v", comp.Extents)
	}
}

func TestBuildCompositionSkipsUnparseableHash(t *testing.T) {
	coords := map[tilecoord.Coord]string{
		tilecoord.New(1, 1): "not-a-valid-hash",
	}
	comp := buildComposition(coords, nil)
	if comp.TileCount != 0 {
		t.Fatalf("expected unparseable hash to be skipped, got %d tiles", comp.TileCount)
	}
	if len(comp.Missing) != 1 {
		t.Fatalf("expected the unparseable coord to be recorded as missing, got %d", len(comp.Missing))
	}
}

func TestBuildCompositionMovesFailedHashesToMissing(t *testing.T) {
	h1 := contenthash.Sum([]byte("tile-ok"))
	h2 := contenthash.Sum([]byte("tile-failed"))
	coords := map[tilecoord.Coord]string{
		tilecoord.New(0, 0): h1.Hex(),
		tilecoord.New(1, 1): h2.Hex(),
	}
	failed := map[string]struct{}{h2.Hex(): {}}

	comp := buildComposition(coords, failed)
	if comp.TileCount != 1 {
		t.Fatalf("expected only the non-failed tile to be counted, got %d", comp.TileCount)
	}
	if _, ok := comp.Tiles[tilecoord.New(0, 0)]; !ok {
		t.Fatalf("expected the non-failed coord to remain in Tiles")
	}
	if _, ok := comp.Missing[tilecoord.New(1, 1)]; !ok {
		t.Fatalf("expected the failed coord to be recorded in Missing")
	}
}

func TestErrorsAsFindsWrappedDecryptionKeyMissing(t *testing.T) {
	inner := &blte.DecryptionKeyMissingError{KeyName: tactkeys.KeyName("0123456789ABCDEF")}
	wrapped := fmt.Errorf("tactfs: fetching encoding: %w", inner)

	var keyErr *blte.DecryptionKeyMissingError
	if !errors.As(wrapped, &keyErr) {
		t.Fatalf("expected errors.As to unwrap to DecryptionKeyMissingError")
	}
	if keyErr.KeyName != "0123456789ABCDEF" {
		t.Fatalf("unexpected key name: %s", keyErr.KeyName)
	}
}

// fakeCatalog is a minimal CatalogClient used only to confirm the
// interface shape compiles against real call sites; no test in the tree
// runs scan.Run's full orchestration end to end.
type fakeCatalog struct {
	missing []string
}

func (f *fakeCatalog) MissingTiles(ctx context.Context, hashes []string) ([]string, error) {
	return f.missing, nil
}

func (f *fakeCatalog) PutTile(ctx context.Context, hash, contentType string, body []byte) error {
	return nil
}

func (f *fakeCatalog) UpsertComposition(ctx context.Context, mapID uint32, comp composition.Composition) error {
	return nil
}

var _ CatalogClient = (*fakeCatalog)(nil)
