package publish

import (
	"context"
	"io"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/blizztrack/scanner/internal/buildversion"
	"github.com/blizztrack/scanner/internal/catalog"
	"github.com/blizztrack/scanner/internal/composition"
	"github.com/blizztrack/scanner/internal/contenthash"
	"github.com/blizztrack/scanner/internal/ribbit"
	"github.com/blizztrack/scanner/internal/tilecoord"
)

type scanStateCall struct {
	buildID       int64
	product       string
	state         catalog.ScanState
	exception     *string
	encryptedKey  *string
	encryptedMaps map[string][]uint32
}

type fakeStore struct {
	mu           sync.Mutex
	undiscovered []catalog.DiscoveredBuild
	missing      []string
	putTiles     []string
	compositions []composition.Composition
	buildMaps    []catalog.BuildMap
	scanStates   []scanStateCall
}

func (f *fakeStore) FilterUndiscovered(ctx context.Context, builds []catalog.DiscoveredBuild) ([]catalog.DiscoveredBuild, error) {
	return f.undiscovered, nil
}
func (f *fakeStore) MissingTiles(ctx context.Context, hashes []string) ([]string, error) {
	return f.missing, nil
}
func (f *fakeStore) PutTile(ctx context.Context, hash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.putTiles = append(f.putTiles, hash)
	return nil
}
func (f *fakeStore) UpsertComposition(ctx context.Context, comp composition.Composition) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.compositions = append(f.compositions, comp)
	return nil
}
func (f *fakeStore) UpsertBuildMap(ctx context.Context, bm catalog.BuildMap) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.buildMaps = append(f.buildMaps, bm)
	return nil
}
func (f *fakeStore) UpdateScanStateByBuild(ctx context.Context, buildID int64, productName string, state catalog.ScanState, exception, encryptedKey *string, encryptedMaps map[string][]uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scanStates = append(f.scanStates, scanStateCall{buildID, productName, state, exception, encryptedKey, encryptedMaps})
	return nil
}

type fakeBlobs struct {
	mu    sync.Mutex
	saved map[string][]byte
}

func newFakeBlobs() *fakeBlobs { return &fakeBlobs{saved: make(map[string][]byte)} }

func (f *fakeBlobs) Has(ctx context.Context, hash contenthash.ContentHash) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.saved[hash.Hex()]
	return ok, nil
}
func (f *fakeBlobs) Get(ctx context.Context, hash contenthash.ContentHash) (io.ReadCloser, string, error) {
	return nil, "", nil
}
func (f *fakeBlobs) Save(ctx context.Context, hash contenthash.ContentHash, contentType string, body io.Reader) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved[hash.Hex()] = data
	return nil
}
func (f *fakeBlobs) GetAllHashes(ctx context.Context) (map[contenthash.ContentHash]struct{}, error) {
	return nil, nil
}

func newTestServer(t *testing.T, store *fakeStore, blobs *fakeBlobs) *httptest.Server {
	t.Helper()
	s := &Server{Catalog: store, Blobs: blobs}
	r := chi.NewRouter()
	s.Routes(r)
	return httptest.NewServer(r)
}

func TestFilterUndiscoveredRoundTrip(t *testing.T) {
	v, _ := buildversion.Parse("1.13.2.53622")
	store := &fakeStore{undiscovered: []catalog.DiscoveredBuild{
		{Product: "wow_classic", Version: v, BuildConfig: "aaa", CDNConfig: "bbb", ProductConfig: "ccc", Regions: []string{"us"}},
	}}
	srv := newTestServer(t, store, newFakeBlobs())
	defer srv.Close()

	client := NewClient(srv.URL)
	pending, err := client.FilterUndiscovered(context.Background(), []ribbit.DiscoveredBuild{
		{Product: "wow_classic", Version: v, BuildConfig: "aaa", CDNConfig: "bbb", ProductConfig: "ccc", Regions: []string{"us"}},
	})
	if err != nil {
		t.Fatalf("FilterUndiscovered: %v", err)
	}
	if len(pending) != 1 || pending[0].Product != "wow_classic" {
		t.Fatalf("unexpected pending builds: %+v", pending)
	}
	if pending[0].Version != v {
		t.Fatalf("version round-trip mismatch: got %s want %s", pending[0].Version, v)
	}
}

func TestMissingTilesRoundTrip(t *testing.T) {
	h := contenthash.Sum([]byte("tile")).Hex()
	store := &fakeStore{missing: []string{h}}
	srv := newTestServer(t, store, newFakeBlobs())
	defer srv.Close()

	client := NewClient(srv.URL)
	missing, err := client.MissingTiles(context.Background(), []string{h})
	if err != nil {
		t.Fatalf("MissingTiles: %v", err)
	}
	if len(missing) != 1 || missing[0] != h {
		t.Fatalf("unexpected missing tiles: %+v", missing)
	}
}

func TestPutTileSucceedsWithMatchingHash(t *testing.T) {
	store := &fakeStore{}
	blobs := newFakeBlobs()
	srv := newTestServer(t, store, blobs)
	defer srv.Close()

	body := []byte("webp-bytes")
	hash := contenthash.Sum(body).Hex()

	client := NewClient(srv.URL)
	if err := client.PutTile(context.Background(), hash, "image/webp", body); err != nil {
		t.Fatalf("PutTile: %v", err)
	}
	if len(store.putTiles) != 1 || store.putTiles[0] != hash {
		t.Fatalf("expected catalog PutTile to be called with %s, got %+v", hash, store.putTiles)
	}
	if string(blobs.saved[hash]) != string(body) {
		t.Fatalf("expected blob to be saved")
	}
}

func TestPutTileRejectsMismatchedHash(t *testing.T) {
	store := &fakeStore{}
	blobs := newFakeBlobs()
	srv := newTestServer(t, store, blobs)
	defer srv.Close()

	body := []byte("webp-bytes")
	wrongHash := contenthash.Sum([]byte("other")).Hex()

	client := NewClient(srv.URL)
	err := client.PutTile(context.Background(), wrongHash, "image/webp", body)
	if err == nil {
		t.Fatalf("expected error on mismatched hash")
	}
	if len(store.putTiles) != 0 {
		t.Fatalf("expected no MinimapTile row on mismatch, got %+v", store.putTiles)
	}
	if len(blobs.saved) != 0 {
		t.Fatalf("expected no blob written on mismatch")
	}
}

func TestUpsertCompositionRoundTrip(t *testing.T) {
	store := &fakeStore{}
	srv := newTestServer(t, store, newFakeBlobs())
	defer srv.Close()

	v, _ := buildversion.Parse("1.13.2.53622")
	client := NewClient(srv.URL)
	scanClient := client.ForBuild(v)

	h := contenthash.Sum([]byte("tile"))
	comp := composition.New(map[tilecoord.Coord]contenthash.ContentHash{
		tilecoord.New(10, 5): h,
	}, nil)

	if err := scanClient.UpsertComposition(context.Background(), 42, comp); err != nil {
		t.Fatalf("UpsertComposition: %v", err)
	}
	if len(store.compositions) != 1 || store.compositions[0].Hash != comp.Hash {
		t.Fatalf("expected composition to be upserted, got %+v", store.compositions)
	}
	if len(store.buildMaps) != 1 || store.buildMaps[0].MapID != 42 || store.buildMaps[0].BuildID != v {
		t.Fatalf("expected build map to be upserted, got %+v", store.buildMaps)
	}
}

func TestReportScanStateRoundTrip(t *testing.T) {
	store := &fakeStore{}
	srv := newTestServer(t, store, newFakeBlobs())
	defer srv.Close()

	v, _ := buildversion.Parse("1.13.2.53622")
	client := NewClient(srv.URL)
	scanClient := client.ForBuild(v)

	exception := "decryption key missing"
	if err := scanClient.ReportScanState(context.Background(), "wow_classic", "EncryptedBuild", &exception, nil, nil); err != nil {
		t.Fatalf("ReportScanState: %v", err)
	}
	if len(store.scanStates) != 1 {
		t.Fatalf("expected one scan state report, got %+v", store.scanStates)
	}
	got := store.scanStates[0]
	if got.buildID != v.Int64() || got.product != "wow_classic" || got.state != catalog.ScanStateEncryptedBuild {
		t.Fatalf("unexpected scan state report: %+v", got)
	}
	if got.exception == nil || *got.exception != exception {
		t.Fatalf("expected exception to round-trip, got %+v", got.exception)
	}
}
