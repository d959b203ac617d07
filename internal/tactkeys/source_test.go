package tactkeys

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
)

func TestSourceRefreshLoadsKeysAndPersistsEtag(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		if inm := r.Header.Get("If-None-Match"); inm == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		w.Write([]byte("AABBCCDDEEFF0011 00112233445566778899AABBCCDDEEFF extra-field\n"))
	}))
	defer srv.Close()

	etagPath := filepath.Join(t.TempDir(), "TACTKeys.txt.etag")
	src := NewSource(srv.URL, etagPath)
	registry := New()

	n, err := src.Refresh(registry)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 new key, got %d", n)
	}
	if _, ok := registry.Lookup("AABBCCDDEEFF0011"); !ok {
		t.Fatalf("expected key to be loaded")
	}

	// Second refresh should hit the server again but get 304 and add no keys.
	n, err = src.Refresh(registry)
	if err != nil {
		t.Fatalf("second Refresh: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected 0 new keys on 304, got %d", n)
	}
	if hits != 2 {
		t.Fatalf("expected 2 requests, got %d", hits)
	}
}
