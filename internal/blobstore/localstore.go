package blobstore

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/blizztrack/scanner/internal/contenthash"
)

// contentTypeSuffix separates the stored content-type from the tile
// payload in a sidecar file, since a bare filesystem has nowhere else to
// carry it.
const contentTypeSuffix = ".ct"

// LocalStore is the filesystem-backed Store variant (spec.md §4.K).
// Writes land in a temp file under root and are renamed into place,
// matching the teacher's DiskTileStore practice of never letting a
// reader observe a partially written file.
type LocalStore struct {
	root string
}

// NewLocalStore returns a LocalStore rooted at dir, creating it if
// necessary.
func NewLocalStore(dir string) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("blobstore: creating root %s: %w", dir, err)
	}
	return &LocalStore{root: dir}, nil
}

func (s *LocalStore) path(hash contenthash.ContentHash) string {
	return filepath.Join(s.root, filepath.FromSlash(Key(hash)))
}

// Has reports whether hash's blob exists on disk.
func (s *LocalStore) Has(ctx context.Context, hash contenthash.ContentHash) (bool, error) {
	_, err := os.Stat(s.path(hash))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// Get opens hash's blob and returns its stored content-type.
func (s *LocalStore) Get(ctx context.Context, hash contenthash.ContentHash) (io.ReadCloser, string, error) {
	p := s.path(hash)
	f, err := os.Open(p)
	if err != nil {
		return nil, "", fmt.Errorf("blobstore: opening %s: %w", p, err)
	}
	ct, err := os.ReadFile(p + contentTypeSuffix)
	if err != nil {
		f.Close()
		return nil, "", fmt.Errorf("blobstore: reading content-type for %s: %w", p, err)
	}
	return f, string(ct), nil
}

// Save writes body to hash's blob path via a temp file + rename, so a
// concurrent Get/Has never observes a half-written file.
func (s *LocalStore) Save(ctx context.Context, hash contenthash.ContentHash, contentType string, body io.Reader) error {
	p := s.path(hash)
	dir := filepath.Dir(p)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("blobstore: creating shard dir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".tile-*.tmp")
	if err != nil {
		return fmt.Errorf("blobstore: creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := io.Copy(tmp, body); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("blobstore: writing %s: %w", p, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("blobstore: closing %s: %w", p, err)
	}
	if err := os.Rename(tmpName, p); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("blobstore: renaming into place %s: %w", p, err)
	}
	if err := os.WriteFile(p+contentTypeSuffix, []byte(contentType), 0o644); err != nil {
		return fmt.Errorf("blobstore: writing content-type for %s: %w", p, err)
	}
	return nil
}

// GetAllHashes walks root and returns every stored ContentHash
// (maintenance only, spec.md §4.K, used by the sync-tiles subcommand).
func (s *LocalStore) GetAllHashes(ctx context.Context) (map[contenthash.ContentHash]struct{}, error) {
	out := make(map[contenthash.ContentHash]struct{})
	err := filepath.WalkDir(s.root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasSuffix(path, contentTypeSuffix) {
			return nil
		}
		hex := filepath.Base(path)
		ch, perr := contenthash.Parse(hex)
		if perr != nil {
			return nil
		}
		out[ch] = struct{}{}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("blobstore: walking %s: %w", s.root, err)
	}
	return out, nil
}

var _ Store = (*LocalStore)(nil)
