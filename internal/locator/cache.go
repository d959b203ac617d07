package locator

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

// diskCache manages the content-addressed on-disk cache under a root
// directory, with atomic writes and per-path mutex coalescing (spec.md
// §4.B, §5).
//
// Grounded on the teacher's internal/tile/diskstore.go: a concurrent-safe
// store with a dedicated write path and lock-free reads once a file is
// published. Here "published" means the rename landed, so any reader that
// can Stat the final path sees a complete file — there is no half-written
// state observable from outside this package.
type diskCache struct {
	root string

	mu      sync.Mutex
	waiters map[string]*pathLock
}

type pathLock struct {
	mu    sync.Mutex
	count int
}

func newDiskCache(root string) *diskCache {
	return &diskCache{root: root, waiters: make(map[string]*pathLock)}
}

func (c *diskCache) abs(relPath string) string {
	return filepath.Join(c.root, filepath.FromSlash(relPath))
}

// Has reports whether relPath already exists (and is non-empty) in the
// cache.
func (c *diskCache) Has(relPath string) bool {
	fi, err := os.Stat(c.abs(relPath))
	return err == nil && fi.Size() > 0
}

func (c *diskCache) acquire(relPath string) *pathLock {
	c.mu.Lock()
	defer c.mu.Unlock()
	pl, ok := c.waiters[relPath]
	if !ok {
		pl = &pathLock{}
		c.waiters[relPath] = pl
	}
	pl.count++
	return pl
}

func (c *diskCache) release(relPath string, pl *pathLock) {
	c.mu.Lock()
	defer c.mu.Unlock()
	pl.count--
	if pl.count == 0 {
		delete(c.waiters, relPath)
	}
}

// WriteAtomic writes data to relPath by writing to a uniquely-named temp
// file and renaming over the target, coalescing concurrent writers to the
// same path behind a per-path mutex (spec.md §4.B, §5). If a file of
// exactly len(data) bytes already exists at relPath once the lock is held,
// WriteAtomic skips the write (idempotent); a file of any other length is
// replaced.
func (c *diskCache) WriteAtomic(relPath string, data []byte) error {
	full := c.abs(relPath)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("locator: mkdir for %s: %w", relPath, err)
	}

	pl := c.acquire(relPath)
	pl.mu.Lock()
	defer func() {
		pl.mu.Unlock()
		c.release(relPath, pl)
	}()

	if fi, err := os.Stat(full); err == nil && fi.Size() == int64(len(data)) {
		return nil
	}

	tmp := full + ".tmp." + uuid.NewString()
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("locator: creating temp file for %s: %w", relPath, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("locator: writing temp file for %s: %w", relPath, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("locator: closing temp file for %s: %w", relPath, err)
	}
	if err := os.Rename(tmp, full); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("locator: renaming temp file for %s: %w", relPath, err)
	}
	return nil
}

// WriteAtomicStream is like WriteAtomic but streams from r, for large
// bodies that should not be buffered wholly in memory. On cancellation or
// error the partial temp file is deleted (spec.md §5: "pending partial
// files are deleted").
func (c *diskCache) WriteAtomicStream(relPath string, r io.Reader) (err error) {
	full := c.abs(relPath)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("locator: mkdir for %s: %w", relPath, err)
	}

	pl := c.acquire(relPath)
	pl.mu.Lock()
	defer func() {
		pl.mu.Unlock()
		c.release(relPath, pl)
	}()

	tmp := full + ".tmp." + uuid.NewString()
	f, ferr := os.Create(tmp)
	if ferr != nil {
		return fmt.Errorf("locator: creating temp file for %s: %w", relPath, ferr)
	}
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(tmp)
		}
	}()

	if _, err = io.Copy(f, r); err != nil {
		return fmt.Errorf("locator: streaming to temp file for %s: %w", relPath, err)
	}
	if err = f.Close(); err != nil {
		return fmt.Errorf("locator: closing temp file for %s: %w", relPath, err)
	}
	if err = os.Rename(tmp, full); err != nil {
		return fmt.Errorf("locator: renaming temp file for %s: %w", relPath, err)
	}
	return nil
}

// Open opens the final cached file for reading.
func (c *diskCache) Open(relPath string) (*os.File, error) {
	return os.Open(c.abs(relPath))
}
