package tactfs

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/edsrzf/mmap-go"
)

// ArchiveLocation is where an encoding-key's bytes live within an archive
// blob.
type ArchiveLocation struct {
	Archive string
	Offset  int64
	Length  int64
}

// ArchiveIndex is one memory-mapped archive's .index file: encoding-key ->
// (offset, length) within that archive (spec.md §4.D step 4).
//
// Grounded on internal/cog/reader.go's approach of memory-mapping a whole
// file once and treating it as a byte-addressable structure rather than
// streaming it; generalized here via github.com/edsrzf/mmap-go instead of
// the teacher's own platform-specific mmap_unix.go/mmap_other.go (see
// DESIGN.md).
type ArchiveIndex struct {
	archive string
	mapping mmap.MMap
	file    *os.File
	entries map[string]ArchiveLocation
}

// OpenArchiveIndex memory-maps path and parses it as the index for the
// named archive.
//
// Layout (footer-based .index format): entries of
// (encodingKey[16], offset uint32 BE, length uint32 BE) followed by a
// small footer; this resolver reads every whole 24-byte entry from the
// start of the file and drops a trailing partial one. It does not locate
// the footer, so footer bytes that fill a whole entry are read as one
// more entry.
func OpenArchiveIndex(archive, path string) (*ArchiveIndex, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("tactfs: opening index %s: %w", path, err)
	}
	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("tactfs: mmapping index %s: %w", path, err)
	}

	idx := &ArchiveIndex{archive: archive, mapping: m, file: f, entries: make(map[string]ArchiveLocation)}
	const entrySize = 16 + 4 + 4
	n := len(m) / entrySize
	for i := 0; i < n; i++ {
		e := m[i*entrySize : (i+1)*entrySize]
		key := fmt.Sprintf("%x", e[0:16])
		offset := binary.BigEndian.Uint32(e[16:20])
		length := binary.BigEndian.Uint32(e[20:24])
		idx.entries[key] = ArchiveLocation{Archive: archive, Offset: int64(offset), Length: int64(length)}
	}
	return idx, nil
}

// Close unmaps and closes the underlying index file.
func (a *ArchiveIndex) Close() error {
	if err := a.mapping.Unmap(); err != nil {
		a.file.Close()
		return err
	}
	return a.file.Close()
}

// Lookup returns the archive location for an encoding key, if present in
// this index.
func (a *ArchiveIndex) Lookup(encodingKey string) (ArchiveLocation, bool) {
	loc, ok := a.entries[encodingKey]
	return loc, ok
}

// CompoundingIndex routes an encoding key to an archive location across
// every archive index loaded for a build (spec.md §4.D step 4: "combine
// them into a CompoundingIndex").
type CompoundingIndex struct {
	indices []*ArchiveIndex
}

// NewCompoundingIndex combines the given per-archive indices.
func NewCompoundingIndex(indices []*ArchiveIndex) *CompoundingIndex {
	return &CompoundingIndex{indices: indices}
}

// Lookup checks every loaded archive index in order, first hit wins.
func (c *CompoundingIndex) Lookup(encodingKey string) (ArchiveLocation, bool) {
	for _, idx := range c.indices {
		if loc, ok := idx.Lookup(encodingKey); ok {
			return loc, true
		}
	}
	return ArchiveLocation{}, false
}

// Close closes every underlying archive index.
func (c *CompoundingIndex) Close() error {
	var firstErr error
	for _, idx := range c.indices {
		if err := idx.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// FileIndex is the loose (no-archive) secondary route: encoding key -> size
// only, meaning the file must be fetched directly by encoding key rather
// than via an archive offset (spec.md §4.D step 5).
type FileIndex struct {
	sizes map[string]int64
}

// ParseFileIndex parses a loose FileIndex blob with the same entry shape as
// an archive index but without archive/offset information (encoding key +
// size only).
func ParseFileIndex(data []byte) (*FileIndex, error) {
	fi := &FileIndex{sizes: make(map[string]int64)}
	const entrySize = 16 + 4
	n := len(data) / entrySize
	for i := 0; i < n; i++ {
		e := data[i*entrySize : (i+1)*entrySize]
		key := fmt.Sprintf("%x", e[0:16])
		size := binary.BigEndian.Uint32(e[16:20])
		fi.sizes[key] = int64(size)
	}
	return fi, nil
}

// Has reports whether encodingKey is present in the loose file index.
func (fi *FileIndex) Has(encodingKey string) (int64, bool) {
	size, ok := fi.sizes[encodingKey]
	return size, ok
}
