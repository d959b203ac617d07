package tactfs

import (
	"context"
	"crypto/md5"
	"fmt"
	"os"

	"github.com/blizztrack/scanner/internal/blte"
	"github.com/blizztrack/scanner/internal/locator"
)

// FileDescriptor is one resolved location for a file-id (spec.md §4.D):
// enough information for the resource locator to fetch the bytes.
type FileDescriptor struct {
	ContentKey  string
	EncodingKey string
	Archive     string // empty if loose (FileIndex-routed)
	Offset      int64
	Length      int64
}

// ToLocatorDescriptor converts a resolved FileDescriptor into a
// locator.Descriptor for fetching.
func (fd FileDescriptor) ToLocatorDescriptor(product string) locator.Descriptor {
	d := locator.Descriptor{
		Product:     product,
		Kind:        locator.KindData,
		EncodingKey: fd.EncodingKey,
	}
	if fd.Archive != "" {
		d.Ranged = true
		d.Offset = fd.Offset
		d.Length = fd.Length
		d.RemotePath = fd.Archive
	}
	return d
}

// Filesystem is the read-only, file-id-addressed view over one build's
// TACT data (spec.md §4.D).
type Filesystem struct {
	Product  string
	Encoding *Encoding
	Root     *Root
	Install  *Install
	Index    *CompoundingIndex
	FileIdx  *FileIndex

	loc  *locator.Locator
	blte *blte.Codec
}

// Open resolves (product, build-config-key, cdn-config-key) into a
// Filesystem (spec.md §4.D).
func Open(ctx context.Context, product, buildConfigKey, cdnConfigKey string, loc *locator.Locator, codec *blte.Codec) (*Filesystem, error) {
	buildCfgHandle, err := loc.OpenHandle(ctx, locator.Descriptor{Product: product, Kind: locator.KindConfig, ContentKey: buildConfigKey})
	if err != nil {
		return nil, fmt.Errorf("tactfs: fetching build config: %w", err)
	}
	buildCfgText, err := os.ReadFile(buildCfgHandle.Path)
	if err != nil {
		return nil, err
	}
	buildCfg, err := ParseBuildConfig(string(buildCfgText))
	if err != nil {
		return nil, fmt.Errorf("tactfs: parsing build config: %w", err)
	}

	cdnCfgHandle, err := loc.OpenHandle(ctx, locator.Descriptor{Product: product, Kind: locator.KindConfig, ContentKey: cdnConfigKey})
	if err != nil {
		return nil, fmt.Errorf("tactfs: fetching cdn config: %w", err)
	}
	cdnCfgText, err := os.ReadFile(cdnCfgHandle.Path)
	if err != nil {
		return nil, err
	}
	serverCfg, err := ParseServerConfig(string(cdnCfgText))
	if err != nil {
		return nil, fmt.Errorf("tactfs: parsing server config: %w", err)
	}

	if len(buildCfg.Encoding) < 2 {
		return nil, fmt.Errorf("tactfs: build config missing encoding content/encoding key pair")
	}
	encHandle, err := loc.OpenCompressedHandle(ctx, locator.Descriptor{Product: product, Kind: locator.KindData, EncodingKey: buildCfg.Encoding[len(buildCfg.Encoding)-1]})
	if err != nil {
		return nil, fmt.Errorf("tactfs: fetching encoding: %w", err)
	}
	encData, err := os.ReadFile(encHandle.Path)
	if err != nil {
		return nil, err
	}
	encoding, err := ParseEncoding(encData)
	if err != nil {
		return nil, fmt.Errorf("tactfs: parsing encoding: %w", err)
	}

	fs := &Filesystem{Product: product, Encoding: encoding, loc: loc, blte: codec}

	if len(buildCfg.Install) >= 2 {
		instHandle, err := loc.OpenCompressedHandle(ctx, locator.Descriptor{Product: product, Kind: locator.KindData, EncodingKey: buildCfg.Install[len(buildCfg.Install)-1]})
		if err == nil {
			if data, rerr := os.ReadFile(instHandle.Path); rerr == nil {
				if inst, perr := ParseInstall(data); perr == nil {
					fs.Install = inst
				}
			}
		}
	}

	var archiveIndices []*ArchiveIndex
	for _, archiveKey := range serverCfg.Archives {
		idxHandle, err := loc.OpenHandle(ctx, locator.Descriptor{Product: product, Kind: locator.KindIndice, EncodingKey: archiveKey})
		if err != nil {
			continue // an unreachable archive index degrades gracefully; its tiles simply won't resolve
		}
		idx, err := OpenArchiveIndex(archiveKey, idxHandle.Path)
		if err != nil {
			continue
		}
		archiveIndices = append(archiveIndices, idx)
	}
	fs.Index = NewCompoundingIndex(archiveIndices)

	if serverCfg.FileIndex != "" {
		fiHandle, err := loc.OpenHandle(ctx, locator.Descriptor{Product: product, Kind: locator.KindIndice, EncodingKey: serverCfg.FileIndex})
		if err == nil {
			if data, rerr := os.ReadFile(fiHandle.Path); rerr == nil {
				if fi, perr := ParseFileIndex(data); perr == nil {
					fs.FileIdx = fi
				}
			}
		}
	}

	root, err := fs.resolveRoot(ctx, buildCfg.Root)
	if err != nil {
		return nil, fmt.Errorf("tactfs: resolving root: %w", err)
	}
	fs.Root = root

	return fs, nil
}

// resolveRoot resolves the Root file by content key (spec.md §4.D step 6):
// scan Encoding for encoding-keys, try CompoundingIndex then FileIndex, and
// fetch the first hit decompressed.
func (fs *Filesystem) resolveRoot(ctx context.Context, rootContentKey string) (*Root, error) {
	encodingKeys, ok := fs.Encoding.EncodingKeysFor(rootContentKey)
	if !ok || len(encodingKeys) == 0 {
		return nil, fmt.Errorf("tactfs: root content key %s not present in encoding", rootContentKey)
	}

	for _, ek := range encodingKeys {
		d := locator.Descriptor{Product: fs.Product, Kind: locator.KindData, EncodingKey: ek}
		if loc, ok := fs.Index.Lookup(ek); ok {
			d.Ranged = true
			d.Offset = loc.Offset
			d.Length = loc.Length
			d.RemotePath = loc.Archive
		} else if _, ok := fs.FileIdx.has(ek); !ok {
			continue
		}
		h, err := fs.loc.OpenCompressedHandle(ctx, d)
		if err != nil {
			continue
		}
		data, err := os.ReadFile(h.Path)
		if err != nil {
			continue
		}
		return ParseRoot(data)
	}
	return nil, fmt.Errorf("tactfs: no encoding key for root resolved to data")
}

func (fi *FileIndex) has(encodingKey string) (int64, bool) {
	if fi == nil {
		return 0, false
	}
	return fi.Has(encodingKey)
}

// OpenByFileId resolves every Root entry matching fid whose locale mask
// intersects localeMask, returning FileDescriptors in Root order (spec.md
// §4.D).
func (fs *Filesystem) OpenByFileId(fid uint32, localeMask uint32) ([]FileDescriptor, error) {
	entries := fs.Root.EntriesFor(fid)
	var out []FileDescriptor
	for _, e := range entries {
		if localeMask != 0 && e.LocaleMask&localeMask == 0 {
			continue
		}
		encodingKeys, ok := fs.Encoding.EncodingKeysFor(e.ContentKey)
		if !ok {
			continue
		}
		for _, ek := range encodingKeys {
			fd := FileDescriptor{ContentKey: e.ContentKey, EncodingKey: ek}
			if loc, ok := fs.Index.Lookup(ek); ok {
				fd.Archive = loc.Archive
				fd.Offset = loc.Offset
				fd.Length = loc.Length
			}
			out = append(out, fd)
		}
	}
	return out, nil
}

// ContentKeyFor returns the content key for fid (first matching locale
// entry), used by the scan orchestrator to dedup tiles by content hash
// (spec.md §4.I step 3).
func (fs *Filesystem) ContentKeyFor(fid uint32, localeMask uint32) (string, bool) {
	entries, err := fs.OpenByFileId(fid, localeMask)
	if err != nil || len(entries) == 0 {
		return "", false
	}
	return entries[0].ContentKey, true
}

// FetchAndDecode fetches fid's primary entry's content through the locator
// (BLTE-decoded) and optionally validates its MD5 against the content key
// (spec.md §4.D "Integrity").
func (fs *Filesystem) FetchAndDecode(ctx context.Context, fid uint32, localeMask uint32, validate bool) ([]byte, error) {
	entries, err := fs.OpenByFileId(fid, localeMask)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("tactfs: file id %d not found for locale mask %#x", fid, localeMask)
	}
	fd := entries[0]
	d := fd.ToLocatorDescriptor(fs.Product)
	h, err := fs.loc.OpenCompressedHandle(ctx, d)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(h.Path)
	if err != nil {
		return nil, err
	}
	if validate {
		sum := md5.Sum(data)
		if fmt.Sprintf("%x", sum[:]) != fd.ContentKey {
			return nil, fmt.Errorf("tactfs: integrity check failed for file id %d: content key mismatch", fid)
		}
	}
	return data, nil
}

// Close releases memory-mapped index resources.
func (fs *Filesystem) Close() error {
	if fs.Index != nil {
		return fs.Index.Close()
	}
	return nil
}
