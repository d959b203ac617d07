package tactfs

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// encodingEntry maps one content key to one or more encoding keys;
// ParseEncoding does not fill in sizes.
type encodingEntry struct {
	contentKey   string
	encodingKeys []string
	sizes        []uint64
}

// Encoding is the parsed Encoding file: content-key <-> encoding-key with
// sizes (spec.md §4.D step 2, GLOSSARY "Root / Encoding / ...").
type Encoding struct {
	byContentKey  map[string]encodingEntry
	espec         map[string]string // encoding key -> encoding spec string (never populated: EKeySpec pages are not parsed)
}

// ParseEncoding parses the BLTE-decompressed Encoding file body.
//
// Wire layout (simplified, matches the on-disk format used by the upstream
// protocol): an 22-byte header (2 magic bytes "EN", version, hash sizes,
// page sizes, page counts, ESpec block size, flags) followed by a CEKey
// page index table, CEKey pages, an EKeySpec page index table, and EKeySpec
// pages. This resolver only needs the CEKey pages (content key -> encoding
// key mapping), so EKeySpec pages are skipped once located.
func ParseEncoding(data []byte) (*Encoding, error) {
	if len(data) < 22 || data[0] != 'E' || data[1] != 'N' {
		return nil, fmt.Errorf("tactfs: encoding: bad magic")
	}
	ckeyHashSize := int(data[3])
	ekeyHashSize := int(data[4])
	cPageSizeKB := int(binary.BigEndian.Uint16(data[5:7]))
	ePageSizeKB := int(binary.BigEndian.Uint16(data[7:9]))
	cPageCount := int(binary.BigEndian.Uint32(data[9:13]))
	_ = ePageSizeKB
	especBlockSize := int(binary.BigEndian.Uint32(data[18:22]))

	off := 22 + especBlockSize

	// CEKey page index table: cPageCount entries of (firstHash[ckeyHashSize], pageHash[16]).
	indexEntrySize := ckeyHashSize + 16
	off += cPageCount * indexEntrySize

	pageSizeBytes := cPageSizeKB * 1024
	enc := &Encoding{byContentKey: make(map[string]encodingEntry), espec: make(map[string]string)}

	for p := 0; p < cPageCount; p++ {
		if off+pageSizeBytes > len(data) {
			return nil, fmt.Errorf("tactfs: encoding: page %d out of range", p)
		}
		page := data[off : off+pageSizeBytes]
		if err := parseEncodingPage(page, ckeyHashSize, ekeyHashSize, enc); err != nil {
			return nil, fmt.Errorf("tactfs: encoding: page %d: %w", p, err)
		}
		off += pageSizeBytes
	}

	return enc, nil
}

func parseEncodingPage(page []byte, ckeyHashSize, ekeyHashSize int, enc *Encoding) error {
	r := bytes.NewReader(page)
	for r.Len() > 0 {
		var keyCount uint8
		if err := binary.Read(r, binary.BigEndian, &keyCount); err != nil {
			return err
		}
		if keyCount == 0 {
			break // padding
		}
		var fileSize40 [5]byte
		if _, err := r.Read(fileSize40[:]); err != nil {
			return err
		}
		cKeyBuf := make([]byte, ckeyHashSize)
		if _, err := r.Read(cKeyBuf); err != nil {
			return err
		}
		eKeys := make([]string, 0, keyCount)
		for i := 0; i < int(keyCount); i++ {
			eKeyBuf := make([]byte, ekeyHashSize)
			if _, err := r.Read(eKeyBuf); err != nil {
				return err
			}
			eKeys = append(eKeys, fmt.Sprintf("%x", eKeyBuf))
		}
		contentKey := fmt.Sprintf("%x", cKeyBuf)
		enc.byContentKey[contentKey] = encodingEntry{contentKey: contentKey, encodingKeys: eKeys}
	}
	return nil
}

// EncodingKeysFor returns the encoding keys for a content key, in file
// order (spec.md §4.D: "for each encoding-key, resolve through
// CompoundingIndex / FileIndex").
func (e *Encoding) EncodingKeysFor(contentKey string) ([]string, bool) {
	entry, ok := e.byContentKey[contentKey]
	if !ok {
		return nil, false
	}
	return entry.encodingKeys, true
}
