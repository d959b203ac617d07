package tactfs

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
)

// RootEntry is one (file-id, locale, content-key) triple from the Root
// file.
type RootEntry struct {
	FileID     uint32
	LocaleMask uint32
	ContentKey string
}

// Root is the parsed Root file: file-id -> content-key(s), with a locale
// mask per entry (spec.md §4.D step 6, GLOSSARY).
//
// Root entries are stored in file order per file-id so that
// OpenByFileId's "stable, Root order" guarantee (spec.md §4.D) is a
// property of slice order, not a re-sort.
type Root struct {
	byFileID map[uint32][]RootEntry
}

// ParseRoot parses the BLTE-decompressed Root file body.
//
// Layout (the "new" MFST-tagged root format): the file is split into
// blocks, each block beginning with (numRecords uint32, contentFlags
// uint32, localeFlags uint32) followed by numRecords delta-encoded file-id
// deltas (uint32 each, first is absolute, rest are offsets+1 from the
// previous), then numRecords (16-byte MD5 content key, uint64 name hash)
// pairs, one pair per record (name hashes are ignored here — this
// resolver only needs file-id -> content-key).
func ParseRoot(data []byte) (*Root, error) {
	r := &Root{byFileID: make(map[uint32][]RootEntry)}
	br := bytes.NewReader(data)

	for br.Len() > 0 {
		var numRecords, contentFlags, localeFlags uint32
		if err := binary.Read(br, binary.LittleEndian, &numRecords); err != nil {
			break // trailing padding shorter than a header: stop cleanly
		}
		if err := binary.Read(br, binary.LittleEndian, &contentFlags); err != nil {
			return nil, fmt.Errorf("tactfs: root: truncated content flags: %w", err)
		}
		if err := binary.Read(br, binary.LittleEndian, &localeFlags); err != nil {
			return nil, fmt.Errorf("tactfs: root: truncated locale flags: %w", err)
		}

		fileIDs := make([]uint32, numRecords)
		var acc uint32
		for i := uint32(0); i < numRecords; i++ {
			var delta uint32
			if err := binary.Read(br, binary.LittleEndian, &delta); err != nil {
				return nil, fmt.Errorf("tactfs: root: truncated file-id delta %d: %w", i, err)
			}
			if i == 0 {
				acc = delta
			} else {
				acc += delta + 1
			}
			fileIDs[i] = acc
		}

		for i := uint32(0); i < numRecords; i++ {
			var ckey [16]byte
			if _, err := br.Read(ckey[:]); err != nil {
				return nil, fmt.Errorf("tactfs: root: truncated content key %d: %w", i, err)
			}
			var nameHash uint64
			if err := binary.Read(br, binary.LittleEndian, &nameHash); err != nil {
				return nil, fmt.Errorf("tactfs: root: truncated name hash %d: %w", i, err)
			}
			entry := RootEntry{
				FileID:     fileIDs[i],
				LocaleMask: localeFlags,
				ContentKey: fmt.Sprintf("%x", ckey[:]),
			}
			r.byFileID[entry.FileID] = append(r.byFileID[entry.FileID], entry)
		}
		_ = contentFlags // parsed for completeness; not consumed downstream
	}
	return r, nil
}

// EntriesFor returns every Root entry for fid, in file order.
func (r *Root) EntriesFor(fid uint32) []RootEntry {
	return r.byFileID[fid]
}

// Install is the parsed Install manifest: name -> content-key (spec.md
// §4.D step 3).
type Install struct {
	byName map[string]string
}

// ParseInstall parses the Install manifest's simple line-oriented format:
// a header block followed by "name<TAB>hexContentKey<TAB>size" lines.
func ParseInstall(data []byte) (*Install, error) {
	inst := &Install{byName: make(map[string]string)}
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := sc.Text()
		fields := bytes.Split([]byte(line), []byte{'\t'})
		if len(fields) < 2 {
			continue
		}
		inst.byName[string(fields[0])] = string(fields[1])
	}
	return inst, nil
}

// ContentKeyForName looks up a locale-tagged install file's content key.
func (i *Install) ContentKeyForName(name string) (string, bool) {
	ck, ok := i.byName[name]
	return ck, ok
}
