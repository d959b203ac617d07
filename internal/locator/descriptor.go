package locator

import "fmt"

// Kind is the resource descriptor's on-CDN type (spec.md §4.B).
type Kind int

const (
	KindConfig Kind = iota
	KindData
	KindIndice
	KindDecompressed
)

func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindData:
		return "data"
	case KindIndice:
		return "indice"
	case KindDecompressed:
		return "decompressed"
	default:
		return "unknown"
	}
}

// Descriptor is an opaque reference to a CDN-hosted or locally-synthesized
// resource (spec.md §4.B ResourceDescriptor).
type Descriptor struct {
	Product      string
	Kind         Kind
	EncodingKey  string // hex, may be empty
	ContentKey   string // hex, may be empty
	Offset       int64  // start of the byte range; used only when Ranged is set
	Length       int64  // paired with Offset; 0 means "to end"
	Ranged       bool
	RemotePath   string // relative remote path, used when no key applies
	LocalPath    string // explicit local cache override (Kind-independent)
}

// CachePath computes the on-disk cache path for this descriptor, per the
// precedence rule in spec.md §4.B:
//
//	content_key (nonzero)  -> content/{xx}/{yy}/{hex}
//	(encoding_key,offset,length) ranged -> segments/{xx}/{yy}/{hex}_{offset_hex}_{length_hex}
//	encoding_key -> data/{xx}/{yy}/{hex}
//	else -> local_path verbatim
func (d Descriptor) CachePath() string {
	if d.ContentKey != "" {
		return shard("content", d.ContentKey)
	}
	if d.Ranged && d.EncodingKey != "" {
		xx, yy := shardPrefixes(d.EncodingKey)
		return fmt.Sprintf("segments/%s/%s/%s_%x_%x", xx, yy, d.EncodingKey, d.Offset, d.Length)
	}
	if d.EncodingKey != "" {
		return shard("data", d.EncodingKey)
	}
	return d.LocalPath
}

func shard(root, hexKey string) string {
	xx, yy := shardPrefixes(hexKey)
	return fmt.Sprintf("%s/%s/%s/%s", root, xx, yy, hexKey)
}

func shardPrefixes(hexKey string) (xx, yy string) {
	xx = safeSlice(hexKey, 0, 2)
	yy = safeSlice(hexKey, 2, 4)
	return
}

func safeSlice(s string, a, b int) string {
	if len(s) < b {
		return "00"
	}
	return s[a:b]
}

// AsDecompressed returns a peer descriptor of Kind Decompressed sharing the
// same content key (used by OpenCompressedHandle, spec.md §4.B).
func (d Descriptor) AsDecompressed() Descriptor {
	out := d
	out.Kind = KindDecompressed
	out.Ranged = false
	out.Offset = 0
	out.Length = 0
	return out
}
