// Package texture decodes a proprietary mip-headered minimap texture
// format's mip-0 level to raw BGRA8 pixels (spec.md §4.G).
//
// Grounded on internal/cog/reader.go's tile decode path (constructing an
// image.RGBA straight from a raw mip plane) and the teacher's policy gate
// for unusual on-disk layouts (promoteStripsToTiles refuses to silently
// reinterpret a strip-organized TIFF as tiled; here AllowMipped refuses to
// silently accept a mipped texture).
package texture

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const magic = "BLP2"

// ErrMipped is returned when the source has more than one mip level and
// the decoder was not explicitly told to allow that (spec.md §4.G: "one
// map is known to ship mips — this is a configuration flag, not a silent
// skip").
var ErrMipped = errors.New("texture: source has mip levels beyond mip-0 and AllowMipped is false")

// ErrUnsupportedCompression is returned for a compression mode this
// decoder doesn't implement (only raw/uncompressed BGRA8 mip-0 is
// supported; the known minimap texture corpus never uses block
// compression).
var ErrUnsupportedCompression = errors.New("texture: unsupported compression mode")

var errBadMagic = errors.New("texture: bad magic, not a mip-headered texture")

const maxMipLevels = 16

// Texture is a decoded mip-0 image.
type Texture struct {
	Width, Height int
	// BGRA holds Width*Height*4 bytes, row-major, B-G-R-A per pixel.
	BGRA []byte
}

// Options configures the decoder (spec.md §9 Open Question: "whether
// mipped minimap textures are legal in general").
type Options struct {
	// AllowMipped permits decoding a texture with more than one mip level
	// present. Default false: mipped input is rejected outright.
	AllowMipped bool
}

// Decode reads a mip-headered texture blob and returns its mip-0 level
// as BGRA8.
func Decode(data []byte, opts Options) (*Texture, error) {
	if len(data) < 4 || string(data[0:4]) != magic {
		return nil, errBadMagic
	}
	if len(data) < 28+maxMipLevels*8 {
		return nil, fmt.Errorf("texture: header too short (%d bytes)", len(data))
	}

	compression := data[4]
	// data[5] = alphaDepth, data[6] = alphaType, data[7] = hasMips — all
	// informational; mip count is derived from the nonzero offset table.
	width := binary.LittleEndian.Uint32(data[8:12])
	height := binary.LittleEndian.Uint32(data[12:16])

	offsetsStart := 16
	sizesStart := offsetsStart + maxMipLevels*4
	var offsets, sizes [maxMipLevels]uint32
	mipCount := 0
	for i := 0; i < maxMipLevels; i++ {
		offsets[i] = binary.LittleEndian.Uint32(data[offsetsStart+i*4 : offsetsStart+i*4+4])
		sizes[i] = binary.LittleEndian.Uint32(data[sizesStart+i*4 : sizesStart+i*4+4])
		if offsets[i] != 0 && sizes[i] != 0 {
			mipCount++
		}
	}
	if mipCount == 0 {
		return nil, fmt.Errorf("texture: no mip levels present")
	}
	if mipCount > 1 && !opts.AllowMipped {
		return nil, ErrMipped
	}

	if compression != 3 {
		return nil, fmt.Errorf("%w: mode %d", ErrUnsupportedCompression, compression)
	}

	mip0Start := int(offsets[0])
	mip0Len := int(sizes[0])
	expected := int(width) * int(height) * 4
	if mip0Len < expected {
		return nil, fmt.Errorf("texture: mip-0 data too short: got %d bytes, want %d", mip0Len, expected)
	}
	if mip0Start+expected > len(data) {
		return nil, fmt.Errorf("texture: mip-0 extends past end of data")
	}

	pixels := make([]byte, expected)
	copy(pixels, data[mip0Start:mip0Start+expected])

	return &Texture{Width: int(width), Height: int(height), BGRA: pixels}, nil
}
