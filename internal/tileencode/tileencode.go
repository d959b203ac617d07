// Package tileencode turns raw BGRA8 pixels into a lossless, content-
// addressed tile image (spec.md §4.H).
//
// Grounded directly on internal/encode/webp.go / encoder.go's Encoder
// shape (Encode/Format/FileExtension), but swapped from the teacher's CGo
// libwebp binding to the teacher's own already-required pure-Go
// dependency github.com/gen2brain/webp (the teacher uses it only for
// decode in internal/encode/decode.go; the worker/catalog deploy target
// here can't assume a CGo toolchain, so encode goes through the same
// library).
package tileencode

import (
	"bytes"
	"crypto/md5"
	"fmt"
	"image"

	"github.com/gen2brain/webp"
)

// Options configures the lossless encode (spec.md §4.H: "alpha
// compression off, best-quality method, 10 entropy passes;
// configurable quality").
type Options struct {
	// Quality is meaningful only relative to encoder internals since the
	// output format is lossless (spec.md §4.H).
	Quality float32
	// Method selects the lossless compression method (0 fastest, 6
	// best); spec.md calls for best-quality method.
	Method int
	// Passes is the number of entropy-analysis passes (spec.md calls
	// for 10).
	Passes int
}

// DefaultOptions matches spec.md §4.H's stated defaults.
var DefaultOptions = Options{
	Quality: 100,
	Method:  6,
	Passes:  10,
}

// Tile is one encoded, content-addressed tile image.
type Tile struct {
	Bytes []byte
	// Hash is the MD5 of Bytes, lowercase-hex (spec.md §4.H, §8).
	Hash string
}

// Encode re-encodes raw BGRA8 pixels (width x height) as a lossless
// WebP image and computes its content hash (spec.md §4.H).
func Encode(bgra []byte, width, height int, opts Options) (Tile, error) {
	if len(bgra) != width*height*4 {
		return Tile{}, fmt.Errorf("tileencode: pixel buffer length %d does not match %dx%d BGRA8", len(bgra), width, height)
	}

	img := bgraToRGBA(bgra, width, height)

	var buf bytes.Buffer
	err := webp.Encode(&buf, img, webp.Options{
		Lossless:         true,
		Quality:          opts.Quality,
		Method:           opts.Method,
		Exact:            true, // preserve alpha exactly rather than compress it away
		AlphaCompression: 0,
		EntropyPasses:    opts.Passes,
	})
	if err != nil {
		return Tile{}, fmt.Errorf("tileencode: webp encode: %w", err)
	}

	out := buf.Bytes()
	return Tile{Bytes: out, Hash: md5Sum(out)}, nil
}

// md5Sum returns the lowercase-hex MD5 of data (spec.md §4.H, §8).
func md5Sum(data []byte) string {
	sum := md5.Sum(data)
	return fmt.Sprintf("%x", sum[:])
}

// bgraToRGBA converts a BGRA8 pixel buffer into an *image.RGBA (the
// decoder in internal/texture emits BGRA; Go's image package and the
// webp encoder both expect RGBA channel order).
func bgraToRGBA(bgra []byte, width, height int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for i := 0; i < width*height; i++ {
		b := bgra[i*4+0]
		g := bgra[i*4+1]
		r := bgra[i*4+2]
		a := bgra[i*4+3]
		img.Pix[i*4+0] = r
		img.Pix[i*4+1] = g
		img.Pix[i*4+2] = b
		img.Pix[i*4+3] = a
	}
	return img
}
