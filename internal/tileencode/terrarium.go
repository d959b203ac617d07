package tileencode

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"math"
)

// EncodeTerrarium packs a per-pixel elevation grid into a Mapbox-
// Terrarium-style RGB PNG (SPEC_FULL.md supplemented feature 1:
// generate-heightmaps). Elevation is in meters; NaN/Inf is encoded as a
// fully transparent (nodata) pixel.
//
// Adapted from the teacher's internal/encode/terrarium.go: same packing
// formula and color.RGBA construction, generalized from its own
// TerrariumEncoder type into a function returning a Tile so it shares
// this package's content-hash contract with Encode.
func EncodeTerrarium(elevations []float64, width, height int) (Tile, error) {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for i, elev := range elevations {
		img.Set(i%width, i/width, elevationToTerrarium(elev))
	}

	var buf bytes.Buffer
	enc := &png.Encoder{CompressionLevel: png.BestCompression}
	if err := enc.Encode(&buf, img); err != nil {
		return Tile{}, err
	}

	out := buf.Bytes()
	sum := md5Sum(out)
	return Tile{Bytes: out, Hash: sum}, nil
}

// elevationToTerrarium converts a float64 elevation value to Terrarium
// RGB: elevation = (R*256 + G + B/256) - 32768, clamped to the
// representable range.
func elevationToTerrarium(elevation float64) color.RGBA {
	if math.IsNaN(elevation) || math.IsInf(elevation, 0) {
		return color.RGBA{0, 0, 0, 0}
	}

	value := elevation + 32768.0
	if value < 0 {
		value = 0
	}
	if value > 65535.996 {
		value = 65535.996
	}

	rVal := clampByte(int(value / 256))
	remainder := value - float64(rVal)*256.0
	gVal := clampByte(int(remainder))
	bVal := clampByte(int((remainder - float64(gVal)) * 256.0))

	return color.RGBA{R: uint8(rVal), G: uint8(gVal), B: uint8(bVal), A: 255}
}

func clampByte(v int) int {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return v
}

// terrariumToElevation inverts elevationToTerrarium; kept for tests and
// for any future heightmap-verification tooling.
func terrariumToElevation(c color.RGBA) float64 {
	if c.A == 0 {
		return math.NaN()
	}
	return float64(c.R)*256.0 + float64(c.G) + float64(c.B)/256.0 - 32768.0
}
