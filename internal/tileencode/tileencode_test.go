package tileencode

import (
	"math"
	"testing"
)

func TestBgraToRGBAConvertsChannelOrder(t *testing.T) {
	bgra := []byte{10, 20, 30, 255} // B=10 G=20 R=30 A=255
	img := bgraToRGBA(bgra, 1, 1)
	r, g, b, a := img.At(0, 0).RGBA()
	if uint8(r>>8) != 30 || uint8(g>>8) != 20 || uint8(b>>8) != 10 || uint8(a>>8) != 255 {
		t.Fatalf("unexpected pixel: r=%d g=%d b=%d a=%d", r>>8, g>>8, b>>8, a>>8)
	}
}

func TestEncodeRejectsMismatchedBufferLength(t *testing.T) {
	_, err := Encode([]byte{1, 2, 3}, 4, 4, DefaultOptions)
	if err == nil {
		t.Fatalf("expected error for mismatched buffer length")
	}
}

func TestElevationTerrariumRoundTrip(t *testing.T) {
	for _, elev := range []float64{-1000, 0, 1234.5, 8848} {
		c := elevationToTerrarium(elev)
		got := terrariumToElevation(c)
		if math.Abs(got-elev) > 0.01 {
			t.Fatalf("round trip mismatch for %v: got %v", elev, got)
		}
	}
}

func TestElevationNodataIsTransparent(t *testing.T) {
	c := elevationToTerrarium(math.NaN())
	if c.A != 0 {
		t.Fatalf("expected alpha 0 for NaN elevation, got %+v", c)
	}
	if !math.IsNaN(terrariumToElevation(c)) {
		t.Fatalf("expected NaN round trip for nodata pixel")
	}
}

func TestEncodeTerrariumProducesHashedTile(t *testing.T) {
	elevations := make([]float64, 4*4)
	for i := range elevations {
		elevations[i] = float64(i) * 10
	}
	tile, err := EncodeTerrarium(elevations, 4, 4)
	if err != nil {
		t.Fatalf("EncodeTerrarium: %v", err)
	}
	if len(tile.Bytes) == 0 || len(tile.Hash) != 32 {
		t.Fatalf("unexpected tile: hash=%q bytes=%d", tile.Hash, len(tile.Bytes))
	}
}
