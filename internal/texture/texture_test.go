package texture

import (
	"encoding/binary"
	"testing"
)

func buildTexture(t *testing.T, width, height int, mipCount int) []byte {
	t.Helper()
	header := make([]byte, 16+maxMipLevels*8)
	copy(header[0:4], magic)
	header[4] = 3 // uncompressed BGRA8
	binary.LittleEndian.PutUint32(header[8:12], uint32(width))
	binary.LittleEndian.PutUint32(header[12:16], uint32(height))

	offsetsStart := 16
	sizesStart := offsetsStart + maxMipLevels*4

	mip0Size := width * height * 4
	mip0Offset := len(header)
	binary.LittleEndian.PutUint32(header[offsetsStart:offsetsStart+4], uint32(mip0Offset))
	binary.LittleEndian.PutUint32(header[sizesStart:sizesStart+4], uint32(mip0Size))

	body := make([]byte, mip0Size)
	for i := range body {
		body[i] = byte(i)
	}

	out := append(header, body...)

	if mipCount > 1 {
		mip1Size := (width / 2) * (height / 2) * 4
		binary.LittleEndian.PutUint32(out[offsetsStart+4:offsetsStart+8], uint32(len(out)))
		binary.LittleEndian.PutUint32(out[sizesStart+4:sizesStart+8], uint32(mip1Size))
		out = append(out, make([]byte, mip1Size)...)
	}
	return out
}

func TestDecodeSingleMip(t *testing.T) {
	data := buildTexture(t, 4, 4, 1)
	tex, err := Decode(data, Options{})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if tex.Width != 4 || tex.Height != 4 || len(tex.BGRA) != 64 {
		t.Fatalf("unexpected texture: %+v len=%d", tex, len(tex.BGRA))
	}
}

func TestDecodeRejectsMippedByDefault(t *testing.T) {
	data := buildTexture(t, 4, 4, 2)
	_, err := Decode(data, Options{})
	if err != ErrMipped {
		t.Fatalf("expected ErrMipped, got %v", err)
	}
}

func TestDecodeAllowsMippedWhenConfigured(t *testing.T) {
	data := buildTexture(t, 4, 4, 2)
	tex, err := Decode(data, Options{AllowMipped: true})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if tex.Width != 4 || tex.Height != 4 {
		t.Fatalf("unexpected mip-0 dims: %+v", tex)
	}
}

func TestDecodeRejectsBadMagic(t *testing.T) {
	data := make([]byte, 200)
	copy(data, "NOPE")
	_, err := Decode(data, Options{})
	if err != errBadMagic {
		t.Fatalf("expected errBadMagic, got %v", err)
	}
}

func TestDecodeRejectsUnsupportedCompression(t *testing.T) {
	data := buildTexture(t, 4, 4, 1)
	data[4] = 1 // DXT-style compression, unsupported
	_, err := Decode(data, Options{})
	if err == nil {
		t.Fatalf("expected error for unsupported compression")
	}
}
