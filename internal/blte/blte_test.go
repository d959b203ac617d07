package blte

import (
	"bytes"
	"compress/zlib"
	"crypto/md5"
	"encoding/binary"
	"errors"
	"strconv"
	"testing"
	"time"

	"golang.org/x/crypto/salsa20/salsa"

	"github.com/blizztrack/scanner/internal/tactkeys"
)

// buildMultiChunk builds a multi-chunk BLTE stream with a header table.
func buildMultiChunk(t *testing.T, blocks [][]byte) []byte {
	t.Helper()
	var header bytes.Buffer
	header.WriteByte(0x0F) // flags (unused by decoder, mirrors real streams)
	chunkCount := len(blocks)
	header.Write([]byte{byte(chunkCount >> 16), byte(chunkCount >> 8), byte(chunkCount)})

	var body bytes.Buffer
	for _, b := range blocks {
		sum := md5.Sum(b)
		var hdr [8]byte
		binary.BigEndian.PutUint32(hdr[0:4], uint32(len(b)))
		binary.BigEndian.PutUint32(hdr[4:8], uint32(len(b))) // decompSize unused by decoder
		header.Write(hdr[:])
		header.Write(sum[:])
		body.Write(b)
	}

	var out bytes.Buffer
	out.WriteString(magic)
	var headerSize [4]byte
	binary.BigEndian.PutUint32(headerSize[:], uint32(8+header.Len()))
	out.Write(headerSize[:])
	out.Write(header.Bytes())
	out.Write(body.Bytes())
	return out.Bytes()
}

func rawBlock(payload []byte) []byte {
	return append([]byte{'N'}, payload...)
}

func zlibBlock(t *testing.T, payload []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	w.Write(payload)
	w.Close()
	return append([]byte{'Z'}, buf.Bytes()...)
}

func TestParseRawBlocks(t *testing.T) {
	codec := New(tactkeys.New())
	stream := buildMultiChunk(t, [][]byte{rawBlock([]byte("hello ")), rawBlock([]byte("world"))})
	out, err := codec.Parse(stream)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if string(out) != "hello world" {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestParseZlibBlock(t *testing.T) {
	codec := New(tactkeys.New())
	stream := buildMultiChunk(t, [][]byte{zlibBlock(t, []byte("compressed payload"))})
	out, err := codec.Parse(stream)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if string(out) != "compressed payload" {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestParseRejectsBadMagic(t *testing.T) {
	codec := New(tactkeys.New())
	if _, err := codec.Parse([]byte("NOPE....")); !errors.Is(err, ErrBadMagic) {
		t.Fatalf("expected ErrBadMagic, got %v", err)
	}
}

func TestParseDetectsChecksumMismatch(t *testing.T) {
	codec := New(tactkeys.New())
	stream := buildMultiChunk(t, [][]byte{rawBlock([]byte("abc"))})
	// Corrupt the payload after the checksum has been computed over the
	// original bytes.
	stream[len(stream)-1] ^= 0xFF
	if _, err := codec.Parse(stream); !errors.Is(err, ErrChecksumMismatch) {
		t.Fatalf("expected checksum mismatch, got %v", err)
	}
}

func TestParseSingleUnframedBlock(t *testing.T) {
	codec := New(tactkeys.New())
	var out bytes.Buffer
	out.WriteString(magic)
	out.Write([]byte{0, 0, 0, 0}) // headerSize == 0
	out.Write(rawBlock([]byte("unframed")))
	got, err := codec.Parse(out.Bytes())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if string(got) != "unframed" {
		t.Fatalf("unexpected output: %q", got)
	}
}

func TestEncryptedBlockMissingKeySurfacesTypedError(t *testing.T) {
	codec := New(tactkeys.New())

	var enc bytes.Buffer
	enc.WriteByte('E')
	keyName := []byte{0xEF, 0xCD, 0xAB, 0x90, 0x78, 0x56, 0x34, 0x12} // little-endian "1234567890ABCDEF"
	enc.WriteByte(byte(len(keyName)))
	enc.Write(keyName)
	iv := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	enc.WriteByte(byte(len(iv)))
	enc.Write(iv)
	enc.WriteByte('N')
	enc.Write([]byte("ciphertext-placeholder"))

	stream := buildMultiChunk(t, [][]byte{enc.Bytes()})
	_, err := codec.Parse(stream)
	var keyErr *DecryptionKeyMissingError
	if !errors.As(err, &keyErr) {
		t.Fatalf("expected DecryptionKeyMissingError, got %v (%T)", err, err)
	}
	if keyErr.KeyName != "1234567890ABCDEF" {
		t.Fatalf("unexpected key name: %s", keyErr.KeyName)
	}
}

// reversedKeyNameBytes renders a canonical big-endian hex key name as the
// little-endian raw bytes an "E" block carries on the wire (the inverse of
// reverseHex).
func reversedKeyNameBytes(t *testing.T, hexName string) []byte {
	t.Helper()
	raw := make([]byte, len(hexName)/2)
	for i := range raw {
		v, err := strconv.ParseUint(hexName[i*2:i*2+2], 16, 8)
		if err != nil {
			t.Fatalf("parsing key name hex: %v", err)
		}
		raw[i] = byte(v)
	}
	for i, j := 0, len(raw)-1; i < j; i, j = i+1, j-1 {
		raw[i], raw[j] = raw[j], raw[i]
	}
	return raw
}

// encryptedBlock builds an "E" block whose ciphertext was produced with
// blockIndex XORed into the nonce's low 4 bytes, matching decodeEncrypted's
// convention — so the test fails if that XOR is ever dropped or threaded
// incorrectly.
func encryptedBlock(t *testing.T, hexName string, key [16]byte, iv [8]byte, blockIndex int, subType byte, plaintext []byte) []byte {
	t.Helper()
	nonce := iv
	nonce[0] ^= byte(blockIndex)
	nonce[1] ^= byte(blockIndex >> 8)
	nonce[2] ^= byte(blockIndex >> 16)
	nonce[3] ^= byte(blockIndex >> 24)

	var salsaKey [32]byte
	copy(salsaKey[:16], key[:])
	copy(salsaKey[16:], key[:])

	ciphertext := make([]byte, len(plaintext))
	salsa.XORKeyStream(ciphertext, plaintext, &nonce, &salsaKey)

	var buf bytes.Buffer
	buf.WriteByte('E')
	nameBytes := reversedKeyNameBytes(t, hexName)
	buf.WriteByte(byte(len(nameBytes)))
	buf.Write(nameBytes)
	buf.WriteByte(byte(len(iv)))
	buf.Write(iv[:])
	buf.WriteByte(subType)
	buf.Write(ciphertext)
	return buf.Bytes()
}

func TestEncryptedBlockAtNonZeroIndexDecrypts(t *testing.T) {
	registry := tactkeys.New()
	key := [16]byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}
	const keyName = "1234567890ABCDEF"
	registry.Set(tactkeys.KeyName(keyName), key, time.Now())

	iv := [8]byte{9, 8, 7, 6, 5, 4, 3, 2}
	block0 := rawBlock([]byte("hello "))
	block1 := encryptedBlock(t, keyName, key, iv, 1, 'N', []byte("world"))

	codec := New(registry)
	stream := buildMultiChunk(t, [][]byte{block0, block1})
	out, err := codec.Parse(stream)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if string(out) != "hello world" {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestEncryptedBlockWrongBlockIndexFailsToDecrypt(t *testing.T) {
	registry := tactkeys.New()
	key := [16]byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}
	const keyName = "1234567890ABCDEF"
	registry.Set(tactkeys.KeyName(keyName), key, time.Now())

	iv := [8]byte{9, 8, 7, 6, 5, 4, 3, 2}
	// Encrypted as if it were block 1, but placed at index 0: a non-zero
	// block index must actually affect the keystream, or this would
	// decrypt cleanly by accident.
	block0 := encryptedBlock(t, keyName, key, iv, 1, 'N', []byte("world"))

	codec := New(registry)
	stream := buildMultiChunk(t, [][]byte{block0})
	out, err := codec.Parse(stream)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if string(out) == "world" {
		t.Fatalf("expected garbage from a nonce/index mismatch, got the correct plaintext")
	}
}

func TestRecursionDepthBounded(t *testing.T) {
	codec := New(tactkeys.New())

	// Build a frame block that recurses into itself indefinitely by
	// nesting valid BLTE streams containing only more "F" blocks.
	inner := buildMultiChunk(t, [][]byte{rawBlock([]byte("leaf"))})
	for i := 0; i < MaxRecursionDepth+2; i++ {
		inner = buildMultiChunk(t, [][]byte{append([]byte{'F'}, inner...)})
	}
	if _, err := codec.Parse(inner); !errors.Is(err, ErrRecursionTooDeep) {
		t.Fatalf("expected ErrRecursionTooDeep, got %v", err)
	}
}
