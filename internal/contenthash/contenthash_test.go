package contenthash

import (
	"math/rand"
	"strings"
	"testing"
)

func TestParseFormatRoundTrip(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	for i := 0; i < 100; i++ {
		b := make([]byte, 16)
		r.Read(b)
		h, err := FromBytes(b)
		if err != nil {
			t.Fatalf("FromBytes: %v", err)
		}
		if got := h.Bytes(); string(got) != string(b) {
			t.Fatalf("bytes round trip mismatch: got %x want %x", got, b)
		}
		hex := h.Hex()
		parsed, err := Parse(hex)
		if err != nil {
			t.Fatalf("Parse(%q): %v", hex, err)
		}
		if parsed != h {
			t.Fatalf("parse round trip mismatch for %q", hex)
		}
	}
}

func TestHexAlwaysLowercase(t *testing.T) {
	h := Sum([]byte("hello world"))
	s := h.Hex()
	for _, c := range s {
		if c >= 'A' && c <= 'Z' {
			t.Fatalf("hex output contains uppercase: %q", s)
		}
	}
	// Uppercase input must still parse.
	upper := strings.ToUpper(s)
	parsed, err := Parse(upper)
	if err != nil {
		t.Fatalf("Parse(%q): %v", upper, err)
	}
	if parsed != h {
		t.Fatalf("uppercase parse mismatch for %q", upper)
	}
}

func TestOrdering(t *testing.T) {
	a := MustFromBytes([]byte{0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 1})
	b := MustFromBytes([]byte{0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 2})
	if !a.Less(b) {
		t.Fatalf("expected a < b")
	}
	if a.Compare(b) >= 0 {
		t.Fatalf("expected Compare(a,b) < 0")
	}
}

func TestParseInvalidLength(t *testing.T) {
	if _, err := Parse("abcd"); err == nil {
		t.Fatalf("expected error for short hex string")
	}
}
