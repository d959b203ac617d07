package tactkeys

import (
	"strings"
	"testing"
	"time"
)

func TestSetAndLookup(t *testing.T) {
	r := New()
	var key [16]byte
	copy(key[:], []byte("0123456789ABCDEF"))

	if ok := r.Set("AABBCCDDEEFF0011", key, time.Now()); !ok {
		t.Fatalf("expected new key to report true")
	}
	if ok := r.Set("AABBCCDDEEFF0011", key, time.Now()); ok {
		t.Fatalf("expected duplicate Set to report false")
	}

	got, found := r.Lookup("AABBCCDDEEFF0011")
	if !found {
		t.Fatalf("expected key to be found")
	}
	if got != key {
		t.Fatalf("key mismatch")
	}

	if _, found := r.Lookup("NOPE"); found {
		t.Fatalf("did not expect to find unknown key")
	}
}

func TestSetPublishesOnNewKeysChannel(t *testing.T) {
	r := New()
	var key [16]byte
	r.Set("1234567890ABCDEF", key, time.Now())

	select {
	case name := <-r.NewKeys:
		if name != "1234567890ABCDEF" {
			t.Fatalf("unexpected name on channel: %s", name)
		}
	default:
		t.Fatalf("expected a notification on NewKeys")
	}
}

func TestLoadTextParsesFixedOffsets(t *testing.T) {
	r := New()
	text := "1234567890ABCDEF 00112233445566778899AABBCCDDEEFF extra-ignored-field\n" +
		"short\n" +
		"\n"
	n, err := r.LoadText(strings.NewReader(text), time.Now())
	if err != nil {
		t.Fatalf("LoadText: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 key loaded, got %d", n)
	}
	if _, found := r.Lookup("1234567890ABCDEF"); !found {
		t.Fatalf("expected key to be loaded")
	}
}

func TestPersistRoundTrip(t *testing.T) {
	r := New()
	var key [16]byte
	copy(key[:], []byte("FEDCBA9876543210"))
	r.Set("AAAAAAAAAAAAAAAA", key, time.Now())

	var buf strings.Builder
	if err := r.Persist(&buf); err != nil {
		t.Fatalf("Persist: %v", err)
	}

	r2 := New()
	if _, err := r2.LoadText(strings.NewReader(buf.String()), time.Now()); err != nil {
		t.Fatalf("LoadText: %v", err)
	}
	got, found := r2.Lookup("AAAAAAAAAAAAAAAA")
	if !found || got != key {
		t.Fatalf("round trip failed")
	}
}
