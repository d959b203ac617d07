package buildversion

import "testing"

func TestPackParseRoundTrip(t *testing.T) {
	cases := []struct {
		e, m, mn, b uint32
	}{
		{0, 0, 0, 0},
		{1, 2, 3, 4},
		{2047, 1023, 1023, 4294967295},
		{11, 0, 5, 55555},
	}
	for _, c := range cases {
		v := Pack(c.e, c.m, c.mn, c.b)
		if v < 0 {
			t.Fatalf("Pack(%d,%d,%d,%d) produced negative value %d", c.e, c.m, c.mn, c.b, v)
		}
		s := v.Format()
		parsed, err := Parse(s)
		if err != nil {
			t.Fatalf("Parse(%q): %v", s, err)
		}
		if parsed != v {
			t.Fatalf("round trip mismatch: packed=%d parsed=%d (via %q)", v, parsed, s)
		}
		if parsed.Expansion() != c.e || parsed.Major() != c.m || parsed.Minor() != c.mn || parsed.Build() != c.b {
			t.Fatalf("field mismatch for %q: got (%d,%d,%d,%d)", s, parsed.Expansion(), parsed.Major(), parsed.Minor(), parsed.Build())
		}
	}
}

func TestOrdering(t *testing.T) {
	lower := Pack(1, 0, 0, 0)
	higher := Pack(1, 0, 0, 1)
	if !lower.Less(higher) {
		t.Fatalf("expected %d < %d", lower, higher)
	}
	if higher.Less(lower) {
		t.Fatalf("unexpected %d < %d", higher, lower)
	}

	evenHigher := Pack(2, 0, 0, 0)
	if !higher.Less(evenHigher) {
		t.Fatalf("expected expansion to dominate build: %d should be < %d", higher, evenHigher)
	}
}

func TestParseInvalid(t *testing.T) {
	for _, s := range []string{"1.2.3", "1.2.3.4.5", "a.b.c.d", ""} {
		if _, err := Parse(s); err == nil {
			t.Fatalf("Parse(%q): expected error", s)
		}
	}
}

func TestInt64RoundTrip(t *testing.T) {
	v := Pack(11, 2, 0, 58536)
	if FromInt64(v.Int64()) != v {
		t.Fatalf("Int64 round trip failed for %v", v)
	}
}
