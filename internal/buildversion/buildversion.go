// Package buildversion implements the packed BuildVersion value type
// (spec.md §3): a 4-tuple (expansion, major, minor, build) bit-packed into
// a sortable, non-negative int64.
package buildversion

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	buildBits      = 32
	minorBits      = 10
	majorBits      = 10
	expansionBits  = 11
	buildMask      = 1<<buildBits - 1
	minorMask      = 1<<minorBits - 1
	majorMask      = 1<<majorBits - 1
	expansionMask  = 1<<expansionBits - 1
	minorShift     = buildBits
	majorShift     = buildBits + minorBits
	expansionShift = buildBits + minorBits + majorBits
)

// BuildVersion is the packed (expansion, major, minor, build) quadruple.
// The zero value is 0.0.0.0. The packed int64 is always non-negative: one
// reserved sign bit plus expansion:11|major:10|minor:10|build:32 totals 63
// bits.
type BuildVersion int64

// Pack bit-packs the four fields into a BuildVersion. Values are masked to
// their field width; callers that need overflow detection should validate
// inputs before calling Pack.
func Pack(expansion, major, minor, build uint32) BuildVersion {
	v := (int64(expansion&expansionMask) << expansionShift) |
		(int64(major&majorMask) << majorShift) |
		(int64(minor&minorMask) << minorShift) |
		int64(build&buildMask)
	return BuildVersion(v)
}

// Parse parses a "a.b.c.d" version string into a BuildVersion.
func Parse(s string) (BuildVersion, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 4 {
		return 0, fmt.Errorf("buildversion: %q: expected 4 dot-separated fields, got %d", s, len(parts))
	}
	var fields [4]uint64
	for i, p := range parts {
		n, err := strconv.ParseUint(p, 10, 32)
		if err != nil {
			return 0, fmt.Errorf("buildversion: %q: field %d: %w", s, i, err)
		}
		fields[i] = n
	}
	return Pack(uint32(fields[0]), uint32(fields[1]), uint32(fields[2]), uint32(fields[3])), nil
}

// Expansion returns the packed expansion field.
func (v BuildVersion) Expansion() uint32 { return uint32(int64(v)>>expansionShift) & expansionMask }

// Major returns the packed major field.
func (v BuildVersion) Major() uint32 { return uint32(int64(v)>>majorShift) & majorMask }

// Minor returns the packed minor field.
func (v BuildVersion) Minor() uint32 { return uint32(int64(v)>>minorShift) & minorMask }

// Build returns the packed build field.
func (v BuildVersion) Build() uint32 { return uint32(int64(v)) & buildMask }

// Format renders the version as "a.b.c.d".
func (v BuildVersion) Format() string {
	return fmt.Sprintf("%d.%d.%d.%d", v.Expansion(), v.Major(), v.Minor(), v.Build())
}

func (v BuildVersion) String() string { return v.Format() }

// Int64 returns the raw packed value, e.g. for JSON-as-string wire transport
// (spec.md §6: BuildVersion "is wire-transported as its encoded int64
// rendered in a JSON string to survive 53-bit client limits").
func (v BuildVersion) Int64() int64 { return int64(v) }

// FromInt64 reconstructs a BuildVersion from its packed int64 form.
func FromInt64(n int64) BuildVersion { return BuildVersion(n) }

// Less reports whether v sorts before other. Because the packing places
// expansion in the highest bits down to build in the lowest, plain integer
// comparison on the packed value already implements lexicographic order
// over (expansion, major, minor, build).
func (v BuildVersion) Less(other BuildVersion) bool { return v < other }
