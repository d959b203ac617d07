// Package scan implements the per-build scan state machine and the
// two-phase tile dedup/publish pipeline (spec.md §4.I).
//
// Grounded on internal/tile/generator.go's job-channel + worker-pool +
// sync/atomic stats shape — the exact fan-out spec.md §5 calls for —
// with golang.org/x/sync/errgroup replacing the teacher's hand-rolled
// sync.WaitGroup+errCh for cleaner cancellation propagation.
package scan

import "fmt"

// State is a ProductScan's position in the state machine (spec.md
// §4.I).
type State int

const (
	StatePending State = iota
	StateException
	StateEncryptedBuild
	StateEncryptedMapDatabase
	StatePartialDecrypt
	StateFullDecrypt
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "Pending"
	case StateException:
		return "Exception"
	case StateEncryptedBuild:
		return "EncryptedBuild"
	case StateEncryptedMapDatabase:
		return "EncryptedMapDatabase"
	case StatePartialDecrypt:
		return "PartialDecrypt"
	case StateFullDecrypt:
		return "FullDecrypt"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Terminal reports whether s is a state a ProductScan can rest in
// between scans (spec.md §7: "no partial terminal states").
func (s State) Terminal() bool {
	switch s {
	case StateEncryptedBuild, StateEncryptedMapDatabase, StatePartialDecrypt, StateFullDecrypt, StateException:
		return true
	default:
		return false
	}
}

// ProductScan is the persisted record of one (build_id, product_name)
// scan (spec.md §4.I).
type ProductScan struct {
	BuildID      string
	Product      string
	State        State
	EncryptedKey string // set when State is EncryptedBuild or EncryptedMapDatabase
	// EncryptedMaps maps map-id -> the key name blocking that map's WDT
	// (set when State is PartialDecrypt).
	EncryptedMaps map[uint32]string
	// Exception carries the fatal error message when State is Exception.
	Exception string
}

// NewProductScan starts a fresh, Pending scan record.
func NewProductScan(buildID, product string) *ProductScan {
	return &ProductScan{BuildID: buildID, Product: product, State: StatePending, EncryptedMaps: make(map[uint32]string)}
}
