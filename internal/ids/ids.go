// Package ids defines the opaque, comparable identifiers the coordinator
// passes around, and the two ways they come into existence: contract IDs
// are content hashes of the contract's structural fields (so that two
// coordinator runs producing a bitwise-identical contract for a region
// always agree on its ID, with no allocator needed), while branch IDs
// require genuine freshness and are minted through an injected allocator.
package ids

import (
	"encoding/hex"
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
)

// ServerID identifies a replica-hosting server. Opaque and comparable.
type ServerID string

// ContractID identifies a contract. Derived as a content hash so that
// recomputing an unchanged contract always reuses the same ID.
type ContractID [16]byte

func (c ContractID) String() string { return fmt.Sprintf("%x", [16]byte(c)) }

// IsZero reports whether c is the zero value (never a valid contract ID).
func (c ContractID) IsZero() bool { return c == ContractID{} }

// MarshalText renders c as hex, so it can be used as a JSON object key (the
// coordinator's persisted snapshots key contracts by id).
func (c ContractID) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

// UnmarshalText parses c back from hex.
func (c *ContractID) UnmarshalText(text []byte) error {
	decoded, err := hex.DecodeString(string(text))
	if err != nil {
		return fmt.Errorf("parse contract id %q: %w", text, err)
	}
	if len(decoded) != len(c) {
		return fmt.Errorf("parse contract id %q: want %d bytes, got %d", text, len(c), len(decoded))
	}
	copy(c[:], decoded)
	return nil
}

// BranchID identifies a branch of writes produced by one primary over a
// region. The zero value means "no parent" / "no branch yet".
type BranchID [16]byte

func (b BranchID) String() string { return fmt.Sprintf("%x", [16]byte(b)) }

// IsZero reports whether b is the zero value (the root of all lineages).
func (b BranchID) IsZero() bool { return b == BranchID{} }

// MarshalText renders b as hex, so it can be used as a JSON object key.
func (b BranchID) MarshalText() ([]byte, error) { return []byte(b.String()), nil }

// UnmarshalText parses b back from hex.
func (b *BranchID) UnmarshalText(text []byte) error {
	decoded, err := hex.DecodeString(string(text))
	if err != nil {
		return fmt.Errorf("parse branch id %q: %w", text, err)
	}
	if len(decoded) != len(b) {
		return fmt.Errorf("parse branch id %q: want %d bytes, got %d", text, len(b), len(decoded))
	}
	copy(b[:], decoded)
	return nil
}

// Hasher accumulates canonical bytes and folds them into a ContractID.
// Structural fields must always be fed in the same order (after the
// caller has sorted any sets) so that equal contracts hash equally.
type Hasher struct {
	lo *xxhash.Digest
	hi *xxhash.Digest
}

// NewHasher returns a fresh content hasher.
func NewHasher() *Hasher {
	h := &Hasher{lo: xxhash.New(), hi: xxhash.New()}
	h.hi.Write([]byte{0x5a}) // distinct seed byte so hi/lo digests diverge
	return h
}

// Write feeds a length-prefixed chunk of bytes into the hash so that
// concatenation ambiguity (e.g. "ab"+"c" vs "a"+"bc") cannot collide.
func (h *Hasher) Write(b []byte) *Hasher {
	var lenBuf [8]byte
	putUint64(lenBuf[:], uint64(len(b)))
	h.lo.Write(lenBuf[:])
	h.lo.Write(b)
	h.hi.Write(lenBuf[:])
	h.hi.Write(b)
	return h
}

// WriteString is a convenience wrapper around Write.
func (h *Hasher) WriteString(s string) *Hasher { return h.Write([]byte(s)) }

// WriteUint64 feeds an 8-byte big-endian encoding of v.
func (h *Hasher) WriteUint64(v uint64) *Hasher {
	var buf [8]byte
	putUint64(buf[:], v)
	return h.Write(buf[:])
}

// WriteBool feeds a single distinguishing byte for v.
func (h *Hasher) WriteBool(v bool) *Hasher {
	if v {
		return h.Write([]byte{1})
	}
	return h.Write([]byte{0})
}

// SumContractID finalizes the hash into a ContractID.
func (h *Hasher) SumContractID() ContractID {
	var out ContractID
	putUint64(out[0:8], h.lo.Sum64())
	putUint64(out[8:16], h.hi.Sum64())
	return out
}

func putUint64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[7-i] = byte(v)
		v >>= 8
	}
}

// BranchAllocator mints fresh branch IDs. Branches carry a timestamp-
// ordered lineage rather than deduplicated content, so unlike contract
// IDs they cannot be derived by hashing and must come from a real
// allocator; production code uses NewUUIDBranchAllocator, tests can
// inject a deterministic counter-based one.
type BranchAllocator interface {
	NewBranchID() BranchID
}

type uuidBranchAllocator struct{}

// NewUUIDBranchAllocator returns the production BranchAllocator.
func NewUUIDBranchAllocator() BranchAllocator { return uuidBranchAllocator{} }

func (uuidBranchAllocator) NewBranchID() BranchID {
	return BranchID(uuid.New())
}

// CounterBranchAllocator is a deterministic BranchAllocator for tests: it
// hands out sequential, reproducible IDs instead of random UUIDs.
type CounterBranchAllocator struct {
	next uint64
}

// NewBranchID returns the next sequential branch ID.
func (c *CounterBranchAllocator) NewBranchID() BranchID {
	c.next++
	var id BranchID
	putUint64(id[8:16], c.next)
	return id
}
