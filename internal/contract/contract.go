// Package contract defines the per-region replication agreement the
// coordinator publishes, and the config and acknowledgement shapes it
// reasons over.
package contract

import (
	"sort"

	"github.com/yaoml/rethinkdb/internal/ids"
)

// Primary names the server currently serving writes for a contract, and
// optionally a hand-over target it is draining toward.
type Primary struct {
	Server    ids.ServerID
	HandOver  ids.ServerID // zero value ("") means no hand-over in progress
}

// HasHandOver reports whether this primary is mid-handoff.
func (p Primary) HasHandOver() bool { return p.HandOver != "" }

// Contract is the per-region replication agreement published by the
// coordinator and obeyed by replicas.
type Contract struct {
	Replicas   []ids.ServerID
	Voters     []ids.ServerID
	TempVoters []ids.ServerID // nil when no voter-set transition is in flight
	Primary    *Primary       // nil means "no primary"
	Branch     ids.BranchID
}

// Clone returns a deep copy.
func (c Contract) Clone() Contract {
	out := Contract{
		Replicas: append([]ids.ServerID(nil), c.Replicas...),
		Voters:   append([]ids.ServerID(nil), c.Voters...),
		Branch:   c.Branch,
	}
	if c.TempVoters != nil {
		out.TempVoters = append([]ids.ServerID(nil), c.TempVoters...)
	}
	if c.Primary != nil {
		p := *c.Primary
		out.Primary = &p
	}
	return out
}

// Equal reports bitwise equality under a canonical (sorted) ordering of
// every set-valued field, matching §3 invariant 5: contracts compare
// equal regardless of the order their member sets happen to be built in.
func (c Contract) Equal(o Contract) bool {
	if !sameSet(c.Replicas, o.Replicas) {
		return false
	}
	if !sameSet(c.Voters, o.Voters) {
		return false
	}
	if !sameSet(c.TempVoters, o.TempVoters) {
		return false
	}
	if c.Branch != o.Branch {
		return false
	}
	switch {
	case c.Primary == nil && o.Primary == nil:
		return true
	case c.Primary == nil || o.Primary == nil:
		return false
	default:
		return *c.Primary == *o.Primary
	}
}

func sameSet(a, b []ids.ServerID) bool {
	if len(a) != len(b) {
		return false
	}
	as := sortedCopy(a)
	bs := sortedCopy(b)
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}

func sortedCopy(s []ids.ServerID) []ids.ServerID {
	out := append([]ids.ServerID(nil), s...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ContainsServer reports whether set contains srv.
func ContainsServer(set []ids.ServerID, srv ids.ServerID) bool {
	for _, s := range set {
		if s == srv {
			return true
		}
	}
	return false
}

// UnionServers returns the deduplicated union of the given sets, sorted
// for deterministic hashing and display.
func UnionServers(sets ...[]ids.ServerID) []ids.ServerID {
	seen := make(map[ids.ServerID]bool)
	var out []ids.ServerID
	for _, set := range sets {
		for _, s := range set {
			if !seen[s] {
				seen[s] = true
				out = append(out, s)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// SubtractServers returns the elements of a not present in b.
func SubtractServers(a, b []ids.ServerID) []ids.ServerID {
	var out []ids.ServerID
	for _, s := range a {
		if !ContainsServer(b, s) {
			out = append(out, s)
		}
	}
	return out
}

// Hash feeds this contract's structural fields into h in a canonical,
// sorted order, per §4.2 Step E / §9's content-hash ID scheme.
func (c Contract) Hash(h *ids.Hasher) {
	for _, s := range sortedCopy(c.Replicas) {
		h.WriteString("r:" + string(s))
	}
	for _, s := range sortedCopy(c.Voters) {
		h.WriteString("v:" + string(s))
	}
	for _, s := range sortedCopy(c.TempVoters) {
		h.WriteString("t:" + string(s))
	}
	if c.Primary != nil {
		h.WriteString("p:" + string(c.Primary.Server))
		h.WriteString("h:" + string(c.Primary.HandOver))
	} else {
		h.WriteString("p:<none>")
	}
	h.Write(c.Branch[:])
}
