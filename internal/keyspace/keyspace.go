// Package keyspace implements the region algebra the contract coordinator
// reasons over: half-open key ranges crossed with a hash-prefix dimension
// used to CPU-shard per-table work across cores.
package keyspace

import "bytes"

// CPUShardingFactor is the fixed number of hash-prefix subspaces every
// contract is aligned to. Contracts never cross a subspace boundary.
const CPUShardingFactor = 8

// cpuShardShift is log2(2^64 / CPUShardingFactor); CPUShardingFactor must
// stay a power of two for the shift-based subspace math below to divide
// the hash domain exactly.
const cpuShardShift = 61

// KeyRange is a half-open range [Left, Right). An empty Left means the
// range starts at the minimum key; an empty Right means it is unbounded.
type KeyRange struct {
	Left  []byte
	Right []byte
}

// FullKeyRange spans the entire keyspace.
func FullKeyRange() KeyRange { return KeyRange{} }

func (r KeyRange) leftUnbounded() bool  { return len(r.Left) == 0 }
func (r KeyRange) rightUnbounded() bool { return len(r.Right) == 0 }

// Contains reports whether key falls in [Left, Right).
func (r KeyRange) Contains(key []byte) bool {
	if !r.leftUnbounded() && bytes.Compare(key, r.Left) < 0 {
		return false
	}
	if !r.rightUnbounded() && bytes.Compare(key, r.Right) >= 0 {
		return false
	}
	return true
}

// Empty reports whether the range contains no keys.
func (r KeyRange) Empty() bool {
	if r.leftUnbounded() || r.rightUnbounded() {
		return false
	}
	return bytes.Compare(r.Left, r.Right) >= 0
}

// Equal reports structural equality.
func (r KeyRange) Equal(o KeyRange) bool {
	return bytes.Equal(r.Left, o.Left) && bytes.Equal(r.Right, o.Right)
}

// Intersect returns the overlap of r and o, and false if they are disjoint.
func (r KeyRange) Intersect(o KeyRange) (KeyRange, bool) {
	left := r.Left
	if r.leftUnbounded() || (!o.leftUnbounded() && bytes.Compare(o.Left, left) > 0) {
		left = o.Left
	}
	right := r.Right
	switch {
	case r.rightUnbounded():
		right = o.Right
	case o.rightUnbounded():
		right = r.Right
	case bytes.Compare(o.Right, right) < 0:
		right = o.Right
	}
	out := KeyRange{Left: left, Right: right}
	if out.Empty() {
		return KeyRange{}, false
	}
	return out, true
}

// Adjacent reports whether r and o share a boundary and could be merged
// into a single contiguous range (r immediately followed by o, or vice
// versa).
func (r KeyRange) Adjacent(o KeyRange) bool {
	if !r.rightUnbounded() && !o.leftUnbounded() && bytes.Equal(r.Right, o.Left) {
		return true
	}
	if !o.rightUnbounded() && !r.leftUnbounded() && bytes.Equal(o.Right, r.Left) {
		return true
	}
	return false
}

// Union merges two adjacent (or overlapping) ranges into one.
func (r KeyRange) Union(o KeyRange) KeyRange {
	var left []byte
	if !r.leftUnbounded() && !o.leftUnbounded() {
		left = r.Left
		if bytes.Compare(o.Left, left) < 0 {
			left = o.Left
		}
	}
	right := r.Right
	if !r.rightUnbounded() && !o.rightUnbounded() && bytes.Compare(o.Right, right) > 0 {
		right = o.Right
	} else if r.rightUnbounded() || o.rightUnbounded() {
		right = nil
	}
	return KeyRange{Left: left, Right: right}
}

// Subtract returns the pieces of r that are not covered by o (0, 1, or 2
// pieces, since o is itself a single half-open range).
func (r KeyRange) Subtract(o KeyRange) []KeyRange {
	overlap, ok := r.Intersect(o)
	if !ok {
		return []KeyRange{r}
	}
	var out []KeyRange
	sameStart := r.leftUnbounded() == overlap.leftUnbounded() && bytes.Equal(r.Left, overlap.Left)
	if !sameStart {
		out = append(out, KeyRange{Left: r.Left, Right: overlap.Left})
	}
	sameEnd := r.rightUnbounded() == overlap.rightUnbounded() && bytes.Equal(r.Right, overlap.Right)
	if !sameEnd {
		out = append(out, KeyRange{Left: overlap.Right, Right: r.Right})
	}
	return out
}

// Clone returns a deep copy safe for independent mutation.
func (r KeyRange) Clone() KeyRange {
	return KeyRange{Left: append([]byte(nil), r.Left...), Right: append([]byte(nil), r.Right...)}
}

// HashRange is a half-open interval over the hash-prefix dimension
// [0, 2^64). End==0 && EndAtMax means "runs to the top of the domain",
// since 2^64 itself does not fit in a uint64.
type HashRange struct {
	Begin    uint64
	End      uint64
	EndAtMax bool
}

// FullHashRange spans the entire hash domain.
func FullHashRange() HashRange { return HashRange{EndAtMax: true} }

// CPUSubspace returns the i'th of CPUShardingFactor equal hash-prefix
// subspaces.
func CPUSubspace(i int) HashRange {
	begin := uint64(i) << cpuShardShift
	if i == CPUShardingFactor-1 {
		return HashRange{Begin: begin, EndAtMax: true}
	}
	return HashRange{Begin: begin, End: uint64(i+1) << cpuShardShift}
}

// ContainsHash reports whether h is covered by this range.
func (r HashRange) ContainsHash(h uint64) bool {
	if h < r.Begin {
		return false
	}
	return r.EndAtMax || h < r.End
}

// Empty reports whether the range contains no hash values.
func (r HashRange) Empty() bool {
	return !r.EndAtMax && r.End <= r.Begin
}

// Equal reports structural equality.
func (r HashRange) Equal(o HashRange) bool {
	return r.Begin == o.Begin && r.End == o.End && r.EndAtMax == o.EndAtMax
}

// Intersect returns the overlap of r and o, and false if disjoint.
func (r HashRange) Intersect(o HashRange) (HashRange, bool) {
	begin := r.Begin
	if o.Begin > begin {
		begin = o.Begin
	}
	var end uint64
	endAtMax := r.EndAtMax && o.EndAtMax
	switch {
	case r.EndAtMax:
		end = o.End
	case o.EndAtMax:
		end = r.End
	case o.End < r.End:
		end = o.End
	default:
		end = r.End
	}
	out := HashRange{Begin: begin, End: end, EndAtMax: endAtMax}
	if out.Empty() {
		return HashRange{}, false
	}
	return out, true
}

// Region is a rectangle in (hash-prefix x key) space: a CPU-sharded
// subspace crossed with a key range. Contracts are always defined over a
// single Region and never cross a CPU subspace.
type Region struct {
	Hash HashRange
	Keys KeyRange
}

// FullRegion spans the entire table (every CPU subspace, every key).
func FullRegion() Region { return Region{Hash: FullHashRange(), Keys: FullKeyRange()} }

// Clone returns a deep copy safe for independent mutation.
func (r Region) Clone() Region {
	return Region{Hash: r.Hash, Keys: r.Keys.Clone()}
}

// Equal reports structural equality.
func (r Region) Equal(o Region) bool {
	return r.Hash.Equal(o.Hash) && r.Keys.Equal(o.Keys)
}

// Intersect returns the overlap of r and o, and false if disjoint.
func (r Region) Intersect(o Region) (Region, bool) {
	h, ok := r.Hash.Intersect(o.Hash)
	if !ok {
		return Region{}, false
	}
	k, ok := r.Keys.Intersect(o.Keys)
	if !ok {
		return Region{}, false
	}
	return Region{Hash: h, Keys: k}, true
}

// Adjacent reports whether r and o share the same hash subspace and are
// contiguous along the key dimension.
func (r Region) Adjacent(o Region) bool {
	return r.Hash.Equal(o.Hash) && r.Keys.Adjacent(o.Keys)
}

// Union merges two adjacent regions sharing a hash subspace.
func (r Region) Union(o Region) Region {
	return Region{Hash: r.Hash, Keys: r.Keys.Union(o.Keys)}
}

// SubtractKeys returns the pieces of r (same hash subspace) not covered by
// o's key range.
func (r Region) SubtractKeys(o KeyRange) []Region {
	var out []Region
	for _, k := range r.Keys.Subtract(o) {
		out = append(out, Region{Hash: r.Hash, Keys: k})
	}
	return out
}

// CPUShardIndex returns which CPU subspace a region's hash range sits in;
// callers must have already restricted the region to a single subspace.
func CPUShardIndex(r Region) int {
	for i := 0; i < CPUShardingFactor; i++ {
		sub := CPUSubspace(i)
		if sub.Begin == r.Hash.Begin {
			return i
		}
	}
	return -1
}
