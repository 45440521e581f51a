package keyspace

import "testing"

func TestKeyRangeContains(t *testing.T) {
	r := KeyRange{Left: []byte("M"), Right: []byte("N")}
	if r.Contains([]byte("A")) {
		t.Fatalf("A should not be in [M,N)")
	}
	if !r.Contains([]byte("M")) {
		t.Fatalf("M should be in [M,N)")
	}
	if r.Contains([]byte("N")) {
		t.Fatalf("N should not be in [M,N)")
	}
}

func TestKeyRangeSubtractSplitsAtBoundary(t *testing.T) {
	full := FullKeyRange()
	left := KeyRange{Right: []byte("M")}
	pieces := full.Subtract(left)
	if len(pieces) != 1 {
		t.Fatalf("expected 1 remaining piece, got %d", len(pieces))
	}
	if !pieces[0].Equal(KeyRange{Left: []byte("M")}) {
		t.Fatalf("expected remaining piece to start at M, got %+v", pieces[0])
	}
}

func TestKeyRangeSubtractMiddlePieceSplitsBoth(t *testing.T) {
	full := FullKeyRange()
	middle := KeyRange{Left: []byte("M"), Right: []byte("N")}
	pieces := full.Subtract(middle)
	if len(pieces) != 2 {
		t.Fatalf("expected 2 pieces, got %d: %+v", len(pieces), pieces)
	}
	if !pieces[0].Equal(KeyRange{Right: []byte("M")}) {
		t.Fatalf("unexpected left piece %+v", pieces[0])
	}
	if !pieces[1].Equal(KeyRange{Left: []byte("N")}) {
		t.Fatalf("unexpected right piece %+v", pieces[1])
	}
}

func TestKeyRangeAdjacentAndUnion(t *testing.T) {
	a := KeyRange{Right: []byte("M")}
	b := KeyRange{Left: []byte("M"), Right: []byte("N")}
	if !a.Adjacent(b) {
		t.Fatalf("expected a, b adjacent")
	}
	u := a.Union(b)
	if !u.Equal(KeyRange{Right: []byte("N")}) {
		t.Fatalf("unexpected union %+v", u)
	}
}

func TestCPUSubspacesPartitionTheHashDomain(t *testing.T) {
	var prevEnd uint64
	for i := 0; i < CPUShardingFactor; i++ {
		sub := CPUSubspace(i)
		if sub.Begin != prevEnd {
			t.Fatalf("subspace %d begins at %d, expected %d", i, sub.Begin, prevEnd)
		}
		if i < CPUShardingFactor-1 {
			if sub.EndAtMax {
				t.Fatalf("subspace %d should not be unbounded", i)
			}
			prevEnd = sub.End
		} else if !sub.EndAtMax {
			t.Fatalf("last subspace should run to the top of the hash domain")
		}
	}
}

func TestHashRangeIntersect(t *testing.T) {
	a := CPUSubspace(0)
	b := CPUSubspace(1)
	if _, ok := a.Intersect(b); ok {
		t.Fatalf("adjacent subspaces should not overlap")
	}
	full := FullHashRange()
	got, ok := a.Intersect(full)
	if !ok || !got.Equal(a) {
		t.Fatalf("intersection with full range should equal a, got %+v ok=%v", got, ok)
	}
}

func TestRegionCPUShardIndex(t *testing.T) {
	r := Region{Hash: CPUSubspace(3), Keys: FullKeyRange()}
	if idx := CPUShardIndex(r); idx != 3 {
		t.Fatalf("expected shard index 3, got %d", idx)
	}
}
