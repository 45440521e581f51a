package branchhistory

import (
	"testing"

	"github.com/yaoml/rethinkdb/internal/ids"
	"github.com/yaoml/rethinkdb/internal/keyspace"
)

func branchID(n byte) ids.BranchID {
	var b ids.BranchID
	b[15] = n
	return b
}

func TestInsertRootBranch(t *testing.T) {
	s := NewStore()
	root := branchID(1)
	s.Insert(root, Node{Origins: []Origin{{Region: keyspace.FullRegion(), Timestamp: 100}}})
	if _, ok := s.Get(root); !ok {
		t.Fatalf("expected root branch to be stored")
	}
}

func TestInsertPanicsOnNonIncreasingTimestamp(t *testing.T) {
	s := NewStore()
	root := branchID(1)
	child := branchID(2)
	s.Insert(root, Node{Origins: []Origin{{Region: keyspace.FullRegion(), Timestamp: 100}}})

	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic on non-increasing timestamp")
		}
	}()
	s.Insert(child, Node{Origins: []Origin{{Region: keyspace.FullRegion(), Parent: root, Timestamp: 50}}})
}

func TestInsertPanicsOnSelfParent(t *testing.T) {
	s := NewStore()
	id := branchID(1)
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic on self-parent")
		}
	}()
	s.Insert(id, Node{Origins: []Origin{{Region: keyspace.FullRegion(), Parent: id, Timestamp: 100}}})
}

func TestReachableFollowsParentChain(t *testing.T) {
	s := NewStore()
	root := branchID(1)
	mid := branchID(2)
	leaf := branchID(3)
	s.Insert(root, Node{Origins: []Origin{{Region: keyspace.FullRegion(), Timestamp: 100}}})
	s.Insert(mid, Node{Origins: []Origin{{Region: keyspace.FullRegion(), Parent: root, Timestamp: 200}}})
	s.Insert(leaf, Node{Origins: []Origin{{Region: keyspace.FullRegion(), Parent: mid, Timestamp: 300}}})

	reach := s.Reachable([]ids.BranchID{leaf})
	for _, want := range []ids.BranchID{root, mid, leaf} {
		if !reach[want] {
			t.Fatalf("expected %s to be reachable", want)
		}
	}
}

func TestPruneDropsUnreachableBranches(t *testing.T) {
	s := NewStore()
	root := branchID(1)
	orphan := branchID(2)
	live := branchID(3)
	s.Insert(root, Node{Origins: []Origin{{Region: keyspace.FullRegion(), Timestamp: 100}}})
	s.Insert(orphan, Node{Origins: []Origin{{Region: keyspace.FullRegion(), Parent: root, Timestamp: 200}}})
	s.Insert(live, Node{Origins: []Origin{{Region: keyspace.FullRegion(), Parent: root, Timestamp: 200}}})

	removed := s.Prune([]ids.BranchID{live})
	if len(removed) != 1 || removed[0] != orphan {
		t.Fatalf("expected orphan to be pruned, got %v", removed)
	}
	if _, ok := s.Get(root); !ok {
		t.Fatalf("expected root to survive prune, since live's ancestry still references it")
	}
	if _, ok := s.Get(live); !ok {
		t.Fatalf("expected live branch to survive prune")
	}
}

func TestIsAncestorAcrossRegion(t *testing.T) {
	s := NewStore()
	root := branchID(1)
	child := branchID(2)
	s.Insert(root, Node{Origins: []Origin{{Region: keyspace.FullRegion(), Timestamp: 100}}})
	s.Insert(child, Node{Origins: []Origin{{Region: keyspace.FullRegion(), Parent: root, Timestamp: 200}}})

	if !s.IsAncestor(root, child, keyspace.FullRegion()) {
		t.Fatalf("expected root to be an ancestor of child")
	}
	if s.IsAncestor(child, root, keyspace.FullRegion()) {
		t.Fatalf("child should not be an ancestor of root")
	}
}

func TestMergeFragmentIsIdempotent(t *testing.T) {
	base := NewStore()
	root := branchID(1)
	base.Insert(root, Node{Origins: []Origin{{Region: keyspace.FullRegion(), Timestamp: 100}}})

	fragment := NewStore()
	child := branchID(2)
	fragment.Insert(root, Node{Origins: []Origin{{Region: keyspace.FullRegion(), Timestamp: 100}}})
	fragment.Insert(child, Node{Origins: []Origin{{Region: keyspace.FullRegion(), Parent: root, Timestamp: 200}}})

	base.Merge(fragment)
	base.Merge(fragment)

	if len(base.Nodes) != 2 {
		t.Fatalf("expected 2 branches after merge, got %d", len(base.Nodes))
	}
}
