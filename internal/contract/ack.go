package contract

import (
	"github.com/yaoml/rethinkdb/internal/branchhistory"
	"github.com/yaoml/rethinkdb/internal/ids"
	"github.com/yaoml/rethinkdb/internal/keyspace"
)

// AckState is the small set of states a server can report with respect
// to one contract. Only the states legal for the server's current role
// are ever produced; the coordinator trusts that the ack ingress layer
// enforces this and never re-validates it (spec §7).
type AckState int

const (
	// AckNothing means the server is not participating in this contract.
	AckNothing AckState = iota
	// AckSecondaryNeedPrimary means the server is a replica with no
	// primary and is reporting how caught-up it is.
	AckSecondaryNeedPrimary
	// AckSecondaryBackfilling means the server is streaming a backfill
	// from the primary and is not yet caught up.
	AckSecondaryBackfilling
	// AckSecondaryStreaming means the server is a caught-up secondary.
	AckSecondaryStreaming
	// AckPrimaryNeedBranch means the server believes it is primary but
	// has not yet published a branch.
	AckPrimaryNeedBranch
	// AckPrimaryReady means the server is primary, live, and caught up.
	AckPrimaryReady
)

func (s AckState) String() string {
	switch s {
	case AckNothing:
		return "nothing"
	case AckSecondaryNeedPrimary:
		return "secondary_need_primary"
	case AckSecondaryBackfilling:
		return "secondary_backfilling"
	case AckSecondaryStreaming:
		return "secondary_streaming"
	case AckPrimaryNeedBranch:
		return "primary_need_branch"
	case AckPrimaryReady:
		return "primary_ready"
	default:
		return "unknown"
	}
}

// VersionEntry is one piecewise entry of a version map: how far along a
// branch, over a region, a secondary claims to be.
type VersionEntry struct {
	Region    keyspace.Region
	Branch    ids.BranchID
	Timestamp uint64
}

// VersionMap is a piecewise map from region to (branch, timestamp),
// reported by a secondary to identify how up-to-date it is.
type VersionMap []VersionEntry

// Latest returns the first entry whose region overlaps region, if any.
func (vm VersionMap) Latest(region keyspace.Region) (VersionEntry, bool) {
	for _, e := range vm {
		if _, ok := e.Region.Intersect(region); ok {
			return e, true
		}
	}
	return VersionEntry{}, false
}

// Ack is one (server, contract_id) entry in the acks map.
type Ack struct {
	State AckState

	// Populated only when State == AckSecondaryNeedPrimary.
	Versions             VersionMap
	BranchHistoryFragment *branchhistory.Store
	FailoverTimeoutElapsed bool

	// Populated only when State == AckPrimaryNeedBranch.
	ProposedBranch        ids.BranchID
	ProposedBranchHistory *branchhistory.Store
}

// AckKey identifies one entry in the acks map.
type AckKey struct {
	Server     ids.ServerID
	ContractID ids.ContractID
}

// AcksView is a read-only snapshot of the acks map, satisfying §5's
// requirement that the coordinator take an immutable view even if the
// underlying map supports concurrent writers.
type AcksView interface {
	// ForContract returns every ack keyed to contractID, indexed by
	// server.
	ForContract(contractID ids.ContractID) map[ids.ServerID]Ack
}

// MapAcksView is the simplest AcksView: a plain map snapshot, matching
// the teacher's in-memory store style rather than any external cache.
type MapAcksView map[AckKey]Ack

// ForContract implements AcksView.
func (m MapAcksView) ForContract(contractID ids.ContractID) map[ids.ServerID]Ack {
	out := make(map[ids.ServerID]Ack)
	for k, v := range m {
		if k.ContractID == contractID {
			out[k.Server] = v
		}
	}
	return out
}
