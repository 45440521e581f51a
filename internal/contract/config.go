package contract

import (
	"github.com/yaoml/rethinkdb/internal/branchhistory"
	"github.com/yaoml/rethinkdb/internal/ids"
	"github.com/yaoml/rethinkdb/internal/keyspace"
)

// ShardConfig is what the table config demands for one key-range shard:
// the replica set, the voter subset, and the preferred primary.
type ShardConfig struct {
	Keys       keyspace.KeyRange
	Replicas   []ids.ServerID
	Voters     []ids.ServerID
	Primary    ids.ServerID // zero value means the shard wants no primary
}

// TableConfig is the full replication configuration for a table: an
// ordered, non-overlapping list of shards covering the whole key-space.
type TableConfig struct {
	Shards []ShardConfig
}

// ShardFor returns the config shard whose key range contains region's
// key range. Callers are expected to have already intersected region
// down to a single config shard (§4.1); this returns the first shard
// whose range contains region's left edge.
func (c TableConfig) ShardFor(region keyspace.Region) (ShardConfig, bool) {
	for _, s := range c.Shards {
		if _, ok := s.Keys.Intersect(region.Keys); ok {
			return s, true
		}
	}
	return ShardConfig{}, false
}

// ContractEntry pairs a contract with the region it governs, as stored
// in the table-raft-state's contracts map.
type ContractEntry struct {
	Region   keyspace.Region
	Contract Contract
}

// RaftState is the table-level state the coordinator consumes:
// {config, contracts, branch_history}, per §6.
type RaftState struct {
	Config        TableConfig
	Contracts     map[ids.ContractID]ContractEntry
	BranchHistory *branchhistory.Store
}

// Clone returns a deep copy of the raft state, since the coordinator
// never mutates its input in place.
func (s RaftState) Clone() RaftState {
	out := RaftState{
		Contracts:     make(map[ids.ContractID]ContractEntry, len(s.Contracts)),
		BranchHistory: s.BranchHistory.Clone(),
	}
	if s.Config.Shards != nil {
		out.Config.Shards = make([]ShardConfig, len(s.Config.Shards))
		for i, sh := range s.Config.Shards {
			out.Config.Shards[i] = ShardConfig{
				Keys:     sh.Keys.Clone(),
				Replicas: append([]ids.ServerID(nil), sh.Replicas...),
				Voters:   append([]ids.ServerID(nil), sh.Voters...),
				Primary:  sh.Primary,
			}
		}
	}
	for id, entry := range s.Contracts {
		out.Contracts[id] = ContractEntry{Region: entry.Region.Clone(), Contract: entry.Contract.Clone()}
	}
	return out
}
