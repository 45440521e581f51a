package coordinator

import (
	"github.com/yaoml/rethinkdb/internal/contract"
	"github.com/yaoml/rethinkdb/internal/ids"
	"github.com/yaoml/rethinkdb/internal/keyspace"
)

// WorkItem is a region, the contract currently covering it, and that
// contract's id, aligned to a single (config shard x CPU subspace)
// rectangle per §4.1.
type WorkItem struct {
	Region   keyspace.Region
	Shard    contract.ShardConfig
	Contract contract.Contract
	PriorID  ids.ContractID
}

// ProjectWorkItems aligns the existing contracts onto the current
// config's shard boundaries crossed with the CPU-sharding partition,
// splitting any contract whose region straddles a boundary. A contract
// whose region already sits entirely inside one (shard, subspace)
// rectangle is passed through unchanged.
func ProjectWorkItems(state contract.RaftState) []WorkItem {
	var out []WorkItem
	for cpu := 0; cpu < keyspace.CPUShardingFactor; cpu++ {
		subspace := keyspace.CPUSubspace(cpu)
		for _, shard := range state.Config.Shards {
			rect := keyspace.Region{Hash: subspace, Keys: shard.Keys}
			for id, entry := range state.Contracts {
				piece, ok := entry.Region.Intersect(rect)
				if !ok {
					continue
				}
				out = append(out, WorkItem{
					Region:   piece,
					Shard:    shard,
					Contract: entry.Contract,
					PriorID:  id,
				})
			}
		}
	}
	return out
}
