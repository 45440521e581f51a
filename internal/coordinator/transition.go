package coordinator

import (
	"github.com/yaoml/rethinkdb/internal/branchhistory"
	"github.com/yaoml/rethinkdb/internal/contract"
	"github.com/yaoml/rethinkdb/internal/ids"
	"github.com/yaoml/rethinkdb/internal/keyspace"
)

// CalculateAllContracts implements §4.4 steps 1-2 and the external
// interface calculate_all_contracts (§6): project the old contracts onto
// the current config, run the per-contract transition on each resulting
// work item, and diff the result against the old contract set.
//
// Contract ids are minted as a content hash of (region, contract), per
// §9's design note: two runs that land on a bitwise-identical contract
// for the same region always agree on its id without any explicit
// reuse bookkeeping, satisfying §3 invariant 5 for free.
func CalculateAllContracts(old contract.RaftState, acks contract.AcksView) (remove map[ids.ContractID]bool, add map[ids.ContractID]contract.ContractEntry, newBranches []NewBranch) {
	items := ProjectWorkItems(old)

	// next holds every contract the projection+step pass computes, so
	// that an unchanged region (whose content-hash id is unchanged too)
	// can be told apart from one that genuinely needs to be published.
	next := make(map[ids.ContractID]contract.ContractEntry, len(items))
	for _, item := range items {
		contractAcks := acks.ForContract(item.PriorID)
		results := Step(stepInput{
			Region:  item.Region,
			Prior:   item.Contract,
			Shard:   item.Shard,
			Acks:    contractAcks,
			History: old.BranchHistory,
		})
		for _, r := range results {
			id := ContractID(r.Region, r.Contract)
			next[id] = contract.ContractEntry{Region: r.Region, Contract: r.Contract}

			if nb, ok := acceptedBranch(item.Contract, r, contractAcks); ok {
				newBranches = append(newBranches, nb)
			}
		}
	}

	add = make(map[ids.ContractID]contract.ContractEntry)
	for id, entry := range next {
		if _, existed := old.Contracts[id]; !existed {
			add[id] = entry
		}
	}
	remove = make(map[ids.ContractID]bool)
	for id := range old.Contracts {
		if _, stillPresent := next[id]; !stillPresent {
			remove[id] = true
		}
	}
	return remove, add, newBranches
}

// acceptedBranch detects when a StepResult adopted a branch proposed by
// an accepted primary_need_branch ack, so the caller can record that
// branch (and the fragment rooting it) into the branch-history store.
func acceptedBranch(prior contract.Contract, r StepResult, acksByServer map[ids.ServerID]contract.Ack) (NewBranch, bool) {
	if r.Contract.Primary == nil || r.Contract.Branch == prior.Branch {
		return NewBranch{}, false
	}
	ack, ok := acksByServer[r.Contract.Primary.Server]
	if !ok || ack.State != contract.AckPrimaryNeedBranch || ack.ProposedBranch != r.Contract.Branch {
		return NewBranch{}, false
	}
	return NewBranch{ID: r.Contract.Branch, Fragment: ack.ProposedBranchHistory}, true
}

// ContractID mints the content-hash id for a (region, contract) pair.
func ContractID(region keyspace.Region, c contract.Contract) ids.ContractID {
	h := ids.NewHasher()
	h.WriteUint64(region.Hash.Begin)
	h.WriteBool(region.Hash.EndAtMax)
	if !region.Hash.EndAtMax {
		h.WriteUint64(region.Hash.End)
	}
	h.Write(region.Keys.Left)
	h.Write(region.Keys.Right)
	c.Hash(h)
	return h.SumContractID()
}

// Transition runs the full top-level transition (§4.4): project, step,
// and compute the branch-history diff, returning everything the caller
// needs to assemble the next table_raft_state.
func Transition(old contract.RaftState, acks contract.AcksView) (
	removeContracts map[ids.ContractID]bool,
	addContracts map[ids.ContractID]contract.ContractEntry,
	removeBranches []ids.BranchID,
	branchHistory *branchhistory.Store,
) {
	removeContracts, addContracts, newBranches := CalculateAllContracts(old, acks)

	survivors := make(map[ids.ContractID]contract.ContractEntry, len(old.Contracts)+len(addContracts))
	for id, entry := range old.Contracts {
		if !removeContracts[id] {
			survivors[id] = entry
		}
	}
	for id, entry := range addContracts {
		survivors[id] = entry
	}

	removeBranches, branchHistory = CalculateBranchHistory(old.BranchHistory, survivors, newBranches)
	return removeContracts, addContracts, removeBranches, branchHistory
}
