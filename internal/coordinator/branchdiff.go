package coordinator

import (
	"github.com/yaoml/rethinkdb/internal/branchhistory"
	"github.com/yaoml/rethinkdb/internal/contract"
	"github.com/yaoml/rethinkdb/internal/ids"
)

// NewBranch is a branch contributed this round by an accepted
// primary_need_branch ack: the branch that a newly chosen primary
// proposed, together with the fragment rooting it.
type NewBranch struct {
	ID       ids.BranchID
	Fragment *branchhistory.Store
}

// CalculateBranchHistory implements §4.3: merge in any newly accepted
// branches, then prune everything not reachable from a surviving
// contract's branch.
func CalculateBranchHistory(history *branchhistory.Store, survivors map[ids.ContractID]contract.ContractEntry, newBranches []NewBranch) (removed []ids.BranchID, merged *branchhistory.Store) {
	merged = history.Clone()
	for _, nb := range newBranches {
		if nb.Fragment != nil {
			merged.Merge(nb.Fragment)
		}
	}

	roots := make([]ids.BranchID, 0, len(survivors))
	for _, entry := range survivors {
		if !entry.Contract.Branch.IsZero() {
			roots = append(roots, entry.Contract.Branch)
		}
	}
	removed = merged.Prune(roots)
	return removed, merged
}
