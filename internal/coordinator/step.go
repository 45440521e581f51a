// Package coordinator implements the contract coordinator: the pure
// per-region state machine (and its region-projection and branch-history
// bookkeeping) that drives a sharded, replicated table through replica
// changes, primary hand-offs, splits, merges, and failover.
package coordinator

import (
	"sort"

	"github.com/yaoml/rethinkdb/internal/branchhistory"
	"github.com/yaoml/rethinkdb/internal/contract"
	"github.com/yaoml/rethinkdb/internal/ids"
	"github.com/yaoml/rethinkdb/internal/keyspace"
)

// electionCandidate is one voter offering itself as a failover candidate,
// paired with the version map it reported.
type electionCandidate struct {
	server  ids.ServerID
	entries contract.VersionMap
}

// StepResult is one (region, contract) pair emitted by the per-contract
// transition. Most invocations emit exactly one; a failover that cannot
// agree on a single latest replica across the whole region emits one per
// piece of the split (the FailoverSplit case, §4.2 Step B.3).
type StepResult struct {
	Region   keyspace.Region
	Contract contract.Contract
}

// stepInput bundles everything one per-contract transition needs.
type stepInput struct {
	Region   keyspace.Region
	Prior    contract.Contract
	Shard    contract.ShardConfig
	Acks     map[ids.ServerID]contract.Ack
	History  *branchhistory.Store
}

// Step computes the next contract(s) for one region, given the contract
// currently covering it and the acks relevant to it. It implements §4.2
// in the order Step C, Step A, Step B, Step D; Step E (the contract id)
// is applied by the caller, CalculateAllContracts. Step C must run
// before Step A so that a voter committing out of the set in this same
// round is also dropped from replicas in this same round (see the
// RemoveReplica scenario, §8.2); Step C's gate for *starting* a voter
// transition looks at the prior contract's replicas, so a server must
// already have been added as a replica in an earlier round before it can
// be targeted as a new voter (see AddReplica, §8.1).
func Step(in stepInput) []StepResult {
	voters, tempVoters := stepC(in)
	replicas := stepA(in, voters, tempVoters)

	primaryResults := stepB(in, replicas)

	out := make([]StepResult, 0, len(primaryResults))
	for _, pr := range primaryResults {
		c := contract.Contract{
			Replicas:   replicas,
			Voters:     voters,
			TempVoters: tempVoters,
			Primary:    pr.Primary,
			Branch:     stepD(in, pr),
		}
		out = append(out, StepResult{Region: pr.Region, Contract: c})
	}
	return out
}

// stepC computes the next voters/temp_voters per §4.2 Step C.
func stepC(in stepInput) (voters, tempVoters []ids.ServerID) {
	target := in.Shard.Voters
	old := in.Prior

	if sameServerSet(old.Voters, target) {
		return old.Voters, nil
	}

	if old.TempVoters != nil && sameServerSet(old.TempVoters, target) {
		additions := contract.SubtractServers(target, old.Voters)
		ready := true
		for _, s := range additions {
			ack := in.Acks[s]
			if ack.State != contract.AckSecondaryStreaming &&
				ack.State != contract.AckPrimaryReady &&
				ack.State != contract.AckPrimaryNeedBranch {
				ready = false
				break
			}
		}
		if ready {
			return target, nil
		}
		return old.Voters, old.TempVoters
	}

	// Fresh target: only start the joint-consensus transition once every
	// joining member is already a replica (added by an earlier round's
	// Step A), so a server never becomes a voter before it is even
	// receiving data.
	if isSubsetOf(target, in.Prior.Replicas) {
		return old.Voters, target
	}
	return old.Voters, nil
}

// stepA computes the next replicas per §4.2 Step A, using this round's
// already-computed voters/temp_voters rather than the prior contract's,
// so that a server dropped from voters this round is also dropped from
// replicas this round.
func stepA(in stepInput, voters, tempVoters []ids.ServerID) []ids.ServerID {
	sets := [][]ids.ServerID{in.Shard.Replicas, voters}
	if tempVoters != nil {
		sets = append(sets, tempVoters)
	}
	if in.Prior.Primary != nil {
		sets = append(sets, []ids.ServerID{in.Prior.Primary.Server})
	}
	return contract.UnionServers(sets...)
}

// primaryResult is one (region, primary) pairing emitted by Step B; more
// than one entry means the region had to split.
type primaryResult struct {
	Region  keyspace.Region
	Primary *contract.Primary
}

// stepB computes the next primary per §4.2 Step B.
func stepB(in stepInput, replicas []ids.ServerID) []primaryResult {
	old := in.Prior
	cfgPrimary := in.Shard.Primary

	// Case 1: keep a stable, ready primary.
	if old.Primary != nil && !old.Primary.HasHandOver() && old.Primary.Server == cfgPrimary {
		ack := in.Acks[old.Primary.Server]
		if ack.State == contract.AckPrimaryReady || ack.State == contract.AckPrimaryNeedBranch {
			p := *old.Primary
			return []primaryResult{{Region: in.Region, Primary: &p}}
		}
	}

	// Case 2: hand-over, in progress or newly started.
	if old.Primary != nil && cfgPrimary != "" && old.Primary.Server != cfgPrimary {
		q := cfgPrimary
		if old.Primary.HasHandOver() && old.Primary.HandOver == q {
			pAck := in.Acks[old.Primary.Server]
			qAck := in.Acks[q]
			if pAck.State == contract.AckPrimaryReady && qAck.State == contract.AckSecondaryStreaming {
				return []primaryResult{{Region: in.Region, Primary: nil}}
			}
			p := *old.Primary
			return []primaryResult{{Region: in.Region, Primary: &p}}
		}
		if contract.ContainsServer(replicas, q) && ackFavorable(in.Acks[q]) {
			return []primaryResult{{Region: in.Region, Primary: &contract.Primary{Server: old.Primary.Server, HandOver: q}}}
		}
	}

	// Case 3/4: the contract already has no primary. Attempt an
	// election; otherwise stay primary-less.
	if old.Primary == nil {
		if results, ok := electPrimary(in, cfgPrimary); ok {
			return results
		}
		return []primaryResult{{Region: in.Region, Primary: nil}}
	}

	// The contract still names a primary but neither case 1 nor case 2
	// applied (it has stopped acking and the config hasn't moved to a
	// different server). Clearing it to "no primary" is itself gated on
	// a majority of voters agreeing it is gone; electing its successor
	// happens in a later round once the contract has actually reached
	// the no-primary state (see the Failover scenario, §8.5).
	if majorityOfVotersElapsed(in) {
		return []primaryResult{{Region: in.Region, Primary: nil}}
	}
	p := *old.Primary
	return []primaryResult{{Region: in.Region, Primary: &p}}
}

// majorityOfVotersElapsed reports whether more than half of the current
// voters have sent secondary_need_primary with failover_timeout_elapsed.
func majorityOfVotersElapsed(in stepInput) bool {
	elapsed := 0
	for _, s := range in.Prior.Voters {
		ack, ok := in.Acks[s]
		if ok && ack.State == contract.AckSecondaryNeedPrimary && ack.FailoverTimeoutElapsed {
			elapsed++
		}
	}
	return elapsed*2 > len(in.Prior.Voters)
}

func ackFavorable(a contract.Ack) bool {
	switch a.State {
	case contract.AckSecondaryStreaming, contract.AckSecondaryBackfilling, contract.AckSecondaryNeedPrimary:
		return true
	default:
		return false
	}
}

// electPrimary implements §4.2 Step B.3: choosing (or splitting to
// choose) a primary once a quorum condition is satisfied.
func electPrimary(in stepInput, cfgPrimary ids.ServerID) ([]primaryResult, bool) {
	var candidates []electionCandidate
	for _, s := range in.Prior.Voters {
		ack, ok := in.Acks[s]
		if !ok || ack.State != contract.AckSecondaryNeedPrimary {
			continue
		}
		candidates = append(candidates, electionCandidate{server: s, entries: ack.Versions})
	}
	if len(candidates) == 0 {
		return nil, false
	}

	majorityElapsed := majorityOfVotersElapsed(in)

	preferredPresent := false
	for _, c := range candidates {
		if cfgPrimary != "" && c.server == cfgPrimary {
			preferredPresent = true
			break
		}
	}

	if !majorityElapsed && !preferredPresent {
		return nil, false
	}

	if preferredPresent {
		return []primaryResult{{Region: in.Region, Primary: &contract.Primary{Server: cfgPrimary}}}, true
	}

	// No graceful shortcut available: pick whichever candidate has the
	// latest version map over each sub-range of the region, splitting
	// the region where the winner changes.
	segments := splitByWinner(in.Region, candidates, in.History)
	out := make([]primaryResult, 0, len(segments))
	for _, seg := range segments {
		out = append(out, primaryResult{Region: seg.region, Primary: &contract.Primary{Server: seg.winner}})
	}
	return out, true
}

type winnerSegment struct {
	region keyspace.Region
	winner ids.ServerID
}

// splitByWinner partitions region's key range into the minimal set of
// pieces over which a single candidate is uniformly "latest", per §4.2
// Step B.3's tie-break rule (component-wise max of (branch, timestamp),
// ties broken by lexicographically smallest server id).
func splitByWinner(region keyspace.Region, candidates []electionCandidate, history *branchhistory.Store) []winnerSegment {
	boundaries := map[string][]byte{}
	addBoundary := func(k []byte) {
		boundaries[string(k)] = k
	}
	if len(region.Keys.Left) > 0 {
		addBoundary(region.Keys.Left)
	}
	if len(region.Keys.Right) > 0 {
		addBoundary(region.Keys.Right)
	}
	for _, c := range candidates {
		for _, e := range c.entries {
			if ov, ok := e.Region.Keys.Intersect(region.Keys); ok {
				if len(ov.Left) > 0 {
					addBoundary(ov.Left)
				}
				if len(ov.Right) > 0 {
					addBoundary(ov.Right)
				}
			}
		}
	}
	keys := make([][]byte, 0, len(boundaries))
	for _, k := range boundaries {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return lessBytes(keys[i], keys[j]) })

	type bound struct {
		left, right []byte
	}
	var segs []bound
	left := region.Keys.Left
	for _, k := range keys {
		segs = append(segs, bound{left: left, right: k})
		left = k
	}
	segs = append(segs, bound{left: left, right: region.Keys.Right})

	var out []winnerSegment
	for _, seg := range segs {
		segRegion := keyspace.Region{Hash: region.Hash, Keys: keyspace.KeyRange{Left: seg.left, Right: seg.right}}
		if segRegion.Keys.Empty() {
			continue
		}
		winner := winnerFor(segRegion, candidates, history)
		if winner == "" {
			continue
		}
		if len(out) > 0 && out[len(out)-1].winner == winner && out[len(out)-1].region.Adjacent(segRegion) {
			out[len(out)-1].region = out[len(out)-1].region.Union(segRegion)
			continue
		}
		out = append(out, winnerSegment{region: segRegion, winner: winner})
	}
	return out
}

func winnerFor(region keyspace.Region, candidates []electionCandidate, history *branchhistory.Store) ids.ServerID {
	var best ids.ServerID
	var bestEntry contract.VersionEntry
	haveBest := false
	for _, c := range candidates {
		entry, ok := c.entries.Latest(region)
		if !ok {
			continue
		}
		if !haveBest {
			best, bestEntry, haveBest = c.server, entry, true
			continue
		}
		switch compareVersions(entry, bestEntry, history, region) {
		case 1:
			best, bestEntry = c.server, entry
		case 0:
			if c.server < best {
				best, bestEntry = c.server, entry
			}
		}
	}
	return best
}

// compareVersions returns 1 if a is strictly later than b, -1 if earlier,
// 0 if tied or incomparable (caller breaks ties by server id).
func compareVersions(a, b contract.VersionEntry, history *branchhistory.Store, region keyspace.Region) int {
	if a.Branch == b.Branch {
		switch {
		case a.Timestamp > b.Timestamp:
			return 1
		case a.Timestamp < b.Timestamp:
			return -1
		default:
			return 0
		}
	}
	if history.IsAncestor(b.Branch, a.Branch, region) {
		return 1
	}
	if history.IsAncestor(a.Branch, b.Branch, region) {
		return -1
	}
	return 0
}

func lessBytes(a, b []byte) bool {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return len(a) < len(b)
}

// stepD computes the next branch per §4.2 Step D.
func stepD(in stepInput, pr primaryResult) ids.BranchID {
	if pr.Primary == nil {
		return in.Prior.Branch
	}
	ack, ok := in.Acks[pr.Primary.Server]
	if !ok || ack.State != contract.AckPrimaryNeedBranch {
		return in.Prior.Branch
	}
	if !branchParentConsistent(ack, in.Prior.Branch, pr.Region) {
		return in.Prior.Branch
	}
	return ack.ProposedBranch
}

// branchParentConsistent checks that the ack's branch-history fragment
// roots the proposed branch at the contract's current branch (or at the
// zero branch, for a table's very first primary).
func branchParentConsistent(ack contract.Ack, priorBranch ids.BranchID, region keyspace.Region) bool {
	if ack.ProposedBranchHistory == nil {
		return false
	}
	node, ok := ack.ProposedBranchHistory.Get(ack.ProposedBranch)
	if !ok {
		return false
	}
	for _, origin := range node.Origins {
		if _, overlap := origin.Region.Intersect(region); overlap {
			return origin.Parent == priorBranch
		}
	}
	return priorBranch.IsZero()
}

func sameServerSet(a, b []ids.ServerID) bool {
	if len(a) != len(b) {
		return false
	}
	as := append([]ids.ServerID(nil), a...)
	bs := append([]ids.ServerID(nil), b...)
	sort.Slice(as, func(i, j int) bool { return as[i] < as[j] })
	sort.Slice(bs, func(i, j int) bool { return bs[i] < bs[j] })
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}

func isSubsetOf(sub, super []ids.ServerID) bool {
	for _, s := range sub {
		if !contract.ContainsServer(super, s) {
			return false
		}
	}
	return true
}
