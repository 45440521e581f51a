package coordinator

import (
	"testing"

	"github.com/yaoml/rethinkdb/internal/branchhistory"
	"github.com/yaoml/rethinkdb/internal/contract"
	"github.com/yaoml/rethinkdb/internal/ids"
	"github.com/yaoml/rethinkdb/internal/keyspace"
)

const (
	alice ids.ServerID = "alice"
	billy ids.ServerID = "billy"
	carol ids.ServerID = "carol"
)

// testRegion is a region aligned to a single CPU subspace, as every real
// contract must be (§1: contracts never cross a subspace boundary). Using
// the full hash domain here would make ProjectWorkItems fan a single
// bootstrapped contract out across all CPUShardingFactor subspaces, which
// would defeat these tests' "exactly one contract" assertions.
var testRegion = keyspace.Region{Hash: keyspace.CPUSubspace(0), Keys: keyspace.FullKeyRange()}

func branchID(n byte) ids.BranchID {
	var b ids.BranchID
	b[15] = n
	return b
}

func simpleContract(replicas []ids.ServerID, primary ids.ServerID, branch ids.BranchID) contract.Contract {
	return contract.Contract{
		Replicas: replicas,
		Voters:   replicas,
		Primary:  &contract.Primary{Server: primary},
		Branch:   branch,
	}
}

func singleShardConfig(replicas []ids.ServerID, primary ids.ServerID) contract.TableConfig {
	return contract.TableConfig{Shards: []contract.ShardConfig{{
		Keys:     keyspace.FullKeyRange(),
		Replicas: replicas,
		Voters:   replicas,
		Primary:  primary,
	}}}
}

func bootstrapState(cfg contract.TableConfig, region keyspace.Region, c contract.Contract) contract.RaftState {
	bh := branchhistory.NewStore()
	if !c.Branch.IsZero() {
		bh.Insert(c.Branch, branchhistory.Node{Origins: []branchhistory.Origin{{Region: region, Timestamp: 1}}})
	}
	id := ContractID(region, c)
	return contract.RaftState{
		Config:        cfg,
		Contracts:     map[ids.ContractID]contract.ContractEntry{id: {Region: region, Contract: c}},
		BranchHistory: bh,
	}
}

// applyRound runs one coordinator invocation and returns the resulting
// raft state. It does not check how many contracts survive; callers use
// soleContract or soleID where exactly one is expected.
func applyRound(t *testing.T, state contract.RaftState, acks contract.AcksView) contract.RaftState {
	t.Helper()
	remove, add, removeBranches, newHistory := Transition(state, acks)

	next := contract.RaftState{Config: state.Config, Contracts: make(map[ids.ContractID]contract.ContractEntry), BranchHistory: newHistory}
	for id, entry := range state.Contracts {
		if !remove[id] {
			next.Contracts[id] = entry
		}
	}
	for id, entry := range add {
		next.Contracts[id] = entry
	}
	_ = removeBranches
	return next
}

func soleContract(t *testing.T, state contract.RaftState) contract.ContractEntry {
	t.Helper()
	if len(state.Contracts) != 1 {
		t.Fatalf("expected exactly one contract, got %d: %+v", len(state.Contracts), state.Contracts)
	}
	for _, entry := range state.Contracts {
		return entry
	}
	panic("unreachable")
}

func TestAddReplica(t *testing.T) {
	br1 := branchID(1)
	cfg := singleShardConfig([]ids.ServerID{alice}, alice)
	state := bootstrapState(cfg, testRegion, simpleContract([]ids.ServerID{alice}, alice, br1))

	// Change the config to add billy.
	state.Config = singleShardConfig([]ids.ServerID{alice, billy}, alice)

	priorID := soleID(t, state)
	acks := contract.MapAcksView{
		{Server: alice, ContractID: priorID}: {State: contract.AckPrimaryReady},
		{Server: billy, ContractID: priorID}: {State: contract.AckSecondaryStreaming},
	}

	state = applyRound(t, state, acks)
	c2 := soleContract(t, state)
	if !sameServerSet(c2.Contract.Replicas, []ids.ServerID{alice, billy}) {
		t.Fatalf("round1: expected replicas={alice,billy}, got %v", c2.Contract.Replicas)
	}
	if !sameServerSet(c2.Contract.Voters, []ids.ServerID{alice}) || c2.Contract.TempVoters != nil {
		t.Fatalf("round1: expected voters={alice}, no temp_voters, got voters=%v temp=%v", c2.Contract.Voters, c2.Contract.TempVoters)
	}

	priorID = soleID(t, state)
	acks = contract.MapAcksView{
		{Server: alice, ContractID: priorID}: {State: contract.AckPrimaryReady},
		{Server: billy, ContractID: priorID}: {State: contract.AckSecondaryStreaming},
	}
	state = applyRound(t, state, acks)
	c3 := soleContract(t, state)
	if !sameServerSet(c3.Contract.Voters, []ids.ServerID{alice}) || !sameServerSet(c3.Contract.TempVoters, []ids.ServerID{alice, billy}) {
		t.Fatalf("round2: expected voters={alice}, temp_voters={alice,billy}, got voters=%v temp=%v", c3.Contract.Voters, c3.Contract.TempVoters)
	}

	priorID = soleID(t, state)
	acks = contract.MapAcksView{
		{Server: alice, ContractID: priorID}: {State: contract.AckPrimaryReady},
		{Server: billy, ContractID: priorID}: {State: contract.AckSecondaryStreaming},
	}
	state = applyRound(t, state, acks)
	c4 := soleContract(t, state)
	want := simpleContract([]ids.ServerID{alice, billy}, alice, br1)
	if !c4.Contract.Equal(want) {
		t.Fatalf("round3: expected final simple contract %+v, got %+v", want, c4.Contract)
	}

	// A fourth run with unchanged acks must be a no-op (idempotence).
	priorID = soleID(t, state)
	acks = contract.MapAcksView{
		{Server: alice, ContractID: priorID}: {State: contract.AckPrimaryReady},
		{Server: billy, ContractID: priorID}: {State: contract.AckSecondaryStreaming},
	}
	remove, add, _, _ := Transition(state, acks)
	if len(remove) != 0 || len(add) != 0 {
		t.Fatalf("expected idempotent no-op, got remove=%v add=%v", remove, add)
	}
}

func TestRemoveReplica(t *testing.T) {
	br1 := branchID(1)
	cfg := singleShardConfig([]ids.ServerID{alice, billy}, alice)
	state := bootstrapState(cfg, testRegion, simpleContract([]ids.ServerID{alice, billy}, alice, br1))

	state.Config = singleShardConfig([]ids.ServerID{alice}, alice)

	priorID := soleID(t, state)
	acks := contract.MapAcksView{
		{Server: alice, ContractID: priorID}: {State: contract.AckPrimaryReady},
		{Server: billy, ContractID: priorID}: {State: contract.AckSecondaryStreaming},
	}

	state = applyRound(t, state, acks)
	c1 := soleContract(t, state)
	if !sameServerSet(c1.Contract.TempVoters, []ids.ServerID{alice}) {
		t.Fatalf("round1: expected temp_voters={alice}, got %v", c1.Contract.TempVoters)
	}
	if !sameServerSet(c1.Contract.Voters, []ids.ServerID{alice, billy}) {
		t.Fatalf("round1: expected voters unchanged {alice,billy}, got %v", c1.Contract.Voters)
	}

	priorID = soleID(t, state)
	acks = contract.MapAcksView{
		{Server: alice, ContractID: priorID}: {State: contract.AckPrimaryReady},
		{Server: billy, ContractID: priorID}: {State: contract.AckSecondaryStreaming},
	}
	state = applyRound(t, state, acks)
	c2 := soleContract(t, state)
	want := simpleContract([]ids.ServerID{alice}, alice, br1)
	if !c2.Contract.Equal(want) {
		t.Fatalf("round2: expected %+v, got %+v", want, c2.Contract)
	}
}

func TestChangePrimary(t *testing.T) {
	br1 := branchID(1)
	br2 := branchID(2)
	cfg := singleShardConfig([]ids.ServerID{alice, billy}, alice)
	state := bootstrapState(cfg, testRegion, simpleContract([]ids.ServerID{alice, billy}, alice, br1))

	state.Config = singleShardConfig([]ids.ServerID{alice, billy}, billy)

	priorID := soleID(t, state)
	acks := contract.MapAcksView{
		{Server: alice, ContractID: priorID}: {State: contract.AckPrimaryReady},
		{Server: billy, ContractID: priorID}: {State: contract.AckSecondaryStreaming},
	}
	state = applyRound(t, state, acks)
	c1 := soleContract(t, state)
	if c1.Contract.Primary == nil || c1.Contract.Primary.Server != alice || c1.Contract.Primary.HandOver != billy {
		t.Fatalf("round1: expected hand_over {alice, hand_over: billy}, got %+v", c1.Contract.Primary)
	}

	priorID = soleID(t, state)
	acks = contract.MapAcksView{
		{Server: alice, ContractID: priorID}: {State: contract.AckPrimaryReady},
		{Server: billy, ContractID: priorID}: {State: contract.AckSecondaryStreaming},
	}
	state = applyRound(t, state, acks)
	c2 := soleContract(t, state)
	if c2.Contract.Primary != nil {
		t.Fatalf("round2: expected no_primary, got %+v", c2.Contract.Primary)
	}

	priorID = soleID(t, state)
	acks = contract.MapAcksView{
		{Server: billy, ContractID: priorID}: {
			State:                  contract.AckSecondaryNeedPrimary,
			Versions:               contract.VersionMap{{Region: testRegion, Branch: br1, Timestamp: 100}},
			FailoverTimeoutElapsed: false,
		},
	}
	state = applyRound(t, state, acks)
	c3 := soleContract(t, state)
	if c3.Contract.Primary == nil || c3.Contract.Primary.Server != billy || c3.Contract.Primary.HasHandOver() {
		t.Fatalf("round3: expected primary=billy, got %+v", c3.Contract.Primary)
	}
	if c3.Contract.Branch != br1 {
		t.Fatalf("round3: expected branch unchanged br1, got %v", c3.Contract.Branch)
	}

	priorID = soleID(t, state)
	fragment := branchhistory.NewStore()
	fragment.Insert(br2, branchhistory.Node{Origins: []branchhistory.Origin{{Region: testRegion, Parent: br1, Timestamp: 200}}})
	acks = contract.MapAcksView{
		{Server: billy, ContractID: priorID}: {
			State:                 contract.AckPrimaryNeedBranch,
			ProposedBranch:        br2,
			ProposedBranchHistory: fragment,
		},
	}
	state = applyRound(t, state, acks)
	c4 := soleContract(t, state)
	if c4.Contract.Primary == nil || c4.Contract.Primary.Server != billy || c4.Contract.Branch != br2 {
		t.Fatalf("round4: expected primary=billy branch=br2, got %+v branch=%v", c4.Contract.Primary, c4.Contract.Branch)
	}
}

func TestFailoverNoChangeUntilMajorityElapsed(t *testing.T) {
	br1 := branchID(1)
	cfg := singleShardConfig([]ids.ServerID{alice, billy, carol}, alice)
	state := bootstrapState(cfg, testRegion, simpleContract([]ids.ServerID{alice, billy, carol}, alice, br1))

	priorID := soleID(t, state)
	acks := contract.MapAcksView{
		{Server: billy, ContractID: priorID}: {
			State: contract.AckSecondaryNeedPrimary,
			Versions: contract.VersionMap{{Region: testRegion, Branch: br1, Timestamp: 100}},
			FailoverTimeoutElapsed: true,
		},
		{Server: carol, ContractID: priorID}: {
			State:                  contract.AckSecondaryNeedPrimary,
			Versions:               contract.VersionMap{{Region: testRegion, Branch: br1, Timestamp: 101}},
			FailoverTimeoutElapsed: false,
		},
	}
	remove, add, _, _ := Transition(state, acks)
	if len(remove) != 0 || len(add) != 0 {
		t.Fatalf("expected no change with only one timeout elapsed, got remove=%v add=%v", remove, add)
	}

	acks = contract.MapAcksView{
		{Server: billy, ContractID: priorID}: {
			State:                  contract.AckSecondaryNeedPrimary,
			Versions:               contract.VersionMap{{Region: testRegion, Branch: br1, Timestamp: 100}},
			FailoverTimeoutElapsed: true,
		},
		{Server: carol, ContractID: priorID}: {
			State:                  contract.AckSecondaryNeedPrimary,
			Versions:               contract.VersionMap{{Region: testRegion, Branch: br1, Timestamp: 101}},
			FailoverTimeoutElapsed: true,
		},
	}
	state = applyRound(t, state, acks)
	c := soleContract(t, state)
	if c.Contract.Primary != nil {
		t.Fatalf("expected no_primary once both timeouts elapsed, got %+v", c.Contract.Primary)
	}
	if !sameServerSet(c.Contract.Voters, []ids.ServerID{alice, billy, carol}) {
		t.Fatalf("expected voters unchanged, got %v", c.Contract.Voters)
	}
}

func TestFailoverSplitElectsLatestPerSubrange(t *testing.T) {
	br1 := branchID(1)
	cfg := singleShardConfig([]ids.ServerID{alice, billy, carol}, alice)
	state := bootstrapState(cfg, testRegion, simpleContract([]ids.ServerID{alice, billy, carol}, alice, br1))
	// Advance the contract to the already-cleared no-primary state, as a
	// prior Failover round would have produced.
	state.Contracts = map[ids.ContractID]contract.ContractEntry{}
	noPrimary := simpleContract([]ids.ServerID{alice, billy, carol}, "", br1)
	noPrimary.Primary = nil
	id := ContractID(testRegion, noPrimary)
	state.Contracts[id] = contract.ContractEntry{Region: testRegion, Contract: noPrimary}

	boundary := []byte("M")
	priorID := soleID(t, state)
	acks := contract.MapAcksView{
		{Server: billy, ContractID: priorID}: {
			State:                  contract.AckSecondaryNeedPrimary,
			Versions:               contract.VersionMap{{Region: testRegion, Branch: br1, Timestamp: 100}},
			FailoverTimeoutElapsed: true,
		},
		{Server: carol, ContractID: priorID}: {
			State: contract.AckSecondaryNeedPrimary,
			Versions: contract.VersionMap{
				{Region: keyspace.Region{Hash: keyspace.CPUSubspace(0), Keys: keyspace.KeyRange{Right: boundary}}, Branch: br1, Timestamp: 101},
				{Region: keyspace.Region{Hash: keyspace.CPUSubspace(0), Keys: keyspace.KeyRange{Left: boundary}}, Branch: br1, Timestamp: 99},
			},
			FailoverTimeoutElapsed: true,
		},
	}

	state = applyRound(t, state, acks)
	if len(state.Contracts) != 2 {
		t.Fatalf("expected the region to split into 2 contracts, got %d: %+v", len(state.Contracts), state.Contracts)
	}
	for _, entry := range state.Contracts {
		if len(entry.Region.Keys.Right) > 0 && string(entry.Region.Keys.Right) == "M" {
			if entry.Contract.Primary == nil || entry.Contract.Primary.Server != carol {
				t.Fatalf("expected carol primary for *-M (latest at 101), got %+v", entry.Contract.Primary)
			}
		}
		if len(entry.Region.Keys.Left) > 0 && string(entry.Region.Keys.Left) == "M" {
			if entry.Contract.Primary == nil || entry.Contract.Primary.Server != billy {
				t.Fatalf("expected billy primary for M-* (latest at 100), got %+v", entry.Contract.Primary)
			}
		}
	}
}

func soleID(t *testing.T, state contract.RaftState) ids.ContractID {
	t.Helper()
	if len(state.Contracts) != 1 {
		t.Fatalf("expected exactly one contract, got %d", len(state.Contracts))
	}
	for id := range state.Contracts {
		return id
	}
	panic("unreachable")
}

func TestSplitTracksEachSideIndependently(t *testing.T) {
	br1 := branchID(1)
	cfg := singleShardConfig([]ids.ServerID{alice}, alice)
	state := bootstrapState(cfg, testRegion, simpleContract([]ids.ServerID{alice}, alice, br1))

	boundary := []byte("M")
	state.Config = contract.TableConfig{Shards: []contract.ShardConfig{
		{Keys: keyspace.KeyRange{Right: boundary}, Replicas: []ids.ServerID{alice}, Voters: []ids.ServerID{alice}, Primary: alice},
		{Keys: keyspace.KeyRange{Left: boundary}, Replicas: []ids.ServerID{billy}, Voters: []ids.ServerID{billy}, Primary: billy},
	}}

	priorID := soleID(t, state)
	acks := contract.MapAcksView{
		{Server: alice, ContractID: priorID}: {State: contract.AckPrimaryReady},
	}
	state = applyRound(t, state, acks)

	if len(state.Contracts) != 2 {
		t.Fatalf("expected the full-region contract to split into 2, got %d", len(state.Contracts))
	}
	for _, entry := range state.Contracts {
		if len(entry.Region.Keys.Right) > 0 {
			if !sameServerSet(entry.Contract.Replicas, []ids.ServerID{alice}) {
				t.Fatalf("*-M side: expected replicas={alice}, got %v", entry.Contract.Replicas)
			}
		} else {
			if !contract.ContainsServer(entry.Contract.Replicas, billy) {
				t.Fatalf("M-* side: expected billy to be added as a replica, got %v", entry.Contract.Replicas)
			}
		}
	}
}

func TestRegionCoverInvariantHolds(t *testing.T) {
	br1 := branchID(1)
	cfg := singleShardConfig([]ids.ServerID{alice, billy}, alice)
	state := bootstrapState(cfg, testRegion, simpleContract([]ids.ServerID{alice, billy}, alice, br1))

	priorID := soleID(t, state)
	acks := contract.MapAcksView{
		{Server: alice, ContractID: priorID}: {State: contract.AckPrimaryReady},
		{Server: billy, ContractID: priorID}: {State: contract.AckSecondaryStreaming},
	}
	state = applyRound(t, state, acks)

	// Only testRegion's subspace was bootstrapped, so the cover invariant
	// is checked there; the other CPUShardingFactor-1 subspaces have no
	// contracts at all, which is consistent (nothing ever claimed them).
	var covering []keyspace.KeyRange
	for _, entry := range state.Contracts {
		if entry.Region.Hash.Equal(testRegion.Hash) {
			covering = append(covering, entry.Region.Keys)
		}
	}
	if len(covering) != 1 || !covering[0].Equal(keyspace.FullKeyRange()) {
		t.Fatalf("expected exactly one contract covering the full key range in the bootstrapped subspace, got %+v", covering)
	}
}

func TestRoleContainmentInvariantHolds(t *testing.T) {
	br1 := branchID(1)
	cfg := singleShardConfig([]ids.ServerID{alice, billy}, alice)
	state := bootstrapState(cfg, testRegion, simpleContract([]ids.ServerID{alice, billy}, alice, br1))
	state.Config = singleShardConfig([]ids.ServerID{alice}, alice)

	priorID := soleID(t, state)
	acks := contract.MapAcksView{
		{Server: alice, ContractID: priorID}: {State: contract.AckPrimaryReady},
		{Server: billy, ContractID: priorID}: {State: contract.AckSecondaryStreaming},
	}
	state = applyRound(t, state, acks)

	for _, entry := range state.Contracts {
		c := entry.Contract
		for _, v := range c.Voters {
			if !contract.ContainsServer(c.Replicas, v) {
				t.Fatalf("voter %s not in replicas %v", v, c.Replicas)
			}
		}
		for _, v := range c.TempVoters {
			if !contract.ContainsServer(c.Replicas, v) {
				t.Fatalf("temp_voter %s not in replicas %v", v, c.Replicas)
			}
		}
		if c.Primary != nil && !contract.ContainsServer(c.Replicas, c.Primary.Server) {
			t.Fatalf("primary %s not in replicas %v", c.Primary.Server, c.Replicas)
		}
	}
}
