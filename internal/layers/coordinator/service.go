// Package coordinator is the ambient service that owns a table's
// contract-coordinator state: it persists the current table_raft_state and
// ack inbox, and drives internal/coordinator's pure transition function on
// demand. No coordination logic lives here — this package is I/O,
// locking, and persistence around the pure core, per spec.md §1.
package coordinator

import (
	"fmt"
	"sync"

	"github.com/yaoml/rethinkdb/internal/branchhistory"
	"github.com/yaoml/rethinkdb/internal/contract"
	corecoordinator "github.com/yaoml/rethinkdb/internal/coordinator"
	"github.com/yaoml/rethinkdb/internal/ids"
)

// ReconcileResult summarizes one Reconcile call, for logging and metrics.
type ReconcileResult struct {
	ContractsAdded     int
	ContractsRemoved   int
	BranchesRemoved    int
	AddedContractIDs   []ids.ContractID
	RemovedContractIDs []ids.ContractID
}

// Service owns one table's coordinator state, optionally persisting it to
// disk. It is safe for concurrent use.
type Service struct {
	mu    sync.RWMutex
	state contract.RaftState
	acks  map[contract.AckKey]contract.Ack
	store stateStore
}

// NewService creates a pure in-memory coordinator service, seeded with an
// initial table_raft_state (typically an empty config with no contracts,
// for a brand-new table).
func NewService(initial contract.RaftState) *Service {
	return &Service{
		state: initial,
		acks:  make(map[contract.AckKey]contract.Ack),
	}
}

// NewPersistentService persists state and acks under dir so the
// coordinator's view survives restarts.
func NewPersistentService(dir string, initial contract.RaftState) (*Service, error) {
	store, err := newBoltStateStore(dir)
	if err != nil {
		return nil, fmt.Errorf("open coordinator storage: %w", err)
	}

	svc := &Service{
		state: initial,
		acks:  make(map[contract.AckKey]contract.Ack),
		store: store,
	}
	if err := svc.loadFromStore(); err != nil {
		_ = store.Close()
		return nil, err
	}
	return svc, nil
}

func (s *Service) loadFromStore() error {
	if loaded, ok, err := s.store.LoadState(); err != nil {
		return err
	} else if ok {
		if loaded.BranchHistory == nil {
			loaded.BranchHistory = branchhistory.NewStore()
		}
		s.state = loaded
	}
	return s.store.ForEachAck(func(server ids.ServerID, contractID ids.ContractID, ack contract.Ack) error {
		s.acks[contract.AckKey{Server: server, ContractID: contractID}] = ack
		return nil
	})
}

// Close releases persistent resources, if any.
func (s *Service) Close() error {
	if s.store == nil {
		return nil
	}
	return s.store.Close()
}

// SubmitAck records one server's latest ack for a contract. Per spec.md
// §6, the coordinator only ever sees one ack per (server, contract):
// whichever ack arrives last replaces the stored one, with no check of
// which was produced first, since table_raft_state + acks is the whole
// of the coordinator's durable input.
func (s *Service) SubmitAck(server ids.ServerID, contractID ids.ContractID, ack contract.Ack) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.acks[contract.AckKey{Server: server, ContractID: contractID}] = ack
	if s.store != nil {
		if err := s.store.SaveAck(server, contractID, ack); err != nil {
			delete(s.acks, contract.AckKey{Server: server, ContractID: contractID})
			return fmt.Errorf("persist ack: %w", err)
		}
	}
	return nil
}

// SetConfig installs a new table config, to take effect on the next
// Reconcile call.
func (s *Service) SetConfig(cfg contract.TableConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.state.Clone()
	next.Config = cfg
	if err := s.persistStateLocked(next); err != nil {
		return err
	}
	s.state = next
	return nil
}

// State returns a deep copy of the current table_raft_state.
func (s *Service) State() contract.RaftState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Clone()
}

// ShardForKey returns the config shard governing key, if the current
// config covers it.
func (s *Service) ShardForKey(key []byte) (contract.ShardConfig, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, shard := range s.state.Config.Shards {
		if shard.Keys.Contains(key) {
			return shard, true
		}
	}
	return contract.ShardConfig{}, false
}

// Reconcile runs one coordinator invocation (internal/coordinator.Transition)
// against the current state and ack inbox, applies the resulting diff, and
// persists the new state. Acks for contracts that no longer exist
// afterward are dropped, since an ack is only ever meaningful relative to
// the contract it was issued against.
func (s *Service) Reconcile() (ReconcileResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acksView := make(contract.MapAcksView, len(s.acks))
	for k, v := range s.acks {
		acksView[k] = v
	}

	removeContracts, addContracts, removeBranches, branchHistory := corecoordinator.Transition(s.state, acksView)

	next := contract.RaftState{
		Config:        s.state.Config,
		Contracts:     make(map[ids.ContractID]contract.ContractEntry, len(s.state.Contracts)+len(addContracts)),
		BranchHistory: branchHistory,
	}
	for id, entry := range s.state.Contracts {
		if !removeContracts[id] {
			next.Contracts[id] = entry
		}
	}
	for id, entry := range addContracts {
		next.Contracts[id] = entry
	}

	if err := s.persistStateLocked(next); err != nil {
		return ReconcileResult{}, err
	}
	s.state = next

	result := ReconcileResult{BranchesRemoved: len(removeBranches)}
	for id := range removeContracts {
		result.ContractsRemoved++
		result.RemovedContractIDs = append(result.RemovedContractIDs, id)
		for server := range acksView {
			if server.ContractID == id {
				delete(s.acks, server)
				if s.store != nil {
					if err := s.store.DeleteAck(server.Server, id); err != nil {
						return result, fmt.Errorf("prune ack for removed contract %s: %w", id, err)
					}
				}
			}
		}
	}
	for id := range addContracts {
		result.ContractsAdded++
		result.AddedContractIDs = append(result.AddedContractIDs, id)
	}
	return result, nil
}

func (s *Service) persistStateLocked(next contract.RaftState) error {
	if s.store == nil {
		return nil
	}
	if err := s.store.SaveState(next); err != nil {
		return fmt.Errorf("persist raft state: %w", err)
	}
	return nil
}
