// Package coordinatorgrpc adapts coordinator.Service to a gRPC facade: a
// thin Server type wrapping the service, translating between its Go-native
// types and the wire descriptors in pkg/api.
package coordinatorgrpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/yaoml/rethinkdb/internal/contract"
	coordinatorpkg "github.com/yaoml/rethinkdb/internal/layers/coordinator"
	"github.com/yaoml/rethinkdb/internal/ids"
	"github.com/yaoml/rethinkdb/internal/keyspace"
	api "github.com/yaoml/rethinkdb/pkg/api"
)

// Server adapts coordinator.Service to the Coordinator gRPC API.
type Server struct {
	api.UnimplementedCoordinatorServer
	service *coordinatorpkg.Service
}

func NewServer(service *coordinatorpkg.Service) *Server {
	return &Server{service: service}
}

func Register(server *grpc.Server, service *coordinatorpkg.Service) {
	api.RegisterCoordinatorServer(server, NewServer(service))
}

func (s *Server) SubmitAck(ctx context.Context, req *api.SubmitAckRequest) (*api.SubmitAckResponse, error) {
	if req.GetServer() == "" {
		return nil, status.Error(codes.InvalidArgument, "server is empty")
	}
	var contractID ids.ContractID
	if err := contractID.UnmarshalText([]byte(req.GetContractId())); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	ack, err := ackFromProto(req.GetAck())
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if err := s.service.SubmitAck(ids.ServerID(req.GetServer()), contractID, ack); err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return &api.SubmitAckResponse{}, nil
}

func (s *Server) GetState(ctx context.Context, req *api.GetStateRequest) (*api.GetStateResponse, error) {
	state := s.service.State()
	resp := &api.GetStateResponse{Contracts: make([]*api.ContractDescriptor, 0, len(state.Contracts))}
	for id, entry := range state.Contracts {
		resp.Contracts = append(resp.Contracts, contractToProto(id, entry))
	}
	return resp, nil
}

func (s *Server) SetConfig(ctx context.Context, req *api.SetConfigRequest) (*api.SetConfigResponse, error) {
	cfg, err := configFromProto(req.GetShards())
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if err := s.service.SetConfig(cfg); err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return &api.SetConfigResponse{}, nil
}

func (s *Server) Reconcile(ctx context.Context, req *api.ReconcileRequest) (*api.ReconcileResponse, error) {
	result, err := s.service.Reconcile()
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return reconcileResultToProto(result), nil
}

func ackFromProto(p *api.AckDescriptor) (contract.Ack, error) {
	ack := contract.Ack{
		State:                  contract.AckState(p.GetState()),
		FailoverTimeoutElapsed: p.GetFailoverTimeoutElapsed(),
	}
	var branchID ids.BranchID
	if err := branchID.UnmarshalText([]byte(p.GetProposedBranch())); err != nil {
		return contract.Ack{}, err
	}
	ack.ProposedBranch = branchID
	return ack, nil
}

func contractToProto(id ids.ContractID, entry contract.ContractEntry) *api.ContractDescriptor {
	desc := &api.ContractDescriptor{
		ContractId:   id.String(),
		HashBegin:    entry.Region.Hash.Begin,
		HashEnd:      entry.Region.Hash.End,
		HashEndAtMax: entry.Region.Hash.EndAtMax,
		KeyStart:     entry.Region.Keys.Left,
		KeyEnd:       entry.Region.Keys.Right,
		Replicas:     serverIDsToStrings(entry.Contract.Replicas),
		Voters:       serverIDsToStrings(entry.Contract.Voters),
		TempVoters:   serverIDsToStrings(entry.Contract.TempVoters),
		Branch:       entry.Contract.Branch.String(),
	}
	if entry.Contract.Primary != nil {
		desc.Primary = &api.PrimaryDescriptor{
			Server:   string(entry.Contract.Primary.Server),
			HandOver: string(entry.Contract.Primary.HandOver),
		}
	}
	return desc
}

func serverIDsToStrings(servers []ids.ServerID) []string {
	out := make([]string, 0, len(servers))
	for _, server := range servers {
		out = append(out, string(server))
	}
	return out
}

func stringsToServerIDs(in []string) []ids.ServerID {
	out := make([]ids.ServerID, 0, len(in))
	for _, s := range in {
		out = append(out, ids.ServerID(s))
	}
	return out
}

func configFromProto(shards []*api.SetConfigShard) (contract.TableConfig, error) {
	cfg := contract.TableConfig{Shards: make([]contract.ShardConfig, 0, len(shards))}
	for _, shard := range shards {
		cfg.Shards = append(cfg.Shards, contract.ShardConfig{
			Keys:     keyspace.KeyRange{Left: shard.KeyStart, Right: shard.KeyEnd},
			Replicas: stringsToServerIDs(shard.Replicas),
			Voters:   stringsToServerIDs(shard.Voters),
			Primary:  ids.ServerID(shard.Primary),
		})
	}
	return cfg, nil
}

func reconcileResultToProto(result coordinatorpkg.ReconcileResult) *api.ReconcileResponse {
	resp := &api.ReconcileResponse{
		ContractsAdded:   int32(result.ContractsAdded),
		ContractsRemoved: int32(result.ContractsRemoved),
		BranchesRemoved:  int32(result.BranchesRemoved),
	}
	for _, id := range result.AddedContractIDs {
		resp.AddedContractIds = append(resp.AddedContractIds, id.String())
	}
	for _, id := range result.RemovedContractIDs {
		resp.RemovedContractIds = append(resp.RemovedContractIds, id.String())
	}
	return resp
}
