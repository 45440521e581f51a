package api

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
)

// --- Contract wire shapes ---
//
// A contract descriptor carries the contract's region and every
// contract field. The coordinator's internal contract.Ack also carries
// branch-history fragments and piecewise version maps that only matter
// to the transition function itself; the ack descriptor leaves those out
// and keeps the state, the failover-timeout flag and the proposed branch.

type PrimaryDescriptor struct {
	Server   string
	HandOver string
}

func (p *PrimaryDescriptor) GetServer() string {
	if p == nil {
		return ""
	}
	return p.Server
}
func (p *PrimaryDescriptor) GetHandOver() string {
	if p == nil {
		return ""
	}
	return p.HandOver
}

type ContractDescriptor struct {
	ContractId  string
	HashBegin   uint64
	HashEnd     uint64
	HashEndAtMax bool
	KeyStart    []byte
	KeyEnd      []byte
	Replicas    []string
	Voters      []string
	TempVoters  []string
	Primary     *PrimaryDescriptor
	Branch      string
}

func (c *ContractDescriptor) GetContractId() string {
	if c == nil {
		return ""
	}
	return c.ContractId
}
func (c *ContractDescriptor) GetReplicas() []string {
	if c == nil {
		return nil
	}
	return c.Replicas
}
func (c *ContractDescriptor) GetVoters() []string {
	if c == nil {
		return nil
	}
	return c.Voters
}
func (c *ContractDescriptor) GetTempVoters() []string {
	if c == nil {
		return nil
	}
	return c.TempVoters
}
func (c *ContractDescriptor) GetPrimary() *PrimaryDescriptor {
	if c == nil {
		return nil
	}
	return c.Primary
}

// --- Ack submission ---

type AckDescriptor struct {
	State                  int32
	FailoverTimeoutElapsed bool
	ProposedBranch         string
}

func (a *AckDescriptor) GetState() int32 {
	if a == nil {
		return 0
	}
	return a.State
}
func (a *AckDescriptor) GetFailoverTimeoutElapsed() bool {
	if a == nil {
		return false
	}
	return a.FailoverTimeoutElapsed
}
func (a *AckDescriptor) GetProposedBranch() string {
	if a == nil {
		return ""
	}
	return a.ProposedBranch
}

type SubmitAckRequest struct {
	Server     string
	ContractId string
	Ack        *AckDescriptor
}

func (r *SubmitAckRequest) GetServer() string {
	if r == nil {
		return ""
	}
	return r.Server
}
func (r *SubmitAckRequest) GetContractId() string {
	if r == nil {
		return ""
	}
	return r.ContractId
}
func (r *SubmitAckRequest) GetAck() *AckDescriptor {
	if r == nil {
		return nil
	}
	return r.Ack
}

type SubmitAckResponse struct{}

// --- State / config ---

type GetStateRequest struct{}

type GetStateResponse struct {
	Contracts []*ContractDescriptor
}

type SetConfigShard struct {
	KeyStart []byte
	KeyEnd   []byte
	Replicas []string
	Voters   []string
	Primary  string
}

type SetConfigRequest struct {
	Shards []*SetConfigShard
}

func (r *SetConfigRequest) GetShards() []*SetConfigShard {
	if r == nil {
		return nil
	}
	return r.Shards
}

type SetConfigResponse struct{}

type ReconcileRequest struct{}

type ReconcileResponse struct {
	ContractsAdded     int32
	ContractsRemoved   int32
	BranchesRemoved    int32
	AddedContractIds   []string
	RemovedContractIds []string
}

// --- Coordinator service ---

type CoordinatorServer interface {
	SubmitAck(context.Context, *SubmitAckRequest) (*SubmitAckResponse, error)
	GetState(context.Context, *GetStateRequest) (*GetStateResponse, error)
	SetConfig(context.Context, *SetConfigRequest) (*SetConfigResponse, error)
	Reconcile(context.Context, *ReconcileRequest) (*ReconcileResponse, error)
}

type UnimplementedCoordinatorServer struct{}

func (UnimplementedCoordinatorServer) SubmitAck(context.Context, *SubmitAckRequest) (*SubmitAckResponse, error) {
	return nil, fmt.Errorf("not implemented")
}
func (UnimplementedCoordinatorServer) GetState(context.Context, *GetStateRequest) (*GetStateResponse, error) {
	return nil, fmt.Errorf("not implemented")
}
func (UnimplementedCoordinatorServer) SetConfig(context.Context, *SetConfigRequest) (*SetConfigResponse, error) {
	return nil, fmt.Errorf("not implemented")
}
func (UnimplementedCoordinatorServer) Reconcile(context.Context, *ReconcileRequest) (*ReconcileResponse, error) {
	return nil, fmt.Errorf("not implemented")
}

type coordinatorServerWrapper interface {
	CoordinatorServer
}

var coordinatorServiceDesc = grpc.ServiceDesc{
	ServiceName: "nyxdb.api.Coordinator",
	HandlerType: (*coordinatorServerWrapper)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "SubmitAck", Handler: _Coordinator_SubmitAck_Handler},
		{MethodName: "GetState", Handler: _Coordinator_GetState_Handler},
		{MethodName: "SetConfig", Handler: _Coordinator_SetConfig_Handler},
		{MethodName: "Reconcile", Handler: _Coordinator_Reconcile_Handler},
	},
}

func RegisterCoordinatorServer(s *grpc.Server, srv CoordinatorServer) {
	s.RegisterService(&coordinatorServiceDesc, srv)
}

func _Coordinator_SubmitAck_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(SubmitAckRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CoordinatorServer).SubmitAck(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/nyxdb.api.Coordinator/SubmitAck"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(CoordinatorServer).SubmitAck(ctx, req.(*SubmitAckRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _Coordinator_GetState_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(GetStateRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CoordinatorServer).GetState(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/nyxdb.api.Coordinator/GetState"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(CoordinatorServer).GetState(ctx, req.(*GetStateRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _Coordinator_SetConfig_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(SetConfigRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CoordinatorServer).SetConfig(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/nyxdb.api.Coordinator/SetConfig"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(CoordinatorServer).SetConfig(ctx, req.(*SetConfigRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _Coordinator_Reconcile_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(ReconcileRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CoordinatorServer).Reconcile(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/nyxdb.api.Coordinator/Reconcile"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(CoordinatorServer).Reconcile(ctx, req.(*ReconcileRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// --- Coordinator client ---

type CoordinatorClient interface {
	SubmitAck(ctx context.Context, in *SubmitAckRequest, opts ...grpc.CallOption) (*SubmitAckResponse, error)
	GetState(ctx context.Context, in *GetStateRequest, opts ...grpc.CallOption) (*GetStateResponse, error)
	SetConfig(ctx context.Context, in *SetConfigRequest, opts ...grpc.CallOption) (*SetConfigResponse, error)
	Reconcile(ctx context.Context, in *ReconcileRequest, opts ...grpc.CallOption) (*ReconcileResponse, error)
}

type coordinatorClient struct {
	cc *grpc.ClientConn
}

func NewCoordinatorClient(cc *grpc.ClientConn) CoordinatorClient {
	return &coordinatorClient{cc: cc}
}

func (c *coordinatorClient) SubmitAck(ctx context.Context, in *SubmitAckRequest, opts ...grpc.CallOption) (*SubmitAckResponse, error) {
	out := new(SubmitAckResponse)
	if err := c.cc.Invoke(ctx, "/nyxdb.api.Coordinator/SubmitAck", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *coordinatorClient) GetState(ctx context.Context, in *GetStateRequest, opts ...grpc.CallOption) (*GetStateResponse, error) {
	out := new(GetStateResponse)
	if err := c.cc.Invoke(ctx, "/nyxdb.api.Coordinator/GetState", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *coordinatorClient) SetConfig(ctx context.Context, in *SetConfigRequest, opts ...grpc.CallOption) (*SetConfigResponse, error) {
	out := new(SetConfigResponse)
	if err := c.cc.Invoke(ctx, "/nyxdb.api.Coordinator/SetConfig", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *coordinatorClient) Reconcile(ctx context.Context, in *ReconcileRequest, opts ...grpc.CallOption) (*ReconcileResponse, error) {
	out := new(ReconcileResponse)
	if err := c.cc.Invoke(ctx, "/nyxdb.api.Coordinator/Reconcile", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
