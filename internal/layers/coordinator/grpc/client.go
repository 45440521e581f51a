package coordinatorgrpc

import (
	"context"
	"time"

	"google.golang.org/grpc"

	"github.com/yaoml/rethinkdb/internal/contract"
	"github.com/yaoml/rethinkdb/internal/ids"
	api "github.com/yaoml/rethinkdb/pkg/api"
)

// Client is a thin wrapper a heartbeat sender or driver uses to reach a
// remote coordinator.
type Client struct {
	conn   *grpc.ClientConn
	client api.CoordinatorClient
}

func NewClient(ctx context.Context, target string, opts ...grpc.DialOption) (*Client, error) {
	if len(opts) == 0 {
		opts = append(opts, grpc.WithInsecure())
	}
	conn, err := grpc.DialContext(ctx, target, opts...)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn, client: api.NewCoordinatorClient(conn)}, nil
}

func (c *Client) SubmitAck(server ids.ServerID, contractID ids.ContractID, ack contract.Ack) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := c.client.SubmitAck(ctx, &api.SubmitAckRequest{
		Server:     string(server),
		ContractId: contractID.String(),
		Ack: &api.AckDescriptor{
			State:                  int32(ack.State),
			FailoverTimeoutElapsed: ack.FailoverTimeoutElapsed,
			ProposedBranch:         ack.ProposedBranch.String(),
		},
	})
	return err
}

func (c *Client) Reconcile() (coordinatorReconcileResult, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resp, err := c.client.Reconcile(ctx, &api.ReconcileRequest{})
	if err != nil {
		return coordinatorReconcileResult{}, err
	}
	return coordinatorReconcileResult{
		ContractsAdded:   int(resp.ContractsAdded),
		ContractsRemoved: int(resp.ContractsRemoved),
		BranchesRemoved:  int(resp.BranchesRemoved),
	}, nil
}

// coordinatorReconcileResult mirrors coordinator.ReconcileResult's counters
// for callers that only have the gRPC client, not the in-process service.
type coordinatorReconcileResult struct {
	ContractsAdded   int
	ContractsRemoved int
	BranchesRemoved  int
}

func (c *Client) Close() error {
	return c.conn.Close()
}
