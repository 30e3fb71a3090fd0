// Package chain defines the interface required for connections to a capacity metered blockchain.
package chain

import (
	"context"
	"fmt"
	"time"

	"github.com/tarancss/capgw/lib/chain/rpc"
	"github.com/tarancss/capgw/lib/chain/types"
	"github.com/tarancss/capgw/lib/config"
	"go.uber.org/zap"
)

//go:generate mockgen -destination=mocks/mock_client.go -package=mocks github.com/tarancss/capgw/lib/chain Client

// Client is the RPC and query façade used by the scanner and the publisher.
type Client interface {
	// member-type methods
	AvgBlock() time.Duration // observed block production time
	// methods
	Ready(ctx context.Context) error
	Close()
	BlockHash(ctx context.Context, number uint64) (string, error)
	Block(ctx context.Context, hash string) (types.Block, error)
	Events(ctx context.Context, hash string) ([]types.Event, error)
	FinalizedBlockNumber(ctx context.Context) (uint64, error)
	CapacityInfo(ctx context.Context, providerID string) (types.CapacityInfo, error)
	CapacityInfoAt(ctx context.Context, providerID, hash string) (types.CapacityInfo, error)
	Submit(ctx context.Context, call types.Call) (types.SubmitResult, error)
	SubmitBatch(ctx context.Context, calls []types.Call) (types.SubmitResult, error)
	OnConnectivity(fn func(connected bool))
}

// Init connects to the node configured in c.
func Init(ctx context.Context, c config.ChainConfig, log *zap.Logger) (Client, error) {
	cli, err := rpc.Dial(ctx, c.Node, c.Secret, rpc.Options{
		BlockTime:     time.Duration(c.BlockTimeMs) * time.Millisecond,
		ProbeInterval: time.Duration(c.ProbeIntervalMs) * time.Millisecond,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("chain: cannot connect to %s: %w", c.Node, err)
	}

	return cli, nil
}
