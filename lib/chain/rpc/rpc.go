// Package rpc implements the chain client over JSON-RPC 2.0 for nodes exposing the standard chain_* and system_*
// namespaces plus the gateway_* façade (events, capacity ledger and call submission).
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"

	"github.com/tarancss/capgw/lib/chain/types"
)

// JSON-RPC error codes reported by the transaction pool.
const (
	CodeInvalidTx        = 1010
	CodePriorityTooLow   = 1014
	defaultBlockTime     = 6 * time.Second
	defaultProbeInterval = 5 * time.Second
)

// Options tune the client. Zero values select defaults.
type Options struct {
	BlockTime     time.Duration // assumed block time until one is observed
	ProbeInterval time.Duration // connectivity probe period
}

// Client implements chain.Client.
type Client struct {
	c   *gethrpc.Client
	log *zap.Logger

	probe     time.Duration
	blockTime atomic.Int64 // nanoseconds

	mu        sync.Mutex
	connected bool
	readyCh   chan struct{} // closed while connected
	listeners []func(bool)

	lastHead   uint64
	lastHeadAt time.Time

	stop chan struct{}
	done chan struct{}
}

// header is the subset of a chain header the client needs.
type header struct {
	Number     hexutil.Uint64 `json:"number"`
	ParentHash string         `json:"parentHash"`
}

// SubmitError keeps the full error reported by the node so failure reasons can be matched against known
// patterns (ie. "1010: Invalid Transaction: Inability to pay some fees").
type SubmitError struct {
	Code    int
	Message string
	Data    string
}

func (e *SubmitError) Error() string {
	if e.Data == "" {
		return fmt.Sprintf("%d: %s", e.Code, e.Message)
	}

	return fmt.Sprintf("%d: %s: %s", e.Code, e.Message, e.Data)
}

// Dial returns a client for the node at url and starts its connectivity monitor. The secret, if any, is sent as
// a basic authorization header.
func Dial(ctx context.Context, url, secret string, o Options, log *zap.Logger) (*Client, error) {
	var opts []gethrpc.ClientOption
	if secret != "" {
		opts = append(opts, gethrpc.WithHeader("Authorization", "Basic "+secret))
	}

	c, err := gethrpc.DialOptions(ctx, url, opts...)
	if err != nil {
		return nil, fmt.Errorf("rpc: dial %s: %w", url, err)
	}

	cli := newClient(c, o, log)
	cli.check(ctx)

	go cli.monitor()

	return cli, nil
}

func newClient(c *gethrpc.Client, o Options, log *zap.Logger) *Client {
	if o.BlockTime <= 0 {
		o.BlockTime = defaultBlockTime
	}

	if o.ProbeInterval <= 0 {
		o.ProbeInterval = defaultProbeInterval
	}

	cli := &Client{
		c:       c,
		log:     log,
		probe:   o.ProbeInterval,
		readyCh: make(chan struct{}),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	cli.blockTime.Store(int64(o.BlockTime))

	return cli
}

// AvgBlock returns the observed average block time.
func (c *Client) AvgBlock() time.Duration {
	return time.Duration(c.blockTime.Load())
}

// Ready blocks until the node is reachable or ctx is done.
func (c *Client) Ready(ctx context.Context) error {
	c.mu.Lock()
	ch := c.readyCh
	c.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", types.ErrNotConnected, ctx.Err())
	}
}

// OnConnectivity registers fn to be called with the new state every time connectivity changes.
func (c *Client) OnConnectivity(fn func(connected bool)) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.listeners = append(c.listeners, fn)
}

// Close stops the monitor and closes the connection.
func (c *Client) Close() {
	select {
	case <-c.stop:
		return
	default:
		close(c.stop)
	}
	<-c.done
	c.c.Close()
}

// BlockHash returns the hash of block number, or an empty string if the block does not exist yet.
func (c *Client) BlockHash(ctx context.Context, number uint64) (string, error) {
	var hash *string
	if err := c.c.CallContext(ctx, &hash, "chain_getBlockHash", number); err != nil {
		return "", fmt.Errorf("rpc: chain_getBlockHash %d: %w", number, err)
	}

	if hash == nil {
		return "", nil
	}

	return *hash, nil
}

// Block returns the header fields of the block with the given hash.
func (c *Client) Block(ctx context.Context, hash string) (types.Block, error) {
	var h *header
	if err := c.c.CallContext(ctx, &h, "chain_getHeader", hash); err != nil {
		return types.Block{}, fmt.Errorf("rpc: chain_getHeader %s: %w", hash, err)
	}

	if h == nil {
		return types.Block{}, types.ErrNoBlock
	}

	return types.Block{Number: uint64(h.Number), Hash: hash, PHash: h.ParentHash}, nil
}

// Events returns the events emitted by the block with the given hash.
func (c *Client) Events(ctx context.Context, hash string) ([]types.Event, error) {
	var evs []types.Event
	if err := c.c.CallContext(ctx, &evs, "gateway_getEvents", hash); err != nil {
		return nil, fmt.Errorf("rpc: gateway_getEvents %s: %w", hash, err)
	}

	return evs, nil
}

// FinalizedBlockNumber returns the number of the latest finalized block.
func (c *Client) FinalizedBlockNumber(ctx context.Context) (uint64, error) {
	var hash string
	if err := c.c.CallContext(ctx, &hash, "chain_getFinalizedHead"); err != nil {
		return 0, fmt.Errorf("rpc: chain_getFinalizedHead: %w", err)
	}

	b, err := c.Block(ctx, hash)
	if err != nil {
		return 0, err
	}

	return b.Number, nil
}

// CapacityInfo reads the capacity ledger of providerID at the best block.
func (c *Client) CapacityInfo(ctx context.Context, providerID string) (types.CapacityInfo, error) {
	return c.capacityInfo(ctx, providerID)
}

// CapacityInfoAt reads the capacity ledger of providerID as it was at block hash.
func (c *Client) CapacityInfoAt(ctx context.Context, providerID, hash string) (types.CapacityInfo, error) {
	return c.capacityInfo(ctx, providerID, hash)
}

func (c *Client) capacityInfo(ctx context.Context, providerID string, at ...interface{}) (types.CapacityInfo, error) {
	var ci types.CapacityInfo
	if err := c.c.CallContext(ctx, &ci, "gateway_capacityInfo", append([]interface{}{providerID}, at...)...); err != nil {
		return ci, fmt.Errorf("rpc: gateway_capacityInfo %s: %w", providerID, err)
	}

	ci.ProviderID = providerID

	return ci, nil
}

// Submit sends a single call paid with the provider's capacity. The node assigns the nonce.
func (c *Client) Submit(ctx context.Context, call types.Call) (res types.SubmitResult, err error) {
	if err = c.c.CallContext(ctx, &res, "gateway_submit", call); err != nil {
		return res, submitError(err)
	}

	return res, nil
}

// SubmitBatch sends calls wrapped as a single batch call.
func (c *Client) SubmitBatch(ctx context.Context, calls []types.Call) (res types.SubmitResult, err error) {
	if err = c.c.CallContext(ctx, &res, "gateway_submitBatch", calls); err != nil {
		return res, submitError(err)
	}

	return res, nil
}

// submitError converts a node error into a SubmitError, marking nonce races with types.ErrNonceConflict.
func submitError(err error) error {
	var rerr gethrpc.Error
	if !errors.As(err, &rerr) {
		return fmt.Errorf("rpc: submit: %w", err)
	}

	se := &SubmitError{Code: rerr.ErrorCode(), Message: rerr.Error()}

	var derr gethrpc.DataError
	if errors.As(err, &derr) && derr.ErrorData() != nil {
		switch d := derr.ErrorData().(type) {
		case string:
			se.Data = d
		default:
			b, _ := json.Marshal(d)
			se.Data = string(b)
		}
	}

	if IsNonceConflict(se) {
		return fmt.Errorf("%w: %w", types.ErrNonceConflict, se)
	}

	return se
}

// IsNonceConflict reports whether the node rejected a transaction because another one took its nonce.
func IsNonceConflict(se *SubmitError) bool {
	if se.Code == CodePriorityTooLow {
		return true
	}

	msg := strings.ToLower(se.Message + " " + se.Data)

	return strings.Contains(msg, "priority is too low") ||
		(se.Code == CodeInvalidTx && (strings.Contains(msg, "outdated") || strings.Contains(msg, "stale")))
}

// monitor probes the node periodically, tracking connectivity and the observed block time.
func (c *Client) monitor() {
	defer close(c.done)

	t := time.NewTicker(c.probe)
	defer t.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-t.C:
			ctx, cancel := context.WithTimeout(context.Background(), c.probe)
			c.check(ctx)
			cancel()
		}
	}
}

// check runs one probe and updates the connectivity state.
func (c *Client) check(ctx context.Context) {
	var health json.RawMessage

	err := c.c.CallContext(ctx, &health, "system_health")
	if err == nil {
		c.observeHead(ctx)
	}

	c.setConnected(err == nil)
}

func (c *Client) observeHead(ctx context.Context) {
	var h *header
	if err := c.c.CallContext(ctx, &h, "chain_getHeader"); err != nil || h == nil {
		return
	}

	now := time.Now()
	n := uint64(h.Number)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.lastHead != 0 && n > c.lastHead {
		sample := now.Sub(c.lastHeadAt) / time.Duration(n-c.lastHead)
		bt := (3*time.Duration(c.blockTime.Load()) + sample) / 4
		c.blockTime.Store(int64(bt))
	}

	if n != c.lastHead {
		c.lastHead, c.lastHeadAt = n, now
	}
}

func (c *Client) setConnected(ok bool) {
	c.mu.Lock()
	if ok == c.connected {
		c.mu.Unlock()

		return
	}

	c.connected = ok
	if ok {
		close(c.readyCh)
	} else {
		c.readyCh = make(chan struct{})
	}

	ls := make([]func(bool), len(c.listeners))
	copy(ls, c.listeners)
	c.mu.Unlock()

	if ok {
		c.log.Info("chain connected")
	} else {
		c.log.Warn("chain disconnected")
	}

	for _, fn := range ls {
		fn(ok)
	}
}
