package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tarancss/capgw/lib/chain/types"
)

// mockRequest is a JSON-RPC request received by the mock node.
type mockRequest struct {
	Version string            `json:"jsonrpc"`
	ID      json.RawMessage   `json:"id"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
}

type mockError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data,omitempty"`
}

// mockNode answers JSON-RPC calls with canned results.
type mockNode struct {
	healthy atomic.Bool
	head    atomic.Uint64
	submit  atomic.Pointer[mockError]
}

func (m *mockNode) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	var req mockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		rw.WriteHeader(http.StatusBadRequest)

		return
	}

	res := map[string]interface{}{"jsonrpc": "2.0", "id": req.ID}

	switch req.Method {
	case "system_health":
		if !m.healthy.Load() {
			res["error"] = mockError{Code: -32000, Message: "unhealthy"}
		} else {
			res["result"] = map[string]interface{}{"peers": 3, "isSyncing": false}
		}
	case "chain_getBlockHash":
		var n uint64
		_ = json.Unmarshal(req.Params[0], &n)

		if n > 10 {
			res["result"] = nil
		} else {
			res["result"] = "0xaa0" + string(rune('0'+n%10))
		}
	case "chain_getHeader":
		if len(req.Params) == 0 {
			res["result"] = map[string]string{"number": hexutil.EncodeUint64(m.head.Load()), "parentHash": "0x01"}
		} else {
			res["result"] = map[string]string{"number": "0x7", "parentHash": "0xaa06"}
		}
	case "chain_getFinalizedHead":
		res["result"] = "0xaa07"
	case "gateway_getEvents":
		res["result"] = []types.Event{{Section: "messages", Method: "MessagesInBlock", Index: 0}}
	case "gateway_capacityInfo":
		if len(req.Params) > 1 {
			res["result"] = types.CapacityInfo{CurrentEpoch: 2, CurrentBlockNumber: 7, NextEpochStart: 500,
				RemainingCapacity: 900, TotalCapacityIssued: 1000}
		} else {
			res["result"] = types.CapacityInfo{CurrentEpoch: 3, CurrentBlockNumber: 994, NextEpochStart: 1000,
				RemainingCapacity: 600, TotalCapacityIssued: 1000}
		}
	case "gateway_submit", "gateway_submitBatch":
		if e := m.submit.Load(); e != nil {
			res["error"] = e
		} else {
			res["result"] = types.SubmitResult{TxHash: "0xfeed", BlockNumber: 12,
				Mortality: &types.Mortality{Birth: 12, Death: 76}}
		}
	default:
		res["error"] = mockError{Code: -32601, Message: "method not found"}
	}

	rw.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(rw).Encode(res)
}

func newTestClient(t *testing.T, node *mockNode) *Client {
	t.Helper()

	srv := httptest.NewServer(node)
	t.Cleanup(srv.Close)

	c, err := gethrpc.DialContext(context.Background(), srv.URL)
	require.NoError(t, err)

	cli := newClient(c, Options{BlockTime: time.Second, ProbeInterval: time.Hour}, zap.NewNop())
	t.Cleanup(func() { c.Close() })

	return cli
}

func TestBlockQueries(t *testing.T) {
	node := &mockNode{}
	node.healthy.Store(true)
	cli := newTestClient(t, node)
	ctx := context.Background()

	hash, err := cli.BlockHash(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, "0xaa03", hash)

	hash, err = cli.BlockHash(ctx, 11)
	require.NoError(t, err)
	assert.Empty(t, hash, "blocks past the tip have no hash")

	b, err := cli.Block(ctx, "0xaa07")
	require.NoError(t, err)
	assert.Equal(t, uint64(7), b.Number)
	assert.Equal(t, "0xaa06", b.PHash)

	fin, err := cli.FinalizedBlockNumber(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), fin)

	evs, err := cli.Events(ctx, "0xaa07")
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, "messages.MessagesInBlock", evs[0].Name())

	ci, err := cli.CapacityInfo(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, "42", ci.ProviderID)
	assert.Equal(t, uint64(6), ci.BlocksUntilNextEpoch())

	ci, err = cli.CapacityInfoAt(ctx, "42", "0xaa07")
	require.NoError(t, err)
	assert.Equal(t, "42", ci.ProviderID)
	assert.Equal(t, uint64(2), ci.CurrentEpoch)
	assert.Equal(t, uint64(7), ci.CurrentBlockNumber)
}

func TestSubmit(t *testing.T) {
	node := &mockNode{}
	node.healthy.Store(true)
	cli := newTestClient(t, node)
	ctx := context.Background()

	res, err := cli.Submit(ctx, types.Call{Pallet: "messages", Method: "addIpfsMessage"})
	require.NoError(t, err)
	assert.Equal(t, "0xfeed", res.TxHash)
	require.NotNil(t, res.Mortality)
	assert.Equal(t, uint64(76), res.Mortality.Death)

	node.submit.Store(&mockError{Code: CodePriorityTooLow, Message: "Priority is too low: (140 vs 140)",
		Data: "The transaction has too low priority to replace another transaction already in the pool."})
	_, err = cli.SubmitBatch(ctx, []types.Call{{Pallet: "a", Method: "b"}, {Pallet: "c", Method: "d"}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrNonceConflict))

	node.submit.Store(&mockError{Code: CodeInvalidTx, Message: "Invalid Transaction",
		Data: "Inability to pay some fees (e.g. account balance too low)"})
	_, err = cli.Submit(ctx, types.Call{Pallet: "messages", Method: "addIpfsMessage"})
	require.Error(t, err)
	assert.False(t, errors.Is(err, types.ErrNonceConflict))
	assert.Contains(t, err.Error(), types.CapacityFeeRejection)

	node.submit.Store(&mockError{Code: CodeInvalidTx, Message: "Invalid Transaction", Data: "Transaction is outdated"})
	_, err = cli.Submit(ctx, types.Call{Pallet: "messages", Method: "addIpfsMessage"})
	assert.True(t, errors.Is(err, types.ErrNonceConflict))
}

func TestConnectivity(t *testing.T) {
	node := &mockNode{}
	cli := newTestClient(t, node)

	var events []bool
	cli.OnConnectivity(func(ok bool) { events = append(events, ok) })

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	cli.check(context.Background())
	require.ErrorIs(t, cli.Ready(ctx), types.ErrNotConnected)

	node.healthy.Store(true)
	node.head.Store(100)
	cli.check(context.Background())
	require.NoError(t, cli.Ready(context.Background()))

	cli.check(context.Background()) // no edge, no event
	node.healthy.Store(false)
	cli.check(context.Background())

	assert.Equal(t, []bool{true, false}, events)
}

func TestObservedBlockTime(t *testing.T) {
	node := &mockNode{}
	node.healthy.Store(true)
	cli := newTestClient(t, node)

	node.head.Store(100)
	cli.check(context.Background())
	assert.Equal(t, time.Second, cli.AvgBlock())

	cli.mu.Lock()
	cli.lastHeadAt = cli.lastHeadAt.Add(-10 * time.Second)
	cli.mu.Unlock()

	node.head.Store(105)
	cli.check(context.Background())

	// one sample of ~2s blended into the 1s default: (3*1s + 2s) / 4
	assert.InDelta(t, float64(1250*time.Millisecond), float64(cli.AvgBlock()), float64(50*time.Millisecond))
}
