package multicall

import (
	"context"
	"encoding/hex"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

type fakeCaller struct {
	lastMsg ethereum.CallMsg
	out     []byte
	err     error
}

func (f *fakeCaller) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	f.lastMsg = msg
	return f.out, f.err
}

func packOutput(t *testing.T, results []Result) []byte {
	t.Helper()
	out, err := aggregate3ABI.Methods["aggregate3"].Outputs.Pack(results)
	require.NoError(t, err)
	return out
}

func word(t *testing.T, v int64) []byte {
	t.Helper()
	raw := common.LeftPadBytes(big.NewInt(v).Bytes(), 32)
	return raw
}

func testCalls() []Call {
	return []Call{
		{Target: common.HexToAddress("0x01"), AllowFailure: true, CallData: []byte{0xaa}},
		{Target: common.HexToAddress("0x02"), AllowFailure: true, CallData: []byte{0xbb}},
		{Target: common.HexToAddress("0x03"), AllowFailure: true, CallData: []byte{0xcc}},
	}
}

func TestAggregateIsolatesSubCallFailures(t *testing.T) {
	contract := common.HexToAddress(DefaultContract)
	fake := &fakeCaller{}
	fake.out = packOutput(t, []Result{
		{Success: true, ReturnData: word(t, 11)},
		{Success: false, ReturnData: nil},
		{Success: true, ReturnData: word(t, 33)},
	})

	c := New(fake, contract)
	results, err := c.Aggregate(context.Background(), testCalls())
	require.NoError(t, err)
	require.Len(t, results, 3)

	require.True(t, results[0].Success)
	require.EqualValues(t, 11, new(big.Int).SetBytes(results[0].ReturnData).Int64())

	require.False(t, results[1].Success, "failed sub-call must surface as an unsuccessful slot")
	require.Empty(t, results[1].ReturnData)

	require.True(t, results[2].Success)
	require.EqualValues(t, 33, new(big.Int).SetBytes(results[2].ReturnData).Int64())

	require.Equal(t, &contract, fake.lastMsg.To, "batch must target the multicall contract")
}

func TestAggregateCallDataRoundTrip(t *testing.T) {
	fake := &fakeCaller{}
	fake.out = packOutput(t, []Result{{Success: true}, {Success: true}, {Success: true}})

	c := New(fake, common.HexToAddress(DefaultContract))
	calls := testCalls()
	_, err := c.Aggregate(context.Background(), calls)
	require.NoError(t, err)

	// The packed payload must embed every sub-call target and calldata.
	payload := hex.EncodeToString(fake.lastMsg.Data)
	for _, call := range calls {
		require.Contains(t, payload, hex.EncodeToString(call.CallData))
	}
}

func TestAggregateEmptyBatch(t *testing.T) {
	fake := &fakeCaller{err: errors.New("should not be called")}
	c := New(fake, common.HexToAddress(DefaultContract))

	results, err := c.Aggregate(context.Background(), nil)
	require.NoError(t, err)
	require.Empty(t, results)
}

func TestAggregateTransportErrorPropagates(t *testing.T) {
	fake := &fakeCaller{err: errors.New("boom")}
	c := New(fake, common.HexToAddress(DefaultContract))

	_, err := c.Aggregate(context.Background(), testCalls())
	require.Error(t, err)
}

func TestAggregateArityMismatch(t *testing.T) {
	fake := &fakeCaller{}
	fake.out = packOutput(t, []Result{{Success: true}})

	c := New(fake, common.HexToAddress(DefaultContract))
	_, err := c.Aggregate(context.Background(), testCalls())
	require.Error(t, err, "result/call count mismatch must be rejected")
}
