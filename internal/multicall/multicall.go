// Package multicall groups many independent contract reads into a single
// Multicall3 aggregate3 call. Sub-call failures are isolated: each result
// slot reports its own success flag and the batch as a whole never aborts
// because one item failed.
package multicall

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// DefaultContract is the canonical Multicall3 deployment address, identical
// on most EVM networks.
const DefaultContract = "0xcA11bde05977b3631167028862bE2a173976CA11"

const aggregate3ABIJSON = `[{"inputs":[{"components":[{"internalType":"address","name":"target","type":"address"},{"internalType":"bool","name":"allowFailure","type":"bool"},{"internalType":"bytes","name":"callData","type":"bytes"}],"internalType":"struct Multicall3.Call3[]","name":"calls","type":"tuple[]"}],"name":"aggregate3","outputs":[{"components":[{"internalType":"bool","name":"success","type":"bool"},{"internalType":"bytes","name":"returnData","type":"bytes"}],"internalType":"struct Multicall3.Result[]","name":"returnData","type":"tuple[]"}],"stateMutability":"payable","type":"function"}]`

var aggregate3ABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(aggregate3ABIJSON))
	if err != nil {
		panic("failed to parse Multicall3 ABI: " + err.Error())
	}
	aggregate3ABI = parsed
}

// Call is one sub-read inside a batch.
type Call struct {
	Target       common.Address `json:"target"`
	AllowFailure bool           `json:"allowFailure"`
	CallData     []byte         `json:"callData"`
}

// Result mirrors one aggregate3 result slot.
type Result struct {
	Success    bool   `json:"success"`
	ReturnData []byte `json:"returnData"`
}

// ContractCaller is the read dependency, satisfied by provider.Provider.
type ContractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Caller batches reads through one Multicall3 contract.
type Caller struct {
	caller   ContractCaller
	contract common.Address
}

// New constructs a batch caller against the given Multicall3 deployment.
func New(caller ContractCaller, contract common.Address) *Caller {
	return &Caller{caller: caller, contract: contract}
}

// Aggregate executes all calls in one aggregate3 round trip. The returned
// slice is parallel to calls; for sub-calls with AllowFailure set a failed
// slot has Success=false instead of failing the batch. The caller controls
// batch size; no implicit chunking happens here.
func (c *Caller) Aggregate(ctx context.Context, calls []Call) ([]Result, error) {
	if len(calls) == 0 {
		return []Result{}, nil
	}

	data, err := aggregate3ABI.Pack("aggregate3", calls)
	if err != nil {
		return nil, fmt.Errorf("pack aggregate3: %w", err)
	}

	raw, err := c.caller.CallContract(ctx, ethereum.CallMsg{To: &c.contract, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call multicall contract: %w", err)
	}

	unpacked, err := aggregate3ABI.Unpack("aggregate3", raw)
	if err != nil {
		return nil, fmt.Errorf("unpack aggregate3: %w", err)
	}
	if len(unpacked) != 1 {
		return nil, fmt.Errorf("unexpected aggregate3 output arity %d", len(unpacked))
	}

	results := *abi.ConvertType(unpacked[0], new([]Result)).(*[]Result)
	if len(results) != len(calls) {
		return nil, fmt.Errorf("aggregate3 returned %d results for %d calls", len(results), len(calls))
	}
	return results, nil
}
