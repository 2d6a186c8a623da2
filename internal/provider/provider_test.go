package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
)

type rpcRequest struct {
	ID     json.RawMessage `json:"id"`
	Method string          `json:"method"`
}

// jsonRPCServer answers every call with the given hex result.
func jsonRPCServer(t *testing.T, hits *atomic.Int64, result string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode rpc request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%s,"result":"%s"}`, req.ID, result)
	}))
}

func statusServer(t *testing.T, hits *atomic.Int64, status int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(status)
	}))
}

func newTestProvider(t *testing.T, urls ...string) *Provider {
	t.Helper()
	p, err := New(Options{
		RPCURLs:        urls,
		RequestTimeout: 2 * time.Second,
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	t.Cleanup(p.Close)
	return p
}

func testCallMsg() ethereum.CallMsg {
	to := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	return ethereum.CallMsg{To: &to, Data: []byte{0x01, 0x02, 0x03, 0x04}}
}

const resultWord = "0x000000000000000000000000000000000000000000000000000000000000002a"

func TestRotatesPastRateLimitedBackend(t *testing.T) {
	var hits0, hits1 atomic.Int64
	b0 := statusServer(t, &hits0, http.StatusTooManyRequests)
	defer b0.Close()
	b1 := jsonRPCServer(t, &hits1, resultWord)
	defer b1.Close()

	p := newTestProvider(t, b0.URL, b1.URL)

	out, err := p.CallContract(context.Background(), testCallMsg(), nil)
	if err != nil {
		t.Fatalf("CallContract should succeed via second backend: %v", err)
	}
	if got := new(big.Int).SetBytes(out); got.Int64() != 42 {
		t.Fatalf("unexpected result %s", got)
	}
	if p.ActiveIndex() != 1 {
		t.Fatalf("active index should stick to the successful backend, got %d", p.ActiveIndex())
	}

	// A repeat call must go straight to the sticky backend without probing
	// the throttled one again.
	before0 := hits0.Load()
	if _, err := p.CallContract(context.Background(), testCallMsg(), nil); err != nil {
		t.Fatalf("repeat call failed: %v", err)
	}
	if hits0.Load() != before0 {
		t.Fatalf("rate-limited backend was probed again (%d -> %d hits)", before0, hits0.Load())
	}
	if hits1.Load() < 2 {
		t.Fatalf("active backend should have served both calls, got %d hits", hits1.Load())
	}
}

func TestAllBackendsRateLimited(t *testing.T) {
	var hits0, hits1, hits2 atomic.Int64
	b0 := statusServer(t, &hits0, http.StatusTooManyRequests)
	defer b0.Close()
	b1 := statusServer(t, &hits1, http.StatusTooManyRequests)
	defer b1.Close()
	b2 := statusServer(t, &hits2, http.StatusTooManyRequests)
	defer b2.Close()

	p := newTestProvider(t, b0.URL, b1.URL, b2.URL)

	var rotations atomic.Int64
	p.OnRotate = func() { rotations.Add(1) }

	_, err := p.CallContract(context.Background(), testCallMsg(), nil)
	if !errors.Is(err, ErrExhausted) {
		t.Fatalf("want ErrExhausted, got %v", err)
	}
	if p.ActiveIndex() != 0 {
		t.Fatalf("active index must not move on failure, got %d", p.ActiveIndex())
	}
	if hits0.Load() != 1 || hits1.Load() != 1 || hits2.Load() != 1 {
		t.Fatalf("each backend should be tried exactly once, got %d/%d/%d",
			hits0.Load(), hits1.Load(), hits2.Load())
	}
	if rotations.Load() != 3 {
		t.Fatalf("expected 3 rotation hops, got %d", rotations.Load())
	}
}

func TestNonRateLimitErrorPropagatesImmediately(t *testing.T) {
	var hits0, hits1 atomic.Int64
	b0 := statusServer(t, &hits0, http.StatusInternalServerError)
	defer b0.Close()
	b1 := jsonRPCServer(t, &hits1, resultWord)
	defer b1.Close()

	p := newTestProvider(t, b0.URL, b1.URL)

	_, err := p.CallContract(context.Background(), testCallMsg(), nil)
	if err == nil {
		t.Fatal("expected error from failing backend")
	}
	if errors.Is(err, ErrExhausted) {
		t.Fatalf("a 500 must not be treated as rate limiting: %v", err)
	}
	if hits1.Load() != 0 {
		t.Fatal("second backend must not be tried for a non-rate-limit failure")
	}
	if p.ActiveIndex() != 0 {
		t.Fatalf("active index must be unchanged, got %d", p.ActiveIndex())
	}
}

func TestBlockNumber(t *testing.T) {
	var hits atomic.Int64
	b := jsonRPCServer(t, &hits, "0x10")
	defer b.Close()

	p := newTestProvider(t, b.URL)
	n, err := p.BlockNumber(context.Background())
	if err != nil {
		t.Fatalf("BlockNumber: %v", err)
	}
	if n != 16 {
		t.Fatalf("want block 16, got %d", n)
	}
}

func TestNewRequiresEndpoints(t *testing.T) {
	if _, err := New(Options{}, zerolog.Nop()); err == nil {
		t.Fatal("expected error for empty endpoint list")
	}
}

func TestIsRateLimitedClassification(t *testing.T) {
	if IsRateLimited(nil) {
		t.Fatal("nil is not rate limited")
	}
	if IsRateLimited(errors.New("execution reverted")) {
		t.Fatal("revert is not rate limited")
	}
	if !IsRateLimited(errors.New("429 Too Many Requests")) {
		t.Fatal("429 text should classify as rate limited")
	}
	if !IsRateLimited(fmt.Errorf("wrapped: %w", errors.New("rate limit exceeded"))) {
		t.Fatal("wrapped rate-limit text should classify")
	}
}
