package provider

import (
	"errors"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/rpc"
)

// ErrExhausted signals that every backend in the rotation answered with a
// rate-limit error during a single operation.
var ErrExhausted = errors.New("provider: all backends rate limited")

// JSON-RPC error codes some gateways use for throttling in addition to a
// plain HTTP 429.
var rateLimitRPCCodes = map[int]bool{
	429:    true,
	-32005: true, // "limit exceeded"
}

// IsRateLimited classifies an error as a recoverable rate-limit rejection.
// Anything else (timeouts, reverts, malformed responses) is not retried by
// the provider.
func IsRateLimited(err error) bool {
	if err == nil {
		return false
	}

	var httpErr rpc.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode == http.StatusTooManyRequests
	}

	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		return rateLimitRPCCodes[rpcErr.ErrorCode()]
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "too many requests") || strings.Contains(msg, "rate limit")
}
