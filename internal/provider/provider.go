// Package provider exposes one logical read interface over an ordered list
// of RPC backends. The backend that most recently succeeded stays active;
// rate-limited backends are skipped by advancing through the rotation, at
// most one full pass per operation.
package provider

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Options parameterise the provider.
type Options struct {
	RPCURLs          []string
	ChainID          int64
	ThrottleInterval time.Duration
	RotationHop      int
	RequestTimeout   time.Duration
}

type backend struct {
	url     string
	limiter *rate.Limiter

	mu     sync.Mutex
	client *ethclient.Client
}

func (b *backend) getClient(ctx context.Context) (*ethclient.Client, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.client != nil {
		return b.client, nil
	}

	client, err := ethclient.DialContext(ctx, b.url)
	if err != nil {
		return nil, err
	}
	b.client = client
	return client, nil
}

func (b *backend) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.client != nil {
		b.client.Close()
		b.client = nil
	}
}

// Provider is the resilient read layer. Safe for concurrent use; the active
// index is best-effort shared state, a slightly stale read is acceptable.
type Provider struct {
	opts     Options
	backends []*backend
	logger   zerolog.Logger

	mu     sync.Mutex
	active int

	// OnRotate, when set, is invoked once per rate-limit hop. Used for
	// metrics; must not block.
	OnRotate func()
}

// New validates options and constructs the provider. No connection is made
// until the first operation.
func New(opts Options, logger zerolog.Logger) (*Provider, error) {
	if len(opts.RPCURLs) == 0 {
		return nil, fmt.Errorf("provider: at least one rpc url is required")
	}
	if opts.RotationHop <= 0 {
		opts.RotationHop = 1
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 10 * time.Second
	}

	limit := rate.Inf
	if opts.ThrottleInterval > 0 {
		limit = rate.Every(opts.ThrottleInterval)
	}

	backends := make([]*backend, 0, len(opts.RPCURLs))
	for _, url := range opts.RPCURLs {
		backends = append(backends, &backend{
			url:     url,
			limiter: rate.NewLimiter(limit, 1),
		})
	}

	return &Provider{
		opts:     opts,
		backends: backends,
		logger:   logger.With().Str("component", "provider").Logger(),
	}, nil
}

// ActiveIndex returns the currently preferred backend index.
func (p *Provider) ActiveIndex() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

func (p *Provider) markActive(idx int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active != idx {
		p.logger.Info().Int("from", p.active).Int("to", idx).Msg("switching active backend")
		p.active = idx
	}
}

// Close releases all dialed clients.
func (p *Provider) Close() {
	for _, b := range p.backends {
		b.close()
	}
}

func (p *Provider) do(ctx context.Context, op string, fn func(ctx context.Context, client *ethclient.Client) error) error {
	n := len(p.backends)
	start := p.ActiveIndex()

	var lastErr error
	for attempt := 0; attempt < n; attempt++ {
		idx := (start + attempt*p.opts.RotationHop) % n
		b := p.backends[idx]

		if err := b.limiter.Wait(ctx); err != nil {
			return err
		}

		callCtx, cancel := context.WithTimeout(ctx, p.opts.RequestTimeout)
		client, err := b.getClient(callCtx)
		if err == nil {
			err = fn(callCtx, client)
		}
		cancel()

		if err == nil {
			p.markActive(idx)
			return nil
		}
		if !IsRateLimited(err) {
			return err
		}

		lastErr = err
		p.logger.Debug().Str("op", op).Int("backend", idx).Msg("backend rate limited, rotating")
		if p.OnRotate != nil {
			p.OnRotate()
		}
	}

	return fmt.Errorf("%w during %s: %w", ErrExhausted, op, lastErr)
}

// CallContract performs eth_call against the active backend, rotating on
// rate limits.
func (p *Provider) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	var out []byte
	err := p.do(ctx, "eth_call", func(ctx context.Context, client *ethclient.Client) error {
		res, err := client.CallContract(ctx, msg, blockNumber)
		if err != nil {
			return err
		}
		out = res
		return nil
	})
	return out, err
}

// BlockNumber reports the current head block of the active backend.
func (p *Provider) BlockNumber(ctx context.Context) (uint64, error) {
	var out uint64
	err := p.do(ctx, "eth_blockNumber", func(ctx context.Context, client *ethclient.Client) error {
		n, err := client.BlockNumber(ctx)
		if err != nil {
			return err
		}
		out = n
		return nil
	})
	return out, err
}
