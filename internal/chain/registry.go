package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// ErrNoEndpoint indicates no RPC endpoint is configured for a chain.
var ErrNoEndpoint = errors.New("chain: no endpoint configured")

// Client is the subset of the JSON-RPC surface the monitor consumes.
type Client interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
}

// Provider hands out clients by chain id.
type Provider interface {
	Client(ctx context.Context, chainID uint64) (Client, error)
}

// DialFunc opens a client for an RPC URL.
type DialFunc func(ctx context.Context, url string) (Client, error)

// EndpointOptions describes one chain endpoint.
type EndpointOptions struct {
	ChainID   uint64
	Name      string
	RPCURL    string
	Explorer  string
	Timeout   time.Duration
	RateLimit float64
	Burst     int
}

type endpoint struct {
	opts    EndpointOptions
	limiter *rate.Limiter

	mu     sync.Mutex
	client Client
}

// Registry keeps one lazily dialed client per chain.
type Registry struct {
	endpoints map[uint64]*endpoint
	dial      DialFunc
	logger    zerolog.Logger
}

// NewRegistry builds a registry. A nil dial uses ethclient.
func NewRegistry(opts []EndpointOptions, dial DialFunc, logger zerolog.Logger) *Registry {
	if dial == nil {
		dial = dialEthclient
	}
	r := &Registry{
		endpoints: make(map[uint64]*endpoint, len(opts)),
		dial:      dial,
		logger:    logger.With().Str("component", "chain_registry").Logger(),
	}
	for _, o := range opts {
		if o.Timeout <= 0 {
			o.Timeout = 15 * time.Second
		}
		ep := &endpoint{opts: o}
		if o.RateLimit > 0 {
			burst := o.Burst
			if burst <= 0 {
				burst = 1
			}
			ep.limiter = rate.NewLimiter(rate.Limit(o.RateLimit), burst)
		}
		r.endpoints[o.ChainID] = ep
	}
	return r
}

func dialEthclient(ctx context.Context, url string) (Client, error) {
	client, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// Has reports whether chainID has a usable endpoint.
func (r *Registry) Has(chainID uint64) bool {
	ep, ok := r.endpoints[chainID]
	return ok && ep.opts.RPCURL != ""
}

// ChainIDs lists configured chains in ascending order.
func (r *Registry) ChainIDs() []uint64 {
	ids := make([]uint64, 0, len(r.endpoints))
	for id := range r.endpoints {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Name returns the configured display name of a chain.
func (r *Registry) Name(chainID uint64) string {
	if ep, ok := r.endpoints[chainID]; ok && ep.opts.Name != "" {
		return ep.opts.Name
	}
	return fmt.Sprintf("chain-%d", chainID)
}

// Client returns the chain's client, dialing on first use.
func (r *Registry) Client(ctx context.Context, chainID uint64) (Client, error) {
	ep, ok := r.endpoints[chainID]
	if !ok || ep.opts.RPCURL == "" {
		return nil, fmt.Errorf("%w: chain_id %d", ErrNoEndpoint, chainID)
	}

	ep.mu.Lock()
	defer ep.mu.Unlock()

	if ep.client != nil {
		return ep.client, nil
	}

	dialCtx, cancel := context.WithTimeout(ctx, ep.opts.Timeout)
	defer cancel()

	inner, err := r.dial(dialCtx, ep.opts.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial chain_id %d: %w", chainID, err)
	}
	r.logger.Info().Uint64("chain_id", chainID).Str("name", ep.opts.Name).Msg("connected to endpoint")

	ep.client = &guardedClient{
		chainID: chainID,
		inner:   inner,
		limiter: ep.limiter,
		timeout: ep.opts.Timeout,
	}
	return ep.client, nil
}

// ExplorerTxURL links a transaction on the chain's block explorer.
func (r *Registry) ExplorerTxURL(chainID uint64, txHash common.Hash) string {
	ep, ok := r.endpoints[chainID]
	if !ok || ep.opts.Explorer == "" {
		return fmt.Sprintf("Explorer not defined for chain_id %d", chainID)
	}
	explorer := ep.opts.Explorer
	if !strings.HasSuffix(explorer, "/") {
		explorer += "/"
	}
	return explorer + "tx/" + txHash.Hex()
}

var _ Provider = (*Registry)(nil)
