// Package chaintest provides an in-memory chain client for tests.
package chaintest

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"disputable-values-monitor/internal/chain"
)

// Client is a scriptable chain.Client.
type Client struct {
	mu sync.Mutex

	Head    uint64
	HeadErr error

	Logs    []types.Log
	LogsErr error

	// TimeAt returns the timestamp of block n. Defaults to 15s spacing from 1_600_000_000.
	TimeAt func(n uint64) uint64

	CallFunc   func(msg ethereum.CallMsg, block *big.Int) ([]byte, error)
	Balances   map[common.Address]*big.Int
	BalanceErr error

	FilterCalls  []ethereum.FilterQuery
	HeaderCalls  int
	BalanceCalls int
}

// SetBalance sets the native balance of addr.
func (c *Client) SetBalance(addr common.Address, v *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Balances == nil {
		c.Balances = make(map[common.Address]*big.Int)
	}
	c.Balances[addr] = v
}

func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Head, c.HeadErr
}

func (c *Client) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.FilterCalls = append(c.FilterCalls, q)
	if c.LogsErr != nil {
		return nil, c.LogsErr
	}
	out := make([]types.Log, 0, len(c.Logs))
	for _, l := range c.Logs {
		if q.FromBlock != nil && l.BlockNumber < q.FromBlock.Uint64() {
			continue
		}
		if q.ToBlock != nil && l.BlockNumber > q.ToBlock.Uint64() {
			continue
		}
		out = append(out, l)
	}
	return out, nil
}

func (c *Client) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.HeaderCalls++
	n := c.Head
	if number != nil {
		n = number.Uint64()
	}
	if n > c.Head {
		return nil, fmt.Errorf("unknown block %d", n)
	}
	timeAt := c.TimeAt
	if timeAt == nil {
		timeAt = func(n uint64) uint64 { return 1_600_000_000 + 15*n }
	}
	return &types.Header{Number: new(big.Int).SetUint64(n), Time: timeAt(n)}, nil
}

func (c *Client) CallContract(ctx context.Context, msg ethereum.CallMsg, block *big.Int) ([]byte, error) {
	if c.CallFunc == nil {
		return nil, fmt.Errorf("eth_call not scripted")
	}
	return c.CallFunc(msg, block)
}

func (c *Client) BalanceAt(ctx context.Context, account common.Address, block *big.Int) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.BalanceCalls++
	if c.BalanceErr != nil {
		return nil, c.BalanceErr
	}
	if v, ok := c.Balances[account]; ok {
		return new(big.Int).Set(v), nil
	}
	return big.NewInt(0), nil
}

// Provider maps chain ids to fake clients.
type Provider map[uint64]*Client

func (p Provider) Client(ctx context.Context, chainID uint64) (chain.Client, error) {
	c, ok := p[chainID]
	if !ok {
		return nil, fmt.Errorf("%w: chain_id %d", chain.ErrNoEndpoint, chainID)
	}
	return c, nil
}

var (
	_ chain.Client   = (*Client)(nil)
	_ chain.Provider = Provider(nil)
)
