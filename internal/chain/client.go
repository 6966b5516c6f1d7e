package chain

import (
	"context"
	"math/big"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"golang.org/x/time/rate"

	"disputable-values-monitor/internal/metrics"
)

// guardedClient applies the per-chain rate limit and request timeout to every call.
type guardedClient struct {
	chainID uint64
	inner   Client
	limiter *rate.Limiter
	timeout time.Duration
}

func (c *guardedClient) begin(ctx context.Context, method string) (context.Context, context.CancelFunc, func(error), error) {
	label := strconv.FormatUint(c.chainID, 10)
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			metrics.RecordRPC(label, method, err)
			return nil, nil, nil, err
		}
	}
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	done := func(err error) { metrics.RecordRPC(label, method, err) }
	return callCtx, cancel, done, nil
}

func (c *guardedClient) BlockNumber(ctx context.Context) (uint64, error) {
	callCtx, cancel, done, err := c.begin(ctx, "eth_blockNumber")
	if err != nil {
		return 0, err
	}
	defer cancel()
	n, err := c.inner.BlockNumber(callCtx)
	done(err)
	return n, err
}

func (c *guardedClient) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	callCtx, cancel, done, err := c.begin(ctx, "eth_getLogs")
	if err != nil {
		return nil, err
	}
	defer cancel()
	logs, err := c.inner.FilterLogs(callCtx, q)
	done(err)
	return logs, err
}

func (c *guardedClient) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	callCtx, cancel, done, err := c.begin(ctx, "eth_getBlockByNumber")
	if err != nil {
		return nil, err
	}
	defer cancel()
	h, err := c.inner.HeaderByNumber(callCtx, number)
	done(err)
	return h, err
}

func (c *guardedClient) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	callCtx, cancel, done, err := c.begin(ctx, "eth_call")
	if err != nil {
		return nil, err
	}
	defer cancel()
	out, err := c.inner.CallContract(callCtx, msg, blockNumber)
	done(err)
	return out, err
}

func (c *guardedClient) BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error) {
	callCtx, cancel, done, err := c.begin(ctx, "eth_getBalance")
	if err != nil {
		return nil, err
	}
	defer cancel()
	bal, err := c.inner.BalanceAt(callCtx, account, blockNumber)
	done(err)
	return bal, err
}

var _ Client = (*guardedClient)(nil)
