package blocktime

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/core/types"

	"disputable-values-monitor/internal/chain"
)

// HeaderSource exposes the calls needed to search block timestamps.
type HeaderSource interface {
	BlockNumber(ctx context.Context) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
}

// BlockAt returns the block whose timestamp equals target, or an interpolated
// estimate between the two blocks that bracket it. Block timestamps are assumed
// to be non-decreasing in block number.
func BlockAt(ctx context.Context, src HeaderSource, target uint64) (uint64, error) {
	head, err := src.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("get head block: %w", err)
	}

	cache := make(map[uint64]uint64)
	timeOf := func(n uint64) (uint64, error) {
		if ts, ok := cache[n]; ok {
			return ts, nil
		}
		h, err := src.HeaderByNumber(ctx, new(big.Int).SetUint64(n))
		if err != nil {
			return 0, fmt.Errorf("get block %d: %w", n, err)
		}
		cache[n] = h.Time
		return h.Time, nil
	}

	// start/end are signed so end can step below block zero.
	start, end := int64(0), int64(head)
	for start <= end {
		mid := start + (end-start)/2
		ts, err := timeOf(uint64(mid))
		if err != nil {
			return 0, err
		}
		switch {
		case ts == target:
			return uint64(mid), nil
		case ts < target:
			start = mid + 1
		default:
			end = mid - 1
		}
	}

	// end is the last block before target, start the first block after it.
	if end < 0 {
		return 0, nil
	}
	if uint64(start) > head {
		return head, nil
	}

	a, b := uint64(end), uint64(start)
	tsA, err := timeOf(a)
	if err != nil {
		return 0, err
	}
	tsB, err := timeOf(b)
	if err != nil {
		return 0, err
	}
	return interpolate(a, tsA, b, tsB, target), nil
}

// interpolate estimates the block at target, clamped to [a, b].
func interpolate(a, tsA, b, tsB, target uint64) uint64 {
	if tsB <= tsA || b <= a {
		return a
	}
	if target <= tsA {
		return a
	}
	if target >= tsB {
		return b
	}
	offset := new(big.Int).Mul(new(big.Int).SetUint64(target-tsA), new(big.Int).SetUint64(b-a))
	offset.Quo(offset, new(big.Int).SetUint64(tsB-tsA))
	est := a + offset.Uint64()
	if est > b {
		return b
	}
	return est
}

// Resolver resolves timestamps to blocks on any configured chain.
type Resolver struct {
	chains chain.Provider
}

// NewResolver builds a Resolver backed by chains.
func NewResolver(chains chain.Provider) *Resolver {
	return &Resolver{chains: chains}
}

// BlockAt resolves target on chainID.
func (r *Resolver) BlockAt(ctx context.Context, chainID uint64, target uint64) (uint64, error) {
	client, err := r.chains.Client(ctx, chainID)
	if err != nil {
		return 0, err
	}
	return BlockAt(ctx, client, target)
}
