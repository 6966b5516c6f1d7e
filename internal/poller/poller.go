package poller

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"

	"disputable-values-monitor/internal/chain"
	"disputable-values-monitor/internal/metrics"
)

// Target is one (chain, contracts, topics) subscription with its own cursor.
type Target struct {
	ChainID   uint64
	Addresses []common.Address
	Topics    [][]common.Hash
	Stream    Stream
}

// Entry is a newly observed log tagged with its chain.
type Entry struct {
	ChainID uint64
	Log     types.Log
}

// Options tune scan windows.
type Options struct {
	InitialOffset uint64
	ReorgMargin   uint64
}

// Poller fetches logs since the last cursor position.
type Poller struct {
	chains chain.Provider
	state  *State
	opts   Options
	logger zerolog.Logger
}

// New constructs a Poller.
func New(chains chain.Provider, state *State, opts Options, logger zerolog.Logger) *Poller {
	if state == nil {
		state = NewState()
	}
	return &Poller{
		chains: chains,
		state:  state,
		opts:   opts,
		logger: logger.With().Str("component", "poller").Logger(),
	}
}

// State exposes the cursor set.
func (p *Poller) State() *State {
	return p.state
}

// Poll returns logs observed since the target's cursor and advances the cursor
// to the chain head. Failures are logged and yield no entries with the cursor untouched.
func (p *Poller) Poll(ctx context.Context, target Target) []Entry {
	log := p.logger.With().Uint64("chain_id", target.ChainID).Str("stream", string(target.Stream)).Logger()

	client, err := p.chains.Client(ctx, target.ChainID)
	if err != nil {
		p.recordFailure(target, "connectivity")
		log.Error().Err(err).Msg("no client for chain")
		return nil
	}

	head, err := client.BlockNumber(ctx)
	if err != nil {
		p.recordFailure(target, classify(err))
		log.Warn().Err(err).Str("reason", classify(err)).Msg("unable to read chain head")
		return nil
	}

	from := p.fromBlock(target, head)
	entries, err := fetch(ctx, client, target, from, head)
	if err != nil {
		reason := classify(err)
		p.recordFailure(target, reason)
		log.Warn().Err(err).Str("reason", reason).Uint64("from", from).Uint64("to", head).Msg("log query failed; cursor unchanged")
		return nil
	}

	p.state.Advance(target.ChainID, target.Stream, head)
	log.Debug().Uint64("from", from).Uint64("to", head).Int("logs", len(entries)).Msg("scanned logs")
	return entries
}

// FetchRange returns logs in [from, to] without reading or moving cursors.
func (p *Poller) FetchRange(ctx context.Context, target Target, from, to uint64) ([]Entry, error) {
	if from > to {
		return nil, fmt.Errorf("invalid range %d..%d", from, to)
	}
	client, err := p.chains.Client(ctx, target.ChainID)
	if err != nil {
		return nil, err
	}
	return fetch(ctx, client, target, from, to)
}

func (p *Poller) fromBlock(target Target, head uint64) uint64 {
	base, ok := p.state.Cursor(target.ChainID, target.Stream)
	if !ok {
		base = saturatingSub(head, p.opts.InitialOffset)
	}
	return saturatingSub(base, p.opts.ReorgMargin)
}

func (p *Poller) recordFailure(target Target, reason string) {
	metrics.PollFailures.WithLabelValues(strconv.FormatUint(target.ChainID, 10), string(target.Stream), reason).Inc()
}

func fetch(ctx context.Context, client chain.Client, target Target, from, to uint64) ([]Entry, error) {
	logs, err := client.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: target.Addresses,
		Topics:    target.Topics,
	})
	if err != nil {
		return nil, err
	}
	return dedupe(target.ChainID, logs), nil
}

type logKey struct {
	block  common.Hash
	tx     common.Hash
	index  uint
	number uint64
}

func dedupe(chainID uint64, logs []types.Log) []Entry {
	seen := make(map[logKey]struct{}, len(logs))
	entries := make([]Entry, 0, len(logs))
	for _, l := range logs {
		key := logKey{block: l.BlockHash, tx: l.TxHash, index: l.Index, number: l.BlockNumber}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		entries = append(entries, Entry{ChainID: chainID, Log: l})
	}
	return entries
}

func saturatingSub(a, b uint64) uint64 {
	if b >= a {
		return 0
	}
	return a - b
}

func classify(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "unknown block"):
		return "unknown_block"
	case strings.Contains(msg, "too many requests"), strings.Contains(msg, "429"), strings.Contains(msg, "rate limit"):
		return "rate_limited"
	case strings.Contains(msg, "timed out"), strings.Contains(msg, "timeout"):
		return "timeout"
	default:
		return "rpc_error"
	}
}
