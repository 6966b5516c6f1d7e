// Package evaluator decides whether a reported value is disputable.
package evaluator

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"disputable-values-monitor/internal/feed"
	"disputable-values-monitor/internal/oracle"
	"disputable-values-monitor/internal/query"
)

const (
	DefaultRetryAttempts = 3
	DefaultRetryDelay    = 20 * time.Second
)

// BlockResolver locates the block produced at a unix timestamp.
type BlockResolver interface {
	BlockAt(ctx context.Context, chainID uint64, target uint64) (uint64, error)
}

// Options tune the randomness retry policy.
type Options struct {
	RetryAttempts int
	RetryDelay    time.Duration
}

// Evaluator fetches trusted values and applies thresholds.
type Evaluator struct {
	blocks   BlockResolver
	attempts int
	delay    time.Duration
	logger   zerolog.Logger
}

// New constructs an Evaluator. Zero options fall back to the defaults.
func New(blocks BlockResolver, opts Options, logger zerolog.Logger) *Evaluator {
	attempts := opts.RetryAttempts
	if attempts <= 0 {
		attempts = DefaultRetryAttempts
	}
	delay := opts.RetryDelay
	if delay < 0 {
		delay = 0
	}
	return &Evaluator{
		blocks:   blocks,
		attempts: attempts,
		delay:    delay,
		logger:   logger.With().Str("component", "evaluator").Logger(),
	}
}

// Evaluate returns the verdict for reported under mf. fc locates the report:
// its chain, block and submission timestamp. A non-nil error always comes with
// VerdictUnknown; malformed EVMCall and RNGCustom values are disputable
// without a fetch.
func (e *Evaluator) Evaluate(ctx context.Context, mf *feed.MonitoredFeed, reported oracle.Value, fc feed.FetchContext) (oracle.Verdict, error) {
	if mf == nil || mf.Feed.Source == nil {
		return oracle.VerdictUnknown, errors.New("evaluator: feed has no source")
	}
	if reported.Kind == oracle.KindNone {
		return oracle.VerdictUnknown, ErrNoReportedValue
	}

	kind := query.KindUnsupported
	if mf.Feed.Query != nil {
		kind = mf.Feed.Query.Kind
	}

	var (
		trusted *oracle.Value
		err     error
	)
	switch kind {
	case query.KindEVMCall:
		result, ts, ok := splitPair(reported)
		if !ok {
			e.logger.Warn().Str("value", reported.Short(80)).Msg("evm call value is not a (bytes, timestamp) pair")
			return oracle.VerdictDisputable, nil
		}
		trusted, err = e.fetchAtTimestamp(ctx, mf, fc, ts)
		if err != nil {
			return oracle.VerdictUnknown, err
		}
		if first, ok := trusted.Element(0); ok {
			trusted = &first
		}
		reported = result

	case query.KindRNGCustom:
		value, ts, ok := splitPair(reported)
		if !ok {
			e.logger.Warn().Str("value", reported.Short(80)).Msg("custom rng value is not a (bytes32, timestamp) pair")
			return oracle.VerdictDisputable, nil
		}
		if ts == 0 || (fc.Timestamp != 0 && ts > fc.Timestamp) {
			e.logger.Warn().Uint64("timestamp", ts).Uint64("submitted", fc.Timestamp).Msg("custom rng value has invalid timestamp")
			return oracle.VerdictDisputable, nil
		}
		rngCtx := fc
		rngCtx.Timestamp = ts
		trusted, err = e.fetchWithRetry(ctx, mf.Feed.Source, rngCtx)
		if err != nil {
			return oracle.VerdictUnknown, err
		}
		if first, ok := trusted.Element(0); ok {
			trusted = &first
		}
		reported = value

	case query.KindRNG:
		trusted, err = e.fetchWithRetry(ctx, mf.Feed.Source, fc)
		if err != nil {
			return oracle.VerdictUnknown, err
		}

	default:
		trusted, err = mf.Feed.Source.FetchTrustedValue(ctx, fc)
		if err != nil {
			return oracle.VerdictUnknown, fmt.Errorf("fetch trusted value from %s: %w", mf.Feed.Source.Describe(), err)
		}
	}

	verdict, diff, err := Compare(mf.Threshold, &reported, trusted)
	if err != nil {
		return oracle.VerdictUnknown, err
	}
	mf.Trusted = trusted
	mf.PercentDiff = diff

	event := e.logger.Debug().
		Str("feed", mf.Feed.Tag).
		Str("reported", reported.Short(66)).
		Str("trusted", trusted.Short(66)).
		Str("threshold", mf.Threshold.String()).
		Str("verdict", verdict.String())
	if diff.Valid {
		event = event.Str("percent_diff", diff.Decimal.String())
	}
	event.Msg("value evaluated")

	return verdict, nil
}

func (e *Evaluator) fetchAtTimestamp(ctx context.Context, mf *feed.MonitoredFeed, fc feed.FetchContext, ts uint64) (*oracle.Value, error) {
	if e.blocks == nil {
		return nil, errors.New("evaluator: no block resolver configured")
	}
	target := fc.ChainID
	if id, ok := mf.Feed.Query.ParamUint64("chainId"); ok && id != 0 {
		target = id
	}

	block, err := e.blocks.BlockAt(ctx, target, ts)
	if err != nil {
		return nil, fmt.Errorf("resolve block at %d on chain %d: %w", ts, target, err)
	}

	historical := feed.FetchContext{ChainID: target, Block: new(big.Int).SetUint64(block), Timestamp: ts}
	trusted, err := mf.Feed.Source.FetchTrustedValue(ctx, historical)
	if err != nil {
		return nil, fmt.Errorf("fetch evm call result at block %d: %w", block, err)
	}
	if trusted == nil {
		return nil, ErrNoTrustedValue
	}
	return trusted, nil
}

// fetchWithRetry treats a nil value and an error alike and gives up after the
// configured number of attempts.
func (e *Evaluator) fetchWithRetry(ctx context.Context, src feed.Source, fc feed.FetchContext) (*oracle.Value, error) {
	var trusted *oracle.Value
	op := func() error {
		v, err := src.FetchTrustedValue(ctx, fc)
		if err != nil {
			return err
		}
		if v == nil {
			return ErrNoTrustedValue
		}
		trusted = v
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(e.delay), uint64(e.attempts-1)),
		ctx,
	)
	notify := func(err error, wait time.Duration) {
		e.logger.Warn().Err(err).Str("source", src.Describe()).Dur("retry_in", wait).Msg("could not build trusted value")
	}
	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		e.logger.Warn().Err(err).Str("source", src.Describe()).Int("attempts", e.attempts).Msg("unable to fetch trusted value")
		return nil, fmt.Errorf("fetch trusted value after %d attempts: %w", e.attempts, err)
	}
	return trusted, nil
}

func splitPair(v oracle.Value) (oracle.Value, uint64, bool) {
	if v.Kind != oracle.KindTuple || len(v.Tuple) != 2 {
		return oracle.Value{}, 0, false
	}
	ts, ok := v.Tuple[1].Uint64()
	if !ok {
		return oracle.Value{}, 0, false
	}
	return v.Tuple[0], ts, true
}
