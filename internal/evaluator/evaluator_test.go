package evaluator

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"disputable-values-monitor/internal/feed"
	"disputable-values-monitor/internal/oracle"
	"disputable-values-monitor/internal/query"
)

func threshold(t *testing.T, metric feed.Metric, amount string) feed.Threshold {
	t.Helper()
	var amt decimal.NullDecimal
	if amount != "" {
		amt = decimal.NewNullDecimal(decimal.RequireFromString(amount))
	}
	th, err := feed.NewThreshold(metric, amt)
	require.NoError(t, err)
	return th
}

func num(s string) *oracle.Value {
	v := oracle.Float(decimal.RequireFromString(s))
	return &v
}

func text(s string) *oracle.Value {
	v := oracle.Text(s)
	return &v
}

func TestCompare(t *testing.T) {
	cases := []struct {
		name     string
		metric   feed.Metric
		amount   string
		reported *oracle.Value
		trusted  *oracle.Value
		want     oracle.Verdict
		wantErr  error
		wantDiff string
	}{
		{name: "percentage over threshold", metric: feed.MetricPercentage, amount: "0.05", reported: num("110"), trusted: num("100"), want: oracle.VerdictDisputable, wantDiff: "0.1"},
		{name: "percentage under threshold", metric: feed.MetricPercentage, amount: "0.15", reported: num("110"), trusted: num("100"), want: oracle.VerdictNotDisputable, wantDiff: "0.1"},
		{name: "percentage at threshold", metric: feed.MetricPercentage, amount: "0.1", reported: num("90"), trusted: num("100"), want: oracle.VerdictDisputable, wantDiff: "0.1"},
		{name: "range under threshold", metric: feed.MetricRange, amount: "15", reported: num("110"), trusted: num("100"), want: oracle.VerdictNotDisputable},
		{name: "range over threshold", metric: feed.MetricRange, amount: "5", reported: num("110"), trusted: num("100"), want: oracle.VerdictDisputable},
		{name: "equality hex case", metric: feed.MetricEquality, reported: text("0xab"), trusted: text("0xAB"), want: oracle.VerdictNotDisputable},
		{name: "equality hex differs", metric: feed.MetricEquality, reported: text("0xAC"), trusted: text("0xAB"), want: oracle.VerdictDisputable},
		{name: "equality plain text", metric: feed.MetricEquality, reported: text("Yes"), trusted: text("yes"), want: oracle.VerdictDisputable},
		{name: "zero trusted", metric: feed.MetricPercentage, amount: "0.05", reported: num("110"), trusted: num("0"), want: oracle.VerdictUnknown, wantErr: ErrZeroTrusted},
		{name: "text under percentage", metric: feed.MetricPercentage, amount: "0.05", reported: text("abc"), trusted: num("1"), want: oracle.VerdictUnknown, wantErr: ErrNotNumeric},
		{name: "bytes under range", metric: feed.MetricRange, amount: "1", reported: num("1"), trusted: text("0x01"), want: oracle.VerdictUnknown, wantErr: ErrNotNumeric},
		{name: "missing trusted", metric: feed.MetricRange, amount: "1", reported: num("1"), want: oracle.VerdictUnknown, wantErr: ErrNoTrustedValue},
		{name: "missing reported", metric: feed.MetricRange, amount: "1", trusted: num("1"), want: oracle.VerdictUnknown, wantErr: ErrNoReportedValue},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			verdict, diff, err := Compare(threshold(t, tc.metric, tc.amount), tc.reported, tc.trusted)
			assert.Equal(t, tc.want, verdict)
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			if tc.wantDiff != "" {
				require.True(t, diff.Valid)
				assert.True(t, diff.Decimal.Equal(decimal.RequireFromString(tc.wantDiff)), diff.Decimal.String())
			}
		})
	}
}

func TestCompareUnknownMetric(t *testing.T) {
	verdict, _, err := Compare(feed.Threshold{Metric: "median"}, num("1"), num("1"))
	assert.Equal(t, oracle.VerdictUnknown, verdict)
	assert.ErrorIs(t, err, ErrUnsupportedMetric)
}

type scriptedSource struct {
	values []*oracle.Value
	errs   []error
	calls  []feed.FetchContext
}

func (s *scriptedSource) FetchTrustedValue(ctx context.Context, fc feed.FetchContext) (*oracle.Value, error) {
	i := len(s.calls)
	s.calls = append(s.calls, fc)
	var (
		v   *oracle.Value
		err error
	)
	if i < len(s.values) {
		v = s.values[i]
	}
	if i < len(s.errs) {
		err = s.errs[i]
	}
	return v, err
}

func (s *scriptedSource) Describe() string { return "scripted" }

type fixedBlocks struct {
	block   uint64
	chainID uint64
	target  uint64
}

func (f *fixedBlocks) BlockAt(ctx context.Context, chainID uint64, target uint64) (uint64, error) {
	f.chainID, f.target = chainID, target
	return f.block, nil
}

func monitored(t *testing.T, src feed.Source, th feed.Threshold, queryType string, params ...any) *feed.MonitoredFeed {
	t.Helper()
	data, err := query.Encode(queryType, params...)
	require.NoError(t, err)
	q, err := query.Decode(data)
	require.NoError(t, err)
	return &feed.MonitoredFeed{Feed: feed.Feed{Tag: queryType, Query: q, Source: src}, Threshold: th}
}

func TestEvaluateSpotPriceStoresDiff(t *testing.T) {
	src := &scriptedSource{values: []*oracle.Value{num("100")}}
	mf := monitored(t, src, threshold(t, feed.MetricPercentage, "0.05"), "SpotPrice", "eth", "usd")

	ev := New(nil, Options{}, zerolog.Nop())
	verdict, err := ev.Evaluate(context.Background(), mf, *num("110"), feed.FetchContext{ChainID: 1})
	require.NoError(t, err)
	assert.Equal(t, oracle.VerdictDisputable, verdict)
	assert.Equal(t, "100", mf.Trusted.String())
	assert.Equal(t, "0.1", mf.PercentDiff.Decimal.String())
	assert.Len(t, src.calls, 1)
}

func TestEvaluateSingleFetchFailureIsUnknown(t *testing.T) {
	src := &scriptedSource{errs: []error{errors.New("boom")}}
	mf := monitored(t, src, threshold(t, feed.MetricPercentage, "0.05"), "SpotPrice", "eth", "usd")

	verdict, err := New(nil, Options{}, zerolog.Nop()).Evaluate(context.Background(), mf, *num("110"), feed.FetchContext{})
	assert.Error(t, err)
	assert.Equal(t, oracle.VerdictUnknown, verdict)
	assert.Len(t, src.calls, 1)
}

func TestEvaluateRNGRetries(t *testing.T) {
	hash := oracle.Bytes(common.HexToHash("0xabc").Bytes())
	src := &scriptedSource{
		values: []*oracle.Value{nil, nil, &hash},
		errs:   []error{errors.New("btc api down"), nil, nil},
	}
	mf := monitored(t, src, feed.Equality(), "FetchRNG", big.NewInt(1700000000))

	verdict, err := New(nil, Options{RetryAttempts: 3}, zerolog.Nop()).Evaluate(context.Background(), mf, hash, feed.FetchContext{})
	require.NoError(t, err)
	assert.Equal(t, oracle.VerdictNotDisputable, verdict)
	assert.Len(t, src.calls, 3)
}

func TestEvaluateRNGExhaustsRetries(t *testing.T) {
	src := &scriptedSource{}
	mf := monitored(t, src, feed.Equality(), "FetchRNG", big.NewInt(1700000000))

	verdict, err := New(nil, Options{RetryAttempts: 3}, zerolog.Nop()).Evaluate(context.Background(), mf, oracle.Bytes([]byte{1}), feed.FetchContext{})
	assert.ErrorIs(t, err, ErrNoTrustedValue)
	assert.Equal(t, oracle.VerdictUnknown, verdict)
	assert.Len(t, src.calls, 3)
}

func TestEvaluateRNGHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	src := &scriptedSource{}
	mf := monitored(t, src, feed.Equality(), "FetchRNG", big.NewInt(1700000000))

	verdict, err := New(nil, Options{RetryAttempts: 3, RetryDelay: DefaultRetryDelay}, zerolog.Nop()).Evaluate(ctx, mf, oracle.Bytes([]byte{1}), feed.FetchContext{})
	assert.Error(t, err)
	assert.Equal(t, oracle.VerdictUnknown, verdict)
	assert.LessOrEqual(t, len(src.calls), 1)
}

func TestEvaluateRNGCustom(t *testing.T) {
	value := oracle.Bytes(common.HexToHash("0x01").Bytes())
	src := &scriptedSource{values: []*oracle.Value{&value}}
	mf := monitored(t, src, feed.Equality(), "FetchRNGCustom", "weekly", big.NewInt(604800))
	ev := New(nil, Options{RetryAttempts: 1}, zerolog.Nop())

	verdict, err := ev.Evaluate(context.Background(), mf, oracle.Value{Kind: oracle.KindBytes, Bytes: []byte{1}}, feed.FetchContext{Timestamp: 1700000000})
	require.NoError(t, err)
	assert.Equal(t, oracle.VerdictDisputable, verdict, "non tuple value")

	verdict, err = ev.Evaluate(context.Background(), mf, oracle.Tuple(value, oracle.Int64(1700000100)), feed.FetchContext{Timestamp: 1700000000})
	require.NoError(t, err)
	assert.Equal(t, oracle.VerdictDisputable, verdict, "timestamp after submission")

	verdict, err = ev.Evaluate(context.Background(), mf, oracle.Tuple(value, oracle.Int64(1699990000)), feed.FetchContext{Timestamp: 1700000000})
	require.NoError(t, err)
	assert.Equal(t, oracle.VerdictNotDisputable, verdict)
	require.Len(t, src.calls, 1)
	assert.Equal(t, uint64(1699990000), src.calls[0].Timestamp)
}

func TestEvaluateEVMCall(t *testing.T) {
	result := oracle.Tuple(oracle.Bytes([]byte{0xde, 0xad}), oracle.Int64(1700000000))
	trusted := oracle.Bytes([]byte{0xde, 0xad})
	src := &scriptedSource{values: []*oracle.Value{&trusted}}
	mf := monitored(t, src, feed.Equality(), "EVMCall", big.NewInt(137), common.HexToAddress("0x01"), []byte{0x01})
	blocks := &fixedBlocks{block: 4242}

	verdict, err := New(blocks, Options{}, zerolog.Nop()).Evaluate(context.Background(), mf, result, feed.FetchContext{ChainID: 1})
	require.NoError(t, err)
	assert.Equal(t, oracle.VerdictNotDisputable, verdict)
	assert.Equal(t, uint64(137), blocks.chainID)
	assert.Equal(t, uint64(1700000000), blocks.target)
	require.Len(t, src.calls, 1)
	assert.Equal(t, int64(4242), src.calls[0].Block.Int64())
	assert.Equal(t, uint64(137), src.calls[0].ChainID)
}

func TestEvaluateEVMCallMalformedIsDisputable(t *testing.T) {
	src := &scriptedSource{}
	mf := monitored(t, src, feed.Equality(), "EVMCall", big.NewInt(1), common.HexToAddress("0x01"), []byte{})

	verdict, err := New(&fixedBlocks{}, Options{}, zerolog.Nop()).Evaluate(context.Background(), mf, oracle.Bytes([]byte{1}), feed.FetchContext{})
	require.NoError(t, err)
	assert.Equal(t, oracle.VerdictDisputable, verdict)
	assert.Empty(t, src.calls)
}
