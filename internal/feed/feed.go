package feed

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"disputable-values-monitor/internal/oracle"
	"disputable-values-monitor/internal/query"
)

// FetchContext carries the report's position for sources that look up historical values.
type FetchContext struct {
	ChainID   uint64
	Block     *big.Int
	Timestamp uint64
}

// Source produces a trusted value for one query. A nil value with a nil error
// means the source had nothing to offer.
type Source interface {
	FetchTrustedValue(ctx context.Context, fc FetchContext) (*oracle.Value, error)
	Describe() string
}

// SourceFactory builds a fresh source for a decoded query.
type SourceFactory func(q *query.Query) (Source, error)

// Feed binds a query to the source that can answer it.
type Feed struct {
	Tag    string
	Query  *query.Query
	Source Source
}

// Entry is a catalog match for a query id.
type Entry struct {
	Tag       string
	QueryType string
}

// Catalog is the registry of known feeds and source builders.
type Catalog interface {
	Find(queryID common.Hash) []Entry
	LookupFeed(tag string) (Feed, bool)
	LookupBuilder(queryType string) (SourceFactory, bool)
}

// MonitoredFeed is a feed judged under a threshold. It is built per report and
// carries the outcome of the last evaluation.
type MonitoredFeed struct {
	Feed      Feed
	Threshold Threshold

	Trusted     *oracle.Value
	PercentDiff decimal.NullDecimal
}

// Snapshot exports the evaluation metadata for a report.
func (m *MonitoredFeed) Snapshot() *oracle.Monitoring {
	mon := &oracle.Monitoring{
		FeedTag:         m.Feed.Tag,
		Trusted:         m.Trusted,
		PercentDiff:     m.PercentDiff,
		ThresholdMetric: string(m.Threshold.Metric),
		ThresholdAmount: m.Threshold.Amount,
	}
	if m.Feed.Source != nil {
		mon.Source = m.Feed.Source.Describe()
	}
	return mon
}
