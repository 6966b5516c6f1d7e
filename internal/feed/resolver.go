package feed

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"disputable-values-monitor/internal/query"
)

var (
	// ErrUnsupported means no monitoring policy exists for the query.
	ErrUnsupported = errors.New("feed: unsupported query")
	// ErrCatalog means the catalog referenced a feed or builder it cannot provide.
	ErrCatalog = errors.New("feed: catalog lookup failed")
)

// DefaultAutoTypes are query types whose payload alone is enough to build a source.
var DefaultAutoTypes = []string{
	"GasPriceOracle",
	"AmpleforthCustomSpotPrice",
	"AmpleforthUSPCE",
	"MimicryCollectionStat",
	"MimicryNFTMarketIndex",
	"MimicryMacroMarketMashup",
}

// DefaultAlwaysAlertTypes are infrastructure query types that are never evaluated.
var DefaultAlwaysAlertTypes = []string{"AutopayAddresses", "TellorOracleAddress"}

// Configured is an operator-configured feed. A nil QueryID makes it generic:
// it applies to every report of QueryType.
type Configured struct {
	QueryID   *common.Hash
	QueryType string
	Tag       string
	Threshold Threshold
}

// ResolverOptions tune resolution.
type ResolverOptions struct {
	Configured       []Configured
	DefaultThreshold Threshold
	AutoTypes        []string
	DisputeRNG       bool
	AlwaysAlert      []string
}

// Resolution is the resolver's answer for one report.
type Resolution struct {
	Feed        *MonitoredFeed
	AlwaysAlert bool
	Configured  bool
}

// Resolver maps decoded queries to monitored feeds.
type Resolver struct {
	catalog     Catalog
	configured  []Configured
	defaults    Threshold
	autoTypes   map[string]struct{}
	alwaysAlert map[string]struct{}
	logger      zerolog.Logger
}

// NewResolver constructs a Resolver.
func NewResolver(catalog Catalog, opts ResolverOptions, logger zerolog.Logger) *Resolver {
	autoTypes := opts.AutoTypes
	if autoTypes == nil {
		autoTypes = DefaultAutoTypes
	}
	always := opts.AlwaysAlert
	if always == nil {
		always = DefaultAlwaysAlertTypes
	}

	r := &Resolver{
		catalog:     catalog,
		configured:  opts.Configured,
		defaults:    opts.DefaultThreshold,
		autoTypes:   toSet(autoTypes),
		alwaysAlert: toSet(always),
		logger:      logger.With().Str("component", "feed_resolver").Logger(),
	}
	if opts.DisputeRNG {
		r.autoTypes["FetchRNG"] = struct{}{}
	}
	return r
}

func toSet(items []string) map[string]struct{} {
	out := make(map[string]struct{}, len(items))
	for _, item := range items {
		out[item] = struct{}{}
	}
	return out
}

// Resolve picks the monitoring policy for q. It returns ErrUnsupported when the
// query has no configured feed, no catalog entry and no auto source.
func (r *Resolver) Resolve(q *query.Query) (Resolution, error) {
	if _, ok := r.alwaysAlert[q.Type]; ok {
		return Resolution{AlwaysAlert: true}, nil
	}

	if cf, ok := r.matchByID(q.ID); ok {
		f, err := r.configuredFeed(cf, q)
		if err != nil {
			return Resolution{}, err
		}
		return Resolution{Feed: &MonitoredFeed{Feed: f, Threshold: cf.Threshold}, Configured: true}, nil
	}

	if cf, ok := r.matchGeneric(q.Type); ok {
		src, err := r.buildSource(q)
		if err != nil {
			return Resolution{}, err
		}
		f := Feed{Tag: cf.Tag, Query: q, Source: src}
		return Resolution{Feed: &MonitoredFeed{Feed: f, Threshold: cf.Threshold}, Configured: true}, nil
	}

	return r.autoFeed(q)
}

func (r *Resolver) matchByID(id common.Hash) (Configured, bool) {
	for _, cf := range r.configured {
		if cf.QueryID != nil && *cf.QueryID == id {
			return cf, true
		}
	}
	return Configured{}, false
}

func (r *Resolver) matchGeneric(queryType string) (Configured, bool) {
	for _, cf := range r.configured {
		if cf.QueryID == nil && cf.QueryType == queryType {
			return cf, true
		}
	}
	return Configured{}, false
}

func (r *Resolver) configuredFeed(cf Configured, q *query.Query) (Feed, error) {
	if q.Kind != query.KindSpotPrice {
		src, err := r.buildSource(q)
		if err != nil {
			return Feed{}, err
		}
		return Feed{Tag: cf.Tag, Query: q, Source: src}, nil
	}

	tag := cf.Tag
	if tag == "" {
		entries := r.catalog.Find(q.ID)
		if len(entries) == 0 {
			return Feed{}, fmt.Errorf("%w: no catalog entry for %s", ErrCatalog, q.ID.Hex())
		}
		tag = entries[0].Tag
	}
	return r.catalogFeed(tag, q)
}

func (r *Resolver) catalogFeed(tag string, q *query.Query) (Feed, error) {
	f, ok := r.catalog.LookupFeed(tag)
	if !ok || f.Source == nil {
		return Feed{}, fmt.Errorf("%w: no feed for tag %s", ErrCatalog, tag)
	}
	return Feed{Tag: tag, Query: q, Source: f.Source}, nil
}

func (r *Resolver) buildSource(q *query.Query) (Source, error) {
	build, ok := r.catalog.LookupBuilder(q.Type)
	if !ok {
		return nil, fmt.Errorf("%w: no source builder for %s", ErrUnsupported, q.Type)
	}
	src, err := build(q)
	if err != nil {
		return nil, fmt.Errorf("build source for %s: %w", q.Descriptor(), err)
	}
	return src, nil
}

func (r *Resolver) autoFeed(q *query.Query) (Resolution, error) {
	threshold := r.defaults

	if entries := r.catalog.Find(q.ID); len(entries) > 0 {
		f, err := r.catalogFeed(entries[0].Tag, q)
		if err != nil {
			return Resolution{}, err
		}
		return Resolution{Feed: &MonitoredFeed{Feed: f, Threshold: threshold}}, nil
	}

	if q.Kind == query.KindRNG {
		threshold = Equality()
	}
	if _, ok := r.autoTypes[q.Type]; !ok {
		r.logger.Debug().Str("query_type", q.Type).Msg("no auto source to compare value")
		return Resolution{}, fmt.Errorf("%w: %s", ErrUnsupported, q.Type)
	}

	src, err := r.buildSource(q)
	if err != nil {
		return Resolution{}, err
	}
	return Resolution{Feed: &MonitoredFeed{Feed: Feed{Tag: q.Type, Query: q, Source: src}, Threshold: threshold}}, nil
}
