// Package catalog is the config-driven registry of trusted-value sources.
package catalog

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"disputable-values-monitor/internal/chain"
	"disputable-values-monitor/internal/feed"
	"disputable-values-monitor/internal/oracle"
	"disputable-values-monitor/internal/query"
)

// Source kinds accepted in configuration.
const (
	KindHTTPJSON = "http_json"
	KindEVMCall  = "evm_call"
	KindStatic   = "static"
)

// Config lists the known feeds and the per-query-type source builders.
type Config struct {
	Feeds       []FeedConfig    `mapstructure:"feeds"`
	Builders    []BuilderConfig `mapstructure:"builders"`
	HTTPTimeout time.Duration   `mapstructure:"http_timeout"`
	UserAgent   string          `mapstructure:"user_agent"`
}

// FeedConfig is a catalog feed. The query id comes from QueryData when set,
// otherwise from the SpotPrice encoding of Asset and Currency.
type FeedConfig struct {
	Tag       string       `mapstructure:"tag"`
	QueryType string       `mapstructure:"query_type"`
	Asset     string       `mapstructure:"asset"`
	Currency  string       `mapstructure:"currency"`
	QueryData string       `mapstructure:"query_data"`
	Source    SourceConfig `mapstructure:"source"`
}

// BuilderConfig builds sources from a query's own parameters. Placeholders of
// the form {name} in URL, Path and Calldata are replaced with query params.
type BuilderConfig struct {
	QueryType string       `mapstructure:"query_type"`
	Source    SourceConfig `mapstructure:"source"`
}

// SourceConfig describes one trusted-value source.
type SourceConfig struct {
	Kind     string            `mapstructure:"kind"`
	URL      string            `mapstructure:"url"`
	Path     string            `mapstructure:"path"`
	Headers  map[string]string `mapstructure:"headers"`
	ChainID  uint64            `mapstructure:"chain_id"`
	Contract string            `mapstructure:"contract"`
	Calldata string            `mapstructure:"calldata"`
	// Decimals shifts numeric results. A negative value on evm_call sources
	// returns the raw bytes.
	Decimals int32  `mapstructure:"decimals"`
	Value    string `mapstructure:"value"`
}

// Catalog implements feed.Catalog.
type Catalog struct {
	byID     map[common.Hash][]feed.Entry
	feeds    map[string]feed.Feed
	builders map[string]feed.SourceFactory

	chains chain.Provider
	http   httpOptions
	logger zerolog.Logger
}

// New validates cfg and builds the catalog. EVMCall and NumericApiResponse
// builders are always present; configured builders replace them.
func New(cfg Config, chains chain.Provider, logger zerolog.Logger) (*Catalog, error) {
	c := &Catalog{
		byID:     make(map[common.Hash][]feed.Entry),
		feeds:    make(map[string]feed.Feed),
		builders: make(map[string]feed.SourceFactory),
		chains:   chains,
		http:     httpOptions{Timeout: cfg.HTTPTimeout, UserAgent: cfg.UserAgent},
		logger:   logger.With().Str("component", "catalog").Logger(),
	}

	c.builders["EVMCall"] = c.evmCallFromQuery
	c.builders["NumericApiResponse"] = c.numericAPIFromQuery

	for _, fc := range cfg.Feeds {
		if err := c.addFeed(fc); err != nil {
			return nil, err
		}
	}
	for _, bc := range cfg.Builders {
		if !query.Known(bc.QueryType) {
			return nil, fmt.Errorf("catalog builder: unknown query type %q", bc.QueryType)
		}
		if err := validateSource(bc.Source); err != nil {
			return nil, fmt.Errorf("catalog builder %s: %w", bc.QueryType, err)
		}
		c.builders[bc.QueryType] = c.templateBuilder(bc.Source)
	}

	c.logger.Debug().Int("feeds", len(c.feeds)).Int("builders", len(c.builders)).Msg("catalog loaded")
	return c, nil
}

func (c *Catalog) addFeed(fc FeedConfig) error {
	if fc.Tag == "" {
		return fmt.Errorf("catalog feed: tag required")
	}
	if _, dup := c.feeds[fc.Tag]; dup {
		return fmt.Errorf("catalog feed %s: duplicate tag", fc.Tag)
	}
	queryType := fc.QueryType
	if queryType == "" {
		queryType = "SpotPrice"
	}

	var data []byte
	switch {
	case fc.QueryData != "":
		data = common.FromHex(fc.QueryData)
	case queryType == "SpotPrice" && fc.Asset != "" && fc.Currency != "":
		encoded, err := query.Encode("SpotPrice", fc.Asset, fc.Currency)
		if err != nil {
			return fmt.Errorf("catalog feed %s: %w", fc.Tag, err)
		}
		data = encoded
	default:
		return fmt.Errorf("catalog feed %s: query_data or asset/currency required", fc.Tag)
	}

	q, err := query.Decode(data)
	if err != nil {
		return fmt.Errorf("catalog feed %s: %w", fc.Tag, err)
	}
	src, err := c.buildSource(fc.Source, nil)
	if err != nil {
		return fmt.Errorf("catalog feed %s: %w", fc.Tag, err)
	}

	c.feeds[fc.Tag] = feed.Feed{Tag: fc.Tag, Query: q, Source: src}
	c.byID[q.ID] = append(c.byID[q.ID], feed.Entry{Tag: fc.Tag, QueryType: q.Type})
	return nil
}

// Find returns catalog entries for a query id.
func (c *Catalog) Find(queryID common.Hash) []feed.Entry {
	return c.byID[queryID]
}

// LookupFeed returns the catalog feed for tag.
func (c *Catalog) LookupFeed(tag string) (feed.Feed, bool) {
	f, ok := c.feeds[tag]
	return f, ok
}

// LookupBuilder returns the source factory for a query type.
func (c *Catalog) LookupBuilder(queryType string) (feed.SourceFactory, bool) {
	b, ok := c.builders[queryType]
	return b, ok
}

// Tags lists feed tags in order.
func (c *Catalog) Tags() []string {
	tags := make([]string, 0, len(c.feeds))
	for tag := range c.feeds {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

func validateSource(sc SourceConfig) error {
	switch sc.Kind {
	case KindHTTPJSON:
		if sc.URL == "" {
			return fmt.Errorf("http_json source requires url")
		}
	case KindEVMCall:
		if sc.ChainID == 0 || sc.Contract == "" {
			return fmt.Errorf("evm_call source requires chain_id and contract")
		}
	case KindStatic:
		if sc.Value == "" {
			return fmt.Errorf("static source requires value")
		}
	default:
		return fmt.Errorf("unknown source kind %q", sc.Kind)
	}
	return nil
}

// buildSource instantiates sc, expanding placeholders from q when q is set.
func (c *Catalog) buildSource(sc SourceConfig, q *query.Query) (feed.Source, error) {
	if err := validateSource(sc); err != nil {
		return nil, err
	}
	expand := func(s string) string { return s }
	if q != nil {
		expand = func(s string) string { return expandParams(s, q) }
	}

	switch sc.Kind {
	case KindHTTPJSON:
		return newHTTPJSON(expand(sc.URL), splitPath(expand(sc.Path), "."), sc.Headers, sc.Decimals, c.http, c.logger), nil
	case KindEVMCall:
		if !common.IsHexAddress(sc.Contract) {
			return nil, fmt.Errorf("evm_call contract %q is not an address", sc.Contract)
		}
		return &EVMCallSource{
			chains:   c.chains,
			chainID:  sc.ChainID,
			contract: common.HexToAddress(sc.Contract),
			calldata: common.FromHex(expand(sc.Calldata)),
			decimals: sc.Decimals,
		}, nil
	default:
		return newStatic(sc.Value), nil
	}
}

func (c *Catalog) templateBuilder(sc SourceConfig) feed.SourceFactory {
	return func(q *query.Query) (feed.Source, error) {
		return c.buildSource(sc, q)
	}
}

func (c *Catalog) evmCallFromQuery(q *query.Query) (feed.Source, error) {
	chainID, ok := q.ParamUint64("chainId")
	if !ok {
		return nil, fmt.Errorf("evm call query missing chainId")
	}
	addr, ok := q.Param("contractAddress")
	if !ok {
		return nil, fmt.Errorf("evm call query missing contractAddress")
	}
	contract, ok := addr.(common.Address)
	if !ok {
		s, _ := q.ParamString("contractAddress")
		if !common.IsHexAddress(s) {
			return nil, fmt.Errorf("evm call query has invalid contractAddress")
		}
		contract = common.HexToAddress(s)
	}
	var calldata []byte
	switch v := q.Params["calldata"].(type) {
	case []byte:
		calldata = v
	case string:
		calldata = common.FromHex(v)
	}
	return &EVMCallSource{chains: c.chains, chainID: chainID, contract: contract, calldata: calldata, decimals: -1}, nil
}

func (c *Catalog) numericAPIFromQuery(q *query.Query) (feed.Source, error) {
	url, _ := q.ParamString("url")
	if url == "" {
		return nil, fmt.Errorf("numeric api query missing url")
	}
	parseStr, _ := q.ParamString("parseStr")
	return newHTTPJSON(url, splitPath(parseStr, ","), nil, 0, c.http, c.logger), nil
}

func expandParams(s string, q *query.Query) string {
	if !strings.Contains(s, "{") {
		return s
	}
	for name := range q.Params {
		v, _ := q.ParamString(name)
		s = strings.ReplaceAll(s, "{"+name+"}", v)
	}
	return strings.ReplaceAll(s, "{type}", q.Type)
}

func splitPath(s, sep string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, sep)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Static returns a fixed value. Used for pegged feeds and tests.
type Static struct {
	value oracle.Value
}

func newStatic(raw string) *Static {
	if d, err := decimal.NewFromString(raw); err == nil {
		return &Static{value: oracle.Float(d)}
	}
	if oracle.LooksHex(raw) {
		return &Static{value: oracle.Bytes(common.FromHex(raw))}
	}
	return &Static{value: oracle.Text(raw)}
}

func (s *Static) FetchTrustedValue(ctx context.Context, fc feed.FetchContext) (*oracle.Value, error) {
	v := s.value
	return &v, nil
}

func (s *Static) Describe() string { return "static" }

var (
	_ feed.Catalog = (*Catalog)(nil)
	_ feed.Source  = (*Static)(nil)
)
