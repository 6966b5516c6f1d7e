package catalog

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"disputable-values-monitor/internal/chain/chaintest"
	"disputable-values-monitor/internal/feed"
	"disputable-values-monitor/internal/query"
)

func TestHTTPJSONFetchSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ua := r.Header.Get("User-Agent"); ua != "test-agent" {
			t.Errorf("unexpected user agent %q", ua)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []any{map[string]any{"price": "1850.25"}},
		})
	}))
	defer srv.Close()

	src := newHTTPJSON(srv.URL, []string{"data", "0", "price"}, nil, 0, httpOptions{Timeout: time.Second, UserAgent: "test-agent"}, zerolog.Nop())
	v, err := src.FetchTrustedValue(context.Background(), feed.FetchContext{})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if v.String() != "1850.25" {
		t.Fatalf("expected 1850.25, got %s", v.String())
	}
}

func TestHTTPJSONDecimals(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"answer": 185025000000}`))
	}))
	defer srv.Close()

	src := newHTTPJSON(srv.URL, []string{"answer"}, nil, 8, httpOptions{}, zerolog.Nop())
	v, err := src.FetchTrustedValue(context.Background(), feed.FetchContext{})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if v.String() != "1850.25" {
		t.Fatalf("expected shifted value 1850.25, got %s", v.String())
	}
}

func TestHTTPJSONErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/bad":
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "rate limited"})
		case "/null":
			_, _ = w.Write([]byte(`{"price": null}`))
		default:
			_, _ = w.Write([]byte(`{"price": "abc"}`))
		}
	}))
	defer srv.Close()

	bad := newHTTPJSON(srv.URL+"/bad", []string{"price"}, nil, 0, httpOptions{}, zerolog.Nop())
	_, err := bad.FetchTrustedValue(context.Background(), feed.FetchContext{})
	if err == nil || !strings.Contains(err.Error(), "rate limited") {
		t.Fatalf("expected api error, got %v", err)
	}

	null := newHTTPJSON(srv.URL+"/null", []string{"price"}, nil, 0, httpOptions{}, zerolog.Nop())
	if _, err := null.FetchTrustedValue(context.Background(), feed.FetchContext{}); err == nil {
		t.Fatal("null value should fail")
	}

	text := newHTTPJSON(srv.URL, []string{"price"}, nil, 0, httpOptions{}, zerolog.Nop())
	if _, err := text.FetchTrustedValue(context.Background(), feed.FetchContext{}); err == nil {
		t.Fatal("non-numeric value should fail")
	}

	missing := newHTTPJSON(srv.URL, []string{"nope"}, nil, 0, httpOptions{}, zerolog.Nop())
	if _, err := missing.FetchTrustedValue(context.Background(), feed.FetchContext{}); err == nil {
		t.Fatal("missing path should fail")
	}
}

func TestCatalogSpotPriceFeed(t *testing.T) {
	c, err := New(Config{Feeds: []FeedConfig{{
		Tag:      "eth-usd-spot",
		Asset:    "eth",
		Currency: "usd",
		Source:   SourceConfig{Kind: KindStatic, Value: "1850"},
	}}}, nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("new catalog: %v", err)
	}

	data, err := query.Encode("SpotPrice", "eth", "usd")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	entries := c.Find(query.ID(data))
	if len(entries) != 1 || entries[0].Tag != "eth-usd-spot" {
		t.Fatalf("unexpected entries %+v", entries)
	}

	f, ok := c.LookupFeed("eth-usd-spot")
	if !ok {
		t.Fatal("feed not found")
	}
	v, err := f.Source.FetchTrustedValue(context.Background(), feed.FetchContext{})
	if err != nil || v.String() != "1850" {
		t.Fatalf("unexpected static value %v, err %v", v, err)
	}
}

func TestCatalogRejectsBadConfig(t *testing.T) {
	cases := []Config{
		{Feeds: []FeedConfig{{Asset: "eth", Currency: "usd", Source: SourceConfig{Kind: KindStatic, Value: "1"}}}},
		{Feeds: []FeedConfig{{Tag: "x", Source: SourceConfig{Kind: KindStatic, Value: "1"}}}},
		{Feeds: []FeedConfig{{Tag: "x", Asset: "eth", Currency: "usd", Source: SourceConfig{Kind: "carrier_pigeon"}}}},
		{Builders: []BuilderConfig{{QueryType: "Mystery", Source: SourceConfig{Kind: KindStatic, Value: "1"}}}},
		{Builders: []BuilderConfig{{QueryType: "GasPriceOracle", Source: SourceConfig{Kind: KindHTTPJSON}}}},
	}
	for i, cfg := range cases {
		if _, err := New(cfg, nil, zerolog.Nop()); err == nil {
			t.Fatalf("case %d: expected error", i)
		}
	}
}

func TestTemplateBuilderExpandsParams(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.RequestURI()
		_, _ = w.Write([]byte(`{"result": {"gwei": "21.5"}}`))
	}))
	defer srv.Close()

	c, err := New(Config{Builders: []BuilderConfig{{
		QueryType: "GasPriceOracle",
		Source:    SourceConfig{Kind: KindHTTPJSON, URL: srv.URL + "/gas?chain={chainId}&ts={timestamp}", Path: "result.gwei"},
	}}}, nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("new catalog: %v", err)
	}

	data, err := query.Encode("GasPriceOracle", big.NewInt(137), big.NewInt(1700000000))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	q, err := query.Decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	build, ok := c.LookupBuilder("GasPriceOracle")
	if !ok {
		t.Fatal("builder not registered")
	}
	src, err := build(q)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	v, err := src.FetchTrustedValue(context.Background(), feed.FetchContext{})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if gotPath != "/gas?chain=137&ts=1700000000" {
		t.Fatalf("unexpected request %s", gotPath)
	}
	if v.String() != "21.5" {
		t.Fatalf("expected 21.5, got %s", v.String())
	}
}

func TestEVMCallBuilderUsesQueryTarget(t *testing.T) {
	contract := common.HexToAddress("0x88dF592F8eb5D7Bd38bFeF7dEb0fBc02cf3778a0")
	result := common.LeftPadBytes([]byte{0x2a}, 32)
	var seenBlock *big.Int
	client := &chaintest.Client{
		Head: 100,
		CallFunc: func(msg ethereum.CallMsg, block *big.Int) ([]byte, error) {
			if *msg.To != contract {
				t.Errorf("unexpected contract %s", msg.To.Hex())
			}
			seenBlock = block
			return result, nil
		},
	}
	c, err := New(Config{}, chaintest.Provider{1: client}, zerolog.Nop())
	if err != nil {
		t.Fatalf("new catalog: %v", err)
	}

	data, err := query.Encode("EVMCall", big.NewInt(1), contract, common.FromHex("0x18160ddd"))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	q, err := query.Decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	build, _ := c.LookupBuilder("EVMCall")
	src, err := build(q)
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	v, err := src.FetchTrustedValue(context.Background(), feed.FetchContext{ChainID: 1, Block: big.NewInt(77)})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if seenBlock == nil || seenBlock.Int64() != 77 {
		t.Fatalf("expected call at block 77, got %v", seenBlock)
	}
	raw, ok := v.RawBytes()
	if !ok || common.Bytes2Hex(raw) != common.Bytes2Hex(result) {
		t.Fatalf("expected raw result bytes, got %s", v.String())
	}

	if _, err := src.FetchTrustedValue(context.Background(), feed.FetchContext{ChainID: 5, Block: big.NewInt(77)}); err != nil {
		t.Fatalf("fetch other chain: %v", err)
	}
	if seenBlock != nil {
		t.Fatalf("block from another chain must not be used, got %v", seenBlock)
	}
}

func TestEVMCallSourceDecimals(t *testing.T) {
	answer := new(big.Int).Mul(big.NewInt(185025), big.NewInt(1_000_000))
	client := &chaintest.Client{CallFunc: func(msg ethereum.CallMsg, block *big.Int) ([]byte, error) {
		return common.LeftPadBytes(answer.Bytes(), 32), nil
	}}
	c, err := New(Config{Feeds: []FeedConfig{{
		Tag:      "eth-usd-chainlink",
		Asset:    "eth",
		Currency: "usd",
		Source:   SourceConfig{Kind: KindEVMCall, ChainID: 1, Contract: "0x5f4eC3Df9cbd43714FE2740f5E3616155c5b8419", Calldata: "0x50d25bcd", Decimals: 8},
	}}}, chaintest.Provider{1: client}, zerolog.Nop())
	if err != nil {
		t.Fatalf("new catalog: %v", err)
	}

	f, _ := c.LookupFeed("eth-usd-chainlink")
	v, err := f.Source.FetchTrustedValue(context.Background(), feed.FetchContext{})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if v.String() != "1850.25" {
		t.Fatalf("expected 1850.25, got %s", v.String())
	}
}

func TestNumericAPIBuilder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"market": {"last": 42.1}}`))
	}))
	defer srv.Close()

	c, _ := New(Config{}, nil, zerolog.Nop())
	data, err := query.Encode("NumericApiResponse", srv.URL, "market, last")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	q, _ := query.Decode(data)
	build, _ := c.LookupBuilder("NumericApiResponse")
	src, err := build(q)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	v, err := src.FetchTrustedValue(context.Background(), feed.FetchContext{})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if v.String() != "42.1" {
		t.Fatalf("expected 42.1, got %s", v.String())
	}
}
