package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"disputable-values-monitor/internal/feed"
	"disputable-values-monitor/internal/oracle"
)

const defaultUserAgent = "dvmonitor/1.0"

type httpOptions struct {
	Timeout   time.Duration
	UserAgent string
}

// HTTPJSON fetches a JSON document and extracts one numeric field.
type HTTPJSON struct {
	url      string
	path     []string
	headers  map[string]string
	decimals int32
	ua       string
	client   *http.Client
	logger   zerolog.Logger
}

func newHTTPJSON(url string, path []string, headers map[string]string, decimals int32, opts httpOptions, logger zerolog.Logger) *HTTPJSON {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ua := strings.TrimSpace(opts.UserAgent)
	if ua == "" {
		ua = defaultUserAgent
	}
	return &HTTPJSON{
		url:      url,
		path:     path,
		headers:  headers,
		decimals: decimals,
		ua:       ua,
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "http_source").Logger(),
	}
}

// FetchTrustedValue retrieves the document and returns the value at the configured path.
func (h *HTTPJSON) FetchTrustedValue(ctx context.Context, fc feed.FetchContext) (*oracle.Value, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", h.ua)
	for k, v := range h.headers {
		req.Header.Set(k, v)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, parseHTTPError(resp.StatusCode, payload)
	}

	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	node, err := walk(doc, h.path)
	if err != nil {
		return nil, err
	}
	d, err := toDecimal(node)
	if err != nil {
		return nil, err
	}
	if h.decimals != 0 {
		d = d.Shift(-h.decimals)
	}

	h.logger.Debug().Str("url", h.url).Str("value", d.String()).Msg("fetched trusted value")
	v := oracle.Float(d)
	return &v, nil
}

func (h *HTTPJSON) Describe() string {
	return "http_json " + h.url
}

func walk(node any, path []string) (any, error) {
	for _, key := range path {
		switch n := node.(type) {
		case map[string]any:
			next, ok := n[key]
			if !ok {
				return nil, fmt.Errorf("path element %q not found", key)
			}
			node = next
		case []any:
			idx, err := strconv.Atoi(key)
			if err != nil || idx < 0 || idx >= len(n) {
				return nil, fmt.Errorf("path element %q is not a valid index", key)
			}
			node = n[idx]
		default:
			return nil, fmt.Errorf("path element %q applied to a scalar", key)
		}
	}
	return node, nil
}

func toDecimal(node any) (decimal.Decimal, error) {
	switch v := node.(type) {
	case json.Number:
		return decimal.NewFromString(v.String())
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(v))
		if err != nil {
			return decimal.Decimal{}, fmt.Errorf("parse value %q: %w", v, err)
		}
		return d, nil
	case nil:
		return decimal.Decimal{}, errors.New("value is null")
	default:
		return decimal.Decimal{}, fmt.Errorf("value of type %T is not numeric", node)
	}
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Status  struct {
		ErrorMessage string `json:"error_message"`
	} `json:"status"`
}

func parseHTTPError(status int, payload []byte) error {
	var apiErr errorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		if apiErr.Error != "" {
			return fmt.Errorf("source api error (%d): %s", status, apiErr.Error)
		}
		if apiErr.Message != "" {
			return fmt.Errorf("source api error (%d): %s", status, apiErr.Message)
		}
		if apiErr.Status.ErrorMessage != "" {
			return fmt.Errorf("source api error (%d): %s", status, apiErr.Status.ErrorMessage)
		}
	}
	if len(payload) > 0 {
		return fmt.Errorf("source api error (%d): %s", status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("source api error (%d)", status)
}

var _ feed.Source = (*HTTPJSON)(nil)
