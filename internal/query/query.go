package query

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"reflect"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"

	"disputable-values-monitor/internal/oracle"
)

var (
	// ErrUnknownQueryType is returned when the payload names a type with no registered shape.
	ErrUnknownQueryType = errors.New("query: unknown query type")
	// ErrMalformed is returned when neither encoding parses.
	ErrMalformed = errors.New("query: malformed query data")
)

// Encoding identifies how the query payload was serialized.
type Encoding string

const (
	EncodingABI  Encoding = "abi"
	EncodingJSON Encoding = "json"
)

// Query is a decoded, self-describing query payload.
type Query struct {
	Type     string
	Kind     Kind
	Encoding Encoding
	Params   map[string]any
	Data     []byte
	ID       common.Hash

	shape *typeShape
}

// ID hashes raw query data into its query id.
func ID(data []byte) common.Hash {
	return crypto.Keccak256Hash(data)
}

// Decode parses query data, trying the JSON encoding first and the ABI encoding second.
func Decode(data []byte) (*Query, error) {
	if len(data) == 0 {
		return nil, ErrMalformed
	}
	if q, err := decodeJSON(data); err == nil {
		return q, nil
	} else if errors.Is(err, ErrUnknownQueryType) {
		return nil, err
	}
	return decodeABI(data)
}

func decodeJSON(data []byte) (*Query, error) {
	if !json.Valid(data) {
		return nil, ErrMalformed
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, ErrMalformed
	}
	queryType, ok := raw["type"].(string)
	if !ok || queryType == "" {
		return nil, ErrMalformed
	}
	shape, ok := shapes[queryType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownQueryType, queryType)
	}
	delete(raw, "type")
	return &Query{
		Type:     queryType,
		Kind:     shape.kind,
		Encoding: EncodingJSON,
		Params:   raw,
		Data:     append([]byte(nil), data...),
		ID:       ID(data),
		shape:    shape,
	}, nil
}

func decodeABI(data []byte) (*Query, error) {
	out, err := envelopeArgs.Unpack(data)
	if err != nil || len(out) != 2 {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	queryType, _ := out[0].(string)
	encoded, _ := out[1].([]byte)
	shape, ok := shapes[queryType]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownQueryType, queryType)
	}

	params := make(map[string]any, len(shape.params))
	if len(shape.params) > 0 {
		values, err := shape.paramArgs.Unpack(encoded)
		if err != nil {
			return nil, fmt.Errorf("%w: decode %s params: %v", ErrMalformed, queryType, err)
		}
		for i, f := range shape.params {
			params[f.name] = values[i]
		}
	}

	return &Query{
		Type:     queryType,
		Kind:     shape.kind,
		Encoding: EncodingABI,
		Params:   params,
		Data:     append([]byte(nil), data...),
		ID:       ID(data),
		shape:    shape,
	}, nil
}

// Encode builds ABI query data for a registered type.
func Encode(queryType string, params ...any) ([]byte, error) {
	shape, ok := shapes[queryType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownQueryType, queryType)
	}
	encoded := []byte{}
	if len(shape.params) > 0 {
		var err error
		encoded, err = shape.paramArgs.Pack(params...)
		if err != nil {
			return nil, fmt.Errorf("pack %s params: %w", queryType, err)
		}
	}
	data, err := envelopeArgs.Pack(queryType, encoded)
	if err != nil {
		return nil, fmt.Errorf("pack query envelope: %w", err)
	}
	return data, nil
}

// EncodeJSON builds JSON query data with sorted keys.
func EncodeJSON(queryType string, params map[string]any) ([]byte, error) {
	if _, ok := shapes[queryType]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownQueryType, queryType)
	}
	body := make(map[string]any, len(params)+1)
	for k, v := range params {
		body[k] = v
	}
	body["type"] = queryType
	return json.Marshal(body)
}

// EncodeValue ABI-encodes a report value for a registered type.
func EncodeValue(queryType string, values ...any) ([]byte, error) {
	shape, ok := shapes[queryType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownQueryType, queryType)
	}
	return shape.valueArgs.Pack(values...)
}

// DecodeValue interprets raw report bytes with the query's value type.
func (q *Query) DecodeValue(raw []byte) (oracle.Value, error) {
	if q.shape == nil {
		return oracle.Value{}, ErrUnknownQueryType
	}
	out, err := q.shape.valueArgs.Unpack(raw)
	if err != nil {
		return oracle.Value{}, fmt.Errorf("decode %s value: %w", q.Type, err)
	}
	if len(out) == 1 {
		return toValue(out[0], q.shape.scale), nil
	}
	items := make([]oracle.Value, len(out))
	for i, item := range out {
		items[i] = toValue(item, 0)
	}
	return oracle.Tuple(items...), nil
}

// Param returns a decoded parameter by name.
func (q *Query) Param(name string) (any, bool) {
	v, ok := q.Params[name]
	return v, ok
}

// ParamString renders a parameter for URL templates and logs.
func (q *Query) ParamString(name string) (string, bool) {
	v, ok := q.Params[name]
	if !ok {
		return "", false
	}
	return formatParam(v), true
}

// ParamUint64 returns a numeric parameter.
func (q *Query) ParamUint64(name string) (uint64, bool) {
	v, ok := q.Params[name]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case *big.Int:
		if n.IsUint64() {
			return n.Uint64(), true
		}
	case float64:
		if n >= 0 {
			return uint64(n), true
		}
	case string:
		d, err := decimal.NewFromString(n)
		if err == nil && !d.IsNegative() {
			return d.BigInt().Uint64(), true
		}
	}
	return 0, false
}

// HasParams reports whether the query carries concrete parameters.
func (q *Query) HasParams() bool {
	return len(q.Params) > 0
}

// Asset returns the asset parameter or N/A.
func (q *Query) Asset() string {
	if s, ok := q.Params["asset"].(string); ok {
		return s
	}
	return oracle.NotAvailable
}

// Currency returns the currency parameter or N/A.
func (q *Query) Currency() string {
	if s, ok := q.Params["currency"].(string); ok {
		return s
	}
	return oracle.NotAvailable
}

// Descriptor renders the query as a stable single-line string.
func (q *Query) Descriptor() string {
	keys := make([]string, 0, len(q.Params))
	for k := range q.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+formatParam(q.Params[k]))
	}
	return q.Type + "(" + strings.Join(parts, ",") + ")"
}

func formatParam(v any) string {
	switch p := v.(type) {
	case string:
		return p
	case *big.Int:
		return p.String()
	case common.Address:
		return p.Hex()
	case []byte:
		return common.Bytes2Hex(p)
	case [32]byte:
		return common.Hash(p).Hex()
	default:
		return fmt.Sprint(p)
	}
}

func toValue(x any, scale int32) oracle.Value {
	switch v := x.(type) {
	case *big.Int:
		if scale > 0 {
			return oracle.Float(decimal.NewFromBigInt(v, -scale))
		}
		return oracle.Integer(v)
	case bool:
		if v {
			return oracle.Int64(1)
		}
		return oracle.Int64(0)
	case string:
		return oracle.Text(v)
	case []byte:
		return oracle.Bytes(v)
	case [32]byte:
		return oracle.Bytes(v[:])
	case common.Address:
		return oracle.Text(v.Hex())
	case uint8:
		return oracle.Int64(int64(v))
	case uint16:
		return oracle.Int64(int64(v))
	case uint32:
		return oracle.Int64(int64(v))
	case uint64:
		return oracle.Integer(new(big.Int).SetUint64(v))
	case int8:
		return oracle.Int64(int64(v))
	case int16:
		return oracle.Int64(int64(v))
	case int32:
		return oracle.Int64(int64(v))
	case int64:
		return oracle.Int64(v)
	}

	rv := reflect.ValueOf(x)
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		items := make([]oracle.Value, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			items[i] = toValue(rv.Index(i).Interface(), 0)
		}
		return oracle.Tuple(items...)
	}
	if rv.Kind() == reflect.Struct {
		items := make([]oracle.Value, rv.NumField())
		for i := 0; i < rv.NumField(); i++ {
			items[i] = toValue(rv.Field(i).Interface(), 0)
		}
		return oracle.Tuple(items...)
	}
	return oracle.Text(fmt.Sprint(x))
}
