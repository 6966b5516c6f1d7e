package oracle

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// ValueKind enumerates the shapes a decoded oracle value can take.
type ValueKind int

const (
	KindNone ValueKind = iota
	KindText
	KindBytes
	KindInteger
	KindFloat
	KindTuple
)

func (k ValueKind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindBytes:
		return "bytes"
	case KindInteger:
		return "integer"
	case KindFloat:
		return "float"
	case KindTuple:
		return "tuple"
	default:
		return "none"
	}
}

// Value is a decoded report value or a trusted value produced by a feed source.
type Value struct {
	Kind    ValueKind
	Text    string
	Bytes   []byte
	Integer *big.Int
	Float   decimal.Decimal
	Tuple   []Value
}

// Text wraps a string value.
func Text(s string) Value { return Value{Kind: KindText, Text: s} }

// Bytes wraps a byte-string value.
func Bytes(b []byte) Value { return Value{Kind: KindBytes, Bytes: b} }

// Integer wraps an integer value.
func Integer(i *big.Int) Value { return Value{Kind: KindInteger, Integer: new(big.Int).Set(i)} }

// Int64 wraps a small integer value.
func Int64(i int64) Value { return Value{Kind: KindInteger, Integer: big.NewInt(i)} }

// Float wraps a fractional value.
func Float(d decimal.Decimal) Value { return Value{Kind: KindFloat, Float: d} }

// Tuple wraps a compound value.
func Tuple(items ...Value) Value { return Value{Kind: KindTuple, Tuple: items} }

// IsNumeric reports whether the value can take part in percentage or range comparisons.
func (v Value) IsNumeric() bool {
	return v.Kind == KindInteger || v.Kind == KindFloat
}

// Decimal returns the numeric value as a decimal.
func (v Value) Decimal() (decimal.Decimal, bool) {
	switch v.Kind {
	case KindInteger:
		if v.Integer == nil {
			return decimal.Zero, true
		}
		return decimal.NewFromBigInt(v.Integer, 0), true
	case KindFloat:
		return v.Float, true
	default:
		return decimal.Decimal{}, false
	}
}

// Uint64 returns the value as an unsigned integer when it is a non-negative integer or float.
func (v Value) Uint64() (uint64, bool) {
	d, ok := v.Decimal()
	if !ok || d.IsNegative() {
		return 0, false
	}
	bi := d.BigInt()
	if !bi.IsUint64() {
		return 0, false
	}
	return bi.Uint64(), true
}

// Element returns the i-th tuple member.
func (v Value) Element(i int) (Value, bool) {
	if v.Kind != KindTuple || i < 0 || i >= len(v.Tuple) {
		return Value{}, false
	}
	return v.Tuple[i], true
}

// RawBytes returns the bytes carried by a bytes value or a hex text value.
func (v Value) RawBytes() ([]byte, bool) {
	switch v.Kind {
	case KindBytes:
		return v.Bytes, true
	case KindText:
		if !LooksHex(v.Text) {
			return nil, false
		}
		b, err := hex.DecodeString(strings.TrimPrefix(strings.ToLower(v.Text), "0x"))
		if err != nil {
			return nil, false
		}
		return b, true
	default:
		return nil, false
	}
}

func (v Value) String() string {
	switch v.Kind {
	case KindText:
		return v.Text
	case KindBytes:
		return "0x" + hex.EncodeToString(v.Bytes)
	case KindInteger:
		if v.Integer == nil {
			return "0"
		}
		return v.Integer.String()
	case KindFloat:
		return v.Float.String()
	case KindTuple:
		parts := make([]string, len(v.Tuple))
		for i, item := range v.Tuple {
			parts[i] = item.String()
		}
		return "(" + strings.Join(parts, ", ") + ")"
	default:
		return ""
	}
}

// Short renders the value for narrow table columns.
func (v Value) Short(max int) string {
	s := v.String()
	if max <= 3 || len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}

// LooksHex reports whether s is a 0x-prefixed hexadecimal string.
func LooksHex(s string) bool {
	if len(s) < 2 || !strings.EqualFold(s[:2], "0x") {
		return false
	}
	for _, r := range s[2:] {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'f', r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}

// GoString is used by %#v in test failure output.
func (v Value) GoString() string {
	return fmt.Sprintf("oracle.Value{%s: %s}", v.Kind, v.String())
}
