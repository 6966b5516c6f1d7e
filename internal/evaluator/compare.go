package evaluator

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"disputable-values-monitor/internal/feed"
	"disputable-values-monitor/internal/oracle"
)

var (
	ErrNoReportedValue   = errors.New("evaluator: reported value missing")
	ErrNoTrustedValue    = errors.New("evaluator: trusted value missing")
	ErrNotNumeric        = errors.New("evaluator: numeric metric on non-numeric value")
	ErrZeroTrusted       = errors.New("evaluator: trusted value is zero")
	ErrUnsupportedMetric = errors.New("evaluator: unsupported threshold metric")
)

// Compare applies threshold to a reported and a trusted value. The returned
// difference is set for the percentage metric only. Any error means the
// verdict is unknown.
func Compare(threshold feed.Threshold, reported, trusted *oracle.Value) (oracle.Verdict, decimal.NullDecimal, error) {
	none := decimal.NullDecimal{}
	if reported == nil || reported.Kind == oracle.KindNone {
		return oracle.VerdictUnknown, none, ErrNoReportedValue
	}
	if trusted == nil || trusted.Kind == oracle.KindNone {
		return oracle.VerdictUnknown, none, ErrNoTrustedValue
	}

	switch threshold.Metric {
	case feed.MetricPercentage:
		r, t, err := numbers(reported, trusted)
		if err != nil {
			return oracle.VerdictUnknown, none, err
		}
		if t.IsZero() {
			return oracle.VerdictUnknown, none, ErrZeroTrusted
		}
		if !threshold.Amount.Valid {
			return oracle.VerdictUnknown, none, fmt.Errorf("%w: percentage without amount", feed.ErrInvalidThreshold)
		}
		diff := r.Sub(t).Div(t).Abs()
		return oracle.VerdictOf(diff.GreaterThanOrEqual(threshold.Amount.Decimal)), decimal.NewNullDecimal(diff), nil

	case feed.MetricRange:
		r, t, err := numbers(reported, trusted)
		if err != nil {
			return oracle.VerdictUnknown, none, err
		}
		if !threshold.Amount.Valid {
			return oracle.VerdictUnknown, none, fmt.Errorf("%w: range without amount", feed.ErrInvalidThreshold)
		}
		return oracle.VerdictOf(r.Sub(t).Abs().GreaterThanOrEqual(threshold.Amount.Decimal)), none, nil

	case feed.MetricEquality:
		return oracle.VerdictOf(!equal(*reported, *trusted)), none, nil

	default:
		return oracle.VerdictUnknown, none, fmt.Errorf("%w: %q", ErrUnsupportedMetric, threshold.Metric)
	}
}

func numbers(reported, trusted *oracle.Value) (decimal.Decimal, decimal.Decimal, error) {
	r, ok := reported.Decimal()
	if !ok {
		return decimal.Decimal{}, decimal.Decimal{}, fmt.Errorf("%w: reported %s", ErrNotNumeric, reported.Kind)
	}
	t, ok := trusted.Decimal()
	if !ok {
		return decimal.Decimal{}, decimal.Decimal{}, fmt.Errorf("%w: trusted %s", ErrNotNumeric, trusted.Kind)
	}
	return r, t, nil
}

// equal compares byte and hex values by content, so 0xAB equals 0xab.
func equal(a, b oracle.Value) bool {
	if ab, ok := a.RawBytes(); ok {
		if bb, ok := b.RawBytes(); ok {
			return bytes.Equal(ab, bb)
		}
	}
	if a.IsNumeric() && b.IsNumeric() {
		ad, _ := a.Decimal()
		bd, _ := b.Decimal()
		return ad.Equal(bd)
	}
	if a.Kind == oracle.KindTuple && b.Kind == oracle.KindTuple {
		if len(a.Tuple) != len(b.Tuple) {
			return false
		}
		for i := range a.Tuple {
			if !equal(a.Tuple[i], b.Tuple[i]) {
				return false
			}
		}
		return true
	}
	return a.Kind == b.Kind && a.String() == b.String()
}
