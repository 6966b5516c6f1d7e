package feed

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Metric selects how a reported value is compared with the trusted value.
type Metric string

const (
	MetricPercentage Metric = "percentage"
	MetricEquality   Metric = "equality"
	MetricRange      Metric = "range"
)

// ErrInvalidThreshold is returned for thresholds that cannot be evaluated.
var ErrInvalidThreshold = errors.New("feed: invalid threshold")

// ParseMetric accepts metric names case-insensitively.
func ParseMetric(s string) (Metric, error) {
	switch Metric(strings.ToLower(strings.TrimSpace(s))) {
	case MetricPercentage:
		return MetricPercentage, nil
	case MetricEquality:
		return MetricEquality, nil
	case MetricRange:
		return MetricRange, nil
	default:
		return "", fmt.Errorf("%w: unknown metric %q", ErrInvalidThreshold, s)
	}
}

// Threshold is a disputability policy.
type Threshold struct {
	Metric Metric
	Amount decimal.NullDecimal
}

// NewThreshold validates a policy. Equality drops any amount; percentage and
// range require a non-negative amount.
func NewThreshold(metric Metric, amount decimal.NullDecimal) (Threshold, error) {
	switch metric {
	case MetricEquality:
		return Threshold{Metric: metric}, nil
	case MetricPercentage, MetricRange:
		if !amount.Valid {
			return Threshold{}, fmt.Errorf("%w: %s threshold requires an amount", ErrInvalidThreshold, metric)
		}
		if amount.Decimal.IsNegative() {
			return Threshold{}, fmt.Errorf("%w: %s threshold amount cannot be negative", ErrInvalidThreshold, metric)
		}
		return Threshold{Metric: metric, Amount: amount}, nil
	default:
		return Threshold{}, fmt.Errorf("%w: unknown metric %q", ErrInvalidThreshold, metric)
	}
}

// Percentage is a convenience constructor for the default policy.
func Percentage(amount decimal.Decimal) (Threshold, error) {
	return NewThreshold(MetricPercentage, decimal.NewNullDecimal(amount))
}

// Equality returns the equality policy.
func Equality() Threshold {
	return Threshold{Metric: MetricEquality}
}

func (t Threshold) String() string {
	if !t.Amount.Valid {
		return string(t.Metric)
	}
	return fmt.Sprintf("%s(%s)", t.Metric, t.Amount.Decimal.String())
}
