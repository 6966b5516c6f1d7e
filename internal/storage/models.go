package storage

import (
	"time"

	"github.com/shopspring/decimal"

	"disputable-values-monitor/internal/oracle"
)

// ReportRecord is a persisted NewReport submission.
type ReportRecord struct {
	TxHash          string
	LogIndex        int64
	ChainID         int64
	BlockNumber     int64
	SubmittedAt     time.Time
	QueryID         string
	QueryType       string
	Asset           string
	Currency        string
	Reporter        string
	ContractAddress string
	ValueKind       string
	Value           string
	Verdict         string
	Status          string
	FeedTag         *string
	TrustedValue    *string
	PercentDiff     decimal.NullDecimal
	ThresholdMetric *string
	ThresholdAmount decimal.NullDecimal
	Removable       bool
	Link            string
	CreatedAt       time.Time
}

// NewReportRecord flattens a decoded report for storage.
func NewReportRecord(r *oracle.Report) ReportRecord {
	rec := ReportRecord{
		TxHash:          r.TxHash.Hex(),
		LogIndex:        int64(r.LogIndex),
		ChainID:         int64(r.ChainID),
		BlockNumber:     int64(r.BlockNumber),
		SubmittedAt:     time.Unix(int64(r.Timestamp), 0).UTC(),
		QueryID:         r.QueryID.Hex(),
		QueryType:       r.QueryType,
		Asset:           r.Asset,
		Currency:        r.Currency,
		Reporter:        r.Reporter.Hex(),
		ContractAddress: r.ContractAddress.Hex(),
		ValueKind:       r.Value.Kind.String(),
		Value:           r.Value.String(),
		Verdict:         r.Verdict.String(),
		Status:          r.Status,
		Removable:       r.Removable,
		Link:            r.Link,
	}
	if m := r.Monitoring; m != nil {
		rec.FeedTag = optional(m.FeedTag)
		if m.Trusted != nil {
			rec.TrustedValue = optional(m.Trusted.String())
		}
		rec.PercentDiff = m.PercentDiff
		rec.ThresholdMetric = optional(m.ThresholdMetric)
		rec.ThresholdAmount = m.ThresholdAmount
	}
	return rec
}

// DisputeRecord is a persisted NewDispute event.
type DisputeRecord struct {
	TxHash          string
	ChainID         int64
	BlockNumber     int64
	DisputeID       int64
	QueryID         string
	ReportedAt      time.Time
	Reporter        string
	Initiator       string
	VoteRound       int64
	Fee             decimal.Decimal
	VoteRoundLength int64
	StartDate       time.Time
	Link            string
	CreatedAt       time.Time
}

// NewDisputeRecord flattens a decoded dispute for storage.
func NewDisputeRecord(d *oracle.Dispute) DisputeRecord {
	return DisputeRecord{
		TxHash:          d.TxHash.Hex(),
		ChainID:         int64(d.ChainID),
		BlockNumber:     int64(d.BlockNumber),
		DisputeID:       int64(d.DisputeID),
		QueryID:         d.QueryID.Hex(),
		ReportedAt:      time.Unix(int64(d.Timestamp), 0).UTC(),
		Reporter:        d.Reporter.Hex(),
		Initiator:       d.Initiator.Hex(),
		VoteRound:       int64(d.VoteRound),
		Fee:             d.Fee,
		VoteRoundLength: int64(d.VoteRoundLength),
		StartDate:       time.Unix(int64(d.StartDate), 0).UTC(),
		Link:            d.Link,
	}
}

// AlertRecord captures an emitted alert for auditing.
type AlertRecord struct {
	ID        int64
	Kind      string
	ChainID   int64
	TxHash    *string
	Body      string
	Channels  []string
	Failed    []string
	CreatedAt time.Time
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
