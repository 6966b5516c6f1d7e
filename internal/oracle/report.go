package oracle

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Verdict is the tri-state disputability outcome. The zero value is Unknown.
type Verdict int

const (
	VerdictUnknown Verdict = iota
	VerdictNotDisputable
	VerdictDisputable
)

func (v Verdict) String() string {
	switch v {
	case VerdictDisputable:
		return "disputable"
	case VerdictNotDisputable:
		return "not_disputable"
	default:
		return "unknown"
	}
}

// VerdictOf maps a boolean comparison result to a verdict.
func VerdictOf(disputable bool) Verdict {
	if disputable {
		return VerdictDisputable
	}
	return VerdictNotDisputable
}

const (
	// StatusVeryImportant marks always-alert query types.
	StatusVeryImportant = "❗❗❗❗ VERY IMPORTANT DATA SUBMISSION ❗❗❗❗"
	// StatusRemovable marks managed-feed reports that should be retracted.
	StatusRemovable = "removable"
	// NotAvailable fills asset/currency for queries without them.
	NotAvailable = "N/A"
)

// StatusString renders the operator-facing disputability column.
func StatusString(v Verdict, queryID common.Hash) string {
	switch v {
	case VerdictDisputable:
		return "yes ❗📲"
	case VerdictNotDisputable:
		return "no ✔️"
	default:
		return fmt.Sprintf("❗unsupported query ID: %s", queryID.Hex())
	}
}

// Monitoring captures what the evaluator used to judge a report.
type Monitoring struct {
	FeedTag         string
	Source          string
	Trusted         *Value
	PercentDiff     decimal.NullDecimal
	ThresholdMetric string
	ThresholdAmount decimal.NullDecimal
}

// Report is one decoded NewReport submission.
type Report struct {
	TxHash          common.Hash
	LogIndex        uint
	ChainID         uint64
	BlockNumber     uint64
	Timestamp       uint64
	QueryID         common.Hash
	QueryData       []byte
	QueryType       string
	Asset           string
	Currency        string
	Reporter        common.Address
	ContractAddress common.Address
	Nonce           uint64
	Value           Value
	Verdict         Verdict
	Status          string
	Monitoring      *Monitoring
	Removable       bool
	Managed         bool
	Link            string
}

// Dispute is one decoded NewDispute event.
type Dispute struct {
	TxHash          common.Hash
	ChainID         uint64
	BlockNumber     uint64
	DisputeID       uint64
	QueryID         common.Hash
	Timestamp       uint64
	Reporter        common.Address
	Initiator       common.Address
	StartDate       uint64
	VoteRound       uint64
	Fee             decimal.Decimal
	VoteRoundLength uint64
	Link            string
}
