package alerting

import (
	"fmt"
	"strings"
)

// Kind classifies an alert. Operators enable kinds by name.
type Kind string

const (
	KindDisputeAgainstReporter Kind = "DISPUTE_AGAINST_REPORTER"
	KindBeganDispute           Kind = "BEGAN_DISPUTE"
	KindRemoveReport           Kind = "REMOVE_REPORT"
	KindAllReportersStop       Kind = "ALL_REPORTERS_STOP"
	KindDisputableReport       Kind = "DISPUTABLE_REPORT"
	KindReporterStop           Kind = "REPORTER_STOP"
	KindReporterBalance        Kind = "REPORTER_BALANCE"
	KindDisputerBalance        Kind = "DISPUTER_BALANCE"

	// KindNewReport and KindOracleAddress are not filtered by level.
	KindNewReport     Kind = "NEW_REPORT"
	KindOracleAddress Kind = "ORACLE_ADDRESS"
)

// Subject is the human title of an alert kind.
func (k Kind) Subject() string {
	switch k {
	case KindDisputeAgainstReporter:
		return "New Dispute against Reporter"
	case KindBeganDispute:
		return "Auto-Disputer began a dispute"
	case KindRemoveReport:
		return "Remove Report"
	case KindAllReportersStop:
		return "All Reporters stop reporting"
	case KindDisputableReport:
		return "Disputable Report"
	case KindReporterStop:
		return "Reporter stop reporting"
	case KindReporterBalance:
		return "Reporter balance threshold"
	case KindDisputerBalance:
		return "Disputer balance threshold"
	case KindOracleAddress:
		return "New Oracle Address"
	default:
		return "New Report"
	}
}

// Level groups kinds by urgency.
type Level string

const (
	LevelCritical Level = "critical"
	LevelHigh     Level = "high"
	LevelMid      Level = "mid"
	LevelLow      Level = "low"
)

// DefaultLevels is the stock kind-to-level assignment.
func DefaultLevels() map[Level][]Kind {
	return map[Level][]Kind{
		LevelCritical: {KindDisputeAgainstReporter, KindAllReportersStop},
		LevelHigh:     {KindDisputeAgainstReporter, KindBeganDispute, KindRemoveReport, KindAllReportersStop},
		LevelMid:      {KindDisputableReport, KindReporterStop},
		LevelLow:      {KindReporterBalance, KindDisputerBalance},
	}
}

// EnabledKinds unions the high, mid and low levels. Critical is a subset of
// high and is only used for routing.
func EnabledKinds(levels map[Level][]Kind) []Kind {
	seen := make(map[Kind]struct{})
	var out []Kind
	for _, lvl := range []Level{LevelHigh, LevelMid, LevelLow} {
		for _, k := range levels[lvl] {
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			out = append(out, k)
		}
	}
	return out
}

// ParseKinds validates kind names from configuration.
func ParseKinds(names []string) ([]Kind, error) {
	out := make([]Kind, 0, len(names))
	for _, name := range names {
		k := Kind(strings.ToUpper(strings.TrimSpace(name)))
		if k == "" {
			continue
		}
		if !k.known() {
			return nil, fmt.Errorf("unknown alert kind %q", name)
		}
		out = append(out, k)
	}
	return out, nil
}

func (k Kind) known() bool {
	switch k {
	case KindDisputeAgainstReporter, KindBeganDispute, KindRemoveReport, KindAllReportersStop,
		KindDisputableReport, KindReporterStop, KindReporterBalance, KindDisputerBalance,
		KindNewReport, KindOracleAddress:
		return true
	}
	return false
}
