package alerting

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"disputable-values-monitor/internal/balance"
	"disputable-values-monitor/internal/oracle"
)

// Dashboard resolves links into the Fetch dashboard for one network.
type Dashboard struct {
	base string
}

var dashboardBases = map[uint64]string{
	943: "https://testnet.fetchoracle.com/",
	369: "https://go.fetchoracle.com/",
}

// DashboardFor returns the dashboard of a network. override replaces the
// built-in base URL when set.
func DashboardFor(chainID uint64, override string) Dashboard {
	if override != "" {
		return Dashboard{base: strings.TrimRight(override, "/") + "/"}
	}
	return Dashboard{base: dashboardBases[chainID]}
}

// Known reports whether the network has a dashboard.
func (d Dashboard) Known() bool { return d.base != "" }

func (d Dashboard) link(path string, chainID uint64) string {
	if d.base == "" {
		return fmt.Sprintf("No Dashboard for %d chain. Check tx link.", chainID)
	}
	return d.base + path
}

func (d Dashboard) Vote(chainID uint64) string          { return d.link("#/vote-on-dispute", chainID) }
func (d Dashboard) ReporterLogs(chainID uint64) string  { return d.link("#/reporter-logs", chainID) }
func (d Dashboard) SubmitDispute(chainID uint64) string { return d.link("#/submit-dispute", chainID) }

// ReportAlert renders the short alert posted for a report. Disputable reports
// get the dispute call to action.
func ReportAlert(r *oracle.Report, dash Dashboard) string {
	if r.Verdict == oracle.VerdictDisputable {
		return fmt.Sprintf(
			"\n**DISPUTABLE VALUE**\n%s\nCheck latest reports here: %s\nInitiate a dispute on <12h old reports here: %s\nReport: %s/%s: %s",
			r.Link, dash.ReporterLogs(r.ChainID), dash.SubmitDispute(r.ChainID), r.Asset, r.Currency, r.Value,
		)
	}
	return fmt.Sprintf(
		"\n**NEW VALUE**\n%s\nCheck latest reports here %sReport: %s/%s: %s",
		r.Link, dash.ReporterLogs(r.ChainID), r.Asset, r.Currency, r.Value,
	)
}

// OracleAddressAlert announces a new or proposed oracle address transaction.
func OracleAddressAlert(link string) string {
	return "\n❗NEW ORACLE ADDRESS ALERT❗\n" + link
}

// RemovableReport flags a managed-feed report that should be retracted.
func RemovableReport(r *oracle.Report) string {
	return "**Removable report**\n" + ReportDetails(r)
}

// DisputeAgainstReporter renders a NewDispute event against a watched reporter.
func DisputeAgainstReporter(d *oracle.Dispute) string {
	return "**" + KindDisputeAgainstReporter.Subject() + "**\n" + DisputeDetails(d)
}

// DisputeSubmitted renders the message for a dispute started by this monitor.
func DisputeSubmitted(r *oracle.Report, dash Dashboard, txLink string) string {
	return fmt.Sprintf(
		"**Value disputed!**\nCheck Fetch Dashboard to vote on it: %s\n%s\n%s/%s: %s",
		dash.Vote(r.ChainID), txLink, r.Asset, r.Currency, r.Value,
	)
}

// ReportDetails renders every known field of a report, one per line.
func ReportDetails(r *oracle.Report) string {
	var b strings.Builder
	line := func(k string, v any) { fmt.Fprintf(&b, "- %s: %v\n", k, v) }

	line("Tx link", r.Link)
	line("Query type", r.QueryType)
	line("Query ID", r.QueryID.Hex())
	line("Timestamp", formatUnix(r.Timestamp))
	line("Reporter", r.Reporter.Hex())
	line("Contract Address", r.ContractAddress.Hex())
	line("Asset", r.Asset)
	line("Currency", r.Currency)
	line("Value", r.Value)
	line("Disputable", r.Verdict)
	line("Chain ID", r.ChainID)
	line("Removable", r.Removable)
	line("Block Number", r.BlockNumber)
	b.WriteString("- Monitored Feed:\n")

	m := r.Monitoring
	if m == nil {
		m = &oracle.Monitoring{}
	}
	sub := func(k, v string) {
		if v == "" {
			v = oracle.NotAvailable
		}
		fmt.Fprintf(&b, "  - %s: %s\n", k, v)
	}
	sub("Datafeed Querytag", m.FeedTag)
	sub("Datafeed Source", m.Source)
	trusted := ""
	if m.Trusted != nil {
		trusted = m.Trusted.String()
	}
	sub("Trusted Value", trusted)
	sub("Percentage Change", nullString(m.PercentDiff))
	sub("Threshold Amount", nullString(m.ThresholdAmount))
	sub("Threshold Metric", m.ThresholdMetric)
	return strings.TrimRight(b.String(), "\n")
}

// DisputeDetails renders every field of a NewDispute event.
func DisputeDetails(d *oracle.Dispute) string {
	lines := []string{
		"- Dispute Tx link: " + d.Link,
		fmt.Sprintf("- Dispute ID: %d", d.DisputeID),
		"- Query ID: " + d.QueryID.Hex(),
		"- Timestamp: " + formatUnix(d.Timestamp),
		"- Reporter: " + d.Reporter.Hex(),
		"- Initiator: " + d.Initiator.Hex(),
		"- Start date: " + formatUnix(d.StartDate),
		fmt.Sprintf("- Vote round: %d", d.VoteRound),
		"- Fee: " + d.Fee.String(),
		fmt.Sprintf("- Vote round length: %d", d.VoteRoundLength),
		fmt.Sprintf("- Chain ID: %d", d.ChainID),
		fmt.Sprintf("- Block Number: %d", d.BlockNumber),
	}
	return strings.Join(lines, "\n")
}

// BalanceAlert renders a low-balance warning.
func BalanceAlert(a balance.Alert, chainID uint64) string {
	who := "Reporter's"
	if a.Role == balance.RoleDisputer {
		who = "Disputer's"
	}
	return fmt.Sprintf(
		"**%s %s balance lower than threshold**\n%s address: %s\nCurrent %s threshold: %s\nCurrent %s balance: %s\nIn network ID: %d",
		who, a.Asset, who, a.Address.Hex(), a.Asset, Grouped(a.Threshold), a.Asset, Grouped(a.Balance), chainID,
	)
}

// BalanceKind maps a balance role to its alert kind.
func BalanceKind(role balance.Role) Kind {
	if role == balance.RoleDisputer {
		return KindDisputerBalance
	}
	return KindReporterBalance
}

// ReporterStopped renders the silence warning for one reporter.
func ReporterStopped(reporter string, chainID uint64, last time.Time, interval time.Duration) string {
	return fmt.Sprintf(
		"**Reporter stopped reporting**\nReporter: %s\nIn network ID: %d\nLast report: %s\nExpected interval: %s",
		reporter, chainID, last.UTC().Format(time.RFC3339), interval,
	)
}

// AllReportersStopped renders the warning raised when every watched reporter is silent.
func AllReportersStopped(chainID uint64, count int) string {
	return fmt.Sprintf("**All %d monitored reporters stopped reporting**\nIn network ID: %d", count, chainID)
}

// Grouped formats d with two decimals and comma thousands separators.
func Grouped(d decimal.Decimal) string {
	s := d.StringFixed(2)
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	intPart, frac, _ := strings.Cut(s, ".")

	var b strings.Builder
	if neg {
		b.WriteByte('-')
	}
	for i, c := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(c)
	}
	b.WriteByte('.')
	b.WriteString(frac)
	return b.String()
}

func formatUnix(ts uint64) string {
	if ts == 0 {
		return oracle.NotAvailable
	}
	return time.Unix(int64(ts), 0).UTC().Format(time.RFC3339)
}

func nullString(d decimal.NullDecimal) string {
	if !d.Valid {
		return ""
	}
	return d.Decimal.String()
}
