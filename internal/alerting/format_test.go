package alerting

import (
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"disputable-values-monitor/internal/balance"
	"disputable-values-monitor/internal/oracle"
)

func sampleReport(v oracle.Verdict, chainID uint64) *oracle.Report {
	return &oracle.Report{
		ChainID:   chainID,
		Timestamp: 1647451884,
		QueryType: "SpotPrice",
		Asset:     "eth",
		Currency:  "usd",
		Value:     oracle.Float(decimal.RequireFromString("3100.5")),
		Verdict:   v,
		Link:      "https://scan/tx/0x01",
	}
}

func TestReportAlert(t *testing.T) {
	msg := ReportAlert(sampleReport(oracle.VerdictDisputable, 369), DashboardFor(369, ""))
	for _, want := range []string{
		"**DISPUTABLE VALUE**",
		"https://go.fetchoracle.com/#/reporter-logs",
		"https://go.fetchoracle.com/#/submit-dispute",
		"Report: eth/usd: 3100.5",
	} {
		if !strings.Contains(msg, want) {
			t.Fatalf("message %q missing %q", msg, want)
		}
	}

	msg = ReportAlert(sampleReport(oracle.VerdictNotDisputable, 1), DashboardFor(1, ""))
	if !strings.Contains(msg, "**NEW VALUE**") || !strings.Contains(msg, "No Dashboard for 1 chain. Check tx link.") {
		t.Fatalf("unexpected message %q", msg)
	}
}

func TestDashboardOverride(t *testing.T) {
	d := DashboardFor(1, "https://dash.example/")
	if got := d.Vote(1); got != "https://dash.example/#/vote-on-dispute" {
		t.Fatalf("unexpected vote link %q", got)
	}
}

func TestReportDetailsWithoutMonitoring(t *testing.T) {
	out := ReportDetails(sampleReport(oracle.VerdictUnknown, 943))
	for _, want := range []string{"- Query type: SpotPrice", "- Disputable: unknown", "  - Trusted Value: N/A", "- Timestamp: 2022-03-16T17:31:24Z"} {
		if !strings.Contains(out, want) {
			t.Fatalf("details missing %q:\n%s", want, out)
		}
	}
}

func TestBalanceAlert(t *testing.T) {
	msg := BalanceAlert(balance.Alert{
		Role:      balance.RoleDisputer,
		Asset:     "FETCH",
		Address:   common.HexToAddress("0x01"),
		Balance:   decimal.RequireFromString("1234.5"),
		Threshold: decimal.NewFromInt(2000),
	}, 943)
	for _, want := range []string{"**Disputer's FETCH balance lower than threshold**", "threshold: 2,000.00", "balance: 1,234.50", "In network ID: 943"} {
		if !strings.Contains(msg, want) {
			t.Fatalf("message %q missing %q", msg, want)
		}
	}
}

func TestGrouped(t *testing.T) {
	cases := map[string]string{
		"0":         "0.00",
		"999.999":   "1,000.00",
		"1234567.1": "1,234,567.10",
		"-4200":     "-4,200.00",
	}
	for in, want := range cases {
		if got := Grouped(decimal.RequireFromString(in)); got != want {
			t.Fatalf("Grouped(%s) = %s, want %s", in, got, want)
		}
	}
}
