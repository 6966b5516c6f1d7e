package display

import (
	"bytes"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"disputable-values-monitor/internal/oracle"
)

func report(n int64, ts uint64) *oracle.Report {
	return &oracle.Report{
		TxHash:    common.BigToHash(big.NewInt(n)),
		Timestamp: ts,
		QueryType: "SpotPrice",
		Asset:     "eth",
		Currency:  "usd",
		Value:     oracle.Int64(n),
		Status:    oracle.StatusString(oracle.VerdictNotDisputable, common.Hash{}),
		ChainID:   1,
	}
}

func TestWindowEvictsOldest(t *testing.T) {
	w := NewWindow(0)
	for i := int64(1); i <= 10; i++ {
		if evicted := w.Add(report(i, uint64(1000+i))); evicted != nil {
			t.Fatalf("unexpected eviction at %d", i)
		}
	}
	evicted := w.Add(report(11, 100))
	if evicted == nil || evicted.TxHash != common.BigToHash(big.NewInt(11)) {
		t.Fatalf("expected the report with the oldest timestamp to be evicted, got %+v", evicted)
	}
	if w.Len() != 10 {
		t.Fatalf("expected 10 rows, got %d", w.Len())
	}
	if w.Seen(evicted.TxHash) {
		t.Fatal("evicted hash must leave the seen set")
	}

	evicted = w.Add(report(12, 2000))
	if evicted == nil || evicted.TxHash != common.BigToHash(big.NewInt(1)) {
		t.Fatalf("expected report 1 to be evicted, got %+v", evicted)
	}

	rows := w.Rows()
	for i := 1; i < len(rows); i++ {
		if rows[i-1].Timestamp > rows[i].Timestamp {
			t.Fatalf("rows not sorted by timestamp at %d", i)
		}
	}
	for _, r := range rows {
		if !w.Seen(r.TxHash) {
			t.Fatalf("row %s missing from seen set", r.TxHash.Hex())
		}
	}
	if len(w.seen) != len(rows) {
		t.Fatalf("seen set has %d entries for %d rows", len(w.seen), len(rows))
	}
}

func TestWindowRedisplayAfterEviction(t *testing.T) {
	w := NewWindow(2)
	w.Add(report(1, 1))
	w.Add(report(2, 2))
	if w.Add(report(2, 2)) != nil || w.Len() != 2 {
		t.Fatal("duplicate add must be a no-op")
	}
	w.Add(report(3, 3))
	if w.Seen(common.BigToHash(big.NewInt(1))) {
		t.Fatal("report 1 should be evicted")
	}
	w.Add(report(1, 4))
	if !w.Seen(common.BigToHash(big.NewInt(1))) {
		t.Fatal("evicted report should be displayable again")
	}
}

func TestWindowRender(t *testing.T) {
	w := NewWindow(0)
	r := report(7, 1647451884)
	r.Link = "https://polygonscan.com/tx/0x07"
	r.Value = oracle.Text("line1\nline2")
	w.Add(r)

	var buf bytes.Buffer
	if err := w.Render(&buf); err != nil {
		t.Fatalf("render: %v", err)
	}
	out := buf.String()
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected header and one row, got %q", out)
	}
	for _, want := range []string{"2022-03-16T17:31:24Z", "https://polygonscan.com/tx/0x07", "line1 line2", "no ✔️"} {
		if !strings.Contains(lines[1], want) {
			t.Fatalf("row %q missing %q", lines[1], want)
		}
	}
}

func TestAppendCSV(t *testing.T) {
	var buf bytes.Buffer
	r := report(3, 1647451884)
	r.Value = oracle.Text("a,b")
	if err := AppendCSV(&buf, r); err != nil {
		t.Fatalf("append: %v", err)
	}
	if got := buf.String(); !strings.Contains(got, `"a,b"`) || !strings.HasPrefix(got, "2022-03-16T17:31:24Z,") {
		t.Fatalf("unexpected csv row %q", got)
	}
}
