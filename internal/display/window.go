// Package display keeps the bounded table of recently shown reports.
package display

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"disputable-values-monitor/internal/oracle"
)

// DefaultCapacity is the number of rows kept on screen.
const DefaultCapacity = 10

// Window holds the most recent reports ordered by submission timestamp. A tx
// hash is in the seen set exactly when its report is in the window.
type Window struct {
	capacity int
	rows     []*oracle.Report
	seen     map[common.Hash]struct{}
}

// NewWindow constructs a window. Non-positive capacity uses DefaultCapacity.
func NewWindow(capacity int) *Window {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Window{capacity: capacity, seen: make(map[common.Hash]struct{}, capacity+1)}
}

// Seen reports whether the tx hash is currently displayed.
func (w *Window) Seen(tx common.Hash) bool {
	_, ok := w.seen[tx]
	return ok
}

// Add inserts r and returns the evicted oldest report, if any. Adding a report
// that is already shown is a no-op.
func (w *Window) Add(r *oracle.Report) *oracle.Report {
	if w.Seen(r.TxHash) {
		return nil
	}
	w.seen[r.TxHash] = struct{}{}
	w.rows = append(w.rows, r)
	sort.SliceStable(w.rows, func(i, j int) bool { return w.rows[i].Timestamp < w.rows[j].Timestamp })

	if len(w.rows) <= w.capacity {
		return nil
	}
	evicted := w.rows[0]
	w.rows = w.rows[1:]
	delete(w.seen, evicted.TxHash)
	return evicted
}

// Rows returns the displayed reports, oldest first.
func (w *Window) Rows() []*oracle.Report {
	out := make([]*oracle.Report, len(w.rows))
	copy(out, w.rows)
	return out
}

// Len returns the number of displayed reports.
func (w *Window) Len() int { return len(w.rows) }

// Render writes the window as an aligned table.
func (w *Window) Render(out io.Writer) error {
	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "When\tTransaction\tQueryType\tAsset\tCurrency\tValue\tDisputable\tChainId")
	for _, r := range w.rows {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\t%s\t%d\n",
			time.Unix(int64(r.Timestamp), 0).UTC().Format(time.RFC3339),
			r.Link,
			r.QueryType,
			r.Asset,
			r.Currency,
			sanitizeInline(r.Value.Short(40)),
			r.Status,
			r.ChainID,
		)
	}
	return writer.Flush()
}

// AppendCSV writes r as one row with the same columns as Render.
func AppendCSV(out io.Writer, r *oracle.Report) error {
	w := csv.NewWriter(out)
	if err := w.Write([]string{
		time.Unix(int64(r.Timestamp), 0).UTC().Format(time.RFC3339),
		r.Link,
		r.QueryType,
		r.Asset,
		r.Currency,
		r.Value.String(),
		r.Status,
		fmt.Sprint(r.ChainID),
	}); err != nil {
		return err
	}
	w.Flush()
	return w.Error()
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	return strings.ReplaceAll(cleaned, "\r", " ")
}
