package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	chart "github.com/wcharczuk/go-chart/v2"

	"disputable-values-monitor/internal/storage"
)

// defaultExportWindow is used when --from is not given.
const defaultExportWindow = 7 * 24 * time.Hour

// Export renders report history as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}
	if opts.MaxPoints <= 0 {
		opts.MaxPoints = a.Config.Export.MaxDataPoints
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot export")
	}
	if closeStore != nil {
		defer closeStore()
	}

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}
	from := to.Add(-defaultExportWindow)
	if opts.From != nil {
		from = opts.From.UTC()
	}
	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	reports, err := store.ListReportsBetween(ctx, from, to)
	if err != nil {
		return err
	}
	reports = filterReports(reports, opts.QueryID)
	if len(reports) == 0 {
		a.Logger.Info().Msg("no reports found for export window")
		return nil
	}

	downsampled := downsampleReports(reports, opts.MaxPoints)
	a.Logger.Info().Int("total", len(reports)).Int("exported", len(downsampled)).Msg("exporting reports")

	if opts.CSVPath != "" {
		if err := writeReportsCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeReportsPNG(opts.PNGPath, downsampled); err != nil {
			return err
		}
	}

	return nil
}

func filterReports(reports []storage.ReportRecord, queryID string) []storage.ReportRecord {
	if queryID == "" {
		return reports
	}
	out := reports[:0:0]
	for _, r := range reports {
		if strings.EqualFold(r.QueryID, queryID) {
			out = append(out, r)
		}
	}
	return out
}

func downsampleReports(reports []storage.ReportRecord, max int) []storage.ReportRecord {
	if max <= 0 || len(reports) <= max {
		return reports
	}
	if max == 1 {
		return reports[len(reports)-1:]
	}

	result := make([]storage.ReportRecord, 0, max)
	step := float64(len(reports)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(reports) {
			idx = len(reports) - 1
		}
		result = append(result, reports[idx])
	}
	return result
}

func writeReportsCSV(path string, reports []storage.ReportRecord) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"submitted_at", "chain_id", "tx_hash", "query_type", "query_id", "asset", "currency", "value", "trusted_value", "percent_diff", "verdict", "status", "removable"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, r := range reports {
		record := []string{
			r.SubmittedAt.Format(time.RFC3339),
			strconv.FormatInt(r.ChainID, 10),
			r.TxHash,
			r.QueryType,
			r.QueryID,
			r.Asset,
			r.Currency,
			r.Value,
			deref(r.TrustedValue),
			nullDecimalString(r.PercentDiff),
			r.Verdict,
			r.Status,
			strconv.FormatBool(r.Removable),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	return writer.Error()
}

// writeReportsPNG charts reported against trusted values with the percent
// difference on the secondary axis. Non-numeric reports are skipped.
func writeReportsPNG(path string, reports []storage.ReportRecord) error {
	var (
		x         []time.Time
		reported  []float64
		tx        []time.Time
		trusted   []float64
		dx        []time.Time
		deviation []float64
	)
	for _, r := range reports {
		if v, err := decimal.NewFromString(r.Value); err == nil {
			x = append(x, r.SubmittedAt)
			reported = append(reported, v.InexactFloat64())
		}
		if r.TrustedValue != nil {
			if v, err := decimal.NewFromString(*r.TrustedValue); err == nil {
				tx = append(tx, r.SubmittedAt)
				trusted = append(trusted, v.InexactFloat64())
			}
		}
		if r.PercentDiff.Valid {
			dx = append(dx, r.SubmittedAt)
			deviation = append(deviation, r.PercentDiff.Decimal.Mul(decimalHundred).InexactFloat64())
		}
	}
	if len(x) < 2 {
		return errors.New("not enough numeric reports to chart")
	}
	if err := ensureDir(path); err != nil {
		return err
	}

	valueFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.4f")
	}
	series := []chart.Series{
		chart.TimeSeries{
			Name:    "Reported",
			XValues: x,
			YValues: reported,
		},
	}
	if len(tx) >= 2 {
		series = append(series, chart.TimeSeries{
			Name:    "Trusted",
			XValues: tx,
			YValues: trusted,
		})
	}
	if len(dx) >= 2 {
		series = append(series, chart.TimeSeries{
			Name:    "Difference %",
			XValues: dx,
			YValues: deviation,
			YAxis:   chart.YAxisSecondary,
		})
	}

	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Value",
			ValueFormatter: valueFormatter,
		},
		YAxisSecondary: chart.YAxis{
			Name:           "Difference (%)",
			ValueFormatter: valueFormatter,
		},
		Series: series,
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func nullDecimalString(d decimal.NullDecimal) string {
	if !d.Valid {
		return ""
	}
	return d.Decimal.String()
}
