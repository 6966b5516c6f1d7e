package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"disputable-values-monitor/internal/storage"
)

var decimalHundred = decimal.NewFromInt(100)

// Show prints recent reports, or recent alerts with opts.Alerts.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show reports")
	}
	if closeStore != nil {
		defer closeStore()
	}

	if opts.Alerts {
		return a.showAlerts(ctx, store, opts.Limit)
	}

	reports, err := store.ListRecentReports(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if len(reports) == 0 {
		fmt.Fprintln(os.Stdout, "no reports found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Submitted (UTC)\tChain\tQueryType\tAsset\tCurrency\tValue\tTrusted\tDiff\tStatus\tTx")

	for _, r := range reports {
		diff := ""
		if r.PercentDiff.Valid {
			diff = r.PercentDiff.Decimal.Mul(decimalHundred).StringFixed(2) + "%"
		}
		fmt.Fprintf(
			writer,
			"%s\t%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.SubmittedAt.UTC().Format(time.RFC3339),
			r.ChainID,
			r.QueryType,
			r.Asset,
			r.Currency,
			truncate(sanitizeInline(r.Value), 40),
			truncate(sanitizeInline(deref(r.TrustedValue)), 40),
			diff,
			r.Status,
			r.TxHash,
		)
	}

	return writer.Flush()
}

func (a *App) showAlerts(ctx context.Context, store storage.AlertStore, limit int) error {
	alerts, err := store.ListRecentAlerts(ctx, limit)
	if err != nil {
		return err
	}
	if len(alerts) == 0 {
		fmt.Fprintln(os.Stdout, "no alerts found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Created (UTC)\tKind\tChain\tChannels\tFailed\tBody")
	for _, al := range alerts {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%d\t%s\t%s\t%s\n",
			al.CreatedAt.UTC().Format(time.RFC3339),
			al.Kind,
			al.ChainID,
			strings.Join(al.Channels, ","),
			strings.Join(al.Failed, ","),
			truncate(sanitizeInline(al.Body), 80),
		)
	}
	return writer.Flush()
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-1]) + "…"
}
