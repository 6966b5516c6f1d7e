package storage

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

//go:embed schema.sql
var schemaSQL string

const (
	upsertReportSQL = `INSERT INTO reports (
        tx_hash,
        log_index,
        chain_id,
        block_number,
        submitted_at,
        query_id,
        query_type,
        asset,
        currency,
        reporter,
        contract_address,
        value_kind,
        value,
        verdict,
        status,
        feed_tag,
        trusted_value,
        percent_diff,
        threshold_metric,
        threshold_amount,
        removable,
        link
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22
    )
    ON CONFLICT (tx_hash) DO UPDATE
    SET
        verdict          = EXCLUDED.verdict,
        status           = EXCLUDED.status,
        feed_tag         = EXCLUDED.feed_tag,
        trusted_value    = EXCLUDED.trusted_value,
        percent_diff     = EXCLUDED.percent_diff,
        threshold_metric = EXCLUDED.threshold_metric,
        threshold_amount = EXCLUDED.threshold_amount,
        removable        = EXCLUDED.removable;`

	reportColumns = `tx_hash,
        log_index,
        chain_id,
        block_number,
        submitted_at,
        query_id,
        query_type,
        asset,
        currency,
        reporter,
        contract_address,
        value_kind,
        value,
        verdict,
        status,
        feed_tag,
        trusted_value,
        percent_diff::TEXT,
        threshold_metric,
        threshold_amount::TEXT,
        removable,
        link,
        created_at`

	listReportsBetweenSQL = `SELECT ` + reportColumns + `
    FROM reports
    WHERE submitted_at >= $1
      AND submitted_at < $2
    ORDER BY submitted_at;`

	listRecentReportsSQL = `SELECT ` + reportColumns + `
    FROM reports
    ORDER BY submitted_at DESC
    LIMIT $1;`

	countReportsSQL = `SELECT COUNT(*) FROM reports;`

	insertDisputeSQL = `INSERT INTO disputes (
        tx_hash,
        chain_id,
        block_number,
        dispute_id,
        query_id,
        reported_at,
        reporter,
        initiator,
        vote_round,
        fee,
        vote_round_length,
        start_date,
        link
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13
    )
    ON CONFLICT (tx_hash) DO NOTHING;`

	insertAlertSQL = `INSERT INTO alerts (
        kind,
        chain_id,
        tx_hash,
        body,
        channels,
        failed
    ) VALUES (
        $1,$2,$3,$4,$5,$6
    )
    RETURNING id, created_at;`

	listRecentAlertsSQL = `SELECT
        id,
        kind,
        chain_id,
        tx_hash,
        body,
        channels,
        failed,
        created_at
    FROM alerts
    ORDER BY created_at DESC
    LIMIT $1;`

	deleteAlertsBeforeSQL = `DELETE FROM alerts WHERE created_at < $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// ReportStore defines operations for report persistence.
type ReportStore interface {
	UpsertReport(ctx context.Context, rec ReportRecord) error
	ListReportsBetween(ctx context.Context, from, to time.Time) ([]ReportRecord, error)
	ListRecentReports(ctx context.Context, limit int) ([]ReportRecord, error)
	CountReports(ctx context.Context) (int64, error)
}

// DisputeStore persists observed disputes.
type DisputeStore interface {
	InsertDispute(ctx context.Context, rec DisputeRecord) error
}

// AlertStore defines operations for alert auditing.
type AlertStore interface {
	InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, error)
	ListRecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error)
	DeleteAlertsBefore(ctx context.Context, olderThan time.Time) error
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to reports, disputes and alerts.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Migrate creates missing tables and indexes.
func (s *Store) Migrate(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// best effort; the session lock also ends with the connection
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// UpsertReport persists a report. A re-observed report only refreshes its evaluation columns.
func (s *Store) UpsertReport(ctx context.Context, rec ReportRecord) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	_, execErr := pool.Exec(ctx, upsertReportSQL,
		rec.TxHash,
		rec.LogIndex,
		rec.ChainID,
		rec.BlockNumber,
		rec.SubmittedAt,
		rec.QueryID,
		rec.QueryType,
		rec.Asset,
		rec.Currency,
		rec.Reporter,
		rec.ContractAddress,
		rec.ValueKind,
		rec.Value,
		rec.Verdict,
		rec.Status,
		rec.FeedTag,
		rec.TrustedValue,
		nullDecimalArg(rec.PercentDiff),
		rec.ThresholdMetric,
		nullDecimalArg(rec.ThresholdAmount),
		rec.Removable,
		rec.Link,
	)
	if execErr != nil {
		return fmt.Errorf("upsert report: %w", execErr)
	}
	return nil
}

// ListReportsBetween lists reports submitted within a time window.
func (s *Store) ListReportsBetween(ctx context.Context, from, to time.Time) ([]ReportRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listReportsBetweenSQL, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list reports between: %w", queryErr)
	}
	defer rows.Close()
	return collectReports(rows, 0)
}

// ListRecentReports lists the most recent reports, newest first.
func (s *Store) ListRecentReports(ctx context.Context, limit int) ([]ReportRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentReportsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent reports: %w", queryErr)
	}
	defer rows.Close()
	return collectReports(rows, limit)
}

// CountReports counts stored reports.
func (s *Store) CountReports(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countReportsSQL).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count reports: %w", scanErr)
	}
	return count, nil
}

// InsertDispute persists a dispute once; replays are ignored.
func (s *Store) InsertDispute(ctx context.Context, rec DisputeRecord) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	_, execErr := pool.Exec(ctx, insertDisputeSQL,
		rec.TxHash,
		rec.ChainID,
		rec.BlockNumber,
		rec.DisputeID,
		rec.QueryID,
		rec.ReportedAt,
		rec.Reporter,
		rec.Initiator,
		rec.VoteRound,
		rec.Fee.String(),
		rec.VoteRoundLength,
		rec.StartDate,
		rec.Link,
	)
	if execErr != nil {
		return fmt.Errorf("insert dispute: %w", execErr)
	}
	return nil
}

// InsertAlert persists an alert emission.
func (s *Store) InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return AlertRecord{}, err
	}

	channels := alert.Channels
	if channels == nil {
		channels = []string{}
	}
	failed := alert.Failed
	if failed == nil {
		failed = []string{}
	}

	row := pool.QueryRow(ctx, insertAlertSQL,
		alert.Kind,
		alert.ChainID,
		alert.TxHash,
		alert.Body,
		channels,
		failed,
	)
	if scanErr := row.Scan(&alert.ID, &alert.CreatedAt); scanErr != nil {
		return AlertRecord{}, fmt.Errorf("insert alert: %w", scanErr)
	}
	alert.Channels = channels
	alert.Failed = failed
	return alert, nil
}

// ListRecentAlerts lists most recent alerts.
func (s *Store) ListRecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentAlertsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent alerts: %w", queryErr)
	}
	defer rows.Close()

	alerts := make([]AlertRecord, 0, limit)
	for rows.Next() {
		var rec AlertRecord
		if err := rows.Scan(
			&rec.ID,
			&rec.Kind,
			&rec.ChainID,
			&rec.TxHash,
			&rec.Body,
			&rec.Channels,
			&rec.Failed,
			&rec.CreatedAt,
		); err != nil {
			return nil, err
		}
		alerts = append(alerts, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return alerts, nil
}

// DeleteAlertsBefore deletes historical alerts.
func (s *Store) DeleteAlertsBefore(ctx context.Context, olderThan time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, deleteAlertsBeforeSQL, olderThan); execErr != nil {
		return fmt.Errorf("delete alerts before: %w", execErr)
	}
	return nil
}

func collectReports(rows pgx.Rows, capacity int) ([]ReportRecord, error) {
	reports := make([]ReportRecord, 0, capacity)
	for rows.Next() {
		rec, scanErr := scanReport(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		reports = append(reports, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return reports, nil
}

func scanReport(rows pgx.Rows) (ReportRecord, error) {
	var (
		rec          ReportRecord
		percentStr   *string
		thresholdStr *string
	)
	if err := rows.Scan(
		&rec.TxHash,
		&rec.LogIndex,
		&rec.ChainID,
		&rec.BlockNumber,
		&rec.SubmittedAt,
		&rec.QueryID,
		&rec.QueryType,
		&rec.Asset,
		&rec.Currency,
		&rec.Reporter,
		&rec.ContractAddress,
		&rec.ValueKind,
		&rec.Value,
		&rec.Verdict,
		&rec.Status,
		&rec.FeedTag,
		&rec.TrustedValue,
		&percentStr,
		&rec.ThresholdMetric,
		&thresholdStr,
		&rec.Removable,
		&rec.Link,
		&rec.CreatedAt,
	); err != nil {
		return ReportRecord{}, err
	}

	var err error
	if rec.PercentDiff, err = parseNullDecimal(percentStr); err != nil {
		return ReportRecord{}, fmt.Errorf("parse percent diff: %w", err)
	}
	if rec.ThresholdAmount, err = parseNullDecimal(thresholdStr); err != nil {
		return ReportRecord{}, fmt.Errorf("parse threshold amount: %w", err)
	}
	return rec, nil
}

func nullDecimalArg(d decimal.NullDecimal) any {
	if !d.Valid {
		return nil
	}
	return d.Decimal.String()
}

func parseNullDecimal(s *string) (decimal.NullDecimal, error) {
	if s == nil {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(*s)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return decimal.NewNullDecimal(d), nil
}
