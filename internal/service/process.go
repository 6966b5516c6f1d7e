package service

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"disputable-values-monitor/internal/alerting"
	"disputable-values-monitor/internal/disputer"
	"disputable-values-monitor/internal/display"
	"disputable-values-monitor/internal/feed"
	"disputable-values-monitor/internal/ledger"
	"disputable-values-monitor/internal/metrics"
	"disputable-values-monitor/internal/oracle"
	"disputable-values-monitor/internal/poller"
	"disputable-values-monitor/internal/storage"
)

// ProcessReport runs one NewReport log through decode, resolve, evaluate,
// alert, dispute and display. It returns the displayed report, or nil when
// the report was skipped.
func (s *Service) ProcessReport(ctx context.Context, e poller.Entry) (*oracle.Report, error) {
	r, q, err := s.deps.Decoder.DecodeReport(e.ChainID, e.Log)
	if err != nil {
		return nil, fmt.Errorf("decode report: %w", err)
	}
	if s.deps.Window.Seen(r.TxHash) {
		return nil, nil
	}
	if s.deps.Liveness != nil && r.ChainID == s.deps.LivenessChainID {
		s.deps.Liveness.Observe(r.Reporter, time.Unix(int64(r.Timestamp), 0))
	}

	log := s.logger.With().Uint64("chain_id", r.ChainID).Str("tx", r.TxHash.Hex()).Str("query_type", r.QueryType).Logger()

	res, err := s.deps.Resolver.Resolve(q)
	if errors.Is(err, feed.ErrUnsupported) {
		log.Debug().Str("query_id", r.QueryID.Hex()).Msg("unsupported query")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolve feed: %w", err)
	}

	if res.AlwaysAlert {
		r.Verdict = oracle.VerdictNotDisputable
		r.Status = oracle.StatusVeryImportant
		s.record(ctx, r)
		s.alert(ctx, alerting.KindNewReport, r.ChainID, &r.TxHash, alerting.ReportAlert(r, s.dashboard(r.ChainID)))
		s.show(r)
		return r, nil
	}

	fc := feed.FetchContext{
		ChainID:   r.ChainID,
		Block:     new(big.Int).SetUint64(r.BlockNumber),
		Timestamp: r.Timestamp,
	}
	verdict, err := s.deps.Evaluator.Evaluate(ctx, res.Feed, r.Value, fc)
	if err != nil {
		log.Warn().Err(err).Msg("unable to check disputability")
	}
	r.Monitoring = res.Feed.Snapshot()

	_, managed := s.opts.ManagedFeeds[r.QueryID]
	if managed {
		// Managed feeds are retracted by their operator, never disputed.
		r.Managed = true
		r.Removable = verdict == oracle.VerdictDisputable
		r.Verdict = oracle.VerdictNotDisputable
		r.Status = oracle.StatusString(oracle.VerdictNotDisputable, r.QueryID)
		if r.Removable {
			r.Status = oracle.StatusRemovable
		}
	} else {
		r.Verdict = verdict
		r.Status = oracle.StatusString(verdict, r.QueryID)
	}
	metrics.ReportsEvaluated.WithLabelValues(strconv.FormatUint(r.ChainID, 10), r.Verdict.String()).Inc()

	if r.Verdict == oracle.VerdictUnknown && !s.opts.SeeAllValues {
		log.Info().Msg("unable to check disputability, report hidden")
		return nil, nil
	}

	s.record(ctx, r)

	switch {
	case r.Removable:
		s.alert(ctx, alerting.KindRemoveReport, r.ChainID, &r.TxHash, alerting.RemovableReport(r))
	case r.Verdict == oracle.VerdictDisputable:
		s.alert(ctx, alerting.KindDisputableReport, r.ChainID, &r.TxHash, alerting.ReportAlert(r, s.dashboard(r.ChainID)))
	case s.opts.SeeAllValues:
		s.alert(ctx, alerting.KindNewReport, r.ChainID, &r.TxHash, alerting.ReportAlert(r, s.dashboard(r.ChainID)))
	}

	if r.Verdict == oracle.VerdictDisputable && s.deps.Submitter != nil {
		s.dispute(ctx, r)
	}

	s.show(r)
	log.Info().Str("verdict", r.Verdict.String()).Str("value", r.Value.Short(60)).Msg("report processed")
	return r, nil
}

// ProcessDispute records a NewDispute log and alerts when it targets a
// monitored reporter.
func (s *Service) ProcessDispute(ctx context.Context, e poller.Entry) {
	d, err := s.deps.Decoder.DecodeDispute(e.ChainID, e.Log)
	if err != nil {
		s.logger.Warn().Err(err).Uint64("chain_id", e.ChainID).Str("tx", e.Log.TxHash.Hex()).Msg("dispute skipped")
		return
	}
	metrics.DisputesObserved.WithLabelValues(strconv.FormatUint(d.ChainID, 10)).Inc()

	if s.deps.Disputes != nil {
		if err := s.deps.Disputes.InsertDispute(ctx, storage.NewDisputeRecord(d)); err != nil {
			s.logger.Error().Err(err).Str("tx", d.TxHash.Hex()).Msg("failed to persist dispute")
		}
	}

	if len(s.opts.MonitoredReporters) > 0 {
		if _, ok := s.opts.MonitoredReporters[d.Reporter]; !ok {
			return
		}
	}
	s.alert(ctx, alerting.KindDisputeAgainstReporter, d.ChainID, &d.TxHash, alerting.DisputeAgainstReporter(d))
}

// dispute submits at most one dispute per report across the process, or
// across every process sharing the ledger.
func (s *Service) dispute(ctx context.Context, r *oracle.Report) {
	claimed, err := s.deps.Ledger.Claim(ctx, ledger.Key(r.ChainID, r.TxHash))
	if err != nil {
		metrics.DisputesSubmitted.WithLabelValues("ledger_error").Inc()
		s.logger.Error().Err(err).Str("tx", r.TxHash.Hex()).Msg("dispute ledger unavailable")
		return
	}
	if !claimed {
		metrics.DisputesSubmitted.WithLabelValues("duplicate").Inc()
		return
	}

	msg, err := s.deps.Submitter.SubmitDispute(ctx, r)
	switch {
	case errors.Is(err, disputer.ErrWindowClosed):
		metrics.DisputesSubmitted.WithLabelValues("window_closed").Inc()
		s.logger.Info().Str("tx", r.TxHash.Hex()).Msg("report too old to dispute")
		return
	case err != nil:
		metrics.DisputesSubmitted.WithLabelValues("failed").Inc()
		s.logger.Error().Err(err).Str("tx", r.TxHash.Hex()).Msg("dispute submission failed")
		return
	}
	metrics.DisputesSubmitted.WithLabelValues("submitted").Inc()
	s.alert(ctx, alerting.KindBeganDispute, r.ChainID, &r.TxHash, alerting.DisputeSubmitted(r, s.dashboard(r.ChainID), msg))
}

func (s *Service) record(ctx context.Context, r *oracle.Report) {
	if s.deps.Reports == nil {
		return
	}
	if err := s.deps.Reports.UpsertReport(ctx, storage.NewReportRecord(r)); err != nil {
		s.logger.Error().Err(err).Str("tx", r.TxHash.Hex()).Msg("failed to upsert report")
	}
}

func (s *Service) show(r *oracle.Report) {
	if evicted := s.deps.Window.Add(r); evicted != nil {
		s.logger.Debug().Str("tx", evicted.TxHash.Hex()).Msg("report left display window")
	}
	if s.deps.TableCSV == nil {
		return
	}
	if err := display.AppendCSV(s.deps.TableCSV, r); err != nil {
		s.logger.Warn().Err(err).Msg("failed to append table csv")
	}
}
