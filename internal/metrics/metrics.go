// Package metrics exposes Prometheus instrumentation for the monitor.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	// RPCRequests counts JSON-RPC calls by chain, method and outcome.
	RPCRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dvm_rpc_requests_total",
			Help: "JSON-RPC requests by chain, method and status",
		},
		[]string{"chain_id", "method", "status"},
	)

	// PollFailures counts log polling failures by cause.
	PollFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dvm_poll_failures_total",
			Help: "Log polling failures by chain, stream and reason",
		},
		[]string{"chain_id", "stream", "reason"},
	)

	// CursorBlock tracks the last scanned block per stream.
	CursorBlock = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dvm_cursor_block",
			Help: "Last successfully scanned block",
		},
		[]string{"chain_id", "stream"},
	)

	// ReportsEvaluated counts processed reports by verdict.
	ReportsEvaluated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dvm_reports_evaluated_total",
			Help: "Reports processed by chain and verdict",
		},
		[]string{"chain_id", "verdict"},
	)

	// DisputesObserved counts decoded NewDispute events.
	DisputesObserved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dvm_disputes_observed_total",
			Help: "NewDispute events decoded by chain",
		},
		[]string{"chain_id"},
	)

	// DisputesSubmitted counts dispute submissions by outcome.
	DisputesSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dvm_disputes_submitted_total",
			Help: "Dispute submissions by status",
		},
		[]string{"status"},
	)

	// AlertsDelivered counts alert deliveries by sink, kind and outcome.
	AlertsDelivered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dvm_alerts_delivered_total",
			Help: "Alert deliveries by sink, kind and status",
		},
		[]string{"sink", "kind", "status"},
	)

	// Balance exposes the latest sampled balance of tracked addresses.
	Balance = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dvm_balance",
			Help: "Latest sampled balance by role, asset and address",
		},
		[]string{"role", "asset", "address"},
	)

	// PassDuration records how long a polling pass takes.
	PassDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dvm_pass_duration_seconds",
			Help:    "Duration of one polling pass",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// RecordRPC records one JSON-RPC call.
func RecordRPC(chainID, method string, err error) {
	RPCRequests.WithLabelValues(chainID, method, status(err)).Inc()
}

// RecordAlert records one alert delivery attempt.
func RecordAlert(sink, kind string, err error) {
	AlertsDelivered.WithLabelValues(sink, kind, status(err)).Inc()
}

// Serve exposes /metrics on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string, logger zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Msg("metrics endpoint listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
