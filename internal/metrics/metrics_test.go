package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/rs/zerolog"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	return m.GetCounter().GetValue()
}

func TestRecordAlertSplitsByStatus(t *testing.T) {
	ok := AlertsDelivered.WithLabelValues("test-sink", "NEW_REPORT", "ok")
	failed := AlertsDelivered.WithLabelValues("test-sink", "NEW_REPORT", "error")
	beforeOK, beforeFailed := counterValue(t, ok), counterValue(t, failed)

	RecordAlert("test-sink", "NEW_REPORT", nil)
	RecordAlert("test-sink", "NEW_REPORT", errors.New("down"))
	RecordAlert("test-sink", "NEW_REPORT", nil)

	if got := counterValue(t, ok) - beforeOK; got != 2 {
		t.Fatalf("expected 2 ok deliveries, got %v", got)
	}
	if got := counterValue(t, failed) - beforeFailed; got != 1 {
		t.Fatalf("expected 1 failed delivery, got %v", got)
	}
}

func TestRecordRPC(t *testing.T) {
	c := RPCRequests.WithLabelValues("999", "eth_blockNumber", "error")
	before := counterValue(t, c)
	RecordRPC("999", "eth_blockNumber", errors.New("timeout"))
	if got := counterValue(t, c) - before; got != 1 {
		t.Fatalf("expected one error sample, got %v", got)
	}
}

func TestServeStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Serve(ctx, "127.0.0.1:0", zerolog.Nop()) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not stop")
	}
}
