package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/shakilofficial0/advspeedtest/internal/engine"
)

func TestObserverCallbacks(t *testing.T) {
	m := New()

	m.WorkerFailed(engine.RoleDownload)
	m.WorkerFailed(engine.RoleDownload)
	m.WorkerFailed(engine.RoleUpload)

	if got := testutil.ToFloat64(m.workerFailures.WithLabelValues("download")); got != 2 {
		t.Fatalf("expected 2 download failures, got %v", got)
	}
	if got := testutil.ToFloat64(m.workerFailures.WithLabelValues("upload")); got != 1 {
		t.Fatalf("expected 1 upload failure, got %v", got)
	}

	m.SampleTaken(engine.RoleDownload, engine.ThroughputSample{InstantBps: 50_000_000})
	if got := testutil.ToFloat64(m.liveMbps.WithLabelValues("download")); got != 50 {
		t.Fatalf("expected live gauge at 50 Mbps, got %v", got)
	}
}

func TestRecordRun(t *testing.T) {
	m := New()

	m.RecordRun(true, 18.5,
		&engine.Result{Role: engine.RoleDownload, Mbps: 200, Bytes: 250_000_000},
		&engine.Result{Role: engine.RoleUpload, Mbps: 80, Bytes: 90_000_000})
	m.RecordRun(false, 0, nil, nil)

	if got := testutil.ToFloat64(m.runsTotal.WithLabelValues("success")); got != 1 {
		t.Fatalf("expected 1 success, got %v", got)
	}
	if got := testutil.ToFloat64(m.runsTotal.WithLabelValues("failure")); got != 1 {
		t.Fatalf("expected 1 failure, got %v", got)
	}
	if got := testutil.ToFloat64(m.lastPingMs); got != 18.5 {
		t.Fatalf("expected last ping 18.5ms, got %v", got)
	}
	if got := testutil.ToFloat64(m.phaseMbps.WithLabelValues("download")); got != 200 {
		t.Fatalf("expected download gauge at 200, got %v", got)
	}
	if got := testutil.ToFloat64(m.phaseBytes.WithLabelValues("upload")); got != 90_000_000 {
		t.Fatalf("expected upload bytes gauge, got %v", got)
	}
}
