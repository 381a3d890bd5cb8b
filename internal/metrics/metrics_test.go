package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestRecordSendAndSnapshot(t *testing.T) {
	m := New()
	m.RecordSend(24, 2048, 5_000, true)
	m.RecordSend(0, 0, 0, false)

	snap := m.Snapshot()
	if snap.SendOps != 2 {
		t.Fatalf("expected 2 send ops, got %d", snap.SendOps)
	}
	if snap.SendErrors != 1 {
		t.Fatalf("expected 1 send error, got %d", snap.SendErrors)
	}
	if snap.SendBytes != 24 || snap.RegionBytes != 2048 {
		t.Fatalf("unexpected byte counters: %+v", snap)
	}
}

func TestRecordInFlightTracksMax(t *testing.T) {
	m := New()
	m.RecordInFlight(3)
	m.RecordInFlight(7)
	m.RecordInFlight(2)

	snap := m.Snapshot()
	if snap.MaxInFlight != 7 {
		t.Fatalf("expected max in-flight 7, got %d", snap.MaxInFlight)
	}
}

func TestCollectorDescribeAndCollect(t *testing.T) {
	m := New()
	m.RecordSend(10, 0, 1_000, true)
	c := NewCollector(m)

	descCh := make(chan *prometheus.Desc, 16)
	c.Describe(descCh)
	close(descCh)
	var descCount int
	for range descCh {
		descCount++
	}
	if descCount == 0 {
		t.Fatal("expected Describe to emit at least one metric descriptor")
	}

	metricCh := make(chan prometheus.Metric, 16)
	c.Collect(metricCh)
	close(metricCh)
	var metricCount int
	for range metricCh {
		metricCount++
	}
	if metricCount != descCount {
		t.Fatalf("expected Collect to emit %d metrics, got %d", descCount, metricCount)
	}
}
