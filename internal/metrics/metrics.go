// Package metrics tracks send/recv/barrier statistics for an mpigo
// Context and exposes them as Prometheus metrics.
package metrics

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// LatencyBuckets defines the waitall-completion latency histogram
// buckets in nanoseconds, from 1us to 10s with logarithmic spacing.
var LatencyBuckets = []uint64{
	1_000,
	10_000,
	100_000,
	1_000_000,
	10_000_000,
	100_000_000,
	1_000_000_000,
	10_000_000_000,
}

const numLatencyBuckets = 8

// Metrics tracks performance and operational statistics for a Context.
type Metrics struct {
	SendOps    atomic.Uint64
	RecvOps    atomic.Uint64
	BarrierOps atomic.Uint64

	SendBytes       atomic.Uint64 // bytes carried by the packed prefix or a contiguous payload
	RecvBytes       atomic.Uint64
	RegionBytes     atomic.Uint64 // bytes carried by memory regions (zero-copy)

	SendErrors    atomic.Uint64
	RecvErrors    atomic.Uint64
	BarrierErrors atomic.Uint64

	InFlightTotal atomic.Uint64 // cumulative in-flight-request samples
	InFlightCount atomic.Uint64
	MaxInFlight   atomic.Uint32

	TotalLatencyNs atomic.Uint64
	OpCount        atomic.Uint64

	LatencyBuckets [numLatencyBuckets]atomic.Uint64

	StartTime atomic.Int64
	StopTime  atomic.Int64
}

// New creates a new metrics instance with StartTime set to now.
func New() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

// RecordSend records a completed send message.
func (m *Metrics) RecordSend(packedBytes, regionBytes uint64, latencyNs uint64, success bool) {
	m.SendOps.Add(1)
	if success {
		m.SendBytes.Add(packedBytes)
		m.RegionBytes.Add(regionBytes)
	} else {
		m.SendErrors.Add(1)
	}
	m.recordLatency(latencyNs)
}

// RecordRecv records a completed receive message.
func (m *Metrics) RecordRecv(packedBytes, regionBytes uint64, latencyNs uint64, success bool) {
	m.RecvOps.Add(1)
	if success {
		m.RecvBytes.Add(packedBytes)
		m.RegionBytes.Add(regionBytes)
	} else {
		m.RecvErrors.Add(1)
	}
	m.recordLatency(latencyNs)
}

// RecordBarrier records a completed barrier round.
func (m *Metrics) RecordBarrier(latencyNs uint64, success bool) {
	m.BarrierOps.Add(1)
	if !success {
		m.BarrierErrors.Add(1)
	}
	m.recordLatency(latencyNs)
}

// RecordInFlight samples the current count of in-progress Registry
// handles, called once per waitall sweep.
func (m *Metrics) RecordInFlight(n uint32) {
	m.InFlightTotal.Add(uint64(n))
	m.InFlightCount.Add(1)
	for {
		cur := m.MaxInFlight.Load()
		if n <= cur {
			break
		}
		if m.MaxInFlight.CompareAndSwap(cur, n) {
			break
		}
	}
}

func (m *Metrics) recordLatency(latencyNs uint64) {
	m.TotalLatencyNs.Add(latencyNs)
	m.OpCount.Add(1)
	for i, bucket := range LatencyBuckets {
		if latencyNs <= bucket {
			m.LatencyBuckets[i].Add(1)
		}
	}
}

// Stop marks the context as torn down.
func (m *Metrics) Stop() {
	m.StopTime.Store(time.Now().UnixNano())
}

// Snapshot is a point-in-time view of Metrics.
type Snapshot struct {
	SendOps, RecvOps, BarrierOps       uint64
	SendBytes, RecvBytes, RegionBytes  uint64
	SendErrors, RecvErrors, BarrierErrors uint64
	AvgInFlight   float64
	MaxInFlight   uint32
	AvgLatencyNs  uint64
	UptimeNs      uint64
	LatencyP50Ns  uint64
	LatencyP99Ns  uint64
	LatencyP999Ns uint64
}

// Snapshot produces a Snapshot from the current counters.
func (m *Metrics) Snapshot() Snapshot {
	s := Snapshot{
		SendOps:       m.SendOps.Load(),
		RecvOps:       m.RecvOps.Load(),
		BarrierOps:    m.BarrierOps.Load(),
		SendBytes:     m.SendBytes.Load(),
		RecvBytes:     m.RecvBytes.Load(),
		RegionBytes:   m.RegionBytes.Load(),
		SendErrors:    m.SendErrors.Load(),
		RecvErrors:    m.RecvErrors.Load(),
		BarrierErrors: m.BarrierErrors.Load(),
		MaxInFlight:   m.MaxInFlight.Load(),
	}

	if c := m.InFlightCount.Load(); c > 0 {
		s.AvgInFlight = float64(m.InFlightTotal.Load()) / float64(c)
	}

	opCount := m.OpCount.Load()
	if opCount > 0 {
		s.AvgLatencyNs = m.TotalLatencyNs.Load() / opCount
		s.LatencyP50Ns = m.percentile(0.50)
		s.LatencyP99Ns = m.percentile(0.99)
		s.LatencyP999Ns = m.percentile(0.999)
	}

	start := m.StartTime.Load()
	if stop := m.StopTime.Load(); stop > 0 {
		s.UptimeNs = uint64(stop - start)
	} else {
		s.UptimeNs = uint64(time.Now().UnixNano() - start)
	}

	return s
}

// percentile estimates the latency at the given percentile (0.0-1.0)
// using linear interpolation between histogram buckets.
func (m *Metrics) percentile(p float64) uint64 {
	total := m.OpCount.Load()
	if total == 0 {
		return 0
	}
	target := uint64(float64(total) * p)

	prevBucket := uint64(0)
	for i, bucket := range LatencyBuckets {
		count := m.LatencyBuckets[i].Load()
		if count >= target {
			prevCount := uint64(0)
			if i > 0 {
				prevCount = m.LatencyBuckets[i-1].Load()
			}
			if count == prevCount {
				return bucket
			}
			fraction := float64(target-prevCount) / float64(count-prevCount)
			return prevBucket + uint64(fraction*float64(bucket-prevBucket))
		}
		prevBucket = bucket
	}
	return LatencyBuckets[numLatencyBuckets-1]
}

// Collector adapts Metrics to prometheus.Collector so a Context can be
// scraped directly. Each entry pairs a Desc with a supplier function
// that reads one field off a Snapshot, so Describe/Collect stay a
// simple loop over the table instead of one case per metric.
type Collector struct {
	m       *Metrics
	entries []collectorEntry
}

type collectorEntry struct {
	desc     *prometheus.Desc
	valType  prometheus.ValueType
	supplier func(Snapshot) float64
}

// NewCollector wraps m as a prometheus.Collector.
func NewCollector(m *Metrics) *Collector {
	c := &Collector{m: m}
	c.entries = []collectorEntry{
		{prometheus.NewDesc("mpigo_send_ops_total", "Completed send messages.", nil, nil),
			prometheus.CounterValue, func(s Snapshot) float64 { return float64(s.SendOps) }},
		{prometheus.NewDesc("mpigo_recv_ops_total", "Completed receive messages.", nil, nil),
			prometheus.CounterValue, func(s Snapshot) float64 { return float64(s.RecvOps) }},
		{prometheus.NewDesc("mpigo_barrier_ops_total", "Completed barrier rounds.", nil, nil),
			prometheus.CounterValue, func(s Snapshot) float64 { return float64(s.BarrierOps) }},
		{prometheus.NewDesc("mpigo_send_bytes_total", "Bytes sent through the packed prefix or contiguously.", nil, nil),
			prometheus.CounterValue, func(s Snapshot) float64 { return float64(s.SendBytes) }},
		{prometheus.NewDesc("mpigo_recv_bytes_total", "Bytes received through the packed prefix or contiguously.", nil, nil),
			prometheus.CounterValue, func(s Snapshot) float64 { return float64(s.RecvBytes) }},
		{prometheus.NewDesc("mpigo_region_bytes_total", "Bytes transferred via memory regions.", nil, nil),
			prometheus.CounterValue, func(s Snapshot) float64 { return float64(s.RegionBytes) }},
		{prometheus.NewDesc("mpigo_max_in_flight", "Maximum observed in-flight request count.", nil, nil),
			prometheus.GaugeValue, func(s Snapshot) float64 { return float64(s.MaxInFlight) }},
		{prometheus.NewDesc("mpigo_latency_seconds_p99", "99th percentile waitall completion latency.", nil, nil),
			prometheus.GaugeValue, func(s Snapshot) float64 { return float64(s.LatencyP99Ns) / 1e9 }},
	}
	return c
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, e := range c.entries {
		ch <- e.desc
	}
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	snap := c.m.Snapshot()
	for _, e := range c.entries {
		ch <- prometheus.MustNewConstMetric(e.desc, e.valType, e.supplier(snap))
	}
}

var _ prometheus.Collector = (*Collector)(nil)
