package zbc

import (
	"sync/atomic"
	"time"

	"github.com/johnwbyrd/zbc/internal/interfaces"
	"github.com/johnwbyrd/zbc/internal/opcode"
	"github.com/johnwbyrd/zbc/internal/protoerr"
)

// LatencyBuckets defines the latency histogram buckets in nanoseconds,
// covering from 1us to 10s with logarithmic spacing.
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

// Metrics tracks performance and operational statistics for a Host:
// per-operation call counts, bytes moved through READ/WRITE, protocol
// error counts by code, and a latency histogram, ported from the
// teacher's block-I/O metrics into semihosting-call terms.
type Metrics struct {
	CallsByOp  [256]atomic.Uint64
	ErrorsByOp [256]atomic.Uint64

	ProtoErrors [5]atomic.Uint64 // indexed by protoerr.Code - 1

	BytesRead    atomic.Uint64
	BytesWritten atomic.Uint64

	TotalLatencyNs atomic.Uint64
	OpCount        atomic.Uint64

	LatencyBuckets [numLatencyBuckets]atomic.Uint64

	StartTime atomic.Int64
	StopTime  atomic.Int64
}

// NewMetrics creates a new metrics instance.
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

// RecordCall records one dispatched semihosting call.
func (m *Metrics) RecordCall(op uint8, latencyNs uint64, success bool) {
	m.CallsByOp[op].Add(1)
	if !success {
		m.ErrorsByOp[op].Add(1)
	}
	m.recordLatency(latencyNs)
}

// RecordProtoError records a protocol-level ERRO reply.
func (m *Metrics) RecordProtoError(code uint16) {
	idx := int(code)
	if idx >= 1 && idx <= len(m.ProtoErrors) {
		m.ProtoErrors[idx-1].Add(1)
	}
}

// RecordBytesTransferred records bytes moved by READ/WRITE operations.
func (m *Metrics) RecordBytesTransferred(read, written uint64) {
	m.BytesRead.Add(read)
	m.BytesWritten.Add(written)
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

// Stop marks the host as stopped, fixing the uptime calculation used by
// Snapshot.
func (m *Metrics) Stop() {
	m.StopTime.Store(time.Now().UnixNano())
}

// MetricsSnapshot is a point-in-time copy of Metrics, with a few derived
// statistics computed.
type MetricsSnapshot struct {
	CallsByOp   map[string]uint64
	ErrorsByOp  map[string]uint64
	ProtoErrors map[string]uint64

	BytesRead    uint64
	BytesWritten uint64

	TotalOps     uint64
	AvgLatencyNs uint64
	UptimeNs     uint64

	LatencyP50Ns uint64
	LatencyP99Ns uint64

	LatencyHistogram [numLatencyBuckets]uint64
}

// Snapshot creates a point-in-time snapshot of metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		CallsByOp:   make(map[string]uint64),
		ErrorsByOp:  make(map[string]uint64),
		ProtoErrors: make(map[string]uint64),

		BytesRead:    m.BytesRead.Load(),
		BytesWritten: m.BytesWritten.Load(),
	}

	for op := range m.CallsByOp {
		if n := m.CallsByOp[op].Load(); n > 0 {
			snap.CallsByOp[opcode.Op(op).String()] = n
		}
		if n := m.ErrorsByOp[op].Load(); n > 0 {
			snap.ErrorsByOp[opcode.Op(op).String()] = n
		}
	}
	codes := []protoerr.Code{protoerr.InvalidChunk, protoerr.MalformedRIFF, protoerr.MissingCNFG, protoerr.UnsupportedOp, protoerr.InvalidParams}
	for i, code := range codes {
		if n := m.ProtoErrors[i].Load(); n > 0 {
			snap.ProtoErrors[code.String()] = n
		}
	}

	opCount := m.OpCount.Load()
	snap.TotalOps = opCount
	if opCount > 0 {
		snap.AvgLatencyNs = m.TotalLatencyNs.Load() / opCount
	}

	start := m.StartTime.Load()
	stop := m.StopTime.Load()
	if stop > 0 {
		snap.UptimeNs = uint64(stop - start)
	} else {
		snap.UptimeNs = uint64(time.Now().UnixNano() - start)
	}

	for i := 0; i < numLatencyBuckets; i++ {
		snap.LatencyHistogram[i] = m.LatencyBuckets[i].Load()
	}
	if opCount > 0 {
		snap.LatencyP50Ns = m.calculatePercentile(0.50)
		snap.LatencyP99Ns = m.calculatePercentile(0.99)
	}
	return snap
}

// calculatePercentile estimates the latency at the given percentile
// (0.0-1.0) using linear interpolation between histogram buckets.
func (m *Metrics) calculatePercentile(percentile float64) uint64 {
	totalOps := m.OpCount.Load()
	if totalOps == 0 {
		return 0
	}
	targetCount := uint64(float64(totalOps) * percentile)
	prevBucket := uint64(0)
	for i, bucket := range LatencyBuckets {
		bucketCount := m.LatencyBuckets[i].Load()
		if bucketCount >= targetCount {
			prevCount := uint64(0)
			if i > 0 {
				prevCount = m.LatencyBuckets[i-1].Load()
			}
			if bucketCount == prevCount {
				return bucket
			}
			fraction := float64(targetCount-prevCount) / float64(bucketCount-prevCount)
			return prevBucket + uint64(fraction*float64(bucket-prevBucket))
		}
		prevBucket = bucket
	}
	return LatencyBuckets[numLatencyBuckets-1]
}

// Reset zeroes all counters (useful for testing).
func (m *Metrics) Reset() {
	for i := range m.CallsByOp {
		m.CallsByOp[i].Store(0)
		m.ErrorsByOp[i].Store(0)
	}
	for i := range m.ProtoErrors {
		m.ProtoErrors[i].Store(0)
	}
	m.BytesRead.Store(0)
	m.BytesWritten.Store(0)
	m.TotalLatencyNs.Store(0)
	m.OpCount.Store(0)
	for i := 0; i < numLatencyBuckets; i++ {
		m.LatencyBuckets[i].Store(0)
	}
	m.StartTime.Store(time.Now().UnixNano())
	m.StopTime.Store(0)
}

// NoOpObserver is a no-op implementation of interfaces.Observer, for a
// caller that wants a Host to record no telemetry at all.
type NoOpObserver struct{}

func (NoOpObserver) ObserveCall(uint8, uint64, bool)       {}
func (NoOpObserver) ObserveProtoError(uint16)              {}
func (NoOpObserver) ObserveBytesTransferred(uint64, uint64) {}

// MetricsObserver implements interfaces.Observer using a Metrics.
type MetricsObserver struct {
	metrics *Metrics
}

// NewMetricsObserver creates an observer that records into m.
func NewMetricsObserver(m *Metrics) *MetricsObserver {
	return &MetricsObserver{metrics: m}
}

func (o *MetricsObserver) ObserveCall(op uint8, latencyNs uint64, success bool) {
	o.metrics.RecordCall(op, latencyNs, success)
}

func (o *MetricsObserver) ObserveProtoError(code uint16) {
	o.metrics.RecordProtoError(code)
}

func (o *MetricsObserver) ObserveBytesTransferred(read, written uint64) {
	o.metrics.RecordBytesTransferred(read, written)
}

var (
	_ interfaces.Observer = (*MetricsObserver)(nil)
	_ interfaces.Observer = NoOpObserver{}
)
