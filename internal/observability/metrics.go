// Package observability provides Prometheus metrics and OpenTelemetry
// tracing for the bridge, adapted near-verbatim in structure from
// coreengine/observability (same promauto vars-plus-Record* function
// shape) with the bridge's own metric families (spec.md §6).
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	recordsIn = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_records_in_total",
			Help: "Records received from protocol sources",
		},
		[]string{"source", "protocol", "vendor"},
	)

	recordsOut = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_records_out_total",
			Help: "Records successfully sent to ingest",
		},
		[]string{"vendor"},
	)

	recordsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_records_dropped_total",
			Help: "Records dropped before reaching ingest",
		},
		[]string{"reason"},
	)

	bytesOut = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bridge_bytes_out_total",
			Help: "Estimated wire bytes sent to ingest",
		},
	)

	batchesSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bridge_batches_sent_total",
			Help: "Batches successfully acked by ingest",
		},
	)

	batchesFailed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bridge_batches_failed_total",
			Help: "Batches that failed or were rejected by ingest",
		},
	)

	queueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bridge_queue_depth",
			Help: "Current in-memory queue depth",
		},
	)

	spoolBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bridge_spool_bytes",
			Help: "Current on-disk spool size in bytes",
		},
	)

	spoolCorruptFrames = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bridge_spool_corrupt_frames",
			Help: "Spool frames discarded for failing CRC verification or decode",
		},
	)

	breakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bridge_breaker_state",
			Help: "Circuit breaker state: 0=closed, 1=half_open, 2=open",
		},
	)

	reconnectsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_reconnects_total",
			Help: "Source reconnect attempts",
		},
		[]string{"source"},
	)

	ingestLatencyMS = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "bridge_ingest_latency_ms",
			Help:    "Time from batch submit to ack, in milliseconds",
			Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		},
	)
)

// RecordIn increments the records-in counter for a source/protocol/vendor.
func RecordIn(source, protocol, vendor string) {
	recordsIn.WithLabelValues(source, protocol, vendor).Inc()
}

// RecordOut increments the records-out counter for a vendor.
func RecordOut(vendor string, n int) {
	recordsOut.WithLabelValues(vendor).Add(float64(n))
}

// RecordDropped increments the dropped counter for a reason.
func RecordDropped(reason string) {
	recordsDropped.WithLabelValues(reason).Inc()
}

// AddBytesOut adds to the bytes-out counter.
func AddBytesOut(n int) {
	bytesOut.Add(float64(n))
}

// RecordBatchSent increments the batches-sent counter.
func RecordBatchSent() { batchesSent.Inc() }

// RecordBatchFailed increments the batches-failed counter.
func RecordBatchFailed() { batchesFailed.Inc() }

// SetQueueDepth sets the queue-depth gauge.
func SetQueueDepth(n int) { queueDepth.Set(float64(n)) }

// SetSpoolBytes sets the spool-bytes gauge.
func SetSpoolBytes(n int64) { spoolBytes.Set(float64(n)) }

// SetSpoolCorruptFrames sets the spool-corrupt-frames gauge.
func SetSpoolCorruptFrames(n int64) { spoolCorruptFrames.Set(float64(n)) }

// SetBreakerState sets the breaker-state gauge from a breaker.State label.
func SetBreakerState(state string) {
	switch state {
	case "closed":
		breakerState.Set(0)
	case "half_open":
		breakerState.Set(1)
	case "open":
		breakerState.Set(2)
	}
}

// RecordReconnect increments a source's reconnect counter.
func RecordReconnect(source string) {
	reconnectsTotal.WithLabelValues(source).Inc()
}

// ObserveIngestLatency records a batch's submit-to-ack latency.
func ObserveIngestLatency(ms float64) {
	ingestLatencyMS.Observe(ms)
}
