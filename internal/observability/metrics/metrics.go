package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "ems_"

	resultSuccess = "success"
	resultError   = "error"
)

// IngestResultSuccess and IngestResultError label ingest outcomes.
const (
	IngestResultSuccess = resultSuccess
	IngestResultError   = resultError
)

var (
	registerOnce sync.Once

	ingestRequests *prometheus.CounterVec
	ingestErrors   *prometheus.CounterVec
	ingestLatency  *prometheus.HistogramVec

	historySize prometheus.Gauge

	broadcastDelivered prometheus.Counter
	broadcastDropped   *prometheus.CounterVec
	streamSubscribers  prometheus.Gauge

	persistTotal   *prometheus.CounterVec
	persistDropped prometheus.Counter
	persistLatency *prometheus.HistogramVec

	exportTotal *prometheus.CounterVec
)

// Init registers observability metrics. Safe to call more than once.
func Init() {
	registerOnce.Do(func() {
		ingestRequests = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ingest_requests_total",
				Help: "Total ingest requests by result",
			},
			[]string{"result"},
		)
		ingestErrors = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ingest_errors_total",
				Help: "Total ingest errors by reason",
			},
			[]string{"reason"},
		)
		ingestLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "ingest_latency_seconds",
				Help:    "Ingest latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)

		historySize = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "history_records",
				Help: "Records currently retained in the history buffer",
			},
		)

		broadcastDelivered = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "broadcast_delivered_total",
				Help: "Total per-subscriber deliveries",
			},
		)
		broadcastDropped = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "broadcast_dropped_total",
				Help: "Total subscribers dropped mid-broadcast by reason",
			},
			[]string{"reason"},
		)
		streamSubscribers = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "stream_subscribers",
				Help: "Currently registered realtime subscribers",
			},
		)

		persistTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "persist_total",
				Help: "Total persistence attempts by result",
			},
			[]string{"result"},
		)
		persistDropped = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "persist_dropped_total",
				Help: "Records dropped because the persistence queue was full",
			},
		)
		persistLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "persist_latency_seconds",
				Help:    "Durable store write latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)

		exportTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "export_total",
				Help: "Total history export operations by format and result",
			},
			[]string{"format", "result"},
		)

		prometheus.MustRegister(
			ingestRequests,
			ingestErrors,
			ingestLatency,
			historySize,
			broadcastDelivered,
			broadcastDropped,
			streamSubscribers,
			persistTotal,
			persistDropped,
			persistLatency,
			exportTotal,
		)
	})
}

// ObserveIngest records ingest request duration and result.
func ObserveIngest(result string, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if ingestRequests != nil {
		ingestRequests.WithLabelValues(result).Inc()
	}
	if ingestLatency != nil {
		ingestLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// IncIngestError increments the ingest error counter.
func IncIngestError(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	if ingestErrors != nil {
		ingestErrors.WithLabelValues(reason).Inc()
	}
}

// SetHistorySize records the current history buffer length.
func SetHistorySize(n int) {
	if historySize != nil {
		historySize.Set(float64(n))
	}
}

// IncBroadcastDelivered counts one successful subscriber delivery.
func IncBroadcastDelivered() {
	if broadcastDelivered != nil {
		broadcastDelivered.Inc()
	}
}

// IncBroadcastDropped counts a subscriber dropped mid-broadcast.
func IncBroadcastDropped(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	if broadcastDropped != nil {
		broadcastDropped.WithLabelValues(reason).Inc()
	}
}

// SetStreamSubscribers records the current subscriber count.
func SetStreamSubscribers(n int) {
	if streamSubscribers != nil {
		streamSubscribers.Set(float64(n))
	}
}

// ObservePersist records one durable store write attempt.
func ObservePersist(result string, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if persistTotal != nil {
		persistTotal.WithLabelValues(result).Inc()
	}
	if persistLatency != nil {
		persistLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// IncPersistDropped counts a record dropped at the persistence queue.
func IncPersistDropped() {
	if persistDropped != nil {
		persistDropped.Inc()
	}
}

// IncExport counts a history export by format and result.
func IncExport(format, result string) {
	if format == "" {
		format = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if exportTotal != nil {
		exportTotal.WithLabelValues(format, result).Inc()
	}
}
