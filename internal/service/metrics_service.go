package service

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation for the billing and
// grading engines.
type MetricsService struct {
	registry *prometheus.Registry
	handler  http.Handler

	paymentsValidated *prometheus.CounterVec
	paymentsReversed  *prometheus.CounterVec
	paymentAmount     *prometheus.CounterVec
	remindersSent     *prometheus.CounterVec
	remindersFailed   *prometheus.CounterVec
	marksUpserted     prometheus.Counter
	cacheLatency      prometheus.Observer
	cacheWrite        prometheus.Observer
	cacheHitRatio     prometheus.Gauge
	cacheHits         prometheus.Counter
	cacheMisses       prometheus.Counter
	dbQueryDuration   *prometheus.HistogramVec

	cacheHitCount  uint64
	cacheMissCount uint64
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	paymentsValidated := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payments_validated_total",
		Help: "Total payments validated, per school",
	}, []string{"school"})

	paymentsReversed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payments_reversed_total",
		Help: "Total payments rejected or refunded after validation, per school",
	}, []string{"school"})

	paymentAmount := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_amount_total",
		Help: "Sum of validated payment amounts in local currency units, per school",
	}, []string{"school"})

	remindersSent := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reminders_sent_total",
		Help: "Total reminders delivered, per channel",
	}, []string{"channel"})

	remindersFailed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reminders_failed_total",
		Help: "Total reminder deliveries that failed, per channel",
	}, []string{"channel"})

	marksUpserted := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "marks_upserted_total",
		Help: "Total marks written through bulk import or single upsert",
	})

	cacheLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_latency_seconds",
		Help:    "Latency for cache operations",
		Buckets: prometheus.DefBuckets,
	})

	cacheWrite := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_write_seconds",
		Help:    "Latency for cache set operations",
		Buckets: prometheus.DefBuckets,
	})

	cacheHitRatio := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cache_hit_ratio",
		Help: "Ratio of cache hits to total cache lookups",
	})

	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_hits_total",
		Help: "Total cache hits",
	})

	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_misses_total",
		Help: "Total cache misses",
	})

	dbQueryDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "db_query_duration_seconds",
		Help:    "Duration of database queries",
		Buckets: prometheus.DefBuckets,
	}, []string{"query"})

	registry.MustRegister(paymentsValidated, paymentsReversed, paymentAmount,
		remindersSent, remindersFailed, marksUpserted,
		cacheLatency, cacheWrite, cacheHitRatio, cacheHits, cacheMisses, dbQueryDuration)

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	return &MetricsService{
		registry:          registry,
		handler:           handler,
		paymentsValidated: paymentsValidated,
		paymentsReversed:  paymentsReversed,
		paymentAmount:     paymentAmount,
		remindersSent:     remindersSent,
		remindersFailed:   remindersFailed,
		marksUpserted:     marksUpserted,
		cacheLatency:      cacheLatency,
		cacheWrite:        cacheWrite,
		cacheHitRatio:     cacheHitRatio,
		cacheHits:         cacheHits,
		cacheMisses:       cacheMisses,
		dbQueryDuration:   dbQueryDuration,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// RecordPaymentValidated counts a validated payment and its amount.
func (m *MetricsService) RecordPaymentValidated(schoolID string, amount int64) {
	if m == nil {
		return
	}
	m.paymentsValidated.WithLabelValues(schoolID).Inc()
	m.paymentAmount.WithLabelValues(schoolID).Add(float64(amount))
}

// RecordPaymentReversed counts a rejection or refund of a validated payment.
func (m *MetricsService) RecordPaymentReversed(schoolID string) {
	if m == nil {
		return
	}
	m.paymentsReversed.WithLabelValues(schoolID).Inc()
}

// RecordReminder counts a reminder delivery outcome.
func (m *MetricsService) RecordReminder(channel string, sent bool) {
	if m == nil {
		return
	}
	if sent {
		m.remindersSent.WithLabelValues(channel).Inc()
		return
	}
	m.remindersFailed.WithLabelValues(channel).Inc()
}

// RecordMarksUpserted counts marks written by imports.
func (m *MetricsService) RecordMarksUpserted(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.marksUpserted.Add(float64(n))
}

// RecordCacheOperation records cache hit/miss metrics and updates hit ratio.
func (m *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	if m.cacheLatency != nil {
		m.cacheLatency.Observe(duration.Seconds())
	}
	if hit {
		m.cacheHits.Inc()
		atomic.AddUint64(&m.cacheHitCount, 1)
	} else {
		m.cacheMisses.Inc()
		atomic.AddUint64(&m.cacheMissCount, 1)
	}
	hits := atomic.LoadUint64(&m.cacheHitCount)
	misses := atomic.LoadUint64(&m.cacheMissCount)
	total := hits + misses
	if total > 0 {
		m.cacheHitRatio.Set(float64(hits) / float64(total))
	}
}

// ObserveCacheWrite tracks the duration for cache write operations.
func (m *MetricsService) ObserveCacheWrite(duration time.Duration) {
	if m == nil || m.cacheWrite == nil {
		return
	}
	m.cacheWrite.Observe(duration.Seconds())
}

// ObserveDBQuery records database query timing.
func (m *MetricsService) ObserveDBQuery(label string, duration time.Duration) {
	if m == nil {
		return
	}
	m.dbQueryDuration.WithLabelValues(label).Observe(duration.Seconds())
}
