package obs

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// RevenueIngestTotal counts ingestion outcomes (created, duplicate, pending, invalid, error).
	RevenueIngestTotal *prometheus.CounterVec
	// RevenueSplitFailuresTotal counts split computations that failed after the event was recorded.
	RevenueSplitFailuresTotal *prometheus.CounterVec
	// RevenueResplitTotal counts repair attempts by outcome.
	RevenueResplitTotal *prometheus.CounterVec
	// PayoutReportTotal counts monthly payout reports by cache outcome.
	PayoutReportTotal *prometheus.CounterVec
	// PaymentWebhookTotal counts inbound payment webhook processing outcomes.
	PaymentWebhookTotal *prometheus.CounterVec
	// DomainEventsTotal counts emitted domain events per topic.
	DomainEventsTotal *prometheus.CounterVec
	// WebhookDeliveriesTotal tracks outbound webhook dispatch outcomes.
	WebhookDeliveriesTotal *prometheus.CounterVec
	// RateLimitTotal counts rate limiter decisions per scope (allowed, limited, error).
	RateLimitTotal *prometheus.CounterVec
	// BreakerState reports the breaker state per target: 0 closed, 1 open, 2 half-open.
	BreakerState *prometheus.GaugeVec
	// BreakerTransitions counts breaker state changes.
	BreakerTransitions *prometheus.CounterVec
	// BreakerOpenedTotal counts how often each breaker opened.
	BreakerOpenedTotal *prometheus.CounterVec
	// WebhookAttemptLatency records delivery attempt latency in milliseconds.
	WebhookAttemptLatency *prometheus.HistogramVec
	// QueueEnqueuedTotal counts tasks accepted per kind, including dedup drops.
	QueueEnqueuedTotal *prometheus.CounterVec
	// QueueProcessedTotal counts handled tasks per kind and result (done, retry, dead).
	QueueProcessedTotal *prometheus.CounterVec
	// QueueSize reports ready, processing and dlq sizes per kind.
	QueueSize *prometheus.GaugeVec
	// QueueTaskDuration records handler run time in seconds.
	QueueTaskDuration *prometheus.HistogramVec
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		RevenueIngestTotal = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "revenue_ingest_total",
			Help:      "Count of revenue ingestion outcomes.",
		}, []string{"result"}))
		RevenueSplitFailuresTotal = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "revenue_split_failures_total",
			Help:      "Count of split computations that failed after the event was recorded.",
		}, []string{"reason"}))
		RevenueResplitTotal = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "revenue_resplit_total",
			Help:      "Count of split repair attempts by outcome.",
		}, []string{"result"}))
		PayoutReportTotal = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payout_report_total",
			Help:      "Count of monthly payout reports served by cache outcome.",
		}, []string{"cache"}))
		PaymentWebhookTotal = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_webhook_total",
			Help:      "Count of processed payment webhooks by outcome.",
		}, []string{"provider", "result"}))
		DomainEventsTotal = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "domain_events_total",
			Help:      "Count of emitted domain events by topic.",
		}, []string{"topic"}))
		WebhookDeliveriesTotal = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_deliveries_total",
			Help:      "Count of webhook delivery outcomes.",
		}, []string{"result"}))
		RateLimitTotal = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_decisions_total",
			Help:      "Count of rate limiter decisions by scope and result.",
		}, []string{"scope", "result"}))
		BreakerState = register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "breaker_state",
			Help:      "Current breaker state: 0=closed, 1=open, 2=half-open.",
		}, []string{"target"}))
		BreakerTransitions = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "breaker_transition_total",
			Help:      "Count of breaker state transitions.",
		}, []string{"target", "from", "to"}))
		BreakerOpenedTotal = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "breaker_open_total",
			Help:      "Count of transitions into the open state.",
		}, []string{"target"}))
		WebhookAttemptLatency = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "webhook_attempt_duration_ms",
			Help:      "Latency for webhook delivery attempts in milliseconds.",
			Buckets:   []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"result"}))
		QueueEnqueuedTotal = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_enqueued_total",
			Help:      "Count of enqueue calls by kind and result (queued, deduped).",
		}, []string{"kind", "result"}))
		QueueProcessedTotal = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_processed_total",
			Help:      "Count of processed tasks by kind and result.",
		}, []string{"kind", "result"}))
		QueueSize = register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_size",
			Help:      "Tasks per kind and state (ready, processing, dlq).",
		}, []string{"kind", "state"}))
		QueueTaskDuration = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "queue_task_duration_seconds",
			Help:      "Handler run time per task kind.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 4, 8),
		}, []string{"kind"}))
	})
}

// Inc increments vec for labels when the collector has been registered.
func Inc(vec *prometheus.CounterVec, labels ...string) {
	if vec == nil {
		return
	}
	vec.WithLabelValues(labels...).Inc()
}

// SetGauge sets vec for labels when the collector has been registered.
func SetGauge(vec *prometheus.GaugeVec, value float64, labels ...string) {
	if vec == nil {
		return
	}
	vec.WithLabelValues(labels...).Set(value)
}

// Observe records value on vec for labels when the collector has been registered.
func Observe(vec *prometheus.HistogramVec, value float64, labels ...string) {
	if vec == nil {
		return
	}
	vec.WithLabelValues(labels...).Observe(value)
}
