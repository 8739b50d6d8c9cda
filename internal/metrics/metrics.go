package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "crm_dialer"

// ReconcileMetrics exposes counters/histograms for the call reconciliation
// pipeline and the provider calls it makes. All methods are nil-safe.
type ReconcileMetrics struct {
	webhooksTotal    *prometheus.CounterVec
	chainsInFlight   prometheus.Gauge
	outcomesTotal    *prometheus.CounterVec
	priceAttempts    prometheus.Histogram
	pushesTotal      *prometheus.CounterVec
	providerCalls    *prometheus.CounterVec
	providerLatency  *prometheus.HistogramVec
	routingDecisions *prometheus.CounterVec
	missedCalls      *prometheus.CounterVec
}

func NewReconcileMetrics(reg prometheus.Registerer) *ReconcileMetrics {
	m := &ReconcileMetrics{
		webhooksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "webhook",
			Name:      "status_callbacks_total",
			Help:      "Total call status callbacks received",
		}, []string{"status", "result"}),
		chainsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "chains_in_flight",
			Help:      "Reconciliation chains scheduled or running",
		}),
		outcomesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "outcomes_total",
			Help:      "Reconciliation chain outcomes",
		}, []string{"outcome"}),
		priceAttempts: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "price_attempts",
			Help:      "Price fetch attempts per chain",
			Buckets:   []float64{1, 2, 3, 5, 8, 10, 15, 20},
		}),
		pushesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fanout",
			Name:      "pushes_total",
			Help:      "Downstream pushes by target and result",
		}, []string{"target", "result"}),
		providerCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "requests_total",
			Help:      "Outbound provider HTTP requests",
		}, []string{"service", "operation", "code"}),
		providerLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "request_duration_seconds",
			Help:      "Latency of outbound provider requests including retries",
			Buckets:   prometheus.DefBuckets,
		}, []string{"service"}),
		routingDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "routing",
			Name:      "decisions_total",
			Help:      "Voice routing decisions by branch",
		}, []string{"branch"}),
		missedCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "missed_call",
			Name:      "reactions_total",
			Help:      "Missed-call reactions by result",
		}, []string{"result"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(
		m.webhooksTotal,
		m.chainsInFlight,
		m.outcomesTotal,
		m.priceAttempts,
		m.pushesTotal,
		m.providerCalls,
		m.providerLatency,
		m.routingDecisions,
		m.missedCalls,
	)
	return m
}

func (m *ReconcileMetrics) ObserveWebhook(status, result string) {
	if m == nil {
		return
	}
	m.webhooksTotal.WithLabelValues(status, result).Inc()
}

func (m *ReconcileMetrics) ChainStarted() {
	if m == nil {
		return
	}
	m.chainsInFlight.Inc()
}

func (m *ReconcileMetrics) ChainFinished() {
	if m == nil {
		return
	}
	m.chainsInFlight.Dec()
}

func (m *ReconcileMetrics) ObserveOutcome(outcome string, attempts int) {
	if m == nil {
		return
	}
	m.outcomesTotal.WithLabelValues(outcome).Inc()
	if attempts > 0 {
		m.priceAttempts.Observe(float64(attempts))
	}
}

func (m *ReconcileMetrics) ObservePush(target string, err error, skipped bool) {
	if m == nil {
		return
	}
	result := "ok"
	switch {
	case skipped:
		result = "skipped"
	case err != nil:
		result = "error"
	}
	m.pushesTotal.WithLabelValues(target, result).Inc()
}

// ObserveProviderCall satisfies httpclient.Observer.
func (m *ReconcileMetrics) ObserveProviderCall(service, operation string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	code := "error"
	if status > 0 {
		code = strconv.Itoa(status)
	}
	m.providerCalls.WithLabelValues(service, operation, code).Inc()
	m.providerLatency.WithLabelValues(service).Observe(elapsed.Seconds())
}

func (m *ReconcileMetrics) ObserveRouting(branch string) {
	if m == nil {
		return
	}
	m.routingDecisions.WithLabelValues(branch).Inc()
}

func (m *ReconcileMetrics) ObserveMissedCall(result string) {
	if m == nil {
		return
	}
	m.missedCalls.WithLabelValues(result).Inc()
}
