package metrics

import "github.com/prometheus/client_golang/prometheus"

// DeliveryMetrics exposes counters/histograms for the outbound notification pipeline.
type DeliveryMetrics struct {
	sendTotal        *prometheus.CounterVec
	retryTotal       *prometheus.CounterVec
	blockTotal       prometheus.Counter
	transportLatency *prometheus.HistogramVec
}

func NewDeliveryMetrics(reg prometheus.Registerer) *DeliveryMetrics {
	m := &DeliveryMetrics{
		sendTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dental",
			Subsystem: "delivery",
			Name:      "send_total",
			Help:      "Outbound notifications by event type and outcome",
		}, []string{"event_type", "outcome"}),
		retryTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dental",
			Subsystem: "delivery",
			Name:      "retry_total",
			Help:      "Retry queue transitions",
		}, []string{"result"}),
		blockTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dental",
			Subsystem: "delivery",
			Name:      "phone_blocked_total",
			Help:      "Phones moved onto the blocklist",
		}),
		transportLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "dental",
			Subsystem: "delivery",
			Name:      "transport_latency_seconds",
			Help:      "Latency of outbound transport calls",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider", "status"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.sendTotal, m.retryTotal, m.blockTotal, m.transportLatency)
	return m
}

func (m *DeliveryMetrics) ObserveSend(eventType, outcome string) {
	if m == nil {
		return
	}
	m.sendTotal.WithLabelValues(eventType, outcome).Inc()
}

// ObserveRetry records "scheduled", "sent" or "exhausted".
func (m *DeliveryMetrics) ObserveRetry(result string) {
	if m == nil {
		return
	}
	m.retryTotal.WithLabelValues(result).Inc()
}

func (m *DeliveryMetrics) ObserveBlocked() {
	if m == nil {
		return
	}
	m.blockTotal.Inc()
}

func (m *DeliveryMetrics) ObserveTransportLatency(provider string, ok bool, seconds float64) {
	if m == nil {
		return
	}
	status := "ok"
	if !ok {
		status = "error"
	}
	if provider == "" {
		provider = "unknown"
	}
	m.transportLatency.WithLabelValues(provider, status).Observe(seconds)
}

// DialogueMetrics tracks conversation turns.
type DialogueMetrics struct {
	turnsTotal   *prometheus.CounterVec
	intentsTotal *prometheus.CounterVec
	turnLatency  *prometheus.HistogramVec
}

func NewDialogueMetrics(reg prometheus.Registerer) *DialogueMetrics {
	m := &DialogueMetrics{
		turnsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dental",
			Subsystem: "dialogue",
			Name:      "turns_total",
			Help:      "Processed conversation turns",
		}, []string{"mode", "step"}),
		intentsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dental",
			Subsystem: "dialogue",
			Name:      "intents_total",
			Help:      "Classified intents by method",
		}, []string{"intent", "method"}),
		turnLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "dental",
			Subsystem: "dialogue",
			Name:      "turn_latency_seconds",
			Help:      "Time to process a single turn",
			Buckets:   prometheus.DefBuckets,
		}, []string{"mode"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.turnsTotal, m.intentsTotal, m.turnLatency)
	return m
}

func (m *DialogueMetrics) ObserveTurn(mode, step string, seconds float64) {
	if m == nil {
		return
	}
	m.turnsTotal.WithLabelValues(mode, step).Inc()
	m.turnLatency.WithLabelValues(mode).Observe(seconds)
}

func (m *DialogueMetrics) ObserveIntent(intent, method string) {
	if m == nil {
		return
	}
	m.intentsTotal.WithLabelValues(intent, method).Inc()
}

// SchedulerMetrics counts reminder sweep results.
type SchedulerMetrics struct {
	sweepTotal *prometheus.CounterVec
	actedTotal *prometheus.CounterVec
}

func NewSchedulerMetrics(reg prometheus.Registerer) *SchedulerMetrics {
	m := &SchedulerMetrics{
		sweepTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dental",
			Subsystem: "scheduler",
			Name:      "sweep_total",
			Help:      "Trigger runs by result",
		}, []string{"trigger", "result"}),
		actedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dental",
			Subsystem: "scheduler",
			Name:      "candidates_total",
			Help:      "Sweep candidates by disposition",
		}, []string{"trigger", "disposition"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.sweepTotal, m.actedTotal)
	return m
}

func (m *SchedulerMetrics) ObserveSweep(trigger string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.sweepTotal.WithLabelValues(trigger, result).Inc()
}

// ObserveCandidate records "sent", "skipped" or "failed" for one scanned appointment.
func (m *SchedulerMetrics) ObserveCandidate(trigger, disposition string) {
	if m == nil {
		return
	}
	m.actedTotal.WithLabelValues(trigger, disposition).Inc()
}
