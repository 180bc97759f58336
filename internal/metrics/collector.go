// Package metrics implements the Metrics Collector (C11): Prometheus
// counters/gauges/histograms fed by subscribing to the Trace Collector (C4)
// and by a ticker-driven gauge refresh against the live component state.
// Grounded on the teacher's Collector (RegisterMetrics/Start/
// collectMetrics ticker loop, Record* methods called by other components)
// adapted from alert/notification/scheduler domain metrics to the names
// this engine exposes.
package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/hamicek/noex-rules-sub007/internal/model"
)

// GaugeSource supplies the live counts the Collector refreshes on each
// tick; the engine package's components satisfy it directly (Registry.Len/
// EnabledLen, Facts.Len, Timers.Len, Trace.Utilization).
type GaugeSource struct {
	ActiveRules            func() int
	ActiveFacts             func() int
	ActiveTimers            func() int
	TraceBufferUtilization func() float64
}

// Collector owns every Prometheus metric this engine exposes and updates
// them either by subscribing to trace entries (counters/histograms) or by
// polling a GaugeSource on an interval (gauges).
type Collector struct {
	logger             *slog.Logger
	gauges             GaugeSource
	collectionInterval time.Duration

	rulesTriggeredTotal     *prometheus.CounterVec
	rulesExecutedTotal      *prometheus.CounterVec
	rulesSkippedTotal       *prometheus.CounterVec
	rulesFailedTotal        *prometheus.CounterVec
	eventsProcessedTotal    *prometheus.CounterVec
	factsChangedTotal       prometheus.Counter
	actionsExecutedTotal    *prometheus.CounterVec
	actionsFailedTotal      *prometheus.CounterVec
	conditionsEvaluatedTotal *prometheus.CounterVec

	activeRules            prometheus.Gauge
	activeFacts             prometheus.Gauge
	activeTimers            prometheus.Gauge
	traceBufferUtilization  prometheus.Gauge

	evaluationDuration prometheus.Histogram
	conditionDuration  prometheus.Histogram
	actionDuration     prometheus.Histogram
}

// NewCollector registers every metric against reg (nil uses the default
// Prometheus registry) and returns a Collector ready to subscribe to a
// Trace Collector and poll gauges. Tests should pass a fresh
// prometheus.NewRegistry() to avoid duplicate-registration panics across
// runs.
func NewCollector(logger *slog.Logger, gauges GaugeSource, reg prometheus.Registerer) *Collector {
	if logger == nil {
		logger = slog.Default()
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	promauto := promauto.With(reg)
	return &Collector{
		logger:             logger,
		gauges:             gauges,
		collectionInterval: 15 * time.Second,

		rulesTriggeredTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "rules_triggered_total", Help: "Total number of rule firings, one per candidate match regardless of condition outcome.",
		}, []string{"rule_id"}),
		rulesExecutedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "rules_executed_total", Help: "Total number of rule firings whose conditions passed and whose actions ran to completion.",
		}, []string{"rule_id"}),
		rulesSkippedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "rules_skipped_total", Help: "Total number of rule firings skipped because a condition failed.",
		}, []string{"rule_id"}),
		rulesFailedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "rules_failed_total", Help: "Total number of rule firings whose action list returned an error.",
		}, []string{"rule_id"}),
		eventsProcessedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "events_processed_total", Help: "Total number of events taken off the processing queue.",
		}, []string{"topic"}),
		factsChangedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "facts_changed_total", Help: "Total number of committed fact writes and deletes.",
		}),
		actionsExecutedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "actions_executed_total", Help: "Total number of actions that completed without error.",
		}, []string{"kind"}),
		actionsFailedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "actions_failed_total", Help: "Total number of actions that returned an error.",
		}, []string{"kind"}),
		conditionsEvaluatedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "conditions_evaluated_total", Help: "Total number of condition evaluations, by pass/fail outcome.",
		}, []string{"result"}),

		activeRules: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "active_rules", Help: "Number of rules currently registered and enabled.",
		}),
		activeFacts: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "active_facts", Help: "Number of facts currently held in the Fact Store.",
		}),
		activeTimers: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "active_timers", Help: "Number of timers currently armed.",
		}),
		traceBufferUtilization: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "trace_buffer_utilization", Help: "Fraction of the trace ring buffer currently occupied.",
		}),

		evaluationDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name: "evaluation_duration_seconds", Help: "Duration of a full rule firing (conditions plus actions).",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 16),
		}),
		conditionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name: "condition_duration_seconds", Help: "Duration of a single condition evaluation.",
			Buckets: prometheus.ExponentialBuckets(0.00001, 2, 16),
		}),
		actionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name: "action_duration_seconds", Help: "Duration of a single action execution.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 16),
		}),
	}
}

// TraceSubscriber is the subset of the Trace Collector this package needs,
// avoiding a direct dependency on internal/trace's concrete type.
type TraceSubscriber interface {
	Subscribe(cb func(entry model.TraceEntry)) func()
}

// ObserveTrace subscribes to every trace entry and updates the
// corresponding counter/histogram. Returns an unsubscribe func.
func (c *Collector) ObserveTrace(tracer TraceSubscriber) func() {
	return tracer.Subscribe(c.onTraceEntry)
}

func (c *Collector) onTraceEntry(entry model.TraceEntry) {
	switch entry.Type {
	case model.TraceRuleTriggered:
		c.rulesTriggeredTotal.WithLabelValues(entry.RuleID).Inc()
	case model.TraceRuleExecuted:
		c.rulesExecutedTotal.WithLabelValues(entry.RuleID).Inc()
		if entry.DurationMs != nil {
			c.evaluationDuration.Observe(*entry.DurationMs / 1000)
		}
	case model.TraceRuleSkipped:
		c.rulesSkippedTotal.WithLabelValues(entry.RuleID).Inc()
	case model.TraceRuleFailed:
		c.rulesFailedTotal.WithLabelValues(entry.RuleID).Inc()
		if entry.DurationMs != nil {
			c.evaluationDuration.Observe(*entry.DurationMs / 1000)
		}
	case model.TraceEventEmitted:
		topic, _ := entry.Details["topic"].(string)
		c.eventsProcessedTotal.WithLabelValues(topic).Inc()
	case model.TraceFactChanged:
		c.factsChangedTotal.Inc()
	case model.TraceActionCompleted:
		kind, _ := entry.Details["kind"].(string)
		c.actionsExecutedTotal.WithLabelValues(kind).Inc()
	case model.TraceActionFailed:
		kind, _ := entry.Details["kind"].(string)
		c.actionsFailedTotal.WithLabelValues(kind).Inc()
	case model.TraceConditionEvaluated:
		result := "fail"
		if passed, _ := entry.Details["passed"].(bool); passed {
			result = "pass"
		}
		c.conditionsEvaluatedTotal.WithLabelValues(result).Inc()
		if entry.DurationMs != nil {
			c.conditionDuration.Observe(*entry.DurationMs / 1000)
		}
	}
}

// Start begins the gauge refresh loop; it returns once ctx is cancelled.
func (c *Collector) Start(ctx context.Context) {
	ticker := time.NewTicker(c.collectionInterval)
	defer ticker.Stop()
	c.refreshGauges()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.refreshGauges()
		}
	}
}

func (c *Collector) refreshGauges() {
	if c.gauges.ActiveRules != nil {
		c.activeRules.Set(float64(c.gauges.ActiveRules()))
	}
	if c.gauges.ActiveFacts != nil {
		c.activeFacts.Set(float64(c.gauges.ActiveFacts()))
	}
	if c.gauges.ActiveTimers != nil {
		c.activeTimers.Set(float64(c.gauges.ActiveTimers()))
	}
	if c.gauges.TraceBufferUtilization != nil {
		c.traceBufferUtilization.Set(c.gauges.TraceBufferUtilization())
	}
}
