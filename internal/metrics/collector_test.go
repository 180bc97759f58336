package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hamicek/noex-rules-sub007/internal/model"
)

func TestCollector_ObserveTraceIncrementsCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(nil, GaugeSource{}, reg)

	c.onTraceEntry(model.TraceEntry{Type: model.TraceRuleTriggered, RuleID: "r1"})
	c.onTraceEntry(model.TraceEntry{Type: model.TraceRuleExecuted, RuleID: "r1"})
	c.onTraceEntry(model.TraceEntry{Type: model.TraceConditionEvaluated, Details: map[string]interface{}{"passed": true}})
	c.onTraceEntry(model.TraceEntry{Type: model.TraceConditionEvaluated, Details: map[string]interface{}{"passed": false}})

	var m dto.Metric
	require.NoError(t, c.rulesTriggeredTotal.WithLabelValues("r1").Write(&m))
	assert.Equal(t, 1.0, m.GetCounter().GetValue())

	var passCount, failCount dto.Metric
	require.NoError(t, c.conditionsEvaluatedTotal.WithLabelValues("pass").Write(&passCount))
	require.NoError(t, c.conditionsEvaluatedTotal.WithLabelValues("fail").Write(&failCount))
	assert.Equal(t, 1.0, passCount.GetCounter().GetValue())
	assert.Equal(t, 1.0, failCount.GetCounter().GetValue())
}

func TestCollector_RefreshGauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(nil, GaugeSource{
		ActiveRules:             func() int { return 3 },
		ActiveFacts:             func() int { return 7 },
		ActiveTimers:            func() int { return 1 },
		TraceBufferUtilization:  func() float64 { return 0.5 },
	}, reg)

	c.refreshGauges()

	var m dto.Metric
	require.NoError(t, c.activeRules.Write(&m))
	assert.Equal(t, 3.0, m.GetGauge().GetValue())
}
