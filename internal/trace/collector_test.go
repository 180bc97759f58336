package trace

import (
	"testing"

	"github.com/hamicek/noex-rules-sub007/internal/model"
	"github.com/stretchr/testify/assert"
)

func TestCollector_RecordAndQuery(t *testing.T) {
	c := New(nil, 10)
	c.Record(model.TraceEntry{Type: model.TraceRuleTriggered, RuleID: "r1"})
	c.Record(model.TraceEntry{Type: model.TraceRuleExecuted, RuleID: "r1"})
	c.Record(model.TraceEntry{Type: model.TraceRuleExecuted, RuleID: "r2"})

	res := c.Query(Query{RuleID: "r1"})
	assert.Len(t, res, 2)

	res = c.Query(Query{Types: []model.TraceEntryType{model.TraceRuleExecuted}})
	assert.Len(t, res, 2)
}

func TestCollector_EvictsOldest(t *testing.T) {
	c := New(nil, 2)
	c.Record(model.TraceEntry{Type: model.TraceRuleTriggered, RuleID: "1"})
	c.Record(model.TraceEntry{Type: model.TraceRuleTriggered, RuleID: "2"})
	c.Record(model.TraceEntry{Type: model.TraceRuleTriggered, RuleID: "3"})

	all := c.Query(Query{})
	assert.Len(t, all, 2)
	assert.Equal(t, "2", all[0].RuleID)
	assert.Equal(t, "3", all[1].RuleID)
}

func TestCollector_DisableIsNoop(t *testing.T) {
	c := New(nil, 10)
	c.Disable()
	c.Record(model.TraceEntry{Type: model.TraceRuleTriggered})
	assert.Equal(t, 0, c.Len())
	assert.False(t, c.IsEnabled())
}

func TestCollector_SubscribePanicIsolated(t *testing.T) {
	c := New(nil, 10)
	called := false
	c.Subscribe(func(entry model.TraceEntry) { panic("boom") })
	c.Subscribe(func(entry model.TraceEntry) { called = true })

	c.Record(model.TraceEntry{Type: model.TraceRuleTriggered})
	assert.True(t, called)
}
