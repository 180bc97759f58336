package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hamicek/noex-rules-sub007/internal/event"
	"github.com/hamicek/noex-rules-sub007/internal/fact"
	"github.com/hamicek/noex-rules-sub007/internal/model"
	"github.com/hamicek/noex-rules-sub007/internal/rule"
	"github.com/hamicek/noex-rules-sub007/internal/trace"
)

func newTestEngine(t *testing.T, cfg Config) *Engine {
	t.Helper()
	facts := fact.New(nil)
	events := event.New(1000)
	tracer := trace.New(nil, 1000)
	registry := rule.New(nil)
	e := New(nil, cfg, facts, events, tracer, registry, nil)
	e.Start()
	t.Cleanup(func() {
		_ = e.Stop(context.Background(), time.Second)
	})
	return e
}

// S1: an event-triggered rule whose condition passes writes a fact.
func TestEngine_EventConditionFact(t *testing.T) {
	e := newTestEngine(t, DefaultConfig())

	r := &model.Rule{
		Name:     "high-value-order",
		Enabled:  true,
		Priority: 1,
		Trigger:  model.Trigger{Kind: model.TriggerEvent, Topic: "order.created"},
		Conditions: []model.Condition{
			{Source: model.Source{Kind: model.SourceEvent, Field: "amount"}, Operator: model.OpGt, Value: model.Value{Literal: 100.0}},
		},
		Actions: []model.Action{
			{Kind: model.ActionSetFact, Key: "order.flagged.${event.data.orderId}", Value: model.Value{Literal: true}},
		},
	}
	_, err := e.Registry.Register(r, rule.RegisterOptions{})
	require.NoError(t, err)

	_, err = e.Emit("order.created", map[string]interface{}{"amount": 250.0, "orderId": "o1"}, "", "")
	require.NoError(t, err)
	e.WaitForProcessingQueue()

	v, ok := e.Facts.Get("order.flagged.o1")
	require.True(t, ok)
	assert.Equal(t, true, v)
}

// S2: a rule's emit_event action re-enters the pipeline and fires a
// second, downstream rule.
func TestEngine_ForwardChaining(t *testing.T) {
	e := newTestEngine(t, DefaultConfig())

	first := &model.Rule{
		Name:     "forward",
		Enabled:  true,
		Trigger:  model.Trigger{Kind: model.TriggerEvent, Topic: "a"},
		Actions:  []model.Action{{Kind: model.ActionEmitEvent, Event: &model.EventSpec{Topic: "b", Data: map[string]interface{}{"x": 1}}}},
	}
	second := &model.Rule{
		Name:     "sink",
		Enabled:  true,
		Trigger:  model.Trigger{Kind: model.TriggerEvent, Topic: "b"},
		Actions:  []model.Action{{Kind: model.ActionSetFact, Key: "chained", Value: model.Value{Literal: true}}},
	}
	_, _ = e.Registry.Register(first, rule.RegisterOptions{})
	_, _ = e.Registry.Register(second, rule.RegisterOptions{})

	_, err := e.Emit("a", map[string]interface{}{}, "", "")
	require.NoError(t, err)
	e.WaitForProcessingQueue()

	v, ok := e.Facts.Get("chained")
	require.True(t, ok)
	assert.Equal(t, true, v)
}

// A self-chaining rule is cut off at maxChainDepth rather than looping
// forever.
func TestEngine_ChainDepthCutoff(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxChainDepth = 3
	e := newTestEngine(t, cfg)

	loop := &model.Rule{
		Name:    "loop",
		Enabled: true,
		Trigger: model.Trigger{Kind: model.TriggerEvent, Topic: "loop"},
		Actions: []model.Action{{Kind: model.ActionEmitEvent, Event: &model.EventSpec{Topic: "loop", Data: map[string]interface{}{}}}},
	}
	_, _ = e.Registry.Register(loop, rule.RegisterOptions{})

	_, err := e.Emit("loop", map[string]interface{}{}, "", "")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		e.WaitForProcessingQueue()
		entries := e.Trace.Query(trace.Query{Types: []model.TraceEntryType{model.TraceChainDepthExceeded}})
		return len(entries) > 0
	}, 2*time.Second, 10*time.Millisecond)
}

// S4: arming a timer under a name that already has a pending delivery
// cancels the prior one, leaving exactly one active timer.
func TestEngine_TimerReplacement(t *testing.T) {
	e := newTestEngine(t, DefaultConfig())

	_, err := e.Timers.SetTimer(model.TimerConfig{
		Name:     "reminder",
		Duration: &model.Duration{Duration: time.Hour},
		OnExpire: &model.EventSpec{Topic: "reminder.fired"},
	}, "")
	require.NoError(t, err)

	_, err = e.Timers.SetTimer(model.TimerConfig{
		Name:     "reminder",
		Duration: &model.Duration{Duration: 2 * time.Hour},
		OnExpire: &model.EventSpec{Topic: "reminder.fired"},
	}, "")
	require.NoError(t, err)

	assert.Equal(t, 1, e.Timers.Len())
}

// S6: with a single worker, jobs drain in FIFO enqueue order.
func TestEngine_SingleWorkerFIFO(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Workers = 1
	e := newTestEngine(t, cfg)

	var mu sync.Mutex
	var order []string

	for _, topic := range []string{"t1", "t2", "t3"} {
		topic := topic
		r := &model.Rule{
			Name:    topic,
			Enabled: true,
			Trigger: model.Trigger{Kind: model.TriggerEvent, Topic: topic},
			Actions: []model.Action{{Kind: model.ActionLog, Message: topic}},
		}
		_, _ = e.Registry.Register(r, rule.RegisterOptions{})
	}

	unsub := e.Trace.Subscribe(func(entry model.TraceEntry) {
		if entry.Type == model.TraceRuleTriggered {
			mu.Lock()
			order = append(order, entry.RuleName)
			mu.Unlock()
		}
	})
	defer unsub()

	for _, topic := range []string{"t1", "t2", "t3"} {
		_, err := e.Emit(topic, map[string]interface{}{}, "", "")
		require.NoError(t, err)
	}
	e.WaitForProcessingQueue()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, order, 3)
	assert.Equal(t, []string{"t1", "t2", "t3"}, order)
}

// Same-correlation jobs stay FIFO even at the default worker concurrency:
// sharding by correlationID must route them all to one goroutine.
func TestEngine_SameCorrelationFIFOAcrossWorkers(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Workers = 8
	e := newTestEngine(t, cfg)

	var mu sync.Mutex
	var order []string

	for _, topic := range []string{"t1", "t2", "t3", "t4", "t5"} {
		topic := topic
		r := &model.Rule{
			Name:    topic,
			Enabled: true,
			Trigger: model.Trigger{Kind: model.TriggerEvent, Topic: topic},
			Actions: []model.Action{{Kind: model.ActionLog, Message: topic}},
		}
		_, _ = e.Registry.Register(r, rule.RegisterOptions{})
	}

	unsub := e.Trace.Subscribe(func(entry model.TraceEntry) {
		if entry.Type == model.TraceRuleTriggered {
			mu.Lock()
			order = append(order, entry.RuleName)
			mu.Unlock()
		}
	})
	defer unsub()

	const correlationID = "fixed-correlation"
	for _, topic := range []string{"t1", "t2", "t3", "t4", "t5"} {
		_, err := e.Emit(topic, map[string]interface{}{}, correlationID, "")
		require.NoError(t, err)
	}
	e.WaitForProcessingQueue()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, order, 5)
	assert.Equal(t, []string{"t1", "t2", "t3", "t4", "t5"}, order)
}

// shardFor is deterministic and stable for a given correlationID so that
// repeated enqueues of the same correlation always land on the same shard.
func TestShardFor_Deterministic(t *testing.T) {
	for i := 0; i < 5; i++ {
		assert.Equal(t, shardFor("abc", 8), shardFor("abc", 8))
	}
	assert.Equal(t, 0, shardFor("anything", 1))
}
