package action

import (
	"context"
	"errors"
	"testing"

	"github.com/hamicek/noex-rules-sub007/internal/evalctx"
	"github.com/hamicek/noex-rules-sub007/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFacts struct {
	set    map[string]interface{}
	deleted []string
}

func newFakeFacts() *fakeFacts { return &fakeFacts{set: map[string]interface{}{}} }

func (f *fakeFacts) Set(key string, value interface{}, source string) (*model.Fact, error) {
	f.set[key] = value
	return &model.Fact{Key: key, Value: value}, nil
}

func (f *fakeFacts) Delete(key string) bool {
	f.deleted = append(f.deleted, key)
	return true
}

type fakeEmitter struct {
	emitted []string
}

func (f *fakeEmitter) Emit(topic string, data map[string]interface{}, correlationID, causationID string) (*model.Event, error) {
	f.emitted = append(f.emitted, topic)
	return &model.Event{ID: "new", Topic: topic, Data: data, CorrelationID: correlationID, CausationID: causationID}, nil
}

type fakeTimers struct {
	set map[string]bool
}

func (f *fakeTimers) SetTimer(cfg model.TimerConfig, correlationID string) (*model.Timer, error) {
	if f.set == nil {
		f.set = map[string]bool{}
	}
	f.set[cfg.Name] = true
	return &model.Timer{Name: cfg.Name}, nil
}

func (f *fakeTimers) CancelTimer(name string) bool { return true }

type fakeEvaluator struct{ result bool }

func (f *fakeEvaluator) Evaluate(c model.Condition, ctx *evalctx.Context) (bool, error) {
	return f.result, nil
}

type fakeService struct {
	calledMethod string
	calledArgs   map[string]interface{}
	err          error
}

func (f *fakeService) Call(ctx context.Context, method string, args map[string]interface{}) error {
	f.calledMethod = method
	f.calledArgs = args
	return f.err
}

func newExecutor() (*Executor, *fakeFacts, *fakeEmitter, *fakeTimers) {
	facts := newFakeFacts()
	emitter := &fakeEmitter{}
	timers := &fakeTimers{}
	ex := New(nil, facts, emitter, timers, &fakeEvaluator{result: true})
	return ex, facts, emitter, timers
}

func baseCtx() *evalctx.Context {
	return evalctx.New(&model.Event{ID: "e1", Topic: "order.created", Data: map[string]interface{}{"id": "X"}}, nil, "c1")
}

func TestExecutor_SetFactWithInterpolation(t *testing.T) {
	ex, facts, _, _ := newExecutor()
	actions := []model.Action{{
		Kind:  model.ActionSetFact,
		Key:   "orders:high:${event.data.id}",
		Value: model.Value{Literal: true},
	}}
	_, err := ex.Run(context.Background(), "r1", actions, baseCtx())
	require.NoError(t, err)
	assert.Equal(t, true, facts.set["orders:high:X"])
}

func TestExecutor_EmitEvent(t *testing.T) {
	ex, _, emitter, _ := newExecutor()
	actions := []model.Action{{
		Kind:  model.ActionEmitEvent,
		Event: &model.EventSpec{Topic: "order.flagged"},
	}}
	_, err := ex.Run(context.Background(), "r1", actions, baseCtx())
	require.NoError(t, err)
	assert.Equal(t, []string{"order.flagged"}, emitter.emitted)
}

func TestExecutor_CallServiceUnregistered(t *testing.T) {
	ex, _, _, _ := newExecutor()
	actions := []model.Action{{Kind: model.ActionCallService, Service: "notify", Method: "send"}}
	_, err := ex.Run(context.Background(), "r1", actions, baseCtx())
	assert.Error(t, err)
}

func TestExecutor_CallServiceRegistered(t *testing.T) {
	ex, _, _, _ := newExecutor()
	svc := &fakeService{}
	ex.RegisterService("notify", svc)
	actions := []model.Action{{Kind: model.ActionCallService, Service: "notify", Method: "send", Args: map[string]interface{}{"to": "a@b.com"}}}
	_, err := ex.Run(context.Background(), "r1", actions, baseCtx())
	require.NoError(t, err)
	assert.Equal(t, "send", svc.calledMethod)
}

func TestExecutor_TryCatchRunsCatchAndFinally(t *testing.T) {
	ex, facts, _, _ := newExecutor()
	svc := &fakeService{err: errors.New("boom")}
	ex.RegisterService("flaky", svc)

	actions := []model.Action{{
		Kind: model.ActionTryCatch,
		Try: []model.Action{
			{Kind: model.ActionCallService, Service: "flaky", Method: "do"},
		},
		Catch: &model.CatchSpec{
			As: "err",
			Actions: []model.Action{
				{Kind: model.ActionSetFact, Key: "caught", Value: model.Value{Literal: true}},
			},
		},
		Finally: []model.Action{
			{Kind: model.ActionSetFact, Key: "finally_ran", Value: model.Value{Literal: true}},
		},
	}}

	_, err := ex.Run(context.Background(), "r1", actions, baseCtx())
	require.NoError(t, err)
	assert.Equal(t, true, facts.set["caught"])
	assert.Equal(t, true, facts.set["finally_ran"])
}

func TestExecutor_ConditionalBranches(t *testing.T) {
	facts := newFakeFacts()
	ex := New(nil, facts, &fakeEmitter{}, &fakeTimers{}, &fakeEvaluator{result: false})
	actions := []model.Action{{
		Kind:       model.ActionConditional,
		Conditions: []model.Condition{{Source: model.Source{Kind: model.SourceEvent, Field: "x"}, Operator: model.OpExists}},
		Then:       []model.Action{{Kind: model.ActionSetFact, Key: "then", Value: model.Value{Literal: true}}},
		Else:       []model.Action{{Kind: model.ActionSetFact, Key: "else", Value: model.Value{Literal: true}}},
	}}
	_, err := ex.Run(context.Background(), "r1", actions, baseCtx())
	require.NoError(t, err)
	assert.Equal(t, true, facts.set["else"])
	_, ok := facts.set["then"]
	assert.False(t, ok)
}
