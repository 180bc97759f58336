package reload

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hamicek/noex-rules-sub007/internal/model"
	"github.com/hamicek/noex-rules-sub007/internal/rule"
	"github.com/hamicek/noex-rules-sub007/internal/trace"
)

type fakeSource struct {
	rules []*model.Rule
}

func (f *fakeSource) Load() ([]*model.Rule, error) { return f.rules, nil }

func mkRule(id, topic string) *model.Rule {
	return &model.Rule{
		ID: id, Name: id, Enabled: true,
		Trigger: model.Trigger{Kind: model.TriggerEvent, Topic: topic},
		Actions: []model.Action{{Kind: model.ActionLog, Message: "x"}},
	}
}

func TestWatcher_AddsRemovesModifies(t *testing.T) {
	reg := rule.New(nil)
	tracer := trace.New(nil, 100)
	src := &fakeSource{rules: []*model.Rule{mkRule("r1", "a")}}
	w := New(nil, src, reg, tracer, nil, time.Hour, false, nil)

	w.Poll()
	require.Equal(t, 1, reg.Len())
	got, _ := reg.Get("r1")
	assert.Equal(t, "a", got.Trigger.Topic)

	src.rules = []*model.Rule{mkRule("r1", "b"), mkRule("r2", "c")}
	w.Poll()
	require.Equal(t, 2, reg.Len())
	got, _ = reg.Get("r1")
	assert.Equal(t, "b", got.Trigger.Topic)

	src.rules = []*model.Rule{mkRule("r2", "c")}
	w.Poll()
	require.Equal(t, 1, reg.Len())
	_, ok := reg.Get("r1")
	assert.False(t, ok)
}

func TestWatcher_NoOpPollRecordsNoTrace(t *testing.T) {
	reg := rule.New(nil)
	tracer := trace.New(nil, 100)
	src := &fakeSource{rules: []*model.Rule{mkRule("r1", "a")}}
	w := New(nil, src, reg, tracer, nil, time.Hour, false, nil)

	w.Poll()
	before := tracer.Len()
	w.Poll()
	assert.Equal(t, before, tracer.Len())
}
