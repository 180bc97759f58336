package rule

import (
	"testing"

	"github.com/hamicek/noex-rules-sub007/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mkRule(id string, priority int, topic string) *model.Rule {
	return &model.Rule{
		ID:       id,
		Name:     id,
		Priority: priority,
		Enabled:  true,
		Trigger:  model.Trigger{Kind: model.TriggerEvent, Topic: topic},
		Actions:  []model.Action{{Kind: model.ActionLog, Message: "x"}},
	}
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	reg := New(nil)
	r, err := reg.Register(mkRule("r1", 10, "order.created"), RegisterOptions{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), r.Version)

	got, ok := reg.Get("r1")
	require.True(t, ok)
	assert.Equal(t, "r1", got.ID)
}

func TestRegistry_ByEventTopicPriorityOrder(t *testing.T) {
	reg := New(nil)
	_, _ = reg.Register(mkRule("low", 1, "order.created"), RegisterOptions{})
	_, _ = reg.Register(mkRule("high", 10, "order.created"), RegisterOptions{})

	rules := reg.ByEventTopic("order.created")
	require.Len(t, rules, 2)
	assert.Equal(t, "high", rules[0].ID)
	assert.Equal(t, "low", rules[1].ID)
}

func TestRegistry_LiteralBeforePattern(t *testing.T) {
	reg := New(nil)
	_, _ = reg.Register(mkRule("pattern-rule", 100, "order.*"), RegisterOptions{})
	_, _ = reg.Register(mkRule("literal-rule", 1, "order.created"), RegisterOptions{})

	rules := reg.ByEventTopic("order.created")
	require.Len(t, rules, 2)
	assert.Equal(t, "literal-rule", rules[0].ID)
	assert.Equal(t, "pattern-rule", rules[1].ID)
}

func TestRegistry_Unregister(t *testing.T) {
	reg := New(nil)
	_, _ = reg.Register(mkRule("r1", 1, "t"), RegisterOptions{})
	assert.True(t, reg.Unregister("r1"))
	assert.False(t, reg.Unregister("r1"))
	_, ok := reg.Get("r1")
	assert.False(t, ok)
}

func TestRegistry_DisableExcludesFromTrigger(t *testing.T) {
	reg := New(nil)
	_, _ = reg.Register(mkRule("r1", 1, "t"), RegisterOptions{})
	require.NoError(t, reg.Disable("r1"))

	rules := reg.ByEventTopic("t")
	assert.Len(t, rules, 0)
}

func TestRegistry_ReplaceReindexes(t *testing.T) {
	reg := New(nil)
	_, _ = reg.Register(mkRule("r1", 1, "topic.a"), RegisterOptions{})

	updated := mkRule("r1", 1, "topic.b")
	_, err := reg.Register(updated, RegisterOptions{})
	require.NoError(t, err)

	assert.Len(t, reg.ByEventTopic("topic.a"), 0)
	assert.Len(t, reg.ByEventTopic("topic.b"), 1)
}

func TestRegistry_GroupDisable(t *testing.T) {
	reg := New(nil)
	r := mkRule("r1", 1, "t")
	r.Group = "g1"
	_, _ = reg.Register(r, RegisterOptions{})

	reg.SetGroupEnabled("g1", false)
	assert.Len(t, reg.ByEventTopic("t"), 0)

	reg.SetGroupEnabled("g1", true)
	assert.Len(t, reg.ByEventTopic("t"), 1)
}
