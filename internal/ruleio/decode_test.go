package ruleio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hamicek/noex-rules-sub007/internal/model"
)

const highOrderRuleJSON = `{
	"id": "high-order",
	"name": "High value order",
	"trigger": {"kind": "event", "topic": "order.created"},
	"conditions": [
		{"source": {"kind": "event", "field": "data.total"}, "operator": "gte", "value": 100}
	],
	"actions": [
		{"kind": "set_fact", "key": "orders:high", "value": "${event.data.id}"}
	]
}`

func TestDecodeJSON_SimpleRule(t *testing.T) {
	rule, err := DecodeJSON([]byte(highOrderRuleJSON))
	require.NoError(t, err)

	assert.Equal(t, "high-order", rule.ID)
	assert.True(t, rule.Enabled, "enabled defaults to true when omitted")
	assert.Equal(t, model.TriggerEvent, rule.Trigger.Kind)
	assert.Equal(t, "order.created", rule.Trigger.Topic)

	require.Len(t, rule.Conditions, 1)
	cond := rule.Conditions[0]
	assert.Equal(t, model.SourceEvent, cond.Source.Kind)
	assert.Equal(t, model.OpGte, cond.Operator)
	assert.Equal(t, float64(100), cond.Value.Literal)

	require.Len(t, rule.Actions, 1)
	action := rule.Actions[0]
	assert.Equal(t, model.ActionSetFact, action.Kind)
	require.NotNil(t, action.Value.Ref)
	assert.Equal(t, "event.data.id", action.Value.Ref.Ref)
}

func TestDecodeJSON_RejectsUnknownFields(t *testing.T) {
	_, err := DecodeJSON([]byte(`{
		"id": "r1", "name": "n", "trigger": {"kind": "event", "topic": "t"},
		"actions": [], "bogusField": true
	}`))
	require.Error(t, err)
}

func TestDecodeJSON_RefShorthandObjectForm(t *testing.T) {
	rule, err := DecodeJSON([]byte(`{
		"id": "r1", "name": "n",
		"trigger": {"kind": "event", "topic": "t"},
		"actions": [{"kind": "set_fact", "key": "k", "value": {"ref": "event.data.id"}}]
	}`))
	require.NoError(t, err)
	require.NotNil(t, rule.Actions[0].Value.Ref)
	assert.Equal(t, "event.data.id", rule.Actions[0].Value.Ref.Ref)
}

func TestDecodeYAML_SingleObjectShape(t *testing.T) {
	yamlDoc := `
id: r1
name: single rule
trigger:
  kind: event
  topic: order.created
actions:
  - kind: log
    level: info
    message: hello
`
	rules, err := DecodeYAML([]byte(yamlDoc))
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, "r1", rules[0].ID)
	assert.Equal(t, "order.created", rules[0].Trigger.Topic)
	assert.Equal(t, "info", rules[0].Actions[0].Level)
}

func TestDecodeYAML_BareSequenceShape(t *testing.T) {
	yamlDoc := `
- id: r1
  name: first
  trigger: {kind: event, topic: a}
  actions: [{kind: log, message: one}]
- id: r2
  name: second
  trigger: {kind: event, topic: b}
  actions: [{kind: log, message: two}]
`
	rules, err := DecodeYAML([]byte(yamlDoc))
	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.Equal(t, "r1", rules[0].ID)
	assert.Equal(t, "r2", rules[1].ID)
}

func TestDecodeYAML_RulesWrapperShape(t *testing.T) {
	yamlDoc := `
rules:
  - id: r1
    name: first
    trigger: {kind: event, topic: a}
    actions: [{kind: log, message: one}]
`
	rules, err := DecodeYAML([]byte(yamlDoc))
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, "r1", rules[0].ID)
}

func TestDecodeYAML_PreservesCamelCaseFields(t *testing.T) {
	yamlDoc := `
id: r1
name: timer rule
trigger:
  kind: timer
  timerName: expiry
actions:
  - kind: set_timer
    timer:
      name: expiry
      duration: 30s
      onExpire: {topic: order.expired}
      maxCount: 3
`
	rules, err := DecodeYAML([]byte(yamlDoc))
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, "expiry", rules[0].Trigger.TimerName)
	require.NotNil(t, rules[0].Actions[0].Timer)
	assert.Equal(t, 3, rules[0].Actions[0].Timer.MaxCount)
	require.NotNil(t, rules[0].Actions[0].Timer.OnExpire)
	assert.Equal(t, "order.expired", rules[0].Actions[0].Timer.OnExpire.Topic)
}

func TestValidate_RejectsMissingTrigger(t *testing.T) {
	rule := &model.Rule{ID: "r1", Name: "n", Actions: []model.Action{{Kind: model.ActionLog}}}
	err := Validate(rule)
	require.Error(t, err)
}

func TestValidate_AcceptsWellFormedRule(t *testing.T) {
	rule, err := DecodeJSON([]byte(highOrderRuleJSON))
	require.NoError(t, err)
	assert.NoError(t, Validate(rule))
}
