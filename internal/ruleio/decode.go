// Package ruleio loads Rule definitions from JSON/YAML files (spec.md §6)
// and implements reload.Source so the Hot-Reload Watcher can poll a rule
// directory. No teacher analogue exists (the teacher's alerting-engine
// keeps rules in Postgres, not files); this package is built fresh in the
// engine's idiom, using the sum-type shapes internal/model defines.
package ruleio

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hamicek/noex-rules-sub007/internal/apperr"
	"github.com/hamicek/noex-rules-sub007/internal/model"
)

// valueDoc is the wire shape of model.Value: a literal value, a
// {"ref": "path"} object, or (spec.md §6's shorthand) a bare "${path}"
// string. model.Value tags its fields json:"-" precisely so this package
// owns the decoding instead of a generic (un)marshaler on the model type.
// It decodes into a generic interface{} so the same toModel logic serves
// both the JSON and YAML loaders.
type valueDoc struct {
	set   bool
	value interface{}
}

func (v *valueDoc) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	if err := json.Unmarshal(data, &v.value); err != nil {
		return fmt.Errorf("decode value: %w", err)
	}
	v.set = true
	return nil
}

func (v *valueDoc) UnmarshalYAML(node *yaml.Node) error {
	if node.Tag == "!!null" {
		return nil
	}
	if err := node.Decode(&v.value); err != nil {
		return fmt.Errorf("decode value: %w", err)
	}
	v.set = true
	return nil
}

func (v valueDoc) toModel() (model.Value, error) {
	if !v.set {
		return model.Value{}, nil
	}

	if s, ok := v.value.(string); ok {
		if ref, ok := parseRefShorthand(s); ok {
			return model.Value{Ref: &model.Ref{Ref: ref}}, nil
		}
		return model.Value{Literal: s}, nil
	}

	if m, ok := v.value.(map[string]interface{}); ok {
		if ref, ok := m["ref"].(string); ok && len(m) == 1 {
			return model.Value{Ref: &model.Ref{Ref: ref}}, nil
		}
	}

	return model.Value{Literal: v.value}, nil
}

func parseRefShorthand(s string) (string, bool) {
	if strings.HasPrefix(s, "${") && strings.HasSuffix(s, "}") && len(s) > 3 {
		return s[2 : len(s)-1], true
	}
	return "", false
}

// durationDoc decodes a duration given as a Go duration string ("30s",
// "5m") into a model.Duration. Both encoding/json and yaml.v3 decode a
// string/scalar into a named string type by reflection, so no explicit
// Unmarshal methods are needed here the way valueDoc needs them.
type durationDoc string

func (d durationDoc) toModel() (*model.Duration, error) {
	if d == "" {
		return nil, nil
	}
	parsed, err := time.ParseDuration(string(d))
	if err != nil {
		return nil, fmt.Errorf("parse duration %q: %w", d, err)
	}
	return &model.Duration{Duration: parsed}, nil
}

type sourceDoc struct {
	Kind        model.SourceKind `json:"kind" yaml:"kind"`
	Field       string           `json:"field,omitempty" yaml:"field,omitempty"`
	Pattern     string           `json:"pattern,omitempty" yaml:"pattern,omitempty"`
	Key         string           `json:"key,omitempty" yaml:"key,omitempty"`
	Metric      string           `json:"metric,omitempty" yaml:"metric,omitempty"`
	Comparison  string           `json:"comparison,omitempty" yaml:"comparison,omitempty"`
	Sensitivity float64          `json:"sensitivity,omitempty" yaml:"sensitivity,omitempty"`
}

func (s sourceDoc) toModel() model.Source {
	return model.Source{
		Kind: s.Kind, Field: s.Field, Pattern: s.Pattern, Key: s.Key,
		Metric: s.Metric, Comparison: s.Comparison, Sensitivity: s.Sensitivity,
	}
}

type conditionDoc struct {
	Source   sourceDoc      `json:"source" yaml:"source"`
	Operator model.Operator `json:"operator" yaml:"operator"`
	Value    valueDoc       `json:"value,omitempty" yaml:"value,omitempty"`
}

func (c conditionDoc) toModel() (model.Condition, error) {
	v, err := c.Value.toModel()
	if err != nil {
		return model.Condition{}, err
	}
	return model.Condition{Source: c.Source.toModel(), Operator: c.Operator, Value: v}, nil
}

type eventSpecDoc struct {
	Topic string                 `json:"topic" yaml:"topic"`
	Data  map[string]interface{} `json:"data,omitempty" yaml:"data,omitempty"`
}

func (e *eventSpecDoc) toModel() *model.EventSpec {
	if e == nil {
		return nil
	}
	return &model.EventSpec{Topic: e.Topic, Data: e.Data}
}

type timerConfigDoc struct {
	Name     string        `json:"name" yaml:"name"`
	Duration durationDoc   `json:"duration,omitempty" yaml:"duration,omitempty"`
	Cron     string        `json:"cron,omitempty" yaml:"cron,omitempty"`
	OnExpire *eventSpecDoc `json:"onExpire" yaml:"onExpire"`
	Repeat   bool          `json:"repeat,omitempty" yaml:"repeat,omitempty"`
	MaxCount int           `json:"maxCount,omitempty" yaml:"maxCount,omitempty"`
}

func (t *timerConfigDoc) toModel() (*model.TimerConfig, error) {
	if t == nil {
		return nil, nil
	}
	dur, err := t.Duration.toModel()
	if err != nil {
		return nil, err
	}
	return &model.TimerConfig{
		Name: t.Name, Duration: dur, Cron: t.Cron,
		OnExpire: t.OnExpire.toModel(), Repeat: t.Repeat, MaxCount: t.MaxCount,
	}, nil
}

type catchSpecDoc struct {
	As      string      `json:"as,omitempty" yaml:"as,omitempty"`
	Actions []actionDoc `json:"actions,omitempty" yaml:"actions,omitempty"`
}

func (c *catchSpecDoc) toModel() (*model.CatchSpec, error) {
	if c == nil {
		return nil, nil
	}
	actions, err := toActions(c.Actions)
	if err != nil {
		return nil, err
	}
	return &model.CatchSpec{As: c.As, Actions: actions}, nil
}

type actionDoc struct {
	Kind model.ActionKind `json:"kind" yaml:"kind"`

	Key   string   `json:"key,omitempty" yaml:"key,omitempty"`
	Value valueDoc `json:"value,omitempty" yaml:"value,omitempty"`

	Event *eventSpecDoc `json:"event,omitempty" yaml:"event,omitempty"`

	Timer *timerConfigDoc `json:"timer,omitempty" yaml:"timer,omitempty"`

	TimerName string `json:"timerName,omitempty" yaml:"timerName,omitempty"`

	Service string                 `json:"service,omitempty" yaml:"service,omitempty"`
	Method  string                 `json:"method,omitempty" yaml:"method,omitempty"`
	Args    map[string]interface{} `json:"args,omitempty" yaml:"args,omitempty"`

	Level   string `json:"level,omitempty" yaml:"level,omitempty"`
	Message string `json:"message,omitempty" yaml:"message,omitempty"`

	Conditions []conditionDoc `json:"conditions,omitempty" yaml:"conditions,omitempty"`
	Then       []actionDoc    `json:"then,omitempty" yaml:"then,omitempty"`
	Else       []actionDoc    `json:"else,omitempty" yaml:"else,omitempty"`

	Try     []actionDoc   `json:"try,omitempty" yaml:"try,omitempty"`
	Catch   *catchSpecDoc `json:"catch,omitempty" yaml:"catch,omitempty"`
	Finally []actionDoc   `json:"finally,omitempty" yaml:"finally,omitempty"`
}

func (a actionDoc) toModel() (model.Action, error) {
	value, err := a.Value.toModel()
	if err != nil {
		return model.Action{}, err
	}
	timer, err := a.Timer.toModel()
	if err != nil {
		return model.Action{}, err
	}
	conditions, err := toConditions(a.Conditions)
	if err != nil {
		return model.Action{}, err
	}
	then, err := toActions(a.Then)
	if err != nil {
		return model.Action{}, err
	}
	els, err := toActions(a.Else)
	if err != nil {
		return model.Action{}, err
	}
	try, err := toActions(a.Try)
	if err != nil {
		return model.Action{}, err
	}
	catch, err := a.Catch.toModel()
	if err != nil {
		return model.Action{}, err
	}
	finally, err := toActions(a.Finally)
	if err != nil {
		return model.Action{}, err
	}

	return model.Action{
		Kind: a.Kind, Key: a.Key, Value: value,
		Event: a.Event.toModel(), Timer: timer, TimerName: a.TimerName,
		Service: a.Service, Method: a.Method, Args: a.Args,
		Level: a.Level, Message: a.Message,
		Conditions: conditions, Then: then, Else: els,
		Try: try, Catch: catch, Finally: finally,
	}, nil
}

func toConditions(docs []conditionDoc) ([]model.Condition, error) {
	if docs == nil {
		return nil, nil
	}
	out := make([]model.Condition, 0, len(docs))
	for _, d := range docs {
		c, err := d.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func toActions(docs []actionDoc) ([]model.Action, error) {
	if docs == nil {
		return nil, nil
	}
	out := make([]model.Action, 0, len(docs))
	for _, d := range docs {
		a, err := d.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

type temporalPatternDoc struct {
	Kind       model.TemporalPatternKind `json:"kind" yaml:"kind"`
	Sequence   []eventMatcherDoc         `json:"sequence,omitempty" yaml:"sequence,omitempty"`
	Within     durationDoc               `json:"within,omitempty" yaml:"within,omitempty"`
	After      *eventMatcherDoc          `json:"after,omitempty" yaml:"after,omitempty"`
	Expected   *eventMatcherDoc          `json:"expected,omitempty" yaml:"expected,omitempty"`
	Match      *eventMatcherDoc          `json:"match,omitempty" yaml:"match,omitempty"`
	Window     durationDoc               `json:"window,omitempty" yaml:"window,omitempty"`
	Threshold  float64                   `json:"threshold,omitempty" yaml:"threshold,omitempty"`
	Comparison model.Comparison          `json:"comparison,omitempty" yaml:"comparison,omitempty"`
	Function   model.AggregateFunction   `json:"function,omitempty" yaml:"function,omitempty"`
	Field      string                    `json:"field,omitempty" yaml:"field,omitempty"`
}

type eventMatcherDoc struct {
	Topic string `json:"topic" yaml:"topic"`
	As    string `json:"as,omitempty" yaml:"as,omitempty"`
}

func (e eventMatcherDoc) toModel() model.EventMatcher {
	return model.EventMatcher{Topic: e.Topic, As: e.As}
}

func (t *temporalPatternDoc) toModel() (*model.TemporalPattern, error) {
	if t == nil {
		return nil, nil
	}
	within, err := t.Within.toModel()
	if err != nil {
		return nil, err
	}
	window, err := t.Window.toModel()
	if err != nil {
		return nil, err
	}
	p := &model.TemporalPattern{
		Kind: t.Kind, Threshold: t.Threshold, Comparison: t.Comparison,
		Function: t.Function, Field: t.Field,
	}
	if within != nil {
		p.Within = within.Duration
	}
	if window != nil {
		p.Window = window.Duration
	}
	for _, m := range t.Sequence {
		p.Sequence = append(p.Sequence, m.toModel())
	}
	if t.After != nil {
		after := t.After.toModel()
		p.After = &after
	}
	if t.Expected != nil {
		expected := t.Expected.toModel()
		p.Expected = &expected
	}
	if t.Match != nil {
		match := t.Match.toModel()
		p.Match = &match
	}
	return p, nil
}

type triggerDoc struct {
	Kind      model.TriggerKind   `json:"kind" yaml:"kind"`
	Topic     string              `json:"topic,omitempty" yaml:"topic,omitempty"`
	Pattern   string              `json:"pattern,omitempty" yaml:"pattern,omitempty"`
	TimerName string              `json:"timerName,omitempty" yaml:"timerName,omitempty"`
	Temporal  *temporalPatternDoc `json:"temporal,omitempty" yaml:"temporal,omitempty"`
}

func (t triggerDoc) toModel() (model.Trigger, error) {
	temporal, err := t.Temporal.toModel()
	if err != nil {
		return model.Trigger{}, err
	}
	return model.Trigger{
		Kind: t.Kind, Topic: t.Topic, Pattern: t.Pattern,
		TimerName: t.TimerName, Temporal: temporal,
	}, nil
}

// ruleDoc is the on-disk shape of a rule definition. Unknown fields are
// rejected per spec.md §6 by decoding with json.Decoder.DisallowUnknownFields
// (see DecodeJSON); DecodeYAML does not reject unknown fields.
type ruleDoc struct {
	ID          string         `json:"id" yaml:"id"`
	Name        string         `json:"name" yaml:"name"`
	Description string         `json:"description,omitempty" yaml:"description,omitempty"`
	Priority    int            `json:"priority,omitempty" yaml:"priority,omitempty"`
	Enabled     *bool          `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	Tags        []string       `json:"tags,omitempty" yaml:"tags,omitempty"`
	Group       string         `json:"group,omitempty" yaml:"group,omitempty"`
	Trigger     triggerDoc     `json:"trigger" yaml:"trigger"`
	Conditions  []conditionDoc `json:"conditions,omitempty" yaml:"conditions,omitempty"`
	Actions     []actionDoc    `json:"actions" yaml:"actions"`
}

func (r ruleDoc) toModel() (*model.Rule, error) {
	if r.ID == "" {
		return nil, apperr.NewValidationError("id", "rule id is required")
	}
	trigger, err := r.Trigger.toModel()
	if err != nil {
		return nil, err
	}
	conditions, err := toConditions(r.Conditions)
	if err != nil {
		return nil, err
	}
	actions, err := toActions(r.Actions)
	if err != nil {
		return nil, err
	}
	enabled := true
	if r.Enabled != nil {
		enabled = *r.Enabled
	}
	return &model.Rule{
		ID: r.ID, Name: r.Name, Description: r.Description, Priority: r.Priority,
		Enabled: enabled, Tags: r.Tags, Group: r.Group,
		Trigger: trigger, Conditions: conditions, Actions: actions,
	}, nil
}

// rulesFileDoc accepts the three top-level YAML shapes spec.md §6 allows:
// a single rule, a bare sequence of rules, or {rules: [...]}.
type rulesFileDoc struct {
	Rules []ruleDoc `yaml:"rules" json:"rules"`
}

// DecodeJSON parses a single JSON rule document, rejecting unknown fields.
func DecodeJSON(data []byte) (*model.Rule, error) {
	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.DisallowUnknownFields()
	var doc ruleDoc
	if err := dec.Decode(&doc); err != nil {
		return nil, apperr.NewValidationError("rule", err.Error())
	}
	return doc.toModel()
}

// DecodeYAML parses a YAML document in any of the three shapes spec.md §6
// names and returns every rule it contains.
func DecodeYAML(data []byte) ([]*model.Rule, error) {
	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return nil, apperr.NewValidationError("rule", err.Error())
	}
	if len(node.Content) == 0 {
		return nil, nil
	}
	root := node.Content[0]

	switch root.Kind {
	case yaml.SequenceNode:
		var docs []ruleDoc
		if err := root.Decode(&docs); err != nil {
			return nil, apperr.NewValidationError("rule", err.Error())
		}
		return toModels(docs)
	case yaml.MappingNode:
		if hasKey(root, "rules") {
			var wrapper rulesFileDoc
			if err := root.Decode(&wrapper); err != nil {
				return nil, apperr.NewValidationError("rule", err.Error())
			}
			return toModels(wrapper.Rules)
		}
		var doc ruleDoc
		if err := root.Decode(&doc); err != nil {
			return nil, apperr.NewValidationError("rule", err.Error())
		}
		m, err := doc.toModel()
		if err != nil {
			return nil, err
		}
		return []*model.Rule{m}, nil
	default:
		return nil, apperr.NewValidationError("rule", "unsupported YAML document shape")
	}
}

func hasKey(node *yaml.Node, key string) bool {
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == key {
			return true
		}
	}
	return false
}

func toModels(docs []ruleDoc) ([]*model.Rule, error) {
	out := make([]*model.Rule, 0, len(docs))
	for _, d := range docs {
		m, err := d.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}
