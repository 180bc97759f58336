package model

import "time"

// Rule is the aggregate the Rule Registry owns. It is created by
// registerRule, mutated only by registerRule (replace) or enable/disable,
// and deleted by unregisterRule. External code only ever reads snapshots.
type Rule struct {
	ID          string     `json:"id" validate:"required"`
	Name        string     `json:"name" validate:"required"`
	Description string     `json:"description,omitempty"`
	Priority    int        `json:"priority"`
	Enabled     bool       `json:"enabled"`
	Tags        []string   `json:"tags,omitempty"`
	Group       string     `json:"group,omitempty"`
	Trigger     Trigger    `json:"trigger" validate:"required"`
	Conditions  []Condition `json:"conditions,omitempty"`
	Actions     []Action   `json:"actions" validate:"required"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	Version     int64      `json:"version"`
}

// Clone returns a deep-enough copy for safe external snapshotting: slices
// are copied, but condition/action element values are shared (they are
// themselves immutable once constructed).
func (r *Rule) Clone() *Rule {
	if r == nil {
		return nil
	}
	c := *r
	if r.Tags != nil {
		c.Tags = append([]string(nil), r.Tags...)
	}
	if r.Conditions != nil {
		c.Conditions = append([]Condition(nil), r.Conditions...)
	}
	if r.Actions != nil {
		c.Actions = append([]Action(nil), r.Actions...)
	}
	return &c
}

// TriggerKind discriminates the Trigger sum type.
type TriggerKind string

const (
	TriggerEvent    TriggerKind = "event"
	TriggerFact     TriggerKind = "fact"
	TriggerTimer    TriggerKind = "timer"
	TriggerTemporal TriggerKind = "temporal"
)

// Trigger is a discriminated union over the four ways a rule can fire.
type Trigger struct {
	Kind TriggerKind `json:"kind" validate:"required,oneof=event fact timer temporal"`

	// TriggerEvent
	Topic string `json:"topic,omitempty"`

	// TriggerFact
	Pattern string `json:"pattern,omitempty"`

	// TriggerTimer
	TimerName string `json:"timerName,omitempty"`

	// TriggerTemporal
	Temporal *TemporalPattern `json:"temporal,omitempty"`
}

// SourceKind discriminates where a Condition's left-hand value comes from.
type SourceKind string

const (
	SourceEvent    SourceKind = "event"
	SourceFact     SourceKind = "fact"
	SourceContext  SourceKind = "context"
	SourceBaseline SourceKind = "baseline"
)

// Source names where a condition (or interpolation) reads its value from.
type Source struct {
	Kind SourceKind `json:"kind" validate:"required,oneof=event fact context baseline"`

	Field   string `json:"field,omitempty"`   // event{field}
	Pattern string `json:"pattern,omitempty"`  // fact{pattern}
	Key     string `json:"key,omitempty"`      // context{key}

	// SourceBaseline
	Metric      string  `json:"metric,omitempty"`
	Comparison  string  `json:"comparison,omitempty"`
	Sensitivity float64 `json:"sensitivity,omitempty"`
}

// Operator enumerates the condition operators.
type Operator string

const (
	OpEq         Operator = "eq"
	OpNeq        Operator = "neq"
	OpGt         Operator = "gt"
	OpGte        Operator = "gte"
	OpLt         Operator = "lt"
	OpLte        Operator = "lte"
	OpIn         Operator = "in"
	OpNotIn      Operator = "not_in"
	OpContains   Operator = "contains"
	OpNotContain Operator = "not_contains"
	OpMatches    Operator = "matches"
	OpExists     Operator = "exists"
	OpNotExists  Operator = "not_exists"
)

// Ref is a runtime reference to a path in the evaluation context, e.g.
// {"ref": "event.data.x"}. A bare string "${path}" is shorthand for the
// same thing wherever value positions accept it.
type Ref struct {
	Ref string `json:"ref"`
}

// Value holds either a literal JSON-ish value or a Ref. Conditions and
// action arguments use it interchangeably.
type Value struct {
	Literal interface{} `json:"-"`
	Ref     *Ref        `json:"-"`
}

// IsRef reports whether this value is a runtime reference.
func (v Value) IsRef() bool { return v.Ref != nil }

// Condition is one term of a rule's (AND-combined) condition list.
type Condition struct {
	Source   Source   `json:"source" validate:"required"`
	Operator Operator `json:"operator" validate:"required"`
	Value    Value    `json:"value,omitempty"`
}

// ActionKind discriminates the Action sum type.
type ActionKind string

const (
	ActionSetFact      ActionKind = "set_fact"
	ActionDeleteFact   ActionKind = "delete_fact"
	ActionEmitEvent    ActionKind = "emit_event"
	ActionSetTimer     ActionKind = "set_timer"
	ActionCancelTimer  ActionKind = "cancel_timer"
	ActionCallService  ActionKind = "call_service"
	ActionLog          ActionKind = "log"
	ActionConditional  ActionKind = "conditional"
	ActionTryCatch     ActionKind = "try_catch"
)

// TimerConfig describes a timer to arm via set_timer.
type TimerConfig struct {
	Name     string       `json:"name" validate:"required"`
	Duration *Duration    `json:"duration,omitempty"`
	Cron     string       `json:"cron,omitempty"`
	OnExpire *EventSpec   `json:"onExpire" validate:"required"`
	Repeat   bool         `json:"repeat,omitempty"`
	MaxCount int          `json:"maxCount,omitempty"`
}

// EventSpec is the {topic, data} pair used by emit_event and onExpire.
type EventSpec struct {
	Topic string                 `json:"topic" validate:"required"`
	Data  map[string]interface{} `json:"data,omitempty"`
}

// Action is a discriminated union over the nine action kinds.
type Action struct {
	Kind ActionKind `json:"kind" validate:"required"`

	// set_fact / delete_fact
	Key   string `json:"key,omitempty"`
	Value Value  `json:"value,omitempty"`

	// emit_event
	Event *EventSpec `json:"event,omitempty"`

	// set_timer
	Timer *TimerConfig `json:"timer,omitempty"`

	// cancel_timer
	TimerName string `json:"timerName,omitempty"`

	// call_service
	Service string                 `json:"service,omitempty"`
	Method  string                 `json:"method,omitempty"`
	Args    map[string]interface{} `json:"args,omitempty"`

	// log
	Level   string `json:"level,omitempty"`
	Message string `json:"message,omitempty"`

	// conditional
	Conditions []Condition `json:"conditions,omitempty"`
	Then       []Action    `json:"then,omitempty"`
	Else       []Action    `json:"else,omitempty"`

	// try_catch
	Try     []Action  `json:"try,omitempty"`
	Catch   *CatchSpec `json:"catch,omitempty"`
	Finally []Action  `json:"finally,omitempty"`
}

// CatchSpec is the try_catch.catch clause.
type CatchSpec struct {
	As      string   `json:"as,omitempty"`
	Actions []Action `json:"actions,omitempty"`
}

// Duration wraps a duration so rule JSON/YAML can express it as a string
// ("30s", "5m") while the engine holds a time.Duration internally; see
// internal/ruleio for the (un)marshalling.
type Duration struct {
	time.Duration
}
