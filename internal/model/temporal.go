package model

import "time"

// TemporalPatternKind discriminates the four patterns C7 evaluates.
type TemporalPatternKind string

const (
	TemporalSequence  TemporalPatternKind = "sequence"
	TemporalAbsence   TemporalPatternKind = "absence"
	TemporalCount     TemporalPatternKind = "count"
	TemporalAggregate TemporalPatternKind = "aggregate"
)

// EventMatcher selects events by topic and optional field conditions, and
// may bind the matched event under Alias for later reference as
// "${alias.field}".
type EventMatcher struct {
	Topic      string      `json:"topic" validate:"required"`
	Conditions []Condition `json:"conditions,omitempty"`
	As         string      `json:"as,omitempty"`
}

// AggregateFunction enumerates the functions the aggregate pattern supports.
type AggregateFunction string

const (
	AggSum   AggregateFunction = "sum"
	AggAvg   AggregateFunction = "avg"
	AggMin   AggregateFunction = "min"
	AggMax   AggregateFunction = "max"
	AggCount AggregateFunction = "count"
)

// Comparison enumerates threshold comparisons for count/aggregate patterns.
type Comparison string

const (
	CompareGte Comparison = "gte"
	CompareLte Comparison = "lte"
	CompareEq  Comparison = "eq"
)

// TemporalPattern is the discriminated union over sequence/absence/count/
// aggregate, matched against Comparison/threshold.
type TemporalPattern struct {
	Kind TemporalPatternKind `json:"kind" validate:"required,oneof=sequence absence count aggregate"`

	// sequence
	Sequence []EventMatcher `json:"sequence,omitempty"`
	Within   Duration       `json:"within,omitempty"`

	// absence
	After      *EventMatcher `json:"after,omitempty"`
	Expected   *EventMatcher `json:"expected,omitempty"`
	AbsenceWithin Duration   `json:"absenceWithin,omitempty"`

	// count
	CountMatcher *EventMatcher `json:"countMatcher,omitempty"`
	Window       Duration      `json:"window,omitempty"`
	Threshold    float64       `json:"threshold,omitempty"`
	Comparison   Comparison    `json:"comparison,omitempty"`

	// aggregate
	AggregateMatcher *EventMatcher     `json:"aggregateMatcher,omitempty"`
	Function         AggregateFunction `json:"function,omitempty"`
	Field            string            `json:"field,omitempty"`
}

// TemporalFire is the synthetic trigger event emitted when a temporal
// pattern completes, carrying its bound aliases.
type TemporalFire struct {
	RuleID        string
	Aliases       map[string]*Event
	CorrelationID string
	FiredAt       time.Time
}
