// Package temporal implements the Temporal Matcher (C7): stateful
// evaluation of the four temporal trigger patterns (sequence, absence,
// count, aggregate) driven by events as they land in the Event Store (C2).
// No teacher analogue exists for this (the fraud-alerting domain fires on
// single events); built fresh on top of C2's time-range/count queries and
// grounded on the teacher's createEvaluationEnvironment's historical/
// aggregated env fields for the aggregate-extraction shape.
package temporal

import (
	"fmt"
	"sync"
	"time"

	"github.com/itchyny/gojq"

	"github.com/hamicek/noex-rules-sub007/internal/evalctx"
	"github.com/hamicek/noex-rules-sub007/internal/model"
)

// EventStore is the subset of C2 the matcher needs.
type EventStore interface {
	GetInTimeRange(topic string, from, to time.Time) []*model.Event
}

// ConditionChecker evaluates a matcher's condition list against a single
// candidate event. The engine package adapts *condition.Evaluator to this
// interface.
type ConditionChecker interface {
	Evaluate(c model.Condition, ctx *evalctx.Context) (passed bool, err error)
}

// TimerArmer is the subset of C3 needed to schedule the absence pattern's
// deadline check.
type TimerArmer interface {
	SetTimer(cfg model.TimerConfig, correlationID string) (*model.Timer, error)
	CancelTimer(name string) bool
}

// FireHandler is invoked when a pattern completes.
type FireHandler func(ruleID string, fire model.TemporalFire)

// Matcher tracks in-progress sequence and absence patterns per
// (rule, correlation) and evaluates count/aggregate patterns on demand.
type Matcher struct {
	events  EventStore
	checker ConditionChecker
	timers  TimerArmer
	onFire  FireHandler

	mu        sync.Mutex
	sequences map[string]*sequenceState // key: ruleID + "|" + correlationID
}

// New constructs a Matcher.
func New(events EventStore, checker ConditionChecker, timers TimerArmer, onFire FireHandler) *Matcher {
	return &Matcher{
		events:    events,
		checker:   checker,
		timers:    timers,
		onFire:    onFire,
		sequences: make(map[string]*sequenceState),
	}
}

type sequenceState struct {
	startedAt time.Time
	index     int
	aliases   map[string]*model.Event
}

// OnEvent feeds a newly-ingested event to every temporal-triggered rule's
// pattern. The caller (C9) is expected to call this once per rule whose
// Trigger.Kind == temporal, for every ingested event, regardless of topic;
// matchers that don't care about this topic are no-ops.
func (m *Matcher) OnEvent(ruleID string, pattern *model.TemporalPattern, ev *model.Event) {
	if pattern == nil {
		return
	}
	switch pattern.Kind {
	case model.TemporalSequence:
		m.onSequenceEvent(ruleID, pattern, ev)
	case model.TemporalAbsence:
		m.onAbsenceEvent(ruleID, pattern, ev)
	case model.TemporalCount:
		m.checkCount(ruleID, pattern, ev)
	case model.TemporalAggregate:
		m.checkAggregate(ruleID, pattern, ev)
	}
}

func (m *Matcher) matches(matcher model.EventMatcher, ev *model.Event) bool {
	if ev.Topic != matcher.Topic {
		return false
	}
	ctx := evalctx.New(ev, nil, ev.CorrelationID)
	for _, c := range matcher.Conditions {
		ok, err := m.checker.Evaluate(c, ctx)
		if err != nil || !ok {
			return false
		}
	}
	return true
}

func (m *Matcher) onSequenceEvent(ruleID string, pattern *model.TemporalPattern, ev *model.Event) {
	if len(pattern.Sequence) == 0 {
		return
	}
	key := ruleID + "|" + ev.CorrelationID

	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.sequences[key]
	now := ev.Timestamp
	if !ok {
		if !m.matches(pattern.Sequence[0], ev) {
			return
		}
		st = &sequenceState{startedAt: now, index: 1, aliases: map[string]*model.Event{}}
		bindAlias(st.aliases, pattern.Sequence[0], ev)
		if len(pattern.Sequence) == 1 {
			delete(m.sequences, key)
			m.fire(ruleID, st.aliases, ev.CorrelationID, now)
			return
		}
		m.sequences[key] = st
		return
	}

	if pattern.Within.Duration > 0 && now.Sub(st.startedAt) > pattern.Within.Duration {
		delete(m.sequences, key)
		// Re-evaluate this event as a fresh potential start.
		m.onSequenceEventLocked(ruleID, pattern, ev, key)
		return
	}

	next := pattern.Sequence[st.index]
	if !m.matches(next, ev) {
		return
	}
	bindAlias(st.aliases, next, ev)
	st.index++
	if st.index >= len(pattern.Sequence) {
		delete(m.sequences, key)
		m.fire(ruleID, st.aliases, ev.CorrelationID, now)
	}
}

// onSequenceEventLocked re-attempts a match as if starting fresh; used only
// after an expired in-progress sequence was just evicted. Caller holds m.mu.
func (m *Matcher) onSequenceEventLocked(ruleID string, pattern *model.TemporalPattern, ev *model.Event, key string) {
	if !m.matches(pattern.Sequence[0], ev) {
		return
	}
	st := &sequenceState{startedAt: ev.Timestamp, index: 1, aliases: map[string]*model.Event{}}
	bindAlias(st.aliases, pattern.Sequence[0], ev)
	if len(pattern.Sequence) == 1 {
		m.fire(ruleID, st.aliases, ev.CorrelationID, ev.Timestamp)
		return
	}
	m.sequences[key] = st
}

func bindAlias(aliases map[string]*model.Event, matcher model.EventMatcher, ev *model.Event) {
	if matcher.As != "" {
		aliases[matcher.As] = ev
	}
}

func (m *Matcher) fire(ruleID string, aliases map[string]*model.Event, correlationID string, at time.Time) {
	if m.onFire == nil {
		return
	}
	m.onFire(ruleID, model.TemporalFire{RuleID: ruleID, Aliases: aliases, CorrelationID: correlationID, FiredAt: at})
}

func (m *Matcher) onAbsenceEvent(ruleID string, pattern *model.TemporalPattern, ev *model.Event) {
	if pattern.After == nil || pattern.Expected == nil {
		return
	}
	timerName := fmt.Sprintf("temporal:absence:%s:%s", ruleID, ev.CorrelationID)

	if m.matches(*pattern.Expected, ev) {
		m.timers.CancelTimer(timerName)
		return
	}

	if m.matches(*pattern.After, ev) {
		aliasEvent := ev
		_, _ = m.timers.SetTimer(model.TimerConfig{
			Name:     timerName,
			Duration: &model.Duration{Duration: pattern.AbsenceWithin.Duration},
			OnExpire: &model.EventSpec{Topic: "__temporal_absence__", Data: map[string]interface{}{
				"ruleId": ruleID,
			}},
		}, ev.CorrelationID)
		m.mu.Lock()
		m.sequences["absence|"+timerName] = &sequenceState{aliases: map[string]*model.Event{}}
		if pattern.After.As != "" {
			m.sequences["absence|"+timerName].aliases[pattern.After.As] = aliasEvent
		}
		m.mu.Unlock()
	}
}

// OnAbsenceTimerExpired must be called by the engine when a
// "temporal:absence:*" timer fires without an intervening Expected match;
// it completes the absence pattern.
func (m *Matcher) OnAbsenceTimerExpired(ruleID string, timerName string, correlationID string, at time.Time) {
	m.mu.Lock()
	st, ok := m.sequences["absence|"+timerName]
	if ok {
		delete(m.sequences, "absence|"+timerName)
	}
	m.mu.Unlock()

	aliases := map[string]*model.Event{}
	if ok {
		aliases = st.aliases
	}
	m.fire(ruleID, aliases, correlationID, at)
}

func (m *Matcher) checkCount(ruleID string, pattern *model.TemporalPattern, ev *model.Event) {
	if pattern.CountMatcher == nil || !m.matches(*pattern.CountMatcher, ev) {
		return
	}
	now := ev.Timestamp
	from := now.Add(-pattern.Window.Duration)
	candidates := m.events.GetInTimeRange(pattern.CountMatcher.Topic, from, now)

	count := 0
	for _, c := range candidates {
		if m.matches(*pattern.CountMatcher, c) {
			count++
		}
	}

	if compare(float64(count), pattern.Threshold, pattern.Comparison) {
		m.fire(ruleID, map[string]*model.Event{}, ev.CorrelationID, now)
	}
}

func (m *Matcher) checkAggregate(ruleID string, pattern *model.TemporalPattern, ev *model.Event) {
	if pattern.AggregateMatcher == nil || !m.matches(*pattern.AggregateMatcher, ev) {
		return
	}
	now := ev.Timestamp
	from := now.Add(-pattern.Window.Duration)
	candidates := m.events.GetInTimeRange(pattern.AggregateMatcher.Topic, from, now)

	var values []float64
	for _, c := range candidates {
		if !m.matches(*pattern.AggregateMatcher, c) {
			continue
		}
		v, ok := extractField(c, pattern.Field)
		if ok {
			values = append(values, v)
		}
	}

	result, ok := aggregate(pattern.Function, values)
	if !ok {
		return
	}
	if compare(result, pattern.Threshold, pattern.Comparison) {
		m.fire(ruleID, map[string]*model.Event{}, ev.CorrelationID, now)
	}
}

// extractField pulls a numeric field out of an event's data map using a
// jq-style path (e.g. ".amount", ".items[0].price"), supporting nested and
// array access beyond a flat key.
func extractField(ev *model.Event, field string) (float64, bool) {
	query := field
	if len(query) == 0 || query[0] != '.' {
		query = "." + query
	}
	q, err := gojq.Parse(query)
	if err != nil {
		return 0, false
	}
	iter := q.Run(map[string]interface{}(ev.Data))
	v, ok := iter.Next()
	if !ok {
		return 0, false
	}
	if err, isErr := v.(error); isErr {
		_ = err
		return 0, false
	}
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	default:
		return 0, false
	}
}

func aggregate(fn model.AggregateFunction, values []float64) (float64, bool) {
	if fn == model.AggCount {
		return float64(len(values)), true
	}
	if len(values) == 0 {
		return 0, false
	}
	switch fn {
	case model.AggSum:
		var sum float64
		for _, v := range values {
			sum += v
		}
		return sum, true
	case model.AggAvg:
		var sum float64
		for _, v := range values {
			sum += v
		}
		return sum / float64(len(values)), true
	case model.AggMin:
		min := values[0]
		for _, v := range values {
			if v < min {
				min = v
			}
		}
		return min, true
	case model.AggMax:
		max := values[0]
		for _, v := range values {
			if v > max {
				max = v
			}
		}
		return max, true
	default:
		return 0, false
	}
}

func compare(value, threshold float64, cmp model.Comparison) bool {
	switch cmp {
	case model.CompareGte:
		return value >= threshold
	case model.CompareLte:
		return value <= threshold
	case model.CompareEq:
		return value == threshold
	default:
		return false
	}
}
