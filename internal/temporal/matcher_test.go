package temporal

import (
	"testing"
	"time"

	"github.com/hamicek/noex-rules-sub007/internal/evalctx"
	"github.com/hamicek/noex-rules-sub007/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type noopChecker struct{}

func (noopChecker) Evaluate(c model.Condition, ctx *evalctx.Context) (bool, error) { return true, nil }

type fakeTimerArmer struct {
	armed map[string]model.TimerConfig
}

func newFakeTimerArmer() *fakeTimerArmer { return &fakeTimerArmer{armed: map[string]model.TimerConfig{}} }

func (f *fakeTimerArmer) SetTimer(cfg model.TimerConfig, correlationID string) (*model.Timer, error) {
	f.armed[cfg.Name] = cfg
	return &model.Timer{Name: cfg.Name}, nil
}

func (f *fakeTimerArmer) CancelTimer(name string) bool {
	_, ok := f.armed[name]
	delete(f.armed, name)
	return ok
}

type fakeEventStore struct {
	events []*model.Event
}

func (f *fakeEventStore) GetInTimeRange(topic string, from, to time.Time) []*model.Event {
	var out []*model.Event
	for _, e := range f.events {
		if (topic == "" || e.Topic == topic) && !e.Timestamp.Before(from) && !e.Timestamp.After(to) {
			out = append(out, e)
		}
	}
	return out
}

func TestMatcher_SequenceFires(t *testing.T) {
	var fired bool
	m := New(&fakeEventStore{}, noopChecker{}, newFakeTimerArmer(), func(ruleID string, fire model.TemporalFire) {
		fired = true
	})

	pattern := &model.TemporalPattern{
		Kind: model.TemporalSequence,
		Sequence: []model.EventMatcher{
			{Topic: "a", As: "first"},
			{Topic: "b", As: "second"},
		},
		Within: model.Duration{Duration: time.Minute},
	}

	now := time.Now()
	m.OnEvent("r1", pattern, &model.Event{Topic: "a", Timestamp: now, Data: map[string]interface{}{}})
	assert.False(t, fired)
	m.OnEvent("r1", pattern, &model.Event{Topic: "b", Timestamp: now.Add(time.Second), Data: map[string]interface{}{}})
	assert.True(t, fired)
}

func TestMatcher_AbsenceArmsTimerAndCancelsOnExpected(t *testing.T) {
	timers := newFakeTimerArmer()
	m := New(&fakeEventStore{}, noopChecker{}, timers, func(ruleID string, fire model.TemporalFire) {})

	pattern := &model.TemporalPattern{
		Kind:          model.TemporalAbsence,
		After:         &model.EventMatcher{Topic: "payment.started"},
		Expected:      &model.EventMatcher{Topic: "payment.completed"},
		AbsenceWithin: model.Duration{Duration: time.Second},
	}

	now := time.Now()
	m.OnEvent("r1", pattern, &model.Event{Topic: "payment.started", CorrelationID: "c1", Timestamp: now, Data: map[string]interface{}{}})
	require.Len(t, timers.armed, 1)

	m.OnEvent("r1", pattern, &model.Event{Topic: "payment.completed", CorrelationID: "c1", Timestamp: now.Add(time.Millisecond), Data: map[string]interface{}{}})
	assert.Len(t, timers.armed, 0)
}

// The absence pattern's boundary instant (t == after+within) is resolved by
// delivery order against the real timer, never by comparing the Expected
// event's own Timestamp field to after+within: an Expected event stamped
// exactly at the boundary still cancels the deadline as long as it is
// delivered before the timer fires.
func TestMatcher_AbsenceBoundary_ExpectedAtExactWithinStillCancels(t *testing.T) {
	timers := newFakeTimerArmer()
	m := New(&fakeEventStore{}, noopChecker{}, timers, func(ruleID string, fire model.TemporalFire) {
		t.Fatal("pattern must not fire: Expected arrived before the deadline timer did")
	})

	pattern := &model.TemporalPattern{
		Kind:          model.TemporalAbsence,
		After:         &model.EventMatcher{Topic: "payment.started"},
		Expected:      &model.EventMatcher{Topic: "payment.completed"},
		AbsenceWithin: model.Duration{Duration: time.Second},
	}

	start := time.Now()
	m.OnEvent("r1", pattern, &model.Event{Topic: "payment.started", CorrelationID: "c1", Timestamp: start, Data: map[string]interface{}{}})
	require.Len(t, timers.armed, 1)

	boundary := start.Add(time.Second)
	m.OnEvent("r1", pattern, &model.Event{Topic: "payment.completed", CorrelationID: "c1", Timestamp: boundary, Data: map[string]interface{}{}})
	assert.Len(t, timers.armed, 0)
}

// If the deadline timer has already expired, a subsequently-arriving
// Expected event (whatever its own Timestamp) cannot retroactively cancel
// the fire: OnAbsenceTimerExpired has already completed the pattern and the
// in-progress state is gone.
func TestMatcher_AbsenceBoundary_FireWinsWhenTimerAlreadyExpired(t *testing.T) {
	timers := newFakeTimerArmer()
	var fired int
	m := New(&fakeEventStore{}, noopChecker{}, timers, func(ruleID string, fire model.TemporalFire) {
		fired++
	})

	pattern := &model.TemporalPattern{
		Kind:          model.TemporalAbsence,
		After:         &model.EventMatcher{Topic: "payment.started"},
		Expected:      &model.EventMatcher{Topic: "payment.completed"},
		AbsenceWithin: model.Duration{Duration: time.Second},
	}

	start := time.Now()
	m.OnEvent("r1", pattern, &model.Event{Topic: "payment.started", CorrelationID: "c1", Timestamp: start, Data: map[string]interface{}{}})
	require.Len(t, timers.armed, 1)

	timerName := "temporal:absence:r1:c1"
	m.OnAbsenceTimerExpired("r1", timerName, "c1", start.Add(time.Second))
	assert.Equal(t, 1, fired)

	m.OnEvent("r1", pattern, &model.Event{Topic: "payment.completed", CorrelationID: "c1", Timestamp: start.Add(time.Second), Data: map[string]interface{}{}})
	assert.Equal(t, 1, fired, "a late Expected arrival after the deadline already fired must not fire again or panic")
}

func TestMatcher_CountFires(t *testing.T) {
	now := time.Now()
	store := &fakeEventStore{events: []*model.Event{
		{Topic: "login.failed", Timestamp: now.Add(-2 * time.Second), Data: map[string]interface{}{}},
		{Topic: "login.failed", Timestamp: now.Add(-1 * time.Second), Data: map[string]interface{}{}},
	}}
	var fired bool
	m := New(store, noopChecker{}, newFakeTimerArmer(), func(ruleID string, fire model.TemporalFire) { fired = true })

	pattern := &model.TemporalPattern{
		Kind:         model.TemporalCount,
		CountMatcher: &model.EventMatcher{Topic: "login.failed"},
		Window:       model.Duration{Duration: 10 * time.Second},
		Threshold:    2,
		Comparison:   model.CompareGte,
	}
	store.events = append(store.events, &model.Event{Topic: "login.failed", Timestamp: now, Data: map[string]interface{}{}})
	m.OnEvent("r1", pattern, store.events[len(store.events)-1])
	assert.True(t, fired)
}

func TestMatcher_AggregateFires(t *testing.T) {
	now := time.Now()
	store := &fakeEventStore{}
	var fired bool
	m := New(store, noopChecker{}, newFakeTimerArmer(), func(ruleID string, fire model.TemporalFire) { fired = true })

	pattern := &model.TemporalPattern{
		Kind:             model.TemporalAggregate,
		AggregateMatcher: &model.EventMatcher{Topic: "order.created"},
		Window:           model.Duration{Duration: time.Minute},
		Function:         model.AggSum,
		Field:            "amount",
		Threshold:        250,
		Comparison:       model.CompareGte,
	}

	store.events = []*model.Event{
		{Topic: "order.created", Timestamp: now.Add(-time.Second), Data: map[string]interface{}{"amount": 100.0}},
		{Topic: "order.created", Timestamp: now, Data: map[string]interface{}{"amount": 200.0}},
	}
	m.OnEvent("r1", pattern, store.events[1])
	assert.True(t, fired)
}
