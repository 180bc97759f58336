package event

import (
	"testing"
	"time"

	"github.com/hamicek/noex-rules-sub007/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mkEvent(id, topic, corr string, ts time.Time) *model.Event {
	return &model.Event{ID: id, Topic: topic, Timestamp: ts, CorrelationID: corr, Data: map[string]interface{}{}}
}

func TestStore_StoreAndGet(t *testing.T) {
	s := New(10)
	ev := mkEvent("1", "order.created", "c1", time.Now())
	s.Store(ev)

	got, ok := s.Get("1")
	require.True(t, ok)
	assert.Equal(t, "order.created", got.Topic)
}

func TestStore_EvictsOldest(t *testing.T) {
	s := New(2)
	now := time.Now()
	s.Store(mkEvent("1", "t", "", now))
	s.Store(mkEvent("2", "t", "", now.Add(time.Second)))
	s.Store(mkEvent("3", "t", "", now.Add(2*time.Second)))

	assert.Equal(t, 2, s.Len())
	_, ok := s.Get("1")
	assert.False(t, ok)
	_, ok = s.Get("3")
	assert.True(t, ok)
}

func TestStore_GetByCorrelation(t *testing.T) {
	s := New(10)
	now := time.Now()
	s.Store(mkEvent("1", "a", "c1", now))
	s.Store(mkEvent("2", "b", "c1", now))
	s.Store(mkEvent("3", "a", "c2", now))

	evs := s.GetByCorrelation("c1")
	assert.Len(t, evs, 2)
}

func TestStore_CountInWindow(t *testing.T) {
	s := New(10)
	now := time.Now()
	s.Store(mkEvent("1", "t", "", now.Add(-30*time.Second)))
	s.Store(mkEvent("2", "t", "", now.Add(-5*time.Second)))

	count := s.CountInWindow("t", 10*time.Second, now)
	assert.Equal(t, 1, count)
}

func TestStore_Prune(t *testing.T) {
	s := New(10)
	now := time.Now()
	s.Store(mkEvent("1", "t", "", now.Add(-time.Hour)))
	s.Store(mkEvent("2", "t", "", now))

	s.Prune(now.Add(-time.Minute))
	assert.Equal(t, 1, s.Len())
	_, ok := s.Get("1")
	assert.False(t, ok)
}
