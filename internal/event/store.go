// Package event implements the Event Store (C2): a bounded ring of recent
// events with secondary indexes by topic and correlation id, supporting
// the time-range and count-in-window queries the Temporal Matcher needs.
// Grounded on the teacher's ring-buffer-less but mutex-guarded in-memory
// state pattern (slice + sync.RWMutex), extended here with index maps.
package event

import (
	"sync"
	"time"

	"github.com/hamicek/noex-rules-sub007/internal/model"
)

// Store is a fixed-capacity ring buffer of events plus topic/correlation
// indexes. Eviction removes the oldest event from every index atomically.
type Store struct {
	mu       sync.RWMutex
	capacity int
	events   []*model.Event // ring buffer backing store, insertion order
	byID     map[string]*model.Event
	byTopic  map[string][]string // topic -> ordered event IDs
	byCorr   map[string][]string // correlationId -> ordered event IDs
}

// New constructs a Store with the given ring capacity. capacity <= 0
// defaults to 10000.
func New(capacity int) *Store {
	if capacity <= 0 {
		capacity = 10000
	}
	return &Store{
		capacity: capacity,
		byID:     make(map[string]*model.Event),
		byTopic:  make(map[string][]string),
		byCorr:   make(map[string][]string),
	}
}

// Store appends event, evicting the oldest if at capacity.
func (s *Store) Store(ev *model.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events = append(s.events, ev)
	s.byID[ev.ID] = ev
	s.byTopic[ev.Topic] = append(s.byTopic[ev.Topic], ev.ID)
	if ev.CorrelationID != "" {
		s.byCorr[ev.CorrelationID] = append(s.byCorr[ev.CorrelationID], ev.ID)
	}

	if len(s.events) > s.capacity {
		s.evictOldestLocked()
	}
}

func (s *Store) evictOldestLocked() {
	oldest := s.events[0]
	s.events = s.events[1:]
	delete(s.byID, oldest.ID)
	s.byTopic[oldest.Topic] = removeFirst(s.byTopic[oldest.Topic], oldest.ID)
	if len(s.byTopic[oldest.Topic]) == 0 {
		delete(s.byTopic, oldest.Topic)
	}
	if oldest.CorrelationID != "" {
		s.byCorr[oldest.CorrelationID] = removeFirst(s.byCorr[oldest.CorrelationID], oldest.ID)
		if len(s.byCorr[oldest.CorrelationID]) == 0 {
			delete(s.byCorr, oldest.CorrelationID)
		}
	}
}

func removeFirst(ids []string, target string) []string {
	for i, id := range ids {
		if id == target {
			return append(ids[:i:i], ids[i+1:]...)
		}
	}
	return ids
}

// Get returns the event with the given id, if still retained.
func (s *Store) Get(id string) (*model.Event, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ev, ok := s.byID[id]
	return ev, ok
}

// GetByCorrelation returns all retained events sharing correlationId, in
// store order.
func (s *Store) GetByCorrelation(correlationID string) []*model.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.byCorr[correlationID]
	out := make([]*model.Event, 0, len(ids))
	for _, id := range ids {
		if ev, ok := s.byID[id]; ok {
			out = append(out, ev)
		}
	}
	return out
}

// GetInTimeRange returns events on topic with Timestamp in [from, to], in
// store order. An empty topic matches every topic.
func (s *Store) GetInTimeRange(topic string, from, to time.Time) []*model.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []string
	if topic == "" {
		ids = make([]string, 0, len(s.events))
		for _, ev := range s.events {
			ids = append(ids, ev.ID)
		}
	} else {
		ids = s.byTopic[topic]
	}

	out := make([]*model.Event, 0, len(ids))
	for _, id := range ids {
		ev, ok := s.byID[id]
		if !ok {
			continue
		}
		if (ev.Timestamp.Equal(from) || ev.Timestamp.After(from)) &&
			(ev.Timestamp.Equal(to) || ev.Timestamp.Before(to)) {
			out = append(out, ev)
		}
	}
	return out
}

// CountInWindow counts events on topic with Timestamp in
// [now-windowMs, now], lower bound inclusive.
func (s *Store) CountInWindow(topic string, window time.Duration, now time.Time) int {
	from := now.Add(-window)
	return len(s.GetInTimeRange(topic, from, now))
}

// Prune removes every event older than olderThan.
func (s *Store) Prune(olderThan time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.events[:0:0]
	for _, ev := range s.events {
		if ev.Timestamp.Before(olderThan) {
			delete(s.byID, ev.ID)
			s.byTopic[ev.Topic] = removeFirst(s.byTopic[ev.Topic], ev.ID)
			if len(s.byTopic[ev.Topic]) == 0 {
				delete(s.byTopic, ev.Topic)
			}
			if ev.CorrelationID != "" {
				s.byCorr[ev.CorrelationID] = removeFirst(s.byCorr[ev.CorrelationID], ev.ID)
				if len(s.byCorr[ev.CorrelationID]) == 0 {
					delete(s.byCorr, ev.CorrelationID)
				}
			}
			continue
		}
		kept = append(kept, ev)
	}
	s.events = kept
}

// Len returns the number of currently retained events.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}
