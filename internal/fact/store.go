// Package fact implements the Fact Store (C1): a keyed map of facts with
// metadata, pattern-based queries, and change subscriptions. Grounded on
// the mutex-guarded-map idiom used for compiled-rule caches elsewhere in
// this codebase (sync.RWMutex over a map, read-mostly access).
package fact

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/hamicek/noex-rules-sub007/internal/apperr"
	"github.com/hamicek/noex-rules-sub007/internal/model"
)

// ChangeHandler is notified after a fact write or delete is committed.
type ChangeHandler func(change model.FactChange)

type subscription struct {
	id      uint64
	pattern string
	cb      ChangeHandler
}

// Store is the concurrency-safe Fact Store.
type Store struct {
	logger *slog.Logger

	mu    sync.RWMutex
	facts map[string]*model.Fact

	subMu   sync.RWMutex
	subs    map[uint64]*subscription
	nextSub uint64
}

// New constructs an empty Store.
func New(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		logger: logger,
		facts:  make(map[string]*model.Fact),
		subs:   make(map[uint64]*subscription),
	}
}

// Get returns the current value for key, if any.
func (s *Store) Get(key string) (interface{}, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.facts[key]
	if !ok {
		return nil, false
	}
	return f.Value, true
}

// GetFull returns the fact with its metadata.
func (s *Store) GetFull(key string) (*model.Fact, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.facts[key]
	if !ok {
		return nil, false
	}
	cp := *f
	return &cp, true
}

// Set writes key=value, incrementing its version and stamping UpdatedAt.
// The change notification fires after the write is committed, unconditionally:
// writing the same value a fact already holds still bumps the version and
// still notifies subscribers. See DESIGN.md's open-question decisions for why.
func (s *Store) Set(key string, value interface{}, source string) (*model.Fact, error) {
	if key == "" {
		return nil, apperr.NewValidationError("key", "fact key must not be empty")
	}

	s.mu.Lock()
	prev := s.facts[key]
	var version int64
	if prev != nil {
		version = prev.Version + 1
	} else {
		version = 1
	}
	f := &model.Fact{
		Key:       key,
		Value:     value,
		UpdatedAt: time.Now(),
		Version:   version,
		Source:    source,
	}
	s.facts[key] = f
	s.mu.Unlock()

	var previous *model.Fact
	if prev != nil {
		cp := *prev
		previous = &cp
	}
	s.notify(model.FactChange{Key: key, Fact: f, Previous: previous})
	return f, nil
}

// Delete removes key. A subsequent GetFull returns (nil, false).
func (s *Store) Delete(key string) bool {
	s.mu.Lock()
	prev, existed := s.facts[key]
	if existed {
		delete(s.facts, key)
	}
	s.mu.Unlock()

	if !existed {
		return false
	}
	s.notify(model.FactChange{Key: key, Deleted: true, Previous: prev})
	return true
}

// Query returns every fact whose key matches pattern (":"/"." segments,
// "*" matches exactly one segment, "**" matches one or more).
func (s *Store) Query(pattern string) []*model.Fact {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.Fact
	for k, f := range s.facts {
		if MatchPattern(pattern, k) {
			cp := *f
			out = append(out, &cp)
		}
	}
	return out
}

// Subscribe registers cb for every committed change to a key matching
// pattern. The returned func unsubscribes.
func (s *Store) Subscribe(pattern string, cb ChangeHandler) func() {
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = &subscription{id: id, pattern: pattern, cb: cb}
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

func (s *Store) notify(change model.FactChange) {
	s.subMu.RLock()
	matched := make([]*subscription, 0, len(s.subs))
	for _, sub := range s.subs {
		if MatchPattern(sub.pattern, change.Key) {
			matched = append(matched, sub)
		}
	}
	s.subMu.RUnlock()

	for _, sub := range matched {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.logger.Error("fact subscriber panicked", "pattern", sub.pattern, "recover", r)
				}
			}()
			sub.cb(change)
		}()
	}
}

// Len returns the number of facts currently stored (used by C11's
// active_facts gauge).
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.facts)
}

// MatchPattern reports whether key matches pattern, splitting both on ":"
// and "." into segments. "*" matches exactly one segment; "**" matches one
// or more segments.
func MatchPattern(pattern, key string) bool {
	if pattern == "" {
		return key == ""
	}
	pSegs := splitSegments(pattern)
	kSegs := splitSegments(key)
	return matchSegments(pSegs, kSegs)
}

func splitSegments(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool { return r == ':' || r == '.' })
}

func matchSegments(pattern, key []string) bool {
	if len(pattern) == 0 {
		return len(key) == 0
	}
	head := pattern[0]
	switch head {
	case "**":
		if len(key) == 0 {
			return false
		}
		for i := 1; i <= len(key); i++ {
			if matchSegments(pattern[1:], key[i:]) {
				return true
			}
		}
		return false
	case "*":
		if len(key) == 0 {
			return false
		}
		return matchSegments(pattern[1:], key[1:])
	default:
		if len(key) == 0 || key[0] != head {
			return false
		}
		return matchSegments(pattern[1:], key[1:])
	}
}
