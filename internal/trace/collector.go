// Package trace implements the Trace Collector (C4): a fixed-size ring
// buffer of TraceEntry values fanned out to subscribers synchronously,
// feeding C11 metrics, the audit sink, and the debug/SSE layers.
package trace

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/hamicek/noex-rules-sub007/internal/model"
)

// Subscriber receives every recorded entry, in insertion order,
// synchronously before Record returns.
type Subscriber func(entry model.TraceEntry)

// Query filters a Collector's buffer.
type Query struct {
	CorrelationID string
	RuleID        string
	Types         []model.TraceEntryType
	Limit         int
}

// Collector is the concurrency-safe ring buffer plus subscriber fan-out.
type Collector struct {
	logger *slog.Logger

	mu         sync.RWMutex
	maxEntries int
	entries    []model.TraceEntry
	next       int
	full       bool
	enabled    bool

	subMu   sync.RWMutex
	subs    map[uint64]Subscriber
	nextSub uint64
}

// New constructs a Collector with the given ring capacity (default 10000)
// in the enabled state.
func New(logger *slog.Logger, maxEntries int) *Collector {
	if maxEntries <= 0 {
		maxEntries = 10000
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Collector{
		logger:     logger,
		maxEntries: maxEntries,
		entries:    make([]model.TraceEntry, 0, maxEntries),
		enabled:    true,
		subs:       make(map[uint64]Subscriber),
	}
}

// Record appends entry to the ring buffer (overwriting the oldest when
// full) and notifies subscribers synchronously. A no-op when disabled.
func (c *Collector) Record(entry model.TraceEntry) {
	c.mu.RLock()
	enabled := c.enabled
	c.mu.RUnlock()
	if !enabled {
		return
	}

	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}

	c.mu.Lock()
	if len(c.entries) < c.maxEntries {
		c.entries = append(c.entries, entry)
	} else {
		c.entries[c.next] = entry
		c.next = (c.next + 1) % c.maxEntries
		c.full = true
	}
	c.mu.Unlock()

	c.subMu.RLock()
	subs := make([]Subscriber, 0, len(c.subs))
	for _, s := range c.subs {
		subs = append(subs, s)
	}
	c.subMu.RUnlock()

	for _, s := range subs {
		c.notifyOne(s, entry)
	}
}

func (c *Collector) notifyOne(s Subscriber, entry model.TraceEntry) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("trace subscriber panicked", "recover", r)
		}
	}()
	s(entry)
}

// Query returns entries matching q in insertion order, most recent last,
// capped at q.Limit if positive.
func (c *Collector) Query(q Query) []model.TraceEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ordered := c.orderedLocked()
	out := make([]model.TraceEntry, 0, len(ordered))
	for _, e := range ordered {
		if q.CorrelationID != "" && e.CorrelationID != q.CorrelationID {
			continue
		}
		if q.RuleID != "" && e.RuleID != q.RuleID {
			continue
		}
		if len(q.Types) > 0 && !containsType(q.Types, e.Type) {
			continue
		}
		out = append(out, e)
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[len(out)-q.Limit:]
	}
	return out
}

func (c *Collector) orderedLocked() []model.TraceEntry {
	if !c.full {
		return c.entries
	}
	out := make([]model.TraceEntry, 0, len(c.entries))
	out = append(out, c.entries[c.next:]...)
	out = append(out, c.entries[:c.next]...)
	return out
}

func containsType(types []model.TraceEntryType, t model.TraceEntryType) bool {
	for _, want := range types {
		if want == t {
			return true
		}
	}
	return false
}

// Subscribe registers cb for every future Record call. The returned func
// unsubscribes.
func (c *Collector) Subscribe(cb Subscriber) func() {
	c.subMu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = cb
	c.subMu.Unlock()
	return func() {
		c.subMu.Lock()
		delete(c.subs, id)
		c.subMu.Unlock()
	}
}

// Enable turns trace recording on.
func (c *Collector) Enable() {
	c.mu.Lock()
	c.enabled = true
	c.mu.Unlock()
}

// Disable turns trace recording off; Record becomes a no-op.
func (c *Collector) Disable() {
	c.mu.Lock()
	c.enabled = false
	c.mu.Unlock()
}

// IsEnabled reports the current enabled state.
func (c *Collector) IsEnabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.enabled
}

// Len returns the number of entries currently retained.
func (c *Collector) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Utilization returns the fraction of the ring buffer currently occupied,
// feeding the trace_buffer_utilization gauge.
func (c *Collector) Utilization() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.maxEntries == 0 {
		return 0
	}
	return float64(len(c.entries)) / float64(c.maxEntries)
}
