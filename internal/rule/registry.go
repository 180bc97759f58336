// Package rule implements the Rule Registry (C8): an indexed store of
// rules by trigger topic/pattern, maintaining priority ordering. Grounded
// on the teacher's rule_engine.go compiledRules map/rulesMutex pair for the
// concurrency shape, adapted to the structured, multi-index layout §4.7
// requires; byEventPattern/byFactPattern/byTimerName/temporal indexes are
// new since the teacher only ever indexed by a single id.
package rule

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/exp/slices"

	"github.com/hamicek/noex-rules-sub007/internal/apperr"
	"github.com/hamicek/noex-rules-sub007/internal/fact"
	"github.com/hamicek/noex-rules-sub007/internal/model"
)

// Filter narrows List results.
type Filter struct {
	Group        string
	Tag          string
	EnabledOnly  bool
	DisabledOnly bool
}

// Validator checks a rule's structural validity before registration.
type Validator interface {
	Validate(r *model.Rule) error
}

// Registry is the concurrency-safe Rule Registry.
type Registry struct {
	mu    sync.RWMutex
	rules map[string]*model.Rule

	byEventTopic   map[string][]string
	byEventPattern map[string][]string
	byFactPattern  map[string][]string
	byTimerName    map[string][]string
	temporal       []string // rule ids with a temporal trigger

	disabledGroups map[string]bool
	validator      Validator
}

// New constructs an empty Registry. validator may be nil, in which case
// RegisterOptions.SkipValidation is implicitly true for every call.
func New(validator Validator) *Registry {
	return &Registry{
		rules:          make(map[string]*model.Rule),
		byEventTopic:   make(map[string][]string),
		byEventPattern: make(map[string][]string),
		byFactPattern:  make(map[string][]string),
		byTimerName:    make(map[string][]string),
		disabledGroups: make(map[string]bool),
		validator:      validator,
	}
}

// RegisterOptions tunes a single Register call.
type RegisterOptions struct {
	SkipValidation bool
}

// Register creates or replaces (by ID) a rule, assigning createdAt/
// updatedAt/version and re-indexing it atomically with respect to the
// byTrigger indexes.
func (reg *Registry) Register(input *model.Rule, opts RegisterOptions) (*model.Rule, error) {
	if input == nil {
		return nil, apperr.NewValidationError("rule", "rule must not be nil")
	}
	r := input.Clone()
	if r.ID == "" {
		r.ID = uuid.NewString()
	}

	if !opts.SkipValidation && reg.validator != nil {
		if err := reg.validator.Validate(r); err != nil {
			return nil, err
		}
	}

	now := time.Now()

	reg.mu.Lock()
	defer reg.mu.Unlock()

	if existing, ok := reg.rules[r.ID]; ok {
		r.CreatedAt = existing.CreatedAt
		r.Version = existing.Version + 1
		reg.removeFromIndexesLocked(existing)
	} else {
		r.CreatedAt = now
		r.Version = 1
	}
	r.UpdatedAt = now

	reg.rules[r.ID] = r
	reg.addToIndexesLocked(r)

	return r.Clone(), nil
}

// Unregister removes a rule by id.
func (reg *Registry) Unregister(id string) bool {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	r, ok := reg.rules[id]
	if !ok {
		return false
	}
	reg.removeFromIndexesLocked(r)
	delete(reg.rules, id)
	return true
}

// Enable flips a rule's enabled flag on.
func (reg *Registry) Enable(id string) error {
	return reg.setEnabled(id, true)
}

// Disable flips a rule's enabled flag off.
func (reg *Registry) Disable(id string) error {
	return reg.setEnabled(id, false)
}

func (reg *Registry) setEnabled(id string, enabled bool) error {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	r, ok := reg.rules[id]
	if !ok {
		return apperr.NewNotFoundError("rule", id)
	}
	r.Enabled = enabled
	r.UpdatedAt = time.Now()
	r.Version++
	return nil
}

// Get returns a snapshot of the rule with the given id.
func (reg *Registry) Get(id string) (*model.Rule, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	r, ok := reg.rules[id]
	if !ok {
		return nil, false
	}
	return r.Clone(), true
}

// List returns rule snapshots matching filter, in priority-descending,
// insertion-stable order.
func (reg *Registry) List(filter Filter) []*model.Rule {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	var out []*model.Rule
	for _, r := range reg.allLocked() {
		if filter.Group != "" && r.Group != filter.Group {
			continue
		}
		if filter.Tag != "" && !slices.Contains(r.Tags, filter.Tag) {
			continue
		}
		if filter.EnabledOnly && !r.Enabled {
			continue
		}
		if filter.DisabledOnly && r.Enabled {
			continue
		}
		out = append(out, r.Clone())
	}
	return out
}

// allLocked returns all rules ordered by priority desc, insertion stable.
// Caller must hold reg.mu.
func (reg *Registry) allLocked() []*model.Rule {
	out := make([]*model.Rule, 0, len(reg.rules))
	for _, r := range reg.rules {
		out = append(out, r)
	}
	sortByPriority(out)
	return out
}

// ByEventTopic returns enabled rules (in non-disabled groups) triggered by
// topic, literal matches first (insertion order), then pattern matches,
// both priority-descending within their bucket — the deterministic policy
// recommended for the ambiguous precedence open question (see DESIGN.md).
func (reg *Registry) ByEventTopic(topic string) []*model.Rule {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	var out []*model.Rule
	for _, id := range reg.byEventTopic[topic] {
		if r := reg.liveLocked(id); r != nil {
			out = append(out, r)
		}
	}
	sortByPriority(out)

	var patternMatches []*model.Rule
	for pattern, ids := range reg.byEventPattern {
		if !matchTopicPattern(pattern, topic) {
			continue
		}
		for _, id := range ids {
			if r := reg.liveLocked(id); r != nil {
				patternMatches = append(patternMatches, r)
			}
		}
	}
	sortByPriority(patternMatches)

	return append(out, patternMatches...)
}

// ByFactPattern returns enabled rules whose fact trigger pattern matches
// key.
func (reg *Registry) ByFactPattern(key string) []*model.Rule {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	var out []*model.Rule
	for pattern, ids := range reg.byFactPattern {
		if !fact.MatchPattern(pattern, key) {
			continue
		}
		for _, id := range ids {
			if r := reg.liveLocked(id); r != nil {
				out = append(out, r)
			}
		}
	}
	sortByPriority(out)
	return out
}

// ByTimerName returns enabled rules triggered by the named timer.
func (reg *Registry) ByTimerName(name string) []*model.Rule {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	var out []*model.Rule
	for _, id := range reg.byTimerName[name] {
		if r := reg.liveLocked(id); r != nil {
			out = append(out, r)
		}
	}
	sortByPriority(out)
	return out
}

// TemporalRules returns all enabled rules with a temporal trigger.
func (reg *Registry) TemporalRules() []*model.Rule {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	var out []*model.Rule
	for _, id := range reg.temporal {
		if r := reg.liveLocked(id); r != nil {
			out = append(out, r)
		}
	}
	sortByPriority(out)
	return out
}

// SetGroupEnabled enables or disables an entire rule group.
func (reg *Registry) SetGroupEnabled(group string, enabled bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if enabled {
		delete(reg.disabledGroups, group)
	} else {
		reg.disabledGroups[group] = true
	}
}

// Len returns the total number of registered rules (enabled or not); the
// active_rules gauge is fed by EnabledLen instead.
func (reg *Registry) Len() int {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return len(reg.rules)
}

// EnabledLen returns the number of enabled rules in enabled groups.
func (reg *Registry) EnabledLen() int {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	n := 0
	for _, r := range reg.rules {
		if r.Enabled && !reg.disabledGroups[r.Group] {
			n++
		}
	}
	return n
}

func (reg *Registry) liveLocked(id string) *model.Rule {
	r, ok := reg.rules[id]
	if !ok || !r.Enabled || reg.disabledGroups[r.Group] {
		return nil
	}
	return r.Clone()
}

func (reg *Registry) addToIndexesLocked(r *model.Rule) {
	switch r.Trigger.Kind {
	case model.TriggerEvent:
		if isPattern(r.Trigger.Topic) {
			reg.byEventPattern[r.Trigger.Topic] = append(reg.byEventPattern[r.Trigger.Topic], r.ID)
		} else {
			reg.byEventTopic[r.Trigger.Topic] = append(reg.byEventTopic[r.Trigger.Topic], r.ID)
		}
	case model.TriggerFact:
		reg.byFactPattern[r.Trigger.Pattern] = append(reg.byFactPattern[r.Trigger.Pattern], r.ID)
	case model.TriggerTimer:
		reg.byTimerName[r.Trigger.TimerName] = append(reg.byTimerName[r.Trigger.TimerName], r.ID)
	case model.TriggerTemporal:
		reg.temporal = append(reg.temporal, r.ID)
	}
}

func (reg *Registry) removeFromIndexesLocked(r *model.Rule) {
	switch r.Trigger.Kind {
	case model.TriggerEvent:
		if isPattern(r.Trigger.Topic) {
			reg.byEventPattern[r.Trigger.Topic] = removeID(reg.byEventPattern[r.Trigger.Topic], r.ID)
		} else {
			reg.byEventTopic[r.Trigger.Topic] = removeID(reg.byEventTopic[r.Trigger.Topic], r.ID)
		}
	case model.TriggerFact:
		reg.byFactPattern[r.Trigger.Pattern] = removeID(reg.byFactPattern[r.Trigger.Pattern], r.ID)
	case model.TriggerTimer:
		reg.byTimerName[r.Trigger.TimerName] = removeID(reg.byTimerName[r.Trigger.TimerName], r.ID)
	case model.TriggerTemporal:
		reg.temporal = removeID(reg.temporal, r.ID)
	}
}

func removeID(ids []string, target string) []string {
	for i, id := range ids {
		if id == target {
			return append(ids[:i:i], ids[i+1:]...)
		}
	}
	return ids
}

func isPattern(topic string) bool {
	return strings.Contains(topic, "*")
}

func matchTopicPattern(pattern, topic string) bool {
	if pattern == "*" {
		return true
	}
	pSegs := strings.Split(pattern, ".")
	tSegs := strings.Split(topic, ".")
	if len(pSegs) != len(tSegs) {
		return false
	}
	for i, seg := range pSegs {
		if seg == "*" {
			continue
		}
		if seg != tSegs[i] {
			return false
		}
	}
	return true
}

// sortByPriority sorts rules by priority descending; ties are ordered by
// CreatedAt (first registration), so the result does not depend on map
// iteration order. Rules with equal CreatedAt keep their input order.
func sortByPriority(rules []*model.Rule) {
	sort.SliceStable(rules, func(i, j int) bool {
		if rules[i].Priority != rules[j].Priority {
			return rules[i].Priority > rules[j].Priority
		}
		return rules[i].CreatedAt.Before(rules[j].CreatedAt)
	})
}
