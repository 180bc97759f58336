// Package reload implements the Hot-Reload Watcher (C10): a periodic poll
// that diffs a rule source against the Rule Registry's current contents
// and applies added/removed/modified rules. Grounded on the teacher's
// scheduler.go monitoringRoutine ticker shape (ticker-driven goroutine,
// shutdown channel, WaitGroup-bounded Stop).
package reload

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hamicek/noex-rules-sub007/internal/model"
	"github.com/hamicek/noex-rules-sub007/internal/rule"
	"github.com/hamicek/noex-rules-sub007/internal/trace"
)

// Source loads the full set of rules that should be registered. Typical
// implementations read a directory of JSON/YAML rule files (internal/ruleio)
// or a database table.
type Source interface {
	Load() ([]*model.Rule, error)
}

// Drainer lets the watcher wait for in-flight processing to settle before
// swapping rules out from under it.
type Drainer interface {
	WaitForProcessingQueue()
}

// Watcher polls a Source on a fixed interval and reconciles the Rule
// Registry to match it.
type Watcher struct {
	logger              *slog.Logger
	source              Source
	registry            *rule.Registry
	tracer              *trace.Collector
	drainer             Drainer
	interval            time.Duration
	validateBeforeApply bool
	validator           rule.Validator

	mu     sync.Mutex
	hashes map[string]string // ruleID -> content hash, as of the last successful apply

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New constructs a Watcher. validator may be nil, in which case
// validateBeforeApply has no effect.
func New(logger *slog.Logger, source Source, registry *rule.Registry, tracer *trace.Collector, drainer Drainer, interval time.Duration, validateBeforeApply bool, validator rule.Validator) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Watcher{
		logger:              logger,
		source:              source,
		registry:            registry,
		tracer:              tracer,
		drainer:             drainer,
		interval:            interval,
		validateBeforeApply: validateBeforeApply,
		validator:           validator,
		hashes:              make(map[string]string),
		stopCh:              make(chan struct{}),
	}
}

// Start begins polling in a background goroutine until ctx is cancelled or
// Stop is called.
func (w *Watcher) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.loop(ctx)
}

// Stop halts polling and waits for any in-flight poll to finish.
func (w *Watcher) Stop() {
	close(w.stopCh)
	w.wg.Wait()
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.wg.Done()
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.poll()
		}
	}
}

// Poll runs one reconciliation pass immediately; exported so callers can
// trigger an out-of-band reload.
func (w *Watcher) Poll() {
	w.poll()
}

func (w *Watcher) poll() {
	rules, err := w.source.Load()
	if err != nil {
		w.record(model.TraceHotReloadFailed, map[string]interface{}{"error": err.Error()})
		return
	}

	newHashes := make(map[string]string, len(rules))
	byID := make(map[string]*model.Rule, len(rules))
	for _, r := range rules {
		newHashes[r.ID] = hashRule(r)
		byID[r.ID] = r
	}

	w.mu.Lock()
	added, removed, modified := diff(w.hashes, newHashes)
	w.mu.Unlock()

	if len(added) == 0 && len(removed) == 0 && len(modified) == 0 {
		return
	}

	w.record(model.TraceHotReloadStarted, map[string]interface{}{
		"added": len(added), "removed": len(removed), "modified": len(modified),
	})

	if w.drainer != nil {
		w.drainer.WaitForProcessingQueue()
	}

	var failed int
	for _, id := range removed {
		w.registry.Unregister(id)
	}
	for _, id := range append(append([]string{}, added...), modified...) {
		r := byID[id]
		if w.validateBeforeApply && w.validator != nil {
			if err := w.validator.Validate(r); err != nil {
				failed++
				w.record(model.TraceHotReloadFailed, map[string]interface{}{"ruleId": id, "error": err.Error()})
				continue
			}
		}
		if _, err := w.registry.Register(r, rule.RegisterOptions{}); err != nil {
			failed++
			w.record(model.TraceHotReloadFailed, map[string]interface{}{"ruleId": id, "error": err.Error()})
			continue
		}
		w.mu.Lock()
		w.hashes[id] = newHashes[id]
		w.mu.Unlock()
	}
	for _, id := range removed {
		w.mu.Lock()
		delete(w.hashes, id)
		w.mu.Unlock()
	}

	w.record(model.TraceHotReloadCompleted, map[string]interface{}{
		"added": len(added), "removed": len(removed), "modified": len(modified), "failed": failed,
	})
}

func (w *Watcher) record(t model.TraceEntryType, details map[string]interface{}) {
	if w.tracer == nil {
		return
	}
	w.tracer.Record(model.TraceEntry{Timestamp: time.Now(), Type: t, Details: details})
}

// diff partitions new against old by rule id: present only in new is
// added, present in both with a different hash is modified, present only
// in old is removed.
func diff(old, new map[string]string) (added, removed, modified []string) {
	for id, h := range new {
		oldH, ok := old[id]
		if !ok {
			added = append(added, id)
		} else if oldH != h {
			modified = append(modified, id)
		}
	}
	for id := range old {
		if _, ok := new[id]; !ok {
			removed = append(removed, id)
		}
	}
	return
}

// hashRule hashes the fields that define a rule's behavior, excluding
// bookkeeping (CreatedAt/UpdatedAt/Version) so registry-assigned metadata
// never produces a spurious "modified" diff against a freshly reloaded
// definition. model.Value's fields are tagged json:"-" (it has its own
// wire encoding in internal/ruleio), so this hashes a %#v dump rather than
// JSON, which reaches every exported field regardless of tag.
func hashRule(r *model.Rule) string {
	type normalized struct {
		ID          string
		Name        string
		Description string
		Priority    int
		Enabled     bool
		Tags        []string
		Group       string
		Trigger     model.Trigger
		Conditions  []model.Condition
		Actions     []model.Action
	}
	n := normalized{
		ID: r.ID, Name: r.Name, Description: r.Description, Priority: r.Priority,
		Enabled: r.Enabled, Tags: r.Tags, Group: r.Group, Trigger: r.Trigger,
		Conditions: r.Conditions, Actions: r.Actions,
	}
	sum := sha256.Sum256([]byte(fmt.Sprintf("%#v", n)))
	return hex.EncodeToString(sum[:])
}
