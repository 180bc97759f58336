package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hamicek/noex-rules-sub007/internal/evalctx"
	"github.com/hamicek/noex-rules-sub007/internal/model"
)

// process dispatches one queued job to its kind-specific handler. Called
// from a worker goroutine; a panic raised while handling the job is
// recovered and logged here, so it never takes the worker down.
func (e *Engine) process(j job) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("engine job panicked", "correlationId", j.correlationID, "recover", r)
		}
	}()
	switch j.kind {
	case jobEvent:
		e.processEvent(j)
	case jobFactChange:
		e.processFactChange(j)
	case jobTimer:
		e.processTimer(j)
	case jobTemporalFire:
		e.processTemporalFire(j)
	}
}

func (e *Engine) processEvent(j job) {
	ev := j.event
	e.Trace.Record(model.TraceEntry{
		Timestamp:     time.Now(),
		Type:          model.TraceEventEmitted,
		CorrelationID: j.correlationID,
		Details:       map[string]interface{}{"eventId": ev.ID, "topic": ev.Topic},
	})

	for _, r := range e.Registry.TemporalRules() {
		if r.Trigger.Temporal != nil {
			e.Temporal.OnEvent(r.ID, r.Trigger.Temporal, ev)
		}
	}

	for _, r := range e.Registry.ByEventTopic(ev.Topic) {
		e.fireRule(r, ev, nil, nil, j.correlationID, j.chainDepth)
	}
}

func (e *Engine) processFactChange(j job) {
	e.Trace.Record(model.TraceEntry{
		Timestamp:     time.Now(),
		Type:          model.TraceFactChanged,
		CorrelationID: j.correlationID,
		Details:       map[string]interface{}{"key": j.factChange.Key, "deleted": j.factChange.Deleted},
	})

	fc := j.factChange
	for _, r := range e.Registry.ByFactPattern(fc.Key) {
		e.fireRule(r, nil, &fc, nil, j.correlationID, j.chainDepth)
	}
}

// processTimer handles a fired Timer. A "temporal:absence:<ruleId>:<correlationId>"
// timer name is C7's deadline check, not a user-facing timer trigger, and is
// routed to the Temporal Matcher instead of the Rule Registry. Every other
// timer fires both its registered timer-trigger rules and its configured
// onExpire event.
func (e *Engine) processTimer(j job) {
	t := j.timerFired
	if strings.HasPrefix(t.Name, "temporal:absence:") {
		parts := strings.SplitN(t.Name, ":", 4)
		if len(parts) == 4 {
			e.Temporal.OnAbsenceTimerExpired(parts[2], t.Name, parts[3], time.Now())
		}
		return
	}

	for _, r := range e.Registry.ByTimerName(t.Name) {
		e.fireRule(r, nil, nil, t, j.correlationID, j.chainDepth)
	}

	if t.OnExpire != nil {
		_, _ = e.Emit(t.OnExpire.Topic, t.OnExpire.Data, j.correlationID, "")
	}
}

func (e *Engine) processTemporalFire(j job) {
	r, ok := e.Registry.Get(j.temporalRule)
	if !ok || !r.Enabled {
		return
	}
	ectx := evalctx.New(nil, e.factLookup, j.correlationID)
	ectx.Aliases = j.temporalFire.Aliases
	e.evaluateAndRun(r, ectx, j.correlationID, j.chainDepth, "temporal:"+r.ID)
}

func (e *Engine) factLookup(key string) (interface{}, bool) {
	return e.Facts.Get(key)
}

// fireRule builds the evaluation context for an event-, fact-, or
// timer-triggered rule and hands off to evaluateAndRun, deduplicating on
// (ruleId, a key identifying the triggering occurrence) per correlation. A
// timer's dedup key carries its Count so a repeating or cron timer's Nth
// firing dedups independently of its (N-1)th, even though repeat/cron
// firings share one correlationID for their whole life.
func (e *Engine) fireRule(r *model.Rule, ev *model.Event, fc *model.FactChange, t *model.Timer, correlationID string, chainDepth int) {
	var dedupKey string
	switch {
	case ev != nil:
		dedupKey = "event:" + ev.ID
	case fc != nil:
		dedupKey = "fact:" + fc.Key
	case t != nil:
		dedupKey = fmt.Sprintf("timer:%s:%d", t.Name, t.Count)
	default:
		dedupKey = "timer"
	}

	if e.alreadyVisited(correlationID, r.ID, dedupKey) {
		return
	}
	e.markVisited(correlationID, r.ID, dedupKey)

	ectx := evalctx.New(ev, e.factLookup, correlationID)
	e.evaluateAndRun(r, ectx, correlationID, chainDepth, dedupKey)
}

// evaluateAndRun records rule_triggered, evaluates every condition in
// order (short-circuiting on the first failure or error, per §9's
// preserved top-to-bottom evaluation order), and on a full pass runs the
// rule's actions, recording condition_evaluated/rule_skipped/rule_executed/
// rule_failed/action_completed/action_failed as it goes.
func (e *Engine) evaluateAndRun(r *model.Rule, ectx *evalctx.Context, correlationID string, chainDepth int, reason string) {
	if chainDepth > e.cfg.MaxChainDepth {
		e.Trace.Record(model.TraceEntry{
			Timestamp: time.Now(), Type: model.TraceChainDepthExceeded, RuleID: r.ID, RuleName: r.Name,
			CorrelationID: correlationID, Details: map[string]interface{}{"chainDepth": chainDepth},
		})
		return
	}

	start := time.Now()
	e.Trace.Record(model.TraceEntry{Timestamp: start, Type: model.TraceRuleTriggered, RuleID: r.ID, RuleName: r.Name, CorrelationID: correlationID})

	passed := true
	for _, c := range r.Conditions {
		cStart := time.Now()
		res := e.Condition.Evaluate(c, ectx)
		durMs := float64(time.Since(cStart).Microseconds()) / 1000
		e.Trace.Record(model.TraceEntry{
			Timestamp: time.Now(), Type: model.TraceConditionEvaluated, RuleID: r.ID, RuleName: r.Name,
			CorrelationID: correlationID, DurationMs: &durMs,
			Details: map[string]interface{}{"passed": res.Passed, "error": errString(res.Error)},
		})
		if res.Error != nil || !res.Passed {
			passed = false
			break
		}
	}

	if !passed {
		e.Trace.Record(model.TraceEntry{Timestamp: time.Now(), Type: model.TraceRuleSkipped, RuleID: r.ID, RuleName: r.Name, CorrelationID: correlationID})
		return
	}

	outcomes, runErr := e.Actions.Run(context.Background(), r.ID, r.Actions, ectx)
	for _, o := range outcomes {
		entryType := model.TraceActionCompleted
		var details map[string]interface{}
		if o.Err != nil {
			entryType = model.TraceActionFailed
			details = map[string]interface{}{"kind": string(o.Kind), "error": o.Err.Error()}
		} else {
			details = map[string]interface{}{"kind": string(o.Kind)}
		}
		e.Trace.Record(model.TraceEntry{Timestamp: time.Now(), Type: entryType, RuleID: r.ID, RuleName: r.Name, CorrelationID: correlationID, Details: details})
	}

	durMs := float64(time.Since(start).Microseconds()) / 1000
	if runErr != nil {
		e.Trace.Record(model.TraceEntry{Timestamp: time.Now(), Type: model.TraceRuleFailed, RuleID: r.ID, RuleName: r.Name, CorrelationID: correlationID, DurationMs: &durMs, Details: map[string]interface{}{"error": runErr.Error()}})
		return
	}
	e.Trace.Record(model.TraceEntry{Timestamp: time.Now(), Type: model.TraceRuleExecuted, RuleID: r.ID, RuleName: r.Name, CorrelationID: correlationID, DurationMs: &durMs})
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func (e *Engine) alreadyVisited(correlationID, ruleID, key string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	bucket, ok := e.visited[correlationID]
	if !ok {
		return false
	}
	_, seen := bucket[ruleID+"|"+key]
	return seen
}

func (e *Engine) markVisited(correlationID, ruleID, key string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	bucket, ok := e.visited[correlationID]
	if !ok {
		bucket = make(map[string]time.Time)
		e.visited[correlationID] = bucket
	}
	bucket[ruleID+"|"+key] = time.Now()
}

// pruneVisited drops dedup entries older than the configured window,
// bounding the visited-set's memory to active correlations.
func (e *Engine) pruneVisited(now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for correlationID, bucket := range e.visited {
		for key, seenAt := range bucket {
			if now.Sub(seenAt) > e.cfg.DedupWindow {
				delete(bucket, key)
			}
		}
		if len(bucket) == 0 {
			delete(e.visited, correlationID)
		}
	}
}
