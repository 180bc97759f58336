// Package engine implements the Engine Core (C9): the ingress dispatcher,
// processing queue, forward-chaining policy, correlation propagation, and
// orchestration of C1-C8. Grounded on the teacher's RuleEngine/
// EvaluationPool pair in rule_engine.go and actions.go: a bounded worker
// pool draining a task queue, reused here as the processing queue backing
// bounded concurrency and FIFO draining per correlation.
package engine

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hamicek/noex-rules-sub007/internal/action"
	"github.com/hamicek/noex-rules-sub007/internal/apperr"
	"github.com/hamicek/noex-rules-sub007/internal/condition"
	"github.com/hamicek/noex-rules-sub007/internal/evalctx"
	"github.com/hamicek/noex-rules-sub007/internal/event"
	"github.com/hamicek/noex-rules-sub007/internal/fact"
	"github.com/hamicek/noex-rules-sub007/internal/model"
	"github.com/hamicek/noex-rules-sub007/internal/rule"
	"github.com/hamicek/noex-rules-sub007/internal/temporal"
	"github.com/hamicek/noex-rules-sub007/internal/timer"
	"github.com/hamicek/noex-rules-sub007/internal/trace"
)

// Config tunes the processing pipeline.
type Config struct {
	Workers           int
	QueueSize         int
	MaxChainDepth     int
	ProcessingTimeout time.Duration
	DedupWindow       time.Duration
}

// DefaultConfig mirrors spec.md's defaults: maxConcurrency 10, maxChainDepth 64.
func DefaultConfig() Config {
	return Config{
		Workers:           10,
		QueueSize:         1000,
		MaxChainDepth:     64,
		ProcessingTimeout: 5 * time.Second,
		DedupWindow:       time.Minute,
	}
}

type jobKind int

const (
	jobEvent jobKind = iota
	jobFactChange
	jobTimer
	jobTemporalFire
)

type job struct {
	kind          jobKind
	event         *model.Event
	factChange    model.FactChange
	timerFired    *model.Timer
	temporalFire  *model.TemporalFire
	temporalRule  string
	correlationID string
	causationID   string
	chainDepth    int
}

// Engine is the C9 orchestrator wiring C1-C8 together.
type Engine struct {
	logger *slog.Logger
	cfg    Config

	Facts     *fact.Store
	Events    *event.Store
	Timers    *timer.Manager
	Trace     *trace.Collector
	Registry  *rule.Registry
	Actions   *action.Executor
	Condition *condition.Evaluator
	Temporal  *temporal.Matcher

	// shards holds one queue per worker. A job is routed to
	// shards[hash(correlationID)%len(shards)] so every job sharing a
	// correlationID is drained by the same goroutine in enqueue order,
	// satisfying the per-correlation FIFO guarantee regardless of Workers.
	shards []chan job

	mu              sync.Mutex
	visited         map[string]map[string]time.Time // correlationID -> "ruleId|eventId" -> seen at
	eventChainDepth map[string]int                  // eventID -> chain depth, for emit_event re-entrance
	stopping        bool
	wg              sync.WaitGroup

	shutdownCh chan struct{}
	workersWg  sync.WaitGroup
}

// New wires a complete Engine from its constituent components. facts,
// tracer, and registry are constructed by the caller (cmd/server) so tests
// can substitute fakes; timers/condition/actions/temporal are built here
// from those plus cfg since their wiring is entirely internal to C9.
func New(logger *slog.Logger, cfg Config, facts *fact.Store, events *event.Store, tracer *trace.Collector, registry *rule.Registry, baseline condition.BaselineProvider) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultConfig().Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}
	if cfg.MaxChainDepth <= 0 {
		cfg.MaxChainDepth = DefaultConfig().MaxChainDepth
	}
	if cfg.DedupWindow <= 0 {
		cfg.DedupWindow = DefaultConfig().DedupWindow
	}

	shards := make([]chan job, cfg.Workers)
	for i := range shards {
		shards[i] = make(chan job, cfg.QueueSize)
	}

	e := &Engine{
		logger:          logger,
		cfg:             cfg,
		Facts:           facts,
		Events:          events,
		Trace:           tracer,
		Registry:        registry,
		shards:          shards,
		visited:         make(map[string]map[string]time.Time),
		eventChainDepth: make(map[string]int),
		shutdownCh:      make(chan struct{}),
	}

	e.Condition = condition.New(baseline)
	adapter := conditionAdapter{e.Condition}

	e.Timers = timer.New(logger, e.onTimerFire, 0)
	e.Temporal = temporal.New(events, adapter, e.Timers, e.onTemporalFire)
	e.Actions = action.New(logger, facts, e, e.Timers, adapter)

	return e
}

// conditionAdapter bridges condition.Evaluator's richer Result to the
// (bool, error) shape action.ConditionEvaluator and
// temporal.ConditionChecker both expect, avoiding an import cycle between
// condition and its consumers.
type conditionAdapter struct{ eval *condition.Evaluator }

func (a conditionAdapter) Evaluate(c model.Condition, ctx *evalctx.Context) (bool, error) {
	r := a.eval.Evaluate(c, ctx)
	return r.Passed, r.Error
}

// Start begins the worker pool, the timer manager, and the dedup-set
// cleanup sweep.
func (e *Engine) Start() {
	e.Timers.Start()
	for i := range e.shards {
		e.workersWg.Add(1)
		go e.worker(i)
	}
	go e.dedupCleanupLoop()
}

func (e *Engine) dedupCleanupLoop() {
	interval := e.cfg.DedupWindow / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case now := <-ticker.C:
			e.pruneVisited(now)
		case <-e.shutdownCh:
			return
		}
	}
}

// Emit synthesizes an Event, appends it to the Event Store, and enqueues a
// processing job. It implements action.Emitter so emit_event actions
// re-enter the engine the same way root ingress does.
func (e *Engine) Emit(topic string, data map[string]interface{}, correlationID, causationID string) (*model.Event, error) {
	if e.isStopping() {
		return nil, apperr.NewServiceUnavailableError("engine", fmt.Errorf("engine is stopping"))
	}
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	ev := &model.Event{
		ID:            uuid.NewString(),
		Topic:         topic,
		Data:          data,
		Timestamp:     time.Now(),
		Source:        "emit",
		CorrelationID: correlationID,
		CausationID:   causationID,
	}
	e.Events.Store(ev)

	chainDepth := 0
	if causationID != "" {
		chainDepth = e.chainDepthOf(causationID) + 1
	}
	e.setChainDepth(ev.ID, chainDepth)

	if chainDepth > e.cfg.MaxChainDepth {
		e.Trace.Record(model.TraceEntry{Timestamp: time.Now(), Type: model.TraceChainDepthExceeded, CorrelationID: correlationID, Details: map[string]interface{}{"eventId": ev.ID, "topic": topic, "chainDepth": chainDepth}})
		return ev, nil
	}

	e.enqueue(job{kind: jobEvent, event: ev, correlationID: correlationID, causationID: causationID, chainDepth: chainDepth})
	return ev, nil
}

// chainDepthOf and setChainDepth track the forward-chaining depth of
// events by id so a rule's emit_event action inherits depth+1 without
// threading it through every call site; once the map holds more than
// QueueSize*4 entries, setChainDepth resets it to the newest entry alone.
func (e *Engine) chainDepthOf(eventID string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.eventChainDepth[eventID]
}

func (e *Engine) setChainDepth(eventID string, depth int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.eventChainDepth[eventID] = depth
	if len(e.eventChainDepth) > e.cfg.QueueSize*4 {
		e.eventChainDepth = map[string]int{eventID: depth}
	}
}

// SetFact writes through the Fact Store from outside any rule firing
// (ingress), minting a fresh correlation id and enqueuing a fact-change job
// at chain depth 0.
func (e *Engine) SetFact(key string, value interface{}, source, correlationID string) (*model.Fact, error) {
	if e.isStopping() {
		return nil, apperr.NewServiceUnavailableError("engine", fmt.Errorf("engine is stopping"))
	}
	f, err := e.Facts.Set(key, value, source)
	if err != nil {
		return nil, err
	}
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	e.enqueue(job{kind: jobFactChange, factChange: model.FactChange{Key: key, Fact: f}, correlationID: correlationID})
	return f, nil
}

func (e *Engine) onTimerFire(t *model.Timer) {
	if e.isStopping() {
		return
	}
	correlationID := t.CorrelationID
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	e.Trace.Record(model.TraceEntry{Timestamp: time.Now(), Type: model.TraceTimerExpired, CorrelationID: correlationID, Details: map[string]interface{}{"name": t.Name}})
	e.enqueue(job{kind: jobTimer, timerFired: t, correlationID: correlationID})
}

func (e *Engine) onTemporalFire(ruleID string, fire model.TemporalFire) {
	if e.isStopping() {
		return
	}
	correlationID := fire.CorrelationID
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	f := fire
	e.enqueue(job{kind: jobTemporalFire, temporalFire: &f, temporalRule: ruleID, correlationID: correlationID})
}

func (e *Engine) enqueue(j job) {
	e.wg.Add(1)
	shard := e.shards[shardFor(j.correlationID, len(e.shards))]
	select {
	case shard <- j:
	case <-e.shutdownCh:
		e.wg.Done()
	}
}

// shardFor picks a deterministic shard index for a correlationID so that
// every job sharing the id is always routed to the same worker. Jobs
// without a correlationID (should not happen in practice; enqueue callers
// always mint one) fall back to shard 0.
func shardFor(correlationID string, shardCount int) int {
	if shardCount <= 1 || correlationID == "" {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(correlationID))
	return int(h.Sum32() % uint32(shardCount))
}

func (e *Engine) isStopping() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stopping
}

func (e *Engine) worker(shard int) {
	defer e.workersWg.Done()
	q := e.shards[shard]
	for {
		select {
		case j, ok := <-q:
			if !ok {
				return
			}
			e.process(j)
			e.wg.Done()
		case <-e.shutdownCh:
			return
		}
	}
}

// WaitForProcessingQueue blocks until the queue is empty and no worker is
// executing.
func (e *Engine) WaitForProcessingQueue() {
	e.wg.Wait()
}

// Stop halts new ingress, drains in-flight jobs (bounded by timeout),
// cancels all timers, and releases workers. Returns once quiescent or the
// timeout elapses.
func (e *Engine) Stop(ctx context.Context, timeout time.Duration) error {
	e.mu.Lock()
	if e.stopping {
		e.mu.Unlock()
		return nil
	}
	e.stopping = true
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		e.logger.Warn("engine stop: timed out draining processing queue")
	case <-ctx.Done():
	}

	close(e.shutdownCh)
	e.workersWg.Wait()
	e.Timers.Stop()
	return nil
}
