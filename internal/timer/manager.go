// Package timer implements the Timer Manager (C3): named one-shot,
// repeating, and cron timers with deterministic expiry delivery. Grounded
// on the scheduler's cron.New(cron.WithSeconds(), cron.WithLocation(time.UTC))
// setup and its "remove the existing cron entry before scheduling a new
// one" naming invariant.
package timer

import (
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/hamicek/noex-rules-sub007/internal/apperr"
	"github.com/hamicek/noex-rules-sub007/internal/model"
)

// ExpireHandler is invoked when a timer fires; it should enqueue the
// configured onExpire event into the engine's processing queue, not run it
// inline.
type ExpireHandler func(t *model.Timer)

type entry struct {
	timer     *model.Timer
	stdTimer  *time.Timer // for duration-kind timers
	cronID    cron.EntryID
	isCron    bool
	cancelled bool
}

// Manager owns all active timers. One Manager instance should back one
// engine instance; Stop() cancels every pending wake.
type Manager struct {
	logger  *slog.Logger
	cron    *cron.Cron
	onFire  ExpireHandler

	mu      sync.Mutex
	timers  map[string]*entry
	stopped bool

	maxActive int
}

// New constructs a Manager. onFire is called exactly once per delivery,
// from the manager's own goroutine; it must not block.
func New(logger *slog.Logger, onFire ExpireHandler, maxActive int) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		logger:    logger,
		cron:      cron.New(cron.WithLocation(time.UTC)),
		onFire:    onFire,
		timers:    make(map[string]*entry),
		maxActive: maxActive,
	}
}

// Start begins running armed cron entries.
func (m *Manager) Start() {
	m.cron.Start()
}

// SetTimer arms cfg, replacing (atomically cancelling) any existing timer
// with the same name. At most one pending delivery per name is possible.
func (m *Manager) SetTimer(cfg model.TimerConfig, correlationID string) (*model.Timer, error) {
	if cfg.Name == "" {
		return nil, apperr.NewTimerError(cfg.Name, apperr.NewValidationError("name", "timer name must not be empty"))
	}
	if cfg.OnExpire == nil {
		return nil, apperr.NewTimerError(cfg.Name, apperr.NewValidationError("onExpire", "onExpire is required"))
	}
	if cfg.Cron == "" && cfg.Duration == nil {
		return nil, apperr.NewTimerError(cfg.Name, apperr.NewValidationError("duration", "either duration or cron is required"))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return nil, apperr.NewTimerError(cfg.Name, apperr.NewServiceUnavailableError("timer manager", nil))
	}

	if existing, ok := m.timers[cfg.Name]; ok {
		m.cancelLocked(existing)
	}

	t := &model.Timer{
		Name:          cfg.Name,
		CreatedAt:     time.Now(),
		Duration:      cfg.Duration,
		Cron:          cfg.Cron,
		Repeat:        cfg.Repeat,
		MaxCount:      cfg.MaxCount,
		OnExpire:      cfg.OnExpire,
		CorrelationID: correlationID,
	}

	e := &entry{timer: t}

	if cfg.Cron != "" {
		schedule, err := cron.ParseStandard(cfg.Cron)
		if err != nil {
			return nil, apperr.NewTimerError(cfg.Name, err)
		}
		t.FireAt = schedule.Next(time.Now())
		e.isCron = true
		id, err := m.cron.AddFunc(cfg.Cron, func() { m.fireCron(cfg.Name) })
		if err != nil {
			return nil, apperr.NewTimerError(cfg.Name, err)
		}
		e.cronID = id
	} else {
		t.FireAt = time.Now().Add(cfg.Duration.Duration)
		e.stdTimer = time.AfterFunc(cfg.Duration.Duration, func() { m.fireDuration(cfg.Name) })
	}

	m.timers[cfg.Name] = e
	return t, nil
}

// CancelTimer cancels the named timer, returning false if it did not exist.
// A cancel racing a fire either prevents delivery entirely or allows
// exactly one delivery — never both — because both paths take the same
// lock before acting.
func (m *Manager) CancelTimer(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.timers[name]
	if !ok {
		return false
	}
	m.cancelLocked(e)
	delete(m.timers, name)
	return true
}

func (m *Manager) cancelLocked(e *entry) {
	e.cancelled = true
	if e.isCron {
		m.cron.Remove(e.cronID)
	} else if e.stdTimer != nil {
		e.stdTimer.Stop()
	}
}

// GetTimer returns the named timer's current snapshot.
func (m *Manager) GetTimer(name string) (*model.Timer, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.timers[name]
	if !ok {
		return nil, false
	}
	cp := *e.timer
	return &cp, true
}

// GetAll returns every currently armed timer.
func (m *Manager) GetAll() []*model.Timer {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*model.Timer, 0, len(m.timers))
	for _, e := range m.timers {
		cp := *e.timer
		out = append(out, &cp)
	}
	return out
}

// Len reports the number of currently armed timers, feeding active_timers.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.timers)
}

func (m *Manager) fireDuration(name string) {
	m.mu.Lock()
	e, ok := m.timers[name]
	if !ok || e.cancelled {
		m.mu.Unlock()
		return
	}
	e.timer.Count++
	fired := *e.timer

	shouldReschedule := e.timer.Repeat && (e.timer.MaxCount == 0 || e.timer.Count < e.timer.MaxCount)
	if shouldReschedule {
		e.timer.FireAt = time.Now().Add(e.timer.Duration.Duration)
		e.stdTimer = time.AfterFunc(e.timer.Duration.Duration, func() { m.fireDuration(name) })
	} else {
		delete(m.timers, name)
	}
	m.mu.Unlock()

	m.deliver(&fired)
}

func (m *Manager) fireCron(name string) {
	m.mu.Lock()
	e, ok := m.timers[name]
	if !ok || e.cancelled {
		m.mu.Unlock()
		return
	}
	e.timer.Count++
	if schedule, err := cron.ParseStandard(e.timer.Cron); err == nil {
		e.timer.FireAt = schedule.Next(time.Now())
	}
	fired := *e.timer
	m.mu.Unlock()

	m.deliver(&fired)
}

func (m *Manager) deliver(t *model.Timer) {
	if m.onFire == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("timer expire handler panicked", "timer", t.Name, "recover", r)
		}
	}()
	m.onFire(t)
}

// Stop cancels every pending wake. No further deliveries occur after Stop
// returns.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return
	}
	m.stopped = true
	for _, e := range m.timers {
		m.cancelLocked(e)
	}
	m.timers = make(map[string]*entry)
	ctx := m.cron.Stop()
	<-ctx.Done()
}
