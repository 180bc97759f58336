// Package action implements the Action Executor (C6): executes an ordered
// action list with ${path} interpolation and a per-kind error policy.
// Grounded on the teacher's ActionHandler interface
// (Execute(ctx, *EvaluationResult) error / GetType() string) and its
// switch-on-kind dispatch in createActionHandler.
package action

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hamicek/noex-rules-sub007/internal/apperr"
	"github.com/hamicek/noex-rules-sub007/internal/evalctx"
	"github.com/hamicek/noex-rules-sub007/internal/model"
)

// FactWriter is the subset of the Fact Store the executor needs.
type FactWriter interface {
	Set(key string, value interface{}, source string) (*model.Fact, error)
	Delete(key string) bool
}

// Emitter enqueues a processing job for a synthesized event; re-entrance
// via emit_event must enqueue, never run inline (§4.5/§4.8).
type Emitter interface {
	Emit(topic string, data map[string]interface{}, correlationID, causationID string) (*model.Event, error)
}

// TimerSetter is the subset of the Timer Manager the executor needs.
type TimerSetter interface {
	SetTimer(cfg model.TimerConfig, correlationID string) (*model.Timer, error)
	CancelTimer(name string) bool
}

// ConditionEvaluator evaluates conditional actions against the same
// context the rest of the rule saw. The engine package adapts
// *condition.Evaluator to this interface, keeping action free of a direct
// dependency on condition's richer Result type.
type ConditionEvaluator interface {
	Evaluate(c model.Condition, ctx *evalctx.Context) (passed bool, err error)
}

// Service is a named, method-dispatched collaborator reachable from
// call_service actions (notification channels, escalation policies,
// arbitrary registered integrations).
type Service interface {
	Call(ctx context.Context, method string, args map[string]interface{}) error
}

// Executor runs ordered action lists against a shared set of
// collaborators.
type Executor struct {
	logger    *slog.Logger
	facts     FactWriter
	emitter   Emitter
	timers    TimerSetter
	evaluator ConditionEvaluator
	services  map[string]Service
}

// New constructs an Executor. services may be extended after construction
// via RegisterService.
func New(logger *slog.Logger, facts FactWriter, emitter Emitter, timers TimerSetter, evaluator ConditionEvaluator) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		logger:    logger,
		facts:     facts,
		emitter:   emitter,
		timers:    timers,
		evaluator: evaluator,
		services:  make(map[string]Service),
	}
}

// RegisterService makes a named service reachable from call_service.
func (e *Executor) RegisterService(name string, svc Service) {
	e.services[name] = svc
}

// ActionOutcome is recorded by the caller (C9) as an action_completed or
// action_failed trace entry.
type ActionOutcome struct {
	Kind  model.ActionKind
	Err   error
}

// Run executes actions in order, stopping at the first unhandled error
// (try_catch handles its own sub-failures; a conditional returns the error
// of a failing branch action). The caller is
// responsible for turning a non-nil returned error into rule_failed plus
// action_failed trace entries.
func (e *Executor) Run(ctx context.Context, ruleID string, actions []model.Action, ectx *evalctx.Context) ([]ActionOutcome, error) {
	var outcomes []ActionOutcome
	for _, act := range actions {
		err := e.execute(ctx, ruleID, act, ectx)
		outcomes = append(outcomes, ActionOutcome{Kind: act.Kind, Err: err})
		if err != nil {
			return outcomes, err
		}
	}
	return outcomes, nil
}

func (e *Executor) execute(ctx context.Context, ruleID string, act model.Action, ectx *evalctx.Context) error {
	switch act.Kind {
	case model.ActionSetFact:
		key := evalctx.Interpolate(act.Key, ectx)
		val, _ := ectx.Resolve(act.Value)
		val = evalctx.InterpolateValue(val, ectx)
		if _, err := e.facts.Set(key, val, "rule:"+ruleID); err != nil {
			return apperr.NewActionError(ruleID, string(act.Kind), err)
		}
		return nil

	case model.ActionDeleteFact:
		key := evalctx.Interpolate(act.Key, ectx)
		e.facts.Delete(key)
		return nil

	case model.ActionEmitEvent:
		if act.Event == nil {
			return apperr.NewActionError(ruleID, string(act.Kind), fmt.Errorf("emit_event requires an event spec"))
		}
		topic := evalctx.Interpolate(act.Event.Topic, ectx)
		data, _ := evalctx.InterpolateValue(act.Event.Data, ectx).(map[string]interface{})
		causationID := ""
		if ectx.Event != nil {
			causationID = ectx.Event.ID
		}
		if _, err := e.emitter.Emit(topic, data, ectx.CorrelationID, causationID); err != nil {
			return apperr.NewActionError(ruleID, string(act.Kind), err)
		}
		return nil

	case model.ActionSetTimer:
		if act.Timer == nil {
			return apperr.NewActionError(ruleID, string(act.Kind), fmt.Errorf("set_timer requires a timer config"))
		}
		cfg := *act.Timer
		cfg.Name = evalctx.Interpolate(cfg.Name, ectx)
		if _, err := e.timers.SetTimer(cfg, ectx.CorrelationID); err != nil {
			return apperr.NewActionError(ruleID, string(act.Kind), err)
		}
		return nil

	case model.ActionCancelTimer:
		name := evalctx.Interpolate(act.TimerName, ectx)
		e.timers.CancelTimer(name)
		return nil

	case model.ActionCallService:
		svc, ok := e.services[act.Service]
		if !ok {
			return apperr.NewActionError(ruleID, string(act.Kind), fmt.Errorf("service %q not registered", act.Service))
		}
		args, _ := evalctx.InterpolateValue(toInterfaceMap(act.Args), ectx).(map[string]interface{})
		if err := svc.Call(ctx, act.Method, args); err != nil {
			return apperr.NewActionError(ruleID, string(act.Kind), err)
		}
		return nil

	case model.ActionLog:
		msg := evalctx.Interpolate(act.Message, ectx)
		e.logger.Log(ctx, logLevel(act.Level), msg, "ruleId", ruleID, "correlationId", ectx.CorrelationID)
		return nil

	case model.ActionConditional:
		passed := true
		for _, c := range act.Conditions {
			ok, err := e.evaluator.Evaluate(c, ectx)
			if err != nil || !ok {
				passed = false
				break
			}
		}
		branch := act.Else
		if passed {
			branch = act.Then
		}
		for _, sub := range branch {
			if err := e.execute(ctx, ruleID, sub, ectx); err != nil {
				return err
			}
		}
		return nil

	case model.ActionTryCatch:
		return e.runTryCatch(ctx, ruleID, act, ectx)

	default:
		return apperr.NewActionError(ruleID, string(act.Kind), fmt.Errorf("unknown action kind %q", act.Kind))
	}
}

func (e *Executor) runTryCatch(ctx context.Context, ruleID string, act model.Action, ectx *evalctx.Context) error {
	var tryErr error
	for _, sub := range act.Try {
		if err := e.execute(ctx, ruleID, sub, ectx); err != nil {
			tryErr = err
			break
		}
	}

	var finalErr error
	if tryErr != nil && act.Catch != nil {
		catchCtx := ectx
		if act.Catch.As != "" {
			catchCtx = ectx.WithExtra(act.Catch.As, tryErr.Error())
		}
		for _, sub := range act.Catch.Actions {
			if err := e.execute(ctx, ruleID, sub, catchCtx); err != nil {
				finalErr = err
				break
			}
		}
	} else if tryErr != nil {
		finalErr = tryErr
	}

	for _, sub := range act.Finally {
		if err := e.execute(ctx, ruleID, sub, ectx); err != nil && finalErr == nil {
			finalErr = err
		}
	}

	return finalErr
}

func logLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func toInterfaceMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return map[string]interface{}{}
	}
	return m
}
