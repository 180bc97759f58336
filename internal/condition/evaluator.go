// Package condition implements the Condition Evaluator (C5): a pure
// evaluator for condition trees against an evaluation context. Grounded on
// the teacher's rule_engine.go CompiledRule.Conditions []*vm.Program +
// vm.Run(condition, env) shape — here a small, fixed set of expr.Programs
// (one per operator) are compiled once at package init and reused for
// every condition, instead of compiling one program per free-form
// expression string.
package condition

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/antonmedv/expr"
	"github.com/antonmedv/expr/vm"

	"github.com/hamicek/noex-rules-sub007/internal/evalctx"
	"github.com/hamicek/noex-rules-sub007/internal/model"
)

// operatorPrograms holds one compiled expr.Program per operator that can
// be expressed as a plain comparison; operators with bespoke semantics
// (exists/not_exists/matches/in/not_in) are evaluated directly in Go.
var operatorPrograms = map[model.Operator]string{
	model.OpEq:  "source == value",
	model.OpNeq: "source != value",
	model.OpGt:  "source > value",
	model.OpGte: "source >= value",
	model.OpLt:  "source < value",
	model.OpLte: "source <= value",
}

var compiledPrograms = map[model.Operator]*vm.Program{}

func init() {
	for op, src := range operatorPrograms {
		p, err := expr.Compile(src, expr.Env(map[string]interface{}{}), expr.AllowUndefinedVariables())
		if err != nil {
			panic(fmt.Sprintf("condition: failed to compile operator %q: %v", op, err))
		}
		compiledPrograms[op] = p
	}
}

// Result is the outcome of evaluating one condition, including enough
// detail for the condition_evaluated trace entry.
type Result struct {
	Passed bool
	Error  error // condition_error / baseline_unavailable cause, if any
}

// BaselineProvider supplies baseline metric values for baseline-sourced
// conditions; if none is registered, baseline conditions evaluate false
// with a baseline_unavailable error.
type BaselineProvider interface {
	Baseline(metric string) (value float64, ok bool)
}

// Evaluator evaluates Condition values against a Context.
type Evaluator struct {
	baseline BaselineProvider
}

// New constructs an Evaluator. baseline may be nil.
func New(baseline BaselineProvider) *Evaluator {
	return &Evaluator{baseline: baseline}
}

// Evaluate resolves c.Source and c.Value against ctx and applies c.Operator.
func (e *Evaluator) Evaluate(c model.Condition, ctx *evalctx.Context) Result {
	if c.Source.Kind == model.SourceBaseline && e.baseline == nil {
		return Result{Passed: false, Error: fmt.Errorf("baseline_unavailable: no baseline provider for metric %q", c.Source.Metric)}
	}
	sourceVal, sourcePresent := e.resolveSource(c.Source, ctx)

	switch c.Operator {
	case model.OpExists:
		return Result{Passed: sourcePresent}
	case model.OpNotExists:
		return Result{Passed: !sourcePresent}
	}

	valueVal, _ := ctx.Resolve(c.Value)

	switch c.Operator {
	case model.OpIn, model.OpNotIn:
		in := containsValue(valueVal, sourceVal)
		if c.Operator == model.OpNotIn {
			in = !in
		}
		return Result{Passed: in}
	case model.OpContains, model.OpNotContain:
		contains := stringOrSliceContains(sourceVal, valueVal)
		if c.Operator == model.OpNotContain {
			contains = !contains
		}
		return Result{Passed: contains}
	case model.OpMatches:
		s, ok := sourceVal.(string)
		if !ok {
			return Result{Passed: false}
		}
		pattern, _ := valueVal.(string)
		re, err := regexp.Compile(pattern)
		if err != nil {
			return Result{Passed: false, Error: fmt.Errorf("condition_error: invalid regex %q: %w", pattern, err)}
		}
		return Result{Passed: re.MatchString(s)}
	}

	program, ok := compiledPrograms[c.Operator]
	if !ok {
		return Result{Passed: false, Error: fmt.Errorf("condition_error: unknown operator %q", c.Operator)}
	}

	// eq/neq against two absent/nil values: spec requires "eq null true if
	// both null" — handle explicitly since expr would otherwise compare
	// <nil> against <nil> fine, but a missing source is reported as nil too.
	if !sourcePresent {
		sourceVal = nil
	}

	numSource, numOK1 := toFloat(sourceVal)
	numValue, numOK2 := toFloat(valueVal)
	isNumericOp := c.Operator == model.OpGt || c.Operator == model.OpGte || c.Operator == model.OpLt || c.Operator == model.OpLte
	if isNumericOp {
		if !numOK1 || !numOK2 {
			return Result{Passed: false}
		}
		sourceVal, valueVal = numSource, numValue
	}

	out, err := expr.Run(program, map[string]interface{}{"source": sourceVal, "value": valueVal})
	if err != nil {
		// Type mismatches from the VM (e.g. comparing incompatible kinds)
		// are a false result, not an error, per the operator contract.
		return Result{Passed: false}
	}
	passed, _ := out.(bool)
	return Result{Passed: passed}
}

func (e *Evaluator) resolveSource(src model.Source, ctx *evalctx.Context) (interface{}, bool) {
	switch src.Kind {
	case model.SourceEvent:
		return ctx.Lookup("event.data." + src.Field)
	case model.SourceFact:
		if ctx.FactLookup == nil {
			return nil, false
		}
		return ctx.FactLookup(src.Pattern)
	case model.SourceContext:
		return ctx.Lookup("context." + src.Key)
	case model.SourceBaseline:
		if e.baseline == nil {
			return nil, false
		}
		v, ok := e.baseline.Baseline(src.Metric)
		return v, ok
	default:
		return nil, false
	}
}

// stringOrSliceContains implements the "contains"/"not_contains" operator:
// substring containment for strings, element containment for sequences.
func stringOrSliceContains(source, value interface{}) bool {
	if s, ok := source.(string); ok {
		if v, ok := value.(string); ok {
			return strings.Contains(s, v)
		}
	}
	return containsValue(source, value)
}

func containsValue(seq interface{}, target interface{}) bool {
	rv := reflect.ValueOf(seq)
	if !rv.IsValid() {
		return false
	}
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		for i := 0; i < rv.Len(); i++ {
			if valuesEqual(rv.Index(i).Interface(), target) {
				return true
			}
		}
	}
	return false
}

func valuesEqual(a, b interface{}) bool {
	if fa, ok1 := toFloat(a); ok1 {
		if fb, ok2 := toFloat(b); ok2 {
			return fa == fb
		}
	}
	return reflect.DeepEqual(a, b)
}

func toFloat(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	default:
		return 0, false
	}
}
