package condition

import (
	"testing"

	"github.com/hamicek/noex-rules-sub007/internal/evalctx"
	"github.com/hamicek/noex-rules-sub007/internal/model"
	"github.com/stretchr/testify/assert"
)

func ctxWithEvent(data map[string]interface{}) *evalctx.Context {
	return evalctx.New(&model.Event{ID: "e1", Topic: "order.created", Data: data}, nil, "c1")
}

func TestEvaluate_Gte(t *testing.T) {
	e := New(nil)
	c := model.Condition{
		Source:   model.Source{Kind: model.SourceEvent, Field: "total"},
		Operator: model.OpGte,
		Value:    model.Value{Literal: 100.0},
	}
	res := e.Evaluate(c, ctxWithEvent(map[string]interface{}{"total": 150.0}))
	assert.True(t, res.Passed)

	res = e.Evaluate(c, ctxWithEvent(map[string]interface{}{"total": 50.0}))
	assert.False(t, res.Passed)
}

func TestEvaluate_TypeMismatchIsFalseNotError(t *testing.T) {
	e := New(nil)
	c := model.Condition{
		Source:   model.Source{Kind: model.SourceEvent, Field: "total"},
		Operator: model.OpGt,
		Value:    model.Value{Literal: 100.0},
	}
	res := e.Evaluate(c, ctxWithEvent(map[string]interface{}{"total": "not-a-number"}))
	assert.False(t, res.Passed)
	assert.NoError(t, res.Error)
}

func TestEvaluate_ExistsNotExists(t *testing.T) {
	e := New(nil)
	existsCond := model.Condition{
		Source:   model.Source{Kind: model.SourceEvent, Field: "total"},
		Operator: model.OpExists,
	}
	assert.True(t, e.Evaluate(existsCond, ctxWithEvent(map[string]interface{}{"total": 1.0})).Passed)
	assert.False(t, e.Evaluate(existsCond, ctxWithEvent(map[string]interface{}{})).Passed)

	notExistsCond := existsCond
	notExistsCond.Operator = model.OpNotExists
	assert.True(t, e.Evaluate(notExistsCond, ctxWithEvent(map[string]interface{}{})).Passed)
}

func TestEvaluate_In(t *testing.T) {
	e := New(nil)
	c := model.Condition{
		Source:   model.Source{Kind: model.SourceEvent, Field: "status"},
		Operator: model.OpIn,
		Value:    model.Value{Literal: []interface{}{"open", "pending"}},
	}
	assert.True(t, e.Evaluate(c, ctxWithEvent(map[string]interface{}{"status": "open"})).Passed)
	assert.False(t, e.Evaluate(c, ctxWithEvent(map[string]interface{}{"status": "closed"})).Passed)
}

func TestEvaluate_Matches(t *testing.T) {
	e := New(nil)
	c := model.Condition{
		Source:   model.Source{Kind: model.SourceEvent, Field: "email"},
		Operator: model.OpMatches,
		Value:    model.Value{Literal: `^[a-z]+@example\.com$`},
	}
	assert.True(t, e.Evaluate(c, ctxWithEvent(map[string]interface{}{"email": "bob@example.com"})).Passed)
	assert.False(t, e.Evaluate(c, ctxWithEvent(map[string]interface{}{"email": "BOB@EXAMPLE.COM"})).Passed)
}

func TestEvaluate_MatchesInvalidRegexIsError(t *testing.T) {
	e := New(nil)
	c := model.Condition{
		Source:   model.Source{Kind: model.SourceEvent, Field: "email"},
		Operator: model.OpMatches,
		Value:    model.Value{Literal: `(`},
	}
	res := e.Evaluate(c, ctxWithEvent(map[string]interface{}{"email": "x"}))
	assert.False(t, res.Passed)
	assert.Error(t, res.Error)
}

func TestEvaluate_BaselineUnavailable(t *testing.T) {
	e := New(nil)
	c := model.Condition{
		Source:   model.Source{Kind: model.SourceBaseline, Metric: "avg_latency"},
		Operator: model.OpGt,
		Value:    model.Value{Literal: 100.0},
	}
	res := e.Evaluate(c, ctxWithEvent(map[string]interface{}{}))
	assert.False(t, res.Passed)
}

func TestEvaluate_EqNullWhenMissing(t *testing.T) {
	e := New(nil)
	c := model.Condition{
		Source:   model.Source{Kind: model.SourceEvent, Field: "missing"},
		Operator: model.OpEq,
		Value:    model.Value{Literal: nil},
	}
	res := e.Evaluate(c, ctxWithEvent(map[string]interface{}{}))
	assert.True(t, res.Passed)
}
