// Package evalctx defines the per-rule-firing evaluation context and the
// ${path} interpolation rules shared by the condition evaluator and the
// action executor.
package evalctx

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/hamicek/noex-rules-sub007/internal/model"
)

// FactLookup resolves a fact key to its current value, if any.
type FactLookup func(key string) (interface{}, bool)

// Context is the transient, per-rule-firing evaluation context. It is
// never shared across rule firings and never mutated after construction.
type Context struct {
	Event         *model.Event
	FactLookup    FactLookup
	Aliases       map[string]*model.Event // bound temporal-pattern aliases
	Extra         map[string]interface{}  // ad hoc context bindings, e.g. catch.as
	CorrelationID string
}

// New builds a Context for a single rule firing.
func New(event *model.Event, lookup FactLookup, correlationID string) *Context {
	return &Context{
		Event:         event,
		FactLookup:    lookup,
		CorrelationID: correlationID,
		Extra:         map[string]interface{}{},
	}
}

// WithExtra returns a shallow copy of c with an additional binding, used by
// try_catch to bind the caught error without mutating the original context.
func (c *Context) WithExtra(key string, value interface{}) *Context {
	cp := *c
	cp.Extra = make(map[string]interface{}, len(c.Extra)+1)
	for k, v := range c.Extra {
		cp.Extra[k] = v
	}
	cp.Extra[key] = value
	return &cp
}

// Lookup resolves a dotted path against the context: "event.data.x",
// "event.topic", "event.id", "fact.k", "context.k", or an alias path
// "orderCreated.data.total" bound by a temporal pattern. Returns
// (value, true) if the path resolved, (nil, false) otherwise.
func (c *Context) Lookup(path string) (interface{}, bool) {
	if path == "" {
		return nil, false
	}
	segs := strings.Split(path, ".")
	switch segs[0] {
	case "event":
		return lookupEvent(c.Event, segs[1:])
	case "fact":
		if c.FactLookup == nil || len(segs) < 2 {
			return nil, false
		}
		return c.FactLookup(strings.Join(segs[1:], "."))
	case "context":
		if len(segs) < 2 {
			return nil, false
		}
		v, ok := c.Extra[segs[1]]
		return v, ok
	default:
		if ev, ok := c.Aliases[segs[0]]; ok {
			return lookupEvent(ev, segs[1:])
		}
		if v, ok := c.Extra[segs[0]]; ok {
			if len(segs) == 1 {
				return v, true
			}
			return lookupMap(v, segs[1:])
		}
		return nil, false
	}
}

func lookupEvent(ev *model.Event, segs []string) (interface{}, bool) {
	if ev == nil {
		return nil, false
	}
	if len(segs) == 0 {
		return ev, true
	}
	switch segs[0] {
	case "id":
		return ev.ID, true
	case "topic":
		return ev.Topic, true
	case "source":
		return ev.Source, true
	case "correlationId":
		return ev.CorrelationID, true
	case "causationId":
		return ev.CausationID, true
	case "timestamp":
		return ev.Timestamp, true
	case "data":
		if len(segs) == 1 {
			return ev.Data, true
		}
		return lookupMap(ev.Data, segs[1:])
	default:
		return nil, false
	}
}

func lookupMap(v interface{}, segs []string) (interface{}, bool) {
	cur := v
	for _, seg := range segs {
		switch m := cur.(type) {
		case map[string]interface{}:
			next, ok := m[seg]
			if !ok {
				return nil, false
			}
			cur = next
		case []interface{}:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(m) {
				return nil, false
			}
			cur = m[idx]
		default:
			return nil, false
		}
	}
	return cur, true
}

// Resolve resolves a model.Value: a literal passes through unchanged, a Ref
// is looked up via Lookup.
func (c *Context) Resolve(v model.Value) (interface{}, bool) {
	if v.IsRef() {
		return c.Lookup(v.Ref.Ref)
	}
	return v.Literal, true
}

// Interpolate substitutes every "${path}" occurrence in s with its looked-up
// value's string form; a literal "$" is escaped as "$$". A path that fails
// to resolve is substituted with an empty string.
func Interpolate(s string, c *Context) string {
	if !strings.Contains(s, "$") {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if ch != '$' {
			b.WriteByte(ch)
			continue
		}
		if i+1 < len(s) && s[i+1] == '$' {
			b.WriteByte('$')
			i++
			continue
		}
		if i+1 < len(s) && s[i+1] == '{' {
			end := strings.IndexByte(s[i+2:], '}')
			if end < 0 {
				b.WriteByte(ch)
				continue
			}
			path := s[i+2 : i+2+end]
			if v, ok := c.Lookup(path); ok {
				b.WriteString(stringify(v))
			}
			i += 2 + end
			continue
		}
		b.WriteByte(ch)
	}
	return b.String()
}

func stringify(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprintf("%v", t)
	}
}

// InterpolateValue deep-substitutes ${path} strings anywhere inside a
// structured value (maps, slices, strings); used for action args and event
// data. Ref subtrees ({ref: path}) are not representable in already-decoded
// JSON so InterpolateValue handles only the string-interpolation half of
// §4.5; whole-subtree ref resolution is handled by Context.Resolve at the
// model.Value call sites.
func InterpolateValue(v interface{}, c *Context) interface{} {
	switch t := v.(type) {
	case string:
		return Interpolate(t, c)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[k] = InterpolateValue(val, c)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = InterpolateValue(val, c)
		}
		return out
	default:
		return v
	}
}
