package ruleio

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/hamicek/noex-rules-sub007/internal/apperr"
	"github.com/hamicek/noex-rules-sub007/internal/model"
)

// ParameterType is one of the parameter types spec.md §6 allows in a
// template definition.
type ParameterType string

const (
	ParamString  ParameterType = "string"
	ParamNumber  ParameterType = "number"
	ParamBoolean ParameterType = "boolean"
	ParamObject  ParameterType = "object"
	ParamArray   ParameterType = "array"
	ParamAny     ParameterType = "any"
)

// Parameter describes one named hole a template's blueprint may reference.
type Parameter struct {
	Name        string
	Type        ParameterType
	Default     interface{}
	Validate    string
	Description string
}

// Template is a parameterized rule blueprint: Instantiate substitutes
// parameter values for the "{{name}}" placeholders it contains and
// decodes the result the same way DecodeJSON decodes an ordinary rule.
type Template struct {
	TemplateID string
	Parameters []Parameter
	blueprint  interface{}
}

type parameterDoc struct {
	Name        string      `json:"name"`
	Type        string      `json:"type"`
	Default     interface{} `json:"default,omitempty"`
	Validate    string      `json:"validate,omitempty"`
	Description string      `json:"description,omitempty"`
}

type templateDoc struct {
	TemplateID string          `json:"templateId"`
	Parameters []parameterDoc  `json:"parameters,omitempty"`
	Blueprint  json.RawMessage `json:"blueprint"`
}

type templateFileDoc struct {
	Template templateDoc `json:"template"`
}

var placeholderRE = regexp.MustCompile(`\{\{\s*(\w+)\s*\}\}`)

// ParseTemplate decodes a {"template": {...}} document and rejects, at
// build time, any placeholder referencing a parameter the template did
// not declare.
func ParseTemplate(data []byte) (*Template, error) {
	var doc templateFileDoc
	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&doc); err != nil {
		return nil, apperr.NewValidationError("template", err.Error())
	}
	if doc.Template.TemplateID == "" {
		return nil, apperr.NewValidationError("templateId", "template id is required")
	}

	params := make([]Parameter, 0, len(doc.Template.Parameters))
	declared := make(map[string]bool, len(doc.Template.Parameters))
	for _, p := range doc.Template.Parameters {
		if p.Name == "" {
			return nil, apperr.NewValidationError("parameters", "parameter name is required")
		}
		params = append(params, Parameter{
			Name: p.Name, Type: ParameterType(p.Type), Default: p.Default,
			Validate: p.Validate, Description: p.Description,
		})
		declared[p.Name] = true
	}

	var blueprint interface{}
	if err := json.Unmarshal(doc.Template.Blueprint, &blueprint); err != nil {
		return nil, apperr.NewValidationError("blueprint", err.Error())
	}

	if undeclared := findUndeclaredPlaceholders(blueprint, declared); len(undeclared) > 0 {
		return nil, apperr.NewValidationError("blueprint",
			fmt.Sprintf("references undeclared parameter(s): %s", strings.Join(undeclared, ", ")))
	}

	return &Template{TemplateID: doc.Template.TemplateID, Parameters: params, blueprint: blueprint}, nil
}

func findUndeclaredPlaceholders(node interface{}, declared map[string]bool) []string {
	var bad []string
	seen := make(map[string]bool)
	var walk func(interface{})
	walk = func(n interface{}) {
		switch v := n.(type) {
		case string:
			for _, m := range placeholderRE.FindAllStringSubmatch(v, -1) {
				name := m[1]
				if !declared[name] && !seen[name] {
					seen[name] = true
					bad = append(bad, name)
				}
			}
		case map[string]interface{}:
			for _, child := range v {
				walk(child)
			}
		case []interface{}:
			for _, child := range v {
				walk(child)
			}
		}
	}
	walk(node)
	return bad
}

// Instantiate substitutes params into the blueprint and decodes the
// result as a single rule document. A parameter without a supplied
// value falls back to its declared default; a "validate" tag is
// checked with go-playground/validator's single-value Var form.
func (t *Template) Instantiate(params map[string]interface{}) (*model.Rule, error) {
	validate := validator.New()
	resolved := make(map[string]interface{}, len(t.Parameters))

	for _, p := range t.Parameters {
		val, ok := params[p.Name]
		if !ok {
			if p.Default == nil {
				return nil, apperr.NewValidationError(p.Name, "parameter value is required")
			}
			val = p.Default
		}
		if p.Validate != "" {
			if err := validate.Var(val, p.Validate); err != nil {
				return nil, apperr.NewValidationError(p.Name, err.Error())
			}
		}
		resolved[p.Name] = val
	}

	substituted := substitute(t.blueprint, resolved)
	raw, err := json.Marshal(substituted)
	if err != nil {
		return nil, fmt.Errorf("marshal instantiated blueprint: %w", err)
	}
	return DecodeJSON(raw)
}

func substitute(node interface{}, params map[string]interface{}) interface{} {
	switch v := node.(type) {
	case string:
		if m := placeholderRE.FindStringSubmatch(v); m != nil && m[0] == v {
			if val, ok := params[m[1]]; ok {
				return val
			}
			return v
		}
		return placeholderRE.ReplaceAllStringFunc(v, func(match string) string {
			name := placeholderRE.FindStringSubmatch(match)[1]
			if val, ok := params[name]; ok {
				return fmt.Sprintf("%v", val)
			}
			return match
		})
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, child := range v {
			out[k] = substitute(child, params)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, child := range v {
			out[i] = substitute(child, params)
		}
		return out
	default:
		return v
	}
}
