package ruleio

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/hamicek/noex-rules-sub007/internal/apperr"
	"github.com/hamicek/noex-rules-sub007/internal/model"
)

var structValidator = validator.New()

// Validate runs go-playground/validator's struct tags (already declared on
// internal/model's types) against a decoded rule, converting the first
// failing field into an apperr.ValidationError.
func Validate(rule *model.Rule) error {
	if err := structValidator.Struct(rule); err != nil {
		return toValidationError(err)
	}
	return nil
}

// StructValidator satisfies internal/rule.Validator, letting
// internal/reload.Watcher's validateBeforeApply path reuse this package's
// validation logic instead of reimplementing it.
type StructValidator struct{}

func (StructValidator) Validate(rule *model.Rule) error {
	return Validate(rule)
}

func toValidationError(err error) error {
	fieldErrs, ok := err.(validator.ValidationErrors)
	if !ok || len(fieldErrs) == 0 {
		return apperr.NewValidationError("rule", err.Error())
	}

	first := fieldErrs[0]
	field := strings.ToLower(first.Namespace())
	return apperr.NewValidationError(field, fmt.Sprintf("failed %q validation", first.Tag()))
}
