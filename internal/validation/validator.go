// Package validation wraps go-playground/validator for the request
// bodies and seed files this server accepts. Failures come back as one
// domain validation error carrying a message per offending field, so
// API handlers and the seed loader report problems the same way.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	domainerrors "github.com/tandemapp/tandem-server/internal/errors"
)

// Validator checks tagged structs and reports failures as domain errors.
type Validator struct {
	v *validator.Validate
}

// New builds a Validator that reports fields by their JSON names.
func New() *Validator {
	v := validator.New()
	v.RegisterTagNameFunc(jsonFieldName)
	return &Validator{v: v}
}

// jsonFieldName maps a struct field to the name clients know it by.
// Returning "" makes the library fall back to the Go field name.
func jsonFieldName(fld reflect.StructField) string {
	name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
	if name == "-" {
		return ""
	}
	return name
}

// Validate checks s against its validate tags. All failing fields are
// collected into a single validation error rather than stopping at the
// first, so a bad seed file or request is fixable in one round.
func (v *Validator) Validate(s any) error {
	err := v.v.Struct(s)
	if err == nil {
		return nil
	}

	var fields validator.ValidationErrors
	if !errors.As(err, &fields) {
		return err
	}

	details := make(map[string]string, len(fields))
	for _, fe := range fields {
		details[fe.Field()] = describe(fe)
	}
	return domainerrors.ValidationWithDetails("validation failed", details)
}

// describe turns a failed rule into a fragment that reads naturally
// after the field name.
func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("must be at least %s characters", fe.Param())
	case "max":
		return fmt.Sprintf("must not exceed %s characters", fe.Param())
	case "url":
		return "must be a valid URL"
	case "oneof":
		return "must be one of: " + fe.Param()
	case "timezone":
		return "must be a valid IANA timezone name"
	case "gte":
		return "must be greater than or equal to " + fe.Param()
	case "lte":
		return "must be less than or equal to " + fe.Param()
	case "gtfield":
		return "must be after " + fe.Param()
	case "required_with":
		return "is required together with " + fe.Param()
	default:
		return "is invalid"
	}
}
