// Package validate runs go-playground struct validation and converts the
// first failure into a caller-facing validation error.
package validate

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"beaconattend/internal/apperr"
)

var v = newValidator()

func newValidator() *validator.Validate {
	val := validator.New(validator.WithRequiredStructEnabled())
	// Report json field names so messages match the request body.
	val.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	return val
}

// Struct validates s and returns an *apperr.Error of kind validation.
func Struct(s any) error {
	err := v.Struct(s)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return apperr.Validation("invalid request: %v", err)
	}
	fe := fieldErrs[0]
	switch fe.Tag() {
	case "required":
		return apperr.Validation("missing %s", fe.Field())
	case "oneof":
		return apperr.Validation("%s must be one of [%s]", fe.Field(), fe.Param())
	case "min", "gte":
		return apperr.Validation("%s must be at least %s", fe.Field(), fe.Param())
	case "max", "lte":
		return apperr.Validation("%s must be at most %s", fe.Field(), fe.Param())
	case "email":
		return apperr.Validation("%s must be a valid email address", fe.Field())
	default:
		return apperr.Validation("%s failed %s validation", fe.Field(), fe.Tag())
	}
}
