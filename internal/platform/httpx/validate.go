package httpx

import (
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/flourmill-erp/flourmill/internal/shared"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate runs struct tag validation and reports the first failing field.
func Validate(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		return shared.Invalid(strings.ToLower(fe.Field()), "failed "+fe.Tag()+" check")
	}
	return shared.Invalid("body", err.Error())
}
