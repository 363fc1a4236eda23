// Package validator validates request bodies and manager inputs.
package validator

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Validator wraps the go-playground validator with the tags this module
// relies on.
type Validator struct {
	cli *validator.Validate
}

// ValidationError describes a field that failed validation.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (v *Validator) formatError(err error) []ValidationError {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []ValidationError{{Field: "", Message: err.Error()}}
	}
	out := make([]ValidationError, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, ValidationError{
			Field:   fe.Field(),
			Message: message(fe),
		})
	}
	return out
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "notblank":
		return "must not be blank"
	case "max":
		return "must be at most " + fe.Param()
	case "min":
		return "must be at least " + fe.Param()
	case "oneof":
		return "must be one of " + fe.Param()
	case "url":
		return "must be a valid URL"
	}
	return "failed " + fe.Tag() + " validation"
}

// ValidateStruct validates s by its validate tags.
func (v *Validator) ValidateStruct(s any) []ValidationError {
	if err := v.cli.Struct(s); err != nil {
		return v.formatError(err)
	}
	return nil
}

// Validate checks a single value against tag.
func (v *Validator) Validate(value any, tag string) []ValidationError {
	if err := v.cli.Var(value, tag); err != nil {
		return v.formatError(err)
	}
	return nil
}

// Check is ValidateStruct folded into a single error, nil when s is valid.
func (v *Validator) Check(s any) error {
	errs := v.ValidateStruct(s)
	if len(errs) == 0 {
		return nil
	}
	msgs := make([]string, len(errs))
	for i, e := range errs {
		msgs[i] = e.Error()
	}
	return errors.New(strings.Join(msgs, "; "))
}

// New returns a Validator with the notblank tag registered.
func New() *Validator {
	cli := validator.New(validator.WithRequiredStructEnabled())
	// notblank: string fields must contain more than whitespace.
	_ = cli.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
	return &Validator{cli: cli}
}
