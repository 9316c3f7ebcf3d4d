package validation

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

type Validator struct {
	Errors []ValidationError
}

func New() *Validator {
	return &Validator{
		Errors: make([]ValidationError, 0),
	}
}

func (v *Validator) Valid() bool {
	return len(v.Errors) == 0
}

func (v *Validator) AddError(field, message string) {
	v.Errors = append(v.Errors, ValidationError{
		Field:   field,
		Message: message,
	})
}

func (v *Validator) Check(ok bool, field, message string) {
	if !ok {
		v.AddError(field, message)
	}
}

// ID requires a uuid.
func (v *Validator) ID(field, value string) {
	_, err := uuid.Parse(strings.TrimSpace(value))
	v.Check(err == nil, field, "must be a valid id")
}

// Amount requires a positive amount in minor units, at most max when max > 0.
func (v *Validator) Amount(field string, value, max int64) {
	if value <= 0 {
		v.AddError(field, "must be a positive amount in minor units")
		return
	}
	if max > 0 && value > max {
		v.AddError(field, fmt.Sprintf("must not exceed %d", max))
	}
}
