package validation

import (
	"errors"
	"fmt"
	"strings"

	"github.com/hyperengineering/oppsync/internal/types"
)

// Field limits enforced before a record is handed to an org.
const (
	MaxNameLength      = 120
	MaxTextFieldLength = 32000
)

// ErrInvalidRecord marks a record that cannot be synced as-is.
// Records failing validation are never retried.
var ErrInvalidRecord = errors.New("invalid record")

// RecordError carries the field errors for a rejected record.
type RecordError struct {
	Errors []ValidationError
}

func (e *RecordError) Error() string {
	parts := make([]string, len(e.Errors))
	for i, ve := range e.Errors {
		parts[i] = fmt.Sprintf("%s %s", ve.Field, ve.Message)
	}
	return fmt.Sprintf("%s: %s", ErrInvalidRecord, strings.Join(parts, "; "))
}

func (e *RecordError) Unwrap() error {
	return ErrInvalidRecord
}

// ValidateRecord checks a record before sync. Name is required; numeric
// fields must hold numbers; text must be clean UTF-8 without null bytes.
func ValidateRecord(r types.Record) []ValidationError {
	var c Collector

	name, isString := r.Fields[types.FieldName].(string)
	if _, present := r.Fields[types.FieldName]; present && !isString {
		c.Add(&ValidationError{Field: types.FieldName, Message: "must be a string"})
	} else {
		c.Add(ValidateRequired(types.FieldName, name))
		c.Add(ValidateMaxLength(types.FieldName, name, MaxNameLength))
	}

	for field, value := range r.Fields {
		c.Add(ValidateFieldName(field))
		if s, ok := value.(string); ok {
			c.Add(ValidateUTF8(field, s))
			c.Add(ValidateNoNullBytes(field, s))
			c.Add(ValidateMaxLength(field, s, MaxTextFieldLength))
		}
	}

	c.Add(ValidateNumeric(types.FieldAmount, r.Fields[types.FieldAmount]))
	c.Add(ValidateNumeric(types.FieldNumberOfEmployees, r.Fields[types.FieldNumberOfEmployees]))
	if p, present := r.Fields[types.FieldProbability]; present && p != nil {
		if n, ok := types.Number(p); ok {
			c.Add(ValidateRange(types.FieldProbability, n, 0, 100))
		} else {
			c.Add(ValidateNumeric(types.FieldProbability, p))
		}
	}

	return c.Errors()
}

// CheckRecord returns a *RecordError when the record fails validation.
func CheckRecord(r types.Record) error {
	if errs := ValidateRecord(r); len(errs) > 0 {
		return &RecordError{Errors: errs}
	}
	return nil
}
