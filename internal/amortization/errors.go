package amortization

import (
	"fmt"
	"loan-engine/internal/pkg/apperrors"
)

// Field names reported by input errors match the JSON request contract.
const (
	FieldPrincipal  = "amount"
	FieldRate       = "interest_rate"
	FieldTermMonths = "term_months"
)

// InvalidInputError reports a rejected input value. It matches
// apperrors.ErrValidation and exposes an *apperrors.ValidationError so HTTP
// handlers can render the offending field.
type InvalidInputError struct {
	Field  string
	Reason string
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *InvalidInputError) Unwrap() []error {
	return []error{
		apperrors.ErrValidation,
		&apperrors.ValidationError{Field: e.Field, Message: e.Reason},
	}
}

// NumericOverflowError reports inputs whose magnitude cannot be computed to
// cent precision.
type NumericOverflowError struct {
	Field  string
	Reason string
}

func (e *NumericOverflowError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("numeric overflow: %s", e.Reason)
	}
	return fmt.Sprintf("numeric overflow in %s: %s", e.Field, e.Reason)
}

func (e *NumericOverflowError) Unwrap() error {
	return apperrors.ErrNumericOverflow
}
