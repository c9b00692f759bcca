package core

import (
	"errors"
	"fmt"
)

// ErrValidation is wrapped by every input validation error so callers can map
// the whole family to a client error with a single errors.Is check.
var ErrValidation = errors.New("validation failed")

var (
	ErrMissingOwner  = fmt.Errorf("%w: owner is required", ErrValidation)
	ErrMissingAmount = fmt.Errorf("%w: amount is required", ErrValidation)
	ErrMissingDate   = fmt.Errorf("%w: date is required", ErrValidation)
	ErrInvalidAmount = fmt.Errorf("%w: invalid amount", ErrValidation)
	ErrInvalidDate   = fmt.Errorf("%w: invalid date", ErrValidation)
	ErrInvalidMonth  = fmt.Errorf("%w: invalid month, expected YYYY-MM", ErrValidation)
	ErrEmptyCategory = fmt.Errorf("%w: category is required", ErrValidation)
	ErrNegativeLimit = fmt.Errorf("%w: budget amount must not be negative", ErrValidation)
	ErrFieldTooLong  = fmt.Errorf("%w: field too long", ErrValidation)
	ErrNotFound      = errors.New("not found")
)

// IsValidation reports whether err is (or wraps) an input validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}
