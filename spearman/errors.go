package spearman

import (
	"errors"
	"fmt"
)

var (
	// ErrPrecondition is the class of errors raised for malformed inputs
	// (nil frames, mismatched shapes). It indicates a caller bug.
	ErrPrecondition = errors.New("precondition failed")

	// ErrValidation is the class of errors raised when well-formed inputs
	// are rejected by the selected mode.
	ErrValidation = errors.New("validation failed")

	// ErrNoColumns is returned when a mean is requested over zero columns.
	ErrNoColumns = fmt.Errorf("%w: there are no columns to calculate means from", ErrPrecondition)

	// ErrNilFrame is returned when either dataset is nil.
	ErrNilFrame = fmt.Errorf("%w: dataset is nil", ErrPrecondition)
)

// ErrColumnCountMismatch indicates the two datasets differ in column count.
//
// errors.Is(err, ErrPrecondition) holds.
type ErrColumnCountMismatch struct {
	X int
	Y int
}

func (e *ErrColumnCountMismatch) Error() string {
	return fmt.Sprintf("column count mismatch: x has %d columns, y has %d", e.X, e.Y)
}

func (e *ErrColumnCountMismatch) Unwrap() error { return ErrPrecondition }

// ErrLengthMismatch indicates two columns that must align have different
// lengths.
//
// errors.Is(err, ErrPrecondition) holds.
type ErrLengthMismatch struct {
	Column   string
	Expected int
	Actual   int
}

func (e *ErrLengthMismatch) Error() string {
	if e.Column == "" {
		return fmt.Sprintf("length mismatch: expected %d rows, got %d", e.Expected, e.Actual)
	}
	return fmt.Sprintf("length mismatch: column %q has %d rows, expected %d", e.Column, e.Actual, e.Expected)
}

func (e *ErrLengthMismatch) Unwrap() error { return ErrPrecondition }

// ErrMissingValues is returned by AllObs when a column holds missing values.
//
// errors.Is(err, ErrValidation) holds.
type ErrMissingValues struct {
	Column string
	Count  int
}

func (e *ErrMissingValues) Error() string {
	return fmt.Sprintf("mode is %q but column %q has %d missing values", AllObs, e.Column, e.Count)
}

func (e *ErrMissingValues) Unwrap() error { return ErrValidation }
