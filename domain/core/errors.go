package core

import (
	"errors"
	"fmt"
)

// Domain errors - centralized error definitions
var (
	// Construction errors (fatal, raised before any computation starts)
	ErrShapeMismatch    = errors.New("matrix shape mismatch")
	ErrSessionCount     = errors.New("session count mismatch")
	ErrContrastShape    = errors.New("contrast shape mismatch")
	ErrPermutationLimit = errors.New("too many sessions for permutation enumeration")
	ErrBadParameter     = errors.New("invalid parameter")

	// Numerical failures (fatal at the point of use)
	ErrInsufficientDF      = errors.New("insufficient residual degrees of freedom")
	ErrNotPositiveDefinite = errors.New("regularized covariance not positive definite")

	// Lookup errors
	ErrNotFound           = errors.New("resource not found")
	ErrCheckpointNotFound = fmt.Errorf("%w: checkpoint", ErrNotFound)

	// Resumption errors
	ErrCheckpointMismatch = errors.New("checkpoint parameter mismatch")
)

// Error constructors with context
func NewRowMismatchError(dataRows, designRows int) error {
	return fmt.Errorf("%w: data matrix has %d rows, design matrix has %d", ErrShapeMismatch, dataRows, designRows)
}

func NewSessionCountError(what string, want, got int) error {
	return fmt.Errorf("%w: %s spans %d sessions, model set has %d", ErrSessionCount, what, got, want)
}

func NewVarCountError(session, want, got int) error {
	return fmt.Errorf("%w: session %d observes %d variables, expected %d", ErrShapeMismatch, session, got, want)
}

func NewSubcontrastError(caCols, cbCols int) error {
	return fmt.Errorf("%w: training contrast has %d subcontrasts, validation contrast has %d", ErrContrastShape, caCols, cbCols)
}

func NewRegressorRangeError(analysis, regressor, session, q int) error {
	return fmt.Errorf("%w: analysis %d references regressor %d but session %d has only %d", ErrContrastShape, analysis, regressor, session, q)
}

func NewPermutationLimitError(sessions, limit int) error {
	return fmt.Errorf("%w: %d sessions would enumerate 2^%d sign vectors (limit %d sessions)", ErrPermutationLimit, sessions, sessions, limit)
}

func NewParameterError(name, reason string) error {
	return fmt.Errorf("%w: %s %s", ErrBadParameter, name, reason)
}

func NewDFError(sumDF float64, subsetSize int) error {
	return fmt.Errorf("%w: combined dof %.2f must exceed subset size %d plus one", ErrInsufficientDF, sumDF, subsetSize)
}

func NewCholeskyError(subsetSize int, lambda float64) error {
	return fmt.Errorf("%w: Cholesky failed for %d variables at lambda=%.4f; increase regularization or reduce the subset", ErrNotPositiveDefinite, subsetSize, lambda)
}

func NewCheckpointMismatchError(want, got string) error {
	return fmt.Errorf("%w: expected %s, checkpoint encodes %s", ErrCheckpointMismatch, want, got)
}

// Error checking helpers
func IsConstructionError(err error) bool {
	return errors.Is(err, ErrShapeMismatch) ||
		errors.Is(err, ErrSessionCount) ||
		errors.Is(err, ErrContrastShape) ||
		errors.Is(err, ErrPermutationLimit) ||
		errors.Is(err, ErrBadParameter)
}

func IsNumericalError(err error) bool {
	return errors.Is(err, ErrInsufficientDF) ||
		errors.Is(err, ErrNotPositiveDefinite)
}

func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsCheckpointMismatch(err error) bool {
	return errors.Is(err, ErrCheckpointMismatch)
}
