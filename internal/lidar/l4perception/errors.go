package l4perception

import "errors"

// Failure kinds returned by the perception stages. Stages wrap these with
// context; callers match them with errors.Is.
var (
	// ErrInvalidParameter reports bad configuration. It is never retried.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrInsufficientData reports too few points for the operation.
	ErrInsufficientData = errors.New("insufficient data")

	// ErrNoPlaneFound reports that RANSAC found no model with at least
	// three inliers within its iteration budget.
	ErrNoPlaneFound = errors.New("no plane found")

	// ErrEmptyResult reports that a stage legitimately produced nothing.
	ErrEmptyResult = errors.New("empty result")
)
