package core

import (
	"errors"
	"fmt"
)

// Domain errors - centralized error definitions
var (
	// Not found errors
	ErrNotFound    = errors.New("resource not found")
	ErrRunNotFound = fmt.Errorf("%w: run", ErrNotFound)

	// Input-validity errors. Fatal to the current run and never retried:
	// they indicate a dataset or design problem, not a transient condition.
	ErrInsufficientSiteSamples = errors.New("site level has fewer than two samples")
	ErrSingleSite              = errors.New("only one site level present; harmonization is a no-op")
	ErrShapeMismatch           = errors.New("sample/label/covariate shapes are misaligned")
	ErrMissingValues           = errors.New("feature matrix contains missing or non-finite values")

	// Numerical-instability errors. Fatal to the affected feature or sample
	// but isolated from the rest of the population.
	ErrNonConvergence             = errors.New("empirical-Bayes fit did not converge within iteration cap")
	ErrManifoldMeanNonConvergence = errors.New("geometric mean fixed-point did not converge within iteration cap")
	ErrManifoldProjection         = errors.New("manifold projection produced a non-SPD matrix")
	ErrNotSPD                     = errors.New("matrix is not symmetric positive-definite")

	// Metric-undefined errors. Reported as a missing KPI value, not a run failure.
	ErrUndefinedMetric = errors.New("metric undefined for degenerate input")
)

// NewSiteSampleError reports a site level that cannot support variance estimation
func NewSiteSampleError(site string, count int) error {
	return fmt.Errorf("%w: site %q has %d sample(s)", ErrInsufficientSiteSamples, site, count)
}

// NewConvergenceError reports a fixed-point loop that hit its iteration cap
func NewConvergenceError(kind error, iterations int, lastChange float64) error {
	return fmt.Errorf("%w: %d iterations, last change %.3g", kind, iterations, lastChange)
}

// NewProjectionError reports an exp-map result that left the SPD manifold
func NewProjectionError(sample int, minEigen float64) error {
	return fmt.Errorf("%w: sample %d, smallest eigenvalue %.3g", ErrManifoldProjection, sample, minEigen)
}

// Error checking helpers
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsInputValidityError(err error) bool {
	return errors.Is(err, ErrInsufficientSiteSamples) ||
		errors.Is(err, ErrSingleSite) ||
		errors.Is(err, ErrShapeMismatch) ||
		errors.Is(err, ErrMissingValues)
}

func IsNumericalError(err error) bool {
	return errors.Is(err, ErrNonConvergence) ||
		errors.Is(err, ErrManifoldMeanNonConvergence) ||
		errors.Is(err, ErrManifoldProjection) ||
		errors.Is(err, ErrNotSPD)
}
