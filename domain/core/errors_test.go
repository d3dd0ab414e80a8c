package core

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorClassification(t *testing.T) {
	inputErrs := []error{
		NewSiteSampleError("clinic_x", 1),
		fmt.Errorf("building design: %w", ErrSingleSite),
		ErrShapeMismatch,
		ErrMissingValues,
	}
	for _, err := range inputErrs {
		if !IsInputValidityError(err) {
			t.Errorf("%v should classify as an input-validity error", err)
		}
		if IsNumericalError(err) {
			t.Errorf("%v should not classify as a numerical error", err)
		}
	}

	numErrs := []error{
		NewConvergenceError(ErrNonConvergence, 100, 0.02),
		NewConvergenceError(ErrManifoldMeanNonConvergence, 50, 1.3),
		NewProjectionError(7, -1e-12),
		ErrNotSPD,
	}
	for _, err := range numErrs {
		if !IsNumericalError(err) {
			t.Errorf("%v should classify as a numerical error", err)
		}
		if IsInputValidityError(err) {
			t.Errorf("%v should not classify as an input-validity error", err)
		}
	}
}

func TestConvergenceErrorCarriesDiagnostics(t *testing.T) {
	err := NewConvergenceError(ErrNonConvergence, 100, 0.0213)
	if !errors.Is(err, ErrNonConvergence) {
		t.Fatal("Expected the error to wrap ErrNonConvergence")
	}
	msg := err.Error()
	if msg == ErrNonConvergence.Error() {
		t.Error("Expected iteration diagnostics in the message")
	}
}

func TestRunNotFoundIsNotFound(t *testing.T) {
	if !IsNotFoundError(ErrRunNotFound) {
		t.Error("ErrRunNotFound should classify as not-found")
	}
	if !errors.Is(ErrRunNotFound, ErrNotFound) {
		t.Error("ErrRunNotFound should wrap ErrNotFound")
	}
}
