package manifold

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"neuroharmony/domain/core"
)

// SPD is a symmetric positive-definite matrix sample (covariance or
// cross-spectral density estimate). Positivity is an invariant: any
// transform claiming to stay on the manifold must return an SPD result,
// and violations are a correctness bug rather than a warning.
type SPD struct {
	Sym *mat.SymDense
}

// NewSPD wraps a symmetric matrix without verifying positivity; callers
// that need the guarantee verify through the manifold operators.
func NewSPD(s *mat.SymDense) SPD {
	return SPD{Sym: s}
}

// FromDense symmetrizes an arbitrary square matrix into an SPD candidate
func FromDense(d *mat.Dense) (SPD, error) {
	r, c := d.Dims()
	if r != c {
		return SPD{}, fmt.Errorf("%w: %dx%d matrix is not square", core.ErrNotSPD, r, c)
	}
	s := mat.NewSymDense(r, nil)
	for i := 0; i < r; i++ {
		for j := i; j < r; j++ {
			s.SetSym(i, j, 0.5*(d.At(i, j)+d.At(j, i)))
		}
	}
	return SPD{Sym: s}, nil
}

// Dim returns the matrix order
func (m SPD) Dim() int {
	if m.Sym == nil {
		return 0
	}
	n, _ := m.Sym.Dims()
	return n
}

// Clone returns a deep copy
func (m SPD) Clone() SPD {
	if m.Sym == nil {
		return SPD{}
	}
	out := mat.NewSymDense(m.Dim(), nil)
	out.CopySym(m.Sym)
	return SPD{Sym: out}
}

// TangentSpaceFrame fixes the reference point and whitening factor used to
// map a population of SPD matrices into one Euclidean vector space. It is
// computed exactly once per run, from the full pre-harmonization
// population, and both the forward log-map and inverse exp-map go through
// the same frame; refitting it after harmonization would not be a valid
// inverse mapping.
type TangentSpaceFrame struct {
	Reference SPD
	// Cholesky factor of the reference, cached so per-sample maps share
	// one factorization.
	Chol *mat.Cholesky
}

// Dim returns the matrix order of the frame
func (f *TangentSpaceFrame) Dim() int { return f.Reference.Dim() }

// TangentDim returns the length of the vectorized upper triangle
func (f *TangentSpaceFrame) TangentDim() int {
	d := f.Dim()
	return d * (d + 1) / 2
}

// SampleFailure records one sample whose harmonized matrix could not be
// mapped back onto the manifold. Failures are collected and returned
// alongside successes; the failed sample is never silently replaced by its
// pre-harmonization matrix.
type SampleFailure struct {
	SampleIndex int    `json:"sample_index"`
	Reason      string `json:"reason"`
	Err         error  `json:"-"`
}

func (f SampleFailure) Error() string {
	return fmt.Sprintf("sample %d: %s", f.SampleIndex, f.Reason)
}
