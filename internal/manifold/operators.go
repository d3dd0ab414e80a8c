// Package manifold implements the geometric operators for SPD-valued
// samples: the affine-invariant geometric mean, tangent-space log/exp
// maps through a shared reference point, and the Frobenius-preserving
// vectorization of symmetric matrices.
package manifold

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"neuroharmony/domain/core"
	"neuroharmony/domain/harmonize"
	dm "neuroharmony/domain/manifold"
)

// Operators evaluates manifold operations under one configuration
type Operators struct {
	cfg harmonize.Config
}

// NewOperators creates an operator set with the given configuration
func NewOperators(cfg harmonize.Config) *Operators {
	return &Operators{cfg: cfg}
}

// NewFrame factorizes a reference point into a tangent-space frame. The
// reference must be SPD; the Cholesky factor is cached on the frame so
// every per-sample map shares one factorization.
func (o *Operators) NewFrame(reference dm.SPD) (*dm.TangentSpaceFrame, error) {
	var chol mat.Cholesky
	if ok := chol.Factorize(reference.Sym); !ok {
		return nil, fmt.Errorf("%w: reference point failed Cholesky factorization", core.ErrNotSPD)
	}
	return &dm.TangentSpaceFrame{Reference: reference.Clone(), Chol: &chol}, nil
}

// LogMap projects an SPD sample onto the tangent space at the frame's
// reference: the sample is whitened by the reference Cholesky factor and
// passed through the matrix logarithm. The result is symmetrized exactly
// (averaged with its transpose) to tolerate floating-point asymmetry.
func (o *Operators) LogMap(m dm.SPD, frame *dm.TangentSpaceFrame) (*mat.SymDense, error) {
	d := frame.Dim()
	if m.Dim() != d {
		return nil, fmt.Errorf("%w: sample is %dx%d, frame is %dx%d",
			core.ErrShapeMismatch, m.Dim(), m.Dim(), d, d)
	}

	z, err := whiten(m.Sym, frame)
	if err != nil {
		return nil, err
	}
	return matrixLog(z)
}

// ExpMap inverts LogMap: the tangent matrix goes through the matrix
// exponential and is colored back by the reference Cholesky factor. The
// result is symmetrized, nudged by the configured jitter, and re-verified
// to be SPD; a verification failure signals upstream numerical
// instability rather than silently returning a near-singular matrix.
func (o *Operators) ExpMap(t *mat.SymDense, frame *dm.TangentSpaceFrame) (dm.SPD, error) {
	d := frame.Dim()
	if n, _ := t.Dims(); n != d {
		return dm.SPD{}, fmt.Errorf("%w: tangent is %dx%d, frame is %dx%d",
			core.ErrShapeMismatch, n, n, d, d)
	}

	z := matrixExp(t)

	var l mat.TriDense
	frame.Chol.LTo(&l)
	var lz, c mat.Dense
	lz.Mul(&l, z)
	c.Mul(&lz, l.T())

	out := mat.NewSymDense(d, nil)
	for i := 0; i < d; i++ {
		for j := i; j < d; j++ {
			v := 0.5 * (c.At(i, j) + c.At(j, i))
			if i == j {
				v += o.cfg.SPDJitter
			}
			out.SetSym(i, j, v)
		}
	}

	if minEig := smallestEigenvalue(out); minEig <= o.cfg.SPDTolerance {
		return dm.SPD{}, fmt.Errorf("%w: smallest eigenvalue %.3g", core.ErrManifoldProjection, minEig)
	}
	return dm.NewSPD(out), nil
}

// Vectorize flattens a symmetric matrix into its upper triangle, scaling
// off-diagonal entries by sqrt(2) so the Euclidean inner product of the
// vectors equals the Frobenius inner product of the matrices.
func Vectorize(s *mat.SymDense) []float64 {
	d, _ := s.Dims()
	v := make([]float64, d*(d+1)/2)
	idx := 0
	for i := 0; i < d; i++ {
		for j := i; j < d; j++ {
			if i == j {
				v[idx] = s.At(i, j)
			} else {
				v[idx] = s.At(i, j) * math.Sqrt2
			}
			idx++
		}
	}
	return v
}

// Unvectorize is the exact inverse of Vectorize
func Unvectorize(v []float64, dim int) (*mat.SymDense, error) {
	if len(v) != dim*(dim+1)/2 {
		return nil, fmt.Errorf("%w: vector length %d does not match dimension %d",
			core.ErrShapeMismatch, len(v), dim)
	}
	s := mat.NewSymDense(dim, nil)
	idx := 0
	for i := 0; i < dim; i++ {
		for j := i; j < dim; j++ {
			if i == j {
				s.SetSym(i, j, v[idx])
			} else {
				s.SetSym(i, j, v[idx]/math.Sqrt2)
			}
			idx++
		}
	}
	return s, nil
}

// TangentDim returns the vector length for a given matrix order
func TangentDim(dim int) int { return dim * (dim + 1) / 2 }

// whiten computes Linv * M * Linv^T for the frame's Cholesky factor
func whiten(m *mat.SymDense, frame *dm.TangentSpaceFrame) (*mat.SymDense, error) {
	var l, linv mat.TriDense
	frame.Chol.LTo(&l)
	if err := linv.InverseTri(&l); err != nil {
		return nil, fmt.Errorf("%w: reference Cholesky factor is singular", core.ErrNotSPD)
	}

	var lm, z mat.Dense
	lm.Mul(&linv, m)
	z.Mul(&lm, linv.T())

	d, _ := m.Dims()
	out := mat.NewSymDense(d, nil)
	for i := 0; i < d; i++ {
		for j := i; j < d; j++ {
			out.SetSym(i, j, 0.5*(z.At(i, j)+z.At(j, i)))
		}
	}
	return out, nil
}

// matrixLog computes the principal logarithm of an SPD matrix through its
// eigendecomposition; non-positive eigenvalues mean the input left the
// manifold and are reported as such.
func matrixLog(s *mat.SymDense) (*mat.SymDense, error) {
	var eig mat.EigenSym
	if ok := eig.Factorize(s, true); !ok {
		return nil, fmt.Errorf("%w: eigendecomposition failed", core.ErrNotSPD)
	}
	vals := eig.Values(nil)
	for _, v := range vals {
		if v <= 0 {
			return nil, fmt.Errorf("%w: eigenvalue %.3g", core.ErrNotSPD, v)
		}
	}
	var q mat.Dense
	eig.VectorsTo(&q)
	return rebuild(&q, vals, math.Log), nil
}

// matrixExp computes the exponential of a symmetric matrix
func matrixExp(s *mat.SymDense) *mat.SymDense {
	var eig mat.EigenSym
	// Symmetric matrices always factorize
	eig.Factorize(s, true)
	vals := eig.Values(nil)
	var q mat.Dense
	eig.VectorsTo(&q)
	return rebuild(&q, vals, math.Exp)
}

// rebuild assembles Q f(diag) Q^T, symmetrizing the result exactly
func rebuild(q *mat.Dense, vals []float64, f func(float64) float64) *mat.SymDense {
	d := len(vals)
	fv := make([]float64, d)
	for i, v := range vals {
		fv[i] = f(v)
	}
	var qf, full mat.Dense
	qf.Mul(q, diag(fv))
	full.Mul(&qf, q.T())

	out := mat.NewSymDense(d, nil)
	for i := 0; i < d; i++ {
		for j := i; j < d; j++ {
			out.SetSym(i, j, 0.5*(full.At(i, j)+full.At(j, i)))
		}
	}
	return out
}

func diag(vals []float64) *mat.Dense {
	d := len(vals)
	m := mat.NewDense(d, d, nil)
	for i, v := range vals {
		m.Set(i, i, v)
	}
	return m
}

func smallestEigenvalue(s *mat.SymDense) float64 {
	var eig mat.EigenSym
	if ok := eig.Factorize(s, false); !ok {
		return math.Inf(-1)
	}
	vals := eig.Values(nil)
	min := math.Inf(1)
	for _, v := range vals {
		if v < min {
			min = v
		}
	}
	return min
}
