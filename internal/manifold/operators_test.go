package manifold

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"testing"

	"gonum.org/v1/gonum/mat"

	"neuroharmony/domain/core"
	"neuroharmony/domain/harmonize"
	dm "neuroharmony/domain/manifold"
)

func randomSPD(t *testing.T, rng *rand.Rand, dim int) dm.SPD {
	t.Helper()
	a := mat.NewDense(dim, dim, nil)
	for i := 0; i < dim; i++ {
		for j := 0; j < dim; j++ {
			a.Set(i, j, rng.NormFloat64())
		}
	}
	var aat mat.Dense
	aat.Mul(a, a.T())
	s := mat.NewSymDense(dim, nil)
	for i := 0; i < dim; i++ {
		for j := i; j < dim; j++ {
			v := aat.At(i, j) / float64(dim)
			if i == j {
				v += 1.0
			}
			s.SetSym(i, j, v)
		}
	}
	return dm.NewSPD(s)
}

func maxAbsDiff(a, b *mat.SymDense) float64 {
	d, _ := a.Dims()
	worst := 0.0
	for i := 0; i < d; i++ {
		for j := i; j < d; j++ {
			diff := math.Abs(a.At(i, j) - b.At(i, j))
			if diff > worst {
				worst = diff
			}
		}
	}
	return worst
}

func TestLogExpMap_RoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	ops := NewOperators(harmonize.DefaultConfig())

	ref := randomSPD(t, rng, 4)
	frame, err := ops.NewFrame(ref)
	if err != nil {
		t.Fatalf("NewFrame failed: %v", err)
	}

	for trial := 0; trial < 10; trial++ {
		m := randomSPD(t, rng, 4)
		tangent, err := ops.LogMap(m, frame)
		if err != nil {
			t.Fatalf("Trial %d: LogMap failed: %v", trial, err)
		}
		back, err := ops.ExpMap(tangent, frame)
		if err != nil {
			t.Fatalf("Trial %d: ExpMap failed: %v", trial, err)
		}
		if diff := maxAbsDiff(m.Sym, back.Sym); diff > 1e-8 {
			t.Errorf("Trial %d: round trip drifted by %g", trial, diff)
		}
	}
}

func TestLogMap_ReferenceMapsToZero(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	ops := NewOperators(harmonize.DefaultConfig())

	ref := randomSPD(t, rng, 3)
	frame, err := ops.NewFrame(ref)
	if err != nil {
		t.Fatalf("NewFrame failed: %v", err)
	}
	tangent, err := ops.LogMap(ref, frame)
	if err != nil {
		t.Fatalf("LogMap failed: %v", err)
	}
	if norm := frobeniusNorm(tangent); norm > 1e-10 {
		t.Errorf("Log-map of the reference has norm %g, want ~0", norm)
	}
}

func TestVectorize_InverseAndInnerProduct(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	s := randomSPD(t, rng, 5).Sym

	v := Vectorize(s)
	if len(v) != TangentDim(5) {
		t.Fatalf("Expected vector length %d, got %d", TangentDim(5), len(v))
	}

	back, err := Unvectorize(v, 5)
	if err != nil {
		t.Fatalf("Unvectorize failed: %v", err)
	}
	if diff := maxAbsDiff(s, back); diff > 1e-12 {
		t.Errorf("Unvectorize(Vectorize(s)) drifted by %g", diff)
	}

	// The sqrt(2) off-diagonal scaling makes the Euclidean norm of the
	// vector equal the Frobenius norm of the matrix.
	dot := 0.0
	for _, x := range v {
		dot += x * x
	}
	frob := frobeniusNorm(s)
	if math.Abs(math.Sqrt(dot)-frob) > 1e-10 {
		t.Errorf("Vector norm %g differs from Frobenius norm %g", math.Sqrt(dot), frob)
	}
}

func TestUnvectorize_LengthMismatchRejected(t *testing.T) {
	_, err := Unvectorize(make([]float64, 7), 4)
	if !errors.Is(err, core.ErrShapeMismatch) {
		t.Fatalf("Expected ErrShapeMismatch, got %v", err)
	}
}

func TestNewFrame_RejectsNonSPD(t *testing.T) {
	ops := NewOperators(harmonize.DefaultConfig())
	s := mat.NewSymDense(2, []float64{1, 2, 2, 1}) // eigenvalues 3 and -1
	_, err := ops.NewFrame(dm.NewSPD(s))
	if !errors.Is(err, core.ErrNotSPD) {
		t.Fatalf("Expected ErrNotSPD, got %v", err)
	}
}

func TestGeometricMean_IdenticalSamples(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	ops := NewOperators(harmonize.DefaultConfig())

	m := randomSPD(t, rng, 3)
	samples := []dm.SPD{m.Clone(), m.Clone(), m.Clone()}

	mean, err := ops.GeometricMean(context.Background(), samples)
	if err != nil {
		t.Fatalf("GeometricMean failed: %v", err)
	}
	if diff := maxAbsDiff(m.Sym, mean.Sym); diff > 1e-8 {
		t.Errorf("Mean of identical samples drifted by %g", diff)
	}
}

func TestGeometricMean_CommutingPair(t *testing.T) {
	// For commuting (here diagonal) matrices the geometric mean is the
	// entrywise geometric mean of the eigenvalues.
	ops := NewOperators(harmonize.DefaultConfig())
	a := dm.NewSPD(mat.NewSymDense(2, []float64{1, 0, 0, 4}))
	b := dm.NewSPD(mat.NewSymDense(2, []float64{4, 0, 0, 1}))

	mean, err := ops.GeometricMean(context.Background(), []dm.SPD{a, b})
	if err != nil {
		t.Fatalf("GeometricMean failed: %v", err)
	}
	if math.Abs(mean.Sym.At(0, 0)-2) > 1e-5 || math.Abs(mean.Sym.At(1, 1)-2) > 1e-5 {
		t.Errorf("Expected diag(2, 2), got diag(%f, %f)", mean.Sym.At(0, 0), mean.Sym.At(1, 1))
	}
}

func TestGeometricMean_SingleSample(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	ops := NewOperators(harmonize.DefaultConfig())
	m := randomSPD(t, rng, 3)

	mean, err := ops.GeometricMean(context.Background(), []dm.SPD{m})
	if err != nil {
		t.Fatalf("GeometricMean failed: %v", err)
	}
	if diff := maxAbsDiff(m.Sym, mean.Sym); diff != 0 {
		t.Errorf("Single-sample mean should be an exact copy, drifted by %g", diff)
	}
}

func TestGeometricMean_NonConvergenceAtCap(t *testing.T) {
	rng := rand.New(rand.NewSource(6))
	cfg := harmonize.DefaultConfig()
	cfg.MeanMaxIter = 1
	cfg.MeanTolerance = 1e-15
	ops := NewOperators(cfg)

	samples := []dm.SPD{randomSPD(t, rng, 3), randomSPD(t, rng, 3), randomSPD(t, rng, 3)}
	_, err := ops.GeometricMean(context.Background(), samples)
	if !errors.Is(err, core.ErrManifoldMeanNonConvergence) {
		t.Fatalf("Expected ErrManifoldMeanNonConvergence, got %v", err)
	}
}

func TestGeometricMean_DimensionMismatchRejected(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	ops := NewOperators(harmonize.DefaultConfig())
	samples := []dm.SPD{randomSPD(t, rng, 3), randomSPD(t, rng, 4)}
	_, err := ops.GeometricMean(context.Background(), samples)
	if !errors.Is(err, core.ErrShapeMismatch) {
		t.Fatalf("Expected ErrShapeMismatch, got %v", err)
	}
}
