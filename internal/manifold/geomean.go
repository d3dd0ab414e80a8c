package manifold

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"

	"neuroharmony/domain/core"
	dm "neuroharmony/domain/manifold"
)

// GeometricMean computes the Fréchet mean of an SPD population under the
// affine-invariant metric by fixed-point iteration: log-map every sample
// at the current estimate, average the tangents, and recenter through the
// exp-map until the Frobenius norm of the mean tangent falls below the
// configured tolerance.
//
// The outer iteration is inherently sequential; only the per-sample
// averaging inside one iteration runs in parallel. Cancellation is checked
// between iterations.
func (o *Operators) GeometricMean(ctx context.Context, samples []dm.SPD) (dm.SPD, error) {
	if len(samples) == 0 {
		return dm.SPD{}, fmt.Errorf("%w: empty SPD population", core.ErrShapeMismatch)
	}
	d := samples[0].Dim()
	for i, s := range samples {
		if s.Dim() != d {
			return dm.SPD{}, fmt.Errorf("%w: sample %d is %dx%d, want %dx%d",
				core.ErrShapeMismatch, i, s.Dim(), s.Dim(), d, d)
		}
	}
	if len(samples) == 1 {
		return samples[0].Clone(), nil
	}

	current := arithmeticMean(samples)

	lastNorm := 0.0
	for iter := 1; iter <= o.cfg.MeanMaxIter; iter++ {
		if err := ctx.Err(); err != nil {
			return dm.SPD{}, err
		}

		frame, err := o.NewFrame(current)
		if err != nil {
			return dm.SPD{}, fmt.Errorf("iteration %d: %w", iter, err)
		}

		meanTangent, err := o.averageTangents(ctx, samples, frame)
		if err != nil {
			return dm.SPD{}, fmt.Errorf("iteration %d: %w", iter, err)
		}

		lastNorm = frobeniusNorm(meanTangent)
		if lastNorm < o.cfg.MeanTolerance {
			return current, nil
		}

		next, err := o.ExpMap(meanTangent, frame)
		if err != nil {
			return dm.SPD{}, fmt.Errorf("iteration %d: %w", iter, err)
		}
		current = next
	}

	return dm.SPD{}, core.NewConvergenceError(core.ErrManifoldMeanNonConvergence, o.cfg.MeanMaxIter, lastNorm)
}

// averageTangents log-maps every sample at the frame and averages the
// results. Per-sample maps are independent and run in parallel.
func (o *Operators) averageTangents(ctx context.Context, samples []dm.SPD, frame *dm.TangentSpaceFrame) (*mat.SymDense, error) {
	d := frame.Dim()
	sum := mat.NewSymDense(d, nil)
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.workers())
	for i := range samples {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			t, err := o.LogMap(samples[i], frame)
			if err != nil {
				return fmt.Errorf("sample %d: %w", i, err)
			}
			mu.Lock()
			sum.AddSym(sum, t)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	inv := 1.0 / float64(len(samples))
	out := mat.NewSymDense(d, nil)
	for i := 0; i < d; i++ {
		for j := i; j < d; j++ {
			out.SetSym(i, j, sum.At(i, j)*inv)
		}
	}
	return out, nil
}

func (o *Operators) workers() int {
	if o.cfg.ParallelWorkers > 0 {
		return o.cfg.ParallelWorkers
	}
	return runtime.GOMAXPROCS(0)
}

func arithmeticMean(samples []dm.SPD) dm.SPD {
	d := samples[0].Dim()
	sum := mat.NewSymDense(d, nil)
	for _, s := range samples {
		sum.AddSym(sum, s.Sym)
	}
	inv := 1.0 / float64(len(samples))
	out := mat.NewSymDense(d, nil)
	for i := 0; i < d; i++ {
		for j := i; j < d; j++ {
			out.SetSym(i, j, sum.At(i, j)*inv)
		}
	}
	return dm.NewSPD(out)
}

func frobeniusNorm(s *mat.SymDense) float64 {
	return mat.Norm(s, 2)
}
