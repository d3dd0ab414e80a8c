// Package riemann harmonizes SPD-valued samples by reusing the vector
// ComBat engine in the tangent space of the population's geometric mean.
package riemann

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"neuroharmony/domain/core"
	"neuroharmony/domain/harmonize"
	dm "neuroharmony/domain/manifold"
	"neuroharmony/internal/combat"
	"neuroharmony/internal/manifold"
)

// Result bundles the outcome of one Riemannian harmonization. Harmonized
// keeps input order; entries whose exp-map failed carry a zero SPD and an
// entry in Failures. A failed correction is never masked by the
// pre-harmonization matrix.
type Result struct {
	Frame       *dm.TangentSpaceFrame
	Harmonized  []dm.SPD
	Failures    []dm.SampleFailure
	Model       *harmonize.ComBatModel
	TangentPre  *harmonize.FeatureMatrix
	TangentPost *harmonize.FeatureMatrix
}

// Pipeline wires the manifold operators and the vector engine
type Pipeline struct {
	cfg    harmonize.Config
	ops    *manifold.Operators
	engine *combat.Engine
}

// NewPipeline creates a pipeline with the given configuration
func NewPipeline(cfg harmonize.Config) *Pipeline {
	return &Pipeline{
		cfg:    cfg,
		ops:    manifold.NewOperators(cfg),
		engine: combat.NewEngine(cfg),
	}
}

// Harmonize runs the strictly ordered Riemannian pipeline: (1) one shared
// tangent-space frame from the geometric mean of the full
// pre-harmonization population, never per site and never refit
// afterwards; (2) log-map and
// vectorize every sample; (3) vector ComBat fit+transform on the tangent
// vectors; (4) unvectorize and exp-map each corrected vector back through
// the same frame.
func (p *Pipeline) Harmonize(ctx context.Context, samples []dm.SPD, design *harmonize.Design) (*Result, error) {
	if len(samples) != design.NumSamples() {
		return nil, fmt.Errorf("%w: %d SPD samples, %d design rows",
			core.ErrShapeMismatch, len(samples), design.NumSamples())
	}

	reference, err := p.ops.GeometricMean(ctx, samples)
	if err != nil {
		return nil, err
	}
	frame, err := p.ops.NewFrame(reference)
	if err != nil {
		return nil, err
	}

	tangentPre, err := p.logMapAll(ctx, samples, frame)
	if err != nil {
		return nil, err
	}

	model, err := p.engine.Fit(ctx, tangentPre, design)
	if err != nil {
		return nil, err
	}
	tangentPost, err := p.engine.Transform(tangentPre, model, design)
	if err != nil {
		return nil, err
	}

	harmonized, failures, err := p.expMapAll(ctx, tangentPost, frame)
	if err != nil {
		return nil, err
	}

	return &Result{
		Frame:       frame,
		Harmonized:  harmonized,
		Failures:    failures,
		Model:       model,
		TangentPre:  tangentPre,
		TangentPost: tangentPost,
	}, nil
}

// logMapAll projects every sample into the shared frame, in parallel, and
// assembles the tangent vectors into one feature matrix with stable
// coordinate names.
func (p *Pipeline) logMapAll(ctx context.Context, samples []dm.SPD, frame *dm.TangentSpaceFrame) (*harmonize.FeatureMatrix, error) {
	d := frame.Dim()
	data := make([][]float64, len(samples))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers())
	for i := range samples {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			t, err := p.ops.LogMap(samples[i], frame)
			if err != nil {
				return fmt.Errorf("sample %d: %w", i, err)
			}
			data[i] = manifold.Vectorize(t)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return harmonize.NewFeatureMatrix(tangentNames(d), data)
}

// expMapAll maps corrected tangent vectors back to the manifold. Failures
// are per-sample and isolated: the rest of the population is still
// harmonized, and each failure is collected for the caller to judge.
func (p *Pipeline) expMapAll(ctx context.Context, tangent *harmonize.FeatureMatrix, frame *dm.TangentSpaceFrame) ([]dm.SPD, []dm.SampleFailure, error) {
	d := frame.Dim()
	n := tangent.NumSamples()
	out := make([]dm.SPD, n)

	var mu sync.Mutex
	var failures []dm.SampleFailure

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers())
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			t, err := manifold.Unvectorize(tangent.Data[i], d)
			if err != nil {
				return err
			}
			spd, err := p.ops.ExpMap(t, frame)
			if err != nil {
				mu.Lock()
				failures = append(failures, dm.SampleFailure{SampleIndex: i, Reason: err.Error(), Err: err})
				mu.Unlock()
				return nil
			}
			out[i] = spd
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	sort.Slice(failures, func(a, b int) bool { return failures[a].SampleIndex < failures[b].SampleIndex })
	return out, failures, nil
}

func (p *Pipeline) workers() int {
	if p.cfg.ParallelWorkers > 0 {
		return p.cfg.ParallelWorkers
	}
	return runtime.GOMAXPROCS(0)
}

func tangentNames(dim int) []string {
	names := make([]string, 0, manifold.TangentDim(dim))
	for i := 0; i < dim; i++ {
		for j := i; j < dim; j++ {
			names = append(names, fmt.Sprintf("tangent_%d_%d", i, j))
		}
	}
	return names
}
