// Package combat implements empirical-Bayes location/scale harmonization
// of feature matrices across acquisition sites. The fit step standardizes
// every feature against the pooled population, estimates naive per-site
// shifts, and shrinks them toward cross-feature priors; the transform step
// removes the shrunk site effects and restores the pooled moments.
package combat

import (
	"context"
	"fmt"
	"math"
	"runtime"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"

	"neuroharmony/domain/core"
	"neuroharmony/domain/harmonize"
)

// Engine fits and applies ComBat models. An Engine carries no state
// between calls; every tunable comes in through the Config.
type Engine struct {
	cfg harmonize.Config
}

// NewEngine creates an engine with the given configuration
func NewEngine(cfg harmonize.Config) *Engine {
	return &Engine{cfg: cfg}
}

// Fit estimates a ComBat model from one feature matrix and its design.
// Covariate columns are part of the mean model throughout, so their
// associated variance never enters the site-effect estimates.
func (e *Engine) Fit(ctx context.Context, features *harmonize.FeatureMatrix, design *harmonize.Design) (*harmonize.ComBatModel, error) {
	if err := features.Validate(); err != nil {
		return nil, err
	}
	if features.NumSamples() != design.NumSamples() {
		return nil, fmt.Errorf("%w: %d feature rows, %d design rows",
			core.ErrShapeMismatch, features.NumSamples(), design.NumSamples())
	}

	p := features.NumFeatures()
	k := design.NumSites()

	st, err := e.standardize(ctx, features, design)
	if err != nil {
		return nil, err
	}

	// Naive per-site method-of-moments estimates. Features are independent
	// here; the shrinkage step below is the barrier that needs them all.
	gammaHat := newGrid(k, p)
	deltaHat := newGrid(k, p)
	siteRows := make([][]int, k)
	for i := 0; i < k; i++ {
		siteRows[i] = design.SiteSamples(i)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers())
	for j := 0; j < p; j++ {
		if st.zeroVar[j] {
			continue
		}
		j := j
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			for i := 0; i < k; i++ {
				rows := siteRows[i]
				m := 0.0
				for _, s := range rows {
					m += st.z[s][j]
				}
				m /= float64(len(rows))
				v := 0.0
				for _, s := range rows {
					d := st.z[s][j] - m
					v += d * d
				}
				v /= float64(len(rows) - 1)
				gammaHat[i][j] = m
				deltaHat[i][j] = v
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// A site that is constant in a feature has no within-site scale
	// estimate; the scale correction would divide by zero. Such features
	// join the zero-variance pass-through set.
	for j := 0; j < p; j++ {
		if st.zeroVar[j] {
			continue
		}
		for i := 0; i < k; i++ {
			if deltaHat[i][j] <= 0 {
				st.zeroVar[j] = true
				break
			}
		}
	}

	// Empirical-Bayes shrinkage, one fixed-point solve per site.
	gammaStar := newGrid(k, p)
	deltaStar := newGrid(k, p)
	priors := make([]harmonize.SitePrior, k)
	iterations := make([]int, k)

	for i := 0; i < k; i++ {
		prior := seedPrior(gammaHat[i], deltaHat[i], st.zeroVar)
		priors[i] = prior

		gs, ds, iters, err := e.solveSite(ctx, st.z, siteRows[i], gammaHat[i], deltaHat[i], prior, st.zeroVar)
		if err != nil {
			return nil, fmt.Errorf("site %q: %w", design.SiteLevels[i], err)
		}
		gammaStar[i] = gs
		deltaStar[i] = ds
		iterations[i] = iters
	}

	var covCoef [][]float64
	if design.NumCovariates() > 0 {
		covCoef = st.covCoef
	}

	return &harmonize.ComBatModel{
		ID:            core.NewID(),
		SiteLevels:    append([]string(nil), design.SiteLevels...),
		Features:      append([]string(nil), features.Names...),
		GrandMean:     st.grandMean,
		PooledVar:     st.pooledVar,
		CovariateCoef: covCoef,
		GammaStar:     gammaStar,
		DeltaStar:     deltaStar,
		Priors:        priors,
		ZeroVariance:  st.zeroVar,
		Iterations:    iterations,
		FittedAt:      core.Now(),
	}, nil
}

// Transform removes the fitted site effects from each sample and re-adds
// the pooled grand mean and variance. It is a pure function of its inputs:
// the result has the same shape and feature order, zero-variance features
// pass through unmodified, and mismatching inputs fail loudly.
func (e *Engine) Transform(features *harmonize.FeatureMatrix, model *harmonize.ComBatModel, design *harmonize.Design) (*harmonize.FeatureMatrix, error) {
	if err := features.Validate(); err != nil {
		return nil, err
	}
	if features.NumSamples() != design.NumSamples() {
		return nil, fmt.Errorf("%w: %d feature rows, %d design rows",
			core.ErrShapeMismatch, features.NumSamples(), design.NumSamples())
	}
	if len(model.Features) != features.NumFeatures() {
		return nil, fmt.Errorf("%w: model fitted on %d features, input has %d",
			core.ErrShapeMismatch, len(model.Features), features.NumFeatures())
	}
	if len(model.SiteLevels) != design.NumSites() {
		return nil, fmt.Errorf("%w: model fitted on %d sites, design has %d",
			core.ErrShapeMismatch, len(model.SiteLevels), design.NumSites())
	}
	for i, lv := range model.SiteLevels {
		if design.SiteLevels[i] != lv {
			return nil, fmt.Errorf("%w: site level %d is %q in design, %q in model",
				core.ErrShapeMismatch, i, design.SiteLevels[i], lv)
		}
	}

	k := design.NumSites()
	out := features.Clone()
	for s, row := range out.Data {
		site := design.SiteIndex[s]
		for j := range row {
			if model.ZeroVariance[j] {
				continue
			}
			sm := model.GrandMean[j]
			for q := range model.CovariateCoef {
				sm += design.Matrix[s][k+q] * model.CovariateCoef[q][j]
			}
			sd := math.Sqrt(model.PooledVar[j])
			z := (row[j] - sm) / sd
			z = (z - model.GammaStar[site][j]) / math.Sqrt(model.DeltaStar[site][j])
			row[j] = z*sd + sm
		}
	}
	return out, nil
}

// standardized holds the pooled standardization of one fit
type standardized struct {
	z         [][]float64 // n x p, zero mean unit variance pooled across sites
	grandMean []float64
	pooledVar []float64
	covCoef   [][]float64 // c x p
	zeroVar   []bool
}

// standardize regresses features on the full design, pools the residual
// variance across all samples ignoring site, and scales each feature to
// zero mean and unit variance. Covariate effects stay in the mean model.
func (e *Engine) standardize(ctx context.Context, features *harmonize.FeatureMatrix, design *harmonize.Design) (*standardized, error) {
	n := features.NumSamples()
	p := features.NumFeatures()
	k := design.NumSites()
	c := design.NumCovariates()

	D := mat.NewDense(n, k+c, nil)
	for s, row := range design.Matrix {
		D.SetRow(s, row)
	}
	X := mat.NewDense(n, p, nil)
	for s, row := range features.Data {
		X.SetRow(s, row)
	}

	// Least-squares coefficients for all features at once
	var B mat.Dense
	if err := B.Solve(D, X); err != nil {
		return nil, fmt.Errorf("%w: design matrix is rank deficient: %v", core.ErrShapeMismatch, err)
	}

	// Grand mean weights site coefficients by site proportion
	grandMean := make([]float64, p)
	for j := 0; j < p; j++ {
		for i := 0; i < k; i++ {
			grandMean[j] += float64(design.SiteCounts[i]) / float64(n) * B.At(i, j)
		}
	}

	covCoef := make([][]float64, c)
	for q := 0; q < c; q++ {
		covCoef[q] = make([]float64, p)
		for j := 0; j < p; j++ {
			covCoef[q][j] = B.At(k+q, j)
		}
	}

	// Pooled residual variance, ignoring site membership
	var fitted mat.Dense
	fitted.Mul(D, &B)
	pooledVar := make([]float64, p)
	for j := 0; j < p; j++ {
		ss := 0.0
		for s := 0; s < n; s++ {
			r := X.At(s, j) - fitted.At(s, j)
			ss += r * r
		}
		pooledVar[j] = ss / float64(n)
	}

	zeroVar := make([]bool, p)
	z := make([][]float64, n)
	for s := range z {
		z[s] = make([]float64, p)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers())
	for j := 0; j < p; j++ {
		if pooledVar[j] <= 0 {
			// Cannot standardize by zero; flagged and passed through.
			zeroVar[j] = true
			continue
		}
		j := j
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			sd := math.Sqrt(pooledVar[j])
			for s := 0; s < n; s++ {
				sm := grandMean[j]
				for q := 0; q < c; q++ {
					sm += design.Matrix[s][k+q] * covCoef[q][j]
				}
				z[s][j] = (features.Data[s][j] - sm) / sd
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &standardized{
		z:         z,
		grandMean: grandMean,
		pooledVar: pooledVar,
		covCoef:   covCoef,
		zeroVar:   zeroVar,
	}, nil
}

func (e *Engine) workers() int {
	if e.cfg.ParallelWorkers > 0 {
		return e.cfg.ParallelWorkers
	}
	return runtime.GOMAXPROCS(0)
}

func newGrid(rows, cols int) [][]float64 {
	g := make([][]float64, rows)
	for i := range g {
		g[i] = make([]float64, cols)
	}
	return g
}
