package combat

import (
	"context"
	"math"

	"neuroharmony/domain/core"
	"neuroharmony/domain/harmonize"
)

// seedPrior pools one site's naive estimates across features into the
// empirical-Bayes hyperparameters: the Normal prior on location takes the
// cross-feature mean and variance of the location estimates, and the
// Inverse-Gamma prior on scale is method-of-moments seeded from the
// cross-feature mean m and variance s2 of the scale estimates.
func seedPrior(gammaHat, deltaHat []float64, skip []bool) harmonize.SitePrior {
	var gs, ds []float64
	for j := range gammaHat {
		if skip[j] {
			continue
		}
		gs = append(gs, gammaHat[j])
		ds = append(ds, deltaHat[j])
	}

	gammaBar := mean(gs)
	tau2 := sampleVar(gs, gammaBar)
	m := mean(ds)
	s2 := sampleVar(ds, m)

	prior := harmonize.SitePrior{GammaBar: gammaBar, Tau2: tau2}
	if s2 > 0 {
		prior.APrior = (2*s2 + m*m) / s2
		prior.BPrior = (m*s2 + m*m*m) / s2
	}
	return prior
}

// solveSite runs the fixed-point update for one site until the largest
// relative parameter change falls below the configured tolerance. A
// degenerate prior (fewer than two usable features) falls back to the
// naive estimates, since there is no cross-feature distribution to shrink
// toward.
func (e *Engine) solveSite(
	ctx context.Context,
	z [][]float64,
	rows []int,
	gammaHat, deltaHat []float64,
	prior harmonize.SitePrior,
	skip []bool,
) (gammaStar, deltaStar []float64, iterations int, err error) {
	p := len(gammaHat)
	gammaStar = append([]float64(nil), gammaHat...)
	deltaStar = append([]float64(nil), deltaHat...)

	if prior.Tau2 <= 0 || prior.APrior == 0 {
		return gammaStar, deltaStar, 0, nil
	}

	ni := float64(len(rows))
	gNew := make([]float64, p)
	dNew := make([]float64, p)

	for iter := 1; iter <= e.cfg.CombatMaxIter; iter++ {
		// Cooperative cancellation between iterations; each iteration
		// works on local snapshots, so aborting here cannot corrupt state.
		if err := ctx.Err(); err != nil {
			return nil, nil, iter, err
		}

		change := 0.0
		for j := 0; j < p; j++ {
			if skip[j] {
				continue
			}
			gNew[j] = (ni*prior.Tau2*gammaHat[j] + deltaStar[j]*prior.GammaBar) /
				(ni*prior.Tau2 + deltaStar[j])

			sum2 := 0.0
			for _, s := range rows {
				d := z[s][j] - gNew[j]
				sum2 += d * d
			}
			dNew[j] = (0.5*sum2 + prior.BPrior) / (ni/2 + prior.APrior - 1)

			change = math.Max(change, relChange(gNew[j], gammaStar[j]))
			change = math.Max(change, relChange(dNew[j], deltaStar[j]))
		}

		for j := 0; j < p; j++ {
			if skip[j] {
				continue
			}
			gammaStar[j] = gNew[j]
			deltaStar[j] = dNew[j]
		}

		if change < e.cfg.CombatTolerance {
			return gammaStar, deltaStar, iter, nil
		}
		if iter == e.cfg.CombatMaxIter {
			return nil, nil, iter, core.NewConvergenceError(core.ErrNonConvergence, iter, change)
		}
	}
	// Unreachable: the loop either converges or errors at the cap.
	return gammaStar, deltaStar, e.cfg.CombatMaxIter, nil
}

func relChange(next, prev float64) float64 {
	denom := math.Abs(prev)
	if denom < 1e-12 {
		denom = 1e-12
	}
	return math.Abs(next-prev) / denom
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	s := 0.0
	for _, x := range xs {
		s += x
	}
	return s / float64(len(xs))
}

func sampleVar(xs []float64, m float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	s := 0.0
	for _, x := range xs {
		d := x - m
		s += d * d
	}
	return s / float64(len(xs)-1)
}
