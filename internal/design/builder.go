// Package design turns per-sample site labels and covariates into the
// fixed-effects design consumed by the ComBat engines.
package design

import (
	"fmt"
	"sort"

	"neuroharmony/domain/core"
	"neuroharmony/domain/harmonize"
)

// Build produces the canonical site levels, the design matrix (one
// indicator column per site level followed by one column per covariate),
// and validates that the dataset can support variance estimation.
//
// Validation failures:
//   - core.ErrSingleSite when only one site level is present; the caller
//     must surface the run as a no-op, not silently proceed.
//   - core.ErrInsufficientSiteSamples when any level has fewer than two
//     samples, which makes per-site variance undefined.
func Build(sites harmonize.SiteLabels, covariates *harmonize.Covariates) (*harmonize.Design, error) {
	n := len(sites)
	if n == 0 {
		return nil, fmt.Errorf("%w: no samples", core.ErrShapeMismatch)
	}
	if err := covariates.Validate(n); err != nil {
		return nil, err
	}

	levels := sites.Levels()
	sort.Strings(levels) // canonical ordering, independent of sample order

	if len(levels) < 2 {
		return nil, fmt.Errorf("%w: level %q", core.ErrSingleSite, levels[0])
	}

	levelIndex := make(map[string]int, len(levels))
	for i, lv := range levels {
		levelIndex[lv] = i
	}

	siteIndex := make([]int, n)
	counts := make([]int, len(levels))
	for s, site := range sites {
		i := levelIndex[site]
		siteIndex[s] = i
		counts[i]++
	}
	for i, c := range counts {
		if c < 2 {
			return nil, core.NewSiteSampleError(levels[i], c)
		}
	}

	numCov := covariates.NumCovariates()
	cols := len(levels) + numCov
	matrix := make([][]float64, n)
	for s := 0; s < n; s++ {
		row := make([]float64, cols)
		row[siteIndex[s]] = 1
		for j := 0; j < numCov; j++ {
			row[len(levels)+j] = covariates.Values[s][j]
		}
		matrix[s] = row
	}

	var covNames []string
	if numCov > 0 {
		covNames = append(covNames, covariates.Names...)
	}

	return &harmonize.Design{
		SiteLevels:     levels,
		SiteIndex:      siteIndex,
		SiteCounts:     counts,
		CovariateNames: covNames,
		Matrix:         matrix,
	}, nil
}
