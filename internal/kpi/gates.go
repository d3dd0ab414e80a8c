package kpi

import (
	"fmt"

	"neuroharmony/domain/core"
	"neuroharmony/domain/harmonize"
	"neuroharmony/domain/kpi"
)

// EvaluateGates checks each tracked ERP component against its tolerance
// band. The pre and post matrices must cover the same samples in the same
// order so differences are paired. A gate fails when the fraction of
// samples whose |post - pre| exceeds the tolerance surpasses maxExceed;
// failures are reported, never fatal, because they signal probable
// over-correction that the caller must judge.
func EvaluateGates(pre, post *harmonize.FeatureMatrix, specs []kpi.GateSpec, maxExceed float64) ([]kpi.GateResult, error) {
	if pre.NumSamples() != post.NumSamples() {
		return nil, fmt.Errorf("%w: pre has %d samples, post has %d",
			core.ErrShapeMismatch, pre.NumSamples(), post.NumSamples())
	}

	results := make([]kpi.GateResult, 0, len(specs))
	for _, spec := range specs {
		j := pre.FeatureIndex(spec.Feature)
		if j < 0 || post.FeatureIndex(spec.Feature) != j {
			return nil, fmt.Errorf("%w: gate %s/%s tracks unknown feature %q",
				core.ErrShapeMismatch, spec.Component, spec.Metric, spec.Feature)
		}
		if spec.Tolerance <= 0 {
			return nil, fmt.Errorf("gate %s/%s: tolerance must be positive", spec.Component, spec.Metric)
		}

		exceeded := 0
		worst := 0.0
		n := pre.NumSamples()
		for s := 0; s < n; s++ {
			delta := post.Data[s][j] - pre.Data[s][j]
			if delta < 0 {
				delta = -delta
			}
			if delta > worst {
				worst = delta
			}
			if delta > spec.Tolerance {
				exceeded++
			}
		}

		fraction := float64(exceeded) / float64(n)
		results = append(results, kpi.GateResult{
			Spec:           spec,
			Passed:         fraction <= maxExceed,
			ExceedFraction: fraction,
			MaxExceed:      maxExceed,
			Margin:         maxExceed - fraction,
			WorstDelta:     worst,
		})
	}
	return results, nil
}
