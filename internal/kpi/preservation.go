package kpi

import (
	"gonum.org/v1/gonum/stat"

	"neuroharmony/domain/harmonize"
	"neuroharmony/domain/kpi"
)

// PreservationDeltas reports how much each feature~covariate regression
// slope moved across harmonization. Covariates carry biological signal
// the model must protect; a slope that shifts materially means the
// correction removed more than site bias.
func PreservationDeltas(pre, post *harmonize.FeatureMatrix, covariates *harmonize.Covariates) []kpi.PreservationDelta {
	if covariates.NumCovariates() == 0 || pre.NumSamples() != post.NumSamples() {
		return nil
	}

	out := make([]kpi.PreservationDelta, 0, pre.NumFeatures()*covariates.NumCovariates())
	for q, covName := range covariates.Names {
		x := make([]float64, len(covariates.Values))
		for s, row := range covariates.Values {
			x[s] = row[q]
		}
		for j, featName := range pre.Names {
			_, slopePre := stat.LinearRegression(x, pre.Column(j), nil, false)
			_, slopePost := stat.LinearRegression(x, post.Column(j), nil, false)
			out = append(out, kpi.PreservationDelta{
				Feature:   featName,
				Covariate: covName,
				SlopePre:  slopePre,
				SlopePost: slopePost,
				Delta:     slopePost - slopePre,
			})
		}
	}
	return out
}
