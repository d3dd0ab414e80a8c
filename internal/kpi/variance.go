// Package kpi computes the quality-control metrics that gate a
// harmonization run: residual site bias (variance ratio, leakage AUC) and
// over-correction (ERP-integrity gates, covariate preservation).
package kpi

import (
	"github.com/montanaflynn/stats"

	"neuroharmony/domain/harmonize"
	"neuroharmony/domain/kpi"
)

// SiteVarianceRatio returns the ratio of between-site variance to total
// variance, averaged across features. A feature with zero between-site
// variance contributes 0 (perfect mixing); a feature with zero total
// variance is undefined and excluded. When every feature is degenerate the
// metric itself is undefined.
func SiteVarianceRatio(features *harmonize.FeatureMatrix, design *harmonize.Design) kpi.MetricValue {
	n := features.NumSamples()
	if n == 0 || n != design.NumSamples() {
		return kpi.Undefined("sample count mismatch")
	}

	k := design.NumSites()
	defined := 0
	sum := 0.0

	for j := 0; j < features.NumFeatures(); j++ {
		col := features.Column(j)
		total, err := stats.PopulationVariance(col)
		if err != nil || total == 0 {
			continue
		}

		grand, _ := stats.Mean(col)
		between := 0.0
		for i := 0; i < k; i++ {
			rows := design.SiteSamples(i)
			siteVals := make([]float64, len(rows))
			for r, s := range rows {
				siteVals[r] = col[s]
			}
			siteMean, _ := stats.Mean(siteVals)
			w := float64(len(rows)) / float64(n)
			d := siteMean - grand
			between += w * d * d
		}

		sum += between / total
		defined++
	}

	if defined == 0 {
		return kpi.Undefined("total variance is zero for every feature")
	}
	return kpi.Defined(sum / float64(defined))
}
