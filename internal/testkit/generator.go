// Package testkit generates deterministic multi-site datasets with known
// site effects, used by tests and the demo endpoints.
package testkit

import (
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"neuroharmony/domain/harmonize"
	dm "neuroharmony/domain/manifold"
)

// VectorSpec describes a synthetic spectral-feature dataset
type VectorSpec struct {
	Sites            []string
	SamplesPerSite   int
	NumFeatures      int
	SiteShift        float64 // additive location effect per site index
	SiteScale        float64 // multiplicative scale effect per site index
	CovariateSlope   float64 // slope linking the covariate to feature 0
	IncludeCovariate bool
	Seed             int64
}

// GenerateVector builds a dataset where feature values are standard
// normal noise plus a per-site location/scale effect, and feature 0
// optionally tracks a covariate so preservation can be asserted.
func GenerateVector(spec VectorSpec) *harmonize.Dataset {
	rng := rand.New(rand.NewSource(spec.Seed))

	names := make([]string, spec.NumFeatures)
	for j := range names {
		names[j] = fmt.Sprintf("band_%d", j)
	}

	total := len(spec.Sites) * spec.SamplesPerSite
	data := make([][]float64, 0, total)
	sites := make(harmonize.SiteLabels, 0, total)
	var covValues [][]float64

	for si, site := range spec.Sites {
		shift := spec.SiteShift * float64(si)
		scale := 1.0 + spec.SiteScale*float64(si)
		for s := 0; s < spec.SamplesPerSite; s++ {
			cov := rng.Float64() * 10
			row := make([]float64, spec.NumFeatures)
			for j := range row {
				row[j] = rng.NormFloat64()*scale + shift
			}
			if spec.IncludeCovariate {
				row[0] += spec.CovariateSlope * cov
				covValues = append(covValues, []float64{cov})
			}
			data = append(data, row)
			sites = append(sites, site)
		}
	}

	features, err := harmonize.NewFeatureMatrix(names, data)
	if err != nil {
		panic(err) // generator specs are fixed by the caller
	}

	ds := &harmonize.Dataset{Features: features, Sites: sites}
	if spec.IncludeCovariate {
		ds.Covariates = &harmonize.Covariates{Names: []string{"age"}, Values: covValues}
	}
	return ds
}

// SPDSpec describes a synthetic covariance-matrix dataset
type SPDSpec struct {
	Sites          []string
	SamplesPerSite int
	Dim            int
	SiteGain       float64 // per-site multiplicative bias on the whole matrix
	Seed           int64
}

// GenerateSPD builds per-sample SPD matrices as A·Aᵀ + I perturbations
// of a shared base covariance, scaled by a site-dependent gain.
func GenerateSPD(spec SPDSpec) ([]dm.SPD, harmonize.SiteLabels) {
	rng := rand.New(rand.NewSource(spec.Seed))

	base := randomSPD(rng, spec.Dim, 1.0)

	total := len(spec.Sites) * spec.SamplesPerSite
	samples := make([]dm.SPD, 0, total)
	sites := make(harmonize.SiteLabels, 0, total)

	for si, site := range spec.Sites {
		gain := 1.0 + spec.SiteGain*float64(si)
		for s := 0; s < spec.SamplesPerSite; s++ {
			noise := randomSPD(rng, spec.Dim, 0.1)
			m := mat.NewSymDense(spec.Dim, nil)
			for i := 0; i < spec.Dim; i++ {
				for j := i; j < spec.Dim; j++ {
					m.SetSym(i, j, gain*(base.At(i, j)+noise.At(i, j)))
				}
			}
			samples = append(samples, dm.NewSPD(m))
			sites = append(sites, site)
		}
	}
	return samples, sites
}

// randomSPD returns scale·(A·Aᵀ/dim + I)
func randomSPD(rng *rand.Rand, dim int, scale float64) *mat.SymDense {
	a := mat.NewDense(dim, dim, nil)
	for i := 0; i < dim; i++ {
		for j := 0; j < dim; j++ {
			a.Set(i, j, rng.NormFloat64())
		}
	}
	var aat mat.Dense
	aat.Mul(a, a.T())

	out := mat.NewSymDense(dim, nil)
	for i := 0; i < dim; i++ {
		for j := i; j < dim; j++ {
			v := scale * aat.At(i, j) / float64(dim)
			if i == j {
				v += scale
			}
			out.SetSym(i, j, v)
		}
	}
	return out
}
