package harmonize

import "neuroharmony/domain/core"

// SitePrior holds the empirical-Bayes hyperparameters estimated for one
// site by pooling naive estimates across features: a Normal prior on the
// additive shift and an Inverse-Gamma prior on the multiplicative shift.
type SitePrior struct {
	GammaBar float64 `json:"gamma_bar"` // Normal prior mean on location
	Tau2     float64 `json:"tau2"`      // Normal prior variance on location
	APrior   float64 `json:"a_prior"`   // Inverse-Gamma shape on scale
	BPrior   float64 `json:"b_prior"`   // Inverse-Gamma rate on scale
}

// ComBatModel is the immutable result of a fit step. One model per feature
// type per run: models are never shared across the vector and Riemannian
// pipelines or across datasets.
type ComBatModel struct {
	ID         core.ID  `json:"id"`
	SiteLevels []string `json:"site_levels"`
	Features   []string `json:"features"`

	// Pooled standardization, per feature
	GrandMean []float64 `json:"grand_mean"`
	PooledVar []float64 `json:"pooled_var"`

	// Coefficients for covariate columns, per covariate per feature
	CovariateCoef [][]float64 `json:"covariate_coef,omitempty"`

	// Shrunk site effects: [site][feature]
	GammaStar [][]float64 `json:"gamma_star"`
	DeltaStar [][]float64 `json:"delta_star"` // multiplicative, variance scale

	// Priors the shrinkage converged to, per site
	Priors []SitePrior `json:"priors"`

	// Features without a usable scale estimate are passed through
	// unmodified and flagged here instead of raising a division error.
	// That covers zero pooled variance and any site that is constant
	// in the feature.
	ZeroVariance []bool `json:"zero_variance"`

	Iterations []int          `json:"iterations"` // per-site fixed-point iterations used
	FittedAt   core.Timestamp `json:"fitted_at"`
}

// NumZeroVariance counts flagged pass-through features
func (m *ComBatModel) NumZeroVariance() int {
	n := 0
	for _, z := range m.ZeroVariance {
		if z {
			n++
		}
	}
	return n
}
