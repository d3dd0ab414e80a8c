package ports

import (
	"context"

	"neuroharmony/domain/harmonize"
)

// FeatureSource loads an aligned dataset (feature matrix, site labels,
// covariates) from an upstream collaborator such as a tabular export of
// the spectral-feature pipeline.
type FeatureSource interface {
	Load(ctx context.Context) (*harmonize.Dataset, error)
}
