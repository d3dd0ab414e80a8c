package harmonize

import (
	"fmt"
	"math"

	"neuroharmony/domain/core"
)

// FeatureMatrix holds one fixed-length named feature vector per sample.
// Rows are samples, columns are features. Every sample carries the same
// feature names in the same order, and no value may be NaN or Inf.
type FeatureMatrix struct {
	Names []string    `json:"names"`
	Data  [][]float64 `json:"data"`
}

// NewFeatureMatrix builds a matrix and validates its shape
func NewFeatureMatrix(names []string, data [][]float64) (*FeatureMatrix, error) {
	fm := &FeatureMatrix{Names: names, Data: data}
	if err := fm.Validate(); err != nil {
		return nil, err
	}
	return fm, nil
}

// NumSamples returns the number of rows
func (fm *FeatureMatrix) NumSamples() int { return len(fm.Data) }

// NumFeatures returns the number of columns
func (fm *FeatureMatrix) NumFeatures() int { return len(fm.Names) }

// Column copies the values of feature j across all samples
func (fm *FeatureMatrix) Column(j int) []float64 {
	col := make([]float64, len(fm.Data))
	for i, row := range fm.Data {
		col[i] = row[j]
	}
	return col
}

// FeatureIndex returns the column index of a named feature, or -1
func (fm *FeatureMatrix) FeatureIndex(name string) int {
	for j, n := range fm.Names {
		if n == name {
			return j
		}
	}
	return -1
}

// Clone returns a deep copy sharing no backing storage
func (fm *FeatureMatrix) Clone() *FeatureMatrix {
	names := make([]string, len(fm.Names))
	copy(names, fm.Names)
	data := make([][]float64, len(fm.Data))
	for i, row := range fm.Data {
		data[i] = make([]float64, len(row))
		copy(data[i], row)
	}
	return &FeatureMatrix{Names: names, Data: data}
}

// Validate enforces rectangular shape and finite values
func (fm *FeatureMatrix) Validate() error {
	p := len(fm.Names)
	if p == 0 {
		return fmt.Errorf("%w: no features", core.ErrShapeMismatch)
	}
	for i, row := range fm.Data {
		if len(row) != p {
			return fmt.Errorf("%w: sample %d has %d values, want %d", core.ErrShapeMismatch, i, len(row), p)
		}
		for j, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("%w: sample %d feature %q", core.ErrMissingValues, i, fm.Names[j])
			}
		}
	}
	return nil
}

// SiteLabels tags each sample with its acquisition site, 1:1 with rows
type SiteLabels []string

// Levels returns the distinct site values in first-appearance order
func (s SiteLabels) Levels() []string {
	seen := make(map[string]bool, len(s))
	levels := make([]string, 0, 4)
	for _, site := range s {
		if !seen[site] {
			seen[site] = true
			levels = append(levels, site)
		}
	}
	return levels
}

// Covariates holds optional per-sample numeric covariate columns whose
// associated variance must survive harmonization (age, task condition).
// Categorical covariates are one-hot encoded upstream.
type Covariates struct {
	Names  []string    `json:"names"`
	Values [][]float64 `json:"values"`
}

// NumCovariates returns the number of covariate columns
func (c *Covariates) NumCovariates() int {
	if c == nil {
		return 0
	}
	return len(c.Names)
}

// Validate checks the covariate block against the expected sample count
func (c *Covariates) Validate(numSamples int) error {
	if c == nil || len(c.Names) == 0 {
		return nil
	}
	if len(c.Values) != numSamples {
		return fmt.Errorf("%w: %d covariate rows for %d samples", core.ErrShapeMismatch, len(c.Values), numSamples)
	}
	for i, row := range c.Values {
		if len(row) != len(c.Names) {
			return fmt.Errorf("%w: covariate row %d has %d values, want %d", core.ErrShapeMismatch, i, len(row), len(c.Names))
		}
		for j, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("%w: covariate row %d column %q", core.ErrMissingValues, i, c.Names[j])
			}
		}
	}
	return nil
}

// Dataset bundles the aligned inputs of one harmonization run
type Dataset struct {
	Features   *FeatureMatrix
	Sites      SiteLabels
	Covariates *Covariates
}

// Validate checks cross-field alignment
func (d *Dataset) Validate() error {
	if d.Features == nil {
		return fmt.Errorf("%w: nil feature matrix", core.ErrShapeMismatch)
	}
	if err := d.Features.Validate(); err != nil {
		return err
	}
	if len(d.Sites) != d.Features.NumSamples() {
		return fmt.Errorf("%w: %d site labels for %d samples", core.ErrShapeMismatch, len(d.Sites), d.Features.NumSamples())
	}
	return d.Covariates.Validate(d.Features.NumSamples())
}
