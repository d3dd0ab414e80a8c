package harmonize

// Design encodes site membership and covariates as a fixed-effects design.
// Columns are ordered site levels first (one indicator column per level,
// no intercept), then covariate columns. Only the site block is ever
// harmonized away; covariate columns protect biological signal.
type Design struct {
	SiteLevels     []string    `json:"site_levels"`
	SiteIndex      []int       `json:"site_index"` // per-sample index into SiteLevels
	SiteCounts     []int       `json:"site_counts"`
	CovariateNames []string    `json:"covariate_names"`
	Matrix         [][]float64 `json:"-"` // n x (len(SiteLevels)+len(CovariateNames))
}

// NumSamples returns the number of design rows
func (d *Design) NumSamples() int { return len(d.SiteIndex) }

// NumSites returns the number of site levels
func (d *Design) NumSites() int { return len(d.SiteLevels) }

// NumCovariates returns the number of covariate columns
func (d *Design) NumCovariates() int { return len(d.CovariateNames) }

// SiteSamples returns the row indices belonging to site level i
func (d *Design) SiteSamples(i int) []int {
	rows := make([]int, 0, d.SiteCounts[i])
	for s, idx := range d.SiteIndex {
		if idx == i {
			rows = append(rows, s)
		}
	}
	return rows
}
