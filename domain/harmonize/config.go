package harmonize

import "fmt"

// Config carries every tunable of a harmonization run. It is threaded
// explicitly into fit and evaluate calls so concurrent runs with different
// tolerances cannot interfere through package-level state.
type Config struct {
	// Empirical-Bayes fixed-point loop (vector ComBat)
	CombatTolerance float64 `json:"combat_tolerance"`
	CombatMaxIter   int     `json:"combat_max_iter"`

	// Geometric-mean fixed-point loop (SPD manifold)
	MeanTolerance float64 `json:"mean_tolerance"`
	MeanMaxIter   int     `json:"mean_max_iter"`

	// Eigenvalue floor for SPD verification and the jitter added after
	// exp-map rebuilds
	SPDTolerance float64 `json:"spd_tolerance"`
	SPDJitter    float64 `json:"spd_jitter"`

	// KPI evaluation
	LeakageFolds    int     `json:"leakage_folds"`
	GateMaxExceed   float64 `json:"gate_max_exceed"` // fraction of samples allowed outside tolerance
	Seed            int64   `json:"seed"`
	ParallelWorkers int     `json:"parallel_workers"` // 0 = GOMAXPROCS
}

// DefaultConfig returns the engineering defaults. The ComBat tolerance and
// prior seeding are tunable because the upstream parameterization is not a
// verified match to any single reference run.
func DefaultConfig() Config {
	return Config{
		CombatTolerance: 1e-4,
		CombatMaxIter:   100,
		MeanTolerance:   1e-6,
		MeanMaxIter:     50,
		SPDTolerance:    1e-10,
		SPDJitter:       1e-9,
		LeakageFolds:    5,
		GateMaxExceed:   0.10,
		Seed:            42,
	}
}

// Validate rejects configurations that would make the loops degenerate
func (c Config) Validate() error {
	if c.CombatTolerance <= 0 || c.MeanTolerance <= 0 {
		return fmt.Errorf("tolerances must be positive")
	}
	if c.CombatMaxIter < 1 || c.MeanMaxIter < 1 {
		return fmt.Errorf("iteration caps must be at least 1")
	}
	if c.LeakageFolds < 2 {
		return fmt.Errorf("leakage folds must be at least 2")
	}
	if c.GateMaxExceed < 0 || c.GateMaxExceed > 1 {
		return fmt.Errorf("gate exceed fraction must be in [0,1]")
	}
	return nil
}
