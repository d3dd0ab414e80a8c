package kpi

import "neuroharmony/domain/core"

// MetricValue is a KPI value that may be undefined for degenerate input
// (zero total variance). Undefined metrics are reported as missing, never
// as a fabricated zero, because fallback values in a bias-correction
// pipeline can hide exactly the bias the pipeline exists to detect.
type MetricValue struct {
	Value   float64 `json:"value"`
	Defined bool    `json:"defined"`
	Reason  string  `json:"reason,omitempty"`
}

// Defined wraps a concrete metric value
func Defined(v float64) MetricValue { return MetricValue{Value: v, Defined: true} }

// Undefined marks a metric that could not be computed
func Undefined(reason string) MetricValue { return MetricValue{Defined: false, Reason: reason} }

// PairedMetric holds the pre/post values of one KPI on the same sample set
type PairedMetric struct {
	Pre  MetricValue `json:"pre"`
	Post MetricValue `json:"post"`
}

// Delta returns post minus pre when both sides are defined
func (p PairedMetric) Delta() MetricValue {
	if !p.Pre.Defined || !p.Post.Defined {
		return Undefined("pre or post side undefined")
	}
	return Defined(p.Post.Value - p.Pre.Value)
}

// GateSpec configures one ERP-integrity gate: a tracked component metric
// whose per-sample paired pre/post difference must stay inside a tolerance
// band for all but a configured fraction of samples.
type GateSpec struct {
	Component string  `json:"component"` // e.g. "P300"
	Metric    string  `json:"metric"`    // "amplitude" or "latency"
	Feature   string  `json:"feature"`   // feature column the metric lives in
	Tolerance float64 `json:"tolerance"` // absolute band on |post - pre|
}

// GateResult is the pass/fail outcome of one ERP gate. A failure signals
// likely over-correction and is reported, not fatal.
type GateResult struct {
	Spec           GateSpec `json:"spec"`
	Passed         bool     `json:"passed"`
	ExceedFraction float64  `json:"exceed_fraction"`
	MaxExceed      float64  `json:"max_exceed"` // configured threshold
	Margin         float64  `json:"margin"`     // threshold minus observed fraction
	WorstDelta     float64  `json:"worst_delta"`
}

// PreservationDelta reports the change in the feature~covariate regression
// slope across harmonization; a large shift means biological signal moved.
type PreservationDelta struct {
	Feature   string  `json:"feature"`
	Covariate string  `json:"covariate"`
	SlopePre  float64 `json:"slope_pre"`
	SlopePost float64 `json:"slope_post"`
	Delta     float64 `json:"delta"`
}

// Report is the immutable KPI bundle of one run. Pre and post values are
// always computed on the same sample set so comparisons are paired.
type Report struct {
	RunID core.RunID `json:"run_id"`

	SiteVarianceRatio PairedMetric `json:"site_variance_ratio"`
	SiteLeakageAUC    PairedMetric `json:"site_leakage_auc"`
	ChanceAUC         float64      `json:"chance_auc"` // 1/numSites baseline

	Gates         []GateResult        `json:"gates,omitempty"`
	Preservation  []PreservationDelta `json:"preservation,omitempty"`
	NumSites      int                 `json:"num_sites"`
	NumSamples    int                 `json:"num_samples"`
	NumFeatures   int                 `json:"num_features"`
	GeneratedAt   core.Timestamp      `json:"generated_at"`
	FailedSamples int                 `json:"failed_samples,omitempty"`
}

// AllGatesPassed reports whether every ERP gate held
func (r *Report) AllGatesPassed() bool {
	for _, g := range r.Gates {
		if !g.Passed {
			return false
		}
	}
	return true
}
