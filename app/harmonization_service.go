// Package app sequences a harmonization run: design building, the vector
// or Riemannian ComBat engine, and the KPI evaluation, packaging the
// results into one immutable bundle per run.
package app

import (
	"context"
	"errors"

	"neuroharmony/domain/core"
	"neuroharmony/domain/harmonize"
	dkpi "neuroharmony/domain/kpi"
	dm "neuroharmony/domain/manifold"
	"neuroharmony/internal"
	"neuroharmony/internal/combat"
	"neuroharmony/internal/design"
	"neuroharmony/internal/kpi"
	"neuroharmony/internal/riemann"
)

// HarmonizationService orchestrates runs. Each call to Run owns all of
// its state; fitted models are never cached or shared across datasets,
// which would silently leak information between runs.
type HarmonizationService struct {
	logger *internal.Logger
}

// NewHarmonizationService creates the orchestrator
func NewHarmonizationService(logger *internal.Logger) *HarmonizationService {
	if logger == nil {
		logger = internal.NewDefaultLogger()
	}
	return &HarmonizationService{logger: logger}
}

// Run executes one harmonization run end to end
func (h *HarmonizationService) Run(ctx context.Context, input RunInput) (*RunResult, error) {
	if err := input.Validate(); err != nil {
		return nil, err
	}

	result := &RunResult{
		RunID:     core.RunID(core.NewID()),
		Kind:      input.Kind,
		Config:    input.Config,
		StartedAt: core.Now(),
	}

	d, err := design.Build(input.Sites, input.Covariates)
	if err != nil {
		if errors.Is(err, core.ErrSingleSite) {
			// Harmonization over one site is a no-op by definition; the
			// input passes through untouched and the run says so.
			h.logger.Warn("run %s: %v", result.RunID, err)
			return h.noOpResult(result, input, err), nil
		}
		return nil, err
	}

	h.logger.Info("run %s: %s harmonization over %d sites, %d samples",
		result.RunID, input.Kind, d.NumSites(), d.NumSamples())

	switch input.Kind {
	case RunVector:
		err = h.runVector(ctx, input, d, result)
	case RunRiemannian:
		err = h.runRiemannian(ctx, input, d, result)
	}
	if err != nil {
		return nil, err
	}

	result.FinishedAt = core.Now()
	return result, nil
}

func (h *HarmonizationService) runVector(ctx context.Context, input RunInput, d *harmonize.Design, result *RunResult) error {
	engine := combat.NewEngine(input.Config)

	model, err := engine.Fit(ctx, input.Features, d)
	if err != nil {
		return err
	}
	harmonized, err := engine.Transform(input.Features, model, d)
	if err != nil {
		return err
	}

	result.Model = model
	result.HarmonizedFeatures = harmonized
	result.Report = h.evaluate(result, input, d, input.Features, harmonized, 0)

	if n := model.NumZeroVariance(); n > 0 {
		h.logger.Warn("run %s: %d zero-variance feature(s) passed through unmodified", result.RunID, n)
	}
	return nil
}

func (h *HarmonizationService) runRiemannian(ctx context.Context, input RunInput, d *harmonize.Design, result *RunResult) error {
	pipeline := riemann.NewPipeline(input.Config)

	res, err := pipeline.Harmonize(ctx, input.SPDs, d)
	if err != nil {
		return err
	}

	result.Model = res.Model
	result.HarmonizedSPDs = res.Harmonized
	result.Failures = res.Failures

	// KPIs for the Riemannian path are computed on the tangent-space
	// coordinates, paired through the shared frame.
	result.Report = h.evaluate(result, input, d, res.TangentPre, res.TangentPost, len(res.Failures))

	if len(res.Failures) > 0 {
		h.logger.Warn("run %s: %d sample(s) failed manifold back-projection", result.RunID, len(res.Failures))
	}
	return nil
}

// evaluate computes the paired pre/post KPI report on one sample set
func (h *HarmonizationService) evaluate(result *RunResult, input RunInput, d *harmonize.Design, pre, post *harmonize.FeatureMatrix, failed int) *dkpi.Report {
	report := &dkpi.Report{
		RunID:         result.RunID,
		NumSites:      d.NumSites(),
		NumSamples:    pre.NumSamples(),
		NumFeatures:   pre.NumFeatures(),
		ChanceAUC:     kpi.ChanceAUC(d.NumSites()),
		FailedSamples: failed,
		GeneratedAt:   core.Now(),
	}

	report.SiteVarianceRatio = dkpi.PairedMetric{
		Pre:  kpi.SiteVarianceRatio(pre, d),
		Post: kpi.SiteVarianceRatio(post, d),
	}
	report.SiteLeakageAUC = dkpi.PairedMetric{
		Pre:  kpi.SiteLeakageAUC(pre, d, input.Config.LeakageFolds, input.Config.Seed),
		Post: kpi.SiteLeakageAUC(post, d, input.Config.LeakageFolds, input.Config.Seed),
	}

	if len(input.Gates) > 0 {
		gates, err := kpi.EvaluateGates(pre, post, input.Gates, input.Config.GateMaxExceed)
		if err != nil {
			// Gate misconfiguration is reported on the run, not fatal to
			// an otherwise-valid harmonization.
			h.logger.Error("run %s: gate evaluation: %v", result.RunID, err)
		} else {
			report.Gates = gates
		}
	}

	report.Preservation = kpi.PreservationDeltas(pre, post, input.Covariates)
	return report
}

// noOpResult passes the input through and reports the no-op
func (h *HarmonizationService) noOpResult(result *RunResult, input RunInput, cause error) *RunResult {
	result.NoOp = true
	result.NoOpReason = cause.Error()
	if input.Kind == RunVector {
		result.HarmonizedFeatures = input.Features.Clone()
	} else {
		spds := make([]dm.SPD, len(input.SPDs))
		for i, s := range input.SPDs {
			spds[i] = s.Clone()
		}
		result.HarmonizedSPDs = spds
	}
	result.FinishedAt = core.Now()
	return result
}
