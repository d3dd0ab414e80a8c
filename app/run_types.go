package app

import (
	"fmt"

	"neuroharmony/domain/core"
	"neuroharmony/domain/harmonize"
	"neuroharmony/domain/kpi"
	dm "neuroharmony/domain/manifold"
)

// RunKind selects the harmonization path. The two payloads are a tagged
// variant consumed by one orchestrator instead of type-inspection
// branching.
type RunKind string

const (
	RunVector     RunKind = "vector"
	RunRiemannian RunKind = "riemannian"
)

// RunInput is the full input of one harmonization run
type RunInput struct {
	Kind RunKind

	// Vector payload
	Features *harmonize.FeatureMatrix

	// Riemannian payload
	SPDs []dm.SPD

	// Shared across both payloads
	Sites      harmonize.SiteLabels
	Covariates *harmonize.Covariates
	Gates      []kpi.GateSpec
	Config     harmonize.Config
}

// Validate checks that the tagged payload matches the kind
func (in *RunInput) Validate() error {
	if err := in.Config.Validate(); err != nil {
		return err
	}
	switch in.Kind {
	case RunVector:
		if in.Features == nil {
			return fmt.Errorf("%w: vector run without feature matrix", core.ErrShapeMismatch)
		}
		if err := in.Features.Validate(); err != nil {
			return err
		}
		if in.Features.NumSamples() != len(in.Sites) {
			return fmt.Errorf("%w: %d samples, %d site labels", core.ErrShapeMismatch,
				in.Features.NumSamples(), len(in.Sites))
		}
	case RunRiemannian:
		if len(in.SPDs) == 0 {
			return fmt.Errorf("%w: riemannian run without SPD samples", core.ErrShapeMismatch)
		}
		if len(in.SPDs) != len(in.Sites) {
			return fmt.Errorf("%w: %d SPD samples, %d site labels", core.ErrShapeMismatch,
				len(in.SPDs), len(in.Sites))
		}
	default:
		return fmt.Errorf("unknown run kind %q", in.Kind)
	}
	return in.Covariates.Validate(len(in.Sites))
}

// RunResult packages everything a run produced. All state is owned by the
// run: nothing here is shared with or reused by a later run.
type RunResult struct {
	RunID core.RunID `json:"run_id"`
	Kind  RunKind    `json:"kind"`

	// NoOp marks a single-site input: the output equals the input and no
	// correction was applied; this is reported, never silently skipped.
	NoOp       bool   `json:"no_op"`
	NoOpReason string `json:"no_op_reason,omitempty"`

	HarmonizedFeatures *harmonize.FeatureMatrix `json:"harmonized_features,omitempty"`
	HarmonizedSPDs     []dm.SPD                 `json:"-"`
	Failures           []dm.SampleFailure       `json:"failures,omitempty"`

	Model  *harmonize.ComBatModel `json:"model,omitempty"`
	Report *kpi.Report            `json:"report,omitempty"`

	Config     harmonize.Config `json:"config"`
	StartedAt  core.Timestamp   `json:"started_at"`
	FinishedAt core.Timestamp   `json:"finished_at"`
}
