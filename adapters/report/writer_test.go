package report

import (
	"encoding/json"
	"os"
	"strings"
	"testing"

	"neuroharmony/app"
	"neuroharmony/domain/core"
	"neuroharmony/domain/harmonize"
	"neuroharmony/domain/kpi"
)

func exampleResult() *app.RunResult {
	return &app.RunResult{
		RunID: core.RunID("run-123"),
		Kind:  app.RunVector,
		Report: &kpi.Report{
			RunID:       core.RunID("run-123"),
			NumSites:    3,
			NumSamples:  120,
			NumFeatures: 8,
			ChanceAUC:   1.0 / 3.0,
			SiteVarianceRatio: kpi.PairedMetric{
				Pre:  kpi.Defined(0.42),
				Post: kpi.Defined(0.05),
			},
			SiteLeakageAUC: kpi.PairedMetric{
				Pre:  kpi.Defined(0.91),
				Post: kpi.Defined(0.37),
			},
			Gates: []kpi.GateResult{
				{
					Spec:           kpi.GateSpec{Component: "P300", Metric: "amplitude", Feature: "p300_amp", Tolerance: 0.5},
					Passed:         true,
					ExceedFraction: 0.02,
					MaxExceed:      0.10,
					Margin:         0.08,
					WorstDelta:     0.6,
				},
				{
					Spec:           kpi.GateSpec{Component: "N170", Metric: "latency", Feature: "n170_lat", Tolerance: 2},
					Passed:         false,
					ExceedFraction: 0.25,
					MaxExceed:      0.10,
					Margin:         -0.15,
					WorstDelta:     5.1,
				},
			},
			Preservation: []kpi.PreservationDelta{
				{Feature: "alpha_power", Covariate: "age", SlopePre: 0.71, SlopePost: 0.69, Delta: -0.02},
			},
			GeneratedAt: core.Now(),
		},
		Config:     harmonize.DefaultConfig(),
		StartedAt:  core.Now(),
		FinishedAt: core.Now(),
	}
}

func TestMarkdown_FullReport(t *testing.T) {
	md := Markdown(exampleResult())

	for _, want := range []string{
		"# Harmonization Evaluation Summary",
		"run-123",
		"3 / 120 / 8",
		"pre = **0.420**, post = **0.050**",
		"pre = **0.910**, post = **0.370** (chance 0.333)",
		"PASS P300/amplitude",
		"FAIL N170/latency",
		"alpha_power ~ age",
		"## What this means",
	} {
		if !strings.Contains(md, want) {
			t.Errorf("Markdown summary missing %q", want)
		}
	}
}

func TestMarkdown_NoOpRun(t *testing.T) {
	result := &app.RunResult{
		RunID:      core.RunID("run-noop"),
		Kind:       app.RunVector,
		NoOp:       true,
		NoOpReason: "only one site level present",
		StartedAt:  core.Now(),
	}
	md := Markdown(result)
	if !strings.Contains(md, "No-op run") || !strings.Contains(md, "only one site level present") {
		t.Errorf("No-op summary should state the reason, got:\n%s", md)
	}
	if strings.Contains(md, "Site-variance ratio") {
		t.Error("No-op summary should not report metrics")
	}
}

func TestMarkdown_UndefinedMetrics(t *testing.T) {
	result := exampleResult()
	result.Report.SiteVarianceRatio = kpi.PairedMetric{
		Pre:  kpi.Undefined("zero total variance"),
		Post: kpi.Undefined("zero total variance"),
	}
	md := Markdown(result)
	if !strings.Contains(md, "undefined for this dataset") {
		t.Error("Undefined metric should be reported as such, not as a number")
	}
}

func TestRenderHTML(t *testing.T) {
	html := string(RenderHTML("# Title\n\n- **bold** item\n"))
	if !strings.Contains(html, "<h1") || !strings.Contains(html, "<strong>bold</strong>") {
		t.Errorf("Unexpected HTML rendering:\n%s", html)
	}
}

func TestWriteAll(t *testing.T) {
	dir := t.TempDir()
	paths, err := NewWriter(dir).WriteAll(exampleResult())
	if err != nil {
		t.Fatalf("WriteAll failed: %v", err)
	}

	for _, key := range []string{"report_json", "report_markdown", "report_html"} {
		path, ok := paths[key]
		if !ok {
			t.Fatalf("Missing %s in returned paths", key)
		}
		if _, err := os.Stat(path); err != nil {
			t.Fatalf("%s not written: %v", key, err)
		}
	}

	data, err := os.ReadFile(paths["report_json"])
	if err != nil {
		t.Fatalf("Reading json summary failed: %v", err)
	}
	var decoded app.RunResult
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("JSON summary does not decode: %v", err)
	}
	if decoded.RunID != "run-123" {
		t.Errorf("Decoded run id %q, want run-123", decoded.RunID)
	}
	if decoded.Report == nil || decoded.Report.NumSites != 3 {
		t.Error("Decoded report lost its site count")
	}
}
