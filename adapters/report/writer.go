// Package report renders a finished run into the evaluation summary
// formats downstream tooling consumes: JSON, markdown, and HTML.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gomarkdown/markdown"
	mdhtml "github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"

	"neuroharmony/app"
)

// Writer renders run results into an output directory
type Writer struct {
	outDir string
}

// NewWriter creates a writer rooted at outDir
func NewWriter(outDir string) *Writer {
	return &Writer{outDir: outDir}
}

// WriteAll writes the JSON, markdown, and HTML summaries, returning the
// paths written.
func (w *Writer) WriteAll(result *app.RunResult) (map[string]string, error) {
	if err := os.MkdirAll(w.outDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create report directory: %w", err)
	}

	paths := map[string]string{}

	jsonPath := filepath.Join(w.outDir, "eval_summary.json")
	if err := w.writeJSON(result, jsonPath); err != nil {
		return nil, err
	}
	paths["report_json"] = jsonPath

	md := Markdown(result)
	mdPath := filepath.Join(w.outDir, "eval_summary.md")
	if err := os.WriteFile(mdPath, []byte(md), 0o644); err != nil {
		return nil, fmt.Errorf("failed to write markdown summary: %w", err)
	}
	paths["report_markdown"] = mdPath

	htmlPath := filepath.Join(w.outDir, "eval_summary.html")
	if err := os.WriteFile(htmlPath, RenderHTML(md), 0o644); err != nil {
		return nil, fmt.Errorf("failed to write html summary: %w", err)
	}
	paths["report_html"] = htmlPath

	return paths, nil
}

func (w *Writer) writeJSON(result *app.RunResult, path string) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal run result: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write json summary: %w", err)
	}
	return nil
}

// Markdown builds the harmonization evaluation summary
func Markdown(result *app.RunResult) string {
	var b strings.Builder
	b.WriteString("# Harmonization Evaluation Summary\n\n")
	b.WriteString(fmt.Sprintf("- **Run**: `%s` (%s)\n", result.RunID, result.Kind))
	b.WriteString(fmt.Sprintf("- **Started**: %s\n", result.StartedAt))

	if result.NoOp {
		b.WriteString(fmt.Sprintf("\n**No-op run**: %s\n", result.NoOpReason))
		return b.String()
	}

	r := result.Report
	if r != nil {
		b.WriteString(fmt.Sprintf("- **Sites/Samples/Features**: %d / %d / %d\n", r.NumSites, r.NumSamples, r.NumFeatures))

		if r.SiteVarianceRatio.Pre.Defined && r.SiteVarianceRatio.Post.Defined {
			pre := r.SiteVarianceRatio.Pre.Value
			post := r.SiteVarianceRatio.Post.Value
			b.WriteString(fmt.Sprintf("- **Site-variance ratio**: pre = **%.3f**, post = **%.3f** (Δ = **%.1f pp**)\n",
				pre, post, (pre-post)*100))
		} else {
			b.WriteString("- **Site-variance ratio**: undefined for this dataset\n")
		}

		if r.SiteLeakageAUC.Pre.Defined && r.SiteLeakageAUC.Post.Defined {
			b.WriteString(fmt.Sprintf("- **Site-leakage AUC**: pre = **%.3f**, post = **%.3f** (chance %.3f)\n",
				r.SiteLeakageAUC.Pre.Value, r.SiteLeakageAUC.Post.Value, r.ChanceAUC))
		}

		if len(r.Gates) > 0 {
			b.WriteString("\n## ERP-integrity gates\n")
			for _, g := range r.Gates {
				status := "PASS"
				if !g.Passed {
					status = "FAIL"
				}
				b.WriteString(fmt.Sprintf("- %s %s/%s: %.1f%% of samples outside ±%.3g (limit %.1f%%)\n",
					status, g.Spec.Component, g.Spec.Metric,
					g.ExceedFraction*100, g.Spec.Tolerance, g.MaxExceed*100))
			}
		}

		if len(r.Preservation) > 0 {
			b.WriteString("\n## Covariate preservation\n")
			for _, p := range r.Preservation {
				b.WriteString(fmt.Sprintf("- %s ~ %s: slope %.4f → %.4f (Δ %.4f)\n",
					p.Feature, p.Covariate, p.SlopePre, p.SlopePost, p.Delta))
			}
		}

		if r.FailedSamples > 0 {
			b.WriteString(fmt.Sprintf("\n**%d sample(s) failed manifold back-projection** and carry no harmonized matrix.\n",
				r.FailedSamples))
		}
	}

	b.WriteString("\n## What this means\n")
	b.WriteString("- A lower post-harmonization variance ratio means reduced non-biological site noise.\n")
	b.WriteString("- A post AUC near the chance baseline means the site label is no longer predictable from the features.\n")
	return b.String()
}

// RenderHTML converts the markdown summary to a standalone HTML fragment
func RenderHTML(md string) []byte {
	p := parser.NewWithExtensions(parser.CommonExtensions)
	doc := p.Parse([]byte(md))
	renderer := mdhtml.NewRenderer(mdhtml.RendererOptions{Flags: mdhtml.CommonFlags})
	return markdown.Render(doc, renderer)
}
