package ui

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"gonum.org/v1/gonum/mat"

	"neuroharmony/adapters/report"
	"neuroharmony/app"
	"neuroharmony/domain/core"
	"neuroharmony/domain/harmonize"
	"neuroharmony/domain/kpi"
	dm "neuroharmony/domain/manifold"
	"neuroharmony/ports"
)

// runRequest is the wire shape of a harmonization run. SPD samples travel
// as full dense matrices and are symmetrized on decode.
type runRequest struct {
	Kind       string                   `json:"kind"`
	Features   *harmonize.FeatureMatrix `json:"features,omitempty"`
	SPDs       [][][]float64            `json:"spds,omitempty"`
	Sites      []string                 `json:"sites"`
	Covariates *harmonize.Covariates    `json:"covariates,omitempty"`
	Gates      []kpi.GateSpec           `json:"gates,omitempty"`
}

func (a *App) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (a *App) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	input, err := req.toInput(a.cfg)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	result, err := a.service.Run(r.Context(), input)
	if err != nil {
		if core.IsInputValidityError(err) {
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
		a.logger.Error("run failed: %v", err)
		http.Error(w, "harmonization run failed", http.StatusInternalServerError)
		return
	}

	if a.repo != nil {
		record := &ports.RunRecord{
			ID:        result.RunID,
			Kind:      string(result.Kind),
			NoOp:      result.NoOp,
			Config:    result.Config,
			Report:    result.Report,
			CreatedAt: result.FinishedAt,
		}
		if err := a.repo.Save(r.Context(), record); err != nil {
			// The run itself succeeded; persistence trouble should not eat
			// the result.
			a.logger.Error("failed to persist run %s: %v", result.RunID, err)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(result)
}

func (a *App) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if a.repo == nil {
		http.Error(w, "run persistence not configured", http.StatusNotFound)
		return
	}
	limit := 50
	if s := r.URL.Query().Get("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			limit = n
		}
	}
	runs, err := a.repo.List(r.Context(), limit)
	if err != nil {
		a.logger.Error("failed to list runs: %v", err)
		http.Error(w, "failed to list runs", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(runs)
}

func (a *App) handleGetRun(w http.ResponseWriter, r *http.Request) {
	record, ok := a.loadRecord(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(record)
}

func (a *App) handleGetReportMarkdown(w http.ResponseWriter, r *http.Request) {
	record, ok := a.loadRecord(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	fmt.Fprint(w, report.Markdown(recordResult(record)))
}

func (a *App) handleGetReportHTML(w http.ResponseWriter, r *http.Request) {
	record, ok := a.loadRecord(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(report.RenderHTML(report.Markdown(recordResult(record))))
}

func (a *App) loadRecord(w http.ResponseWriter, r *http.Request) (*ports.RunRecord, bool) {
	if a.repo == nil {
		http.Error(w, "run persistence not configured", http.StatusNotFound)
		return nil, false
	}
	id, err := core.ParseRunID(chi.URLParam(r, "runID"))
	if err != nil {
		http.Error(w, "invalid run id", http.StatusBadRequest)
		return nil, false
	}
	record, err := a.repo.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, core.ErrRunNotFound) {
			http.Error(w, "run not found", http.StatusNotFound)
			return nil, false
		}
		a.logger.Error("failed to load run %s: %v", id, err)
		http.Error(w, "failed to load run", http.StatusInternalServerError)
		return nil, false
	}
	return record, true
}

// toInput translates the wire request into the orchestrator's input
func (r *runRequest) toInput(cfg harmonize.Config) (app.RunInput, error) {
	input := app.RunInput{
		Kind:       app.RunKind(r.Kind),
		Features:   r.Features,
		Sites:      harmonize.SiteLabels(r.Sites),
		Covariates: r.Covariates,
		Gates:      r.Gates,
		Config:     cfg,
	}
	for i, raw := range r.SPDs {
		n := len(raw)
		d := mat.NewDense(n, n, nil)
		for row := 0; row < n; row++ {
			if len(raw[row]) != n {
				return app.RunInput{}, fmt.Errorf("spd sample %d: row %d has %d values, want %d", i, row, len(raw[row]), n)
			}
			for col := 0; col < n; col++ {
				d.Set(row, col, raw[row][col])
			}
		}
		spd, err := dm.FromDense(d)
		if err != nil {
			return app.RunInput{}, fmt.Errorf("spd sample %d: %w", i, err)
		}
		input.SPDs = append(input.SPDs, spd)
	}
	return input, nil
}

// recordResult rebuilds a result view for report rendering from a
// persisted record; harmonized data itself is not stored.
func recordResult(record *ports.RunRecord) *app.RunResult {
	return &app.RunResult{
		RunID:      record.ID,
		Kind:       app.RunKind(record.Kind),
		NoOp:       record.NoOp,
		Report:     record.Report,
		Config:     record.Config,
		StartedAt:  record.CreatedAt,
		FinishedAt: record.CreatedAt,
	}
}
