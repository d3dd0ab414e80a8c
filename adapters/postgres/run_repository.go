// Package postgres persists run records for downstream reporting.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/jmoiron/sqlx"

	"neuroharmony/domain/core"
	"neuroharmony/domain/harmonize"
	"neuroharmony/domain/kpi"
	"neuroharmony/ports"
)

// runRepository implements ports.RunRepository
type runRepository struct {
	db *sqlx.DB
}

// NewRunRepository creates a new run repository
func NewRunRepository(db *sqlx.DB) ports.RunRepository {
	return &runRepository{db: db}
}

// Migrate creates the runs table if it does not exist
func Migrate(db *sqlx.DB) error {
	schema := `CREATE TABLE IF NOT EXISTS harmonization_runs (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		no_op BOOLEAN NOT NULL DEFAULT FALSE,
		config JSONB NOT NULL,
		report JSONB,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create harmonization_runs table: %w", err)
	}
	return nil
}

// Save inserts a finished run record
func (r *runRepository) Save(ctx context.Context, record *ports.RunRecord) error {
	configJSON, err := json.Marshal(record.Config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	var reportJSON []byte
	if record.Report != nil {
		if reportJSON, err = json.Marshal(record.Report); err != nil {
			return fmt.Errorf("failed to marshal report: %w", err)
		}
	}

	query := `INSERT INTO harmonization_runs (id, kind, no_op, config, report, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	_, err = r.db.ExecContext(ctx, query,
		record.ID.String(), record.Kind, record.NoOp, configJSON, reportJSON, record.CreatedAt.Time(),
	)
	if err != nil {
		return fmt.Errorf("failed to save run %s: %w", record.ID, err)
	}
	return nil
}

// GetByID retrieves a run record with its KPI report
func (r *runRepository) GetByID(ctx context.Context, id core.RunID) (*ports.RunRecord, error) {
	query := `SELECT id, kind, no_op, config, report, created_at
		FROM harmonization_runs WHERE id = $1`

	var (
		record     ports.RunRecord
		idStr      string
		configJSON []byte
		reportJSON []byte
		createdAt  sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, query, id.String()).Scan(
		&idStr, &record.Kind, &record.NoOp, &configJSON, &reportJSON, &createdAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: id %s", core.ErrRunNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load run %s: %w", id, err)
	}

	record.ID = core.RunID(idStr)
	if createdAt.Valid {
		record.CreatedAt = core.NewTimestamp(createdAt.Time)
	}

	var config harmonize.Config
	if err := json.Unmarshal(configJSON, &config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config for run %s: %w", id, err)
	}
	record.Config = config

	if len(reportJSON) > 0 {
		var report kpi.Report
		if err := json.Unmarshal(reportJSON, &report); err != nil {
			return nil, fmt.Errorf("failed to unmarshal report for run %s: %w", id, err)
		}
		record.Report = &report
	}
	return &record, nil
}

// List returns the most recent run summaries
func (r *runRepository) List(ctx context.Context, limit int) ([]ports.RunSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, kind, no_op, created_at FROM harmonization_runs
		ORDER BY created_at DESC LIMIT $1`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var out []ports.RunSummary
	for rows.Next() {
		var (
			s         ports.RunSummary
			idStr     string
			createdAt sql.NullTime
		)
		if err := rows.Scan(&idStr, &s.Kind, &s.NoOp, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan run summary: %w", err)
		}
		s.ID = core.RunID(idStr)
		if createdAt.Valid {
			s.CreatedAt = core.NewTimestamp(createdAt.Time)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
