package ports

import (
	"context"

	"neuroharmony/domain/core"
	"neuroharmony/domain/harmonize"
	"neuroharmony/domain/kpi"
)

// RunRecord is the persistence-facing view of a finished run. Persistence
// is an external collaborator of the core: the record carries only what
// downstream reporting needs, not the harmonized data itself.
type RunRecord struct {
	ID        core.RunID       `json:"id" db:"id"`
	Kind      string           `json:"kind" db:"kind"`
	NoOp      bool             `json:"no_op" db:"no_op"`
	Config    harmonize.Config `json:"config"`
	Report    *kpi.Report      `json:"report"`
	CreatedAt core.Timestamp   `json:"created_at" db:"created_at"`
}

// RunSummary is a listing row
type RunSummary struct {
	ID        core.RunID     `json:"id" db:"id"`
	Kind      string         `json:"kind" db:"kind"`
	NoOp      bool           `json:"no_op" db:"no_op"`
	CreatedAt core.Timestamp `json:"created_at" db:"created_at"`
}

// RunRepository persists run records and their KPI reports
type RunRepository interface {
	Save(ctx context.Context, record *RunRecord) error
	GetByID(ctx context.Context, id core.RunID) (*RunRecord, error)
	List(ctx context.Context, limit int) ([]RunSummary, error)
}
