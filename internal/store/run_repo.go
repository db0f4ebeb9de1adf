package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("record not found")

// RunStatus mirrors the compute_runs.status column.
type RunStatus string

// Run statuses.
const (
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunError   RunStatus = "error"
)

// Valid reports whether s is a known status.
func (s RunStatus) Valid() bool {
	switch s {
	case RunRunning, RunSuccess, RunError:
		return true
	}
	return false
}

// Run is one client-side attempt at a compute job.
type Run struct {
	ID        uuid.UUID `json:"run_id"`
	Job       string    `json:"job"`
	StartedAt time.Time `json:"started_at"`
	// FinishedAt is nil while the run is in flight.
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Status     RunStatus  `json:"status"`
	// Fraction is the last indicator value reported for the run.
	Fraction     float64 `json:"fraction"`
	ErrorMessage *string `json:"error_message,omitempty"`
}

// ListFilter narrows ListRuns. A nil Status matches every run.
type ListFilter struct {
	Status *RunStatus
	Limit  int
	Offset int
}

// RunRepository persists run history.
type RunRepository interface {
	// StartRun records a new running run. Repeating it for the same ID is a no-op.
	StartRun(ctx context.Context, id uuid.UUID, job string, startedAt time.Time) error
	// UpdateProgress stores the latest fraction for a running run.
	UpdateProgress(ctx context.Context, id uuid.UUID, fraction float64) error
	// CompleteRun marks the run finished with status and optional error text.
	CompleteRun(ctx context.Context, id uuid.UUID, finishedAt time.Time, status RunStatus, errMsg *string) error
	// GetRun loads one run or returns ErrNotFound.
	GetRun(ctx context.Context, id uuid.UUID) (Run, error)
	// ListRuns returns runs newest first.
	ListRuns(ctx context.Context, filter ListFilter) ([]Run, error)
}
