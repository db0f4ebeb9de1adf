package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the lifecycle point an Event reports.
type Stage string

// Supported stages.
const (
	StageJobStart    Stage = "JOB_START"
	StageJobProgress Stage = "JOB_PROGRESS"
	StageJobDone     Stage = "JOB_DONE"
	StageJobError    Stage = "JOB_ERROR"
)

// Terminal reports whether the stage ends a run.
func (s Stage) Terminal() bool {
	return s == StageJobDone || s == StageJobError
}

// Event is a single progress report for one run.
type Event struct {
	// RunID identifies the client-side attempt.
	RunID uuid.UUID
	// TS is the UTC time the emitter observed the change.
	TS    time.Time
	Stage Stage
	// Job is the job name, e.g. "bundles".
	Job string
	// Fraction is the indicator value in [0,1]; only meaningful for JOB_PROGRESS.
	Fraction float64
	// Raw is the algorithmProcess value the backend reported.
	Raw float64
	// Dur is the run's elapsed time on terminal stages.
	Dur time.Duration
	// Note carries the error text for JOB_ERROR.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == uuid.Nil {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	if e.Job == "" {
		return errors.New("job is required")
	}
	switch e.Stage {
	case StageJobStart, StageJobDone, StageJobError:
	case StageJobProgress:
		if e.Fraction < 0 || e.Fraction > 1 {
			return fmt.Errorf("fraction %v out of range", e.Fraction)
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}
