package sinks

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/mapcompute/internal/progress"
	"github.com/JakeFAU/mapcompute/internal/store"
)

// StoreSink persists run history through a store.RunRepository. Progress ticks
// within one batch collapse to the last fraction per run.
type StoreSink struct {
	repo   store.RunRepository
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for repo.
func NewStoreSink(repo store.RunRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

// Consume applies the batch in order and returns the first repository error.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	latest := make(map[uuid.UUID]float64)
	var order []uuid.UUID
	flushProgress := func(id uuid.UUID) error {
		fraction, ok := latest[id]
		if !ok {
			return nil
		}
		delete(latest, id)
		if err := s.repo.UpdateProgress(ctx, id, fraction); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				s.logger.Debug("progress for unknown run", zap.Stringer("run_id", id))
				return nil
			}
			return fmt.Errorf("update progress: %w", err)
		}
		return nil
	}

	for _, evt := range batch {
		switch evt.Stage {
		case progress.StageJobStart:
			if err := s.repo.StartRun(ctx, evt.RunID, evt.Job, evt.TS); err != nil {
				return fmt.Errorf("start run: %w", err)
			}
		case progress.StageJobProgress:
			if _, seen := latest[evt.RunID]; !seen {
				order = append(order, evt.RunID)
			}
			latest[evt.RunID] = evt.Fraction
		case progress.StageJobDone, progress.StageJobError:
			if err := flushProgress(evt.RunID); err != nil {
				return err
			}
			status := store.RunSuccess
			var note *string
			if evt.Stage == progress.StageJobError {
				status = store.RunError
				if evt.Note != "" {
					msg := evt.Note
					note = &msg
				}
			}
			if err := s.repo.CompleteRun(ctx, evt.RunID, evt.TS, status, note); err != nil {
				return fmt.Errorf("complete run: %w", err)
			}
		}
	}
	for _, id := range order {
		if err := flushProgress(id); err != nil {
			return err
		}
	}
	return nil
}

// Close implements progress.Sink.
func (s *StoreSink) Close(context.Context) error {
	return nil
}
