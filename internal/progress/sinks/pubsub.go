package sinks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/mapcompute/internal/progress"
	"github.com/JakeFAU/mapcompute/internal/store"
)

// MessagePublisher publishes one JSON payload with string attributes.
type MessagePublisher interface {
	Publish(ctx context.Context, payload any, attrs map[string]string) (string, error)
}

// RunMessage is the notification sent when a run finishes.
type RunMessage struct {
	RunID      string    `json:"run_id"`
	Job        string    `json:"job"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
	FinishedAt time.Time `json:"finished_at"`
	DurationMs int64     `json:"duration_ms"`
}

// PubSubSink announces finished runs on a topic. Start and progress events
// are skipped.
type PubSubSink struct {
	publisher MessagePublisher
	logger    *zap.Logger
}

// NewPubSubSink wraps publisher.
func NewPubSubSink(publisher MessagePublisher, logger *zap.Logger) *PubSubSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PubSubSink{publisher: publisher, logger: logger}
}

// Consume publishes one message per JOB_DONE or JOB_ERROR event. A failed
// publish does not stop the rest of the batch; all failures are returned joined.
func (s *PubSubSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.publisher == nil {
		return nil
	}
	var errs []error
	for _, evt := range batch {
		if !evt.Stage.Terminal() {
			continue
		}
		msg := RunMessage{
			RunID:      evt.RunID.String(),
			Job:        evt.Job,
			Status:     string(store.RunSuccess),
			FinishedAt: evt.TS,
			DurationMs: evt.Dur.Milliseconds(),
		}
		if evt.Stage == progress.StageJobError {
			msg.Status = string(store.RunError)
			msg.Error = evt.Note
		}
		id, err := s.publisher.Publish(ctx, msg, map[string]string{
			"job":    msg.Job,
			"status": msg.Status,
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("publish run %s: %w", msg.RunID, err))
			continue
		}
		s.logger.Debug("run published", zap.String("run_id", msg.RunID), zap.String("message_id", id))
	}
	return errors.Join(errs...)
}

// Close implements progress.Sink.
func (s *PubSubSink) Close(context.Context) error {
	return nil
}
