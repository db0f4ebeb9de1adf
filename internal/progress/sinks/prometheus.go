package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/mapcompute/internal/progress"
)

// Result labels.
const (
	resultSuccess = "success"
	resultError   = "error"
)

// PrometheusSink exports run lifecycle and progress metrics.
type PrometheusSink struct {
	runsStarted   *prometheus.CounterVec
	runsCompleted *prometheus.CounterVec
	runsRunning   prometheus.Gauge
	runRuntime    *prometheus.HistogramVec
	progress      *prometheus.GaugeVec
	polls         *prometheus.CounterVec

	mu      sync.Mutex
	running map[uuid.UUID]string
}

// NewPrometheusSink registers the collectors against reg (the default registerer when nil).
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mapcompute_runs_started_total",
			Help: "Compute runs started, by job.",
		}, []string{"job"}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mapcompute_runs_completed_total",
			Help: "Compute runs finished, by job and result.",
		}, []string{"job", "result"}),
		runsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mapcompute_runs_running",
			Help: "Compute runs currently in flight.",
		}),
		runRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mapcompute_run_duration_seconds",
			Help:    "Wall time per finished run.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		}, []string{"job", "result"}),
		progress: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mapcompute_run_progress_ratio",
			Help: "Last reported progress fraction, by job.",
		}, []string{"job"}),
		polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mapcompute_progress_polls_total",
			Help: "Successful progress polls, by job.",
		}, []string{"job"}),
		running: make(map[uuid.UUID]string),
	}
	for _, c := range []prometheus.Collector{
		s.runsStarted, s.runsCompleted, s.runsRunning, s.runRuntime, s.progress, s.polls,
	} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		switch evt.Stage {
		case progress.StageJobStart:
			s.runsStarted.WithLabelValues(evt.Job).Inc()
			s.progress.WithLabelValues(evt.Job).Set(0)
			if s.track(evt.RunID, evt.Job) {
				s.runsRunning.Inc()
			}
		case progress.StageJobProgress:
			s.polls.WithLabelValues(evt.Job).Inc()
			s.progress.WithLabelValues(evt.Job).Set(evt.Fraction)
		case progress.StageJobDone:
			s.finish(evt, resultSuccess)
		case progress.StageJobError:
			s.finish(evt, resultError)
		}
	}
	return nil
}

func (s *PrometheusSink) finish(evt progress.Event, result string) {
	s.runsCompleted.WithLabelValues(evt.Job, result).Inc()
	if evt.Dur > 0 {
		s.runRuntime.WithLabelValues(evt.Job, result).Observe(evt.Dur.Seconds())
	}
	if s.untrack(evt.RunID) {
		s.runsRunning.Dec()
	}
}

func (s *PrometheusSink) track(id uuid.UUID, job string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.running[id]; ok {
		return false
	}
	s.running[id] = job
	return true
}

func (s *PrometheusSink) untrack(id uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.running[id]; !ok {
		return false
	}
	delete(s.running, id)
	return true
}

// Close implements progress.Sink.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
