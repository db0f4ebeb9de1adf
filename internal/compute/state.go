package compute

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Run identifies the job currently in flight.
type Run struct {
	ID        uuid.UUID `json:"run_id"`
	Job       string    `json:"job"`
	Endpoint  string    `json:"endpoint"`
	StartedAt time.Time `json:"started_at"`
}

// Result is how a finished run ended.
type Result struct {
	Run
	FinishedAt time.Time `json:"finished_at"`
	Success    bool      `json:"success"`
	// Error is empty on success.
	Error string `json:"error,omitempty"`
}

// Status is a point-in-time copy of State.
type Status struct {
	Running  bool    `json:"running"`
	Run      *Run    `json:"run,omitempty"`
	Fraction float64 `json:"fraction"`
	Last     *Result `json:"last_result,omitempty"`
}

// State holds the running flag shared by the runner, its poller and the API.
// The zero value is idle and ready to use.
type State struct {
	mu       sync.Mutex
	running  bool
	run      Run
	fraction float64
	last     *Result
}

// TryStart marks run as running unless another run already is.
func (s *State) TryStart(run Run) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return false
	}
	s.running = true
	s.run = run
	s.fraction = 0
	return true
}

// Finish clears the flag if id is the active run and records result.
func (s *State) Finish(id uuid.UUID, result Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running || s.run.ID != id {
		return
	}
	s.running = false
	s.run = Run{}
	s.last = &result
}

// Running reports the flag.
func (s *State) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Active returns the running run, if any.
func (s *State) Active() (Run, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.run, s.running
}

// SetFraction stores fraction for id. It reports false when id is no longer active.
func (s *State) SetFraction(id uuid.UUID, fraction float64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running || s.run.ID != id {
		return false
	}
	s.fraction = fraction
	return true
}

// Snapshot copies the state.
func (s *State) Snapshot() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{Running: s.running}
	if s.running {
		run := s.run
		st.Run = &run
		st.Fraction = s.fraction
	}
	if s.last != nil {
		last := *s.last
		st.Last = &last
	}
	return st
}
