package compute

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/mapcompute/internal/backend"
	"github.com/JakeFAU/mapcompute/internal/indicator"
	"github.com/JakeFAU/mapcompute/internal/progress"
)

// fakeBackend blocks Trigger until release is called.
type fakeBackend struct {
	mu        sync.Mutex
	endpoints []string
	pingValue float64
	pingErr   error
	pings     atomic.Int32

	gate     chan struct{}
	triggerR backend.JobResponse
	triggerE error
	onceGate sync.Once
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{gate: make(chan struct{})}
}

func (f *fakeBackend) Trigger(ctx context.Context, endpoint string) (backend.JobResponse, error) {
	f.mu.Lock()
	f.endpoints = append(f.endpoints, endpoint)
	f.mu.Unlock()
	select {
	case <-f.gate:
	case <-ctx.Done():
		return backend.JobResponse{}, ctx.Err()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.triggerR, f.triggerE
}

func (f *fakeBackend) Ping(context.Context) (backend.PingResponse, error) {
	f.pings.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pingErr != nil {
		return backend.PingResponse{}, f.pingErr
	}
	v := f.pingValue
	return backend.PingResponse{AlgorithmProcess: &v}, nil
}

func (f *fakeBackend) setPing(v float64) {
	f.mu.Lock()
	f.pingValue = v
	f.mu.Unlock()
}

// release answers the pending trigger with error=false, or with err when non-nil.
func (f *fakeBackend) release(err error) {
	f.mu.Lock()
	if err != nil {
		f.triggerE = err
	} else {
		ok := false
		f.triggerR = backend.JobResponse{Error: &ok}
	}
	f.mu.Unlock()
	f.onceGate.Do(func() { close(f.gate) })
}

func (f *fakeBackend) Endpoints() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.endpoints...)
}

type fakeReloader struct {
	calls atomic.Int32
	err   error
	panic bool
}

func (f *fakeReloader) ReloadAllObjects(context.Context) error {
	f.calls.Add(1)
	if f.panic {
		panic("reload exploded")
	}
	return f.err
}

// recordingIndicator fails the test on Set after Done or a second Done.
type recordingIndicator struct {
	t *testing.T

	mu     sync.Mutex
	opts   indicator.Options
	starts int
	dones  int
	sets   []float64
}

func (r *recordingIndicator) Configure(opts indicator.Options) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.opts = opts
}

func (r *recordingIndicator) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.starts++
}

func (r *recordingIndicator) Set(f float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.dones >= r.starts {
		r.t.Errorf("Set(%v) after Done", f)
	}
	r.sets = append(r.sets, f)
}

func (r *recordingIndicator) Done() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dones++
	if r.dones > r.starts {
		r.t.Errorf("Done called %d times for %d starts", r.dones, r.starts)
	}
}

func (r *recordingIndicator) counts() (starts, dones int, sets []float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.starts, r.dones, append([]float64(nil), r.sets...)
}

// manualClock hands out After channels that fire only on Fire.
type manualClock struct {
	mu      sync.Mutex
	now     time.Time
	waiters []chan time.Time
	asked   []time.Duration
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	c.mu.Lock()
	c.waiters = append(c.waiters, ch)
	c.asked = append(c.asked, d)
	c.mu.Unlock()
	return ch
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Fire wakes every pending waiter.
func (c *manualClock) Fire() int {
	c.mu.Lock()
	waiters := c.waiters
	c.waiters = nil
	now := c.now
	c.mu.Unlock()
	for _, ch := range waiters {
		ch <- now
	}
	return len(waiters)
}

func (c *manualClock) Waiting() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiters)
}

func (c *manualClock) Asked() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.asked...)
}

type seqIDs struct {
	n   atomic.Uint32
	err error
}

func (s *seqIDs) NewRunID() (uuid.UUID, error) {
	if s.err != nil {
		return uuid.Nil, s.err
	}
	var id uuid.UUID
	n := s.n.Add(1)
	id[6] = 0x70
	id[15] = byte(n)
	return id, nil
}

type captureEmitter struct {
	mu     sync.Mutex
	events []progress.Event
}

func (c *captureEmitter) Emit(evt progress.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, evt)
}

func (c *captureEmitter) Stages() []progress.Stage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]progress.Stage, 0, len(c.events))
	for _, e := range c.events {
		out = append(out, e.Stage)
	}
	return out
}

func (c *captureEmitter) Events() []progress.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]progress.Event(nil), c.events...)
}

type harness struct {
	runner    *Runner
	backend   *fakeBackend
	reloader  *fakeReloader
	indicator *recordingIndicator
	clock     *manualClock
	events    *captureEmitter
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		backend:   newFakeBackend(),
		reloader:  &fakeReloader{},
		indicator: &recordingIndicator{t: t},
		clock:     newManualClock(),
		events:    &captureEmitter{},
	}
	r, err := NewRunner(Config{Indicator: indicator.DefaultOptions()}, Deps{
		Backend:   h.backend,
		Reloader:  h.reloader,
		Indicator: h.indicator,
		Emitter:   h.events,
		Clock:     h.clock,
		IDs:       &seqIDs{},
	})
	require.NoError(t, err)
	h.runner = r
	t.Cleanup(func() {
		h.backend.release(errors.New("test cleanup"))
		h.drain(t)
	})
	return h
}

// drain fires the clock until every goroutine of the runner has returned.
func (h *harness) drain(t *testing.T) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		h.runner.Wait()
		close(done)
	}()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case <-done:
			return
		case <-deadline:
			t.Fatal("runner did not settle")
			return
		case <-time.After(5 * time.Millisecond):
			h.clock.Fire()
		}
	}
}
