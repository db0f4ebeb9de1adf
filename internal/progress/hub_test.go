package progress

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHubFlushesWhenBatchIsFull(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{BufferSize: 8, MaxBatchEvents: 2, MaxBatchWait: time.Minute}, sink)
	defer func() { require.NoError(t, hub.Close(context.Background())) }()

	hub.Emit(sampleEvent(StageJobStart))
	hub.Emit(sampleEvent(StageJobProgress))
	require.Eventually(t, func() bool {
		b := sink.Batches()
		return len(b) == 1 && len(b[0]) == 2
	}, time.Second, 10*time.Millisecond)
}

func TestHubFlushesAfterWait(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{BufferSize: 4, MaxBatchEvents: 10, MaxBatchWait: 25 * time.Millisecond}, sink)
	defer func() { require.NoError(t, hub.Close(context.Background())) }()

	hub.Emit(sampleEvent(StageJobStart))
	require.Eventually(t, func() bool {
		return len(sink.Batches()) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestHubCloseDrainsAndClosesSinks(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{BufferSize: 4, MaxBatchEvents: 100, MaxBatchWait: time.Minute}, sink)

	hub.Emit(sampleEvent(StageJobStart))
	hub.Emit(sampleEvent(StageJobDone))
	require.NoError(t, hub.Close(context.Background()))

	batches := sink.Batches()
	require.Len(t, batches, 1)
	assert.Len(t, batches[0], 2)
	assert.True(t, sink.Closed())

	// second close only waits
	require.NoError(t, hub.Close(context.Background()))
	hub.Emit(sampleEvent(StageJobStart))
	assert.Len(t, sink.Batches(), 1)
}

func TestHubDropsWhenBufferFull(t *testing.T) {
	t.Parallel()

	block := make(chan struct{})
	blocking := SinkFunc(func(context.Context, []Event) error {
		<-block
		return nil
	})
	hub := NewHub(Config{BufferSize: 1, MaxBatchEvents: 1, MaxBatchWait: time.Minute}, blocking)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 50; i++ {
			hub.Emit(sampleEvent(StageJobProgress))
		}
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Emit blocked")
	}
	close(block)
	require.NoError(t, hub.Close(context.Background()))
}

func TestHubSkipsInvalidEvents(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{MaxBatchEvents: 1}, sink)
	hub.Emit(Event{Stage: StageJobStart})
	require.NoError(t, hub.Close(context.Background()))
	assert.Empty(t, sink.Batches())
}

func TestHubSinkErrorDoesNotStopOthers(t *testing.T) {
	t.Parallel()

	failing := SinkFunc(func(context.Context, []Event) error { return errors.New("boom") })
	sink := newStubSink()
	hub := NewHub(Config{MaxBatchEvents: 1}, failing, nil, sink)
	hub.Emit(sampleEvent(StageJobStart))
	require.NoError(t, hub.Close(context.Background()))
	assert.Len(t, sink.Batches(), 1)
}

func TestHubNilIsSafe(t *testing.T) {
	t.Parallel()

	var hub *Hub
	hub.Emit(sampleEvent(StageJobStart))
	require.NoError(t, hub.Close(context.Background()))
}

func TestEventValidate(t *testing.T) {
	t.Parallel()

	valid := sampleEvent(StageJobProgress)
	require.NoError(t, valid.Validate())

	tests := map[string]func(*Event){
		"missing run id":   func(e *Event) { e.RunID = uuid.Nil },
		"missing ts":       func(e *Event) { e.TS = time.Time{} },
		"missing job":      func(e *Event) { e.Job = "" },
		"unknown stage":    func(e *Event) { e.Stage = "JOB_PAUSED" },
		"fraction too big": func(e *Event) { e.Fraction = 1.5 },
		"negative dur":     func(e *Event) { e.Dur = -time.Second },
	}
	for name, mutate := range tests {
		evt := valid
		mutate(&evt)
		assert.Error(t, evt.Validate(), name)
	}
}

func TestStageTerminal(t *testing.T) {
	t.Parallel()

	assert.False(t, StageJobStart.Terminal())
	assert.False(t, StageJobProgress.Terminal())
	assert.True(t, StageJobDone.Terminal())
	assert.True(t, StageJobError.Terminal())
}

func sampleEvent(stage Stage) Event {
	return Event{
		RunID:    uuid.MustParse("0190b8a0-0000-7000-8000-000000000001"),
		TS:       time.Now().UTC(),
		Stage:    stage,
		Job:      "bundles",
		Fraction: 0.5,
		Raw:      45,
	}
}

type stubSink struct {
	mu      sync.Mutex
	batches [][]Event
	closed  bool
}

func newStubSink() *stubSink { return &stubSink{} }

func (s *stubSink) Consume(_ context.Context, batch []Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, append([]Event(nil), batch...))
	return nil
}

func (s *stubSink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *stubSink) Batches() [][]Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]Event(nil), s.batches...)
}

func (s *stubSink) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
