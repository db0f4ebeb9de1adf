package compute

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/mapcompute/internal/backend"
	"github.com/JakeFAU/mapcompute/internal/indicator"
	"github.com/JakeFAU/mapcompute/internal/metrics"
	"github.com/JakeFAU/mapcompute/internal/progress"
)

// DefaultPollInterval is the delay between ping requests.
const DefaultPollInterval = 2500 * time.Millisecond

// Backend issues the job and status requests.
type Backend interface {
	Trigger(ctx context.Context, endpoint string) (backend.JobResponse, error)
	Ping(ctx context.Context) (backend.PingResponse, error)
}

// Reloader refreshes every map object after a job succeeds.
type Reloader interface {
	ReloadAllObjects(ctx context.Context) error
}

// Clock abstracts time for the poller.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// IDGenerator mints run IDs.
type IDGenerator interface {
	NewRunID() (uuid.UUID, error)
}

// Config tunes a Runner.
type Config struct {
	PollInterval time.Duration
	Indicator    indicator.Options
}

// Deps are the Runner's collaborators. Backend, Reloader, Clock and IDs are required.
type Deps struct {
	Backend   Backend
	Reloader  Reloader
	Indicator indicator.Indicator
	Emitter   progress.Emitter
	Clock     Clock
	IDs       IDGenerator
	Logger    *zap.Logger
	// State is shared with other readers such as the API; a fresh one is used when nil.
	State *State
}

// Runner triggers jobs and polls their progress.
type Runner struct {
	cfg       Config
	backend   Backend
	reloader  Reloader
	indicator indicator.Indicator
	emitter   progress.Emitter
	clock     Clock
	ids       IDGenerator
	logger    *zap.Logger
	state     *State

	// uiMu orders indicator calls so no Set lands after Done.
	uiMu sync.Mutex
	wg   sync.WaitGroup
}

// NewRunner validates deps and returns a Runner.
func NewRunner(cfg Config, deps Deps) (*Runner, error) {
	switch {
	case deps.Backend == nil:
		return nil, errors.New("backend is required")
	case deps.Reloader == nil:
		return nil, errors.New("reloader is required")
	case deps.Clock == nil:
		return nil, errors.New("clock is required")
	case deps.IDs == nil:
		return nil, errors.New("id generator is required")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	r := &Runner{
		cfg:       cfg,
		backend:   deps.Backend,
		reloader:  deps.Reloader,
		indicator: deps.Indicator,
		emitter:   deps.Emitter,
		clock:     deps.Clock,
		ids:       deps.IDs,
		logger:    deps.Logger,
		state:     deps.State,
	}
	if r.indicator == nil {
		r.indicator = indicator.Nop{}
	}
	if r.emitter == nil {
		r.emitter = progress.Nop{}
	}
	if r.logger == nil {
		r.logger = zap.NewNop()
	}
	if r.state == nil {
		r.state = &State{}
	}
	return r, nil
}

// State returns the shared state.
func (r *Runner) State() *State {
	return r.state
}

// Status returns a snapshot of the state.
func (r *Runner) Status() Status {
	return r.state.Snapshot()
}

// ComputeBundles starts the bundle evolution diagram job.
func (r *Runner) ComputeBundles(ctx context.Context) bool {
	return r.ComputeInBackground(ctx, JobBundles.Endpoint())
}

// ComputeRoadNetwork starts the road network job.
func (r *Runner) ComputeRoadNetwork(ctx context.Context) bool {
	return r.ComputeInBackground(ctx, JobRoadNetwork.Endpoint())
}

// ComputeBundlesAndRoadMap starts the combined job.
func (r *Runner) ComputeBundlesAndRoadMap(ctx context.Context) bool {
	return r.ComputeInBackground(ctx, JobBundlesAndRoadMap.Endpoint())
}

// Compute starts job.
func (r *Runner) Compute(ctx context.Context, job Job) bool {
	return r.ComputeInBackground(ctx, job.Endpoint())
}

// IsAlgorithmRunning reports whether a job is in flight.
func (r *Runner) IsAlgorithmRunning() bool {
	return r.state.Running()
}

// ComputeInBackground starts the job behind endpoint unless one is already
// running. The running flag is set before this returns; the request, the
// reload and the teardown happen on background goroutines. ctx bounds them,
// so pass a context that outlives the caller's request.
func (r *Runner) ComputeInBackground(ctx context.Context, endpoint string) bool {
	job := jobLabel(endpoint)
	if r.state.Running() {
		r.reject(job)
		return false
	}
	id, err := r.ids.NewRunID()
	if err != nil {
		r.logger.Error("generate run id", zap.String("job", job), zap.Error(err))
		return false
	}
	run := Run{ID: id, Job: job, Endpoint: endpoint, StartedAt: r.clock.Now()}
	if !r.state.TryStart(run) {
		r.reject(job)
		return false
	}
	metrics.ObserveTrigger(job, metrics.TriggerStarted)
	r.logger.Info("compute job started", zap.String("job", job), zap.Stringer("run_id", id))

	r.uiMu.Lock()
	r.indicator.Configure(r.cfg.Indicator)
	r.indicator.Start()
	r.uiMu.Unlock()
	r.emitter.Emit(progress.Event{RunID: id, TS: run.StartedAt, Stage: progress.StageJobStart, Job: job})

	r.UpdateAlgorithmProgress(ctx)
	r.wg.Add(1)
	go r.request(ctx, run)
	return true
}

func (r *Runner) reject(job string) {
	metrics.ObserveTrigger(job, metrics.TriggerRejected)
	r.logger.Info("compute job already running", zap.String("job", job))
}

// Wait blocks until every request and poll loop started so far has returned.
func (r *Runner) Wait() {
	r.wg.Wait()
}

func (r *Runner) request(ctx context.Context, run Run) {
	defer r.wg.Done()
	result := Result{Run: run}
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("compute job panicked", zap.String("job", run.Job), zap.Any("panic", p))
			result.Success = false
			result.Error = fmt.Sprintf("panic: %v", p)
		}
		r.teardown(result)
	}()

	if _, err := r.backend.Trigger(ctx, run.Endpoint); err != nil {
		r.logger.Error("compute job failed",
			zap.String("job", run.Job),
			zap.String("endpoint", run.Endpoint),
			zap.Error(err),
		)
		result.Error = err.Error()
		return
	}
	if err := r.reloader.ReloadAllObjects(ctx); err != nil {
		r.logger.Error("reload objects after compute", zap.String("job", run.Job), zap.Error(err))
		result.Error = fmt.Sprintf("reload objects: %v", err)
		return
	}
	result.Success = true
}

// teardown closes the indicator and clears the flag for result's run.
func (r *Runner) teardown(result Result) {
	result.FinishedAt = r.clock.Now()
	func() {
		r.uiMu.Lock()
		defer r.uiMu.Unlock()
		defer r.state.Finish(result.ID, result)
		r.indicator.Done()
	}()

	evt := progress.Event{
		RunID: result.ID,
		TS:    result.FinishedAt,
		Stage: progress.StageJobDone,
		Job:   result.Job,
		Dur:   result.FinishedAt.Sub(result.StartedAt),
	}
	if evt.Dur < 0 {
		evt.Dur = 0
	}
	if !result.Success {
		evt.Stage = progress.StageJobError
		evt.Note = result.Error
	}
	r.emitter.Emit(evt)
	r.logger.Info("compute job finished",
		zap.String("job", result.Job),
		zap.Stringer("run_id", result.ID),
		zap.Bool("success", result.Success),
		zap.Duration("dur", evt.Dur),
	)
}

// UpdateAlgorithmProgress starts the progress poll loop for the active run
// and reports whether one was started. The loop reads ping and moves the
// indicator immediately, then once per poll interval. It checks at the start
// of every tick that the same run is still active, and it stops on a failed
// ping or when ctx is done. Wait covers the loop.
func (r *Runner) UpdateAlgorithmProgress(ctx context.Context) bool {
	run, ok := r.state.Active()
	if !ok {
		return false
	}
	r.wg.Add(1)
	go r.poll(ctx, run.ID)
	return true
}

func (r *Runner) poll(ctx context.Context, id uuid.UUID) {
	defer r.wg.Done()
	for {
		run, ok := r.state.Active()
		if !ok || run.ID != id {
			return
		}
		if !r.tick(ctx, run) {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-r.clock.After(r.cfg.PollInterval):
		}
	}
}

// tick performs one poll and reports whether polling should continue.
func (r *Runner) tick(ctx context.Context, run Run) bool {
	resp, err := r.backend.Ping(ctx)
	if err != nil {
		if ctx.Err() == nil {
			r.logger.Warn("progress poll failed, polling stopped",
				zap.String("job", run.Job),
				zap.Error(err),
			)
		}
		return false
	}
	raw := resp.Progress()
	fraction := ProgressFraction(raw)

	r.uiMu.Lock()
	defer r.uiMu.Unlock()
	if !r.state.SetFraction(run.ID, fraction) {
		return true
	}
	r.indicator.Set(fraction)
	r.emitter.Emit(progress.Event{
		RunID:    run.ID,
		TS:       r.clock.Now(),
		Stage:    progress.StageJobProgress,
		Job:      run.Job,
		Fraction: fraction,
		Raw:      raw,
	})
	return true
}
