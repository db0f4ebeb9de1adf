// Package app builds the long-lived services from configuration and hands them
// to the CLI commands.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	gpubsub "cloud.google.com/go/pubsub"
	gstorage "cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/mapcompute/internal/api"
	"github.com/JakeFAU/mapcompute/internal/backend"
	"github.com/JakeFAU/mapcompute/internal/clock/system"
	"github.com/JakeFAU/mapcompute/internal/compute"
	"github.com/JakeFAU/mapcompute/internal/config"
	"github.com/JakeFAU/mapcompute/internal/id/uuid"
	"github.com/JakeFAU/mapcompute/internal/indicator"
	"github.com/JakeFAU/mapcompute/internal/metrics"
	"github.com/JakeFAU/mapcompute/internal/progress"
	"github.com/JakeFAU/mapcompute/internal/progress/sinks"
	"github.com/JakeFAU/mapcompute/internal/publisher/pubsub"
	"github.com/JakeFAU/mapcompute/internal/reload"
	"github.com/JakeFAU/mapcompute/internal/storage/gcs"
	"github.com/JakeFAU/mapcompute/internal/storage/local"
	"github.com/JakeFAU/mapcompute/internal/storage/memory"
	"github.com/JakeFAU/mapcompute/internal/storage/postgres"
	"github.com/JakeFAU/mapcompute/internal/store"
	"github.com/JakeFAU/mapcompute/internal/telemetry"
)

// broadcastInterval caps WebSocket progress frames.
const broadcastInterval = 250 * time.Millisecond

// Options tweak how New assembles the services.
type Options struct {
	// Terminal receives the text progress bar when indicator.output is "terminal".
	Terminal io.Writer
	// Broadcast adds a WebSocket progress broadcaster (serve mode).
	Broadcast bool
	// Registerer receives the progress collectors; the default registry when nil.
	Registerer prometheus.Registerer
}

// App holds the services shared by the commands.
type App struct {
	Config      config.Config
	Logger      *zap.Logger
	Backend     *backend.Client
	Runner      *compute.Runner
	Runs        store.RunRepository
	Objects     store.ObjectStore
	Broadcaster *indicator.Broadcaster
	Terminal    *indicator.Terminal

	hub      *progress.Hub
	closers  []func()
	shutdown []func(context.Context) error
}

// New wires the backend client, stores, progress hub and runner.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts Options) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	a := &App{Config: cfg, Logger: logger}

	clientOpts := []backend.Option{
		backend.WithTimeout(cfg.RequestTimeout()),
		backend.WithRateLimit(cfg.Backend.RequestsPerSecond),
		backend.WithLogger(logger.Named("backend")),
	}
	if cfg.Tracing.Enabled {
		tp, err := telemetry.NewTracerProvider(ctx, telemetry.Options{
			ServiceName: cfg.Tracing.ServiceName,
			SampleRatio: cfg.Tracing.SampleRatio,
			Logger:      logger.Named("trace"),
		})
		if err != nil {
			return nil, fmt.Errorf("init tracing: %w", err)
		}
		a.shutdown = append(a.shutdown, tp.Shutdown)
		clientOpts = append(clientOpts, backend.WithTracerProvider(tp))
	}
	client, err := backend.NewClient(cfg.Backend.BaseURL, clientOpts...)
	if err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("init backend client: %w", err)
	}
	a.Backend = client

	if err := a.initStores(ctx); err != nil {
		a.Close(ctx)
		return nil, err
	}

	promSink, err := sinks.NewPrometheusSink(opts.Registerer)
	if err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("init prometheus sink: %w", err)
	}
	hubSinks := []progress.Sink{
		sinks.NewLogSink(logger.Named("progress")),
		promSink,
		sinks.NewStoreSink(a.Runs, logger.Named("progress")),
	}
	if cfg.PubSub.Enabled() {
		pub, err := a.initPublisher(ctx)
		if err != nil {
			a.Close(ctx)
			return nil, err
		}
		hubSinks = append(hubSinks, sinks.NewPubSubSink(pub, logger.Named("pubsub")))
	}
	a.hub = progress.NewHub(progress.Config{
		BufferSize:     cfg.Progress.BufferSize,
		MaxBatchEvents: cfg.Progress.MaxBatchEvents,
		MaxBatchWait:   cfg.MaxBatchWait(),
		Logger:         logger.Named("progress"),
	}, hubSinks...)

	ind := a.buildIndicator(opts)
	loader := reload.NewLoader(client, cfg.Reload.Objects, a.Objects, logger.Named("reload"))
	runner, err := compute.NewRunner(compute.Config{
		PollInterval: cfg.PollInterval(),
		Indicator: indicator.Options{
			Trickle:     cfg.Indicator.Trickle,
			ShowSpinner: cfg.Indicator.ShowSpinner,
			Minimum:     cfg.Indicator.Minimum,
		},
	}, compute.Deps{
		Backend:   client,
		Reloader:  loader,
		Indicator: ind,
		Emitter:   a.hub,
		Clock:     system.New(),
		IDs:       uuid.New(),
		Logger:    logger.Named("runner"),
	})
	if err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("init runner: %w", err)
	}
	a.Runner = runner
	return a, nil
}

func (a *App) initStores(ctx context.Context) error {
	if a.Config.DB.DSN != "" {
		runs, err := postgres.NewRunStore(ctx, postgres.Config{
			DSN:      a.Config.DB.DSN,
			MaxConns: a.Config.DB.MaxConns,
		})
		if err != nil {
			return fmt.Errorf("init run store: %w", err)
		}
		a.closers = append(a.closers, runs.Close)
		if err := runs.EnsureSchema(ctx); err != nil {
			return err
		}
		a.Logger.Info("run history stored in postgres")
		a.Runs = runs
	} else {
		a.Runs = memory.NewRunStore()
	}

	switch {
	case a.Config.Reload.GCSBucket != "":
		client, err := gstorage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("init gcs client: %w", err)
		}
		a.closers = append(a.closers, func() {
			if err := client.Close(); err != nil {
				a.Logger.Warn("close gcs client", zap.Error(err))
			}
		})
		objects, err := gcs.New(client, gcs.Config{
			Bucket: a.Config.Reload.GCSBucket,
			Prefix: a.Config.Reload.GCSPrefix,
		})
		if err != nil {
			return fmt.Errorf("init object store: %w", err)
		}
		a.Logger.Info("reloaded objects written to cloud storage", zap.String("bucket", a.Config.Reload.GCSBucket))
		a.Objects = objects
	case a.Config.Reload.OutputDir != "":
		dir := a.Config.Reload.OutputDir
		objects, err := local.New(dir)
		if err != nil {
			return fmt.Errorf("init object store: %w", err)
		}
		a.Logger.Info("reloaded objects written to disk", zap.String("dir", dir))
		a.Objects = objects
	default:
		a.Objects = memory.NewObjectStore()
	}
	return nil
}

func (a *App) initPublisher(ctx context.Context) (*pubsub.Publisher, error) {
	client, err := gpubsub.NewClient(ctx, a.Config.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("init pubsub client: %w", err)
	}
	pub := pubsub.New(client.Topic(a.Config.PubSub.Topic))
	// Closers run in reverse, so the topic flushes before the client goes away.
	a.closers = append(a.closers, func() {
		if err := client.Close(); err != nil {
			a.Logger.Warn("close pubsub client", zap.Error(err))
		}
	}, pub.Stop)
	a.Logger.Info("finished runs published", zap.String("topic", a.Config.PubSub.Topic))
	return pub, nil
}

func (a *App) buildIndicator(opts Options) indicator.Indicator {
	var members indicator.Multi
	if a.Config.Indicator.Output == config.IndicatorOutputTerminal && opts.Terminal != nil {
		a.Terminal = indicator.NewTerminal(opts.Terminal)
		members = append(members, a.Terminal)
	}
	if opts.Broadcast {
		a.Broadcaster = indicator.NewBroadcaster(a.Logger.Named("ws"), broadcastInterval)
		members = append(members, a.Broadcaster)
	}
	switch len(members) {
	case 0:
		return indicator.Nop{}
	case 1:
		return members[0]
	default:
		return members
	}
}

// Server builds the control API. baseCtx bounds jobs started over HTTP.
func (a *App) Server(baseCtx context.Context) *api.Server {
	opts := api.Options{
		Runner:      a.Runner,
		Runs:        a.Runs,
		Objects:     a.Objects,
		Auth:        a.Config.Auth,
		Logger:      a.Logger.Named("api"),
		BaseContext: baseCtx,
		Ready: api.PingerFunc(func(ctx context.Context) error {
			_, err := a.Backend.Ping(ctx)
			return err
		}),
	}
	if a.Broadcaster != nil {
		opts.Progress = a.Broadcaster
	}
	return api.NewServer(opts)
}

// HTTPServer wraps Server in an *http.Server listening on server.port.
func (a *App) HTTPServer(baseCtx context.Context) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler:           a.Server(baseCtx).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// Close waits for in-flight jobs, flushes the progress hub and releases stores.
func (a *App) Close(ctx context.Context) {
	if a.Runner != nil {
		a.Runner.Wait()
	}
	if a.hub != nil {
		if err := a.hub.Close(ctx); err != nil && !errors.Is(err, context.Canceled) {
			a.Logger.Warn("close progress hub", zap.Error(err))
		}
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
	for _, fn := range a.shutdown {
		if err := fn(ctx); err != nil {
			a.Logger.Warn("shutdown", zap.Error(err))
		}
	}
	a.shutdown = nil
}
