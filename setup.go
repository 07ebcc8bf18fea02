package payhooks

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goliatone/go-payhooks/adapters/gocommand"
	"github.com/goliatone/go-payhooks/adapters/gojob"
	"github.com/goliatone/go-payhooks/alerting"
	"github.com/goliatone/go-payhooks/core"
	"github.com/goliatone/go-payhooks/handlers"
	"github.com/goliatone/go-payhooks/metrics"
	"github.com/goliatone/go-payhooks/processor"
	"github.com/goliatone/go-payhooks/transport/httpapi"
	"github.com/goliatone/go-payhooks/webhooks"

	"github.com/goliatone/go-job/queue"
	jobqueuecommand "github.com/goliatone/go-job/queue/command"
	"golang.org/x/sync/errgroup"
)

type Option func(*setupOptions)

type setupOptions struct {
	logger         core.Logger
	loggerProvider core.LoggerProvider
	metrics        core.MetricsRecorder
	metricsHandler http.Handler
	alertSinks     []core.AlertSink
	archive        core.ArchiveSink
	externalLocks  core.LockStore
	hooks          []core.ProcessingHook
	wakeUps        queue.Enqueuer
	commands       *gocommand.RegistryAdapter
	commandQueue   *jobqueuecommand.Registry
	health         httpapi.HealthCheck
	owner          string
	now            func() time.Time
}

func WithLogger(logger core.Logger) Option {
	return func(o *setupOptions) { o.logger = logger }
}

func WithLoggerProvider(provider core.LoggerProvider) Option {
	return func(o *setupOptions) { o.loggerProvider = provider }
}

// WithMetrics replaces the default Prometheus recorder. The handler serves
// /metrics and may be nil.
func WithMetrics(recorder core.MetricsRecorder, handler http.Handler) Option {
	return func(o *setupOptions) {
		o.metrics = recorder
		o.metricsHandler = handler
	}
}

// WithAlertSinks adds channels next to the structured log sink.
func WithAlertSinks(sinks ...core.AlertSink) Option {
	return func(o *setupOptions) {
		for _, sink := range sinks {
			if sink != nil {
				o.alertSinks = append(o.alertSinks, sink)
			}
		}
	}
}

func WithArchive(archive core.ArchiveSink) Option {
	return func(o *setupOptions) { o.archive = archive }
}

// WithExternalLocks moves aggregate locks out of the queue store, e.g. to Redis.
func WithExternalLocks(locks core.LockStore) Option {
	return func(o *setupOptions) { o.externalLocks = locks }
}

func WithHooks(hooks ...core.ProcessingHook) Option {
	return func(o *setupOptions) { o.hooks = append(o.hooks, hooks...) }
}

// WithWakeUpQueue publishes a go-job message after every durable enqueue.
func WithWakeUpQueue(enqueuer queue.Enqueuer) Option {
	return func(o *setupOptions) { o.wakeUps = enqueuer }
}

// WithCommandRegistry subscribes the operator commands and queries on the
// process-wide go-command dispatcher. Pipeline.Close removes them.
func WithCommandRegistry(adapter *gocommand.RegistryAdapter) Option {
	return func(o *setupOptions) { o.commands = adapter }
}

// WithCommandQueue mirrors the replay and sweep commands into a go-job queue
// registry. It only applies together with WithCommandRegistry, and the
// registry is initialized by Setup.
func WithCommandQueue(registry *jobqueuecommand.Registry) Option {
	return func(o *setupOptions) { o.commandQueue = registry }
}

func WithHealthCheck(check httpapi.HealthCheck) Option {
	return func(o *setupOptions) { o.health = check }
}

func WithOwner(owner string) Option {
	return func(o *setupOptions) { o.owner = strings.TrimSpace(owner) }
}

func WithClock(now func() time.Time) Option {
	return func(o *setupOptions) { o.now = now }
}

// Pipeline is one fully wired webhook service: ingress, workers, sweeper and
// the HTTP surface over a shared set of stores.
type Pipeline struct {
	Config    Config
	Receiver  *webhooks.Receiver
	Handlers  *handlers.Registry
	Processor *processor.Processor
	Pool      *processor.Pool
	Sweeper   *processor.RetentionSweeper
	Router    *httpapi.Router
	Alerts    core.AlertSink
	Storm     *alerting.StormDetector
	Metrics   core.MetricsRecorder

	stores        Stores
	subscriptions gocommand.Subscriptions
}

func Setup(cfg Config, stores Stores, opts ...Option) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if stores.Queue == nil || stores.Idempotency == nil || stores.Locks == nil || stores.Finalizer == nil {
		return nil, fmt.Errorf("payhooks: queue, idempotency, lock and finalizer stores are required")
	}
	options := setupOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	handler := options.metricsHandler
	recorder := options.metrics
	if recorder == nil {
		prom := metrics.NewPrometheusRecorder(nil, metrics.WithNamespace(cfg.ServiceName))
		recorder, handler = prom, prom.Handler()
	}
	instrument := func(name string) core.Instrumentation {
		return core.NewInstrumentation(name, options.loggerProvider, options.logger, recorder)
	}

	alerts := alerting.MultiSink(append(
		[]core.AlertSink{alerting.NewLogSink(options.loggerProvider, options.logger)},
		options.alertSinks...,
	))
	storm := alerting.NewStormDetectorFromConfig(cfg, alerts).WithInstrumentation(instrument("payhooks.alerts"))

	locks, finalizer := stores.Locks, stores.Finalizer
	if options.externalLocks != nil {
		external, err := processor.NewExternalLockFinalizer(finalizer, options.externalLocks, instrument("payhooks.processor"))
		if err != nil {
			return nil, err
		}
		locks, finalizer = options.externalLocks, external
	}

	handlerOpts := []handlers.Option{handlers.WithInstrumentation(instrument("payhooks.handlers"))}
	if options.now != nil {
		handlerOpts = append(handlerOpts, handlers.WithClock(options.now))
	}
	registry, err := handlers.NewDefaultRegistry(stores.Domain, handlerOpts...)
	if err != nil {
		return nil, err
	}

	processorOpts := []processor.Option{
		processor.WithConfig(cfg),
		processor.WithAlertSink(alerts),
		processor.WithContentionObserver(storm),
		processor.WithHooks(options.hooks...),
		processor.WithInstrumentation(instrument("payhooks.processor")),
	}
	if options.owner != "" {
		processorOpts = append(processorOpts, processor.WithOwner(options.owner))
	}
	if options.now != nil {
		processorOpts = append(processorOpts, processor.WithClock(options.now))
	}
	proc, err := processor.New(processor.Dependencies{
		Queue:       stores.Queue,
		Idempotency: stores.Idempotency,
		Locks:       locks,
		Finalizer:   finalizer,
		Handlers:    registry,
		DeadLetters: stores.DeadLetters,
	}, processorOpts...)
	if err != nil {
		return nil, err
	}
	pool, err := processor.NewPool(proc, processor.PoolOptionsFromConfig(cfg))
	if err != nil {
		return nil, err
	}

	pipeline := &Pipeline{
		Config:    cfg,
		Handlers:  registry,
		Processor: proc,
		Pool:      pool,
		Alerts:    alerts,
		Storm:     storm,
		Metrics:   recorder,
		stores:    stores,
	}

	if stores.Sweeper != nil {
		sweeperOpts := []processor.SweeperOption{processor.WithSweeperInstrumentation(instrument("payhooks.sweeper"))}
		if options.archive != nil {
			sweeperOpts = append(sweeperOpts, processor.WithArchive(options.archive))
		}
		if options.now != nil {
			sweeperOpts = append(sweeperOpts, processor.WithSweeperClock(options.now))
		}
		sweeper, err := processor.NewRetentionSweeper(stores.Sweeper, stores.DeadLetters, cfg.Retention, sweeperOpts...)
		if err != nil {
			return nil, err
		}
		pipeline.Sweeper = sweeper
	}

	var enqueuer core.Enqueuer = stores.Queue
	if options.wakeUps != nil {
		enqueuer = gojob.NewNotifyingEnqueuer(stores.Queue, options.wakeUps, instrument("payhooks.gojob"))
	}
	receiver, err := webhooks.NewReceiverFromConfig(cfg, enqueuer,
		webhooks.WithReceiverInstrumentation(instrument("payhooks.receiver")))
	if err != nil {
		return nil, err
	}
	pipeline.Receiver = receiver

	httpInstr := instrument("payhooks.http")
	routerOpts := httpapi.Options{
		Ingress:         receiver,
		DeadLetters:     stores.DeadLetters,
		Metrics:         handler,
		Health:          options.health,
		AdminToken:      cfg.HTTP.AdminToken,
		Mode:            ginMode(cfg.Environment),
		Instrumentation: &httpInstr,
	}
	if pipeline.Sweeper != nil {
		routerOpts.Sweeper = pipeline.Sweeper
	}
	router, err := httpapi.NewRouter(routerOpts)
	if err != nil {
		return nil, err
	}
	pipeline.Router = router

	if options.commands != nil && stores.DeadLetters != nil {
		ops := gocommand.Operations{DeadLetters: stores.DeadLetters, Metrics: recorder, Queue: options.commandQueue}
		if pipeline.Sweeper != nil {
			ops.Sweeper = pipeline.Sweeper
		}
		subs, err := gocommand.RegisterOperations(options.commands, ops)
		if err != nil {
			return nil, err
		}
		pipeline.subscriptions = subs
	}
	return pipeline, nil
}

// Run starts the worker pool and the retention sweeper and blocks until ctx
// is cancelled and both have stopped.
func (p *Pipeline) Run(ctx context.Context) error {
	if p == nil || p.Pool == nil {
		return fmt.Errorf("payhooks: pipeline is not configured")
	}
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return p.Pool.Run(groupCtx)
	})
	if p.Sweeper != nil {
		group.Go(func() error {
			return p.Sweeper.Run(groupCtx)
		})
	}
	return group.Wait()
}

// Close removes the command subscriptions made by Setup.
func (p *Pipeline) Close() {
	if p == nil {
		return
	}
	p.subscriptions.Unsubscribe()
	p.subscriptions = nil
}

func ginMode(environment string) string {
	switch strings.ToLower(strings.TrimSpace(environment)) {
	case "production", "prod":
		return gin.ReleaseMode
	case "test":
		return gin.TestMode
	default:
		return gin.DebugMode
	}
}
