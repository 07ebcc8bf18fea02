package gocommand

import (
	"context"
	"fmt"

	"github.com/goliatone/go-command"
	commanddispatcher "github.com/goliatone/go-command/dispatcher"
	"github.com/goliatone/go-command/runner"
	jobqueuecommand "github.com/goliatone/go-job/queue/command"
	payhookscommand "github.com/goliatone/go-payhooks/command"
	"github.com/goliatone/go-payhooks/core"
	payhooksquery "github.com/goliatone/go-payhooks/query"
)

// QueueResolverKey names the resolver that mirrors operator commands into a
// go-job queue registry.
const QueueResolverKey = "payhooks.queue"

// queueableTypes are the operator commands that may run as queued jobs.
// Queries are answered inline and never mirrored.
var queueableTypes = map[string]struct{}{
	payhookscommand.TypeReplayDeadLetter:  {},
	payhookscommand.TypeReplayDeadLetters: {},
	payhookscommand.TypeSweep:             {},
}

// RegistryAdapter owns the go-command registry the operator commands and
// queries are registered on.
type RegistryAdapter struct {
	registry *command.Registry
	mirrored bool
}

func NewRegistryAdapter(registry *command.Registry) *RegistryAdapter {
	if registry == nil {
		registry = command.NewRegistry()
	}
	return &RegistryAdapter{registry: registry}
}

func (a *RegistryAdapter) RegisterCommand(cmd any) error {
	if a == nil || a.registry == nil {
		return fmt.Errorf("gocommand: registry is not configured")
	}
	return a.registry.RegisterCommand(cmd)
}

func (a *RegistryAdapter) RegisterQuery(qry any) error {
	if a == nil || a.registry == nil {
		return fmt.Errorf("gocommand: registry is not configured")
	}
	return a.registry.RegisterCommand(qry)
}

// MirrorToQueue makes Initialize copy the replay and sweep commands into the
// go-job queue registry, keyed by message type, so a job worker can run them.
func (a *RegistryAdapter) MirrorToQueue(queue *jobqueuecommand.Registry) error {
	if a == nil || a.registry == nil {
		return fmt.Errorf("gocommand: registry is not configured")
	}
	if queue == nil {
		return fmt.Errorf("gocommand: queue registry is required")
	}
	if a.mirrored {
		return nil
	}
	mirror := jobqueuecommand.QueueResolver(queue)
	err := a.registry.AddResolver(QueueResolverKey, func(cmd any, meta command.CommandMeta, registry *command.Registry) error {
		if _, ok := queueableTypes[meta.MessageType]; !ok {
			return nil
		}
		return mirror(cmd, meta, registry)
	})
	if err != nil {
		return err
	}
	a.mirrored = true
	return nil
}

// Initialize runs the registry resolvers. Nothing can be registered after it.
func (a *RegistryAdapter) Initialize() error {
	if a == nil || a.registry == nil {
		return fmt.Errorf("gocommand: registry is not configured")
	}
	return a.registry.Initialize()
}

func Dispatch[T any](ctx context.Context, msg T) error {
	return commanddispatcher.Dispatch(ctx, msg)
}

func Query[T any, R any](ctx context.Context, msg T) (R, error) {
	return commanddispatcher.Query[T, R](ctx, msg)
}

// ReplayDeadLetter dispatches a single replay and returns the job as it went
// back to pending.
func ReplayDeadLetter(ctx context.Context, jobID string) (core.QueuedJob, error) {
	collector := command.NewResult[core.QueuedJob]()
	msg := payhookscommand.ReplayDeadLetterMessage{JobID: jobID}
	if err := Dispatch(command.ContextWithResult(ctx, collector), msg); err != nil {
		return core.QueuedJob{}, err
	}
	job, _ := collector.Load()
	return job, nil
}

func ReplayDeadLetters(ctx context.Context, filter core.DeadLetterFilter) (payhookscommand.ReplayBatchResult, error) {
	collector := command.NewResult[payhookscommand.ReplayBatchResult]()
	msg := payhookscommand.ReplayDeadLettersMessage{Filter: filter}
	if err := Dispatch(command.ContextWithResult(ctx, collector), msg); err != nil {
		return payhookscommand.ReplayBatchResult{}, err
	}
	result, _ := collector.Load()
	return result, nil
}

func GetJob(ctx context.Context, jobID string) (core.QueuedJob, error) {
	return Query[payhooksquery.GetJobMessage, core.QueuedJob](ctx, payhooksquery.GetJobMessage{JobID: jobID})
}

func ListDeadLetters(ctx context.Context, filter core.DeadLetterFilter) ([]core.QueuedJob, error) {
	return Query[payhooksquery.ListDeadLettersMessage, []core.QueuedJob](ctx, payhooksquery.ListDeadLettersMessage{Filter: filter})
}

func DeadLetterDepth(ctx context.Context) (int, error) {
	return Query[payhooksquery.DeadLetterDepthMessage, int](ctx, payhooksquery.DeadLetterDepthMessage{})
}

func RegisterAndSubscribe[T any](
	adapter *RegistryAdapter,
	cmd command.Commander[T],
	runnerOpts ...runner.Option,
) (commanddispatcher.Subscription, error) {
	if adapter == nil || adapter.registry == nil {
		return nil, fmt.Errorf("gocommand: registry is not configured")
	}
	if cmd == nil {
		return nil, fmt.Errorf("gocommand: command is required")
	}
	subscription := commanddispatcher.SubscribeCommand(cmd, runnerOpts...)
	if err := adapter.RegisterCommand(cmd); err != nil {
		if subscription != nil {
			subscription.Unsubscribe()
		}
		return nil, err
	}
	return subscription, nil
}

func RegisterAndSubscribeQuery[T any, R any](
	adapter *RegistryAdapter,
	qry command.Querier[T, R],
	runnerOpts ...runner.Option,
) (commanddispatcher.Subscription, error) {
	if adapter == nil || adapter.registry == nil {
		return nil, fmt.Errorf("gocommand: registry is not configured")
	}
	if qry == nil {
		return nil, fmt.Errorf("gocommand: query is required")
	}
	subscription := commanddispatcher.SubscribeQuery(qry, runnerOpts...)
	if err := adapter.RegisterQuery(qry); err != nil {
		if subscription != nil {
			subscription.Unsubscribe()
		}
		return nil, err
	}
	return subscription, nil
}
