package gocommand

import (
	"fmt"

	commanddispatcher "github.com/goliatone/go-command/dispatcher"
	jobqueuecommand "github.com/goliatone/go-job/queue/command"
	payhookscommand "github.com/goliatone/go-payhooks/command"
	"github.com/goliatone/go-payhooks/core"
	payhooksquery "github.com/goliatone/go-payhooks/query"
)

// Operations are the collaborators behind the operator commands and queries.
type Operations struct {
	DeadLetters core.DeadLetterQueue
	Sweeper     payhookscommand.RetentionRunner
	// Metrics, when set, receives the dead-letter depth after replays.
	Metrics core.MetricsRecorder
	// Queue, when set, receives the replay and sweep commands as go-job
	// entries and the registry is initialized once everything is registered.
	Queue *jobqueuecommand.Registry
}

// Subscriptions tracks dispatcher subscriptions so they can be removed together.
type Subscriptions []commanddispatcher.Subscription

func (s Subscriptions) Unsubscribe() {
	for _, subscription := range s {
		if subscription != nil {
			subscription.Unsubscribe()
		}
	}
}

// RegisterOperations subscribes the dead-letter commands and queries, and the
// sweep command when a sweeper is given. On failure nothing stays subscribed.
func RegisterOperations(adapter *RegistryAdapter, ops Operations) (Subscriptions, error) {
	if ops.DeadLetters == nil {
		return nil, fmt.Errorf("gocommand: dead letter queue is required")
	}
	if ops.Queue != nil {
		if err := adapter.MirrorToQueue(ops.Queue); err != nil {
			return nil, err
		}
	}
	var subs Subscriptions
	keep := func(sub commanddispatcher.Subscription, err error) error {
		if err != nil {
			subs.Unsubscribe()
			return err
		}
		subs = append(subs, sub)
		return nil
	}

	gauge := payhookscommand.WithDepthGauge(ops.Metrics)
	if err := keep(RegisterAndSubscribe(adapter, payhookscommand.NewReplayDeadLetterCommand(ops.DeadLetters, gauge))); err != nil {
		return nil, err
	}
	if err := keep(RegisterAndSubscribe(adapter, payhookscommand.NewReplayDeadLettersCommand(ops.DeadLetters, gauge))); err != nil {
		return nil, err
	}
	if ops.Sweeper != nil {
		if err := keep(RegisterAndSubscribe(adapter, payhookscommand.NewSweepCommand(ops.Sweeper))); err != nil {
			return nil, err
		}
	}
	if err := keep(RegisterAndSubscribeQuery(adapter, payhooksquery.NewGetJobQuery(ops.DeadLetters))); err != nil {
		return nil, err
	}
	if err := keep(RegisterAndSubscribeQuery(adapter, payhooksquery.NewListDeadLettersQuery(ops.DeadLetters))); err != nil {
		return nil, err
	}
	if err := keep(RegisterAndSubscribeQuery(adapter, payhooksquery.NewDeadLetterDepthQuery(ops.DeadLetters))); err != nil {
		return nil, err
	}
	if ops.Queue != nil {
		if err := adapter.Initialize(); err != nil {
			subs.Unsubscribe()
			return nil, err
		}
	}
	return subs, nil
}
