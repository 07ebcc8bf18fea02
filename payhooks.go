package payhooks

import (
	"context"

	"github.com/goliatone/go-payhooks/core"
	"github.com/goliatone/go-payhooks/handlers"
	"github.com/goliatone/go-payhooks/processor"
	memorystore "github.com/goliatone/go-payhooks/store/memory"
	sqlstore "github.com/goliatone/go-payhooks/store/sql"
)

type Config = core.Config

type Event = core.Event
type QueuedJob = core.QueuedJob
type Category = core.Category
type Alert = core.Alert
type AlertSink = core.AlertSink
type ProcessingHook = core.ProcessingHook
type MetricsRecorder = core.MetricsRecorder

type Result = processor.Result
type Status = processor.Status

func DefaultConfig() Config {
	return core.DefaultConfig()
}

// LoadConfig builds a validated configuration from raw values layered over
// the defaults, with runtime overrides applied last.
func LoadConfig(ctx context.Context, values map[string]any, runtime Config) (Config, error) {
	return core.LoadConfig(ctx, core.StaticConfigLoader{Values: values}, runtime)
}

// Stores are the persistence contracts the pipeline runs on.
type Stores struct {
	Queue       core.Queue
	DeadLetters core.DeadLetterQueue
	Idempotency core.IdempotencyStore
	Locks       core.LockStore
	Finalizer   core.Finalizer
	Sweeper     core.Sweeper
	Domain      handlers.Stores
}

// SQLStores binds every contract to the bun-backed stores of one factory.
func SQLStores(factory *sqlstore.RepositoryFactory) Stores {
	queue := factory.QueueStore()
	return Stores{
		Queue:       queue,
		DeadLetters: queue,
		Idempotency: factory.IdempotencyStore(),
		Locks:       factory.LockStore(),
		Finalizer:   queue,
		Sweeper:     queue,
		Domain:      factory.DomainStore().Stores(),
	}
}

// MemoryStores binds every contract to in-process stores. Jobs do not
// survive a restart, so this is for tests and local experiments only.
func MemoryStores(store *memorystore.Store, domain *handlers.MemoryDomain) Stores {
	if store == nil {
		store = memorystore.New()
	}
	if domain == nil {
		domain = handlers.NewMemoryDomain()
	}
	return Stores{
		Queue:       store,
		DeadLetters: store,
		Idempotency: store,
		Locks:       store,
		Finalizer:   store,
		Sweeper:     store,
		Domain:      domain.Stores(),
	}
}
