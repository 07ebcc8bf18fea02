package sqlstore

import (
	"github.com/goliatone/go-payhooks/core"
	"github.com/goliatone/go-payhooks/handlers"
)

var (
	_ core.IdempotencyStore = (*IdempotencyStore)(nil)
	_ core.IdempotencyStore = (*CachedIdempotencyStore)(nil)
	_ core.LockStore        = (*LockStore)(nil)
	_ core.Queue            = (*QueueStore)(nil)
	_ core.DeadLetterQueue  = (*QueueStore)(nil)
	_ core.Finalizer        = (*QueueStore)(nil)
	_ core.Sweeper          = (*QueueStore)(nil)

	_ handlers.SubscriptionStore = (*DomainStore)(nil)
	_ handlers.LeaseStore        = (*DomainStore)(nil)
	_ handlers.PaymentStore      = (*DomainStore)(nil)
	_ handlers.CheckoutStore     = (*DomainStore)(nil)
	_ handlers.ConnectStore      = (*DomainStore)(nil)
	_ handlers.Notifier          = (*DomainStore)(nil)
)
