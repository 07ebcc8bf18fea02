package handlers

import (
	"fmt"
	"sync"

	"github.com/goliatone/go-payhooks/core"
)

// Registry resolves handlers by category. Categories without a registered
// handler resolve to nothing, and their events are recorded as ignored.
type Registry struct {
	mu       sync.RWMutex
	handlers map[core.Category]core.Handler
}

func NewRegistry(handlers ...core.Handler) (*Registry, error) {
	registry := &Registry{handlers: map[core.Category]core.Handler{}}
	for _, handler := range handlers {
		if err := registry.Register(handler); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

func (r *Registry) Register(handler core.Handler) error {
	if handler == nil {
		return fmt.Errorf("handlers: handler is required")
	}
	category := handler.Category()
	if _, ok := core.ParseCategory(string(category)); !ok {
		return fmt.Errorf("handlers: unsupported category %q", category)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[category]; exists {
		return fmt.Errorf("handlers: category %q already registered", category)
	}
	r.handlers[category] = handler
	return nil
}

func (r *Registry) Resolve(category core.Category) (core.Handler, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	handler, ok := r.handlers[category]
	return handler, ok
}

// Stores groups the domain stores the built-in handlers write to.
type Stores struct {
	Subscriptions SubscriptionStore
	Leases        LeaseStore
	Payments      PaymentStore
	Checkouts     CheckoutStore
	Connect       ConnectStore
	Notifier      Notifier
}

// NewDefaultRegistry wires one handler per category over the given stores.
func NewDefaultRegistry(stores Stores, opts ...Option) (*Registry, error) {
	subscription, err := NewSubscriptionHandler(stores.Subscriptions, stores.Leases, opts...)
	if err != nil {
		return nil, err
	}
	payment, err := NewPaymentHandler(stores.Payments, stores.Notifier, opts...)
	if err != nil {
		return nil, err
	}
	checkout, err := NewCheckoutHandler(CheckoutStores{
		Checkouts:     stores.Checkouts,
		Subscriptions: stores.Subscriptions,
		Payments:      stores.Payments,
		Leases:        stores.Leases,
	}, opts...)
	if err != nil {
		return nil, err
	}
	connect, err := NewConnectHandler(stores.Connect, opts...)
	if err != nil {
		return nil, err
	}
	return NewRegistry(subscription, payment, checkout, connect)
}

var _ core.HandlerResolver = (*Registry)(nil)
