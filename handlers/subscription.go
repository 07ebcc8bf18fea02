package handlers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-payhooks/core"
	"github.com/stripe/stripe-go/v74"
)

type Option func(*settings)

type settings struct {
	instr core.Instrumentation
	now   func() time.Time
}

func WithInstrumentation(instr core.Instrumentation) Option {
	return func(s *settings) {
		s.instr = instr
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *settings) {
		if now != nil {
			s.now = now
		}
	}
}

func newSettings(name string, opts []Option) settings {
	s := settings{
		instr: core.NewInstrumentation(name, nil, nil, nil),
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&s)
		}
	}
	return s
}

// leaseObject is the data object of lease.* events raised by the signing flow.
type leaseObject struct {
	ID       string            `json:"id"`
	TenantID string            `json:"tenant_id"`
	SignedAt int64             `json:"signed_at"`
	Metadata map[string]string `json:"metadata"`
}

// SubscriptionHandler applies subscription lifecycle and lease signing events.
// Both can activate a lease, so both serialize on the lease lock.
type SubscriptionHandler struct {
	subscriptions SubscriptionStore
	leases        leaseUpdater
	settings
}

func NewSubscriptionHandler(subscriptions SubscriptionStore, leases LeaseStore, opts ...Option) (*SubscriptionHandler, error) {
	if subscriptions == nil {
		return nil, fmt.Errorf("handlers: subscription store is required")
	}
	if leases == nil {
		return nil, fmt.Errorf("handlers: lease store is required")
	}
	s := newSettings("payhooks.handlers.subscription", opts)
	return &SubscriptionHandler{
		subscriptions: subscriptions,
		leases:        leaseUpdater{leases: leases, now: s.now},
		settings:      s,
	}, nil
}

func (h *SubscriptionHandler) Category() core.Category {
	return core.CategorySubscription
}

// LockKey locks the lease named in the event metadata, falling back to the
// lease already linked to the stored subscription.
func (h *SubscriptionHandler) LockKey(ctx context.Context, event core.Event) (string, bool, error) {
	if isLeaseEvent(event.Type) {
		var lease leaseObject
		if _, err := decodeObject(event, &lease); err != nil {
			return "", false, err
		}
		if strings.TrimSpace(lease.ID) == "" {
			return "", false, core.Permanent(nil, "handlers: lease event has no lease id")
		}
		return leaseLockKey(lease.ID), true, nil
	}
	var sub stripe.Subscription
	if _, err := decodeObject(event, &sub); err != nil {
		return "", false, err
	}
	if leaseID := metadataValue(sub.Metadata, "lease_id"); leaseID != "" {
		return leaseLockKey(leaseID), true, nil
	}
	if strings.TrimSpace(sub.ID) == "" {
		return "", false, nil
	}
	existing, found, err := h.subscriptions.GetSubscription(ctx, sub.ID)
	if err != nil {
		return "", false, storeFailure(err, "handlers: load subscription")
	}
	if found && existing.LeaseID != "" {
		return leaseLockKey(existing.LeaseID), true, nil
	}
	return "", false, nil
}

func (h *SubscriptionHandler) Handle(ctx context.Context, event core.Event) error {
	if isLeaseEvent(event.Type) {
		return h.handleLease(ctx, event)
	}
	return h.handleSubscription(ctx, event)
}

func isLeaseEvent(eventType string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(eventType)), "lease.")
}

func (h *SubscriptionHandler) handleSubscription(ctx context.Context, event core.Event) error {
	var sub stripe.Subscription
	envelope, err := decodeObject(event, &sub)
	if err != nil {
		return err
	}
	occurredAt := eventTime(envelope, event)
	record := Subscription{
		ID:                sub.ID,
		CustomerID:        customerID(sub.Customer),
		LeaseID:           metadataValue(sub.Metadata, "lease_id"),
		TenantID:          metadataValue(sub.Metadata, "tenant_id"),
		Status:            string(sub.Status),
		PriceID:           subscriptionPriceID(&sub),
		CurrentPeriodEnd:  unixTime(sub.CurrentPeriodEnd),
		CancelAt:          unixTime(sub.CancelAt),
		CanceledAt:        unixTime(sub.CanceledAt),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
		LastEventID:       event.ID,
		LastEventAt:       occurredAt,
	}
	if event.Type == "customer.subscription.deleted" {
		record.Status = "canceled"
	}
	if err := validateRecord(record); err != nil {
		return err
	}

	existing, found, err := h.subscriptions.GetSubscription(ctx, record.ID)
	if err != nil {
		return storeFailure(err, "handlers: load subscription")
	}
	fields := map[string]any{
		"event_id":        event.ID,
		"event_type":      event.Type,
		"subscription_id": record.ID,
		"status":          record.Status,
	}
	if found {
		if err := checkTenant("subscription", record.ID, existing.TenantID, record.TenantID); err != nil {
			return err
		}
		if stale(existing.LastEventAt, occurredAt) {
			h.instr.Info(ctx, "subscription event older than applied state, skipped", fields)
			return nil
		}
		if existing.Status == "canceled" && record.Status != "canceled" {
			h.instr.Info(ctx, "subscription already canceled, late update skipped", fields)
			return nil
		}
		if record.LeaseID == "" {
			record.LeaseID = existing.LeaseID
		}
		if record.TenantID == "" {
			record.TenantID = existing.TenantID
		}
	}

	actor := actorFor(event, record.TenantID)
	if err := h.subscriptions.UpsertSubscription(ctx, actor, record); err != nil {
		return storeFailure(err, "handlers: upsert subscription")
	}
	if record.LeaseID != "" {
		lease, err := h.leases.update(ctx, actor, record.LeaseID, record.TenantID, func(lease *Lease) {
			lease.SubscriptionID = record.ID
			lease.SubscriptionStatus = record.Status
		})
		if err != nil {
			return err
		}
		fields["lease_id"] = lease.ID
		fields["lease_status"] = string(lease.Status)
	}
	h.instr.Info(ctx, "subscription event applied", fields)
	return nil
}

func (h *SubscriptionHandler) handleLease(ctx context.Context, event core.Event) error {
	var object leaseObject
	envelope, err := decodeObject(event, &object)
	if err != nil {
		return err
	}
	fields := map[string]any{
		"event_id":   event.ID,
		"event_type": event.Type,
		"lease_id":   object.ID,
	}
	if event.Type != "lease.signed" {
		h.instr.Debug(ctx, "lease event carries no subscription state, skipped", fields)
		return nil
	}
	signedAt := unixTime(object.SignedAt)
	if signedAt == nil {
		created := eventTime(envelope, event)
		signedAt = &created
	}
	tenantID := strings.TrimSpace(object.TenantID)
	if tenantID == "" {
		tenantID = metadataValue(object.Metadata, "tenant_id")
	}
	lease, err := h.leases.update(ctx, actorFor(event, tenantID), object.ID, tenantID, func(lease *Lease) {
		if lease.SignedAt == nil {
			lease.SignedAt = signedAt
		}
	})
	if err != nil {
		return err
	}
	fields["lease_status"] = string(lease.Status)
	h.instr.Info(ctx, "lease signature applied", fields)
	return nil
}

func subscriptionPriceID(sub *stripe.Subscription) string {
	if sub.Items == nil {
		return ""
	}
	for _, item := range sub.Items.Data {
		if item != nil && item.Price != nil {
			return item.Price.ID
		}
	}
	return ""
}
