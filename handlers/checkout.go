package handlers

import (
	"context"
	"fmt"

	"github.com/goliatone/go-payhooks/core"
	"github.com/stripe/stripe-go/v74"
)

// CheckoutHandler finalizes checkout sessions into the checkout record and,
// for completed sessions, the subscription or one-time payment they produced.
type CheckoutHandler struct {
	checkouts     CheckoutStore
	subscriptions SubscriptionStore
	payments      PaymentStore
	leases        leaseUpdater
	settings
}

type CheckoutStores struct {
	Checkouts     CheckoutStore
	Subscriptions SubscriptionStore
	Payments      PaymentStore
	Leases        LeaseStore
}

func NewCheckoutHandler(stores CheckoutStores, opts ...Option) (*CheckoutHandler, error) {
	if stores.Checkouts == nil {
		return nil, fmt.Errorf("handlers: checkout store is required")
	}
	if stores.Subscriptions == nil || stores.Payments == nil || stores.Leases == nil {
		return nil, fmt.Errorf("handlers: checkout handler requires subscription, payment and lease stores")
	}
	s := newSettings("payhooks.handlers.checkout", opts)
	return &CheckoutHandler{
		checkouts:     stores.Checkouts,
		subscriptions: stores.Subscriptions,
		payments:      stores.Payments,
		leases:        leaseUpdater{leases: stores.Leases, now: s.now},
		settings:      s,
	}, nil
}

func (h *CheckoutHandler) Category() core.Category {
	return core.CategoryCheckout
}

func (h *CheckoutHandler) LockKey(_ context.Context, event core.Event) (string, bool, error) {
	var session stripe.CheckoutSession
	if _, err := decodeObject(event, &session); err != nil {
		return "", false, err
	}
	if leaseID := metadataValue(session.Metadata, "lease_id"); leaseID != "" {
		return leaseLockKey(leaseID), true, nil
	}
	return "", false, nil
}

func (h *CheckoutHandler) Handle(ctx context.Context, event core.Event) error {
	var session stripe.CheckoutSession
	envelope, err := decodeObject(event, &session)
	if err != nil {
		return err
	}
	occurredAt := eventTime(envelope, event)
	record := Checkout{
		ID:            session.ID,
		Mode:          string(session.Mode),
		Status:        string(session.Status),
		PaymentStatus: string(session.PaymentStatus),
		CustomerID:    customerID(session.Customer),
		LeaseID:       metadataValue(session.Metadata, "lease_id"),
		TenantID:      metadataValue(session.Metadata, "tenant_id"),
		AmountTotal:   session.AmountTotal,
		Currency:      string(session.Currency),
		LastEventID:   event.ID,
		LastEventAt:   occurredAt,
	}
	if session.Subscription != nil {
		record.SubscriptionID = session.Subscription.ID
	}
	if session.PaymentIntent != nil {
		record.PaymentIntentID = session.PaymentIntent.ID
	}
	switch event.Type {
	case "checkout.session.completed", "checkout.session.async_payment_succeeded":
		record.CompletedAt = &occurredAt
	case "checkout.session.async_payment_failed":
		record.PaymentStatus = "failed"
	}
	if err := validateRecord(record); err != nil {
		return err
	}

	actor := actorFor(event, record.TenantID)
	if err := h.checkouts.UpsertCheckout(ctx, actor, record); err != nil {
		return storeFailure(err, "handlers: upsert checkout")
	}
	fields := map[string]any{
		"event_id":    event.ID,
		"event_type":  event.Type,
		"checkout_id": record.ID,
		"mode":        record.Mode,
	}
	if record.CompletedAt == nil {
		h.instr.Info(ctx, "checkout session recorded", fields)
		return nil
	}

	switch record.Mode {
	case "subscription":
		err = h.finalizeSubscription(ctx, actor, record)
	case "payment":
		err = h.finalizePayment(ctx, actor, record)
	}
	if err != nil {
		return err
	}
	h.instr.Info(ctx, "checkout session finalized", fields)
	return nil
}

// finalizeSubscription seeds the subscription only when the subscription
// events have not created it yet; those events carry the richer state.
func (h *CheckoutHandler) finalizeSubscription(ctx context.Context, actor Actor, record Checkout) error {
	if record.SubscriptionID == "" {
		return core.Permanent(nil, "handlers: subscription checkout "+record.ID+" has no subscription")
	}
	existing, found, err := h.subscriptions.GetSubscription(ctx, record.SubscriptionID)
	if err != nil {
		return storeFailure(err, "handlers: load subscription")
	}
	if found {
		if err := checkTenant("subscription", existing.ID, existing.TenantID, record.TenantID); err != nil {
			return err
		}
	} else {
		subscription := Subscription{
			ID:          record.SubscriptionID,
			CustomerID:  record.CustomerID,
			LeaseID:     record.LeaseID,
			TenantID:    record.TenantID,
			Status:      "incomplete",
			LastEventID: record.LastEventID,
		}
		if err := validateRecord(subscription); err != nil {
			return err
		}
		if err := h.subscriptions.UpsertSubscription(ctx, actor, subscription); err != nil {
			return storeFailure(err, "handlers: seed subscription")
		}
	}
	if record.LeaseID == "" {
		return nil
	}
	_, err = h.leases.update(ctx, actor, record.LeaseID, record.TenantID, func(lease *Lease) {
		if lease.SubscriptionID == "" {
			lease.SubscriptionID = record.SubscriptionID
		}
	})
	return err
}

func (h *CheckoutHandler) finalizePayment(ctx context.Context, actor Actor, record Checkout) error {
	id := record.PaymentIntentID
	kind := "payment_intent"
	if id == "" {
		id = record.ID
		kind = "checkout"
	}
	existing, found, err := h.payments.GetPayment(ctx, id)
	if err != nil {
		return storeFailure(err, "handlers: load payment")
	}
	status := "processing"
	if record.PaymentStatus == "paid" {
		status = paymentStatusSucceeded
	}
	if found && regresses(existing.Status, status) {
		return nil
	}
	payment := Payment{
		ID:          id,
		Kind:        kind,
		CustomerID:  record.CustomerID,
		LeaseID:     record.LeaseID,
		TenantID:    record.TenantID,
		AmountDue:   record.AmountTotal,
		Currency:    record.Currency,
		Status:      status,
		LastEventID: record.LastEventID,
		LastEventAt: record.LastEventAt,
	}
	if status == paymentStatusSucceeded {
		payment.AmountPaid = record.AmountTotal
	}
	if err := validateRecord(payment); err != nil {
		return err
	}
	if err := h.payments.UpsertPayment(ctx, actor, payment); err != nil {
		return storeFailure(err, "handlers: upsert checkout payment")
	}
	if status != paymentStatusSucceeded || payment.LeaseID == "" || payment.AmountPaid == 0 {
		return nil
	}
	entry := BalanceEntry{
		ID:       "payment:" + payment.ID,
		LeaseID:  payment.LeaseID,
		TenantID: payment.TenantID,
		Amount:   payment.AmountPaid,
		Currency: payment.Currency,
		Kind:     "payment",
		EventID:  record.LastEventID,
	}
	if err := validateRecord(entry); err != nil {
		return err
	}
	if err := h.payments.UpsertBalanceEntry(ctx, actor, entry); err != nil {
		return storeFailure(err, "handlers: upsert balance entry")
	}
	return nil
}
