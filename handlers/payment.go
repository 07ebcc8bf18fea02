package handlers

import (
	"context"
	"fmt"
	"strings"

	"github.com/goliatone/go-payhooks/core"
	"github.com/stripe/stripe-go/v74"
)

const (
	paymentStatusSucceeded = "succeeded"
	paymentStatusFailed    = "failed"
	paymentStatusRefunded  = "refunded"
)

// PaymentHandler records invoice, payment intent and charge outcomes. Every
// write is keyed by the provider object id, so it runs without a lock.
type PaymentHandler struct {
	payments PaymentStore
	notifier Notifier
	settings
}

func NewPaymentHandler(payments PaymentStore, notifier Notifier, opts ...Option) (*PaymentHandler, error) {
	if payments == nil {
		return nil, fmt.Errorf("handlers: payment store is required")
	}
	return &PaymentHandler{
		payments: payments,
		notifier: notifier,
		settings: newSettings("payhooks.handlers.payment", opts),
	}, nil
}

func (h *PaymentHandler) Category() core.Category {
	return core.CategoryPayment
}

func (h *PaymentHandler) LockKey(context.Context, core.Event) (string, bool, error) {
	return "", false, nil
}

func (h *PaymentHandler) Handle(ctx context.Context, event core.Event) error {
	eventType := strings.ToLower(strings.TrimSpace(event.Type))
	switch {
	case strings.HasPrefix(eventType, "invoice."):
		return h.handleInvoice(ctx, event)
	case strings.HasPrefix(eventType, "payment_intent."):
		return h.handlePaymentIntent(ctx, event)
	case eventType == "charge.refunded":
		return h.handleRefund(ctx, event)
	default:
		h.instr.Debug(ctx, "payment event type carries no payment state, skipped", map[string]any{
			"event_id":   event.ID,
			"event_type": event.Type,
		})
		return nil
	}
}

func (h *PaymentHandler) handleInvoice(ctx context.Context, event core.Event) error {
	var invoice stripe.Invoice
	envelope, err := decodeObject(event, &invoice)
	if err != nil {
		return err
	}
	status := string(invoice.Status)
	switch event.Type {
	case "invoice.paid", "invoice.payment_succeeded":
		status = paymentStatusSucceeded
	case "invoice.payment_failed":
		status = paymentStatusFailed
	}
	record := Payment{
		ID:          invoice.ID,
		Kind:        "invoice",
		InvoiceID:   invoice.ID,
		CustomerID:  customerID(invoice.Customer),
		LeaseID:     metadataValue(invoice.Metadata, "lease_id"),
		TenantID:    metadataValue(invoice.Metadata, "tenant_id"),
		AmountDue:   invoice.AmountDue,
		AmountPaid:  invoice.AmountPaid,
		Currency:    string(invoice.Currency),
		Status:      status,
		LastEventID: event.ID,
		LastEventAt: eventTime(envelope, event),
	}
	if invoice.Subscription != nil {
		record.SubscriptionID = invoice.Subscription.ID
	}
	return h.apply(ctx, event, record)
}

func (h *PaymentHandler) handlePaymentIntent(ctx context.Context, event core.Event) error {
	var intent stripe.PaymentIntent
	envelope, err := decodeObject(event, &intent)
	if err != nil {
		return err
	}
	status := string(intent.Status)
	switch event.Type {
	case "payment_intent.succeeded":
		status = paymentStatusSucceeded
	case "payment_intent.payment_failed":
		status = paymentStatusFailed
	}
	record := Payment{
		ID:          intent.ID,
		Kind:        "payment_intent",
		CustomerID:  customerID(intent.Customer),
		LeaseID:     metadataValue(intent.Metadata, "lease_id"),
		TenantID:    metadataValue(intent.Metadata, "tenant_id"),
		AmountDue:   intent.Amount,
		AmountPaid:  intent.AmountReceived,
		Currency:    string(intent.Currency),
		Status:      status,
		LastEventID: event.ID,
		LastEventAt: eventTime(envelope, event),
	}
	if intent.Invoice != nil {
		record.InvoiceID = intent.Invoice.ID
	}
	if intent.LastPaymentError != nil {
		record.FailureMessage = intent.LastPaymentError.Msg
	}
	return h.apply(ctx, event, record)
}

func (h *PaymentHandler) handleRefund(ctx context.Context, event core.Event) error {
	var charge stripe.Charge
	envelope, err := decodeObject(event, &charge)
	if err != nil {
		return err
	}
	record := Payment{
		ID:             charge.ID,
		Kind:           "charge",
		CustomerID:     customerID(charge.Customer),
		LeaseID:        metadataValue(charge.Metadata, "lease_id"),
		TenantID:       metadataValue(charge.Metadata, "tenant_id"),
		AmountDue:      charge.Amount,
		AmountPaid:     charge.Amount,
		AmountRefunded: charge.AmountRefunded,
		Currency:       string(charge.Currency),
		Status:         paymentStatusRefunded,
		LastEventID:    event.ID,
		LastEventAt:    eventTime(envelope, event),
	}
	if charge.Invoice != nil {
		record.InvoiceID = charge.Invoice.ID
	}
	return h.apply(ctx, event, record)
}

func (h *PaymentHandler) apply(ctx context.Context, event core.Event, record Payment) error {
	if err := validateRecord(record); err != nil {
		return err
	}
	fields := map[string]any{
		"event_id":   event.ID,
		"event_type": event.Type,
		"payment_id": record.ID,
		"status":     record.Status,
	}
	existing, found, err := h.payments.GetPayment(ctx, record.ID)
	if err != nil {
		return storeFailure(err, "handlers: load payment")
	}
	if found {
		if err := checkTenant("payment", record.ID, existing.TenantID, record.TenantID); err != nil {
			return err
		}
		if stale(existing.LastEventAt, record.LastEventAt) || regresses(existing.Status, record.Status) {
			h.instr.Info(ctx, "payment event would regress applied state, skipped", fields)
			return nil
		}
		if record.TenantID == "" {
			record.TenantID = existing.TenantID
		}
		if record.LeaseID == "" {
			record.LeaseID = existing.LeaseID
		}
	}

	actor := actorFor(event, record.TenantID)
	if err := h.payments.UpsertPayment(ctx, actor, record); err != nil {
		return storeFailure(err, "handlers: upsert payment")
	}
	if err := h.applyBalance(ctx, actor, event, record); err != nil {
		return err
	}
	if record.Status == paymentStatusFailed {
		if err := h.notifyFailure(ctx, event, record); err != nil {
			return err
		}
	}
	h.instr.Info(ctx, "payment event applied", fields)
	return nil
}

// applyBalance keys entries by payment id, so repeated applications converge.
func (h *PaymentHandler) applyBalance(ctx context.Context, actor Actor, event core.Event, record Payment) error {
	if record.LeaseID == "" {
		return nil
	}
	var entry BalanceEntry
	switch record.Status {
	case paymentStatusSucceeded:
		if record.AmountPaid == 0 {
			return nil
		}
		entry = BalanceEntry{
			ID:     "payment:" + record.ID,
			Amount: record.AmountPaid,
			Kind:   "payment",
		}
	case paymentStatusRefunded:
		if record.AmountRefunded == 0 {
			return nil
		}
		entry = BalanceEntry{
			ID:     "refund:" + record.ID,
			Amount: -record.AmountRefunded,
			Kind:   "refund",
		}
	default:
		return nil
	}
	entry.LeaseID = record.LeaseID
	entry.TenantID = record.TenantID
	entry.Currency = record.Currency
	entry.EventID = event.ID
	if err := validateRecord(entry); err != nil {
		return err
	}
	if err := h.payments.UpsertBalanceEntry(ctx, actor, entry); err != nil {
		return storeFailure(err, "handlers: upsert balance entry")
	}
	return nil
}

func (h *PaymentHandler) notifyFailure(ctx context.Context, event core.Event, record Payment) error {
	if h.notifier == nil {
		return nil
	}
	body := "A payment could not be collected."
	if record.FailureMessage != "" {
		body = record.FailureMessage
	}
	notification := Notification{
		Key:      event.ID + ":payment_failed",
		TenantID: record.TenantID,
		LeaseID:  record.LeaseID,
		Kind:     "payment_failed",
		Title:    "Payment failed",
		Body:     body,
		Metadata: map[string]any{
			"payment_id": record.ID,
			"amount_due": record.AmountDue,
			"currency":   record.Currency,
		},
	}
	if err := validateRecord(notification); err != nil {
		return err
	}
	if err := h.notifier.Notify(ctx, notification); err != nil {
		return storeFailure(err, "handlers: notify payment failure")
	}
	return nil
}

// regresses reports whether applying next over current would undo a settled
// outcome. Refunds may follow success; nothing overrides a refund.
func regresses(current string, next string) bool {
	switch current {
	case paymentStatusRefunded:
		return next != paymentStatusRefunded
	case paymentStatusSucceeded:
		return next != paymentStatusSucceeded && next != paymentStatusRefunded
	default:
		return false
	}
}
