package handlers

import (
	"context"
	"fmt"
	"strings"

	"github.com/goliatone/go-payhooks/core"
	"github.com/stripe/stripe-go/v74"
)

// ConnectHandler tracks connected account capability and payout state.
type ConnectHandler struct {
	connect ConnectStore
	settings
}

func NewConnectHandler(connect ConnectStore, opts ...Option) (*ConnectHandler, error) {
	if connect == nil {
		return nil, fmt.Errorf("handlers: connect store is required")
	}
	return &ConnectHandler{
		connect:  connect,
		settings: newSettings("payhooks.handlers.connect", opts),
	}, nil
}

func (h *ConnectHandler) Category() core.Category {
	return core.CategoryConnect
}

func (h *ConnectHandler) LockKey(context.Context, core.Event) (string, bool, error) {
	return "", false, nil
}

func (h *ConnectHandler) Handle(ctx context.Context, event core.Event) error {
	eventType := strings.ToLower(strings.TrimSpace(event.Type))
	switch {
	case eventType == "account.updated":
		return h.handleAccount(ctx, event)
	case eventType == "account.application.deauthorized":
		return h.handleDeauthorized(ctx, event)
	case strings.HasPrefix(eventType, "payout."):
		return h.handlePayout(ctx, event)
	default:
		h.instr.Debug(ctx, "connect event type carries no tracked state, skipped", map[string]any{
			"event_id":   event.ID,
			"event_type": event.Type,
		})
		return nil
	}
}

func (h *ConnectHandler) handleAccount(ctx context.Context, event core.Event) error {
	var account stripe.Account
	envelope, err := decodeObject(event, &account)
	if err != nil {
		return err
	}
	record := ConnectedAccount{
		ID:               account.ID,
		TenantID:         metadataValue(account.Metadata, "tenant_id"),
		ChargesEnabled:   account.ChargesEnabled,
		PayoutsEnabled:   account.PayoutsEnabled,
		DetailsSubmitted: account.DetailsSubmitted,
		LastEventID:      event.ID,
		LastEventAt:      eventTime(envelope, event),
	}
	return h.applyAccount(ctx, event, record, func(existing ConnectedAccount, next *ConnectedAccount) {
		next.Deauthorized = existing.Deauthorized
	})
}

func (h *ConnectHandler) handleDeauthorized(ctx context.Context, event core.Event) error {
	envelope, err := decodeObject(event, &struct{}{})
	if err != nil {
		return err
	}
	accountID := strings.TrimSpace(envelope.Account)
	if accountID == "" {
		accountID = strings.TrimSpace(event.Account)
	}
	if accountID == "" {
		return core.Permanent(nil, "handlers: deauthorization event has no connected account")
	}
	record := ConnectedAccount{
		ID:           accountID,
		Deauthorized: true,
		LastEventID:  event.ID,
		LastEventAt:  eventTime(envelope, event),
	}
	return h.applyAccount(ctx, event, record, func(existing ConnectedAccount, next *ConnectedAccount) {
		next.TenantID = existing.TenantID
		next.DetailsSubmitted = existing.DetailsSubmitted
	})
}

func (h *ConnectHandler) applyAccount(
	ctx context.Context,
	event core.Event,
	record ConnectedAccount,
	merge func(existing ConnectedAccount, next *ConnectedAccount),
) error {
	if err := validateRecord(record); err != nil {
		return err
	}
	fields := map[string]any{
		"event_id":   event.ID,
		"event_type": event.Type,
		"account_id": record.ID,
	}
	existing, found, err := h.connect.GetAccount(ctx, record.ID)
	if err != nil {
		return storeFailure(err, "handlers: load connected account")
	}
	if found {
		if err := checkTenant("connected account", record.ID, existing.TenantID, record.TenantID); err != nil {
			return err
		}
		if stale(existing.LastEventAt, record.LastEventAt) {
			h.instr.Info(ctx, "connected account event older than applied state, skipped", fields)
			return nil
		}
		merge(existing, &record)
		if record.TenantID == "" {
			record.TenantID = existing.TenantID
		}
	}
	if err := h.connect.UpsertAccount(ctx, actorFor(event, record.TenantID), record); err != nil {
		return storeFailure(err, "handlers: upsert connected account")
	}
	fields["charges_enabled"] = record.ChargesEnabled
	fields["payouts_enabled"] = record.PayoutsEnabled
	fields["deauthorized"] = record.Deauthorized
	h.instr.Info(ctx, "connected account event applied", fields)
	return nil
}

func (h *ConnectHandler) handlePayout(ctx context.Context, event core.Event) error {
	var payout stripe.Payout
	envelope, err := decodeObject(event, &payout)
	if err != nil {
		return err
	}
	status := string(payout.Status)
	switch event.Type {
	case "payout.paid":
		status = "paid"
	case "payout.failed":
		status = "failed"
	case "payout.canceled":
		status = "canceled"
	}
	accountID := strings.TrimSpace(envelope.Account)
	if accountID == "" {
		accountID = strings.TrimSpace(event.Account)
	}
	record := Payout{
		ID:             payout.ID,
		AccountID:      accountID,
		Amount:         payout.Amount,
		Currency:       string(payout.Currency),
		Status:         status,
		ArrivalDate:    unixTime(payout.ArrivalDate),
		FailureCode:    string(payout.FailureCode),
		FailureMessage: payout.FailureMessage,
		LastEventID:    event.ID,
		LastEventAt:    eventTime(envelope, event),
	}
	if err := validateRecord(record); err != nil {
		return err
	}
	fields := map[string]any{
		"event_id":   event.ID,
		"event_type": event.Type,
		"payout_id":  record.ID,
		"status":     record.Status,
	}
	existing, found, err := h.connect.GetPayout(ctx, record.ID)
	if err != nil {
		return storeFailure(err, "handlers: load payout")
	}
	if found && (stale(existing.LastEventAt, record.LastEventAt) || payoutSettled(existing.Status, record.Status)) {
		h.instr.Info(ctx, "payout already settled or newer, event skipped", fields)
		return nil
	}
	if err := h.connect.UpsertPayout(ctx, actorFor(event, ""), record); err != nil {
		return storeFailure(err, "handlers: upsert payout")
	}
	h.instr.Info(ctx, "payout event applied", fields)
	return nil
}

// payoutSettled reports whether current is final for next. A paid payout may
// still fail afterwards.
func payoutSettled(current string, next string) bool {
	switch current {
	case "failed", "canceled":
		return true
	case "paid":
		return next != "failed"
	default:
		return false
	}
}
