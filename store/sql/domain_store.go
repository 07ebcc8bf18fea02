package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-payhooks/handlers"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// DomainStore is the reference relational implementation of the handler
// collaborators. Every write stamps the audit actor into updated_by.
type DomainStore struct {
	db            *bun.DB
	notifications repository.Repository[*notificationRecord]
	now           func() time.Time
}

func NewDomainStore(db *bun.DB) (*DomainStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*notificationRecord](db, notificationHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid notification repository wiring: %w", err)
		}
	}
	return &DomainStore{db: db, notifications: repo, now: utcNow}, nil
}

// Stores exposes the store as the handler collaborator set.
func (s *DomainStore) Stores() handlers.Stores {
	return handlers.Stores{
		Subscriptions: s,
		Leases:        s,
		Payments:      s,
		Checkouts:     s,
		Connect:       s,
		Notifier:      s,
	}
}

func (s *DomainStore) ready() error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: domain store is not configured")
	}
	return nil
}

// SaveLease is also used by the application's own CRUD flow to seed leases.
func (s *DomainStore) SaveLease(ctx context.Context, actor handlers.Actor, lease handlers.Lease) error {
	if err := s.ready(); err != nil {
		return err
	}
	if strings.TrimSpace(lease.ID) == "" {
		return fmt.Errorf("sqlstore: lease id is required")
	}
	status := lease.Status
	if status == "" {
		status = handlers.LeaseStatusPending
	}
	record := &leaseRecord{
		ID:                 lease.ID,
		TenantID:           lease.TenantID,
		Status:             string(status),
		SignedAt:           cloneTimePointer(lease.SignedAt),
		SubscriptionID:     lease.SubscriptionID,
		SubscriptionStatus: lease.SubscriptionStatus,
		ActivatedAt:        cloneTimePointer(lease.ActivatedAt),
		UpdatedBy:          actor.ID,
		UpdatedAt:          s.stamp(lease.UpdatedAt),
	}
	return upsertRecord(ctx, s.db, record, "id",
		"tenant_id", "status", "signed_at", "subscription_id", "subscription_status",
		"activated_at", "updated_by", "updated_at")
}

func (s *DomainStore) GetLease(ctx context.Context, id string) (handlers.Lease, bool, error) {
	if err := s.ready(); err != nil {
		return handlers.Lease{}, false, err
	}
	record, ok, err := selectByID[leaseRecord](ctx, s.db, id)
	if err != nil || !ok {
		return handlers.Lease{}, ok, err
	}
	return handlers.Lease{
		ID:                 record.ID,
		TenantID:           record.TenantID,
		Status:             handlers.LeaseStatus(record.Status),
		SignedAt:           cloneTimePointer(record.SignedAt),
		SubscriptionID:     record.SubscriptionID,
		SubscriptionStatus: record.SubscriptionStatus,
		ActivatedAt:        cloneTimePointer(record.ActivatedAt),
		UpdatedAt:          record.UpdatedAt.UTC(),
	}, true, nil
}

func (s *DomainStore) GetSubscription(ctx context.Context, id string) (handlers.Subscription, bool, error) {
	if err := s.ready(); err != nil {
		return handlers.Subscription{}, false, err
	}
	record, ok, err := selectByID[subscriptionRecord](ctx, s.db, id)
	if err != nil || !ok {
		return handlers.Subscription{}, ok, err
	}
	return handlers.Subscription{
		ID:                record.ID,
		CustomerID:        record.CustomerID,
		LeaseID:           record.LeaseID,
		TenantID:          record.TenantID,
		Status:            record.Status,
		PriceID:           record.PriceID,
		CurrentPeriodEnd:  cloneTimePointer(record.CurrentPeriodEnd),
		CancelAt:          cloneTimePointer(record.CancelAt),
		CanceledAt:        cloneTimePointer(record.CanceledAt),
		CancelAtPeriodEnd: record.CancelAtPeriodEnd,
		LastEventID:       record.LastEventID,
		LastEventAt:       record.LastEventAt.UTC(),
	}, true, nil
}

func (s *DomainStore) UpsertSubscription(ctx context.Context, actor handlers.Actor, subscription handlers.Subscription) error {
	if err := s.ready(); err != nil {
		return err
	}
	record := &subscriptionRecord{
		ID:                subscription.ID,
		CustomerID:        subscription.CustomerID,
		LeaseID:           subscription.LeaseID,
		TenantID:          subscription.TenantID,
		Status:            subscription.Status,
		PriceID:           subscription.PriceID,
		CurrentPeriodEnd:  cloneTimePointer(subscription.CurrentPeriodEnd),
		CancelAt:          cloneTimePointer(subscription.CancelAt),
		CanceledAt:        cloneTimePointer(subscription.CanceledAt),
		CancelAtPeriodEnd: subscription.CancelAtPeriodEnd,
		LastEventID:       subscription.LastEventID,
		LastEventAt:       subscription.LastEventAt.UTC(),
		UpdatedBy:         actor.ID,
		UpdatedAt:         s.now(),
	}
	return upsertRecord(ctx, s.db, record, "id",
		"customer_id", "lease_id", "tenant_id", "status", "price_id", "current_period_end",
		"cancel_at", "canceled_at", "cancel_at_period_end", "last_event_id", "last_event_at",
		"updated_by", "updated_at")
}

func (s *DomainStore) GetPayment(ctx context.Context, id string) (handlers.Payment, bool, error) {
	if err := s.ready(); err != nil {
		return handlers.Payment{}, false, err
	}
	record, ok, err := selectByID[paymentRecord](ctx, s.db, id)
	if err != nil || !ok {
		return handlers.Payment{}, ok, err
	}
	return handlers.Payment{
		ID:             record.ID,
		Kind:           record.Kind,
		InvoiceID:      record.InvoiceID,
		SubscriptionID: record.SubscriptionID,
		CustomerID:     record.CustomerID,
		LeaseID:        record.LeaseID,
		TenantID:       record.TenantID,
		AmountDue:      record.AmountDue,
		AmountPaid:     record.AmountPaid,
		AmountRefunded: record.AmountRefunded,
		Currency:       record.Currency,
		Status:         record.Status,
		FailureMessage: record.FailureMessage,
		LastEventID:    record.LastEventID,
		LastEventAt:    record.LastEventAt.UTC(),
	}, true, nil
}

func (s *DomainStore) UpsertPayment(ctx context.Context, actor handlers.Actor, payment handlers.Payment) error {
	if err := s.ready(); err != nil {
		return err
	}
	record := &paymentRecord{
		ID:             payment.ID,
		Kind:           payment.Kind,
		InvoiceID:      payment.InvoiceID,
		SubscriptionID: payment.SubscriptionID,
		CustomerID:     payment.CustomerID,
		LeaseID:        payment.LeaseID,
		TenantID:       payment.TenantID,
		AmountDue:      payment.AmountDue,
		AmountPaid:     payment.AmountPaid,
		AmountRefunded: payment.AmountRefunded,
		Currency:       payment.Currency,
		Status:         payment.Status,
		FailureMessage: payment.FailureMessage,
		LastEventID:    payment.LastEventID,
		LastEventAt:    payment.LastEventAt.UTC(),
		UpdatedBy:      actor.ID,
		UpdatedAt:      s.now(),
	}
	return upsertRecord(ctx, s.db, record, "id",
		"kind", "invoice_id", "subscription_id", "customer_id", "lease_id", "tenant_id",
		"amount_due", "amount_paid", "amount_refunded", "currency", "status", "failure_message",
		"last_event_id", "last_event_at", "updated_by", "updated_at")
}

// UpsertBalanceEntry keys entries by their deterministic id, so a replayed
// event rewrites the same row instead of adding to the balance twice.
func (s *DomainStore) UpsertBalanceEntry(ctx context.Context, actor handlers.Actor, entry handlers.BalanceEntry) error {
	if err := s.ready(); err != nil {
		return err
	}
	record := &balanceEntryRecord{
		ID:        entry.ID,
		LeaseID:   entry.LeaseID,
		TenantID:  entry.TenantID,
		Amount:    entry.Amount,
		Currency:  entry.Currency,
		Kind:      entry.Kind,
		EventID:   entry.EventID,
		UpdatedBy: actor.ID,
		UpdatedAt: s.now(),
	}
	return upsertRecord(ctx, s.db, record, "id",
		"lease_id", "tenant_id", "amount", "currency", "kind", "event_id", "updated_by", "updated_at")
}

// LeaseBalance sums the balance entries recorded for a lease.
func (s *DomainStore) LeaseBalance(ctx context.Context, leaseID string) (int64, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	records := []balanceEntryRecord{}
	if err := s.db.NewSelect().
		Model(&records).
		Where("?TableAlias.lease_id = ?", strings.TrimSpace(leaseID)).
		Scan(ctx); err != nil {
		return 0, err
	}
	var total int64
	for _, record := range records {
		total += record.Amount
	}
	return total, nil
}

func (s *DomainStore) UpsertCheckout(ctx context.Context, actor handlers.Actor, checkout handlers.Checkout) error {
	if err := s.ready(); err != nil {
		return err
	}
	record := &checkoutRecord{
		ID:              checkout.ID,
		Mode:            checkout.Mode,
		Status:          checkout.Status,
		PaymentStatus:   checkout.PaymentStatus,
		CustomerID:      checkout.CustomerID,
		SubscriptionID:  checkout.SubscriptionID,
		PaymentIntentID: checkout.PaymentIntentID,
		LeaseID:         checkout.LeaseID,
		TenantID:        checkout.TenantID,
		AmountTotal:     checkout.AmountTotal,
		Currency:        checkout.Currency,
		CompletedAt:     cloneTimePointer(checkout.CompletedAt),
		LastEventID:     checkout.LastEventID,
		LastEventAt:     checkout.LastEventAt.UTC(),
		UpdatedBy:       actor.ID,
		UpdatedAt:       s.now(),
	}
	return upsertRecord(ctx, s.db, record, "id",
		"mode", "status", "payment_status", "customer_id", "subscription_id", "payment_intent_id",
		"lease_id", "tenant_id", "amount_total", "currency", "completed_at", "last_event_id",
		"last_event_at", "updated_by", "updated_at")
}

func (s *DomainStore) GetAccount(ctx context.Context, id string) (handlers.ConnectedAccount, bool, error) {
	if err := s.ready(); err != nil {
		return handlers.ConnectedAccount{}, false, err
	}
	record, ok, err := selectByID[connectedAccountRecord](ctx, s.db, id)
	if err != nil || !ok {
		return handlers.ConnectedAccount{}, ok, err
	}
	return handlers.ConnectedAccount{
		ID:               record.ID,
		TenantID:         record.TenantID,
		ChargesEnabled:   record.ChargesEnabled,
		PayoutsEnabled:   record.PayoutsEnabled,
		DetailsSubmitted: record.DetailsSubmitted,
		Deauthorized:     record.Deauthorized,
		LastEventID:      record.LastEventID,
		LastEventAt:      record.LastEventAt.UTC(),
	}, true, nil
}

func (s *DomainStore) UpsertAccount(ctx context.Context, actor handlers.Actor, account handlers.ConnectedAccount) error {
	if err := s.ready(); err != nil {
		return err
	}
	record := &connectedAccountRecord{
		ID:               account.ID,
		TenantID:         account.TenantID,
		ChargesEnabled:   account.ChargesEnabled,
		PayoutsEnabled:   account.PayoutsEnabled,
		DetailsSubmitted: account.DetailsSubmitted,
		Deauthorized:     account.Deauthorized,
		LastEventID:      account.LastEventID,
		LastEventAt:      account.LastEventAt.UTC(),
		UpdatedBy:        actor.ID,
		UpdatedAt:        s.now(),
	}
	return upsertRecord(ctx, s.db, record, "id",
		"tenant_id", "charges_enabled", "payouts_enabled", "details_submitted", "deauthorized",
		"last_event_id", "last_event_at", "updated_by", "updated_at")
}

func (s *DomainStore) GetPayout(ctx context.Context, id string) (handlers.Payout, bool, error) {
	if err := s.ready(); err != nil {
		return handlers.Payout{}, false, err
	}
	record, ok, err := selectByID[payoutRecord](ctx, s.db, id)
	if err != nil || !ok {
		return handlers.Payout{}, ok, err
	}
	return handlers.Payout{
		ID:             record.ID,
		AccountID:      record.AccountID,
		Amount:         record.Amount,
		Currency:       record.Currency,
		Status:         record.Status,
		ArrivalDate:    cloneTimePointer(record.ArrivalDate),
		FailureCode:    record.FailureCode,
		FailureMessage: record.FailureMessage,
		LastEventID:    record.LastEventID,
		LastEventAt:    record.LastEventAt.UTC(),
	}, true, nil
}

func (s *DomainStore) UpsertPayout(ctx context.Context, actor handlers.Actor, payout handlers.Payout) error {
	if err := s.ready(); err != nil {
		return err
	}
	record := &payoutRecord{
		ID:             payout.ID,
		AccountID:      payout.AccountID,
		Amount:         payout.Amount,
		Currency:       payout.Currency,
		Status:         payout.Status,
		ArrivalDate:    cloneTimePointer(payout.ArrivalDate),
		FailureCode:    payout.FailureCode,
		FailureMessage: payout.FailureMessage,
		LastEventID:    payout.LastEventID,
		LastEventAt:    payout.LastEventAt.UTC(),
		UpdatedBy:      actor.ID,
		UpdatedAt:      s.now(),
	}
	return upsertRecord(ctx, s.db, record, "id",
		"account_id", "amount", "currency", "status", "arrival_date", "failure_code",
		"failure_message", "last_event_id", "last_event_at", "updated_by", "updated_at")
}

// Notify stores one notification per key. A second delivery of the same key
// is a no-op.
func (s *DomainStore) Notify(ctx context.Context, notification handlers.Notification) error {
	if s == nil || s.notifications == nil {
		return fmt.Errorf("sqlstore: domain store is not configured")
	}
	key := strings.TrimSpace(notification.Key)
	if key == "" {
		return fmt.Errorf("sqlstore: notification key is required")
	}
	record := &notificationRecord{
		ID:        uuid.NewString(),
		Key:       key,
		TenantID:  notification.TenantID,
		LeaseID:   notification.LeaseID,
		Kind:      notification.Kind,
		Title:     notification.Title,
		Body:      notification.Body,
		Metadata:  copyAnyMap(notification.Metadata),
		CreatedAt: s.now(),
	}
	if _, err := s.notifications.Create(ctx, record); err != nil {
		if isUniqueViolation(err) {
			return nil
		}
		return err
	}
	return nil
}

func (s *DomainStore) ListNotifications(ctx context.Context, leaseID string) ([]handlers.Notification, error) {
	if s == nil || s.notifications == nil {
		return nil, fmt.Errorf("sqlstore: domain store is not configured")
	}
	records, _, err := s.notifications.List(ctx,
		repository.SelectBy("lease_id", "=", strings.TrimSpace(leaseID)),
		repository.OrderBy("created_at ASC"),
	)
	if err != nil {
		return nil, err
	}
	out := make([]handlers.Notification, 0, len(records))
	for _, record := range records {
		out = append(out, handlers.Notification{
			Key:      record.Key,
			TenantID: record.TenantID,
			LeaseID:  record.LeaseID,
			Kind:     record.Kind,
			Title:    record.Title,
			Body:     record.Body,
			Metadata: copyAnyMap(record.Metadata),
		})
	}
	return out, nil
}

func (s *DomainStore) stamp(value time.Time) time.Time {
	if value.IsZero() {
		return s.now()
	}
	return value.UTC()
}

func selectByID[T any](ctx context.Context, db bun.IDB, id string) (T, bool, error) {
	var zero T
	id = strings.TrimSpace(id)
	if id == "" {
		return zero, false, nil
	}
	records := []T{}
	if err := db.NewSelect().
		Model(&records).
		Where("?TableAlias.id = ?", id).
		Limit(1).
		Scan(ctx); err != nil {
		return zero, false, err
	}
	if len(records) == 0 {
		return zero, false, nil
	}
	return records[0], true, nil
}

func upsertRecord(ctx context.Context, db bun.IDB, model any, conflict string, columns ...string) error {
	query := db.NewInsert().
		Model(model).
		On("CONFLICT (" + conflict + ") DO UPDATE")
	for _, column := range columns {
		query = query.Set(column + " = EXCLUDED." + column)
	}
	_, err := query.Exec(ctx)
	return err
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	message := strings.ToLower(strings.TrimSpace(err.Error()))
	return strings.Contains(message, "unique constraint failed") ||
		strings.Contains(message, "duplicate key value violates unique constraint")
}
