package handlers

import (
	"context"
	"time"
)

// Actor identifies the trusted webhook writer for audit trails. Handlers write
// with elevated privileges, so every write names the event it came from.
type Actor struct {
	ID       string
	EventID  string
	TenantID string
	Trusted  bool
}

type LeaseStatus string

const (
	LeaseStatusPending LeaseStatus = "pending"
	LeaseStatusSigned  LeaseStatus = "signed"
	LeaseStatusActive  LeaseStatus = "active"
	LeaseStatusEnded   LeaseStatus = "ended"
)

type Lease struct {
	ID                 string `validate:"required"`
	TenantID           string
	Status             LeaseStatus
	SignedAt           *time.Time
	SubscriptionID     string
	SubscriptionStatus string
	ActivatedAt        *time.Time
	UpdatedAt          time.Time
}

// Refresh derives the lease status from its signature and subscription state
// so related events may be applied in any order.
func (l *Lease) Refresh(now time.Time) {
	switch {
	case l.SignedAt != nil && subscriptionLive(l.SubscriptionStatus):
		l.Status = LeaseStatusActive
		if l.ActivatedAt == nil {
			activated := now.UTC()
			l.ActivatedAt = &activated
		}
	case l.ActivatedAt != nil && subscriptionEnded(l.SubscriptionStatus):
		l.Status = LeaseStatusEnded
	case l.SignedAt != nil:
		l.Status = LeaseStatusSigned
	default:
		l.Status = LeaseStatusPending
	}
	l.UpdatedAt = now.UTC()
}

func subscriptionLive(status string) bool {
	return status == "active" || status == "trialing"
}

func subscriptionEnded(status string) bool {
	return status == "canceled" || status == "incomplete_expired" || status == "unpaid"
}

type Subscription struct {
	ID                string `validate:"required"`
	CustomerID        string `validate:"required"`
	LeaseID           string
	TenantID          string
	Status            string `validate:"required"`
	PriceID           string
	CurrentPeriodEnd  *time.Time
	CancelAt          *time.Time
	CanceledAt        *time.Time
	CancelAtPeriodEnd bool
	LastEventID       string
	LastEventAt       time.Time
}

type Payment struct {
	ID             string `validate:"required"`
	Kind           string `validate:"required,oneof=invoice payment_intent charge checkout"`
	InvoiceID      string
	SubscriptionID string
	CustomerID     string
	LeaseID        string
	TenantID       string
	AmountDue      int64  `validate:"gte=0"`
	AmountPaid     int64  `validate:"gte=0"`
	AmountRefunded int64  `validate:"gte=0"`
	Currency       string `validate:"required,len=3"`
	Status         string `validate:"required"`
	FailureMessage string
	LastEventID    string
	LastEventAt    time.Time
}

// BalanceEntry is keyed by ID so applying the same payment twice leaves one entry.
type BalanceEntry struct {
	ID       string `validate:"required"`
	LeaseID  string `validate:"required"`
	TenantID string
	Amount   int64
	Currency string `validate:"required,len=3"`
	Kind     string `validate:"required,oneof=payment refund"`
	EventID  string
}

type Checkout struct {
	ID              string `validate:"required"`
	Mode            string `validate:"required,oneof=payment subscription setup"`
	Status          string
	PaymentStatus   string
	CustomerID      string
	SubscriptionID  string
	PaymentIntentID string
	LeaseID         string
	TenantID        string
	AmountTotal     int64 `validate:"gte=0"`
	Currency        string
	CompletedAt     *time.Time
	LastEventID     string
	LastEventAt     time.Time
}

type ConnectedAccount struct {
	ID               string `validate:"required"`
	TenantID         string
	ChargesEnabled   bool
	PayoutsEnabled   bool
	DetailsSubmitted bool
	Deauthorized     bool
	LastEventID      string
	LastEventAt      time.Time
}

type Payout struct {
	ID             string `validate:"required"`
	AccountID      string
	Amount         int64  `validate:"gte=0"`
	Currency       string `validate:"required,len=3"`
	Status         string `validate:"required"`
	ArrivalDate    *time.Time
	FailureCode    string
	FailureMessage string
	LastEventID    string
	LastEventAt    time.Time
}

type Notification struct {
	Key      string `validate:"required"`
	TenantID string
	LeaseID  string
	Kind     string `validate:"required"`
	Title    string `validate:"required"`
	Body     string
	Metadata map[string]any
}

// The stores below belong to the domain CRUD layer. Every write is an upsert
// keyed by a stable business id so a repeated invocation is harmless.

type SubscriptionStore interface {
	GetSubscription(ctx context.Context, id string) (Subscription, bool, error)
	UpsertSubscription(ctx context.Context, actor Actor, subscription Subscription) error
}

type LeaseStore interface {
	GetLease(ctx context.Context, id string) (Lease, bool, error)
	SaveLease(ctx context.Context, actor Actor, lease Lease) error
}

type PaymentStore interface {
	GetPayment(ctx context.Context, id string) (Payment, bool, error)
	UpsertPayment(ctx context.Context, actor Actor, payment Payment) error
	UpsertBalanceEntry(ctx context.Context, actor Actor, entry BalanceEntry) error
}

type CheckoutStore interface {
	UpsertCheckout(ctx context.Context, actor Actor, checkout Checkout) error
}

type ConnectStore interface {
	GetAccount(ctx context.Context, id string) (ConnectedAccount, bool, error)
	UpsertAccount(ctx context.Context, actor Actor, account ConnectedAccount) error
	GetPayout(ctx context.Context, id string) (Payout, bool, error)
	UpsertPayout(ctx context.Context, actor Actor, payout Payout) error
}

// Notifier raises user-visible domain notifications, keyed for upsert.
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}
