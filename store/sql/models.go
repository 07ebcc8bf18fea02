package sqlstore

import (
	"time"

	"github.com/goliatone/go-payhooks/core"
	"github.com/uptrace/bun"
)

type processedEventRecord struct {
	bun.BaseModel `bun:"table:processed_events,alias:pe"`

	EventID     string    `bun:"event_id,pk"`
	EventType   string    `bun:"event_type,notnull"`
	Outcome     string    `bun:"outcome,notnull"`
	ProcessedAt time.Time `bun:"processed_at,notnull"`
}

type lockRecord struct {
	bun.BaseModel `bun:"table:webhook_locks,alias:wl"`

	LockKey    string    `bun:"lock_key,pk"`
	HolderID   string    `bun:"holder_id,notnull"`
	AcquiredAt time.Time `bun:"acquired_at,notnull"`
	ExpiresAt  time.Time `bun:"expires_at,notnull"`
}

type jobRecord struct {
	bun.BaseModel `bun:"table:webhook_jobs,alias:wj"`

	ID             string     `bun:"id,pk"`
	EventID        string     `bun:"event_id,notnull"`
	EventType      string     `bun:"event_type,notnull"`
	Payload        []byte     `bun:"payload"`
	Status         string     `bun:"status,notnull"`
	AttemptCount   int        `bun:"attempt_count,notnull"`
	AttemptBase    int        `bun:"attempt_base,notnull"`
	EnqueuedAt     time.Time  `bun:"enqueued_at,notnull"`
	VisibleAfter   time.Time  `bun:"visible_after,notnull"`
	LeaseOwner     string     `bun:"lease_owner,nullzero"`
	LeaseExpiresAt *time.Time `bun:"lease_expires_at,nullzero"`
	LastError      string     `bun:"last_error,nullzero"`
	FailureKind    string     `bun:"failure_kind,nullzero"`
	ProcessedAt    *time.Time `bun:"processed_at,nullzero"`
	DeadLetteredAt *time.Time `bun:"dead_lettered_at,nullzero"`
	ReplayedAt     *time.Time `bun:"replayed_at,nullzero"`
	UpdatedAt      time.Time  `bun:"updated_at,notnull"`
}

func (r *jobRecord) toDomain() core.QueuedJob {
	if r == nil {
		return core.QueuedJob{}
	}
	return core.QueuedJob{
		ID:             r.ID,
		EventID:        r.EventID,
		EventType:      r.EventType,
		Payload:        append([]byte(nil), r.Payload...),
		Status:         core.JobStatus(r.Status),
		AttemptCount:   r.AttemptCount,
		AttemptBase:    r.AttemptBase,
		EnqueuedAt:     r.EnqueuedAt.UTC(),
		VisibleAfter:   r.VisibleAfter.UTC(),
		LeaseOwner:     r.LeaseOwner,
		LeaseExpiresAt: cloneTimePointer(r.LeaseExpiresAt),
		LastError:      r.LastError,
		FailureKind:    core.FailureKind(r.FailureKind),
		ProcessedAt:    cloneTimePointer(r.ProcessedAt),
		DeadLetteredAt: cloneTimePointer(r.DeadLetteredAt),
		ReplayedAt:     cloneTimePointer(r.ReplayedAt),
		UpdatedAt:      r.UpdatedAt.UTC(),
	}
}

type leaseRecord struct {
	bun.BaseModel `bun:"table:payhooks_leases,alias:pl"`

	ID                 string     `bun:"id,pk"`
	TenantID           string     `bun:"tenant_id,nullzero"`
	Status             string     `bun:"status,notnull"`
	SignedAt           *time.Time `bun:"signed_at,nullzero"`
	SubscriptionID     string     `bun:"subscription_id,nullzero"`
	SubscriptionStatus string     `bun:"subscription_status,nullzero"`
	ActivatedAt        *time.Time `bun:"activated_at,nullzero"`
	UpdatedBy          string     `bun:"updated_by,nullzero"`
	UpdatedAt          time.Time  `bun:"updated_at,notnull"`
}

type subscriptionRecord struct {
	bun.BaseModel `bun:"table:payhooks_subscriptions,alias:ps"`

	ID                string     `bun:"id,pk"`
	CustomerID        string     `bun:"customer_id,notnull"`
	LeaseID           string     `bun:"lease_id,nullzero"`
	TenantID          string     `bun:"tenant_id,nullzero"`
	Status            string     `bun:"status,notnull"`
	PriceID           string     `bun:"price_id,nullzero"`
	CurrentPeriodEnd  *time.Time `bun:"current_period_end,nullzero"`
	CancelAt          *time.Time `bun:"cancel_at,nullzero"`
	CanceledAt        *time.Time `bun:"canceled_at,nullzero"`
	CancelAtPeriodEnd bool       `bun:"cancel_at_period_end,notnull"`
	LastEventID       string     `bun:"last_event_id,nullzero"`
	LastEventAt       time.Time  `bun:"last_event_at,notnull"`
	UpdatedBy         string     `bun:"updated_by,nullzero"`
	UpdatedAt         time.Time  `bun:"updated_at,notnull"`
}

type paymentRecord struct {
	bun.BaseModel `bun:"table:payhooks_payments,alias:pp"`

	ID             string    `bun:"id,pk"`
	Kind           string    `bun:"kind,notnull"`
	InvoiceID      string    `bun:"invoice_id,nullzero"`
	SubscriptionID string    `bun:"subscription_id,nullzero"`
	CustomerID     string    `bun:"customer_id,nullzero"`
	LeaseID        string    `bun:"lease_id,nullzero"`
	TenantID       string    `bun:"tenant_id,nullzero"`
	AmountDue      int64     `bun:"amount_due,notnull"`
	AmountPaid     int64     `bun:"amount_paid,notnull"`
	AmountRefunded int64     `bun:"amount_refunded,notnull"`
	Currency       string    `bun:"currency,notnull"`
	Status         string    `bun:"status,notnull"`
	FailureMessage string    `bun:"failure_message,nullzero"`
	LastEventID    string    `bun:"last_event_id,nullzero"`
	LastEventAt    time.Time `bun:"last_event_at,notnull"`
	UpdatedBy      string    `bun:"updated_by,nullzero"`
	UpdatedAt      time.Time `bun:"updated_at,notnull"`
}

type balanceEntryRecord struct {
	bun.BaseModel `bun:"table:payhooks_balance_entries,alias:pbe"`

	ID        string    `bun:"id,pk"`
	LeaseID   string    `bun:"lease_id,notnull"`
	TenantID  string    `bun:"tenant_id,nullzero"`
	Amount    int64     `bun:"amount,notnull"`
	Currency  string    `bun:"currency,notnull"`
	Kind      string    `bun:"kind,notnull"`
	EventID   string    `bun:"event_id,nullzero"`
	UpdatedBy string    `bun:"updated_by,nullzero"`
	UpdatedAt time.Time `bun:"updated_at,notnull"`
}

type checkoutRecord struct {
	bun.BaseModel `bun:"table:payhooks_checkouts,alias:pc"`

	ID              string     `bun:"id,pk"`
	Mode            string     `bun:"mode,notnull"`
	Status          string     `bun:"status,nullzero"`
	PaymentStatus   string     `bun:"payment_status,nullzero"`
	CustomerID      string     `bun:"customer_id,nullzero"`
	SubscriptionID  string     `bun:"subscription_id,nullzero"`
	PaymentIntentID string     `bun:"payment_intent_id,nullzero"`
	LeaseID         string     `bun:"lease_id,nullzero"`
	TenantID        string     `bun:"tenant_id,nullzero"`
	AmountTotal     int64      `bun:"amount_total,notnull"`
	Currency        string     `bun:"currency,nullzero"`
	CompletedAt     *time.Time `bun:"completed_at,nullzero"`
	LastEventID     string     `bun:"last_event_id,nullzero"`
	LastEventAt     time.Time  `bun:"last_event_at,notnull"`
	UpdatedBy       string     `bun:"updated_by,nullzero"`
	UpdatedAt       time.Time  `bun:"updated_at,notnull"`
}

type connectedAccountRecord struct {
	bun.BaseModel `bun:"table:payhooks_connected_accounts,alias:pca"`

	ID               string    `bun:"id,pk"`
	TenantID         string    `bun:"tenant_id,nullzero"`
	ChargesEnabled   bool      `bun:"charges_enabled,notnull"`
	PayoutsEnabled   bool      `bun:"payouts_enabled,notnull"`
	DetailsSubmitted bool      `bun:"details_submitted,notnull"`
	Deauthorized     bool      `bun:"deauthorized,notnull"`
	LastEventID      string    `bun:"last_event_id,nullzero"`
	LastEventAt      time.Time `bun:"last_event_at,notnull"`
	UpdatedBy        string    `bun:"updated_by,nullzero"`
	UpdatedAt        time.Time `bun:"updated_at,notnull"`
}

type payoutRecord struct {
	bun.BaseModel `bun:"table:payhooks_payouts,alias:ppo"`

	ID             string     `bun:"id,pk"`
	AccountID      string     `bun:"account_id,nullzero"`
	Amount         int64      `bun:"amount,notnull"`
	Currency       string     `bun:"currency,notnull"`
	Status         string     `bun:"status,notnull"`
	ArrivalDate    *time.Time `bun:"arrival_date,nullzero"`
	FailureCode    string     `bun:"failure_code,nullzero"`
	FailureMessage string     `bun:"failure_message,nullzero"`
	LastEventID    string     `bun:"last_event_id,nullzero"`
	LastEventAt    time.Time  `bun:"last_event_at,notnull"`
	UpdatedBy      string     `bun:"updated_by,nullzero"`
	UpdatedAt      time.Time  `bun:"updated_at,notnull"`
}

type notificationRecord struct {
	bun.BaseModel `bun:"table:payhooks_notifications,alias:pn"`

	ID        string         `bun:"id,pk"`
	Key       string         `bun:"notification_key,notnull"`
	TenantID  string         `bun:"tenant_id,nullzero"`
	LeaseID   string         `bun:"lease_id,nullzero"`
	Kind      string         `bun:"kind,notnull"`
	Title     string         `bun:"title,notnull"`
	Body      string         `bun:"body,nullzero"`
	Metadata  map[string]any `bun:"metadata,type:jsonb,notnull"`
	CreatedAt time.Time      `bun:"created_at,notnull"`
}

func cloneTimePointer(input *time.Time) *time.Time {
	if input == nil {
		return nil
	}
	value := input.UTC()
	return &value
}

func copyAnyMap(in map[string]any) map[string]any {
	if len(in) == 0 {
		return map[string]any{}
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}
