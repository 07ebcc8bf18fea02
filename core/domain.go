package core

import (
	"strings"
	"time"
)

type Category string

const (
	CategorySubscription Category = "subscription"
	CategoryPayment      Category = "payment"
	CategoryCheckout     Category = "checkout"
	CategoryConnect      Category = "connect"
	CategoryUnknown      Category = "unknown"
)

// Categories lists the closed set of handled event categories.
func Categories() []Category {
	return []Category{
		CategorySubscription,
		CategoryPayment,
		CategoryCheckout,
		CategoryConnect,
	}
}

var categoryPrefixes = []struct {
	prefix   string
	category Category
}{
	{prefix: "customer.subscription.", category: CategorySubscription},
	{prefix: "subscription.", category: CategorySubscription},
	{prefix: "lease.", category: CategorySubscription},
	{prefix: "invoice.", category: CategoryPayment},
	{prefix: "payment_intent.", category: CategoryPayment},
	{prefix: "charge.", category: CategoryPayment},
	{prefix: "checkout.session.", category: CategoryCheckout},
	{prefix: "account.", category: CategoryConnect},
	{prefix: "payout.", category: CategoryConnect},
	{prefix: "transfer.", category: CategoryConnect},
	{prefix: "capability.", category: CategoryConnect},
}

// CategoryFor maps a provider event type tag onto its handler category.
func CategoryFor(eventType string) Category {
	eventType = strings.TrimSpace(strings.ToLower(eventType))
	for _, entry := range categoryPrefixes {
		if strings.HasPrefix(eventType, entry.prefix) {
			return entry.category
		}
	}
	return CategoryUnknown
}

func ParseCategory(value string) (Category, bool) {
	candidate := Category(strings.TrimSpace(strings.ToLower(value)))
	for _, category := range Categories() {
		if category == candidate {
			return category, true
		}
	}
	return CategoryUnknown, false
}

// Event is a verified provider event as seen by handlers.
type Event struct {
	ID       string
	Type     string
	Category Category
	Account  string
	Livemode bool
	Created  time.Time
	Payload  []byte
	JobID    string
	Attempt  int
}

type JobStatus string

const (
	JobStatusPending        JobStatus = "pending"
	JobStatusInFlight       JobStatus = "in_flight"
	JobStatusRetryScheduled JobStatus = "retry_scheduled"
	JobStatusProcessed      JobStatus = "processed"
	JobStatusDeadLettered   JobStatus = "dead_lettered"
)

func (s JobStatus) Terminal() bool {
	return s == JobStatusProcessed || s == JobStatusDeadLettered
}

type FailureKind string

const (
	FailureKindNone      FailureKind = ""
	FailureKindTransient FailureKind = "transient"
	FailureKindPermanent FailureKind = "permanent"
)

// QueuedJob is one webhook event awaiting or undergoing processing.
type QueuedJob struct {
	ID             string
	EventID        string
	EventType      string
	Payload        []byte
	Status         JobStatus
	AttemptCount   int
	AttemptBase    int
	EnqueuedAt     time.Time
	VisibleAfter   time.Time
	LeaseOwner     string
	LeaseExpiresAt *time.Time
	LastError      string
	FailureKind    FailureKind
	ProcessedAt    *time.Time
	DeadLetteredAt *time.Time
	ReplayedAt     *time.Time
	UpdatedAt      time.Time
}

// Attempts returns the attempts made since the job was enqueued or last replayed.
func (j QueuedJob) Attempts() int {
	attempts := j.AttemptCount - j.AttemptBase
	if attempts < 0 {
		return 0
	}
	return attempts
}

func (j QueuedJob) Event() Event {
	return Event{
		ID:       j.EventID,
		Type:     j.EventType,
		Category: CategoryFor(j.EventType),
		Payload:  append([]byte(nil), j.Payload...),
		JobID:    j.ID,
		Attempt:  j.AttemptCount,
	}
}

type EnqueueRequest struct {
	EventID   string
	EventType string
	Payload   []byte
}

type ProcessedEvent struct {
	EventID     string
	EventType   string
	Outcome     string
	ProcessedAt time.Time
}

const (
	OutcomeHandled = "handled"
	OutcomeIgnored = "ignored"
)

type Lock struct {
	Key        string
	HolderID   string
	AcquiredAt time.Time
	ExpiresAt  time.Time
}

func (l Lock) Live(now time.Time) bool {
	return l.ExpiresAt.After(now)
}

// CompleteRequest describes the successful end of one attempt.
type CompleteRequest struct {
	JobID     string
	Owner     string
	EventID   string
	EventType string
	Outcome   string
	LockKey   string
	HolderID  string
}

type DeadLetterFilter struct {
	EventType string
	Since     *time.Time
	Before    *time.Time
	Limit     int
	Offset    int
}

type SweepRequest struct {
	ProcessedEventsBefore time.Time
	ProcessedJobsBefore   time.Time
	DeadLettersBefore     time.Time
	Now                   time.Time
}

type SweepResult struct {
	ProcessedEvents int
	ProcessedJobs   int
	DeadLetters     int
	ExpiredLocks    int
	Archived        int
}
