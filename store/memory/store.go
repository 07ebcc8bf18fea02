// Package memorystore keeps every pipeline table in process memory. It backs
// tests and local tooling only; it is not durable across restarts.
package memorystore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-payhooks/core"
	"github.com/google/uuid"
)

type Store struct {
	mu     sync.Mutex
	now    func() time.Time
	events map[string]core.ProcessedEvent
	locks  map[string]core.Lock
	jobs   map[string]*core.QueuedJob
	order  []string

	AcquireCalls []string
}

func New() *Store {
	return &Store{
		now:    func() time.Time { return time.Now().UTC() },
		events: map[string]core.ProcessedEvent{},
		locks:  map[string]core.Lock{},
		jobs:   map[string]*core.QueuedJob{},
	}
}

// WithClock replaces the store clock, used to move time forward in tests.
func (s *Store) WithClock(now func() time.Time) *Store {
	if now != nil {
		s.now = now
	}
	return s
}

func (s *Store) IsProcessed(_ context.Context, eventID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.events[strings.TrimSpace(eventID)]
	return ok, nil
}

func (s *Store) RecordEvent(_ context.Context, eventID string, eventType string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recordLocked(eventID, eventType, core.OutcomeHandled)
}

func (s *Store) recordLocked(eventID string, eventType string, outcome string) (bool, error) {
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return false, fmt.Errorf("memorystore: event id is required")
	}
	if _, exists := s.events[eventID]; exists {
		return false, nil
	}
	s.events[eventID] = core.ProcessedEvent{
		EventID:     eventID,
		EventType:   strings.TrimSpace(eventType),
		Outcome:     outcome,
		ProcessedAt: s.now().UTC(),
	}
	return true, nil
}

func (s *Store) ProcessedEvents() []core.ProcessedEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.ProcessedEvent, 0, len(s.events))
	for _, event := range s.events {
		out = append(out, event)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EventID < out[j].EventID })
	return out
}

func (s *Store) Acquire(_ context.Context, key string, holderID string, ttl time.Duration) (bool, error) {
	key = strings.TrimSpace(key)
	holderID = strings.TrimSpace(holderID)
	if key == "" || holderID == "" {
		return false, fmt.Errorf("memorystore: lock key and holder id are required")
	}
	if ttl <= 0 {
		return false, fmt.Errorf("memorystore: lock ttl must be positive")
	}
	now := s.now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.AcquireCalls = append(s.AcquireCalls, key+"@"+holderID)
	if existing, ok := s.locks[key]; ok && existing.Live(now) {
		return false, nil
	}
	s.locks[key] = core.Lock{
		Key:        key,
		HolderID:   holderID,
		AcquiredAt: now,
		ExpiresAt:  now.Add(ttl),
	}
	return true, nil
}

func (s *Store) Release(_ context.Context, key string, holderID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.releaseLocked(key, holderID), nil
}

func (s *Store) releaseLocked(key string, holderID string) bool {
	key = strings.TrimSpace(key)
	existing, ok := s.locks[key]
	if !ok || existing.HolderID != strings.TrimSpace(holderID) {
		return false
	}
	delete(s.locks, key)
	return true
}

func (s *Store) Lock(key string) (core.Lock, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[strings.TrimSpace(key)]
	return lock, ok
}

func (s *Store) Enqueue(_ context.Context, req core.EnqueueRequest) (core.QueuedJob, error) {
	if strings.TrimSpace(req.EventID) == "" || strings.TrimSpace(req.EventType) == "" {
		return core.QueuedJob{}, fmt.Errorf("memorystore: event id and event type are required")
	}
	now := s.now().UTC()
	job := &core.QueuedJob{
		ID:           uuid.NewString(),
		EventID:      strings.TrimSpace(req.EventID),
		EventType:    strings.TrimSpace(req.EventType),
		Payload:      append([]byte(nil), req.Payload...),
		Status:       core.JobStatusPending,
		EnqueuedAt:   now,
		VisibleAfter: now,
		UpdatedAt:    now,
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
	s.order = append(s.order, job.ID)
	return *job, nil
}

func (s *Store) Dequeue(_ context.Context, owner string, visibility time.Duration) (core.QueuedJob, bool, error) {
	owner = strings.TrimSpace(owner)
	if owner == "" {
		return core.QueuedJob{}, false, fmt.Errorf("memorystore: owner is required")
	}
	now := s.now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.order {
		job := s.jobs[id]
		if job == nil || !claimable(job, now) {
			continue
		}
		leaseUntil := now.Add(visibility)
		job.Status = core.JobStatusInFlight
		job.AttemptCount++
		job.LeaseOwner = owner
		job.LeaseExpiresAt = &leaseUntil
		job.UpdatedAt = now
		return cloneJob(job), true, nil
	}
	return core.QueuedJob{}, false, nil
}

func claimable(job *core.QueuedJob, now time.Time) bool {
	switch job.Status {
	case core.JobStatusPending, core.JobStatusRetryScheduled:
		return !job.VisibleAfter.After(now)
	case core.JobStatusInFlight:
		return job.LeaseExpiresAt != nil && !job.LeaseExpiresAt.After(now)
	default:
		return false
	}
}

func (s *Store) ScheduleRetry(_ context.Context, jobID string, owner string, visibleAfter time.Time, cause string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, err := s.ownedLocked(jobID, owner)
	if err != nil {
		return err
	}
	job.Status = core.JobStatusRetryScheduled
	job.VisibleAfter = visibleAfter.UTC()
	job.LastError = cause
	job.FailureKind = core.FailureKindTransient
	job.LeaseOwner = ""
	job.LeaseExpiresAt = nil
	job.UpdatedAt = s.now().UTC()
	return nil
}

func (s *Store) DeadLetter(_ context.Context, jobID string, owner string, kind core.FailureKind, cause string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, err := s.ownedLocked(jobID, owner)
	if err != nil {
		return err
	}
	now := s.now().UTC()
	job.Status = core.JobStatusDeadLettered
	job.LastError = cause
	job.FailureKind = kind
	job.DeadLetteredAt = &now
	job.LeaseOwner = ""
	job.LeaseExpiresAt = nil
	job.UpdatedAt = now
	return nil
}

func (s *Store) MarkProcessed(_ context.Context, jobID string, owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, err := s.ownedLocked(jobID, owner)
	if err != nil {
		return err
	}
	s.markProcessedLocked(job)
	return nil
}

func (s *Store) markProcessedLocked(job *core.QueuedJob) {
	now := s.now().UTC()
	job.Status = core.JobStatusProcessed
	job.ProcessedAt = &now
	job.LeaseOwner = ""
	job.LeaseExpiresAt = nil
	job.UpdatedAt = now
}

func (s *Store) Requeue(_ context.Context, jobID string, owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, err := s.ownedLocked(jobID, owner)
	if err != nil {
		return err
	}
	job.Status = core.JobStatusPending
	job.VisibleAfter = s.now().UTC()
	job.LeaseOwner = ""
	job.LeaseExpiresAt = nil
	job.UpdatedAt = s.now().UTC()
	return nil
}

func (s *Store) ownedLocked(jobID string, owner string) (*core.QueuedJob, error) {
	job, ok := s.jobs[strings.TrimSpace(jobID)]
	if !ok {
		return nil, fmt.Errorf("memorystore: job %q: %w", jobID, core.ErrJobNotFound)
	}
	if job.Status != core.JobStatusInFlight || job.LeaseOwner != strings.TrimSpace(owner) {
		return nil, fmt.Errorf("memorystore: job %q: %w", jobID, core.ErrJobNotOwned)
	}
	return job, nil
}

func (s *Store) Complete(_ context.Context, req core.CompleteRequest) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, err := s.ownedLocked(req.JobID, req.Owner)
	if err != nil {
		return false, err
	}
	outcome := strings.TrimSpace(req.Outcome)
	if outcome == "" {
		outcome = core.OutcomeHandled
	}
	recorded, err := s.recordLocked(req.EventID, req.EventType, outcome)
	if err != nil {
		return false, err
	}
	if strings.TrimSpace(req.LockKey) != "" {
		s.releaseLocked(req.LockKey, req.HolderID)
	}
	s.markProcessedLocked(job)
	return recorded, nil
}

func (s *Store) GetJob(_ context.Context, jobID string) (core.QueuedJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[strings.TrimSpace(jobID)]
	if !ok {
		return core.QueuedJob{}, fmt.Errorf("memorystore: job %q: %w", jobID, core.ErrJobNotFound)
	}
	return cloneJob(job), nil
}

func (s *Store) Jobs() []core.QueuedJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.QueuedJob, 0, len(s.order))
	for _, id := range s.order {
		if job, ok := s.jobs[id]; ok {
			out = append(out, cloneJob(job))
		}
	}
	return out
}

func (s *Store) ListDeadLetters(_ context.Context, filter core.DeadLetterFilter) ([]core.QueuedJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []core.QueuedJob{}
	for _, id := range s.order {
		job := s.jobs[id]
		if job == nil || job.Status != core.JobStatusDeadLettered {
			continue
		}
		if filter.EventType != "" && job.EventType != filter.EventType {
			continue
		}
		if filter.Since != nil && job.DeadLetteredAt != nil && job.DeadLetteredAt.Before(*filter.Since) {
			continue
		}
		if filter.Before != nil && job.DeadLetteredAt != nil && !job.DeadLetteredAt.Before(*filter.Before) {
			continue
		}
		out = append(out, cloneJob(job))
	}
	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return []core.QueuedJob{}, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *Store) DeadLetterDepth(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	depth := 0
	for _, job := range s.jobs {
		if job.Status == core.JobStatusDeadLettered {
			depth++
		}
	}
	return depth, nil
}

func (s *Store) Replay(_ context.Context, jobID string) (core.QueuedJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[strings.TrimSpace(jobID)]
	if !ok {
		return core.QueuedJob{}, fmt.Errorf("memorystore: job %q: %w", jobID, core.ErrJobNotFound)
	}
	if job.Status != core.JobStatusDeadLettered {
		return core.QueuedJob{}, fmt.Errorf("memorystore: job %q: %w", jobID, core.ErrJobNotReplayable)
	}
	now := s.now().UTC()
	job.Status = core.JobStatusPending
	job.AttemptBase = job.AttemptCount
	job.VisibleAfter = now
	job.ReplayedAt = &now
	job.DeadLetteredAt = nil
	job.UpdatedAt = now
	return cloneJob(job), nil
}

func (s *Store) Sweep(_ context.Context, req core.SweepRequest) (core.SweepResult, error) {
	now := req.Now
	if now.IsZero() {
		now = s.now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	result := core.SweepResult{}
	for id, event := range s.events {
		if !req.ProcessedEventsBefore.IsZero() && event.ProcessedAt.Before(req.ProcessedEventsBefore) {
			delete(s.events, id)
			result.ProcessedEvents++
		}
	}
	kept := s.order[:0]
	for _, id := range s.order {
		job := s.jobs[id]
		switch {
		case job.Status == core.JobStatusProcessed && !req.ProcessedJobsBefore.IsZero() &&
			job.ProcessedAt != nil && job.ProcessedAt.Before(req.ProcessedJobsBefore):
			delete(s.jobs, id)
			result.ProcessedJobs++
			continue
		case job.Status == core.JobStatusDeadLettered && !req.DeadLettersBefore.IsZero() &&
			job.DeadLetteredAt != nil && job.DeadLetteredAt.Before(req.DeadLettersBefore):
			delete(s.jobs, id)
			result.DeadLetters++
			continue
		}
		kept = append(kept, id)
	}
	s.order = kept
	for key, lock := range s.locks {
		if !lock.Live(now) {
			delete(s.locks, key)
			result.ExpiredLocks++
		}
	}
	return result, nil
}

func cloneJob(job *core.QueuedJob) core.QueuedJob {
	out := *job
	out.Payload = append([]byte(nil), job.Payload...)
	return out
}

var (
	_ core.IdempotencyStore = (*Store)(nil)
	_ core.LockStore        = (*Store)(nil)
	_ core.Queue            = (*Store)(nil)
	_ core.DeadLetterQueue  = (*Store)(nil)
	_ core.Finalizer        = (*Store)(nil)
	_ core.Sweeper          = (*Store)(nil)
)
