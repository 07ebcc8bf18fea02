package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/goliatone/go-payhooks/core"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
)

const claimJobQuery = `
WITH claimable AS (
	SELECT id
	FROM webhook_jobs
	WHERE (status IN (?, ?) AND visible_after <= ?)
	   OR (status = ? AND lease_expires_at <= ?)
	ORDER BY enqueued_at ASC, id ASC
	LIMIT 1
	%s
)
UPDATE webhook_jobs
SET status = ?,
	attempt_count = attempt_count + 1,
	lease_owner = ?,
	lease_expires_at = ?,
	updated_at = ?
WHERE id IN (SELECT id FROM claimable)
  AND ((status IN (?, ?) AND visible_after <= ?)
   OR (status = ? AND lease_expires_at <= ?))
RETURNING
	id,
	event_id,
	event_type,
	payload,
	status,
	attempt_count,
	attempt_base,
	enqueued_at,
	visible_after,
	lease_owner,
	lease_expires_at,
	last_error,
	failure_kind,
	processed_at,
	dead_lettered_at,
	replayed_at,
	updated_at
`

// QueueStore is the durable job queue on webhook_jobs. It also owns the
// atomic completion transaction, dead-letter inspection and retention.
type QueueStore struct {
	db   *bun.DB
	repo repository.Repository[*jobRecord]
	now  func() time.Time
}

func NewQueueStore(db *bun.DB) (*QueueStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*jobRecord](db, jobHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid job repository wiring: %w", err)
		}
	}
	return &QueueStore{db: db, repo: repo, now: utcNow}, nil
}

func (s *QueueStore) Enqueue(ctx context.Context, req core.EnqueueRequest) (core.QueuedJob, error) {
	if s == nil || s.repo == nil {
		return core.QueuedJob{}, fmt.Errorf("sqlstore: queue store is not configured")
	}
	eventID := strings.TrimSpace(req.EventID)
	eventType := strings.TrimSpace(req.EventType)
	if eventID == "" || eventType == "" {
		return core.QueuedJob{}, fmt.Errorf("sqlstore: event id and event type are required")
	}
	now := s.now().UTC()
	record := &jobRecord{
		ID:           uuid.NewString(),
		EventID:      eventID,
		EventType:    eventType,
		Payload:      append([]byte(nil), req.Payload...),
		Status:       string(core.JobStatusPending),
		EnqueuedAt:   now,
		VisibleAfter: now,
		UpdatedAt:    now,
	}
	created, err := s.repo.Create(ctx, record)
	if err != nil {
		return core.QueuedJob{}, err
	}
	return created.toDomain(), nil
}

func (s *QueueStore) Dequeue(ctx context.Context, owner string, visibility time.Duration) (core.QueuedJob, bool, error) {
	if s == nil || s.db == nil {
		return core.QueuedJob{}, false, fmt.Errorf("sqlstore: queue store is not configured")
	}
	owner = strings.TrimSpace(owner)
	if owner == "" {
		return core.QueuedJob{}, false, fmt.Errorf("sqlstore: owner is required")
	}
	if visibility <= 0 {
		return core.QueuedJob{}, false, fmt.Errorf("sqlstore: visibility timeout must be positive")
	}

	lockClause := ""
	if s.db.Dialect().Name() == dialect.PG {
		lockClause = "FOR UPDATE SKIP LOCKED"
	}
	query := fmt.Sprintf(claimJobQuery, lockClause)

	now := s.now().UTC()
	pending, retry, inFlight := string(core.JobStatusPending), string(core.JobStatusRetryScheduled), string(core.JobStatusInFlight)
	var records []jobRecord
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return tx.NewRaw(
			query,
			pending, retry, now,
			inFlight, now,
			inFlight,
			owner,
			now.Add(visibility),
			now,
			pending, retry, now,
			inFlight, now,
		).Scan(ctx, &records)
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.QueuedJob{}, false, nil
		}
		return core.QueuedJob{}, false, err
	}
	if len(records) == 0 {
		return core.QueuedJob{}, false, nil
	}
	return records[0].toDomain(), true, nil
}

func (s *QueueStore) ScheduleRetry(ctx context.Context, jobID string, owner string, visibleAfter time.Time, cause string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: queue store is not configured")
	}
	return s.transition(ctx, s.db, jobID, owner, func(q *bun.UpdateQuery, now time.Time) *bun.UpdateQuery {
		return q.
			Set("status = ?", string(core.JobStatusRetryScheduled)).
			Set("visible_after = ?", visibleAfter.UTC()).
			Set("last_error = ?", cause).
			Set("failure_kind = ?", string(core.FailureKindTransient))
	})
}

func (s *QueueStore) DeadLetter(ctx context.Context, jobID string, owner string, kind core.FailureKind, cause string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: queue store is not configured")
	}
	return s.transition(ctx, s.db, jobID, owner, func(q *bun.UpdateQuery, now time.Time) *bun.UpdateQuery {
		return q.
			Set("status = ?", string(core.JobStatusDeadLettered)).
			Set("last_error = ?", cause).
			Set("failure_kind = ?", string(kind)).
			Set("dead_lettered_at = ?", now)
	})
}

func (s *QueueStore) MarkProcessed(ctx context.Context, jobID string, owner string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: queue store is not configured")
	}
	return s.transition(ctx, s.db, jobID, owner, markProcessed)
}

func (s *QueueStore) Requeue(ctx context.Context, jobID string, owner string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: queue store is not configured")
	}
	return s.transition(ctx, s.db, jobID, owner, func(q *bun.UpdateQuery, now time.Time) *bun.UpdateQuery {
		return q.
			Set("status = ?", string(core.JobStatusPending)).
			Set("visible_after = ?", now)
	})
}

// Complete records the event, releases the aggregate lock and marks the job
// processed in one transaction. Nothing is written when the caller no longer
// owns the claim.
func (s *QueueStore) Complete(ctx context.Context, req core.CompleteRequest) (bool, error) {
	if s == nil || s.db == nil {
		return false, fmt.Errorf("sqlstore: queue store is not configured")
	}
	recorded := false
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := s.transition(ctx, tx, req.JobID, req.Owner, markProcessed); err != nil {
			return err
		}
		inserted, err := recordProcessed(ctx, tx, req.EventID, req.EventType, req.Outcome, s.now())
		if err != nil {
			return err
		}
		recorded = inserted
		if strings.TrimSpace(req.LockKey) != "" {
			if _, err := releaseLock(ctx, tx, req.LockKey, req.HolderID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return recorded, nil
}

func markProcessed(q *bun.UpdateQuery, now time.Time) *bun.UpdateQuery {
	return q.
		Set("status = ?", string(core.JobStatusProcessed)).
		Set("processed_at = ?", now)
}

// transition applies an update to an in-flight job owned by owner and clears
// the claim. It reports ErrJobNotFound or ErrJobNotOwned when no row matched.
func (s *QueueStore) transition(
	ctx context.Context,
	db bun.IDB,
	jobID string,
	owner string,
	apply func(*bun.UpdateQuery, time.Time) *bun.UpdateQuery,
) error {
	jobID = strings.TrimSpace(jobID)
	owner = strings.TrimSpace(owner)
	if jobID == "" {
		return fmt.Errorf("sqlstore: job id is required")
	}
	now := s.now().UTC()
	query := db.NewUpdate().
		Model((*jobRecord)(nil)).
		Set("lease_owner = NULL").
		Set("lease_expires_at = NULL").
		Set("updated_at = ?", now).
		Where("id = ?", jobID).
		Where("status = ?", string(core.JobStatusInFlight)).
		Where("lease_owner = ?", owner)
	res, err := apply(query, now).Exec(ctx)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}
	exists, err := db.NewSelect().
		Model((*jobRecord)(nil)).
		Where("?TableAlias.id = ?", jobID).
		Exists(ctx)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("sqlstore: job %q: %w", jobID, core.ErrJobNotFound)
	}
	return fmt.Errorf("sqlstore: job %q: %w", jobID, core.ErrJobNotOwned)
}

func (s *QueueStore) GetJob(ctx context.Context, jobID string) (core.QueuedJob, error) {
	if s == nil || s.db == nil {
		return core.QueuedJob{}, fmt.Errorf("sqlstore: queue store is not configured")
	}
	record, err := s.getJob(ctx, s.db, jobID)
	if err != nil {
		return core.QueuedJob{}, err
	}
	return record.toDomain(), nil
}

func (s *QueueStore) getJob(ctx context.Context, db bun.IDB, jobID string) (*jobRecord, error) {
	jobID = strings.TrimSpace(jobID)
	records := []jobRecord{}
	if err := db.NewSelect().
		Model(&records).
		Where("?TableAlias.id = ?", jobID).
		Limit(1).
		Scan(ctx); err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("sqlstore: job %q: %w", jobID, core.ErrJobNotFound)
	}
	return &records[0], nil
}

func (s *QueueStore) ListDeadLetters(ctx context.Context, filter core.DeadLetterFilter) ([]core.QueuedJob, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: queue store is not configured")
	}
	selectors := []repository.SelectCriteria{
		repository.SelectBy("status", "=", string(core.JobStatusDeadLettered)),
		repository.OrderBy("enqueued_at ASC"),
		repository.OrderBy("id ASC"),
	}
	if eventType := strings.TrimSpace(filter.EventType); eventType != "" {
		selectors = append(selectors, repository.SelectBy("event_type", "=", eventType))
	}
	if filter.Since != nil {
		selectors = append(selectors, repository.SelectByTimetz("dead_lettered_at", ">=", filter.Since.UTC()))
	}
	if filter.Before != nil {
		selectors = append(selectors, repository.SelectByTimetz("dead_lettered_at", "<", filter.Before.UTC()))
	}
	if filter.Limit > 0 || filter.Offset > 0 {
		limit := filter.Limit
		if limit <= 0 {
			limit = math.MaxInt32
		}
		selectors = append(selectors, repository.SelectPaginate(limit, filter.Offset))
	}
	records, _, err := s.repo.List(ctx, selectors...)
	if err != nil {
		return nil, err
	}
	out := make([]core.QueuedJob, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}

func (s *QueueStore) DeadLetterDepth(ctx context.Context) (int, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("sqlstore: queue store is not configured")
	}
	return s.db.NewSelect().
		Model((*jobRecord)(nil)).
		Where("?TableAlias.status = ?", string(core.JobStatusDeadLettered)).
		Count(ctx)
}

// Replay moves a dead-lettered job back to pending. attempt_count is kept and
// attempt_base is moved up to it, which grants a fresh attempt budget.
func (s *QueueStore) Replay(ctx context.Context, jobID string) (core.QueuedJob, error) {
	if s == nil || s.db == nil {
		return core.QueuedJob{}, fmt.Errorf("sqlstore: queue store is not configured")
	}
	jobID = strings.TrimSpace(jobID)
	var replayed *jobRecord
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		now := s.now().UTC()
		res, err := tx.NewUpdate().
			Model((*jobRecord)(nil)).
			Set("status = ?", string(core.JobStatusPending)).
			Set("attempt_base = attempt_count").
			Set("visible_after = ?", now).
			Set("replayed_at = ?", now).
			Set("dead_lettered_at = NULL").
			Set("updated_at = ?", now).
			Where("id = ?", jobID).
			Where("status = ?", string(core.JobStatusDeadLettered)).
			Exec(ctx)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		record, err := s.getJob(ctx, tx, jobID)
		if err != nil {
			return err
		}
		if affected == 0 {
			return fmt.Errorf("sqlstore: job %q is %s: %w", jobID, record.Status, core.ErrJobNotReplayable)
		}
		replayed = record
		return nil
	})
	if err != nil {
		return core.QueuedJob{}, err
	}
	return replayed.toDomain(), nil
}

func (s *QueueStore) Sweep(ctx context.Context, req core.SweepRequest) (core.SweepResult, error) {
	if s == nil || s.db == nil {
		return core.SweepResult{}, fmt.Errorf("sqlstore: queue store is not configured")
	}
	now := req.Now
	if now.IsZero() {
		now = s.now()
	}
	now = now.UTC()
	result := core.SweepResult{}
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if !req.ProcessedEventsBefore.IsZero() {
			deleted, err := deleteRows(ctx, tx.NewDelete().
				Model((*processedEventRecord)(nil)).
				Where("processed_at < ?", req.ProcessedEventsBefore.UTC()))
			if err != nil {
				return err
			}
			result.ProcessedEvents = deleted
		}
		if !req.ProcessedJobsBefore.IsZero() {
			deleted, err := deleteRows(ctx, tx.NewDelete().
				Model((*jobRecord)(nil)).
				Where("status = ?", string(core.JobStatusProcessed)).
				Where("processed_at < ?", req.ProcessedJobsBefore.UTC()))
			if err != nil {
				return err
			}
			result.ProcessedJobs = deleted
		}
		if !req.DeadLettersBefore.IsZero() {
			deleted, err := deleteRows(ctx, tx.NewDelete().
				Model((*jobRecord)(nil)).
				Where("status = ?", string(core.JobStatusDeadLettered)).
				Where("dead_lettered_at < ?", req.DeadLettersBefore.UTC()))
			if err != nil {
				return err
			}
			result.DeadLetters = deleted
		}
		deleted, err := deleteRows(ctx, tx.NewDelete().
			Model((*lockRecord)(nil)).
			Where("expires_at <= ?", now))
		if err != nil {
			return err
		}
		result.ExpiredLocks = deleted
		return nil
	})
	if err != nil {
		return core.SweepResult{}, err
	}
	return result, nil
}

func deleteRows(ctx context.Context, query *bun.DeleteQuery) (int, error) {
	res, err := query.Exec(ctx)
	if err != nil {
		return 0, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(affected), nil
}
