package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-payhooks/core"
	"github.com/uptrace/bun"
)

// IdempotencyStore persists processed event ids in processed_events.
type IdempotencyStore struct {
	db  *bun.DB
	now func() time.Time
}

func NewIdempotencyStore(db *bun.DB) (*IdempotencyStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	return &IdempotencyStore{db: db, now: utcNow}, nil
}

func (s *IdempotencyStore) IsProcessed(ctx context.Context, eventID string) (bool, error) {
	if s == nil || s.db == nil {
		return false, fmt.Errorf("sqlstore: idempotency store is not configured")
	}
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return false, fmt.Errorf("sqlstore: event id is required")
	}
	return s.db.NewSelect().
		Model((*processedEventRecord)(nil)).
		Where("?TableAlias.event_id = ?", eventID).
		Exists(ctx)
}

func (s *IdempotencyStore) RecordEvent(ctx context.Context, eventID string, eventType string) (bool, error) {
	if s == nil || s.db == nil {
		return false, fmt.Errorf("sqlstore: idempotency store is not configured")
	}
	return recordProcessed(ctx, s.db, eventID, eventType, core.OutcomeHandled, s.now())
}

// GetProcessedEvent returns the recorded outcome for an event id.
func (s *IdempotencyStore) GetProcessedEvent(ctx context.Context, eventID string) (core.ProcessedEvent, bool, error) {
	if s == nil || s.db == nil {
		return core.ProcessedEvent{}, false, fmt.Errorf("sqlstore: idempotency store is not configured")
	}
	records := []processedEventRecord{}
	err := s.db.NewSelect().
		Model(&records).
		Where("?TableAlias.event_id = ?", strings.TrimSpace(eventID)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return core.ProcessedEvent{}, false, err
	}
	if len(records) == 0 {
		return core.ProcessedEvent{}, false, nil
	}
	record := records[0]
	return core.ProcessedEvent{
		EventID:     record.EventID,
		EventType:   record.EventType,
		Outcome:     record.Outcome,
		ProcessedAt: record.ProcessedAt.UTC(),
	}, true, nil
}

func recordProcessed(
	ctx context.Context,
	db bun.IDB,
	eventID string,
	eventType string,
	outcome string,
	now time.Time,
) (bool, error) {
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return false, fmt.Errorf("sqlstore: event id is required")
	}
	outcome = strings.TrimSpace(outcome)
	if outcome == "" {
		outcome = core.OutcomeHandled
	}
	record := &processedEventRecord{
		EventID:     eventID,
		EventType:   strings.TrimSpace(eventType),
		Outcome:     outcome,
		ProcessedAt: now.UTC(),
	}
	res, err := db.NewInsert().
		Model(record).
		On("CONFLICT (event_id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func utcNow() time.Time {
	return time.Now().UTC()
}
