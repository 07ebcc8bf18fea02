package sqlstore_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"sync/atomic"
	"testing"
	"time"

	persistence "github.com/goliatone/go-persistence-bun"
	"github.com/goliatone/go-payhooks/core"
	paymigrations "github.com/goliatone/go-payhooks/migrations"
	sqlstore "github.com/goliatone/go-payhooks/store/sql"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"golang.org/x/sync/errgroup"
)

type testPersistenceConfig struct {
	driver string
	server string
}

func (c testPersistenceConfig) GetDebug() bool {
	return false
}

func (c testPersistenceConfig) GetDriver() string {
	return c.driver
}

func (c testPersistenceConfig) GetServer() string {
	return c.server
}

func (c testPersistenceConfig) GetPingTimeout() time.Duration {
	return time.Second
}

func (c testPersistenceConfig) GetOtelIdentifier() string {
	return "go-payhooks-tests"
}

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time {
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

func newSQLiteClient(t *testing.T) (*persistence.Client, func()) {
	t.Helper()

	dsn := fmt.Sprintf(
		"file:payhooks-test-%d?mode=memory&cache=shared&_foreign_keys=on",
		time.Now().UnixNano(),
	)
	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		t.Fatalf("open sqlite db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	cfg := testPersistenceConfig{
		driver: "sqlite3",
		server: dsn,
	}
	client, err := persistence.New(cfg, sqlDB, sqlitedialect.New())
	if err != nil {
		_ = sqlDB.Close()
		t.Fatalf("new persistence client: %v", err)
	}

	ctx := context.Background()
	_, err = paymigrations.Register(ctx, func(_ context.Context, dialect string, _ string, fsys fs.FS) error {
		if dialect != paymigrations.DialectSQLite {
			return nil
		}
		client.RegisterSQLMigrations(fsys)
		return nil
	}, paymigrations.WithDialects(paymigrations.DialectSQLite))
	if err != nil {
		_ = client.Close()
		t.Fatalf("register migrations: %v", err)
	}
	if err := client.Migrate(ctx); err != nil {
		_ = client.Close()
		t.Fatalf("migrate: %v", err)
	}

	return client, func() {
		_ = client.Close()
	}
}

func newTestFactory(t *testing.T) (*sqlstore.RepositoryFactory, *testClock) {
	t.Helper()
	client, cleanup := newSQLiteClient(t)
	t.Cleanup(cleanup)
	factory, err := sqlstore.NewRepositoryFactoryFromPersistence(client)
	if err != nil {
		t.Fatalf("new repository factory: %v", err)
	}
	clock := &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	factory.WithClock(clock.Now)
	return factory, clock
}

func TestMigrationSmokeApplySQLite(t *testing.T) {
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	for _, table := range []string{"processed_events", "webhook_locks", "webhook_jobs", "payhooks_leases", "payhooks_notifications"} {
		var tableName string
		if err := client.DB().NewRaw(
			"SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?",
			table,
		).Scan(context.Background(), &tableName); err != nil {
			t.Fatalf("query sqlite master for %s: %v", table, err)
		}
		if tableName != table {
			t.Fatalf("expected %s table, got %q", table, tableName)
		}
	}
}

func TestIdempotencyStore_RecordsEachEventOnce(t *testing.T) {
	ctx := context.Background()
	factory, _ := newTestFactory(t)
	store := factory.IdempotencyStore()

	if processed, err := store.IsProcessed(ctx, "evt_1"); err != nil || processed {
		t.Fatalf("expected unknown event, got processed=%v err=%v", processed, err)
	}
	recorded, err := store.RecordEvent(ctx, "evt_1", "invoice.paid")
	if err != nil || !recorded {
		t.Fatalf("expected first record to insert, got recorded=%v err=%v", recorded, err)
	}
	recorded, err = store.RecordEvent(ctx, "evt_1", "invoice.paid")
	if err != nil || recorded {
		t.Fatalf("expected duplicate record to be a no-op, got recorded=%v err=%v", recorded, err)
	}
	if processed, _ := store.IsProcessed(ctx, "evt_1"); !processed {
		t.Fatalf("expected event marked processed")
	}
	event, ok, err := store.GetProcessedEvent(ctx, "evt_1")
	if err != nil || !ok || event.Outcome != core.OutcomeHandled || event.EventType != "invoice.paid" {
		t.Fatalf("unexpected processed event %+v ok=%v err=%v", event, ok, err)
	}
}

func TestLockStore_AcquireIsExclusiveUntilExpiry(t *testing.T) {
	ctx := context.Background()
	factory, clock := newTestFactory(t)
	locks := factory.LockStore()

	if ok, err := locks.Acquire(ctx, "lease:1", "holder-a", time.Minute); err != nil || !ok {
		t.Fatalf("expected first acquire granted, got ok=%v err=%v", ok, err)
	}
	if ok, err := locks.Acquire(ctx, "lease:1", "holder-b", time.Minute); err != nil || ok {
		t.Fatalf("expected live lock to refuse another holder, got ok=%v err=%v", ok, err)
	}
	if ok, _ := locks.Acquire(ctx, "lease:2", "holder-b", time.Minute); !ok {
		t.Fatalf("expected unrelated key to be free")
	}
	if released, _ := locks.Release(ctx, "lease:1", "holder-b"); released {
		t.Fatalf("expected release by non-holder to be a no-op")
	}

	clock.Advance(time.Minute)
	if ok, err := locks.Acquire(ctx, "lease:1", "holder-b", time.Minute); err != nil || !ok {
		t.Fatalf("expected expired lock to be taken over, got ok=%v err=%v", ok, err)
	}
	lock, ok, err := locks.Get(ctx, "lease:1")
	if err != nil || !ok || lock.HolderID != "holder-b" {
		t.Fatalf("expected holder-b to own the lock, got %+v ok=%v err=%v", lock, ok, err)
	}
	if released, _ := locks.Release(ctx, "lease:1", "holder-a"); released {
		t.Fatalf("expected the previous holder to lose release rights")
	}
	if released, _ := locks.Release(ctx, "lease:1", "holder-b"); !released {
		t.Fatalf("expected holder release")
	}
}

func TestLockStore_ConcurrentAcquireGrantsOneHolder(t *testing.T) {
	ctx := context.Background()
	factory, _ := newTestFactory(t)
	locks := factory.LockStore()

	const contenders = 16
	var granted atomic.Int32
	var group errgroup.Group
	for i := 0; i < contenders; i++ {
		holder := fmt.Sprintf("holder-%d", i)
		group.Go(func() error {
			ok, err := locks.Acquire(ctx, "lease:race", holder, time.Minute)
			if err != nil {
				return err
			}
			if ok {
				granted.Add(1)
			}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		t.Fatalf("concurrent acquire failed: %v", err)
	}
	if got := granted.Load(); got != 1 {
		t.Fatalf("expected exactly one holder, got %d", got)
	}
	lock, ok, err := locks.Get(ctx, "lease:race")
	if err != nil || !ok || lock.HolderID == "" {
		t.Fatalf("expected a recorded holder, got %+v ok=%v err=%v", lock, ok, err)
	}
}

func TestQueueStore_ClaimHidesJobUntilVisibilityExpires(t *testing.T) {
	ctx := context.Background()
	factory, clock := newTestFactory(t)
	queue := factory.QueueStore()

	job, err := queue.Enqueue(ctx, core.EnqueueRequest{EventID: "evt_1", EventType: "invoice.paid", Payload: []byte(`{"id":"evt_1"}`)})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if job.Status != core.JobStatusPending || job.AttemptCount != 0 {
		t.Fatalf("expected pending job with no attempts, got %+v", job)
	}

	claimed, ok, err := queue.Dequeue(ctx, "worker-a", time.Minute)
	if err != nil || !ok {
		t.Fatalf("expected claim, got ok=%v err=%v", ok, err)
	}
	if claimed.ID != job.ID || claimed.AttemptCount != 1 || claimed.LeaseOwner != "worker-a" || claimed.Status != core.JobStatusInFlight {
		t.Fatalf("unexpected claimed job %+v", claimed)
	}
	if string(claimed.Payload) != `{"id":"evt_1"}` {
		t.Fatalf("expected payload kept verbatim, got %s", claimed.Payload)
	}
	if _, ok, err := queue.Dequeue(ctx, "worker-b", time.Minute); err != nil || ok {
		t.Fatalf("expected in-flight job hidden, got ok=%v err=%v", ok, err)
	}

	clock.Advance(2 * time.Minute)
	reclaimed, ok, err := queue.Dequeue(ctx, "worker-b", time.Minute)
	if err != nil || !ok || reclaimed.AttemptCount != 2 || reclaimed.LeaseOwner != "worker-b" {
		t.Fatalf("expected expired claim reclaimed, got %+v ok=%v err=%v", reclaimed, ok, err)
	}
	if err := queue.MarkProcessed(ctx, job.ID, "worker-a"); !errors.Is(err, core.ErrJobNotOwned) {
		t.Fatalf("expected stale owner rejected, got %v", err)
	}
	if err := queue.MarkProcessed(ctx, "00000000-0000-0000-0000-000000000000", "worker-b"); !errors.Is(err, core.ErrJobNotFound) {
		t.Fatalf("expected missing job, got %v", err)
	}
}

func TestQueueStore_RetryBecomesVisibleAtScheduledTime(t *testing.T) {
	ctx := context.Background()
	factory, clock := newTestFactory(t)
	queue := factory.QueueStore()
	job, _ := queue.Enqueue(ctx, core.EnqueueRequest{EventID: "evt_1", EventType: "invoice.paid"})
	queue.Dequeue(ctx, "worker-a", time.Minute)

	if err := queue.ScheduleRetry(ctx, job.ID, "worker-a", clock.Now().Add(30*time.Second), "db timeout"); err != nil {
		t.Fatalf("schedule retry: %v", err)
	}
	scheduled, _ := queue.GetJob(ctx, job.ID)
	if scheduled.Status != core.JobStatusRetryScheduled || scheduled.FailureKind != core.FailureKindTransient || scheduled.LastError != "db timeout" {
		t.Fatalf("unexpected scheduled job %+v", scheduled)
	}
	if _, ok, _ := queue.Dequeue(ctx, "worker-a", time.Minute); ok {
		t.Fatalf("expected retry hidden before its delay")
	}
	clock.Advance(30 * time.Second)
	claimed, ok, err := queue.Dequeue(ctx, "worker-a", time.Minute)
	if err != nil || !ok || claimed.AttemptCount != 2 {
		t.Fatalf("expected retry claimed at its scheduled time, got %+v ok=%v err=%v", claimed, ok, err)
	}
}

func TestQueueStore_RequeueKeepsAttempts(t *testing.T) {
	ctx := context.Background()
	factory, _ := newTestFactory(t)
	queue := factory.QueueStore()
	job, _ := queue.Enqueue(ctx, core.EnqueueRequest{EventID: "evt_1", EventType: "invoice.paid"})
	queue.Dequeue(ctx, "worker-a", time.Minute)

	if err := queue.Requeue(ctx, job.ID, "worker-a"); err != nil {
		t.Fatalf("requeue: %v", err)
	}
	requeued, _ := queue.GetJob(ctx, job.ID)
	if requeued.Status != core.JobStatusPending || requeued.AttemptCount != 1 || requeued.LeaseOwner != "" {
		t.Fatalf("expected pending job with one attempt and no owner, got %+v", requeued)
	}
}

func TestQueueStore_CompleteIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	factory, _ := newTestFactory(t)
	queue := factory.QueueStore()
	locks := factory.LockStore()
	events := factory.IdempotencyStore()

	job, _ := queue.Enqueue(ctx, core.EnqueueRequest{EventID: "evt_1", EventType: "invoice.paid"})
	queue.Dequeue(ctx, "worker-a", time.Minute)
	locks.Acquire(ctx, "lease:1", "holder-a", time.Minute)

	_, err := queue.Complete(ctx, core.CompleteRequest{
		JobID: job.ID, Owner: "worker-b", EventID: "evt_1", EventType: "invoice.paid",
		LockKey: "lease:1", HolderID: "holder-a",
	})
	if !errors.Is(err, core.ErrJobNotOwned) {
		t.Fatalf("expected completion by non-owner to fail, got %v", err)
	}
	if processed, _ := events.IsProcessed(ctx, "evt_1"); processed {
		t.Fatalf("expected nothing recorded after failed completion")
	}
	if _, held, _ := locks.Get(ctx, "lease:1"); !held {
		t.Fatalf("expected lock kept after failed completion")
	}

	recorded, err := queue.Complete(ctx, core.CompleteRequest{
		JobID: job.ID, Owner: "worker-a", EventID: "evt_1", EventType: "invoice.paid",
		Outcome: core.OutcomeHandled, LockKey: "lease:1", HolderID: "holder-a",
	})
	if err != nil || !recorded {
		t.Fatalf("expected completion, got recorded=%v err=%v", recorded, err)
	}
	if _, held, _ := locks.Get(ctx, "lease:1"); held {
		t.Fatalf("expected lock released")
	}
	done, _ := queue.GetJob(ctx, job.ID)
	if done.Status != core.JobStatusProcessed || done.ProcessedAt == nil {
		t.Fatalf("expected processed job, got %+v", done)
	}
	if processed, _ := events.IsProcessed(ctx, "evt_1"); !processed {
		t.Fatalf("expected event recorded")
	}
}

func TestQueueStore_DeadLetterListAndReplay(t *testing.T) {
	ctx := context.Background()
	factory, clock := newTestFactory(t)
	queue := factory.QueueStore()

	job, _ := queue.Enqueue(ctx, core.EnqueueRequest{EventID: "evt_1", EventType: "invoice.paid"})
	clock.Advance(time.Second)
	other, _ := queue.Enqueue(ctx, core.EnqueueRequest{EventID: "evt_2", EventType: "payout.paid"})
	if _, err := queue.Replay(ctx, job.ID); !errors.Is(err, core.ErrJobNotReplayable) {
		t.Fatalf("expected pending job not replayable, got %v", err)
	}

	for _, id := range []string{job.ID, other.ID} {
		claimed, ok, err := queue.Dequeue(ctx, "worker-a", time.Minute)
		if err != nil || !ok || claimed.ID != id {
			t.Fatalf("expected fifo claim of %s, got %+v ok=%v err=%v", id, claimed, ok, err)
		}
		if err := queue.DeadLetter(ctx, id, "worker-a", core.FailureKindPermanent, "bad payload"); err != nil {
			t.Fatalf("dead letter: %v", err)
		}
		clock.Advance(time.Minute)
	}

	depth, err := queue.DeadLetterDepth(ctx)
	if err != nil || depth != 2 {
		t.Fatalf("expected depth 2, got %d err=%v", depth, err)
	}
	invoices, err := queue.ListDeadLetters(ctx, core.DeadLetterFilter{EventType: "invoice.paid"})
	if err != nil || len(invoices) != 1 || invoices[0].ID != job.ID {
		t.Fatalf("expected one invoice dead letter, got %+v err=%v", invoices, err)
	}
	if invoices[0].FailureKind != core.FailureKindPermanent || invoices[0].DeadLetteredAt == nil {
		t.Fatalf("expected failure recorded on dead letter, got %+v", invoices[0])
	}
	page, _ := queue.ListDeadLetters(ctx, core.DeadLetterFilter{Limit: 1, Offset: 1})
	if len(page) != 1 || page[0].ID != other.ID {
		t.Fatalf("expected second page to hold the payout job, got %+v", page)
	}

	replayed, err := queue.Replay(ctx, job.ID)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if replayed.Status != core.JobStatusPending || replayed.AttemptCount != 1 || replayed.Attempts() != 0 || replayed.ReplayedAt == nil {
		t.Fatalf("expected replay to pending with a fresh budget, got %+v", replayed)
	}
	if depth, _ := queue.DeadLetterDepth(ctx); depth != 1 {
		t.Fatalf("expected depth 1 after replay, got %d", depth)
	}
	if _, err := queue.Replay(ctx, "missing"); !errors.Is(err, core.ErrJobNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestQueueStore_SweepRemovesOnlyExpiredRows(t *testing.T) {
	ctx := context.Background()
	factory, clock := newTestFactory(t)
	queue := factory.QueueStore()
	locks := factory.LockStore()

	oldJob, _ := queue.Enqueue(ctx, core.EnqueueRequest{EventID: "evt_old", EventType: "invoice.paid"})
	queue.Dequeue(ctx, "worker-a", time.Minute)
	queue.Complete(ctx, core.CompleteRequest{JobID: oldJob.ID, Owner: "worker-a", EventID: "evt_old", EventType: "invoice.paid"})
	deadJob, _ := queue.Enqueue(ctx, core.EnqueueRequest{EventID: "evt_dead", EventType: "invoice.paid"})
	queue.Dequeue(ctx, "worker-a", time.Minute)
	queue.DeadLetter(ctx, deadJob.ID, "worker-a", core.FailureKindPermanent, "bad payload")
	locks.Acquire(ctx, "lease:stale", "holder-a", time.Minute)

	clock.Advance(48 * time.Hour)
	freshJob, _ := queue.Enqueue(ctx, core.EnqueueRequest{EventID: "evt_fresh", EventType: "invoice.paid"})
	queue.Dequeue(ctx, "worker-a", time.Minute)
	queue.Complete(ctx, core.CompleteRequest{JobID: freshJob.ID, Owner: "worker-a", EventID: "evt_fresh", EventType: "invoice.paid"})
	locks.Acquire(ctx, "lease:live", "holder-a", time.Minute)

	cutoff := clock.Now().Add(-24 * time.Hour)
	result, err := queue.Sweep(ctx, core.SweepRequest{
		ProcessedEventsBefore: cutoff,
		ProcessedJobsBefore:   cutoff,
		DeadLettersBefore:     cutoff,
		Now:                   clock.Now(),
	})
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if result.ProcessedEvents != 1 || result.ProcessedJobs != 1 || result.DeadLetters != 1 || result.ExpiredLocks != 1 {
		t.Fatalf("unexpected sweep result %+v", result)
	}
	if _, err := queue.GetJob(ctx, freshJob.ID); err != nil {
		t.Fatalf("expected fresh job kept: %v", err)
	}
	if _, err := queue.GetJob(ctx, deadJob.ID); !errors.Is(err, core.ErrJobNotFound) {
		t.Fatalf("expected expired dead letter removed, got %v", err)
	}
	if processed, _ := factory.IdempotencyStore().IsProcessed(ctx, "evt_fresh"); !processed {
		t.Fatalf("expected fresh processed event kept")
	}
	if _, held, _ := locks.Get(ctx, "lease:live"); !held {
		t.Fatalf("expected live lock kept")
	}
}
