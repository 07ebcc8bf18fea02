package sqlstore

import (
	"fmt"
	"time"

	persistence "github.com/goliatone/go-persistence-bun"
	"github.com/uptrace/bun"
)

// RepositoryFactory builds every SQL store over one bun connection.
type RepositoryFactory struct {
	db *bun.DB

	idempotencyStore *IdempotencyStore
	lockStore        *LockStore
	queueStore       *QueueStore
	domainStore      *DomainStore
}

func NewRepositoryFactory() *RepositoryFactory {
	return &RepositoryFactory{}
}

func NewRepositoryFactoryFromPersistence(client *persistence.Client) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory()
	if err := factory.BuildStores(client); err != nil {
		return nil, err
	}
	return factory, nil
}

func NewRepositoryFactoryFromDB(db *bun.DB) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory()
	if err := factory.BuildStores(db); err != nil {
		return nil, err
	}
	return factory, nil
}

// BuildStores accepts a *bun.DB or any client exposing DB() *bun.DB.
func (f *RepositoryFactory) BuildStores(persistenceClient any) error {
	if f == nil {
		return fmt.Errorf("sqlstore: repository factory is nil")
	}
	if f.db == nil {
		db, err := resolveBunDB(persistenceClient)
		if err != nil {
			return err
		}
		f.db = db
	}
	if f.queueStore != nil && f.domainStore != nil {
		return nil
	}
	return f.initStores()
}

func (f *RepositoryFactory) IdempotencyStore() *IdempotencyStore {
	if f == nil {
		return nil
	}
	return f.idempotencyStore
}

func (f *RepositoryFactory) LockStore() *LockStore {
	if f == nil {
		return nil
	}
	return f.lockStore
}

func (f *RepositoryFactory) QueueStore() *QueueStore {
	if f == nil {
		return nil
	}
	return f.queueStore
}

func (f *RepositoryFactory) DomainStore() *DomainStore {
	if f == nil {
		return nil
	}
	return f.domainStore
}

// WithClock replaces the clock of every store built so far.
func (f *RepositoryFactory) WithClock(now func() time.Time) *RepositoryFactory {
	if f == nil || now == nil {
		return f
	}
	clock := func() time.Time { return now().UTC() }
	if f.idempotencyStore != nil {
		f.idempotencyStore.now = clock
	}
	if f.lockStore != nil {
		f.lockStore.now = clock
	}
	if f.queueStore != nil {
		f.queueStore.now = clock
	}
	if f.domainStore != nil {
		f.domainStore.now = clock
	}
	return f
}

func (f *RepositoryFactory) DB() *bun.DB {
	if f == nil {
		return nil
	}
	return f.db
}

func (f *RepositoryFactory) initStores() error {
	idempotencyStore, err := NewIdempotencyStore(f.db)
	if err != nil {
		return err
	}
	lockStore, err := NewLockStore(f.db)
	if err != nil {
		return err
	}
	queueStore, err := NewQueueStore(f.db)
	if err != nil {
		return err
	}
	domainStore, err := NewDomainStore(f.db)
	if err != nil {
		return err
	}
	f.idempotencyStore = idempotencyStore
	f.lockStore = lockStore
	f.queueStore = queueStore
	f.domainStore = domainStore
	return nil
}

func resolveBunDB(candidate any) (*bun.DB, error) {
	switch typed := candidate.(type) {
	case nil:
		return nil, fmt.Errorf("sqlstore: persistence client is required")
	case *bun.DB:
		return typed, nil
	case interface{ DB() *bun.DB }:
		db := typed.DB()
		if db == nil {
			return nil, fmt.Errorf("sqlstore: persistence client returned nil bun db")
		}
		return db, nil
	default:
		return nil, fmt.Errorf("sqlstore: unsupported persistence client type %T", candidate)
	}
}
