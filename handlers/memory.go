package handlers

import (
	"context"
	"sort"
	"sync"
)

// MemoryDomain is an in-process implementation of every domain store and the
// notifier. It backs tests and single-node development runs.
type MemoryDomain struct {
	mu            sync.Mutex
	subscriptions map[string]Subscription
	leases        map[string]Lease
	payments      map[string]Payment
	balances      map[string]BalanceEntry
	checkouts     map[string]Checkout
	accounts      map[string]ConnectedAccount
	payouts       map[string]Payout
	notifications map[string]Notification
	writes        []Actor
}

func NewMemoryDomain() *MemoryDomain {
	return &MemoryDomain{
		subscriptions: map[string]Subscription{},
		leases:        map[string]Lease{},
		payments:      map[string]Payment{},
		balances:      map[string]BalanceEntry{},
		checkouts:     map[string]Checkout{},
		accounts:      map[string]ConnectedAccount{},
		payouts:       map[string]Payout{},
		notifications: map[string]Notification{},
	}
}

func (m *MemoryDomain) Stores() Stores {
	return Stores{
		Subscriptions: m,
		Leases:        m,
		Payments:      m,
		Checkouts:     m,
		Connect:       m,
		Notifier:      m,
	}
}

// PutLease seeds a lease the way the application's own CRUD flow would.
func (m *MemoryDomain) PutLease(lease Lease) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.leases[lease.ID] = lease
}

func (m *MemoryDomain) GetSubscription(_ context.Context, id string) (Subscription, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.subscriptions[id]
	return record, ok, nil
}

func (m *MemoryDomain) UpsertSubscription(_ context.Context, actor Actor, subscription Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscriptions[subscription.ID] = subscription
	m.writes = append(m.writes, actor)
	return nil
}

func (m *MemoryDomain) GetLease(_ context.Context, id string) (Lease, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.leases[id]
	return record, ok, nil
}

func (m *MemoryDomain) SaveLease(_ context.Context, actor Actor, lease Lease) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.leases[lease.ID] = lease
	m.writes = append(m.writes, actor)
	return nil
}

func (m *MemoryDomain) GetPayment(_ context.Context, id string) (Payment, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.payments[id]
	return record, ok, nil
}

func (m *MemoryDomain) UpsertPayment(_ context.Context, actor Actor, payment Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payments[payment.ID] = payment
	m.writes = append(m.writes, actor)
	return nil
}

func (m *MemoryDomain) UpsertBalanceEntry(_ context.Context, actor Actor, entry BalanceEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[entry.ID] = entry
	m.writes = append(m.writes, actor)
	return nil
}

func (m *MemoryDomain) UpsertCheckout(_ context.Context, actor Actor, checkout Checkout) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkouts[checkout.ID] = checkout
	m.writes = append(m.writes, actor)
	return nil
}

func (m *MemoryDomain) GetAccount(_ context.Context, id string) (ConnectedAccount, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.accounts[id]
	return record, ok, nil
}

func (m *MemoryDomain) UpsertAccount(_ context.Context, actor Actor, account ConnectedAccount) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[account.ID] = account
	m.writes = append(m.writes, actor)
	return nil
}

func (m *MemoryDomain) GetPayout(_ context.Context, id string) (Payout, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.payouts[id]
	return record, ok, nil
}

func (m *MemoryDomain) UpsertPayout(_ context.Context, actor Actor, payout Payout) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payouts[payout.ID] = payout
	m.writes = append(m.writes, actor)
	return nil
}

func (m *MemoryDomain) Notify(_ context.Context, notification Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifications[notification.Key] = notification
	return nil
}

func (m *MemoryDomain) Checkout(id string) (Checkout, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.checkouts[id]
	return record, ok
}

// BalanceEntries returns entries for one lease ordered by id.
func (m *MemoryDomain) BalanceEntries(leaseID string) []BalanceEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []BalanceEntry{}
	for _, entry := range m.balances {
		if entry.LeaseID == leaseID {
			out = append(out, entry)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *MemoryDomain) Notifications() []Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Notification, 0, len(m.notifications))
	for _, notification := range m.notifications {
		out = append(out, notification)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

func (m *MemoryDomain) Writes() []Actor {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Actor(nil), m.writes...)
}
