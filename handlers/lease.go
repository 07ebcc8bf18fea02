package handlers

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-payhooks/core"
)

// storeFailure keeps classified store errors and treats the rest as outages.
func storeFailure(err error, message string) error {
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return err
	}
	return core.Transient(err, message)
}

type leaseUpdater struct {
	leases LeaseStore
	now    func() time.Time
}

// update runs a read-modify-write on one lease. The lease lock must be held
// on ctx; without it the write is refused and the attempt retried so the next
// LockKey call can see the lease.
func (u leaseUpdater) update(
	ctx context.Context,
	actor Actor,
	leaseID string,
	tenantID string,
	mutate func(*Lease),
) (Lease, error) {
	if held, _ := core.HeldLockFromContext(ctx); held != leaseLockKey(leaseID) {
		return Lease{}, core.Transient(nil, "handlers: lease "+leaseID+" updated without holding "+leaseLockKey(leaseID))
	}
	lease, found, err := u.leases.GetLease(ctx, leaseID)
	if err != nil {
		return Lease{}, storeFailure(err, "handlers: load lease")
	}
	if !found {
		return Lease{}, core.AggregateNotFound("handlers: lease "+leaseID+" not found", map[string]any{
			"lease_id": leaseID,
		})
	}
	if err := checkTenant("lease", leaseID, lease.TenantID, tenantID); err != nil {
		return Lease{}, err
	}
	mutate(&lease)
	lease.Refresh(u.now())
	if err := validateRecord(lease); err != nil {
		return Lease{}, err
	}
	if err := u.leases.SaveLease(ctx, actor, lease); err != nil {
		return Lease{}, storeFailure(err, "handlers: save lease")
	}
	return lease, nil
}
