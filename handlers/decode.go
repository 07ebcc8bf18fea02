package handlers

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/goliatone/go-payhooks/core"
	"github.com/stripe/stripe-go/v74"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func validateRecord(record any) error {
	validateOnce.Do(func() {
		validate = validator.New()
	})
	if err := validate.Struct(record); err != nil {
		return core.Permanent(err, fmt.Sprintf("handlers: invalid %T", record))
	}
	return nil
}

// decodeObject unmarshals the event envelope and its data object. A malformed
// payload never becomes valid on retry, so decode errors are permanent.
func decodeObject(event core.Event, target any) (stripe.Event, error) {
	var envelope stripe.Event
	if err := json.Unmarshal(event.Payload, &envelope); err != nil {
		return stripe.Event{}, core.Permanent(err, "handlers: decode event envelope")
	}
	if envelope.Data == nil || len(envelope.Data.Raw) == 0 {
		return stripe.Event{}, core.Permanent(nil, "handlers: event has no data object")
	}
	if err := json.Unmarshal(envelope.Data.Raw, target); err != nil {
		return stripe.Event{}, core.Permanent(err, fmt.Sprintf("handlers: decode %s object", event.Type))
	}
	return envelope, nil
}

// eventTime is the provider creation time, falling back to ingestion metadata.
func eventTime(envelope stripe.Event, event core.Event) time.Time {
	if envelope.Created > 0 {
		return time.Unix(envelope.Created, 0).UTC()
	}
	return event.Created.UTC()
}

// stale reports whether an incoming event predates what is already applied.
func stale(applied time.Time, incoming time.Time) bool {
	return !applied.IsZero() && applied.After(incoming)
}

func unixTime(value int64) *time.Time {
	if value <= 0 {
		return nil
	}
	t := time.Unix(value, 0).UTC()
	return &t
}

func metadataValue(metadata map[string]string, key string) string {
	if metadata == nil {
		return ""
	}
	return strings.TrimSpace(metadata[key])
}

func leaseLockKey(leaseID string) string {
	return "lease:" + strings.TrimSpace(leaseID)
}

func actorFor(event core.Event, tenantID string) Actor {
	return Actor{
		ID:       "webhook:" + event.ID,
		EventID:  event.ID,
		TenantID: tenantID,
		Trusted:  true,
	}
}

// checkTenant refuses writes that would move an aggregate across tenants.
func checkTenant(kind string, id string, owned string, claimed string) error {
	owned = strings.TrimSpace(owned)
	claimed = strings.TrimSpace(claimed)
	if owned == "" || claimed == "" || owned == claimed {
		return nil
	}
	return core.Permanent(nil, fmt.Sprintf("handlers: %s %s belongs to another tenant", kind, id))
}

func customerID(customer *stripe.Customer) string {
	if customer == nil {
		return ""
	}
	return customer.ID
}
