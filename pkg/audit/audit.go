// Package audit records tenant override usage. Every admitted request that
// acts on a tenant other than the one named in its credential produces
// exactly one event, emitted before the request is forwarded.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Event describes a single sovereign tenant override.
type Event struct {
	ID               string    `json:"id"`
	Timestamp        time.Time `json:"timestamp"`
	ActingSubject    string    `json:"acting_subject"`
	ClaimedTenant    string    `json:"claimed_tenant"`
	OverriddenTenant string    `json:"overridden_tenant"`
	Operation        string    `json:"operation"`
}

// NewEvent builds an override event with a fresh ID.
func NewEvent(subject, claimedTenant, overriddenTenant, operation string, now time.Time) Event {
	return Event{
		ID:               uuid.NewString(),
		Timestamp:        now,
		ActingSubject:    subject,
		ClaimedTenant:    claimedTenant,
		OverriddenTenant: overriddenTenant,
		Operation:        operation,
	}
}

// Sink receives override events. Implementations must be safe for
// concurrent use.
type Sink interface {
	Record(ctx context.Context, event Event) error
	Close() error
}
