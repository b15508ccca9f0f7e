package store

import (
	"context"

	"github.com/wadcom/minimailgun/internal/domain"
)

// EnvelopeStatus pairs an envelope id with its current status, the shape
// returned by StatusOf for aggregation (C6) without exposing the full row.
type EnvelopeStatus struct {
	ID     int64
	Status domain.Status
}

// Store is the envelope persistence contract. Implementations must be safe
// for concurrent use by multiple goroutines (the queue proxy serializes
// calls onto a single implementation instance anyway, but the contract does
// not rely on that for correctness of any individual operation).
type Store interface {
	// Put inserts a new envelope with status=QUEUED, delivery_attempts=0,
	// next_attempt_at=now, being_processed=false, and returns its
	// store-assigned id.
	Put(ctx context.Context, env domain.Envelope) (int64, error)

	// Claim atomically selects one envelope eligible for delivery
	// (status=QUEUED, not being processed, due) and marks it in-flight,
	// returning the pre-update view. Returns ok=false with a nil error if
	// no envelope is eligible; selection order among eligible rows is
	// unspecified.
	Claim(ctx context.Context) (env domain.Envelope, ok bool, err error)

	// MarkSent transitions an envelope QUEUED -> SENT and clears its
	// in-flight flag. Returns ErrWrongState if the envelope is not QUEUED,
	// ErrNotFound if the id is unknown (in this shard).
	MarkSent(ctx context.Context, id int64) error

	// MarkUndeliverable transitions an envelope QUEUED -> UNDELIVERABLE and
	// clears its in-flight flag.
	MarkUndeliverable(ctx context.Context, id int64) error

	// ScheduleRetry sets next_attempt_at = now + retryAfter, increments
	// delivery_attempts, and clears the in-flight flag. Status is
	// unchanged.
	ScheduleRetry(ctx context.Context, id int64, retryAfter int64) error

	// StatusOf returns the status of every envelope sharing submissionID,
	// scoped to clientID. Returns ErrUnknownSubmission if no row matches
	// both (including a submission that belongs to a different client).
	StatusOf(ctx context.Context, clientID, submissionID string) ([]EnvelopeStatus, error)

	// RemoveInactive deletes terminal envelopes whose last state change is
	// at least retentionSeconds old, and returns the number removed.
	RemoveInactive(ctx context.Context, retentionSeconds int64) (int, error)

	// RecoverStale clears being_processed on any QUEUED envelope left
	// in-flight by a crashed worker, so every QUEUED envelope is
	// eventually claimable after a clean restart. Safe to call repeatedly.
	RecoverStale(ctx context.Context) (int, error)
}
