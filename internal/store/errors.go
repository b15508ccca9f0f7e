package store

import "errors"

// Sentinel errors for the envelope store.
var (
	// ErrNotFound means the operation targeted an id that does not exist
	// (within the caller's shard, if sharding is configured).
	ErrNotFound = errors.New("envelope not found")

	// ErrWrongState means the operation targeted an envelope whose current
	// status does not permit the requested transition (store integrity
	// violation — e.g. marking a terminal envelope sent again). Callers
	// should treat this as a bug signal, not a retriable condition.
	ErrWrongState = errors.New("envelope not in expected state")

	// ErrUnknownSubmission is returned by StatusOf when no envelope matches
	// both the given client and submission id — including the case where
	// the submission exists but belongs to a different client.
	ErrUnknownSubmission = errors.New("unknown submission id")
)
