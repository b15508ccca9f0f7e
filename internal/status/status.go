// Package status implements the status aggregator (C6): it collapses the
// per-envelope statuses of one submission to a single user-visible
// status.
package status

import (
	"context"

	"github.com/wadcom/minimailgun/internal/domain"
	"github.com/wadcom/minimailgun/internal/store"
)

// ErrUnknownSubmission is returned when no envelope matches the given
// client and submission id.
var ErrUnknownSubmission = store.ErrUnknownSubmission

// Aggregator answers status queries against a store.
type Aggregator struct {
	store store.Store
}

// New creates an Aggregator backed by the given store.
func New(st store.Store) *Aggregator {
	return &Aggregator{store: st}
}

// StatusOf returns the collapsed status of a submission: the shared
// status if every envelope agrees, otherwise QUEUED (still in progress).
func (a *Aggregator) StatusOf(ctx context.Context, clientID, submissionID string) (domain.Status, error) {
	rows, err := a.store.StatusOf(ctx, clientID, submissionID)
	if err != nil {
		return "", err
	}

	first := rows[0].Status
	for _, row := range rows[1:] {
		if row.Status != first {
			return domain.StatusQueued, nil
		}
	}
	return first, nil
}
