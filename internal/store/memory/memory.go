// Package memory provides an in-process, mutex-guarded implementation of
// store.Store. It is used by unit tests for every component layered on top
// of the store (queue proxy, delivery agent, submission adapter, status
// aggregator, retention cleaner) so those tests don't need a live Postgres
// instance, mirroring the role sqlmock plays for the Postgres store's own
// tests.
package memory

import (
	"context"
	"sort"

	"github.com/wadcom/minimailgun/internal/clock"
	"github.com/wadcom/minimailgun/internal/domain"
	"github.com/wadcom/minimailgun/internal/store"

	"sync"
)

// Store is an in-memory, shard-aware implementation of store.Store.
type Store struct {
	mu         sync.Mutex
	clk        clock.Clock
	shardIndex int
	shardCount int
	nextID     int64
	rows       map[int64]*domain.Envelope
}

// New creates an in-memory store instance for the given shard. shardCount=1
// (the default) disables sharding.
func New(clk clock.Clock, shardIndex, shardCount int) *Store {
	if shardCount <= 0 {
		shardCount = 1
	}
	return &Store{
		clk:        clk,
		shardIndex: shardIndex,
		shardCount: shardCount,
		rows:       make(map[int64]*domain.Envelope),
		nextID:     int64(shardCount + shardIndex),
	}
}

func (s *Store) owns(id int64) bool {
	return int(id%int64(s.shardCount)) == s.shardIndex
}

func (s *Store) Put(ctx context.Context, env domain.Envelope) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID += int64(s.shardCount)
	now := s.clk.Now()

	env.ID = id
	env.Status = domain.StatusQueued
	env.DeliveryAttempts = 0
	env.NextAttemptAt = now
	env.BeingProcessed = false
	env.CreatedAt = now
	env.UpdatedAt = now
	s.rows[id] = &env
	return id, nil
}

func (s *Store) Claim(ctx context.Context) (domain.Envelope, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clk.Now()

	// Deterministic order over map iteration so tests are reproducible;
	// the spec does not require any particular selection among eligible
	// rows.
	ids := make([]int64, 0, len(s.rows))
	for id := range s.rows {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		env := s.rows[id]
		if !s.owns(id) {
			continue
		}
		if !env.EligibleForClaim(now) {
			continue
		}
		pre := *env
		env.BeingProcessed = true
		env.UpdatedAt = now
		return pre, true, nil
	}
	return domain.Envelope{}, false, nil
}

func (s *Store) MarkSent(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	env, err := s.mustOwn(id)
	if err != nil {
		return err
	}
	if env.Status != domain.StatusQueued {
		return store.ErrWrongState
	}
	env.Status = domain.StatusSent
	env.BeingProcessed = false
	env.UpdatedAt = s.clk.Now()
	return nil
}

func (s *Store) MarkUndeliverable(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	env, err := s.mustOwn(id)
	if err != nil {
		return err
	}
	if env.Status != domain.StatusQueued {
		return store.ErrWrongState
	}
	env.Status = domain.StatusUndeliverable
	env.BeingProcessed = false
	env.UpdatedAt = s.clk.Now()
	return nil
}

func (s *Store) ScheduleRetry(ctx context.Context, id int64, retryAfter int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	env, err := s.mustOwn(id)
	if err != nil {
		return err
	}
	if env.Status != domain.StatusQueued {
		return store.ErrWrongState
	}
	now := s.clk.Now()
	env.NextAttemptAt = now + retryAfter
	env.DeliveryAttempts++
	env.BeingProcessed = false
	env.UpdatedAt = now
	return nil
}

func (s *Store) StatusOf(ctx context.Context, clientID, submissionID string) ([]store.EnvelopeStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []store.EnvelopeStatus
	for id, env := range s.rows {
		if !s.owns(id) {
			continue
		}
		if env.SubmissionID != submissionID {
			continue
		}
		if env.ClientID != clientID {
			// A submission id that belongs to another client must look
			// exactly like an unknown submission id (cross-client
			// isolation) — skip rather than leak it as a mismatch.
			continue
		}
		out = append(out, store.EnvelopeStatus{ID: id, Status: env.Status})
	}
	if out == nil {
		return nil, store.ErrUnknownSubmission
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) RemoveInactive(ctx context.Context, retentionSeconds int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clk.Now()
	removed := 0
	for id, env := range s.rows {
		if !s.owns(id) {
			continue
		}
		if !env.Status.IsTerminal() {
			continue
		}
		if now-env.UpdatedAt >= retentionSeconds {
			delete(s.rows, id)
			removed++
		}
	}
	return removed, nil
}

func (s *Store) RecoverStale(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, env := range s.rows {
		if !s.owns(id) {
			continue
		}
		if env.Status == domain.StatusQueued && env.BeingProcessed {
			env.BeingProcessed = false
			n++
		}
	}
	return n, nil
}

func (s *Store) mustOwn(id int64) (*domain.Envelope, error) {
	if !s.owns(id) {
		return nil, store.ErrNotFound
	}
	env, found := s.rows[id]
	if !found {
		return nil, store.ErrNotFound
	}
	return env, nil
}
