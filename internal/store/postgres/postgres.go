// Package postgres implements store.Store against PostgreSQL, grounded on
// the claim-then-update idiom of a send-worker queue: every read is scoped
// to this instance's shard, and claim uses FOR UPDATE SKIP LOCKED so
// concurrent claimers never double-pick a row.
package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
	"github.com/wadcom/minimailgun/internal/clock"
	"github.com/wadcom/minimailgun/internal/domain"
	"github.com/wadcom/minimailgun/internal/store"
)

// Store is a Postgres-backed, shard-aware store.Store.
type Store struct {
	db         *sql.DB
	clk        clock.Clock
	shardIndex int
	shardCount int
}

// New creates a Postgres store scoped to the given shard. shardCount=1
// disables sharding (every row belongs to shard 0).
func New(db *sql.DB, clk clock.Clock, shardIndex, shardCount int) *Store {
	if shardCount <= 0 {
		shardCount = 1
	}
	return &Store{db: db, clk: clk, shardIndex: shardIndex, shardCount: shardCount}
}

// EnsureSchema idempotently creates the envelopes table and its indexes.
// Grounded on the teacher's migrate-at-startup idiom.
func (s *Store) EnsureSchema(ctx context.Context, ddl string) error {
	_, err := s.db.ExecContext(ctx, ddl)
	if err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (s *Store) Put(ctx context.Context, env domain.Envelope) (int64, error) {
	now := s.clk.Now()
	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO envelopes
			(client_id, submission_id, recipients, destination_domain, message,
			 status, next_attempt_at, delivery_attempts, being_processed,
			 created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 'queued', $6, 0, false, $6, $6)
		RETURNING id
	`, env.ClientID, env.SubmissionID, pq.Array(env.Recipients), env.DestinationDomain,
		env.Message, now).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("put envelope: %w", err)
	}
	return id, nil
}

func (s *Store) Claim(ctx context.Context) (domain.Envelope, bool, error) {
	now := s.clk.Now()
	row := s.db.QueryRowContext(ctx, `
		WITH claimed AS (
			UPDATE envelopes
			SET being_processed = true
			WHERE id IN (
				SELECT id FROM envelopes
				WHERE status = 'queued'
				  AND being_processed = false
				  AND next_attempt_at <= $1
				  AND id % $2 = $3
				ORDER BY next_attempt_at ASC
				LIMIT 1
				FOR UPDATE SKIP LOCKED
			)
			RETURNING id, client_id, submission_id, recipients, destination_domain,
			          message, status, next_attempt_at, delivery_attempts,
			          created_at, updated_at
		)
		SELECT id, client_id, submission_id, recipients, destination_domain,
		       message, status, next_attempt_at, delivery_attempts,
		       created_at, updated_at
		FROM claimed
	`, now, s.shardCount, s.shardIndex)

	var env domain.Envelope
	var recipients pq.StringArray
	err := row.Scan(&env.ID, &env.ClientID, &env.SubmissionID, &recipients,
		&env.DestinationDomain, &env.Message, &env.Status, &env.NextAttemptAt,
		&env.DeliveryAttempts, &env.CreatedAt, &env.UpdatedAt)
	if err == sql.ErrNoRows {
		return domain.Envelope{}, false, nil
	}
	if err != nil {
		return domain.Envelope{}, false, fmt.Errorf("claim envelope: %w", err)
	}
	env.Recipients = recipients
	env.BeingProcessed = false // pre-update view, per the store contract
	return env, true, nil
}

func (s *Store) MarkSent(ctx context.Context, id int64) error {
	return s.transition(ctx, id, `
		UPDATE envelopes
		SET status = 'sent', being_processed = false, updated_at = $4
		WHERE id = $1 AND id % $2 = $3 AND status = 'queued'
	`)
}

func (s *Store) MarkUndeliverable(ctx context.Context, id int64) error {
	return s.transition(ctx, id, `
		UPDATE envelopes
		SET status = 'undeliverable', being_processed = false, updated_at = $4
		WHERE id = $1 AND id % $2 = $3 AND status = 'queued'
	`)
}

func (s *Store) transition(ctx context.Context, id int64, query string) error {
	now := s.clk.Now()
	res, err := s.db.ExecContext(ctx, query, id, s.shardCount, s.shardIndex, now)
	if err != nil {
		return fmt.Errorf("transition envelope %d: %w", id, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return s.classifyMissWhy(ctx, id)
	}
	return nil
}

// classifyMissWhy distinguishes "unknown id" from "wrong state" after a
// zero-row-affected transition, matching the store integrity taxonomy.
func (s *Store) classifyMissWhy(ctx context.Context, id int64) error {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM envelopes WHERE id = $1 AND id % $2 = $3)
	`, id, s.shardCount, s.shardIndex).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check envelope %d existence: %w", id, err)
	}
	if !exists {
		return store.ErrNotFound
	}
	return store.ErrWrongState
}

func (s *Store) ScheduleRetry(ctx context.Context, id int64, retryAfter int64) error {
	now := s.clk.Now()
	res, err := s.db.ExecContext(ctx, `
		UPDATE envelopes
		SET next_attempt_at = $4 + $5,
		    delivery_attempts = delivery_attempts + 1,
		    being_processed = false,
		    updated_at = $4
		WHERE id = $1 AND id % $2 = $3 AND status = 'queued'
	`, id, s.shardCount, s.shardIndex, now, retryAfter)
	if err != nil {
		return fmt.Errorf("schedule retry for envelope %d: %w", id, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return s.classifyMissWhy(ctx, id)
	}
	return nil
}

func (s *Store) StatusOf(ctx context.Context, clientID, submissionID string) ([]store.EnvelopeStatus, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, status FROM envelopes
		WHERE client_id = $1 AND submission_id = $2 AND id % $3 = $4
		ORDER BY id ASC
	`, clientID, submissionID, s.shardCount, s.shardIndex)
	if err != nil {
		return nil, fmt.Errorf("status of submission %s: %w", submissionID, err)
	}
	defer rows.Close()

	var out []store.EnvelopeStatus
	for rows.Next() {
		var es store.EnvelopeStatus
		if err := rows.Scan(&es.ID, &es.Status); err != nil {
			return nil, fmt.Errorf("scan envelope status: %w", err)
		}
		out = append(out, es)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, store.ErrUnknownSubmission
	}
	return out, nil
}

func (s *Store) RemoveInactive(ctx context.Context, retentionSeconds int64) (int, error) {
	now := s.clk.Now()
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM envelopes
		WHERE status IN ('sent', 'undeliverable')
		  AND id % $1 = $2
		  AND $3 - updated_at >= $4
	`, s.shardCount, s.shardIndex, now, retentionSeconds)
	if err != nil {
		return 0, fmt.Errorf("remove inactive envelopes: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *Store) RecoverStale(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE envelopes
		SET being_processed = false
		WHERE status = 'queued' AND being_processed = true AND id % $1 = $2
	`, s.shardCount, s.shardIndex)
	if err != nil {
		return 0, fmt.Errorf("recover stale envelopes: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
