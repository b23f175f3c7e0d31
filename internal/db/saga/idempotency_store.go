package sagadb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"

	"orderflow/internal/saga"
)

const (
	idemInProgress = "in_progress"
	idemCompleted  = "completed"
)

// IdempotencyStore records step and request outcomes in Postgres. The insert's
// ON CONFLICT DO NOTHING makes Begin atomic: exactly one caller observes an
// affected row and wins the key. Expired rows are swept by an external
// cleanup job; this store only writes created_at for it.
type IdempotencyStore struct {
	db *sql.DB
}

// NewIdempotencyStore constructs an IdempotencyStore backed by Postgres.
func NewIdempotencyStore(db *sql.DB) *IdempotencyStore {
	return &IdempotencyStore{db: db}
}

// NewIdempotencyStoreWithSchema initializes the schema then returns the store.
func NewIdempotencyStoreWithSchema(ctx context.Context, db *sql.DB) (*IdempotencyStore, error) {
	store := NewIdempotencyStore(db)
	if err := store.InitSchema(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

// InitSchema creates the idempotency table if it does not exist.
func (s *IdempotencyStore) InitSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS idempotency_keys (
			key TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			outcome JSONB,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`)
	return err
}

// Begin acquires the key or reports the state of the existing record.
func (s *IdempotencyStore) Begin(ctx context.Context, key string) (saga.BeginResult, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO idempotency_keys (key, status)
		VALUES ($1, $2)
		ON CONFLICT (key) DO NOTHING`,
		key, idemInProgress,
	)
	if err != nil {
		return saga.BeginResult{}, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return saga.BeginResult{}, err
	}
	if affected == 1 {
		return saga.BeginResult{State: saga.BeginAcquired}, nil
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT status, outcome FROM idempotency_keys WHERE key = $1`,
		key,
	)
	var status string
	var outcomeJSON []byte
	if err := row.Scan(&status, &outcomeJSON); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// The record was swept between insert and select; treat as busy.
			return saga.BeginResult{State: saga.BeginInProgress}, nil
		}
		return saga.BeginResult{}, err
	}
	if status != idemCompleted {
		return saga.BeginResult{State: saga.BeginInProgress}, nil
	}

	var outcome saga.Outcome
	if err := json.Unmarshal(outcomeJSON, &outcome); err != nil {
		return saga.BeginResult{}, fmt.Errorf("decode stored outcome for %q: %w", key, err)
	}
	return saga.BeginResult{State: saga.BeginCompleted, Outcome: outcome}, nil
}

// Complete records the outcome for an in-progress key. Completing an already
// completed key is a no-op when the outcome matches and an
// ErrIdempotencyViolation when it does not.
func (s *IdempotencyStore) Complete(ctx context.Context, key string, outcome saga.Outcome) error {
	payload, err := json.Marshal(outcome)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE idempotency_keys
		SET status = $2, outcome = $3, updated_at = NOW()
		WHERE key = $1 AND status = $4`,
		key, idemCompleted, payload, idemInProgress,
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 1 {
		return nil
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT outcome FROM idempotency_keys WHERE key = $1 AND status = $2`,
		key, idemCompleted,
	)
	var existing []byte
	if err := row.Scan(&existing); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: complete without begin for %q", saga.ErrIdempotencyViolation, key)
		}
		return err
	}
	if jsonEqual(existing, payload) {
		return nil
	}
	return fmt.Errorf("%w: key %q", saga.ErrIdempotencyViolation, key)
}

// Abort releases an in-progress key so a retry can re-execute the action.
func (s *IdempotencyStore) Abort(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM idempotency_keys WHERE key = $1 AND status = $2`,
		key, idemInProgress,
	)
	return err
}

func jsonEqual(a, b []byte) bool {
	var av, bv any
	if err := json.Unmarshal(a, &av); err != nil {
		return false
	}
	if err := json.Unmarshal(b, &bv); err != nil {
		return false
	}
	return reflect.DeepEqual(av, bv)
}
