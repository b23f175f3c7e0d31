package sagadb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"orderflow/internal/saga"
)

// InstanceStore persists saga instances in Postgres. Updates compare-and-swap
// on the version column so concurrent advance deliveries serialize without
// locks held across I/O.
type InstanceStore struct {
	db *sql.DB
}

// NewInstanceStore constructs an InstanceStore backed by Postgres.
func NewInstanceStore(db *sql.DB) *InstanceStore {
	return &InstanceStore{db: db}
}

// NewInstanceStoreWithSchema initializes the schema then returns the store.
func NewInstanceStoreWithSchema(ctx context.Context, db *sql.DB) (*InstanceStore, error) {
	store := NewInstanceStore(db)
	if err := store.InitSchema(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

// InitSchema creates the saga instance table if it does not exist.
func (s *InstanceStore) InitSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS saga_instances (
			id TEXT PRIMARY KEY,
			saga_type TEXT NOT NULL,
			step_index INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL,
			context JSONB NOT NULL DEFAULT '{}',
			attempts JSONB NOT NULL DEFAULT '[]',
			reason TEXT NOT NULL DEFAULT '',
			cancel_requested BOOLEAN NOT NULL DEFAULT FALSE,
			version BIGINT NOT NULL DEFAULT 1,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`)
	return err
}

// Create inserts a new instance with version 1.
func (s *InstanceStore) Create(ctx context.Context, inst *saga.Instance) error {
	contextJSON, attemptsJSON, err := encodeInstance(inst)
	if err != nil {
		return err
	}

	inst.Version = 1
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO saga_instances
			(id, saga_type, step_index, status, context, attempts, reason, cancel_requested, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		inst.ID, inst.SagaType, inst.StepIndex, string(inst.Status),
		contextJSON, attemptsJSON, inst.Reason, inst.CancelRequested,
		inst.Version, inst.CreatedAt, inst.UpdatedAt,
	)
	return err
}

// Load reads an instance by id.
func (s *InstanceStore) Load(ctx context.Context, id string) (*saga.Instance, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, saga_type, step_index, status, context, attempts, reason, cancel_requested, version, created_at, updated_at
		FROM saga_instances
		WHERE id = $1`,
		id,
	)
	inst, err := scanInstance(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %q", saga.ErrInstanceNotFound, id)
	}
	return inst, err
}

// Update writes the instance if the stored version still matches, bumping the
// version on success. A lost race returns saga.ErrStaleInstance.
func (s *InstanceStore) Update(ctx context.Context, inst *saga.Instance) error {
	contextJSON, attemptsJSON, err := encodeInstance(inst)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE saga_instances
		SET step_index = $2, status = $3, context = $4, attempts = $5,
			reason = $6, cancel_requested = $7, version = version + 1, updated_at = $8
		WHERE id = $1 AND version = $9`,
		inst.ID, inst.StepIndex, string(inst.Status), contextJSON, attemptsJSON,
		inst.Reason, inst.CancelRequested, inst.UpdatedAt, inst.Version,
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: %q", saga.ErrStaleInstance, inst.ID)
	}
	inst.Version++
	return nil
}

// ListActive returns every instance not in a terminal status, for the resume
// sweep at process start.
func (s *InstanceStore) ListActive(ctx context.Context) ([]*saga.Instance, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, saga_type, step_index, status, context, attempts, reason, cancel_requested, version, created_at, updated_at
		FROM saga_instances
		WHERE status IN ($1, $2, $3)
		ORDER BY created_at`,
		string(saga.StatusPending), string(saga.StatusRunning), string(saga.StatusCompensating),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var active []*saga.Instance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		active = append(active, inst)
	}
	return active, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func encodeInstance(inst *saga.Instance) ([]byte, []byte, error) {
	contextJSON, err := json.Marshal(inst.Context)
	if err != nil {
		return nil, nil, fmt.Errorf("encode saga context: %w", err)
	}
	attempts := inst.Attempts
	if attempts == nil {
		attempts = []saga.StepAttempt{}
	}
	attemptsJSON, err := json.Marshal(attempts)
	if err != nil {
		return nil, nil, fmt.Errorf("encode saga attempts: %w", err)
	}
	return contextJSON, attemptsJSON, nil
}

func scanInstance(row rowScanner) (*saga.Instance, error) {
	var inst saga.Instance
	var status string
	var contextJSON, attemptsJSON []byte
	if err := row.Scan(
		&inst.ID, &inst.SagaType, &inst.StepIndex, &status,
		&contextJSON, &attemptsJSON, &inst.Reason, &inst.CancelRequested,
		&inst.Version, &inst.CreatedAt, &inst.UpdatedAt,
	); err != nil {
		return nil, err
	}
	inst.Status = saga.Status(status)
	if err := json.Unmarshal(contextJSON, &inst.Context); err != nil {
		return nil, fmt.Errorf("decode saga context: %w", err)
	}
	if err := json.Unmarshal(attemptsJSON, &inst.Attempts); err != nil {
		return nil, fmt.Errorf("decode saga attempts: %w", err)
	}
	return &inst, nil
}
