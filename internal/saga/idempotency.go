package saga

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// OutcomeStatus classifies a step execution result.
type OutcomeStatus string

const (
	OutcomeSuccess   OutcomeStatus = "success"
	OutcomeFailure   OutcomeStatus = "failure"
	OutcomeTransient OutcomeStatus = "transient"
)

// Outcome is the result of executing a step action, serializable so the
// idempotency store can replay it without re-invoking the action.
type Outcome struct {
	Status  OutcomeStatus `json:"status"`
	Context Context       `json:"context,omitempty"`
	Reason  string        `json:"reason,omitempty"`
}

// Success builds a success outcome carrying the updated context.
func Success(c Context) Outcome {
	return Outcome{Status: OutcomeSuccess, Context: c}
}

// Failure builds a non-retryable failure outcome.
func Failure(reason string) Outcome {
	return Outcome{Status: OutcomeFailure, Reason: reason}
}

// Transient builds a retryable failure outcome.
func Transient(reason string) Outcome {
	return Outcome{Status: OutcomeTransient, Reason: reason}
}

// BeginState is the result of attempting to acquire an idempotency key.
type BeginState string

const (
	BeginAcquired   BeginState = "acquired"
	BeginInProgress BeginState = "in_progress"
	BeginCompleted  BeginState = "completed"
)

// Record statuses shared by the idempotency store backends.
const (
	idemInProgress = "in_progress"
	idemCompleted  = "completed"
)

// BeginResult carries the acquire state and, for completed keys, the stored
// outcome.
type BeginResult struct {
	State   BeginState
	Outcome Outcome
}

// IdempotencyStore maps keys to recorded outcomes. Begin must be atomic:
// exactly one caller wins Acquired for a given key. Outcomes never change once
// completed; Complete with a different outcome fails with
// ErrIdempotencyViolation. Abort releases an in-progress key after a transient
// failure so a retry can re-execute the action.
type IdempotencyStore interface {
	Begin(ctx context.Context, key string) (BeginResult, error)
	Complete(ctx context.Context, key string, outcome Outcome) error
	Abort(ctx context.Context, key string) error
}

type memoryIdemRecord struct {
	status  string
	outcome []byte
}

// MemoryIdempotencyStore is a mutex-guarded in-memory IdempotencyStore used in
// tests and DSN-less deployments.
type MemoryIdempotencyStore struct {
	mu      sync.Mutex
	records map[string]memoryIdemRecord
}

// NewMemoryIdempotencyStore constructs an empty in-memory store.
func NewMemoryIdempotencyStore() *MemoryIdempotencyStore {
	return &MemoryIdempotencyStore{records: make(map[string]memoryIdemRecord)}
}

func (s *MemoryIdempotencyStore) Begin(ctx context.Context, key string) (BeginResult, error) {
	if err := ctx.Err(); err != nil {
		return BeginResult{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key]
	if !ok {
		s.records[key] = memoryIdemRecord{status: idemInProgress}
		return BeginResult{State: BeginAcquired}, nil
	}
	if rec.status == idemInProgress {
		return BeginResult{State: BeginInProgress}, nil
	}

	var outcome Outcome
	if err := json.Unmarshal(rec.outcome, &outcome); err != nil {
		return BeginResult{}, fmt.Errorf("decode stored outcome for %q: %w", key, err)
	}
	return BeginResult{State: BeginCompleted, Outcome: outcome}, nil
}

func (s *MemoryIdempotencyStore) Complete(ctx context.Context, key string, outcome Outcome) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := json.Marshal(outcome)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key]
	if !ok {
		return fmt.Errorf("%w: complete without begin for %q", ErrIdempotencyViolation, key)
	}
	if rec.status == idemCompleted {
		if string(rec.outcome) == string(payload) {
			return nil
		}
		return fmt.Errorf("%w: key %q", ErrIdempotencyViolation, key)
	}
	s.records[key] = memoryIdemRecord{status: idemCompleted, outcome: payload}
	return nil
}

func (s *MemoryIdempotencyStore) Abort(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.records[key]; ok && rec.status == idemInProgress {
		delete(s.records, key)
	}
	return nil
}
