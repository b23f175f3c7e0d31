package saga

import (
	"context"
	"errors"
	"fmt"
)

// StepExecutor runs a single step action behind the idempotency store. Step
// errors never escape as Go errors: they are classified into Outcome variants.
// Only infrastructure failures (the idempotency store itself) return an error.
type StepExecutor struct {
	idem IdempotencyStore
}

// NewStepExecutor constructs a StepExecutor.
func NewStepExecutor(idem IdempotencyStore) *StepExecutor {
	return &StepExecutor{idem: idem}
}

// StepKey derives the deterministic idempotency key for a step execution, so
// retries of the same step share one key even across workers.
func StepKey(instanceID, stepName string, kind TaskKind) string {
	return fmt.Sprintf("saga:%s:%s:%s", instanceID, stepName, kind)
}

// Execute runs the given action for a step. A completed idempotency record
// replays the stored outcome without re-invoking the action; an in-progress
// record from another worker yields a transient outcome so the caller retries
// after the other execution settles.
func (e *StepExecutor) Execute(ctx context.Context, step StepDefinition, kind TaskKind, instanceID string, c Context) (Outcome, error) {
	action := step.Forward
	if kind == TaskCompensate {
		action = step.Compensation
	}
	if action == nil {
		return Outcome{}, fmt.Errorf("step %q has no %s action", step.Name, kind)
	}

	key := StepKey(instanceID, step.Name, kind)
	begin, err := e.idem.Begin(ctx, key)
	if err != nil {
		return Outcome{}, fmt.Errorf("idempotency begin %q: %w", key, err)
	}

	switch begin.State {
	case BeginCompleted:
		return begin.Outcome, nil
	case BeginInProgress:
		return Transient("step execution already in progress"), nil
	}

	outcome := e.invoke(ctx, action, c, key)

	if outcome.Status == OutcomeTransient {
		// The action did not complete; release the key so a retry can run.
		if err := e.idem.Abort(ctx, key); err != nil {
			return Outcome{}, fmt.Errorf("idempotency abort %q: %w", key, err)
		}
		return outcome, nil
	}

	if err := e.idem.Complete(ctx, key, outcome); err != nil {
		return Outcome{}, fmt.Errorf("idempotency complete %q: %w", key, err)
	}
	return outcome, nil
}

func (e *StepExecutor) invoke(ctx context.Context, action Action, c Context, key string) Outcome {
	updated, err := action.Execute(ctx, c.Clone(), key)
	if err == nil {
		if updated == nil {
			updated = c
		}
		return Success(updated)
	}
	return Classify(err)
}

// Classify maps a step error onto an outcome variant. Validation failures
// compensate; everything else, including optimistic-concurrency conflicts,
// deadlines, and unknown infrastructure errors, is retryable within the
// step's retry budget.
func Classify(err error) Outcome {
	if errors.Is(err, ErrValidation) {
		return Failure(err.Error())
	}
	return Transient(err.Error())
}
