package saga

import (
	"errors"
	"time"
)

// Status captures the lifecycle state of a saga instance.
type Status string

const (
	StatusPending      Status = "PENDING"
	StatusRunning      Status = "RUNNING"
	StatusCompensating Status = "COMPENSATING"
	StatusCompleted    Status = "COMPLETED"
	StatusFailed       Status = "FAILED"
	StatusCompensated  Status = "COMPENSATED"
)

// Terminal reports whether a status ends the instance lifecycle.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCompensated:
		return true
	}
	return false
}

// Phase distinguishes forward execution from compensation in the step log.
type Phase string

const (
	PhaseForward    Phase = "forward"
	PhaseCompensate Phase = "compensate"
)

// AttemptStatus is the recorded result of one step attempt.
type AttemptStatus string

const (
	AttemptSuccess   AttemptStatus = "success"
	AttemptFailed    AttemptStatus = "failed"
	AttemptTransient AttemptStatus = "transient"
	AttemptSkipped   AttemptStatus = "skipped"
)

// StepAttempt is one entry in an instance's ordered step log.
type StepAttempt struct {
	Step   string        `json:"step"`
	Phase  Phase         `json:"phase"`
	Status AttemptStatus `json:"status"`
	Reason string        `json:"reason,omitempty"`
	At     time.Time     `json:"at"`
}

// Context is the opaque saga payload: input data plus accumulated step outputs.
type Context map[string]any

// Clone returns a shallow copy so callers can mutate without aliasing.
func (c Context) Clone() Context {
	if c == nil {
		return Context{}
	}
	out := make(Context, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// Instance is one in-flight or completed saga run. The orchestrator is the
// only writer; every mutation goes through the store's version check.
type Instance struct {
	ID              string        `json:"id"`
	SagaType        string        `json:"saga_type"`
	StepIndex       int           `json:"step_index"`
	Status          Status        `json:"status"`
	Context         Context       `json:"context"`
	Attempts        []StepAttempt `json:"attempts"`
	Reason          string        `json:"reason,omitempty"`
	CancelRequested bool          `json:"cancel_requested"`
	Version         int64         `json:"version"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// Clone deep-copies the instance so stores can hand out detached values.
func (i *Instance) Clone() *Instance {
	if i == nil {
		return nil
	}
	out := *i
	out.Context = i.Context.Clone()
	out.Attempts = append([]StepAttempt(nil), i.Attempts...)
	return &out
}

// ErrUnknownSagaType signals a start request for an unregistered saga type.
var ErrUnknownSagaType = errors.New("unknown saga type")

// ErrInstanceNotFound signals a lookup for a saga instance that does not exist.
var ErrInstanceNotFound = errors.New("saga instance not found")

// ErrStaleInstance signals a persistence write that lost the version check.
var ErrStaleInstance = errors.New("saga instance version mismatch")

// ErrIdempotencyViolation signals an outcome recorded twice with different
// payloads for the same key. This is a programming error, not a retry case.
var ErrIdempotencyViolation = errors.New("idempotency outcome violation")

// ErrConflict marks an optimistic-concurrency conflict raised by an aggregate
// store. Step errors wrapping it are classified transient and retried.
var ErrConflict = errors.New("concurrency conflict")

// ErrValidation marks a domain validation failure. Step errors wrapping it
// trigger the compensation chain instead of a retry.
var ErrValidation = errors.New("validation failed")
