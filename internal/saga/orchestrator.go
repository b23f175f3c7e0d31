package saga

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
)

// Metrics receives orchestrator lifecycle counters. Implementations must be
// safe for concurrent use; a nil Metrics disables reporting.
type Metrics interface {
	SagaStarted(sagaType string)
	SagaFinished(sagaType string, status Status)
	StepRetried(sagaType, step string)
}

// Event describes a persisted status transition, emitted after the write.
type Event struct {
	InstanceID string    `json:"instance_id"`
	SagaType   string    `json:"saga_type"`
	Status     Status    `json:"status"`
	StepIndex  int       `json:"step_index"`
	Reason     string    `json:"reason,omitempty"`
	At         time.Time `json:"at"`
}

// OrchestratorConfig wires an Orchestrator. Registry, Store, Executor, and
// Dispatcher are required; the rest default to sane values.
type OrchestratorConfig struct {
	Registry   *Registry
	Store      InstanceStore
	Executor   *StepExecutor
	Dispatcher Dispatcher

	// StepTimeout bounds a single step execution; zero disables the bound.
	// A timed-out step is classified transient and retried.
	StepTimeout time.Duration

	Logf    func(format string, args ...any)
	Metrics Metrics
	Notify  func(Event)
	Now     func() time.Time
	NewID   func() string
}

// Orchestrator drives saga instances through their defined steps, persisting
// every transition before scheduling the next task. It is the only writer of
// instance state; concurrent Advance deliveries serialize through the store's
// version check.
type Orchestrator struct {
	registry    *Registry
	store       InstanceStore
	exec        *StepExecutor
	dispatcher  Dispatcher
	stepTimeout time.Duration
	logf        func(format string, args ...any)
	metrics     Metrics
	notify      func(Event)
	now         func() time.Time
	newID       func() string
}

// NewOrchestrator constructs an Orchestrator from config.
func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	logf := cfg.Logf
	if logf == nil {
		logf = log.Printf
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	newID := cfg.NewID
	if newID == nil {
		newID = func() string { return uuid.NewString() }
	}
	return &Orchestrator{
		registry:    cfg.Registry,
		store:       cfg.Store,
		exec:        cfg.Executor,
		dispatcher:  cfg.Dispatcher,
		stepTimeout: cfg.StepTimeout,
		logf:        logf,
		metrics:     cfg.Metrics,
		notify:      cfg.Notify,
		now:         now,
		newID:       newID,
	}
}

// Start validates the saga type, persists a new instance, and schedules step 0.
// Acceptance is synchronous; execution is asynchronous.
func (o *Orchestrator) Start(ctx context.Context, sagaType string, input Context) (string, error) {
	if _, err := o.registry.Lookup(sagaType); err != nil {
		return "", err
	}

	now := o.now()
	inst := &Instance{
		ID:        o.newID(),
		SagaType:  sagaType,
		Status:    StatusPending,
		Context:   input.Clone(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := o.store.Create(ctx, inst); err != nil {
		return "", fmt.Errorf("create saga instance: %w", err)
	}

	inst.Status = StatusRunning
	inst.UpdatedAt = o.now()
	if err := o.store.Update(ctx, inst); err != nil {
		return "", fmt.Errorf("activate saga instance: %w", err)
	}
	if o.metrics != nil {
		o.metrics.SagaStarted(sagaType)
	}
	o.emit(inst)

	o.schedule(ctx, Task{InstanceID: inst.ID, StepIndex: 0, Kind: TaskForward, Attempt: 1}, o.now())
	return inst.ID, nil
}

// Status returns the latest persisted state of an instance.
func (o *Orchestrator) Status(ctx context.Context, instanceID string) (*Instance, error) {
	return o.store.Load(ctx, instanceID)
}

// Cancel marks an instance for cancellation. A PENDING instance terminates
// immediately; a running one unwinds after its in-flight step settles.
// Terminal instances cannot be cancelled. Losing the version race to a
// concurrent step delivery re-reads the instance and retries, so an accepted
// cancellation is always persisted before Cancel returns.
func (o *Orchestrator) Cancel(ctx context.Context, instanceID string) error {
	for {
		inst, err := o.store.Load(ctx, instanceID)
		if err != nil {
			return err
		}
		if inst.Status.Terminal() {
			return fmt.Errorf("cannot cancel saga %s in status %s", instanceID, inst.Status)
		}

		if inst.Status == StatusPending {
			inst.Status = StatusCompensated
			inst.Reason = "cancelled"
			inst.UpdatedAt = o.now()
			if err := o.store.Update(ctx, inst); err != nil {
				if errors.Is(err, ErrStaleInstance) {
					continue
				}
				return err
			}
			if o.metrics != nil {
				o.metrics.SagaFinished(inst.SagaType, StatusCompensated)
			}
			o.emit(inst)
			return nil
		}

		inst.CancelRequested = true
		inst.UpdatedAt = o.now()
		if err := o.store.Update(ctx, inst); err != nil {
			if errors.Is(err, ErrStaleInstance) {
				continue
			}
			return err
		}
		return nil
	}
}

// Resume re-schedules every non-terminal instance at its persisted step index.
// Safe to call with tasks already in flight: stale deliveries are dropped and
// step execution is idempotent.
func (o *Orchestrator) Resume(ctx context.Context) error {
	active, err := o.store.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("list active sagas: %w", err)
	}
	for _, inst := range active {
		switch inst.Status {
		case StatusPending:
			inst.Status = StatusRunning
			inst.UpdatedAt = o.now()
			if err := o.store.Update(ctx, inst); err != nil {
				if errors.Is(err, ErrStaleInstance) {
					continue
				}
				return err
			}
			o.emit(inst)
			o.schedule(ctx, Task{InstanceID: inst.ID, StepIndex: 0, Kind: TaskForward, Attempt: 1}, o.now())
		case StatusRunning:
			o.schedule(ctx, Task{InstanceID: inst.ID, StepIndex: inst.StepIndex, Kind: TaskForward, Attempt: 1}, o.now())
		case StatusCompensating:
			o.schedule(ctx, Task{InstanceID: inst.ID, StepIndex: inst.StepIndex, Kind: TaskCompensate, Attempt: 1}, o.now())
		}
	}
	return nil
}

// Handle is the dispatcher worker entry point: it executes the step named by
// the task and feeds the outcome to Advance.
func (o *Orchestrator) Handle(ctx context.Context, task Task) {
	inst, err := o.store.Load(ctx, task.InstanceID)
	if err != nil {
		o.logf("saga %s: load for task: %v", task.InstanceID, err)
		return
	}
	if o.stale(inst, task) {
		return
	}

	step, err := o.resolve(inst, task)
	if err != nil {
		o.logf("saga %s: %v", inst.ID, err)
		return
	}

	execCtx := ctx
	if o.stepTimeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, o.stepTimeout)
		defer cancel()
	}

	outcome, err := o.exec.Execute(execCtx, step, task.Kind, inst.ID, inst.Context)
	if err != nil {
		// Infrastructure failure: retry through the normal transient path.
		o.logf("saga %s step %q: executor: %v", inst.ID, step.Name, err)
		outcome = Transient(err.Error())
	}

	if err := o.Advance(ctx, task, outcome); err != nil {
		o.logf("saga %s step %q: advance: %v", inst.ID, step.Name, err)
	}
}

// Advance applies a step outcome to the instance state machine. It is
// idempotent: deliveries for a step the instance has already moved past, or
// for a terminal instance, are dropped. Persistence always happens before the
// next task is scheduled.
func (o *Orchestrator) Advance(ctx context.Context, task Task, outcome Outcome) error {
	inst, err := o.store.Load(ctx, task.InstanceID)
	if err != nil {
		return err
	}
	if o.stale(inst, task) {
		return nil
	}

	step, err := o.resolve(inst, task)
	if err != nil {
		return err
	}

	switch task.Kind {
	case TaskForward:
		return o.advanceForward(ctx, inst, task, step, outcome)
	case TaskCompensate:
		return o.advanceCompensation(ctx, inst, task, step, outcome)
	}
	return fmt.Errorf("unknown task kind %q", task.Kind)
}

func (o *Orchestrator) advanceForward(ctx context.Context, inst *Instance, task Task, step StepDefinition, outcome Outcome) error {
	def, err := o.registry.Lookup(inst.SagaType)
	if err != nil {
		return err
	}

	switch outcome.Status {
	case OutcomeSuccess:
		o.appendAttempt(inst, step.Name, PhaseForward, AttemptSuccess, "")
		for k, v := range outcome.Context {
			if inst.Context == nil {
				inst.Context = Context{}
			}
			inst.Context[k] = v
		}
		if inst.CancelRequested {
			inst.Reason = "cancelled"
			return o.unwind(ctx, inst, inst.StepIndex)
		}
		if inst.StepIndex+1 >= def.Len() {
			return o.finish(ctx, inst, StatusCompleted)
		}
		inst.StepIndex++
		return o.persistAndSchedule(ctx, inst, Task{
			InstanceID: inst.ID,
			StepIndex:  inst.StepIndex,
			Kind:       TaskForward,
			Attempt:    1,
		}, o.now())

	case OutcomeTransient:
		if task.Attempt != transientAttempts(inst, step.Name, PhaseForward)+1 {
			// Duplicate delivery of an already-applied transient outcome.
			return nil
		}
		if task.Attempt <= step.MaxRetries {
			o.appendAttempt(inst, step.Name, PhaseForward, AttemptTransient, outcome.Reason)
			if o.metrics != nil {
				o.metrics.StepRetried(inst.SagaType, step.Name)
			}
			return o.persistAndSchedule(ctx, inst, Task{
				InstanceID: inst.ID,
				StepIndex:  task.StepIndex,
				Kind:       TaskForward,
				Attempt:    task.Attempt + 1,
			}, o.now().Add(step.Backoff.Delay(task.Attempt)))
		}
		outcome = Failure(fmt.Sprintf("retries exhausted: %s", outcome.Reason))
		fallthrough

	case OutcomeFailure:
		o.appendAttempt(inst, step.Name, PhaseForward, AttemptFailed, outcome.Reason)
		inst.Reason = outcome.Reason
		return o.unwind(ctx, inst, inst.StepIndex-1)
	}
	return fmt.Errorf("unknown outcome status %q", outcome.Status)
}

func (o *Orchestrator) advanceCompensation(ctx context.Context, inst *Instance, task Task, step StepDefinition, outcome Outcome) error {
	switch outcome.Status {
	case OutcomeSuccess:
		o.appendAttempt(inst, step.Name, PhaseCompensate, AttemptSuccess, "")
		return o.unwind(ctx, inst, inst.StepIndex-1)

	case OutcomeTransient:
		if task.Attempt != transientAttempts(inst, step.Name, PhaseCompensate)+1 {
			return nil
		}
		if task.Attempt <= step.MaxRetries {
			o.appendAttempt(inst, step.Name, PhaseCompensate, AttemptTransient, outcome.Reason)
			if o.metrics != nil {
				o.metrics.StepRetried(inst.SagaType, step.Name)
			}
			return o.persistAndSchedule(ctx, inst, Task{
				InstanceID: inst.ID,
				StepIndex:  task.StepIndex,
				Kind:       TaskCompensate,
				Attempt:    task.Attempt + 1,
			}, o.now().Add(step.Backoff.Delay(task.Attempt)))
		}
		outcome = Failure(fmt.Sprintf("compensation retries exhausted: %s", outcome.Reason))
		fallthrough

	case OutcomeFailure:
		// Compensations are not compensated: surface for manual intervention.
		o.appendAttempt(inst, step.Name, PhaseCompensate, AttemptFailed, outcome.Reason)
		inst.Reason = fmt.Sprintf("compensation %q failed: %s", step.Name, outcome.Reason)
		return o.finish(ctx, inst, StatusFailed)
	}
	return fmt.Errorf("unknown outcome status %q", outcome.Status)
}

// unwind schedules the compensation of the last successfully completed step at
// or below fromIndex, logging skips for steps without a compensating action.
// With nothing left to undo the instance ends COMPENSATED.
func (o *Orchestrator) unwind(ctx context.Context, inst *Instance, fromIndex int) error {
	def, err := o.registry.Lookup(inst.SagaType)
	if err != nil {
		return err
	}
	for i := fromIndex; i >= 0; i-- {
		step, ok := def.Step(i)
		if !ok {
			return fmt.Errorf("saga %s: no step at index %d", inst.ID, i)
		}
		if step.Compensation == nil {
			o.appendAttempt(inst, step.Name, PhaseCompensate, AttemptSkipped, "no compensating action")
			continue
		}
		inst.Status = StatusCompensating
		inst.StepIndex = i
		return o.persistAndSchedule(ctx, inst, Task{
			InstanceID: inst.ID,
			StepIndex:  i,
			Kind:       TaskCompensate,
			Attempt:    1,
		}, o.now())
	}
	return o.finish(ctx, inst, StatusCompensated)
}

func (o *Orchestrator) finish(ctx context.Context, inst *Instance, status Status) error {
	inst.Status = status
	inst.UpdatedAt = o.now()
	if err := o.store.Update(ctx, inst); err != nil {
		if errors.Is(err, ErrStaleInstance) {
			return nil
		}
		return err
	}
	if o.metrics != nil {
		o.metrics.SagaFinished(inst.SagaType, status)
	}
	o.emit(inst)
	return nil
}

// persistAndSchedule writes the instance, then schedules the task. A crash
// between the two leaves a persisted instance with no outstanding task, which
// the resume sweep repairs. Losing the version check means another worker
// already applied this transition, so the delivery is dropped.
func (o *Orchestrator) persistAndSchedule(ctx context.Context, inst *Instance, task Task, notBefore time.Time) error {
	inst.UpdatedAt = o.now()
	if err := o.store.Update(ctx, inst); err != nil {
		if errors.Is(err, ErrStaleInstance) {
			return nil
		}
		return err
	}
	o.emit(inst)
	o.schedule(ctx, task, notBefore)
	return nil
}

func (o *Orchestrator) schedule(ctx context.Context, task Task, notBefore time.Time) {
	if err := o.dispatcher.Schedule(ctx, task, notBefore); err != nil {
		// The instance is already persisted; the resume sweep re-schedules it.
		o.logf("saga %s: schedule step %d: %v", task.InstanceID, task.StepIndex, err)
	}
}

// stale reports whether a delivery no longer matches the instance's persisted
// position, which covers duplicates, reordering, and terminal instances.
func (o *Orchestrator) stale(inst *Instance, task Task) bool {
	if inst.Status.Terminal() {
		return true
	}
	switch task.Kind {
	case TaskForward:
		return inst.Status != StatusRunning || task.StepIndex != inst.StepIndex
	case TaskCompensate:
		return inst.Status != StatusCompensating || task.StepIndex != inst.StepIndex
	}
	return true
}

func (o *Orchestrator) resolve(inst *Instance, task Task) (StepDefinition, error) {
	def, err := o.registry.Lookup(inst.SagaType)
	if err != nil {
		return StepDefinition{}, err
	}
	step, ok := def.Step(task.StepIndex)
	if !ok {
		return StepDefinition{}, fmt.Errorf("saga %s: no step at index %d", inst.ID, task.StepIndex)
	}
	return step, nil
}

// transientAttempts counts the transient entries recorded for a step in one
// phase. A transient delivery is current only when its attempt number is one
// past that count; anything else is a redelivery the log already reflects.
func transientAttempts(inst *Instance, stepName string, phase Phase) int {
	n := 0
	for _, a := range inst.Attempts {
		if a.Step == stepName && a.Phase == phase && a.Status == AttemptTransient {
			n++
		}
	}
	return n
}

func (o *Orchestrator) appendAttempt(inst *Instance, stepName string, phase Phase, status AttemptStatus, reason string) {
	inst.Attempts = append(inst.Attempts, StepAttempt{
		Step:   stepName,
		Phase:  phase,
		Status: status,
		Reason: reason,
		At:     o.now(),
	})
}

func (o *Orchestrator) emit(inst *Instance) {
	if o.notify == nil {
		return
	}
	o.notify(Event{
		InstanceID: inst.ID,
		SagaType:   inst.SagaType,
		Status:     inst.Status,
		StepIndex:  inst.StepIndex,
		Reason:     inst.Reason,
		At:         inst.UpdatedAt,
	})
}
