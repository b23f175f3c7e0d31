package saga

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
)

// syncDispatcher runs every scheduled task inline, so a Start call drives the
// saga to its terminal status before returning.
type syncDispatcher struct {
	orch   *Orchestrator
	delays []time.Duration
}

func (d *syncDispatcher) Schedule(ctx context.Context, task Task, notBefore time.Time) error {
	d.delays = append(d.delays, time.Until(notBefore))
	d.orch.Handle(ctx, task)
	return nil
}

// queueDispatcher collects tasks for manual stepping.
type queueDispatcher struct {
	tasks []Task
}

func (d *queueDispatcher) Schedule(ctx context.Context, task Task, notBefore time.Time) error {
	d.tasks = append(d.tasks, task)
	return nil
}

func (d *queueDispatcher) pop() (Task, bool) {
	if len(d.tasks) == 0 {
		return Task{}, false
	}
	task := d.tasks[0]
	d.tasks = d.tasks[1:]
	return task, true
}

type spyMetrics struct {
	mu       sync.Mutex
	started  int
	finished map[Status]int
	retries  int
}

func newSpyMetrics() *spyMetrics {
	return &spyMetrics{finished: make(map[Status]int)}
}

func (m *spyMetrics) SagaStarted(sagaType string) {
	m.mu.Lock()
	m.started++
	m.mu.Unlock()
}

func (m *spyMetrics) SagaFinished(sagaType string, status Status) {
	m.mu.Lock()
	m.finished[status]++
	m.mu.Unlock()
}

func (m *spyMetrics) StepRetried(sagaType, step string) {
	m.mu.Lock()
	m.retries++
	m.mu.Unlock()
}

type fixture struct {
	store   *MemoryInstanceStore
	orch    *Orchestrator
	sync    *syncDispatcher
	queue   *queueDispatcher
	metrics *spyMetrics
	events  []Event
}

func newFixture(t *testing.T, steps []StepDefinition, manual bool) *fixture {
	t.Helper()

	def, err := NewDefinition("test-saga", steps)
	if err != nil {
		t.Fatalf("definition: %v", err)
	}
	reg := NewRegistry()
	if err := reg.Register(def); err != nil {
		t.Fatalf("register: %v", err)
	}

	f := &fixture{
		store:   NewMemoryInstanceStore(),
		metrics: newSpyMetrics(),
	}

	var dispatcher Dispatcher
	if manual {
		f.queue = &queueDispatcher{}
		dispatcher = f.queue
	} else {
		f.sync = &syncDispatcher{}
		dispatcher = f.sync
	}

	f.orch = NewOrchestrator(OrchestratorConfig{
		Registry:   reg,
		Store:      f.store,
		Executor:   NewStepExecutor(NewMemoryIdempotencyStore()),
		Dispatcher: dispatcher,
		Logf:       t.Logf,
		Metrics:    f.metrics,
		Notify:     func(e Event) { f.events = append(f.events, e) },
	})
	if f.sync != nil {
		f.sync.orch = f.orch
	}
	return f
}

func (f *fixture) mustLoad(t *testing.T, id string) *Instance {
	t.Helper()
	inst, err := f.store.Load(context.Background(), id)
	if err != nil {
		t.Fatalf("load %s: %v", id, err)
	}
	return inst
}

// drain runs queued tasks until none remain.
func (f *fixture) drain(t *testing.T) {
	t.Helper()
	for {
		task, ok := f.queue.pop()
		if !ok {
			return
		}
		f.orch.Handle(context.Background(), task)
	}
}

func logStep(name string, log *[]string) StepDefinition {
	return StepDefinition{
		Name: name,
		Forward: ActionFunc(func(ctx context.Context, c Context, idemKey string) (Context, error) {
			*log = append(*log, name)
			return c, nil
		}),
		Compensation: ActionFunc(func(ctx context.Context, c Context, idemKey string) (Context, error) {
			*log = append(*log, "undo-"+name)
			return c, nil
		}),
	}
}

func TestOrchestrator_HappyPath(t *testing.T) {
	var log []string
	f := newFixture(t, []StepDefinition{
		logStep("charge", &log),
		logStep("reserve", &log),
		logStep("notify", &log),
	}, false)

	id, err := f.orch.Start(context.Background(), "test-saga", Context{"order_id": "o-1"})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	inst := f.mustLoad(t, id)
	if inst.Status != StatusCompleted {
		t.Fatalf("expected COMPLETED, got %s (reason %q)", inst.Status, inst.Reason)
	}
	want := []string{"charge", "reserve", "notify"}
	if fmt.Sprint(log) != fmt.Sprint(want) {
		t.Fatalf("step order %v, want %v", log, want)
	}
	if len(inst.Attempts) != 3 {
		t.Fatalf("expected 3 attempts, got %+v", inst.Attempts)
	}
	for _, a := range inst.Attempts {
		if a.Phase != PhaseForward || a.Status != AttemptSuccess {
			t.Fatalf("unexpected attempt %+v", a)
		}
	}
	if f.metrics.started != 1 || f.metrics.finished[StatusCompleted] != 1 {
		t.Fatalf("metrics: %+v", f.metrics)
	}
	last := f.events[len(f.events)-1]
	if last.Status != StatusCompleted {
		t.Fatalf("last event %+v", last)
	}
}

func TestOrchestrator_ContextFlowsBetweenSteps(t *testing.T) {
	f := newFixture(t, []StepDefinition{
		{
			Name: "charge",
			Forward: ActionFunc(func(ctx context.Context, c Context, idemKey string) (Context, error) {
				c["payment_id"] = "pay-7"
				return c, nil
			}),
		},
		{
			Name: "notify",
			Forward: ActionFunc(func(ctx context.Context, c Context, idemKey string) (Context, error) {
				if c["payment_id"] != "pay-7" {
					return nil, fmt.Errorf("%w: payment_id missing", ErrValidation)
				}
				return c, nil
			}),
		},
	}, false)

	id, err := f.orch.Start(context.Background(), "test-saga", Context{})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	inst := f.mustLoad(t, id)
	if inst.Status != StatusCompleted {
		t.Fatalf("expected COMPLETED, got %s (reason %q)", inst.Status, inst.Reason)
	}
	if inst.Context["payment_id"] != "pay-7" {
		t.Fatalf("context not merged: %+v", inst.Context)
	}
}

func TestOrchestrator_FailureCompensatesInReverse(t *testing.T) {
	var log []string
	steps := []StepDefinition{
		logStep("charge", &log),
		logStep("reserve", &log),
		{
			Name: "notify",
			Forward: ActionFunc(func(ctx context.Context, c Context, idemKey string) (Context, error) {
				return nil, fmt.Errorf("%w: bad address", ErrValidation)
			}),
		},
	}
	f := newFixture(t, steps, false)

	id, err := f.orch.Start(context.Background(), "test-saga", Context{})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	inst := f.mustLoad(t, id)
	if inst.Status != StatusCompensated {
		t.Fatalf("expected COMPENSATED, got %s", inst.Status)
	}
	want := []string{"charge", "reserve", "undo-reserve", "undo-charge"}
	if fmt.Sprint(log) != fmt.Sprint(want) {
		t.Fatalf("execution order %v, want %v", log, want)
	}
	if inst.Reason == "" {
		t.Fatalf("expected a failure reason")
	}
	if f.metrics.finished[StatusCompensated] != 1 {
		t.Fatalf("metrics: %+v", f.metrics.finished)
	}
}

func TestOrchestrator_SkipsNilCompensation(t *testing.T) {
	var log []string
	steps := []StepDefinition{
		logStep("charge", &log),
		{
			// No compensation to run for this one.
			Name: "audit",
			Forward: ActionFunc(func(ctx context.Context, c Context, idemKey string) (Context, error) {
				log = append(log, "audit")
				return c, nil
			}),
		},
		{
			Name: "notify",
			Forward: ActionFunc(func(ctx context.Context, c Context, idemKey string) (Context, error) {
				return nil, fmt.Errorf("%w: rejected", ErrValidation)
			}),
		},
	}
	f := newFixture(t, steps, false)

	id, err := f.orch.Start(context.Background(), "test-saga", Context{})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	inst := f.mustLoad(t, id)
	if inst.Status != StatusCompensated {
		t.Fatalf("expected COMPENSATED, got %s", inst.Status)
	}
	want := []string{"charge", "audit", "undo-charge"}
	if fmt.Sprint(log) != fmt.Sprint(want) {
		t.Fatalf("execution order %v, want %v", log, want)
	}

	var skipped bool
	for _, a := range inst.Attempts {
		if a.Step == "audit" && a.Phase == PhaseCompensate && a.Status == AttemptSkipped {
			skipped = true
		}
	}
	if !skipped {
		t.Fatalf("expected a skipped compensation entry for audit: %+v", inst.Attempts)
	}
}

func TestOrchestrator_CompensationFailureEndsFailed(t *testing.T) {
	var log []string
	steps := []StepDefinition{
		{
			Name: "charge",
			Forward: ActionFunc(func(ctx context.Context, c Context, idemKey string) (Context, error) {
				log = append(log, "charge")
				return c, nil
			}),
			Compensation: ActionFunc(func(ctx context.Context, c Context, idemKey string) (Context, error) {
				return nil, fmt.Errorf("%w: refund window closed", ErrValidation)
			}),
		},
		{
			Name: "reserve",
			Forward: ActionFunc(func(ctx context.Context, c Context, idemKey string) (Context, error) {
				return nil, fmt.Errorf("%w: no stock", ErrValidation)
			}),
		},
	}
	f := newFixture(t, steps, false)

	id, err := f.orch.Start(context.Background(), "test-saga", Context{})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	inst := f.mustLoad(t, id)
	if inst.Status != StatusFailed {
		t.Fatalf("expected FAILED, got %s", inst.Status)
	}
	if inst.Reason == "" || !strings.Contains(inst.Reason, "charge") {
		t.Fatalf("reason should name the failed compensation: %q", inst.Reason)
	}
	if f.metrics.finished[StatusFailed] != 1 {
		t.Fatalf("metrics: %+v", f.metrics.finished)
	}
}

func TestOrchestrator_TransientRetriesThenSucceeds(t *testing.T) {
	var calls int
	steps := []StepDefinition{
		{
			Name: "charge",
			Forward: ActionFunc(func(ctx context.Context, c Context, idemKey string) (Context, error) {
				calls++
				if calls < 3 {
					return nil, errors.New("connection refused")
				}
				return c, nil
			}),
			MaxRetries: 3,
			Backoff:    Backoff{BaseDelay: 10 * time.Millisecond, MaxDelay: time.Second},
		},
	}
	f := newFixture(t, steps, false)

	id, err := f.orch.Start(context.Background(), "test-saga", Context{})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	inst := f.mustLoad(t, id)
	if inst.Status != StatusCompleted {
		t.Fatalf("expected COMPLETED after retries, got %s (reason %q)", inst.Status, inst.Reason)
	}
	if calls != 3 {
		t.Fatalf("action ran %d times, want 3", calls)
	}
	if f.metrics.retries != 2 {
		t.Fatalf("expected 2 retry counts, got %d", f.metrics.retries)
	}

	var transient int
	for _, a := range inst.Attempts {
		if a.Status == AttemptTransient {
			transient++
		}
	}
	if transient != 2 {
		t.Fatalf("expected 2 transient attempts in the log, got %+v", inst.Attempts)
	}
}

func TestOrchestrator_RetryExhaustionCompensates(t *testing.T) {
	var undone bool
	steps := []StepDefinition{
		{
			Name: "charge",
			Forward: ActionFunc(func(ctx context.Context, c Context, idemKey string) (Context, error) {
				return c, nil
			}),
			Compensation: ActionFunc(func(ctx context.Context, c Context, idemKey string) (Context, error) {
				undone = true
				return c, nil
			}),
		},
		{
			Name: "reserve",
			Forward: ActionFunc(func(ctx context.Context, c Context, idemKey string) (Context, error) {
				return nil, errors.New("timeout")
			}),
			MaxRetries: 1,
		},
	}
	f := newFixture(t, steps, false)

	id, err := f.orch.Start(context.Background(), "test-saga", Context{})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	inst := f.mustLoad(t, id)
	if inst.Status != StatusCompensated {
		t.Fatalf("expected COMPENSATED, got %s", inst.Status)
	}
	if !strings.Contains(inst.Reason, "retries exhausted") {
		t.Fatalf("reason %q should mention exhausted retries", inst.Reason)
	}
	if !undone {
		t.Fatalf("completed step was not compensated")
	}
}

func TestOrchestrator_StaleDeliveryDropped(t *testing.T) {
	var calls int
	steps := []StepDefinition{
		{
			Name: "charge",
			Forward: ActionFunc(func(ctx context.Context, c Context, idemKey string) (Context, error) {
				calls++
				return c, nil
			}),
		},
	}
	f := newFixture(t, steps, false)

	id, err := f.orch.Start(context.Background(), "test-saga", Context{})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if inst := f.mustLoad(t, id); inst.Status != StatusCompleted {
		t.Fatalf("expected COMPLETED, got %s", inst.Status)
	}

	// A duplicate delivery for an already-finished instance is a no-op.
	f.orch.Handle(context.Background(), Task{InstanceID: id, StepIndex: 0, Kind: TaskForward, Attempt: 1})
	if calls != 1 {
		t.Fatalf("duplicate delivery re-ran the action: %d calls", calls)
	}
	if inst := f.mustLoad(t, id); inst.Status != StatusCompleted {
		t.Fatalf("duplicate delivery changed status to %s", inst.Status)
	}
}

func TestOrchestrator_CancelPending(t *testing.T) {
	f := newFixture(t, []StepDefinition{{Name: "charge", Forward: noopAction()}}, true)

	inst := &Instance{
		ID:       "inst-1",
		SagaType: "test-saga",
		Status:   StatusPending,
		Context:  Context{},
	}
	if err := f.store.Create(context.Background(), inst); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := f.orch.Cancel(context.Background(), "inst-1"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	got := f.mustLoad(t, "inst-1")
	if got.Status != StatusCompensated {
		t.Fatalf("expected COMPENSATED, got %s", got.Status)
	}
	if got.Reason != "cancelled" {
		t.Fatalf("reason %q", got.Reason)
	}
}

func TestOrchestrator_CancelRunningUnwindsAfterStep(t *testing.T) {
	var log []string
	f := newFixture(t, []StepDefinition{
		logStep("charge", &log),
		logStep("reserve", &log),
	}, true)

	id, err := f.orch.Start(context.Background(), "test-saga", Context{})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	// Cancellation lands while step 0 is still queued.
	if err := f.orch.Cancel(context.Background(), id); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	f.drain(t)

	inst := f.mustLoad(t, id)
	if inst.Status != StatusCompensated {
		t.Fatalf("expected COMPENSATED, got %s", inst.Status)
	}
	want := []string{"charge", "undo-charge"}
	if fmt.Sprint(log) != fmt.Sprint(want) {
		t.Fatalf("execution order %v, want %v", log, want)
	}
}

// racingStore bumps the stored version after a Load while races remain, so the
// caller's next Update loses the version check.
type racingStore struct {
	*MemoryInstanceStore
	races int
}

func (s *racingStore) Load(ctx context.Context, id string) (*Instance, error) {
	inst, err := s.MemoryInstanceStore.Load(ctx, id)
	if err != nil || s.races == 0 {
		return inst, err
	}
	s.races--
	writer, err := s.MemoryInstanceStore.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.MemoryInstanceStore.Update(ctx, writer); err != nil {
		return nil, err
	}
	return inst, err
}

func TestOrchestrator_CancelSurvivesVersionRace(t *testing.T) {
	def, err := NewDefinition("test-saga", []StepDefinition{{Name: "charge", Forward: noopAction()}})
	if err != nil {
		t.Fatalf("definition: %v", err)
	}
	reg := NewRegistry()
	if err := reg.Register(def); err != nil {
		t.Fatalf("register: %v", err)
	}
	store := &racingStore{MemoryInstanceStore: NewMemoryInstanceStore(), races: 2}
	orch := NewOrchestrator(OrchestratorConfig{
		Registry:   reg,
		Store:      store,
		Executor:   NewStepExecutor(NewMemoryIdempotencyStore()),
		Dispatcher: &queueDispatcher{},
		Logf:       t.Logf,
	})

	ctx := context.Background()
	running := &Instance{ID: "run-1", SagaType: "test-saga", Status: StatusRunning, Context: Context{}}
	if err := store.MemoryInstanceStore.Create(ctx, running); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := orch.Cancel(ctx, "run-1"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	got, err := store.MemoryInstanceStore.Load(ctx, "run-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !got.CancelRequested {
		t.Fatalf("cancel flag not persisted after version race")
	}

	// Same race while the instance is still PENDING.
	store.races = 1
	pending := &Instance{ID: "pend-1", SagaType: "test-saga", Status: StatusPending, Context: Context{}}
	if err := store.MemoryInstanceStore.Create(ctx, pending); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := orch.Cancel(ctx, "pend-1"); err != nil {
		t.Fatalf("cancel pending: %v", err)
	}
	got, err = store.MemoryInstanceStore.Load(ctx, "pend-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Status != StatusCompensated || got.Reason != "cancelled" {
		t.Fatalf("pending cancel not persisted after version race: %+v", got)
	}
}

func TestOrchestrator_DuplicateTransientDeliveryDropped(t *testing.T) {
	f := newFixture(t, []StepDefinition{{
		Name:       "charge",
		Forward:    noopAction(),
		MaxRetries: 3,
	}}, true)

	ctx := context.Background()
	id, err := f.orch.Start(ctx, "test-saga", Context{})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	task, ok := f.queue.pop()
	if !ok {
		t.Fatalf("no task scheduled for step 0")
	}

	// The same transient outcome is delivered twice; only the first applies.
	if err := f.orch.Advance(ctx, task, Transient("connection refused")); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if err := f.orch.Advance(ctx, task, Transient("connection refused")); err != nil {
		t.Fatalf("duplicate advance: %v", err)
	}

	inst := f.mustLoad(t, id)
	var transient int
	for _, a := range inst.Attempts {
		if a.Status == AttemptTransient {
			transient++
		}
	}
	if transient != 1 {
		t.Fatalf("expected 1 transient attempt, got %+v", inst.Attempts)
	}
	if f.metrics.retries != 1 {
		t.Fatalf("expected 1 retry count, got %d", f.metrics.retries)
	}
	if len(f.queue.tasks) != 1 {
		t.Fatalf("expected 1 scheduled retry, got %d", len(f.queue.tasks))
	}
	if retry := f.queue.tasks[0]; retry.Attempt != 2 {
		t.Fatalf("retry attempt %d, want 2", retry.Attempt)
	}
}

func TestOrchestrator_DuplicateTransientCompensationDropped(t *testing.T) {
	f := newFixture(t, []StepDefinition{
		{
			Name:         "charge",
			Forward:      noopAction(),
			Compensation: noopAction(),
			MaxRetries:   2,
		},
		{Name: "reserve", Forward: noopAction()},
	}, true)

	ctx := context.Background()
	id, err := f.orch.Start(ctx, "test-saga", Context{})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	step0, _ := f.queue.pop()
	if err := f.orch.Advance(ctx, step0, Success(nil)); err != nil {
		t.Fatalf("advance step 0: %v", err)
	}
	step1, _ := f.queue.pop()
	if err := f.orch.Advance(ctx, step1, Failure("no stock")); err != nil {
		t.Fatalf("advance step 1: %v", err)
	}

	comp, ok := f.queue.pop()
	if !ok || comp.Kind != TaskCompensate {
		t.Fatalf("expected a compensation task, got %+v", comp)
	}
	if err := f.orch.Advance(ctx, comp, Transient("timeout")); err != nil {
		t.Fatalf("advance compensation: %v", err)
	}
	if err := f.orch.Advance(ctx, comp, Transient("timeout")); err != nil {
		t.Fatalf("duplicate compensation advance: %v", err)
	}

	inst := f.mustLoad(t, id)
	var transient int
	for _, a := range inst.Attempts {
		if a.Phase == PhaseCompensate && a.Status == AttemptTransient {
			transient++
		}
	}
	if transient != 1 {
		t.Fatalf("expected 1 transient compensation attempt, got %+v", inst.Attempts)
	}
	if len(f.queue.tasks) != 1 {
		t.Fatalf("expected 1 scheduled compensation retry, got %d", len(f.queue.tasks))
	}
	if retry := f.queue.tasks[0]; retry.Kind != TaskCompensate || retry.Attempt != 2 {
		t.Fatalf("unexpected retry task %+v", retry)
	}
}

func TestOrchestrator_CancelTerminal(t *testing.T) {
	f := newFixture(t, []StepDefinition{{Name: "charge", Forward: noopAction()}}, false)

	id, err := f.orch.Start(context.Background(), "test-saga", Context{})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := f.orch.Cancel(context.Background(), id); err == nil {
		t.Fatalf("expected error cancelling a terminal instance")
	}
}

func TestOrchestrator_ResumeReschedulesActive(t *testing.T) {
	var log []string
	f := newFixture(t, []StepDefinition{
		logStep("charge", &log),
		logStep("reserve", &log),
	}, true)

	ctx := context.Background()
	running := &Instance{ID: "run-1", SagaType: "test-saga", Status: StatusRunning, StepIndex: 1, Context: Context{}}
	pending := &Instance{ID: "pend-1", SagaType: "test-saga", Status: StatusPending, Context: Context{}}
	compensating := &Instance{ID: "comp-1", SagaType: "test-saga", Status: StatusCompensating, StepIndex: 0, Context: Context{}}
	done := &Instance{ID: "done-1", SagaType: "test-saga", Status: StatusCompleted, Context: Context{}}
	for _, inst := range []*Instance{running, pending, compensating, done} {
		if err := f.store.Create(ctx, inst); err != nil {
			t.Fatalf("create %s: %v", inst.ID, err)
		}
	}

	if err := f.orch.Resume(ctx); err != nil {
		t.Fatalf("resume: %v", err)
	}
	f.drain(t)

	if inst := f.mustLoad(t, "run-1"); inst.Status != StatusCompleted {
		t.Fatalf("running instance should finish, got %s", inst.Status)
	}
	if inst := f.mustLoad(t, "pend-1"); inst.Status != StatusCompleted {
		t.Fatalf("pending instance should run, got %s", inst.Status)
	}
	if inst := f.mustLoad(t, "comp-1"); inst.Status != StatusCompensated {
		t.Fatalf("compensating instance should unwind, got %s", inst.Status)
	}
	if inst := f.mustLoad(t, "done-1"); inst.Status != StatusCompleted {
		t.Fatalf("terminal instance must not move, got %s", inst.Status)
	}
}

func TestOrchestrator_StartUnknownType(t *testing.T) {
	f := newFixture(t, []StepDefinition{{Name: "charge", Forward: noopAction()}}, false)
	if _, err := f.orch.Start(context.Background(), "nope", Context{}); !errors.Is(err, ErrUnknownSagaType) {
		t.Fatalf("expected ErrUnknownSagaType, got %v", err)
	}
}

func TestOrchestrator_StatusUnknownInstance(t *testing.T) {
	f := newFixture(t, []StepDefinition{{Name: "charge", Forward: noopAction()}}, false)
	if _, err := f.orch.Status(context.Background(), "ghost"); !errors.Is(err, ErrInstanceNotFound) {
		t.Fatalf("expected ErrInstanceNotFound, got %v", err)
	}
}

