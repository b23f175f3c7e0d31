package saga

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Action is a step capability: forward business action or compensation. The
// idempotency key identifies this execution so outbound collaborators can
// deduplicate on their side. Execute returns the updated saga context on
// success. Errors wrapping ErrValidation trigger compensation; anything else,
// conflicts included, is retried as transient.
type Action interface {
	Execute(ctx context.Context, c Context, idemKey string) (Context, error)
}

// ActionFunc adapts a plain function to the Action interface.
type ActionFunc func(ctx context.Context, c Context, idemKey string) (Context, error)

func (f ActionFunc) Execute(ctx context.Context, c Context, idemKey string) (Context, error) {
	return f(ctx, c, idemKey)
}

// Backoff controls retry delays for a step, exponential on the attempt number.
type Backoff struct {
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// Delay returns the delay before the given retry attempt (1-based).
func (b Backoff) Delay(attempt int) time.Duration {
	if b.BaseDelay <= 0 || attempt < 1 {
		return 0
	}
	delay := b.BaseDelay << (attempt - 1)
	if b.MaxDelay > 0 && delay > b.MaxDelay {
		delay = b.MaxDelay
	}
	return delay
}

// StepDefinition is one step in a saga definition. Compensation may be nil for
// steps with no side effects to undo; such steps are logged as skipped during
// an unwind, never invoked.
type StepDefinition struct {
	Name         string
	Forward      Action
	Compensation Action
	MaxRetries   int
	Backoff      Backoff
}

// Definition is a static, ordered list of steps identified by a saga type name.
type Definition struct {
	name  string
	steps []StepDefinition
}

// NewDefinition validates and builds a saga definition.
func NewDefinition(name string, steps []StepDefinition) (*Definition, error) {
	if name == "" {
		return nil, fmt.Errorf("saga definition requires a name")
	}
	if len(steps) == 0 {
		return nil, fmt.Errorf("saga %q requires at least one step", name)
	}
	seen := make(map[string]struct{}, len(steps))
	for i, step := range steps {
		if step.Name == "" {
			return nil, fmt.Errorf("saga %q: step %d has no name", name, i)
		}
		if step.Forward == nil {
			return nil, fmt.Errorf("saga %q: step %q has no forward action", name, step.Name)
		}
		if _, ok := seen[step.Name]; ok {
			return nil, fmt.Errorf("saga %q: duplicate step name %q", name, step.Name)
		}
		if step.MaxRetries < 0 {
			return nil, fmt.Errorf("saga %q: step %q has negative retries", name, step.Name)
		}
		seen[step.Name] = struct{}{}
	}
	return &Definition{name: name, steps: append([]StepDefinition(nil), steps...)}, nil
}

// Name returns the saga type name.
func (d *Definition) Name() string { return d.name }

// Len returns the number of steps.
func (d *Definition) Len() int { return len(d.steps) }

// Step returns the step at the given index.
func (d *Definition) Step(index int) (StepDefinition, bool) {
	if index < 0 || index >= len(d.steps) {
		return StepDefinition{}, false
	}
	return d.steps[index], true
}

// Registry maps saga type names to definitions. It is constructed at startup
// and handed to the orchestrator; registration after that point is unusual but
// safe.
type Registry struct {
	mu   sync.RWMutex
	defs map[string]*Definition
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{defs: make(map[string]*Definition)}
}

// Register adds a definition, rejecting duplicates.
func (r *Registry) Register(def *Definition) error {
	if def == nil {
		return fmt.Errorf("nil saga definition")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.defs[def.Name()]; ok {
		return fmt.Errorf("saga %q already registered", def.Name())
	}
	r.defs[def.Name()] = def
	return nil
}

// Lookup resolves a saga type name.
func (r *Registry) Lookup(name string) (*Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSagaType, name)
	}
	return def, nil
}
