package saga

import (
	"context"
	"fmt"
	"sync"
)

// InstanceStore persists saga instances. Update performs a compare-and-swap on
// Instance.Version and bumps it on success; a lost race returns
// ErrStaleInstance and the caller must re-read.
type InstanceStore interface {
	Create(ctx context.Context, inst *Instance) error
	Load(ctx context.Context, id string) (*Instance, error)
	Update(ctx context.Context, inst *Instance) error
	ListActive(ctx context.Context) ([]*Instance, error)
}

// MemoryInstanceStore is a mutex-guarded in-memory InstanceStore used in tests
// and DSN-less deployments.
type MemoryInstanceStore struct {
	mu        sync.Mutex
	instances map[string]*Instance
}

// NewMemoryInstanceStore constructs an empty in-memory store.
func NewMemoryInstanceStore() *MemoryInstanceStore {
	return &MemoryInstanceStore{instances: make(map[string]*Instance)}
}

func (s *MemoryInstanceStore) Create(ctx context.Context, inst *Instance) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.instances[inst.ID]; ok {
		return fmt.Errorf("saga instance %q already exists", inst.ID)
	}
	inst.Version = 1
	s.instances[inst.ID] = inst.Clone()
	return nil
}

func (s *MemoryInstanceStore) Load(ctx context.Context, id string) (*Instance, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.instances[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInstanceNotFound, id)
	}
	return inst.Clone(), nil
}

func (s *MemoryInstanceStore) Update(ctx context.Context, inst *Instance) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.instances[inst.ID]
	if !ok {
		return fmt.Errorf("%w: %q", ErrInstanceNotFound, inst.ID)
	}
	if current.Version != inst.Version {
		return fmt.Errorf("%w: %q", ErrStaleInstance, inst.ID)
	}
	inst.Version++
	s.instances[inst.ID] = inst.Clone()
	return nil
}

func (s *MemoryInstanceStore) ListActive(ctx context.Context) ([]*Instance, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var active []*Instance
	for _, inst := range s.instances {
		if !inst.Status.Terminal() {
			active = append(active, inst.Clone())
		}
	}
	return active, nil
}
