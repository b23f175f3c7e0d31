package saga

import (
	"context"
	"errors"
	"sync"
	"time"
)

// TaskKind selects forward execution or compensation for a scheduled task.
type TaskKind string

const (
	TaskForward    TaskKind = "FORWARD"
	TaskCompensate TaskKind = "COMPENSATE"
)

// Task describes one unit of asynchronous saga work.
type Task struct {
	InstanceID string   `json:"instance_id"`
	StepIndex  int      `json:"step_index"`
	Kind       TaskKind `json:"kind"`
	Attempt    int      `json:"attempt"`
}

// Dispatcher schedules tasks for asynchronous execution with at-least-once,
// unordered delivery and a caller-specified minimum delay. The orchestrator
// never depends on delivery order for step ordering.
type Dispatcher interface {
	Schedule(ctx context.Context, task Task, notBefore time.Time) error
}

// Handler consumes a delivered task.
type Handler func(ctx context.Context, task Task)

// ErrDispatcherClosed signals a schedule attempt after Close.
var ErrDispatcherClosed = errors.New("dispatcher closed")

// Pool is an in-process Dispatcher: a bounded queue drained by a fixed set of
// workers, with delayed tasks held on timers until due.
type Pool struct {
	handler Handler
	queue   chan Task
	now     func() time.Time

	mu     sync.Mutex
	timers map[*time.Timer]struct{}
	closed bool

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// NewPool constructs a dispatcher pool. The handler runs on worker goroutines;
// it must be safe for concurrent use.
func NewPool(handler Handler, workers, queueDepth int) *Pool {
	if workers < 1 {
		workers = 1
	}
	if queueDepth < 1 {
		queueDepth = 64
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		handler: handler,
		queue:   make(chan Task, queueDepth),
		now:     time.Now,
		timers:  make(map[*time.Timer]struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

// Schedule enqueues a task, delaying delivery until notBefore.
func (p *Pool) Schedule(ctx context.Context, task Task, notBefore time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	delay := notBefore.Sub(p.now())
	if delay <= 0 {
		return p.enqueue(task)
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrDispatcherClosed
	}
	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		p.mu.Lock()
		delete(p.timers, timer)
		p.mu.Unlock()
		_ = p.enqueue(task)
	})
	p.timers[timer] = struct{}{}
	p.mu.Unlock()
	return nil
}

func (p *Pool) enqueue(task Task) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrDispatcherClosed
	}
	p.mu.Unlock()

	select {
	case p.queue <- task:
		return nil
	case <-p.ctx.Done():
		return ErrDispatcherClosed
	}
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		select {
		case task := <-p.queue:
			p.handler(p.ctx, task)
		case <-p.ctx.Done():
			// Drain what is already queued, then stop.
			for {
				select {
				case task := <-p.queue:
					p.handler(context.Background(), task)
				default:
					return
				}
			}
		}
	}
}

// Close stops delivery, cancels pending timers, and waits for in-flight
// handlers. Tasks lost here are recovered by the resume sweep at next start.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	for timer := range p.timers {
		timer.Stop()
		delete(p.timers, timer)
	}
	p.mu.Unlock()

	p.cancel()
	p.wg.Wait()
}
