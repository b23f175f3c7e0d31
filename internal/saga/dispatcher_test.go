package saga

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestPool_DeliversImmediately(t *testing.T) {
	var mu sync.Mutex
	var got []Task
	done := make(chan struct{}, 1)

	pool := NewPool(func(ctx context.Context, task Task) {
		mu.Lock()
		got = append(got, task)
		mu.Unlock()
		done <- struct{}{}
	}, 2, 8)
	defer pool.Close()

	task := Task{InstanceID: "inst-1", StepIndex: 0, Kind: TaskForward, Attempt: 1}
	if err := pool.Schedule(context.Background(), task, time.Now()); err != nil {
		t.Fatalf("schedule: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("task was not delivered")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || got[0] != task {
		t.Fatalf("unexpected deliveries: %+v", got)
	}
}

func TestPool_HonorsNotBefore(t *testing.T) {
	delivered := make(chan time.Time, 1)
	pool := NewPool(func(ctx context.Context, task Task) {
		delivered <- time.Now()
	}, 1, 8)
	defer pool.Close()

	delay := 50 * time.Millisecond
	start := time.Now()
	task := Task{InstanceID: "inst-1", Kind: TaskForward, Attempt: 2}
	if err := pool.Schedule(context.Background(), task, start.Add(delay)); err != nil {
		t.Fatalf("schedule: %v", err)
	}

	select {
	case at := <-delivered:
		if at.Sub(start) < delay {
			t.Fatalf("delivered after %v, want at least %v", at.Sub(start), delay)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("delayed task was not delivered")
	}
}

func TestPool_ScheduleAfterClose(t *testing.T) {
	pool := NewPool(func(ctx context.Context, task Task) {}, 1, 8)
	pool.Close()

	err := pool.Schedule(context.Background(), Task{InstanceID: "inst-1"}, time.Now())
	if err != ErrDispatcherClosed {
		t.Fatalf("expected ErrDispatcherClosed, got %v", err)
	}
}

func TestPool_CloseWaitsForInFlight(t *testing.T) {
	started := make(chan struct{})
	finished := make(chan struct{})
	pool := NewPool(func(ctx context.Context, task Task) {
		close(started)
		time.Sleep(20 * time.Millisecond)
		close(finished)
	}, 1, 8)

	if err := pool.Schedule(context.Background(), Task{InstanceID: "inst-1"}, time.Now()); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	<-started
	pool.Close()

	select {
	case <-finished:
	default:
		t.Fatalf("Close returned before the in-flight handler finished")
	}
}

func TestPool_CloseCancelsTimers(t *testing.T) {
	delivered := make(chan struct{}, 1)
	pool := NewPool(func(ctx context.Context, task Task) {
		delivered <- struct{}{}
	}, 1, 8)

	if err := pool.Schedule(context.Background(), Task{InstanceID: "inst-1"}, time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	pool.Close()

	select {
	case <-delivered:
		t.Fatalf("timer fired after Close")
	case <-time.After(50 * time.Millisecond):
	}
}
