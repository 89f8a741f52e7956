package taskpool

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	apperrors "fundx/internal/errors"
)

func TestPool_CountsOutcomes(t *testing.T) {
	pool := New(2, 8, zerolog.Nop())
	pool.Start()

	var ran atomic.Int32
	tasks := []Task{
		{FundID: "alpha", Action: "ok", Run: func(context.Context) error { ran.Add(1); return nil }},
		{FundID: "alpha", Action: "fail", Run: func(context.Context) error { ran.Add(1); return errors.New("boom") }},
		{FundID: "beta", Action: "panic", Run: func(context.Context) error { ran.Add(1); panic("kaboom") }},
		{FundID: "beta", Action: "ok", Run: func(context.Context) error { ran.Add(1); return nil }},
	}
	for _, task := range tasks {
		if err := pool.Submit(task); err != nil {
			t.Fatalf("Submit(%s) error = %v", task.Action, err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := pool.Wait(ctx); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}

	stats := pool.Stats()
	if ran.Load() != 4 {
		t.Errorf("ran = %d, want 4", ran.Load())
	}
	if stats.Submitted != 4 || stats.Completed != 2 || stats.Failed != 1 || stats.Panicked != 1 {
		t.Errorf("stats = %+v", stats)
	}
	pool.Stop()
}

func TestPool_SubmitAfterStop(t *testing.T) {
	pool := New(1, 1, zerolog.Nop())
	pool.Start()
	pool.Stop()

	err := pool.Submit(Task{FundID: "alpha", Action: "late", Run: func(context.Context) error { return nil }})
	if !errors.Is(err, apperrors.ErrPoolStopped) {
		t.Fatalf("Submit() error = %v, want ErrPoolStopped", err)
	}
	if got := pool.Stats().Rejected; got != 1 {
		t.Errorf("Rejected = %d, want 1", got)
	}
}

func TestPool_StopLetsInflightFinish(t *testing.T) {
	pool := New(1, 4, zerolog.Nop())
	pool.Start()

	started := make(chan struct{})
	var finished atomic.Bool
	err := pool.Submit(Task{FundID: "alpha", Action: "slow", Run: func(ctx context.Context) error {
		close(started)
		time.Sleep(100 * time.Millisecond)
		finished.Store(true)
		return nil
	}})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	<-started
	pool.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := pool.Wait(ctx); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if !finished.Load() {
		t.Error("in-flight task did not finish after Stop")
	}
}

func TestPool_QueueFull(t *testing.T) {
	// Not started, so nothing drains the queue
	pool := New(1, 1, zerolog.Nop())
	noop := Task{FundID: "alpha", Action: "noop", Run: func(context.Context) error { return nil }}

	if err := pool.Submit(noop); err != nil {
		t.Fatalf("first Submit() error = %v", err)
	}
	if err := pool.Submit(noop); err == nil {
		t.Fatal("second Submit() succeeded on a full queue")
	}

	pool.Stop()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := pool.Wait(ctx); err != nil {
		t.Fatalf("Wait() after draining an unstarted pool error = %v", err)
	}
}

func TestPool_WaitHonoursContext(t *testing.T) {
	pool := New(1, 1, zerolog.Nop())
	pool.Start()
	defer pool.Stop()

	release := make(chan struct{})
	defer close(release)
	_ = pool.Submit(Task{FundID: "alpha", Action: "block", Run: func(context.Context) error {
		<-release
		return nil
	}})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := pool.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Wait() error = %v, want deadline exceeded", err)
	}
}
