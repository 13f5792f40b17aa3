package analytics

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"go.uber.org/zap"
)

func TestPoolRunExecutesAllTasks(t *testing.T) {
	pool := NewPool(zap.NewNop(), 4, 0)
	var count int64
	tasks := make([]Task, 20)
	for i := range tasks {
		tasks[i] = func() error {
			atomic.AddInt64(&count, 1)
			return nil
		}
	}
	if err := pool.Run(context.Background(), tasks); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 20 {
		t.Fatalf("expected 20 tasks executed, got %d", count)
	}
}

func TestPoolRunReturnsFirstError(t *testing.T) {
	pool := NewPool(zap.NewNop(), 2, 0)
	boom := errors.New("boom")
	tasks := []Task{
		func() error { return nil },
		func() error { return boom },
	}
	if err := pool.Run(context.Background(), tasks); err == nil {
		t.Fatal("expected an error from the batch")
	}
}
