package workerpool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool_ExecutesTasks(t *testing.T) {
	p := New(&Config{Name: "test", Workers: 4, Queue: 16})
	defer p.Stop(time.Second)

	var count int32
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(1)
		require.NoError(t, p.Submit(Task{
			ID: "task",
			Run: func(ctx context.Context) error {
				defer wg.Done()
				atomic.AddInt32(&count, 1)
				return nil
			},
		}))
	}
	wg.Wait()

	assert.Equal(t, int32(10), atomic.LoadInt32(&count))
	assert.Eventually(t, func() bool {
		return p.Stats().Completed == 10
	}, time.Second, 10*time.Millisecond)
}

func TestPool_CountsFailures(t *testing.T) {
	p := New(&Config{Name: "test", Workers: 2, Queue: 8})
	defer p.Stop(time.Second)

	var wg sync.WaitGroup
	wg.Add(1)
	require.NoError(t, p.Submit(Task{
		ID: "boom",
		Run: func(ctx context.Context) error {
			defer wg.Done()
			return errors.New("boom")
		},
	}))
	wg.Wait()

	assert.Eventually(t, func() bool {
		return p.Stats().Failed == 1
	}, time.Second, 10*time.Millisecond)
}

func TestPool_RecoversFromPanic(t *testing.T) {
	p := New(&Config{Name: "test", Workers: 1, Queue: 4})
	defer p.Stop(time.Second)

	require.NoError(t, p.Submit(Task{
		ID:  "panicking",
		Run: func(ctx context.Context) error { panic("kaboom") },
	}))

	// The worker must survive and run the next task.
	done := make(chan struct{})
	require.NoError(t, p.Submit(Task{
		ID: "after",
		Run: func(ctx context.Context) error {
			close(done)
			return nil
		},
	}))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not survive panic")
	}

	assert.Eventually(t, func() bool {
		return p.Stats().Failed == 1 && p.Stats().Completed == 1
	}, time.Second, 10*time.Millisecond)
}

func TestPool_SubmitRejectsWhenFull(t *testing.T) {
	p := New(&Config{Name: "test", Workers: 1, Queue: 1})
	defer p.Stop(time.Second)

	release := make(chan struct{})
	blocker := func(ctx context.Context) error {
		<-release
		return nil
	}

	// Occupy the single worker, then fill the queue.
	require.NoError(t, p.Submit(Task{ID: "running", Run: blocker}))
	assert.Eventually(t, func() bool {
		return p.Stats().Active == 1
	}, time.Second, 5*time.Millisecond)
	require.NoError(t, p.Submit(Task{ID: "queued", Run: blocker}))

	err := p.Submit(Task{ID: "overflow", Run: blocker})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "queue is full")
	assert.Equal(t, uint64(1), p.Stats().Rejected)

	close(release)
}

func TestPool_SubmitWithContextCancellation(t *testing.T) {
	p := New(&Config{Name: "test", Workers: 1, Queue: 1})
	defer p.Stop(time.Second)

	release := make(chan struct{})
	defer close(release)
	blocker := func(ctx context.Context) error {
		<-release
		return nil
	}

	require.NoError(t, p.Submit(Task{ID: "running", Run: blocker}))
	assert.Eventually(t, func() bool {
		return p.Stats().Active == 1
	}, time.Second, 5*time.Millisecond)
	require.NoError(t, p.Submit(Task{ID: "queued", Run: blocker}))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := p.SubmitWithContext(ctx, Task{ID: "waiting", Run: blocker})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPool_SubmitAfterStop(t *testing.T) {
	p := New(&Config{Name: "test", Workers: 1, Queue: 1})
	require.NoError(t, p.Stop(time.Second))

	err := p.Submit(Task{ID: "late", Run: func(ctx context.Context) error { return nil }})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stopped")
}
