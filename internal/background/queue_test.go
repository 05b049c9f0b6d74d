package background

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueRunsSubmittedTasks(t *testing.T) {
	q := NewQueue(8, 2)
	defer q.Close()

	var ran atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		ok := q.Submit(Task{
			Name:     "count",
			Priority: PriorityNormal,
			Run: func(ctx context.Context) {
				ran.Add(1)
				wg.Done()
			},
		})
		require.True(t, ok)
	}
	wg.Wait()
	assert.Equal(t, int64(5), ran.Load())
}

func TestQueueFullEvictsLowestPriority(t *testing.T) {
	// Single worker blocked on a gate so pending tasks pile up.
	q := NewQueue(2, 1)
	defer q.Close()

	gate := make(chan struct{})
	var order []string
	var mu sync.Mutex
	record := func(name string) func(ctx context.Context) {
		return func(ctx context.Context) {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
		}
	}

	require.True(t, q.Submit(Task{Name: "blocker", Priority: PriorityHigh, Run: func(ctx context.Context) {
		<-gate
	}}))
	// Wait for the worker to pick up the blocker.
	require.Eventually(t, func() bool { return q.Pending() == 0 }, time.Second, time.Millisecond)

	require.True(t, q.Submit(Task{Name: "low-1", Priority: PriorityLow, Run: record("low-1")}))
	require.True(t, q.Submit(Task{Name: "low-2", Priority: PriorityLow, Run: record("low-2")}))

	// Queue is full; a low submission is rejected outright.
	assert.False(t, q.Submit(Task{Name: "low-3", Priority: PriorityLow, Run: record("low-3")}))

	// A high-priority task evicts the newest low-priority pending task.
	assert.True(t, q.Submit(Task{Name: "high", Priority: PriorityHigh, Run: record("high")}))
	assert.Equal(t, int64(2), q.Dropped())

	close(gate)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 2
	}, time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"high", "low-1"}, order)
}

func TestQueueCloseRejectsNewWork(t *testing.T) {
	q := NewQueue(8, 1)
	q.Close()
	assert.False(t, q.Submit(Task{Name: "late", Run: func(ctx context.Context) {}}))
}

func TestQueueCloseWaitsForInflight(t *testing.T) {
	q := NewQueue(8, 1)
	var done atomic.Bool
	started := make(chan struct{})
	require.True(t, q.Submit(Task{Name: "slow", Run: func(ctx context.Context) {
		close(started)
		time.Sleep(50 * time.Millisecond)
		done.Store(true)
	}}))
	<-started
	q.Close()
	assert.True(t, done.Load())
}
