// Package background runs fire-and-forget write tasks (access bumps,
// episode sweeps) off the request path.
package background

import (
	"container/heap"
	"context"
	"log/slog"
	"sync"
)

// Priority orders pending tasks; higher runs first and survives eviction
// longer when the queue is full.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
)

// Task is one unit of background work.
type Task struct {
	Name     string
	Priority Priority
	Run      func(ctx context.Context)

	seq int // FIFO tiebreak within a priority
}

type taskHeap []*Task

func (h taskHeap) Len() int { return len(h) }
func (h taskHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority > h[j].Priority
	}
	return h[i].seq < h[j].seq
}
func (h taskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *taskHeap) Push(x any)   { *h = append(*h, x.(*Task)) }
func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	*h = old[:n-1]
	return t
}

// Queue is a bounded executor. Submit never blocks: when the queue is
// full, the lowest-priority pending task is dropped to make room.
type Queue struct {
	mu       sync.Mutex
	pending  taskHeap
	capacity int
	nextSeq  int
	wake     chan struct{}
	done     chan struct{}
	closed   bool
	wg       sync.WaitGroup
	dropped  int64
}

// NewQueue creates a queue with the given capacity and starts workers
// goroutines consuming it.
func NewQueue(capacity, workers int) *Queue {
	if capacity <= 0 {
		capacity = 256
	}
	if workers <= 0 {
		workers = 2
	}
	q := &Queue{
		capacity: capacity,
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	for i := 0; i < workers; i++ {
		q.wg.Add(1)
		go q.worker()
	}
	return q
}

// Submit enqueues a task. Returns false if the task was rejected (queue
// closed, or it was itself the lowest priority in a full queue).
func (q *Queue) Submit(t Task) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	if len(q.pending) >= q.capacity {
		victim := q.lowestLocked()
		if victim == nil || !taskOutranks(t, *victim) {
			q.dropped++
			q.mu.Unlock()
			slog.Debug("background queue full, task rejected", "task", t.Name)
			return false
		}
		q.removeLocked(victim)
		q.dropped++
		slog.Debug("background queue full, evicted pending task", "evicted", victim.Name, "for", t.Name)
	}
	t.seq = q.nextSeq
	q.nextSeq++
	heap.Push(&q.pending, &t)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return true
}

// Dropped returns the count of tasks rejected or evicted so far.
func (q *Queue) Dropped() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Pending returns the number of tasks waiting to run.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Close stops accepting tasks, drains the workers, and waits for
// in-flight tasks to finish.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()
	close(q.done)
	q.wg.Wait()
}

func taskOutranks(a, b Task) bool {
	return a.Priority > b.Priority
}

// lowestLocked finds the lowest-priority, newest pending task.
func (q *Queue) lowestLocked() *Task {
	var victim *Task
	for _, t := range q.pending {
		if victim == nil || t.Priority < victim.Priority ||
			(t.Priority == victim.Priority && t.seq > victim.seq) {
			victim = t
		}
	}
	return victim
}

func (q *Queue) removeLocked(target *Task) {
	for i, t := range q.pending {
		if t == target {
			heap.Remove(&q.pending, i)
			return
		}
	}
}

func (q *Queue) worker() {
	defer q.wg.Done()
	ctx := context.Background()
	for {
		q.mu.Lock()
		var t *Task
		if len(q.pending) > 0 {
			t = heap.Pop(&q.pending).(*Task)
		}
		q.mu.Unlock()

		if t != nil {
			t.Run(ctx)
			continue
		}

		select {
		case <-q.wake:
		case <-q.done:
			return
		}
	}
}
