package taskq

import (
	"container/heap"
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/sigflow/sigflow/pkg/logger"
)

// pendingEntry is an immediate task stamped with its posting ordinal.
type pendingEntry struct {
	order    uint64
	task     Task
	postedAt time.Time
}

// delayedEntry is a delayed task ordered by (fireAt, order).
type delayedEntry struct {
	fireAt   time.Time
	order    uint64
	task     Task
	postedAt time.Time
}

// delayedHeap is a min-heap over delayedEntry.
type delayedHeap []*delayedEntry

func (h delayedHeap) Len() int { return len(h) }

func (h delayedHeap) Less(i, j int) bool {
	if h[i].fireAt.Equal(h[j].fireAt) {
		return h[i].order < h[j].order
	}
	return h[i].fireAt.Before(h[j].fireAt)
}

func (h delayedHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *delayedHeap) Push(x any) { *h = append(*h, x.(*delayedEntry)) }

func (h *delayedHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// Option configures a TaskQueue.
type Option func(*TaskQueue)

// WithRateLimit paces task execution to at most perSecond tasks per second.
// FIFO and delay ordering are unaffected; only the execution pace changes.
func WithRateLimit(perSecond float64) Option {
	return func(q *TaskQueue) {
		if perSecond > 0 {
			q.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
		}
	}
}

// TaskQueue is a single-consumer serial executor backed by one worker
// goroutine. Immediate tasks run in posting order; a delayed task never
// overtakes an immediate task posted before it.
type TaskQueue struct {
	name    string
	limiter *rate.Limiter

	// mu guards pending, delayed, order and quit.
	mu      sync.Mutex
	pending []pendingEntry
	delayed delayedHeap
	order   uint64
	quit    bool

	wake chan struct{}
	done chan struct{}

	executed atomic.Int64
	panics   atomic.Int64
}

// New creates a TaskQueue and starts its worker goroutine.
func New(name string, opts ...Option) (*TaskQueue, error) {
	if name == "" {
		return nil, fmt.Errorf("task queue name cannot be empty")
	}

	q := &TaskQueue{
		name: name,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}

	go q.process()
	return q, nil
}

// Name returns the queue's label.
func (q *TaskQueue) Name() string {
	return q.name
}

// Done returns a channel closed when the worker goroutine has exited.
func (q *TaskQueue) Done() <-chan struct{} {
	return q.done
}

// Post enqueues an immediate task and wakes the worker.
func (q *TaskQueue) Post(task Task) error {
	if task == nil {
		return fmt.Errorf("task cannot be nil")
	}

	q.mu.Lock()
	if q.quit {
		q.mu.Unlock()
		return &QueueClosedError{QueueName: q.name}
	}
	q.order++
	q.pending = append(q.pending, pendingEntry{
		order:    q.order,
		task:     task,
		postedAt: time.Now(),
	})
	q.mu.Unlock()

	metricsRecorder().IncQueueDepth(q.name)
	q.notify()
	return nil
}

// PostFunc enqueues a plain function as an immediate task.
func (q *TaskQueue) PostFunc(fn func(ctx context.Context)) error {
	return q.Post(TaskFunc(fn))
}

// PostDelayed enqueues a task to execute no earlier than now + delay.
// Firing times follow the monotonic clock; wall-clock adjustments do not
// affect them.
func (q *TaskQueue) PostDelayed(task Task, delay time.Duration) error {
	if task == nil {
		return fmt.Errorf("task cannot be nil")
	}

	now := time.Now()
	q.mu.Lock()
	if q.quit {
		q.mu.Unlock()
		return &QueueClosedError{QueueName: q.name}
	}
	q.order++
	heap.Push(&q.delayed, &delayedEntry{
		fireAt:   now.Add(delay),
		order:    q.order,
		task:     task,
		postedAt: now,
	})
	q.mu.Unlock()

	metricsRecorder().IncQueueDepth(q.name)
	q.notify()
	return nil
}

// PostDelayedFunc enqueues a plain function as a delayed task.
func (q *TaskQueue) PostDelayedFunc(fn func(ctx context.Context), delay time.Duration) error {
	return q.PostDelayed(TaskFunc(fn), delay)
}

// Stats holds a snapshot of queue counters.
type Stats struct {
	// Name is the queue name.
	Name string `json:"name"`

	// Pending is the number of immediate tasks waiting to run.
	Pending int `json:"pending"`

	// Delayed is the number of delayed tasks that have not started, whether
	// or not their fire time has passed.
	Delayed int `json:"delayed"`

	// Executed is the total number of tasks run.
	Executed int64 `json:"executed"`

	// Panics is the total number of recovered task panics.
	Panics int64 `json:"panics"`

	// Closed reports whether the queue has shut down.
	Closed bool `json:"closed"`
}

// Stats returns current queue statistics.
func (q *TaskQueue) Stats() Stats {
	q.mu.Lock()
	pending := len(q.pending)
	delayed := len(q.delayed)
	closed := q.quit
	q.mu.Unlock()

	return Stats{
		Name:     q.name,
		Pending:  pending,
		Delayed:  delayed,
		Executed: q.executed.Load(),
		Panics:   q.panics.Load(),
		Closed:   closed,
	}
}

// Close shuts the queue down and joins the worker. Pending and delayed tasks
// that have not started are dropped. Close must not be called from the
// queue's own worker; when ctx carries the worker's identity the call fails
// with CloseFromWorkerError instead of deadlocking.
func (q *TaskQueue) Close(ctx context.Context) error {
	if q.IsCurrent(ctx) {
		return &CloseFromWorkerError{QueueName: q.name}
	}

	q.mu.Lock()
	if !q.quit {
		q.quit = true
		dropped := len(q.pending) + len(q.delayed)
		q.pending = nil
		q.delayed = nil
		if dropped > 0 {
			logger.Debug("dropping queued tasks on close", "queue", q.name, "count", dropped)
		}
	}
	q.mu.Unlock()

	q.notify()

	select {
	case <-q.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// notify signals the wake condition without blocking the poster.
func (q *TaskQueue) notify() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// nextAction is the worker's atomically computed next step: exit, run a task,
// or sleep until the earliest delayed fire time (sleep == 0 means idle).
type nextAction struct {
	final    bool
	task     Task
	postedAt time.Time
	sleep    time.Duration
}

func (q *TaskQueue) nextTask() nextAction {
	now := time.Now()

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.quit {
		return nextAction{final: true}
	}

	var res nextAction
	if len(q.delayed) > 0 {
		head := q.delayed[0]
		if !head.fireAt.After(now) {
			// Ready delayed task. An immediate task posted before it still
			// wins; this keeps delayed tasks from overtaking earlier posts.
			if len(q.pending) > 0 && q.pending[0].order < head.order {
				return q.popPendingLocked()
			}
			heap.Pop(&q.delayed)
			return nextAction{task: head.task, postedAt: head.postedAt}
		}
		res.sleep = head.fireAt.Sub(now)
	}

	if len(q.pending) > 0 {
		return q.popPendingLocked()
	}

	return res
}

func (q *TaskQueue) popPendingLocked() nextAction {
	e := q.pending[0]
	q.pending[0] = pendingEntry{}
	q.pending = q.pending[1:]
	return nextAction{task: e.task, postedAt: e.postedAt}
}

// process is the worker loop. Spurious wakeups are tolerated: the loop simply
// recomputes its next action.
func (q *TaskQueue) process() {
	defer close(q.done)

	ctx := withCurrent(context.Background(), q)

	for {
		next := q.nextTask()

		if next.final {
			return
		}

		if next.task != nil {
			q.runTask(ctx, next.task, next.postedAt)
			continue
		}

		if next.sleep > 0 {
			timer := time.NewTimer(next.sleep)
			select {
			case <-q.wake:
			case <-timer.C:
			}
			timer.Stop()
			continue
		}

		<-q.wake
	}
}

// runTask executes one task with panic containment and metrics.
func (q *TaskQueue) runTask(ctx context.Context, task Task, postedAt time.Time) {
	rec := metricsRecorder()
	rec.DecQueueDepth(q.name)
	rec.RecordTaskWait(q.name, time.Since(postedAt))

	if q.limiter != nil {
		_ = q.limiter.Wait(ctx)
	}

	start := time.Now()
	defer func() {
		q.executed.Add(1)
		rec.RecordTaskRun(q.name, time.Since(start))
		if r := recover(); r != nil {
			q.panics.Add(1)
			rec.RecordTaskPanic(q.name)
			logger.Error("recovered task panic", "queue", q.name, "panic", r)
		}
	}()

	if task.Run(ctx) {
		if rc, ok := task.(Recycler); ok {
			rc.Recycle()
		}
	}
}
