// Package taskq provides single-consumer task queues for deferred execution.
//
// A TaskQueue owns one worker goroutine. Tasks posted to the queue run in
// posting order; delayed tasks run no earlier than their fire time and never
// overtake an immediate task that was posted before them.
//
// Basic usage:
//
//	q, err := taskq.New("worker")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer q.Close(context.Background())
//
//	q.PostFunc(func(ctx context.Context) {
//	    // Runs on the queue's worker goroutine.
//	})
package taskq

import "context"

// Task is a unit of deferred work executed by a TaskQueue worker.
type Task interface {
	// Run executes the task on the worker goroutine. The returned boolean is
	// an ownership hint: true hands the task back to the runtime, which may
	// recycle it through the optional Recycler interface; false means the
	// task retains ownership of itself (for example it re-posted itself or
	// belongs to an external pool).
	Run(ctx context.Context) bool
}

// Recycler is an optional interface for tasks that can be reused. The worker
// invokes Recycle after Run returns true.
type Recycler interface {
	Recycle()
}

// TaskFunc adapts a plain function to the Task interface.
type TaskFunc func(ctx context.Context)

// Run implements Task. It always yields ownership back to the runtime.
func (f TaskFunc) Run(ctx context.Context) bool {
	f(ctx)
	return true
}
