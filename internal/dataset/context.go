package dataset

import (
	"context"
	"sync"
)

// TaskContext is the per-task execution handle passed into Compute. It
// carries the task's identity and an ordered list of completion callbacks.
// Callbacks registered during computation run exactly once, in registration
// order, when the task finishes, whether its iterator was fully consumed,
// abandoned, or failed mid-read.
type TaskContext struct {
	JobID     string
	StageID   string
	Partition int
	Attempt   int

	ctx context.Context

	mu        sync.Mutex
	callbacks []func()
	completed bool
}

// NewTaskContext creates a task context for one dispatch of a logical task.
// ctx bounds any I/O the task's compute performs; cancellation is how an
// externally killed task interrupts an in-flight compute.
func NewTaskContext(ctx context.Context, jobID, stageID string, partition, attempt int) *TaskContext {
	if ctx == nil {
		ctx = context.Background()
	}
	return &TaskContext{
		JobID:     jobID,
		StageID:   stageID,
		Partition: partition,
		Attempt:   attempt,
		ctx:       ctx,
	}
}

// Context returns the context bounding this task's execution.
func (tc *TaskContext) Context() context.Context { return tc.ctx }

// OnComplete registers a completion callback. Registering after completion
// runs the callback immediately; resources opened by a straggling compute
// must still be released.
func (tc *TaskContext) OnComplete(f func()) {
	tc.mu.Lock()
	if tc.completed {
		tc.mu.Unlock()
		f()
		return
	}
	tc.callbacks = append(tc.callbacks, f)
	tc.mu.Unlock()
}

// Complete fires the completion callbacks in registration order. Safe to
// call more than once; callbacks run exactly once.
func (tc *TaskContext) Complete() {
	tc.mu.Lock()
	if tc.completed {
		tc.mu.Unlock()
		return
	}
	tc.completed = true
	callbacks := tc.callbacks
	tc.callbacks = nil
	tc.mu.Unlock()

	for _, f := range callbacks {
		f()
	}
}
