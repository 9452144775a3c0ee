// Package executor runs dispatched tasks in a bounded local pool.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/skeindata/skein/internal/logging"
	"github.com/skeindata/skein/internal/metrics"
	"github.com/skeindata/skein/internal/protocol"
)

// Runner executes one task's payload. It must respect ctx cancellation: a
// killed task interrupts its in-flight compute through the context.
type Runner func(ctx context.Context, taskID string, task []byte) ([]byte, error)

// ErrNotInitialized is returned by Launch before Initialize has applied the
// coordinator's configuration.
var ErrNotInitialized = errors.New("executor not initialized")

// Pool is the worker's local task executor. Launch is asynchronous and
// returns immediately; each task runs on its own goroutine gated by a
// semaphore sized to the configured core count. The bound is cooperative:
// the coordinator is expected not to overcommit, and the pool queues rather
// than rejects if it does.
//
// Each task produces a running status when it starts executing and exactly
// one terminal status, in that order, on the Statuses channel.
type Pool struct {
	runner  Runner
	cores   int
	log     *slog.Logger
	metrics *metrics.Metrics // nil disables instrumentation

	mu          sync.Mutex
	initialized bool
	sem         chan struct{}
	cancels     map[string]context.CancelFunc

	statuses chan protocol.Status
	wg       sync.WaitGroup
}

// NewPool creates a task pool. cores is the advertised concurrency, applied
// unless the coordinator overrides it at registration. metrics may be nil.
func NewPool(runner Runner, cores int, m *metrics.Metrics) *Pool {
	if cores < 1 {
		cores = 1
	}
	return &Pool{
		runner:   runner,
		cores:    cores,
		log:      logging.Component("executor"),
		metrics:  m,
		cancels:  make(map[string]context.CancelFunc),
		statuses: make(chan protocol.Status, 64),
	}
}

// Initialize applies the coordinator's configuration. Must be called before
// the first Launch; launching beforehand fails.
func (p *Pool) Initialize(cfg protocol.ExecutorConfig) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.initialized {
		return fmt.Errorf("executor already initialized")
	}
	if cfg.Cores > 0 {
		p.cores = cfg.Cores
	}
	p.sem = make(chan struct{}, p.cores)
	p.initialized = true
	p.log.Info("executor initialized", "cores", p.cores)
	return nil
}

// Launch hands a task to the pool and returns immediately.
func (p *Pool) Launch(taskID string, task []byte) error {
	p.mu.Lock()
	if !p.initialized {
		p.mu.Unlock()
		return ErrNotInitialized
	}
	if _, dup := p.cancels[taskID]; dup {
		p.mu.Unlock()
		return fmt.Errorf("task %s already executing", taskID)
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.cancels[taskID] = cancel
	p.mu.Unlock()

	p.wg.Add(1)
	go p.run(ctx, cancel, taskID, task)
	return nil
}

func (p *Pool) run(ctx context.Context, cancel context.CancelFunc, taskID string, task []byte) {
	defer p.wg.Done()
	defer cancel()
	defer func() {
		p.mu.Lock()
		delete(p.cancels, taskID)
		p.mu.Unlock()
	}()

	// A task killed while still queued never reaches running.
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		p.report(protocol.Status{TaskID: taskID, State: protocol.TaskKilled})
		return
	}
	defer func() { <-p.sem }()

	if p.metrics != nil {
		p.metrics.TasksInFlight.Inc()
		defer p.metrics.TasksInFlight.Dec()
	}

	p.report(protocol.Status{TaskID: taskID, State: protocol.TaskRunning})

	result, err := p.runner(ctx, taskID, task)

	st := protocol.Status{TaskID: taskID, State: protocol.TaskFinished, Result: result}
	if err != nil {
		if ctx.Err() != nil {
			st = protocol.Status{TaskID: taskID, State: protocol.TaskKilled}
		} else {
			st = protocol.Status{TaskID: taskID, State: protocol.TaskFailed, Result: []byte(err.Error())}
		}
		p.log.Warn("task did not finish", "task_id", taskID, "state", string(st.State), "error", err)
	}
	p.report(st)
}

func (p *Pool) report(st protocol.Status) {
	if p.metrics != nil && st.State.Terminal() {
		p.metrics.TasksCompleted.WithLabelValues(string(st.State)).Inc()
	}
	p.statuses <- st
}

// Kill cancels an in-flight task. The interrupted task reports killed, not
// failed. Unknown task IDs are ignored.
func (p *Pool) Kill(taskID string) {
	p.mu.Lock()
	cancel, ok := p.cancels[taskID]
	p.mu.Unlock()
	if ok {
		cancel()
	}
}

// Statuses returns the out-of-band completion signal channel.
func (p *Pool) Statuses() <-chan protocol.Status {
	return p.statuses
}

// Close waits for in-flight tasks and closes the status channel.
func (p *Pool) Close() {
	p.wg.Wait()
	close(p.statuses)
}
