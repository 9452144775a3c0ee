package protocol

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"github.com/skeindata/skein/internal/logging"
	"github.com/skeindata/skein/internal/metrics"
)

// ChannelState tracks the control channel's protocol state.
type ChannelState int32

const (
	// StateConnecting means registration was sent but not yet answered.
	StateConnecting ChannelState = iota

	// StateReady means registration was accepted; the worker is eligible
	// for task dispatch. Tasks executing concurrently do not leave this
	// state; the executing set is tracked by the local executor.
	StateReady

	// StateTerminated means the channel shut down, cleanly or fatally.
	StateTerminated
)

// Executor is the local task executor the channel hands tasks to. Launch
// must not block the channel's receive loop; completion is signaled out of
// band through Statuses.
type Executor interface {
	Initialize(cfg ExecutorConfig) error
	Launch(taskID string, task []byte) error
	Kill(taskID string)
	Statuses() <-chan Status
}

// ErrTerminated is returned from Run after the channel shuts down fatally.
var ErrTerminated = errors.New("control channel terminated")

// ChannelConfig configures a control channel.
type ChannelConfig struct {
	Conn     io.ReadWriteCloser // established connection to the coordinator
	WorkerID string
	Host     string
	Cores    int
	Executor Executor
	Metrics  *metrics.Metrics // nil disables instrumentation
	Exit     func(code int)   // nil = os.Exit
}

// ControlChannel is the worker-side dispatch protocol state machine.
//
// One goroutine owns the inbound message loop and one owns the outbound
// stream, so launches are accepted while status updates for other tasks are
// in flight, and status updates for a given task are delivered in the order
// the executor produced them. Losing the coordinator is fatal: a worker with
// no coordinator cannot safely continue holding partial results, so it
// terminates instead of silently orphaning them.
type ControlChannel struct {
	conn     io.ReadWriteCloser
	workerID string
	host     string
	cores    int
	exec     Executor
	metrics  *metrics.Metrics
	exit     func(int)
	log      *slog.Logger

	state    atomic.Int32
	outbound chan Envelope
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewControlChannel creates a control channel over an established
// connection.
func NewControlChannel(cfg ChannelConfig) *ControlChannel {
	exit := cfg.Exit
	if exit == nil {
		exit = os.Exit
	}
	return &ControlChannel{
		conn:     cfg.Conn,
		workerID: cfg.WorkerID,
		host:     cfg.Host,
		cores:    cfg.Cores,
		exec:     cfg.Executor,
		metrics:  cfg.Metrics,
		exit:     exit,
		log:      logging.Component("control-channel").With("worker_id", cfg.WorkerID),
		outbound: make(chan Envelope, 64),
		done:     make(chan struct{}),
	}
}

// State returns the channel's current protocol state.
func (c *ControlChannel) State() ChannelState {
	return ChannelState(c.state.Load())
}

// Run registers with the coordinator and serves the message loop until the
// channel terminates. Cancellation of ctx is a clean shutdown; every other
// exit path is fatal and goes through the exit hook.
func (c *ControlChannel) Run(ctx context.Context) error {
	// Both loops exit once done closes; Run returns only after they have.
	defer c.wg.Wait()
	c.wg.Add(2)
	go c.writeLoop()
	go c.pumpStatuses()

	go func() {
		select {
		case <-ctx.Done():
			c.shutdown()
		case <-c.done:
		}
	}()

	reg, err := NewEnvelope(MsgRegisterWorker, RegisterWorker{
		WorkerID: c.workerID,
		Host:     c.host,
		Cores:    c.cores,
	})
	if err != nil {
		return c.fatal("build registration", err)
	}
	c.send(reg)
	c.log.Info("registering with coordinator", "cores", c.cores)

	for {
		env, err := ReadFrame(c.conn)
		if err != nil {
			if c.State() == StateTerminated || ctx.Err() != nil {
				return nil
			}
			return c.fatal("coordinator connection lost", err)
		}

		if c.metrics != nil {
			c.metrics.MessagesReceived.WithLabelValues(string(env.Type)).Inc()
		}

		if err := c.handle(env); err != nil {
			return err
		}
	}
}

// handle dispatches one inbound message. A non-nil return ends Run.
func (c *ControlChannel) handle(env Envelope) error {
	switch env.Type {
	case MsgRegistrationAccepted:
		var msg RegistrationAccepted
		if err := json.Unmarshal(env.Payload, &msg); err != nil {
			return c.fatal("malformed registration acceptance", err)
		}
		if !c.state.CompareAndSwap(int32(StateConnecting), int32(StateReady)) {
			c.log.Warn("duplicate registration acceptance ignored")
			return nil
		}
		if err := c.exec.Initialize(msg.Config); err != nil {
			return c.fatal("initialize executor", err)
		}
		c.log.Info("registration accepted")
		return nil

	case MsgRegistrationRejected:
		var msg RegistrationRejected
		if err := json.Unmarshal(env.Payload, &msg); err != nil {
			msg.Reason = "unparseable rejection"
		}
		// Running without a confirmed identity risks orphaned or
		// duplicate task execution.
		return c.fatal("registration rejected", errors.New(msg.Reason))

	case MsgLaunchTask:
		var msg LaunchTask
		if err := json.Unmarshal(env.Payload, &msg); err != nil {
			c.log.Error("malformed task launch ignored", "error", err)
			return nil
		}
		if c.State() != StateReady {
			c.log.Warn("task launch before registration confirmed, ignoring",
				"task_id", msg.TaskID)
			if c.metrics != nil {
				c.metrics.EarlyLaunches.Inc()
			}
			return nil
		}
		if c.metrics != nil {
			c.metrics.TasksLaunched.Inc()
		}
		if err := c.exec.Launch(msg.TaskID, msg.Task); err != nil {
			c.log.Error("task launch refused", "task_id", msg.TaskID, "error", err)
			c.sendStatus(Status{
				TaskID: msg.TaskID,
				State:  TaskFailed,
				Result: []byte(err.Error()),
			})
		}
		return nil

	case MsgKillTask:
		var msg KillTask
		if err := json.Unmarshal(env.Payload, &msg); err != nil {
			c.log.Error("malformed kill ignored", "error", err)
			return nil
		}
		c.exec.Kill(msg.TaskID)
		return nil

	default:
		c.log.Warn("unknown message type ignored", "type", string(env.Type))
		return nil
	}
}

// writeLoop is the single writer of the outbound stream.
func (c *ControlChannel) writeLoop() {
	defer c.wg.Done()
	for {
		select {
		case env := <-c.outbound:
			if err := WriteFrame(c.conn, env); err != nil {
				if c.State() != StateTerminated {
					c.fatal("write to coordinator", err)
				}
				return
			}
		case <-c.done:
			return
		}
	}
}

// pumpStatuses forwards executor completion signals to the coordinator.
// The single outbound channel preserves the order statuses were produced
// in, so a task's running update always precedes its terminal update.
func (c *ControlChannel) pumpStatuses() {
	defer c.wg.Done()
	statuses := c.exec.Statuses()
	for {
		select {
		case st, ok := <-statuses:
			if !ok {
				return
			}
			c.sendStatus(st)
		case <-c.done:
			return
		}
	}
}

func (c *ControlChannel) sendStatus(st Status) {
	env, err := NewEnvelope(MsgStatusUpdate, StatusUpdate{
		ExecutorID: c.workerID,
		TaskID:     st.TaskID,
		State:      st.State,
		Result:     st.Result,
	})
	if err != nil {
		c.log.Error("build status update", "task_id", st.TaskID, "error", err)
		return
	}
	if c.metrics != nil {
		c.metrics.StatusUpdatesSent.WithLabelValues(string(st.State)).Inc()
	}
	c.send(env)
}

func (c *ControlChannel) send(env Envelope) {
	select {
	case c.outbound <- env:
	case <-c.done:
	}
}

// shutdown closes the channel cleanly without invoking the exit hook.
func (c *ControlChannel) shutdown() {
	c.stopOnce.Do(func() {
		c.state.Store(int32(StateTerminated))
		close(c.done)
		c.conn.Close()
	})
}

// fatal logs the failure, terminates the channel and invokes the exit hook.
// Protocol faults never degrade silently.
func (c *ControlChannel) fatal(msg string, err error) error {
	c.log.Error(msg, "error", err)
	c.shutdown()
	c.exit(1)
	return fmt.Errorf("%s: %w", msg, ErrTerminated)
}
