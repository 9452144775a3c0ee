// Package protocol implements the worker-side half of the coordinator
// dispatch protocol: tagged control messages, their wire framing, and the
// control channel state machine.
package protocol

import (
	"encoding/json"
	"fmt"
)

// MessageType tags a control message variant.
type MessageType string

const (
	MsgRegisterWorker       MessageType = "register_worker"
	MsgRegistrationAccepted MessageType = "registration_accepted"
	MsgRegistrationRejected MessageType = "registration_rejected"
	MsgLaunchTask           MessageType = "launch_task"
	MsgKillTask             MessageType = "kill_task"
	MsgStatusUpdate         MessageType = "status_update"
)

// Envelope frames one tagged message on the wire.
type Envelope struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewEnvelope wraps a message body in a typed envelope.
func NewEnvelope(t MessageType, body any) (Envelope, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", t, err)
	}
	return Envelope{Type: t, Payload: payload}, nil
}

// RegisterWorker announces a worker to the coordinator.
type RegisterWorker struct {
	WorkerID string `json:"worker_id"`
	Host     string `json:"host"`
	Cores    int    `json:"cores"`
}

// ExecutorConfig is the configuration the coordinator hands back at
// registration, applied to the local task executor.
type ExecutorConfig struct {
	Cores         int    `json:"cores,omitempty"` // 0 = keep advertised count
	CheckpointDir string `json:"checkpoint_dir,omitempty"`
	ScratchDir    string `json:"scratch_dir,omitempty"`
	BufferSize    int    `json:"buffer_size,omitempty"`
}

// RegistrationAccepted confirms a worker's identity. The only path to
// becoming eligible for task dispatch.
type RegistrationAccepted struct {
	Config ExecutorConfig `json:"config"`
}

// RegistrationRejected refuses a worker. Fatal on receipt: a worker must
// never run without a confirmed identity.
type RegistrationRejected struct {
	Reason string `json:"reason"`
}

// LaunchTask dispatches one serialized task to the worker.
type LaunchTask struct {
	TaskID string `json:"task_id"`
	Task   []byte `json:"task"`
}

// KillTask cancels an in-flight task.
type KillTask struct {
	TaskID string `json:"task_id"`
}

// TaskState is the closed set of task execution states.
type TaskState string

const (
	TaskRunning  TaskState = "running"
	TaskFinished TaskState = "finished"
	TaskFailed   TaskState = "failed"
	TaskKilled   TaskState = "killed"
)

// Terminal reports whether the state ends a task's lifecycle. Exactly one
// terminal status update is sent per task.
func (s TaskState) Terminal() bool {
	return s == TaskFinished || s == TaskFailed || s == TaskKilled
}

// StatusUpdate reports a task state transition to the coordinator.
type StatusUpdate struct {
	ExecutorID string    `json:"executor_id"`
	TaskID     string    `json:"task_id"`
	State      TaskState `json:"state"`
	Result     []byte    `json:"result,omitempty"`
}

// Status is the out-of-band completion signal from the local task executor.
type Status struct {
	TaskID string
	State  TaskState
	Result []byte
}
