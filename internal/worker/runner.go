// Package worker interprets dispatched task payloads against the dataset
// registry and executes them through the core engine.
package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/skeindata/skein/internal/checkpoint"
	"github.com/skeindata/skein/internal/codec"
	"github.com/skeindata/skein/internal/dataset"
	"github.com/skeindata/skein/internal/logging"
)

// Task operations.
const (
	// OpCollect computes one partition and returns its encoded records.
	OpCollect = "collect"

	// OpCheckpointWrite materializes one partition to the checkpoint
	// directory.
	OpCheckpointWrite = "checkpoint_write"

	// OpCheckpointCommit verifies the checkpoint directory and truncates
	// the dataset's lineage. Dispatched once, after every write task of
	// the dataset reported success.
	OpCheckpointCommit = "checkpoint_commit"
)

// TaskSpec is the serialized task payload carried by a launch message.
type TaskSpec struct {
	JobID         string `json:"job_id"`
	StageID       string `json:"stage_id"`
	Op            string `json:"op"`
	DatasetID     string `json:"dataset_id"`
	Partition     int    `json:"partition"`
	Attempt       int    `json:"attempt"`
	CheckpointDir string `json:"checkpoint_dir,omitempty"`
}

// Registry maps coordinator-assigned dataset identifiers to live lineage
// nodes on this worker.
type Registry struct {
	mu       sync.RWMutex
	datasets map[string]dataset.Dataset
}

// NewRegistry creates an empty dataset registry.
func NewRegistry() *Registry {
	return &Registry{datasets: make(map[string]dataset.Dataset)}
}

// Register binds id to ds, replacing any previous binding.
func (r *Registry) Register(id string, ds dataset.Dataset) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.datasets[id] = ds
}

// Lookup resolves a dataset id.
func (r *Registry) Lookup(id string) (dataset.Dataset, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ds, ok := r.datasets[id]
	return ds, ok
}

// Runner executes task specs. Its Run method satisfies the executor's
// runner contract.
type Runner struct {
	registry *Registry
	codec    *codec.Codec
	writer   *checkpoint.Writer
	log      *slog.Logger
}

// NewRunner creates a task runner over the registry.
func NewRunner(registry *Registry, c *codec.Codec, w *checkpoint.Writer) *Runner {
	return &Runner{
		registry: registry,
		codec:    c,
		writer:   w,
		log:      logging.Component("runner"),
	}
}

// Run deserializes and executes one task. Transient faults propagate to the
// caller; retry is the coordinator's job, via re-dispatch.
func (r *Runner) Run(ctx context.Context, taskID string, payload []byte) ([]byte, error) {
	var spec TaskSpec
	if err := json.Unmarshal(payload, &spec); err != nil {
		return nil, fmt.Errorf("parse task %s: %w", taskID, err)
	}

	ds, ok := r.registry.Lookup(spec.DatasetID)
	if !ok {
		return nil, fmt.Errorf("task %s: unknown dataset %q", taskID, spec.DatasetID)
	}

	log := logging.TaskLogger(taskID, spec.Partition, spec.Attempt)
	log.Debug("executing task", "op", spec.Op, "dataset", spec.DatasetID)

	switch spec.Op {
	case OpCollect:
		return r.collect(ctx, ds, spec)
	case OpCheckpointWrite:
		return r.checkpointWrite(ctx, ds, spec)
	case OpCheckpointCommit:
		return r.checkpointCommit(ctx, ds, spec)
	default:
		return nil, fmt.Errorf("task %s: unknown operation %q", taskID, spec.Op)
	}
}

func (r *Runner) partition(ds dataset.Dataset, spec TaskSpec) (dataset.Partition, error) {
	parts, err := ds.Partitions()
	if err != nil {
		return nil, err
	}
	if spec.Partition < 0 || spec.Partition >= len(parts) {
		return nil, fmt.Errorf("dataset %q: partition %d out of range [0,%d)",
			spec.DatasetID, spec.Partition, len(parts))
	}
	return parts[spec.Partition], nil
}

// collect pulls one partition's records and returns them codec-encoded.
func (r *Runner) collect(ctx context.Context, ds dataset.Dataset, spec TaskSpec) ([]byte, error) {
	p, err := r.partition(ds, spec)
	if err != nil {
		return nil, err
	}

	tc := dataset.NewTaskContext(ctx, spec.JobID, spec.StageID, spec.Partition, spec.Attempt)
	defer tc.Complete()

	it, err := ds.Compute(p, tc)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	rw, err := r.codec.NewWriter(&buf)
	if err != nil {
		return nil, err
	}
	for it.Next() {
		if err := rw.Write(it.Record()); err != nil {
			return nil, err
		}
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	if err := rw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// checkpointWrite materializes one partition file.
func (r *Runner) checkpointWrite(ctx context.Context, ds dataset.Dataset, spec TaskSpec) ([]byte, error) {
	cds, ok := ds.(dataset.Checkpointable)
	if !ok {
		return nil, fmt.Errorf("dataset %q cannot be checkpointed", spec.DatasetID)
	}
	if spec.CheckpointDir == "" {
		return nil, fmt.Errorf("task for dataset %q: checkpoint_dir required", spec.DatasetID)
	}

	cds.Checkpoint(spec.CheckpointDir)
	binding := cds.Binding()
	if binding.State() == dataset.CheckpointCommitted {
		// Checkpoint of a checkpoint is a no-op.
		return []byte(checkpoint.PartitionFileName(spec.Partition)), nil
	}
	if err := binding.BeginWrite(); err != nil {
		return nil, err
	}

	p, err := r.partition(ds, spec)
	if err != nil {
		return nil, err
	}

	tc := dataset.NewTaskContext(ctx, spec.JobID, spec.StageID, spec.Partition, spec.Attempt)
	defer tc.Complete()

	if err := r.writer.WritePartition(ctx, ds, binding.Dir(), p, tc); err != nil {
		return nil, err
	}
	return []byte(checkpoint.PartitionFileName(spec.Partition)), nil
}

// checkpointCommit verifies and installs the checkpoint read path.
func (r *Runner) checkpointCommit(ctx context.Context, ds dataset.Dataset, spec TaskSpec) ([]byte, error) {
	cds, ok := ds.(dataset.Checkpointable)
	if !ok {
		return nil, fmt.Errorf("dataset %q cannot be checkpointed", spec.DatasetID)
	}
	if err := r.writer.Commit(ctx, cds); err != nil {
		return nil, err
	}
	return []byte("committed"), nil
}
