package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"time"

	"github.com/skeindata/skein/internal/codec"
	"github.com/skeindata/skein/internal/dataset"
	"github.com/skeindata/skein/internal/logging"
	"github.com/skeindata/skein/internal/metrics"
	"github.com/skeindata/skein/internal/storage"
)

// Writer materializes dataset partitions to the durable store.
type Writer struct {
	store   storage.Store
	codec   *codec.Codec
	log     *slog.Logger
	metrics *metrics.Metrics // nil disables instrumentation
}

// NewWriter creates a checkpoint writer. metrics may be nil.
func NewWriter(store storage.Store, c *codec.Codec, m *metrics.Metrics) *Writer {
	return &Writer{
		store:   store,
		codec:   c,
		log:     logging.Component("checkpoint"),
		metrics: m,
	}
}

// countingWriter tracks bytes flowing into the store for instrumentation.
type countingWriter struct {
	w io.WriteCloser
	n int64
}

func (cw *countingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.n += int64(n)
	return n, err
}

func (cw *countingWriter) Close() error { return cw.w.Close() }

// WritePartition runs the write path for one partition as an ordinary task:
// serialize the partition's records to an attempt-scoped temp file, then
// atomically rename it to the canonical name.
//
// Concurrent duplicate attempts of the same partition are expected. If the
// rename finds the final file already in place, another attempt won the race;
// the temp file is deleted and the write reports success. The guarantee is
// at-most-one-effective-write, not at-most-one-attempt.
//
// A temp file already existing for this exact attempt is a hard failure: an
// attempt identifier must never be reused concurrently.
func (w *Writer) WritePartition(ctx context.Context, ds dataset.Dataset, dir string, p dataset.Partition, tc *dataset.TaskContext) error {
	finalKey := path.Join(dir, PartitionFileName(p.Index()))
	tempKey := path.Join(dir, tempFileName(p.Index(), tc.Attempt))
	log := w.log.With("partition", p.Index(), "attempt", tc.Attempt)

	start := time.Now()

	exists, err := w.store.Exists(ctx, tempKey)
	if err != nil {
		return fmt.Errorf("probe temp file %s: %w", tempKey, err)
	}
	if exists {
		return fmt.Errorf("temp file %s already exists: attempt identifier reused", tempKey)
	}

	out, err := w.store.Create(ctx, tempKey)
	if err != nil {
		if errors.Is(err, storage.ErrExists) {
			return fmt.Errorf("temp file %s already exists: attempt identifier reused", tempKey)
		}
		return fmt.Errorf("create temp file: %w", err)
	}
	cw := &countingWriter{w: out}

	if err := w.serialize(ds, p, tc, cw); err != nil {
		cw.Close()
		w.store.Delete(ctx, tempKey)
		w.countFailure()
		return err
	}
	if err := cw.Close(); err != nil {
		w.store.Delete(ctx, tempKey)
		w.countFailure()
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := w.store.Rename(ctx, tempKey, finalKey); err != nil {
		if w.converged(ctx, err, finalKey) {
			// A duplicate attempt finished first; ours is redundant.
			w.store.Delete(ctx, tempKey)
			log.Debug("duplicate checkpoint attempt converged", "file", finalKey)
			if w.metrics != nil {
				w.metrics.CheckpointRaces.Inc()
			}
			return nil
		}
		w.countFailure()
		return fmt.Errorf("commit partition file %s: %w", finalKey, err)
	}

	log.Debug("partition checkpointed", "file", finalKey, "bytes", cw.n)
	if w.metrics != nil {
		w.metrics.CheckpointWrites.Inc()
		w.metrics.CheckpointBytes.Add(float64(cw.n))
		w.metrics.CheckpointWriteSecs.Observe(time.Since(start).Seconds())
	}
	return nil
}

// serialize streams the partition's full record sequence through the codec.
func (w *Writer) serialize(ds dataset.Dataset, p dataset.Partition, tc *dataset.TaskContext, out io.Writer) error {
	it, err := ds.Compute(p, tc)
	if err != nil {
		return fmt.Errorf("compute partition %d: %w", p.Index(), err)
	}

	rw, err := w.codec.NewWriter(out)
	if err != nil {
		return err
	}
	for it.Next() {
		if err := rw.Write(it.Record()); err != nil {
			return err
		}
	}
	if err := it.Err(); err != nil {
		return fmt.Errorf("compute partition %d: %w", p.Index(), err)
	}
	return rw.Close()
}

// converged reports whether a failed rename means another attempt already
// committed the final file.
func (w *Writer) converged(ctx context.Context, renameErr error, finalKey string) bool {
	if errors.Is(renameErr, storage.ErrExists) {
		return true
	}
	exists, err := w.store.Exists(ctx, finalKey)
	return err == nil && exists
}

func (w *Writer) countFailure() {
	if w.metrics != nil {
		w.metrics.CheckpointFailures.Inc()
	}
}

// Materialize writes every partition of ds to its bound checkpoint directory
// and commits the result, truncating lineage. Partitions are written
// sequentially; in the distributed path each partition write is instead
// dispatched as its own task and Commit runs once they all report success.
// Materializing an already-committed dataset is a no-op.
func (w *Writer) Materialize(ctx context.Context, ds dataset.Checkpointable, jobID string) error {
	binding := ds.Binding()
	if binding == nil {
		return fmt.Errorf("dataset has no checkpoint binding")
	}
	if binding.State() == dataset.CheckpointCommitted {
		return nil
	}

	parts, err := ds.Partitions()
	if err != nil {
		return err
	}
	if err := binding.BeginWrite(); err != nil {
		return err
	}

	for _, p := range parts {
		tc := dataset.NewTaskContext(ctx, jobID, "checkpoint", p.Index(), 0)
		err := w.WritePartition(ctx, ds, binding.Dir(), p, tc)
		tc.Complete()
		if err != nil {
			return err
		}
	}

	return w.Commit(ctx, ds)
}

// Commit verifies that the bound directory holds exactly the expected
// partition files, installs the checkpoint read path and truncates lineage.
// Either the whole checkpoint becomes usable or the dataset is untouched.
func (w *Writer) Commit(ctx context.Context, ds dataset.Checkpointable) error {
	binding := ds.Binding()
	if binding == nil {
		return fmt.Errorf("dataset has no checkpoint binding")
	}
	if binding.State() == dataset.CheckpointCommitted {
		return nil
	}

	parts, err := ds.Partitions()
	if err != nil {
		return err
	}

	cds, err := Open(ctx, w.store, w.codec, binding.Dir(), len(parts))
	if err != nil {
		return fmt.Errorf("verify checkpoint %s: %w", binding.Dir(), err)
	}

	files := make([]string, len(parts))
	for i := range files {
		files[i] = PartitionFileName(i)
	}
	binding.MarkCommitted(files)
	ds.MarkCheckpointed(cds)

	w.log.Info("checkpoint committed", "dir", binding.Dir(), "partitions", len(files))
	return nil
}
