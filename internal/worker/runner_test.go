package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/skeindata/skein/internal/checkpoint"
	"github.com/skeindata/skein/internal/codec"
	"github.com/skeindata/skein/internal/dataset"
	"github.com/skeindata/skein/internal/storage"
)

func newTestRunner(t *testing.T) (*Runner, *Registry) {
	t.Helper()
	dir, err := os.MkdirTemp("", "skein-runner-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	store, err := storage.NewLocalStore(dir)
	if err != nil {
		t.Fatalf("NewLocalStore failed: %v", err)
	}

	c := codec.New(0)
	registry := NewRegistry()
	return NewRunner(registry, c, checkpoint.NewWriter(store, c, nil)), registry
}

func literalFixture() ([][]dataset.Record, *dataset.Literal) {
	chunks := make([][]dataset.Record, 3)
	for p := 0; p < 3; p++ {
		for i := 0; i < 20; i++ {
			chunks[p] = append(chunks[p], []byte(fmt.Sprintf("p%d-rec%02d", p, i)))
		}
	}
	return chunks, dataset.NewLiteral(chunks)
}

func specPayload(t *testing.T, spec TaskSpec) []byte {
	t.Helper()
	data, err := json.Marshal(spec)
	if err != nil {
		t.Fatalf("marshal spec failed: %v", err)
	}
	return data
}

func decodeResult(t *testing.T, result []byte) []dataset.Record {
	t.Helper()
	rr, err := codec.New(0).NewReader(io.NopCloser(bytes.NewReader(result)))
	if err != nil {
		t.Fatalf("NewReader failed: %v", err)
	}
	defer rr.Close()
	recs, err := dataset.Collect(rr)
	if err != nil {
		t.Fatalf("decode result failed: %v", err)
	}
	return recs
}

func TestRunnerCollect(t *testing.T) {
	runner, registry := newTestRunner(t)
	chunks, lit := literalFixture()
	registry.Register("ds-1", lit)

	result, err := runner.Run(context.Background(), "task-1", specPayload(t, TaskSpec{
		JobID:     "job-1",
		StageID:   "stage-0",
		Op:        OpCollect,
		DatasetID: "ds-1",
		Partition: 1,
	}))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	got := decodeResult(t, result)
	if len(got) != len(chunks[1]) {
		t.Fatalf("collected %d records, want %d", len(got), len(chunks[1]))
	}
	for i := range got {
		if !bytes.Equal(got[i], chunks[1][i]) {
			t.Errorf("record %d = %q, want %q", i, got[i], chunks[1][i])
		}
	}
}

func TestRunnerCheckpointWriteAndCommit(t *testing.T) {
	runner, registry := newTestRunner(t)
	_, lit := literalFixture()
	ds := dataset.NewSampled(lit, false, 0.5, 11)
	registry.Register("ds-2", ds)

	// Capture the sampled output before any checkpoint exists.
	parts, err := ds.Partitions()
	if err != nil {
		t.Fatalf("Partitions failed: %v", err)
	}
	before := make([][]dataset.Record, len(parts))
	for i := range parts {
		payload := specPayload(t, TaskSpec{
			JobID: "job-2", StageID: "stage-0", Op: OpCollect,
			DatasetID: "ds-2", Partition: i,
		})
		result, err := runner.Run(context.Background(), fmt.Sprintf("pre-%d", i), payload)
		if err != nil {
			t.Fatalf("collect partition %d failed: %v", i, err)
		}
		before[i] = decodeResult(t, result)
	}

	// One write task per partition, then a single commit task.
	for i := range parts {
		payload := specPayload(t, TaskSpec{
			JobID: "job-2", StageID: "checkpoint", Op: OpCheckpointWrite,
			DatasetID: "ds-2", Partition: i, CheckpointDir: "cp/job-2",
		})
		result, err := runner.Run(context.Background(), fmt.Sprintf("write-%d", i), payload)
		if err != nil {
			t.Fatalf("checkpoint write %d failed: %v", i, err)
		}
		if want := checkpoint.PartitionFileName(i); string(result) != want {
			t.Errorf("write %d result = %q, want %q", i, result, want)
		}
	}

	result, err := runner.Run(context.Background(), "commit", specPayload(t, TaskSpec{
		JobID: "job-2", StageID: "checkpoint", Op: OpCheckpointCommit,
		DatasetID: "ds-2", CheckpointDir: "cp/job-2",
	}))
	if err != nil {
		t.Fatalf("checkpoint commit failed: %v", err)
	}
	if string(result) != "committed" {
		t.Errorf("commit result = %q", result)
	}

	if ds.Binding().State() != dataset.CheckpointCommitted {
		t.Fatalf("binding state = %s, want committed", ds.Binding().State())
	}
	if ds.Parents() != nil {
		t.Error("lineage not truncated after commit")
	}

	// Collects now serve from the checkpoint files and must be unchanged.
	for i := range parts {
		payload := specPayload(t, TaskSpec{
			JobID: "job-2", StageID: "stage-1", Op: OpCollect,
			DatasetID: "ds-2", Partition: i,
		})
		result, err := runner.Run(context.Background(), fmt.Sprintf("post-%d", i), payload)
		if err != nil {
			t.Fatalf("collect after commit failed: %v", err)
		}
		got := decodeResult(t, result)
		if len(got) != len(before[i]) {
			t.Fatalf("partition %d: %d records after commit, want %d", i, len(got), len(before[i]))
		}
		for j := range got {
			if !bytes.Equal(got[j], before[i][j]) {
				t.Errorf("partition %d record %d differs after commit", i, j)
			}
		}
	}
}

func TestRunnerCheckpointWriteRequiresDir(t *testing.T) {
	runner, registry := newTestRunner(t)
	_, lit := literalFixture()
	registry.Register("ds-3", lit)

	_, err := runner.Run(context.Background(), "task", specPayload(t, TaskSpec{
		Op: OpCheckpointWrite, DatasetID: "ds-3", Partition: 0,
	}))
	if err == nil || !strings.Contains(err.Error(), "checkpoint_dir") {
		t.Errorf("expected checkpoint_dir error, got %v", err)
	}
}

func TestRunnerUnknownDataset(t *testing.T) {
	runner, _ := newTestRunner(t)

	_, err := runner.Run(context.Background(), "task", specPayload(t, TaskSpec{
		Op: OpCollect, DatasetID: "missing", Partition: 0,
	}))
	if err == nil || !strings.Contains(err.Error(), "unknown dataset") {
		t.Errorf("expected unknown dataset error, got %v", err)
	}
}

func TestRunnerUnknownOperation(t *testing.T) {
	runner, registry := newTestRunner(t)
	_, lit := literalFixture()
	registry.Register("ds-4", lit)

	_, err := runner.Run(context.Background(), "task", specPayload(t, TaskSpec{
		Op: "shuffle", DatasetID: "ds-4",
	}))
	if err == nil || !strings.Contains(err.Error(), "unknown operation") {
		t.Errorf("expected unknown operation error, got %v", err)
	}
}

func TestRunnerPartitionOutOfRange(t *testing.T) {
	runner, registry := newTestRunner(t)
	_, lit := literalFixture()
	registry.Register("ds-5", lit)

	_, err := runner.Run(context.Background(), "task", specPayload(t, TaskSpec{
		Op: OpCollect, DatasetID: "ds-5", Partition: 99,
	}))
	if err == nil || !strings.Contains(err.Error(), "out of range") {
		t.Errorf("expected out of range error, got %v", err)
	}
}

func TestRunnerMalformedPayload(t *testing.T) {
	runner, _ := newTestRunner(t)

	if _, err := runner.Run(context.Background(), "task", []byte("{not json")); err == nil {
		t.Error("malformed payload accepted")
	}
}
