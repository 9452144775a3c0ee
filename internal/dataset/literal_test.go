package dataset

import (
	"bytes"
	"context"
	"testing"
)

func TestLiteralPartitionsAndCompute(t *testing.T) {
	chunks := [][]Record{
		{[]byte("a"), []byte("b")},
		{[]byte("c")},
		{},
	}
	ds := NewLiteral(chunks)

	parts, err := ds.Partitions()
	if err != nil {
		t.Fatalf("Partitions failed: %v", err)
	}
	if len(parts) != 3 {
		t.Fatalf("expected 3 partitions, got %d", len(parts))
	}
	for i, p := range parts {
		if p.Index() != i {
			t.Errorf("partition %d reports index %d", i, p.Index())
		}
	}

	for i, p := range parts {
		got := computePartition(t, ds, p)
		if len(got) != len(chunks[i]) {
			t.Fatalf("partition %d: got %d records, want %d", i, len(got), len(chunks[i]))
		}
		for j := range got {
			if !bytes.Equal(got[j], chunks[i][j]) {
				t.Errorf("partition %d record %d mismatch", i, j)
			}
		}
	}
}

func TestLiteralPartitionsMemoized(t *testing.T) {
	ds := NewLiteral([][]Record{{[]byte("x")}})

	first, err := ds.Partitions()
	if err != nil {
		t.Fatalf("Partitions failed: %v", err)
	}
	second, err := ds.Partitions()
	if err != nil {
		t.Fatalf("Partitions failed: %v", err)
	}
	if first[0] != second[0] {
		t.Error("partition set not memoized")
	}
}

func TestLiteralRejectsForeignPartition(t *testing.T) {
	ds := NewLiteral([][]Record{{[]byte("x")}})
	tc := NewTaskContext(context.Background(), "job", "stage", 0, 0)
	defer tc.Complete()

	if _, err := ds.Compute(faultyPartition{0}, tc); err == nil {
		t.Error("expected error for foreign partition type")
	}
}

func TestCheckpointBindingIsOneShot(t *testing.T) {
	ds := NewLiteral([][]Record{{[]byte("x")}})

	ds.Checkpoint("cp/a")
	ds.Checkpoint("cp/b") // no effect: already bound

	b := ds.Binding()
	if b == nil {
		t.Fatal("binding missing after Checkpoint")
	}
	if b.Dir() != "cp/a" {
		t.Errorf("rebind changed directory to %q", b.Dir())
	}
	if b.State() != CheckpointUnset {
		t.Errorf("fresh binding state = %s, want unset", b.State())
	}
}

func TestBindingStateMachine(t *testing.T) {
	b := &CheckpointBinding{dir: "cp/x"}

	if err := b.BeginWrite(); err != nil {
		t.Fatalf("BeginWrite from unset failed: %v", err)
	}
	if b.State() != CheckpointWriting {
		t.Fatalf("state = %s, want writing", b.State())
	}
	// Concurrent partition write tasks re-enter writing.
	if err := b.BeginWrite(); err != nil {
		t.Fatalf("BeginWrite from writing failed: %v", err)
	}

	b.MarkCommitted([]string{"part-00000"})
	if b.State() != CheckpointCommitted {
		t.Fatalf("state = %s, want committed", b.State())
	}
	if err := b.BeginWrite(); err == nil {
		t.Error("BeginWrite after commit should fail")
	}
	if files := b.Files(); len(files) != 1 || files[0] != "part-00000" {
		t.Errorf("Files() = %v", files)
	}
}

func TestClearLineageDropsParents(t *testing.T) {
	parent := NewLiteral([][]Record{{[]byte("x")}})
	sampled := NewSampled(parent, false, 0.5, 1)

	if got := len(sampled.Parents()); got != 1 {
		t.Fatalf("expected 1 parent, got %d", got)
	}

	sampled.ClearLineage()
	if sampled.Parents() != nil {
		t.Error("parents not released")
	}
	sampled.ClearLineage() // idempotent

	// Without a committed checkpoint there is nothing to re-derive from.
	if _, err := sampled.Partitions(); err == nil {
		t.Error("expected error deriving partitions after lineage clear")
	}
}
