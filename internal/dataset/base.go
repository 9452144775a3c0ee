package dataset

import (
	"errors"
	"fmt"
	"sync"
)

// ErrLineageCleared is returned when a dataset's partitions are requested
// after ClearLineage without a committed checkpoint to re-derive them from.
var ErrLineageCleared = errors.New("lineage cleared without committed checkpoint")

// CheckpointState tracks the one-way progress of a dataset's checkpoint.
type CheckpointState int

const (
	// CheckpointUnset means a directory is bound but no write has started.
	CheckpointUnset CheckpointState = iota

	// CheckpointWriting means partition files are being written.
	CheckpointWriting

	// CheckpointCommitted means every partition file is durable and
	// verified; the dataset now reads from the checkpoint.
	CheckpointCommitted
)

func (s CheckpointState) String() string {
	switch s {
	case CheckpointUnset:
		return "unset"
	case CheckpointWriting:
		return "writing"
	case CheckpointCommitted:
		return "committed"
	default:
		return fmt.Sprintf("CheckpointState(%d)", int(s))
	}
}

// CheckpointBinding records a dataset's checkpoint target and progress.
// No partially-committed state is externally visible: until MarkCommitted,
// readers see only the original lineage.
type CheckpointBinding struct {
	mu    sync.Mutex
	dir   string
	state CheckpointState
	files []string // confirmed partition files, set at commit
}

// Dir returns the bound checkpoint directory.
func (b *CheckpointBinding) Dir() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dir
}

// State returns the current checkpoint state.
func (b *CheckpointBinding) State() CheckpointState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Files returns the confirmed partition file names, nil before commit.
func (b *CheckpointBinding) Files() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.files
}

// BeginWrite transitions unset → writing. Re-entering writing is allowed
// (partition write tasks run concurrently); a committed binding refuses.
func (b *CheckpointBinding) BeginWrite() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == CheckpointCommitted {
		return fmt.Errorf("checkpoint %s: already committed", b.dir)
	}
	b.state = CheckpointWriting
	return nil
}

// MarkCommitted transitions writing → committed with the verified file set.
func (b *CheckpointBinding) MarkCommitted(files []string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = CheckpointCommitted
	b.files = files
}

// Base carries the lineage-node state shared by concrete datasets: memoized
// partitions, parent references, the optional checkpoint binding, and the
// committed read-path delegate. Concrete datasets embed it by pointer-free
// value and reach their parents only through Parents, so that ClearLineage
// genuinely drops the last reference to ancestor nodes.
type Base struct {
	mu       sync.Mutex
	parts    []Partition
	parents  []Dataset
	binding  *CheckpointBinding
	delegate Dataset
}

// NewBase returns lineage-node state with the given parents.
func NewBase(parents ...Dataset) Base {
	return Base{parents: parents}
}

// Parents returns the direct lineage dependencies, nil once truncated.
func (b *Base) Parents() []Dataset {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.parents
}

// Checkpoint binds dir. No I/O; no effect if already bound.
func (b *Base) Checkpoint(dir string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.binding != nil {
		return
	}
	b.binding = &CheckpointBinding{dir: dir}
}

// Binding returns the checkpoint binding, nil if unbound.
func (b *Base) Binding() *CheckpointBinding {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.binding
}

// Delegate returns the committed checkpoint read path, nil before commit.
func (b *Base) Delegate() Dataset {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.delegate
}

// MarkCheckpointed installs the committed read path and truncates lineage.
func (b *Base) MarkCheckpointed(read Dataset) {
	b.mu.Lock()
	b.delegate = read
	b.mu.Unlock()
	b.ClearLineage()
}

// ClearLineage drops memoized partitions and parent references. Idempotent.
func (b *Base) ClearLineage() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.parts = nil
	b.parents = nil
}

// MemoizedPartitions returns the cached partition set, deriving it with
// derive on first use. Once a checkpoint has committed it delegates to the
// checkpoint's partitioning instead.
func (b *Base) MemoizedPartitions(derive func() ([]Partition, error)) ([]Partition, error) {
	b.mu.Lock()
	if d := b.delegate; d != nil {
		b.mu.Unlock()
		return d.Partitions()
	}
	if b.parts != nil {
		parts := b.parts
		b.mu.Unlock()
		return parts, nil
	}
	b.mu.Unlock()

	// Derivation may recurse into parents; do it outside the lock.
	parts, err := derive()
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.parts == nil {
		b.parts = parts
	}
	return b.parts, nil
}
