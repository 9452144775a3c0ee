package checkpoint

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/skeindata/skein/internal/codec"
	"github.com/skeindata/skein/internal/dataset"
	"github.com/skeindata/skein/internal/storage"
)

// CheckpointedDataset reads a committed checkpoint directory as a dataset.
// It is the read path a checkpointed dataset delegates to: lineage
// terminates here, so it declares no parents, and checkpointing it again is
// a no-op; a checkpoint of a checkpoint would only duplicate I/O.
type CheckpointedDataset struct {
	store storage.Store
	codec *codec.Codec
	dir   string
	parts []dataset.Partition
}

type checkpointPartition struct {
	index int
	key   string
}

func (p *checkpointPartition) Index() int { return p.index }

// Open derives the partition set from the directory listing and validates it
// against the expected partition count, which the caller carries from the
// dataset being committed; the listing alone cannot reveal a missing trailing
// file. It fails fast with a descriptive error naming the first absent
// partition file if the directory is missing or incomplete, rather than
// silently returning a truncated partition set.
func Open(ctx context.Context, store storage.Store, c *codec.Codec, dir string, expected int) (*CheckpointedDataset, error) {
	if expected < 1 {
		return nil, fmt.Errorf("checkpoint directory %s: invalid expected partition count %d", dir, expected)
	}
	prefix := strings.TrimSuffix(dir, "/") + "/"

	keys, err := store.List(ctx, dir)
	if err != nil {
		return nil, fmt.Errorf("checkpoint directory %s: %w", dir, err)
	}

	// Keys arrive sorted lexically; zero-padded names make that partition
	// order. Temp files and foreign names are skipped.
	var parts []dataset.Partition
	for _, key := range keys {
		name := strings.TrimPrefix(key, prefix)
		if strings.ContainsRune(name, '/') {
			continue
		}
		index, ok := parsePartitionFileName(name)
		if !ok {
			continue
		}
		parts = append(parts, &checkpointPartition{index: index, key: key})
	}

	if len(parts) == 0 {
		return nil, fmt.Errorf("checkpoint directory %s: no partition files", dir)
	}
	if len(parts) > expected {
		return nil, fmt.Errorf("checkpoint directory %s: %d partition files, want %d",
			dir, len(parts), expected)
	}
	for i, p := range parts {
		if p.Index() != i {
			return nil, fmt.Errorf("checkpoint directory %s: missing partition file %s",
				dir, PartitionFileName(i))
		}
	}
	if len(parts) < expected {
		return nil, fmt.Errorf("checkpoint directory %s: missing partition file %s",
			dir, PartitionFileName(len(parts)))
	}

	return &CheckpointedDataset{
		store: store,
		codec: c,
		dir:   dir,
		parts: parts,
	}, nil
}

// Dir returns the checkpoint directory this dataset reads from.
func (d *CheckpointedDataset) Dir() string { return d.dir }

// Partitions returns the partition set derived at Open.
func (d *CheckpointedDataset) Partitions() ([]dataset.Partition, error) {
	return d.parts, nil
}

// Parents returns nil: lineage terminates at a checkpoint.
func (d *CheckpointedDataset) Parents() []dataset.Dataset { return nil }

// PreferredLocations reports no preference; the durable store is shared.
func (d *CheckpointedDataset) PreferredLocations(p dataset.Partition) []string { return nil }

// Compute opens the partition's file and decodes it lazily. The underlying
// stream is closed exactly once via a task completion callback, whether the
// sequence is fully consumed, abandoned, or fails mid-read.
func (d *CheckpointedDataset) Compute(p dataset.Partition, tc *dataset.TaskContext) (dataset.Iterator, error) {
	cp, ok := p.(*checkpointPartition)
	if !ok {
		// A handle created before the checkpoint committed resolves through
		// its stable index.
		i := p.Index()
		if i < 0 || i >= len(d.parts) {
			return nil, fmt.Errorf("checkpointed dataset: partition %d out of range [0,%d)",
				i, len(d.parts))
		}
		cp = d.parts[i].(*checkpointPartition)
	}

	src, err := d.store.Open(tc.Context(), cp.key)
	if err != nil {
		return nil, fmt.Errorf("open checkpoint partition %d: %w", cp.index, err)
	}

	rr, err := d.codec.NewReader(src)
	if err != nil {
		return nil, fmt.Errorf("decode checkpoint partition %d: %w", cp.index, err)
	}

	tc.OnComplete(func() { rr.Close() })
	return rr, nil
}

// Checkpoint is a no-op: the dataset already is a checkpoint.
func (d *CheckpointedDataset) Checkpoint(dir string) {}

// ClearLineage is a no-op: there is no lineage to release.
func (d *CheckpointedDataset) ClearLineage() {}

// Key returns the store key of a partition index's final file.
func (d *CheckpointedDataset) Key(index int) string {
	return path.Join(d.dir, PartitionFileName(index))
}
