// Package dataset implements the partitioned, lazily-computed dataset model.
//
// A Dataset is a node in a lineage DAG: it knows its parents, how to derive
// its ordered partition set, and how to compute the record sequence of any
// single partition. Fault tolerance comes from recomputation: every compute
// function must be deterministic, so a lost partition can be rebuilt by
// replaying its lineage. A committed checkpoint truncates that lineage by
// swapping the dataset's read path to the durable copy.
package dataset

// Record is one opaque unit of data flowing through the engine.
type Record = []byte

// Iterator is a pull-based lazy sequence of records, in the style of
// bufio.Scanner. Next advances and reports whether a record is available;
// Record returns the current record; Err reports the first error encountered.
type Iterator interface {
	Next() bool
	Record() Record
	Err() error
}

// Partition identifies one unit of parallel work within a dataset. The index
// is unique within the owning dataset and stable across recomputation.
type Partition interface {
	Index() int
}

// Dataset is a lineage node.
//
// Partitions is memoized on first use and must be re-derivable after
// ClearLineage once a checkpoint has committed. Compute produces a finite
// lazy record sequence for one partition; it may be called again on a fresh
// attempt after a failure and must then produce the same sequence. A parent's
// compute failure is propagated verbatim, never suppressed.
type Dataset interface {
	Partitions() ([]Partition, error)

	// Parents returns the direct lineage dependencies, nil once truncated.
	Parents() []Dataset

	// PreferredLocations returns advisory host identifiers for a partition.
	// The coordinator may ignore them; they are never required for
	// correctness.
	PreferredLocations(p Partition) []string

	Compute(p Partition, tc *TaskContext) (Iterator, error)

	// Checkpoint binds a checkpoint directory. It performs no I/O and has
	// no effect if the dataset is already bound.
	Checkpoint(dir string)

	// ClearLineage drops the memoized partitions and parent references.
	// Idempotent. Only safe once a checkpoint has committed.
	ClearLineage()
}

// Checkpointable is implemented by datasets whose lineage can be truncated
// after a durable materialization commits.
type Checkpointable interface {
	Dataset

	// Binding returns the checkpoint binding, nil if Checkpoint was never
	// called.
	Binding() *CheckpointBinding

	// MarkCheckpointed installs the committed checkpoint's read path and
	// truncates lineage. All subsequent Partitions and Compute calls
	// delegate to read.
	MarkCheckpointed(read Dataset)
}

// sliceIterator iterates over an in-memory record slice.
type sliceIterator struct {
	recs []Record
	pos  int
}

// NewSliceIterator returns an Iterator over recs.
func NewSliceIterator(recs []Record) Iterator {
	return &sliceIterator{recs: recs}
}

func (it *sliceIterator) Next() bool {
	if it.pos >= len(it.recs) {
		return false
	}
	it.pos++
	return true
}

func (it *sliceIterator) Record() Record { return it.recs[it.pos-1] }

func (it *sliceIterator) Err() error { return nil }

// Collect drains an iterator into memory. Test and small-result helper; the
// engine itself never materializes intermediate datasets.
func Collect(it Iterator) ([]Record, error) {
	var out []Record
	for it.Next() {
		rec := it.Record()
		cp := make(Record, len(rec))
		copy(cp, rec)
		out = append(out, cp)
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
