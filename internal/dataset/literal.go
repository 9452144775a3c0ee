package dataset

import "fmt"

// Literal is a leaf dataset over in-memory record slices, one partition per
// slice. It is the engine's parallelize equivalent and the usual root of a
// test lineage.
type Literal struct {
	Base
	chunks [][]Record
}

// NewLiteral creates a leaf dataset with one partition per chunk.
func NewLiteral(chunks [][]Record) *Literal {
	return &Literal{Base: NewBase(), chunks: chunks}
}

type literalPartition struct {
	index int
}

func (p *literalPartition) Index() int { return p.index }

// Partitions returns one partition per chunk, in chunk order.
func (l *Literal) Partitions() ([]Partition, error) {
	return l.MemoizedPartitions(func() ([]Partition, error) {
		parts := make([]Partition, len(l.chunks))
		for i := range l.chunks {
			parts[i] = &literalPartition{index: i}
		}
		return parts, nil
	})
}

// PreferredLocations reports no placement preference for in-memory data.
func (l *Literal) PreferredLocations(p Partition) []string { return nil }

// Compute returns an iterator over the partition's chunk.
func (l *Literal) Compute(p Partition, tc *TaskContext) (Iterator, error) {
	if d := l.Delegate(); d != nil {
		return d.Compute(p, tc)
	}

	lp, ok := p.(*literalPartition)
	if !ok {
		return nil, fmt.Errorf("literal dataset: foreign partition type %T", p)
	}
	if lp.index < 0 || lp.index >= len(l.chunks) {
		return nil, fmt.Errorf("literal dataset: partition %d out of range [0,%d)", lp.index, len(l.chunks))
	}
	return NewSliceIterator(l.chunks[lp.index]), nil
}
