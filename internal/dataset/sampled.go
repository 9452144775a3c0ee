package dataset

import (
	"fmt"
	"math"
	"math/rand"
)

// Sampled applies a per-partition random sampling policy to its sole parent.
//
// Without replacement it is a streaming Bernoulli filter: each upstream
// record is kept iff a uniform draw in [0,1) is at most the fraction. With
// replacement each record's multiplicity is Poisson-distributed with mean
// equal to the fraction, a statistical approximation of sampling with
// replacement rather than an exact combinatorial sample, so the emitted
// total only converges to fraction*N for large inputs.
//
// Both modes are deterministic given (seed, fraction, upstream sequence):
// per-partition seeds are drawn from the dataset seed at partitioning time
// and reproduce identically when the partition set is re-derived, which is
// what makes recomputation after a worker failure safe.
type Sampled struct {
	Base
	withReplacement bool
	fraction        float64
	seed            int64
}

// NewSampled creates a sampling transformation over parent. A fraction of 0
// or less yields empty partitions; a fraction of 1 or more keeps everything
// (or more, with replacement).
func NewSampled(parent Dataset, withReplacement bool, fraction float64, seed int64) *Sampled {
	return &Sampled{
		Base:            NewBase(parent),
		withReplacement: withReplacement,
		fraction:        fraction,
		seed:            seed,
	}
}

type samplePartition struct {
	index  int
	seed   int64
	parent Partition
}

func (p *samplePartition) Index() int { return p.index }

func (s *Sampled) parent() (Dataset, error) {
	parents := s.Parents()
	if len(parents) == 0 {
		return nil, fmt.Errorf("sampled dataset: %w", ErrLineageCleared)
	}
	return parents[0], nil
}

// Partitions wraps each parent partition 1:1, attaching a per-partition seed
// drawn in partition order from the dataset seed.
func (s *Sampled) Partitions() ([]Partition, error) {
	return s.MemoizedPartitions(func() ([]Partition, error) {
		parent, err := s.parent()
		if err != nil {
			return nil, err
		}
		pps, err := parent.Partitions()
		if err != nil {
			return nil, err
		}

		rng := rand.New(rand.NewSource(s.seed))
		parts := make([]Partition, len(pps))
		for i, pp := range pps {
			parts[i] = &samplePartition{
				index:  i,
				seed:   rng.Int63(),
				parent: pp,
			}
		}
		return parts, nil
	})
}

// PreferredLocations delegates to the corresponding parent partition.
func (s *Sampled) PreferredLocations(p Partition) []string {
	sp, ok := p.(*samplePartition)
	if !ok {
		return nil
	}
	parent, err := s.parent()
	if err != nil {
		return nil
	}
	return parent.PreferredLocations(sp.parent)
}

// Compute streams the parent partition through the sampling filter. A parent
// compute failure propagates verbatim.
func (s *Sampled) Compute(p Partition, tc *TaskContext) (Iterator, error) {
	if d := s.Delegate(); d != nil {
		return d.Compute(p, tc)
	}

	sp, ok := p.(*samplePartition)
	if !ok {
		return nil, fmt.Errorf("sampled dataset: foreign partition type %T", p)
	}

	parent, err := s.parent()
	if err != nil {
		return nil, err
	}
	upstream, err := parent.Compute(sp.parent, tc)
	if err != nil {
		return nil, err
	}

	rng := rand.New(rand.NewSource(sp.seed))
	if s.withReplacement {
		return &poissonIterator{upstream: upstream, mean: s.fraction, rng: rng}, nil
	}
	return &bernoulliIterator{upstream: upstream, fraction: s.fraction, rng: rng}, nil
}

// bernoulliIterator keeps each upstream record iff one uniform draw is at
// most the fraction. Single pass, O(1) extra memory, exactly one draw per
// upstream record so replayed attempts consume the identical sequence.
type bernoulliIterator struct {
	upstream Iterator
	fraction float64
	rng      *rand.Rand
	rec      Record
}

func (it *bernoulliIterator) Next() bool {
	if it.fraction <= 0 {
		return false
	}
	for it.upstream.Next() {
		rec := it.upstream.Record()
		if it.rng.Float64() <= it.fraction {
			it.rec = rec
			return true
		}
	}
	return false
}

func (it *bernoulliIterator) Record() Record { return it.rec }

func (it *bernoulliIterator) Err() error { return it.upstream.Err() }

// poissonIterator emits each upstream record k times where k is Poisson
// distributed with the configured mean. Zero-count records cost nothing
// beyond the draw itself.
type poissonIterator struct {
	upstream  Iterator
	mean      float64
	rng       *rand.Rand
	rec       Record
	remaining int
}

func (it *poissonIterator) Next() bool {
	if it.remaining > 0 {
		it.remaining--
		return true
	}
	if it.mean <= 0 {
		return false
	}
	for it.upstream.Next() {
		if n := poisson(it.rng, it.mean); n > 0 {
			it.rec = it.upstream.Record()
			it.remaining = n - 1
			return true
		}
	}
	return false
}

func (it *poissonIterator) Record() Record { return it.rec }

func (it *poissonIterator) Err() error { return it.upstream.Err() }

// poisson draws from a Poisson distribution with the given mean using
// Knuth's multiplication method. Adequate for the sampling fractions seen
// here; means large enough to underflow exp(-mean) are not.
func poisson(rng *rand.Rand, mean float64) int {
	l := math.Exp(-mean)
	k := 0
	p := 1.0
	for {
		k++
		p *= rng.Float64()
		if p <= l {
			return k - 1
		}
	}
}
