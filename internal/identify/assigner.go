// Package identify assigns dataset identifiers to traces as they are
// recorded. Assignment is deterministic: a benchmark keeps the index it was
// given on first sight, and each (benchmark, category) pair numbers its
// traces with a counter that resumes after the highest sequence already in
// the registry.
package identify

import (
	"context"

	"github.com/tracesmith/tracesmith/pkg/traceid"
)

// Catalog is the slice of the trace registry the assigner needs.
type Catalog interface {
	BenchmarkIndex(ctx context.Context, name string) (int, error)
	MaxSequence(ctx context.Context, benchmark string, category traceid.Category) (int, bool, error)
}

// Assigner hands out identifiers for one benchmark. Failed runs never call
// Next, so they consume no sequence numbers.
type Assigner struct {
	benchmark string
	index     int
	next      map[traceid.Category]int
}

// NewAssigner seeds an assigner for a benchmark from the registry.
func NewAssigner(ctx context.Context, catalog Catalog, benchmark string) (*Assigner, error) {
	index, err := catalog.BenchmarkIndex(ctx, benchmark)
	if err != nil {
		return nil, err
	}

	next := make(map[traceid.Category]int, 3)
	for _, category := range []traceid.Category{
		traceid.CategoryBase, traceid.CategoryNormal, traceid.CategorySpecial,
	} {
		seq, ok, err := catalog.MaxSequence(ctx, benchmark, category)
		if err != nil {
			return nil, err
		}
		if ok {
			next[category] = seq + 1
		}
	}

	return &Assigner{benchmark: benchmark, index: index, next: next}, nil
}

// Benchmark returns the benchmark this assigner numbers.
func (a *Assigner) Benchmark() string {
	return a.benchmark
}

// Index returns the benchmark's stable index.
func (a *Assigner) Index() int {
	return a.index
}

// Next returns the next identifier for a category and advances its counter.
func (a *Assigner) Next(category traceid.Category) (traceid.ID, error) {
	seq := a.next[category]
	id, err := traceid.New(a.index, category, seq)
	if err != nil {
		return traceid.ID{}, err
	}
	a.next[category] = seq + 1
	return id, nil
}
