package sweep

import (
	"context"
	"log"

	"github.com/tracesmith/tracesmith/internal/bench"
	"github.com/tracesmith/tracesmith/internal/detect"
)

// Runner executes invocations in the shared work directory and diffs the
// trace pattern around each run. It is the run primitive for both the size
// search and the sweep loop.
type Runner struct {
	exec     bench.Executor
	detector *detect.Detector
}

// NewRunner creates a runner over an executor and artifact detector.
func NewRunner(exec bench.Executor, detector *detect.Detector) *Runner {
	return &Runner{exec: exec, detector: detector}
}

// Run cleans matching leftovers, snapshots the work directory, executes the
// invocation, and returns the new artifacts in name order. The clean step
// matters: benchmarks reuse artifact names, so stale output from an
// interrupted run would mask this run's identically-named artifact from the
// snapshot diff.
func (r *Runner) Run(ctx context.Context, spec *bench.Spec, inv bench.Invocation) ([]detect.Artifact, error) {
	n, err := r.detector.Clean()
	if err != nil {
		return nil, err
	}
	if n > 0 {
		log.Printf("[%s] removed %d leftover artifact(s) from the work directory", inv.Benchmark, n)
	}

	before, err := r.detector.Snapshot()
	if err != nil {
		return nil, err
	}

	if _, err := r.exec.Run(ctx, *spec, inv); err != nil {
		return nil, err
	}

	return r.detector.NewArtifacts(before)
}
