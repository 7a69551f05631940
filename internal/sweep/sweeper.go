package sweep

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/tracesmith/tracesmith/internal/bench"
	"github.com/tracesmith/tracesmith/internal/config"
	"github.com/tracesmith/tracesmith/internal/detect"
	terrors "github.com/tracesmith/tracesmith/internal/errors"
	"github.com/tracesmith/tracesmith/internal/identify"
	"github.com/tracesmith/tracesmith/internal/journal"
	"github.com/tracesmith/tracesmith/internal/observability"
	"github.com/tracesmith/tracesmith/internal/registry"
	"github.com/tracesmith/tracesmith/internal/sizesearch"
)

// Sweeper drives benchmarks through the full pipeline: clean, build, base
// size search, the planned run set, and the summary write. Failures
// propagate by severity: a failed run skips to the next planned run, a
// failed build or search abandons the benchmark, and a registry conflict
// halts the whole batch.
type Sweeper struct {
	cfg      *config.Config
	exec     bench.Executor
	runner   *Runner
	registry *registry.Registry
	journal  *journal.Journal
	stats    *observability.SweepStats
	search   *sizesearch.Engine
}

// Deps bundles the components a Sweeper drives. Journal and Stats are
// optional; a nil Stats gets a private instance.
type Deps struct {
	Executor bench.Executor
	Detector *detect.Detector
	Registry *registry.Registry
	Journal  *journal.Journal
	Stats    *observability.SweepStats
}

// NewSweeper wires a sweeper over the given dependencies.
func NewSweeper(cfg *config.Config, deps Deps) *Sweeper {
	stats := deps.Stats
	if stats == nil {
		stats = observability.NewSweepStats()
	}
	runner := NewRunner(deps.Executor, deps.Detector)
	return &Sweeper{
		cfg:      cfg,
		exec:     deps.Executor,
		runner:   runner,
		registry: deps.Registry,
		journal:  deps.Journal,
		stats:    stats,
		search:   sizesearch.NewEngine(runner, deps.Journal),
	}
}

// Stats exposes the per-benchmark counters collected so far.
func (s *Sweeper) Stats() *observability.SweepStats {
	return s.stats
}

// BatchResult reports how one batch invocation went. Unknown holds names
// not present in the profile; Failed maps benchmark names to the error
// that abandoned them.
type BatchResult struct {
	Swept   []string
	Unknown []string
	Failed  map[string]error
}

// OK reports whether every requested benchmark completed.
func (r *BatchResult) OK() bool {
	return len(r.Unknown) == 0 && len(r.Failed) == 0
}

// SweepBatch sweeps the named benchmarks in order. Names missing from the
// profile are reported and skipped. A benchmark-severity failure abandons
// only that benchmark; a pipeline-severity failure (or context
// cancellation) stops the batch and is returned.
func (s *Sweeper) SweepBatch(ctx context.Context, names []string, rebuild bool) (*BatchResult, error) {
	result := &BatchResult{Failed: make(map[string]error)}
	log.Printf("received %d benchmark(s) to process: %s", len(names), strings.Join(names, ", "))

	for _, name := range names {
		if _, ok := s.cfg.Benchmark(name); !ok {
			log.Printf("[%s] not in the benchmark profile, skipping", name)
			result.Unknown = append(result.Unknown, name)
			continue
		}
		if err := ctx.Err(); err != nil {
			return result, err
		}

		err := s.SweepBenchmark(ctx, name, rebuild)
		if err == nil {
			result.Swept = append(result.Swept, name)
			continue
		}
		if ctx.Err() != nil {
			return result, err
		}
		if terrors.SeverityOf(err) == terrors.SeverityPipeline {
			return result, err
		}
		log.Printf("[%s] benchmark abandoned: %v", name, err)
		s.stats.MarkAborted(name, abortReason(err))
		result.Failed[name] = err
	}
	return result, nil
}

// SweepBenchmark runs one benchmark end to end: build, base size search,
// every planned normal and special run, then the summary. With rebuild
// set, previously recorded traces are cleared first so sequence numbers
// restart from zero; the benchmark index is retained either way.
func (s *Sweeper) SweepBenchmark(ctx context.Context, name string, rebuild bool) error {
	bc, ok := s.cfg.Benchmark(name)
	if !ok {
		return terrors.NewConfigError(terrors.CodeUnknownBenchmark,
			fmt.Sprintf("benchmark %q is not in the profile", name))
	}
	started := time.Now()
	defer func() {
		s.stats.SetDuration(name, time.Since(started))
	}()

	spec := s.benchSpec(name, bc)

	if rebuild {
		removed, err := s.registry.Clean(ctx, name)
		if err != nil {
			return err
		}
		log.Printf("[%s clean] cleared %d recorded trace(s), sequences restart at zero", name, removed)
	}

	log.Printf("[%s build] %s", name, spec.BuildDir)
	if err := s.exec.Build(ctx, *spec); err != nil {
		return err
	}

	assigner, err := identify.NewAssigner(ctx, s.registry, name)
	if err != nil {
		return err
	}

	accepted, err := s.search.Search(ctx, spec, sizesearch.Params{
		Start:     bc.BaseStart,
		Max:       bc.BaseMax,
		Growth:    s.cfg.Search.Growth,
		Threshold: s.cfg.MinTraceBytes(),
	})
	if err != nil {
		return err
	}
	s.stats.AddProbes(name, accepted.Probes)
	if err := s.registry.SetBaseValue(ctx, name, accepted.Value); err != nil {
		return err
	}
	log.Printf("[%s base] base size is set to %s %d", name, spec.BaseParam, accepted.Value)

	// The accepted probe's artifacts become the base records directly;
	// the base configuration is never run a second time.
	if err := s.recordArtifacts(ctx, assigner, accepted.Invocation, accepted.Artifacts); err != nil {
		return err
	}

	plan := NewPlan(spec, accepted.Value)
	log.Printf("[%s] planned %d sweep run(s) over the base", name, plan.Runs())
	for {
		inv, ok := plan.Next()
		if !ok {
			break
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.runPlanned(ctx, assigner, spec, inv); err != nil {
			return err
		}
	}

	summary, err := s.registry.WriteSummary(ctx, name)
	if err != nil {
		return err
	}
	log.Printf("[%s] all done: %d trace(s) recorded (including base)", name, summary.TraceCount)
	return nil
}

// runPlanned executes one planned invocation and records its artifacts.
// Run-severity failures (non-zero exit, no artifact) are journaled and
// swallowed so the sweep continues; anything else propagates.
func (s *Sweeper) runPlanned(ctx context.Context, assigner *identify.Assigner, spec *bench.Spec, inv bench.Invocation) error {
	artifacts, err := s.runner.Run(ctx, spec, inv)
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		if terrors.SeverityOf(err) == terrors.SeverityRun {
			s.stats.RecordRunFailure(inv.Benchmark)
			s.journalOutcome(inv, journal.OutcomeRunFailed, "", 0, exitCodeOf(err))
			log.Printf("[%s %s] run failed, skipping: %v", inv.Benchmark, inv.Category, err)
			return nil
		}
		return err
	}
	if len(artifacts) == 0 {
		s.stats.RecordNoArtifact(inv.Benchmark)
		s.journalOutcome(inv, journal.OutcomeNoArtifact, "", 0, 0)
		log.Printf("[%s %s] produced no trace, skipping: %s", inv.Benchmark, inv.Category, inv.CommandLine())
		return nil
	}
	return s.recordArtifacts(ctx, assigner, inv, artifacts)
}

// recordArtifacts moves every artifact of one run into the registry under
// consecutive identifiers. Artifacts arrive sorted by file name, so a
// multi-file run numbers its shards deterministically.
func (s *Sweeper) recordArtifacts(ctx context.Context, assigner *identify.Assigner, inv bench.Invocation, artifacts []detect.Artifact) error {
	for _, artifact := range artifacts {
		id, err := assigner.Next(inv.Category)
		if err != nil {
			return err
		}
		rec, err := s.registry.Record(ctx, registry.RecordInput{
			ID:         id,
			Benchmark:  inv.Benchmark,
			Command:    inv.CommandLine(),
			SourcePath: artifact.Path,
			SizeBytes:  artifact.SizeBytes,
		})
		if err != nil {
			return err
		}
		s.stats.RecordTrace(inv.Benchmark, artifact.SizeBytes)
		s.journalOutcome(inv, journal.OutcomeRecorded, rec.ID, artifact.SizeBytes, 0)
		log.Printf("[%s %s] %s (%s): %s",
			inv.Benchmark, inv.Category, rec.ID, formatMB(artifact.SizeBytes), inv.CommandLine())
	}
	return nil
}

// benchSpec assembles the executable run plan for one profiled benchmark.
func (s *Sweeper) benchSpec(name string, bc config.BenchmarkConfig) *bench.Spec {
	axes := make([]bench.Axis, 0, len(bc.NormalAxes))
	for _, ax := range bc.NormalAxes {
		axes = append(axes, bench.Axis{Param: ax.Param, Values: ax.Values})
	}
	return &bench.Spec{
		Name:         name,
		BuildDir:     s.cfg.BuildDir(bc),
		ExecPath:     s.cfg.ExecPath(bc),
		CommonArgs:   strings.Fields(s.cfg.CommonArgs),
		BaseParam:    bc.BaseParam,
		BaseStart:    bc.BaseStart,
		BaseMax:      bc.BaseMax,
		NormalAxes:   axes,
		SpecialFlags: bc.SpecialFlags,
	}
}

func (s *Sweeper) journalOutcome(inv bench.Invocation, outcome journal.Outcome, traceID string, size int64, exitCode int) {
	if s.journal == nil {
		return
	}
	if _, err := s.journal.Append(&journal.Entry{
		Timestamp: time.Now().Unix(),
		Benchmark: inv.Benchmark,
		Category:  inv.Category.String(),
		Outcome:   outcome,
		Command:   inv.CommandLine(),
		TraceID:   traceID,
		ExitCode:  exitCode,
		SizeBytes: size,
	}); err != nil {
		log.Printf("[%s] journal append failed: %v", inv.Benchmark, err)
	}
}

// exitCodeOf digs the process exit code out of a run error's details.
func exitCodeOf(err error) int {
	var se *terrors.SweepError
	if errors.As(err, &se) {
		if v, ok := se.Details["exit_code"].(int); ok {
			return v
		}
	}
	return 0
}

// abortReason condenses an error to a short label for the stats report.
func abortReason(err error) string {
	if code := terrors.GetCode(err); code != "" {
		return code
	}
	return err.Error()
}

func formatMB(b int64) string {
	return fmt.Sprintf("%.2f MB", float64(b)/(1024*1024))
}
